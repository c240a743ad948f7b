package scheduler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// DefaultExecutionTimeout bounds an executor invocation, after which the
// task is marked failed with "Task execution timed out", per spec §4.5.
const DefaultExecutionTimeout = 300 * time.Second

// ExecutionResult is the external executor's terminal outcome, mirroring
// spec §6's external executor contract.
type ExecutionResult struct {
	Success    bool      `json:"success"`
	ReturnCode int       `json:"returncode"`
	Stdout     string    `json:"stdout,omitempty"`
	Stderr     string    `json:"stderr,omitempty"`
	Error      string    `json:"error,omitempty"`
	ExecutedAt time.Time `json:"executedAt"`
}

// Executor dispatches a composed instruction to an agent and returns a
// terminal result. Implementations are free to use subprocesses, HTTP, or
// in-process calls — the scheduler only depends on this interface, grounded
// on internal/supervisor/executor.go's injected-dependency Executor struct
// pattern and the spec's "Invoked with (agentId, message, options)" contract.
type Executor interface {
	Execute(ctx context.Context, agentID, instruction string) ExecutionResult
}

// SubprocessExecutor is the default Executor: it shells out to an external
// command, modeled on scheduler.py's `subprocess.run(..., timeout=300)`, but
// built here with os/exec + context.WithTimeout instead of a signal-based
// timeout.
type SubprocessExecutor struct {
	// Command is the external binary to invoke, e.g. "openclaw". It is run
	// as: Command agent --agent <agentID> --message <instruction> --json.
	Command string
}

// NewSubprocessExecutor builds a SubprocessExecutor around the given binary.
func NewSubprocessExecutor(command string) *SubprocessExecutor {
	return &SubprocessExecutor{Command: command}
}

// Execute runs the configured command with a DefaultExecutionTimeout
// deadline and captures its result.
func (e *SubprocessExecutor) Execute(ctx context.Context, agentID, instruction string) ExecutionResult {
	ctx, cancel := context.WithTimeout(ctx, DefaultExecutionTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.Command, "agent", "--agent", agentID, "--message", instruction, "--json")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	now := time.Now().UTC()

	if ctx.Err() == context.DeadlineExceeded {
		return ExecutionResult{Success: false, Error: "Task execution timed out", ExecutedAt: now}
	}
	if err != nil {
		var exitErr *exec.ExitError
		if asExitError(err, &exitErr) {
			return ExecutionResult{
				Success: false, ReturnCode: exitErr.ExitCode(),
				Stdout: stdout.String(), Stderr: stderr.String(), ExecutedAt: now,
			}
		}
		return ExecutionResult{Success: false, Error: err.Error(), ExecutedAt: now}
	}

	return ExecutionResult{Success: true, ReturnCode: 0, Stdout: stdout.String(), Stderr: stderr.String(), ExecutedAt: now}
}

func asExitError(err error, target **exec.ExitError) bool {
	ee, ok := err.(*exec.ExitError)
	if ok {
		*target = ee
	}
	return ok
}

// describeTask composes the instruction string the scheduler hands to the
// executor, derived from {id, type, payload.action, payload.target,
// payload.source}.
func describeTask(t *Task) string {
	action, _ := t.Payload["action"].(string)
	target, _ := t.Payload["target"].(string)
	source, _ := t.Payload["source"].(string)
	if action == "" {
		action = "execute"
	}
	return fmt.Sprintf("[Evolution Task: %s]\nType: %s\nAction: %s\nTarget: %s\nSource: %s",
		t.ID, t.Type, action, orNotSpecified(target), orNotSpecified(source))
}

func orNotSpecified(v string) string {
	if v == "" {
		return "not specified"
	}
	return v
}

// agentForTaskType maps an evolution task type to the agent that handles
// it, falling back to a general-manager agent for unknown types.
var agentForTaskType = map[string]string{
	"knowledge-update":     "platform-pm",
	"skill-training":       "coding-pm",
	"capability-training":  "coding-pm",
	"domain-exploration":   "research-pm",
	"soul-draft":           "platform-pm",
}

func agentFor(taskType string) string {
	if agent, ok := agentForTaskType[taskType]; ok {
		return agent
	}
	return "gm"
}
