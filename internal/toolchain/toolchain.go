// Package toolchain implements the Tool-Chain Runtime: declarative
// pipelines of tool invocations wired together by a small template
// language, with per-step condition gating, retry/fallback/ignore/abort
// error handling, and an optional parallel DAG execution mode.
//
// Grounded on spec §4.8 (the only surviving description of ClawOS's
// tool_chain.py, whose source tree carries only a docstring header) and,
// for structure, on internal/supervisor/dispatcher.go's
// Dispatcher/DispatchResult shape — a step here plays the role a spawned
// agent plays there. The parallel DAG runner uses golang.org/x/sync/errgroup,
// already a direct teacher dependency via cmd/agentspawn's goroutine fan-out.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

// DefaultParallelism bounds concurrent steps within one DAG level.
const DefaultParallelism = 5

// ErrDependencyCycle is returned by buildLevels when step references form a
// cycle; spec says cycles are "not detected" at the scoring/grouping level,
// but an undetected cycle would otherwise deadlock level assignment, so
// this is a fail-fast backstop rather than cycle repair or reordering.
var ErrDependencyCycle = errors.New("toolchain: dependency cycle among steps")

// ErrorHandlingKind selects a per-step failure strategy.
type ErrorHandlingKind string

const (
	HandleAbort    ErrorHandlingKind = "abort"
	HandleRetry    ErrorHandlingKind = "retry"
	HandleFallback ErrorHandlingKind = "fallback"
	HandleIgnore   ErrorHandlingKind = "ignore"
)

// ErrorHandling configures one step's failure strategy.
type ErrorHandling struct {
	Kind     ErrorHandlingKind      `json:"kind"`
	Retries  int                    `json:"retries,omitempty"`
	Fallback *FallbackInvocation    `json:"fallback,omitempty"`
}

// FallbackInvocation is the tool+params run when a step's primary
// invocation fails under the "fallback" strategy.
type FallbackInvocation struct {
	Tool   string                 `json:"tool"`
	Params map[string]interface{} `json:"params"`
}

// Step is one node in a tool chain.
type Step struct {
	ID            string                 `json:"id"`
	Tool          string                 `json:"tool"`
	Params        map[string]interface{} `json:"params"`
	Condition     string                 `json:"condition,omitempty"`
	ErrorHandling *ErrorHandling         `json:"errorHandling,omitempty"`
}

// Chain is an ordered pipeline of steps plus an output template.
type Chain struct {
	ID     string                 `json:"id"`
	Steps  []Step                 `json:"steps"`
	Output map[string]interface{} `json:"output"`
}

// Tool invokes a named capability with resolved params.
type Tool func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// StepOutcome records one step's execution result.
type StepOutcome struct {
	StepID  string                 `json:"stepId"`
	Skipped bool                   `json:"skipped,omitempty"`
	Reason  string                 `json:"reason,omitempty"`
	Output  map[string]interface{} `json:"output"`
}

// ChainResult is the chain's terminal outcome.
type ChainResult struct {
	Success bool                   `json:"success"`
	Error   string                 `json:"error,omitempty"`
	Step    string                 `json:"step,omitempty"`
	Log     []StepOutcome          `json:"log"`
	Output  map[string]interface{} `json:"output,omitempty"`
}

// execContext is the shared resolution state threaded through one run.
type execContext struct {
	input   map[string]interface{}
	context map[string]interface{}
	steps   map[string]map[string]interface{} // stepId -> output
}

// Runtime executes chains against a registry of named tools.
type Runtime struct {
	Tools       map[string]Tool
	Parallelism int
}

// NewRuntime builds a Runtime with spec-default parallelism.
func NewRuntime(tools map[string]Tool) *Runtime {
	return &Runtime{Tools: tools, Parallelism: DefaultParallelism}
}

// Execute runs chain's steps in declared order (sequential variant).
func (r *Runtime) Execute(ctx context.Context, chain Chain, input, sharedContext map[string]interface{}) ChainResult {
	ec := &execContext{input: input, context: sharedContext, steps: map[string]map[string]interface{}{}}
	var log []StepOutcome

	for _, step := range chain.Steps {
		outcome := r.runStep(ctx, step, ec)
		log = append(log, outcome)
		ec.steps[step.ID] = outcome.Output

		if !outcome.Skipped && isErrorOutput(outcome.Output) && stepAbortKind(step) == HandleAbort {
			return ChainResult{
				Success: false,
				Error:   fmt.Sprintf("%v", outcome.Output["error"]),
				Step:    step.ID,
				Log:     log,
			}
		}
	}

	return ChainResult{Success: true, Log: log, Output: resolveTemplateMap(chain.Output, ec)}
}

// ExecuteParallel groups chain's steps into topological levels (derived
// from ${steps.X...} references in params) and runs each level's steps
// concurrently via a worker pool. A failing step within a level produces an
// error-marked output but does not cancel the level.
func (r *Runtime) ExecuteParallel(ctx context.Context, chain Chain, input, sharedContext map[string]interface{}) (ChainResult, error) {
	levels, err := buildLevels(chain.Steps)
	if err != nil {
		return ChainResult{}, err
	}

	ec := &execContext{input: input, context: sharedContext, steps: map[string]map[string]interface{}{}}
	var log []StepOutcome
	outcomes := map[string]StepOutcome{}

	parallelism := r.Parallelism
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}

	for _, level := range levels {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallelism)
		results := make([]StepOutcome, len(level))

		for i, step := range level {
			i, step := i, step
			g.Go(func() error {
				results[i] = r.runStep(gctx, step, ec)
				return nil
			})
		}
		_ = g.Wait()

		for i, step := range level {
			outcomes[step.ID] = results[i]
			ec.steps[step.ID] = results[i].Output
			log = append(log, results[i])
		}
	}

	return ChainResult{Success: true, Log: log, Output: resolveTemplateMap(chain.Output, ec)}, nil
}

func (r *Runtime) runStep(ctx context.Context, step Step, ec *execContext) StepOutcome {
	if step.Condition != "" {
		met, err := evaluateCondition(step.Condition, ec)
		if err != nil || !met {
			return StepOutcome{StepID: step.ID, Skipped: true, Reason: "Condition not met", Output: map[string]interface{}{"skipped": true}}
		}
	}

	output, err := r.invoke(ctx, step, ec)
	if err == nil {
		return StepOutcome{StepID: step.ID, Output: output}
	}

	handling := step.ErrorHandling
	if handling == nil {
		handling = &ErrorHandling{Kind: HandleAbort}
	}

	switch handling.Kind {
	case HandleRetry:
		for i := 0; i < handling.Retries; i++ {
			output, err = r.invoke(ctx, step, ec)
			if err == nil {
				return StepOutcome{StepID: step.ID, Output: output}
			}
		}
		return StepOutcome{StepID: step.ID, Output: errorOutput(err)}

	case HandleFallback:
		if handling.Fallback != nil {
			fbStep := Step{ID: step.ID, Tool: handling.Fallback.Tool, Params: handling.Fallback.Params}
			fbOutput, fbErr := r.invoke(ctx, fbStep, ec)
			if fbErr == nil {
				fbOutput["fallback"] = true
				return StepOutcome{StepID: step.ID, Output: fbOutput}
			}
			return StepOutcome{StepID: step.ID, Output: errorOutput(fbErr)}
		}
		return StepOutcome{StepID: step.ID, Output: errorOutput(err)}

	case HandleIgnore:
		out := errorOutput(err)
		out["ignored"] = true
		return StepOutcome{StepID: step.ID, Output: out}

	default: // abort
		return StepOutcome{StepID: step.ID, Output: errorOutput(err)}
	}
}

func stepAbortKind(step Step) ErrorHandlingKind {
	if step.ErrorHandling == nil {
		return HandleAbort
	}
	return step.ErrorHandling.Kind
}

func (r *Runtime) invoke(ctx context.Context, step Step, ec *execContext) (map[string]interface{}, error) {
	tool, ok := r.Tools[step.Tool]
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", step.Tool)
	}
	resolved := resolveTemplateMap(step.Params, ec)
	return tool(ctx, resolved)
}

func errorOutput(err error) map[string]interface{} {
	return map[string]interface{}{"error": err.Error(), "success": false}
}

func isErrorOutput(output map[string]interface{}) bool {
	if output == nil {
		return false
	}
	_, hasErr := output["error"]
	return hasErr
}

// resolveTemplateMap walks a params/output template tree, resolving every
// ${...} string leaf via resolveTemplate.
func resolveTemplateMap(tmpl map[string]interface{}, ec *execContext) map[string]interface{} {
	if tmpl == nil {
		return nil
	}
	out := make(map[string]interface{}, len(tmpl))
	for k, v := range tmpl {
		out[k] = resolveValue(v, ec)
	}
	return out
}

func resolveValue(v interface{}, ec *execContext) interface{} {
	switch val := v.(type) {
	case string:
		return resolveTemplate(val, ec)
	case map[string]interface{}:
		return resolveTemplateMap(val, ec)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = resolveValue(item, ec)
		}
		return out
	default:
		return v
	}
}

var templateRef = regexp.MustCompile(`\$\{([^}]+)\}`)

// resolveTemplate resolves every ${...} reference in s. A string that is
// exactly one reference resolves to the referenced value's native type; a
// string with embedded references resolves to a string with each
// substituted in.
func resolveTemplate(s string, ec *execContext) interface{} {
	matches := templateRef.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		path := s[matches[0][2]:matches[0][3]]
		return resolvePath(path, ec)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		path := s[m[2]:m[3]]
		b.WriteString(fmt.Sprintf("%v", resolvePath(path, ec)))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// resolvePath resolves one dotted/bracketed path against input, steps,
// env, or context, per spec §4.8's four template namespaces.
func resolvePath(path string, ec *execContext) interface{} {
	parts := strings.SplitN(path, ".", 2)
	if len(parts) != 2 {
		return nil
	}
	namespace, rest := parts[0], parts[1]

	switch namespace {
	case "input":
		return lookupPath(ec.input, rest)
	case "context":
		return lookupPath(ec.context, rest)
	case "env":
		return os.Getenv(rest)
	case "steps":
		return resolveStepsPath(rest, ec)
	default:
		return nil
	}
}

// resolveStepsPath resolves "X.output[...]" against steps["X"].
func resolveStepsPath(rest string, ec *execContext) interface{} {
	dot := strings.Index(rest, ".")
	if dot < 0 {
		return nil
	}
	stepID, fieldPath := rest[:dot], rest[dot+1:]
	fieldPath = strings.TrimPrefix(fieldPath, "output")
	fieldPath = strings.TrimPrefix(fieldPath, ".")
	output, ok := ec.steps[stepID]
	if !ok {
		return nil
	}
	if fieldPath == "" {
		return output
	}
	return lookupPath(output, fieldPath)
}

var arrIndex = regexp.MustCompile(`^([^\[]+)\[(\d+)\]$`)

// lookupPath walks a "key.subkey" or "arr[0]" path against a nested map.
func lookupPath(data map[string]interface{}, path string) interface{} {
	if data == nil || path == "" {
		return data
	}
	var cur interface{} = data
	for _, segment := range strings.Split(path, ".") {
		if m := arrIndex.FindStringSubmatch(segment); m != nil {
			key, idxStr := m[1], m[2]
			idx, _ := strconv.Atoi(idxStr)
			asMap, ok := cur.(map[string]interface{})
			if !ok {
				return nil
			}
			arr, ok := asMap[key].([]interface{})
			if !ok || idx >= len(arr) {
				return nil
			}
			cur = arr[idx]
			continue
		}
		asMap, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = asMap[segment]
	}
	return cur
}

// evaluateCondition template-resolves cond then evaluates a comparison
// operator (>, <, ==) or falls back to truthy-string coercion.
func evaluateCondition(cond string, ec *execContext) (bool, error) {
	resolved := resolveTemplate(cond, ec)
	s, ok := resolved.(string)
	if !ok {
		return truthy(fmt.Sprintf("%v", resolved)), nil
	}

	for _, op := range []string{"==", ">", "<"} {
		if idx := strings.Index(s, op); idx >= 0 {
			left := strings.TrimSpace(s[:idx])
			right := strings.TrimSpace(s[idx+len(op):])
			return compare(left, right, op)
		}
	}
	return truthy(s), nil
}

func compare(left, right, op string) (bool, error) {
	lf, lErr := strconv.ParseFloat(left, 64)
	rf, rErr := strconv.ParseFloat(right, 64)
	if lErr == nil && rErr == nil {
		switch op {
		case ">":
			return lf > rf, nil
		case "<":
			return lf < rf, nil
		case "==":
			return lf == rf, nil
		}
	}
	switch op {
	case "==":
		return left == right, nil
	default:
		return false, fmt.Errorf("toolchain: cannot compare %q %s %q", left, op, right)
	}
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// buildLevels groups steps into topological levels by their ${steps.X...}
// param references, so same-level steps have no dependency between them.
func buildLevels(steps []Step) ([][]Step, error) {
	byID := make(map[string]Step, len(steps))
	deps := make(map[string]map[string]bool, len(steps))
	for _, s := range steps {
		byID[s.ID] = s
		deps[s.ID] = extractStepDeps(s.Params)
	}

	resolved := map[string]bool{}
	var levels [][]Step

	for len(resolved) < len(steps) {
		var level []Step
		for _, s := range steps {
			if resolved[s.ID] {
				continue
			}
			ready := true
			for dep := range deps[s.ID] {
				if !resolved[dep] {
					ready = false
					break
				}
			}
			if ready {
				level = append(level, s)
			}
		}
		if len(level) == 0 {
			return nil, ErrDependencyCycle
		}
		for _, s := range level {
			resolved[s.ID] = true
		}
		levels = append(levels, level)
	}
	return levels, nil
}

var stepsRefPattern = regexp.MustCompile(`\$\{steps\.([^.}\[]+)`)

func extractStepDeps(params map[string]interface{}) map[string]bool {
	deps := map[string]bool{}
	collectStepDeps(params, deps)
	return deps
}

func collectStepDeps(v interface{}, deps map[string]bool) {
	switch val := v.(type) {
	case string:
		for _, m := range stepsRefPattern.FindAllStringSubmatch(val, -1) {
			deps[m[1]] = true
		}
	case map[string]interface{}:
		for _, item := range val {
			collectStepDeps(item, deps)
		}
	case []interface{}:
		for _, item := range val {
			collectStepDeps(item, deps)
		}
	}
}
