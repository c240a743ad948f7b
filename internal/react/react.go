// Package react implements the ReAct Executor: a five-phase
// Think->Act->Observe->Reflect->Adapt cycle that drives an agent through a
// task by repeatedly consulting an Oracle (the LLM) and invoking tools,
// bounded by maxIterations and recording lessons back into L3.
//
// Grounded on spec §4.6's cycle description and, for structure, on
// internal/supervisor's decision/executor split (a pure analysis stage
// feeding a side-effecting execution stage) and parser.go's map-driven
// field extraction idiom, adapted here into the phase boundary between
// Think (pure oracle call) and Act (tool side effects).
package react

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// MaxIterations bounds a ReAct run unless overridden.
const MaxIterations = 10

// Oracle is the pure LLM contract from spec §4.6: a prompt in, a raw string
// response out. No other capability is assumed.
type Oracle func(prompt string) (string, error)

// Tool is a named, invocable capability. Params are already resolved.
type Tool func(params map[string]interface{}) (map[string]interface{}, error)

// Experience mirrors the record appended to L3 after a cycle with lessons.
type Experience struct {
	ID       string   `json:"id"`
	TaskType string   `json:"taskType"`
	Task     string   `json:"task"`
	Outcome  string   `json:"outcome"`
	Lessons  []string `json:"lessons"`
	Patterns []string `json:"patterns"`
	Timestamp time.Time `json:"timestamp"`
}

// ExperienceStore is the subset of L3 the executor depends on, letting
// tests inject a fake and production wire internal/memory/l3.Store.
type ExperienceStore interface {
	StoreExperience(agentID, content, expType string, metadata map[string]interface{}, score *float64) (string, error)
	RetrieveRecent(agentID string, limit int, typeFilter string) []PastExperience
}

// PastExperience is the subset of a retrieved past experience used when
// composing the Think prompt.
type PastExperience struct {
	Content string
	Type    string
}

// Decision is the terminal edge label of one ReAct cycle.
type Decision string

const (
	DecisionComplete Decision = "complete"
	DecisionContinue Decision = "continue"
	DecisionPivot    Decision = "pivot"
	DecisionAbort    Decision = "abort"
)

// PhaseResult records one phase's outcome within a cycle.
type PhaseResult struct {
	Phase      string `json:"phase"`
	Success    bool   `json:"success"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

// CycleResult is one full Think->Act->Observe->Reflect->Adapt iteration.
type CycleResult struct {
	Iteration int           `json:"iteration"`
	Phases    []PhaseResult `json:"phases"`
	Decision  Decision      `json:"decision"`
}

// Result is execute()'s top-level return shape.
type Result struct {
	Success    bool          `json:"success"`
	Result     string        `json:"result,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Iterations int           `json:"iterations"`
	History    []CycleResult `json:"history"`
}

// thinkOutput is the oracle's JSON response to a Think prompt.
type thinkOutput struct {
	Analysis       string   `json:"analysis"`
	Options        []string `json:"options"`
	SelectedOption string   `json:"selectedOption"`
	Reasoning      string   `json:"reasoning"`
}

// observeOutput is the oracle's JSON response to an Observe prompt.
type observeOutput struct {
	KeyFindings        []string `json:"keyFindings"`
	UnexpectedFindings []string `json:"unexpectedFindings"`
	Questions          []string `json:"questions"`
}

// reflectCriteria breaks evaluation.score into named sub-scores.
type reflectCriteria struct {
	Correctness  float64 `json:"correctness"`
	Completeness float64 `json:"completeness"`
	Efficiency   float64 `json:"efficiency"`
}

type reflectEvaluation struct {
	Success  bool            `json:"success"`
	Score    float64         `json:"score"`
	Criteria reflectCriteria `json:"criteria"`
}

type reflectIssue struct {
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

type reflectOutput struct {
	Evaluation   reflectEvaluation `json:"evaluation"`
	Issues       []reflectIssue    `json:"issues"`
	Lessons      []string          `json:"lessons"`
	Improvements []string          `json:"improvements"`
}

// Executor drives one agent's ReAct loop: the oracle, a fixed
// description->tool mapping, and an optional experience store.
type Executor struct {
	AgentID      string
	Oracle       Oracle
	Tools        map[string]Tool
	Experiences  ExperienceStore
	MaxIterations int
	now          func() time.Time
}

// NewExecutor builds an Executor with spec-default maxIterations.
func NewExecutor(agentID string, oracle Oracle, tools map[string]Tool, experiences ExperienceStore) *Executor {
	return &Executor{
		AgentID:       agentID,
		Oracle:        oracle,
		Tools:         tools,
		Experiences:   experiences,
		MaxIterations: MaxIterations,
		now:           time.Now,
	}
}

// Execute runs the Think->Act->Observe->Reflect->Adapt loop for task until
// Complete, Abort, or MaxIterations is reached.
func (e *Executor) Execute(task string, context map[string]interface{}) Result {
	limit := e.MaxIterations
	if limit <= 0 {
		limit = MaxIterations
	}
	nowFn := e.now
	if nowFn == nil {
		nowFn = time.Now
	}

	var history []CycleResult
	var lastObservation map[string]interface{}
	var lastReflection reflectOutput

	for iter := 1; iter <= limit; iter++ {
		cycle := CycleResult{Iteration: iter}

		// Think
		thinkStart := nowFn()
		think, err := e.think(task, context)
		thinkPhase := PhaseResult{Phase: "think", DurationMs: ms(nowFn().Sub(thinkStart))}
		if err != nil {
			thinkPhase.Error = err.Error()
			cycle.Phases = append(cycle.Phases, thinkPhase)
			cycle.Decision = DecisionAbort
			history = append(history, cycle)
			return Result{Success: false, Reason: "Think phase failed: " + err.Error(), Iterations: iter, History: history}
		}
		thinkPhase.Success = true
		cycle.Phases = append(cycle.Phases, thinkPhase)

		// Act
		actStart := nowFn()
		actOutput, err := e.act(think)
		actPhase := PhaseResult{Phase: "act", DurationMs: ms(nowFn().Sub(actStart))}
		if err != nil {
			actPhase.Error = err.Error()
			cycle.Phases = append(cycle.Phases, actPhase)
			cycle.Decision = DecisionPivot
			history = append(history, cycle)
			if iter == limit {
				return Result{Success: false, Reason: "max iterations reached", Iterations: iter, History: history}
			}
			continue
		}
		actPhase.Success = true
		cycle.Phases = append(cycle.Phases, actPhase)

		// Observe
		observeStart := nowFn()
		observation, obsErr := e.observe(actOutput)
		observePhase := PhaseResult{Phase: "observe", DurationMs: ms(nowFn().Sub(observeStart))}
		if obsErr != nil {
			// Observe failure does not abort; raw result is preserved.
			observePhase.Success = false
			observePhase.Error = obsErr.Error()
			observation = map[string]interface{}{"raw": actOutput}
		} else {
			observePhase.Success = true
		}
		cycle.Phases = append(cycle.Phases, observePhase)
		lastObservation = observation

		// Reflect
		reflectStart := nowFn()
		reflection, err := e.reflect(task, observation)
		reflectPhase := PhaseResult{Phase: "reflect", DurationMs: ms(nowFn().Sub(reflectStart))}
		if err != nil {
			reflectPhase.Error = err.Error()
			cycle.Phases = append(cycle.Phases, reflectPhase)
			cycle.Decision = DecisionAbort
			history = append(history, cycle)
			return Result{Success: false, Reason: "Reflect phase failed: " + err.Error(), Iterations: iter, History: history}
		}
		reflectPhase.Success = true
		cycle.Phases = append(cycle.Phases, reflectPhase)
		lastReflection = reflection

		// Adapt
		adaptStart := nowFn()
		decision := adapt(reflection, iter, limit)
		cycle.Phases = append(cycle.Phases, PhaseResult{Phase: "adapt", Success: true, DurationMs: ms(nowFn().Sub(adaptStart))})
		cycle.Decision = decision
		history = append(history, cycle)

		e.emitExperience(task, reflection)

		switch decision {
		case DecisionComplete:
			return Result{
				Success:    true,
				Result:     summarize(lastObservation),
				Iterations: iter,
				History:    history,
			}
		case DecisionAbort:
			return Result{
				Success:    false,
				Reason:     "aborted after reflection: " + strings.Join(issueDescriptions(lastReflection.Issues), "; "),
				Iterations: iter,
				History:    history,
			}
		case DecisionPivot, DecisionContinue:
			continue
		}
	}

	return Result{Success: false, Reason: "max iterations reached", Iterations: limit, History: history}
}

func (e *Executor) think(task string, context map[string]interface{}) (thinkOutput, error) {
	var experiences []PastExperience
	if e.Experiences != nil {
		experiences = e.Experiences.RetrieveRecent(e.AgentID, 3, "")
	}
	prompt := buildThinkPrompt(task, context, experiences)
	raw, err := e.Oracle(prompt)
	if err != nil {
		return thinkOutput{}, err
	}
	var out thinkOutput
	if !parseJSON(raw, &out) || out.SelectedOption == "" {
		return thinkOutput{}, fmt.Errorf("could not parse think response")
	}
	return out, nil
}

func (e *Executor) act(think thinkOutput) (map[string]interface{}, error) {
	toolName := resolveToolForOption(think.SelectedOption)
	tool, ok := e.Tools[toolName]
	if !ok {
		return nil, fmt.Errorf("no tool mapped for option %q", think.SelectedOption)
	}
	params := map[string]interface{}{"option": think.SelectedOption, "reasoning": think.Reasoning}
	result, err := tool(params)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *Executor) observe(actResult map[string]interface{}) (map[string]interface{}, error) {
	prompt := buildObservePrompt(actResult)
	raw, err := e.Oracle(prompt)
	if err != nil {
		return nil, err
	}
	var out observeOutput
	if !parseJSON(raw, &out) {
		return nil, fmt.Errorf("could not parse observe response")
	}
	return map[string]interface{}{
		"keyFindings":        out.KeyFindings,
		"unexpectedFindings": out.UnexpectedFindings,
		"questions":          out.Questions,
		"raw":                actResult,
	}, nil
}

func (e *Executor) reflect(task string, observation map[string]interface{}) (reflectOutput, error) {
	prompt := buildReflectPrompt(task, observation)
	raw, err := e.Oracle(prompt)
	if err != nil {
		return reflectOutput{}, err
	}
	var out reflectOutput
	if !parseJSON(raw, &out) {
		return reflectOutput{}, fmt.Errorf("could not parse reflect response")
	}
	return out, nil
}

// adapt implements spec §4.6's Adapt decision table.
func adapt(r reflectOutput, iteration, maxIterations int) Decision {
	if r.Evaluation.Success && r.Evaluation.Score >= 0.8 {
		return DecisionComplete
	}
	if len(r.Issues) > 3 || hasHighSeverity(r.Issues) {
		return DecisionPivot
	}
	if iteration >= maxIterations {
		return DecisionAbort
	}
	return DecisionContinue
}

func hasHighSeverity(issues []reflectIssue) bool {
	for _, i := range issues {
		if i.Severity == "high" {
			return true
		}
	}
	return false
}

func issueDescriptions(issues []reflectIssue) []string {
	out := make([]string, 0, len(issues))
	for _, i := range issues {
		out = append(out, i.Description)
	}
	return out
}

func (e *Executor) emitExperience(task string, r reflectOutput) {
	if e.Experiences == nil || len(r.Lessons) == 0 {
		return
	}
	outcome := "failure"
	if r.Evaluation.Success {
		outcome = "success"
	}
	content := fmt.Sprintf("Task: %s | Outcome: %s | Lessons: %s", task, outcome, strings.Join(r.Lessons, "; "))
	score := r.Evaluation.Score
	e.Experiences.StoreExperience(e.AgentID, content, "react-cycle", map[string]interface{}{
		"lessons": r.Lessons, "improvements": r.Improvements,
	}, &score)
}

func summarize(observation map[string]interface{}) string {
	if observation == nil {
		return ""
	}
	if findings, ok := observation["keyFindings"].([]string); ok && len(findings) > 0 {
		return strings.Join(findings, "; ")
	}
	return ""
}

func buildThinkPrompt(task string, context map[string]interface{}, experiences []PastExperience) string {
	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(task)
	b.WriteString("\n\nRelevant past experiences:\n")
	if len(experiences) == 0 {
		b.WriteString("(none)\n")
	}
	for _, exp := range experiences {
		b.WriteString("- ")
		b.WriteString(exp.Content)
		b.WriteString("\n")
	}
	if len(context) > 0 {
		if data, err := json.Marshal(context); err == nil {
			b.WriteString("\nContext: ")
			b.Write(data)
			b.WriteString("\n")
		}
	}
	b.WriteString("\nRespond with JSON: {\"analysis\":\"...\",\"options\":[\"...\"],\"selectedOption\":\"...\",\"reasoning\":\"...\"}")
	return b.String()
}

func buildObservePrompt(actResult map[string]interface{}) string {
	data, _ := json.Marshal(actResult)
	return fmt.Sprintf("Tool result: %s\n\nExtract JSON: {\"keyFindings\":[],\"unexpectedFindings\":[],\"questions\":[]}", string(data))
}

func buildReflectPrompt(task string, observation map[string]interface{}) string {
	data, _ := json.Marshal(observation)
	return fmt.Sprintf("Task: %s\nObservation: %s\n\nEvaluate with JSON: "+
		"{\"evaluation\":{\"success\":true,\"score\":0.0,\"criteria\":{\"correctness\":0,\"completeness\":0,\"efficiency\":0}},"+
		"\"issues\":[],\"lessons\":[],\"improvements\":[]}", task, string(data))
}

// resolveToolForOption maps a selected Think option to a tool name via a
// fixed description->tool mapping; options name the tool directly or embed
// it as the first whitespace-delimited token.
func resolveToolForOption(option string) string {
	fields := strings.Fields(option)
	if len(fields) == 0 {
		return option
	}
	return fields[0]
}

var fencedBlock = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)```")

// parseJSON implements spec §4.6's JSON parsing robustness chain: direct,
// fenced code block, first balanced {...} substring, else the target is
// decoded from an empty object "{}" and true is returned. Callers detect
// that empty result from missing fields (think treats a missing
// selectedOption as failure).
func parseJSON(raw string, target interface{}) bool {
	trimmed := strings.TrimSpace(raw)
	if json.Unmarshal([]byte(trimmed), target) == nil {
		return true
	}
	if m := fencedBlock.FindStringSubmatch(trimmed); m != nil {
		if json.Unmarshal([]byte(strings.TrimSpace(m[1])), target) == nil {
			return true
		}
	}
	if block := firstBalancedBraces(trimmed); block != "" {
		if json.Unmarshal([]byte(block), target) == nil {
			return true
		}
	}
	return json.Unmarshal([]byte("{}"), target) == nil
}

func firstBalancedBraces(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func ms(d time.Duration) int64 {
	return d.Milliseconds()
}
