package agent

import (
	"encoding/json"
	"strings"

	"github.com/persai/persai/internal/schema"
)

// DefaultMaxSteps caps the loop when settings leave MaxSteps unset.
const DefaultMaxSteps = 20

// StopReason explains why the loop ended.
type StopReason string

const (
	StopStepLimit    StopReason = "step-limit"
	StopTerminalTool StopReason = "terminal-tool"
	StopComplete     StopReason = "complete"
)

// ToolResult is the outcome of one tool call within a Step.
type ToolResult struct {
	ToolCallID string
	ToolName   string
	Output     json.RawMessage
	Err        error
}

// Step is one model response plus the tool executions it triggered.
type Step struct {
	Index        int
	Text         string
	ToolCalls    []schema.ToolCallRequest
	ToolResults  []ToolResult
	FinishReason string
}

// Content returns the step's content items in order: text, then tool calls,
// then tool results.
func (s Step) Content() []schema.Part {
	parts := make([]schema.Part, 0, 1+len(s.ToolCalls)+len(s.ToolResults))
	if s.Text != "" {
		parts = append(parts, schema.TextPart(s.Text))
	}
	for _, tc := range s.ToolCalls {
		parts = append(parts, schema.ToolCallPart(tc.ID, tc.Name, tc.Arguments))
	}
	for _, tr := range s.ToolResults {
		parts = append(parts, schema.ToolResultPart(tr.ToolCallID, tr.ToolName, tr.Output))
	}
	return parts
}

// Limits parameterises the stop conditions.
type Limits struct {
	MaxSteps           int
	TerminalToolPrefix string
}

func (l Limits) maxSteps() int {
	if l.MaxSteps <= 0 {
		return DefaultMaxSteps
	}
	return l.MaxSteps
}

// StopCondition is a pure predicate over the steps taken so far.
type StopCondition struct {
	Reason StopReason
	Stop   func(steps []Step, limits Limits) bool
}

// StepLimit stops once the step count reaches the cap.
var StepLimit = StopCondition{
	Reason: StopStepLimit,
	Stop: func(steps []Step, limits Limits) bool {
		return len(steps) >= limits.maxSteps()
	},
}

// TerminalTool stops when the last content item of the last step is a result
// of a tool whose name starts with the terminal prefix.
var TerminalTool = StopCondition{
	Reason: StopTerminalTool,
	Stop: func(steps []Step, limits Limits) bool {
		if len(steps) == 0 || limits.TerminalToolPrefix == "" {
			return false
		}
		content := steps[len(steps)-1].Content()
		if len(content) == 0 {
			return false
		}
		last := content[len(content)-1]
		return last.Type == schema.PartToolResult && strings.HasPrefix(last.ToolName, limits.TerminalToolPrefix)
	},
}

// Complete stops when the last step requested no tools.
var Complete = StopCondition{
	Reason: StopComplete,
	Stop: func(steps []Step, _ Limits) bool {
		return len(steps) > 0 && len(steps[len(steps)-1].ToolCalls) == 0
	},
}

// DefaultStopConditions is evaluated left to right.
var DefaultStopConditions = []StopCondition{StepLimit, TerminalTool, Complete}

// Evaluate returns the reason of the first condition that holds.
func Evaluate(conds []StopCondition, steps []Step, limits Limits) (StopReason, bool) {
	for _, c := range conds {
		if c.Stop(steps, limits) {
			return c.Reason, true
		}
	}
	return "", false
}
