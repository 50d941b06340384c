package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/persai/persai/internal/plugin"
	"github.com/persai/persai/internal/schema"
	"github.com/persai/persai/internal/shared/llmutils"
)

// EventSink receives the loop's progress. ToolOutputAvailable may be called
// from several goroutines at once.
type EventSink interface {
	TextDelta(delta string) error
	ToolInputStart(toolCallID, toolName string) error
	ToolOutputAvailable(toolCallID string, output json.RawMessage) error
}

// Result is what one Run produced.
type Result struct {
	// Messages holds the assistant and tool messages appended during the run,
	// excluding the history passed in.
	Messages []schema.Message
	Steps    []Step
	Reason   StopReason
}

// Text returns the text of the last step that produced any.
func (r Result) Text() string {
	for i := len(r.Steps) - 1; i >= 0; i-- {
		if r.Steps[i].Text != "" {
			return r.Steps[i].Text
		}
	}
	return ""
}

// Runner drives the model through Requesting, Executing and Evaluating until
// a stop condition holds.
type Runner struct {
	provider   schema.LLMProvider
	settings   schema.AgentSettings
	conditions []StopCondition
	logger     *slog.Logger
}

// NewRunner returns a Runner. With no conditions DefaultStopConditions apply.
func NewRunner(provider schema.LLMProvider, settings schema.AgentSettings, conds ...StopCondition) *Runner {
	if len(conds) == 0 {
		conds = DefaultStopConditions
	}
	return &Runner{provider: provider, settings: settings, conditions: conds, logger: slog.Default()}
}

// TurnOption adjusts a single Run.
type TurnOption func(*turn)

type turn struct {
	provider schema.LLMProvider
	model    string
}

// WithModel runs the turn against provider and model instead of the Runner's
// defaults. A nil provider keeps the default; an empty model falls back to
// the provider's default model.
func WithModel(provider schema.LLMProvider, model string) TurnOption {
	return func(t *turn) {
		if provider != nil {
			t.provider = provider
			t.model = ""
		}
		if model != "" {
			t.model = model
		}
	}
}

func (r *Runner) limits() Limits {
	return Limits{MaxSteps: r.settings.MaxSteps, TerminalToolPrefix: r.settings.TerminalToolPrefix}
}

// Run executes the loop over history. Tool failures become tool results; only
// a model failure, a sink failure or ctx cancellation end Run with an error,
// in which case the partial Result is still returned.
func (r *Runner) Run(ctx context.Context, history []schema.Message, tools schema.ToolSet, sink EventSink, opts ...TurnOption) (Result, error) {
	t := turn{provider: r.provider, model: r.settings.Model}
	for _, opt := range opts {
		opt(&t)
	}

	conversation := schema.CloneMessages(history)
	if r.settings.Instructions != "" && (len(conversation) == 0 || conversation[0].Role != schema.RoleSystem) {
		conversation = append([]schema.Message{schema.NewSystemMessage(r.settings.Instructions)}, conversation...)
	}

	model := llmutils.StringOrDefault(t.model, t.provider.DefaultModel())
	chatOpts := schema.NewChatOptions(model, r.settings.MaxTokens, r.settings.Temperature)
	defs := tools.Definitions()

	var res Result
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		// Requesting
		resp, err := t.provider.Chat(ctx, conversation, defs, chatOpts)
		if err != nil {
			return res, fmt.Errorf("model request (step %d): %w", len(res.Steps)+1, err)
		}

		step := Step{
			Index:        len(res.Steps) + 1,
			Text:         llmutils.StripThink(resp.Content),
			ToolCalls:    withCallIDs(resp.ToolCalls),
			FinishReason: resp.FinishReason,
		}
		if step.Text != "" {
			if err := sink.TextDelta(step.Text); err != nil {
				return res, fmt.Errorf("emit text: %w", err)
			}
		}
		if parts := step.Content(); len(parts) > 0 {
			msg := schema.NewMessage(schema.RoleAssistant, parts...)
			conversation = append(conversation, msg)
			res.Messages = append(res.Messages, msg)
		}

		// Executing
		if len(step.ToolCalls) > 0 {
			results, err := r.execute(ctx, tools, step.ToolCalls, sink)
			step.ToolResults = results
			parts := make([]schema.Part, 0, len(results))
			for _, tr := range results {
				parts = append(parts, schema.ToolResultPart(tr.ToolCallID, tr.ToolName, tr.Output))
			}
			msg := schema.NewMessage(schema.RoleTool, parts...)
			conversation = append(conversation, msg)
			res.Messages = append(res.Messages, msg)
			if err != nil {
				res.Steps = append(res.Steps, step)
				return res, fmt.Errorf("emit tool output: %w", err)
			}
		}
		res.Steps = append(res.Steps, step)

		// Evaluating
		if reason, stop := Evaluate(r.conditions, res.Steps, r.limits()); stop {
			res.Reason = reason
			r.logger.Info("Agent loop finished", "reason", reason, "steps", len(res.Steps))
			return res, nil
		}
	}
}

// execute runs every call of a step concurrently and returns results in
// request order. It waits for all calls before returning.
func (r *Runner) execute(ctx context.Context, tools schema.ToolSet, calls []schema.ToolCallRequest, sink EventSink) ([]ToolResult, error) {
	for _, tc := range calls {
		if err := sink.ToolInputStart(tc.ID, tc.Name); err != nil {
			return failedResults(calls, err), err
		}
	}

	r.logger.Info("Executing tools", "calls", llmutils.ToolHint(calls))
	results := make([]ToolResult, len(calls))
	var g errgroup.Group
	for i, tc := range calls {
		g.Go(func() error {
			r.logger.Debug("Tool call", "name", tc.Name, "args", llmutils.Truncate(string(tc.Arguments), 200))
			results[i] = r.invoke(ctx, tools, tc)
			return sink.ToolOutputAvailable(tc.ID, results[i].Output)
		})
	}
	return results, g.Wait()
}

func (r *Runner) invoke(ctx context.Context, tools schema.ToolSet, tc schema.ToolCallRequest) ToolResult {
	res := ToolResult{ToolCallID: tc.ID, ToolName: tc.Name}
	t, ok := tools.Get(tc.Name)
	if !ok {
		res.Err = &plugin.ToolError{ToolName: tc.Name, Kind: plugin.ToolNotFound, Message: fmt.Sprintf("tool %q not found", tc.Name)}
		res.Output = plugin.ErrorPayload(tc.Name, res.Err)
		return res
	}
	out, err := t.Execute(ctx, tc.Arguments)
	if err != nil {
		r.logger.Warn("Tool call failed", "name", tc.Name, "err", err)
		res.Err = err
		res.Output = plugin.ErrorPayload(tc.Name, err)
		return res
	}
	if len(out) == 0 {
		out = json.RawMessage("null")
	}
	res.Output = out
	return res
}

func failedResults(calls []schema.ToolCallRequest, err error) []ToolResult {
	out := make([]ToolResult, len(calls))
	for i, tc := range calls {
		out[i] = ToolResult{ToolCallID: tc.ID, ToolName: tc.Name, Err: err, Output: plugin.ErrorPayload(tc.Name, err)}
	}
	return out
}

// withCallIDs fills in ids the model omitted so results can be correlated.
func withCallIDs(calls []schema.ToolCallRequest) []schema.ToolCallRequest {
	out := make([]schema.ToolCallRequest, len(calls))
	for i, tc := range calls {
		if tc.ID == "" {
			tc.ID = "call_" + uuid.NewString()
		}
		if len(tc.Arguments) == 0 {
			tc.Arguments = json.RawMessage(`{}`)
		}
		out[i] = tc
	}
	return out
}
