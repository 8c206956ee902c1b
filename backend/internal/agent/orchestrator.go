package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"coyote/backend/internal/adapter"
	"coyote/backend/internal/constants"
	"coyote/backend/internal/state"
	"coyote/backend/internal/tools"
	apperrors "coyote/backend/pkg/errors"
	"coyote/backend/pkg/logger"
)

// LLM is the model boundary the loop submits conversations to
type LLM interface {
	Generate(ctx context.Context, req adapter.Request) (*adapter.Response, error)
}

// ToolRegistry is the read-only view of the registry the loop dispatches through
type ToolRegistry interface {
	Resolve(name string) (tools.Executor, error)
	Validate(name string, args map[string]interface{}) error
	Catalogue() []tools.ToolSpec
}

// Orchestrator turns one inbound message into one answer, calling tools on
// the model's behalf. It holds no per-request state and is safe for
// concurrent use.
type Orchestrator struct {
	llm         LLM
	registry    ToolRegistry
	persona     string
	maxRounds   int
	toolTimeout time.Duration
	replyLength int
	location    *time.Location
	now         func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithPersona replaces the default persona in the system prompt
func WithPersona(persona string) Option {
	return func(o *Orchestrator) { o.persona = persona }
}

// WithMaxRounds sets the ceiling on model submissions per request
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxRounds = n
		}
	}
}

// WithToolTimeout bounds each tool call
func WithToolTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.toolTimeout = d
		}
	}
}

// WithReplyLength is the reply budget quoted to the model in its SMS rules
func WithReplyLength(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.replyLength = n
		}
	}
}

// WithLocation sets the timezone of the clock shown to the model
func WithLocation(loc *time.Location) Option {
	return func(o *Orchestrator) {
		if loc != nil {
			o.location = loc
		}
	}
}

// NewOrchestrator creates a new agent orchestrator
func NewOrchestrator(llm LLM, registry ToolRegistry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		llm:         llm,
		registry:    registry,
		maxRounds:   constants.MaxRounds,
		toolTimeout: constants.ToolTimeout,
		replyLength: constants.SMSMaxLength,
		location:    time.UTC,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ToolCallRecord describes one dispatched tool call and how it ended
type ToolCallRecord struct {
	Round     int             `json:"round"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Outcome   string          `json:"outcome"`
	Failed    bool            `json:"failed"`
}

// TurnResult represents the result of one inbound message
type TurnResult struct {
	Answer    string           `json:"answer"`
	Rounds    int              `json:"rounds"`
	State     state.Phase      `json:"state"`
	ToolCalls []ToolCallRecord `json:"tool_calls"`
	Model     string           `json:"model,omitempty"` // served the last round
	Usage     adapter.Usage    `json:"usage"`           // summed over rounds
}

// Run drives the conversation until the model answers in plain text, the model
// API gives up, or the round ceiling is reached. Tool failures never end the
// loop; they are shown to the model. The only error returned is cancellation
// of ctx, in which case the caller should send a generic reply.
func (o *Orchestrator) Run(ctx context.Context, userText string) (*TurnResult, error) {
	log := logger.FromContext(ctx)
	catalogue := o.registry.Catalogue()
	definitions := tools.Definitions(catalogue)
	systemPrompt := buildSystemPrompt(o.persona, catalogue, o.replyLength, o.now().In(o.location))

	st := state.NewLoopState(systemPrompt, userText)
	result := &TurnResult{ToolCalls: []ToolCallRecord{}}

	for {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.NewContextCancelled("orchestration", err)
		}

		st.Phase = state.PhaseAwaitModel
		st.Round++
		log.Debug("Submitting to model", zap.Int("round", st.Round), zap.Int("messages", st.Len()))

		resp, err := o.llm.Generate(ctx, adapter.Request{
			SystemPrompt: st.SystemPrompt,
			Messages:     st.Messages(),
			Tools:        definitions,
		})
		if err != nil {
			if ctx.Err() != nil || apperrors.IsErrorType(err, apperrors.ErrorTypeContext) {
				return nil, apperrors.NewContextCancelled("orchestration", err)
			}
			log.Error("Model failed, answering with degraded reply",
				zap.Int("round", st.Round),
				zap.Error(err),
			)
			st.Phase = state.PhaseModelFailed
			return o.finish(st, result, constants.DegradedServiceAnswer), nil
		}

		result.Model = resp.Model
		result.Usage.Add(resp.Usage)

		reply := state.Message{Role: state.RoleAssistant, Content: resp.Content, Timestamp: time.Now()}
		if err := st.Append(reply); err != nil {
			return nil, fmt.Errorf("failed to record model reply: %w", err)
		}

		calls := reply.ToolCalls()
		if len(calls) == 0 {
			st.Phase = state.PhaseTerminal
			answer := strings.TrimSpace(reply.Text())
			if answer == "" {
				log.Warn("Model ended the turn without text", zap.Int("round", st.Round))
				answer = constants.UnableToCompleteAnswer
			}
			return o.finish(st, result, answer), nil
		}

		st.Phase = state.PhaseDispatchTools
		outcomes := o.dispatch(ctx, log.With(zap.Int("round", st.Round)), calls)
		if err := ctx.Err(); err != nil {
			// In-flight results are discarded
			return nil, apperrors.NewContextCancelled("tool dispatch", err)
		}

		blocks := make([]state.ContentBlock, len(outcomes))
		for i, outcome := range outcomes {
			blocks[i] = outcome
			result.ToolCalls = append(result.ToolCalls, ToolCallRecord{
				Round:     st.Round,
				ID:        calls[i].ID,
				Name:      calls[i].Name,
				Arguments: calls[i].Arguments,
				Outcome:   outcome.Render(),
				Failed:    outcome.Failed(),
			})
		}
		if err := st.Append(state.Message{Role: state.RoleToolResult, Content: blocks, Timestamp: time.Now()}); err != nil {
			return nil, fmt.Errorf("failed to record tool outcomes: %w", err)
		}

		if st.Round >= o.maxRounds {
			log.Warn("Round ceiling reached", zap.Int("rounds", st.Round))
			st.Phase = state.PhaseBoundExceeded
			answer := strings.Join(st.AssistantText(), " ")
			if answer == "" {
				answer = constants.UnableToCompleteAnswer
			}
			return o.finish(st, result, answer), nil
		}
	}
}

func (o *Orchestrator) finish(st *state.LoopState, result *TurnResult, answer string) *TurnResult {
	result.Answer = answer
	result.Rounds = st.Round
	result.State = st.Phase
	return result
}

// dispatch runs every call of a round concurrently and returns one outcome per
// call, in call order. Failures of one call never cancel the others.
func (o *Orchestrator) dispatch(ctx context.Context, log *zap.Logger, calls []state.ToolCall) []state.ToolOutcome {
	outcomes := make([]state.ToolOutcome, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			outcomes[i] = o.invoke(ctx, log.With(zap.String("tool", call.Name), zap.String("call_id", call.ID)), call)
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

type execResult struct {
	value interface{}
	err   error
}

// invoke resolves, validates and executes one call. Every path yields an outcome.
func (o *Orchestrator) invoke(ctx context.Context, log *zap.Logger, call state.ToolCall) state.ToolOutcome {
	outcome := state.ToolOutcome{CallID: call.ID, ToolName: call.Name}
	fail := func(failure *apperrors.ErrToolFailed) state.ToolOutcome {
		log.Warn("Tool call failed",
			zap.String("kind", string(failure.Kind)),
			zap.Error(failure),
		)
		outcome.Err = failure
		return outcome
	}

	executor, err := o.registry.Resolve(call.Name)
	if err != nil {
		return fail(toToolFailure(call.Name, err))
	}

	args, err := tools.ParseArguments(call.Name, call.Arguments)
	if err != nil {
		return fail(toToolFailure(call.Name, err))
	}
	if err := o.registry.Validate(call.Name, args); err != nil {
		return fail(toToolFailure(call.Name, err))
	}

	callCtx, cancel := context.WithTimeout(ctx, o.toolTimeout)
	defer cancel()

	started := time.Now()
	done := make(chan execResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("Tool executor panicked", zap.Any("panic", r))
				done <- execResult{err: apperrors.NewToolUpstreamError(call.Name, "executor crashed", fmt.Errorf("panic: %v", r))}
			}
		}()
		value, err := executor.Execute(callCtx, args)
		done <- execResult{value: value, err: err}
	}()

	// An executor that ignores its context is abandoned at the deadline
	var res execResult
	select {
	case res = <-done:
	case <-callCtx.Done():
		res = execResult{err: callCtx.Err()}
	}

	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fail(apperrors.NewToolTimeout(call.Name, o.toolTimeout))
		}
		if ctx.Err() != nil {
			return fail(apperrors.NewToolUpstreamUnavailable(call.Name, res.err))
		}
		return fail(toToolFailure(call.Name, res.err))
	}

	log.Info("Tool executed", zap.Duration("elapsed", time.Since(started)))
	outcome.Result = res.value
	return outcome
}

// toToolFailure keeps typed tool failures and wraps anything else as an
// upstream error with a short detail.
func toToolFailure(toolName string, err error) *apperrors.ErrToolFailed {
	if failure, ok := apperrors.AsToolFailure(err); ok {
		return failure
	}
	return apperrors.NewToolUpstreamError(toolName, clip(err.Error(), 80), err)
}

// clip shortens s to at most n runes
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
