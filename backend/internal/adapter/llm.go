package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"coyote/backend/internal/constants"
	"coyote/backend/internal/state"
	apperrors "coyote/backend/pkg/errors"
	"coyote/backend/pkg/logger"
)

// LLMAdapter talks to an OpenAI-compatible chat completions endpoint
// (OpenRouter, LiteLLM). It is immutable after construction and safe to share
// between concurrent requests.
type LLMAdapter struct {
	client      *openai.Client
	model       string
	maxTokens   int
	timeout     time.Duration
	maxAttempts int
	baseDelay   time.Duration
	logger      *zap.Logger
}

// Option configures an LLMAdapter
type Option func(*LLMAdapter)

// WithRetryPolicy sets the attempt ceiling and the first backoff delay, which
// doubles on every further attempt.
func WithRetryPolicy(maxAttempts int, baseDelay time.Duration) Option {
	return func(a *LLMAdapter) {
		if maxAttempts > 0 {
			a.maxAttempts = maxAttempts
		}
		if baseDelay >= 0 {
			a.baseDelay = baseDelay
		}
	}
}

// WithTimeout bounds each individual attempt
func WithTimeout(timeout time.Duration) Option {
	return func(a *LLMAdapter) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

// WithMaxTokens caps the completion length
func WithMaxTokens(maxTokens int) Option {
	return func(a *LLMAdapter) {
		if maxTokens > 0 {
			a.maxTokens = maxTokens
		}
	}
}

// WithLogger replaces the global logger
func WithLogger(l *zap.Logger) Option {
	return func(a *LLMAdapter) {
		a.logger = l
	}
}

// NewLLMAdapter creates a new LLM adapter
func NewLLMAdapter(baseURL, apiKey, modelID string, opts ...Option) *LLMAdapter {
	// LiteLLM accepts any key; OpenRouter needs a real one
	if apiKey == "" {
		apiKey = "dummy-key"
	}

	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL

	a := &LLMAdapter{
		client:      openai.NewClientWithConfig(config),
		model:       modelID,
		maxTokens:   constants.ModelMaxTokens,
		timeout:     constants.ModelTimeout,
		maxAttempts: constants.ModelMaxAttempts,
		baseDelay:   constants.ModelRetryBaseDelay,
		logger:      logger.Get(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Model returns the model id requests are sent to
func (a *LLMAdapter) Model() string {
	return a.model
}

// Tool represents a function that can be called by the LLM
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition defines a function that can be called
type FunctionDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  interface{} `json:"parameters"`
}

// Request is one model submission: the whole conversation plus the catalogue
type Request struct {
	SystemPrompt string
	Messages     []state.Message
	Tools        []Tool
}

// Usage counts the tokens a model call consumed
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns prompt plus completion tokens
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Add accumulates another call's usage
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
}

// Response holds the content blocks the model returned
type Response struct {
	Content      []state.ContentBlock
	FinishReason string
	// Model is the model that served the call, as reported by the API
	Model string
	Usage Usage
}

// Generate submits the conversation. Transient failures (rate limiting,
// 5xx, network) are retried with exponential backoff; the final error is an
// *apperrors.ErrModelFailed or, when ctx ends, *apperrors.ErrContextCancelled.
func (a *LLMAdapter) Generate(ctx context.Context, req Request) (*Response, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:     a.model,
		Messages:  toOpenAIMessages(req.SystemPrompt, req.Messages),
		Tools:     toOpenAITools(req.Tools),
		MaxTokens: a.maxTokens,
		// ToolChoice defaults to "auto" when tools are provided
	}

	var resp openai.ChatCompletionResponse
	var lastErr *apperrors.ErrModelFailed
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := a.baseDelay << (attempt - 2)
			a.logger.Warn("Retrying LLM request",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.String("kind", string(lastErr.Kind)),
			)
			if err := sleepCtx(ctx, backoff); err != nil {
				return nil, apperrors.NewContextCancelled("model backoff", err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, a.timeout)
		var err error
		resp, err = a.client.CreateChatCompletion(attemptCtx, chatReq)
		cancel()
		if err == nil {
			lastErr = nil
			break
		}

		if ctx.Err() != nil {
			return nil, apperrors.NewContextCancelled("model call", ctx.Err())
		}

		lastErr = apperrors.NewModelFailed(classify(err), a.model, attempt, err)
		a.logger.Error("LLM request failed",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.String("model", a.model),
			zap.String("kind", string(lastErr.Kind)),
		)
		if !apperrors.IsRetryable(lastErr) {
			return nil, lastErr
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}

	if len(resp.Choices) == 0 {
		return nil, apperrors.ErrModelNoResponse
	}

	choice := resp.Choices[0]
	response := &Response{
		Content:      fromOpenAIMessage(choice.Message),
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
	if response.Model == "" {
		response.Model = a.model
	}

	a.logger.Debug("LLM response generated",
		zap.String("model", a.model),
		zap.Int("blocks", len(response.Content)),
		zap.String("finish_reason", response.FinishReason),
		zap.Int("tokens", response.Usage.Total()),
	)

	return response, nil
}

// classify maps an API error onto the model failure taxonomy
func classify(err error) apperrors.ModelFailureKind {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return kindForStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return kindForStatus(reqErr.HTTPStatusCode)
	}
	// Connection refused, DNS, per-attempt deadline
	return apperrors.ModelUnavailable
}

func kindForStatus(status int) apperrors.ModelFailureKind {
	switch {
	case status == http.StatusTooManyRequests:
		return apperrors.ModelRateLimited
	case status == 0, status == http.StatusRequestTimeout, status >= 500:
		return apperrors.ModelUnavailable
	default:
		return apperrors.ModelRejected
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// toOpenAIMessages flattens the conversation into chat completion messages.
// A tool-result message becomes one "tool" message per outcome.
func toOpenAIMessages(systemPrompt string, messages []state.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, msg := range messages {
		switch msg.Role {
		case state.RoleUser:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: msg.Text(),
			})

		case state.RoleAssistant:
			m := openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Text(),
			}
			for _, call := range msg.ToolCalls() {
				args := string(call.Arguments)
				if args == "" {
					args = "{}"
				}
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: args,
					},
				})
			}
			out = append(out, m)

		case state.RoleToolResult:
			for _, outcome := range msg.Outcomes() {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					ToolCallID: outcome.CallID,
					Name:       outcome.ToolName,
					Content:    outcome.Render(),
				})
			}
		}
	}
	return out
}

func toOpenAITools(tools []Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(tools))
	for _, tool := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  tool.Function.Parameters,
			},
		})
	}
	return out
}

// fromOpenAIMessage converts the assistant reply into content blocks. Tool
// calls of a type other than "function" are unknown blocks and are skipped.
// Missing or repeated call ids are replaced so every call has a unique join key.
func fromOpenAIMessage(msg openai.ChatCompletionMessage) []state.ContentBlock {
	var blocks []state.ContentBlock
	if msg.Content != "" {
		blocks = append(blocks, state.Text{Value: msg.Content})
	}

	seen := make(map[string]bool, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		if tc.Type != "" && tc.Type != openai.ToolTypeFunction {
			continue
		}
		id := tc.ID
		if id == "" || seen[id] {
			id = fmt.Sprintf("call_%s", uuid.NewString())
		}
		seen[id] = true
		blocks = append(blocks, state.ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: []byte(tc.Function.Arguments),
		})
	}
	return blocks
}
