package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coyote/backend/internal/agent"
	"coyote/backend/pkg/logger"
)

// TriggerType says what started a request
type TriggerType string

const (
	// TriggerWebhook is a carrier webhook delivering a text
	TriggerWebhook TriggerType = "webhook"
	// TriggerManual is the test console
	TriggerManual TriggerType = "manual"
)

// Pricing is the model price in USD per million tokens
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Cost prices a prompt/completion token count
func (p Pricing) Cost(promptTokens, completionTokens int) float64 {
	return (float64(promptTokens)*p.InputPerMillion + float64(completionTokens)*p.OutputPerMillion) / 1_000_000
}

// Entry is the record of one handled request. It holds counts and outcome,
// never message text.
type Entry struct {
	ID               string        `json:"id"`
	Timestamp        time.Time     `json:"timestamp"`
	TriggerType      string        `json:"trigger_type"`
	TriggerSource    string        `json:"trigger_source"`
	Model            string        `json:"model_used"`
	Rounds           int           `json:"rounds"`
	State            string        `json:"state"`
	ToolCalls        int           `json:"tool_calls"`
	FailedToolCalls  int           `json:"failed_tool_calls"`
	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	CostUSD          float64       `json:"cost_usd"`
	Error            string        `json:"error,omitempty"`
	Elapsed          time.Duration `json:"-"`
}

// Stats are the totals for one day
type Stats struct {
	Day      string             `json:"day"`
	Requests int                `json:"requests"`
	Failures int                `json:"failures"`
	Tokens   int                `json:"tokens"`
	CostUSD  float64            `json:"cost_usd"`
	ByModel  map[string]float64 `json:"cost_by_model"`
}

// Recorder writes audit entries to the log and keeps today's totals. It is
// safe for concurrent use.
type Recorder struct {
	pricing Pricing
	now     func() time.Time

	mu    sync.Mutex
	today Stats
}

// NewRecorder creates a recorder that prices tokens with pricing
func NewRecorder(pricing Pricing) *Recorder {
	return &Recorder{
		pricing: pricing,
		now:     time.Now,
	}
}

// Record builds the entry for one request from its loop result. result is nil
// when the loop returned an error.
func (r *Recorder) Record(ctx context.Context, trigger TriggerType, source string, result *agent.TurnResult, runErr error, elapsed time.Duration) Entry {
	entry := Entry{
		ID:            uuid.New().String(),
		Timestamp:     r.now().UTC(),
		TriggerType:   string(trigger),
		TriggerSource: source,
		Elapsed:       elapsed,
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	if result != nil {
		entry.Model = result.Model
		entry.Rounds = result.Rounds
		entry.State = string(result.State)
		entry.ToolCalls = len(result.ToolCalls)
		for _, call := range result.ToolCalls {
			if call.Failed {
				entry.FailedToolCalls++
			}
		}
		entry.PromptTokens = result.Usage.PromptTokens
		entry.CompletionTokens = result.Usage.CompletionTokens
		entry.CostUSD = r.pricing.Cost(entry.PromptTokens, entry.CompletionTokens)
	}

	r.add(entry)

	logger.FromContext(ctx).Info("Audit",
		zap.String("audit_id", entry.ID),
		zap.String("trigger_type", entry.TriggerType),
		zap.String("trigger_source", entry.TriggerSource),
		zap.String("model", entry.Model),
		zap.Int("rounds", entry.Rounds),
		zap.String("state", entry.State),
		zap.Int("tool_calls", entry.ToolCalls),
		zap.Int("failed_tool_calls", entry.FailedToolCalls),
		zap.Int("prompt_tokens", entry.PromptTokens),
		zap.Int("completion_tokens", entry.CompletionTokens),
		zap.Float64("cost_usd", entry.CostUSD),
		zap.Duration("elapsed", entry.Elapsed),
		zap.String("error", entry.Error),
	)
	return entry
}

func (r *Recorder) add(entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rollover()
	r.today.Requests++
	if entry.Error != "" {
		r.today.Failures++
	}
	r.today.Tokens += entry.PromptTokens + entry.CompletionTokens
	r.today.CostUSD += entry.CostUSD
	if entry.Model != "" {
		r.today.ByModel[entry.Model] += entry.CostUSD
	}
}

// rollover starts a new day's totals when the date changes. Callers hold mu.
func (r *Recorder) rollover() {
	day := r.now().UTC().Format("2006-01-02")
	if r.today.Day != day {
		r.today = Stats{Day: day, ByModel: map[string]float64{}}
	}
}

// Today returns a copy of today's totals
func (r *Recorder) Today() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.rollover()
	stats := r.today
	stats.ByModel = make(map[string]float64, len(r.today.ByModel))
	for model, cost := range r.today.ByModel {
		stats.ByModel[model] = cost
	}
	return stats
}
