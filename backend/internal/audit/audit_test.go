package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coyote/backend/internal/adapter"
	"coyote/backend/internal/agent"
	"coyote/backend/internal/state"
)

func TestPricing_Cost(t *testing.T) {
	p := Pricing{InputPerMillion: 3, OutputPerMillion: 15}
	assert.InDelta(t, 0.0, p.Cost(0, 0), 1e-12)
	assert.InDelta(t, 0.0045, p.Cost(1000, 100), 1e-12)
	assert.InDelta(t, 18.0, p.Cost(1_000_000, 1_000_000), 1e-9)
}

func TestRecorder_Record(t *testing.T) {
	r := NewRecorder(Pricing{InputPerMillion: 3, OutputPerMillion: 15})
	r.now = func() time.Time { return time.Date(2025, 6, 2, 23, 0, 0, 0, time.UTC) }

	entry := r.Record(context.Background(), TriggerWebhook, "sms:+15550100", &agent.TurnResult{
		Answer: "done",
		Rounds: 2,
		State:  state.PhaseTerminal,
		Model:  "test-model",
		Usage:  adapter.Usage{PromptTokens: 2000, CompletionTokens: 200},
		ToolCalls: []agent.ToolCallRecord{
			{Name: "calendar_today"},
			{Name: "gmail_unread", Failed: true},
		},
	}, nil, 40*time.Millisecond)

	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "webhook", entry.TriggerType)
	assert.Equal(t, "sms:+15550100", entry.TriggerSource)
	assert.Equal(t, "test-model", entry.Model)
	assert.Equal(t, 2, entry.Rounds)
	assert.Equal(t, "terminal", entry.State)
	assert.Equal(t, 2, entry.ToolCalls)
	assert.Equal(t, 1, entry.FailedToolCalls)
	assert.InDelta(t, 0.009, entry.CostUSD, 1e-12)
	assert.Empty(t, entry.Error)

	failed := r.Record(context.Background(), TriggerManual, "test", nil, errors.New("cancelled"), time.Millisecond)
	assert.Equal(t, "cancelled", failed.Error)
	assert.Zero(t, failed.CostUSD)

	stats := r.Today()
	assert.Equal(t, "2025-06-02", stats.Day)
	assert.Equal(t, 2, stats.Requests)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 2200, stats.Tokens)
	assert.InDelta(t, 0.009, stats.CostUSD, 1e-12)
	assert.InDelta(t, 0.009, stats.ByModel["test-model"], 1e-12)
}

func TestRecorder_RollsOverDaily(t *testing.T) {
	now := time.Date(2025, 6, 2, 23, 59, 0, 0, time.UTC)
	r := NewRecorder(Pricing{InputPerMillion: 1})
	r.now = func() time.Time { return now }

	r.Record(context.Background(), TriggerWebhook, "sms:1", &agent.TurnResult{Model: "m", Usage: adapter.Usage{PromptTokens: 10}}, nil, 0)
	require.Equal(t, 1, r.Today().Requests)

	now = now.Add(2 * time.Minute)
	stats := r.Today()
	assert.Equal(t, "2025-06-03", stats.Day)
	assert.Zero(t, stats.Requests)
	assert.Empty(t, stats.ByModel)
}

func TestRecorder_TodayIsACopy(t *testing.T) {
	r := NewRecorder(Pricing{InputPerMillion: 1})
	r.Record(context.Background(), TriggerWebhook, "sms:1", &agent.TurnResult{Model: "m", Usage: adapter.Usage{PromptTokens: 10}}, nil, 0)

	stats := r.Today()
	stats.ByModel["m"] = 99

	assert.InDelta(t, 0.00001, r.Today().ByModel["m"], 1e-12)
}

func TestRecorder_ConcurrentRecords(t *testing.T) {
	r := NewRecorder(Pricing{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Record(context.Background(), TriggerWebhook, "sms:1", &agent.TurnResult{Usage: adapter.Usage{CompletionTokens: 1}}, nil, 0)
		}()
	}
	wg.Wait()

	stats := r.Today()
	assert.Equal(t, 50, stats.Requests)
	assert.Equal(t, 50, stats.Tokens)
}
