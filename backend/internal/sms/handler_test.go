package sms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coyote/backend/internal/adapter"
	"coyote/backend/internal/agent"
	"coyote/backend/internal/audit"
	"coyote/backend/internal/constants"
	"coyote/backend/internal/reply"
	"coyote/backend/internal/state"
	apperrors "coyote/backend/pkg/errors"
)

type fakeRunner struct {
	mu      sync.Mutex
	inputs  []string
	RunFunc func(ctx context.Context, text string) (*agent.TurnResult, error)
}

func (f *fakeRunner) Run(ctx context.Context, text string) (*agent.TurnResult, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, text)
	f.mu.Unlock()
	return f.RunFunc(ctx, text)
}

func answering(answer string) *fakeRunner {
	return &fakeRunner{RunFunc: func(ctx context.Context, text string) (*agent.TurnResult, error) {
		return &agent.TurnResult{Answer: answer, Rounds: 1, State: state.PhaseTerminal}, nil
	}}
}

type fakeSender struct {
	SendFunc func(ctx context.Context, to, body string) (string, error)
	sent     []string
}

func (f *fakeSender) Send(ctx context.Context, to, body string) (string, error) {
	f.sent = append(f.sent, to+": "+body)
	if f.SendFunc != nil {
		return f.SendFunc(ctx, to, body)
	}
	return "SM123", nil
}

type memoryDedup struct {
	seen map[string]bool
	err  error
}

func (m *memoryDedup) FirstSeen(ctx context.Context, id string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.seen[id] {
		return false, nil
	}
	m.seen[id] = true
	return true, nil
}

type probeFunc func(ctx context.Context) map[string]bool

func (f probeFunc) Probes(ctx context.Context) map[string]bool { return f(ctx) }

func newRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func formPost(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func serve(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInbound_RepliesWithTwiML(t *testing.T) {
	runner := answering("2 events today: 10am sync, 2pm review")
	r := newRouter(NewHandler(runner, reply.NewFormatter(160, constants.CharsetGSM7), Options{}))

	w := serve(r, formPost("/webhook/inbound", url.Values{
		"From":       {"+15550100"},
		"Body":       {"what's on my schedule"},
		"MessageSid": {"SM1"},
	}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ContentTypeTwiML, w.Header().Get("Content-Type"))
	assert.Equal(t, `<?xml version="1.0" encoding="UTF-8"?>`+"\n"+
		`<Response><Message>2 events today: 10am sync, 2pm review</Message></Response>`, w.Body.String())
	assert.Equal(t, []string{"what's on my schedule"}, runner.inputs)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestInbound_ParsesEveryCarrierShape(t *testing.T) {
	tests := []struct {
		name string
		req  func() *http.Request
	}{
		{name: "query", req: func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/webhook/inbound?msisdn=15550100&text=hello", nil)
		}},
		{name: "form", req: func() *http.Request {
			return formPost("/webhook/inbound", url.Values{"From": {"+15550100"}, "Body": {"hello"}})
		}},
		{name: "json", req: func() *http.Request {
			req := httptest.NewRequest(http.MethodPost, "/webhook/inbound", strings.NewReader(`{"from":"+15550100","message":"hello","messageId":42}`))
			req.Header.Set("Content-Type", "application/json; charset=utf-8")
			return req
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := answering("hi")
			r := newRouter(NewHandler(runner, reply.NewFormatter(160, constants.CharsetGSM7), Options{}))

			w := serve(r, tt.req())
			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, []string{"hello"}, runner.inputs)
		})
	}
}

func TestInbound_Malformed(t *testing.T) {
	runner := answering("unused")
	r := newRouter(NewHandler(runner, reply.NewFormatter(160, constants.CharsetGSM7), Options{}))

	badJSON := httptest.NewRequest(http.MethodPost, "/webhook/inbound", strings.NewReader(`{"From":`))
	badJSON.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusBadRequest, serve(r, badJSON).Code)

	noSender := formPost("/webhook/inbound", url.Values{"Body": {"hello"}})
	assert.Equal(t, http.StatusBadRequest, serve(r, noSender).Code)

	assert.Empty(t, runner.inputs)
}

func TestInbound_EmptyTextSkipsLoop(t *testing.T) {
	runner := answering("unused")
	r := newRouter(NewHandler(runner, reply.NewFormatter(160, constants.CharsetGSM7), Options{}))

	w := serve(r, formPost("/webhook/inbound", url.Values{"From": {"+15550100"}, "Body": {"  "}}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<Response></Response>")
	assert.Empty(t, runner.inputs)
}

func TestInbound_FormatsLongAnswers(t *testing.T) {
	long := strings.Repeat("lorem ipsum ", 30)
	r := newRouter(NewHandler(answering(long), reply.NewFormatter(160, constants.CharsetGSM7), Options{}))

	w := serve(r, formPost("/webhook/inbound", url.Values{"From": {"+15550100"}, "Body": {"hi"}}))
	body := w.Body.String()
	start := strings.Index(body, "<Message>") + len("<Message>")
	end := strings.Index(body, "</Message>")
	require.True(t, start > 0 && end > start)
	message := body[start:end]
	assert.LessOrEqual(t, len(message), 160)
	assert.True(t, strings.HasSuffix(message, "..."))
}

func TestInbound_EscapesXML(t *testing.T) {
	r := newRouter(NewHandler(answering(`Q&A <today> "ok"`), reply.NewFormatter(160, constants.CharsetGSM7), Options{}))

	w := serve(r, formPost("/webhook/inbound", url.Values{"From": {"+15550100"}, "Body": {"hi"}}))
	assert.Contains(t, w.Body.String(), "<Message>Q&amp;A &lt;today&gt; &#34;ok&#34;</Message>")
}

func TestInbound_FailureSendsGenericReply(t *testing.T) {
	runner := &fakeRunner{RunFunc: func(ctx context.Context, text string) (*agent.TurnResult, error) {
		return nil, apperrors.NewContextCancelled("orchestration", context.Canceled)
	}}
	r := newRouter(NewHandler(runner, reply.NewFormatter(160, constants.CharsetGSM7), Options{}))

	w := serve(r, formPost("/webhook/inbound", url.Values{"From": {"+15550100"}, "Body": {"hi"}}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), constants.GenericFailureAnswer)
}

func TestInbound_SendsThroughSender(t *testing.T) {
	sender := &fakeSender{}
	r := newRouter(NewHandler(answering("done"), reply.NewFormatter(160, constants.CharsetGSM7), Options{Sender: sender}))

	w := serve(r, formPost("/webhook/inbound", url.Values{"From": {"+15550100"}, "Body": {"hi"}}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<Response></Response>")
	assert.Equal(t, []string{"+15550100: done"}, sender.sent)

	// A failed send is logged, the webhook is still acknowledged
	sender.SendFunc = func(ctx context.Context, to, body string) (string, error) {
		return "", apperrors.NewTransportSendFailed(to, errors.New("401"))
	}
	w = serve(r, formPost("/webhook/inbound", url.Values{"From": {"+15550100"}, "Body": {"again"}}))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestInbound_SuppressesRedelivery(t *testing.T) {
	runner := answering("once")
	dedup := &memoryDedup{seen: map[string]bool{}}
	r := newRouter(NewHandler(runner, reply.NewFormatter(160, constants.CharsetGSM7), Options{Deduplicator: dedup}))

	values := url.Values{"From": {"+15550100"}, "Body": {"hi"}, "MessageSid": {"SM42"}}
	first := serve(r, formPost("/webhook/inbound", values))
	second := serve(r, formPost("/webhook/inbound", values))

	assert.Contains(t, first.Body.String(), "<Message>once</Message>")
	assert.Contains(t, second.Body.String(), "<Response></Response>")
	assert.Len(t, runner.inputs, 1)

	// A broken guard never drops messages
	dedup.err = errors.New("redis down")
	serve(r, formPost("/webhook/inbound", values))
	assert.Len(t, runner.inputs, 2)
}

func TestStatusWebhook(t *testing.T) {
	r := newRouter(NewHandler(answering(""), reply.NewFormatter(160, constants.CharsetGSM7), Options{}))

	w := serve(r, formPost("/webhook/status", url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"undelivered"}, "ErrorCode": {"30003"}}))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestTestEndpoints(t *testing.T) {
	runner := &fakeRunner{RunFunc: func(ctx context.Context, text string) (*agent.TurnResult, error) {
		return &agent.TurnResult{
			Answer: "echo: " + text,
			Rounds: 2,
			State:  state.PhaseTerminal,
			ToolCalls: []agent.ToolCallRecord{
				{Round: 1, ID: "call_1", Name: "swarm_status", Outcome: `{"status":"ok"}`},
			},
		}, nil
	}}
	r := newRouter(NewHandler(runner, reply.NewFormatter(160, constants.CharsetGSM7), Options{}))

	req := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{"message":"ping"}`))
	req.Header.Set("Content-Type", "application/json")
	w := serve(r, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ping", body["input"])
	assert.Equal(t, "echo: ping", body["response"])
	assert.Equal(t, float64(2), body["rounds"])
	assert.Equal(t, "terminal", body["state"])
	assert.Len(t, body["tool_calls"], 1)

	// Empty message falls back to a status check
	req = httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w = serve(r, req)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "status", body["input"])

	w = serve(r, httptest.NewRequest(http.MethodGet, "/test/hello%20there", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "hello there", body["input"])
	assert.Equal(t, "echo: hello there", body["response"])
}

func TestHealthEndpoints(t *testing.T) {
	h := NewHandler(answering(""), reply.NewFormatter(160, constants.CharsetGSM7), Options{
		Integrations: map[string]bool{"model": true, "twilio": false},
		Tools: probeFunc(func(ctx context.Context) map[string]bool {
			return map[string]bool{"swarm_status": false, "gmail_unread": true}
		}),
	})
	r := newRouter(h)

	for path, status := range map[string]string{"/": "COYOTE is alive", "/health": "healthy"} {
		w := serve(r, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, w.Code, path)

		var body struct {
			Status       string          `json:"status"`
			Version      string          `json:"version"`
			Integrations map[string]bool `json:"integrations"`
			Tools        map[string]bool `json:"tools"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, status, body.Status)
		assert.Equal(t, constants.Version, body.Version)
		assert.True(t, body.Integrations["model"])
		assert.Equal(t, map[string]bool{"swarm_status": false, "gmail_unread": true}, body.Tools)
	}
}

func TestSMSEndpoint_AnswersInline(t *testing.T) {
	runner := answering("Prophet is running.")
	sender := &fakeSender{}
	r := newRouter(NewHandler(runner, reply.NewFormatter(160, constants.CharsetGSM7), Options{Sender: sender}))

	w := serve(r, formPost("/sms", url.Values{"From": {"+15550100"}, "Body": {" prophet? "}}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ContentTypeTwiML, w.Header().Get("Content-Type"))
	assert.Equal(t, `<?xml version="1.0" encoding="UTF-8"?>`+"\n<Response><Message>Prophet is running.</Message></Response>", w.Body.String())
	assert.Equal(t, []string{"prophet?"}, runner.inputs)
	assert.Empty(t, sender.sent, "the /sms endpoint never sends out of band")
}

func TestSMSEndpoint_EmptyAndFailing(t *testing.T) {
	runner := &fakeRunner{RunFunc: func(ctx context.Context, text string) (*agent.TurnResult, error) {
		return nil, apperrors.NewContextCancelled("orchestration", context.Canceled)
	}}
	dedup := &memoryDedup{seen: map[string]bool{}}
	r := newRouter(NewHandler(runner, reply.NewFormatter(160, constants.CharsetGSM7), Options{Deduplicator: dedup}))

	w := serve(r, formPost("/sms", url.Values{"From": {"+15550100"}}))
	assert.Equal(t, `<?xml version="1.0" encoding="UTF-8"?>`+"\n<Response></Response>", w.Body.String())
	assert.Empty(t, runner.inputs)

	form := url.Values{"From": {"+15550100"}, "Body": {"hi"}, "MessageSid": {"SM5"}}
	w = serve(r, formPost("/sms", form))
	assert.Contains(t, w.Body.String(), "<Message>"+constants.GenericFailureAnswer+"</Message>")

	w = serve(r, formPost("/sms", form))
	assert.Equal(t, `<?xml version="1.0" encoding="UTF-8"?>`+"\n<Response></Response>", w.Body.String())
	assert.Len(t, runner.inputs, 1)
}

func TestStatusEndpoint(t *testing.T) {
	runner := &fakeRunner{RunFunc: func(ctx context.Context, text string) (*agent.TurnResult, error) {
		return &agent.TurnResult{
			Answer: "ok",
			Rounds: 2,
			State:  state.PhaseTerminal,
			Model:  "test-model",
			Usage:  adapter.Usage{PromptTokens: 1_000_000, CompletionTokens: 100_000},
		}, nil
	}}
	recorder := audit.NewRecorder(audit.Pricing{InputPerMillion: 3, OutputPerMillion: 15})
	r := newRouter(NewHandler(runner, reply.NewFormatter(70, constants.CharsetUCS2), Options{
		Sender:       &fakeSender{},
		Audit:        recorder,
		Model:        "test-model",
		Integrations: map[string]bool{"swarm": true},
		Tools:        probeFunc(func(ctx context.Context) map[string]bool { return map[string]bool{"swarm_status": true} }),
	}))

	serve(r, formPost("/webhook/inbound", url.Values{"From": {"+15550100"}, "Body": {"hi"}}))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Version string          `json:"version"`
		Model   string          `json:"model"`
		Tools   map[string]bool `json:"tools"`
		SMS     struct {
			MaxLength int    `json:"max_length"`
			Charset   string `json:"charset"`
			Delivery  string `json:"delivery"`
		} `json:"sms"`
		AuditStats audit.Stats `json:"audit_stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, constants.Version, body.Version)
	assert.Equal(t, "test-model", body.Model)
	assert.Equal(t, map[string]bool{"swarm_status": true}, body.Tools)
	assert.Equal(t, 70, body.SMS.MaxLength)
	assert.Equal(t, constants.CharsetUCS2, body.SMS.Charset)
	assert.Equal(t, "twilio", body.SMS.Delivery)
	assert.Equal(t, 1, body.AuditStats.Requests)
	assert.Equal(t, 1_100_000, body.AuditStats.Tokens)
	assert.InDelta(t, 4.5, body.AuditStats.CostUSD, 1e-9)
	assert.InDelta(t, 4.5, body.AuditStats.ByModel["test-model"], 1e-9)
}
