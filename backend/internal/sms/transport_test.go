package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "coyote/backend/pkg/errors"
)

// parseRequest runs ParseInbound on req inside a gin test context
func parseRequest(req *http.Request) (*InboundMessage, error) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = req
	return ParseInbound(c)
}

func jsonPost(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook/inbound", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	return req
}

func TestParseInbound(t *testing.T) {
	req := formPost("/webhook/inbound", url.Values{
		"From":       {" +15550100 "},
		"Body":       {"  hello  "},
		"MessageSid": {"SM9"},
		"msisdn":     {"ignored"},
	})
	msg, err := parseRequest(req)
	require.NoError(t, err)
	assert.Equal(t, &InboundMessage{From: "+15550100", Text: "hello", MessageID: "SM9"}, msg)
}

func TestParseInbound_JSONKeepsNumericFields(t *testing.T) {
	tests := []struct {
		name string
		body string
		want *InboundMessage
	}{
		{
			name: "numeric msisdn",
			body: `{"msisdn": 447700900123, "text": "hi", "messageId": 1700000000000000001}`,
			want: &InboundMessage{From: "447700900123", Text: "hi", MessageID: "1700000000000000001"},
		},
		{
			name: "string sender",
			body: `{"From": "+15550100", "Body": "yo", "urgent": true}`,
			want: &InboundMessage{From: "+15550100", Text: "yo"},
		},
		{
			name: "numeric text",
			body: `{"from": "+15550100", "message": 42}`,
			want: &InboundMessage{From: "+15550100", Text: "42"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := parseRequest(jsonPost(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg)
		})
	}
}

func TestParseInbound_Malformed(t *testing.T) {
	_, err := parseRequest(jsonPost(`["not","an","object"]`))
	var malformed *apperrors.ErrTransportMalformedInput
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "invalid JSON", malformed.Reason)

	_, err = parseRequest(httptest.NewRequest(http.MethodGet, "/webhook/inbound?text=hi", nil))
	require.ErrorAs(t, err, &malformed)
	assert.Equal(t, "missing sender", malformed.Reason)
}

func TestTwiML(t *testing.T) {
	doc, err := TwiML("")
	require.NoError(t, err)
	assert.Equal(t, `<?xml version="1.0" encoding="UTF-8"?>`+"\n<Response></Response>", string(doc))

	doc, err = TwiML("a < b & c")
	require.NoError(t, err)
	assert.Equal(t, `<?xml version="1.0" encoding="UTF-8"?>`+"\n<Response><Message>a &lt; b &amp; c</Message></Response>", string(doc))
}

func TestTwilioSender_Send(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC1/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC1", user)
		assert.Equal(t, "secret", pass)

		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "+15550100", r.PostForm.Get("To"))
		assert.Equal(t, "+15559999", r.PostForm.Get("From"))
		assert.Len(t, []rune(r.PostForm.Get("Body")), 1600)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM777","status":"queued"}`))
	}))
	defer srv.Close()

	s := NewTwilioSender("AC1", "secret", "+15559999")
	s.baseURL = srv.URL

	sid, err := s.Send(context.Background(), "+15550100", strings.Repeat("é", 2000))
	require.NoError(t, err)
	assert.Equal(t, "SM777", sid)
}

func TestTwilioSender_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"The 'To' number is not a valid phone number."}`))
	}))
	defer srv.Close()

	s := NewTwilioSender("AC1", "secret", "+15559999")
	s.baseURL = srv.URL

	_, err := s.Send(context.Background(), "nope", "hi")
	var sendErr *apperrors.ErrTransportSendFailed
	require.ErrorAs(t, err, &sendErr)
	assert.Equal(t, "nope", sendErr.To)
	assert.Contains(t, err.Error(), "21211")

	srv.Close()
	_, err = s.Send(context.Background(), "+15550100", "hi")
	require.ErrorAs(t, err, &sendErr)
}

func TestNoopDeduplicator(t *testing.T) {
	first, err := NoopDeduplicator{}.FirstSeen(context.Background(), "SM1")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestRedisDeduplicator(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	require.NoError(t, client.Ping(context.Background()).Err())

	d := NewRedisDeduplicator(client, time.Minute)
	id := "test-" + uuid.New().String()
	defer client.Del(context.Background(), d.prefix+id)

	first, err := d.FirstSeen(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, first)

	again, err := d.FirstSeen(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, again)

	ttl, err := client.TTL(context.Background(), d.prefix+id).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
