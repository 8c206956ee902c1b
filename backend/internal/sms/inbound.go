package sms

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	apperrors "coyote/backend/pkg/errors"
)

// maxInboundBody caps the webhook payload read into memory
const maxInboundBody = 64 << 10

// InboundMessage is one text received from the carrier webhook
type InboundMessage struct {
	From      string
	Text      string
	MessageID string
}

// Carrier field names, first match wins. Twilio sends From/Body/MessageSid;
// Vonage sends msisdn/text/messageId.
var (
	senderFields  = []string{"From", "msisdn", "from"}
	textFields    = []string{"Body", "text", "message"}
	messageFields = []string{"MessageSid", "messageId"}
)

// ParseInbound reads the sender, text and carrier message id from a webhook
// request. GET requests carry them in the query string, POST requests in a
// JSON or form body. A missing sender is malformed; empty text is not.
func ParseInbound(c *gin.Context) (*InboundMessage, error) {
	fields, err := inboundFields(c)
	if err != nil {
		return nil, err
	}

	msg := &InboundMessage{
		From:      firstOf(fields, senderFields),
		Text:      strings.TrimSpace(firstOf(fields, textFields)),
		MessageID: firstOf(fields, messageFields),
	}
	if msg.From == "" {
		return nil, apperrors.NewTransportMalformedInput("missing sender", nil)
	}
	return msg, nil
}

func inboundFields(c *gin.Context) (map[string]string, error) {
	if c.Request.Method == http.MethodGet {
		return flatten(c.Request.URL.Query()), nil
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxInboundBody)
	if c.ContentType() == binding.MIMEJSON {
		return jsonFields(c.Request.Body)
	}

	if err := c.Request.ParseForm(); err != nil {
		return nil, apperrors.NewTransportMalformedInput("invalid form body", err)
	}
	return flatten(c.Request.Form), nil
}

// jsonFields decodes a flat JSON object. Numbers keep their digits so a
// numeric msisdn stays a phone number.
func jsonFields(body io.Reader) (map[string]string, error) {
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, apperrors.NewTransportMalformedInput("invalid JSON", err)
	}

	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
		case string:
			fields[k] = val
		case json.Number:
			fields[k] = val.String()
		default:
			fields[k] = fmt.Sprint(val)
		}
	}
	return fields, nil
}

func flatten(values map[string][]string) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	return fields
}

func firstOf(fields map[string]string, names []string) string {
	for _, name := range names {
		if v := strings.TrimSpace(fields[name]); v != "" {
			return v
		}
	}
	return ""
}
