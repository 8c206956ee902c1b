package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"coyote/backend/internal/constants"
	apperrors "coyote/backend/pkg/errors"
)

// Sender delivers an outbound SMS and returns the carrier's message id
type Sender interface {
	Send(ctx context.Context, to, body string) (string, error)
}

// TwilioSender sends replies through the Twilio Messages REST API
type TwilioSender struct {
	accountSID string
	authToken  string
	from       string
	baseURL    string
	httpClient *http.Client
}

// NewTwilioSender creates a sender for the given account and origin number
func NewTwilioSender(accountSID, authToken, from string) *TwilioSender {
	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    "https://api.twilio.com",
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type twilioMessage struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Send posts the message. Bodies longer than Twilio accepts are cut.
func (s *TwilioSender) Send(ctx context.Context, to, body string) (string, error) {
	if runes := []rune(body); len(runes) > constants.TwilioMaxBody {
		body = string(runes[:constants.TwilioMaxBody])
	}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.from)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.baseURL, url.PathEscape(s.accountSID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", apperrors.NewTransportSendFailed(to, err)
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", apperrors.NewTransportSendFailed(to, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", apperrors.NewTransportSendFailed(to, err)
	}

	var msg twilioMessage
	_ = json.Unmarshal(raw, &msg)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := msg.Message
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return "", apperrors.NewTransportSendFailed(to, fmt.Errorf("twilio returned %d (code %d): %s", resp.StatusCode, msg.Code, reason))
	}
	return msg.SID, nil
}
