package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/mail"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/gmail/v1"

	apperrors "coyote/backend/pkg/errors"
	"coyote/backend/pkg/logger"
)

// maxConcurrentFetches bounds parallel message metadata lookups
const maxConcurrentFetches = 5

// GmailExecutor implements the gmail_* tools for the authorized user's mailbox
type GmailExecutor struct {
	service *gmail.Service
	logger  *zap.Logger
}

// NewGmailExecutor creates a Gmail executor
func NewGmailExecutor(service *gmail.Service) *GmailExecutor {
	return &GmailExecutor{
		service: service,
		logger:  logger.Get(),
	}
}

// Available reports whether the Gmail client is configured
func (g *GmailExecutor) Available(ctx context.Context) bool {
	return g.service != nil
}

// EmailSummary is the compact view of one message returned to the model
type EmailSummary struct {
	ID      string `json:"id"`
	From    string `json:"from"`
	Subject string `json:"subject"`
	Date    string `json:"date"`
	Snippet string `json:"snippet"`
}

// EmailList is the result of a search or recent listing
type EmailList struct {
	Count  int            `json:"count"`
	Emails []EmailSummary `json:"emails"`
}

// Search runs a Gmail query such as "from:john" or "is:unread"
func (g *GmailExecutor) Search(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	query := strings.TrimSpace(stringArg(args, "query", ""))
	if query == "" {
		return nil, apperrors.NewToolInvalidArguments(ToolGmailSearch, "query must not be empty")
	}
	return g.list(ctx, ToolGmailSearch, query, 5)
}

// Recent lists the newest messages
func (g *GmailExecutor) Recent(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	count := intArg(args, "count", 5)
	if count < 1 || count > 25 {
		return nil, apperrors.NewToolInvalidArguments(ToolGmailRecent, "count must be between 1 and 25")
	}
	return g.list(ctx, ToolGmailRecent, "", count)
}

func (g *GmailExecutor) list(ctx context.Context, toolName, query string, max int) (*EmailList, error) {
	call := g.service.Users.Messages.List("me").MaxResults(int64(max)).Context(ctx)
	if query != "" {
		call = call.Q(query)
	}
	list, err := call.Do()
	if err != nil {
		return nil, upstreamFailure(toolName, err)
	}

	refs := list.Messages
	if len(refs) > max {
		refs = refs[:max]
	}

	// Concurrent metadata fetch, one slot per message to keep list order
	emails := make([]EmailSummary, len(refs))
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentFetches)
	for i, ref := range refs {
		i, id := i, ref.Id
		eg.Go(func() error {
			msg, err := g.service.Users.Messages.Get("me", id).
				Format("metadata").
				MetadataHeaders("From", "Subject", "Date").
				Context(egctx).
				Do()
			if err != nil {
				return err
			}
			emails[i] = summarizeMessage(msg)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, upstreamFailure(toolName, err)
	}

	g.logger.Debug("Gmail listing fetched",
		zap.String("tool", toolName),
		zap.Int("count", len(emails)),
	)

	return &EmailList{Count: len(emails), Emails: emails}, nil
}

func summarizeMessage(msg *gmail.Message) EmailSummary {
	headers := map[string]string{}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			headers[h.Name] = h.Value
		}
	}
	return EmailSummary{
		ID:      msg.Id,
		From:    clip(headers["From"], 50),
		Subject: clip(headers["Subject"], 50),
		Date:    clip(headers["Date"], 20),
		Snippet: clip(msg.Snippet, 80),
	}
}

// Unread reports the estimated number of unread messages
func (g *GmailExecutor) Unread(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	list, err := g.service.Users.Messages.List("me").Q("is:unread").MaxResults(1).Context(ctx).Do()
	if err != nil {
		return nil, upstreamFailure(ToolGmailUnread, err)
	}
	return map[string]int64{"unread": list.ResultSizeEstimate}, nil
}

// SendResult confirms a sent message
type SendResult struct {
	Sent bool   `json:"sent"`
	ID   string `json:"id"`
	To   string `json:"to"`
}

// Send composes a plain-text message and sends it from the user's account
func (g *GmailExecutor) Send(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	to := strings.TrimSpace(stringArg(args, "to", ""))
	subject := stringArg(args, "subject", "")
	body := stringArg(args, "body", "")

	addr, err := mail.ParseAddress(to)
	if err != nil {
		return nil, apperrors.NewToolInvalidArguments(ToolGmailSend, fmt.Sprintf("invalid recipient %q", to))
	}

	raw := base64.URLEncoding.EncodeToString([]byte(composeMessage(addr, subject, body)))
	sent, err := g.service.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
	if err != nil {
		return nil, upstreamFailure(ToolGmailSend, err)
	}

	g.logger.Info("Email sent", zap.String("to", addr.Address), zap.String("id", sent.Id))
	return &SendResult{Sent: true, ID: sent.Id, To: addr.Address}, nil
}

// composeMessage builds an RFC 5322 message; subjects outside ASCII are Q-encoded
func composeMessage(to *mail.Address, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "To: %s\r\n", to.String())
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}
