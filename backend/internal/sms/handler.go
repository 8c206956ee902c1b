package sms

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"coyote/backend/internal/agent"
	"coyote/backend/internal/audit"
	"coyote/backend/internal/constants"
	"coyote/backend/internal/reply"
	apperrors "coyote/backend/pkg/errors"
	"coyote/backend/pkg/logger"
)

// Runner answers one inbound text
type Runner interface {
	Run(ctx context.Context, userText string) (*agent.TurnResult, error)
}

// Prober reports each registered tool's availability
type Prober interface {
	Probes(ctx context.Context) map[string]bool
}

// Options wires the optional collaborators of a Handler
type Options struct {
	// Sender delivers replies out of band. When nil the reply goes back in
	// the webhook's TwiML body.
	Sender Sender

	// Deduplicator suppresses carrier retries. Nil means no suppression.
	Deduplicator Deduplicator

	// Integrations is the configured-services map shown on health endpoints
	Integrations map[string]bool

	// Tools probes the registered executors for the health endpoints
	Tools Prober

	// Audit records every loop run. Nil means a recorder with zero pricing.
	Audit *audit.Recorder

	// Model is the configured model id shown on /status
	Model string
}

// Handler is the HTTP front door: carrier webhooks, a test console and health
type Handler struct {
	runner       Runner
	formatter    *reply.Formatter
	sender       Sender
	dedup        Deduplicator
	integrations map[string]bool
	tools        Prober
	audit        *audit.Recorder
	model        string
}

// NewHandler creates the SMS handler
func NewHandler(runner Runner, formatter *reply.Formatter, opts Options) *Handler {
	h := &Handler{
		runner:       runner,
		formatter:    formatter,
		sender:       opts.Sender,
		dedup:        opts.Deduplicator,
		integrations: opts.Integrations,
		tools:        opts.Tools,
		audit:        opts.Audit,
		model:        opts.Model,
	}
	if h.audit == nil {
		h.audit = audit.NewRecorder(audit.Pricing{})
	}
	if h.dedup == nil {
		h.dedup = NoopDeduplicator{}
	}
	if h.integrations == nil {
		h.integrations = map[string]bool{}
	}
	return h
}

// RegisterRoutes mounts the handler's endpoints
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/", h.health("COYOTE is alive"))
	r.GET("/health", h.health("healthy"))
	r.GET("/status", h.Status)

	r.GET("/webhook/inbound", h.Inbound)
	r.POST("/webhook/inbound", h.Inbound)
	r.POST("/webhook/status", h.DeliveryReceipt)
	r.POST("/sms", h.SMS)

	r.POST("/test", h.TestPost)
	r.GET("/test/:message", h.TestGet)
}

// requestContext tags the request with an id and a scoped logger
func requestContext(c *gin.Context, fields ...zap.Field) (context.Context, *zap.Logger) {
	requestID := uuid.New().String()
	log := logger.ForRequest(requestID).With(fields...)
	c.Header("X-Request-ID", requestID)
	return logger.WithContext(c.Request.Context(), log), log
}

// Inbound handles a carrier webhook: parse, suppress retries, run the loop,
// shape the reply and deliver it.
func (h *Handler) Inbound(c *gin.Context) {
	msg, err := ParseInbound(c)
	if err != nil {
		logger.Get().Warn("Rejected inbound webhook", zap.Error(err))
		c.String(http.StatusBadRequest, "malformed inbound message")
		return
	}

	ctx, log := requestContext(c, zap.String("from", msg.From), zap.String("message_id", msg.MessageID))

	if msg.Text == "" {
		log.Debug("Inbound message has no text")
		h.writeTwiML(c, log, "")
		return
	}

	if h.redelivered(ctx, log, msg.MessageID) {
		h.writeTwiML(c, log, "")
		return
	}

	log.Info("Inbound message", zap.Int("length", len(msg.Text)))
	body := h.answer(ctx, log, msg)

	if h.sender == nil {
		h.writeTwiML(c, log, body)
		return
	}

	// The reply still goes out if the carrier hung up on the webhook
	sid, err := h.sender.Send(context.WithoutCancel(ctx), msg.From, body)
	if err != nil {
		log.Error("Failed to send reply", zap.Error(err))
	} else {
		log.Info("Reply sent", zap.String("sid", sid))
	}
	h.writeTwiML(c, log, "")
}

// SMS is the form-only Twilio endpoint that always answers inline with TwiML
func (h *Handler) SMS(c *gin.Context) {
	msg := &InboundMessage{
		From:      strings.TrimSpace(c.PostForm("From")),
		Text:      strings.TrimSpace(c.PostForm("Body")),
		MessageID: strings.TrimSpace(c.PostForm("MessageSid")),
	}

	ctx, log := requestContext(c, zap.String("from", msg.From), zap.String("message_id", msg.MessageID))

	if msg.Text == "" || h.redelivered(ctx, log, msg.MessageID) {
		h.writeTwiML(c, log, "")
		return
	}

	log.Info("Inbound message", zap.Int("length", len(msg.Text)))
	h.writeTwiML(c, log, h.answer(ctx, log, msg))
}

// redelivered reports whether the carrier already delivered this message id.
// A failed check lets the message through.
func (h *Handler) redelivered(ctx context.Context, log *zap.Logger, messageID string) bool {
	if messageID == "" {
		return false
	}
	first, err := h.dedup.FirstSeen(ctx, messageID)
	if err != nil {
		log.Warn("De-duplication check failed, handling message anyway", zap.Error(err))
		return false
	}
	if !first {
		log.Info("Ignoring redelivered message")
	}
	return !first
}

// answer runs the loop and shapes its answer for SMS. It always yields text.
func (h *Handler) answer(ctx context.Context, log *zap.Logger, msg *InboundMessage) string {
	result, err := h.run(ctx, audit.TriggerWebhook, "sms:"+msg.From, msg.Text)
	if err != nil {
		log.Error("Request failed", zap.Error(err), zap.Bool("cancelled", apperrors.IsErrorType(err, apperrors.ErrorTypeContext)))
		return h.formatter.Format(constants.GenericFailureAnswer)
	}
	return h.formatter.Format(result.Answer)
}

// run drives the loop once and writes its audit entry
func (h *Handler) run(ctx context.Context, trigger audit.TriggerType, source, text string) (*agent.TurnResult, error) {
	started := time.Now()
	result, err := h.runner.Run(ctx, text)
	h.audit.Record(ctx, trigger, source, result, err, time.Since(started))
	return result, err
}

func (h *Handler) writeTwiML(c *gin.Context, log *zap.Logger, body string) {
	doc, err := TwiML(body)
	if err != nil {
		log.Error("Failed to encode reply", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, ContentTypeTwiML, doc)
}

// DeliveryReceipt logs carrier delivery receipts
func (h *Handler) DeliveryReceipt(c *gin.Context) {
	fields := map[string]string{}
	if err := c.Request.ParseForm(); err == nil {
		fields = flatten(c.Request.PostForm)
	}

	log := logger.Get().With(
		zap.String("message_id", firstOf(fields, messageFields)),
		zap.String("status", fields["MessageStatus"]),
	)
	if code := fields["ErrorCode"]; code != "" {
		log.Warn("Delivery failed", zap.String("error_code", code))
	} else {
		log.Debug("Delivery receipt")
	}
	c.String(http.StatusOK, "OK")
}

// TestPost runs the loop for {"message": "..."} without sending an SMS
func (h *Handler) TestPost(c *gin.Context) {
	var req struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		req.Message = "status"
	}
	h.runTest(c, req.Message)
}

// TestGet runs the loop for the path parameter without sending an SMS
func (h *Handler) TestGet(c *gin.Context) {
	h.runTest(c, c.Param("message"))
}

func (h *Handler) runTest(c *gin.Context, message string) {
	ctx, log := requestContext(c, zap.String("from", "test"))

	result, err := h.run(ctx, audit.TriggerManual, "test", message)
	if err != nil {
		log.Error("Test request failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{
			"input":    message,
			"response": h.formatter.Format(constants.GenericFailureAnswer),
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"input":      message,
		"response":   h.formatter.Format(result.Answer),
		"answer":     result.Answer,
		"rounds":     result.Rounds,
		"state":      result.State,
		"tool_calls": result.ToolCalls,
		"model":      result.Model,
		"usage":      result.Usage,
	})
}

func (h *Handler) health(status string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":       status,
			"version":      constants.Version,
			"integrations": h.integrations,
			"tools":        h.probe(c.Request.Context()),
		})
	}
}

// Status reports the full runtime picture: configuration, tool availability,
// reply shaping and today's audit totals.
func (h *Handler) Status(c *gin.Context) {
	delivery := "twiml"
	if h.sender != nil {
		delivery = "twilio"
	}

	c.JSON(http.StatusOK, gin.H{
		"version":      constants.Version,
		"model":        h.model,
		"integrations": h.integrations,
		"tools":        h.probe(c.Request.Context()),
		"sms": gin.H{
			"max_length": h.formatter.MaxLength(),
			"charset":    h.formatter.Charset(),
			"delivery":   delivery,
		},
		"audit_stats": h.audit.Today(),
	})
}

func (h *Handler) probe(ctx context.Context) map[string]bool {
	if h.tools == nil {
		return map[string]bool{}
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return h.tools.Probes(ctx)
}
