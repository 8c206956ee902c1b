package tools

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"google.golang.org/api/googleapi"

	apperrors "coyote/backend/pkg/errors"
	"coyote/backend/pkg/logger"
)

// Executor performs one tool. Arguments arrive already validated against the
// tool's schema. Returned errors are folded into the conversation, so they
// should be *apperrors.ErrToolFailed where the cause is known.
type Executor interface {
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
	// Available is a cheap probe used by the health endpoints
	Available(ctx context.Context) bool
}

// ExecutorFunc adapts a function, and an optional probe, to Executor
type ExecutorFunc struct {
	Run   func(ctx context.Context, args map[string]interface{}) (interface{}, error)
	Probe func(ctx context.Context) bool
}

// Execute runs the function
func (f ExecutorFunc) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return f.Run(ctx, args)
}

// Available reports the probe result; no probe means always available
func (f ExecutorFunc) Available(ctx context.Context) bool {
	if f.Probe == nil {
		return true
	}
	return f.Probe(ctx)
}

// Dependencies are the integration clients tools are bound to. A nil client
// leaves its tools unregistered.
type Dependencies struct {
	Gmail    *GmailExecutor
	Calendar *CalendarExecutor
	Drive    *DriveExecutor
	Swarm    *SwarmExecutor
	Revenue  *RevenueExecutor
}

func (d Dependencies) executors() map[string]Executor {
	m := make(map[string]Executor)
	if d.Gmail != nil {
		m[ToolGmailSearch] = ExecutorFunc{Run: d.Gmail.Search, Probe: d.Gmail.Available}
		m[ToolGmailUnread] = ExecutorFunc{Run: d.Gmail.Unread, Probe: d.Gmail.Available}
		m[ToolGmailRecent] = ExecutorFunc{Run: d.Gmail.Recent, Probe: d.Gmail.Available}
		m[ToolGmailSend] = ExecutorFunc{Run: d.Gmail.Send, Probe: d.Gmail.Available}
	}
	if d.Calendar != nil {
		m[ToolCalendarToday] = ExecutorFunc{Run: d.Calendar.Today, Probe: d.Calendar.Available}
		m[ToolCalendarUpcoming] = ExecutorFunc{Run: d.Calendar.Upcoming, Probe: d.Calendar.Available}
		m[ToolCalendarNext] = ExecutorFunc{Run: d.Calendar.Next, Probe: d.Calendar.Available}
		m[ToolCalendarCreate] = ExecutorFunc{Run: d.Calendar.Create, Probe: d.Calendar.Available}
	}
	if d.Drive != nil {
		m[ToolDriveSearch] = ExecutorFunc{Run: d.Drive.Search, Probe: d.Drive.Available}
		m[ToolDriveRecent] = ExecutorFunc{Run: d.Drive.Recent, Probe: d.Drive.Available}
	}
	if d.Swarm != nil {
		m[ToolSwarmStatus] = ExecutorFunc{Run: d.Swarm.Status, Probe: d.Swarm.Available}
		m[ToolProphetStats] = ExecutorFunc{Run: d.Swarm.ProphetStats, Probe: d.Swarm.Available}
	}
	if d.Revenue != nil {
		m[ToolRevenueSummary] = ExecutorFunc{Run: d.Revenue.Summary, Probe: d.Revenue.Available}
	}
	return m
}

// NewRegistryFromConfig registers every enabled tool that has a client, in
// catalogue order. toggles is the {tool_name: enabled} switch set from config.
func NewRegistryFromConfig(toggles map[string]bool, deps Dependencies) (*Registry, error) {
	log := logger.Get()
	executors := deps.executors()
	registry := NewRegistry()

	for _, spec := range GetAllTools() {
		if !toggles[spec.Name] {
			log.Debug("Tool disabled", zap.String("tool", spec.Name))
			continue
		}
		executor, ok := executors[spec.Name]
		if !ok {
			log.Warn("Tool enabled but its integration client is missing", zap.String("tool", spec.Name))
			continue
		}
		if err := registry.Register(spec, executor); err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", spec.Name, err)
		}
	}

	log.Info("Tool registry ready", zap.Int("tools", registry.Len()))
	return registry, nil
}

// Argument helpers. JSON numbers decode as float64.

func stringArg(args map[string]interface{}, key, defaultValue string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return defaultValue
}

func intArg(args map[string]interface{}, key string, defaultValue int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return defaultValue
}

// clip shortens s to at most n runes
func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// upstreamFailure classifies an integration error into the tool error taxonomy
func upstreamFailure(toolName string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.AsToolFailure(err); ok {
		return err
	}
	// Deadlines and cancellation are judged by the caller against its own context
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return statusFailure(toolName, gerr.Code, gerr.Message, err)
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return apperrors.NewToolUpstreamUnavailable(toolName, err)
	}

	return apperrors.NewToolUpstreamError(toolName, clip(err.Error(), 80), err)
}

// statusFailure maps an upstream HTTP status: throttling and server faults mean
// the service is unavailable, anything else is an error worth reporting.
func statusFailure(toolName string, status int, message string, err error) *apperrors.ErrToolFailed {
	if status == http.StatusTooManyRequests || status >= 500 {
		return apperrors.NewToolUpstreamUnavailable(toolName, err)
	}
	detail := fmt.Sprintf("HTTP %d", status)
	if message = strings.TrimSpace(message); message != "" {
		detail = fmt.Sprintf("%s: %s", detail, clip(message, 60))
	}
	return apperrors.NewToolUpstreamError(toolName, detail, err)
}
