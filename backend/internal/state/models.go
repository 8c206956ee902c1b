package state

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "coyote/backend/pkg/errors"
)

// Role identifies who authored a message in the conversation
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// ContentBlock is one piece of a message. The unexported marker keeps the
// set closed: Text, ToolCall and ToolOutcome.
type ContentBlock interface {
	contentBlock()
}

// Text is plain natural-language content
type Text struct {
	Value string `json:"value"`
}

// ToolCall is a model request to run a named tool. Arguments are kept raw so
// malformed JSON from the model can be reported back instead of crashing.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolOutcome answers exactly one ToolCall, joined on CallID. Either Result or
// Err is set.
type ToolOutcome struct {
	CallID   string                   `json:"call_id"`
	ToolName string                   `json:"tool_name"`
	Result   interface{}              `json:"result,omitempty"`
	Err      *apperrors.ErrToolFailed `json:"-"`
}

func (Text) contentBlock()        {}
func (ToolCall) contentBlock()    {}
func (ToolOutcome) contentBlock() {}

// Failed reports whether the outcome carries an error
func (o ToolOutcome) Failed() bool {
	return o.Err != nil
}

// Render is the text folded back into the conversation for the model
func (o ToolOutcome) Render() string {
	if o.Err != nil {
		return o.Err.OutcomeText()
	}
	data, err := json.Marshal(o.Result)
	if err != nil {
		return apperrors.NewToolUpstreamError(o.ToolName, "result could not be encoded", err).OutcomeText()
	}
	return string(data)
}

// Message is an immutable entry in the conversation
type Message struct {
	Role      Role           `json:"role"`
	Content   []ContentBlock `json:"content"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewUserMessage creates a user message holding a single text block
func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{Text{Value: text}}, Timestamp: time.Now()}
}

// Text concatenates the message's text blocks
func (m Message) Text() string {
	var parts []string
	for _, block := range m.Content {
		if t, ok := block.(Text); ok && t.Value != "" {
			parts = append(parts, t.Value)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolCalls returns the tool calls in the message, in order
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, block := range m.Content {
		if tc, ok := block.(ToolCall); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// Outcomes returns the tool outcomes in the message, in order
func (m Message) Outcomes() []ToolOutcome {
	var outcomes []ToolOutcome
	for _, block := range m.Content {
		if o, ok := block.(ToolOutcome); ok {
			outcomes = append(outcomes, o)
		}
	}
	return outcomes
}

// IsTerminal reports whether an assistant message ends the loop: it requests
// no tools. Unknown block kinds do not count either way.
func (m Message) IsTerminal() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls()) == 0
}

// Errors

// ErrInvalidSequence is returned when an append would break conversation invariants
type ErrInvalidSequence struct {
	Index  int
	Reason string
}

func (e ErrInvalidSequence) Error() string {
	return fmt.Sprintf("invalid conversation at message %d: %s", e.Index, e.Reason)
}
