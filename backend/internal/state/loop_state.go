package state

import (
	"fmt"
	"strings"
)

// Phase is the orchestration loop's position in its state machine:
// Start -> AwaitModel -> {Terminal | DispatchTools -> AwaitModel} with
// BoundExceeded and ModelFailed as degraded terminal variants.
type Phase string

const (
	PhaseStart         Phase = "start"
	PhaseAwaitModel    Phase = "await_model"
	PhaseDispatchTools Phase = "dispatch_tools"
	PhaseTerminal      Phase = "terminal"
	PhaseBoundExceeded Phase = "bound_exceeded"
	PhaseModelFailed   Phase = "model_failed"
)

// IsTerminal reports whether no further model or tool calls may be made
func (p Phase) IsTerminal() bool {
	return p == PhaseTerminal || p == PhaseBoundExceeded || p == PhaseModelFailed
}

// LoopState is the working memory of one inbound request. It is never stored
// and never shared between requests.
type LoopState struct {
	SystemPrompt string
	Round        int
	Phase        Phase

	messages []Message
}

// NewLoopState seeds a conversation with the system instruction and the user's text
func NewLoopState(systemPrompt, userText string) *LoopState {
	return &LoopState{
		SystemPrompt: systemPrompt,
		Phase:        PhaseStart,
		messages:     []Message{NewUserMessage(userText)},
	}
}

// Messages returns the conversation so far. The returned slice is a copy.
func (s *LoopState) Messages() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages in the conversation
func (s *LoopState) Len() int {
	return len(s.messages)
}

// Append adds a message after checking the conversation invariants: a single
// opening user message, assistant turns alternate with user/tool turns, and a
// tool-result message answers every call of the preceding assistant message
// exactly once.
func (s *LoopState) Append(msg Message) error {
	index := len(s.messages)
	if s.Phase.IsTerminal() {
		return ErrInvalidSequence{Index: index, Reason: fmt.Sprintf("loop already finished (%s)", s.Phase)}
	}

	prev := s.messages[index-1]
	switch msg.Role {
	case RoleUser:
		return ErrInvalidSequence{Index: index, Reason: "only the opening message may come from the user"}

	case RoleAssistant:
		if prev.Role == RoleAssistant {
			return ErrInvalidSequence{Index: index, Reason: "assistant message must follow a user or tool-result message"}
		}

	case RoleToolResult:
		if prev.Role != RoleAssistant {
			return ErrInvalidSequence{Index: index, Reason: "tool results must follow an assistant message"}
		}
		if err := matchOutcomes(prev.ToolCalls(), msg.Content); err != nil {
			return ErrInvalidSequence{Index: index, Reason: err.Error()}
		}

	default:
		return ErrInvalidSequence{Index: index, Reason: fmt.Sprintf("unknown role %q", msg.Role)}
	}

	if prev.Role == RoleAssistant && len(prev.ToolCalls()) > 0 && msg.Role != RoleToolResult {
		return ErrInvalidSequence{Index: index, Reason: "pending tool calls have no outcomes"}
	}

	content := make([]ContentBlock, len(msg.Content))
	copy(content, msg.Content)
	msg.Content = content
	s.messages = append(s.messages, msg)
	return nil
}

// matchOutcomes checks the one-to-one correspondence between calls and outcomes
func matchOutcomes(calls []ToolCall, content []ContentBlock) error {
	if len(calls) == 0 {
		return fmt.Errorf("assistant message requested no tools")
	}

	pending := make(map[string]bool, len(calls))
	for _, call := range calls {
		pending[call.ID] = true
	}

	for _, block := range content {
		outcome, ok := block.(ToolOutcome)
		if !ok {
			return fmt.Errorf("tool-result message may only hold tool outcomes")
		}
		if !pending[outcome.CallID] {
			return fmt.Errorf("outcome %q does not answer an open call", outcome.CallID)
		}
		delete(pending, outcome.CallID)
	}

	if len(pending) > 0 {
		missing := make([]string, 0, len(pending))
		for id := range pending {
			missing = append(missing, id)
		}
		return fmt.Errorf("no outcome for calls %s", strings.Join(missing, ", "))
	}
	return nil
}

// AssistantText gathers every non-empty assistant text fragment seen so far,
// oldest first. It is what a degraded terminal can salvage.
func (s *LoopState) AssistantText() []string {
	var fragments []string
	for _, msg := range s.messages {
		if msg.Role != RoleAssistant {
			continue
		}
		if text := strings.TrimSpace(msg.Text()); text != "" {
			fragments = append(fragments, text)
		}
	}
	return fragments
}
