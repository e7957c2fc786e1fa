package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle position of a turn
type Status string

const (
	StatusActive       Status = "active"
	StatusAwaitingTool Status = "awaiting_tool"
	StatusFinalizing   Status = "finalizing"
	StatusComplete     Status = "complete"
	StatusFailed       Status = "failed"
)

// Terminal reports whether no further transitions are possible
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// ErrInvalidTransition is wrapped by every rejected status change
var ErrInvalidTransition = errors.New("invalid turn transition")

// ProtocolError reports a model that requested a second tool call while one
// was still pending, or re-requested a call that already ran.
type ProtocolError struct {
	PendingCallID   string
	RequestedCallID string
	Duplicate       bool
}

func (e *ProtocolError) Error() string {
	if e.Duplicate {
		return fmt.Sprintf("protocol violation: tool call %q was already executed", e.RequestedCallID)
	}
	return fmt.Sprintf("protocol violation: tool call %q requested while %q is pending", e.RequestedCallID, e.PendingCallID)
}

// ToolCallRecord is one tool invocation made during a turn
type ToolCallRecord struct {
	CallID       string
	FunctionName string
	Arguments    map[string]any
	Result       map[string]any
	Duration     time.Duration
	Success      bool
	// Error holds internal detail for persistence, never streamed as-is
	Error string
}

// ConversationState is the isolated record for one in-flight turn.
// It is owned by the goroutine running the turn and is not safe for
// concurrent use; the Manager guarantees only one exists per session.
type ConversationState struct {
	sessionID      string
	conversationID string
	startedAt      time.Time

	text      strings.Builder
	toolCalls []ToolCallRecord
	pending   *ToolCallRecord
	status    Status
}

func newState(sessionID string, now time.Time) *ConversationState {
	return &ConversationState{
		sessionID: sessionID,
		startedAt: now,
		status:    StatusActive,
	}
}

func (s *ConversationState) SessionID() string      { return s.sessionID }
func (s *ConversationState) ConversationID() string { return s.conversationID }
func (s *ConversationState) StartedAt() time.Time   { return s.startedAt }
func (s *ConversationState) Status() Status         { return s.status }
func (s *ConversationState) Text() string           { return s.text.String() }

// Pending returns the unresolved tool call, if any
func (s *ConversationState) Pending() (ToolCallRecord, bool) {
	if s.pending == nil {
		return ToolCallRecord{}, false
	}
	return *s.pending, true
}

// ToolCalls returns the resolved calls in resolution order
func (s *ConversationState) ToolCalls() []ToolCallRecord {
	out := make([]ToolCallRecord, len(s.toolCalls))
	copy(out, s.toolCalls)
	return out
}

// SetConversationID assigns the persisted conversation. Once set it cannot change.
func (s *ConversationState) SetConversationID(id string) error {
	if id == "" {
		return errors.New("conversation id must not be empty")
	}
	if s.conversationID != "" && s.conversationID != id {
		return fmt.Errorf("conversation id already set to %s", s.conversationID)
	}
	s.conversationID = id
	return nil
}

// AppendText accumulates model output. Text is only accepted while active.
func (s *ConversationState) AppendText(delta string) error {
	if s.status != StatusActive {
		return s.transitionError(StatusActive)
	}
	s.text.WriteString(delta)
	return nil
}

// BeginToolCall records a pending call and moves the turn to awaiting_tool.
// A second call while one is pending, or a call id that already ran, yields
// a ProtocolError.
func (s *ConversationState) BeginToolCall(callID, functionName string, arguments map[string]any) error {
	if s.pending != nil {
		return &ProtocolError{PendingCallID: s.pending.CallID, RequestedCallID: callID}
	}
	if s.status != StatusActive {
		return s.transitionError(StatusAwaitingTool)
	}
	if callID != "" {
		for _, done := range s.toolCalls {
			if done.CallID == callID {
				return &ProtocolError{RequestedCallID: callID, Duplicate: true}
			}
		}
	}
	s.pending = &ToolCallRecord{
		CallID:       callID,
		FunctionName: functionName,
		Arguments:    arguments,
	}
	s.status = StatusAwaitingTool
	return nil
}

// ResolveToolCall completes the pending call with its outcome and returns the
// turn to active so commentary can stream.
func (s *ConversationState) ResolveToolCall(result map[string]any, duration time.Duration, callErr string) (ToolCallRecord, error) {
	if s.status != StatusAwaitingTool || s.pending == nil {
		return ToolCallRecord{}, s.transitionError(StatusActive)
	}
	rec := *s.pending
	rec.Result = result
	rec.Duration = duration
	rec.Success = callErr == ""
	rec.Error = callErr

	s.toolCalls = append(s.toolCalls, rec)
	s.pending = nil
	s.status = StatusActive
	return rec, nil
}

// BeginFinalize marks the model turn as ended. No tool call may be pending.
func (s *ConversationState) BeginFinalize() error {
	if s.status != StatusActive || s.pending != nil {
		return s.transitionError(StatusFinalizing)
	}
	s.status = StatusFinalizing
	return nil
}

// Complete ends a finalizing turn successfully
func (s *ConversationState) Complete() error {
	if s.status != StatusFinalizing {
		return s.transitionError(StatusComplete)
	}
	s.status = StatusComplete
	return nil
}

// Fail moves any non-terminal turn to failed. Failing a failed turn is a no-op.
func (s *ConversationState) Fail() error {
	switch s.status {
	case StatusFailed:
		return nil
	case StatusComplete:
		return s.transitionError(StatusFailed)
	}
	s.status = StatusFailed
	s.pending = nil
	return nil
}

func (s *ConversationState) transitionError(to Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, to)
}
