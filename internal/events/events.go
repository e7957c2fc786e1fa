package events

// Type identifies the kind of a streamed turn event
type Type string

const (
	TypeTextStart  Type = "text_start"
	TypeTextDelta  Type = "text_delta"
	TypeToolCall   Type = "tool_call"
	TypeToolResult Type = "tool_result"
	TypeToolError  Type = "tool_error"
	TypeDone       Type = "done"
	TypeError      Type = "error"

	// TypeWeatherData is the legacy name clients may expect instead of tool_result
	TypeWeatherData Type = "weather_data"
)

// Valid reports whether t belongs to the closed set of event kinds
func (t Type) Valid() bool {
	switch t {
	case TypeTextStart, TypeTextDelta, TypeToolCall, TypeToolResult,
		TypeToolError, TypeDone, TypeError:
		return true
	}
	return false
}

// Terminal reports whether t ends a turn
func (t Type) Terminal() bool {
	return t == TypeDone || t == TypeError
}

// Event is a single record emitted by a turn, in emission order.
// Only the fields relevant to Type are populated.
type Event struct {
	Type Type

	// text_delta
	Delta string

	// tool_call, tool_result, tool_error
	CallID       string
	FunctionName string
	Arguments    map[string]any

	// tool_result
	Data            map[string]any
	ExecutionTimeMs int64

	// tool_error
	Error string

	// done
	TotalTimeMs    int64
	Model          string
	ConversationID string
	MessageID      string

	// error
	Message string
}

// TextStart creates a text_start event
func TextStart() Event {
	return Event{Type: TypeTextStart}
}

// TextDelta creates a text_delta event
func TextDelta(delta string) Event {
	return Event{Type: TypeTextDelta, Delta: delta}
}

// ToolCall creates a tool_call event
func ToolCall(callID, functionName string, arguments map[string]any) Event {
	return Event{Type: TypeToolCall, CallID: callID, FunctionName: functionName, Arguments: arguments}
}

// ToolResult creates a tool_result event
func ToolResult(callID, functionName string, arguments, data map[string]any, executionTimeMs int64) Event {
	return Event{
		Type:            TypeToolResult,
		CallID:          callID,
		FunctionName:    functionName,
		Arguments:       arguments,
		Data:            data,
		ExecutionTimeMs: executionTimeMs,
	}
}

// ToolError creates a tool_error event. message must already be safe for clients.
func ToolError(callID, functionName, message string, executionTimeMs int64) Event {
	return Event{
		Type:            TypeToolError,
		CallID:          callID,
		FunctionName:    functionName,
		Error:           message,
		ExecutionTimeMs: executionTimeMs,
	}
}

// Done creates the terminal done event
func Done(totalTimeMs int64, model, conversationID, messageID string) Event {
	return Event{
		Type:           TypeDone,
		TotalTimeMs:    totalTimeMs,
		Model:          model,
		ConversationID: conversationID,
		MessageID:      messageID,
	}
}

// Failure creates the terminal error event. message must already be safe for clients.
func Failure(message string) Event {
	return Event{Type: TypeError, Message: message}
}
