package events

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Format selects the framing written around each encoded event
type Format int

const (
	// FormatSSE frames events as Server-Sent Events: "data: {...}\n\n"
	FormatSSE Format = iota
	// FormatJSON emits the bare JSON object (one WebSocket message per event)
	FormatJSON
)

// Encoder converts events into wire frames. It is stateless: the same event
// always produces the same bytes and events are never reordered or batched.
type Encoder struct {
	format     Format
	resultType Type
}

// Option configures an Encoder
type Option func(*Encoder)

// WithFormat sets the framing
func WithFormat(f Format) Option {
	return func(e *Encoder) { e.format = f }
}

// WithResultType renames tool_result events on the wire. Only TypeToolResult
// and TypeWeatherData are accepted; anything else is ignored.
func WithResultType(t Type) Option {
	return func(e *Encoder) {
		if t == TypeToolResult || t == TypeWeatherData {
			e.resultType = t
		}
	}
}

// NewEncoder creates an encoder, SSE framed by default
func NewEncoder(opts ...Option) *Encoder {
	e := &Encoder{format: FormatSSE, resultType: TypeToolResult}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode maps one event to its framed bytes
func (e *Encoder) Encode(evt Event) ([]byte, error) {
	payload, err := e.Payload(evt)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("events: marshal %s: %w", evt.Type, err)
	}

	if e.format == FormatJSON {
		return body, nil
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + 8)
	buf.WriteString("data: ")
	buf.Write(body)
	buf.WriteString("\n\n")
	return buf.Bytes(), nil
}

// Payload returns the wire mapping for an event, always carrying a type field
func (e *Encoder) Payload(evt Event) (map[string]any, error) {
	if !evt.Type.Valid() {
		return nil, fmt.Errorf("events: unknown event type %q", evt.Type)
	}

	out := map[string]any{"type": string(evt.Type)}

	switch evt.Type {
	case TypeTextStart:
	case TypeTextDelta:
		out["delta"] = evt.Delta
	case TypeToolCall:
		out["function_name"] = evt.FunctionName
		out["arguments"] = nonNilMap(evt.Arguments)
		if evt.CallID != "" {
			out["call_id"] = evt.CallID
		}
	case TypeToolResult:
		out["data"] = nonNilMap(evt.Data)
		out["execution_time_ms"] = evt.ExecutionTimeMs
		out["function_name"] = evt.FunctionName
		if evt.CallID != "" {
			out["call_id"] = evt.CallID
		}
		if e.resultType == TypeWeatherData {
			out["type"] = string(TypeWeatherData)
			// legacy clients read execution_time and city
			out["execution_time"] = evt.ExecutionTimeMs
			city, _ := evt.Arguments["city"].(string)
			if city == "" {
				city = "Unknown"
			}
			out["city"] = city
		}
	case TypeToolError:
		out["error"] = evt.Error
		out["function_name"] = evt.FunctionName
		out["execution_time_ms"] = evt.ExecutionTimeMs
		if evt.CallID != "" {
			out["call_id"] = evt.CallID
		}
	case TypeDone:
		out["total_time_ms"] = evt.TotalTimeMs
		out["model"] = evt.Model
		if evt.ConversationID != "" {
			out["conversation_id"] = evt.ConversationID
		}
		if evt.MessageID != "" {
			out["message_id"] = evt.MessageID
		}
	case TypeError:
		out["message"] = evt.Message
	}

	return out, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
