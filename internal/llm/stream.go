package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/lexiqai/weather-gateway/internal/modelstream"
)

const (
	sseDataPrefix = "data:"
	sseDone       = "[DONE]"

	maxLineSize = 1024 * 1024
)

// StreamingModel is a modelstream.Model backed by a streaming chat
// completions endpoint
type StreamingModel struct {
	*conn
}

var _ modelstream.Model = (*StreamingModel)(nil)

// NewStreamingModel creates a streaming model client
func NewStreamingModel(cfg Config) *StreamingModel {
	return &StreamingModel{conn: newConn(cfg)}
}

// Name returns the model identifier
func (m *StreamingModel) Name() string {
	return m.model
}

// Open starts a turn. Tools are offered on the first request only; once tool
// results are injected the follow-up request asks for commentary.
func (m *StreamingModel) Open(ctx context.Context, req modelstream.Request) (modelstream.Stream, error) {
	s := &stream{
		conn:       m.conn,
		commentary: req.CommentaryPrompt,
		messages: []chatMessage{
			{Role: "system", Content: req.SystemPrompt},
			{Role: "user", Content: req.UserMessage},
		},
		partial: make(map[int]*wireToolCall),
	}

	tools := make([]wireTool, 0, len(req.Tools))
	for _, t := range req.Tools {
		tools = append(tools, wireTool{
			Type: "function",
			Function: wireFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	if err := s.request(ctx, tools); err != nil {
		return nil, err
	}
	return s, nil
}

type stream struct {
	conn       *conn
	commentary string
	messages   []chatMessage

	body    io.ReadCloser
	scanner *bufio.Scanner

	// tool call deltas accumulated by index until the segment ends
	partial map[int]*wireToolCall
	// complete calls not yet handed to the caller
	queued   []modelstream.ToolCallRequest
	awaiting *modelstream.ToolCallRequest

	followUp bool
	ended    bool
}

func (s *stream) request(ctx context.Context, tools []wireTool) error {
	body := chatRequest{
		Model:    s.conn.model,
		Messages: s.messages,
		Stream:   true,
	}
	if len(tools) > 0 {
		body.Tools = tools
		body.ToolChoice = "auto"
	}

	resp, err := s.conn.post(ctx, body, true, nil)
	if err != nil {
		return err
	}

	s.body = resp.RawBody()
	s.scanner = bufio.NewScanner(s.body)
	s.scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return nil
}

// Recv returns the next event of the turn
func (s *stream) Recv(ctx context.Context) (modelstream.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return modelstream.Event{}, err
		}
		if s.awaiting != nil {
			return modelstream.Event{}, modelstream.ErrInjectionRequired
		}
		if len(s.queued) > 0 {
			call := s.queued[0]
			s.queued = s.queued[1:]
			s.awaiting = &call
			return modelstream.Event{Kind: modelstream.KindToolCall, ToolCall: &call}, nil
		}
		if s.followUp {
			s.followUp = false
			if err := s.request(ctx, nil); err != nil {
				return modelstream.Event{}, err
			}
			continue
		}
		if s.ended {
			return modelstream.Event{}, io.EOF
		}

		ev, ok, err := s.next()
		if err != nil {
			return modelstream.Event{}, err
		}
		if ok {
			return ev, nil
		}
	}
}

// next reads SSE lines until it has an event to return, or until the
// current response segment ends and the loop in Recv should re-evaluate.
func (s *stream) next() (modelstream.Event, bool, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, sseDataPrefix) {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, sseDataPrefix))
		if payload == sseDone {
			return s.endSegment()
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return modelstream.Event{}, false, fmt.Errorf("failed to decode stream chunk: %w", err)
		}
		if chunk.Error != nil {
			return modelstream.Event{}, false, &ProviderError{Provider: s.conn.provider, Message: chunk.Error.Message}
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		choice := chunk.Choices[0]
		for _, tc := range choice.Delta.ToolCalls {
			s.accumulate(tc)
		}
		if choice.Delta.Content != "" {
			return modelstream.Event{Kind: modelstream.KindTextDelta, Delta: choice.Delta.Content}, true, nil
		}
		if choice.FinishReason != "" {
			return s.endSegment()
		}
	}

	if err := s.scanner.Err(); err != nil {
		return modelstream.Event{}, false, fmt.Errorf("failed to read model stream: %w", err)
	}
	// connection closed without a finish marker
	return s.endSegment()
}

func (s *stream) accumulate(tc wireToolCall) {
	idx := 0
	if tc.Index != nil {
		idx = *tc.Index
	}

	call, ok := s.partial[idx]
	if !ok {
		call = &wireToolCall{Type: "function"}
		s.partial[idx] = call
	}
	if tc.ID != "" {
		call.ID = tc.ID
	}
	if tc.Function.Name != "" {
		call.Function.Name = tc.Function.Name
	}
	call.Function.Arguments += tc.Function.Arguments
}

// endSegment closes the current response. Accumulated tool calls are queued
// for the caller; otherwise the turn is over.
func (s *stream) endSegment() (modelstream.Event, bool, error) {
	s.closeBody()

	if len(s.partial) == 0 {
		s.ended = true
		return modelstream.Event{Kind: modelstream.KindTurnEnd}, true, nil
	}

	indexes := make([]int, 0, len(s.partial))
	for idx := range s.partial {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	issued := make([]wireToolCall, 0, len(indexes))
	for _, idx := range indexes {
		call := *s.partial[idx]
		if call.ID == "" {
			call.ID = "call_" + uuid.New().String()
		}
		if call.Function.Arguments == "" {
			call.Function.Arguments = "{}"
		}

		var args map[string]any
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			s.conn.logger.Warn().
				Err(err).
				Str("function", call.Function.Name).
				Msg("Model sent malformed tool arguments")
			args = map[string]any{}
		}

		issued = append(issued, call)
		s.queued = append(s.queued, modelstream.ToolCallRequest{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	s.partial = make(map[int]*wireToolCall)
	s.messages = append(s.messages, chatMessage{Role: "assistant", ToolCalls: issued})

	return modelstream.Event{}, false, nil
}

// Inject supplies the result of the outstanding tool call
func (s *stream) Inject(ctx context.Context, result modelstream.ToolResultInjection) error {
	if s.awaiting == nil {
		return modelstream.ErrUnexpectedInjection
	}
	if result.CallID != s.awaiting.ID {
		return fmt.Errorf("tool result for %s while awaiting %s", result.CallID, s.awaiting.ID)
	}

	content := result.Payload
	if result.Error != "" {
		content = map[string]any{"error": result.Error}
	}
	encoded, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("failed to encode tool result: %w", err)
	}

	s.messages = append(s.messages, chatMessage{
		Role:       "tool",
		ToolCallID: result.CallID,
		Content:    string(encoded),
	})
	s.awaiting = nil

	if len(s.queued) == 0 {
		if s.commentary != "" {
			s.messages = append(s.messages, chatMessage{Role: "user", Content: s.commentary})
		}
		s.followUp = true
	}
	return nil
}

// Close releases the underlying connection
func (s *stream) Close() error {
	s.closeBody()
	s.ended = true
	return nil
}

func (s *stream) closeBody() {
	if s.body != nil {
		s.body.Close()
		s.body = nil
	}
}
