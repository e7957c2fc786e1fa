package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lexiqai/weather-gateway/internal/events"
	"github.com/lexiqai/weather-gateway/internal/llm"
	"github.com/lexiqai/weather-gateway/internal/observability"
	"github.com/lexiqai/weather-gateway/internal/orchestrator"
	"github.com/lexiqai/weather-gateway/internal/session"
)

const (
	sessionHeader = "X-Session-ID"
	msgBusy       = "A response is already in progress for this conversation"
)

type chatRequest struct {
	Message   string `json:"message"`
	Model     string `json:"model"`
	SessionID string `json:"session_id"`
}

// turnRequest validates a chat request. It returns an HTTP status and a
// client message when the request is rejected.
func (s *Server) turnRequest(c *gin.Context, req chatRequest, sessionID string) (orchestrator.TurnRequest, int, string) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return orchestrator.TurnRequest{}, http.StatusBadRequest, "Message is required"
	}

	model, err := s.deps.Models.Lookup(req.Model)
	if err != nil {
		var unsupported *llm.UnsupportedModelError
		if errors.As(err, &unsupported) {
			return orchestrator.TurnRequest{}, http.StatusBadRequest, fmt.Sprintf("Unsupported model: %s", unsupported.Model)
		}
		return orchestrator.TurnRequest{}, http.StatusBadRequest, "Unsupported model"
	}

	return orchestrator.TurnRequest{
		SessionID:     sessionID,
		Message:       message,
		Model:         model,
		UserIP:        c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
		CorrelationID: observability.CorrelationIDFromContext(c.Request.Context()),
	}, 0, ""
}

// turnError maps a RunTurn rejection to a status and client message
func turnError(err error) (int, string) {
	var conflict *session.ConflictError
	switch {
	case errors.As(err, &conflict):
		return http.StatusConflict, msgBusy
	case errors.Is(err, orchestrator.ErrEmptyMessage):
		return http.StatusBadRequest, "Message is required"
	case errors.Is(err, session.ErrEmptySession):
		return http.StatusBadRequest, "Session id is required"
	}
	return http.StatusInternalServerError, "Failed to start response"
}

func sessionID(candidates ...string) string {
	for _, id := range candidates {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return uuid.New().String()
}

// chatStream runs one turn and streams its events as Server-Sent Events
func (s *Server) chatStream(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "Request body must be JSON")
		return
	}

	sid := sessionID(req.SessionID, c.GetHeader(sessionHeader))
	turnReq, code, msg := s.turnRequest(c, req, sid)
	if code != 0 {
		errorJSON(c, code, msg)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	turn, err := s.deps.Turns.RunTurn(ctx, turnReq)
	if err != nil {
		code, msg := turnError(err)
		if code == http.StatusInternalServerError {
			s.logger.Error().Err(err).Str("session_id", sid).Msg("Failed to start turn")
		}
		errorJSON(c, code, msg)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header(sessionHeader, sid)
	c.Status(http.StatusOK)
	c.Writer.Flush()

	enc := events.NewEncoder(events.WithFormat(events.FormatSSE), events.WithResultType(s.resultEvent))
	gone := false
	for ev := range turn.Events() {
		if gone {
			continue
		}
		frame, err := enc.Encode(ev)
		if err != nil {
			s.logger.Error().Err(err).Str("type", string(ev.Type)).Msg("Failed to encode event")
			continue
		}
		if _, err := c.Writer.Write(frame); err != nil {
			// client went away; stop the turn and drain
			gone = true
			cancel()
			continue
		}
		c.Writer.Flush()
		observability.RecordStreamedEvent("sse", string(ev.Type))
	}

	out := turn.Wait()
	s.logger.Debug().
		Str("session_id", sid).
		Str("status", string(out.Status)).
		Bool("cancelled", out.Cancelled()).
		Msg("SSE turn finished")
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// browser clients are served from other origins during development
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

const (
	wsMaxMessageBytes = 64 * 1024
	wsWriteTimeout    = 10 * time.Second
)

// socketConn serializes writes to one WebSocket connection
type socketConn struct {
	conn *websocket.Conn
	enc  *events.Encoder
	mu   sync.Mutex
}

func (w *socketConn) send(ev events.Event) error {
	frame, err := w.enc.Encode(ev)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}
	observability.RecordStreamedEvent("websocket", string(ev.Type))
	return nil
}

// chatSocket runs turns over a WebSocket. Each text message is a chat
// request; events come back as one JSON object per message. A message sent
// while a turn is streaming is answered with an error event.
func (s *Server) chatSocket(c *gin.Context) {
	sid := sessionID(c.Query("session_id"), c.GetHeader(sessionHeader))

	conn, err := upgrader.Upgrade(c.Writer, c.Request, http.Header{sessionHeader: []string{sid}})
	if err != nil {
		// Upgrade has already written the HTTP error
		s.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(wsMaxMessageBytes)

	logger := s.logger.With().Str("session_id", sid).Logger()
	logger.Info().Msg("WebSocket chat connected")

	ctx, cancel := context.WithCancel(context.Background())
	ctx = observability.ContextWithCorrelationID(ctx, observability.CorrelationIDFromContext(c.Request.Context()))
	var turns sync.WaitGroup
	defer func() {
		cancel()
		turns.Wait()
		logger.Info().Msg("WebSocket chat disconnected")
	}()

	out := &socketConn{
		conn: conn,
		enc:  events.NewEncoder(events.WithFormat(events.FormatJSON), events.WithResultType(s.resultEvent)),
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var req chatRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			_ = out.send(events.Failure("Request must be a JSON object"))
			continue
		}

		turnReq, code, msg := s.turnRequest(c, req, sid)
		if code != 0 {
			_ = out.send(events.Failure(msg))
			continue
		}

		turn, err := s.deps.Turns.RunTurn(ctx, turnReq)
		if err != nil {
			code, msg := turnError(err)
			if code == http.StatusInternalServerError {
				logger.Error().Err(err).Msg("Failed to start turn")
			}
			_ = out.send(events.Failure(msg))
			continue
		}

		turns.Add(1)
		go func() {
			defer turns.Done()
			for ev := range turn.Events() {
				if err := out.send(ev); err != nil {
					logger.Debug().Err(err).Msg("WebSocket write failed, cancelling turn")
					cancel()
				}
			}
			turn.Wait()
		}()
	}
}
