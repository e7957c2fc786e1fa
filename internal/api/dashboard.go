package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lexiqai/weather-gateway/internal/evaluation"
	"github.com/lexiqai/weather-gateway/internal/store"
)

// queryInt reads an optional positive integer query parameter
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		errorJSON(c, http.StatusBadRequest, name+" must be a positive integer")
		return 0, false
	}
	return n, true
}

func (s *Server) stats(c *gin.Context) {
	stats, err := s.deps.Store.Stats(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to compute stats")
		errorJSON(c, http.StatusInternalServerError, "Failed to load stats")
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) listConversations(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 50)
	if !ok {
		return
	}
	convs, err := s.deps.Store.ListConversations(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list conversations")
		errorJSON(c, http.StatusInternalServerError, "Failed to load conversations")
		return
	}
	if convs == nil {
		convs = []store.ConversationSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

// messageDetail is a message with its tool calls and evaluation
type messageDetail struct {
	store.Message
	ToolCalls  []store.ToolCall  `json:"tool_calls"`
	Evaluation *store.Evaluation `json:"evaluation,omitempty"`
}

func (s *Server) getConversation(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	conv, err := s.deps.Store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		errorJSON(c, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("conversation_id", id).Msg("Failed to load conversation")
		errorJSON(c, http.StatusInternalServerError, "Failed to load conversation")
		return
	}

	msgs, err := s.deps.Store.ListMessages(ctx, id)
	if err != nil {
		s.logger.Error().Err(err).Str("conversation_id", id).Msg("Failed to load messages")
		errorJSON(c, http.StatusInternalServerError, "Failed to load conversation")
		return
	}

	details := make([]messageDetail, 0, len(msgs))
	for _, m := range msgs {
		d := messageDetail{Message: m, ToolCalls: []store.ToolCall{}}
		if m.Role == store.RoleAssistant {
			calls, err := s.deps.Store.ListToolCalls(ctx, m.ID)
			if err != nil {
				errorJSON(c, http.StatusInternalServerError, "Failed to load conversation")
				return
			}
			if calls != nil {
				d.ToolCalls = calls
			}
			eval, err := s.deps.Store.GetEvaluationByMessage(ctx, m.ID)
			switch {
			case err == nil:
				d.Evaluation = eval
			case !errors.Is(err, store.ErrNotFound):
				errorJSON(c, http.StatusInternalServerError, "Failed to load conversation")
				return
			}
		}
		details = append(details, d)
	}

	c.JSON(http.StatusOK, gin.H{"conversation": conv, "messages": details})
}

func (s *Server) deleteConversation(c *gin.Context) {
	id := c.Param("id")
	err := s.deps.Store.DeleteConversation(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		errorJSON(c, http.StatusNotFound, "Conversation not found")
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("conversation_id", id).Msg("Failed to delete conversation")
		errorJSON(c, http.StatusInternalServerError, "Failed to delete conversation")
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) evaluateMessage(c *gin.Context) {
	id := c.Param("id")
	eval, err := s.deps.Evaluator.EvaluateMessage(c.Request.Context(), id)
	if err == nil {
		c.JSON(http.StatusOK, eval)
		return
	}

	var ne *evaluation.NotEvaluableError
	if errors.As(err, &ne) {
		switch ne.Reason {
		case evaluation.ReasonNotFound:
			errorJSON(c, http.StatusNotFound, "Message not found")
		case evaluation.ReasonAlreadyEvaluated:
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error":      "Message already evaluated",
				"evaluation": ne.Existing,
			})
		default:
			errorJSON(c, http.StatusUnprocessableEntity, "Message cannot be evaluated: "+string(ne.Reason))
		}
		return
	}

	if errors.Is(err, evaluation.ErrUnparseable) {
		errorJSON(c, http.StatusBadGateway, "Evaluator response could not be parsed")
		return
	}
	s.logger.Error().Err(err).Str("message_id", id).Msg("Evaluation failed")
	errorJSON(c, http.StatusBadGateway, "Evaluation failed")
}

func (s *Server) evaluateBatch(c *gin.Context) {
	limit, ok := queryInt(c, "limit", s.batchLimit)
	if !ok {
		return
	}
	result, err := s.deps.Evaluator.BatchEvaluateUnevaluated(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Batch evaluation failed")
		errorJSON(c, http.StatusInternalServerError, "Batch evaluation failed")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) evaluationSummary(c *gin.Context) {
	days, ok := queryInt(c, "days", 7)
	if !ok {
		return
	}
	summary, err := s.deps.Evaluator.Summary(c.Request.Context(), days)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to summarize evaluations")
		errorJSON(c, http.StatusInternalServerError, "Failed to load evaluation summary")
		return
	}
	c.JSON(http.StatusOK, summary)
}
