package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jackcarlos19/csr-call-assistant/pkg/llm"
	"github.com/jackcarlos19/csr-call-assistant/pkg/models"
	"github.com/jackcarlos19/csr-call-assistant/pkg/store"
)

// CallOutput is the end-of-call artifact returned by EndSession.
type CallOutput struct {
	SessionID   string `json:"session_id"`
	Summary     string `json:"summary"`
	Disposition string `json:"disposition"`
}

// CreateSession handles POST /sessions.
func (s *Server) CreateSession(c *gin.Context) {
	var scope models.SessionScope
	if err := c.ShouldBindJSON(&scope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	session, err := s.store.CreateSession(c.Request.Context(), scope)
	if err != nil {
		s.logger.Error("Failed to create session", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to create session"})
		return
	}

	c.JSON(http.StatusCreated, session)
}

// GetSession handles GET /sessions/:session_id and GET /twilio/session/:session_id.
func (s *Server) GetSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}

	session, err := s.store.GetSession(c.Request.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Session not found"})
		return
	}
	if err != nil {
		s.logger.Error("Failed to get session", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to get session"})
		return
	}

	c.JSON(http.StatusOK, session)
}

// EndSession handles POST /sessions/:session_id/end. It summarizes the call
// transcript, stores the terminal summary and disposition, and returns them.
// Ending an already-completed session returns the stored artifact unchanged.
func (s *Server) EndSession(c *gin.Context) {
	id, ok := sessionID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	session, err := s.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Session not found"})
		return
	}
	if err != nil {
		s.logger.Error("Failed to get session", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to get session"})
		return
	}

	if session.Summary != nil && session.Disposition != nil {
		c.JSON(http.StatusOK, CallOutput{
			SessionID:   id.String(),
			Summary:     *session.Summary,
			Disposition: *session.Disposition,
		})
		return
	}

	events, err := s.store.TranscriptEvents(ctx, id)
	if err != nil {
		s.logger.Error("Failed to load transcript", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to load transcript"})
		return
	}
	lines := llm.ConversationLines(events)
	if len(lines) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "No transcript data available for summary generation"})
		return
	}

	out, err := s.generator.Complete(ctx, llm.SummaryMessages(lines), llm.SummarySchema())
	if err != nil {
		s.logger.Error("Summary generation failed",
			slog.String("session_id", id.String()),
			slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"detail": "Failed to end session"})
		return
	}
	summary, _ := out["summary"].(string)
	disposition, _ := out["disposition"].(string)

	completed, err := s.store.CompleteSession(ctx, id, summary, disposition)
	if err != nil {
		s.logger.Error("Failed to complete session",
			slog.String("session_id", id.String()),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Failed to end session"})
		return
	}

	s.guidance.Cancel(id)

	result := CallOutput{SessionID: id.String()}
	if completed.Summary != nil {
		result.Summary = *completed.Summary
	}
	if completed.Disposition != nil {
		result.Disposition = *completed.Disposition
	}
	c.JSON(http.StatusOK, result)
}
