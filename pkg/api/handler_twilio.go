package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jackcarlos19/csr-call-assistant/pkg/models"
	"github.com/jackcarlos19/csr-call-assistant/pkg/twilio"
)

// TwilioInbound handles POST /twilio/voice/inbound. A valid webhook creates
// a fresh session and answers with TwiML that greets the caller and bridges
// the call audio to the session's stream endpoint.
func (s *Server) TwilioInbound(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid form body"})
		return
	}
	form := make(map[string]string, len(c.Request.PostForm))
	for k, v := range c.Request.PostForm {
		if len(v) > 0 {
			form[k] = v[0]
		}
	}

	if !s.twilio.ValidateSignature(webhookURL(c), form, c.GetHeader("X-Twilio-Signature")) {
		c.JSON(http.StatusForbidden, gin.H{"detail": "Invalid Twilio signature"})
		return
	}

	session, err := s.store.CreateSession(c.Request.Context(), models.SessionScope{})
	if err != nil {
		s.logger.Error("Failed to create session for inbound call", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to create session"})
		return
	}

	streamURL := twilio.StreamURL(s.cfg.TwilioStreamWSBaseURL, session.ID.String())
	doc, err := twilio.BuildStreamTwiML(streamURL, session.ID.String())
	if err != nil {
		s.logger.Error("Failed to build TwiML", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "failed to build response"})
		return
	}

	s.logger.Info("Inbound call connected",
		slog.String("session_id", session.ID.String()),
		slog.String("call_sid", form["CallSid"]),
		slog.String("from", form["From"]))

	c.Data(http.StatusOK, "application/xml", []byte(doc))
}

// TwilioStatus handles POST /twilio/voice/status. Status callbacks are
// logged and acknowledged.
func (s *Server) TwilioStatus(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid form body"})
		return
	}

	s.logger.Info("Twilio voice status",
		slog.String("call_sid", c.Request.PostForm.Get("CallSid")),
		slog.String("call_status", c.Request.PostForm.Get("CallStatus")))

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// webhookURL reconstructs the public URL Twilio signed.
func webhookURL(c *gin.Context) string {
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + c.Request.Host + c.Request.RequestURI
}
