// Package twilio adapts inbound Twilio voice webhooks: request signature
// validation and TwiML that bridges the call onto a media stream.
package twilio

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	twilioclient "github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"
)

// Service validates webhook signatures. With no auth token configured,
// validation is skipped with a warning so local development works without
// Twilio credentials.
type Service struct {
	validator *twilioclient.RequestValidator
	logger    *slog.Logger
}

// NewService creates a Service. authToken may be empty.
func NewService(authToken string, logger *slog.Logger) *Service {
	s := &Service{logger: logger}
	if authToken != "" {
		v := twilioclient.NewRequestValidator(authToken)
		s.validator = &v
	}
	return s
}

// ValidateSignature checks the X-Twilio-Signature of a webhook request.
func (s *Service) ValidateSignature(requestURL string, form map[string]string, signature string) bool {
	if s.validator == nil {
		s.logger.Warn("Twilio signature validation skipped", slog.String("reason", "missing auth token"))
		return true
	}
	if signature == "" {
		return false
	}
	return s.validator.Validate(requestURL, form, signature)
}

// StreamURL builds the WebSocket URL a Twilio media stream should connect to.
func StreamURL(baseURL string, sessionID string) string {
	query := url.Values{}
	query.Set("source", "twilio")
	query.Set("session_id", sessionID)
	return fmt.Sprintf("%s/ws/session/%s?%s", strings.TrimSuffix(baseURL, "/"), sessionID, query.Encode())
}

// BuildStreamTwiML renders the voice response: a short greeting, then a
// Connect/Stream verb pointing the call's audio at streamURL.
func BuildStreamTwiML(streamURL, sessionID string) (string, error) {
	say := &twiml.VoiceSay{
		Message: "Connecting you to Comfort Air Services assistant.",
		Voice:   "alice",
	}
	stream := &twiml.VoiceStream{
		Url:  streamURL,
		Name: "session-" + sessionID,
	}
	connect := &twiml.VoiceConnect{
		InnerElements: []twiml.Element{stream},
	}
	doc, err := twiml.Voice([]twiml.Element{say, connect})
	if err != nil {
		return "", fmt.Errorf("failed to render TwiML: %w", err)
	}
	return doc, nil
}
