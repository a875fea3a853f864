// Package api exposes the HTTP surface: session lifecycle, Twilio webhooks,
// health, and the WebSocket upgrade endpoint.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jackcarlos19/csr-call-assistant/pkg/config"
	"github.com/jackcarlos19/csr-call-assistant/pkg/llm"
	"github.com/jackcarlos19/csr-call-assistant/pkg/models"
	"github.com/jackcarlos19/csr-call-assistant/pkg/twilio"
)

// SessionStore is the persistence surface the handlers need.
type SessionStore interface {
	CreateSession(ctx context.Context, scope models.SessionScope) (*models.Session, error)
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	CompleteSession(ctx context.Context, id uuid.UUID, summary, disposition string) (*models.Session, error)
	TranscriptEvents(ctx context.Context, sessionID uuid.UUID) ([]models.Event, error)
}

// Generator produces structured completions. Implemented by llm.Client.
type Generator interface {
	Complete(ctx context.Context, messages []llm.Message, schema llm.Schema) (map[string]any, error)
}

// ConnectionHandler runs an upgraded WebSocket connection. Implemented by
// ws.Pipeline.
type ConnectionHandler interface {
	HandleConnection(ctx context.Context, sessionID uuid.UUID, conn *websocket.Conn)
}

// GuidanceCanceler disarms pending guidance for a session.
type GuidanceCanceler interface {
	Cancel(sessionID uuid.UUID)
}

// HealthReporter reports backing-store connectivity. Implemented by
// database.Client.
type HealthReporter interface {
	Health(ctx context.Context) (string, error)
}

// Server holds the handler dependencies.
type Server struct {
	cfg       *config.Config
	store     SessionStore
	generator Generator
	pipeline  ConnectionHandler
	guidance  GuidanceCanceler
	twilio    *twilio.Service
	health    HealthReporter
	logger    *slog.Logger
}

// NewServer creates an API server.
func NewServer(cfg *config.Config, store SessionStore, generator Generator, pipeline ConnectionHandler, guidance GuidanceCanceler, twilioSvc *twilio.Service, health HealthReporter, logger *slog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		store:     store,
		generator: generator,
		pipeline:  pipeline,
		guidance:  guidance,
		twilio:    twilioSvc,
		health:    health,
		logger:    logger,
	}
}

// Router builds the gin engine with middleware and all routes.
func (s *Server) Router() *gin.Engine {
	if !s.cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.traceMiddleware())
	router.Use(s.requestLogger())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{s.cfg.CORSAllowOrigin},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Trace-Id"},
		AllowCredentials: true,
	}))

	router.GET("/health", s.Health)

	sessions := router.Group("/sessions")
	sessions.POST("", s.CreateSession)
	sessions.GET("/:session_id", s.GetSession)
	sessions.POST("/:session_id/end", s.EndSession)

	tw := router.Group("/twilio")
	tw.POST("/voice/inbound", s.TwilioInbound)
	tw.POST("/voice/status", s.TwilioStatus)
	tw.GET("/session/:session_id", s.GetSession)

	router.GET("/ws/session/:session_id", s.SessionWS)

	return router
}

// sessionID parses the session_id path parameter, writing a 400 on failure.
func sessionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("session_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid session id"})
		return uuid.Nil, false
	}
	return id, true
}
