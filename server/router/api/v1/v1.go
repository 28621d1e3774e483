// Package v1 exposes the JSON API: conversation lifecycle, message
// exchange, and the intelligence query endpoints.
package v1

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/recall/internal/errors"
	"github.com/hrygo/recall/internal/profile"
	"github.com/hrygo/recall/plugin/ai"
	"github.com/hrygo/recall/server/middleware"
	"github.com/hrygo/recall/server/queryengine"
	"github.com/hrygo/recall/server/service/conversation"
	"github.com/hrygo/recall/store"
)

type APIV1Service struct {
	Secret  string
	Profile *profile.Profile
	Store   *store.Store

	ConversationService *conversation.Service
	QueryEngine         *queryengine.Engine

	analyzer *conversation.Analyzer
	logger   *slog.Logger
}

// NewAPIV1Service wires the API service. AI providers are optional: when
// the profile disables AI or a provider fails to initialize, the service
// runs with degraded conversation replies and keyword-only queries.
func NewAPIV1Service(secret string, profile *profile.Profile, st *store.Store, logger *slog.Logger) *APIV1Service {
	var llmService ai.LLMService
	var embeddingService ai.EmbeddingService

	if profile.IsAIEnabled() {
		aiConfig := ai.NewConfigFromProfile(profile)
		if err := aiConfig.Validate(); err != nil {
			logger.Warn("AI config invalid, running degraded", "error", err)
		} else {
			if svc, err := ai.NewLLMService(&aiConfig.LLM); err != nil {
				logger.Warn("LLM provider unavailable", "error", err)
			} else {
				llmService = svc
			}
			if svc, err := ai.NewEmbeddingService(&aiConfig.Embedding); err != nil {
				logger.Warn("embedding provider unavailable", "error", err)
			} else {
				embeddingService = svc
			}
		}
	}

	analyzer := conversation.NewAnalyzer(st, llmService, embeddingService, logger)

	return &APIV1Service{
		Secret:              secret,
		Profile:             profile,
		Store:               st,
		ConversationService: conversation.NewService(st, llmService, analyzer, logger),
		QueryEngine:         queryengine.NewEngine(st, llmService, embeddingService, queryengine.DefaultConfig(), logger),
		analyzer:            analyzer,
		logger:              logger,
	}
}

// BackfillEmbeddings embeds ended conversations and messages that missed
// their vectors, typically after a provider outage. Failures are logged
// and retried on the next start.
func (s *APIV1Service) BackfillEmbeddings(ctx context.Context) {
	if err := s.analyzer.EmbedPending(ctx); err != nil {
		if errors.IsCode(err, errors.CodeEmbeddingUnavailable) {
			s.logger.Debug("embedding backfill skipped", "error", err)
			return
		}
		s.logger.Warn("embedding backfill incomplete", "error", err)
	}
}

// Register mounts all v1 routes on the echo server.
func (s *APIV1Service) Register(e *echo.Echo) {
	api := e.Group("/api/v1")

	api.GET("/healthz", s.healthz)

	authed := api.Group("", JWTMiddleware(s.Secret))

	authed.POST("/conversations", s.createConversation)
	authed.GET("/conversations", s.listConversations)
	authed.GET("/conversations/:uid", s.getConversation)
	authed.PATCH("/conversations/:uid", s.updateConversation)
	authed.DELETE("/conversations/:uid", s.deleteConversation)
	authed.GET("/conversations/:uid/messages", s.listMessages)
	authed.POST("/conversations/:uid/messages", s.sendMessage)
	authed.POST("/conversations/:uid/end", s.endConversation)

	// Intelligence queries hit the providers, so they get a tighter limit.
	queryLimiter := middleware.NewRateLimiter(time.Second, 5)
	intelligence := authed.Group("/intelligence", queryLimiter.Middleware())
	intelligence.POST("/query", s.intelligenceQuery)
	intelligence.GET("/analytics", s.intelligenceAnalytics)
}

func (s *APIV1Service) healthz(c echo.Context) error {
	if db := s.Store.GetDriver().GetDB(); db != nil {
		if err := db.PingContext(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// toHTTPError maps service error codes onto HTTP statuses. Provider
// failures never reach this point; the services degrade them.
func toHTTPError(err error) error {
	switch errors.CodeOf(err, errors.CodeInternal) {
	case errors.CodeInvalidArgument:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.CodeNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}
