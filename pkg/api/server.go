// Package api exposes the engine over HTTP and WebSocket: conversation
// chat (plain, streaming and socket), talent search, index management,
// script analysis, usage reporting and the health trio.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/castmesh/castmesh/pkg/config"
	"github.com/castmesh/castmesh/pkg/conversation"
	"github.com/castmesh/castmesh/pkg/health"
	"github.com/castmesh/castmesh/pkg/indexer"
	"github.com/castmesh/castmesh/pkg/observability"
	"github.com/castmesh/castmesh/pkg/ranking"
	"github.com/castmesh/castmesh/pkg/search"
)

// Server wires the engine components behind the HTTP surface
type Server struct {
	cfg      config.APIConfig
	router   *gin.Engine
	http     *http.Server
	orch     *conversation.Orchestrator
	searcher *search.Engine
	ranker   *ranking.Engine
	indexMgr *indexer.Manager
	checker  *health.Checker
	registry *observability.Registry
	logger   observability.Logger
}

// NewServer builds the router. ranker, indexMgr, checker and registry may
// be nil; their endpoints then skip personalisation, answer 503 or render
// an empty exposition.
func NewServer(
	cfg config.APIConfig,
	orch *conversation.Orchestrator,
	searcher *search.Engine,
	ranker *ranking.Engine,
	indexMgr *indexer.Manager,
	checker *health.Checker,
	registry *observability.Registry,
	logger observability.Logger,
) *Server {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}
	s := &Server{
		cfg:      cfg,
		orch:     orch,
		searcher: searcher,
		ranker:   ranker,
		indexMgr: indexMgr,
		checker:  checker,
		registry: registry,
		logger:   logger,
	}
	s.router = s.buildRouter()
	return s
}

// Router exposes the gin engine for tests and custom servers
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(requestIDMiddleware())
	r.Use(recoveryMiddleware(s.logger))
	if s.cfg.RateLimitRPS > 0 {
		r.Use(rateLimitMiddleware(s.cfg.RateLimitRPS, s.cfg.RateLimitBurst))
	}
	if s.cfg.EnableCORS {
		r.Use(corsMiddleware())
	}

	r.GET("/health", s.handleHealth)
	r.GET("/ready", s.handleReady)
	r.GET("/live", s.handleLive)
	r.GET("/metrics", s.handleMetrics)

	v1 := r.Group("/api/v1")
	{
		conv := v1.Group("/conversation")
		conv.POST("/chat", s.handleChat)
		conv.POST("/chat/stream", s.handleChatStream)
		conv.GET("/:id", s.handleGetConversation)
		conv.DELETE("/:id", s.handleDeleteConversation)

		sr := v1.Group("/search")
		sr.POST("/talent/semantic", s.handleSemanticSearch)
		sr.POST("/talent/similar/:id", s.handleSimilar)
		sr.POST("/index/talent", s.handleIndexTalent)
		sr.DELETE("/index/talent/:id", s.handleDeleteIndexed)
		sr.POST("/index/reindex", s.handleReindex)
		sr.GET("/index/stats", s.handleIndexStats)

		ai := v1.Group("/ai")
		ai.POST("/analyze/script", s.handleAnalyzeScript)
		ai.GET("/usage/report", s.handleUsageReport)
	}

	r.GET("/ws/chat/:conversation_id", s.handleWebSocket)
	return r
}

// Run serves until ctx is cancelled, then drains with a grace period
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:         s.cfg.ListenAddress,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", map[string]interface{}{"address": s.cfg.ListenAddress})
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
