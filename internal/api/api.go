// Package api is the reference HTTP host for the ticket workflow
// engine: it wires the core domain packages behind gin and exposes
// the §6.1 operations over REST. The core stays import-clean of
// net/http (§9); this package is where that boundary is crossed.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	v1 "ticketflow/internal/api/v1"
	"ticketflow/internal/auth"
	"ticketflow/internal/catalog"
	internalconfig "ticketflow/internal/config"
	"ticketflow/internal/fields"
	"ticketflow/internal/flowlog"
	"ticketflow/internal/permission"
	"ticketflow/internal/ticket"
	"ticketflow/internal/transition"
)

// Server is the ticket workflow engine's HTTP entry point.
type Server struct {
	cfg        *internalconfig.Config
	httpServer *http.Server
	middleware *auth.Middleware
	handlers   *v1.Handlers
}

// New builds a Server over the given configuration and collaborators.
func New(
	cfg *internalconfig.Config,
	middleware *auth.Middleware,
	cat catalog.Catalog,
	fieldStore *fields.Store,
	tickets *ticket.Repo,
	flowLog *flowlog.Store,
	perm *permission.Evaluator,
	exec *transition.Executor,
) *Server {
	return &Server{
		cfg:        cfg,
		middleware: middleware,
		handlers:   v1.NewHandlers(cat, fieldStore, tickets, flowLog, perm, exec),
	}
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if !s.cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Writer.Header().Set("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	})
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": "ticketflow-api"})
	})

	apiGroup := router.Group("/api/v1")
	apiGroup.Use(s.middleware.Authenticate())
	s.handlers.RegisterRoutes(apiGroup, s.middleware.RequireAdmin())

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.APIPort),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
