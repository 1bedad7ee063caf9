// Package server provides the HTTP server for the report API.
//
// The server uses the Gin web framework. Handlers are registered through a
// callback that receives a RouterGroup prefixed with /api/v1.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/kubev2v/qemu-backup-harness/internal/config"
)

type RegisterHandlerFn func(router *gin.RouterGroup)

type Server struct {
	cfg    *config.Configuration
	srv    *http.Server
	log    *zap.SugaredLogger
	router *gin.Engine
}

func New(cfg *config.Configuration, registerHandlers RegisterHandlerFn) *Server {
	if cfg.Server.Mode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(ginzap.Ginzap(zap.L().Named("http"), time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(zap.L().Named("http"), true))

	registerHandlers(router.Group("/api/v1"))

	return &Server{
		cfg: cfg,
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log:    zap.S().Named("server"),
		router: router,
	}
}

// Start blocks serving HTTP until the server is stopped or fails. It
// returns http.ErrServerClosed after a graceful Stop.
func (s *Server) Start() error {
	s.log.Infow("listening", "addr", s.srv.Addr, "mode", s.cfg.Server.Mode)
	return s.srv.ListenAndServe()
}

// Stop performs a graceful shutdown, waiting for in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("shutting down")
	return s.srv.Shutdown(ctx)
}

// Handler exposes the router, used by tests to drive requests directly.
func (s *Server) Handler() http.Handler {
	return s.router
}
