// Package server exposes the transfer manager over HTTP: JSON endpoints for
// starting, inspecting, and cancelling transfers, browsing tables and files,
// and a websocket that pushes progress events.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/johndauphine/chxfer/internal/config"
	"github.com/johndauphine/chxfer/internal/logging"
	"github.com/johndauphine/chxfer/internal/orchestrator"
)

// Server routes HTTP requests to a Manager.
type Server struct {
	mgr      *orchestrator.Manager
	cfg      config.ServerConfig
	router   *gin.Engine
	upgrader websocket.Upgrader
}

// New builds the router. The manager's lifetime is the caller's.
func New(mgr *orchestrator.Manager, cfg config.ServerConfig) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	s := &Server{mgr: mgr, cfg: cfg}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.health)

	r.POST("/transfers", s.startTransfer)
	r.GET("/transfers", s.listTransfers)
	r.GET("/transfers/:id", s.getTransfer)
	r.DELETE("/transfers/:id", s.cancelTransfer)

	r.POST("/preview", s.preview)
	r.POST("/columns", s.columns)

	r.GET("/files", s.listFiles)
	r.POST("/files/columns", s.fileColumns)
	r.GET("/download/*path", s.download)

	r.GET("/history", s.history)

	r.GET("/ws/progress", s.progressWS)

	s.router = r
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on the configured address until ctx is cancelled, then shuts
// down gracefully. Running transfers are not touched; closing the manager
// is the caller's job.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info("HTTP server listening on %s", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		logging.Info("HTTP server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// checkOrigin allows same-origin requests, requests without an Origin header,
// and the configured origins. "*" allows any.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
