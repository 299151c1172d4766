// Package web runs the HTTP server.
package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/formationai/marketplace/web/handlers"
)

// Config carries the server settings.
type Config struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	ShutdownGrace  time.Duration
}

// Server serves the JSON API until its context is cancelled.
type Server struct {
	httpServer    *http.Server
	shutdownGrace time.Duration
}

// New builds the router and server from the handler group.
func New(cfg Config, group *handlers.HandlerGroup) *Server {
	router := mux.NewRouter()
	group.RegisterRoutes(router, cfg.AllowedOrigins)

	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 30 * time.Second
	}

	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		writeTimeout = 30 * time.Second
	}

	grace := cfg.ShutdownGrace
	if grace == 0 {
		grace = 15 * time.Second
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
		},
		shutdownGrace: grace,
	}
}

// Run blocks until the context is cancelled or the listener fails, then
// drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)

	go func() {
		errc <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownGrace)
	defer cancel()

	return s.httpServer.Shutdown(shutdownCtx)
}
