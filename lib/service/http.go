// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	// Name identifies the listener in log lines. moltletd runs more
	// than one ("orchestrator", "cattle"), so unnamed servers default
	// to "http".
	Name string

	// Address is the listen address, for example "127.0.0.1:7227".
	// Port 0 picks a free port; read it back through Addr.
	Address string

	// Handler is the root handler for all requests.
	Handler http.Handler

	// Logger receives structured logs. Required.
	Logger *slog.Logger

	// ShutdownTimeout bounds the graceful drain once the serve context
	// is canceled. Defaults to 10 seconds.
	ShutdownTimeout time.Duration
}

// HTTPServer wraps http.Server with the lifecycle moltletd needs:
// Serve binds the listener, signals readiness, blocks until the context
// is canceled, then drains in-flight requests before returning.
type HTTPServer struct {
	config HTTPServerConfig
	server *http.Server

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// NewHTTPServer builds an HTTPServer from config. It panics if Address,
// Handler, or Logger is missing: those are programmer errors, not
// runtime conditions.
func NewHTTPServer(config HTTPServerConfig) *HTTPServer {
	if config.Address == "" {
		panic("service.NewHTTPServer: Address is required")
	}
	if config.Handler == nil {
		panic("service.NewHTTPServer: Handler is required")
	}
	if config.Logger == nil {
		panic("service.NewHTTPServer: Logger is required")
	}
	if config.Name == "" {
		config.Name = "http"
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	return &HTTPServer{
		config: config,
		server: &http.Server{
			Handler:           config.Handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		ready: make(chan struct{}),
	}
}

// Ready returns a channel that closes once the listener is bound and
// accepting connections. Callers that need the bound address (port 0
// configs, tests) wait on Ready before calling Addr.
func (s *HTTPServer) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound listener address, or nil before Ready closes.
func (s *HTTPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve binds the configured address and serves until ctx is canceled,
// then shuts down gracefully, waiting up to ShutdownTimeout for
// in-flight requests to finish. It returns nil on a clean shutdown.
func (s *HTTPServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("%s server: listen on %s: %w", s.config.Name, s.config.Address, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	close(s.ready)

	s.config.Logger.Info("server listening",
		"server", s.config.Name,
		"address", listener.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.server.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s server: serve: %w", s.config.Name, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("%s server: shutdown: %w", s.config.Name, err)
	}
	// Serve returns http.ErrServerClosed once Shutdown begins; collect
	// it so the goroutine does not leak.
	<-serveErr

	s.config.Logger.Info("server stopped", "server", s.config.Name)
	return nil
}
