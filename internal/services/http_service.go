package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HTTPService serves the API handler until stopped.
type HTTPService struct {
	addr            string
	handler         http.Handler
	shutdownTimeout time.Duration
	logger          zerolog.Logger

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
}

// NewHTTPService creates a new HTTPService listening on addr.
func NewHTTPService(addr string, handler http.Handler, logger zerolog.Logger) *HTTPService {
	return &HTTPService{
		addr:            addr,
		handler:         handler,
		shutdownTimeout: 10 * time.Second,
		logger:          logger,
	}
}

// Start binds the listener and serves in the background.
func (h *HTTPService) Start() error {
	if h.server != nil {
		h.logger.Warn().Msg("HTTPService is already running")
		return errors.New("http service is already running")
	}

	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.addr, err)
	}
	h.listener = listener
	h.server = &http.Server{
		Handler:           h.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	h.wg.Add(1)
	go func(server *http.Server) {
		defer h.wg.Done()
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error().Err(err).Msg("HTTP server failed")
		}
	}(h.server)

	h.logger.Info().Str("addr", listener.Addr().String()).Msg("HTTPService started")
	return nil
}

// Addr returns the bound address, useful when listening on port 0.
func (h *HTTPService) Addr() string {
	if h.listener == nil {
		return h.addr
	}
	return h.listener.Addr().String()
}

// Stop drains in-flight requests and shuts the server down.
func (h *HTTPService) Stop() error {
	if h.server == nil {
		h.logger.Warn().Msg("HTTPService is not running")
		return errors.New("http service is not running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
	defer cancel()

	err := h.server.Shutdown(ctx)
	h.wg.Wait()
	h.server = nil
	h.listener = nil
	if err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	h.logger.Info().Msg("HTTPService stopped")
	return nil
}
