// Package api exposes the escrow service over HTTP and streams committed
// bet events to WebSocket subscribers.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"betvault/internal/config"
)

// Server runs the HTTP/WebSocket API for the escrow service
type Server struct {
	cfg      config.APIConfig
	svc      Service
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a new API server
func NewServer(cfg config.APIConfig, svc Service, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(svc, hub, logger)

	mux := http.NewServeMux()

	// Lifecycle routes
	mux.HandleFunc("POST /api/bets", handlers.HandleCreateBet)
	mux.HandleFunc("POST /api/bets/{id}/take", handlers.HandleTakeBet)
	mux.HandleFunc("POST /api/bets/{id}/cancel", handlers.HandleCancelBet)
	mux.HandleFunc("POST /api/bets/{id}/request-cancel", handlers.HandleRequestCancel)
	mux.HandleFunc("POST /api/bets/{id}/close", handlers.HandleCloseBet)
	mux.HandleFunc("POST /api/bets/{id}/settle", handlers.HandleSettleBet)

	// Query routes
	mux.HandleFunc("GET /api/bets", handlers.HandleListBets)
	mux.HandleFunc("GET /api/bets/{id}", handlers.HandleGetBet)
	mux.HandleFunc("GET /api/bets/{id}/events", handlers.HandleBetEvents)

	// Fee administration
	mux.HandleFunc("GET /api/fees", handlers.HandleGetFees)
	mux.HandleFunc("POST /api/fees", handlers.HandleSetFee)
	mux.HandleFunc("POST /api/fees/sweep", handlers.HandleSweep)

	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		svc:      svc,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start starts the API server and hub. Blocks until the server shuts down.
func (s *Server) Start() error {
	// Start WebSocket hub
	go s.hub.Run()

	// Forward committed bet events to subscribers
	go s.consumeEvents()

	s.logger.Info("api server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// consumeEvents reads committed events from the engine and broadcasts them
func (s *Server) consumeEvents() {
	for ev := range s.svc.Events() {
		s.hub.BroadcastEvent(ev)
	}
}
