package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"skillytics/internal/api"
	"skillytics/internal/config"
	"skillytics/internal/relay"
	"skillytics/internal/websocket"
)

// Application coordinates all system components. Initialization order:
// Registry → Mentor → Relay → API → WebSocket handler → HTTP.
type Application struct {
	config     *config.Config
	registry   *websocket.Registry
	relay      *relay.Relay
	apiServer  *api.Server
	httpServer *http.Server
}

// NewApplication wires an application from configuration.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	registry := websocket.NewRegistry()
	mentor := relay.NewMentor(cfg.Relay.MentorDelay)
	presenceRelay := relay.NewRelay(registry, mentor, cfg.Relay.LeaderboardSize)
	apiServer := api.NewServer(presenceRelay, registry)
	wsHandler := websocket.NewHandler(registry, presenceRelay,
		cfg.WebSocket.PingInterval, cfg.WebSocket.ReadTimeout)

	router := mux.NewRouter()
	router.HandleFunc("/ws", wsHandler.HandleWebSocket)
	router.PathPrefix("/api").Handler(apiServer)
	router.Handle("/health", apiServer)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		registry:   registry,
		relay:      presenceRelay,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Start brings the relay up before the HTTP listener so the first connection
// already has an event pipeline behind it.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting Skillytics relay on %s", app.httpServer.Addr)

	if err := app.relay.Start(ctx); err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		_ = app.relay.Stop()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Skillytics relay started successfully")
		return nil
	case <-ctx.Done():
		_ = app.relay.Stop()
		return ctx.Err()
	}
}

// Stop drains gracefully: stop accepting connections, wait for the live ones
// to close, force-close the stragglers at the deadline, then stop the relay.
// No persistence step; all state is discarded by design.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down Skillytics relay")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// http.Server.Shutdown does not wait for hijacked WebSocket
	// connections, so the drain is tracked through the registry.
	app.drainConnections(ctx)

	if err := app.relay.Stop(); err != nil {
		log.Printf("Relay shutdown error: %v", err)
	}

	log.Printf("Skillytics relay shutdown complete")
	return nil
}

func (app *Application) drainConnections(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		remaining := app.registry.Stats()["total_connections"]
		if remaining == 0 {
			return
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.Printf("Drain deadline reached with %d connections open, force-closing", remaining)
			app.registry.CloseAll()
			return
		}
	}
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
