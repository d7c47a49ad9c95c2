package fixtures

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"skillytics/internal/api"
	"skillytics/internal/relay"
	"skillytics/internal/websocket"
)

// TestServer is a fully wired relay behind an in-process HTTP listener:
// registry, mentor, relay, WebSocket handler and read-only API, assembled the
// same way the application does it.
type TestServer struct {
	URL      string
	Registry *websocket.Registry
	Relay    *relay.Relay

	httpServer *httptest.Server
}

// StartRelayServer boots a complete relay stack for a test. The mentor delay
// is shortened so mentor assertions stay fast; everything else uses the
// production wiring. Shutdown is registered with the testing framework.
func StartRelayServer(t *testing.T) *TestServer {
	t.Helper()

	registry := websocket.NewRegistry()
	mentor := relay.NewMentor(50 * time.Millisecond)
	presenceRelay := relay.NewRelay(registry, mentor, 10)
	apiServer := api.NewServer(presenceRelay, registry)
	wsHandler := websocket.NewHandler(registry, presenceRelay, 30*time.Second, 60*time.Second)

	router := mux.NewRouter()
	router.HandleFunc("/ws", wsHandler.HandleWebSocket)
	router.PathPrefix("/api").Handler(apiServer)
	router.Handle("/health", apiServer)

	if err := presenceRelay.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start relay: %v", err)
	}

	httpServer := httptest.NewServer(router)

	server := &TestServer{
		URL:        httpServer.URL,
		Registry:   registry,
		Relay:      presenceRelay,
		httpServer: httpServer,
	}

	t.Cleanup(func() {
		httpServer.Close()
		registry.CloseAll()
		_ = presenceRelay.Stop()
	})

	return server
}

// ConnectClient creates a TestClient connected to the server.
func (ts *TestServer) ConnectClient(t *testing.T, name string) *TestClient {
	t.Helper()

	client := NewTestClient(name, ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect client %s: %v", name, err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return client
}

// Snapshot fetches the relay's current state through the same path the HTTP
// API uses.
func (ts *TestServer) Snapshot(t *testing.T) *relay.Snapshot {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	snap, err := ts.Relay.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	return snap
}

// WaitFor polls a condition until it holds or the deadline passes.
func WaitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}
