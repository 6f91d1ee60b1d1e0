package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/mschirtzinger/prodcal/internal/orchestrator"
)

type staticStatus struct {
	st orchestrator.Status
}

func (s staticStatus) GetSyncStatus() orchestrator.Status { return s.st }

func testStatus() staticStatus {
	return staticStatus{st: orchestrator.Status{
		Enabled:   true,
		Status:    orchestrator.StatusConnected,
		LoadState: orchestrator.LoadSuccess,
		Message:   "Connected. Waiting for first sync.",
	}}
}

func startServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(testStatus(), &Config{
		Port:   0, // random available port
		Logger: log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Errorf("Failed to stop server: %v", err)
		}
	})
	time.Sleep(100 * time.Millisecond)
	return server
}

func TestServerStartStop(t *testing.T) {
	server := startServer(t)
	if server.GetAddr() == "" {
		t.Fatal("Server address is empty")
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := startServer(t)

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d", resp.StatusCode)
	}
	var body struct {
		Status  string `json:"status"`
		Clients int    `json:"clients"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health body: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("health status = %q, want ok", body.Status)
	}
}

func TestStatusEndpoint(t *testing.T) {
	server := startServer(t)

	resp, err := http.Get("http://" + server.GetAddr() + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()

	var st orchestrator.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode status body: %v", err)
	}
	if st.Status != orchestrator.StatusConnected {
		t.Errorf("status = %s, want connected", st.Status)
	}
	if st.Message == "" {
		t.Error("status message missing")
	}
}

func TestWebSocketWelcomeAndBroadcast(t *testing.T) {
	server := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if count := server.ClientCount(); count != 1 {
		t.Errorf("Expected 1 client, got %d", count)
	}

	// Welcome message carries the current status.
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read welcome message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	if msg.Type != orchestrator.EventSyncStatus {
		t.Errorf("welcome type = %s, want %s", msg.Type, orchestrator.EventSyncStatus)
	}

	// A notified event reaches the client.
	server.Notify(orchestrator.Event{
		Type:   orchestrator.EventMergeComplete,
		Status: testStatus().GetSyncStatus(),
	})
	_, data, err = conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read broadcast: %v", err)
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal broadcast: %v", err)
	}
	if msg.Type != orchestrator.EventMergeComplete {
		t.Errorf("broadcast type = %s, want %s", msg.Type, orchestrator.EventMergeComplete)
	}
	var ev orchestrator.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.Fatalf("Failed to unmarshal event payload: %v", err)
	}
	if ev.Status.Status != orchestrator.StatusConnected {
		t.Errorf("event status = %s", ev.Status.Status)
	}
}

func TestMultipleClientsReceiveBroadcast(t *testing.T) {
	server := startServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const numClients = 3
	conns := make([]*websocket.Conn, numClients)
	for i := range conns {
		conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
		if err != nil {
			t.Fatalf("Failed to connect client %d: %v", i, err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		conns[i] = conn

		// Drain the welcome message.
		if _, _, err := conn.Read(ctx); err != nil {
			t.Fatalf("client %d welcome: %v", i, err)
		}
	}

	if count := server.ClientCount(); count != numClients {
		t.Fatalf("Expected %d clients, got %d", numClients, count)
	}

	server.Broadcast(Message{Type: orchestrator.EventDatasetUpdate})
	for i, conn := range conns {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("client %d read: %v", i, err)
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("client %d unmarshal: %v", i, err)
		}
		if msg.Type != orchestrator.EventDatasetUpdate {
			t.Errorf("client %d type = %s", i, msg.Type)
		}
	}
}
