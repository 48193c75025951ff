package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/AaronLay10/RuleChain/internal/events"
	"github.com/gorilla/websocket"
)

// waitFor polls a condition until it returns true or timeout expires.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("timeout waiting for: %s", msg)
}

func startWS(t *testing.T) string {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(wsEventsHandler))
	t.Cleanup(server.Close)
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) events.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	var e events.Event
	if err := json.Unmarshal(msg, &e); err != nil {
		t.Fatalf("failed to unmarshal event: %v", err)
	}
	return e
}

// emitSoon emits after the handler has had time to subscribe.
func emitSoon(name string, fields map[string]interface{}) {
	go func() {
		time.Sleep(50 * time.Millisecond)
		events.Emit("info", name, "", fields)
	}()
}

func TestWebSocketReceivesRecentEvents(t *testing.T) {
	events.Clear()
	for i := 0; i < 5; i++ {
		events.Emit("info", "node.started", "", map[string]interface{}{"node_id": "n1", "i": i})
	}

	conn := dialWS(t, startWS(t))
	defer conn.Close()

	for i := 0; i < 5; i++ {
		e := readEvent(t, conn)
		if e.Name != "node.started" {
			t.Errorf("event %d: expected node.started, got %s", i, e.Name)
		}
		if e.Fields["i"] != float64(i) {
			t.Errorf("event %d: expected backlog in order, got i=%v", i, e.Fields["i"])
		}
	}
}

func TestWebSocketReceivesNewEvents(t *testing.T) {
	events.Clear()
	conn := dialWS(t, startWS(t))
	defer conn.Close()

	emitSoon("chain.completed", map[string]interface{}{"chain_id": "fan-control"})

	e := readEvent(t, conn)
	if e.Name != "chain.completed" {
		t.Errorf("expected chain.completed, got %s", e.Name)
	}
	if e.Fields["chain_id"] != "fan-control" {
		t.Errorf("expected chain_id fan-control, got %v", e.Fields["chain_id"])
	}
}

func TestWebSocketFiltersByChainAndEvent(t *testing.T) {
	events.Clear()
	events.Emit("info", "chain.started", "", map[string]interface{}{"chain_id": "fan-control"})
	events.Emit("info", "device.updated", "", map[string]interface{}{"chain_id": "alarm", "device_id": "siren"})

	conn := dialWS(t, startWS(t)+"?chain_id=alarm&event=device.,chain.failed")
	defer conn.Close()

	if e := readEvent(t, conn); e.Name != "device.updated" {
		t.Fatalf("expected backlog device.updated, got %s", e.Name)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		events.Emit("info", "chain.completed", "", map[string]interface{}{"chain_id": "alarm"})
		events.Emit("error", "chain.failed", "", map[string]interface{}{"chain_id": "fan-control"})
		events.Emit("error", "chain.failed", "", map[string]interface{}{"chain_id": "alarm"})
	}()

	e := readEvent(t, conn)
	if e.Name != "chain.failed" || e.Fields["chain_id"] != "alarm" {
		t.Errorf("expected chain.failed for alarm, got %s %v", e.Name, e.Fields)
	}
}

func TestWebSocketDisconnectCleansUp(t *testing.T) {
	events.Clear()
	events.CloseAllSubscribers()

	conn := dialWS(t, startWS(t))
	emitSoon("node.started", map[string]interface{}{"node_id": "n1"})
	if e := readEvent(t, conn); e.Name != "node.started" {
		t.Fatalf("expected node.started, got %s", e.Name)
	}
	conn.Close()

	waitFor(t, 5*time.Second, func() bool {
		return events.SubscriberCount() == 0
	}, "subscriber count to return to 0 after close")
}

func TestWebSocketMultipleClients(t *testing.T) {
	events.Clear()
	events.CloseAllSubscribers()
	url := startWS(t)

	a := dialWS(t, url)
	defer a.Close()
	b := dialWS(t, url)
	defer b.Close()

	waitFor(t, time.Second, func() bool {
		return events.SubscriberCount() == 2
	}, "both clients to subscribe")
	events.Emit("info", "device.updated", "", map[string]interface{}{"device_id": "fan-1"})

	for i, conn := range []*websocket.Conn{a, b} {
		if e := readEvent(t, conn); e.Name != "device.updated" {
			t.Errorf("client %d: expected device.updated, got %s", i, e.Name)
		}
	}
}
