package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestHubDeliversEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(zap.NewNop())
	go hub.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish(Event{Type: "predict", RequestID: "r1", Status: "ok", Model: "alpha", LatencyMS: 1.5})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != "predict" || got.RequestID != "r1" || got.Status != "ok" || got.Timestamp.IsZero() {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestClientSubscriptions(t *testing.T) {
	c := &Client{subscriptions: make(map[string]bool)}
	if !c.wants("align") {
		t.Fatal("client without subscriptions should receive everything")
	}
	c.handleClientMessage(ClientMessage{Type: "subscribe", Topic: "predict"})
	if c.wants("align") || !c.wants("predict") {
		t.Fatal("subscription filter not applied")
	}
	c.handleClientMessage(ClientMessage{Type: "unsubscribe", Topic: "predict"})
	if !c.wants("align") {
		t.Fatal("unsubscribe should restore the default")
	}
}

func TestPublishWithoutRunnerDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	for i := 0; i < 1000; i++ {
		hub.Publish(Event{Type: "align", Status: "ok"})
	}
}

func TestStatsSnapshot(t *testing.T) {
	stats := NewStats()
	stats.Record("predict", "ok", 10*time.Millisecond)
	stats.Record("predict", "empty", 30*time.Millisecond)
	stats.Record("align", "fault", time.Millisecond)

	snap := stats.Snapshot()
	if len(snap.Kinds) != 2 || snap.Kinds[0].Kind != "align" || snap.Kinds[1].Kind != "predict" {
		t.Fatalf("unexpected kinds %+v", snap.Kinds)
	}
	predict := snap.Kinds[1]
	if predict.Total != 2 || predict.ByStatus["ok"] != 1 || predict.ByStatus["empty"] != 1 {
		t.Fatalf("unexpected counters %+v", predict)
	}
	if predict.AvgLatencyMS != 20 || predict.MaxLatencyMS != 30 {
		t.Fatalf("unexpected latency %+v", predict)
	}
}
