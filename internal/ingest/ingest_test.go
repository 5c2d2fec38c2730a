package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"posturewatch/internal/config"
	"posturewatch/internal/model"
)

const goodFrame = `{"source":"cam0","landmarks":{"7":{"x":0.45,"y":0.3},"8":{"x":0.55,"y":0.3},"11":{"x":0.35,"y":0.5},"12":{"x":0.65,"y":0.5}}}`

func testManager() *config.Manager {
	cfg := config.DefaultConfig()
	cfg.Ingest.TCPStream.Enabled = true
	cfg.Ingest.TCPStream.Addr = "127.0.0.1:0"
	return config.NewStaticManager(cfg)
}

func receive(t *testing.T, out <-chan model.Frame) model.Frame {
	t.Helper()
	select {
	case f := <-out:
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
	}
	return model.Frame{}
}

func TestSendNonBlockingDropsWhenFull(t *testing.T) {
	out := make(chan model.Frame, 1)
	ctx := context.Background()
	if !SendNonBlocking(ctx, out, model.Frame{}, nil) {
		t.Fatalf("first send should succeed")
	}
	if SendNonBlocking(ctx, out, model.Frame{}, nil) {
		t.Fatalf("second send should drop")
	}
}

func TestRESTFrames(t *testing.T) {
	out := make(chan model.Frame, 4)
	srv := httptest.NewServer(NewRESTServer(testManager(), nil, out, nil).Handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/frames", "application/json", strings.NewReader("["+goodFrame+`,{"landmarks":{"11":{"x":"nan"}}}]`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed batch should be rejected, got %d", resp.StatusCode)
	}

	resp2, err := http.Post(srv.URL+"/frames", "application/json", strings.NewReader("["+goodFrame+`,{"landmarks":null}]`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp2.Body.Close()
	var body struct {
		Accepted int `json:"accepted"`
		Failed   int `json:"failed"`
	}
	if err := json.NewDecoder(resp2.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Accepted != 2 || body.Failed != 0 {
		t.Fatalf("accepted=%d failed=%d", body.Accepted, body.Failed)
	}
	if f := receive(t, out); !f.Detected() || f.Source != "cam0" {
		t.Fatalf("unexpected first frame %+v", f)
	}
	if f := receive(t, out); f.Detected() {
		t.Fatalf("second frame should be no detection")
	}

	get, err := http.Get(srv.URL + "/frames")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	get.Body.Close()
	if get.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("GET should be rejected, got %d", get.StatusCode)
	}
}

func TestWebSocketFrames(t *testing.T) {
	out := make(chan model.Frame, 4)
	srv := httptest.NewServer(NewWSServer(testManager(), nil, out, nil).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/landmarks"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(goodFrame)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"detected":false}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := receive(t, out); len(f.Landmarks) != 4 {
		t.Fatalf("expected 4 landmarks, got %d", len(f.Landmarks))
	}
	if f := receive(t, out); f.Detected() {
		t.Fatalf("expected no-detection frame after bad message")
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:5173/"})
	req := httptest.NewRequest(http.MethodGet, "/ws/landmarks", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	if !check(req) {
		t.Fatalf("listed origin should pass")
	}
	req.Header.Set("Origin", "http://evil.example")
	if check(req) {
		t.Fatalf("unlisted origin should fail")
	}
	if !originChecker(nil)(req) {
		t.Fatalf("empty allow list should accept all")
	}
}

func TestTCPStream(t *testing.T) {
	out := make(chan model.Frame, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ln := StartTCPStream(ctx, testManager(), NewParser(), out, nil)
	if ln == nil {
		t.Fatalf("listener not started")
	}
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	w := bufio.NewWriter(conn)
	_, _ = w.WriteString("\n" + goodFrame + "\n")
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if f := receive(t, out); !f.Detected() {
		t.Fatalf("expected detected frame")
	}
}
