package device

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/clawd/pager-bridge/internal/errors"
	"github.com/gorilla/websocket"
)

// newFakePager starts a WebSocket server standing in for the pager.
// The handler runs once per connection.
func newFakePager(t *testing.T, handler func(conn *websocket.Conn)) (srv *httptest.Server, url string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return srv, url
}

// waitFor reads events until match returns true or the deadline passes.
func waitFor(t *testing.T, link *Link, what string, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-link.Events():
			if match(ev) {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
			return nil
		}
	}
}

func TestSend_RejectedWhenDisconnected(t *testing.T) {
	link := NewLink("ws://127.0.0.1:1/ws", time.Second)

	err := link.Send(SetDisplay{Mode: "IDLE", Text: "READY"})
	if !apperrors.IsCode(err, apperrors.CodeDeviceDisconnected) {
		t.Errorf("error = %v, want %s", err, apperrors.CodeDeviceDisconnected)
	}
}

func TestLink_CommandAndEventRoundTrip(t *testing.T) {
	frames := make(chan Frame, 16)
	srv, url := newFakePager(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			f, err := DecodeFrame(data)
			if err != nil {
				continue
			}
			if f.Type == FramePing {
				pong, _ := EncodeFrame(Frame{Type: FramePong, Seq: f.Seq})
				conn.WriteMessage(websocket.BinaryMessage, pong)
				continue
			}
			frames <- f
			if f.Type == FrameSetDisplay {
				// Answer the prompt with a button press.
				press, _ := EncodeFrame(Frame{Type: FrameButton, Button: "A", Edge: "down", TimestampMs: 1000})
				conn.WriteMessage(websocket.BinaryMessage, press)
			}
		}
	})
	defer srv.Close()

	link := NewLink(url, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Run(ctx)

	waitFor(t, link, "connect", func(ev Event) bool {
		c, ok := ev.(ConnectivityEvent)
		return ok && c.State == StateConnected
	})

	if err := link.Send(SetDisplay{Mode: "QUESTION", Text: "Deploy to prod?"}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case f := <-frames:
		if f.Type != FrameSetDisplay || f.Mode != "QUESTION" || f.Text != "Deploy to prod?" {
			t.Errorf("pager received %+v", f)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("pager never received the display command")
	}

	ev := waitFor(t, link, "button press", func(ev Event) bool {
		_, ok := ev.(ButtonEvent)
		return ok
	})
	press := ev.(ButtonEvent)
	if press.Button != ButtonA || press.Edge != EdgeDown || press.TimestampMs != 1000 {
		t.Errorf("button event = %+v", press)
	}
}

func TestLink_BatteryUpdatesSession(t *testing.T) {
	srv, url := newFakePager(t, func(conn *websocket.Conn) {
		batt, _ := EncodeFrame(Frame{Type: FrameBattery, Percent: 42, Charging: true})
		conn.WriteMessage(websocket.BinaryMessage, batt)
		// Keep the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	link := NewLink(url, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Run(ctx)

	waitFor(t, link, "battery event", func(ev Event) bool {
		_, ok := ev.(BatteryEvent)
		return ok
	})

	sess := link.Session()
	if sess.BatteryPercent != 42 || !sess.Charging {
		t.Errorf("session battery = %d/%v, want 42/true", sess.BatteryPercent, sess.Charging)
	}
	if sess.State != StateConnected {
		t.Errorf("session state = %s, want %s", sess.State, StateConnected)
	}
	if sess.LastSeen.IsZero() {
		t.Error("LastSeen should be set after an inbound frame")
	}
}

// TestLink_MissedHeartbeatsForceReconnect starves the link of pongs and
// expects a Degraded event followed by a fresh dial, even though the
// transport never reported a failure.
func TestLink_MissedHeartbeatsForceReconnect(t *testing.T) {
	var dials atomic.Int32
	srv, url := newFakePager(t, func(conn *websocket.Conn) {
		dials.Add(1)
		// Swallow everything, never pong.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	link := NewLink(url, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go link.Run(ctx)

	waitFor(t, link, "degraded after missed heartbeats", func(ev Event) bool {
		c, ok := ev.(ConnectivityEvent)
		return ok && c.State == StateDegraded
	})

	waitFor(t, link, "reconnect", func(ev Event) bool {
		c, ok := ev.(ConnectivityEvent)
		return ok && c.State == StateConnected && dials.Load() >= 2
	})
}

// TestSend_CoalescesSupersededDisplay verifies a newer display command
// replaces an unsent older one instead of queueing behind it.
func TestSend_CoalescesSupersededDisplay(t *testing.T) {
	link := NewLink("ws://unused/ws", time.Second)
	link.mu.Lock()
	link.connected = true // no writer running; frames stay in the slot
	link.mu.Unlock()

	link.Send(SetDisplay{Mode: "QUESTION", Text: "stale"})
	link.Send(SetDisplay{Mode: "PERMISSION", Text: "fresh"})

	select {
	case f := <-link.display:
		if f.Mode != "PERMISSION" || f.Text != "fresh" {
			t.Errorf("slot holds %+v, want the fresh frame", f)
		}
	default:
		t.Fatal("display slot should hold exactly one frame")
	}
	select {
	case f := <-link.display:
		t.Errorf("display slot should be empty, got %+v", f)
	default:
	}
}

func TestFrameRoundTrip(t *testing.T) {
	in := Frame{Type: FrameButton, Button: "B", Edge: "up", TimestampMs: 123456}
	data, err := EncodeFrame(in)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	out, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if out.Type != in.Type || out.Button != in.Button || out.Edge != in.Edge || out.TimestampMs != in.TimestampMs {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}

	if _, err := DecodeFrame([]byte{0xc0}); err == nil {
		t.Error("decoding a typeless frame should fail")
	}
}
