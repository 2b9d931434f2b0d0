package device

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	apperrors "github.com/clawd/pager-bridge/internal/errors"
	"github.com/gorilla/websocket"
)

// eventBufferSize is the buffer for the event channel. It absorbs bursts
// (audio frames while recording) without blocking the read loop. If the
// coordinator falls this far behind, events are dropped and logged.
const eventBufferSize = 256

// commandBufferSize is the buffer for non-display commands.
const commandBufferSize = 64

// degradedAfterFailures is how many consecutive dial failures before the
// link surfaces Degraded. Retrying continues forever either way.
const degradedAfterFailures = 3

// maxMissedHeartbeats forces a reconnect after this many unanswered
// pings, which detects silent half-open connections the transport layer
// never reports.
const maxMissedHeartbeats = 3

// Reconnect backoff bounds. The link never gives up.
const (
	reconnectInitial = 2 * time.Second
	reconnectMax     = 30 * time.Second
)

// Link maintains the single logical connection to the pager.
//
// One outstanding connection attempt exists at a time. Commands are
// serialized by a single writer goroutine; a display command that has not
// been sent yet is replaced when a newer one arrives, so the pager never
// flickers through a stale intermediate frame.
type Link struct {
	url       string
	heartbeat time.Duration

	events chan Event

	// display is a one-slot latest-wins channel for set_display frames.
	display chan Frame
	// cmds carries everything else (alert, wake) in submission order.
	cmds chan Frame

	mu        sync.Mutex
	connected bool
	session   Session
}

// NewLink creates a link to the pager WebSocket endpoint, e.g.
// "ws://192.168.50.85:6053/ws". Call Run to start connecting.
func NewLink(url string, heartbeat time.Duration) *Link {
	if heartbeat <= 0 {
		heartbeat = 10 * time.Second
	}
	return &Link{
		url:       url,
		heartbeat: heartbeat,
		events:    make(chan Event, eventBufferSize),
		display:   make(chan Frame, 1),
		cmds:      make(chan Frame, commandBufferSize),
		session:   Session{State: StateDisconnected},
	}
}

// Events returns the stream of device events. Events arrive in wire
// order; connectivity transitions are interleaved where they happened.
func (l *Link) Events() <-chan Event {
	return l.events
}

// Session returns a snapshot of the device session.
func (l *Link) Session() Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session
}

// Send queues a command for the pager. It is fire-and-forget on success,
// but rejects synchronously when the link is down so the caller can
// decide to queue or drop. The display state machine re-issues its
// target mode on reconnect, which self-heals any dropped display update.
func (l *Link) Send(cmd Command) error {
	l.mu.Lock()
	connected := l.connected
	l.mu.Unlock()
	if !connected {
		return apperrors.DeviceDisconnected(cmd.Name())
	}

	f := cmd.frame()
	if f.Type == FrameSetDisplay {
		// Latest-wins: drain any unsent display frame, then install this
		// one. Loops at most twice; only Send replaces slot contents.
		for {
			select {
			case l.display <- f:
				return nil
			default:
			}
			select {
			case <-l.display:
				log.Printf("device: coalesced superseded display update")
			default:
			}
		}
	}

	select {
	case l.cmds <- f:
	default:
		// Fire-and-forget: a full command queue drops the oldest concern
		// to a log line rather than blocking the coordinator.
		log.Printf("device: command queue full, dropping %s", cmd.Name())
	}
	return nil
}

// Run connects to the pager and keeps the connection alive until ctx is
// cancelled. Dial failures are never fatal: the link retries with
// exponential backoff (2s initial, 30s cap) indefinitely, surfacing
// Degraded after a few consecutive failures so the display state machine
// can mark the pager unreachable.
func (l *Link) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = reconnectInitial
	bo.MaxInterval = reconnectMax
	bo.MaxElapsedTime = 0 // retry forever

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		l.setState(StateConnecting)
		dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
		conn, _, err := dialer.DialContext(ctx, l.url, nil)
		if err != nil {
			failures++
			log.Printf("device: dial %s failed (attempt %d): %v", l.url, failures, err)
			if failures == degradedAfterFailures {
				l.setState(StateDegraded)
			}
			select {
			case <-time.After(bo.NextBackOff()):
			case <-ctx.Done():
				return
			}
			continue
		}

		failures = 0
		bo.Reset()
		log.Printf("device: connected to pager at %s", l.url)
		l.setConnected()

		l.serve(ctx, conn)

		l.setDisconnected()
		log.Printf("device: connection to pager lost")
	}
}

// serve pumps one live connection: a writer goroutine serializes
// commands and heartbeats, the read loop decodes inbound frames.
// Returns when the connection dies or ctx is cancelled.
func (l *Link) serve(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() {
			close(done)
			conn.Close()
		})
	}
	defer closeConn()

	// outstanding counts pings sent without a pong. The reader resets it;
	// the writer reconnects when it reaches the miss limit.
	var outstanding atomic.Int32
	var seq atomic.Uint64

	go func() {
		ticker := time.NewTicker(l.heartbeat)
		defer ticker.Stop()
		for {
			var frame Frame
			select {
			case <-done:
				return
			case <-ctx.Done():
				closeConn()
				return
			case frame = <-l.display:
			case frame = <-l.cmds:
			case <-ticker.C:
				if outstanding.Load() >= maxMissedHeartbeats {
					log.Printf("device: %d heartbeats missed, forcing reconnect", maxMissedHeartbeats)
					l.setState(StateDegraded)
					closeConn()
					return
				}
				outstanding.Add(1)
				frame = Frame{Type: FramePing, Seq: seq.Add(1)}
			}

			data, err := EncodeFrame(frame)
			if err != nil {
				log.Printf("device: %v", err)
				continue
			}
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				log.Printf("device: write failed: %v", err)
				closeConn()
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("device: read failed: %v", err)
			}
			return
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			log.Printf("device: dropping bad frame: %v", err)
			continue
		}

		l.touch()

		switch frame.Type {
		case FramePong:
			outstanding.Store(0)
		case FrameButton:
			l.emit(ButtonEvent{
				Button:      Button(frame.Button),
				Edge:        Edge(frame.Edge),
				TimestampMs: frame.TimestampMs,
			})
		case FrameModeEcho:
			l.emit(ModeEcho{Mode: frame.Mode})
		case FrameBattery:
			l.mu.Lock()
			l.session.BatteryPercent = frame.Percent
			l.session.Charging = frame.Charging
			l.mu.Unlock()
			l.emit(BatteryEvent{Percent: frame.Percent, Charging: frame.Charging})
		case FrameAudio:
			l.emit(AudioFrame{Data: frame.Data})
		default:
			log.Printf("device: unknown frame type %q", frame.Type)
		}
	}
}

// emit pushes an event without ever blocking the read loop.
func (l *Link) emit(ev Event) {
	select {
	case l.events <- ev:
	default:
		log.Printf("device: event buffer full, dropping %T", ev)
	}
}

func (l *Link) touch() {
	l.mu.Lock()
	l.session.LastSeen = time.Now()
	l.mu.Unlock()
}

func (l *Link) setConnected() {
	l.mu.Lock()
	l.connected = true
	l.session.State = StateConnected
	l.session.LastSeen = time.Now()
	l.mu.Unlock()
	l.emit(ConnectivityEvent{State: StateConnected})
}

func (l *Link) setDisconnected() {
	l.mu.Lock()
	l.connected = false
	l.session.State = StateDisconnected
	l.mu.Unlock()
	l.emit(ConnectivityEvent{State: StateDisconnected})
}

// setState records a non-connected state transition (connecting,
// degraded) and emits it when it changes something.
func (l *Link) setState(state ConnState) {
	l.mu.Lock()
	prev := l.session.State
	l.session.State = state
	l.mu.Unlock()
	if prev != state && state == StateDegraded {
		l.emit(ConnectivityEvent{State: StateDegraded})
	}
}
