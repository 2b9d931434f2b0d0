// Command simulator is a fake pager for end-to-end testing without
// hardware. It serves the device websocket, advertises itself over
// mDNS like the real firmware, prints every display command it receives
// and turns keyboard input into button frames.
//
// Usage: go run ./cmd/simulator [--addr 127.0.0.1:8090]
//
// Keys:
//
//	a        tap button A
//	b        tap button B
//	A        hold button A (sends a second of silence, then release)
//	dock     dock the pager (charging on)
//	undock   undock the pager
//	batt N   report battery percentage N
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"

	"github.com/clawd/pager-bridge/internal/device"
	"github.com/clawd/pager-bridge/internal/discover"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// simulator holds the one live bridge connection, if any.
type simulator struct {
	mu       sync.Mutex
	conn     *websocket.Conn
	battery  int
	charging bool
}

func main() {
	addr := flag.String("addr", "127.0.0.1:8090", "Listen address for the device websocket")
	mdns := flag.Bool("mdns", true, "Advertise via mDNS like the real firmware")
	flag.Parse()

	sim := &simulator{battery: 87}

	host, portStr, err := net.SplitHostPort(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bad --addr: %v\n", err)
		os.Exit(1)
	}
	port, _ := strconv.Atoi(portStr)

	if *mdns {
		server, err := zeroconf.Register("clawd-pager-sim", discover.ServiceType, "local.", port, []string{"version=1"}, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "mDNS registration failed: %v (continuing without)\n", err)
		} else {
			defer server.Shutdown()
			fmt.Printf("Advertising %s on %s.local:%d\n", discover.ServiceType, host, port)
		}
	}

	http.HandleFunc("/ws", sim.handleWS)

	go sim.readKeys()

	fmt.Printf("Simulated pager listening on ws://%s/ws\n", *addr)
	if err := http.ListenAndServe(*addr, nil); err != nil {
		fmt.Fprintf(os.Stderr, "Listen failed: %v\n", err)
		os.Exit(1)
	}
}

// handleWS serves one bridge connection at a time, like the firmware.
func (s *simulator) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		fmt.Printf("Upgrade failed: %v\n", err)
		return
	}

	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.mu.Unlock()

	fmt.Println("Bridge connected")
	s.send(device.Frame{Type: device.FrameBattery, Percent: s.battery, Charging: s.charging})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			fmt.Printf("Bridge disconnected: %v\n", err)
			return
		}

		frame, err := device.DecodeFrame(data)
		if err != nil {
			fmt.Printf("Bad frame: %v\n", err)
			continue
		}

		switch frame.Type {
		case device.FrameSetDisplay:
			fmt.Printf("DISPLAY [%s] %s\n", frame.Mode, strings.ReplaceAll(frame.Text, "\n", " / "))
			s.send(device.Frame{Type: device.FrameModeEcho, Mode: frame.Mode})
		case device.FrameAlert:
			fmt.Printf("ALERT *bzzt* %s\n", frame.Text)
		case device.FramePing:
			s.send(device.Frame{Type: device.FramePong, Seq: frame.Seq})
		case device.FrameWake:
			fmt.Println("WAKE")
		default:
			fmt.Printf("Frame %s ignored\n", frame.Type)
		}
	}
}

// readKeys turns stdin lines into device frames.
func (s *simulator) readKeys() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "a":
			s.press(device.ButtonA, 100*time.Millisecond)
		case line == "b":
			s.press(device.ButtonB, 100*time.Millisecond)
		case line == "A":
			s.holdWithAudio(device.ButtonA, time.Second)
		case line == "dock":
			s.charging = true
			s.send(device.Frame{Type: device.FrameBattery, Percent: s.battery, Charging: true})
		case line == "undock":
			s.charging = false
			s.send(device.Frame{Type: device.FrameBattery, Percent: s.battery, Charging: false})
		case strings.HasPrefix(line, "batt "):
			if n, err := strconv.Atoi(strings.TrimPrefix(line, "batt ")); err == nil {
				s.battery = n
				s.send(device.Frame{Type: device.FrameBattery, Percent: n, Charging: s.charging})
			}
		case line == "":
		default:
			fmt.Printf("Unknown key %q (try a, b, A, dock, undock, batt N)\n", line)
		}
	}
}

// press sends a down/up pair spaced by the given duration.
func (s *simulator) press(b device.Button, duration time.Duration) {
	now := time.Now().UnixMilli()
	s.send(device.Frame{Type: device.FrameButton, Button: string(b), Edge: string(device.EdgeDown), TimestampMs: now})
	s.send(device.Frame{Type: device.FrameButton, Button: string(b), Edge: string(device.EdgeUp), TimestampMs: now + duration.Milliseconds()})
}

// holdWithAudio holds a button past the tap threshold while streaming
// silent PCM, mimicking push to talk.
func (s *simulator) holdWithAudio(b device.Button, duration time.Duration) {
	now := time.Now().UnixMilli()
	s.send(device.Frame{Type: device.FrameButton, Button: string(b), Edge: string(device.EdgeDown), TimestampMs: now})

	// 100ms of 16kHz 16-bit silence per frame.
	silence := make([]byte, 3200)
	for elapsed := time.Duration(0); elapsed < duration; elapsed += 100 * time.Millisecond {
		s.send(device.Frame{Type: device.FrameAudio, Data: silence})
		time.Sleep(100 * time.Millisecond)
	}

	s.send(device.Frame{Type: device.FrameButton, Button: string(b), Edge: string(device.EdgeUp), TimestampMs: now + duration.Milliseconds()})
}

// send encodes and writes one frame to the connected bridge.
func (s *simulator) send(frame device.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		fmt.Println("(no bridge connected)")
		return
	}

	data, err := device.EncodeFrame(frame)
	if err != nil {
		fmt.Printf("Encode failed: %v\n", err)
		return
	}
	if err := s.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		fmt.Printf("Write failed: %v\n", err)
	}
}
