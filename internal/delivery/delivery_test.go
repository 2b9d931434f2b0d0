package delivery

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/clawd/pager-bridge/internal/errors"
	"github.com/clawd/pager-bridge/internal/request"
)

func answered(delivery request.Delivery) *request.Request {
	return &request.Request{
		ID:       "req-1",
		Source:   "coder",
		Kind:     request.KindPermission,
		Delivery: delivery,
		State:    request.StateResolved,
		Answer: &request.Answer{
			Outcome: request.OutcomeAnswered,
			Value:   "approve",
			Via:     "button",
		},
		DecidedAt: time.Now(),
	}
}

func TestDeliver_CallbackPostsPayload(t *testing.T) {
	got := make(chan Payload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Payload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		got <- p
	}))
	defer srv.Close()

	d := NewDeliverer()
	req := answered(request.Delivery{Kind: request.DeliverCallback, URL: srv.URL})
	if err := d.Deliver(req); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	p := <-got
	if p.RequestID != "req-1" || p.Outcome != request.OutcomeAnswered || p.Value != "approve" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestDeliver_CallbackRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}))
	defer srv.Close()

	d := NewDeliverer()
	req := answered(request.Delivery{Kind: request.DeliverCallback, URL: srv.URL})
	if err := d.Deliver(req); err != nil {
		t.Fatalf("Deliver after retries: %v", err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
}

func TestDeliver_CallbackGivesUpAfterBoundedRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := NewDeliverer()
	req := answered(request.Delivery{Kind: request.DeliverCallback, URL: srv.URL})
	err := d.Deliver(req)
	if !apperrors.IsCode(err, apperrors.CodeDeliveryFailed) {
		t.Fatalf("expected delivery failure, got %v", err)
	}
	if n := calls.Load(); n != callbackAttempts {
		t.Fatalf("expected %d attempts, got %d", callbackAttempts, n)
	}
}

func TestDeliver_FileAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answers.jsonl")
	d := NewDeliverer()

	first := answered(request.Delivery{Kind: request.DeliverFile, Path: path})
	second := answered(request.Delivery{Kind: request.DeliverFile, Path: path})
	second.ID = "req-2"

	if err := d.Deliver(first); err != nil {
		t.Fatalf("Deliver first: %v", err)
	}
	if err := d.Deliver(second); err != nil {
		t.Fatalf("Deliver second: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open answers file: %v", err)
	}
	defer f.Close()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var p Payload
		if err := json.Unmarshal(scanner.Bytes(), &p); err != nil {
			t.Fatalf("bad line in answers file: %v", err)
		}
		ids = append(ids, p.RequestID)
	}
	if len(ids) != 2 || ids[0] != "req-1" || ids[1] != "req-2" {
		t.Fatalf("unexpected answer lines: %v", ids)
	}
}

func TestDeliver_PollIsNoOp(t *testing.T) {
	d := NewDeliverer()
	req := answered(request.Delivery{Kind: request.DeliverPoll})
	if err := d.Deliver(req); err != nil {
		t.Fatalf("poll delivery should succeed without pushing: %v", err)
	}
}

func TestDeliver_UnknownKindRejected(t *testing.T) {
	d := NewDeliverer()
	req := answered(request.Delivery{Kind: "carrier-pigeon"})
	err := d.Deliver(req)
	if !apperrors.IsCode(err, apperrors.CodeDeliveryUnsupported) {
		t.Fatalf("expected unsupported delivery error, got %v", err)
	}
}
