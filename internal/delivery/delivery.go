// Package delivery returns resolved answers to the agents that asked.
//
// Delivery is exactly-once from the tracker's point of view: the bridge
// hands each terminal request here exactly one time. Push callbacks are
// retried a small fixed number of times and then logged as undelivered;
// the request stays resolved regardless. Retrying forever against a dead
// agent is explicitly rejected, as is any at-least-once upgrade that
// could double-execute an approved dangerous command.
package delivery

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	apperrors "github.com/clawd/pager-bridge/internal/errors"
	"github.com/clawd/pager-bridge/internal/request"
)

// callbackAttempts is the total number of tries for a push callback.
const callbackAttempts = 3

// callbackRetryDelay is the pause between callback retries.
const callbackRetryDelay = 250 * time.Millisecond

// Payload is the answer document sent to the delivery target.
type Payload struct {
	RequestID string          `json:"request_id"`
	Source    string          `json:"source"`
	Kind      request.Kind    `json:"kind"`
	Outcome   request.Outcome `json:"outcome"`
	Value     string          `json:"value"`
	Truncated bool            `json:"truncated,omitempty"`
	DecidedAt time.Time       `json:"decided_at"`
}

// NewPayload builds the delivery payload for a terminal request.
func NewPayload(req *request.Request) Payload {
	p := Payload{
		RequestID: req.ID,
		Source:    req.Source,
		Kind:      req.Kind,
		DecidedAt: req.DecidedAt,
	}
	if req.Answer != nil {
		p.Outcome = req.Answer.Outcome
		p.Value = req.Answer.Value
		p.Truncated = req.Answer.Truncated
	}
	return p
}

// Deliverer pushes answers to their configured targets.
type Deliverer struct {
	client *http.Client
}

// NewDeliverer creates a deliverer with a short per-request timeout so a
// stuck agent cannot pin a worker.
func NewDeliverer() *Deliverer {
	return &Deliverer{
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

// Deliver sends the answer for a terminal request to its target. Safe to
// call from a worker goroutine; it blocks for at most the bounded retry
// schedule. Poll targets need no push: the agent reads the answer via
// GET /requests/{id} until the entry is evicted.
func (d *Deliverer) Deliver(req *request.Request) error {
	payload := NewPayload(req)

	switch req.Delivery.Kind {
	case request.DeliverPoll:
		// Nothing to push; the tracker entry is the delivery slot.
		return nil
	case request.DeliverCallback:
		return d.deliverCallback(req.Delivery.URL, payload)
	case request.DeliverFile:
		return deliverFile(req.Delivery.Path, payload)
	default:
		return apperrors.DeliveryUnsupported(string(req.Delivery.Kind))
	}
}

// deliverCallback POSTs the payload to the agent's callback URL with a
// bounded constant-interval retry.
func (d *Deliverer) deliverCallback(url string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Internal("marshal delivery payload", err)
	}

	attempt := 0
	operation := func() error {
		attempt++
		resp, err := d.client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Printf("delivery: callback attempt %d for %s failed: %v", attempt, payload.RequestID, err)
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			err := fmt.Errorf("callback returned %d", resp.StatusCode)
			log.Printf("delivery: callback attempt %d for %s failed: %v", attempt, payload.RequestID, err)
			return err
		}
		return nil
	}

	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(callbackRetryDelay), callbackAttempts-1)
	if err := backoff.Retry(operation, bo); err != nil {
		return apperrors.DeliveryFailed(payload.RequestID, err)
	}
	log.Printf("delivery: answer for %s delivered to %s", payload.RequestID, url)
	return nil
}

// deliverFile appends the payload as one JSON line to a local file the
// agent tails or polls.
func deliverFile(path string, payload Payload) error {
	line, err := json.Marshal(payload)
	if err != nil {
		return apperrors.Internal("marshal delivery payload", err)
	}
	line = append(line, '\n')

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return apperrors.DeliveryFailed(payload.RequestID, err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return apperrors.DeliveryFailed(payload.RequestID, err)
	}
	log.Printf("delivery: answer for %s appended to %s", payload.RequestID, path)
	return nil
}
