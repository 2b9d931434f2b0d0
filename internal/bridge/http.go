package bridge

// http.go is the agent-facing HTTP API. Handlers run on the server's
// goroutines; anything touching the tracker is funneled through the
// event loop via Bridge.do.

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/clawd/pager-bridge/internal/device"
	"github.com/clawd/pager-bridge/internal/display"
	apperrors "github.com/clawd/pager-bridge/internal/errors"
	"github.com/clawd/pager-bridge/internal/request"
)

// submitBody is the JSON body for question, open prompt and permission
// submissions.
type submitBody struct {
	Source   string   `json:"source"`
	Kind     string   `json:"kind,omitempty"`
	Text     string   `json:"text"`
	Options  []string `json:"options,omitempty"`
	Risk     string   `json:"risk,omitempty"`
	Priority string   `json:"priority,omitempty"`
	TimeoutS int      `json:"timeout_s,omitempty"`
	Delivery struct {
		Kind string `json:"kind,omitempty"`
		URL  string `json:"url,omitempty"`
		Path string `json:"path,omitempty"`
	} `json:"delivery"`
}

// submitResponse acknowledges an admitted request.
type submitResponse struct {
	ID    string        `json:"id"`
	State request.State `json:"state"`
}

// requestResponse is the poll slot read for one request.
type requestResponse struct {
	request.Summary
	Outcome   request.Outcome `json:"outcome,omitempty"`
	Value     string          `json:"value,omitempty"`
	Truncated bool            `json:"truncated,omitempty"`
}

// statusResponse is returned by GET /status.
type statusResponse struct {
	Addr           string           `json:"addr"`
	Connection     device.ConnState `json:"connection_state"`
	BatteryPercent int              `json:"battery_percent"`
	Charging       bool             `json:"charging"`
	Mode           display.Mode     `json:"mode"`
	Active         *request.Summary `json:"active,omitempty"`
	QueueDepth     int              `json:"queue_depth"`
	VoiceActive    bool             `json:"voice_active"`
	UptimeSeconds  int64            `json:"uptime_seconds"`
}

// agentBody reports agent tool activity for the idle display.
type agentBody struct {
	Label string `json:"label"`
}

// Handler builds the HTTP handler for the agent API.
func (b *Bridge) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /requests/question", b.handleSubmitQuestion)
	mux.HandleFunc("POST /requests/permission", b.handleSubmitPermission)
	mux.HandleFunc("POST /alerts", b.handleAlert)
	mux.HandleFunc("GET /requests/{id}", b.handleGetRequest)
	mux.HandleFunc("DELETE /requests/{id}", b.handleWithdraw)
	mux.HandleFunc("GET /status", b.handleStatus)
	mux.HandleFunc("POST /agent", b.handleAgentActivity)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// handleSubmitQuestion admits a question or open prompt.
func (b *Bridge) handleSubmitQuestion(w http.ResponseWriter, r *http.Request) {
	body, ok := b.decodeSubmit(w, r)
	if !ok {
		return
	}

	kind := request.KindQuestion
	if body.Kind != "" {
		kind = request.Kind(body.Kind)
	}
	if kind != request.KindQuestion && kind != request.KindOpenPrompt {
		writeError(w, apperrors.InvalidBody("kind must be question or open_prompt"))
		return
	}

	b.submit(w, body, kind)
}

// handleSubmitPermission admits a permission prompt. Permissions default
// to urgent; an agent is blocked on the answer.
func (b *Bridge) handleSubmitPermission(w http.ResponseWriter, r *http.Request) {
	body, ok := b.decodeSubmit(w, r)
	if !ok {
		return
	}
	if body.Priority == "" {
		body.Priority = string(request.PriorityUrgent)
	}
	b.submit(w, body, request.KindPermission)
}

// decodeSubmit parses and rate-limits a submission.
func (b *Bridge) decodeSubmit(w http.ResponseWriter, r *http.Request) (*submitBody, bool) {
	if !b.limiter.Allow() {
		writeError(w, apperrors.New(apperrors.CodeRequestRateLimited, "submission rate limit exceeded"))
		return nil, false
	}

	var body submitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.InvalidBody(err.Error()))
		return nil, false
	}
	return &body, true
}

// submit runs the admission on the event loop and writes the outcome.
func (b *Bridge) submit(w http.ResponseWriter, body *submitBody, kind request.Kind) {
	req := &request.Request{
		Source:   body.Source,
		Kind:     kind,
		Priority: request.Priority(body.Priority),
		Text:     body.Text,
		Options:  body.Options,
		Risk:     body.Risk,
		Delivery: request.Delivery{
			Kind: request.DeliveryKind(body.Delivery.Kind),
			URL:  body.Delivery.URL,
			Path: body.Delivery.Path,
		},
	}
	if req.Delivery.Kind == "" {
		req.Delivery.Kind = request.DeliverPoll
	}
	if body.TimeoutS > 0 {
		req.TimeoutAt = time.Now().Add(time.Duration(body.TimeoutS) * time.Second)
	}

	var (
		admitted   *request.Request
		superseded *request.Request
		err        error
	)
	b.do(func() {
		admitted, superseded, err = b.tracker.Submit(req)
		if superseded != nil {
			b.router.Dispatch(superseded)
			b.audit(superseded)
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, submitResponse{ID: admitted.ID, State: admitted.State})
}

// handleGetRequest is the poll slot read. After grace eviction the entry
// is gone and the 404 is read as "expired" by polling agents.
func (b *Bridge) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req *request.Request
	b.do(func() {
		if found := b.tracker.Get(id); found != nil {
			clone := *found
			req = &clone
		}
	})
	if req == nil {
		writeError(w, apperrors.RequestNotFound(id))
		return
	}

	resp := requestResponse{Summary: req.Summarize()}
	if req.Answer != nil {
		resp.Outcome = req.Answer.Outcome
		resp.Value = req.Answer.Value
		resp.Truncated = req.Answer.Truncated
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleWithdraw removes a queued request. Active requests cannot be
// withdrawn; the user may already be reacting to them.
func (b *Bridge) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var err error
	b.do(func() {
		err = b.tracker.Withdraw(id)
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAlert forwards a fire-and-forget notification to the pager. The
// alert frame buzzes the device; the overlay keeps the text visible for
// a moment without touching the request table.
func (b *Bridge) handleAlert(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.InvalidBody(err.Error()))
		return
	}
	if body.Text == "" {
		writeError(w, apperrors.InvalidBody("empty alert text"))
		return
	}

	var err error
	b.do(func() {
		err = b.link.Send(device.Alert{Text: body.Text})
		if err == nil {
			b.setOverlay(display.Target{Mode: display.ModeAlert, Text: body.Text}, time.Now().Add(alertOverlayDuration))
		}
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleAgentActivity records agent tool activity. The display shows the
// label while nothing else needs the screen and reverts to idle a few
// seconds after the last report.
func (b *Bridge) handleAgentActivity(w http.ResponseWriter, r *http.Request) {
	var body agentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apperrors.InvalidBody(err.Error()))
		return
	}

	b.do(func() {
		b.agentLabel = body.Label
		b.agentSeen = time.Now()
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleStatus reports bridge and pager state. Local-only, like the
// rest of the API surface, but enforced here explicitly since status
// leaks more than an acknowledgement.
func (b *Bridge) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !isLoopbackRequest(r) {
		http.Error(w, "Forbidden: status endpoint is local-only", http.StatusForbidden)
		return
	}

	var resp statusResponse
	b.do(func() {
		session := b.link.Session()
		resp = statusResponse{
			Addr:           b.cfg.Addr,
			Connection:     session.State,
			BatteryPercent: session.BatteryPercent,
			Charging:       session.Charging,
			Mode:           display.Derive(b.snapshot()).Mode,
			QueueDepth:     b.tracker.QueueDepth(),
			VoiceActive:    b.pipeline.Active(),
			UptimeSeconds:  int64(time.Since(b.startTime).Seconds()),
		}
		if active := b.tracker.Active(); active != nil {
			summary := active.Summarize()
			resp.Active = &summary
		}
	})
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON encodes a response body.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("http: encode response: %v", err)
	}
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps a coded error onto an HTTP status and envelope.
func writeError(w http.ResponseWriter, err error) {
	code, message := apperrors.ToCodeAndMessage(err)

	status := http.StatusInternalServerError
	switch code {
	case apperrors.CodeRequestNotFound, apperrors.CodeServerNotFound:
		status = http.StatusNotFound
	case apperrors.CodeRequestInvalid, apperrors.CodeServerInvalidBody, apperrors.CodeRequestNotQueued:
		status = http.StatusBadRequest
	case apperrors.CodeRequestTableFull:
		status = http.StatusConflict
	case apperrors.CodeRequestRateLimited:
		status = http.StatusTooManyRequests
	case apperrors.CodeDeviceDisconnected:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, errorBody{Code: code, Message: message})
}

// isLoopbackRequest reports whether the request came from the local
// machine.
func isLoopbackRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
