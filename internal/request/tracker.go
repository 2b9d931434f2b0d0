package request

import (
	"log"
	"time"

	apperrors "github.com/clawd/pager-bridge/internal/errors"
	"github.com/google/uuid"
)

// DefaultGrace is how long a terminal entry stays readable before
// eviction. It absorbs a straggling button press or a late poll from the
// source after the answer was already decided.
const DefaultGrace = 2 * time.Second

// NewID mints an opaque request identifier.
func NewID() string {
	return uuid.New().String()
}

// Tracker is the keyed store of in-flight requests.
//
// Invariants it maintains:
//   - at most one request is Active at any time
//   - queued requests are FIFO within their priority tier
//   - an urgent question/permission supersedes a normal active request,
//     but never an urgent one
//   - a permission that expires resolves to deny, never approve
//
// Not safe for concurrent use; owned by the coordinator event loop.
type Tracker struct {
	capacity int
	grace    time.Duration

	entries  map[string]*Request
	queue    []string // queued IDs in arrival order
	activeID string

	now func() time.Time // injectable clock for tests
}

// NewTracker creates a tracker bounded to capacity live entries.
func NewTracker(capacity int) *Tracker {
	return &Tracker{
		capacity: capacity,
		grace:    DefaultGrace,
		entries:  make(map[string]*Request),
		now:      time.Now,
	}
}

// Submit admits a new request, assigning its ID and initial state.
//
// Admission rules:
//   - alerts never enter the table (the coordinator overlays them)
//   - with no active request, the new request becomes active immediately
//   - an urgent question/permission supersedes a normal active request;
//     the displaced request is returned so its source can be told
//   - anything else is queued in arrival order
//
// Returns the admitted request, the superseded request (nil if none), or
// an error when the table is full or the submission is malformed.
func (t *Tracker) Submit(req *Request) (*Request, *Request, error) {
	if req.Kind == KindAlert {
		return nil, nil, apperrors.InvalidRequest("alerts are not tracked")
	}
	if req.Text == "" {
		return nil, nil, apperrors.InvalidRequest("empty display text")
	}
	switch req.Kind {
	case KindQuestion, KindPermission, KindOpenPrompt:
	default:
		return nil, nil, apperrors.InvalidRequest("unknown kind: " + string(req.Kind))
	}
	switch req.Priority {
	case "":
		req.Priority = PriorityNormal
	case PriorityNormal, PriorityUrgent:
	default:
		return nil, nil, apperrors.InvalidRequest("unknown priority: " + string(req.Priority))
	}
	if t.live() >= t.capacity {
		return nil, nil, apperrors.TableFull(t.capacity)
	}

	req.ID = NewID()
	req.CreatedAt = t.now()
	t.entries[req.ID] = req

	active := t.active()
	switch {
	case active == nil:
		req.State = StateActive
		t.activeID = req.ID
		log.Printf("tracker: request %s (%s from %s) admitted active", req.ID, req.Kind, req.Source)
		return req, nil, nil

	case req.Priority == PriorityUrgent && active.Priority == PriorityNormal:
		// Supersede: the displaced request reaches a terminal state and
		// its source is told "preempted", never silently dropped.
		t.terminate(active, &Answer{
			Outcome: OutcomeSuperseded,
			Value:   "preempted",
			Via:     "preempt",
		})
		req.State = StateActive
		t.activeID = req.ID
		log.Printf("tracker: request %s (urgent) superseded %s", req.ID, active.ID)
		return req, active, nil

	default:
		req.State = StateQueued
		t.queue = append(t.queue, req.ID)
		log.Printf("tracker: request %s (%s from %s) queued at position %d", req.ID, req.Kind, req.Source, len(t.queue))
		return req, nil, nil
	}
}

// Record inserts an already-resolved request, skipping admission: it
// never touches the active slot or the queue and does not count against
// capacity. Its answer stays readable from the poll slot until grace
// eviction, like any other terminal entry. Ambient voice notes are born
// this way.
func (t *Tracker) Record(req *Request) *Request {
	if req.ID == "" {
		req.ID = NewID()
	}
	now := t.now()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	if req.DecidedAt.IsZero() {
		req.DecidedAt = now
	}
	req.State = StateResolved
	t.entries[req.ID] = req
	log.Printf("tracker: request %s (%s from %s) recorded resolved", req.ID, req.Kind, req.Source)
	return req
}

// Get returns the request with the given ID, or nil if it was never
// admitted or has already been evicted.
func (t *Tracker) Get(id string) *Request {
	return t.entries[id]
}

// Active returns the currently active request, or nil.
func (t *Tracker) Active() *Request {
	return t.active()
}

// Resolve transitions the request to Resolved with the given answer and
// promotes the next queued request. It is idempotent: resolving a request
// that is already terminal (or unknown) is a no-op returning false —
// whichever of a sweep or a resolve is processed first wins.
//
// The promoted request (if any) is returned so the coordinator can
// refresh the display.
func (t *Tracker) Resolve(id string, ans Answer) (resolved bool, promoted *Request) {
	req := t.entries[id]
	if req == nil || req.State.Terminal() {
		return false, nil
	}

	wasActive := req.State == StateActive
	t.terminate(req, &ans)
	log.Printf("tracker: request %s resolved (%s via %s)", id, ans.Value, ans.Via)

	if wasActive {
		return true, t.promote()
	}
	t.dequeue(id)
	return true, nil
}

// Withdraw removes a queued request at its source's explicit ask.
// Only queued requests can be withdrawn; an active request can only be
// answered, expire, or be superseded.
func (t *Tracker) Withdraw(id string) error {
	req := t.entries[id]
	if req == nil {
		return apperrors.RequestNotFound(id)
	}
	if req.State != StateQueued {
		return apperrors.RequestNotQueued(id)
	}
	t.dequeue(id)
	delete(t.entries, id)
	log.Printf("tracker: request %s withdrawn by %s", id, req.Source)
	return nil
}

// Expiry describes one request expired by a sweep.
type Expiry struct {
	Request   *Request
	WasActive bool
}

// ExpireSweep expires every live request past its deadline and promotes
// a successor if the active slot was vacated. Runs on the coordinator's
// fixed tick. Also evicts terminal entries past their grace window.
//
// A permission that expires is answered "deny": absence of a response is
// never interpreted as approval.
func (t *Tracker) ExpireSweep(now time.Time) (expired []Expiry, promoted *Request) {
	activeVacated := false

	for _, req := range t.entries {
		if req.State.Terminal() || req.TimeoutAt.IsZero() || now.Before(req.TimeoutAt) {
			continue
		}
		wasActive := req.State == StateActive
		value := ""
		if req.Kind == KindPermission {
			value = "deny"
		}
		if !wasActive {
			t.dequeue(req.ID)
		}
		t.terminate(req, &Answer{
			Outcome: OutcomeExpired,
			Value:   value,
			Via:     "timeout",
		})
		prior := "queued"
		if wasActive {
			prior = "active"
		}
		log.Printf("tracker: request %s expired (was %s)", req.ID, prior)
		expired = append(expired, Expiry{Request: req, WasActive: wasActive})
		if wasActive {
			activeVacated = true
		}
	}

	if activeVacated {
		promoted = t.promote()
	}

	t.evict(now)
	return expired, promoted
}

// QueueDepth returns the number of queued requests.
func (t *Tracker) QueueDepth() int {
	return len(t.queue)
}

// live counts entries that have not reached a terminal state.
func (t *Tracker) live() int {
	n := 0
	for _, req := range t.entries {
		if !req.State.Terminal() {
			n++
		}
	}
	return n
}

func (t *Tracker) active() *Request {
	if t.activeID == "" {
		return nil
	}
	return t.entries[t.activeID]
}

// terminate moves a request to its terminal state and clears the active
// slot if it held it. Eviction happens later, after the grace window.
func (t *Tracker) terminate(req *Request, ans *Answer) {
	switch ans.Outcome {
	case OutcomeAnswered:
		req.State = StateResolved
	case OutcomeExpired:
		req.State = StateExpired
	case OutcomeSuperseded:
		req.State = StateSuperseded
	}
	req.Answer = ans
	req.DecidedAt = t.now()
	if t.activeID == req.ID {
		t.activeID = ""
	}
}

// promote activates the next queued request: urgent tier first, then
// FIFO within the tier.
func (t *Tracker) promote() *Request {
	idx := -1
	for i, id := range t.queue {
		req := t.entries[id]
		if req == nil {
			continue
		}
		if req.Priority == PriorityUrgent {
			idx = i
			break
		}
		if idx == -1 {
			idx = i
		}
	}
	if idx == -1 {
		t.queue = nil
		return nil
	}

	id := t.queue[idx]
	t.queue = append(t.queue[:idx], t.queue[idx+1:]...)
	req := t.entries[id]
	req.State = StateActive
	t.activeID = id
	log.Printf("tracker: request %s promoted to active", id)
	return req
}

func (t *Tracker) dequeue(id string) {
	for i, qid := range t.queue {
		if qid == id {
			t.queue = append(t.queue[:i], t.queue[i+1:]...)
			return
		}
	}
}

// evict removes terminal entries whose grace window has passed.
func (t *Tracker) evict(now time.Time) {
	for id, req := range t.entries {
		if req.State.Terminal() && now.Sub(req.DecidedAt) >= t.grace {
			delete(t.entries, id)
		}
	}
}
