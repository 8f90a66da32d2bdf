package telemetry

import (
	"slices"
	"sync"
	"time"
)

// SentPing is one entry of the audit trail.
type SentPing struct {
	// ID is the pipeline's ping id, empty when the ping was not submitted.
	ID        string    `json:"id,omitempty"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   *Payload  `json:"payload,omitempty"`
}

// SearchQuery filters the audit trail. Zero values mean "no filter".
type SearchQuery struct {
	// Type keeps only pings of these buckets.
	Type []string

	// N caps the number of results.
	N int

	// Since keeps only pings recorded strictly after this instant.
	Since time.Time

	// HeadersOnly omits payloads.
	HeadersOnly bool
}

// DefaultAuditLimit is the number of pings an Audit keeps when no limit is set.
const DefaultAuditLimit = 1000

// Audit is the ordered, in-process record of pings the emitter has seen. It
// keeps the most recent pings only; the oldest entry is overwritten once the
// limit is reached. The zero value keeps DefaultAuditLimit pings.
type Audit struct {
	mu    sync.RWMutex
	limit int
	pings []SentPing
	head  int // index of the oldest entry once pings is full
}

// Limit returns the maximum number of pings kept.
func (a *Audit) Limit() int {
	if a.limit > 0 {
		return a.limit
	}
	return DefaultAuditLimit
}

// at returns the i-th oldest ping. The caller holds the lock.
func (a *Audit) at(i int) SentPing {
	return a.pings[(a.head+i)%len(a.pings)]
}

// Record appends a ping, evicting the oldest one when the trail is full.
func (a *Audit) Record(p SentPing) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pings) < a.Limit() {
		a.pings = append(a.pings, p)
		return
	}
	a.pings[a.head] = p
	a.head = (a.head + 1) % len(a.pings)
}

// All returns every recorded ping, oldest first.
func (a *Audit) All() []SentPing {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]SentPing, 0, len(a.pings))
	out = append(out, a.pings[a.head:]...)
	return append(out, a.pings[:a.head]...)
}

// Len returns the number of recorded pings.
func (a *Audit) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.pings)
}

// Clear drops everything.
func (a *Audit) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pings = nil
	a.head = 0
}

// Search returns matching pings, newest first.
func (a *Audit) Search(q SearchQuery) []SentPing {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]SentPing, 0)
	for i := len(a.pings) - 1; i >= 0; i-- {
		p := a.at(i)
		if len(q.Type) > 0 && !slices.Contains(q.Type, p.Type) {
			continue
		}
		if !q.Since.IsZero() && !p.Timestamp.After(q.Since) {
			continue
		}
		if q.HeadersOnly {
			p.Payload = nil
		}
		out = append(out, p)
		if q.N > 0 && len(out) == q.N {
			break
		}
	}
	return out
}

// StudyStates returns the study_state of every retained shield-study ping,
// oldest first.
func (a *Audit) StudyStates() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var states []string
	for i := range len(a.pings) {
		p := a.at(i)
		if p.Type != BucketStudy || p.Payload == nil {
			continue
		}
		if d, ok := p.Payload.Data.(StateData); ok {
			states = append(states, d.StudyState)
		}
	}
	return states
}
