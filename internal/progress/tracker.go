package progress

import (
	"sync/atomic"
	"time"
)

// Phase is the lifecycle position of a transfer.
type Phase string

const (
	PhaseStarting  Phase = "STARTING"
	PhaseReading   Phase = "READING"
	PhaseWriting   Phase = "WRITING"
	PhaseDone      Phase = "DONE"
	PhaseFailed    Phase = "FAILED"
	PhaseCancelled Phase = "CANCELLED"
)

// Terminal reports whether no further updates follow p.
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseFailed || p == PhaseCancelled
}

// Snapshot is a consistent view of one transfer. Total is -1 when unknown.
type Snapshot struct {
	Handle    string    `json:"handle"`
	Rows      int64     `json:"rows"`
	Total     int64     `json:"total"`
	Batches   int       `json:"batches"`
	Phase     Phase     `json:"phase"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Percent returns completion in [0,100], or -1 when the total is unknown.
func (s Snapshot) Percent() float64 {
	if s.Total < 0 {
		return -1
	}
	if s.Total == 0 {
		if s.Phase == PhaseDone {
			return 100
		}
		return 0
	}
	return float64(s.Rows) * 100 / float64(s.Total)
}

// Event returns the push form of s.
func (s Snapshot) Event() Event {
	return Event{
		Handle:  s.Handle,
		Rows:    s.Rows,
		Total:   s.Total,
		Batches: s.Batches,
		Phase:   s.Phase,
		Error:   s.Error,
		Time:    s.UpdatedAt,
	}
}

// Tracker holds the progress of one run. The run is the only writer; any
// number of goroutines may call Snapshot. Every update swaps in a fresh
// immutable snapshot so readers never see a torn value.
type Tracker struct {
	snap atomic.Pointer[Snapshot]
	pub  Publisher
}

// NewTracker starts a tracker in PhaseStarting. pub receives an event per
// committed batch and one terminal event; it may be nil.
func NewTracker(handle string, pub Publisher) *Tracker {
	if pub == nil {
		pub = NopPublisher{}
	}
	t := &Tracker{pub: pub}
	t.snap.Store(&Snapshot{Handle: handle, Total: -1, Phase: PhaseStarting, UpdatedAt: time.Now()})
	return t
}

// Snapshot returns the latest state.
func (t *Tracker) Snapshot() Snapshot {
	return *t.snap.Load()
}

func (t *Tracker) update(fn func(s *Snapshot)) Snapshot {
	next := *t.snap.Load()
	fn(&next)
	next.UpdatedAt = time.Now()
	t.snap.Store(&next)
	return next
}

// SetTotal records the expected row count.
func (t *Tracker) SetTotal(total int64) {
	t.update(func(s *Snapshot) { s.Total = total })
}

// SetPhase moves to a non-terminal phase without publishing.
func (t *Tracker) SetPhase(p Phase) {
	t.update(func(s *Snapshot) { s.Phase = p })
}

// AddBatch records a committed batch and publishes the new state.
func (t *Tracker) AddBatch(rows int) {
	s := t.update(func(s *Snapshot) {
		s.Rows += int64(rows)
		s.Batches++
	})
	t.pub.Publish(s.Event())
}

// Finish records the terminal phase and publishes it. err may be nil.
func (t *Tracker) Finish(p Phase, err error) Snapshot {
	s := t.update(func(s *Snapshot) {
		s.Phase = p
		if err != nil {
			s.Error = err.Error()
		}
		if p == PhaseDone && s.Total < 0 {
			s.Total = s.Rows
		}
	})
	t.pub.Publish(s.Event())
	return s
}
