package dj

import (
	"context"
	"sync"

	"github.com/osa030/turntable/internal/domain/session"
)

// Outcome is how a prefetch pipeline ended.
type Outcome int

const (
	OutcomePending Outcome = iota
	OutcomeEnqueued
	OutcomeSuperseded
	OutcomeNoRecommendation
	OutcomeNoMatch
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEnqueued:
		return "enqueued"
	case OutcomeSuperseded:
		return "superseded"
	case OutcomeNoRecommendation:
		return "no_recommendation"
	case OutcomeNoMatch:
		return "no_match"
	case OutcomeFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Handle tracks a single prefetch. It can be awaited or discarded.
type Handle struct {
	generation uint64
	status     session.QueueStatus
	done       chan struct{}
	discard    func()

	mu      sync.Mutex
	outcome Outcome
	entry   session.Entry
	err     error
}

func newHandle(generation uint64, status session.QueueStatus, discard func()) *Handle {
	return &Handle{
		generation: generation,
		status:     status,
		done:       make(chan struct{}),
		discard:    discard,
	}
}

// Generation returns the generation token this prefetch was started with.
func (h *Handle) Generation() uint64 {
	return h.generation
}

// Status returns the queue status the pick will be enqueued with.
func (h *Handle) Status() session.QueueStatus {
	return h.status
}

// Done is closed when the pipeline has finished.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the pipeline finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-h.done:
		h.mu.Lock()
		defer h.mu.Unlock()
		return h.outcome, h.err
	case <-ctx.Done():
		return OutcomePending, ctx.Err()
	}
}

// Outcome returns the current outcome without blocking.
func (h *Handle) Outcome() Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome
}

// Entry returns the enqueued entry once the pipeline has enqueued one.
func (h *Handle) Entry() (session.Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entry, h.outcome == OutcomeEnqueued
}

// Discard abandons the prefetch. It has no effect once a newer prefetch
// has started.
func (h *Handle) Discard() {
	if h.discard != nil {
		h.discard()
	}
}

func (h *Handle) finish(outcome Outcome, entry session.Entry, err error) {
	h.mu.Lock()
	h.outcome = outcome
	h.entry = entry
	h.err = err
	h.mu.Unlock()
	close(h.done)
}
