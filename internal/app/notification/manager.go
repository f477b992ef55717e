// Package notification fans session state snapshots out to subscribers.
package notification

import (
	"sync"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/turntable/internal/domain/session"
)

// Notification is a numbered session state snapshot.
type Notification struct {
	SequenceNo uint64
	State      session.State
}

// Stream represents a notification stream for a subscriber.
type Stream interface {
	Send(*Notification) error
}

// subscription holds the latest undelivered snapshot for one subscriber.
// A dedicated goroutine delivers it, so a slow stream only delays itself and
// skips the snapshots it was too slow to see.
type subscription struct {
	id     string
	stream Stream

	mu      sync.Mutex
	pending *Notification
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newSubscription(id string, stream Stream) *subscription {
	return &subscription{
		id:     id,
		stream: stream,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// offer replaces the pending snapshot. It never blocks.
func (s *subscription) offer(n *Notification) {
	s.mu.Lock()
	if s.pending == nil || s.pending.SequenceNo < n.SequenceNo {
		s.pending = n
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) take() *Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.pending
	s.pending = nil
	return n
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// deliver sends pending snapshots until the subscription stops or a send fails.
func (s *subscription) deliver(onFail func(id string)) {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		n := s.take()
		if n == nil {
			continue
		}
		if err := s.stream.Send(n); err != nil {
			zlog.Debug().Msgf("notification: dropping subscriber id=%s: %v", s.id, err)
			onFail(s.id)
			return
		}
	}
}

// Manager manages notification subscriptions and broadcasting.
type Manager struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	sequenceNo    uint64
	sequenceNoMu  sync.Mutex
}

// NewManager creates a new notification manager.
func NewManager() *Manager {
	return &Manager{
		subscriptions: make(map[string]*subscription),
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (m *Manager) Subscribe(stream Stream) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	sub := newSubscription(id, stream)
	m.subscriptions[id] = sub
	go sub.deliver(m.Unsubscribe)

	zlog.Debug().Msgf("notification: subscribed id=%s", id)
	return id
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(subscriptionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub, ok := m.subscriptions[subscriptionID]; ok {
		sub.stop()
		delete(m.subscriptions, subscriptionID)
	}
}

// NextSequenceNo returns the next sequence number and increments the counter.
func (m *Manager) NextSequenceNo() uint64 {
	m.sequenceNoMu.Lock()
	defer m.sequenceNoMu.Unlock()
	m.sequenceNo++
	return m.sequenceNo
}

// Broadcast hands a snapshot to every subscriber and returns without
// waiting for delivery. A subscriber whose send fails is removed.
func (m *Manager) Broadcast(st session.State) {
	n := &Notification{SequenceNo: m.NextSequenceNo(), State: st}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sub := range m.subscriptions {
		sub.offer(n)
	}
}

// Send hands a snapshot to a specific subscriber. It reports false when
// the subscription does not exist.
func (m *Manager) Send(subscriptionID string, st session.State) bool {
	m.mu.RLock()
	sub, ok := m.subscriptions[subscriptionID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	sub.offer(&Notification{SequenceNo: m.NextSequenceNo(), State: st})
	return true
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscriptions)
}

// Close closes the manager and removes all subscriptions.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sub := range m.subscriptions {
		sub.stop()
	}
	m.subscriptions = make(map[string]*subscription)
}
