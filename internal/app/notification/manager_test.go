package notification

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/turntable/internal/domain/session"
)

type recordingStream struct {
	mu    sync.Mutex
	got   []*Notification
	err   error
	delay time.Duration
}

func (r *recordingStream) Send(n *Notification) error {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, n)
	return nil
}

func (r *recordingStream) received() []*Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Notification(nil), r.got...)
}

func (r *recordingStream) last() *Notification {
	got := r.received()
	if len(got) == 0 {
		return nil
	}
	return got[len(got)-1]
}

func TestBroadcast(t *testing.T) {
	m := NewManager()
	t.Cleanup(m.Close)
	a, b := &recordingStream{}, &recordingStream{}
	m.Subscribe(a)
	m.Subscribe(b)
	require.Equal(t, 2, m.SubscriberCount())

	m.Broadcast(session.State{CurrentTurn: session.SelectorAI})
	m.Broadcast(session.State{CurrentTurn: session.SelectorUser, Notice: "latest"})

	for _, s := range []*recordingStream{a, b} {
		require.Eventually(t, func() bool {
			n := s.last()
			return n != nil && n.State.Notice == "latest"
		}, time.Second, 5*time.Millisecond)

		got := s.received()
		for i := 1; i < len(got); i++ {
			assert.Less(t, got[i-1].SequenceNo, got[i].SequenceNo)
		}
	}
}

func TestBroadcast_DropsFailingSubscriber(t *testing.T) {
	m := NewManager()
	t.Cleanup(m.Close)
	m.Subscribe(&recordingStream{err: errors.New("stream closed")})
	ok := &recordingStream{}
	m.Subscribe(ok)

	m.Broadcast(session.State{})
	require.Eventually(t, func() bool { return m.SubscriberCount() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(ok.received()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestBroadcast_SlowSubscriberDoesNotBlock(t *testing.T) {
	m := NewManager()
	t.Cleanup(m.Close)
	slow := &recordingStream{delay: 300 * time.Millisecond}
	m.Subscribe(slow)
	fast := &recordingStream{}
	m.Subscribe(fast)

	start := time.Now()
	for i := 0; i < 5; i++ {
		m.Broadcast(session.State{Notice: string(rune('a' + i))})
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	require.Eventually(t, func() bool {
		n := fast.last()
		return n != nil && n.State.Notice == "e"
	}, time.Second, 5*time.Millisecond)

	// The slow subscriber skips ahead to the newest snapshot.
	require.Eventually(t, func() bool {
		n := slow.last()
		return n != nil && n.State.Notice == "e"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Less(t, len(slow.received()), 5)
	assert.Equal(t, 2, m.SubscriberCount())
}

func TestSendAndUnsubscribe(t *testing.T) {
	m := NewManager()
	s := &recordingStream{}
	id := m.Subscribe(s)

	require.True(t, m.Send(id, session.State{Notice: "hello"}))
	require.Eventually(t, func() bool { return len(s.received()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "hello", s.received()[0].State.Notice)

	m.Unsubscribe(id)
	assert.False(t, m.Send(id, session.State{}))
	m.Broadcast(session.State{})
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, s.received(), 1)

	m.Subscribe(s)
	m.Close()
	assert.Equal(t, 0, m.SubscriberCount())
}
