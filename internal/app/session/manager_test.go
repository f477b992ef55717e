package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/turntable/internal/app/notification"
	"github.com/osa030/turntable/internal/app/persona"
	"github.com/osa030/turntable/internal/app/session/state"
	"github.com/osa030/turntable/internal/domain/session"
	"github.com/osa030/turntable/internal/domain/track"
	"github.com/osa030/turntable/internal/infra/ai"
)

var (
	heroes   = track.Track{ID: "sp-heroes", Title: "Heroes", ArtistName: "David Bowie", Duration: 6 * time.Minute}
	teardrop = track.Track{ID: "sp-teardrop", Title: "Teardrop", ArtistName: "Massive Attack", Duration: 5 * time.Minute}
	roads    = track.Track{ID: "sp-roads", Title: "Roads", ArtistName: "Portishead", Duration: 5 * time.Minute}
)

type fakeCatalog struct {
	mu           sync.Mutex
	tracks       []track.Track
	played       []string
	authorizeErr error
	playErr      error
	queries      []string
}

func (f *fakeCatalog) Authorize(ctx context.Context) error { return f.authorizeErr }

func (f *fakeCatalog) Search(ctx context.Context, query string, limit int) ([]track.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	return f.tracks, nil
}

func (f *fakeCatalog) Play(ctx context.Context, t track.Track) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.playErr != nil {
		return f.playErr
	}
	f.played = append(f.played, t.ID)
	return nil
}

func (f *fakeCatalog) EnqueueNext(ctx context.Context, t track.Track) error { return nil }

func (f *fakeCatalog) CurrentlyPlaying(ctx context.Context) (*track.NowPlaying, error) {
	return nil, nil
}

func (f *fakeCatalog) failPlay(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playErr = err
}

func (f *fakeCatalog) playedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.played...)
}

type fakeRecommender struct {
	mu        sync.Mutex
	requests  []ai.SelectRequest
	rec       *ai.Recommendation
	gate      chan struct{} // when set, SelectNextSong waits on it
	direction *ai.Direction
}

func (f *fakeRecommender) SelectNextSong(ctx context.Context, req ai.SelectRequest) (*ai.Recommendation, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	gate := f.gate
	rec := *f.rec
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &rec, nil
}

func (f *fakeRecommender) GenerateDirectionChange(ctx context.Context, personaStyle string, history []ai.HistoryItem) (*ai.Direction, error) {
	if f.direction == nil {
		return nil, errors.New("no idea")
	}
	return f.direction, nil
}

func (f *fakeRecommender) lastRequest() ai.SelectRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestManager(t *testing.T, catalog *fakeCatalog, rec *fakeRecommender) *Manager {
	t.Helper()
	personas, err := persona.NewProvider([]persona.Persona{
		{Name: "Crate Digger", Style: "deep cuts"},
		{Name: "Night Owl", Style: "late night soul"},
	}, 0)
	require.NoError(t, err)
	m := NewManager(catalog, rec, personas, Options{})
	t.Cleanup(m.Close)
	return m
}

func waitQueued(t *testing.T, m *Manager) session.Entry {
	t.Helper()
	var queued session.Entry
	require.Eventually(t, func() bool {
		st := m.State()
		if len(st.Queue) == 0 || st.AIThinking {
			return false
		}
		queued = st.Queue[0]
		return true
	}, 2*time.Second, 5*time.Millisecond)
	return queued
}

func TestStart(t *testing.T) {
	m := newTestManager(t, &fakeCatalog{}, &fakeRecommender{rec: &ai.Recommendation{}})
	require.NoError(t, m.Start(context.Background()))
	assert.ErrorIs(t, m.Start(context.Background()), ErrAlreadyStarted)
}

func TestStart_AuthorizeFails(t *testing.T) {
	m := newTestManager(t, &fakeCatalog{authorizeErr: errors.New("expired")}, &fakeRecommender{rec: &ai.Recommendation{}})
	assert.Error(t, m.Start(context.Background()))
}

func TestSelectTrack_NothingPlaying(t *testing.T) {
	catalog := &fakeCatalog{tracks: []track.Track{teardrop}}
	rec := &fakeRecommender{rec: &ai.Recommendation{Artist: "Massive Attack", Title: "Teardrop", Rationale: "trip-hop follow up"}}
	m := newTestManager(t, catalog, rec)

	e, err := m.SelectTrack(context.Background(), heroes)
	require.NoError(t, err)
	assert.Equal(t, session.StatusPlaying, e.QueueStatus)
	assert.Equal(t, []string{heroes.ID}, catalog.playedIDs())

	st := m.State()
	playing, ok := st.Playing()
	require.True(t, ok)
	assert.Equal(t, heroes.ID, playing.Track.ID)
	assert.Equal(t, session.SelectorAI, st.CurrentTurn)
	assert.Equal(t, []track.Track{heroes}, m.RecentTracks(5))

	queued := waitQueued(t, m)
	assert.Equal(t, teardrop.ID, queued.Track.ID)
	assert.Equal(t, session.StatusUpNext, queued.QueueStatus)
	assert.Equal(t, session.SelectorAI, queued.SelectedBy)
}

func TestSelectTrack_WhilePlayingQueuesHumanPick(t *testing.T) {
	catalog := &fakeCatalog{tracks: []track.Track{teardrop}}
	rec := &fakeRecommender{rec: &ai.Recommendation{Artist: "Massive Attack", Title: "Teardrop"}}
	m := newTestManager(t, catalog, rec)

	_, err := m.SelectTrack(context.Background(), heroes)
	require.NoError(t, err)
	waitQueued(t, m)

	e, err := m.SelectTrack(context.Background(), roads)
	require.NoError(t, err)
	assert.Equal(t, session.StatusUpNext, e.QueueStatus)

	st := m.State()
	require.Len(t, st.Queue, 1, "AI pick is discarded")
	assert.Equal(t, e.ID, st.Queue[0].ID)
	assert.Equal(t, session.SelectorUser, st.Queue[0].SelectedBy)
	assert.False(t, st.AIThinking)
	assert.Equal(t, []string{heroes.ID}, catalog.playedIDs())
}

func TestSelectTrack_SupersedesInFlightPick(t *testing.T) {
	catalog := &fakeCatalog{tracks: []track.Track{teardrop}}
	rec := &fakeRecommender{rec: &ai.Recommendation{Artist: "Massive Attack", Title: "Teardrop"}, gate: make(chan struct{})}
	m := newTestManager(t, catalog, rec)

	_, err := m.SelectTrack(context.Background(), heroes)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.requests) == 1
	}, time.Second, 5*time.Millisecond)

	human, err := m.SelectTrack(context.Background(), roads)
	require.NoError(t, err)

	rec.mu.Lock()
	close(rec.gate)
	rec.mu.Unlock()
	m.dj.Wait()

	st := m.State()
	require.Len(t, st.Queue, 1)
	assert.Equal(t, human.ID, st.Queue[0].ID)
	assert.False(t, st.AIThinking)
}

func TestSelectTrack_Errors(t *testing.T) {
	catalog := &fakeCatalog{playErr: errors.New("no active device")}
	m := newTestManager(t, catalog, &fakeRecommender{rec: &ai.Recommendation{}})

	_, err := m.SelectTrack(context.Background(), track.Track{})
	assert.ErrorIs(t, err, ErrInvalidTrack)

	_, err = m.SelectTrack(context.Background(), heroes)
	assert.Error(t, err)
	_, ok := m.State().Playing()
	assert.False(t, ok, "nothing starts when the player refuses")
}

func TestSkipTo(t *testing.T) {
	catalog := &fakeCatalog{tracks: []track.Track{teardrop}}
	rec := &fakeRecommender{rec: &ai.Recommendation{Artist: "Massive Attack", Title: "Teardrop"}}
	m := newTestManager(t, catalog, rec)

	_, err := m.SelectTrack(context.Background(), heroes)
	require.NoError(t, err)
	queued := waitQueued(t, m)

	e, err := m.SkipTo(context.Background(), queued.ID)
	require.NoError(t, err)
	assert.Equal(t, queued.ID, e.ID)
	assert.Equal(t, []string{heroes.ID, teardrop.ID}, catalog.playedIDs())
	assert.Equal(t, session.SelectorUser, m.State().CurrentTurn)

	_, err = m.SkipTo(context.Background(), "missing")
	assert.ErrorIs(t, err, state.ErrEntryNotFound)
}

func TestSkipTo_PlayerRefuses(t *testing.T) {
	catalog := &fakeCatalog{tracks: []track.Track{teardrop}}
	rec := &fakeRecommender{rec: &ai.Recommendation{Artist: "Massive Attack", Title: "Teardrop"}}
	m := newTestManager(t, catalog, rec)

	_, err := m.SelectTrack(context.Background(), heroes)
	require.NoError(t, err)
	queued := waitQueued(t, m)
	rec.mu.Lock()
	requests := len(rec.requests)
	rec.mu.Unlock()

	catalog.failPlay(errors.New("device offline"))
	_, err = m.SkipTo(context.Background(), queued.ID)
	require.Error(t, err)

	st := m.State()
	playing, ok := st.Playing()
	require.True(t, ok)
	assert.Equal(t, heroes.ID, playing.Track.ID, "the session follows the player")
	require.Len(t, st.Queue, 1)
	assert.Equal(t, queued.ID, st.Queue[0].ID)
	assert.Equal(t, session.SelectorAI, st.CurrentTurn)
	assert.False(t, st.AIThinking)
	assert.Equal(t, []string{heroes.ID}, catalog.playedIDs())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.requests, requests, "no new pick is started")
}

func TestSkipTo_PlayedEntry(t *testing.T) {
	m := newTestManager(t, &fakeCatalog{}, &fakeRecommender{rec: &ai.Recommendation{}})

	e, err := m.SelectTrack(context.Background(), heroes)
	require.NoError(t, err)

	_, err = m.SkipTo(context.Background(), e.ID)
	assert.ErrorIs(t, err, state.ErrEntryNotFound)
}

func TestSearch(t *testing.T) {
	catalog := &fakeCatalog{tracks: []track.Track{heroes}}
	m := newTestManager(t, catalog, &fakeRecommender{rec: &ai.Recommendation{}})

	got, err := m.Search(context.Background(), "  bowie heroes ")
	require.NoError(t, err)
	assert.Equal(t, []track.Track{heroes}, got)
	assert.Equal(t, []string{"bowie heroes"}, catalog.queries)

	_, err = m.Search(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestChangeDirection(t *testing.T) {
	catalog := &fakeCatalog{tracks: []track.Track{teardrop}}
	rec := &fakeRecommender{
		rec:       &ai.Recommendation{Artist: "Massive Attack", Title: "Teardrop"},
		direction: &ai.Direction{Prompt: "go darker and slower", Label: "Darker"},
	}
	m := newTestManager(t, catalog, rec)

	_, err := m.SelectTrack(context.Background(), heroes)
	require.NoError(t, err)
	waitQueued(t, m)

	d, err := m.ChangeDirection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Darker", d.Label)
	assert.Equal(t, "Darker", m.DirectionLabel())

	waitQueued(t, m)
	assert.Equal(t, "go darker and slower", rec.lastRequest().Direction)
	assert.Empty(t, m.dj.Direction(), "consumed by the pick")
}

func TestChangeDirection_Error(t *testing.T) {
	m := newTestManager(t, &fakeCatalog{}, &fakeRecommender{rec: &ai.Recommendation{}})
	_, err := m.ChangeDirection(context.Background())
	assert.Error(t, err)
}

func TestSetPersona(t *testing.T) {
	m := newTestManager(t, &fakeCatalog{}, &fakeRecommender{rec: &ai.Recommendation{}})

	p, err := m.SetPersona("night owl")
	require.NoError(t, err)
	assert.Equal(t, "Night Owl", p.Name)

	all, active := m.Personas()
	assert.Len(t, all, 2)
	assert.Equal(t, "Night Owl", active.Name)

	_, err = m.SetPersona("nobody")
	assert.ErrorIs(t, err, persona.ErrUnknownPersona)
}

func TestReset(t *testing.T) {
	catalog := &fakeCatalog{tracks: []track.Track{teardrop}}
	m := newTestManager(t, catalog, &fakeRecommender{rec: &ai.Recommendation{Artist: "Massive Attack", Title: "Teardrop"}})

	_, err := m.SelectTrack(context.Background(), heroes)
	require.NoError(t, err)
	waitQueued(t, m)

	m.Reset()
	st := m.State()
	assert.Empty(t, st.History)
	assert.Empty(t, st.Queue)
	assert.Equal(t, session.SelectorUser, st.CurrentTurn)
}

type chanStream struct {
	ch chan *notification.Notification
}

func (c *chanStream) Send(n *notification.Notification) error {
	c.ch <- n
	return nil
}

func TestSubscribe(t *testing.T) {
	m := newTestManager(t, &fakeCatalog{tracks: []track.Track{teardrop}}, &fakeRecommender{rec: &ai.Recommendation{Artist: "Massive Attack", Title: "Teardrop"}})
	stream := &chanStream{ch: make(chan *notification.Notification, 64)}

	id := m.Subscribe(stream)
	first := <-stream.ch
	assert.Empty(t, first.State.History)

	_, err := m.SelectTrack(context.Background(), heroes)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		select {
		case n := <-stream.ch:
			_, ok := n.State.Playing()
			return ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)

	m.Unsubscribe(id)
}
