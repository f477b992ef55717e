package connect

import (
	"context"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/turntable/internal/app/notification"
	"github.com/osa030/turntable/internal/app/persona"
	"github.com/osa030/turntable/internal/app/playback"
	appsession "github.com/osa030/turntable/internal/app/session"
	"github.com/osa030/turntable/internal/app/session/state"
	"github.com/osa030/turntable/internal/domain/session"
	"github.com/osa030/turntable/internal/domain/track"
	"github.com/osa030/turntable/internal/infra/ai"
)

// ServiceName is the fully-qualified name of the session service.
const ServiceName = "turntable.v1.SessionService"

// Procedure paths.
const (
	GetStateProcedure        = "/" + ServiceName + "/GetState"
	SearchProcedure          = "/" + ServiceName + "/Search"
	SelectTrackProcedure     = "/" + ServiceName + "/SelectTrack"
	SkipToProcedure          = "/" + ServiceName + "/SkipTo"
	ChangeDirectionProcedure = "/" + ServiceName + "/ChangeDirection"
	ListPersonasProcedure    = "/" + ServiceName + "/ListPersonas"
	SetPersonaProcedure      = "/" + ServiceName + "/SetPersona"
	ResetProcedure           = "/" + ServiceName + "/Reset"
	WatchStateProcedure      = "/" + ServiceName + "/WatchState"
)

// Session is the engine behind the service.
type Session interface {
	State() session.State
	PlayerState() playback.State
	DirectionLabel() string
	Personas() ([]persona.Persona, persona.Persona)
	Search(ctx context.Context, query string) ([]track.Track, error)
	SelectTrack(ctx context.Context, t track.Track) (session.Entry, error)
	SkipTo(ctx context.Context, entryID string) (session.Entry, error)
	ChangeDirection(ctx context.Context) (*ai.Direction, error)
	SetPersona(name string) (persona.Persona, error)
	Reset()
	Subscribe(stream notification.Stream) string
	Unsubscribe(id string)
	Done() <-chan struct{}
}

// TrackLookup resolves a catalog id, URL or URI to a track.
type TrackLookup interface {
	GetTrack(ctx context.Context, id string) (track.Track, error)
}

// SessionService implements the session control RPCs.
type SessionService struct {
	session Session
	lookup  TrackLookup
}

// NewSessionService creates a new SessionService. lookup may be nil, in
// which case SelectTrack requires a full track.
func NewSessionService(s Session, lookup TrackLookup) *SessionService {
	return &SessionService{
		session: s,
		lookup:  lookup,
	}
}

// NewSessionServiceHandler builds an HTTP handler serving every procedure
// of the service. It returns the path prefix to mount it on.
func NewSessionServiceHandler(svc *SessionService, opts ...connect.HandlerOption) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(GetStateProcedure, connect.NewUnaryHandler(GetStateProcedure, svc.GetState, opts...))
	mux.Handle(SearchProcedure, connect.NewUnaryHandler(SearchProcedure, svc.Search, opts...))
	mux.Handle(SelectTrackProcedure, connect.NewUnaryHandler(SelectTrackProcedure, svc.SelectTrack, opts...))
	mux.Handle(SkipToProcedure, connect.NewUnaryHandler(SkipToProcedure, svc.SkipTo, opts...))
	mux.Handle(ChangeDirectionProcedure, connect.NewUnaryHandler(ChangeDirectionProcedure, svc.ChangeDirection, opts...))
	mux.Handle(ListPersonasProcedure, connect.NewUnaryHandler(ListPersonasProcedure, svc.ListPersonas, opts...))
	mux.Handle(SetPersonaProcedure, connect.NewUnaryHandler(SetPersonaProcedure, svc.SetPersona, opts...))
	mux.Handle(ResetProcedure, connect.NewUnaryHandler(ResetProcedure, svc.Reset, opts...))
	mux.Handle(WatchStateProcedure, connect.NewServerStreamHandler(WatchStateProcedure, svc.WatchState, opts...))
	return "/" + ServiceName + "/", mux
}

// GetState returns the current session snapshot.
func (s *SessionService) GetState(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	msg, err := s.snapshot(0, s.session.State())
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Search handles catalog searches.
func (s *SessionService) Search(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	tracks, err := s.session.Search(ctx, stringField(req.Msg, "query"))
	if err != nil {
		return nil, toConnectError(err)
	}

	list := make([]any, 0, len(tracks))
	for _, t := range tracks {
		list = append(list, trackToMap(t))
	}
	msg, err := newStruct(map[string]any{"tracks": list})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// SelectTrack handles the human's pick, given either a track_id (id, URL
// or URI) or a full track.
func (s *SessionService) SelectTrack(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	t, err := s.resolveTrack(ctx, req.Msg)
	if err != nil {
		return nil, err
	}

	e, err := s.session.SelectTrack(ctx, t)
	if err != nil {
		return nil, toConnectError(err)
	}
	return entryResponse(e)
}

// SkipTo jumps to a queued entry.
func (s *SessionService) SkipTo(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	id := stringField(req.Msg, "entry_id")
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("entry_id is required"))
	}

	e, err := s.session.SkipTo(ctx, id)
	if err != nil {
		return nil, toConnectError(err)
	}
	return entryResponse(e)
}

// ChangeDirection asks the AI for a new direction.
func (s *SessionService) ChangeDirection(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	d, err := s.session.ChangeDirection(ctx)
	if err != nil {
		return nil, toConnectError(err)
	}
	msg, err := newStruct(map[string]any{
		"label":  d.Label,
		"prompt": d.Prompt,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// ListPersonas returns the configured personas.
func (s *SessionService) ListPersonas(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[structpb.Struct], error) {
	list, active := s.session.Personas()
	personas := make([]any, 0, len(list))
	for _, p := range list {
		personas = append(personas, personaToMap(p))
	}
	msg, err := newStruct(map[string]any{
		"personas": personas,
		"active":   active.Name,
	})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// SetPersona switches the active persona.
func (s *SessionService) SetPersona(
	ctx context.Context,
	req *connect.Request[structpb.Struct],
) (*connect.Response[structpb.Struct], error) {
	p, err := s.session.SetPersona(stringField(req.Msg, "name"))
	if err != nil {
		return nil, toConnectError(err)
	}
	msg, err := newStruct(map[string]any{"persona": personaToMap(p)})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// Reset clears the session.
func (s *SessionService) Reset(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
) (*connect.Response[emptypb.Empty], error) {
	s.session.Reset()
	return connect.NewResponse(&emptypb.Empty{}), nil
}

// WatchState streams a snapshot after every session change, starting with
// the current state.
func (s *SessionService) WatchState(
	ctx context.Context,
	req *connect.Request[emptypb.Empty],
	stream *connect.ServerStream[structpb.Struct],
) error {
	adapter := &stateStreamAdapter{service: s, stream: stream}
	subscriptionID := s.session.Subscribe(adapter)

	// Wait for context cancellation or session end
	select {
	case <-ctx.Done():
	case <-s.session.Done():
	}

	s.session.Unsubscribe(subscriptionID)
	adapter.close()
	return nil
}

func (s *SessionService) snapshot(seq uint64, st session.State) (*structpb.Struct, error) {
	_, active := s.session.Personas()
	return StateToStruct(StateView{
		SequenceNo:     seq,
		State:          st,
		PlayerState:    s.session.PlayerState().String(),
		DirectionLabel: s.session.DirectionLabel(),
		Persona:        active.Name,
	})
}

func (s *SessionService) resolveTrack(ctx context.Context, msg *structpb.Struct) (track.Track, error) {
	if id := stringField(msg, "track_id"); id != "" {
		if s.lookup == nil {
			return track.Track{}, connect.NewError(connect.CodeUnimplemented, errors.New("track lookup is not available"))
		}
		t, err := s.lookup.GetTrack(ctx, id)
		if err != nil {
			return track.Track{}, connect.NewError(connect.CodeNotFound, err)
		}
		return t, nil
	}

	t, err := TrackFromStruct(msg.GetFields()["track"].GetStructValue())
	if err != nil {
		return track.Track{}, connect.NewError(connect.CodeInvalidArgument, err)
	}
	return t, nil
}

func entryResponse(e session.Entry) (*connect.Response[structpb.Struct], error) {
	msg, err := newStruct(map[string]any{"entry": entryToMap(e)})
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(msg), nil
}

// toConnectError maps engine errors to Connect codes.
func toConnectError(err error) error {
	switch {
	case errors.Is(err, appsession.ErrInvalidTrack),
		errors.Is(err, appsession.ErrEmptyQuery):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, state.ErrEntryNotFound),
		errors.Is(err, persona.ErrUnknownPersona):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, appsession.ErrNoDirection):
		return connect.NewError(connect.CodeUnavailable, err)
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}

// stateStreamAdapter adapts connect.ServerStream to notification.Stream.
// Sends are serialized and stop once the handler has returned.
type stateStreamAdapter struct {
	service *SessionService
	stream  *connect.ServerStream[structpb.Struct]

	mu     sync.Mutex
	closed bool
}

func (a *stateStreamAdapter) Send(n *notification.Notification) error {
	msg, err := a.service.snapshot(n.SequenceNo, n.State)
	if err != nil {
		zlog.Error().Msgf("connect: encode snapshot seq=%d: %v", n.SequenceNo, err)
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return errors.New("stream closed")
	}
	return a.stream.Send(msg)
}

func (a *stateStreamAdapter) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
}
