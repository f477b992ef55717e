package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// SessionServiceClient is a client for the session service.
type SessionServiceClient struct {
	token string

	getState        *connect.Client[emptypb.Empty, structpb.Struct]
	search          *connect.Client[structpb.Struct, structpb.Struct]
	selectTrack     *connect.Client[structpb.Struct, structpb.Struct]
	skipTo          *connect.Client[structpb.Struct, structpb.Struct]
	changeDirection *connect.Client[emptypb.Empty, structpb.Struct]
	listPersonas    *connect.Client[emptypb.Empty, structpb.Struct]
	setPersona      *connect.Client[structpb.Struct, structpb.Struct]
	reset           *connect.Client[emptypb.Empty, emptypb.Empty]
	watchState      *connect.Client[emptypb.Empty, structpb.Struct]
}

// NewSessionServiceClient creates a client for the service at baseURL.
func NewSessionServiceClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *SessionServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &SessionServiceClient{
		token:           token,
		getState:        connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+GetStateProcedure, opts...),
		search:          connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+SearchProcedure, opts...),
		selectTrack:     connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+SelectTrackProcedure, opts...),
		skipTo:          connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+SkipToProcedure, opts...),
		changeDirection: connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+ChangeDirectionProcedure, opts...),
		listPersonas:    connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+ListPersonasProcedure, opts...),
		setPersona:      connect.NewClient[structpb.Struct, structpb.Struct](httpClient, baseURL+SetPersonaProcedure, opts...),
		reset:           connect.NewClient[emptypb.Empty, emptypb.Empty](httpClient, baseURL+ResetProcedure, opts...),
		watchState:      connect.NewClient[emptypb.Empty, structpb.Struct](httpClient, baseURL+WatchStateProcedure, opts...),
	}
}

// GetState fetches the current snapshot.
func (c *SessionServiceClient) GetState(ctx context.Context) (*structpb.Struct, error) {
	return unary(ctx, c.getState, c.token, &emptypb.Empty{})
}

// Search searches the catalog.
func (c *SessionServiceClient) Search(ctx context.Context, query string) (*structpb.Struct, error) {
	req, err := newStruct(map[string]any{"query": query})
	if err != nil {
		return nil, err
	}
	return unary(ctx, c.search, c.token, req)
}

// SelectTrack picks a track by catalog id, URL or URI.
func (c *SessionServiceClient) SelectTrack(ctx context.Context, trackID string) (*structpb.Struct, error) {
	req, err := newStruct(map[string]any{"track_id": trackID})
	if err != nil {
		return nil, err
	}
	return unary(ctx, c.selectTrack, c.token, req)
}

// SkipTo jumps to a queued entry.
func (c *SessionServiceClient) SkipTo(ctx context.Context, entryID string) (*structpb.Struct, error) {
	req, err := newStruct(map[string]any{"entry_id": entryID})
	if err != nil {
		return nil, err
	}
	return unary(ctx, c.skipTo, c.token, req)
}

// ChangeDirection asks the AI for a new direction.
func (c *SessionServiceClient) ChangeDirection(ctx context.Context) (*structpb.Struct, error) {
	return unary(ctx, c.changeDirection, c.token, &emptypb.Empty{})
}

// ListPersonas lists the configured personas.
func (c *SessionServiceClient) ListPersonas(ctx context.Context) (*structpb.Struct, error) {
	return unary(ctx, c.listPersonas, c.token, &emptypb.Empty{})
}

// SetPersona switches the active persona.
func (c *SessionServiceClient) SetPersona(ctx context.Context, name string) (*structpb.Struct, error) {
	req, err := newStruct(map[string]any{"name": name})
	if err != nil {
		return nil, err
	}
	return unary(ctx, c.setPersona, c.token, req)
}

// Reset clears the session.
func (c *SessionServiceClient) Reset(ctx context.Context) error {
	_, err := unary(ctx, c.reset, c.token, &emptypb.Empty{})
	return err
}

// WatchState calls fn for every snapshot until the stream ends, ctx is
// cancelled, or fn returns an error.
func (c *SessionServiceClient) WatchState(ctx context.Context, fn func(*structpb.Struct) error) error {
	req := connect.NewRequest(&emptypb.Empty{})
	req.Header().Set(TokenHeader, c.token)

	stream, err := c.watchState.CallServerStream(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Receive() {
		if err := fn(stream.Msg()); err != nil {
			return err
		}
	}
	return stream.Err()
}

func unary[Req, Res any](ctx context.Context, client *connect.Client[Req, Res], token string, msg *Req) (*Res, error) {
	req := connect.NewRequest(msg)
	req.Header().Set(TokenHeader, token)
	resp, err := client.CallUnary(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}
