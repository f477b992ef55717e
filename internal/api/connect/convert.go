package connect

import (
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/osa030/turntable/internal/app/persona"
	"github.com/osa030/turntable/internal/domain/session"
	"github.com/osa030/turntable/internal/domain/track"
)

// StateView is everything a snapshot message carries.
type StateView struct {
	SequenceNo     uint64
	State          session.State
	PlayerState    string
	DirectionLabel string
	Persona        string
}

func trackToMap(t track.Track) map[string]any {
	return map[string]any{
		"id":          t.ID,
		"title":       t.Title,
		"artist":      t.ArtistName,
		"album":       t.Album,
		"duration_ms": t.Duration.Milliseconds(),
		"uri":         t.URI,
	}
}

func entryToMap(e session.Entry) map[string]any {
	return map[string]any{
		"id":           e.ID,
		"track":        trackToMap(e.Track),
		"selected_by":  e.SelectedBy.String(),
		"rationale":    e.Rationale,
		"timestamp":    e.Timestamp.UTC().Format(time.RFC3339),
		"queue_status": e.QueueStatus.String(),
	}
}

func entriesToList(entries []session.Entry) []any {
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryToMap(e))
	}
	return out
}

func personaToMap(p persona.Persona) map[string]any {
	tags := make([]any, 0, len(p.BlockedTags))
	for _, t := range p.BlockedTags {
		tags = append(tags, t)
	}
	return map[string]any{
		"name":         p.Name,
		"style":        p.Style,
		"blocked_tags": tags,
	}
}

// StateToStruct encodes a snapshot.
func StateToStruct(v StateView) (*structpb.Struct, error) {
	m := map[string]any{
		"sequence_no":  v.SequenceNo,
		"history":      entriesToList(v.State.History),
		"queue":        entriesToList(v.State.Queue),
		"current_turn": v.State.CurrentTurn.String(),
		"ai_thinking":  v.State.AIThinking,
		"notice":       v.State.Notice,
		"player_state": v.PlayerState,
		"direction":    v.DirectionLabel,
		"persona":      v.Persona,
	}
	if e, ok := v.State.Playing(); ok {
		m["now_playing"] = entryToMap(e)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode state")
	}
	return s, nil
}

// TrackFromStruct decodes a track sent by a client.
func TrackFromStruct(s *structpb.Struct) (track.Track, error) {
	if s == nil {
		return track.Track{}, errors.New("track is required")
	}
	f := s.GetFields()
	t := track.Track{
		ID:         f["id"].GetStringValue(),
		Title:      f["title"].GetStringValue(),
		ArtistName: f["artist"].GetStringValue(),
		Album:      f["album"].GetStringValue(),
		Duration:   time.Duration(f["duration_ms"].GetNumberValue()) * time.Millisecond,
		URI:        f["uri"].GetStringValue(),
	}
	if t.ID == "" {
		return track.Track{}, errors.New("track id is required")
	}
	return t, nil
}

// stringField returns a string field of a request message.
func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

func newStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode response")
	}
	return s, nil
}
