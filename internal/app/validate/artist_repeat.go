package validate

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/osa030/turntable/internal/app/matcher"
	"github.com/osa030/turntable/internal/app/persona"
	"github.com/osa030/turntable/internal/domain/track"
)

// ArtistRepeatConfig represents the configuration for ArtistRepeatValidator.
type ArtistRepeatConfig struct {
	Window int `yaml:"window" mapstructure:"window" default:"3" validate:"gte=1,lte=50"`
}

// ArtistRepeatValidator rejects a pick whose main artist played within the last few tracks.
// Artists are compared in normalized form, so "The Beatles" and "Beatles" are the same.
type ArtistRepeatValidator struct {
	history HistorySource
	config  *ArtistRepeatConfig
}

// NewArtistRepeatValidator creates a new artist repeat validator.
func NewArtistRepeatValidator(history HistorySource) *ArtistRepeatValidator {
	return &ArtistRepeatValidator{history: history}
}

func (v *ArtistRepeatValidator) Name() string {
	return "artist_repeat"
}

func (v *ArtistRepeatValidator) Description() string {
	return "Rejects tracks by an artist heard within the last few plays"
}

func (v *ArtistRepeatValidator) ValidateConfig(settings map[string]any) error {
	var config ArtistRepeatConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	v.config = &config
	return nil
}

func (v *ArtistRepeatValidator) Validate(ctx context.Context, t track.Track, p persona.Persona) (*Verdict, error) {
	if v.config == nil {
		return nil, nil
	}
	artist := matcher.Normalize(t.ArtistName)
	if artist == "" {
		return nil, nil
	}
	for _, recent := range v.history.RecentTracks(v.config.Window) {
		if matcher.Normalize(recent.ArtistName) == artist {
			return Reject(fmt.Sprintf("%s played within the last %d tracks", t.ArtistName, v.config.Window)), nil
		}
	}
	return Accept(), nil
}

func init() {
	Register("artist_repeat", func(deps Deps) (Validator, error) {
		if deps.History == nil {
			return nil, errors.New("artist_repeat requires a history source")
		}
		return NewArtistRepeatValidator(deps.History), nil
	})
}
