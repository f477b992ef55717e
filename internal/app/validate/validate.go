// Package validate provides pluggable, fail-open checks on AI track picks.
package validate

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/osa030/turntable/internal/app/persona"
	"github.com/osa030/turntable/internal/domain/track"
	"github.com/osa030/turntable/internal/infra/ai"
	"github.com/osa030/turntable/internal/infra/lastfm"
)

// Verdict is a validator's decision.
type Verdict struct {
	IsValid bool
	Reason  string
}

// Accept returns an accepting verdict.
func Accept() *Verdict {
	return &Verdict{IsValid: true}
}

// Reject returns a rejecting verdict with the given reason.
func Reject(reason string) *Verdict {
	return &Verdict{IsValid: false, Reason: reason}
}

// Validator checks whether a resolved track suits the persona.
// A nil verdict or an error means "no objection".
type Validator interface {
	// Name returns the validator name (used in config).
	Name() string
	// Description returns a human-readable description.
	Description() string
	// ValidateConfig decodes and validates the validator settings.
	ValidateConfig(settings map[string]any) error
	// Validate checks the track.
	Validate(ctx context.Context, t track.Track, p persona.Persona) (*Verdict, error)
}

// TagSource looks up Last.fm tags.
type TagSource interface {
	GetTopTags(ctx context.Context, trackName, artistName string, limit int) ([]lastfm.Tag, error)
}

// FitJudge asks the AI service whether a track fits a persona.
type FitJudge interface {
	JudgeFit(ctx context.Context, artist, title, personaStyle string) (*ai.FitVerdict, error)
}

// HistorySource returns recently played tracks, oldest first.
type HistorySource interface {
	RecentTracks(n int) []track.Track
}

// Deps are the collaborators validators may need. Nil fields disable validators that need them.
type Deps struct {
	Tags    TagSource
	Judge   FitJudge
	History HistorySource
}

// Factory builds a validator.
type Factory func(deps Deps) (Validator, error)

// registry holds registered validator factories.
var registry = make(map[string]Factory)

// Register registers a validator factory.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// GetRegistered returns all registered validator factories.
func GetRegistered() map[string]Factory {
	return registry
}

// Names returns the registered validator names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// decodeSettings decodes a settings map into out, applies defaults and validates it.
func decodeSettings(settings map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create decoder")
	}
	if err := decoder.Decode(settings); err != nil {
		return errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(out); err != nil {
		return errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(out); err != nil {
		return errors.Wrap(err, "validation failed")
	}
	return nil
}
