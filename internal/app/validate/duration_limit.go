package validate

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/turntable/internal/app/persona"
	"github.com/osa030/turntable/internal/domain/track"
)

// DurationLimitConfig represents the configuration for DurationLimitValidator.
type DurationLimitConfig struct {
	MinMinutes float64 `yaml:"min_minutes" mapstructure:"min_minutes" default:"1" validate:"gte=0"`
	MaxMinutes float64 `yaml:"max_minutes" mapstructure:"max_minutes" validate:"gte=0"`
}

// DurationLimitValidator rejects tracks outside the configured length.
type DurationLimitValidator struct {
	config *DurationLimitConfig
}

// NewDurationLimitValidator creates a new duration limit validator.
func NewDurationLimitValidator() *DurationLimitValidator {
	return &DurationLimitValidator{}
}

func (v *DurationLimitValidator) Name() string {
	return "duration_limit"
}

func (v *DurationLimitValidator) Description() string {
	return "Rejects tracks shorter or longer than the configured limits"
}

func (v *DurationLimitValidator) ValidateConfig(settings map[string]any) error {
	var config DurationLimitConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	if config.MaxMinutes > 0 && config.MinMinutes > config.MaxMinutes {
		return errors.New("min_minutes cannot be greater than max_minutes")
	}
	v.config = &config
	zlog.Info().Msgf("duration limit validator config: %+v", config)
	return nil
}

func (v *DurationLimitValidator) Validate(ctx context.Context, t track.Track, p persona.Persona) (*Verdict, error) {
	// Unknown duration or no config: no objection
	if v.config == nil || t.Duration <= 0 {
		return nil, nil
	}

	minutes := t.Duration.Minutes()
	if minutes < v.config.MinMinutes {
		return Reject(fmt.Sprintf("track is too short (%.1f min, minimum %.1f)", minutes, v.config.MinMinutes)), nil
	}
	if v.config.MaxMinutes > 0 && minutes > v.config.MaxMinutes {
		return Reject(fmt.Sprintf("track is too long (%.1f min, maximum %.1f)", minutes, v.config.MaxMinutes)), nil
	}
	return Accept(), nil
}

func init() {
	Register("duration_limit", func(Deps) (Validator, error) {
		return NewDurationLimitValidator(), nil
	})
}
