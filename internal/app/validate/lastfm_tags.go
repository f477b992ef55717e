package validate

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/turntable/internal/app/persona"
	"github.com/osa030/turntable/internal/domain/track"
)

// LastfmTagsConfig represents the configuration for LastfmTagsValidator.
type LastfmTagsConfig struct {
	TagLimit    int      `yaml:"tag_limit" mapstructure:"tag_limit" default:"5" validate:"gte=1,lte=50"`
	BlockedTags []string `yaml:"blocked_tags" mapstructure:"blocked_tags"`
}

// LastfmTagsValidator rejects tracks whose top Last.fm tags include a blocked tag.
// Blocked tags come from the settings and from the active persona.
type LastfmTagsValidator struct {
	tags   TagSource
	config *LastfmTagsConfig
}

// NewLastfmTagsValidator creates a new Last.fm tag validator.
func NewLastfmTagsValidator(tags TagSource) *LastfmTagsValidator {
	return &LastfmTagsValidator{tags: tags}
}

func (v *LastfmTagsValidator) Name() string {
	return "lastfm_tags"
}

func (v *LastfmTagsValidator) Description() string {
	return "Rejects tracks tagged on Last.fm with a tag the persona blocks"
}

func (v *LastfmTagsValidator) ValidateConfig(settings map[string]any) error {
	var config LastfmTagsConfig
	if err := decodeSettings(settings, &config); err != nil {
		return err
	}
	v.config = &config
	zlog.Info().Msgf("lastfm tags validator config: %+v", config)
	return nil
}

func (v *LastfmTagsValidator) Validate(ctx context.Context, t track.Track, p persona.Persona) (*Verdict, error) {
	if v.config == nil {
		return nil, nil
	}

	blocked := make(map[string]bool)
	for _, tag := range v.config.BlockedTags {
		blocked[strings.ToLower(tag)] = true
	}
	for _, tag := range p.BlockedTags {
		blocked[strings.ToLower(tag)] = true
	}
	if len(blocked) == 0 {
		return nil, nil
	}

	tags, err := v.tags.GetTopTags(ctx, t.Title, t.ArtistName, v.config.TagLimit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get top tags")
	}

	for _, tag := range tags {
		if blocked[strings.ToLower(tag.Name)] {
			return Reject(fmt.Sprintf("track is tagged %q, which %s does not play", tag.Name, p.Name)), nil
		}
	}
	return Accept(), nil
}

func init() {
	Register("lastfm_tags", func(deps Deps) (Validator, error) {
		if deps.Tags == nil {
			return nil, errors.New("lastfm_tags requires a Last.fm client")
		}
		return NewLastfmTagsValidator(deps.Tags), nil
	})
}
