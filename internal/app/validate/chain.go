package validate

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/turntable/internal/app/persona"
	"github.com/osa030/turntable/internal/domain/track"
)

// Chain executes validators in sequence.
type Chain struct {
	validators []Validator
}

// NewChain creates a new validator chain.
func NewChain() *Chain {
	return &Chain{
		validators: make([]Validator, 0),
	}
}

// Settings is the per-validator configuration used by Build.
type Settings struct {
	Enabled  bool
	Settings map[string]any
}

// Build creates a chain from configuration, in registry name order.
// Unknown names are an error.
func Build(cfg map[string]Settings, deps Deps) (*Chain, error) {
	for name := range cfg {
		if _, ok := registry[name]; !ok {
			return nil, errors.Newf("unknown validator: %s", name)
		}
	}

	chain := NewChain()
	for _, name := range Names() {
		vc, ok := cfg[name]
		if !ok || !vc.Enabled {
			continue
		}
		v, err := registry[name](deps)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create validator %s", name)
		}
		if err := v.ValidateConfig(vc.Settings); err != nil {
			return nil, errors.Wrapf(err, "invalid settings for validator %s", name)
		}
		chain.Add(v)
	}
	return chain, nil
}

// Add adds a validator to the chain.
func (c *Chain) Add(v Validator) {
	c.validators = append(c.validators, v)
}

// Validate runs all validators in sequence.
// Returns the first rejection; errors and nil verdicts are treated as acceptance.
func (c *Chain) Validate(ctx context.Context, t track.Track, p persona.Persona) (*Verdict, error) {
	for _, v := range c.validators {
		verdict, err := v.Validate(ctx, t, p)
		if err != nil {
			zlog.Warn().Msgf("validator %s failed, accepting: track=%q err=%v", v.Name(), t.String(), err)
			continue
		}
		if verdict == nil || verdict.IsValid {
			continue
		}
		zlog.Info().Msgf("validator %s rejected track=%q reason=%q", v.Name(), t.String(), verdict.Reason)
		return verdict, nil
	}
	return Accept(), nil
}

// Validators returns all validators in the chain.
func (c *Chain) Validators() []Validator {
	return c.validators
}

// Len returns the number of validators in the chain.
func (c *Chain) Len() int {
	return len(c.validators)
}
