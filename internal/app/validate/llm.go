package validate

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/turntable/internal/app/persona"
	"github.com/osa030/turntable/internal/domain/track"
)

// LLMValidator asks the AI service whether the track fits the persona.
type LLMValidator struct {
	judge FitJudge
}

// NewLLMValidator creates a new LLM validator.
func NewLLMValidator(judge FitJudge) *LLMValidator {
	return &LLMValidator{judge: judge}
}

func (v *LLMValidator) Name() string {
	return "llm"
}

func (v *LLMValidator) Description() string {
	return "Asks the AI service whether the track fits the persona"
}

func (v *LLMValidator) ValidateConfig(settings map[string]any) error {
	// No configuration needed
	return nil
}

func (v *LLMValidator) Validate(ctx context.Context, t track.Track, p persona.Persona) (*Verdict, error) {
	fit, err := v.judge.JudgeFit(ctx, t.ArtistName, t.Title, p.Style)
	if err != nil {
		return nil, err
	}
	if fit == nil {
		return nil, nil
	}
	if fit.Fits {
		return Accept(), nil
	}
	return Reject(fit.Reason), nil
}

func init() {
	Register("llm", func(deps Deps) (Validator, error) {
		if deps.Judge == nil {
			return nil, errors.New("llm requires an AI client")
		}
		return NewLLMValidator(deps.Judge), nil
	})
}
