// Package ai provides a client for an OpenAI-compatible chat completions API
// used to pick tracks and steer the session.
package ai

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the OpenAI API endpoint.
const DefaultBaseURL = "https://api.openai.com/v1"

// ErrEmptyAnswer is returned when the model answers without content.
var ErrEmptyAnswer = errors.New("no answer from model")

// Config represents AI client configuration.
type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       float64
	RequestsPerMinute float64
}

// Client is an AI recommendation client.
type Client struct {
	baseURL     string
	model       string
	temperature float64
	chat        *openai.Client
	limiter     *rate.Limiter
}

// HistoryItem is one entry of the session history as shown to the model.
type HistoryItem struct {
	Artist     string
	Title      string
	SelectedBy string // "user" or "ai"
}

// SelectRequest is the input for SelectNextSong.
type SelectRequest struct {
	PersonaStyle    string
	History         []HistoryItem
	Exclusions      []string // "artist - title" pairs to avoid
	Suggestions     []string // "artist - title" ideas, e.g. similar to the current track
	Direction       string   // optional bias from GenerateDirectionChange
	AvoidRepeats    bool     // strengthened no-repeat instruction
	RejectionReason string   // reason a previous pick was rejected
}

// Recommendation is a free-text track pick.
type Recommendation struct {
	Artist    string `json:"artist"`
	Title     string `json:"title"`
	Rationale string `json:"rationale"`
}

// Direction biases the next selection.
type Direction struct {
	Prompt string `json:"prompt"`
	Label  string `json:"label"`
}

// FitVerdict is the model's judgement on whether a track fits a persona.
type FitVerdict struct {
	Fits   bool   `json:"fits"`
	Reason string `json:"reason"`
}

// IsTransient reports whether err is worth retrying: a network failure,
// a rate limit or a server error. Rejected requests and unreadable answers
// are not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return retryableStatus(apiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// New creates a new AI client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("ai API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("ai model is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	// No client timeout: the caller's context bounds the request.
	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = baseURL

	return &Client{
		baseURL:     baseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		chat:        openai.NewClientWithConfig(oc),
		limiter:     rate.NewLimiter(rate.Limit(rpm/60), 1),
	}, nil
}

// SelectNextSong asks the model for exactly one next track.
func (c *Client) SelectNextSong(ctx context.Context, req SelectRequest) (*Recommendation, error) {
	var rec Recommendation
	if err := c.complete(ctx, systemPrompt, buildSelectPrompt(req), c.temperature, &rec); err != nil {
		return nil, errors.Wrap(err, "failed to select next song")
	}
	rec.Artist = strings.TrimSpace(rec.Artist)
	rec.Title = strings.TrimSpace(rec.Title)
	if rec.Artist == "" || rec.Title == "" {
		zlog.Warn().Msgf("ai: incomplete recommendation artist=%q title=%q", rec.Artist, rec.Title)
		return nil, nil
	}
	return &rec, nil
}

// GenerateDirectionChange asks the model for a new direction for the session.
func (c *Client) GenerateDirectionChange(ctx context.Context, personaStyle string, history []HistoryItem) (*Direction, error) {
	var d Direction
	if err := c.complete(ctx, systemPrompt, buildDirectionPrompt(personaStyle, history), c.temperature+0.3, &d); err != nil {
		return nil, errors.Wrap(err, "failed to generate direction change")
	}
	if d.Prompt == "" {
		return nil, errors.New("empty direction from model")
	}
	if d.Label == "" {
		d.Label = d.Prompt
	}
	return &d, nil
}

// JudgeFit asks the model whether a track fits the persona.
func (c *Client) JudgeFit(ctx context.Context, artist, title, personaStyle string) (*FitVerdict, error) {
	var v FitVerdict
	if err := c.complete(ctx, judgeSystemPrompt, buildJudgePrompt(artist, title, personaStyle), 0, &v); err != nil {
		return nil, errors.Wrap(err, "failed to judge fit")
	}
	return &v, nil
}

// complete sends one chat completion and decodes the JSON answer into out.
func (c *Client) complete(ctx context.Context, system, user string, temperature float64, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limiter")
	}

	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: float32(clampTemperature(temperature)),
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return errors.Wrap(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return ErrEmptyAnswer
	}

	content := extractJSON(resp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), out); err != nil {
		return errors.Wrapf(err, "failed to parse model answer %q", content)
	}
	zlog.Debug().Msgf("ai: answer=%s", content)
	return nil
}

// extractJSON strips code fences some models wrap around JSON answers.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if start := strings.Index(s, "{"); start >= 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			return s[start : end+1]
		}
	}
	return s
}

func clampTemperature(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 2 {
		return 2
	}
	return t
}
