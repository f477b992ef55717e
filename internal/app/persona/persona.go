// Package persona provides the active DJ persona and a short-lived
// exclusion list of recently selected tracks.
package persona

import (
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/turntable/internal/app/matcher"
)

// Default cache configuration
const (
	DefaultTTL      = 24 * time.Hour
	CleanupInterval = 10 * time.Minute
)

// ErrUnknownPersona is returned when switching to a persona that is not configured.
var ErrUnknownPersona = errors.New("unknown persona")

// Persona describes a DJ style.
type Persona struct {
	Name        string
	Style       string   // Free text handed to the AI
	BlockedTags []string // Last.fm tags this persona never plays
}

// Pair is an artist/title pair as recommended.
type Pair struct {
	Artist string
	Title  string
}

// String returns "artist - title".
func (p Pair) String() string {
	return p.Artist + " - " + p.Title
}

type exclusion struct {
	pair      Pair
	expiresAt time.Time
}

// Provider holds personas and the recent-selection exclusion cache.
type Provider struct {
	mu       sync.RWMutex
	personas []Persona
	active   int
	recent   map[string]exclusion
	ttl      time.Duration
	now      func() time.Time

	stopCh  chan struct{}
	stopped chan struct{}
}

// NewProvider creates a provider. The first persona is active.
func NewProvider(personas []Persona, ttl time.Duration) (*Provider, error) {
	if len(personas) == 0 {
		return nil, errors.New("at least one persona is required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Provider{
		personas: append([]Persona(nil), personas...),
		recent:   make(map[string]exclusion),
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// Start launches the periodic eviction of expired exclusions.
func (p *Provider) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh != nil {
		return
	}
	p.stopCh = make(chan struct{})
	p.stopped = make(chan struct{})
	go p.cleanup(p.stopCh, p.stopped)
}

func (p *Provider) cleanup(stopCh, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.evictExpired()
		case <-stopCh:
			return
		}
	}
}

func (p *Provider) evictExpired() {
	now := p.now()
	p.mu.Lock()
	for k, e := range p.recent {
		if now.After(e.expiresAt) {
			delete(p.recent, k)
		}
	}
	p.mu.Unlock()
}

// Active returns the active persona.
func (p *Provider) Active() Persona {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.personas[p.active]
}

// List returns all configured personas.
func (p *Provider) List() []Persona {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Persona(nil), p.personas...)
}

// SetActive switches the active persona by name (case-insensitive).
func (p *Provider) SetActive(name string) (Persona, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, ps := range p.personas {
		if strings.EqualFold(ps.Name, name) {
			p.active = i
			zlog.Info().Msgf("persona: switched to %s", ps.Name)
			return ps, nil
		}
	}
	return Persona{}, errors.Wrapf(ErrUnknownPersona, "%q", name)
}

// Remember adds a selection to the exclusion list.
func (p *Provider) Remember(artist, title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recent[key(artist, title)] = exclusion{
		pair:      Pair{Artist: artist, Title: title},
		expiresAt: p.now().Add(p.ttl),
	}
}

// IsExcluded reports whether artist/title was selected within the TTL.
func (p *Provider) IsExcluded(artist, title string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.recent[key(artist, title)]
	return ok && !p.now().After(e.expiresAt)
}

// Exclusions returns the unexpired recent selections.
func (p *Provider) Exclusions() []Pair {
	now := p.now()
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Pair, 0, len(p.recent))
	for _, e := range p.recent {
		if !now.After(e.expiresAt) {
			out = append(out, e.pair)
		}
	}
	return out
}

// Close stops the cleanup goroutine.
func (p *Provider) Close() {
	p.mu.Lock()
	stopCh, stopped := p.stopCh, p.stopped
	p.stopCh = nil
	p.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-stopped
}

func key(artist, title string) string {
	return matcher.Normalize(artist) + "\x00" + matcher.Normalize(title)
}
