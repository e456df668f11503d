package synth

import (
	"context"
	"errors"
	"strings"
)

// ErrInvalidInput is returned for empty or whitespace-only synthesis text,
// before any provider call is made.
var ErrInvalidInput = errors.New("synthesis text is empty")

// VoiceProfile maps a language to a provider voice, speech rate and output
// audio format. Profiles are static configuration, read-only at runtime.
type VoiceProfile struct {
	Language string
	VoiceID  string
	Rate     float64
	Format   string
}

// ProfileTable resolves the voice profile for a turn's language, falling
// back to a configured default for unknown languages.
type ProfileTable struct {
	profiles map[string]VoiceProfile
	fallback VoiceProfile
}

// DefaultProfiles covers the service's primary languages: English and
// Malayalam, both emitting raw 16 kHz PCM for the pipeline's emitter.
func DefaultProfiles() *ProfileTable {
	en := VoiceProfile{Language: "en", VoiceID: "en-warm-female", Rate: 1.0, Format: "pcm_16000"}
	ml := VoiceProfile{Language: "ml", VoiceID: "ml-warm-female", Rate: 0.95, Format: "pcm_16000"}
	return NewProfileTable([]VoiceProfile{en, ml}, en)
}

func NewProfileTable(profiles []VoiceProfile, fallback VoiceProfile) *ProfileTable {
	byLang := make(map[string]VoiceProfile, len(profiles))
	for _, p := range profiles {
		byLang[p.Language] = p
	}
	return &ProfileTable{profiles: byLang, fallback: fallback}
}

// Lookup returns the profile for language, or the default when unknown.
func (t *ProfileTable) Lookup(language string) VoiceProfile {
	if p, ok := t.profiles[strings.TrimSpace(language)]; ok {
		return p
	}
	return t.fallback
}

// Stream delivers synthesized audio incrementally so playback can start
// before the full utterance is rendered.
type Stream interface {
	// Chunks yields audio byte chunks in order; the channel closes when the
	// stream ends.
	Chunks() <-chan []byte
	// Err reports the terminal error, if any, once Chunks is closed.
	Err() error
	// Close aborts the stream and releases provider resources.
	Close() error
}

// Provider is the narrow boundary to a text-to-speech service.
type Provider interface {
	Synthesize(ctx context.Context, text string, profile VoiceProfile) (Stream, error)
}

// Adapter validates input and resolves voice profiles before touching the
// provider.
type Adapter struct {
	provider Provider
	profiles *ProfileTable
}

func NewAdapter(provider Provider, profiles *ProfileTable) *Adapter {
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	return &Adapter{provider: provider, profiles: profiles}
}

// Synthesize streams audio for text in the given language. Empty text is
// rejected with ErrInvalidInput without invoking the provider.
func (a *Adapter) Synthesize(ctx context.Context, text, language string) (Stream, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrInvalidInput
	}
	return a.provider.Synthesize(ctx, text, a.profiles.Lookup(language))
}

// Profile exposes the resolved profile for a language, for introspection.
func (a *Adapter) Profile(language string) VoiceProfile {
	return a.profiles.Lookup(language)
}
