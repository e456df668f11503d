package transcribe

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/samvad-ai/samvad/internal/audio"
)

// MockProvider is an offline recognizer used for local development and
// tests. It treats any chunk with amplitude above SilenceThreshold as
// voiced and endpoints an utterance after EndpointSilenceChunks of trailing
// silence: voiced utterances commit FinalText, silence-only utterances
// commit an empty final.
type MockProvider struct {
	FinalText             string
	Language              string
	SilenceThreshold      int16
	EndpointSilenceChunks int
	EmitPartials          bool
}

func NewMockProvider(finalText, language string) *MockProvider {
	return &MockProvider{
		FinalText:             finalText,
		Language:              language,
		SilenceThreshold:      64,
		EndpointSilenceChunks: 6,
		EmitPartials:          true,
	}
}

func (p *MockProvider) OpenStream(_ context.Context, cfg StreamConfig) (Stream, error) {
	lang := strings.TrimSpace(p.Language)
	if lang == "" {
		lang = cfg.LanguageHint
	}
	if lang == "" {
		lang = "en"
	}
	return &mockStream{provider: p, language: lang, events: make(chan Event, 64)}, nil
}

type mockStream struct {
	provider *MockProvider
	language string

	mu            sync.Mutex
	events        chan Event
	closed        bool
	sawAudio      bool
	sawVoice      bool
	silentStreak  int
	voicedChunks  int
	partialOffset int
}

func (s *mockStream) Events() <-chan Event { return s.events }

func (s *mockStream) Feed(_ context.Context, chunk audio.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.sawAudio = true

	voiced := false
	for _, sample := range chunk.PCM[:chunk.Valid] {
		if sample > s.provider.SilenceThreshold || sample < -s.provider.SilenceThreshold {
			voiced = true
			break
		}
	}

	if voiced {
		s.sawVoice = true
		s.silentStreak = 0
		s.voicedChunks++
		if s.provider.EmitPartials && s.voicedChunks%4 == 0 {
			s.emitPartialLocked()
		}
		return nil
	}

	s.silentStreak++
	if s.silentStreak >= s.provider.EndpointSilenceChunks {
		s.emitFinalLocked()
	}
	return nil
}

// Close flushes any in-progress utterance as a final before closing.
func (s *mockStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.sawAudio {
		s.emitFinalLocked()
	}
	s.closed = true
	close(s.events)
	return nil
}

func (s *mockStream) emitPartialLocked() {
	words := strings.Fields(s.provider.FinalText)
	if len(words) == 0 {
		return
	}
	n := s.partialOffset + 1
	if n > len(words) {
		n = len(words)
	}
	s.partialOffset = n
	s.events <- Event{
		Text:       strings.Join(words[:n], " "),
		Language:   s.language,
		Confidence: 0.5,
		TSMs:       time.Now().UnixMilli(),
	}
}

func (s *mockStream) emitFinalLocked() {
	text := ""
	if s.sawVoice {
		text = s.provider.FinalText
	}
	s.events <- Event{
		Text:       text,
		Language:   s.language,
		Confidence: 0.9,
		Final:      true,
		TSMs:       time.Now().UnixMilli(),
	}
	s.sawAudio = false
	s.sawVoice = false
	s.silentStreak = 0
	s.voicedChunks = 0
	s.partialOffset = 0
}
