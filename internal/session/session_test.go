package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samvad-ai/samvad/internal/audio"
	"github.com/samvad-ai/samvad/internal/convo"
	"github.com/samvad-ai/samvad/internal/history"
	"github.com/samvad-ai/samvad/internal/observability"
	"github.com/samvad-ai/samvad/internal/synth"
	"github.com/samvad-ai/samvad/internal/transcribe"
)

const testChunkSamples = 160

func newTestManager(t *testing.T, stt transcribe.Provider) *Manager {
	t.Helper()
	deps := Deps{
		Transcriber: transcribe.NewAdapter(stt, 3),
		Engine:      convo.NewEngine(convo.NewMockModel(""), convo.EngineConfig{}),
		Synth:       synth.NewAdapter(synth.NewMockProvider(), synth.DefaultProfiles()),
		Archive:     history.NewInMemoryStore(),
		Metrics:     observability.NewMetrics("test"),
	}
	cfg := Config{ChunkSamples: testChunkSamples}
	return NewManager(deps, cfg)
}

func voicedFrame() audio.Frame {
	pcm := make([]int16, testChunkSamples)
	for i := range pcm {
		pcm[i] = int16(2000 - (i%7)*100)
	}
	return audio.Frame{PCM: pcm, SampleRate: audio.TargetSampleRate, Channels: 1}
}

func silentFrame() audio.Frame {
	return audio.Frame{PCM: make([]int16, testChunkSamples), SampleRate: audio.TargetSampleRate, Channels: 1}
}

// speakUtterance pushes voiced frames followed by exactly the trailing
// silence the mock recognizer needs to endpoint one utterance.
func speakUtterance(t *testing.T, s *Session) {
	t.Helper()
	for i := 0; i < 8; i++ {
		if err := s.PushFrame(voicedFrame()); err != nil {
			t.Fatalf("PushFrame() error = %v", err)
		}
	}
	for i := 0; i < 6; i++ {
		if err := s.PushFrame(silentFrame()); err != nil {
			t.Fatalf("PushFrame() error = %v", err)
		}
	}
}

// collectUntilReply drains events until the first ReplyEvent.
func collectUntilReply(t *testing.T, s *Session, timeout time.Duration) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-s.Events():
			got = append(got, ev)
			if _, ok := ev.(ReplyEvent); ok {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out waiting for reply, saw %d events", len(got))
		}
	}
}

func TestSessionVoicedTurnCycle(t *testing.T) {
	m := newTestManager(t, transcribe.NewMockProvider("hello there", "en"))
	defer m.Shutdown()

	s, err := m.Create(context.Background(), "room-1", "alice")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	speakUtterance(t, s)
	events := collectUntilReply(t, s, 5*time.Second)

	var (
		transcriptAt = -1
		firstAudioAt = -1
		replyAt      = -1
	)
	for i, ev := range events {
		switch e := ev.(type) {
		case TranscriptEvent:
			if transcriptAt == -1 {
				transcriptAt = i
				if e.Text != "hello there" {
					t.Fatalf("transcript = %q, want %q", e.Text, "hello there")
				}
			}
		case AudioFrameEvent:
			if firstAudioAt == -1 {
				firstAudioAt = i
			}
			if len(e.Data) == 0 {
				t.Fatalf("audio frame %d is empty", i)
			}
		case ReplyEvent:
			replyAt = i
			if e.Text != "You said: hello there" {
				t.Fatalf("reply = %q, want echo of the transcript", e.Text)
			}
			if e.Language != "en" {
				t.Fatalf("reply language = %q, want en", e.Language)
			}
		}
	}
	if transcriptAt == -1 || firstAudioAt == -1 || replyAt == -1 {
		t.Fatalf("missing events: transcript=%d audio=%d reply=%d", transcriptAt, firstAudioAt, replyAt)
	}
	if !(transcriptAt < firstAudioAt && firstAudioAt < replyAt) {
		t.Fatalf("ordering violated: transcript=%d audio=%d reply=%d", transcriptAt, firstAudioAt, replyAt)
	}

	turns := s.History().Turns()
	if len(turns) != 2 {
		t.Fatalf("history has %d turns, want 2", len(turns))
	}
	if turns[0].Role != convo.RoleUser || turns[1].Role != convo.RoleAssistant {
		t.Fatalf("history roles = %v, %v", turns[0].Role, turns[1].Role)
	}
}

func TestSessionStateCycle(t *testing.T) {
	m := newTestManager(t, transcribe.NewMockProvider("hi", "en"))
	defer m.Shutdown()

	s, err := m.Create(context.Background(), "room-1", "alice")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	speakUtterance(t, s)
	events := collectUntilReply(t, s, 5*time.Second)

	var states []State
	for _, ev := range events {
		if e, ok := ev.(StateEvent); ok {
			states = append(states, e.To)
		}
	}
	want := []State{StateListening, StateTranscribing, StateResponding, StateSpeaking}
	if len(states) < len(want) {
		t.Fatalf("saw states %v, want at least %v", states, want)
	}
	for i, st := range want {
		if states[i] != st {
			t.Fatalf("states[%d] = %v, want %v (all: %v)", i, states[i], st, states)
		}
	}

	// After the reply the machine returns to Listening.
	awaitState(t, s, StateListening, time.Second)
}

func awaitState(t *testing.T, s *Session, want State, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", s.State(), want)
}

func TestSessionSilenceProducesNoTurn(t *testing.T) {
	m := newTestManager(t, transcribe.NewMockProvider("hello", "en"))
	defer m.Shutdown()

	s, err := m.Create(context.Background(), "room-1", "alice")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	for i := 0; i < 6; i++ {
		_ = s.PushFrame(silentFrame())
	}
	awaitState(t, s, StateListening, time.Second)

	// Give any stray turn time to surface, then check none did.
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case ev := <-s.Events():
			switch ev.(type) {
			case TranscriptEvent, ReplyEvent, AudioFrameEvent:
				t.Fatalf("silence must not produce a turn, got %T", ev)
			}
		case <-deadline:
			if n := s.History().Len(); n != 0 {
				t.Fatalf("history has %d turns after silence, want 0", n)
			}
			return
		}
	}
}

func TestSessionTextMessageBypassesTranscription(t *testing.T) {
	m := newTestManager(t, transcribe.NewMockProvider("unused", "en"))
	defer m.Shutdown()

	s, err := m.Create(context.Background(), "room-1", "alice")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := s.PushText("നമസ്കാരം", "ml"); err != nil {
		t.Fatalf("PushText() error = %v", err)
	}
	events := collectUntilReply(t, s, 5*time.Second)

	sawTranscript := false
	for _, ev := range events {
		if e, ok := ev.(TranscriptEvent); ok {
			sawTranscript = true
			if e.Text != "നമസ്കാരം" || e.Language != "ml" {
				t.Fatalf("transcript = %q lang %q", e.Text, e.Language)
			}
		}
	}
	if !sawTranscript {
		t.Fatalf("text input must still produce a transcript event")
	}
}

func TestSessionRejectsEmptyText(t *testing.T) {
	m := newTestManager(t, transcribe.NewMockProvider("unused", "en"))
	defer m.Shutdown()

	s, err := m.Create(context.Background(), "room-1", "alice")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := s.PushText("   ", "en"); err != nil {
		t.Fatalf("PushText() error = %v", err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-s.Events():
			if e, ok := ev.(ErrorEvent); ok {
				if e.Code != "invalid_input" {
					t.Fatalf("error code = %q, want invalid_input", e.Code)
				}
				return
			}
			if _, ok := ev.(ReplyEvent); ok {
				t.Fatalf("blank text must not start a turn")
			}
		case <-deadline:
			t.Fatalf("no error event for blank text")
		}
	}
}

func TestSessionModelFailureStillSpeaksFallback(t *testing.T) {
	deps := Deps{
		Transcriber: transcribe.NewAdapter(transcribe.NewMockProvider("hello", "en"), 3),
		Engine:      convo.NewEngine(&convo.MockModel{Fail: true}, convo.EngineConfig{}),
		Synth:       synth.NewAdapter(synth.NewMockProvider(), synth.DefaultProfiles()),
		Archive:     history.NewInMemoryStore(),
		Metrics:     observability.NewMetrics("test"),
	}
	m := NewManager(deps, Config{ChunkSamples: testChunkSamples})
	defer m.Shutdown()

	s, err := m.Create(context.Background(), "room-1", "alice")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	speakUtterance(t, s)
	events := collectUntilReply(t, s, 5*time.Second)

	audioFrames := 0
	for _, ev := range events {
		switch e := ev.(type) {
		case AudioFrameEvent:
			audioFrames++
		case ReplyEvent:
			if e.Text == "" {
				t.Fatalf("fallback reply must be non-empty")
			}
		}
	}
	if audioFrames == 0 {
		t.Fatalf("fallback reply must still be synthesized")
	}

	turns := s.History().Turns()
	if len(turns) != 2 || turns[1].Role != convo.RoleAssistant || turns[1].Text == "" {
		t.Fatalf("fallback must be recorded in history: %+v", turns)
	}
	if s.State() == StateFailed {
		t.Fatalf("model failure must not fail the session")
	}
}

func TestSessionFatalTranscriptionFails(t *testing.T) {
	provider := &fatalFeedProvider{}
	m := newTestManager(t, provider)
	defer m.Shutdown()

	s, err := m.Create(context.Background(), "room-1", "alice")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_ = s.PushFrame(voicedFrame())
	awaitState(t, s, StateFailed, 2*time.Second)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("failed session must terminate")
	}
}

type fatalFeedProvider struct{}

func (p *fatalFeedProvider) OpenStream(context.Context, transcribe.StreamConfig) (transcribe.Stream, error) {
	return &fatalFeedStream{events: make(chan transcribe.Event)}, nil
}

type fatalFeedStream struct {
	events chan transcribe.Event
}

func (s *fatalFeedStream) Events() <-chan transcribe.Event { return s.events }

func (s *fatalFeedStream) Feed(context.Context, audio.Chunk) error {
	return &transcribe.Failure{Class: transcribe.Fatal, Op: "feed", Err: errors.New("unsupported audio encoding")}
}

func (s *fatalFeedStream) Close() error {
	close(s.events)
	return nil
}
