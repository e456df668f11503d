package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/samvad-ai/samvad/internal/audio"
	"github.com/samvad-ai/samvad/internal/convo"
	"github.com/samvad-ai/samvad/internal/history"
	"github.com/samvad-ai/samvad/internal/observability"
	"github.com/samvad-ai/samvad/internal/synth"
	"github.com/samvad-ai/samvad/internal/transcribe"
)

// State is the session's position in the conversation cycle.
type State string

const (
	StateConnecting   State = "connecting"
	StateListening    State = "listening"
	StateTranscribing State = "transcribing"
	StateResponding   State = "responding"
	StateSpeaking     State = "speaking"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDisconnected || s == StateFailed
}

// Events emitted by a session toward its transport gateway.

// TranscriptEvent is a final transcript for one utterance. Exactly one is
// emitted before the corresponding ReplyEvent.
type TranscriptEvent struct {
	SessionID  string
	Text       string
	Language   string
	Confidence float64
}

// AudioFrameEvent is one transport-sized frame of synthesized reply audio.
type AudioFrameEvent struct {
	SessionID string
	TurnID    string
	Data      []byte
}

// ReplyEvent terminates a turn: the assistant's text, after all of the
// turn's AudioFrameEvents.
type ReplyEvent struct {
	SessionID string
	TurnID    string
	Text      string
	Language  string
}

// StateEvent announces a state transition.
type StateEvent struct {
	SessionID string
	From, To  State
	Reason    string
}

// ErrorEvent carries category-level failure detail; provider internals stay
// server-side.
type ErrorEvent struct {
	SessionID string
	Code      string
	Stage     string
	Retryable bool
}

// Deps are the collaborators one session consumes. The transcriber is
// expected to be retry-wrapped already (transcribe.NewAdapter).
type Deps struct {
	Transcriber transcribe.Provider
	Engine      *convo.Engine
	Synth       *synth.Adapter
	Archive     history.Store
	Metrics     *observability.Metrics
}

// Config carries per-session tuning, filled with defaults by the manager.
type Config struct {
	ChunkSamples       int
	MaxBufferedSamples int
	FrameBytes         int
	HistoryMaxTurns    int
	LanguageHint       string
}

const (
	inboundFrameBuffer = 64
	eventBuffer        = 256
	maxHeldChunks      = 32
	archiveTimeout     = 2 * time.Second
)

type textInput struct {
	text     string
	language string
}

type turnResult struct {
	fatal error
}

// Session is one end-to-end live conversation. It owns its pipeline,
// history and adapter streams; all mutation happens on its own run loop,
// never concurrently from two callers.
type Session struct {
	id          string
	room        string
	participant string
	createdAt   time.Time

	deps Deps
	cfg  Config

	pipeline *audio.Pipeline
	hist     *convo.History

	frames chan audio.Frame
	texts  chan textInput
	events chan Event
	done   chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	language     string
	lastActivity time.Time

	onClose func(*Session)
}

// Event is any of the session's outbound event types.
type Event any

func newSession(room, participant string, cfg Config, d Deps) *Session {
	now := time.Now().UTC()
	s := &Session{
		id:           uuid.NewString(),
		room:         room,
		participant:  participant,
		createdAt:    now,
		deps:         d,
		cfg:          cfg,
		hist:         convo.NewHistory(cfg.HistoryMaxTurns),
		frames:       make(chan audio.Frame, inboundFrameBuffer),
		texts:        make(chan textInput, 8),
		events:       make(chan Event, eventBuffer),
		done:         make(chan struct{}),
		state:        StateConnecting,
		lastActivity: now,
	}
	s.pipeline = audio.NewPipeline(audio.PipelineConfig{
		ChunkSamples:       cfg.ChunkSamples,
		MaxBufferedSamples: cfg.MaxBufferedSamples,
		OnDrop: func(n int) {
			d.Metrics.PipelineDrops.Add(float64(n))
			d.Metrics.SessionEvents.WithLabelValues("audio_dropped").Inc()
		},
	})
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Room returns the room or channel this session serves.
func (s *Session) Room() string { return s.room }

// Events is the stream of outbound events for the transport gateway. It is
// not closed; Done signals that no further events will be produced.
func (s *Session) Events() <-chan Event { return s.events }

// Done is closed once the session reaches a terminal state and its run loop
// has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// History exposes the bounded conversation history for introspection.
func (s *Session) History() *convo.History { return s.hist }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info is a point-in-time snapshot for listing and introspection.
type Info struct {
	ID             string    `json:"session_id"`
	Room           string    `json:"room"`
	Participant    string    `json:"participant"`
	State          State     `json:"state"`
	Language       string    `json:"language,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Turns          int       `json:"turns"`
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:             s.id,
		Room:           s.room,
		Participant:    s.participant,
		State:          s.state,
		Language:       s.language,
		CreatedAt:      s.createdAt,
		LastActivityAt: s.lastActivity,
		Turns:          s.hist.Len(),
	}
}

// PushFrame hands raw transport audio to the session. When the inbound
// queue is saturated the frame is dropped and counted rather than blocking
// the caller's transport loop.
func (s *Session) PushFrame(f audio.Frame) error {
	select {
	case <-s.done:
		return errors.New("session closed")
	default:
	}
	select {
	case s.frames <- f:
		return nil
	default:
		s.deps.Metrics.SessionEvents.WithLabelValues("frame_dropped").Inc()
		return nil
	}
}

// PushText injects a typed utterance, bypassing transcription. Used by the
// direct channel's text_message input.
func (s *Session) PushText(text, language string) error {
	select {
	case <-s.done:
		return errors.New("session closed")
	case s.texts <- textInput{text: text, language: language}:
		return nil
	}
}

// Close requests teardown. In-flight provider calls are canceled; the
// session transitions to Disconnected unless it already failed.
func (s *Session) Close() {
	s.cancel()
}

// start opens the transcription stream and launches the run loop. The
// session detaches from the caller's cancellation: its lifetime is governed
// by Close, the janitor and manager shutdown, not by the creating request.
func (s *Session) start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	stream, err := s.deps.Transcriber.OpenStream(s.ctx, transcribe.StreamConfig{
		SessionID:    s.id,
		LanguageHint: s.cfg.LanguageHint,
	})
	if err != nil {
		s.setState(StateFailed, "transcriber_unavailable")
		s.finish()
		return err
	}

	s.setState(StateListening, "transport_live")
	go s.run(stream)
	return nil
}

func (s *Session) run(stream transcribe.Stream) {
	var (
		turnDone      chan turnResult
		turnCancel    context.CancelFunc
		heldChunks    []audio.Chunk
		pendingFinals []transcribe.Event
	)

	fail := func(stage string, err error) {
		s.deps.Metrics.ProviderErrors.WithLabelValues(stage, "fatal").Inc()
		s.emit(ErrorEvent{SessionID: s.id, Code: "provider_failure", Stage: stage})
		s.setState(StateFailed, stage+"_failure")
	}

	feedChunks := func(chunks []audio.Chunk) bool {
		for _, c := range chunks {
			if err := stream.Feed(s.ctx, c); err != nil {
				if s.ctx.Err() != nil {
					return false
				}
				fail("transcription", err)
				return false
			}
		}
		return true
	}

	startTurn := func(text, language string) {
		s.setState(StateResponding, "final_transcript")
		turnDone = make(chan turnResult, 1)
		var turnCtx context.Context
		turnCtx, turnCancel = context.WithCancel(s.ctx)
		go s.runTurn(turnCtx, text, language, turnDone)
	}

	for {
		if s.State().Terminal() {
			break
		}

		select {
		case <-s.ctx.Done():
			if s.State() != StateFailed {
				s.setState(StateDisconnected, "closed")
			}

		case f := <-s.frames:
			s.touch()
			chunks, err := s.pipeline.Ingest(f)
			if err != nil {
				s.emit(ErrorEvent{SessionID: s.id, Code: "invalid_audio", Stage: "pipeline"})
				continue
			}
			if len(chunks) == 0 {
				continue
			}
			switch s.State() {
			case StateListening:
				s.setState(StateTranscribing, "utterance_started")
				feedChunks(chunks)
			case StateTranscribing:
				feedChunks(chunks)
			default:
				// Speaking/Responding: buffer, don't process, until the
				// machine returns to Listening. No barge-in.
				heldChunks = append(heldChunks, chunks...)
				if len(heldChunks) > maxHeldChunks {
					over := len(heldChunks) - maxHeldChunks
					heldChunks = heldChunks[over:]
					s.deps.Metrics.PipelineDrops.Add(float64(over * s.pipeline.ChunkSamples()))
					s.deps.Metrics.SessionEvents.WithLabelValues("audio_dropped").Inc()
				}
			}

		case txt := <-s.texts:
			s.touch()
			trimmed := strings.TrimSpace(txt.text)
			if trimmed == "" {
				s.emit(ErrorEvent{SessionID: s.id, Code: "invalid_input", Stage: "gateway"})
				continue
			}
			s.noteLanguage(txt.language)
			s.emit(TranscriptEvent{SessionID: s.id, Text: trimmed, Language: txt.language, Confidence: 1})
			if turnDone != nil {
				pendingFinals = append(pendingFinals, transcribe.Event{Text: trimmed, Language: txt.language, Final: true})
				continue
			}
			startTurn(trimmed, txt.language)

		case ev, ok := <-stream.Events():
			if !ok {
				// The stream only closes during teardown or after a fatal
				// feed failure, both handled elsewhere.
				continue
			}
			s.touch()
			s.noteLanguage(ev.Language)
			if !ev.Final {
				continue
			}
			if strings.TrimSpace(ev.Text) == "" {
				// Silence-only utterance: no-op turn.
				if s.State() == StateTranscribing {
					s.setState(StateListening, "empty_transcript")
				}
				continue
			}
			s.emit(TranscriptEvent{SessionID: s.id, Text: ev.Text, Language: ev.Language, Confidence: ev.Confidence})
			if turnDone != nil {
				pendingFinals = append(pendingFinals, ev)
				continue
			}
			startTurn(ev.Text, ev.Language)

		case res := <-turnDone:
			turnDone = nil
			turnCancel = nil
			if res.fatal != nil {
				if s.ctx.Err() == nil {
					fail("synthesis", res.fatal)
				}
				continue
			}
			if s.State() != StateSpeaking && s.State() != StateResponding {
				continue
			}
			s.setState(StateListening, "reply_spoken")

			// Release audio buffered while speaking, then any queued turns.
			if len(heldChunks) > 0 {
				s.setState(StateTranscribing, "utterance_started")
				held := heldChunks
				heldChunks = nil
				if !feedChunks(held) {
					continue
				}
			}
			if len(pendingFinals) > 0 {
				next := pendingFinals[0]
				pendingFinals = pendingFinals[1:]
				startTurn(next.Text, next.Language)
			}
		}
	}

	// Teardown: cancel any in-flight turn and wait for it, close the
	// transcription stream, then release resources.
	if turnCancel != nil {
		turnCancel()
	}
	if turnDone != nil {
		<-turnDone
	}
	_ = stream.Close()
	s.finish()
}

// runTurn drives one utterance through reasoning and synthesis.
func (s *Session) runTurn(ctx context.Context, text, language string, done chan<- turnResult) {
	committedAt := time.Now()
	userTurn := convo.Turn{Role: convo.RoleUser, Text: text, Language: language, At: committedAt.UTC()}

	// Respond never fails: provider errors degrade to a fallback turn.
	reply := s.deps.Engine.Respond(ctx, s.id, s.hist, userTurn)
	s.archiveTurn(userTurn)
	s.archiveTurn(reply)

	if ctx.Err() != nil {
		done <- turnResult{}
		return
	}

	s.setState(StateSpeaking, "reply_ready")
	turnID := uuid.NewString()

	stream, err := s.deps.Synth.Synthesize(ctx, reply.Text, reply.Language)
	if err != nil {
		if errors.Is(err, synth.ErrInvalidInput) {
			// Nothing to speak; still surface the reply text.
			s.emit(ReplyEvent{SessionID: s.id, TurnID: turnID, Text: reply.Text, Language: reply.Language})
			done <- turnResult{}
			return
		}
		done <- turnResult{fatal: err}
		return
	}
	defer stream.Close()

	emitter := audio.NewEmitter(s.cfg.FrameBytes)
	firstFrame := true
	sendFrame := func(data []byte) {
		if firstFrame {
			firstFrame = false
			s.deps.Metrics.ObserveFirstAudioLatency(time.Since(committedAt))
		}
		s.emit(AudioFrameEvent{SessionID: s.id, TurnID: turnID, Data: data})
	}

	for chunk := range stream.Chunks() {
		if ctx.Err() != nil {
			done <- turnResult{}
			return
		}
		for _, frame := range emitter.Push(chunk) {
			sendFrame(frame)
		}
	}
	if err := stream.Err(); err != nil && ctx.Err() == nil {
		done <- turnResult{fatal: err}
		return
	}
	if tail, ok := emitter.Flush(); ok {
		sendFrame(tail)
	}

	s.emit(ReplyEvent{SessionID: s.id, TurnID: turnID, Text: reply.Text, Language: reply.Language})
	s.deps.Metrics.SessionEvents.WithLabelValues("turn_completed").Inc()
	done <- turnResult{}
}

func (s *Session) archiveTurn(t convo.Turn) {
	if s.deps.Archive == nil {
		return
	}
	record := history.TurnRecord{
		ID:        uuid.NewString(),
		SessionID: s.id,
		Room:      s.room,
		Role:      string(t.Role),
		Text:      t.Text,
		Language:  t.Language,
		CreatedAt: t.At,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
		defer cancel()
		if err := s.deps.Archive.SaveTurn(ctx, record); err != nil {
			s.deps.Metrics.SessionEvents.WithLabelValues("archive_error").Inc()
		}
	}()
}

func (s *Session) setState(to State, reason string) {
	s.mu.Lock()
	from := s.state
	if from == to || from.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = to
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()

	s.deps.Metrics.StateTransitions.WithLabelValues(string(from), string(to)).Inc()
	s.emit(StateEvent{SessionID: s.id, From: from, To: to, Reason: reason})
}

func (s *Session) noteLanguage(language string) {
	language = strings.TrimSpace(language)
	if language == "" {
		return
	}
	s.mu.Lock()
	s.language = language
	s.mu.Unlock()
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now().UTC()
	s.mu.Unlock()
}

// LastActivity returns the last time audio or events moved through the
// session. The manager's janitor uses it for idle teardown.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// emit delivers an event without ever blocking the state machine: when the
// gateway falls behind, the oldest queued event is discarded first.
func (s *Session) emit(ev Event) {
	for {
		select {
		case s.events <- ev:
			return
		default:
		}
		select {
		case <-s.events:
			s.deps.Metrics.SessionEvents.WithLabelValues("event_dropped").Inc()
		default:
		}
	}
}

// finish runs once teardown is complete: it detaches the session from the
// manager and signals consumers.
func (s *Session) finish() {
	s.cancel()
	s.deps.Engine.Forget(s.id)
	if s.onClose != nil {
		s.onClose(s)
	}
	close(s.done)
}
