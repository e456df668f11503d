package transcribe

import (
	"context"
	"fmt"

	"github.com/samvad-ai/samvad/internal/audio"
)

// Event is one transcript update from the provider. Partial events may be
// emitted zero or more times per utterance before exactly one final event.
// Language is detected per event, not fixed per stream, since code-switching
// between English and Malayalam is expected.
type Event struct {
	Text       string
	Language   string
	Confidence float64
	Final      bool
	TSMs       int64
}

// StreamConfig opens a recognition stream. Audio fed to the stream is always
// normalized by the pipeline: mono, 16 kHz PCM, fixed chunk size.
type StreamConfig struct {
	SessionID    string
	LanguageHint string
}

// Provider is the narrow boundary to a streaming speech-recognition service.
type Provider interface {
	OpenStream(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Stream accepts normalized audio and produces ordered transcript events.
// Close flushes any remaining partial transcript as a final event and then
// closes the event channel.
type Stream interface {
	Feed(ctx context.Context, chunk audio.Chunk) error
	Events() <-chan Event
	Close() error
}

// FailureClass separates recoverable provider trouble from terminal trouble.
type FailureClass int

const (
	// Transient failures are safe to retry by reopening the stream.
	Transient FailureClass = iota
	// Fatal failures require tearing the stream down and notifying the session.
	Fatal
)

func (c FailureClass) String() string {
	if c == Transient {
		return "transient"
	}
	return "fatal"
}

// Failure wraps a provider error with its class and the operation that hit it.
type Failure struct {
	Class FailureClass
	Op    string
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("transcription %s failure in %s: %v", f.Class, f.Op, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Retryable satisfies reliability.Retryable.
func (f *Failure) Retryable() bool { return f.Class == Transient }
