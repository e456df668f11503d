package transcribe

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/samvad-ai/samvad/internal/audio"
	"github.com/samvad-ai/samvad/internal/reliability"
)

const (
	defaultMaxAttempts = 3
	backoffBase        = 100 * time.Millisecond
	backoffCap         = 2 * time.Second
)

// Adapter wraps a Provider with bounded retry on transient failures: a feed
// that fails transiently reopens the underlying stream and is retried, so
// callers only ever see fatal failures. Event ordering is preserved because
// a stream has a single feeder and events are pumped through one channel.
type Adapter struct {
	provider    Provider
	maxAttempts int
}

func NewAdapter(provider Provider, maxAttempts int) *Adapter {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Adapter{provider: provider, maxAttempts: maxAttempts}
}

func (a *Adapter) OpenStream(ctx context.Context, cfg StreamConfig) (Stream, error) {
	var (
		inner Stream
		err   error
	)
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		inner, err = a.provider.OpenStream(ctx, cfg)
		if err == nil {
			break
		}
		if !reliability.IsRetryable(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(reliability.ExponentialBackoff(attempt, backoffBase, backoffCap)):
		}
	}
	if err != nil {
		return nil, &Failure{Class: Fatal, Op: "open", Err: err}
	}

	s := &retryStream{
		adapter: a,
		ctx:     ctx,
		cfg:     cfg,
		inner:   inner,
		events:  make(chan Event, 64),
	}
	s.pumpWG.Add(1)
	go s.pump(inner)
	return s, nil
}

type retryStream struct {
	adapter *Adapter
	ctx     context.Context
	cfg     StreamConfig

	mu     sync.Mutex
	inner  Stream
	closed bool

	events chan Event
	pumpWG sync.WaitGroup
}

func (s *retryStream) Events() <-chan Event { return s.events }

// pump forwards one underlying stream's events until it closes.
func (s *retryStream) pump(inner Stream) {
	defer s.pumpWG.Done()
	for ev := range inner.Events() {
		select {
		case s.events <- ev:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *retryStream) Feed(ctx context.Context, chunk audio.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("feed on closed transcription stream")
	}

	err := s.inner.Feed(ctx, chunk)
	if err == nil {
		return nil
	}
	if !reliability.IsRetryable(err) {
		return err
	}

	// Transient: reopen and retry with backoff, bounded.
	for attempt := 1; attempt < s.adapter.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reliability.ExponentialBackoff(attempt-1, backoffBase, backoffCap)):
		}

		replacement, openErr := s.adapter.provider.OpenStream(ctx, s.cfg)
		if openErr != nil {
			if reliability.IsRetryable(openErr) {
				err = openErr
				continue
			}
			return openErr
		}
		_ = s.inner.Close()
		s.inner = replacement
		s.pumpWG.Add(1)
		go s.pump(replacement)

		if err = s.inner.Feed(ctx, chunk); err == nil {
			return nil
		}
		if !reliability.IsRetryable(err) {
			return err
		}
	}
	return &Failure{Class: Fatal, Op: "feed", Err: err}
}

// Close flushes the underlying stream (the provider emits any pending
// partial as a final), waits for the pump to drain, then closes the event
// channel.
func (s *retryStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	inner := s.inner
	s.mu.Unlock()

	err := inner.Close()
	s.pumpWG.Wait()
	close(s.events)
	return err
}
