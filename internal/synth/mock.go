package synth

import (
	"context"
	"sync"

	"github.com/samvad-ai/samvad/internal/audio"
)

// MockProvider renders deterministic PCM derived from the input text,
// streamed in small chunks. Used for local development and tests.
type MockProvider struct {
	// ChunkBytes controls streamed chunk size; defaults to 640 (20ms).
	ChunkBytes int
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Synthesize(ctx context.Context, text string, profile VoiceProfile) (Stream, error) {
	chunkBytes := p.ChunkBytes
	if chunkBytes <= 0 {
		chunkBytes = 640
	}

	// 40ms of audio per rune keeps output length proportional to the text.
	samplesPerRune := audio.TargetSampleRate / 25
	runes := []rune(text)
	pcm := make([]int16, len(runes)*samplesPerRune)
	for i := range pcm {
		r := runes[i/samplesPerRune]
		pcm[i] = int16((int(r)*31+i)%2000 - 1000)
	}
	data := audio.PCMBytes(pcm)

	s := &mockStream{chunks: make(chan []byte, 16), done: make(chan struct{})}
	go func() {
		defer close(s.chunks)
		for off := 0; off < len(data); off += chunkBytes {
			end := off + chunkBytes
			if end > len(data) {
				end = len(data)
			}
			select {
			case s.chunks <- data[off:end]:
			case <-ctx.Done():
				s.setErr(ctx.Err())
				return
			case <-s.done:
				return
			}
		}
	}()
	return s, nil
}

type mockStream struct {
	chunks chan []byte

	mu   sync.Mutex
	err  error
	done chan struct{}
	once sync.Once
}

func (s *mockStream) Chunks() <-chan []byte { return s.chunks }

func (s *mockStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *mockStream) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *mockStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
