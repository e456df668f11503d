package audio

import (
	"fmt"
)

// TargetSampleRate is the only sample rate the transcription boundary accepts.
// The pipeline is the single authority for this normalization; nothing
// downstream may assume another format.
const TargetSampleRate = 16000

// DefaultChunkSamples is the analysis chunk size handed to transcription.
const DefaultChunkSamples = 1024

// Frame is raw inbound audio as delivered by a transport: arbitrary sample
// rate and channel count, 16-bit PCM samples interleaved per channel.
type Frame struct {
	PCM        []int16
	SampleRate int
	Channels   int
}

// Chunk is a normalized unit of audio: mono, 16 kHz, fixed sample count.
// Short is set only on the final chunk of a stream, which is zero-padded to
// the full chunk size; Valid samples then counts the real ones.
type Chunk struct {
	PCM        []int16
	SampleRate int
	Seq        int
	Short      bool
	Valid      int
}

// Pipeline normalizes inbound audio into fixed-size chunks and reassembles
// outbound synthesized audio into transport-sized frames. It keeps remainder
// samples across calls and bounds its inbound buffer: when audio arrives
// faster than it is consumed the oldest buffered samples are dropped and the
// degradation hook fires.
//
// A Pipeline is owned by exactly one session and is not safe for concurrent
// use.
type Pipeline struct {
	chunkSamples int
	maxBuffered  int
	onDrop       func(samples int)

	pending []int16
	seq     int

	// resampler carry for continuity across frames
	lastSample int16
	havePrev   bool
}

// PipelineConfig controls chunking and buffering behavior.
type PipelineConfig struct {
	// ChunkSamples is the normalized chunk size; defaults to DefaultChunkSamples.
	ChunkSamples int
	// MaxBufferedSamples bounds the inbound remainder buffer. Zero means
	// 2 seconds of audio at the target rate.
	MaxBufferedSamples int
	// OnDrop is invoked with the number of samples discarded when the
	// inbound buffer overflows. Optional.
	OnDrop func(samples int)
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	chunk := cfg.ChunkSamples
	if chunk <= 0 {
		chunk = DefaultChunkSamples
	}
	max := cfg.MaxBufferedSamples
	if max <= 0 {
		max = TargetSampleRate * 2
	}
	if max < chunk {
		max = chunk
	}
	return &Pipeline{
		chunkSamples: chunk,
		maxBuffered:  max,
		onDrop:       cfg.OnDrop,
	}
}

// ChunkSamples returns the configured chunk size.
func (p *Pipeline) ChunkSamples() int { return p.chunkSamples }

// BufferedSamples returns the number of normalized samples waiting for a
// full chunk.
func (p *Pipeline) BufferedSamples() int { return len(p.pending) }

// Ingest normalizes one raw frame and returns zero or more full chunks.
// Samples short of a chunk are held until enough accumulate.
func (p *Pipeline) Ingest(f Frame) ([]Chunk, error) {
	if f.SampleRate <= 0 {
		return nil, fmt.Errorf("ingest: sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return nil, fmt.Errorf("ingest: channel count must be positive, got %d", f.Channels)
	}
	if len(f.PCM)%f.Channels != 0 {
		return nil, fmt.Errorf("ingest: %d samples not divisible by %d channels", len(f.PCM), f.Channels)
	}
	if len(f.PCM) == 0 {
		return nil, nil
	}

	mono := downmix(f.PCM, f.Channels)
	normalized := p.resample(mono, f.SampleRate)
	p.pending = append(p.pending, normalized...)

	// Bound the buffer: drop oldest buffered-but-unsent audio rather than
	// growing without limit.
	if len(p.pending) > p.maxBuffered {
		dropped := len(p.pending) - p.maxBuffered
		p.pending = append(p.pending[:0], p.pending[dropped:]...)
		if p.onDrop != nil {
			p.onDrop(dropped)
		}
	}

	var out []Chunk
	for len(p.pending) >= p.chunkSamples {
		pcm := make([]int16, p.chunkSamples)
		copy(pcm, p.pending[:p.chunkSamples])
		p.pending = p.pending[p.chunkSamples:]
		out = append(out, Chunk{
			PCM:        pcm,
			SampleRate: TargetSampleRate,
			Seq:        p.seq,
			Valid:      p.chunkSamples,
		})
		p.seq++
	}
	return out, nil
}

// Flush drains the remainder as a final zero-padded chunk. It returns false
// when no samples are buffered.
func (p *Pipeline) Flush() (Chunk, bool) {
	if len(p.pending) == 0 {
		return Chunk{}, false
	}
	pcm := make([]int16, p.chunkSamples)
	valid := copy(pcm, p.pending)
	p.pending = p.pending[:0]
	c := Chunk{
		PCM:        pcm,
		SampleRate: TargetSampleRate,
		Seq:        p.seq,
		Short:      valid < p.chunkSamples,
		Valid:      valid,
	}
	p.seq++
	return c, true
}

// Reset discards buffered samples and resampler state, keeping the sequence
// counter so chunk ordering stays monotonic across utterances.
func (p *Pipeline) Reset() {
	p.pending = p.pending[:0]
	p.havePrev = false
	p.lastSample = 0
}

func downmix(pcm []int16, channels int) []int16 {
	if channels == 1 {
		out := make([]int16, len(pcm))
		copy(out, pcm)
		return out
	}
	frames := len(pcm) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += int(pcm[i*channels+ch])
		}
		out[i] = int16(sum / channels)
	}
	return out
}

// resample converts mono samples from rate to TargetSampleRate using linear
// interpolation, carrying the last sample across calls so frame boundaries
// do not click.
func (p *Pipeline) resample(mono []int16, rate int) []int16 {
	if rate == TargetSampleRate {
		p.lastSample = mono[len(mono)-1]
		p.havePrev = true
		out := make([]int16, len(mono))
		copy(out, mono)
		return out
	}

	src := mono
	if p.havePrev {
		src = make([]int16, 0, len(mono)+1)
		src = append(src, p.lastSample)
		src = append(src, mono...)
	}
	if len(src) < 2 {
		p.lastSample = mono[len(mono)-1]
		p.havePrev = true
		return nil
	}

	ratio := float64(rate) / float64(TargetSampleRate)
	outLen := int(float64(len(src)-1) / ratio)
	out := make([]int16, 0, outLen)
	for i := 0; i < outLen; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(src)-1 {
			break
		}
		frac := pos - float64(idx)
		sample := float64(src[idx])*(1-frac) + float64(src[idx+1])*frac
		out = append(out, int16(sample))
	}
	p.lastSample = mono[len(mono)-1]
	p.havePrev = true
	return out
}

// Emitter performs the inverse of Ingest: it splits a synthesized audio byte
// stream into frames sized for the active transport, holding remainders
// across pushes.
type Emitter struct {
	frameBytes int
	pending    []byte
}

// DefaultFrameBytes is 20ms of 16 kHz mono PCM16.
const DefaultFrameBytes = TargetSampleRate / 50 * 2

func NewEmitter(frameBytes int) *Emitter {
	if frameBytes <= 0 {
		frameBytes = DefaultFrameBytes
	}
	return &Emitter{frameBytes: frameBytes}
}

// Push appends synthesized bytes and returns all complete frames.
func (e *Emitter) Push(b []byte) [][]byte {
	e.pending = append(e.pending, b...)
	var out [][]byte
	for len(e.pending) >= e.frameBytes {
		frame := make([]byte, e.frameBytes)
		copy(frame, e.pending[:e.frameBytes])
		e.pending = e.pending[e.frameBytes:]
		out = append(out, frame)
	}
	return out
}

// Flush returns the final partial frame, if any.
func (e *Emitter) Flush() ([]byte, bool) {
	if len(e.pending) == 0 {
		return nil, false
	}
	frame := make([]byte, len(e.pending))
	copy(frame, e.pending)
	e.pending = e.pending[:0]
	return frame, true
}

// PCMBytes converts int16 samples to little-endian bytes.
func PCMBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// PCMSamples converts little-endian PCM16 bytes to samples. Odd trailing
// bytes are ignored.
func PCMSamples(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return out
}
