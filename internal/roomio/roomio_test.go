package roomio

import (
	"context"
	"testing"
	"time"

	"github.com/samvad-ai/samvad/internal/audio"
	"github.com/samvad-ai/samvad/internal/convo"
	"github.com/samvad-ai/samvad/internal/history"
	"github.com/samvad-ai/samvad/internal/observability"
	"github.com/samvad-ai/samvad/internal/session"
	"github.com/samvad-ai/samvad/internal/synth"
	"github.com/samvad-ai/samvad/internal/transcribe"
)

func newTestManager(t *testing.T) *session.Manager {
	t.Helper()
	deps := session.Deps{
		Transcriber: transcribe.NewAdapter(transcribe.NewMockProvider("hello", "en"), 3),
		Engine:      convo.NewEngine(convo.NewMockModel(""), convo.EngineConfig{}),
		Synth:       synth.NewAdapter(synth.NewMockProvider(), synth.DefaultProfiles()),
		Archive:     history.NewInMemoryStore(),
		Metrics:     observability.NewMetrics("test"),
	}
	m := session.NewManager(deps, session.Config{ChunkSamples: 160})
	t.Cleanup(m.Shutdown)
	return m
}

func voicedFrame() audio.Frame {
	pcm := make([]int16, 160)
	for i := range pcm {
		pcm[i] = int16(2000 - (i%7)*100)
	}
	return audio.Frame{PCM: pcm, SampleRate: audio.TargetSampleRate, Channels: 1}
}

func silentFrame() audio.Frame {
	return audio.Frame{PCM: make([]int16, 160), SampleRate: audio.TargetSampleRate, Channels: 1}
}

func TestGatewayFullRoomTurn(t *testing.T) {
	manager := newTestManager(t)
	transport := NewMockTransport()
	gateway := NewGateway(transport, manager, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- gateway.Run(ctx) }()

	transport.Emit(ParticipantJoined{Room: "room-1", Participant: "alice"})

	// Wait for the join to take effect.
	deadline := time.Now().Add(time.Second)
	for {
		if _, err := manager.GetByRoom("room-1"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("join did not create a session")
		}
		time.Sleep(5 * time.Millisecond)
	}

	for i := 0; i < 8; i++ {
		transport.Emit(AudioFrame{Room: "room-1", Frame: voicedFrame()})
	}
	for i := 0; i < 6; i++ {
		transport.Emit(AudioFrame{Room: "room-1", Frame: silentFrame()})
	}

	// Reply audio should flow back into the room.
	deadline = time.Now().Add(5 * time.Second)
	for {
		if len(transport.SentFrames("room-1")) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no reply frames reached the room")
		}
		time.Sleep(10 * time.Millisecond)
	}

	transport.Emit(ParticipantLeft{Room: "room-1", Participant: "alice"})
	deadline = time.Now().Add(time.Second)
	for {
		if _, err := manager.GetByRoom("room-1"); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("leave did not destroy the session")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatalf("gateway did not stop")
	}
}

func TestGatewaySecondJoinKeepsSession(t *testing.T) {
	manager := newTestManager(t)
	transport := NewMockTransport()
	gateway := NewGateway(transport, manager, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = gateway.Run(ctx) }()

	transport.Emit(ParticipantJoined{Room: "room-1", Participant: "alice"})
	deadline := time.Now().Add(time.Second)
	var first string
	for {
		if s, err := manager.GetByRoom("room-1"); err == nil {
			first = s.ID()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("join did not create a session")
		}
		time.Sleep(5 * time.Millisecond)
	}

	transport.Emit(ParticipantJoined{Room: "room-1", Participant: "bob"})
	time.Sleep(50 * time.Millisecond)

	s, err := manager.GetByRoom("room-1")
	if err != nil {
		t.Fatalf("GetByRoom() error = %v", err)
	}
	if s.ID() != first {
		t.Fatalf("second join replaced the session: %s != %s", s.ID(), first)
	}
}

func TestGatewayIgnoresAudioForUnknownRoom(t *testing.T) {
	manager := newTestManager(t)
	transport := NewMockTransport()
	gateway := NewGateway(transport, manager, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = gateway.Run(ctx) }()

	// Must not panic or create anything.
	transport.Emit(AudioFrame{Room: "ghost", Frame: voicedFrame()})
	time.Sleep(20 * time.Millisecond)
	if len(manager.List()) != 0 {
		t.Fatalf("stray audio created a session")
	}
}

func TestGatewayStopsWhenTransportCloses(t *testing.T) {
	manager := newTestManager(t)
	transport := NewMockTransport()
	gateway := NewGateway(transport, manager, nil)

	runDone := make(chan error, 1)
	go func() { runDone <- gateway.Run(context.Background()) }()

	_ = transport.Close()
	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("gateway did not stop on transport close")
	}
}
