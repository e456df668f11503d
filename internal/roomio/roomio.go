package roomio

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/samvad-ai/samvad/internal/audio"
	"github.com/samvad-ai/samvad/internal/session"
)

// Event is anything a room transport can report.
type Event any

// ParticipantJoined means a caller entered the room and audio will follow.
type ParticipantJoined struct {
	Room        string
	Participant string
}

// ParticipantLeft means the caller is gone and the room's session should end.
type ParticipantLeft struct {
	Room        string
	Participant string
}

// AudioFrame is one frame of caller audio from a room.
type AudioFrame struct {
	Room  string
	Frame audio.Frame
}

// Transport abstracts a realtime audio room provider. Implementations
// surface room activity on Events and accept reply audio via SendFrame.
type Transport interface {
	Events() <-chan Event
	SendFrame(ctx context.Context, room string, data []byte) error
	Close() error
}

// Gateway binds a Transport to the session manager: a join creates the
// room's session, caller audio feeds it, and synthesized reply frames are
// pushed back into the room.
type Gateway struct {
	transport Transport
	sessions  *session.Manager
	logger    *log.Logger

	wg sync.WaitGroup
}

func NewGateway(transport Transport, sessions *session.Manager, logger *log.Logger) *Gateway {
	if logger == nil {
		logger = log.Default()
	}
	return &Gateway{transport: transport, sessions: sessions, logger: logger}
}

// Run consumes transport events until ctx is canceled or the transport's
// event stream closes. It blocks; callers usually run it in a goroutine.
func (g *Gateway) Run(ctx context.Context) error {
	defer g.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-g.transport.Events():
			if !ok {
				return nil
			}
			g.handle(ctx, ev)
		}
	}
}

func (g *Gateway) handle(ctx context.Context, ev Event) {
	switch e := ev.(type) {
	case ParticipantJoined:
		sess, err := g.sessions.Create(ctx, e.Room, e.Participant)
		if err != nil {
			// A second participant in an occupied room keeps the room's
			// existing session; other failures are logged and dropped.
			if !errors.Is(err, session.ErrConflict) {
				g.logger.Printf("roomio: create session for room %s: %v", e.Room, err)
			}
			return
		}
		g.wg.Add(1)
		go g.pumpReplies(ctx, sess)

	case ParticipantLeft:
		g.sessions.DestroyByRoom(e.Room)

	case AudioFrame:
		sess, err := g.sessions.GetByRoom(e.Room)
		if err != nil {
			return
		}
		_ = sess.PushFrame(e.Frame)
	}
}

// pumpReplies forwards the session's synthesized audio frames into the room.
func (g *Gateway) pumpReplies(ctx context.Context, sess *session.Session) {
	defer g.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case ev := <-sess.Events():
			frame, ok := ev.(session.AudioFrameEvent)
			if !ok {
				continue
			}
			if err := g.transport.SendFrame(ctx, sess.Room(), frame.Data); err != nil {
				g.logger.Printf("roomio: send frame to room %s: %v", sess.Room(), err)
			}
		}
	}
}
