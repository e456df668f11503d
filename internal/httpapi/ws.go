package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/samvad-ai/samvad/internal/audio"
	"github.com/samvad-ai/samvad/internal/protocol"
	"github.com/samvad-ai/samvad/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsReadLimit    = 2 << 20
)

// handleChannel is the direct websocket channel: one connection is one
// session. Caller audio and text come in as JSON frames; transcripts and
// spoken replies go back out, the reply audio wrapped as base64 WAV.
func (s *Server) handleChannel(w http.ResponseWriter, r *http.Request) {
	room := strings.TrimSpace(r.URL.Query().Get("room"))
	if room == "" {
		room = "direct-" + uuid.NewString()
	}
	participant := strings.TrimSpace(r.URL.Query().Get("participant"))
	if participant == "" {
		participant = "anonymous"
	}

	sess, err := s.sessions.Create(r.Context(), room, participant)
	if err != nil {
		if errors.Is(err, session.ErrConflict) {
			respondError(w, http.StatusConflict, "session_conflict", "room already has an active session")
			return
		}
		respondError(w, http.StatusServiceUnavailable, "session_unavailable", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.sessions.Destroy(sess.ID())
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Keep websocket writes single-threaded: the writer owns the socket's
	// write side, consuming session events plus gateway-level errors.
	gatewayErrs := make(chan protocol.Error, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeChannel(ctx, conn, sess, gatewayErrs)
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			select {
			case gatewayErrs <- protocol.Error{
				Type:      protocol.TypeError,
				SessionID: sess.ID(),
				Code:      "invalid_client_message",
				Stage:     "gateway",
			}:
			default:
				// Drop if the error queue is saturated.
			}
			continue
		}

		switch msg := parsed.(type) {
		case protocol.AudioChunk:
			s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeAudioChunk)).Inc()
			pcm, err := base64.StdEncoding.DecodeString(msg.AudioData)
			if err != nil {
				select {
				case gatewayErrs <- protocol.Error{
					Type:      protocol.TypeError,
					SessionID: sess.ID(),
					Code:      "invalid_audio_encoding",
					Stage:     "gateway",
				}:
				default:
				}
				continue
			}
			_ = sess.PushFrame(audio.Frame{
				PCM:        audio.PCMSamples(pcm),
				SampleRate: msg.SampleRate,
				Channels:   msg.Channels,
			})
		case protocol.TextMessage:
			s.metrics.WSMessages.WithLabelValues("inbound", string(protocol.TypeTextMessage)).Inc()
			_ = sess.PushText(msg.Text, msg.Language)
		}

		select {
		case <-ctx.Done():
			break readLoop
		case <-sess.Done():
			break readLoop
		default:
		}
	}

	cancel()
	s.sessions.Destroy(sess.ID())
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

// writeChannel forwards session events to the socket. Reply audio frames are
// accumulated per turn and shipped as one WAV payload on the ai_response.
func (s *Server) writeChannel(ctx context.Context, conn *websocket.Conn, sess *session.Session, gatewayErrs <-chan protocol.Error) {
	turnAudio := make(map[string][]byte)

	writeJSON := func(msgType protocol.MessageType, v any) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(v); err != nil {
			return false
		}
		s.metrics.WSMessages.WithLabelValues("outbound", string(msgType)).Inc()
		return true
	}

	forward := func(ev session.Event) bool {
		switch e := ev.(type) {
		case session.TranscriptEvent:
			return writeJSON(protocol.TypeTranscript, protocol.Transcript{
				Type:       protocol.TypeTranscript,
				SessionID:  e.SessionID,
				Text:       e.Text,
				Language:   e.Language,
				Confidence: e.Confidence,
			})
		case session.AudioFrameEvent:
			turnAudio[e.TurnID] = append(turnAudio[e.TurnID], e.Data...)
			return true
		case session.ReplyEvent:
			var encoded string
			if pcm := turnAudio[e.TurnID]; len(pcm) > 0 {
				encoded = base64.StdEncoding.EncodeToString(audio.EncodeWAVPCM16LE(pcm, audio.TargetSampleRate))
				delete(turnAudio, e.TurnID)
			}
			return writeJSON(protocol.TypeAIResponse, protocol.AIResponse{
				Type:      protocol.TypeAIResponse,
				SessionID: e.SessionID,
				TurnID:    e.TurnID,
				Text:      e.Text,
				Language:  e.Language,
				AudioData: encoded,
			})
		case session.StateEvent:
			return writeJSON(protocol.TypeState, protocol.State{
				Type:      protocol.TypeState,
				SessionID: e.SessionID,
				State:     string(e.To),
				Reason:    e.Reason,
			})
		case session.ErrorEvent:
			return writeJSON(protocol.TypeError, protocol.Error{
				Type:      protocol.TypeError,
				SessionID: e.SessionID,
				Code:      e.Code,
				Stage:     e.Stage,
				Retryable: e.Retryable,
			})
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-gatewayErrs:
			if !writeJSON(protocol.TypeError, msg) {
				return
			}
		case ev := <-sess.Events():
			if !forward(ev) {
				return
			}
		case <-sess.Done():
			// Flush whatever the session queued before terminating.
			for {
				select {
				case ev := <-sess.Events():
					if !forward(ev) {
						return
					}
				default:
					return
				}
			}
		}
	}
}
