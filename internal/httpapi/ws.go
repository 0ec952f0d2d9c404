package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rahulved/mockboard/internal/orchestrator"
	"github.com/rahulved/mockboard/internal/protocol"
	"github.com/rahulved/mockboard/internal/room"
)

var timeNow = time.Now

// handleInterviewWS upgrades the connection and bridges it to the
// orchestrator: one writer goroutine drains the outbound channel so
// websocket writes stay single-threaded, and the read loop dispatches
// parsed client messages.
func (s *Server) handleInterviewWS(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unauthorized", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Outbound is never closed: a late pipeline run may still hold the
	// subscriber, and delivery after disconnect is suppressed upstream.
	outbound := make(chan any, 256)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(8 << 20) // audio payloads are base64 in text frames
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	var (
		mu        sync.Mutex
		sessionID string
	)
	currentSession := func() string {
		mu.Lock()
		defer mu.Unlock()
		return sessionID
	}
	pushError := func(code, source, detail string, retryable bool) {
		select {
		case outbound <- protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			Code:      code,
			Source:    source,
			Retryable: retryable,
			Detail:    detail,
		}:
		default:
			// Writes stay single-threaded; drop when saturated.
			s.metrics.BroadcastDrops.Inc()
		}
	}

	var submissions sync.WaitGroup

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			pushError("invalid_client_message", "gateway", err.Error(), false)
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		switch msg := parsed.(type) {
		case protocol.JoinInterview:
			if currentSession() != "" {
				pushError("already_joined", "gateway", "connection already joined an interview", false)
				continue
			}
			sess, err := s.orchestrator.Join(ctx, msg.InterviewID, userID, room.ChannelSubscriber(outbound))
			if err != nil {
				code := "join_failed"
				if errors.Is(err, orchestrator.ErrNotFound) {
					code = "interview_not_found"
				}
				pushError(code, "orchestrator", err.Error(), false)
				continue
			}
			mu.Lock()
			sessionID = sess.ID
			mu.Unlock()

		case protocol.AudioResponse:
			sid := currentSession()
			if sid == "" {
				pushError("not_joined", "gateway", "join an interview first", false)
				continue
			}
			audio, err := base64.StdEncoding.DecodeString(msg.AudioBase64)
			if err != nil {
				pushError("invalid_audio", "gateway", "audio_base64 is not valid base64", false)
				continue
			}
			// The pipeline run is synchronous; run it off the read loop so
			// pings and end requests stay responsive. The single-flight
			// latch rejects overlapping submissions.
			submissions.Add(1)
			go func(audio []byte, questionID string, responseTimeMS int64) {
				defer submissions.Done()
				if err := s.orchestrator.SubmitAnswer(ctx, sid, audio, questionID, responseTimeMS); err != nil {
					pushError("already_processing", "orchestrator", err.Error(), true)
				}
			}(audio, msg.QuestionID, msg.ResponseTimeMS)

		case protocol.EndInterview:
			sid := currentSession()
			if sid == "" {
				pushError("not_joined", "gateway", "join an interview first", false)
				continue
			}
			if _, err := s.orchestrator.EndInterview(ctx, sid); err != nil {
				pushError("end_failed", "orchestrator", err.Error(), false)
			}

		case protocol.Typing:
			if sid := currentSession(); sid != "" {
				s.orchestrator.Typing(sid, msg.IsTyping)
			}
		}
	}

	if sid := currentSession(); sid != "" {
		s.orchestrator.Disconnect(sid)
	}
	cancel()
	submissions.Wait()
	<-writerDone
	s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.JoinInterview:
		return m.Type, true
	case protocol.AudioResponse:
		return m.Type, true
	case protocol.EndInterview:
		return m.Type, true
	case protocol.Typing:
		return m.Type, true
	case protocol.InterviewState:
		return m.Type, true
	case protocol.FirstQuestion:
		return m.Type, true
	case protocol.ProcessingResponse:
		return m.Type, true
	case protocol.NextQuestion:
		return m.Type, true
	case protocol.InterviewEnded:
		return m.Type, true
	case protocol.UserTyping:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
