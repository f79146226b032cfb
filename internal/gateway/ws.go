package gateway

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"interview-transcription-service/internal/audio"
	"interview-transcription-service/internal/models"
	"interview-transcription-service/internal/orchestrator"
	"interview-transcription-service/internal/session"
	"interview-transcription-service/internal/stt/fallback"
)

const (
	writeWait      = 10 * time.Second
	sendQueueDepth = 64
)

// connection is one authenticated websocket. All writes go through the
// send channel so a single writer goroutine owns the socket.
type connection struct {
	id            string
	participantID string
	ws            *websocket.Conn
	send          chan outboundMessage
	g             *Gateway
	logger        zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// handleWS authenticates, upgrades and runs a connection until it drops.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	participantID, err := g.auth(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &connection{
		id:            uuid.NewString(),
		participantID: participantID,
		ws:            ws,
		send:          make(chan outboundMessage, sendQueueDepth),
		g:             g,
	}
	c.logger = g.logger.With().
		Str("connId", c.id).
		Str("participantId", participantID).
		Logger()

	g.register(c)
	go c.writeLoop()

	c.enqueue(outboundMessage{
		Type:          evtConnectionAck,
		ConnectionID:  c.id,
		ParticipantID: participantID,
	})

	c.logger.Info().Msg("connection established")
	c.readLoop(r.Context())
}

// enqueue queues an event for delivery, dropping it when the client cannot
// keep up. Dropping beats stalling the whole room behind one slow reader.
func (c *connection) enqueue(msg outboundMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	select {
	case c.send <- msg:
	default:
		c.logger.Warn().Str("event", msg.Type).Msg("send queue full, event dropped")
	}
}

func (c *connection) writeLoop() {
	for msg := range c.send {
		c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteJSON(msg); err != nil {
			c.logger.Debug().Err(err).Msg("write failed")
			c.ws.Close()
			// Drain so enqueue never blocks during teardown.
			for range c.send {
			}
			return
		}
	}
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.ws.Close()
}

func (c *connection) readLoop(ctx context.Context) {
	defer c.teardown()

	for {
		var msg inboundMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("connection dropped")
			}
			return
		}

		switch msg.Type {
		case msgJoin:
			c.handleJoin(msg)
		case msgLeave:
			c.handleLeave()
		case msgAudio:
			c.handleAudio(ctx, msg)
		case msgStreamStart:
			c.handleStreamStart(ctx)
		case msgStreamStop:
			c.handleStreamStop()
		default:
			c.enqueue(errorMessage(codeBadMessage, "unknown message type "+msg.Type))
		}
	}
}

// teardown runs once the socket is gone: leave the room, close a stream
// left behind in an emptied room, notify the peers.
func (c *connection) teardown() {
	sessionID, detached := c.g.registry.Leave(c.id)
	if detached != nil {
		go detached.Close()
	}
	if sessionID != "" {
		c.g.broadcast(sessionID, outboundMessage{
			Type:          evtPeerLeft,
			ParticipantID: c.participantID,
			SessionID:     sessionID,
		})
	}

	c.g.unregister(c.id)
	c.mu.Lock()
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	c.logger.Info().Msg("connection closed")
}

func (c *connection) handleJoin(msg inboundMessage) {
	if msg.SessionID == "" {
		c.enqueue(errorMessage(codeBadMessage, "join requires a sessionId"))
		return
	}

	stats := c.g.registry.Join(c.id, c.participantID, msg.SessionID)

	c.enqueue(outboundMessage{
		Type:      evtRoomJoined,
		SessionID: msg.SessionID,
		Stats:     &stats,
	})
	c.g.broadcastExcept(msg.SessionID, c.id, outboundMessage{
		Type:          evtPeerJoined,
		ParticipantID: c.participantID,
		SessionID:     msg.SessionID,
	})
}

func (c *connection) handleLeave() {
	sessionID, detached := c.g.registry.Leave(c.id)
	if detached != nil {
		go detached.Close()
	}
	if sessionID != "" {
		c.g.broadcast(sessionID, outboundMessage{
			Type:          evtPeerLeft,
			ParticipantID: c.participantID,
			SessionID:     sessionID,
		})
	}
}

// handleAudio routes audio either into the room's continuous stream or
// through a one-shot submission.
func (c *connection) handleAudio(ctx context.Context, msg inboundMessage) {
	sessionID, ok := c.g.registry.RoomOf(c.id)
	if !ok {
		c.enqueue(errorMessage(codeNotInRoom, "join a session before sending audio"))
		return
	}
	if len(msg.Audio) == 0 {
		c.enqueue(errorMessage(codeInvalidAudio, "empty audio payload"))
		return
	}

	c.g.registry.Touch(sessionID)

	if s, active := c.g.registry.StreamFor(sessionID); active {
		if stream, ok := s.(audioStream); ok {
			stream.Enqueue(msg.Audio)
			return
		}
	}

	// Submissions in flight at disconnect time run to completion; their
	// results are dropped if the room is gone by then.
	chunk := models.NewAudioChunk(sessionID, msg.Seq, msg.Audio, msg.Format)
	go c.submitChunk(context.WithoutCancel(ctx), sessionID, chunk)
}

// submitChunk runs one independent transcription. A failure is scoped to
// the submitting connection; the rest of the room is unaffected.
func (c *connection) submitChunk(ctx context.Context, sessionID string, chunk *models.AudioChunk) {
	result, err := c.g.orch.Submit(ctx, chunk)
	if err != nil {
		switch {
		case errors.Is(err, audio.ErrInvalidAudio):
			c.enqueue(errorMessage(codeInvalidAudio, err.Error()))
		case errors.Is(err, fallback.ErrAllProvidersUnavailable):
			c.enqueue(errorMessage(codeTranscription, "no transcription provider available"))
		default:
			c.logger.Error().Err(err).Msg("chunk submission failed")
			c.enqueue(errorMessage(codeTranscription, "transcription failed"))
		}
		return
	}

	// The room may have been reaped while the provider call was in flight;
	// broadcast then reaches nobody, which is fine.
	c.g.broadcast(sessionID, resultMessage(result))
}

func (c *connection) handleStreamStart(ctx context.Context) {
	sessionID, ok := c.g.registry.RoomOf(c.id)
	if !ok {
		c.enqueue(errorMessage(codeNotInRoom, "join a session before starting a stream"))
		return
	}

	stream, err := c.g.orch.OpenStream(ctx, sessionID)
	if err != nil {
		c.logger.Error().Err(err).Msg("stream open failed")
		c.enqueue(errorMessage(codeStreamFailed, "could not open a transcription stream"))
		return
	}

	if err := c.g.registry.AttachStream(sessionID, stream); err != nil {
		stream.Close()
		if errors.Is(err, session.ErrDuplicateStreamAttach) {
			c.enqueue(errorMessage(codeDuplicateStream, "session already has an active stream"))
		} else {
			c.enqueue(errorMessage(codeStreamFailed, err.Error()))
		}
		return
	}

	go c.g.fanOutStream(sessionID, stream)
	c.g.broadcast(sessionID, outboundMessage{Type: evtStreamStarted, SessionID: sessionID})
}

func (c *connection) handleStreamStop() {
	sessionID, ok := c.g.registry.RoomOf(c.id)
	if !ok {
		c.enqueue(errorMessage(codeNotInRoom, "join a session before stopping a stream"))
		return
	}

	if detached := c.g.registry.DetachStream(sessionID); detached != nil {
		go detached.Close()
	}
	c.g.broadcast(sessionID, outboundMessage{Type: evtStreamStopped, SessionID: sessionID})
}

// fanOutStream forwards every interim and final result of a continuous
// stream to the room, in the order the stream emitted them.
func (g *Gateway) fanOutStream(sessionID string, stream *orchestrator.StreamSession) {
	for result := range stream.Results() {
		g.broadcast(sessionID, resultMessage(result))
	}
}
