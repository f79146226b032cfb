package gateway

import (
	"interview-transcription-service/internal/models"
	"interview-transcription-service/internal/session"
)

// Inbound message types.
const (
	msgJoin        = "join"
	msgLeave       = "leave"
	msgAudio       = "audio"
	msgStreamStart = "stream-start"
	msgStreamStop  = "stream-stop"
)

// Outbound event types.
const (
	evtConnectionAck = "connection-ack"
	evtRoomJoined    = "room-joined"
	evtPeerJoined    = "peer-joined"
	evtPeerLeft      = "peer-left"
	evtResult        = "transcription-result"
	evtStreamStarted = "stream-started"
	evtStreamStopped = "stream-stopped"
	evtError         = "error"
)

// Error codes reported to a single connection.
const (
	codeBadMessage      = "bad-message"
	codeNotInRoom       = "not-in-room"
	codeInvalidAudio    = "invalid-audio"
	codeTranscription   = "transcription-failed"
	codeDuplicateStream = "duplicate-stream"
	codeStreamFailed    = "stream-failed"
)

// inboundMessage is one client frame. Audio travels base64-encoded inside
// the JSON payload.
type inboundMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Seq       int    `json:"seq,omitempty"`
	Format    string `json:"format,omitempty"`
	Audio     []byte `json:"audio,omitempty"`
}

// outboundMessage is one server event, fanned out to room members or sent
// to a single connection.
type outboundMessage struct {
	Type          string                  `json:"type"`
	ConnectionID  string                  `json:"connectionId,omitempty"`
	ParticipantID string                  `json:"participantId,omitempty"`
	SessionID     string                  `json:"sessionId,omitempty"`
	Stats         *session.Stats          `json:"stats,omitempty"`
	Result        *models.TranscriptEvent `json:"result,omitempty"`
	Code          string                  `json:"code,omitempty"`
	Message       string                  `json:"message,omitempty"`
}

func errorMessage(code, message string) outboundMessage {
	return outboundMessage{Type: evtError, Code: code, Message: message}
}

func resultMessage(result *models.TranscriptionResult) outboundMessage {
	event := models.EventFromResult(result)
	return outboundMessage{
		Type:      evtResult,
		SessionID: result.SessionID,
		Result:    &event,
	}
}
