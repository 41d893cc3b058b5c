package models

import (
	"encoding/json"
	"time"
)

// Inbound event names, sent by authenticated connections.
const (
	EventJoinRoom        = "join-room"
	EventLeaveRoom       = "leave-room"
	EventTypingStart     = "typing-start"
	EventTypingStop      = "typing-stop"
	EventCallInitiate    = "call-initiate"
	EventCallAnswer      = "call-answer"
	EventCallReject      = "call-reject"
	EventCallEnd         = "call-end"
	EventCallCandidate   = "call-ice-candidate"
	EventGetOnlineStatus = "get-online-status"
)

// Outbound event names, delivered to connections.
const (
	EventPresenceChanged  = "presence-changed"
	EventMessageDelivered = "message-delivered-notice"
	EventCallIncoming     = "call-incoming"
	EventCallAnswered     = "call-answered"
	EventCallRejected     = "call-rejected"
	EventCallEnded        = "call-ended"
	EventUploadProgress   = "upload-progress"
	EventUploadComplete   = "upload-complete"
	EventUploadError      = "upload-error"
	EventOnlineStatus     = "online-status"
	EventPendingNotices   = "pending-notices"
	EventError            = "error"
)

// Envelope is the wire frame for every event in either direction.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEvent marshals an outbound event into its wire form. Payload types in
// this package marshal without error; a failure here is a programming bug and
// surfaces as an empty frame for the caller to drop.
func NewEvent(event string, data interface{}) []byte {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil
		}
		raw = b
	}

	b, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		return nil
	}
	return b
}

// Inbound payloads.

type RoomPayload struct {
	Room string `json:"room"`
}

type TypingPayload struct {
	ConversationID string `json:"conversation_id"`
}

type CallInitiatePayload struct {
	Target string          `json:"target"`
	Kind   string          `json:"kind"`
	Offer  json.RawMessage `json:"offer"`
}

type CallAnswerPayload struct {
	CallID string          `json:"call_id"`
	Answer json.RawMessage `json:"answer"`
}

type CallRefPayload struct {
	CallID string `json:"call_id"`
}

type CallCandidatePayload struct {
	CallID    string          `json:"call_id"`
	Candidate json.RawMessage `json:"candidate"`
}

type OnlineStatusPayload struct {
	Identities []string `json:"identities"`
}

// Outbound payloads.

type PresenceChange struct {
	Identity string    `json:"identity"`
	Online   bool      `json:"online"`
	At       time.Time `json:"at"`
}

type TypingChange struct {
	ConversationID string `json:"conversation_id"`
	Identity       string `json:"identity"`
}

type CallIncoming struct {
	CallID string          `json:"call_id"`
	From   string          `json:"from"`
	Kind   string          `json:"kind"`
	Offer  json.RawMessage `json:"offer"`
}

type CallAnswered struct {
	CallID string          `json:"call_id"`
	Answer json.RawMessage `json:"answer"`
}

type CallRejected struct {
	CallID string `json:"call_id"`
}

type CallEnded struct {
	CallID string `json:"call_id"`
	Reason string `json:"reason"`
}

type CallCandidate struct {
	CallID    string          `json:"call_id"`
	From      string          `json:"from"`
	Candidate json.RawMessage `json:"candidate"`
}

type OnlineStatusResult struct {
	Online []string `json:"online"`
}

// PendingNotices tells a freshly connected identity how many durable
// notifications queued up while it was offline.
type PendingNotices struct {
	Count int `json:"count"`
}

type ErrorPayload struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}
