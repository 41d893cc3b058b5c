package models

import "time"

type CallStatus string

const (
	CallStatusRinging CallStatus = "ringing"
	CallStatusActive  CallStatus = "active"
	CallStatusEnded   CallStatus = "ended"
)

type CallKind string

const (
	CallKindVoice CallKind = "voice"
	CallKindVideo CallKind = "video"
)

// CallSession is the signaling-only record of one two-party call. It never
// carries media and is never persisted.
type CallSession struct {
	ID        string     `json:"call_id"`
	Caller    string     `json:"caller"`
	Callee    string     `json:"callee"`
	Kind      CallKind   `json:"kind"`
	Status    CallStatus `json:"status"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
}

// Participant reports whether identity is the caller or callee.
func (c *CallSession) Participant(identity string) bool {
	return identity == c.Caller || identity == c.Callee
}

// Peer returns the other participant. Callers must have checked Participant.
func (c *CallSession) Peer(identity string) string {
	if identity == c.Caller {
		return c.Callee
	}
	return c.Caller
}
