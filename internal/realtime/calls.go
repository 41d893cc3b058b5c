package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"market-rtc/internal/database"
	"market-rtc/internal/models"
	"market-rtc/pkg/logger"
)

// End reasons carried on call-ended events.
const (
	EndReasonHangup       = "hangup"
	EndReasonRejected     = "rejected"
	EndReasonTimeout      = "timeout"
	EndReasonDisconnected = "peer disconnected"
)

// CallBroker is the signaling state machine for two-party calls:
// ringing -> active -> ended, with rejected/timeout/disconnect edges straight
// to ended. It enforces one active call per identity and relays offer,
// answer and ICE blobs verbatim; media never passes through here.
//
// All transitions for a call are serialized under one mutex, so a concurrent
// answer and reject resolve to exactly one winner, and the one-call-per-
// identity check-and-set is atomic.
type CallBroker struct {
	dispatcher *Dispatcher
	registry   *Registry
	queue      database.NotificationQueue // nil when no durable fallback is wired

	ringingTimeout time.Duration

	mu         sync.Mutex
	sessions   map[string]*models.CallSession
	byIdentity map[string]string
	timers     map[string]*time.Timer

	// Ended sessions stay queryable for a bounded window, then vanish.
	ended *ttlcache.Cache[string, *models.CallSession]
}

func NewCallBroker(dispatcher *Dispatcher, registry *Registry, queue database.NotificationQueue, ringingTimeout, retention time.Duration) *CallBroker {
	b := &CallBroker{
		dispatcher:     dispatcher,
		registry:       registry,
		queue:          queue,
		ringingTimeout: ringingTimeout,
		sessions:       make(map[string]*models.CallSession),
		byIdentity:     make(map[string]string),
		timers:         make(map[string]*time.Timer),
		ended: ttlcache.New[string, *models.CallSession](
			ttlcache.WithTTL[string, *models.CallSession](retention),
		),
	}
	go b.ended.Start()
	return b
}

// Initiate starts a call from caller to callee and rings the callee. Fails
// with ErrAlreadyInCall if either side already has a live session.
func (b *CallBroker) Initiate(ctx context.Context, caller, callee string, kind models.CallKind, offer json.RawMessage) (string, error) {
	b.mu.Lock()
	if _, busy := b.byIdentity[caller]; busy {
		b.mu.Unlock()
		return "", ErrAlreadyInCall
	}
	if _, busy := b.byIdentity[callee]; busy {
		b.mu.Unlock()
		return "", ErrAlreadyInCall
	}

	session := &models.CallSession{
		ID:        uuid.NewString(),
		Caller:    caller,
		Callee:    callee,
		Kind:      kind,
		Status:    models.CallStatusRinging,
		StartedAt: time.Now(),
	}
	b.sessions[session.ID] = session
	b.byIdentity[caller] = session.ID
	b.byIdentity[callee] = session.ID
	if b.ringingTimeout > 0 {
		id := session.ID
		b.timers[id] = time.AfterFunc(b.ringingTimeout, func() {
			b.expire(id)
		})
	}
	b.mu.Unlock()

	logger.Infow("call initiated", "call_id", session.ID, "caller", caller, "callee", callee, "kind", kind)

	incoming := models.CallIncoming{
		CallID: session.ID,
		From:   caller,
		Kind:   string(kind),
		Offer:  offer,
	}
	b.dispatcher.PublishToIdentity(ctx, callee, models.NewEvent(models.EventCallIncoming, incoming))

	// A callee with no live connection never sees the ring; hand the invite
	// to the durable queue so a push/email collaborator can pick it up.
	if b.queue != nil && !b.registry.IsOnline(callee) {
		data, _ := json.Marshal(incoming)
		if err := b.queue.Enqueue(ctx, callee, models.EventCallIncoming, data); err != nil {
			logger.Errorw("durable call notice enqueue failed", "call_id", session.ID, "callee", callee, "err", err)
		}
	}

	return session.ID, nil
}

// Answer transitions ringing -> active and relays the answer blob to the
// caller. Only the callee may answer.
func (b *CallBroker) Answer(ctx context.Context, callID, identity string, answer json.RawMessage) error {
	b.mu.Lock()
	session, ok := b.sessions[callID]
	if !ok {
		b.mu.Unlock()
		return ErrNotFound
	}
	if identity != session.Callee {
		b.mu.Unlock()
		return ErrUnauthorized
	}
	if session.Status != models.CallStatusRinging {
		b.mu.Unlock()
		return ErrNotFound
	}
	session.Status = models.CallStatusActive
	b.stopTimerLocked(callID)
	caller := session.Caller
	b.mu.Unlock()

	logger.Infow("call answered", "call_id", callID, "callee", identity)
	b.dispatcher.PublishToIdentity(ctx, caller, models.NewEvent(models.EventCallAnswered, models.CallAnswered{
		CallID: callID,
		Answer: answer,
	}))
	return nil
}

// Reject ends a ringing call. Only the callee may reject.
func (b *CallBroker) Reject(ctx context.Context, callID, identity string) error {
	b.mu.Lock()
	session, ok := b.sessions[callID]
	if !ok {
		b.mu.Unlock()
		if b.wasEnded(callID) {
			return nil
		}
		return ErrNotFound
	}
	if identity != session.Callee {
		b.mu.Unlock()
		return ErrUnauthorized
	}
	b.terminateLocked(session, EndReasonRejected)
	caller := session.Caller
	b.mu.Unlock()

	logger.Infow("call rejected", "call_id", callID, "callee", identity)
	b.dispatcher.PublishToIdentity(ctx, caller, models.NewEvent(models.EventCallRejected, models.CallRejected{
		CallID: callID,
	}))
	return nil
}

// RelayCandidate forwards an ICE candidate to the other participant
// verbatim. No state transition.
func (b *CallBroker) RelayCandidate(ctx context.Context, callID, identity string, candidate json.RawMessage) error {
	b.mu.Lock()
	session, ok := b.sessions[callID]
	if !ok {
		b.mu.Unlock()
		return ErrNotFound
	}
	if !session.Participant(identity) {
		b.mu.Unlock()
		return ErrUnauthorized
	}
	peer := session.Peer(identity)
	b.mu.Unlock()

	b.dispatcher.PublishToIdentity(ctx, peer, models.NewEvent(models.EventCallCandidate, models.CallCandidate{
		CallID:    callID,
		From:      identity,
		Candidate: candidate,
	}))
	return nil
}

// End terminates the call from any non-terminal state and notifies the other
// participant. Ending an already-ended call is a no-op.
func (b *CallBroker) End(ctx context.Context, callID, identity string) error {
	b.mu.Lock()
	session, ok := b.sessions[callID]
	if !ok {
		b.mu.Unlock()
		if b.wasEnded(callID) {
			return nil
		}
		return ErrNotFound
	}
	if !session.Participant(identity) {
		b.mu.Unlock()
		return ErrUnauthorized
	}
	b.terminateLocked(session, EndReasonHangup)
	peer := session.Peer(identity)
	b.mu.Unlock()

	logger.Infow("call ended", "call_id", callID, "by", identity)
	b.notifyEnded(ctx, peer, callID, EndReasonHangup)
	return nil
}

// EndForIdentity force-ends whatever call the identity is on, notifying the
// remaining participant. Wired to the registry's offline hook.
func (b *CallBroker) EndForIdentity(ctx context.Context, identity string) {
	b.mu.Lock()
	callID, ok := b.byIdentity[identity]
	if !ok {
		b.mu.Unlock()
		return
	}
	session := b.sessions[callID]
	b.terminateLocked(session, EndReasonDisconnected)
	peer := session.Peer(identity)
	b.mu.Unlock()

	logger.Infow("call force-ended", "call_id", callID, "disconnected", identity)
	b.notifyEnded(ctx, peer, callID, EndReasonDisconnected)
}

// Get returns a snapshot of a live or recently-ended session. The broker
// keeps mutating live sessions under its own lock, so callers get a copy.
func (b *CallBroker) Get(callID string) (*models.CallSession, bool) {
	b.mu.Lock()
	if session, ok := b.sessions[callID]; ok {
		snapshot := *session
		b.mu.Unlock()
		return &snapshot, true
	}
	b.mu.Unlock()

	if item := b.ended.Get(callID, ttlcache.WithDisableTouchOnHit[string, *models.CallSession]()); item != nil {
		snapshot := *item.Value()
		return &snapshot, true
	}
	return nil, false
}

// ActiveCall returns the id of the identity's live call, if any.
func (b *CallBroker) ActiveCall(identity string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.byIdentity[identity]
	return id, ok
}

func (b *CallBroker) Stop() {
	b.mu.Lock()
	for id := range b.timers {
		b.stopTimerLocked(id)
	}
	b.mu.Unlock()
	b.ended.Stop()
}

// expire fires when a ringing call was never answered.
func (b *CallBroker) expire(callID string) {
	b.mu.Lock()
	session, ok := b.sessions[callID]
	if !ok || session.Status != models.CallStatusRinging {
		b.mu.Unlock()
		return
	}
	b.terminateLocked(session, EndReasonTimeout)
	caller, callee := session.Caller, session.Callee
	b.mu.Unlock()

	logger.Infow("call timed out", "call_id", callID)
	ctx := context.Background()
	b.notifyEnded(ctx, caller, callID, EndReasonTimeout)
	b.notifyEnded(ctx, callee, callID, EndReasonTimeout)
}

// terminateLocked moves the session to its terminal state and releases both
// identity index entries. Caller holds b.mu.
func (b *CallBroker) terminateLocked(session *models.CallSession, reason string) {
	now := time.Now()
	session.Status = models.CallStatusEnded
	session.EndedAt = &now
	session.EndReason = reason

	delete(b.sessions, session.ID)
	delete(b.byIdentity, session.Caller)
	delete(b.byIdentity, session.Callee)
	b.stopTimerLocked(session.ID)
	b.ended.Set(session.ID, session, ttlcache.DefaultTTL)
}

func (b *CallBroker) stopTimerLocked(callID string) {
	if timer, ok := b.timers[callID]; ok {
		timer.Stop()
		delete(b.timers, callID)
	}
}

func (b *CallBroker) wasEnded(callID string) bool {
	return b.ended.Get(callID, ttlcache.WithDisableTouchOnHit[string, *models.CallSession]()) != nil
}

func (b *CallBroker) notifyEnded(ctx context.Context, identity, callID, reason string) {
	b.dispatcher.PublishToIdentity(ctx, identity, models.NewEvent(models.EventCallEnded, models.CallEnded{
		CallID: callID,
		Reason: reason,
	}))
}
