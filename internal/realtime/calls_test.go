package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"market-rtc/internal/models"
)

func TestCallHappyPath(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	caller := e.Connect("u1")
	callee := e.Connect("u2")

	offer := json.RawMessage(`{"sdp":"offer"}`)
	callID, err := e.Calls.Initiate(ctx, "u1", "u2", models.CallKindVideo, offer)
	require.NoError(t, err)
	require.NotEmpty(t, callID)

	env := recvEvent(t, callee)
	require.Equal(t, models.EventCallIncoming, env.Event)
	var incoming models.CallIncoming
	decodeData(t, env, &incoming)
	assert.Equal(t, callID, incoming.CallID)
	assert.Equal(t, "u1", incoming.From)
	assert.Equal(t, "video", incoming.Kind)
	assert.JSONEq(t, string(offer), string(incoming.Offer))

	// both sides are indexed while ringing
	id, busy := e.Calls.ActiveCall("u1")
	assert.True(t, busy)
	assert.Equal(t, callID, id)
	_, busy = e.Calls.ActiveCall("u2")
	assert.True(t, busy)

	answer := json.RawMessage(`{"sdp":"answer"}`)
	require.NoError(t, e.Calls.Answer(ctx, callID, "u2", answer))

	env = recvEvent(t, caller)
	require.Equal(t, models.EventCallAnswered, env.Event)
	var answered models.CallAnswered
	decodeData(t, env, &answered)
	assert.JSONEq(t, string(answer), string(answered.Answer))

	session, ok := e.Calls.Get(callID)
	require.True(t, ok)
	assert.Equal(t, models.CallStatusActive, session.Status)

	// candidates relay to the other participant, verbatim
	cand := json.RawMessage(`{"candidate":"a=1"}`)
	require.NoError(t, e.Calls.RelayCandidate(ctx, callID, "u1", cand))
	env = recvEvent(t, callee)
	require.Equal(t, models.EventCallCandidate, env.Event)
	var relayed models.CallCandidate
	decodeData(t, env, &relayed)
	assert.Equal(t, "u1", relayed.From)
	assert.JSONEq(t, string(cand), string(relayed.Candidate))

	require.NoError(t, e.Calls.End(ctx, callID, "u1"))
	env = recvEvent(t, callee)
	require.Equal(t, models.EventCallEnded, env.Event)
	var ended models.CallEnded
	decodeData(t, env, &ended)
	assert.Equal(t, EndReasonHangup, ended.Reason)

	// both index entries are released
	_, busy = e.Calls.ActiveCall("u1")
	assert.False(t, busy)
	_, busy = e.Calls.ActiveCall("u2")
	assert.False(t, busy)

	// ending an ended call is a no-op
	require.NoError(t, e.Calls.End(ctx, callID, "u1"))
	expectNoEvent(t, callee)
}

func TestCallAuthorization(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.Connect("u1")
	e.Connect("u2")

	callID, err := e.Calls.Initiate(ctx, "u1", "u2", models.CallKindVoice, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, e.Calls.Answer(ctx, callID, "u1", nil), ErrUnauthorized, "caller cannot answer")
	assert.ErrorIs(t, e.Calls.Answer(ctx, callID, "u3", nil), ErrUnauthorized)
	assert.ErrorIs(t, e.Calls.Reject(ctx, callID, "u1"), ErrUnauthorized, "caller cannot reject")
	assert.ErrorIs(t, e.Calls.RelayCandidate(ctx, callID, "u3", nil), ErrUnauthorized)
	assert.ErrorIs(t, e.Calls.End(ctx, callID, "u3"), ErrUnauthorized)

	assert.ErrorIs(t, e.Calls.Answer(ctx, "no-such-call", "u2", nil), ErrNotFound)
	assert.ErrorIs(t, e.Calls.End(ctx, "no-such-call", "u2"), ErrNotFound)
}

func TestCallReject(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	caller := e.Connect("u1")
	callee := e.Connect("u2")

	callID, err := e.Calls.Initiate(ctx, "u1", "u2", models.CallKindVoice, nil)
	require.NoError(t, err)
	recvEvent(t, callee)

	require.NoError(t, e.Calls.Reject(ctx, callID, "u2"))

	env := recvEvent(t, caller)
	assert.Equal(t, models.EventCallRejected, env.Event)

	_, busy := e.Calls.ActiveCall("u1")
	assert.False(t, busy)

	session, ok := e.Calls.Get(callID)
	require.True(t, ok, "ended session stays queryable for the retention window")
	assert.Equal(t, models.CallStatusEnded, session.Status)
	assert.Equal(t, EndReasonRejected, session.EndReason)

	// rejecting again is a no-op, not an error
	require.NoError(t, e.Calls.Reject(ctx, callID, "u2"))
}

func TestOneCallPerIdentity(t *testing.T) {
	// Scenario: u1 is calling u2; a second initiate from u1 to u3 must fail.
	e := newTestEngine(t)
	ctx := context.Background()

	e.Connect("u1")
	e.Connect("u2")
	e.Connect("u3")

	_, err := e.Calls.Initiate(ctx, "u1", "u2", models.CallKindVoice, nil)
	require.NoError(t, err)

	_, err = e.Calls.Initiate(ctx, "u1", "u3", models.CallKindVoice, nil)
	assert.ErrorIs(t, err, ErrAlreadyInCall)

	// the callee is busy too
	_, err = e.Calls.Initiate(ctx, "u3", "u2", models.CallKindVoice, nil)
	assert.ErrorIs(t, err, ErrAlreadyInCall)
}

func TestConcurrentInitiateRace(t *testing.T) {
	// Concurrent initiates racing on the same callee: exactly one wins.
	e := newTestEngine(t)
	ctx := context.Background()

	e.Connect("callee")

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			caller := string(rune('a' + n))
			_, errs[n] = e.Calls.Initiate(ctx, caller, "callee", models.CallKindVoice, nil)
		}(i)
	}
	wg.Wait()

	var won, lost int
	for _, err := range errs {
		switch {
		case err == nil:
			won++
		case assert.ErrorIs(t, err, ErrAlreadyInCall):
			lost++
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, callers-1, lost)
}

func TestCallForceEndedOnDisconnect(t *testing.T) {
	// Scenario: u1 rings u2, u2 disconnects entirely before answering.
	// u1 gets call-ended with a disconnect reason and both index entries go.
	e := newTestEngine(t)
	ctx := context.Background()

	caller := e.Connect("u1")
	callee := e.Connect("u2")

	callID, err := e.Calls.Initiate(ctx, "u1", "u2", models.CallKindVideo, nil)
	require.NoError(t, err)
	recvEvent(t, callee)

	e.Disconnect(callee)

	env := recvEventOfType(t, caller, models.EventCallEnded)
	var ended models.CallEnded
	decodeData(t, env, &ended)
	assert.Equal(t, callID, ended.CallID)
	assert.Equal(t, EndReasonDisconnected, ended.Reason)

	_, busy := e.Calls.ActiveCall("u1")
	assert.False(t, busy)
	_, busy = e.Calls.ActiveCall("u2")
	assert.False(t, busy)
}

func TestCallRingingTimeout(t *testing.T) {
	rooms := NewRoomIndex()
	d := NewDispatcher(rooms, nil)
	registry := NewRegistry()
	broker := NewCallBroker(d, registry, nil, 50*time.Millisecond, time.Minute)
	defer broker.Stop()

	caller := NewConn("u1", 16)
	registry.Admit(caller)
	rooms.Join(caller, PersonalRoom("u1"))

	callID, err := broker.Initiate(context.Background(), "u1", "u2", models.CallKindVoice, nil)
	require.NoError(t, err)

	env := recvEventOfType(t, caller, models.EventCallEnded)
	var ended models.CallEnded
	decodeData(t, env, &ended)
	assert.Equal(t, EndReasonTimeout, ended.Reason)

	_, busy := broker.ActiveCall("u1")
	assert.False(t, busy)

	session, ok := broker.Get(callID)
	require.True(t, ok)
	assert.Equal(t, models.CallStatusEnded, session.Status)
}

func TestOfflineCalleeGetsDurableNotice(t *testing.T) {
	queue := &recordingQueue{}
	e := NewEngine(testRealtimeConfig(), nil, queue)
	defer e.Stop()

	e.Connect("u1")
	// u2 has no connection at all

	_, err := e.Calls.Initiate(context.Background(), "u1", "u2", models.CallKindVoice, nil)
	require.NoError(t, err)

	entries := queue.all()
	require.Len(t, entries, 1)
	assert.Equal(t, "u2", entries[0].Identity)
	assert.Equal(t, models.EventCallIncoming, entries[0].Kind)
}

func TestCallGetReturnsSnapshot(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	e.Connect("u1")
	e.Connect("u2")

	callID, err := e.Calls.Initiate(ctx, "u1", "u2", models.CallKindVoice, nil)
	require.NoError(t, err)

	before, ok := e.Calls.Get(callID)
	require.True(t, ok)
	require.Equal(t, models.CallStatusRinging, before.Status)

	require.NoError(t, e.Calls.End(ctx, callID, "u1"))

	// the snapshot is decoupled from the broker's record
	assert.Equal(t, models.CallStatusRinging, before.Status)
	assert.Nil(t, before.EndedAt)

	after, ok := e.Calls.Get(callID)
	require.True(t, ok)
	assert.Equal(t, models.CallStatusEnded, after.Status)
	require.NotNil(t, after.EndedAt)
}
