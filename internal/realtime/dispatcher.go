package realtime

import (
	"context"
	"sync"

	"github.com/rs/xid"

	"market-rtc/pkg/logger"
)

// replicationBuffer bounds frames waiting for the backplane. A full buffer
// drops the frame; replication is best-effort like local delivery.
const replicationBuffer = 1024

// Dispatcher fans an event out to every live connection in a room, locally
// and, through the backplane, on the other instances. Delivery is
// fire-and-forget, at-most-once per connection: a room with no members drops
// the event silently, and callers that need guarantees route through the
// durable notification queue as well.
type Dispatcher struct {
	rooms     *RoomIndex
	backplane Backplane // nil when running standalone
	origin    string

	outbound  chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func NewDispatcher(rooms *RoomIndex, backplane Backplane) *Dispatcher {
	d := &Dispatcher{
		rooms:     rooms,
		backplane: backplane,
		origin:    xid.New().String(),
		outbound:  make(chan Frame, replicationBuffer),
		done:      make(chan struct{}),
	}
	if backplane != nil {
		go d.replicate()
	}
	return d
}

// Origin is this instance's id, tagged onto replicated frames.
func (d *Dispatcher) Origin() string {
	return d.origin
}

// PublishToRoom delivers payload to every member of room on this instance
// and replicates it for the others.
func (d *Dispatcher) PublishToRoom(ctx context.Context, room string, payload []byte) {
	d.publish(ctx, room, "", payload)
}

// PublishToRoomExcept is PublishToRoom minus every connection owned by the
// excluded identity, on all instances. Typing indicators use it so senders
// do not see their own events echoed back.
func (d *Dispatcher) PublishToRoomExcept(ctx context.Context, room, exclude string, payload []byte) {
	d.publish(ctx, room, exclude, payload)
}

// PublishToIdentity delivers to every connection of the identity, on any
// instance, via its personal room.
func (d *Dispatcher) PublishToIdentity(ctx context.Context, identity string, payload []byte) {
	d.publish(ctx, PersonalRoom(identity), "", payload)
}

func (d *Dispatcher) publish(_ context.Context, room, exclude string, payload []byte) {
	if payload == nil {
		return
	}

	d.deliverLocal(room, exclude, payload)

	if d.backplane == nil {
		return
	}
	// A single goroutine drains outbound, so frames reach the backplane in
	// publish order while the network I/O stays off the caller's path.
	frame := Frame{Origin: d.origin, Room: room, Exclude: exclude, Payload: payload}
	select {
	case d.outbound <- frame:
	case <-d.done:
	default:
		logger.Errorw("replication buffer full, frame dropped", "room", room)
	}
}

func (d *Dispatcher) replicate() {
	for {
		select {
		case frame := <-d.outbound:
			if err := d.backplane.Publish(context.Background(), frame); err != nil {
				logger.Errorw("backplane publish failed", "room", frame.Room, "err", err)
			}
		case <-d.done:
			return
		}
	}
}

// Close stops the replication loop. Frames still queued are dropped.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.done) })
}

func (d *Dispatcher) deliverLocal(room, exclude string, payload []byte) {
	members := d.rooms.Members(room)
	if len(members) == 0 {
		return
	}

	for _, c := range members {
		if exclude != "" && c.Identity == exclude {
			continue
		}
		if !c.deliver(payload) {
			// Dead or saturated connection; best-effort delivery drops it.
			logger.Debugw("event dropped", "room", room, "conn_id", c.ID)
		}
	}
}

// HandleReplicated is the subscription callback for frames published by
// other instances. Self-originated echoes are skipped so events never loop,
// and the frame is never re-replicated.
func (d *Dispatcher) HandleReplicated(frame Frame) {
	if frame.Origin == d.origin {
		return
	}
	d.deliverLocal(frame.Room, frame.Exclude, frame.Payload)
}
