package realtime

import (
	"context"
	"time"

	"market-rtc/internal/config"
	"market-rtc/internal/database"
	"market-rtc/internal/models"
	"market-rtc/pkg/logger"
)

// Engine owns the realtime components and wires their lifecycles together:
// presence changes flow out through the dispatcher, and an identity going
// fully offline purges its typing entries and force-ends its call.
type Engine struct {
	Registry   *Registry
	Rooms      *RoomIndex
	Dispatcher *Dispatcher
	Typing     *TypingTracker
	Calls      *CallBroker
	Uploads    *UploadBroadcaster

	backplane  Backplane
	queue      database.NotificationQueue
	sendBuffer int
}

func NewEngine(cfg config.RealtimeConfig, backplane Backplane, queue database.NotificationQueue) *Engine {
	rooms := NewRoomIndex()
	dispatcher := NewDispatcher(rooms, backplane)
	registry := NewRegistry()

	e := &Engine{
		Registry:   registry,
		Rooms:      rooms,
		Dispatcher: dispatcher,
		Typing:     NewTypingTracker(dispatcher, cfg.TypingTTL),
		Calls:      NewCallBroker(dispatcher, registry, queue, cfg.RingingTimeout, cfg.CallRetention),
		Uploads:    NewUploadBroadcaster(dispatcher, cfg.UploadRetention),
		backplane:  backplane,
		queue:      queue,
		sendBuffer: cfg.SendBuffer,
	}

	registry.OnPresence(func(identity string, online bool) {
		dispatcher.PublishToRoom(context.Background(), PresenceRoom,
			models.NewEvent(models.EventPresenceChanged, models.PresenceChange{
				Identity: identity,
				Online:   online,
				At:       time.Now(),
			}))
	})
	registry.OnOffline(func(identity string) {
		ctx := context.Background()
		e.Typing.PurgeIdentity(ctx, identity)
		e.Calls.EndForIdentity(ctx, identity)
	})

	return e
}

// Start subscribes the dispatcher to the backplane. With no backplane the
// node runs standalone; local delivery is unaffected.
func (e *Engine) Start(ctx context.Context) error {
	if e.backplane == nil {
		logger.Info("no backplane configured, running single-instance")
		return nil
	}
	return e.backplane.Subscribe(ctx, e.Dispatcher.HandleReplicated)
}

// Connect admits a fresh connection for the identity and joins it to its
// personal room, making it addressable by PublishToIdentity.
func (e *Engine) Connect(identity string) *Conn {
	c := NewConn(identity, e.sendBuffer)
	e.Registry.Admit(c)
	e.Rooms.Join(c, PersonalRoom(identity))
	if e.queue != nil {
		// Database roundtrip; keep it off the connect path.
		go e.sendPendingCount(c)
	}
	return c
}

// sendPendingCount tells a fresh connection how many durable notices piled
// up for its identity while it had no connection.
func (e *Engine) sendPendingCount(c *Conn) {
	n, err := e.queue.PendingCount(context.Background(), c.Identity)
	if err != nil {
		logger.Errorw("pending notice count failed", "identity", c.Identity, "err", err)
		return
	}
	if n == 0 {
		return
	}
	c.deliver(models.NewEvent(models.EventPendingNotices, models.PendingNotices{Count: n}))
}

// Disconnect tears a connection down. Safe to call more than once.
func (e *Engine) Disconnect(c *Conn) {
	e.Rooms.LeaveAll(c)
	e.Registry.Remove(c)
}

// NotifyMessageDelivered is the hook for the persistence layer: after a chat
// message is stored, it pushes the delivery notice to the conversation room.
// Recipients with no live connection are served by the durable queue the
// caller writes to; this path is intentionally best-effort.
func (e *Engine) NotifyMessageDelivered(ctx context.Context, conversationID string, notice interface{}) {
	e.Dispatcher.PublishToRoom(ctx, ConversationRoom(conversationID),
		models.NewEvent(models.EventMessageDelivered, notice))
}

// Stop halts background sweepers. Connections are expected to be gone.
func (e *Engine) Stop() {
	e.Typing.Stop()
	e.Calls.Stop()
	e.Uploads.Stop()
	e.Dispatcher.Close()
}
