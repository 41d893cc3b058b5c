package realtime

import (
	"context"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"market-rtc/internal/models"
	"market-rtc/pkg/logger"
)

// TypingTracker keeps the short-lived per-conversation set of identities
// currently typing. Entries are cleared by explicit stop events and by
// disconnect; a safety TTL sweeps up entries whose stop event was lost so
// indicators never stick.
type TypingTracker struct {
	dispatcher *Dispatcher

	ttl *ttlcache.Cache[string, typingEntry]
}

type typingEntry struct {
	ConversationID string
	Identity       string
}

const typingKeySep = "\x00"

func typingKey(conversationID, identity string) string {
	return conversationID + typingKeySep + identity
}

func NewTypingTracker(dispatcher *Dispatcher, ttl time.Duration) *TypingTracker {
	t := &TypingTracker{dispatcher: dispatcher}

	t.ttl = ttlcache.New[string, typingEntry](
		ttlcache.WithTTL[string, typingEntry](ttl),
	)
	t.ttl.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, typingEntry]) {
		// Explicit stops delete their own entry and publish themselves;
		// only a TTL expiry means a stop event was lost.
		if reason != ttlcache.EvictionReasonExpired {
			return
		}
		entry := item.Value()
		logger.Debugw("typing entry expired", "conversation", entry.ConversationID, "identity", entry.Identity)
		t.publishStop(context.Background(), entry.ConversationID, entry.Identity)
	})

	go t.ttl.Start()
	return t
}

// StartTyping adds the identity to the conversation's typing set and tells
// the other participants. Repeated starts refresh the TTL without
// re-announcing.
func (t *TypingTracker) StartTyping(ctx context.Context, conversationID, identity string) {
	key := typingKey(conversationID, identity)
	fresh := t.ttl.Get(key) == nil
	t.ttl.Set(key, typingEntry{ConversationID: conversationID, Identity: identity}, ttlcache.DefaultTTL)

	if !fresh {
		return
	}

	payload := models.NewEvent(models.EventTypingStart, models.TypingChange{
		ConversationID: conversationID,
		Identity:       identity,
	})
	t.dispatcher.PublishToRoomExcept(ctx, ConversationRoom(conversationID), identity, payload)
}

// StopTyping removes the identity from the conversation's typing set.
// Stopping when not typing is a no-op.
func (t *TypingTracker) StopTyping(ctx context.Context, conversationID, identity string) {
	key := typingKey(conversationID, identity)
	if t.ttl.Get(key) == nil {
		return
	}
	t.ttl.Delete(key)
	t.publishStop(ctx, conversationID, identity)
}

// PurgeIdentity clears the identity from every conversation's typing set,
// publishing a stop for each. Called when the identity's last connection
// goes so unclean disconnects do not leave stuck indicators.
func (t *TypingTracker) PurgeIdentity(ctx context.Context, identity string) {
	suffix := typingKeySep + identity
	for key, item := range t.ttl.Items() {
		if !strings.HasSuffix(key, suffix) {
			continue
		}
		entry := item.Value()
		t.ttl.Delete(key)
		t.publishStop(ctx, entry.ConversationID, entry.Identity)
	}
}

// IsTyping reports whether the identity is currently typing in the
// conversation. The probe must not refresh the TTL.
func (t *TypingTracker) IsTyping(conversationID, identity string) bool {
	return t.ttl.Get(typingKey(conversationID, identity), ttlcache.WithDisableTouchOnHit[string, typingEntry]()) != nil
}

func (t *TypingTracker) Stop() {
	t.ttl.Stop()
}

func (t *TypingTracker) publishStop(ctx context.Context, conversationID, identity string) {
	payload := models.NewEvent(models.EventTypingStop, models.TypingChange{
		ConversationID: conversationID,
		Identity:       identity,
	})
	t.dispatcher.PublishToRoomExcept(ctx, ConversationRoom(conversationID), identity, payload)
}
