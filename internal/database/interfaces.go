package database

import "context"

// NotificationQueue is the durable collaborator behind the best-effort
// dispatcher: events that must survive a recipient being offline get a row
// here, and the delivery workers (push, email) drain it out of process.
type NotificationQueue interface {
	Enqueue(ctx context.Context, identity, kind string, payload []byte) error
	PendingCount(ctx context.Context, identity string) (int, error)
}
