package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"

	"market-rtc/internal/models"
	"market-rtc/pkg/logger"
)

// UploadBroadcaster streams transfer-progress events to the owning identity
// only. The storage pipeline drives the mutations; this component just keeps
// the session record and fans each change out to the owner's connections.
type UploadBroadcaster struct {
	dispatcher *Dispatcher

	mu       sync.Mutex
	sessions map[string]*models.UploadSession

	// Terminal sessions linger briefly for late progress queries.
	done *ttlcache.Cache[string, *models.UploadSession]
}

func NewUploadBroadcaster(dispatcher *Dispatcher, retention time.Duration) *UploadBroadcaster {
	u := &UploadBroadcaster{
		dispatcher: dispatcher,
		sessions:   make(map[string]*models.UploadSession),
		done: ttlcache.New[string, *models.UploadSession](
			ttlcache.WithTTL[string, *models.UploadSession](retention),
		),
	}
	go u.done.Start()
	return u
}

// CreateSession registers a new transfer and announces it to the owner.
func (u *UploadBroadcaster) CreateSession(ctx context.Context, owner, filename string, totalSize int64) *models.UploadSession {
	now := time.Now()
	session := &models.UploadSession{
		ID:        uuid.NewString(),
		Owner:     owner,
		Filename:  filename,
		TotalSize: totalSize,
		Status:    models.UploadStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	u.mu.Lock()
	u.sessions[session.ID] = session
	payload := models.NewEvent(models.EventUploadProgress, session)
	snapshot := *session
	u.mu.Unlock()

	logger.Debugw("upload session created", "upload_id", session.ID, "owner", owner, "filename", filename)
	u.dispatcher.PublishToIdentity(ctx, owner, payload)
	return &snapshot
}

// UpdateProgress records transferred bytes from the storage pipeline.
func (u *UploadBroadcaster) UpdateProgress(ctx context.Context, uploadID string, transferred int64) error {
	return u.mutate(ctx, uploadID, models.EventUploadProgress, func(s *models.UploadSession) {
		s.Status = models.UploadStatusTransferring
		s.Transferred = transferred
	})
}

// MarkProcessing flags the transfer as received and being post-processed.
func (u *UploadBroadcaster) MarkProcessing(ctx context.Context, uploadID string) error {
	return u.mutate(ctx, uploadID, models.EventUploadProgress, func(s *models.UploadSession) {
		s.Status = models.UploadStatusProcessing
	})
}

// Complete moves the session to its terminal success state.
func (u *UploadBroadcaster) Complete(ctx context.Context, uploadID string) error {
	return u.mutate(ctx, uploadID, models.EventUploadComplete, func(s *models.UploadSession) {
		s.Status = models.UploadStatusCompleted
		s.Transferred = s.TotalSize
	})
}

// Fail moves the session to its terminal failure state.
func (u *UploadBroadcaster) Fail(ctx context.Context, uploadID, reason string) error {
	return u.mutate(ctx, uploadID, models.EventUploadError, func(s *models.UploadSession) {
		s.Status = models.UploadStatusFailed
		s.LastError = reason
	})
}

// Get returns a snapshot of a live or recently-finished session. Live
// sessions keep changing under the broadcaster's lock, so callers get a copy.
func (u *UploadBroadcaster) Get(uploadID string) (*models.UploadSession, bool) {
	u.mu.Lock()
	if session, ok := u.sessions[uploadID]; ok {
		snapshot := *session
		u.mu.Unlock()
		return &snapshot, true
	}
	u.mu.Unlock()

	if item := u.done.Get(uploadID, ttlcache.WithDisableTouchOnHit[string, *models.UploadSession]()); item != nil {
		snapshot := *item.Value()
		return &snapshot, true
	}
	return nil, false
}

func (u *UploadBroadcaster) Stop() {
	u.done.Stop()
}

func (u *UploadBroadcaster) mutate(ctx context.Context, uploadID, event string, apply func(*models.UploadSession)) error {
	u.mu.Lock()
	session, ok := u.sessions[uploadID]
	if !ok {
		u.mu.Unlock()
		return ErrNotFound
	}
	apply(session)
	session.UpdatedAt = time.Now()
	if session.Status.Terminal() {
		delete(u.sessions, uploadID)
		u.done.Set(uploadID, session, ttlcache.DefaultTTL)
	}
	owner := session.Owner
	payload := models.NewEvent(event, session)
	u.mu.Unlock()

	u.dispatcher.PublishToIdentity(ctx, owner, payload)
	return nil
}
