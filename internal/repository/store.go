package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"spark/internal/models"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("version conflict")
)

// UserStore persists user records and their relationship lists.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	Get(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetMany(ctx context.Context, ids []uint) ([]models.User, error)
	// Mutate loads every user in ids, hands them to fn keyed by id and
	// persists all of them only if none changed since the load. A concurrent
	// write surfaces as ErrVersionConflict; an error from fn aborts the write.
	Mutate(ctx context.Context, ids []uint, fn func(users map[uint]*models.User) error) error
	// ListIDs pages through user ids in ascending order.
	ListIDs(ctx context.Context, afterID uint, limit int) ([]uint, error)
	SetDeviceToken(ctx context.Context, id uint, token string) error
}

// TransactionStore persists monetary events.
type TransactionStore interface {
	// InsertIfAbsent creates t unless a row with the same reference exists,
	// in which case the stored row is returned and created is false.
	InsertIfAbsent(ctx context.Context, t *models.Transaction) (stored *models.Transaction, created bool, err error)
	Create(ctx context.Context, t *models.Transaction) error
	GetByReference(ctx context.Context, ref string) (*models.Transaction, error)
	MarkCompleted(ctx context.Context, id uint, at time.Time) error
	ListByUserID(ctx context.Context, userID uint, limit, offset int) ([]models.Transaction, error)
}

// NotificationStore persists durable notification records.
type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUserID(ctx context.Context, userID uint, limit, offset int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID uint) error
	MarkPushSent(ctx context.Context, id uint) error
}

// SettingStore holds admin-adjustable key/value settings.
type SettingStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	All(ctx context.Context) ([]models.SystemSetting, error)
}

// AuditStore persists audit entries.
type AuditStore interface {
	Create(ctx context.Context, l *models.AuditLog) error
	List(ctx context.Context, action string, limit, offset int) ([]models.AuditLog, error)
}

// sortedIDs returns ids deduplicated in ascending order, the lock order for
// multi-record writes.
func sortedIDs(ids []uint) []uint {
	out := make([]uint, 0, len(ids))
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
