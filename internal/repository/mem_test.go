package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"spark/internal/domain"
	"spark/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedUsers(t *testing.T, s *MemUserStore, ids ...uint) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.Create(context.Background(), &models.User{ID: id, Email: string(rune('a'+id)) + "@example.com"}))
	}
}

func TestMemUserStore_MutateCommitsAll(t *testing.T) {
	s := NewMemUserStore()
	seedUsers(t, s, 1, 2)
	ctx := context.Background()

	err := s.Mutate(ctx, []uint{2, 1, 2}, func(users map[uint]*models.User) error {
		require.Len(t, users, 2)
		users[1].Connections.Add(2)
		users[2].Connections.Add(1)
		return nil
	})
	require.NoError(t, err)

	a, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.IDSet{2}, a.Connections)
	assert.Equal(t, int64(1), a.Version)
}

func TestMemUserStore_MutateAbortsOnError(t *testing.T) {
	s := NewMemUserStore()
	seedUsers(t, s, 1, 2)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Mutate(ctx, []uint{1, 2}, func(users map[uint]*models.User) error {
		users[1].Likes.Add(2)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	a, _ := s.Get(ctx, 1)
	assert.Empty(t, a.Likes)
	assert.Zero(t, a.Version)
}

func TestMemUserStore_VersionConflict(t *testing.T) {
	s := NewMemUserStore()
	seedUsers(t, s, 1, 2)
	ctx := context.Background()

	competing := true
	s.afterLoad = func() {
		if !competing {
			return
		}
		competing = false
		require.NoError(t, s.Mutate(ctx, []uint{2}, func(users map[uint]*models.User) error {
			users[2].Likes.Add(1)
			return nil
		}))
	}
	err := s.Mutate(ctx, []uint{1, 2}, func(users map[uint]*models.User) error {
		users[1].Likers.Add(2)
		return nil
	})
	assert.ErrorIs(t, err, ErrVersionConflict)

	a, _ := s.Get(ctx, 1)
	assert.Empty(t, a.Likers, "losing write is not applied")
	b, _ := s.Get(ctx, 2)
	assert.Equal(t, models.IDSet{1}, b.Likes)
}

func TestMemUserStore_NotFoundAndPaging(t *testing.T) {
	s := NewMemUserStore()
	seedUsers(t, s, 3, 1, 2)
	ctx := context.Background()

	err := s.Mutate(ctx, []uint{1, 9}, func(map[uint]*models.User) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, 9)
	assert.ErrorIs(t, err, ErrNotFound)

	ids, err := s.ListIDs(ctx, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint{1, 2}, ids)
	ids, err = s.ListIDs(ctx, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint{3}, ids)

	list, err := s.GetMany(ctx, []uint{3, 9, 1})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, uint(1), list[0].ID)

	assert.ErrorIs(t, s.SetDeviceToken(ctx, 9, "x"), ErrNotFound)
}

func TestMemTransactionStore_InsertIfAbsent(t *testing.T) {
	s := NewMemTransactionStore()
	ctx := context.Background()
	ref := "ref-1"

	first, created, err := s.InsertIfAbsent(ctx, &models.Transaction{UserID: 1, AmountCents: 10, Reference: &ref, Status: domain.TxStatusPending})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.InsertIfAbsent(ctx, &models.Transaction{UserID: 1, AmountCents: 99, Reference: &ref})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(10), second.AmountCents)

	require.NoError(t, s.MarkCompleted(ctx, first.ID, time.Now()))
	got, err := s.GetByReference(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	assert.ErrorIs(t, s.Create(ctx, &models.Transaction{Reference: &ref}), ErrVersionConflict)
}

func TestMemNotificationStore(t *testing.T) {
	s := NewMemNotificationStore()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Create(ctx, &models.Notification{UserID: 1, Type: domain.EventMatch}))
	}
	require.NoError(t, s.Create(ctx, &models.Notification{UserID: 2, Type: domain.EventMatch}))

	list, err := s.ListByUserID(ctx, 1, 2, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, uint(3), list[0].ID, "newest first")

	require.NoError(t, s.MarkRead(ctx, 3, 2))
	require.NoError(t, s.MarkRead(ctx, 3, 1))
	list, _ = s.ListByUserID(ctx, 1, 1, 0)
	assert.True(t, list[0].IsRead)
}

func TestMemAuditStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemAuditStore()
	uid := uint(3)
	require.NoError(t, s.Create(ctx, &models.AuditLog{Action: "admin_sweep"}))
	require.NoError(t, s.Create(ctx, &models.AuditLog{Action: "payment_reconciled", UserID: &uid, ResourceID: "ref-1"}))
	require.NoError(t, s.Create(ctx, &models.AuditLog{Action: "admin_sweep"}))

	all, err := s.List(ctx, "", 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, uint(3), all[0].ID)

	sweeps, err := s.List(ctx, "admin_sweep", 1, 1)
	require.NoError(t, err)
	require.Len(t, sweeps, 1)
	assert.Equal(t, uint(1), sweeps[0].ID)
}
