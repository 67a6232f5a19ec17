package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"spark/internal/lock"
	"spark/internal/models"
	"spark/internal/repository"

	"github.com/stretchr/testify/require"
)

type recordingHub struct {
	mu   sync.Mutex
	sent map[uint][]map[string]interface{}
}

func (h *recordingHub) BroadcastToUser(userID uint, payload interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sent == nil {
		h.sent = map[uint][]map[string]interface{}{}
	}
	h.sent[userID] = append(h.sent[userID], payload.(map[string]interface{}))
}

func (h *recordingHub) types(userID uint) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, p := range h.sent[userID] {
		out = append(out, p["type"].(string))
	}
	return out
}

type fakePusher struct {
	mu    sync.Mutex
	sent  []string
	fail  error
	delay time.Duration
}

func (p *fakePusher) Send(ctx context.Context, token, title, body string, data map[string]string) (bool, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	if p.fail != nil {
		return false, p.fail
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, token+":"+data["type"])
	return true, nil
}

// conflictStore fails the first n Mutate calls with a version conflict.
type conflictStore struct {
	repository.UserStore
	mu    sync.Mutex
	n     int
	calls int
}

func (s *conflictStore) Mutate(ctx context.Context, ids []uint, fn func(map[uint]*models.User) error) error {
	s.mu.Lock()
	s.calls++
	fail := s.n > 0
	if fail {
		s.n--
	}
	s.mu.Unlock()
	if fail {
		return repository.ErrVersionConflict
	}
	return s.UserStore.Mutate(ctx, ids, fn)
}

type testEnv struct {
	users   *repository.MemUserStore
	txs     *repository.MemTransactionStore
	notes   *repository.MemNotificationStore
	hub     *recordingHub
	push    *fakePusher
	mut     *Mutator
	ledger  *TicketLedger
	fanout  *NotificationService
	likes   *LikeService
	conns   *ConnectionService
	rec     *Reconciler
	sweeper *Sweeper
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := &testEnv{
		users: repository.NewMemUserStore(),
		txs:   repository.NewMemTransactionStore(),
		notes: repository.NewMemNotificationStore(),
		hub:   &recordingHub{},
		push:  &fakePusher{},
		now:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	e.mut = NewMutator(e.users, lock.NewKeyed(), 3)
	e.ledger = NewTicketLedger(3)
	e.fanout = NewNotificationService(e.notes, e.users, e.hub, e.push, time.Second)
	e.likes = NewLikeService(e.mut, e.fanout)
	e.rec = NewReconciler(e.txs, e.mut, e.ledger, e.fanout, FixedPrice(50000))
	e.conns = NewConnectionService(e.mut, e.ledger, e.fanout, e.rec, 24*time.Hour)
	e.conns.now = func() time.Time { return e.now }
	e.rec.now = func() time.Time { return e.now }
	e.sweeper = NewSweeper(e.mut, e.likes, e.conns, 4, time.Minute, true)
	e.sweeper.now = func() time.Time { return e.now }
	return e
}

func (e *testEnv) addUser(t *testing.T, id uint, opts ...func(*models.User)) {
	t.Helper()
	u := &models.User{
		ID:                            id,
		Username:                      "user" + string(rune('a'+id-1)),
		Email:                         "user" + string(rune('a'+id-1)) + "@example.com",
		AvailableConnectionsLeftToBuy: 3,
	}
	for _, o := range opts {
		o(u)
	}
	require.NoError(t, e.users.Create(context.Background(), u))
}

func (e *testEnv) user(t *testing.T, id uint) *models.User {
	t.Helper()
	u, err := e.users.Get(context.Background(), id)
	require.NoError(t, err)
	return u
}

// notifications returns the stored notification types for userID.
func (e *testEnv) notifications(userID uint) []string {
	var out []string
	for _, n := range e.notes.All() {
		if n.UserID == userID {
			out = append(out, n.Type)
		}
	}
	return out
}

func withTickets(n int) func(*models.User) {
	return func(u *models.User) { u.AllowedConnections = n }
}

func withToken(token string) func(*models.User) {
	return func(u *models.User) { u.FCMToken = token }
}

func countOf(list []string, v string) int {
	n := 0
	for _, s := range list {
		if s == v {
			n++
		}
	}
	return n
}
