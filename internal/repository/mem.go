package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"spark/internal/domain"
	"spark/internal/models"
)

// MemUserStore is a memory backed UserStore with the same optimistic
// version semantics as the SQL store.
type MemUserStore struct {
	mu     sync.Mutex
	users  map[uint]*models.User
	nextID uint

	// afterLoad runs between load and commit in Mutate; tests use it to
	// interleave a competing write.
	afterLoad func()
}

func NewMemUserStore() *MemUserStore {
	return &MemUserStore{users: map[uint]*models.User{}, nextID: 1}
}

func (s *MemUserStore) Create(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.nextID
	}
	if u.ID >= s.nextID {
		s.nextID = u.ID + 1
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	s.users[u.ID] = u.Clone()
	return nil
}

func (s *MemUserStore) Get(_ context.Context, id uint) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u.Clone(), nil
}

func (s *MemUserStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u.Clone(), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemUserStore) GetMany(_ context.Context, ids []uint) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]models.User, 0, len(ids))
	for _, id := range sortedIDs(ids) {
		if u, ok := s.users[id]; ok {
			list = append(list, *u.Clone())
		}
	}
	return list, nil
}

func (s *MemUserStore) Mutate(ctx context.Context, ids []uint, fn func(map[uint]*models.User) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ordered := sortedIDs(ids)
	s.mu.Lock()
	users := make(map[uint]*models.User, len(ordered))
	versions := make(map[uint]int64, len(ordered))
	for _, id := range ordered {
		u, ok := s.users[id]
		if !ok {
			s.mu.Unlock()
			return ErrNotFound
		}
		users[id] = u.Clone()
		versions[id] = u.Version
	}
	hook := s.afterLoad
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	if err := fn(users); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ordered {
		if s.users[id].Version != versions[id] {
			return ErrVersionConflict
		}
	}
	now := time.Now()
	for _, id := range ordered {
		u := users[id]
		u.Version = versions[id] + 1
		u.UpdatedAt = now
		s.users[id] = u.Clone()
	}
	return nil
}

func (s *MemUserStore) ListIDs(_ context.Context, afterID uint, limit int) ([]uint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint, 0, len(s.users))
	for id := range s.users {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *MemUserStore) SetDeviceToken(_ context.Context, id uint, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.FCMToken = token
	return nil
}

// MemTransactionStore is a memory backed TransactionStore.
type MemTransactionStore struct {
	mu     sync.Mutex
	txs    []*models.Transaction
	nextID uint
}

func NewMemTransactionStore() *MemTransactionStore {
	return &MemTransactionStore{nextID: 1}
}

func (s *MemTransactionStore) Create(_ context.Context, t *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Reference != nil && s.byRef(*t.Reference) != nil {
		return ErrVersionConflict
	}
	s.insert(t)
	return nil
}

func (s *MemTransactionStore) InsertIfAbsent(_ context.Context, t *models.Transaction) (*models.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Reference != nil {
		if existing := s.byRef(*t.Reference); existing != nil {
			c := *existing
			return &c, false, nil
		}
	}
	s.insert(t)
	return t, true, nil
}

func (s *MemTransactionStore) GetByReference(_ context.Context, ref string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.byRef(ref)
	if t == nil {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

func (s *MemTransactionStore) MarkCompleted(_ context.Context, id uint, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txs {
		if t.ID == id && t.Status != domain.TxStatusCompleted {
			t.Status = domain.TxStatusCompleted
			t.CompletedAt = &at
		}
	}
	return nil
}

func (s *MemTransactionStore) ListByUserID(_ context.Context, userID uint, limit, offset int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []models.Transaction
	for i := len(s.txs) - 1; i >= 0; i-- {
		if s.txs[i].UserID == userID {
			list = append(list, *s.txs[i])
		}
	}
	return page(list, limit, offset), nil
}

func (s *MemTransactionStore) insert(t *models.Transaction) {
	t.ID = s.nextID
	s.nextID++
	now := time.Now()
	t.CreatedAt, t.UpdatedAt = now, now
	c := *t
	s.txs = append(s.txs, &c)
}

func (s *MemTransactionStore) byRef(ref string) *models.Transaction {
	for _, t := range s.txs {
		if t.Reference != nil && *t.Reference == ref {
			return t
		}
	}
	return nil
}

// MemNotificationStore is a memory backed NotificationStore.
type MemNotificationStore struct {
	mu     sync.Mutex
	list   []*models.Notification
	nextID uint
}

func NewMemNotificationStore() *MemNotificationStore {
	return &MemNotificationStore{nextID: 1}
}

func (s *MemNotificationStore) Create(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = s.nextID
	s.nextID++
	n.CreatedAt = time.Now()
	c := *n
	s.list = append(s.list, &c)
	return nil
}

func (s *MemNotificationStore) ListByUserID(_ context.Context, userID uint, limit, offset int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []models.Notification
	for i := len(s.list) - 1; i >= 0; i-- {
		if s.list[i].UserID == userID {
			list = append(list, *s.list[i])
		}
	}
	return page(list, limit, offset), nil
}

func (s *MemNotificationStore) MarkRead(_ context.Context, id, userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.list {
		if n.ID == id && n.UserID == userID {
			now := time.Now()
			n.IsRead = true
			n.ReadAt = &now
		}
	}
	return nil
}

func (s *MemNotificationStore) MarkPushSent(_ context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.list {
		if n.ID == id {
			n.IsPushSent = true
		}
	}
	return nil
}

// All returns every stored notification in insertion order.
func (s *MemNotificationStore) All() []models.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Notification, 0, len(s.list))
	for _, n := range s.list {
		out = append(out, *n)
	}
	return out
}

// MemSettingStore is a memory backed SettingStore.
type MemSettingStore struct {
	mu     sync.Mutex
	values map[string]models.SystemSetting
}

func NewMemSettingStore() *MemSettingStore {
	return &MemSettingStore{values: make(map[string]models.SystemSetting)}
}

func (s *MemSettingStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v.Value, nil
}

func (s *MemSettingStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	v, ok := s.values[key]
	if !ok {
		v = models.SystemSetting{ID: uint(len(s.values) + 1), Key: key, CreatedAt: now}
	}
	v.Value = value
	v.UpdatedAt = now
	s.values[key] = v
	return nil
}

func (s *MemSettingStore) All(_ context.Context) ([]models.SystemSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]models.SystemSetting, 0, len(s.values))
	for _, v := range s.values {
		list = append(list, v)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key < list[j].Key })
	return list, nil
}

// MemAuditStore is a memory backed AuditStore.
type MemAuditStore struct {
	mu     sync.Mutex
	list   []models.AuditLog
	nextID uint
}

func NewMemAuditStore() *MemAuditStore {
	return &MemAuditStore{nextID: 1}
}

func (s *MemAuditStore) Create(_ context.Context, l *models.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l.ID = s.nextID
	s.nextID++
	l.CreatedAt = time.Now()
	s.list = append(s.list, *l)
	return nil
}

func (s *MemAuditStore) List(_ context.Context, action string, limit, offset int) ([]models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []models.AuditLog
	for i := len(s.list) - 1; i >= 0; i-- {
		if action == "" || s.list[i].Action == action {
			list = append(list, s.list[i])
		}
	}
	return page(list, limit, offset), nil
}

func page[T any](list []T, limit, offset int) []T {
	if offset >= len(list) {
		return nil
	}
	list = list[offset:]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list
}
