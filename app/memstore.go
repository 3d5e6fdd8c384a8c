package app

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/alvin-junjun/ai-guzhi-analysis/app/models"
)

// MemoryStore is the process-local Store used when no database is
// configured (local/dev mode). State does not survive a restart.
type MemoryStore struct {
	mu        sync.Mutex
	userLocks map[int64]*sync.Mutex

	tasks       map[string]models.AnalysisTask
	history     []models.AnalysisHistory
	usage       map[string]int // "userID|day" -> count
	users       map[int64]models.User
	bySubject   map[string]int64
	orders      map[string]models.Order // keyed by order no
	memberships map[int64]models.UserMembership
	configs     map[string]string
	nextID      int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		userLocks:   make(map[int64]*sync.Mutex),
		tasks:       make(map[string]models.AnalysisTask),
		usage:       make(map[string]int),
		users:       make(map[int64]models.User),
		bySubject:   make(map[string]int64),
		orders:      make(map[string]models.Order),
		memberships: make(map[int64]models.UserMembership),
		configs:     make(map[string]string),
		nextID:      1,
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) userLock(userID int64) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.userLocks[userID] = l
	}
	return l
}

func usageKey(userID int64, day string) string {
	return strconv.FormatInt(userID, 10) + "|" + day
}

// --- tasks ---

func (m *MemoryStore) CreateTask(_ context.Context, task models.AnalysisTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	m.tasks[task.TaskID] = task
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, taskID string) (models.AnalysisTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return models.AnalysisTask{}, ErrTaskNotFound
	}
	return task, nil
}

func (m *MemoryStore) UpdateTask(_ context.Context, task models.AnalysisTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.TaskID]; !ok {
		return ErrTaskNotFound
	}
	m.tasks[task.TaskID] = task
	return nil
}

func (m *MemoryStore) ListTasks(_ context.Context, userID int64, limit int) ([]models.AnalysisTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AnalysisTask, 0, len(m.tasks))
	for _, t := range m.tasks {
		if userID != 0 && t.UserID != userID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].TaskID > out[j].TaskID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) SaveAnalysisHistory(_ context.Context, rec models.AnalysisHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.nextID
	m.nextID++
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.history = append(m.history, rec)
	return nil
}

func (m *MemoryStore) ListAnalysisHistory(_ context.Context, userID int64, sentiment models.Sentiment, limit int) ([]models.AnalysisHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AnalysisHistory, 0, 8)
	for _, rec := range m.history {
		if rec.UserID != userID {
			continue
		}
		if sentiment != "" && rec.Sentiment != sentiment {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AnalysisHistoryCount reports stored history rows for a user. Used by
// tests and the memory-mode stats endpoint.
func (m *MemoryStore) AnalysisHistoryCount(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, rec := range m.history {
		if rec.UserID == userID {
			n++
		}
	}
	return n
}

// --- usage ---

func (m *MemoryStore) IncrementDailyAnalysis(_ context.Context, userID int64, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := usageKey(userID, day)
	m.usage[key]++
	return m.usage[key], nil
}

func (m *MemoryStore) DailyAnalysisCount(_ context.Context, userID int64, day string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage[usageKey(userID, day)], nil
}

func (m *MemoryStore) IncrementTotalAnalysis(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.TotalAnalysisCount++
	m.users[userID] = u
	return nil
}

// --- users ---

func (m *MemoryStore) UpsertUser(_ context.Context, subject, email, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.bySubject[subject]; ok {
		u := m.users[id]
		u.LastLogin = time.Now().UTC()
		m.users[id] = u
		return nil
	}
	id := m.nextID
	m.nextID++
	now := time.Now().UTC()
	m.users[id] = models.User{
		ID:              id,
		Subject:         subject,
		Email:           email,
		Name:            name,
		MembershipLevel: models.LevelFree,
		CreatedAt:       now,
		LastLogin:       now,
	}
	m.bySubject[subject] = id
	return nil
}

func (m *MemoryStore) UserBySubject(_ context.Context, subject string) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.bySubject[subject]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return m.users[id], nil
}

func (m *MemoryStore) UserByID(_ context.Context, id int64) (models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *MemoryStore) SetStripeCustomerID(_ context.Context, userID int64, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.StripeCustomerID = customerID
	m.users[userID] = u
	return nil
}

// SetReferrer links a user to the user who invited them. Test seam for the
// referral reward path.
func (m *MemoryStore) SetReferrer(userID, referrerID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return
	}
	u.ReferrerID = referrerID
	m.users[userID] = u
}

// --- entitlements ---

func (m *MemoryStore) CreateOrder(_ context.Context, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = m.nextID
	m.nextID++
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	m.orders[o.OrderNo] = *o
	return nil
}

func (m *MemoryStore) OrderByNo(_ context.Context, orderNo string) (models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderNo]
	if !ok {
		return models.Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (m *MemoryStore) ListOrders(_ context.Context, userID int64, limit int) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Order, 0, 8)
	for _, o := range m.orders {
		if userID != 0 && o.UserID != userID {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ActiveMembership(_ context.Context, userID int64, now time.Time) (models.UserMembership, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeMembershipLocked(userID, 0, now)
}

func (m *MemoryStore) activeMembershipLocked(userID, excludeID int64, now time.Time) (models.UserMembership, bool, error) {
	var best models.UserMembership
	found := false
	for _, ms := range m.memberships {
		if ms.UserID != userID || ms.ID == excludeID || !ms.Valid(now) {
			continue
		}
		if !found || ms.ExpireAt.After(best.ExpireAt) {
			best = ms
			found = true
		}
	}
	return best, found, nil
}

func (m *MemoryStore) ListExpiredActiveMemberships(_ context.Context, now time.Time) ([]models.UserMembership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.UserMembership
	for _, ms := range m.memberships {
		if ms.Status == models.MembershipActive && ms.ExpireAt.Before(now) {
			out = append(out, ms)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// memoryTx stages writes and applies them only when the whole unit
// succeeds, mirroring the all-or-nothing SQL transaction.
type memoryTx struct {
	s   *MemoryStore
	ops []func()
}

func (m *MemoryStore) Transact(_ context.Context, userID int64, fn func(EntitlementTx) error) error {
	lock := m.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; !ok {
		return ErrUserNotFound
	}

	tx := &memoryTx{s: m}
	if err := fn(tx); err != nil {
		return err
	}
	for _, op := range tx.ops {
		op()
	}
	return nil
}

func (t *memoryTx) OrderByNo(orderNo string) (models.Order, error) {
	o, ok := t.s.orders[orderNo]
	if !ok {
		return models.Order{}, ErrOrderNotFound
	}
	return o, nil
}

func (t *memoryTx) InsertOrder(o *models.Order) error {
	o.ID = t.s.nextID
	t.s.nextID++
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	stored := *o
	t.ops = append(t.ops, func() { t.s.orders[stored.OrderNo] = stored })
	return nil
}

func (t *memoryTx) MarkOrderPaid(orderID int64, channel, transactionID string, paidAt time.Time) error {
	t.ops = append(t.ops, func() {
		for no, o := range t.s.orders {
			if o.ID == orderID {
				o.PaymentStatus = models.PaymentPaid
				o.Channel = channel
				o.TransactionID = transactionID
				paid := paidAt
				o.PaidAt = &paid
				t.s.orders[no] = o
				return
			}
		}
	})
	return nil
}

func (t *memoryTx) ActiveMembership(userID int64, now time.Time) (models.UserMembership, bool, error) {
	return t.s.activeMembershipLocked(userID, 0, now)
}

func (t *memoryTx) InsertMembership(ms *models.UserMembership) error {
	ms.ID = t.s.nextID
	t.s.nextID++
	if ms.CreatedAt.IsZero() {
		ms.CreatedAt = time.Now().UTC()
	}
	stored := *ms
	t.ops = append(t.ops, func() { t.s.memberships[stored.ID] = stored })
	return nil
}

func (t *memoryTx) SetMembershipExpire(id int64, expireAt time.Time) error {
	t.ops = append(t.ops, func() {
		if ms, ok := t.s.memberships[id]; ok {
			ms.ExpireAt = expireAt
			t.s.memberships[id] = ms
		}
	})
	return nil
}

func (t *memoryTx) SetMembershipStatus(id int64, status models.MembershipStatus) error {
	t.ops = append(t.ops, func() {
		if ms, ok := t.s.memberships[id]; ok {
			ms.Status = status
			t.s.memberships[id] = ms
		}
	})
	return nil
}

func (t *memoryTx) HasOtherActiveMembership(userID, excludeID int64, now time.Time) (bool, error) {
	_, found, err := t.s.activeMembershipLocked(userID, excludeID, now)
	return found, err
}

func (t *memoryTx) SetUserEntitlement(userID int64, level string, expireAt *time.Time) error {
	t.ops = append(t.ops, func() {
		if u, ok := t.s.users[userID]; ok {
			u.MembershipLevel = level
			u.MembershipExpire = expireAt
			t.s.users[userID] = u
		}
	})
	return nil
}

// --- runtime config ---

// SetConfig stores a runtime configuration override.
func (m *MemoryStore) SetConfig(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[key] = value
}

func (m *MemoryStore) ConfigInt(_ context.Context, key string, def int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, ok := m.configs[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
