// Package app implements the analysis task orchestrator and the
// entitlement ledger behind it.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/alvin-junjun/ai-guzhi-analysis/app/models"
)

var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrOrderNotFound = errors.New("order not found")
	ErrUserNotFound  = errors.New("user not found")
)

// TaskStore persists analysis tasks and completed-analysis history.
// Updates are full-record writes; only the worker owning a task writes it,
// so no two writers ever race on the same task id.
type TaskStore interface {
	CreateTask(ctx context.Context, task models.AnalysisTask) error
	GetTask(ctx context.Context, taskID string) (models.AnalysisTask, error)
	UpdateTask(ctx context.Context, task models.AnalysisTask) error
	// ListTasks returns tasks newest first. userID 0 means all users.
	ListTasks(ctx context.Context, userID int64, limit int) ([]models.AnalysisTask, error)
	SaveAnalysisHistory(ctx context.Context, rec models.AnalysisHistory) error
	// ListAnalysisHistory returns a user's history newest first, optionally
	// filtered to one sentiment bucket.
	ListAnalysisHistory(ctx context.Context, userID int64, sentiment models.Sentiment, limit int) ([]models.AnalysisHistory, error)
}

// UsageStore holds the per-(user, day) quota counters.
type UsageStore interface {
	// IncrementDailyAnalysis atomically bumps the day's counter, creating
	// the row if absent, and returns the new count. Implementations must
	// use a single upsert-increment, never read-then-write.
	IncrementDailyAnalysis(ctx context.Context, userID int64, day string) (int, error)
	DailyAnalysisCount(ctx context.Context, userID int64, day string) (int, error)
	// IncrementTotalAnalysis bumps the lifetime counter on the user row.
	IncrementTotalAnalysis(ctx context.Context, userID int64) error
}

// UserStore persists user rows keyed by the OIDC subject.
type UserStore interface {
	UpsertUser(ctx context.Context, subject, email, name string) error
	UserBySubject(ctx context.Context, subject string) (models.User, error)
	UserByID(ctx context.Context, id int64) (models.User, error)
	SetStripeCustomerID(ctx context.Context, userID int64, customerID string) error
}

// EntitlementTx is the atomic unit a settlement or sweep step runs in. The
// store serializes all units for one user, so read-check-write sequences
// inside a unit cannot race with another settlement for the same user.
type EntitlementTx interface {
	OrderByNo(orderNo string) (models.Order, error)
	InsertOrder(o *models.Order) error
	MarkOrderPaid(orderID int64, channel, transactionID string, paidAt time.Time) error
	ActiveMembership(userID int64, now time.Time) (models.UserMembership, bool, error)
	InsertMembership(m *models.UserMembership) error
	SetMembershipExpire(id int64, expireAt time.Time) error
	SetMembershipStatus(id int64, status models.MembershipStatus) error
	HasOtherActiveMembership(userID, excludeID int64, now time.Time) (bool, error)
	SetUserEntitlement(userID int64, level string, expireAt *time.Time) error
}

// EntitlementStore persists orders and membership windows.
type EntitlementStore interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	OrderByNo(ctx context.Context, orderNo string) (models.Order, error)
	ListOrders(ctx context.Context, userID int64, limit int) ([]models.Order, error)
	ActiveMembership(ctx context.Context, userID int64, now time.Time) (models.UserMembership, bool, error)
	ListExpiredActiveMemberships(ctx context.Context, now time.Time) ([]models.UserMembership, error)
	// Transact runs fn as one atomic unit serialized per user: either every
	// write in fn commits or none do.
	Transact(ctx context.Context, userID int64, fn func(EntitlementTx) error) error
}

// ConfigStore reads runtime configuration overrides.
type ConfigStore interface {
	// ConfigInt returns the stored integer for key, or def when the key is
	// missing, malformed, or the lookup fails.
	ConfigInt(ctx context.Context, key string, def int) int
}

// Store is the full persistence surface. Two implementations exist: the
// Postgres store used when a database is configured and an in-memory store
// for local/dev mode. The choice is made once at process start.
type Store interface {
	TaskStore
	UsageStore
	UserStore
	EntitlementStore
	ConfigStore
}
