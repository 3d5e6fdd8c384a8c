// Quota ledger: per-user, per-day analysis counters.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/alvin-junjun/ai-guzhi-analysis/app/models"
)

// HardcodedFreeDailyLimit is the last-resort free-tier cap when neither
// the environment nor the runtime config provides one.
const HardcodedFreeDailyLimit = 5

// BenefitsSource resolves a user's current entitlement view.
type BenefitsSource interface {
	Benefits(ctx context.Context, userID int64) (models.Benefits, error)
}

type quotaError struct {
	Limit int
	Used  int
}

func (e quotaError) Error() string {
	return fmt.Sprintf("daily quota exceeded: used %d of %d", e.Used, e.Limit)
}

// IsQuotaExceeded reports whether err is a quota rejection rather than an
// internal fault.
func IsQuotaExceeded(err error) bool {
	_, ok := err.(quotaError)
	return ok
}

// Ledger enforces the daily analysis quota. Charging happens once per
// accepted submission, at admission time; a submitted-but-failed job still
// consumes one unit so retried expensive work is never free.
type Ledger struct {
	store    UsageStore
	benefits BenefitsSource
	now      func() time.Time
}

func NewLedger(store UsageStore, benefits BenefitsSource) *Ledger {
	return &Ledger{store: store, benefits: benefits, now: time.Now}
}

// CheckLimit returns today's used count and the effective daily limit for
// the user (-1 means unlimited). A quotaError is returned when the user is
// at or over the limit; callers at the edge reject those requests before
// admitting work.
func (l *Ledger) CheckLimit(ctx context.Context, userID int64) (used, limit int, err error) {
	b, err := l.benefits.Benefits(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	used, err = l.store.DailyAnalysisCount(ctx, userID, dayKey(l.now()))
	if err != nil {
		return 0, 0, err
	}
	limit = b.DailyAnalysisLimit
	if limit >= 0 && used >= limit {
		return used, limit, quotaError{Limit: limit, Used: used}
	}
	return used, limit, nil
}

// ChargeOne atomically increments today's counter for the user and returns
// the new count. The lifetime counter update afterwards is best effort and
// never fails the admission.
func (l *Ledger) ChargeOne(ctx context.Context, userID int64) (int, error) {
	used, err := l.store.IncrementDailyAnalysis(ctx, userID, dayKey(l.now()))
	if err != nil {
		return 0, err
	}

	if err := l.store.IncrementTotalAnalysis(ctx, userID); err != nil {
		log.Printf("lifetime analysis counter update failed user=%d: %v", userID, err)
	}
	return used, nil
}
