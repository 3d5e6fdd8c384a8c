// Entitlement state machine: orders, membership windows, expiry sweep.
package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/alvin-junjun/ai-guzhi-analysis/app/models"
)

// Order payment deadline. An order past this can no longer be settled.
const orderTTL = 2 * time.Hour

var (
	ErrPlanNotFound    = errors.New("plan not found")
	ErrOrderNotPayable = errors.New("order expired or not payable")

	// errAlreadyPaid aborts the settle transaction without writes; the
	// caller maps it to success so duplicate payment notifications are safe.
	errAlreadyPaid = errors.New("order already paid")
)

// RewardHook is notified after a settlement commits. It is fire-and-forget:
// failures are logged, never propagated into the settlement result.
type RewardHook interface {
	GrantSubscriptionReward(ctx context.Context, referrerID, buyerID int64, planName string) error
}

// MembershipService drives orders and membership windows. All activation
// paths (payment settlement and manual admin grants) run through the same
// activate step inside a per-user atomic unit.
type MembershipService struct {
	store   EntitlementStore
	users   UserStore
	configs ConfigStore
	catalog *Catalog

	freeDailyLimit     int
	freeWatchlistLimit int

	rewards RewardHook
	now     func() time.Time
}

func NewMembershipService(store EntitlementStore, users UserStore, configs ConfigStore, catalog *Catalog, freeDailyLimit, freeWatchlistLimit int) *MembershipService {
	if freeDailyLimit <= 0 {
		freeDailyLimit = HardcodedFreeDailyLimit
	}
	return &MembershipService{
		store:              store,
		users:              users,
		configs:            configs,
		catalog:            catalog,
		freeDailyLimit:     freeDailyLimit,
		freeWatchlistLimit: freeWatchlistLimit,
		now:                time.Now,
	}
}

// SetRewardHook wires the referral reward collaborator.
func (s *MembershipService) SetRewardHook(hook RewardHook) { s.rewards = hook }

// CreateOrder snapshots the plan's price and name onto a new pending order
// with a 2-hour payment deadline.
func (s *MembershipService) CreateOrder(ctx context.Context, userID int64, planID string, discount float64) (models.Order, error) {
	plan, ok := s.catalog.PlanByID(planID)
	if !ok {
		return models.Order{}, ErrPlanNotFound
	}

	now := s.now()
	payAmount := plan.Price - discount
	if payAmount < 0 {
		payAmount = 0
	}
	order := models.Order{
		OrderNo:        newOrderNo(now),
		UserID:         userID,
		PlanID:         plan.ID,
		PlanName:       plan.Name,
		Amount:         plan.Price,
		DiscountAmount: discount,
		PayAmount:      payAmount,
		PaymentStatus:  models.PaymentPending,
		ExpireAt:       now.Add(orderTTL),
	}
	if err := s.store.CreateOrder(ctx, &order); err != nil {
		return models.Order{}, err
	}

	log.Printf("order created: order_no=%s user=%d plan=%s pay_amount=%.2f", order.OrderNo, userID, planID, payAmount)
	return order, nil
}

// Settle converts a successful payment notification into an active or
// extended membership. It is idempotent: an order that is already paid
// returns success without touching memberships or re-firing the reward
// hook. All writes happen in one atomic unit or not at all.
func (s *MembershipService) Settle(ctx context.Context, orderNo, channel, transactionID string) error {
	order, err := s.store.OrderByNo(ctx, orderNo)
	if err != nil {
		return err
	}

	err = s.store.Transact(ctx, order.UserID, func(tx EntitlementTx) error {
		current, err := tx.OrderByNo(orderNo)
		if err != nil {
			return err
		}
		if current.PaymentStatus == models.PaymentPaid {
			return errAlreadyPaid
		}

		now := s.now()
		if !current.Payable(now) {
			return ErrOrderNotPayable
		}

		plan, ok := s.catalog.PlanByID(current.PlanID)
		if !ok {
			return ErrPlanNotFound
		}

		if err := tx.MarkOrderPaid(current.ID, channel, transactionID, now); err != nil {
			return err
		}
		return s.activate(tx, current.UserID, plan, current.ID, now)
	})
	if errors.Is(err, errAlreadyPaid) {
		log.Printf("settle: order %s already paid, ignoring duplicate notification", orderNo)
		return nil
	}
	if err != nil {
		return err
	}

	log.Printf("order settled: order_no=%s channel=%s", orderNo, channel)
	s.fireRewardHook(ctx, order.UserID, order.PlanName)
	return nil
}

// ManualActivate is the administrative bypass: it synthesizes a
// zero-amount, already-paid order and feeds it through the same activate
// step as Settle, so there is exactly one code path that creates or
// extends membership windows.
func (s *MembershipService) ManualActivate(ctx context.Context, userID int64, planID, remark string) (models.Order, error) {
	plan, ok := s.catalog.PlanByID(planID)
	if !ok {
		return models.Order{}, ErrPlanNotFound
	}
	if remark == "" {
		remark = "manually activated by admin"
	}

	now := s.now()
	paidAt := now
	order := models.Order{
		OrderNo:        newOrderNo(now),
		UserID:         userID,
		PlanID:         plan.ID,
		PlanName:       plan.Name,
		Amount:         0,
		DiscountAmount: plan.Price,
		PayAmount:      0,
		Channel:        "manual",
		PaymentStatus:  models.PaymentPaid,
		PaidAt:         &paidAt,
		ExpireAt:       now.Add(orderTTL),
		Remark:         remark,
	}

	err := s.store.Transact(ctx, userID, func(tx EntitlementTx) error {
		if err := tx.InsertOrder(&order); err != nil {
			return err
		}
		return s.activate(tx, userID, plan, order.ID, now)
	})
	if err != nil {
		return models.Order{}, err
	}

	log.Printf("membership manually activated: user=%d plan=%s order_no=%s", userID, planID, order.OrderNo)
	return order, nil
}

// activate extends the currently-active membership if one exists (additive:
// new expire = old expire + plan duration, never truncated) or creates a
// new window anchored at now, then mirrors the result onto the user's
// denormalized snapshot. Runs inside the caller's atomic unit.
func (s *MembershipService) activate(tx EntitlementTx, userID int64, plan models.Plan, orderID int64, now time.Time) error {
	duration := time.Duration(plan.DurationDays) * 24 * time.Hour

	existing, found, err := tx.ActiveMembership(userID, now)
	if err != nil {
		return err
	}

	var newExpire time.Time
	if found {
		newExpire = existing.ExpireAt.Add(duration)
		if err := tx.SetMembershipExpire(existing.ID, newExpire); err != nil {
			return err
		}
	} else {
		newExpire = now.Add(duration)
		ms := models.UserMembership{
			UserID:   userID,
			PlanID:   plan.ID,
			OrderID:  orderID,
			StartAt:  now,
			ExpireAt: newExpire,
			Status:   models.MembershipActive,
		}
		if err := tx.InsertMembership(&ms); err != nil {
			return err
		}
	}

	return tx.SetUserEntitlement(userID, plan.ID, &newExpire)
}

func (s *MembershipService) fireRewardHook(ctx context.Context, buyerID int64, planName string) {
	if s.rewards == nil {
		return
	}
	buyer, err := s.users.UserByID(ctx, buyerID)
	if err != nil {
		log.Printf("reward hook: buyer lookup failed user=%d: %v", buyerID, err)
		return
	}
	if buyer.ReferrerID == 0 {
		return
	}
	if err := s.rewards.GrantSubscriptionReward(ctx, buyer.ReferrerID, buyerID, planName); err != nil {
		log.Printf("reward hook failed referrer=%d buyer=%d: %v", buyer.ReferrerID, buyerID, err)
	}
}

// SweepExpired demotes active memberships whose expire time has passed and
// resets each affected user's snapshot to the free tier when no other
// active window remains. Per-row failures are logged and skipped so one
// bad row never aborts the rest of the sweep.
func (s *MembershipService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.store.ListExpiredActiveMemberships(ctx, now)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, ms := range expired {
		err := s.store.Transact(ctx, ms.UserID, func(tx EntitlementTx) error {
			if err := tx.SetMembershipStatus(ms.ID, models.MembershipExpired); err != nil {
				return err
			}
			other, err := tx.HasOtherActiveMembership(ms.UserID, ms.ID, now)
			if err != nil {
				return err
			}
			if !other {
				return tx.SetUserEntitlement(ms.UserID, models.LevelFree, nil)
			}
			return nil
		})
		if err != nil {
			log.Printf("sweep: membership %d (user %d) failed: %v", ms.ID, ms.UserID, err)
			continue
		}
		count++
	}

	if count > 0 {
		log.Printf("sweep: expired %d membership(s)", count)
	}
	return count, nil
}

// Benefits resolves the user's effective entitlement at now. Priority:
// the authoritative active membership row, then the denormalized snapshot
// on the user row, then the free tier (with its runtime config override).
func (s *MembershipService) Benefits(ctx context.Context, userID int64) (models.Benefits, error) {
	now := s.now()

	ms, found, err := s.store.ActiveMembership(ctx, userID, now)
	if err != nil {
		return models.Benefits{}, err
	}
	if found {
		plan, ok := s.catalog.PlanByID(ms.PlanID)
		if !ok {
			// Plan removed from the catalog after purchase; honor the
			// window with unlimited analysis rather than demote a payer.
			plan = models.Plan{
				ID: ms.PlanID, Name: ms.PlanID,
				DailyAnalysisLimit: models.UnlimitedDailyLimit,
				WatchlistLimit:     200,
			}
		}
		expire := ms.ExpireAt
		return models.Benefits{
			Level:              models.LevelVIP,
			PlanName:           plan.Name,
			DailyAnalysisLimit: plan.DailyAnalysisLimit,
			WatchlistLimit:     plan.WatchlistLimit,
			ExpireAt:           &expire,
			DaysRemaining:      daysRemaining(now, expire),
		}, nil
	}

	user, err := s.users.UserByID(ctx, userID)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return models.Benefits{}, err
	}
	if err == nil && user.SnapshotValid(now) {
		name := user.MembershipLevel
		if plan, ok := s.catalog.PlanByID(user.MembershipLevel); ok {
			name = plan.Name
		}
		return models.Benefits{
			Level:              models.LevelVIP,
			PlanName:           name,
			DailyAnalysisLimit: models.UnlimitedDailyLimit,
			WatchlistLimit:     200,
			ExpireAt:           user.MembershipExpire,
			DaysRemaining:      daysRemaining(now, *user.MembershipExpire),
		}, nil
	}

	return models.Benefits{
		Level:              models.LevelFree,
		PlanName:           "Free",
		DailyAnalysisLimit: s.configs.ConfigInt(ctx, "free_daily_limit", s.freeDailyLimit),
		WatchlistLimit:     s.configs.ConfigInt(ctx, "free_watchlist_limit", s.freeWatchlistLimit),
	}, nil
}

// Orders lists the user's order history, newest first.
func (s *MembershipService) Orders(ctx context.Context, userID int64, limit int) ([]models.Order, error) {
	return s.store.ListOrders(ctx, userID, limit)
}

func daysRemaining(now, expire time.Time) int {
	if !now.Before(expire) {
		return 0
	}
	return int(expire.Sub(now) / (24 * time.Hour))
}

// LogRewardHook is the default reward collaborator: it only records that a
// reward should be granted. Deployments wire a real referral service here.
type LogRewardHook struct{}

func (LogRewardHook) GrantSubscriptionReward(_ context.Context, referrerID, buyerID int64, planName string) error {
	log.Printf("referral reward: referrer=%d buyer=%d plan=%s", referrerID, buyerID, planName)
	return nil
}

var _ RewardHook = LogRewardHook{}
