package models

import "time"

// UnlimitedDailyLimit marks a plan with no daily analysis cap.
const UnlimitedDailyLimit = -1

// Plan is read-only catalog data; price and name are snapshotted onto the
// order at checkout so later catalog edits never touch settled orders.
type Plan struct {
	ID                 string  `yaml:"id" json:"id"`
	Name               string  `yaml:"name" json:"name"`
	Description        string  `yaml:"description" json:"description,omitempty"`
	Price              float64 `yaml:"price" json:"price"`
	OriginalPrice      float64 `yaml:"originalPrice" json:"original_price,omitempty"`
	DurationDays       int     `yaml:"durationDays" json:"duration_days"`
	DailyAnalysisLimit int     `yaml:"dailyAnalysisLimit" json:"daily_analysis_limit"`
	WatchlistLimit     int     `yaml:"watchlistLimit" json:"watchlist_limit"`
	Recommended        bool    `yaml:"recommended" json:"recommended,omitempty"`
}

// Unlimited reports whether the plan has no daily analysis cap.
func (p Plan) Unlimited() bool { return p.DailyAnalysisLimit == UnlimitedDailyLimit }

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentPaid      PaymentStatus = "paid"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentClosed    PaymentStatus = "closed"
)

type Order struct {
	ID             int64         `json:"id"`
	OrderNo        string        `json:"order_no"`
	UserID         int64         `json:"user_id"`
	PlanID         string        `json:"plan_id"`
	PlanName       string        `json:"plan_name"`
	Amount         float64       `json:"amount"`
	DiscountAmount float64       `json:"discount_amount"`
	PayAmount      float64       `json:"pay_amount"`
	Channel        string        `json:"channel,omitempty"` // stripe/manual
	PaymentStatus  PaymentStatus `json:"payment_status"`
	TransactionID  string        `json:"transaction_id,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	PaidAt         *time.Time    `json:"paid_at,omitempty"`
	ExpireAt       time.Time     `json:"expire_at"`
	Remark         string        `json:"remark,omitempty"`
}

// Payable reports whether the order can still transition to paid.
func (o Order) Payable(now time.Time) bool {
	if o.PaymentStatus != PaymentPending {
		return false
	}
	return now.Before(o.ExpireAt)
}

type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "active"
	MembershipExpired   MembershipStatus = "expired"
	MembershipCancelled MembershipStatus = "cancelled"
)

// UserMembership is one purchased entitlement window. Among all rows for a
// user at most one may be active with an unexpired ExpireAt.
type UserMembership struct {
	ID        int64            `json:"id"`
	UserID    int64            `json:"user_id"`
	PlanID    string           `json:"plan_id"`
	OrderID   int64            `json:"order_id"`
	StartAt   time.Time        `json:"start_at"`
	ExpireAt  time.Time        `json:"expire_at"`
	Status    MembershipStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}

// Valid reports whether the membership grants benefits at the given time.
func (m UserMembership) Valid(now time.Time) bool {
	return m.Status == MembershipActive && now.Before(m.ExpireAt)
}

// DailyUsage tracks per-user consumption for one calendar day.
type DailyUsage struct {
	UserID        int64     `json:"user_id"`
	UsageDate     string    `json:"usage_date"` // YYYY-MM-DD (UTC)
	AnalysisCount int       `json:"analysis_count"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Benefits is the resolved entitlement view for a user at "now".
type Benefits struct {
	Level              string     `json:"level"` // free or vip
	PlanName           string     `json:"plan_name"`
	DailyAnalysisLimit int        `json:"daily_analysis_limit"` // -1 means unlimited
	WatchlistLimit     int        `json:"watchlist_limit"`
	ExpireAt           *time.Time `json:"expire_at,omitempty"`
	DaysRemaining      int        `json:"days_remaining"`
}

const (
	LevelFree = "free"
	LevelVIP  = "vip"
)
