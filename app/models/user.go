// Package models defines user rows and the denormalized entitlement snapshot.
package models

import "time"

// User carries the denormalized entitlement snapshot (MembershipLevel +
// MembershipExpire) mirrored from the authoritative user_memberships rows.
// The snapshot is updated on every settlement and every expiry sweep.
type User struct {
	ID                 int64      `db:"id"`
	Subject            string     `db:"subject"` // OIDC sub claim
	Email              string     `db:"email"`
	Name               string     `db:"name"`
	MembershipLevel    string     `db:"membership_level"` // free or a plan id
	MembershipExpire   *time.Time `db:"membership_expire"`
	StripeCustomerID   string     `db:"stripe_customer_id"`
	ReferrerID         int64      `db:"referrer_id"`
	TotalAnalysisCount int64      `db:"total_analysis_count"`
	CreatedAt          time.Time  `db:"created_at"`
	LastLogin          time.Time  `db:"last_login"`
}

// SnapshotValid reports whether the denormalized snapshot alone grants a
// paid entitlement at the given time.
func (u User) SnapshotValid(now time.Time) bool {
	if u.MembershipLevel == "" || u.MembershipLevel == LevelFree {
		return false
	}
	return u.MembershipExpire != nil && now.Before(*u.MembershipExpire)
}
