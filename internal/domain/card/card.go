package card

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CardStatus defines card lifecycle states. Only ACTIVE cards may pay.
type CardStatus string

const (
	CardStatusActive    CardStatus = "ACTIVE"
	CardStatusBlocked   CardStatus = "BLOCKED"
	CardStatusExpired   CardStatus = "EXPIRED"
	CardStatusSuspended CardStatus = "SUSPENDED"
)

// LimitScope identifies which spending limit a check ran against
type LimitScope string

const (
	LimitScopeSingle  LimitScope = "SINGLE"
	LimitScopeDaily   LimitScope = "DAILY"
	LimitScopeMonthly LimitScope = "MONTHLY"
)

// DailyWindowKey returns the rolling daily window key for a timestamp.
// Windows are keyed by date in the configured zone, so a boundary crossing
// is detected by key comparison rather than a background timer.
func DailyWindowKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

// MonthlyWindowKey returns the rolling calendar-month window key
func MonthlyWindowKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01")
}

// Card holds the mutable spending counters for a payment card. Profile
// fields (owner, status, limits) are owned externally and read-only here.
// Amounts are stored in minor units.
type Card struct {
	CardUUID      uuid.UUID  `json:"card_uuid"`
	OwnerUserID   uuid.UUID  `json:"owner_user_id"`
	Status        CardStatus `json:"status"`
	SingleLimit   int64      `json:"single_limit"`
	DailyLimit    int64      `json:"daily_limit"`
	MonthlyLimit  int64      `json:"monthly_limit"`
	DailySpent    int64      `json:"daily_spent"`
	DailyWindow   string     `json:"daily_window"` // YYYY-MM-DD
	MonthlySpent  int64      `json:"monthly_spent"`
	MonthlyWindow string     `json:"monthly_window"` // YYYY-MM
	Version       int        `json:"version"`        // For optimistic locking
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// ErrCardState indicates the card is not in a payable state
type ErrCardState struct {
	CardUUID uuid.UUID
	Status   CardStatus
}

func (e ErrCardState) Error() string {
	return "card " + e.CardUUID.String() + " is " + string(e.Status)
}

// ErrLimitExceeded indicates a spending limit would be breached. Scope names
// the violated limit for user-facing messaging.
type ErrLimitExceeded struct {
	CardUUID  uuid.UUID
	Scope     LimitScope
	Limit     int64
	Attempted int64
}

func (e ErrLimitExceeded) Error() string {
	return fmt.Sprintf("%s limit exceeded for card %s: attempted %d against limit %d",
		e.Scope, e.CardUUID, e.Attempted, e.Limit)
}

// Roll resets counters whose window key no longer matches now. Called inside
// the same locked transaction as the admission check so a boundary crossing
// can never be missed.
func (c *Card) Roll(now time.Time, loc *time.Location) {
	if key := DailyWindowKey(now, loc); c.DailyWindow != key {
		c.DailyWindow = key
		c.DailySpent = 0
	}
	if key := MonthlyWindowKey(now, loc); c.MonthlyWindow != key {
		c.MonthlyWindow = key
		c.MonthlySpent = 0
	}
}

// Admit decides whether a new reservation of amount is allowed given the
// outstanding active reservations in the current windows. Side-effect free:
// the caller records the reservation only after a nil return.
func (c *Card) Admit(amount, dailyReserved, monthlyReserved int64) error {
	if c.Status != CardStatusActive {
		return ErrCardState{CardUUID: c.CardUUID, Status: c.Status}
	}
	if amount > c.SingleLimit {
		return ErrLimitExceeded{CardUUID: c.CardUUID, Scope: LimitScopeSingle, Limit: c.SingleLimit, Attempted: amount}
	}
	if c.DailySpent+dailyReserved+amount > c.DailyLimit {
		return ErrLimitExceeded{CardUUID: c.CardUUID, Scope: LimitScopeDaily, Limit: c.DailyLimit, Attempted: c.DailySpent + dailyReserved + amount}
	}
	if c.MonthlySpent+monthlyReserved+amount > c.MonthlyLimit {
		return ErrLimitExceeded{CardUUID: c.CardUUID, Scope: LimitScopeMonthly, Limit: c.MonthlyLimit, Attempted: c.MonthlySpent + monthlyReserved + amount}
	}
	return nil
}

// CommitSpend converts a committed reservation into permanent spend
func (c *Card) CommitSpend(amount int64) {
	c.DailySpent += amount
	c.MonthlySpent += amount
	c.Version++
	c.UpdatedAt = time.Now()
}
