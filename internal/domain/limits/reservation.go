package limits

import (
	"time"

	"github.com/google/uuid"
)

// ReservationStatus defines reservation lifecycle states
type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "ACTIVE"
	ReservationStatusCommitted ReservationStatus = "COMMITTED"
	ReservationStatusReleased  ReservationStatus = "RELEASED"
)

// Reservation is a provisional hold against a card's spending limits,
// pending commit or release. Only ACTIVE reservations count toward the
// admission check. Amounts are stored in minor units.
type Reservation struct {
	ID            uuid.UUID         `json:"id"`
	CardUUID      uuid.UUID         `json:"card_uuid"`
	Amount        int64             `json:"amount"`
	DailyWindow   string            `json:"daily_window"`
	MonthlyWindow string            `json:"monthly_window"`
	Status        ReservationStatus `json:"status"`
	ExpiresAt     time.Time         `json:"expires_at"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// NewReservation creates an ACTIVE hold for the given card and windows
func NewReservation(cardUUID uuid.UUID, amount int64, dailyWindow, monthlyWindow string, ttl time.Duration) *Reservation {
	now := time.Now()
	return &Reservation{
		ID:            uuid.New(),
		CardUUID:      cardUUID,
		Amount:        amount,
		DailyWindow:   dailyWindow,
		MonthlyWindow: monthlyWindow,
		Status:        ReservationStatusActive,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// IsExpired reports whether an ACTIVE reservation has outlived its TTL and
// should be swept
func (r *Reservation) IsExpired(now time.Time) bool {
	return r.Status == ReservationStatusActive && now.After(r.ExpiresAt)
}
