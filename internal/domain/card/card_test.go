package card

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeCard() *Card {
	return &Card{
		CardUUID:      uuid.New(),
		OwnerUserID:   uuid.New(),
		Status:        CardStatusActive,
		SingleLimit:   5000,
		DailyLimit:    10000,
		MonthlyLimit:  100000,
		DailyWindow:   "2026-09-01",
		MonthlyWindow: "2026-09",
		Version:       1,
	}
}

func TestWindowKeys(t *testing.T) {
	utc := time.UTC
	at := time.Date(2026, 9, 1, 23, 59, 0, 0, utc)

	assert.Equal(t, "2026-09-01", DailyWindowKey(at, utc))
	assert.Equal(t, "2026-09", MonthlyWindowKey(at, utc))

	t.Run("LocalMidnightIsZoneDependent", func(t *testing.T) {
		tokyo, err := time.LoadLocation("Asia/Tokyo")
		require.NoError(t, err)

		// 23:59 UTC on the 1st is already the 2nd in Tokyo.
		assert.Equal(t, "2026-09-02", DailyWindowKey(at, tokyo))
	})
}

func TestCard_Roll(t *testing.T) {
	t.Run("SameWindowKeepsCounters", func(t *testing.T) {
		c := activeCard()
		c.DailySpent = 900
		c.MonthlySpent = 4200

		c.Roll(time.Date(2026, 9, 1, 18, 0, 0, 0, time.UTC), time.UTC)

		assert.Equal(t, int64(900), c.DailySpent)
		assert.Equal(t, int64(4200), c.MonthlySpent)
	})

	t.Run("DayBoundaryResetsDailyOnly", func(t *testing.T) {
		c := activeCard()
		c.DailySpent = 900
		c.MonthlySpent = 4200

		c.Roll(time.Date(2026, 9, 2, 0, 0, 1, 0, time.UTC), time.UTC)

		assert.Equal(t, int64(0), c.DailySpent)
		assert.Equal(t, "2026-09-02", c.DailyWindow)
		assert.Equal(t, int64(4200), c.MonthlySpent)
		assert.Equal(t, "2026-09", c.MonthlyWindow)
	})

	t.Run("MonthBoundaryResetsBoth", func(t *testing.T) {
		c := activeCard()
		c.DailySpent = 900
		c.MonthlySpent = 4200

		c.Roll(time.Date(2026, 10, 1, 0, 0, 1, 0, time.UTC), time.UTC)

		assert.Equal(t, int64(0), c.DailySpent)
		assert.Equal(t, "2026-10-01", c.DailyWindow)
		assert.Equal(t, int64(0), c.MonthlySpent)
		assert.Equal(t, "2026-10", c.MonthlyWindow)
	})
}

func TestCard_Admit(t *testing.T) {
	t.Run("AdmitsWithinAllLimits", func(t *testing.T) {
		c := activeCard()
		c.DailySpent = 1000

		assert.NoError(t, c.Admit(2000, 0, 0))
	})

	t.Run("RejectsInactiveCard", func(t *testing.T) {
		for _, status := range []CardStatus{CardStatusBlocked, CardStatusExpired, CardStatusSuspended} {
			c := activeCard()
			c.Status = status

			err := c.Admit(100, 0, 0)

			var stateErr ErrCardState
			require.ErrorAs(t, err, &stateErr, "status %s must be rejected", status)
			assert.Equal(t, status, stateErr.Status)
		}
	})

	t.Run("RejectsAboveSingleLimit", func(t *testing.T) {
		c := activeCard()

		err := c.Admit(c.SingleLimit+1, 0, 0)

		var limitErr ErrLimitExceeded
		require.ErrorAs(t, err, &limitErr)
		assert.Equal(t, LimitScopeSingle, limitErr.Scope)
	})

	t.Run("RejectsOverDailyLimit", func(t *testing.T) {
		// dailyLimit=100, dailySpent=90, request 20 -> daily limit exceeded
		// and the spent counter is untouched.
		c := activeCard()
		c.SingleLimit = 100
		c.DailyLimit = 100
		c.MonthlyLimit = 1000
		c.DailySpent = 90

		err := c.Admit(20, 0, 0)

		var limitErr ErrLimitExceeded
		require.ErrorAs(t, err, &limitErr)
		assert.Equal(t, LimitScopeDaily, limitErr.Scope)
		assert.Equal(t, int64(100), limitErr.Limit)
		assert.Equal(t, int64(110), limitErr.Attempted)
		assert.Equal(t, int64(90), c.DailySpent, "Admit must be side-effect free")
	})

	t.Run("CountsOutstandingReservations", func(t *testing.T) {
		// dailyLimit=100, nothing spent, 60 already reserved: a second 60
		// must be rejected even though spent is still 0.
		c := activeCard()
		c.SingleLimit = 100
		c.DailyLimit = 100
		c.MonthlyLimit = 1000

		require.NoError(t, c.Admit(60, 0, 0))

		err := c.Admit(60, 60, 60)

		var limitErr ErrLimitExceeded
		require.ErrorAs(t, err, &limitErr)
		assert.Equal(t, LimitScopeDaily, limitErr.Scope)
	})

	t.Run("RejectsOverMonthlyLimit", func(t *testing.T) {
		c := activeCard()
		c.SingleLimit = 5000
		c.DailyLimit = 10000
		c.MonthlyLimit = 10000
		c.MonthlySpent = 9000

		err := c.Admit(2000, 0, 0)

		var limitErr ErrLimitExceeded
		require.ErrorAs(t, err, &limitErr)
		assert.Equal(t, LimitScopeMonthly, limitErr.Scope)
	})
}

func TestCard_CommitSpend(t *testing.T) {
	c := activeCard()
	c.DailySpent = 100
	c.MonthlySpent = 500
	initialVersion := c.Version

	c.CommitSpend(60)

	assert.Equal(t, int64(160), c.DailySpent)
	assert.Equal(t, int64(560), c.MonthlySpent)
	assert.Equal(t, initialVersion+1, c.Version)
}
