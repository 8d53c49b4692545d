// Package limitledger implements the spending-limit ledger on PostgreSQL.
// All admission decisions run inside a transaction holding the card row lock,
// which makes the card the serialization point for concurrent reservations.
package limitledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cardpay-pipeline/internal/config"
	"github.com/cardpay-pipeline/internal/domain/card"
	"github.com/cardpay-pipeline/internal/domain/limits"
)

// TxExecutor runs a function inside a database transaction
type TxExecutor interface {
	ExecuteTx(ctx context.Context, fn func(tx pgx.Tx) error) error
}

// LedgerService implements limits.Ledger
type LedgerService struct {
	db       TxExecutor
	cardRepo card.Repository
	resRepo  limits.Repository
	logger   *slog.Logger
	ttl      time.Duration
	loc      *time.Location
}

func NewLedgerService(
	db TxExecutor,
	cardRepo card.Repository,
	resRepo limits.Repository,
	logger *slog.Logger,
	cfg *config.LimitsConfig,
) (limits.Ledger, error) {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid limits timezone %q: %w", cfg.Timezone, err)
	}
	return &LedgerService{
		db:       db,
		cardRepo: cardRepo,
		resRepo:  resRepo,
		logger:   logger,
		ttl:      cfg.ReservationTTL,
		loc:      loc,
	}, nil
}

// Reserve admits a new hold against the card's limits. The card row is locked
// first, its windows rolled, and only then are outstanding holds counted, so
// two concurrent reservations can never both pass on the same headroom.
func (s *LedgerService) Reserve(ctx context.Context, cardUUID uuid.UUID, amount int64) (uuid.UUID, error) {
	var reservationID uuid.UUID

	err := s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		cardRepoTx := s.cardRepo.WithTx(tx)
		resRepoTx := s.resRepo.WithTx(tx)

		lockedCard, err := cardRepoTx.LockForUpdate(ctx, cardUUID)
		if err != nil {
			return err
		}

		lockedCard.Roll(time.Now(), s.loc)

		dailyReserved, monthlyReserved, err := resRepoTx.SumActive(ctx, cardUUID, lockedCard.DailyWindow, lockedCard.MonthlyWindow)
		if err != nil {
			return fmt.Errorf("failed to sum active reservations for card %s: %w", cardUUID, err)
		}

		if err := lockedCard.Admit(amount, dailyReserved, monthlyReserved); err != nil {
			return err
		}

		reservation := limits.NewReservation(cardUUID, amount, lockedCard.DailyWindow, lockedCard.MonthlyWindow, s.ttl)
		if err := resRepoTx.Create(ctx, reservation); err != nil {
			return err
		}

		// Persist the rolled window keys even though no spend was committed
		if err := cardRepoTx.UpdateCounters(ctx, lockedCard); err != nil {
			return err
		}

		reservationID = reservation.ID
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}

	s.logger.Info("Reservation created",
		"reservation_id", reservationID.String(),
		"card_uuid", cardUUID.String(),
		"amount", amount,
	)
	return reservationID, nil
}

// Commit converts the hold into permanent spend. Committing an already
// committed reservation is a no-op. A reservation that was swept before its
// payment confirmed is still committed, so the spend is never lost.
func (s *LedgerService) Commit(ctx context.Context, reservationID uuid.UUID) error {
	return s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		cardRepoTx := s.cardRepo.WithTx(tx)
		resRepoTx := s.resRepo.WithTx(tx)

		reservation, err := resRepoTx.LockForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if reservation.Status == limits.ReservationStatusCommitted {
			return nil
		}
		if reservation.Status == limits.ReservationStatusReleased {
			s.logger.Warn("Committing a reservation that was already released",
				"reservation_id", reservationID.String(),
				"card_uuid", reservation.CardUUID.String(),
			)
		}

		lockedCard, err := cardRepoTx.LockForUpdate(ctx, reservation.CardUUID)
		if err != nil {
			return err
		}

		// Spend lands in the current windows: a hold committed after a
		// boundary crossing counts against the new window
		lockedCard.Roll(time.Now(), s.loc)
		lockedCard.CommitSpend(reservation.Amount)

		if err := cardRepoTx.UpdateCounters(ctx, lockedCard); err != nil {
			return err
		}
		return resRepoTx.UpdateStatus(ctx, reservationID, limits.ReservationStatusCommitted)
	})
}

// Release drops the hold. Releasing a reservation that is no longer ACTIVE is
// a no-op, so retried cancellations and failure paths are safe.
func (s *LedgerService) Release(ctx context.Context, reservationID uuid.UUID) error {
	return s.db.ExecuteTx(ctx, func(tx pgx.Tx) error {
		resRepoTx := s.resRepo.WithTx(tx)

		reservation, err := resRepoTx.LockForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if reservation.Status != limits.ReservationStatusActive {
			return nil
		}

		if err := resRepoTx.UpdateStatus(ctx, reservationID, limits.ReservationStatusReleased); err != nil {
			return err
		}

		s.logger.Info("Reservation released",
			"reservation_id", reservationID.String(),
			"card_uuid", reservation.CardUUID.String(),
			"amount", reservation.Amount,
		)
		return nil
	})
}

// SweepExpired releases ACTIVE reservations past their TTL. Holds orphaned by
// a crash between reserve and settle stop counting against the card once the
// sweeper runs.
func (s *LedgerService) SweepExpired(ctx context.Context) (int, error) {
	released, err := s.resRepo.ReleaseExpired(ctx, time.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired reservations: %w", err)
	}
	if released > 0 {
		s.logger.Info("Swept expired reservations", "released", released)
	}
	return released, nil
}
