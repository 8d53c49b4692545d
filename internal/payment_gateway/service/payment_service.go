package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cardpay-pipeline/internal/config"
	"github.com/cardpay-pipeline/internal/domain/card"
	"github.com/cardpay-pipeline/internal/domain/limits"
	"github.com/cardpay-pipeline/internal/domain/payment"
	"github.com/cardpay-pipeline/internal/domain/settlement"
	"github.com/cardpay-pipeline/internal/domain/shared"
	"github.com/cardpay-pipeline/internal/platform/chain"
	"github.com/cardpay-pipeline/internal/platform/messaging/producers"
)

// PaymentServiceImpl implements PaymentService. Reservation handling is
// structural: every path that creates a reservation either attaches it to a
// persisted transaction or releases it before returning.
type PaymentServiceImpl struct {
	db             TxExecutor
	validator      *Validator
	txRepo         payment.Repository
	cardRepo       card.Repository
	jobRepo        settlement.Repository
	transitionRepo payment.TransitionRepository
	ledger         limits.Ledger
	rates          RateSource
	chainClient    chain.Client
	signer         chain.Signer
	verifier       CredentialVerifier
	producer       producers.MessagePublisher
	logger         *slog.Logger

	settlementCurrency string
	staleMarginBps     int64
	maxSubmitAttempts  int
}

func NewPaymentService(
	logger *slog.Logger,
	cfg *config.Config,
	db TxExecutor,
	validator *Validator,
	txRepo payment.Repository,
	cardRepo card.Repository,
	jobRepo settlement.Repository,
	transitionRepo payment.TransitionRepository,
	ledger limits.Ledger,
	rates RateSource,
	chainClient chain.Client,
	signer chain.Signer,
	verifier CredentialVerifier,
	producer producers.MessagePublisher,
) PaymentService {
	return &PaymentServiceImpl{
		db:                 db,
		validator:          validator,
		txRepo:             txRepo,
		cardRepo:           cardRepo,
		jobRepo:            jobRepo,
		transitionRepo:     transitionRepo,
		ledger:             ledger,
		rates:              rates,
		chainClient:        chainClient,
		signer:             signer,
		verifier:           verifier,
		producer:           producer,
		logger:             logger,
		settlementCurrency: cfg.Payments.SettlementCurrency,
		staleMarginBps:     cfg.Payments.StaleRateMarginBps,
		maxSubmitAttempts:  cfg.Chain.MaxSubmitAttempts,
	}
}

// Validate checks the request without side effects
func (s *PaymentServiceImpl) Validate(req *PaymentRequest) (*ValidatedPayment, error) {
	validated, vErr := s.validator.Validate(req)
	if vErr != nil {
		return nil, vErr
	}
	return validated, nil
}

// Process runs the single-step payment flow. The returned TxHash is the
// signature of the signed settlement payload; the worker confirms it
// asynchronously.
func (s *PaymentServiceImpl) Process(ctx context.Context, req *PaymentRequest) (*ProcessResult, error) {
	logger := s.requestLogger(req.CorrelationID)

	validated, err := s.Validate(req)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.txRepo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			logger.Error("Failed to check idempotency key", "error", err)
			return nil, NewPaymentError(shared.CodeDatabaseError, "failed to check idempotency key", err)
		}
		if existing != nil {
			logger.Info("Idempotency key matched existing transaction",
				"transaction_id", existing.ID.String(),
				"status", string(existing.Status),
			)
			result := &ProcessResult{Transaction: existing, Existing: true}
			if existing.ChainTxHash != nil {
				result.TxHash = *existing.ChainTxHash
			}
			return result, nil
		}
	}

	if validated.PIN != "" {
		if err := s.verifier.Verify(ctx, validated.CardUUID, validated.PIN); err != nil {
			logger.Warn("Credential verification rejected", "card_uuid", validated.CardUUID.String())
			return nil, NewPaymentError(shared.CodeCredentialRejected, "credential verification failed", err)
		}
	}

	paymentCard, err := s.lookupCard(ctx, validated.CardUUID)
	if err != nil {
		return nil, err
	}

	settleAmount, err := s.settlementAmount(ctx, validated.Amount, validated.Currency)
	if err != nil {
		return nil, err
	}

	reservationID, err := s.ledger.Reserve(ctx, validated.CardUUID, validated.Amount)
	if err != nil {
		return nil, mapReservationError(err)
	}

	payload, err := s.signer.SignSettlement(ctx, settleAmount)
	if err != nil {
		s.releaseReservation(ctx, reservationID)
		logger.Error("Failed to sign settlement payload", "error", err)
		return nil, NewPaymentError(shared.CodeBlockchainError, "failed to sign settlement payload", err)
	}

	tx, job, expectedHash, err := s.acceptPayment(ctx, validated, paymentCard.OwnerUserID, req.IdempotencyKey, reservationID, payload, logger)
	if err != nil {
		if winner := s.resolveLostKeyRace(ctx, req.IdempotencyKey, err, logger); winner != nil {
			result := &ProcessResult{Transaction: winner, Existing: true}
			if winner.ChainTxHash != nil {
				result.TxHash = *winner.ChainTxHash
			}
			return result, nil
		}
		return nil, err
	}

	s.dispatchJob(ctx, job, req.CorrelationID, logger)

	logger.Info("Payment accepted",
		"transaction_id", tx.ID.String(),
		"card_uuid", validated.CardUUID.String(),
		"amount", validated.Amount,
		"expected_hash", expectedHash,
	)
	return &ProcessResult{Transaction: tx, TxHash: expectedHash}, nil
}

// Sign runs the first half of the two-step flow. The payload arrives signed
// off-device; the gateway validates, reserves, and queues it unchanged.
func (s *PaymentServiceImpl) Sign(ctx context.Context, req *SignRequest) (*SignResult, error) {
	logger := s.requestLogger(req.CorrelationID)

	validated, err := s.Validate(&PaymentRequest{
		CardUUID:   req.CardUUID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		MerchantID: req.MerchantID,
	})
	if err != nil {
		return nil, err
	}

	if len(req.TransactionBytes) == 0 {
		return nil, &ValidationError{Fields: []FieldError{{
			Field:   "transactionBytes",
			Code:    shared.CodeInvalidInput,
			Message: "transactionBytes is required",
		}}}
	}
	if _, err := s.chainClient.ExtractSignature(req.TransactionBytes); err != nil {
		return nil, &ValidationError{Fields: []FieldError{{
			Field:   "transactionBytes",
			Code:    shared.CodeInvalidInput,
			Message: "transactionBytes is not a signed transaction payload",
		}}}
	}

	if req.IdempotencyKey != "" {
		existing, err := s.txRepo.GetByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, NewPaymentError(shared.CodeDatabaseError, "failed to check idempotency key", err)
		}
		if existing != nil {
			hash := ""
			if existing.ChainTxHash != nil {
				hash = *existing.ChainTxHash
			}
			return &SignResult{Transaction: existing, ExpectedHash: hash}, nil
		}
	}

	paymentCard, err := s.lookupCard(ctx, validated.CardUUID)
	if err != nil {
		return nil, err
	}

	reservationID, err := s.ledger.Reserve(ctx, validated.CardUUID, validated.Amount)
	if err != nil {
		return nil, mapReservationError(err)
	}

	tx, job, expectedHash, err := s.acceptPayment(ctx, validated, paymentCard.OwnerUserID, req.IdempotencyKey, reservationID, req.TransactionBytes, logger)
	if err != nil {
		if winner := s.resolveLostKeyRace(ctx, req.IdempotencyKey, err, logger); winner != nil {
			hash := ""
			if winner.ChainTxHash != nil {
				hash = *winner.ChainTxHash
			}
			return &SignResult{Transaction: winner, ExpectedHash: hash}, nil
		}
		return nil, err
	}

	s.dispatchJob(ctx, job, req.CorrelationID, logger)

	logger.Info("Off-device-signed payment accepted",
		"transaction_id", tx.ID.String(),
		"expected_hash", expectedHash,
	)
	return &SignResult{Transaction: tx, ExpectedHash: expectedHash}, nil
}

// Complete verifies a chain hash against the known submitted payload and the
// chain itself, then finalizes the transaction. A hash matching no known
// payload is rejected so an unrelated transaction can never be marked paid.
func (s *PaymentServiceImpl) Complete(ctx context.Context, req *CompleteRequest) (*payment.Transaction, error) {
	logger := s.requestLogger(req.CorrelationID)

	if req.TxHash == "" {
		return nil, &ValidationError{Fields: []FieldError{{
			Field:   "txHash",
			Code:    shared.CodeInvalidInput,
			Message: "txHash is required",
		}}}
	}

	tx, err := s.locateTransaction(ctx, req)
	if err != nil {
		return nil, err
	}

	if tx.Status.IsTerminal() {
		if tx.Status == payment.TransactionStatusCompleted && tx.ChainTxHash != nil && *tx.ChainTxHash == req.TxHash {
			return tx, nil
		}
		return nil, NewPaymentError(shared.CodeTransactionFailed,
			"transaction already reached a terminal state: "+string(tx.Status), nil)
	}

	job, err := s.jobRepo.GetByTransactionID(ctx, tx.ID)
	if err != nil {
		var notFound settlement.ErrJobNotFound
		if errors.As(err, &notFound) {
			return nil, NewPaymentError(shared.CodeUnknownHash, "no submitted payload for transaction", err)
		}
		return nil, NewPaymentError(shared.CodeDatabaseError, "failed to load settlement job", err)
	}

	expectedHash, err := s.expectedJobHash(job)
	if err != nil {
		return nil, NewPaymentError(shared.CodeInternalError, "failed to derive payload signature", err)
	}
	if req.TxHash != expectedHash {
		logger.Warn("Complete called with a hash that matches no known payload",
			"transaction_id", tx.ID.String(),
			"supplied_hash", req.TxHash,
		)
		return nil, NewPaymentError(shared.CodeUnknownHash, "txHash does not correspond to a known submitted payload", nil)
	}

	probe, err := s.chainClient.Probe(ctx, req.TxHash)
	if err != nil {
		return nil, NewPaymentError(shared.CodeBlockchainError, "failed to verify hash against the chain", err)
	}

	switch {
	case !probe.Found:
		return nil, NewPaymentError(shared.CodeNotConfirmed, "submission is not visible on the chain", nil)
	case probe.Failed:
		reason := "chain reports execution failure"
		if probe.Receipt != nil && probe.Receipt.Err != "" {
			reason += ": " + probe.Receipt.Err
		}
		if err := s.finalize(ctx, tx.ID, job, payment.TransactionStatusFailed, reason, req.TxHash, req.CorrelationID); err != nil {
			return nil, err
		}
		return nil, NewPaymentError(shared.CodeTransactionFailed, "transaction failed on-chain", nil)
	case !probe.Confirmed:
		return nil, NewPaymentError(shared.CodeNotConfirmed, "submission has not reached the required confirmation depth", nil)
	}

	if err := s.finalize(ctx, tx.ID, job, payment.TransactionStatusCompleted, "settlement confirmed via complete callback", req.TxHash, req.CorrelationID); err != nil {
		return nil, err
	}

	finalized, err := s.txRepo.GetByID(ctx, tx.ID)
	if err != nil {
		return nil, NewPaymentError(shared.CodeDatabaseError, "failed to reload finalized transaction", err)
	}
	return finalized, nil
}

// Cancel withdraws a PENDING payment. Once a worker has picked up the
// settlement job, cancellation is refused and the caller must await the
// terminal outcome.
func (s *PaymentServiceImpl) Cancel(ctx context.Context, transactionID uuid.UUID) error {
	var transition *payment.Transition
	var reservationID *uuid.UUID

	err := s.db.ExecuteTx(ctx, func(dbTx pgx.Tx) error {
		txRepoTx := s.txRepo.WithTx(dbTx)
		jobRepoTx := s.jobRepo.WithTx(dbTx)

		locked, err := txRepoTx.LockForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if locked.Status != payment.TransactionStatusPending {
			return NewPaymentError(shared.CodeCancelRefused,
				"only PENDING payments can be cancelled, current status: "+string(locked.Status), nil)
		}

		withdrawn, err := jobRepoTx.CancelQueued(ctx, transactionID)
		if err != nil {
			return err
		}
		if !withdrawn {
			return NewPaymentError(shared.CodeCancelRefused, "settlement has already started", nil)
		}

		transition, err = locked.TransitionTo(payment.TransactionStatusCancelled, "cancelled by caller")
		if err != nil {
			return err
		}
		if err := txRepoTx.Update(ctx, locked); err != nil {
			return err
		}

		reservationID = locked.ReservationID
		return nil
	})
	if err != nil {
		var paymentErr *PaymentError
		var notFound payment.ErrTransactionNotFound
		if errors.As(err, &paymentErr) || errors.As(err, &notFound) {
			return err
		}
		return NewPaymentError(shared.CodeDatabaseError, "failed to cancel payment", err)
	}

	s.recordTransition(ctx, transition, "")

	if reservationID != nil {
		s.releaseReservation(ctx, *reservationID)
	}

	s.logger.Info("Payment cancelled", "transaction_id", transactionID.String())
	return nil
}

// GetByID retrieves a transaction. Returns nil if not found.
func (s *PaymentServiceImpl) GetByID(ctx context.Context, transactionID uuid.UUID) (*payment.Transaction, error) {
	tx, err := s.txRepo.GetByID(ctx, transactionID)
	if err != nil {
		var notFound payment.ErrTransactionNotFound
		if errors.As(err, &notFound) {
			return nil, nil
		}
		return nil, NewPaymentError(shared.CodeDatabaseError, "failed to load transaction", err)
	}
	return tx, nil
}

// acceptPayment persists the PENDING transaction together with its settlement
// job in one database transaction. The reservation is released on every
// failure path.
func (s *PaymentServiceImpl) acceptPayment(
	ctx context.Context,
	validated *ValidatedPayment,
	ownerUserID uuid.UUID,
	idempotencyKey string,
	reservationID uuid.UUID,
	payload []byte,
	logger *slog.Logger,
) (*payment.Transaction, *settlement.Job, string, error) {
	expectedHash, err := s.chainClient.ExtractSignature(payload)
	if err != nil {
		s.releaseReservation(ctx, reservationID)
		return nil, nil, "", NewPaymentError(shared.CodeBlockchainError, "failed to derive payload signature", err)
	}

	if idempotencyKey == "" {
		idempotencyKey = uuid.New().String()
	}

	tx, err := payment.NewTransaction(validated.CardUUID, ownerUserID, validated.MerchantID, validated.Amount, validated.Currency, idempotencyKey)
	if err != nil {
		s.releaseReservation(ctx, reservationID)
		return nil, nil, "", NewPaymentError(shared.CodeInvalidInput, "invalid payment", err)
	}
	tx.AttachReservation(reservationID)

	job := settlement.NewJob(tx.ID, payload, s.maxSubmitAttempts)

	err = s.db.ExecuteTx(ctx, func(dbTx pgx.Tx) error {
		if err := s.txRepo.WithTx(dbTx).Create(ctx, tx); err != nil {
			return err
		}
		return s.jobRepo.WithTx(dbTx).Create(ctx, job)
	})
	if err != nil {
		s.releaseReservation(ctx, reservationID)

		var dup payment.ErrDuplicateIdempotencyKey
		if errors.As(err, &dup) {
			return nil, nil, "", NewPaymentError(shared.CodeDuplicateRequest, "a request with this idempotency key is already in flight", err)
		}
		logger.Error("Failed to persist payment", "error", err)
		return nil, nil, "", NewPaymentError(shared.CodeDatabaseError, "failed to persist payment", err)
	}

	return tx, job, expectedHash, nil
}

// resolveLostKeyRace resolves a duplicate-key insert failure to the
// transaction that won the race, so both callers of one idempotency key see
// the same transaction. The loser's reservation is already released by
// acceptPayment; the winner's is untouched. Returns nil when the failure is
// not a key conflict or the winning row cannot be loaded, leaving the
// original error to surface.
func (s *PaymentServiceImpl) resolveLostKeyRace(ctx context.Context, idempotencyKey string, acceptErr error, logger *slog.Logger) *payment.Transaction {
	var dup payment.ErrDuplicateIdempotencyKey
	if idempotencyKey == "" || !errors.As(acceptErr, &dup) {
		return nil
	}

	winner, err := s.txRepo.GetByIdempotencyKey(ctx, idempotencyKey)
	if err != nil || winner == nil {
		logger.Error("Failed to resolve idempotency key after losing insert race",
			"error", err,
		)
		return nil
	}

	logger.Info("Lost idempotency key race, returning the winning transaction",
		"transaction_id", winner.ID.String(),
		"status", string(winner.Status),
	)
	return winner
}

// dispatchJob publishes the settlement signal. Failure is not fatal: the job
// row is durable and the reconciler requeues due jobs.
func (s *PaymentServiceImpl) dispatchJob(ctx context.Context, job *settlement.Job, correlationID string, logger *slog.Logger) {
	msg := &shared.SettlementRequest{
		TransactionID: job.TransactionID,
		JobID:         job.ID,
		Payload:       job.Payload,
		AttemptsMade:  job.AttemptsMade,
		MaxAttempts:   job.MaxAttempts,
		NextRunAt:     job.NextRunAt,
		CorrelationID: correlationID,
		Timestamp:     time.Now(),
	}
	if err := s.producer.Publish(ctx, job.TransactionID.String(), msg); err != nil {
		logger.Warn("Failed to publish settlement signal, reconciler will pick the job up",
			"transaction_id", job.TransactionID.String(),
			"error", err,
		)
	}
}

// finalize drives the transaction to a terminal state, updates the job, and
// commits or releases the reservation
func (s *PaymentServiceImpl) finalize(ctx context.Context, transactionID uuid.UUID, job *settlement.Job, target payment.TransactionStatus, reason, txHash, correlationID string) error {
	var transitions []*payment.Transition
	var reservationID *uuid.UUID

	err := s.db.ExecuteTx(ctx, func(dbTx pgx.Tx) error {
		transitions = transitions[:0]
		txRepoTx := s.txRepo.WithTx(dbTx)
		jobRepoTx := s.jobRepo.WithTx(dbTx)

		locked, err := txRepoTx.LockForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if locked.Status == target {
			return nil
		}

		if locked.Status == payment.TransactionStatusPending {
			rec, err := locked.TransitionTo(payment.TransactionStatusProcessing, "settlement submitted")
			if err != nil {
				return err
			}
			transitions = append(transitions, rec)
		}

		if target == payment.TransactionStatusCompleted {
			locked.RecordSettlement(txHash, nil)
		}
		rec, err := locked.TransitionTo(target, reason)
		if err != nil {
			return err
		}
		transitions = append(transitions, rec)

		if err := txRepoTx.Update(ctx, locked); err != nil {
			return err
		}

		if target == payment.TransactionStatusCompleted {
			job.SubmittedSignature = &txHash
			job.MarkDone()
		} else {
			job.MarkDead(reason)
		}
		if err := jobRepoTx.Update(ctx, job); err != nil {
			return err
		}

		reservationID = locked.ReservationID
		return nil
	})
	if err != nil {
		var invalid payment.ErrInvalidTransition
		if errors.As(err, &invalid) {
			return NewPaymentError(shared.CodeTransactionFailed, "transaction state no longer allows finalization", err)
		}
		return NewPaymentError(shared.CodeDatabaseError, "failed to finalize transaction", err)
	}

	for _, rec := range transitions {
		s.recordTransition(ctx, rec, correlationID)
	}

	if reservationID != nil {
		if target == payment.TransactionStatusCompleted {
			if err := s.ledger.Commit(ctx, *reservationID); err != nil {
				s.logger.Error("Failed to commit reservation after settlement",
					"transaction_id", transactionID.String(),
					"reservation_id", reservationID.String(),
					"error", err,
				)
			}
		} else {
			s.releaseReservation(ctx, *reservationID)
		}
	}
	return nil
}

func (s *PaymentServiceImpl) locateTransaction(ctx context.Context, req *CompleteRequest) (*payment.Transaction, error) {
	switch {
	case req.TransactionID != nil:
		tx, err := s.txRepo.GetByID(ctx, *req.TransactionID)
		if err != nil {
			var notFound payment.ErrTransactionNotFound
			if errors.As(err, &notFound) {
				return nil, err
			}
			return nil, NewPaymentError(shared.CodeDatabaseError, "failed to load transaction", err)
		}
		return tx, nil
	case req.CardUUID != nil:
		tx, err := s.txRepo.GetLatestPendingByCard(ctx, *req.CardUUID)
		if err != nil {
			return nil, NewPaymentError(shared.CodeDatabaseError, "failed to load pending payment", err)
		}
		if tx == nil {
			return nil, NewPaymentError(shared.CodeUnknownHash, "card has no pending payment", nil)
		}
		return tx, nil
	default:
		return nil, &ValidationError{Fields: []FieldError{{
			Field:   "transactionId",
			Code:    shared.CodeInvalidInput,
			Message: "one of transactionId or cardUuid is required",
		}}}
	}
}

func (s *PaymentServiceImpl) lookupCard(ctx context.Context, cardUUID uuid.UUID) (*card.Card, error) {
	paymentCard, err := s.cardRepo.GetByUUID(ctx, cardUUID)
	if err != nil {
		var notFound card.ErrCardNotFound
		if errors.As(err, &notFound) {
			return nil, NewPaymentError(shared.CodeCardNotFound, "card not found", err)
		}
		return nil, NewPaymentError(shared.CodeDatabaseError, "failed to load card", err)
	}
	return paymentCard, nil
}

// settlementAmount converts the request amount into settlement currency minor
// units. A stale quote gets a safety margin so a moved market cannot
// under-settle.
func (s *PaymentServiceImpl) settlementAmount(ctx context.Context, amount int64, currency string) (int64, error) {
	if currency == s.settlementCurrency {
		return amount, nil
	}

	quote, err := s.rates.GetRate(ctx, currency+"/"+s.settlementCurrency)
	if err != nil {
		return 0, NewPaymentError(shared.CodeInternalError, "conversion rate unavailable", err)
	}

	settle := quote.Convert(amount)
	if quote.Stale {
		settle += settle * s.staleMarginBps / 10_000
	}
	return settle, nil
}

func (s *PaymentServiceImpl) expectedJobHash(job *settlement.Job) (string, error) {
	if job.SubmittedSignature != nil {
		return *job.SubmittedSignature, nil
	}
	return s.chainClient.ExtractSignature(job.Payload)
}

// recordTransition mirrors the audit record to Mongo. Best effort: the
// Postgres state is authoritative and an audit write failure must not fail
// the payment.
func (s *PaymentServiceImpl) recordTransition(ctx context.Context, transition *payment.Transition, correlationID string) {
	if transition == nil {
		return
	}
	transition.CorrelationID = correlationID
	if err := s.transitionRepo.Create(ctx, transition); err != nil {
		s.logger.Error("Failed to record transition audit",
			"transaction_id", transition.TransactionID.String(),
			"from", string(transition.From),
			"to", string(transition.To),
			"error", err,
		)
	}
}

func (s *PaymentServiceImpl) releaseReservation(ctx context.Context, reservationID uuid.UUID) {
	if err := s.ledger.Release(ctx, reservationID); err != nil {
		s.logger.Error("Failed to release reservation",
			"reservation_id", reservationID.String(),
			"error", err,
		)
	}
}

func (s *PaymentServiceImpl) requestLogger(correlationID string) *slog.Logger {
	if correlationID != "" {
		return s.logger.With("correlation_id", correlationID)
	}
	return s.logger
}

func mapReservationError(err error) error {
	var limitErr card.ErrLimitExceeded
	if errors.As(err, &limitErr) {
		return NewPaymentError(shared.CodeLimitExceeded, limitErr.Error(), err)
	}
	var stateErr card.ErrCardState
	if errors.As(err, &stateErr) {
		return NewPaymentError(shared.CodeCardState, stateErr.Error(), err)
	}
	var notFound card.ErrCardNotFound
	if errors.As(err, &notFound) {
		return NewPaymentError(shared.CodeCardNotFound, "card not found", err)
	}
	return NewPaymentError(shared.CodeDatabaseError, "failed to reserve limit", err)
}
