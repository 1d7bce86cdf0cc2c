package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"balance-platform/internal/core/domain"
	"balance-platform/internal/core/ports"
	"balance-platform/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// LedgerServiceImpl implements ports.LedgerService. All balance mutations
// run under pessimistic row locks inside a single database transaction,
// with the audit entry written before commit.
type LedgerServiceImpl struct {
	userRepo   ports.UserRepository
	txRepo     ports.TransactionRepository
	guard      ports.AccessGuard
	recorder   ports.AuditRecorder
	notifier   ports.NotificationService
	transactor ports.DBTransactor
	log        zerolog.Logger
}

// NewLedgerService creates a new LedgerServiceImpl.
func NewLedgerService(
	userRepo ports.UserRepository,
	txRepo ports.TransactionRepository,
	guard ports.AccessGuard,
	recorder ports.AuditRecorder,
	notifier ports.NotificationService,
	transactor ports.DBTransactor,
	log zerolog.Logger,
) *LedgerServiceImpl {
	return &LedgerServiceImpl{
		userRepo:   userRepo,
		txRepo:     txRepo,
		guard:      guard,
		recorder:   recorder,
		notifier:   notifier,
		transactor: transactor,
		log:        log,
	}
}

// balanceSnapshot is the JSON shape stored in audit old/new values for
// balance mutations.
type balanceSnapshot struct {
	SenderBalance    int64 `json:"sender_balance"`
	RecipientBalance int64 `json:"recipient_balance"`
}

// Transfer moves funds between two users atomically.
func (s *LedgerServiceImpl) Transfer(ctx context.Context, req ports.TransferRequest) (*domain.Transaction, error) {
	if !s.guard.Authorize(ctx, req.ActorID, domain.CapTransferFunds) {
		return nil, apperror.ErrUnauthorized()
	}
	if req.Amount <= 0 {
		return nil, apperror.ErrInvalidAmount()
	}
	if req.SenderID == req.RecipientID {
		return nil, apperror.ErrSelfTransfer()
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	sender, recipient, err := s.lockUserPair(ctx, dbTx, req.SenderID, req.RecipientID)
	if err != nil {
		return nil, err
	}

	if req.Currency != "" && req.Currency != sender.Currency {
		return nil, apperror.ErrCurrencyMismatch()
	}
	if sender.Currency != recipient.Currency {
		return nil, apperror.ErrCurrencyMismatch()
	}
	if !sender.CanSpend(req.Amount) {
		return nil, apperror.ErrInsufficientFunds()
	}

	oldSnap := balanceSnapshot{SenderBalance: sender.Balance, RecipientBalance: recipient.Balance}
	newSenderBalance := sender.Balance - req.Amount
	newRecipientBalance := recipient.Balance + req.Amount

	if err := s.userRepo.UpdateBalance(ctx, dbTx, sender.ID, newSenderBalance); err != nil {
		return nil, storageErr(fmt.Errorf("debit sender: %w", err))
	}
	if err := s.userRepo.UpdateBalance(ctx, dbTx, recipient.ID, newRecipientBalance); err != nil {
		return nil, storageErr(fmt.Errorf("credit recipient: %w", err))
	}

	now := time.Now().UTC()
	txn := &domain.Transaction{
		ID:          uuid.New(),
		SenderID:    sender.ID,
		RecipientID: recipient.ID,
		Amount:      req.Amount,
		Currency:    sender.Currency,
		Type:        domain.TransactionTypeTransfer,
		Status:      domain.TransactionStatusCompleted,
		Description: req.Description,
		CreatedAt:   now,
		ProcessedAt: &now,
	}

	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, storageErr(fmt.Errorf("create transaction: %w", err))
	}

	err = s.recorder.Record(ctx, dbTx, ports.AuditEntry{
		ActorID:    &req.ActorID,
		Action:     domain.AuditActionTransfer,
		EntityType: "transaction",
		EntityID:   txn.ID.String(),
		Old:        oldSnap,
		New:        balanceSnapshot{SenderBalance: newSenderBalance, RecipientBalance: newRecipientBalance},
		Request:    req.Request,
	})
	if err != nil {
		return nil, storageErr(fmt.Errorf("record audit: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, storageErr(fmt.Errorf("commit tx: %w", err))
	}

	s.notifier.TransactionSent(ctx, txn)

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("sender_id", sender.ID.String()).
		Str("recipient_id", recipient.ID.String()).
		Int64("amount", req.Amount).
		Msg("transfer completed")

	return txn, nil
}

// Refund reverses a completed transaction. Each transaction can be
// refunded at most once; the row-locked is_refunded flag enforces this
// under concurrency.
func (s *LedgerServiceImpl) Refund(ctx context.Context, req ports.RefundRequest) (*domain.Transaction, error) {
	if !s.guard.Authorize(ctx, req.ActorID, domain.CapRefundTransactions) {
		return nil, apperror.ErrUnauthorized()
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	// Lock the original row first so concurrent refunds of the same
	// transaction serialize here.
	orig, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, req.TransactionID)
	if err != nil {
		return nil, storageErr(fmt.Errorf("lock original tx: %w", err))
	}
	if orig == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if orig.IsRefunded {
		return nil, apperror.ErrAlreadyRefunded()
	}
	if !orig.IsRefundable() {
		return nil, apperror.ErrNotRefundable()
	}

	// Funds flow back: the original recipient is debited, the original
	// sender is credited.
	sender, recipient, err := s.lockUserPair(ctx, dbTx, orig.SenderID, orig.RecipientID)
	if err != nil {
		return nil, err
	}

	if !recipient.CanSpend(orig.Amount) {
		return nil, apperror.ErrInsufficientFundsForRefund()
	}

	oldSnap := balanceSnapshot{SenderBalance: sender.Balance, RecipientBalance: recipient.Balance}
	newSenderBalance := sender.Balance + orig.Amount
	newRecipientBalance := recipient.Balance - orig.Amount

	if err := s.userRepo.UpdateBalance(ctx, dbTx, recipient.ID, newRecipientBalance); err != nil {
		return nil, storageErr(fmt.Errorf("debit recipient: %w", err))
	}
	if err := s.userRepo.UpdateBalance(ctx, dbTx, sender.ID, newSenderBalance); err != nil {
		return nil, storageErr(fmt.Errorf("credit sender: %w", err))
	}

	now := time.Now().UTC()
	reason := req.Reason
	txn := &domain.Transaction{
		ID:                    uuid.New(),
		SenderID:              recipient.ID,
		RecipientID:           sender.ID,
		Amount:                orig.Amount,
		Currency:              orig.Currency,
		Type:                  domain.TransactionTypeRefund,
		Status:                domain.TransactionStatusCompleted,
		OriginalTransactionID: &orig.ID,
		Reason:                &reason,
		CreatedAt:             now,
		ProcessedAt:           &now,
	}

	if err := s.txRepo.Create(ctx, dbTx, txn); err != nil {
		return nil, storageErr(fmt.Errorf("create refund tx: %w", err))
	}

	// Guarded UPDATE: zero rows affected means another refund won the race.
	if err := s.txRepo.MarkRefunded(ctx, dbTx, orig.ID); err != nil {
		return nil, apperror.ErrAlreadyRefunded()
	}

	err = s.recorder.Record(ctx, dbTx, ports.AuditEntry{
		ActorID:    &req.ActorID,
		Action:     domain.AuditActionRefund,
		EntityType: "transaction",
		EntityID:   txn.ID.String(),
		Old:        oldSnap,
		New:        balanceSnapshot{SenderBalance: newSenderBalance, RecipientBalance: newRecipientBalance},
		Request:    req.Request,
	})
	if err != nil {
		return nil, storageErr(fmt.Errorf("record audit: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, storageErr(fmt.Errorf("commit tx: %w", err))
	}

	s.notifier.TransactionRefunded(ctx, txn)

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("original_tx_id", orig.ID.String()).
		Int64("amount", orig.Amount).
		Msg("refund completed")

	return txn, nil
}

// UpdateStatus transitions a pending transaction to a terminal state.
// Status changes never move balances; only Transfer and Refund touch funds.
func (s *LedgerServiceImpl) UpdateStatus(ctx context.Context, req ports.UpdateStatusRequest) (*domain.Transaction, error) {
	if !s.guard.Authorize(ctx, req.ActorID, domain.CapUpdateTransactions) {
		return nil, apperror.ErrUnauthorized()
	}

	dbTx, err := s.transactor.Begin(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("begin tx: %w", err))
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	txn, err := s.txRepo.GetByIDForUpdate(ctx, dbTx, req.TransactionID)
	if err != nil {
		return nil, storageErr(fmt.Errorf("lock tx: %w", err))
	}
	if txn == nil {
		return nil, apperror.ErrNotFound("transaction")
	}
	if !txn.CanTransitionTo(req.NewStatus) {
		return nil, apperror.ErrInvalidStatusTransition(string(txn.Status), string(req.NewStatus))
	}

	oldStatus := txn.Status
	if err := s.txRepo.UpdateStatus(ctx, dbTx, txn.ID, req.NewStatus); err != nil {
		return nil, storageErr(fmt.Errorf("update status: %w", err))
	}

	err = s.recorder.Record(ctx, dbTx, ports.AuditEntry{
		ActorID:    &req.ActorID,
		Action:     domain.AuditActionStatusChange,
		EntityType: "transaction",
		EntityID:   txn.ID.String(),
		Old:        map[string]string{"status": string(oldStatus)},
		New:        map[string]string{"status": string(req.NewStatus)},
		Request:    req.Request,
	})
	if err != nil {
		return nil, storageErr(fmt.Errorf("record audit: %w", err))
	}

	if err := dbTx.Commit(ctx); err != nil {
		return nil, storageErr(fmt.Errorf("commit tx: %w", err))
	}

	txn.Status = req.NewStatus
	now := time.Now().UTC()
	txn.ProcessedAt = &now

	s.log.Info().
		Str("tx_id", txn.ID.String()).
		Str("from", string(oldStatus)).
		Str("to", string(req.NewStatus)).
		Msg("transaction status updated")

	return txn, nil
}

// lockUserPair acquires FOR UPDATE locks on two user rows in ascending
// UUID order, so concurrent transfers touching the same pair cannot
// deadlock. Returned values keep the caller's (first, second) order.
func (s *LedgerServiceImpl) lockUserPair(ctx context.Context, dbTx pgx.Tx, firstID, secondID uuid.UUID) (*domain.User, *domain.User, error) {
	lockOrder := []uuid.UUID{firstID, secondID}
	if bytes.Compare(secondID[:], firstID[:]) < 0 {
		lockOrder = []uuid.UUID{secondID, firstID}
	}

	locked := make(map[uuid.UUID]*domain.User, 2)
	for _, id := range lockOrder {
		u, err := s.userRepo.GetByIDForUpdate(ctx, dbTx, id)
		if err != nil {
			return nil, nil, storageErr(fmt.Errorf("lock user %s: %w", id, err))
		}
		if u == nil {
			return nil, nil, apperror.ErrNotFound("user")
		}
		locked[id] = u
	}
	return locked[firstID], locked[secondID], nil
}

// storageErr passes structured errors through and wraps everything else
// as an internal storage failure.
func storageErr(err error) *apperror.AppError {
	if appErr, ok := errAsAppError(err); ok {
		return appErr
	}
	return apperror.ErrStorageFailure(err)
}
