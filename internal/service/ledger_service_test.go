package service

import (
	"context"
	"testing"

	"balance-platform/internal/core/domain"
	"balance-platform/internal/core/ports"
	"balance-platform/internal/core/ports/mocks"
	"balance-platform/pkg/apperror"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type ledgerTestDeps struct {
	svc        *LedgerServiceImpl
	userRepo   *mocks.MockUserRepository
	txRepo     *mocks.MockTransactionRepository
	guard      *mocks.MockAccessGuard
	recorder   *mocks.MockAuditRecorder
	notifier   *mocks.MockNotificationService
	transactor *mocks.MockDBTransactor
	ctrl       *gomock.Controller
}

func setupLedgerService(t *testing.T) *ledgerTestDeps {
	ctrl := gomock.NewController(t)
	d := &ledgerTestDeps{
		userRepo:   mocks.NewMockUserRepository(ctrl),
		txRepo:     mocks.NewMockTransactionRepository(ctrl),
		guard:      mocks.NewMockAccessGuard(ctrl),
		recorder:   mocks.NewMockAuditRecorder(ctrl),
		notifier:   mocks.NewMockNotificationService(ctrl),
		transactor: mocks.NewMockDBTransactor(ctrl),
		ctrl:       ctrl,
	}
	d.svc = NewLedgerService(
		d.userRepo, d.txRepo, d.guard, d.recorder,
		d.notifier, d.transactor, zerolog.Nop(),
	)
	return d
}

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

func testUser(id uuid.UUID, balance int64) *domain.User {
	return &domain.User{
		ID:       id,
		Balance:  balance,
		Currency: "USD",
		IsActive: true,
	}
}

// ==================== Transfer Tests ====================

func TestLedgerService_Transfer_Success(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	senderID := uuid.New()
	recipientID := uuid.New()
	tx := &mockTx{}

	req := ports.TransferRequest{
		ActorID:     actorID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Amount:      50000,
		Currency:    "USD",
	}

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapTransferFunds).Return(true)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.userRepo.EXPECT().GetByIDForUpdate(ctx, tx, senderID).Return(testUser(senderID, 100000), nil)
	d.userRepo.EXPECT().GetByIDForUpdate(ctx, tx, recipientID).Return(testUser(recipientID, 20000), nil)
	d.userRepo.EXPECT().UpdateBalance(ctx, tx, senderID, int64(50000)).Return(nil)
	d.userRepo.EXPECT().UpdateBalance(ctx, tx, recipientID, int64(70000)).Return(nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.recorder.EXPECT().Record(ctx, tx, gomock.Any()).Return(nil)
	d.notifier.EXPECT().TransactionSent(ctx, gomock.Any())

	result, err := d.svc.Transfer(ctx, req)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, domain.TransactionTypeTransfer, result.Type)
	assert.Equal(t, domain.TransactionStatusCompleted, result.Status)
	assert.Equal(t, int64(50000), result.Amount)
	assert.Equal(t, senderID, result.SenderID)
	assert.Equal(t, recipientID, result.RecipientID)
	assert.NotNil(t, result.ProcessedAt)
}

func TestLedgerService_Transfer_EmptyCurrencyUsesSenderCurrency(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	senderID := uuid.New()
	recipientID := uuid.New()
	tx := &mockTx{}

	sender := testUser(senderID, 10000)
	sender.Currency = "EUR"
	recipient := testUser(recipientID, 0)
	recipient.Currency = "EUR"

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapTransferFunds).Return(true)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.userRepo.EXPECT().GetByIDForUpdate(ctx, tx, senderID).Return(sender, nil)
	d.userRepo.EXPECT().GetByIDForUpdate(ctx, tx, recipientID).Return(recipient, nil)
	d.userRepo.EXPECT().UpdateBalance(ctx, tx, senderID, int64(9000)).Return(nil)
	d.userRepo.EXPECT().UpdateBalance(ctx, tx, recipientID, int64(1000)).Return(nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.recorder.EXPECT().Record(ctx, tx, gomock.Any()).Return(nil)
	d.notifier.EXPECT().TransactionSent(ctx, gomock.Any())

	result, err := d.svc.Transfer(ctx, ports.TransferRequest{
		ActorID:     actorID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Amount:      1000,
	})
	require.NoError(t, err)
	assert.Equal(t, "EUR", result.Currency)
}

func TestLedgerService_Transfer_Unauthorized(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapTransferFunds).Return(false)

	result, err := d.svc.Transfer(ctx, ports.TransferRequest{
		ActorID:     actorID,
		SenderID:    uuid.New(),
		RecipientID: uuid.New(),
		Amount:      100,
	})
	assert.Nil(t, result)
	assertAppError(t, err, "ACL_001")
}

func TestLedgerService_Transfer_InvalidAmount(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapTransferFunds).Return(true).Times(2)

	for _, amount := range []int64{0, -500} {
		result, err := d.svc.Transfer(ctx, ports.TransferRequest{
			ActorID:     actorID,
			SenderID:    uuid.New(),
			RecipientID: uuid.New(),
			Amount:      amount,
		})
		assert.Nil(t, result)
		assertAppError(t, err, "LED_005")
	}
}

func TestLedgerService_Transfer_SelfTransfer(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	userID := uuid.New()

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapTransferFunds).Return(true)

	result, err := d.svc.Transfer(ctx, ports.TransferRequest{
		ActorID:     actorID,
		SenderID:    userID,
		RecipientID: userID,
		Amount:      100,
	})
	assert.Nil(t, result)
	assertAppError(t, err, "LED_007")
}

func TestLedgerService_Transfer_InsufficientFunds(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	senderID := uuid.New()
	recipientID := uuid.New()
	tx := &mockTx{}

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapTransferFunds).Return(true)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.userRepo.EXPECT().GetByIDForUpdate(ctx, tx, senderID).Return(testUser(senderID, 100), nil)
	d.userRepo.EXPECT().GetByIDForUpdate(ctx, tx, recipientID).Return(testUser(recipientID, 0), nil)

	result, err := d.svc.Transfer(ctx, ports.TransferRequest{
		ActorID:     actorID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Amount:      101,
	})
	assert.Nil(t, result)
	assertAppError(t, err, "LED_001")
}

func TestLedgerService_Transfer_ExactBalance(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	senderID := uuid.New()
	recipientID := uuid.New()
	tx := &mockTx{}

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapTransferFunds).Return(true)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.userRepo.EXPECT().GetByIDForUpdate(ctx, tx, senderID).Return(testUser(senderID, 100), nil)
	d.userRepo.EXPECT().GetByIDForUpdate(ctx, tx, recipientID).Return(testUser(recipientID, 0), nil)
	d.userRepo.EXPECT().UpdateBalance(ctx, tx, senderID, int64(0)).Return(nil)
	d.userRepo.EXPECT().UpdateBalance(ctx, tx, recipientID, int64(100)).Return(nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.recorder.EXPECT().Record(ctx, tx, gomock.Any()).Return(nil)
	d.notifier.EXPECT().TransactionSent(ctx, gomock.Any())

	// Spending the entire balance is allowed; balance lands on zero.
	result, err := d.svc.Transfer(ctx, ports.TransferRequest{
		ActorID:     actorID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Amount:      100,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(100), result.Amount)
}

func TestLedgerService_Transfer_CurrencyMismatch(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	senderID := uuid.New()
	recipientID := uuid.New()
	tx := &mockTx{}

	recipient := testUser(recipientID, 0)
	recipient.Currency = "EUR"

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapTransferFunds).Return(true)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.userRepo.EXPECT().GetByIDForUpdate(ctx, tx, senderID).Return(testUser(senderID, 100000), nil)
	d.userRepo.EXPECT().GetByIDForUpdate(ctx, tx, recipientID).Return(recipient, nil)

	result, err := d.svc.Transfer(ctx, ports.TransferRequest{
		ActorID:     actorID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Amount:      100,
	})
	assert.Nil(t, result)
	assertAppError(t, err, "LED_006")
}

func TestLedgerService_Transfer_SenderNotFound(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	senderID := uuid.New()
	recipientID := uuid.New()
	tx := &mockTx{}

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapTransferFunds).Return(true)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.userRepo.EXPECT().GetByIDForUpdate(ctx, tx, gomock.Any()).Return(nil, nil)
	d.userRepo.EXPECT().GetByIDForUpdate(ctx, tx, gomock.Any()).Return(testUser(recipientID, 0), nil).AnyTimes()

	result, err := d.svc.Transfer(ctx, ports.TransferRequest{
		ActorID:     actorID,
		SenderID:    senderID,
		RecipientID: recipientID,
		Amount:      100,
	})
	assert.Nil(t, result)
	assertAppError(t, err, "LED_008")
}

// ==================== Refund Tests ====================

func refundableTransaction(senderID, recipientID uuid.UUID, amount int64) *domain.Transaction {
	return &domain.Transaction{
		ID:          uuid.New(),
		SenderID:    senderID,
		RecipientID: recipientID,
		Amount:      amount,
		Currency:    "USD",
		Type:        domain.TransactionTypeTransfer,
		Status:      domain.TransactionStatusCompleted,
	}
}

func TestLedgerService_Refund_Success(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	senderID := uuid.New()
	recipientID := uuid.New()
	tx := &mockTx{}

	orig := refundableTransaction(senderID, recipientID, 30000)

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapRefundTransactions).Return(true)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().GetByIDForUpdate(ctx, tx, orig.ID).Return(orig, nil)
	d.userRepo.EXPECT().GetByIDForUpdate(ctx, tx, senderID).Return(testUser(senderID, 70000), nil)
	d.userRepo.EXPECT().GetByIDForUpdate(ctx, tx, recipientID).Return(testUser(recipientID, 30000), nil)
	d.userRepo.EXPECT().UpdateBalance(ctx, tx, recipientID, int64(0)).Return(nil)
	d.userRepo.EXPECT().UpdateBalance(ctx, tx, senderID, int64(100000)).Return(nil)
	d.txRepo.EXPECT().Create(ctx, tx, gomock.Any()).Return(nil)
	d.txRepo.EXPECT().MarkRefunded(ctx, tx, orig.ID).Return(nil)
	d.recorder.EXPECT().Record(ctx, tx, gomock.Any()).Return(nil)
	d.notifier.EXPECT().TransactionRefunded(ctx, gomock.Any())

	result, err := d.svc.Refund(ctx, ports.RefundRequest{
		ActorID:       actorID,
		TransactionID: orig.ID,
		Reason:        "customer request",
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, domain.TransactionTypeRefund, result.Type)
	assert.Equal(t, domain.TransactionStatusCompleted, result.Status)
	assert.Equal(t, int64(30000), result.Amount)
	// Funds flow back: original recipient becomes the refund's sender.
	assert.Equal(t, recipientID, result.SenderID)
	assert.Equal(t, senderID, result.RecipientID)
	require.NotNil(t, result.OriginalTransactionID)
	assert.Equal(t, orig.ID, *result.OriginalTransactionID)
	require.NotNil(t, result.Reason)
	assert.Equal(t, "customer request", *result.Reason)
}

func TestLedgerService_Refund_AlreadyRefunded(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	tx := &mockTx{}

	orig := refundableTransaction(uuid.New(), uuid.New(), 100)
	orig.IsRefunded = true

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapRefundTransactions).Return(true)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().GetByIDForUpdate(ctx, tx, orig.ID).Return(orig, nil)

	result, err := d.svc.Refund(ctx, ports.RefundRequest{
		ActorID:       actorID,
		TransactionID: orig.ID,
	})
	assert.Nil(t, result)
	assertAppError(t, err, "LED_002")
}

func TestLedgerService_Refund_NotRefundable(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	tx := &mockTx{}

	orig := refundableTransaction(uuid.New(), uuid.New(), 100)
	orig.Status = domain.TransactionStatusPending

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapRefundTransactions).Return(true)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().GetByIDForUpdate(ctx, tx, orig.ID).Return(orig, nil)

	result, err := d.svc.Refund(ctx, ports.RefundRequest{
		ActorID:       actorID,
		TransactionID: orig.ID,
	})
	assert.Nil(t, result)
	assertAppError(t, err, "LED_009")
}

func TestLedgerService_Refund_RefundOfRefund(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	tx := &mockTx{}

	orig := refundableTransaction(uuid.New(), uuid.New(), 100)
	orig.Type = domain.TransactionTypeRefund

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapRefundTransactions).Return(true)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().GetByIDForUpdate(ctx, tx, orig.ID).Return(orig, nil)

	result, err := d.svc.Refund(ctx, ports.RefundRequest{
		ActorID:       actorID,
		TransactionID: orig.ID,
	})
	assert.Nil(t, result)
	assertAppError(t, err, "LED_009")
}

func TestLedgerService_Refund_NotFound(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	txID := uuid.New()
	tx := &mockTx{}

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapRefundTransactions).Return(true)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().GetByIDForUpdate(ctx, tx, txID).Return(nil, nil)

	result, err := d.svc.Refund(ctx, ports.RefundRequest{
		ActorID:       actorID,
		TransactionID: txID,
	})
	assert.Nil(t, result)
	assertAppError(t, err, "LED_008")
}

func TestLedgerService_Refund_RecipientCannotCover(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	senderID := uuid.New()
	recipientID := uuid.New()
	tx := &mockTx{}

	orig := refundableTransaction(senderID, recipientID, 30000)

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapRefundTransactions).Return(true)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().GetByIDForUpdate(ctx, tx, orig.ID).Return(orig, nil)
	d.userRepo.EXPECT().GetByIDForUpdate(ctx, tx, senderID).Return(testUser(senderID, 70000), nil)
	// Recipient spent the money already.
	d.userRepo.EXPECT().GetByIDForUpdate(ctx, tx, recipientID).Return(testUser(recipientID, 29999), nil)

	result, err := d.svc.Refund(ctx, ports.RefundRequest{
		ActorID:       actorID,
		TransactionID: orig.ID,
	})
	assert.Nil(t, result)
	assertAppError(t, err, "LED_003")
}

func TestLedgerService_Refund_Unauthorized(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapRefundTransactions).Return(false)

	result, err := d.svc.Refund(ctx, ports.RefundRequest{
		ActorID:       actorID,
		TransactionID: uuid.New(),
	})
	assert.Nil(t, result)
	assertAppError(t, err, "ACL_001")
}

// ==================== UpdateStatus Tests ====================

func TestLedgerService_UpdateStatus_PendingToCompleted(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	tx := &mockTx{}

	txn := refundableTransaction(uuid.New(), uuid.New(), 100)
	txn.Status = domain.TransactionStatusPending

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapUpdateTransactions).Return(true)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().GetByIDForUpdate(ctx, tx, txn.ID).Return(txn, nil)
	d.txRepo.EXPECT().UpdateStatus(ctx, tx, txn.ID, domain.TransactionStatusCompleted).Return(nil)
	d.recorder.EXPECT().Record(ctx, tx, gomock.Any()).Return(nil)

	result, err := d.svc.UpdateStatus(ctx, ports.UpdateStatusRequest{
		ActorID:       actorID,
		TransactionID: txn.ID,
		NewStatus:     domain.TransactionStatusCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, result.Status)
}

func TestLedgerService_UpdateStatus_TerminalIsImmutable(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	tx := &mockTx{}

	txn := refundableTransaction(uuid.New(), uuid.New(), 100)
	txn.Status = domain.TransactionStatusCompleted

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapUpdateTransactions).Return(true)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().GetByIDForUpdate(ctx, tx, txn.ID).Return(txn, nil)

	result, err := d.svc.UpdateStatus(ctx, ports.UpdateStatusRequest{
		ActorID:       actorID,
		TransactionID: txn.ID,
		NewStatus:     domain.TransactionStatusCancelled,
	})
	assert.Nil(t, result)
	assertAppError(t, err, "LED_004")
}

func TestLedgerService_UpdateStatus_AuditFailureAborts(t *testing.T) {
	d := setupLedgerService(t)
	defer d.ctrl.Finish()

	ctx := context.Background()
	actorID := uuid.New()
	tx := &mockTx{}

	txn := refundableTransaction(uuid.New(), uuid.New(), 100)
	txn.Status = domain.TransactionStatusPending

	d.guard.EXPECT().Authorize(ctx, actorID, domain.CapUpdateTransactions).Return(true)
	d.transactor.EXPECT().Begin(ctx).Return(tx, nil)
	d.txRepo.EXPECT().GetByIDForUpdate(ctx, tx, txn.ID).Return(txn, nil)
	d.txRepo.EXPECT().UpdateStatus(ctx, tx, txn.ID, domain.TransactionStatusFailed).Return(nil)
	d.recorder.EXPECT().Record(ctx, tx, gomock.Any()).Return(assert.AnError)

	result, err := d.svc.UpdateStatus(ctx, ports.UpdateStatusRequest{
		ActorID:       actorID,
		TransactionID: txn.ID,
		NewStatus:     domain.TransactionStatusFailed,
	})
	assert.Nil(t, result)
	assertAppError(t, err, "SYS_001")
}

// ==================== Helper ====================

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}
