package service

import (
	"context"
	"fmt"
	"time"

	"balance-platform/internal/core/domain"
	"balance-platform/internal/core/ports"
	"balance-platform/pkg/apperror"

	"github.com/google/uuid"
)

// reportingService implements ports.ReportingService. It is the single
// read-only consumer of transaction history and the audit trail.
type reportingService struct {
	txRepo   ports.TransactionRepository
	userRepo ports.UserRepository
	recorder ports.AuditRecorder
	guard    ports.AccessGuard
}

// NewReportingService creates a new reporting service.
func NewReportingService(
	txRepo ports.TransactionRepository,
	userRepo ports.UserRepository,
	recorder ports.AuditRecorder,
	guard ports.AccessGuard,
) ports.ReportingService {
	return &reportingService{
		txRepo:   txRepo,
		userRepo: userRepo,
		recorder: recorder,
		guard:    guard,
	}
}

// GetStats returns aggregated transaction stats for the user.
func (s *reportingService) GetStats(ctx context.Context, userID uuid.UUID, period string) (*ports.TransactionStats, error) {
	var periodStart *int64

	switch period {
	case "day":
		t := time.Now().AddDate(0, 0, -1).Unix()
		periodStart = &t
	case "week":
		t := time.Now().AddDate(0, 0, -7).Unix()
		periodStart = &t
	case "month":
		t := time.Now().AddDate(0, -1, 0).Unix()
		periodStart = &t
	case "all", "":
		// No time filter
	default:
		return nil, apperror.Validation("invalid period: must be day, week, month, or all")
	}

	stats, err := s.txRepo.GetStats(ctx, userID, periodStart)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return stats, nil
}

// ListTransactions returns a paginated list of transactions.
func (s *reportingService) ListTransactions(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 || params.PageSize > 100 {
		params.PageSize = 20
	}
	txns, total, err := s.txRepo.List(ctx, params)
	if err != nil {
		return nil, 0, apperror.InternalError(err)
	}
	return txns, total, nil
}

// ListAuditLogs reads the audit trail. The actor must hold the audit
// viewing capability.
func (s *reportingService) ListAuditLogs(ctx context.Context, actorID uuid.UUID, params ports.AuditListParams) ([]domain.AuditLog, int64, error) {
	if !s.guard.Authorize(ctx, actorID, domain.CapViewAuditLogs) {
		return nil, 0, apperror.ErrUnauthorized()
	}
	return s.recorder.List(ctx, params)
}

// GetBalance returns the current balance and currency for a user.
func (s *reportingService) GetBalance(ctx context.Context, userID uuid.UUID) (int64, string, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return 0, "", apperror.InternalError(fmt.Errorf("find user: %w", err))
	}
	if user == nil {
		return 0, "", apperror.ErrNotFound("user")
	}
	return user.Balance, user.Currency, nil
}
