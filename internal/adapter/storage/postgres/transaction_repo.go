package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"balance-platform/internal/core/domain"
	"balance-platform/internal/core/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// TransactionRepo implements ports.TransactionRepository.
type TransactionRepo struct {
	pool Pool
}

// NewTransactionRepo creates a new TransactionRepo.
func NewTransactionRepo(pool Pool) *TransactionRepo {
	return &TransactionRepo{pool: pool}
}

const transactionColumns = `id, sender_id, recipient_id, amount, currency, type, status,
		description, original_transaction_id, reason, is_refunded, created_at, processed_at`

// Create inserts a new transaction within a database transaction.
func (r *TransactionRepo) Create(ctx context.Context, tx pgx.Tx, t *domain.Transaction) error {
	query := `INSERT INTO transactions (id, sender_id, recipient_id, amount, currency, type, status,
		description, original_transaction_id, reason, is_refunded, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := tx.Exec(ctx, query,
		t.ID, t.SenderID, t.RecipientID, t.Amount, t.Currency,
		t.Type, t.Status, t.Description, t.OriginalTransactionID,
		t.Reason, t.IsRefunded, t.CreatedAt, t.ProcessedAt,
	)
	if err != nil {
		return wrapDBError("insert transaction", err)
	}
	return nil
}

// GetByID fetches a transaction by UUID (non-locking read).
func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.pool.QueryRow(ctx, query, id))
}

// GetByIDForUpdate fetches a transaction with a row-level exclusive lock.
// This MUST be called within a transaction; the refund check-and-set on
// is_refunded serializes on this lock.
func (r *TransactionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	return scanTransaction(tx.QueryRow(ctx, query, id))
}

// UpdateStatus updates a transaction's status within a database transaction.
func (r *TransactionRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus) error {
	now := time.Now().UTC()
	query := `UPDATE transactions SET status = $1, processed_at = $2 WHERE id = $3`

	tag, err := tx.Exec(ctx, query, status, now, id)
	if err != nil {
		return wrapDBError("update transaction status", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction not found: %s", id)
	}
	return nil
}

// MarkRefunded flips the is_refunded flag within a database transaction.
// The row must already be locked via GetByIDForUpdate.
func (r *TransactionRepo) MarkRefunded(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	query := `UPDATE transactions SET is_refunded = TRUE WHERE id = $1 AND is_refunded = FALSE`

	tag, err := tx.Exec(ctx, query, id)
	if err != nil {
		return wrapDBError("mark transaction refunded", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("transaction already refunded or not found: %s", id)
	}
	return nil
}

// List fetches transactions involving a user, with filtering and pagination,
// newest first.
func (r *TransactionRepo) List(ctx context.Context, params ports.TransactionListParams) ([]domain.Transaction, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("(sender_id = $%d OR recipient_id = $%d)", argIdx, argIdx))
	args = append(args, params.UserID)
	argIdx++

	if params.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *params.Status)
		argIdx++
	}
	if params.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, *params.Type)
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= to_timestamp($%d)", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= to_timestamp($%d)", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := "WHERE " + strings.Join(conditions, " AND ")

	// Count total
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM transactions %s", where)
	var total int64
	err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, wrapDBError("count transactions", err)
	}

	// Fetch page
	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT `+transactionColumns+`
		FROM transactions %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, wrapDBError("list transactions", err)
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		t := domain.Transaction{}
		err := rows.Scan(
			&t.ID, &t.SenderID, &t.RecipientID, &t.Amount, &t.Currency,
			&t.Type, &t.Status, &t.Description, &t.OriginalTransactionID,
			&t.Reason, &t.IsRefunded, &t.CreatedAt, &t.ProcessedAt,
		)
		if err != nil {
			return nil, 0, wrapDBError("scan transaction row", err)
		}
		txns = append(txns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, wrapDBError("iterate transaction rows", err)
	}
	return txns, total, nil
}

// GetStats retrieves aggregated transaction statistics for a user.
func (r *TransactionRepo) GetStats(ctx context.Context, userID uuid.UUID, periodStart *int64) (*ports.TransactionStats, error) {
	var args []any
	argIdx := 1

	condition := fmt.Sprintf("(sender_id = $%d OR recipient_id = $%d)", argIdx, argIdx)
	args = append(args, userID)
	argIdx++

	if periodStart != nil {
		condition += fmt.Sprintf(" AND created_at >= to_timestamp($%d)", argIdx)
		args = append(args, *periodStart)
	}

	query := fmt.Sprintf(`SELECT
		COUNT(*) AS total,
		COUNT(*) FILTER (WHERE status = 'completed') AS completed,
		COUNT(*) FILTER (WHERE status = 'failed') AS failed,
		COUNT(*) FILTER (WHERE status = 'cancelled') AS cancelled,
		COALESCE(SUM(amount) FILTER (WHERE sender_id = $1 AND status = 'completed' AND type != 'refund'), 0) AS sent,
		COALESCE(SUM(amount) FILTER (WHERE recipient_id = $1 AND status = 'completed' AND type != 'refund'), 0) AS received,
		COALESCE(SUM(amount) FILTER (WHERE type = 'refund' AND status = 'completed'), 0) AS refunded
		FROM transactions WHERE %s`, condition)

	stats := &ports.TransactionStats{}
	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&stats.TotalTransactions, &stats.Completed, &stats.Failed, &stats.Cancelled,
		&stats.TotalSent, &stats.TotalReceived, &stats.TotalRefunded,
	)
	if err != nil {
		return nil, wrapDBError("get transaction stats", err)
	}
	return stats, nil
}

// scanTransaction is a helper to scan a single row into a Transaction.
func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	t := &domain.Transaction{}
	err := row.Scan(
		&t.ID, &t.SenderID, &t.RecipientID, &t.Amount, &t.Currency,
		&t.Type, &t.Status, &t.Description, &t.OriginalTransactionID,
		&t.Reason, &t.IsRefunded, &t.CreatedAt, &t.ProcessedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapDBError("scan transaction", err)
	}
	return t, nil
}
