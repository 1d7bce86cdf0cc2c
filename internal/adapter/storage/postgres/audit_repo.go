package postgres

import (
	"context"
	"fmt"
	"strings"

	"balance-platform/internal/core/domain"
	"balance-platform/internal/core/ports"

	"github.com/jackc/pgx/v5"
)

// AuditRepo implements ports.AuditRepository. Rows are append-only:
// there is no update or delete path.
type AuditRepo struct {
	pool Pool
}

// NewAuditRepo creates a PostgreSQL-backed AuditRepository.
func NewAuditRepo(pool Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Create inserts an audit entry within the caller's database transaction,
// so the entry commits or rolls back with the mutation it records.
func (r *AuditRepo) Create(ctx context.Context, tx pgx.Tx, entry *domain.AuditLog) error {
	query := `INSERT INTO audit_logs (id, actor_id, action, entity_type, entity_id, old_values, new_values, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := tx.Exec(ctx, query,
		entry.ID, entry.ActorID, string(entry.Action), entry.EntityType,
		entry.EntityID, entry.OldValues, entry.NewValues,
		entry.IPAddress, entry.UserAgent, entry.CreatedAt,
	)
	if err != nil {
		return wrapDBError("insert audit log", err)
	}
	return nil
}

// List fetches audit entries with filtering and pagination, ordered by
// creation time ascending.
func (r *AuditRepo) List(ctx context.Context, params ports.AuditListParams) ([]domain.AuditLog, int64, error) {
	var conditions []string
	var args []any
	argIdx := 1

	if params.ActorID != nil {
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", argIdx))
		args = append(args, *params.ActorID)
		argIdx++
	}
	if params.Action != nil {
		conditions = append(conditions, fmt.Sprintf("action = $%d", argIdx))
		args = append(args, string(*params.Action))
		argIdx++
	}
	if params.EntityType != nil {
		conditions = append(conditions, fmt.Sprintf("entity_type = $%d", argIdx))
		args = append(args, *params.EntityType)
		argIdx++
	}
	if params.From != nil {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIdx))
		args = append(args, *params.From)
		argIdx++
	}
	if params.To != nil {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIdx))
		args = append(args, *params.To)
		argIdx++
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_logs %s", where)
	var total int64
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, wrapDBError("count audit logs", err)
	}

	offset := (params.Page - 1) * params.PageSize
	dataQuery := fmt.Sprintf(`SELECT id, actor_id, action, entity_type, entity_id, old_values, new_values, ip_address, user_agent, created_at
		FROM audit_logs %s ORDER BY created_at ASC LIMIT $%d OFFSET $%d`, where, argIdx, argIdx+1)
	args = append(args, params.PageSize, offset)

	rows, err := r.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, wrapDBError("list audit logs", err)
	}
	defer rows.Close()

	var entries []domain.AuditLog
	for rows.Next() {
		e := domain.AuditLog{}
		var action string
		err := rows.Scan(
			&e.ID, &e.ActorID, &action, &e.EntityType, &e.EntityID,
			&e.OldValues, &e.NewValues, &e.IPAddress, &e.UserAgent, &e.CreatedAt,
		)
		if err != nil {
			return nil, 0, wrapDBError("scan audit log row", err)
		}
		e.Action = domain.AuditAction(action)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, wrapDBError("iterate audit log rows", err)
	}
	return entries, total, nil
}
