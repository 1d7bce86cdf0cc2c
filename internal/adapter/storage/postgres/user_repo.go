package postgres

import (
	"context"
	"errors"
	"fmt"

	"balance-platform/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRepo implements ports.UserRepository.
type UserRepo struct {
	pool Pool
}

// NewUserRepo creates a new UserRepo.
func NewUserRepo(pool Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

const userColumns = `id, email, name, password_hash, balance, currency, primary_role_id, is_active, created_at, updated_at`

// Create inserts a new user within a transaction, so registration commits
// or rolls back together with the role assignment and audit entry.
func (r *UserRepo) Create(ctx context.Context, tx pgx.Tx, u *domain.User) error {
	query := `INSERT INTO users (id, email, name, password_hash, balance, currency, primary_role_id, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := tx.Exec(ctx, query,
		u.ID, u.Email, u.Name, u.PasswordHash, u.Balance,
		u.Currency, u.PrimaryRoleID, u.IsActive, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return wrapDBError("insert user", err)
	}
	return nil
}

// GetByID fetches a user by UUID (non-locking read).
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

// GetByEmail fetches a user by email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, email))
}

// GetByIDForUpdate fetches a user with a row-level exclusive lock.
// This MUST be called within a transaction; concurrent balance mutations
// on the same user serialize on this lock.
func (r *UserRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 FOR UPDATE`

	u, err := r.scanUser(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return u, nil
}

// UpdateBalance sets a user's balance within a transaction.
func (r *UserRepo) UpdateBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, newBalance int64) error {
	query := `UPDATE users SET balance = $1, updated_at = NOW() WHERE id = $2`

	tag, err := tx.Exec(ctx, query, newBalance, userID)
	if err != nil {
		return wrapDBError("update user balance", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// SetPrimaryRole sets the user's display role within a transaction.
// The primary role is advisory; effective permissions come from the
// assignment tables.
func (r *UserRepo) SetPrimaryRole(ctx context.Context, tx pgx.Tx, userID, roleID uuid.UUID) error {
	query := `UPDATE users SET primary_role_id = $1, updated_at = NOW() WHERE id = $2`

	tag, err := tx.Exec(ctx, query, roleID, userID)
	if err != nil {
		return wrapDBError("set user primary role", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

// SetActive toggles the user's active flag. Users are never deleted.
func (r *UserRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE users SET is_active = $1, updated_at = NOW() WHERE id = $2`

	tag, err := r.pool.Exec(ctx, query, active, id)
	if err != nil {
		return wrapDBError("set user active", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// scanUser is a helper to scan a single row into a User.
func (r *UserRepo) scanUser(row pgx.Row) (*domain.User, error) {
	u := &domain.User{}
	err := row.Scan(
		&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Balance,
		&u.Currency, &u.PrimaryRoleID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapDBError("scan user", err)
	}
	return u, nil
}
