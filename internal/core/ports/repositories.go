package ports

import (
	"context"
	"time"

	"balance-platform/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// UserRepository defines persistence operations for users.
// Methods accepting pgx.Tx run inside transaction blocks; the ForUpdate
// variant takes a row-level exclusive lock for the balance protocol.
type UserRepository interface {
	Create(ctx context.Context, tx pgx.Tx, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.User, error)
	UpdateBalance(ctx context.Context, tx pgx.Tx, userID uuid.UUID, newBalance int64) error
	SetPrimaryRole(ctx context.Context, tx pgx.Tx, userID, roleID uuid.UUID) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// TransactionRepository defines persistence operations for ledger transactions.
// Amount is write-once: no update method touches it.
type TransactionRepository interface {
	Create(ctx context.Context, tx pgx.Tx, transaction *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*domain.Transaction, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status domain.TransactionStatus) error
	MarkRefunded(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	// Reporting queries
	List(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	GetStats(ctx context.Context, userID uuid.UUID, periodStart *int64) (*TransactionStats, error)
}

// TransactionListParams holds filter + pagination for listing transactions.
type TransactionListParams struct {
	UserID   uuid.UUID // Matches sender or recipient
	Status   *domain.TransactionStatus
	Type     *domain.TransactionType
	From     *int64 // Unix timestamp
	To       *int64 // Unix timestamp
	Page     int
	PageSize int
}

// TransactionStats holds aggregated statistics for the dashboard.
type TransactionStats struct {
	TotalTransactions int64
	Completed         int64
	Failed            int64
	Cancelled         int64
	TotalSent         int64 // Sum of completed outgoing amounts
	TotalReceived     int64 // Sum of completed incoming amounts
	TotalRefunded     int64 // Sum of completed refund amounts involving the user
}

// RBACRepository defines persistence for roles, permissions and their
// assignments. Mutations accepting pgx.Tx run inside the same atomic unit
// as the audit entry that documents them.
type RBACRepository interface {
	CreateRole(ctx context.Context, tx pgx.Tx, role *domain.Role) error
	GetRoleByID(ctx context.Context, id uuid.UUID) (*domain.Role, error)
	GetRoleBySlug(ctx context.Context, slug string) (*domain.Role, error)
	ListRoles(ctx context.Context) ([]domain.Role, error)
	SetRoleActive(ctx context.Context, tx pgx.Tx, roleID uuid.UUID, active bool) error

	CreatePermission(ctx context.Context, tx pgx.Tx, permission *domain.Permission) error
	GetPermissionByID(ctx context.Context, id uuid.UUID) (*domain.Permission, error)
	GetPermissionByName(ctx context.Context, name string) (*domain.Permission, error)
	GetPermissionBySlug(ctx context.Context, slug string) (*domain.Permission, error)
	ListPermissions(ctx context.Context) ([]domain.Permission, error)

	GrantPermissionToRole(ctx context.Context, tx pgx.Tx, roleID, permissionID uuid.UUID) error
	RevokePermissionFromRole(ctx context.Context, tx pgx.Tx, roleID, permissionID uuid.UUID) error
	GrantPermissionToUser(ctx context.Context, tx pgx.Tx, userID, permissionID uuid.UUID) error
	RevokePermissionFromUser(ctx context.Context, tx pgx.Tx, userID, permissionID uuid.UUID) error
	AssignRoleToUser(ctx context.Context, tx pgx.Tx, userID, roleID uuid.UUID) error
	RemoveRoleFromUser(ctx context.Context, tx pgx.Tx, userID, roleID uuid.UUID) error

	UserRoles(ctx context.Context, userID uuid.UUID) ([]domain.Role, error)
	// UserPermissionNames returns the effective permission names for a user:
	// direct grants plus grants via assigned roles with is_active = true.
	UserPermissionNames(ctx context.Context, userID uuid.UUID) ([]string, error)
}

// AuditRepository defines persistence for the append-only audit trail.
// Create requires the caller's pgx.Tx so the entry commits or rolls back
// with the mutation it records.
type AuditRepository interface {
	Create(ctx context.Context, tx pgx.Tx, entry *domain.AuditLog) error
	List(ctx context.Context, params AuditListParams) ([]domain.AuditLog, int64, error)
}

// AuditListParams holds filters for reading the audit trail.
type AuditListParams struct {
	ActorID    *uuid.UUID
	Action     *domain.AuditAction
	EntityType *string
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
