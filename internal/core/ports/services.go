package ports

import (
	"context"
	"time"

	"balance-platform/internal/core/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AccessGuard answers "does this actor hold this capability".
// The capability may be a canonical permission name or a slug. The guard
// is a pure read-time decision: it never mutates state and never returns
// an error to the caller — every failure path yields false.
type AccessGuard interface {
	Authorize(ctx context.Context, actorID uuid.UUID, capability string) bool
}

// AuditRecorder appends immutable audit entries. Record must be called
// with the pgx.Tx of the mutation it documents; if the entry cannot be
// written the caller's transaction must roll back.
type AuditRecorder interface {
	Record(ctx context.Context, tx pgx.Tx, entry AuditEntry) error
	List(ctx context.Context, params AuditListParams) ([]domain.AuditLog, int64, error)
}

// AuditEntry is the recorder input. Old and New are marshaled to JSON
// snapshots; either may be nil.
type AuditEntry struct {
	ActorID    *uuid.UUID
	Action     domain.AuditAction
	EntityType string
	EntityID   string
	Old        any
	New        any
	Request    domain.RequestContext
}

// PermissionCache caches effective permission sets per user.
type PermissionCache interface {
	// Get returns the cached set and true, or nil and false on miss.
	Get(ctx context.Context, userID uuid.UUID) ([]string, bool, error)
	Set(ctx context.Context, userID uuid.UUID, permissions []string, ttl time.Duration) error
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

// --- Service Ports (Business Logic) ---

// LedgerService owns balance mutations and transaction lifecycle.
type LedgerService interface {
	Transfer(ctx context.Context, req TransferRequest) (*domain.Transaction, error)
	Refund(ctx context.Context, req RefundRequest) (*domain.Transaction, error)
	UpdateStatus(ctx context.Context, req UpdateStatusRequest) (*domain.Transaction, error)
}

// TransferRequest holds validated input for a balance transfer.
// Currency is optional: empty means the sender's account currency, and a
// non-empty value must match it. Sender and recipient currencies must
// agree either way.
type TransferRequest struct {
	ActorID     uuid.UUID
	SenderID    uuid.UUID
	RecipientID uuid.UUID
	Amount      int64
	Currency    string
	Description *string
	Request     domain.RequestContext
}

// RefundRequest holds validated input for refunding a completed transaction.
type RefundRequest struct {
	ActorID       uuid.UUID
	TransactionID uuid.UUID
	Reason        string
	Request       domain.RequestContext
}

// UpdateStatusRequest holds validated input for a status transition.
type UpdateStatusRequest struct {
	ActorID       uuid.UUID
	TransactionID uuid.UUID
	NewStatus     domain.TransactionStatus
	Request       domain.RequestContext
}

// RBACService manages roles, permissions and assignments. Every mutation
// is audited in the same atomic unit.
type RBACService interface {
	CreateRole(ctx context.Context, req CreateRoleRequest) (*domain.Role, error)
	SetRoleActive(ctx context.Context, req SetRoleActiveRequest) error
	ListRoles(ctx context.Context) ([]domain.Role, error)
	CreatePermission(ctx context.Context, req CreatePermissionRequest) (*domain.Permission, error)
	ListPermissions(ctx context.Context) ([]domain.Permission, error)
	GrantPermission(ctx context.Context, req GrantPermissionRequest) error
	RevokePermission(ctx context.Context, req GrantPermissionRequest) error
	AssignRole(ctx context.Context, req AssignRoleRequest) error
	RevokeRole(ctx context.Context, req AssignRoleRequest) error
}

// CreateRoleRequest holds input for role creation.
type CreateRoleRequest struct {
	ActorID uuid.UUID
	Name    string
	Slug    string
	Level   int
	Request domain.RequestContext
}

// SetRoleActiveRequest toggles a role's active flag.
type SetRoleActiveRequest struct {
	ActorID uuid.UUID
	RoleID  uuid.UUID
	Active  bool
	Request domain.RequestContext
}

// CreatePermissionRequest holds input for permission creation.
type CreatePermissionRequest struct {
	ActorID  uuid.UUID
	Name     string
	Slug     string
	Resource string
	Action   string
	Request  domain.RequestContext
}

// GrantPermissionRequest links a permission to a role or directly to a user.
// Exactly one of RoleID / UserID is set.
type GrantPermissionRequest struct {
	ActorID      uuid.UUID
	PermissionID uuid.UUID
	RoleID       *uuid.UUID
	UserID       *uuid.UUID
	Request      domain.RequestContext
}

// AssignRoleRequest links a role to a user.
type AssignRoleRequest struct {
	ActorID uuid.UUID
	UserID  uuid.UUID
	RoleID  uuid.UUID
	Primary bool
	Request domain.RequestContext
}

// ReportingService is the read-only consumer of transaction and audit history.
type ReportingService interface {
	GetStats(ctx context.Context, userID uuid.UUID, period string) (*TransactionStats, error)
	ListTransactions(ctx context.Context, params TransactionListParams) ([]domain.Transaction, int64, error)
	ListAuditLogs(ctx context.Context, actorID uuid.UUID, params AuditListParams) ([]domain.AuditLog, int64, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (int64, string, error)
}

// NotificationService is the post-commit dispatch hook. Implementations
// deliver best-effort: a delivery failure never propagates to the ledger.
type NotificationService interface {
	TransactionSent(ctx context.Context, transaction *domain.Transaction)
	TransactionRefunded(ctx context.Context, transaction *domain.Transaction)
}

// AuthService defines the registration/login surface.
type AuthService interface {
	Register(ctx context.Context, req RegisterRequest) (*domain.User, error)
	Login(ctx context.Context, email, password string) (string, time.Time, error) // token, expiry, error
}

// RegisterRequest holds input for user registration.
type RegisterRequest struct {
	Email    string
	Password string
	Name     string
	Currency string
	Request  domain.RequestContext
}

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(userID uuid.UUID) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	UserID uuid.UUID
}

// HashService handles password hashing (Argon2id).
type HashService interface {
	Hash(password string) (string, error)
	Verify(password string, hash string) (bool, error)
}
