package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role groups permissions. Level is advisory ordering metadata only: a
// higher level does not imply a superset of lower-level grants, and no
// resolution code consults it.
type Role struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Level     int       `json:"level"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Permission is a named capability. Name and slug are each unique.
// Resource/action are optional classification metadata.
type Permission struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Resource  string    `json:"resource,omitempty"`
	Action    string    `json:"action,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Capability names for the guarded operations. The guard also accepts the
// corresponding slugs (see CapabilitySlugs in migrations seed data).
const (
	CapTransferFunds      = "transfer funds"
	CapRefundTransactions = "refund transactions"
	CapUpdateTransactions = "update transaction status"
	CapManageRoles        = "manage roles"
	CapManagePermissions  = "manage permissions"
	CapViewReports        = "view reports"
	CapViewAuditLogs      = "view audit logs"
)
