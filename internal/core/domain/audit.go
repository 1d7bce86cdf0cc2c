package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of audited action.
type AuditAction string

const (
	AuditActionTransfer          AuditAction = "transfer"
	AuditActionRefund            AuditAction = "refund"
	AuditActionStatusChange      AuditAction = "status_change"
	AuditActionRoleCreated       AuditAction = "role_created"
	AuditActionRoleUpdated       AuditAction = "role_updated"
	AuditActionRoleAssigned      AuditAction = "role_assigned"
	AuditActionRoleRevoked       AuditAction = "role_revoked"
	AuditActionPermissionCreated AuditAction = "permission_created"
	AuditActionPermissionGrant   AuditAction = "permission_granted"
	AuditActionPermissionRevoke  AuditAction = "permission_revoked"
	AuditActionRegister          AuditAction = "register"
	AuditActionLogin             AuditAction = "login"
)

// AuditLog is an append-only record of a state change. OldValues and
// NewValues hold JSON snapshots of the mutated entity. Rows are written
// inside the same storage transaction as the mutation they describe and
// are never updated or deleted.
type AuditLog struct {
	ID         uuid.UUID   `json:"id"`
	ActorID    *uuid.UUID  `json:"actor_id,omitempty"` // nil for system-initiated changes
	Action     AuditAction `json:"action"`
	EntityType string      `json:"entity_type"`
	EntityID   string      `json:"entity_id,omitempty"`
	OldValues  []byte      `json:"old_values,omitempty"`
	NewValues  []byte      `json:"new_values,omitempty"`
	IPAddress  string      `json:"ip_address,omitempty"`
	UserAgent  string      `json:"user_agent,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// RequestContext carries per-request metadata into audit entries. It is
// supplied by the transport layer; the core only passes it through.
type RequestContext struct {
	IPAddress string
	UserAgent string
}
