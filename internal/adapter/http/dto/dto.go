package dto

import (
	"time"

	"balance-platform/internal/core/domain"
)

// RegisterRequest is the request body for user registration.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email,max=255"`
	Password string `json:"password" binding:"required,min=8,max=128"`
	Name     string `json:"name" binding:"required,min=1,max=100"`
	Currency string `json:"currency" binding:"omitempty,len=3"`
}

// LoginRequest is the request body for user login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RegisterResponse is the response body for successful registration.
type RegisterResponse struct {
	UserID   string `json:"user_id"`
	Email    string `json:"email"`
	Currency string `json:"currency"`
}

// LoginResponse is the response body for successful login.
type LoginResponse struct {
	Token  string `json:"token"`
	Expiry int64  `json:"expiry"` // Unix timestamp
}

// TransferRequest is the request body for a balance transfer.
type TransferRequest struct {
	RecipientID string  `json:"recipient_id" binding:"required,uuid"`
	Amount      int64   `json:"amount" binding:"required,gt=0"`
	Currency    string  `json:"currency" binding:"omitempty,len=3"`
	Description *string `json:"description,omitempty" binding:"omitempty,max=500"`
}

// RefundRequest is the request body for refunding a transaction.
type RefundRequest struct {
	TransactionID string `json:"transaction_id" binding:"required,uuid"`
	Reason        string `json:"reason" binding:"required,max=500"`
}

// UpdateStatusRequest is the request body for a status transition.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=completed failed cancelled"`
}

// TransactionResponse is the response body for transaction results.
type TransactionResponse struct {
	ID                    string  `json:"id"`
	SenderID              string  `json:"sender_id"`
	RecipientID           string  `json:"recipient_id"`
	Amount                int64   `json:"amount"`
	Currency              string  `json:"currency"`
	Type                  string  `json:"type"`
	Status                string  `json:"status"`
	Description           *string `json:"description,omitempty"`
	OriginalTransactionID *string `json:"original_transaction_id,omitempty"`
	Reason                *string `json:"reason,omitempty"`
	IsRefunded            bool    `json:"is_refunded"`
	CreatedAt             string  `json:"created_at"`
	ProcessedAt           *string `json:"processed_at,omitempty"`
}

// NewTransactionResponse maps a domain transaction to its response shape.
func NewTransactionResponse(txn *domain.Transaction) TransactionResponse {
	resp := TransactionResponse{
		ID:          txn.ID.String(),
		SenderID:    txn.SenderID.String(),
		RecipientID: txn.RecipientID.String(),
		Amount:      txn.Amount,
		Currency:    txn.Currency,
		Type:        string(txn.Type),
		Status:      string(txn.Status),
		Description: txn.Description,
		Reason:      txn.Reason,
		IsRefunded:  txn.IsRefunded,
		CreatedAt:   txn.CreatedAt.Format(time.RFC3339),
	}
	if txn.OriginalTransactionID != nil {
		id := txn.OriginalTransactionID.String()
		resp.OriginalTransactionID = &id
	}
	if txn.ProcessedAt != nil {
		ts := txn.ProcessedAt.Format(time.RFC3339)
		resp.ProcessedAt = &ts
	}
	return resp
}

// BalanceResponse is the response for a balance query.
type BalanceResponse struct {
	Balance  int64  `json:"balance"`
	Currency string `json:"currency"`
}

// StatsResponse is the response for dashboard statistics.
type StatsResponse struct {
	TotalTransactions int64 `json:"total_transactions"`
	Completed         int64 `json:"completed"`
	Failed            int64 `json:"failed"`
	Cancelled         int64 `json:"cancelled"`
	TotalSent         int64 `json:"total_sent"`
	TotalReceived     int64 `json:"total_received"`
	TotalRefunded     int64 `json:"total_refunded"`
}

// TransactionListResponse wraps a paginated transaction list.
type TransactionListResponse struct {
	Items      []TransactionResponse `json:"items"`
	Total      int64                 `json:"total"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
	TotalPages int                   `json:"total_pages"`
}

// AuditLogResponse is a single audit trail entry.
type AuditLogResponse struct {
	ID         string  `json:"id"`
	ActorID    *string `json:"actor_id,omitempty"`
	Action     string  `json:"action"`
	EntityType string  `json:"entity_type"`
	EntityID   string  `json:"entity_id"`
	OldValues  string  `json:"old_values,omitempty"`
	NewValues  string  `json:"new_values,omitempty"`
	IPAddress  string  `json:"ip_address,omitempty"`
	UserAgent  string  `json:"user_agent,omitempty"`
	CreatedAt  string  `json:"created_at"`
}

// NewAuditLogResponse maps a domain audit log to its response shape.
func NewAuditLogResponse(log *domain.AuditLog) AuditLogResponse {
	resp := AuditLogResponse{
		ID:         log.ID.String(),
		Action:     string(log.Action),
		EntityType: log.EntityType,
		EntityID:   log.EntityID,
		OldValues:  string(log.OldValues),
		NewValues:  string(log.NewValues),
		IPAddress:  log.IPAddress,
		UserAgent:  log.UserAgent,
		CreatedAt:  log.CreatedAt.Format(time.RFC3339),
	}
	if log.ActorID != nil {
		id := log.ActorID.String()
		resp.ActorID = &id
	}
	return resp
}

// AuditLogListResponse wraps a paginated audit trail page.
type AuditLogListResponse struct {
	Items      []AuditLogResponse `json:"items"`
	Total      int64              `json:"total"`
	Page       int                `json:"page"`
	PageSize   int                `json:"page_size"`
	TotalPages int                `json:"total_pages"`
}

// CreateRoleRequest is the request body for role creation.
type CreateRoleRequest struct {
	Name  string `json:"name" binding:"required,min=1,max=100"`
	Slug  string `json:"slug" binding:"required,safe_id,max=100"`
	Level int    `json:"level" binding:"gte=0,lte=1000"`
}

// SetRoleActiveRequest toggles a role's active flag.
type SetRoleActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// RoleResponse is a single role.
type RoleResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Level    int    `json:"level"`
	IsActive bool   `json:"is_active"`
}

// NewRoleResponse maps a domain role to its response shape.
func NewRoleResponse(role *domain.Role) RoleResponse {
	return RoleResponse{
		ID:       role.ID.String(),
		Name:     role.Name,
		Slug:     role.Slug,
		Level:    role.Level,
		IsActive: role.IsActive,
	}
}

// CreatePermissionRequest is the request body for permission creation.
type CreatePermissionRequest struct {
	Name     string `json:"name" binding:"required,min=1,max=100"`
	Slug     string `json:"slug" binding:"required,safe_id,max=100"`
	Resource string `json:"resource" binding:"omitempty,max=100"`
	Action   string `json:"action" binding:"omitempty,max=100"`
}

// PermissionResponse is a single permission.
type PermissionResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Slug     string `json:"slug"`
	Resource string `json:"resource,omitempty"`
	Action   string `json:"action,omitempty"`
}

// NewPermissionResponse maps a domain permission to its response shape.
func NewPermissionResponse(perm *domain.Permission) PermissionResponse {
	return PermissionResponse{
		ID:       perm.ID.String(),
		Name:     perm.Name,
		Slug:     perm.Slug,
		Resource: perm.Resource,
		Action:   perm.Action,
	}
}

// GrantPermissionRequest links a permission to a role or a user.
// Exactly one of RoleID / UserID must be set; the service enforces it.
type GrantPermissionRequest struct {
	PermissionID string  `json:"permission_id" binding:"required,uuid"`
	RoleID       *string `json:"role_id,omitempty" binding:"omitempty,uuid"`
	UserID       *string `json:"user_id,omitempty" binding:"omitempty,uuid"`
}

// AssignRoleRequest links a role to a user.
type AssignRoleRequest struct {
	UserID  string `json:"user_id" binding:"required,uuid"`
	RoleID  string `json:"role_id" binding:"required,uuid"`
	Primary bool   `json:"primary"`
}
