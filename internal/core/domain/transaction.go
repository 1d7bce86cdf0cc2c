package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionType represents the kind of money movement.
type TransactionType string

const (
	TransactionTypePayment  TransactionType = "payment"
	TransactionTypeTransfer TransactionType = "transfer"
	TransactionTypeRefund   TransactionType = "refund"
)

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// Transaction is a ledger entry for money movement between two users.
// Amount is immutable after creation; only Status and IsRefunded may change.
type Transaction struct {
	ID                    uuid.UUID         `json:"id"`
	SenderID              uuid.UUID         `json:"sender_id"`
	RecipientID           uuid.UUID         `json:"recipient_id"`
	Amount                int64             `json:"amount"` // Minor units, > 0
	Currency              string            `json:"currency"`
	Type                  TransactionType   `json:"type"`
	Status                TransactionStatus `json:"status"`
	Description           *string           `json:"description,omitempty"`
	OriginalTransactionID *uuid.UUID        `json:"original_transaction_id,omitempty"` // Set only on refund rows
	Reason                *string           `json:"reason,omitempty"`                  // Refund rationale
	IsRefunded            bool              `json:"is_refunded"`
	CreatedAt             time.Time         `json:"created_at"`
	ProcessedAt           *time.Time        `json:"processed_at,omitempty"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status == TransactionStatusCompleted ||
		t.Status == TransactionStatusFailed ||
		t.Status == TransactionStatusCancelled
}

// CanTransitionTo reports whether the status may move to the target state.
// Only pending rows transition; terminal statuses are immutable.
func (t *Transaction) CanTransitionTo(target TransactionStatus) bool {
	if t.Status != TransactionStatusPending {
		return false
	}
	switch target {
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled:
		return true
	}
	return false
}

// IsRefundable returns true if this transaction can still be refunded.
func (t *Transaction) IsRefundable() bool {
	return t.Type != TransactionTypeRefund &&
		t.Status == TransactionStatusCompleted &&
		!t.IsRefunded
}
