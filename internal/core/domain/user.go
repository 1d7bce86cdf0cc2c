package domain

import (
	"time"

	"github.com/google/uuid"
)

// User is a custodial account holder. Balance is carried in minor units
// (two fractional decimal digits per the account currency) and is mutated
// only by the ledger service inside an atomic storage transaction.
type User struct {
	ID            uuid.UUID  `json:"id"`
	Email         string     `json:"email"`
	Name          string     `json:"name"`
	PasswordHash  string     `json:"-"`
	Balance       int64      `json:"balance"` // Minor units, never negative after commit
	Currency      string     `json:"currency"`
	PrimaryRoleID *uuid.UUID `json:"primary_role_id,omitempty"`
	IsActive      bool       `json:"is_active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// CanSpend reports whether the balance covers the given amount.
func (u *User) CanSpend(amount int64) bool {
	return u.Balance >= amount
}
