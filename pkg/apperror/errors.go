package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Access Control (ACL) ----

func ErrUnauthorized() *AppError {
	return New("ACL_001", "Actor lacks the required capability", http.StatusForbidden)
}

// ---- Ledger Business Logic (LED) ----

func ErrInsufficientFunds() *AppError {
	return New("LED_001", "Insufficient balance for transfer", http.StatusPaymentRequired)
}

func ErrAlreadyRefunded() *AppError {
	return New("LED_002", "Transaction has already been refunded", http.StatusConflict)
}

func ErrInsufficientFundsForRefund() *AppError {
	return New("LED_003", "Recipient balance insufficient to cover refund", http.StatusPaymentRequired)
}

func ErrInvalidStatusTransition(from, to string) *AppError {
	return New("LED_004", fmt.Sprintf("Status transition %s -> %s is not allowed", from, to), http.StatusConflict)
}

func ErrInvalidAmount() *AppError {
	return New("LED_005", "Invalid amount", http.StatusBadRequest)
}

func ErrCurrencyMismatch() *AppError {
	return New("LED_006", "Sender and recipient currencies do not match", http.StatusBadRequest)
}

func ErrSelfTransfer() *AppError {
	return New("LED_007", "Sender and recipient must differ", http.StatusBadRequest)
}

func ErrNotFound(entity string) *AppError {
	return New("LED_008", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

func ErrNotRefundable() *AppError {
	return New("LED_009", "Original transaction not eligible for refund", http.StatusBadRequest)
}

// ---- Role & Permission Management (RBAC) ----

func ErrDuplicateSlug(entity string) *AppError {
	return New("RBAC_001", fmt.Sprintf("%s slug already exists", entity), http.StatusConflict)
}

func ErrRoleInactive() *AppError {
	return New("RBAC_002", "Role is inactive", http.StatusConflict)
}

// ---- Authentication (AUTH) ----

func ErrInvalidCredentials() *AppError {
	return New("AUTH_001", "Invalid credentials", http.StatusUnauthorized)
}

func ErrEmailExists() *AppError {
	return New("AUTH_002", "Email already registered", http.StatusConflict)
}

func ErrInvalidToken() *AppError {
	return New("AUTH_003", "Invalid or expired token", http.StatusUnauthorized)
}

func ErrAccountDeactivated() *AppError {
	return New("AUTH_004", "Account is deactivated", http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrStorageFailure(err error) *AppError {
	return Wrap("SYS_001", "Internal storage error", http.StatusInternalServerError, err)
}

func ErrConcurrencyConflict(err error) *AppError {
	return Wrap("SYS_002", "Concurrent modification conflict, retry may succeed", http.StatusConflict, err)
}

// InternalError wraps an internal error as a SYS_001 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

// Validation returns a LED_005-style validation error with a custom message.
func Validation(message string) *AppError {
	return New("LED_005", message, http.StatusBadRequest)
}
