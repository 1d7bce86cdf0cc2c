package service

import (
	"errors"

	"balance-platform/pkg/apperror"
)

// errAsAppError unwraps err looking for an AppError anywhere in the chain.
func errAsAppError(err error) (*apperror.AppError, bool) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
