package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation failed")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrOrderClosed        = errors.New("order is no longer open")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrVersionConflict    = errors.New("version conflict")
	ErrInUse              = errors.New("resource in use")
	ErrVoucherInvalid     = errors.New("voucher not applicable")
)

// BusinessError carries a machine code and the operator-facing message for a
// rejected request. It unwraps to one of the sentinel errors above.
type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(kind error, code, message string) *BusinessError {
	return &BusinessError{Code: code, Message: message, Err: kind}
}

func Validationf(code, format string, args ...any) *BusinessError {
	return NewBusinessError(ErrValidation, code, fmt.Sprintf(format, args...))
}
