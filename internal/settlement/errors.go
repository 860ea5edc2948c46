package settlement

import (
	"errors"
	"fmt"

	"label-settlement-go/internal/ledger"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("shipment not found")
	ErrInvalidAccount       = errors.New("invalid carrier account")
	ErrInsufficientBalance  = ledger.ErrInsufficientBalance
	ErrNoAdapter            = errors.New("no carrier adapter available")
	ErrAdapter              = errors.New("carrier request failed")
	ErrPartialCommit        = errors.New("label issued but settlement did not complete")
	ErrUnsupportedOperation = errors.New("unsupported operation")
)

// ValidationError is a problem with the request the user can fix. Message is
// safe to show them.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PublicMessage turns err into text fit for the end user. Carrier faults and
// partial commits are reduced to a generic message; details stay in the logs.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.Is(err, ErrNotFound):
		return "Shipment not found or already processed"
	case errors.Is(err, ErrInvalidAccount):
		return "Carrier account is not available"
	case errors.Is(err, ErrInsufficientBalance):
		return "Insufficient balance"
	case errors.Is(err, ErrNoAdapter):
		return "Carrier is not available for this account"
	case errors.Is(err, ErrUnsupportedOperation):
		return "Operation not supported for this shipment"
	case errors.Is(err, ErrPartialCommit):
		return "Your label was created but could not be finalized. Our team has been notified"
	default:
		return "Unable to complete the request, please try again later"
	}
}
