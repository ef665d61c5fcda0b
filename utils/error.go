package utils

import "errors"

var ErrorRecordNotFound = errors.New("record not found")

// Ledger/gate error taxonomy. Handlers map these to HTTP statuses;
// operations return them unwrapped or wrapped with %w.
var (
	// ErrInsufficientStock: fewer eligible tickets exist than requested.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOutOfStock: zero eligible tickets for a sale.
	ErrOutOfStock = errors.New("out of stock")
	// ErrInsufficientBalance: reseller balance below ticket price at sale time.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrInvalidPhone: missing or malformed mobile-money phone reference.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrPermissionDenied: actor role/ownership does not authorize the mutation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrBackendUnavailable: network/backend failure, including partial-mutation risk.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

func ErrorPanic(err error) {
	if err != nil {
		panic(err)
	}
}
