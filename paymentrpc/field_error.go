package paymentrpc

import (
	"fmt"
	"strings"
)

// FieldError is a validation error that points the caller at the parameter
// it has a problem with and, where one exists, at a value that would have
// been accepted.
type FieldError struct {
	// Field is the wire name of the offending parameter.
	Field string

	// Reason describes the problem.
	Reason string

	// ErroneousValue is the rejected value, nil if the field was missing.
	ErroneousValue interface{}

	// SuggestedValue is an acceptable value, nil if there is none.
	SuggestedValue interface{}
}

// Error returns the reason, including the rejected and suggested values if
// they are present.
func (f *FieldError) Error() string {
	errStrs := []string{f.Reason}

	if f.ErroneousValue != nil {
		errStrs = append(errStrs, fmt.Sprintf("rejected value: %v",
			f.ErroneousValue))
	}

	if f.SuggestedValue != nil {
		errStrs = append(errStrs, fmt.Sprintf("suggested value: %v",
			f.SuggestedValue))
	}

	return strings.Join(errStrs, ", ")
}

// NewFieldError creates a field error.
func NewFieldError(field, reason string, suggestedValue,
	erroneousValue interface{}) *FieldError {

	return &FieldError{
		Field:          field,
		Reason:         reason,
		SuggestedValue: suggestedValue,
		ErroneousValue: erroneousValue,
	}
}

// ErrMissingIdentifier returns an error indicating that a request names
// neither a payment hash nor an invoice.
func ErrMissingIdentifier() *FieldError {
	return NewFieldError(
		"payment_hash", "missing payment identifier", nil, nil,
	)
}

// ErrKeysendWithHash returns an error indicating that a keysend payment
// names a payment hash, which keysend derives itself.
func ErrKeysendWithHash() *FieldError {
	return NewFieldError(
		"payment_hash", "keysend payment must not set payment_hash",
		nil, nil,
	)
}

// ErrEmptyInvoice returns an error indicating an empty invoice string.
func ErrEmptyInvoice() *FieldError {
	return NewFieldError("invoice", "invoice must not be empty", nil, nil)
}

// ErrZeroValue returns an error indicating that field must be positive.
func ErrZeroValue(field string, minValue uint64) *FieldError {
	return NewFieldError(
		field, fmt.Sprintf("%v must be at least %v", field, minValue),
		minValue, uint64(0),
	)
}

// ErrExpiryOutOfRange returns an error indicating that an expiry in
// milliseconds is outside of [minExpiry, maxExpiry]. The closest bound is
// suggested.
func ErrExpiryOutOfRange(field string, expiry, minExpiry,
	maxExpiry uint64) *FieldError {

	suggested := minExpiry
	if expiry > maxExpiry {
		suggested = maxExpiry
	}

	return NewFieldError(
		field, fmt.Sprintf("%v must be within [%v, %v] ms", field,
			minExpiry, maxExpiry),
		suggested, expiry,
	)
}

// ErrExpiryAboveLimit returns an error indicating that the final hop's expiry
// delta exceeds the limit of the whole route.
func ErrExpiryAboveLimit(delta, limit uint64) *FieldError {
	return NewFieldError(
		"final_tlc_expiry_delta",
		"final_tlc_expiry_delta must not exceed tlc_expiry_limit",
		limit, delta,
	)
}

// ErrMissingHintField returns an error indicating that a hop hint lacks a
// required field.
func ErrMissingHintField(index int, field string) *FieldError {
	name := fmt.Sprintf("hop_hints[%d].%v", index, field)

	return NewFieldError(name, fmt.Sprintf("%v is missing", name), nil, nil)
}
