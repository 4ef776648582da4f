// internal/apperrors/errors.go
package apperrors

import (
	"errors"
	"fmt"
)

// ValidationError is bad user input. It is shown inline and never logged.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// BackendError is a non-2xx response from the backend API.
type BackendError struct {
	Status int
	Detail string
}

func (e *BackendError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned status %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("backend returned status %d", e.Status)
}

// UnauthorizedError means the identity token was rejected; callers must sign the user out.
type UnauthorizedError struct {
	Detail string
}

func (e *UnauthorizedError) Error() string {
	if e.Detail != "" {
		return "unauthorized: " + e.Detail
	}
	return "unauthorized"
}

// ProviderError is a payment provider rejection. Retrying is safe.
type ProviderError struct {
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("payment provider error (%s): %s", e.Code, e.Message)
	}
	return "payment provider error: " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Err }

// BackendConfirmationTimeoutError means the provider succeeded but the backend never
// reported the order as paid. Retrying the payment risks a duplicate charge.
type BackendConfirmationTimeoutError struct {
	Attempts        int
	PaymentIntentID string
}

func (e *BackendConfirmationTimeoutError) Error() string {
	return fmt.Sprintf("payment %s not confirmed by backend after %d attempts", e.PaymentIntentID, e.Attempts)
}

// PaymentRequiredError gates an action (generation or download) behind payment.
type PaymentRequiredError struct {
	AnalysisID string
}

func (e *PaymentRequiredError) Error() string {
	if e.AnalysisID == "" {
		return "payment required"
	}
	return "payment required for analysis " + e.AnalysisID
}

// UpstreamError carries a third-party search API status so it can be passed through.
type UpstreamError struct {
	Source string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.Source, e.Status)
}

// StateError is an operation attempted from a step that does not allow it.
type StateError struct {
	Op   string
	Step string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s is not allowed in step %s", e.Op, e.Step)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func NewStateError(op, step string) *StateError {
	return &StateError{Op: op, Step: step}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsUnauthorized(err error) bool {
	var u *UnauthorizedError
	return errors.As(err, &u)
}

func IsConfirmationTimeout(err error) bool {
	var t *BackendConfirmationTimeoutError
	return errors.As(err, &t)
}

func IsProvider(err error) bool {
	var p *ProviderError
	return errors.As(err, &p)
}

func IsPaymentRequired(err error) bool {
	var p *PaymentRequiredError
	return errors.As(err, &p)
}
