package apperrors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassificationSurvivesWrapping(t *testing.T) {
	timeout := fmt.Errorf("confirm: %w", &BackendConfirmationTimeoutError{Attempts: 30, PaymentIntentID: "pi_1"})
	provider := fmt.Errorf("confirm: %w", &ProviderError{Code: "card_declined", Message: "declined"})

	assert.True(t, IsConfirmationTimeout(timeout))
	assert.False(t, IsProvider(timeout))

	assert.True(t, IsProvider(provider))
	assert.False(t, IsConfirmationTimeout(provider))

	assert.True(t, IsValidation(fmt.Errorf("x: %w", NewValidationError("name", "required"))))
	assert.True(t, IsUnauthorized(&UnauthorizedError{}))
	assert.True(t, IsPaymentRequired(&PaymentRequiredError{AnalysisID: "a1"}))
}

func TestMessages(t *testing.T) {
	assert.Equal(t, "backend returned status 500: boom", (&BackendError{Status: 500, Detail: "boom"}).Error())
	assert.Equal(t, "name: required", NewValidationError("name", "required").Error())
	assert.Equal(t, "generate is not allowed in step device-name", NewStateError("generate", "device-name").Error())
}
