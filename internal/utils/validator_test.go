package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/javajoker/pha-gateway/internal/apperrors"
)

func TestIsProductCode(t *testing.T) {
	valid := []string{"FMF", "dqa", " LLZ "}
	invalid := []string{"", "FM", "FMFX", "F1F", "F-F", "ÄBC"}

	for _, code := range valid {
		assert.True(t, IsProductCode(code), code)
	}
	for _, code := range invalid {
		assert.False(t, IsProductCode(code), code)
	}
}

type codeRequest struct {
	Codes []string `validate:"required,min=1,dive,product_code"`
	Name  string   `validate:"notblank"`
}

func TestStructValidation(t *testing.T) {
	assert.NoError(t, ValidateStruct(&codeRequest{Codes: []string{"FMF"}, Name: "Syringe"}))

	err := ValidateStruct(&codeRequest{Codes: []string{"FMFF"}, Name: "Syringe"})
	assert.Error(t, err)
	errs := GetValidationErrors(err)
	if assert.Len(t, errs, 1) {
		assert.Equal(t, "product_code", errs[0].Tag)
	}

	err = AsValidationError(ValidateStruct(&codeRequest{Codes: []string{"FMF"}, Name: "   "}))
	assert.True(t, apperrors.IsValidation(err))
}
