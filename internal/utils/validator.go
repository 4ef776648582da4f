// internal/utils/validator.go
package utils

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/javajoker/pha-gateway/internal/apperrors"
)

var validate *validator.Validate

var productCodePattern = regexp.MustCompile(`^[A-Za-z]{3}$`)

func init() {
	validate = validator.New()
	validate.RegisterValidation("product_code", validateProductCode)
	validate.RegisterValidation("notblank", validateNotBlank)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// IsProductCode reports whether code is an FDA product code: exactly three letters.
func IsProductCode(code string) bool {
	return productCodePattern.MatchString(strings.TrimSpace(code))
}

func validateProductCode(fl validator.FieldLevel) bool {
	return IsProductCode(fl.Field().String())
}

func validateNotBlank(fl validator.FieldLevel) bool {
	return strings.TrimSpace(fl.Field().String()) != ""
}

// Validation tags for common fields
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

// AsValidationError converts the first validator failure into the app error taxonomy.
func AsValidationError(err error) error {
	if err == nil {
		return nil
	}
	if errs := GetValidationErrors(err); len(errs) > 0 {
		return apperrors.NewValidationError(errs[0].Field, errs[0].Message)
	}
	return apperrors.NewValidationError("", err.Error())
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required", "notblank":
		return e.Field() + " is required"
	case "min":
		return e.Field() + " must contain at least " + e.Param() + " item(s)"
	case "max":
		return e.Field() + " must be at most " + e.Param() + " characters"
	case "product_code":
		return "Product code must be exactly 3 letters"
	default:
		return e.Field() + " is invalid"
	}
}
