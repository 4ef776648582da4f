// internal/utils/response.go
package utils

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/pha-gateway/internal/apperrors"
	"github.com/javajoker/pha-gateway/internal/i18n"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    interface{} `json:"meta,omitempty"`
}

type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

var loginRoute = "/login"

func SetLoginRoute(route string) {
	if route != "" {
		loginRoute = route
	}
}

func SuccessResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

func SuccessResponseWithMeta(c *gin.Context, data interface{}, meta interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

func CreatedResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

func ErrorResponse(c *gin.Context, statusCode int, code, message string, details interface{}) {
	c.JSON(statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func BadRequestResponse(c *gin.Context, message string, details interface{}) {
	lang := GetLangFromContext(c)
	if message == "" {
		message = i18n.T(lang, i18n.KeyValidationInvalid, "request")
	}
	ErrorResponse(c, http.StatusBadRequest, "BAD_REQUEST", message, details)
}

// UnauthorizedResponse tells the client to sign out and come back through the login route.
func UnauthorizedResponse(c *gin.Context, message string) {
	lang := GetLangFromContext(c)
	if message == "" {
		message = i18n.T(lang, i18n.KeyAuthRequired)
	}
	ErrorResponse(c, http.StatusUnauthorized, "UNAUTHORIZED", message, gin.H{
		"sign_out": true,
		"redirect": LoginRedirect(c.Request.URL.RequestURI()),
	})
}

func LoginRedirect(returnTo string) string {
	return loginRoute + "?redirect=" + url.QueryEscape(returnTo)
}

func NotFoundResponse(c *gin.Context, key string) {
	lang := GetLangFromContext(c)
	ErrorResponse(c, http.StatusNotFound, "NOT_FOUND", i18n.T(lang, key), nil)
}

func InternalErrorResponse(c *gin.Context, message string) {
	if message == "" {
		message = "Internal server error"
	}
	ErrorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", message, nil)
}

func ValidationErrorResponse(c *gin.Context, errors []ValidationError) {
	lang := GetLangFromContext(c)
	message := i18n.T(lang, i18n.KeyValidationInvalid, "input")
	ErrorResponse(c, http.StatusBadRequest, "VALIDATION_ERROR", message, errors)
}

// RespondError maps the application error taxonomy onto HTTP responses.
func RespondError(c *gin.Context, err error) {
	lang := GetLangFromContext(c)

	var (
		validationErr *apperrors.ValidationError
		stateErr      *apperrors.StateError
		unauthorized  *apperrors.UnauthorizedError
		paymentReq    *apperrors.PaymentRequiredError
		providerErr   *apperrors.ProviderError
		timeoutErr    *apperrors.BackendConfirmationTimeoutError
		backendErr    *apperrors.BackendError
		upstreamErr   *apperrors.UpstreamError
	)

	switch {
	case errors.As(err, &validationErr):
		ErrorResponse(c, http.StatusBadRequest, "VALIDATION_ERROR", validationErr.Message, gin.H{"field": validationErr.Field})
		return
	case errors.As(err, &stateErr):
		ErrorResponse(c, http.StatusConflict, "INVALID_STEP", i18n.T(lang, i18n.KeyWorkflowInvalidStep, stateErr.Op, stateErr.Step), nil)
		return
	case errors.As(err, &unauthorized):
		UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthSessionExpired))
		return
	case errors.As(err, &paymentReq):
		ErrorResponse(c, http.StatusPaymentRequired, "PAYMENT_REQUIRED", i18n.T(lang, i18n.KeyPaymentRequired), gin.H{"analysis_id": paymentReq.AnalysisID})
		return
	case errors.As(err, &timeoutErr):
		ErrorResponse(c, http.StatusGatewayTimeout, "PAYMENT_CONFIRMATION_TIMEOUT", i18n.T(lang, i18n.KeyPaymentConfirmationSlow), gin.H{
			"payment_intent_id": timeoutErr.PaymentIntentID,
			"retry_safe":        false,
		})
		return
	case errors.As(err, &providerErr):
		ErrorResponse(c, http.StatusPaymentRequired, "PAYMENT_FAILED", i18n.T(lang, i18n.KeyPaymentFailed, providerErr.Message), gin.H{
			"provider_code": providerErr.Code,
			"retry_safe":    true,
		})
		return
	case errors.As(err, &backendErr):
		logrus.WithError(err).WithField("path", c.Request.URL.Path).Warn("Backend request failed")
		ErrorResponse(c, http.StatusBadGateway, "BACKEND_ERROR", backendErr.Detail, gin.H{"status": backendErr.Status})
		return
	case errors.As(err, &upstreamErr):
		ErrorResponse(c, upstreamErr.Status, "UPSTREAM_ERROR", upstreamErr.Error(), gin.H{"source": upstreamErr.Source})
		return
	}

	logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
	InternalErrorResponse(c, "")
}

func PaginatedResponse(c *gin.Context, result PaginationResult) {
	SetPaginationHeaders(c, result)
	SuccessResponseWithMeta(c, result.Data, gin.H{
		"pagination": gin.H{
			"page":        result.Page,
			"limit":       result.Limit,
			"total":       result.Total,
			"total_pages": result.TotalPages,
		},
	})
}

func GetLangFromContext(c *gin.Context) string {
	if lang, exists := c.Get("lang"); exists {
		if langStr, ok := lang.(string); ok {
			return langStr
		}
	}
	return "en"
}

func GetUserIDFromContext(c *gin.Context) (string, bool) {
	if userID, exists := c.Get("user_id"); exists {
		if userIDStr, ok := userID.(string); ok {
			return userIDStr, true
		}
	}
	return "", false
}

// GetTokenFromContext returns the caller's bearer token for forwarding to the backend.
func GetTokenFromContext(c *gin.Context) string {
	if token, exists := c.Get("token"); exists {
		if tokenStr, ok := token.(string); ok {
			return tokenStr
		}
	}
	return ""
}
