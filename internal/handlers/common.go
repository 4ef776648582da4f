// internal/handlers/common.go
package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/javajoker/pha-gateway/internal/clients/backend"
	"github.com/javajoker/pha-gateway/internal/i18n"
	"github.com/javajoker/pha-gateway/internal/utils"
)

// requestContext carries the caller's bearer token so backend calls act as the user.
func requestContext(c *gin.Context) context.Context {
	return backend.WithToken(c.Request.Context(), utils.GetTokenFromContext(c))
}

// bindJSON decodes and validates the body, writing the error response on failure.
func bindJSON(c *gin.Context, req interface{}) bool {
	lang := utils.GetLangFromContext(c)
	if err := c.ShouldBindJSON(req); err != nil {
		utils.BadRequestResponse(c, i18n.T(lang, i18n.KeyValidationInvalid, "input"), err.Error())
		return false
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return false
	}
	return true
}

func requireUser(c *gin.Context) (string, bool) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok || userID == "" {
		utils.UnauthorizedResponse(c, "")
		return "", false
	}
	return userID, true
}
