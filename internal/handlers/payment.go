// internal/handlers/payment.go
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/pha-gateway/internal/i18n"
	"github.com/javajoker/pha-gateway/internal/models"
	"github.com/javajoker/pha-gateway/internal/services"
	"github.com/javajoker/pha-gateway/internal/utils"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
}

func NewPaymentHandler(paymentService *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{paymentService: paymentService}
}

// GET /payments/first-time
func (h *PaymentHandler) GetFirstTimeStatus(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	firstTime := h.paymentService.DetermineIfFirstTimeUser(requestContext(c), userID)
	utils.SuccessResponse(c, gin.H{"first_time": firstTime})
}

// POST /payments/intent
func (h *PaymentHandler) CreatePaymentIntent(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req services.PaymentRequest
	if !bindJSON(c, &req) {
		return
	}
	req.UserID = userID

	payment, err := h.paymentService.InitializePaymentIntent(requestContext(c), &req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.CreatedResponse(c, payment)
}

// POST /payments/coupon/validate
func (h *PaymentHandler) ValidateCoupon(c *gin.Context) {
	var req models.ValidateCouponRequest
	if !bindJSON(c, &req) {
		return
	}

	validation, err := h.paymentService.ValidateCoupon(requestContext(c), &req)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.SuccessResponse(c, validation)
}

// POST /payments/confirm
func (h *PaymentHandler) ConfirmPayment(c *gin.Context) {
	var req services.ConfirmPaymentRequest
	if !bindJSON(c, &req) {
		return
	}

	userID, _ := utils.GetUserIDFromContext(c)
	confirmation, err := h.paymentService.ConfirmPayment(requestContext(c), &req, func(paymentRef string) {
		logrus.WithFields(logrus.Fields{
			"user_id":     userID,
			"payment_ref": paymentRef,
			"order_id":    req.OrderID,
		}).Info("Payment completed")
	})
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	if confirmation.Confirmed {
		c.JSON(http.StatusOK, utils.APIResponse{
			Success: true,
			Data:    confirmation,
			Meta:    gin.H{"message": i18n.T(utils.GetLangFromContext(c), i18n.KeyPaymentSucceeded)},
		})
		return
	}
	utils.SuccessResponse(c, confirmation)
}

// POST /payments/intents/:id/cancel
func (h *PaymentHandler) CancelPaymentIntent(c *gin.Context) {
	canceled, err := h.paymentService.CancelIncompletePaymentIntent(requestContext(c), c.Param("id"))
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	data := gin.H{"canceled": canceled}
	if canceled {
		data["message"] = i18n.T(utils.GetLangFromContext(c), i18n.KeyPaymentCanceled)
	}
	utils.SuccessResponse(c, data)
}

// GET /payments/transactions
func (h *PaymentHandler) GetTransactions(c *gin.Context) {
	params := utils.GetPaginationParams(c)

	list, err := h.paymentService.ListTransactions(requestContext(c), params)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.PaginatedResponse(c, utils.CreatePaginationResult(list.Transactions, int64(list.Total), params))
}
