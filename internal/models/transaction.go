// internal/models/transaction.go
package models

import "time"

type PaymentIntentStatus string

const (
	PaymentIntentRequiresPaymentMethod PaymentIntentStatus = "requires_payment_method"
	PaymentIntentRequiresConfirmation  PaymentIntentStatus = "requires_confirmation"
	PaymentIntentRequiresAction        PaymentIntentStatus = "requires_action"
	PaymentIntentRequiresCapture       PaymentIntentStatus = "requires_capture"
	PaymentIntentProcessing            PaymentIntentStatus = "processing"
	PaymentIntentSucceeded             PaymentIntentStatus = "succeeded"
	PaymentIntentCanceled              PaymentIntentStatus = "canceled"
	PaymentIntentFailed                PaymentIntentStatus = "failed"
)

// Cancelable reports whether an intent can be canceled without touching money in flight.
func (s PaymentIntentStatus) Cancelable() bool {
	return s == PaymentIntentRequiresPaymentMethod || s == PaymentIntentRequiresConfirmation
}

type PaymentIntent struct {
	ID           string              `json:"id"`
	ClientSecret string              `json:"-"`
	Status       PaymentIntentStatus `json:"status"`
	Amount       int64               `json:"amount"`
	Currency     string              `json:"currency"`
	Metadata     map[string]string   `json:"metadata,omitempty"`
}

type CreateOrderRequest struct {
	ProductType     string            `json:"product_type" validate:"required"`
	ProductID       string            `json:"product_id"`
	CouponCode      string            `json:"coupon_code,omitempty"`
	ProductMetadata map[string]string `json:"product_metadata,omitempty"`
}

// CreateOrderResponse is either a pending provider intent (ClientSecret set) or an
// order already completed by a full-discount coupon (Completed set).
type CreateOrderResponse struct {
	OrderID         string `json:"order_id"`
	PaymentIntentID string `json:"payment_intent_id"`
	ClientSecret    string `json:"client_secret,omitempty"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Completed       bool   `json:"completed"`
	Status          string `json:"status,omitempty"`
}

type PaymentInit struct {
	OrderID           string `json:"order_id"`
	PaymentIntentID   string `json:"payment_intent_id,omitempty"`
	ClientSecret      string `json:"client_secret,omitempty"`
	PublishableKey    string `json:"publishable_key,omitempty"`
	Amount            int64  `json:"amount"`
	Currency          string `json:"currency"`
	CompletedByCoupon bool   `json:"completed_by_coupon"`
}

type ValidateCouponRequest struct {
	CouponCode  string `json:"coupon_code" validate:"notblank"`
	ProductType string `json:"product_type"`
}

type CouponValidation struct {
	Valid           bool    `json:"valid"`
	DiscountPercent float64 `json:"discount_percent"`
	FinalAmount     int64   `json:"final_amount"`
	Message         string  `json:"message,omitempty"`
}

type OrderStatus struct {
	Paid      bool   `json:"paid"`
	Status    string `json:"status,omitempty"`
	ProductID string `json:"product_id,omitempty"`
}

type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusSucceeded TransactionStatus = "succeeded"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCanceled  TransactionStatus = "canceled"
	TransactionStatusRefunded  TransactionStatus = "refunded"
)

type Transaction struct {
	ID              string            `json:"id"`
	Status          TransactionStatus `json:"status"`
	Amount          int64             `json:"amount"`
	Currency        string            `json:"currency"`
	ProductType     string            `json:"product_type"`
	ProductID       string            `json:"product_id"`
	PaymentIntentID string            `json:"payment_intent_id"`
	Metadata        map[string]string `json:"metadata"`
	CreatedAt       time.Time         `json:"created_at"`
}

// AnalysisID returns the analysis a payment was attributed to, if any.
func (t Transaction) AnalysisID() string {
	if t.Metadata == nil {
		return ""
	}
	return t.Metadata["analysis_id"]
}

type TransactionList struct {
	Transactions []Transaction `json:"transactions"`
	Total        int           `json:"total"`
}

type OrderMetadataUpdate struct {
	AnalysisID string `json:"analysis_id"`
}
