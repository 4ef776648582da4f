// internal/services/payment_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/javajoker/pha-gateway/internal/apperrors"
	"github.com/javajoker/pha-gateway/internal/config"
	"github.com/javajoker/pha-gateway/internal/models"
	"github.com/javajoker/pha-gateway/internal/utils"
)

// OrdersBackend is the slice of the backend client the payment gate needs.
type OrdersBackend interface {
	CreateOrder(ctx context.Context, req *models.CreateOrderRequest, idempotencyKey string) (*models.CreateOrderResponse, error)
	ValidateCoupon(ctx context.Context, req *models.ValidateCouponRequest) (*models.CouponValidation, error)
	OrderStatus(ctx context.Context, productType, orderID string) (*models.OrderStatus, error)
	Transactions(ctx context.Context, limit, offset int) (*models.TransactionList, error)
	UpdateOrderMetadata(ctx context.Context, orderID string, update *models.OrderMetadataUpdate) error
}

// CompletedAnalysisChecker reports whether the caller has a completed analysis.
type CompletedAnalysisChecker interface {
	HasCompletedAnalysis(ctx context.Context) (bool, error)
}

type PaymentService struct {
	orders   OrdersBackend
	provider PaymentProvider
	analyses CompletedAnalysisChecker
	config   *config.Config

	// order id -> product id the order was first redeemed for
	claims sync.Map

	keysMu sync.Mutex
	// base idempotency key -> attempts ended by a canceled intent
	keyAttempts map[string]int
	// payment intent id -> base idempotency key
	intentKeys map[string]string
}

type PaymentRequest struct {
	UserID      string `json:"-"`
	ProductType string `json:"product_type"`
	ProductID   string `json:"product_id" validate:"notblank"`
	CouponCode  string `json:"coupon_code,omitempty"`
	// Empty when paying before the analysis exists
	AnalysisID string `json:"analysis_id,omitempty"`
}

type ConfirmPaymentRequest struct {
	PaymentIntentID string `json:"payment_intent_id" validate:"notblank"`
	OrderID         string `json:"order_id"`
	ProductType     string `json:"product_type"`
	// Empty when the browser already confirmed the intent
	PaymentMethod string `json:"payment_method,omitempty"`
}

type PaymentConfirmation struct {
	PaymentIntentID string                     `json:"payment_intent_id"`
	OrderID         string                     `json:"order_id"`
	Status          models.PaymentIntentStatus `json:"status"`
	RequiresAction  bool                       `json:"requires_action"`
	ClientSecret    string                     `json:"client_secret,omitempty"`
	Confirmed       bool                       `json:"confirmed"`
	Attempts        int                        `json:"attempts"`
}

const transactionPageSize = 50

var errNoMatchingPayment = errors.New("no succeeded payment for analysis")

func NewPaymentService(orders OrdersBackend, provider PaymentProvider, analyses CompletedAnalysisChecker, config *config.Config) *PaymentService {
	return &PaymentService{
		orders:      orders,
		provider:    provider,
		analyses:    analyses,
		config:      config,
		keyAttempts: make(map[string]int),
		intentKeys:  make(map[string]string),
	}
}

// DetermineIfFirstTimeUser reports whether the user has neither a succeeded payment
// nor a completed analysis. Lookup failures count as first-time; download access is
// gated separately.
func (s *PaymentService) DetermineIfFirstTimeUser(ctx context.Context, userID string) bool {
	var paid, completed bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tx, err := s.findTransaction(gctx, func(t models.Transaction) bool {
			return t.Status == models.TransactionStatusSucceeded
		})
		paid = tx != nil
		return err
	})
	g.Go(func() error {
		var err error
		completed, err = s.analyses.HasCompletedAnalysis(gctx)
		return err
	})

	if err := g.Wait(); err != nil {
		logrus.WithError(err).WithField("user_id", userID).Warn("First-time user check failed, treating user as first-time")
		return true
	}

	return !paid && !completed
}

// InitializePaymentIntent creates a backend order. A full-discount coupon completes
// the order immediately and no client secret is returned.
func (s *PaymentService) InitializePaymentIntent(ctx context.Context, req *PaymentRequest) (*models.PaymentInit, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, utils.AsValidationError(err)
	}

	productType := req.ProductType
	if productType == "" {
		productType = s.config.Payment.ProductType
	}
	coupon := strings.TrimSpace(req.CouponCode)

	order := &models.CreateOrderRequest{
		ProductType: productType,
		ProductID:   req.ProductID,
		CouponCode:  coupon,
		ProductMetadata: map[string]string{
			"analysis_id": req.AnalysisID,
			"user_id":     req.UserID,
		},
	}

	base := utils.OrderIdempotencyKey(req.UserID, productType, req.ProductID, coupon, 0)
	key := func() string {
		return utils.OrderIdempotencyKey(req.UserID, productType, req.ProductID, coupon, s.orderAttempt(base))
	}

	resp, err := s.orders.CreateOrder(ctx, order, key())
	if err != nil {
		return nil, err
	}
	if !resp.Completed && models.PaymentIntentStatus(resp.Status) == models.PaymentIntentCanceled {
		// The backend replayed an attempt whose intent was canceled before a restart
		s.endOrderAttempt(base)
		if resp, err = s.orders.CreateOrder(ctx, order, key()); err != nil {
			return nil, err
		}
	}
	if resp.PaymentIntentID != "" {
		s.keysMu.Lock()
		s.intentKeys[resp.PaymentIntentID] = base
		s.keysMu.Unlock()
	}

	fields := logrus.Fields{
		"user_id":    req.UserID,
		"order_id":   resp.OrderID,
		"product_id": req.ProductID,
	}

	if resp.Completed {
		logrus.WithFields(fields).Info("Order completed by coupon")
		return &models.PaymentInit{
			OrderID:           resp.OrderID,
			Amount:            resp.Amount,
			Currency:          resp.Currency,
			CompletedByCoupon: true,
		}, nil
	}

	if resp.ClientSecret == "" {
		return nil, &apperrors.BackendError{Status: 502, Detail: "order created without a payment intent"}
	}

	logrus.WithFields(fields).WithField("payment_intent_id", resp.PaymentIntentID).Info("Payment intent initialized")
	return &models.PaymentInit{
		OrderID:         resp.OrderID,
		PaymentIntentID: resp.PaymentIntentID,
		ClientSecret:    resp.ClientSecret,
		PublishableKey:  s.config.Payment.StripePublishableKey,
		Amount:          resp.Amount,
		Currency:        resp.Currency,
	}, nil
}

func (s *PaymentService) ValidateCoupon(ctx context.Context, req *models.ValidateCouponRequest) (*models.CouponValidation, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, utils.AsValidationError(err)
	}
	req.CouponCode = strings.TrimSpace(req.CouponCode)
	if req.ProductType == "" {
		req.ProductType = s.config.Payment.ProductType
	}
	return s.orders.ValidateCoupon(ctx, req)
}

// ConfirmPayment confirms the intent with the provider, then waits for the backend
// to report the order as paid. onSuccess runs once, only after backend confirmation.
func (s *PaymentService) ConfirmPayment(ctx context.Context, req *ConfirmPaymentRequest, onSuccess func(paymentRef string)) (*PaymentConfirmation, error) {
	if err := utils.ValidateStruct(req); err != nil {
		return nil, utils.AsValidationError(err)
	}

	var (
		intent *models.PaymentIntent
		err    error
	)
	if req.PaymentMethod != "" {
		intent, err = s.provider.ConfirmIntent(ctx, req.PaymentIntentID, req.PaymentMethod)
	} else {
		intent, err = s.provider.GetIntent(ctx, req.PaymentIntentID)
	}
	if err != nil {
		return nil, err
	}

	result := &PaymentConfirmation{
		PaymentIntentID: intent.ID,
		OrderID:         req.OrderID,
		Status:          intent.Status,
	}

	switch intent.Status {
	case models.PaymentIntentRequiresAction:
		result.RequiresAction = true
		result.ClientSecret = intent.ClientSecret
		return result, nil
	case models.PaymentIntentSucceeded, models.PaymentIntentProcessing, models.PaymentIntentRequiresCapture:
	default:
		return nil, &apperrors.ProviderError{
			Code:    string(intent.Status),
			Message: "the payment was not completed",
		}
	}

	attempts, err := s.awaitBackendConfirmation(ctx, req)
	result.Attempts = attempts
	if err != nil {
		return nil, err
	}

	result.Confirmed = true
	logrus.WithFields(logrus.Fields{
		"payment_intent_id": intent.ID,
		"order_id":          req.OrderID,
		"attempts":          attempts,
	}).Info("Payment confirmed by backend")

	if onSuccess != nil {
		onSuccess(intent.ID)
	}
	return result, nil
}

func (s *PaymentService) awaitBackendConfirmation(ctx context.Context, req *ConfirmPaymentRequest) (int, error) {
	productType := req.ProductType
	if productType == "" {
		productType = s.config.Payment.ProductType
	}
	orderID := req.OrderID
	if orderID == "" {
		orderID = req.PaymentIntentID
	}

	maxAttempts := s.config.Payment.ConfirmMaxAttempts
	ticker := time.NewTicker(s.config.Payment.ConfirmInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err := s.orders.OrderStatus(ctx, productType, orderID)
		switch {
		case err == nil && status.Paid:
			return attempt, nil
		case apperrors.IsUnauthorized(err):
			return attempt, err
		case err != nil:
			logrus.WithError(err).WithFields(logrus.Fields{
				"order_id": orderID,
				"attempt":  attempt,
			}).Warn("Order status check failed")
		}

		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return attempt, ctx.Err()
		case <-ticker.C:
		}
	}

	logrus.WithFields(logrus.Fields{
		"payment_intent_id": req.PaymentIntentID,
		"order_id":          orderID,
		"attempts":          maxAttempts,
	}).Error("Backend did not confirm payment in time")

	return maxAttempts, &apperrors.BackendConfirmationTimeoutError{
		Attempts:        maxAttempts,
		PaymentIntentID: req.PaymentIntentID,
	}
}

// VerifyOrderPaid asks the backend, the system of record, whether an order is paid
// for productID. A paid order unlocks only the product it was created for, and the
// first product to redeem it keeps it.
func (s *PaymentService) VerifyOrderPaid(ctx context.Context, orderID, productID string) (bool, error) {
	status, err := s.orders.OrderStatus(ctx, s.config.Payment.ProductType, orderID)
	if err != nil {
		return false, err
	}
	if !status.Paid {
		return false, nil
	}
	if status.ProductID != "" && status.ProductID != productID {
		logrus.WithFields(logrus.Fields{
			"order_id":   orderID,
			"product_id": productID,
		}).Warn("Paid order belongs to another product")
		return false, nil
	}

	owner, _ := s.claims.LoadOrStore(orderID, productID)
	if owner.(string) != productID {
		logrus.WithFields(logrus.Fields{
			"order_id":   orderID,
			"product_id": productID,
		}).Warn("Paid order already redeemed for another product")
		return false, nil
	}
	return true, nil
}

// CancelIncompletePaymentIntent cancels the intent only while no money is in flight.
// It reports whether a cancellation was issued.
func (s *PaymentService) CancelIncompletePaymentIntent(ctx context.Context, intentID string) (bool, error) {
	intent, err := s.provider.GetIntent(ctx, intentID)
	if err != nil {
		return false, err
	}

	if intent.Status == models.PaymentIntentCanceled {
		s.endIntentAttempt(intentID)
	}
	if !intent.Status.Cancelable() {
		logrus.WithFields(logrus.Fields{
			"payment_intent_id": intentID,
			"status":            intent.Status,
		}).Info("Leaving payment intent untouched")
		return false, nil
	}

	if _, err := s.provider.CancelIntent(ctx, intentID); err != nil {
		return false, err
	}
	s.endIntentAttempt(intentID)

	logrus.WithField("payment_intent_id", intentID).Info("Payment intent canceled")
	return true, nil
}

func (s *PaymentService) orderAttempt(base string) int {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	return s.keyAttempts[base]
}

func (s *PaymentService) endOrderAttempt(base string) {
	s.keysMu.Lock()
	s.keyAttempts[base]++
	s.keysMu.Unlock()
}

// endIntentAttempt makes the next order for the same product use a fresh key.
func (s *PaymentService) endIntentAttempt(intentID string) {
	s.keysMu.Lock()
	defer s.keysMu.Unlock()
	base, ok := s.intentKeys[intentID]
	if !ok {
		return
	}
	delete(s.intentKeys, intentID)
	s.keyAttempts[base]++
}

// CheckDownloadAccess requires a succeeded transaction attributed to the analysis.
// A just-paid order may not be attributed yet, so the lookup is retried before
// payment is demanded.
func (s *PaymentService) CheckDownloadAccess(ctx context.Context, analysisID string) error {
	cfg := utils.RetryConfig{
		MaxAttempts:   s.config.Payment.RegateAttempts,
		InitialDelay:  s.config.Payment.RegateInitialDelay,
		BackoffFactor: 2,
		Retryable: func(err error) bool {
			return errors.Is(err, errNoMatchingPayment)
		},
	}

	err := utils.Retry(ctx, cfg, func() error {
		tx, err := s.findTransaction(ctx, func(t models.Transaction) bool {
			return t.Status == models.TransactionStatusSucceeded && t.AnalysisID() == analysisID
		})
		if err != nil {
			return err
		}
		if tx == nil {
			return errNoMatchingPayment
		}
		return nil
	}, func(attempt int, err error, next time.Duration) {
		logrus.WithFields(logrus.Fields{
			"analysis_id": analysisID,
			"attempt":     attempt,
			"next":        next,
		}).Debug("No payment found for analysis yet, retrying")
	})

	if errors.Is(err, errNoMatchingPayment) {
		return &apperrors.PaymentRequiredError{AnalysisID: analysisID}
	}
	return err
}

// AttachAnalysisToOrder back-fills the order's analysis id once generation started.
func (s *PaymentService) AttachAnalysisToOrder(ctx context.Context, orderID, analysisID string) error {
	if orderID == "" || analysisID == "" {
		return nil
	}

	cfg := utils.RetryConfig{
		MaxAttempts:   s.config.Payment.BackfillAttempts,
		InitialDelay:  s.config.Payment.BackfillInitialDelay,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
		Retryable: func(err error) bool {
			return !apperrors.IsUnauthorized(err)
		},
	}

	err := utils.Retry(ctx, cfg, func() error {
		return s.orders.UpdateOrderMetadata(ctx, orderID, &models.OrderMetadataUpdate{AnalysisID: analysisID})
	}, func(attempt int, err error, next time.Duration) {
		logrus.WithError(err).WithFields(logrus.Fields{
			"order_id":    orderID,
			"analysis_id": analysisID,
			"attempt":     attempt,
		}).Warn("Order metadata backfill failed, retrying")
	})
	if err != nil {
		return fmt.Errorf("failed to attach analysis %s to order %s: %w", analysisID, orderID, err)
	}
	return nil
}

func (s *PaymentService) ListTransactions(ctx context.Context, params utils.PaginationParams) (*models.TransactionList, error) {
	return s.orders.Transactions(ctx, params.Limit, params.Offset())
}

func (s *PaymentService) findTransaction(ctx context.Context, match func(models.Transaction) bool) (*models.Transaction, error) {
	for offset := 0; ; offset += transactionPageSize {
		page, err := s.orders.Transactions(ctx, transactionPageSize, offset)
		if err != nil {
			return nil, err
		}
		for i := range page.Transactions {
			if match(page.Transactions[i]) {
				return &page.Transactions[i], nil
			}
		}
		if len(page.Transactions) < transactionPageSize || (page.Total > 0 && offset+len(page.Transactions) >= page.Total) {
			return nil, nil
		}
	}
}
