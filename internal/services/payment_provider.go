// internal/services/payment_provider.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"golang.org/x/sync/singleflight"

	"github.com/javajoker/pha-gateway/internal/apperrors"
	"github.com/javajoker/pha-gateway/internal/config"
	"github.com/javajoker/pha-gateway/internal/models"
)

// PaymentProvider is the payment processor's intent API.
type PaymentProvider interface {
	GetIntent(ctx context.Context, intentID string) (*models.PaymentIntent, error)
	ConfirmIntent(ctx context.Context, intentID, paymentMethod string) (*models.PaymentIntent, error)
	CancelIntent(ctx context.Context, intentID string) (*models.PaymentIntent, error)
}

// StripeProvider builds its API client once, on first use.
type StripeProvider struct {
	secretKey string
	returnURL string
	backends  *stripe.Backends

	group singleflight.Group
	mu    sync.RWMutex
	api   *client.API
}

func NewStripeProvider(cfg *config.Config) *StripeProvider {
	return &StripeProvider{
		secretKey: cfg.Payment.StripeSecretKey,
		returnURL: cfg.Payment.ReturnURL,
	}
}

// WithBackends overrides the Stripe HTTP backends, e.g. to point at a local stub.
func (p *StripeProvider) WithBackends(backends *stripe.Backends) *StripeProvider {
	p.backends = backends
	return p
}

func (p *StripeProvider) client() (*client.API, error) {
	p.mu.RLock()
	api := p.api
	p.mu.RUnlock()
	if api != nil {
		return api, nil
	}

	v, err, _ := p.group.Do("stripe", func() (interface{}, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.api != nil {
			return p.api, nil
		}
		if p.secretKey == "" {
			return nil, errors.New("stripe secret key is not configured")
		}
		p.api = client.New(p.secretKey, p.backends)
		return p.api, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*client.API), nil
}

func (p *StripeProvider) GetIntent(ctx context.Context, intentID string) (*models.PaymentIntent, error) {
	api, err := p.client()
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, providerError(err)
	}
	return toPaymentIntent(pi), nil
}

func (p *StripeProvider) ConfirmIntent(ctx context.Context, intentID, paymentMethod string) (*models.PaymentIntent, error) {
	api, err := p.client()
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx
	if paymentMethod != "" {
		params.PaymentMethod = stripe.String(paymentMethod)
	}
	if p.returnURL != "" {
		params.ReturnURL = stripe.String(p.returnURL)
	}

	pi, err := api.PaymentIntents.Confirm(intentID, params)
	if err != nil {
		return nil, providerError(err)
	}
	return toPaymentIntent(pi), nil
}

func (p *StripeProvider) CancelIntent(ctx context.Context, intentID string) (*models.PaymentIntent, error) {
	api, err := p.client()
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	pi, err := api.PaymentIntents.Cancel(intentID, params)
	if err != nil {
		return nil, providerError(err)
	}
	return toPaymentIntent(pi), nil
}

func toPaymentIntent(pi *stripe.PaymentIntent) *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       models.PaymentIntentStatus(pi.Status),
		Amount:       pi.Amount,
		Currency:     string(pi.Currency),
		Metadata:     pi.Metadata,
	}
}

func providerError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		code := string(stripeErr.Code)
		if stripeErr.DeclineCode != "" {
			code = string(stripeErr.DeclineCode)
		}
		return &apperrors.ProviderError{Code: code, Message: stripeErr.Msg, Err: err}
	}
	return fmt.Errorf("payment provider request failed: %w", err)
}
