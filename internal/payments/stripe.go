package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeEscrow backs online-payment exchanges with PaymentIntent
// hold/capture/cancel flows: the acceptor's funds are held when they accept
// and captured when the exchange completes.
type StripeEscrow struct{}

// NewStripeEscrow initializes the stripe client with the given API key.
func NewStripeEscrow(apiKey string) *StripeEscrow {
	stripe.Key = apiKey
	return &StripeEscrow{}
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds and
// returns its ID.
func (s *StripeEscrow) Hold(ctx context.Context, amount int64, currency, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	if customerID != "" {
		params.Customer = stripe.String(customerID)
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeEscrow) Capture(ctx context.Context, holdID string) error {
	_, err := paymentintent.Capture(holdID, nil)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeEscrow) Cancel(ctx context.Context, holdID string) error {
	_, err := paymentintent.Cancel(holdID, nil)
	return err
}
