package payments

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"

	"github.com/autorenta/settlement/internal/logging"
	"github.com/autorenta/settlement/internal/metrics"
)

// StripeCapturer charges renters through Stripe PaymentIntents.
type StripeCapturer struct {
	api      *client.API
	currency string
}

// NewStripeCapturer creates a Stripe-backed capturer. All bookings on the
// platform settle in ARS.
func NewStripeCapturer(secretKey string) *StripeCapturer {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeCapturer{api: api, currency: "ars"}
}

func (s *StripeCapturer) Capture(ctx context.Context, bookingID, customerID string, amountCents int64) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(amountCents),
		Currency:    stripe.String(s.currency),
		Customer:    stripe.String(customerID),
		Confirm:     stripe.Bool(true),
		OffSession:  stripe.Bool(true),
		Description: stripe.String(fmt.Sprintf("Booking %s", bookingID)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(bookingID + ":capture")
	params.AddMetadata("booking_id", bookingID)

	intent, err := s.api.PaymentIntents.New(params)
	if err != nil {
		metrics.ExternalCapturesTotal.WithLabelValues("failed").Inc()
		logging.L(ctx).Error("stripe capture failed",
			"booking_id", bookingID, "amount_cents", amountCents, "error", err)
		return "", fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		metrics.ExternalCapturesTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("%w: payment intent %s in status %s", ErrCaptureFailed, intent.ID, intent.Status)
	}

	metrics.ExternalCapturesTotal.WithLabelValues("success").Inc()
	logging.L(ctx).Info("external capture succeeded",
		"booking_id", bookingID, "amount_cents", amountCents, "payment_intent", intent.ID)
	return intent.ID, nil
}

func (s *StripeCapturer) Refund(ctx context.Context, providerRef string) error {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(providerRef),
	}
	params.Context = ctx

	if _, err := s.api.Refunds.New(params); err != nil {
		logging.L(ctx).Error("stripe refund failed",
			"payment_intent", providerRef, "error", err)
		return fmt.Errorf("refund %s: %w", providerRef, err)
	}
	return nil
}
