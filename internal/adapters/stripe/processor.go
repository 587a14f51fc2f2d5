// Package stripe is the payment processor adapter: charges become
// PaymentIntents paid out to the organizer's connected account, and signed
// webhook events become settlement notifications.
package stripe

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/settlement"
	stripeapi "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	eventPaymentSucceeded = "payment_intent.succeeded"
	eventPaymentFailed    = "payment_intent.payment_failed"
	eventPaymentCanceled  = "payment_intent.canceled"
)

type Processor struct {
	api           *client.API
	webhookSecret string
}

func NewProcessor(secretKey, webhookSecret string) *Processor {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Processor{api: api, webhookSecret: webhookSecret}
}

func (p *Processor) CreateCharge(ctx context.Context, req settlement.ChargeRequest) (settlement.ChargeResult, error) {
	params := &stripeapi.PaymentIntentParams{
		Amount:   stripeapi.Int64(req.Amount),
		Currency: stripeapi.String(req.Currency),
		TransferData: &stripeapi.PaymentIntentTransferDataParams{
			Destination: stripeapi.String(req.Destination),
		},
		AutomaticPaymentMethods: &stripeapi.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripeapi.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return settlement.ChargeResult{}, errors.Wrap(err, "create payment intent")
	}
	return settlement.ChargeResult{TransactionID: pi.ID, ClientReference: pi.ClientSecret}, nil
}

// ParseNotification verifies the Stripe-Signature header and maps the event.
// Event types other than payment intent outcomes yield a nil notification.
func (p *Processor) ParseNotification(payload []byte, signature string) (settlement.Notification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "verify webhook"), domain.ErrInvalidWebhookSignature)
	}

	switch string(event.Type) {
	case eventPaymentSucceeded:
		pi, err := decodeIntent(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		return settlement.PaymentSucceeded{TransactionID: pi.ID}, nil
	case eventPaymentFailed, eventPaymentCanceled:
		pi, err := decodeIntent(event.Data.Raw)
		if err != nil {
			return nil, err
		}
		reason := string(pi.CancellationReason)
		if pi.LastPaymentError != nil {
			reason = pi.LastPaymentError.Msg
		}
		return settlement.PaymentFailed{TransactionID: pi.ID, Reason: reason}, nil
	default:
		return nil, nil
	}
}

func decodeIntent(raw json.RawMessage) (stripeapi.PaymentIntent, error) {
	var pi stripeapi.PaymentIntent
	if err := json.Unmarshal(raw, &pi); err != nil {
		return pi, errors.Wrap(domain.ErrInvalidInput, "decode payment intent")
	}
	if pi.ID == "" {
		return pi, errors.Wrap(domain.ErrInvalidInput, "payment intent without id")
	}
	return pi, nil
}
