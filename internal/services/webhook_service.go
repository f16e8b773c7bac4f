package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v78"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-donation-backend/internal/domain"
	"github.com/tbourn/go-donation-backend/internal/gateway"
	"github.com/tbourn/go-donation-backend/internal/notify"
	"github.com/tbourn/go-donation-backend/internal/repo"
)

// WebhookService records donation outcomes delivered asynchronously by the
// payment gateway.
//
// Event handling is deliberately ack-friendly: deliveries that reference
// unknown donors or that the guards filter out are logged and acknowledged,
// because a non-2xx response only makes the gateway redeliver an event we
// still cannot use. Only infrastructure failures (DB errors, gateway
// round-trips) propagate, so those deliveries are retried.
type WebhookService struct {
	DB       *gorm.DB
	Gateway  gateway.Gateway
	Notifier notify.Notifier
}

// NewWebhookService wires a WebhookService.
func NewWebhookService(db *gorm.DB, gw gateway.Gateway, n notify.Notifier) *WebhookService {
	return &WebhookService{DB: db, Gateway: gw, Notifier: n}
}

// ProcessEvent dispatches a verified gateway event to its handler. Unhandled
// event types are acknowledged with a debug log.
func (s *WebhookService) ProcessEvent(ctx context.Context, event stripe.Event) error {
	tracer := otel.Tracer("donation-backend/webhook")
	ctx, span := tracer.Start(ctx, "webhook.process",
		trace.WithAttributes(
			attribute.String("stripe.event.id", event.ID),
			attribute.String("stripe.event.type", string(event.Type)),
		))
	defer span.End()

	var err error
	result := "handled"
	switch event.Type {
	case "payment_intent.succeeded":
		err = s.handlePaymentIntentSucceeded(ctx, event)
	case "invoice.paid":
		err = s.handleInvoicePaid(ctx, event)
	case "invoice.payment_failed":
		err = s.handleInvoicePaymentFailed(ctx, event)
	case "customer.subscription.deleted":
		err = s.handleSubscriptionDeleted(ctx, event)
	default:
		result = "ignored"
		log.Ctx(ctx).Debug().
			Str("event_type", string(event.Type)).
			Msg("webhook event type not handled")
	}
	if err != nil {
		result = "error"
		span.RecordError(err)
	}
	webhookEvents.WithLabelValues(string(event.Type), result).Inc()
	return err
}

func unmarshalEventObject(event stripe.Event, dst any) error {
	if err := json.Unmarshal(event.Data.Raw, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", event.Type, err)
	}
	return nil
}

// handlePaymentIntentSucceeded records a one-time donation. Intents created
// for subscriptions are skipped here; invoice.paid is their source of truth.
// Unknown donors are logged and acknowledged.
func (s *WebhookService) handlePaymentIntentSucceeded(ctx context.Context, event stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := unmarshalEventObject(event, &pi); err != nil {
		return err
	}

	if pi.Metadata["frequency"] != string(domain.FrequencyOneTime) {
		log.Ctx(ctx).Debug().
			Str("payment_intent_id", pi.ID).
			Msg("skipping non one-time payment intent")
		return nil
	}

	customerID := ""
	if pi.Customer != nil {
		customerID = pi.Customer.ID
	}
	donor, err := repo.GetDonorByEmailOrCustomerID(ctx, s.DB, pi.Metadata["email"], customerID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Ctx(ctx).Warn().
				Str("payment_intent_id", pi.ID).
				Msg("payment succeeded for unknown donor, acknowledging")
			return nil
		}
		return err
	}

	exists, err := repo.DonationExistsForPaymentIntent(ctx, s.DB, pi.ID)
	if err != nil {
		return err
	}
	if exists {
		log.Ctx(ctx).Debug().
			Str("payment_intent_id", pi.ID).
			Msg("donation already recorded")
		return nil
	}

	d := &domain.Donation{
		DonorID:               donor.ID,
		Amount:                float64(pi.Amount) / 100,
		Currency:              string(pi.Currency),
		Frequency:             domain.FrequencyOneTime,
		Status:                domain.StatusSucceeded,
		StripePaymentIntentID: pi.ID,
		Metadata:              domain.Metadata(pi.Metadata),
	}
	if pi.LatestCharge != nil {
		d.ReceiptURL = pi.LatestCharge.ReceiptURL
	}
	if _, err := repo.CreateDonation(ctx, s.DB, d); err != nil {
		return err
	}
	donationsRecorded.WithLabelValues(string(d.Frequency), string(d.Status)).Inc()

	s.sendReceipt(ctx, notify.Receipt{
		To:         donor.Email,
		Name:       donor.Name,
		Amount:     d.Amount,
		Currency:   d.Currency,
		Frequency:  d.Frequency,
		ReceiptURL: d.ReceiptURL,
	})
	return nil
}

// handleInvoicePaid records a recurring donation for a subscription renewal.
// Only subscription_cycle invoices count: the subscription's first invoice
// is recorded by the verify-payment flow, and counting it here as well would
// double-record the initial charge.
func (s *WebhookService) handleInvoicePaid(ctx context.Context, event stripe.Event) error {
	var inv stripe.Invoice
	if err := unmarshalEventObject(event, &inv); err != nil {
		return err
	}

	if inv.BillingReason != stripe.InvoiceBillingReasonSubscriptionCycle {
		log.Ctx(ctx).Debug().
			Str("invoice_id", inv.ID).
			Str("billing_reason", string(inv.BillingReason)).
			Msg("skipping non-renewal invoice")
		return nil
	}
	if inv.Subscription == nil || inv.Customer == nil {
		log.Ctx(ctx).Warn().
			Str("invoice_id", inv.ID).
			Msg("renewal invoice missing subscription or customer, acknowledging")
		return nil
	}

	sub, err := s.Gateway.GetSubscription(ctx, inv.Subscription.ID)
	if err != nil {
		return err
	}

	donor, err := repo.GetDonorByCustomerID(ctx, s.DB, inv.Customer.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Ctx(ctx).Warn().
				Str("invoice_id", inv.ID).
				Str("customer_id", inv.Customer.ID).
				Msg("renewal paid for unknown donor, acknowledging")
			return nil
		}
		return err
	}

	frequency := domain.Frequency(sub.Metadata["frequency"])
	if !domain.ValidFrequency(string(frequency)) || frequency == domain.FrequencyOneTime {
		frequency = domain.FrequencyMonthly
	}

	// Renewal events can arrive before the invoice PDF is generated; refetch
	// the invoice so the receipt can attach it. Best effort: a failed refetch
	// just means the receipt goes out without the document.
	if inv.InvoicePDF == "" {
		if full, err := s.Gateway.GetInvoice(ctx, inv.ID); err != nil {
			log.Ctx(ctx).Warn().Err(err).
				Str("invoice_id", inv.ID).
				Msg("invoice refetch failed, continuing without PDF")
		} else if full != nil {
			inv.InvoicePDF = full.InvoicePDF
			if inv.HostedInvoiceURL == "" {
				inv.HostedInvoiceURL = full.HostedInvoiceURL
			}
		}
	}

	d := &domain.Donation{
		DonorID:              donor.ID,
		Amount:               float64(inv.AmountPaid) / 100,
		Currency:             string(inv.Currency),
		Frequency:            frequency,
		Status:               domain.StatusSucceeded,
		StripeSubscriptionID: sub.ID,
		StripeInvoiceID:      inv.ID,
		ReceiptURL:           inv.HostedInvoiceURL,
		InvoicePDFURL:        inv.InvoicePDF,
		Metadata:             domain.Metadata(sub.Metadata),
	}
	if _, err := repo.CreateDonation(ctx, s.DB, d); err != nil {
		return err
	}
	donationsRecorded.WithLabelValues(string(d.Frequency), string(d.Status)).Inc()

	s.sendReceipt(ctx, notify.Receipt{
		To:            donor.Email,
		Name:          donor.Name,
		Amount:        d.Amount,
		Currency:      d.Currency,
		Frequency:     d.Frequency,
		ReceiptURL:    d.ReceiptURL,
		InvoicePDFURL: d.InvoicePDFURL,
	})
	return nil
}

// handleInvoicePaymentFailed records a failed renewal charge and tells the
// donor. The first attempt is skipped: subscriptions open with an incomplete
// first invoice, and its initial decline is surfaced to the donor in the
// checkout flow, not by email.
func (s *WebhookService) handleInvoicePaymentFailed(ctx context.Context, event stripe.Event) error {
	var inv stripe.Invoice
	if err := unmarshalEventObject(event, &inv); err != nil {
		return err
	}

	if inv.AttemptCount <= 1 {
		log.Ctx(ctx).Debug().
			Str("invoice_id", inv.ID).
			Int64("attempt_count", inv.AttemptCount).
			Msg("skipping first payment attempt failure")
		return nil
	}
	if inv.Customer == nil {
		log.Ctx(ctx).Warn().
			Str("invoice_id", inv.ID).
			Msg("failed invoice missing customer, acknowledging")
		return nil
	}

	donor, err := repo.GetDonorByCustomerID(ctx, s.DB, inv.Customer.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			log.Ctx(ctx).Warn().
				Str("invoice_id", inv.ID).
				Str("customer_id", inv.Customer.ID).
				Msg("renewal failed for unknown donor, acknowledging")
			return nil
		}
		return err
	}

	frequency := domain.FrequencyMonthly
	if inv.Subscription != nil {
		if sub, err := s.Gateway.GetSubscription(ctx, inv.Subscription.ID); err == nil {
			if f := domain.Frequency(sub.Metadata["frequency"]); domain.ValidFrequency(string(f)) && f != domain.FrequencyOneTime {
				frequency = f
			}
		}
	}

	d := &domain.Donation{
		DonorID:         donor.ID,
		Amount:          float64(inv.AmountDue) / 100,
		Currency:        string(inv.Currency),
		Frequency:       frequency,
		Status:          domain.StatusFailed,
		StripeInvoiceID: inv.ID,
	}
	if inv.Subscription != nil {
		d.StripeSubscriptionID = inv.Subscription.ID
	}
	if _, err := repo.CreateDonation(ctx, s.DB, d); err != nil {
		return err
	}
	donationsRecorded.WithLabelValues(string(d.Frequency), string(d.Status)).Inc()

	s.sendFailure(ctx, notify.Failure{
		To:               donor.Email,
		Name:             donor.Name,
		Amount:           d.Amount,
		Currency:         d.Currency,
		Frequency:        d.Frequency,
		HostedInvoiceURL: inv.HostedInvoiceURL,
	})
	return nil
}

// handleSubscriptionDeleted marks every donation of the subscription as
// canceled.
func (s *WebhookService) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := unmarshalEventObject(event, &sub); err != nil {
		return err
	}

	n, err := repo.CancelDonationsBySubscription(ctx, s.DB, sub.ID)
	if err != nil {
		return err
	}
	log.Ctx(ctx).Info().
		Str("subscription_id", sub.ID).
		Int64("rows", n).
		Msg("subscription canceled, donations marked")
	return nil
}

// Email failures never fail the webhook: the donation is recorded, the
// receipt is best-effort.
func (s *WebhookService) sendReceipt(ctx context.Context, r notify.Receipt) {
	if s.Notifier == nil || r.To == "" {
		return
	}
	if err := s.Notifier.SendReceipt(ctx, r); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("to", r.To).Msg("receipt email failed")
	}
}

func (s *WebhookService) sendFailure(ctx context.Context, f notify.Failure) {
	if s.Notifier == nil || f.To == "" {
		return
	}
	if err := s.Notifier.SendFailure(ctx, f); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("to", f.To).Msg("failure email failed")
	}
}
