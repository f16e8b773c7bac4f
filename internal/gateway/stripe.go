// Package gateway wraps the Stripe API behind a narrow interface so the
// service layer can be tested without network access.
//
// All calls propagate the request context through stripe.Params so gateway
// round-trips are cancelable and traceable. Stripe errors are returned as-is
// (*stripe.Error) so callers can inspect codes when they need to.
package gateway

import (
	"context"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/tbourn/go-donation-backend/internal/domain"
)

// ErrUnsupportedInterval is returned when a frequency has no billing
// interval, i.e. the one-time frequency reaches the recurring path.
var ErrUnsupportedInterval = fmt.Errorf("gateway: frequency has no billing interval")

// Gateway is the payment-provider surface the services depend on.
type Gateway interface {
	CreatePaymentIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*stripe.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error)

	FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error)
	CreateCustomer(ctx context.Context, profile domain.DonorProfile, metadata map[string]string) (*stripe.Customer, error)
	GetCustomer(ctx context.Context, id string) (*stripe.Customer, error)

	CreateRecurringPrice(ctx context.Context, amountMinor int64, currency string, frequency domain.Frequency) (*stripe.Price, error)
	CreateSubscription(ctx context.Context, customerID, priceID string, metadata map[string]string) (*stripe.Subscription, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)

	GetInvoice(ctx context.Context, id string) (*stripe.Invoice, error)

	VerifyEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

// StripeGateway implements Gateway against the Stripe API.
type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

// NewStripeGateway builds a gateway from the secret API key and the webhook
// signing secret.
func NewStripeGateway(secretKey, webhookSecret string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api, webhookSecret: webhookSecret}
}

// IntervalForFrequency maps a recurring donation frequency to Stripe's
// billing interval vocabulary.
func IntervalForFrequency(f domain.Frequency) (stripe.PriceRecurringInterval, error) {
	switch f {
	case domain.FrequencyDaily:
		return stripe.PriceRecurringIntervalDay, nil
	case domain.FrequencyWeekly:
		return stripe.PriceRecurringIntervalWeek, nil
	case domain.FrequencyMonthly:
		return stripe.PriceRecurringIntervalMonth, nil
	case domain.FrequencyYearly:
		return stripe.PriceRecurringIntervalYear, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedInterval, f)
	}
}

// CreatePaymentIntent creates a one-off payment intent in the given currency.
// amountMinor is in the currency's minor unit (cents for usd).
func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(amountMinor),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	return g.api.PaymentIntents.New(params)
}

// GetPaymentIntent fetches a payment intent with its latest charge expanded,
// so callers can read the charge receipt URL without a second round-trip.
func (g *StripeGateway) GetPaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}}
	params.AddExpand("latest_charge")
	return g.api.PaymentIntents.Get(id, params)
}

// FindCustomerByEmail returns the first customer with the given email, or
// (nil, nil) when none exists.
func (g *StripeGateway) FindCustomerByEmail(ctx context.Context, email string) (*stripe.Customer, error) {
	params := &stripe.CustomerListParams{
		ListParams: stripe.ListParams{Context: ctx},
		Email:      stripe.String(email),
	}
	params.Limit = stripe.Int64(1)

	it := g.api.Customers.List(params)
	for it.Next() {
		return it.Customer(), nil
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

// CreateCustomer creates a Stripe customer from the donor's contact details.
func (g *StripeGateway) CreateCustomer(ctx context.Context, profile domain.DonorProfile, metadata map[string]string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(profile.Email),
		Name:   stripe.String(profile.Name),
	}
	if profile.Phone != "" {
		params.Phone = stripe.String(profile.Phone)
	}
	if a := profile.Address; a != nil {
		params.Address = &stripe.AddressParams{
			Line1:      stripe.String(a.Line1),
			Line2:      stripe.String(a.Line2),
			City:       stripe.String(a.City),
			State:      stripe.String(a.State),
			PostalCode: stripe.String(a.PostalCode),
			Country:    stripe.String(a.Country),
		}
	}
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	return g.api.Customers.New(params)
}

// GetCustomer fetches a customer by id.
func (g *StripeGateway) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{Params: stripe.Params{Context: ctx}}
	return g.api.Customers.Get(id, params)
}

// CreateRecurringPrice creates an inline price (and product) for a recurring
// donation at the given amount and billing interval.
func (g *StripeGateway) CreateRecurringPrice(ctx context.Context, amountMinor int64, currency string, frequency domain.Frequency) (*stripe.Price, error) {
	interval, err := IntervalForFrequency(frequency)
	if err != nil {
		return nil, err
	}
	params := &stripe.PriceParams{
		Params:     stripe.Params{Context: ctx},
		Currency:   stripe.String(strings.ToLower(currency)),
		UnitAmount: stripe.Int64(amountMinor),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(string(interval)),
		},
		ProductData: &stripe.PriceProductDataParams{
			Name: stripe.String(fmt.Sprintf("%s donation", frequency)),
		},
	}
	return g.api.Prices.New(params)
}

// CreateSubscription subscribes the customer to the price with payment
// behavior default_incomplete, so the first invoice produces a payment
// intent the frontend confirms. The latest invoice's payment intent is
// expanded so the client secret is available on the response.
func (g *StripeGateway) CreateSubscription(ctx context.Context, customerID, priceID string, metadata map[string]string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
	}
	params.AddExpand("latest_invoice.payment_intent")
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}
	return g.api.Subscriptions.New(params)
}

// GetSubscription fetches a subscription by id.
func (g *StripeGateway) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}}
	return g.api.Subscriptions.Get(id, params)
}

// GetInvoice fetches an invoice by id.
func (g *StripeGateway) GetInvoice(ctx context.Context, id string) (*stripe.Invoice, error) {
	params := &stripe.InvoiceParams{Params: stripe.Params{Context: ctx}}
	return g.api.Invoices.Get(id, params)
}

// VerifyEvent validates the Stripe-Signature header against the raw payload
// and returns the parsed event. An invalid or stale signature fails here and
// the delivery must be rejected.
func (g *StripeGateway) VerifyEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return webhook.ConstructEvent(payload, sigHeader, g.webhookSecret)
}
