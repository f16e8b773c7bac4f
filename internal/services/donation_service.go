// Package services contains the business logic between HTTP handlers and the
// persistence/gateway layers.
//
// DonationService drives the donor-facing flow: creating payment intents and
// subscriptions, verifying payment outcomes, and listing donation history.
// WebhookService (webhook_service.go) handles the asynchronous gateway
// events.
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	stripe "github.com/stripe/stripe-go/v78"
	"gorm.io/gorm"

	"github.com/tbourn/go-donation-backend/internal/domain"
	"github.com/tbourn/go-donation-backend/internal/gateway"
	"github.com/tbourn/go-donation-backend/internal/repo"
)

// VerifyStatusAlreadyProcessed is returned by VerifyPayment when the payment
// succeeded but a donation for it was already recorded (typically by the
// webhook racing the frontend).
const VerifyStatusAlreadyProcessed = "already_processed"

// MinorUnits converts a major-unit amount (e.g. dollars) to the currency's
// minor unit (cents), rounding to the nearest integer.
func MinorUnits(amount float64) int64 {
	return int64(math.Round(amount * 100))
}

// CreateDonationInput is the validated payload for starting a donation.
type CreateDonationInput struct {
	Amount    float64
	Frequency domain.Frequency
	Profile   domain.DonorProfile
	Metadata  map[string]string
}

// CreateDonationResult carries what the frontend needs to confirm payment.
// Exactly one of PaymentIntentID and SubscriptionID is set, depending on the
// frequency.
type CreateDonationResult struct {
	ClientSecret    string
	PaymentIntentID string
	SubscriptionID  string
}

// DonationService implements the donation checkout and history flows.
type DonationService struct {
	DB       *gorm.DB
	Gateway  gateway.Gateway
	Currency string
}

// NewDonationService wires a DonationService. currency is the ISO 4217 code
// all donations are charged in.
func NewDonationService(db *gorm.DB, gw gateway.Gateway, currency string) *DonationService {
	return &DonationService{DB: db, Gateway: gw, Currency: currency}
}

func (s *DonationService) validate(in CreateDonationInput) error {
	if math.IsNaN(in.Amount) || math.IsInf(in.Amount, 0) || in.Amount < 1 {
		return ErrInvalidAmount
	}
	if !domain.ValidFrequency(string(in.Frequency)) {
		return ErrInvalidFrequency
	}
	return nil
}

// Create starts a donation. Validation happens before any gateway or
// database write, so an invalid request has no side effects.
//
// One-time donations create a payment intent and ensure a donor record
// exists. Recurring donations find or create a gateway customer, refresh the
// donor record with the customer reference, create a price for the chosen
// interval, and open an incomplete subscription whose first invoice carries
// the payment intent the frontend confirms.
func (s *DonationService) Create(ctx context.Context, in CreateDonationInput) (*CreateDonationResult, error) {
	if err := s.validate(in); err != nil {
		return nil, err
	}

	meta := domain.Metadata(in.Metadata).Clone(map[string]string{
		"frequency": string(in.Frequency),
		"email":     in.Profile.Email,
	})

	if in.Frequency == domain.FrequencyOneTime {
		return s.createOneTime(ctx, in, meta)
	}
	return s.createRecurring(ctx, in, meta)
}

func (s *DonationService) createOneTime(ctx context.Context, in CreateDonationInput, meta map[string]string) (*CreateDonationResult, error) {
	pi, err := s.Gateway.CreatePaymentIntent(ctx, MinorUnits(in.Amount), s.Currency, meta)
	if err != nil {
		return nil, err
	}
	if pi.ClientSecret == "" {
		return nil, ErrMissingClientSecret
	}

	if _, err := repo.EnsureDonor(ctx, s.DB, in.Profile); err != nil {
		return nil, err
	}

	return &CreateDonationResult{
		ClientSecret:    pi.ClientSecret,
		PaymentIntentID: pi.ID,
	}, nil
}

func (s *DonationService) createRecurring(ctx context.Context, in CreateDonationInput, meta map[string]string) (*CreateDonationResult, error) {
	cust, err := s.Gateway.FindCustomerByEmail(ctx, in.Profile.Email)
	if err != nil {
		return nil, err
	}
	if cust == nil {
		cust, err = s.Gateway.CreateCustomer(ctx, in.Profile, meta)
		if err != nil {
			return nil, err
		}
	}

	if _, err := repo.UpsertDonor(ctx, s.DB, in.Profile, cust.ID); err != nil {
		return nil, err
	}

	price, err := s.Gateway.CreateRecurringPrice(ctx, MinorUnits(in.Amount), s.Currency, in.Frequency)
	if err != nil {
		return nil, err
	}

	sub, err := s.Gateway.CreateSubscription(ctx, cust.ID, price.ID, meta)
	if err != nil {
		return nil, err
	}
	if sub.LatestInvoice == nil || sub.LatestInvoice.PaymentIntent == nil || sub.LatestInvoice.PaymentIntent.ClientSecret == "" {
		return nil, ErrMissingClientSecret
	}

	return &CreateDonationResult{
		ClientSecret:   sub.LatestInvoice.PaymentIntent.ClientSecret,
		SubscriptionID: sub.ID,
	}, nil
}

// VerifyPayment checks the outcome of a payment intent and records the
// donation when it succeeded.
//
// The returned status is the gateway's payment status verbatim when the
// payment has not succeeded, "succeeded" once the donation is recorded, or
// VerifyStatusAlreadyProcessed when a donation for the intent already
// exists. The donor is resolved from the intent's email metadata, falling
// back to the gateway customer's email; an unknown donor yields
// ErrDonorNotFound.
func (s *DonationService) VerifyPayment(ctx context.Context, paymentIntentID string) (string, error) {
	pi, err := s.Gateway.GetPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return "", err
	}

	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return string(pi.Status), nil
	}

	exists, err := repo.DonationExistsForPaymentIntent(ctx, s.DB, pi.ID)
	if err != nil {
		return "", err
	}
	if exists {
		return VerifyStatusAlreadyProcessed, nil
	}

	email := pi.Metadata["email"]
	if email == "" && pi.Customer != nil {
		cust, err := s.Gateway.GetCustomer(ctx, pi.Customer.ID)
		if err != nil {
			return "", err
		}
		email = cust.Email
	}
	if email == "" {
		return "", ErrCustomerEmailMissing
	}

	donor, err := repo.GetDonorByEmail(ctx, s.DB, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrDonorNotFound
		}
		return "", err
	}

	frequency := domain.Frequency(pi.Metadata["frequency"])
	if !domain.ValidFrequency(string(frequency)) {
		frequency = domain.FrequencyOneTime
	}

	d := &domain.Donation{
		DonorID:               donor.ID,
		Amount:                float64(pi.Amount) / 100,
		Currency:              string(pi.Currency),
		Frequency:             frequency,
		Status:                domain.StatusSucceeded,
		StripePaymentIntentID: pi.ID,
		Metadata:              domain.Metadata(pi.Metadata),
	}
	if pi.LatestCharge != nil {
		d.ReceiptURL = pi.LatestCharge.ReceiptURL
	}

	if _, err := repo.CreateDonation(ctx, s.DB, d); err != nil {
		return "", err
	}
	donationsRecorded.WithLabelValues(string(frequency), string(domain.StatusSucceeded)).Inc()

	log.Ctx(ctx).Info().
		Str("payment_intent_id", pi.ID).
		Str("donor_id", donor.ID).
		Float64("amount", d.Amount).
		Msg("donation verified and recorded")

	return string(domain.StatusSucceeded), nil
}

// DonationsETag returns a weak validator for a donor's history listing. It
// folds the donor id, donation count, and freshest updated_at into one
// opaque token: any insert or status transition changes the token, so a
// matching If-None-Match means the cached page is still current.
func (s *DonationService) DonationsETag(ctx context.Context, email string) (string, error) {
	donor, err := repo.GetDonorByEmail(ctx, s.DB, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrDonorNotFound
		}
		return "", err
	}

	count, last, err := repo.DonationsStats(ctx, s.DB, donor.ID)
	if err != nil {
		return "", err
	}
	var ts int64
	if last != nil {
		ts = last.Unix()
	}
	return fmt.Sprintf(`W/"donations:%s:%d:%d"`, donor.ID, count, ts), nil
}

// DonationPage is one page of a donor's donation history plus the totals and
// freshness marker the handler uses for pagination metadata and ETags.
type DonationPage struct {
	Donations  []domain.Donation
	Total      int64
	LastChange *time.Time
}

// ListDonations returns a page of the donor's donation history, newest
// first. page is 1-based; pageSize is clamped by the handler.
func (s *DonationService) ListDonations(ctx context.Context, email string, page, pageSize int) (*DonationPage, error) {
	donor, err := repo.GetDonorByEmail(ctx, s.DB, email)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrDonorNotFound
		}
		return nil, err
	}

	total, last, err := repo.DonationsStats(ctx, s.DB, donor.ID)
	if err != nil {
		return nil, err
	}

	rows, err := repo.ListDonationsPage(ctx, s.DB, donor.ID, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}

	return &DonationPage{Donations: rows, Total: total, LastChange: last}, nil
}
