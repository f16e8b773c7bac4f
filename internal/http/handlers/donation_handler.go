// Donation HTTP handlers.
//
// This file exposes REST endpoints for the donation checkout flow:
//   - POST /stripe/create-payment-intent  (start a one-time or recurring donation)
//   - POST /stripe/verify-payment         (confirm outcome, record donation)
//   - GET  /donations                     (history, paginated, ETag support)
//   - GET  /config                        (publishable key for the frontend)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	stripe "github.com/stripe/stripe-go/v78"
	"gorm.io/gorm"

	"github.com/tbourn/go-donation-backend/internal/domain"
	"github.com/tbourn/go-donation-backend/internal/services"
	"github.com/tbourn/go-donation-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// DonationService defines the checkout and history operations consumed by
// HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type DonationService interface {
	// Create starts a donation and returns what the frontend needs to
	// confirm the payment.
	Create(ctx context.Context, in services.CreateDonationInput) (*services.CreateDonationResult, error)
	// VerifyPayment checks a payment intent's outcome and records the
	// donation when it succeeded.
	VerifyPayment(ctx context.Context, paymentIntentID string) (string, error)
	// ListDonations returns a page of the donor's donation history.
	ListDonations(ctx context.Context, email string, page, pageSize int) (*services.DonationPage, error)
	// DonationsETag returns the weak validator for the donor's history,
	// used for conditional GETs.
	DonationsETag(ctx context.Context, email string) (string, error)
}

// WebhookService processes verified gateway events.
type WebhookService interface {
	ProcessEvent(ctx context.Context, event stripe.Event) error
}

// EventVerifier validates a webhook payload's signature and parses the event.
type EventVerifier interface {
	VerifyEvent(payload []byte, sigHeader string) (stripe.Event, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints for donations and webhooks. It depends
// on abstract service interfaces to keep transport concerns separate from
// business logic.
type Handlers struct {
	donationSvc DonationService
	webhookSvc  WebhookService
	verifier    EventVerifier

	publishableKey string
	currency       string
	dbPath         string
}

// New constructs a Handlers instance bound to the given services.
// publishableKey and currency feed the frontend config endpoint; dbPath is
// reported by the database probe.
func New(donationSvc DonationService, webhookSvc WebhookService, verifier EventVerifier, publishableKey, currency, dbPath string) *Handlers {
	return &Handlers{
		donationSvc:    donationSvc,
		webhookSvc:     webhookSvc,
		verifier:       verifier,
		publishableKey: publishableKey,
		currency:       currency,
		dbPath:         dbPath,
	}
}

//
// DTOs
//

// AddressRequest is the optional postal address in the donation payload.
type AddressRequest struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// DonorRequest is the donor contact block of the donation payload.
type DonorRequest struct {
	Email   string          `json:"email" binding:"required,email"`
	Name    string          `json:"name" binding:"required,min=1,max=255"`
	Phone   string          `json:"phone"`
	Address *AddressRequest `json:"address"`
}

// CreateDonationRequest is the JSON payload for starting a donation.
type CreateDonationRequest struct {
	// Amount is in major currency units (e.g. dollars), minimum 1.
	Amount float64 `json:"amount" binding:"required"`
	// Frequency is one of: one-time, daily, weekly, monthly, yearly.
	Frequency string `json:"frequency" binding:"required"`
	// Donor carries the contact details stored with the donation.
	Donor DonorRequest `json:"donor" binding:"required"`
	// Metadata is attached verbatim to the gateway objects.
	Metadata map[string]string `json:"metadata"`
}

// CreateDonationResponse carries the client secret the frontend confirms.
// Exactly one of PaymentIntentID and SubscriptionID is present.
type CreateDonationResponse struct {
	ClientSecret    string `json:"clientSecret"`
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
	SubscriptionID  string `json:"subscriptionId,omitempty"`
}

// VerifyPaymentRequest is the JSON payload for verifying a payment outcome.
type VerifyPaymentRequest struct {
	PaymentIntentID string `json:"paymentIntentId" binding:"required"`
}

// VerifyPaymentResponse reports the payment status after verification.
type VerifyPaymentResponse struct {
	Status string `json:"status"`
}

// ConfigResponse exposes the publishable gateway key and donation currency
// to the frontend.
type ConfigResponse struct {
	PublishableKey string `json:"publishableKey"`
	Currency       string `json:"currency"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListDonationsResponse wraps a page of donations and pagination information.
type ListDonationsResponse struct {
	Donations  []domain.Donation `json:"donations"`
	Pagination Pagination        `json:"pagination"`
}

//
// Helpers
//

// donationPages bounds page and page_size query params for history listings.
var donationPages = utils.PageRequest{DefaultSize: 20, MaxSize: 100}

// clampPagination parses and bounds page and page_size query params, returning
// (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	return donationPages.Resolve(c.Query("page"), c.Query("page_size"))
}

// profileFromRequest maps the donor block to the domain profile type.
func profileFromRequest(d DonorRequest) domain.DonorProfile {
	p := domain.DonorProfile{
		Email: strings.ToLower(strings.TrimSpace(d.Email)),
		Name:  strings.TrimSpace(d.Name),
		Phone: strings.TrimSpace(d.Phone),
	}
	if a := d.Address; a != nil {
		p.Address = &domain.Address{
			Line1:      a.Line1,
			Line2:      a.Line2,
			City:       a.City,
			State:      a.State,
			PostalCode: a.PostalCode,
			Country:    a.Country,
		}
	}
	return p
}

// gatewayErrorMessage unwraps a *stripe.Error into its user-facing message,
// falling back to the raw error string.
func gatewayErrorMessage(err error) string {
	var se *stripe.Error
	if errors.As(err, &se) && se.Msg != "" {
		return se.Msg
	}
	return err.Error()
}

//
// Handlers
//

// CreateDonation starts a donation: a payment intent for one-time gifts, a
// subscription for recurring ones. Validation failures have no side effects.
func (h *Handlers) CreateDonation(c *gin.Context) {
	var req CreateDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, "invalid JSON body: amount, frequency, and donor (email, name) are required")
		return
	}

	res, err := h.donationSvc.Create(c.Request.Context(), services.CreateDonationInput{
		Amount:    req.Amount,
		Frequency: domain.Frequency(strings.TrimSpace(req.Frequency)),
		Profile:   profileFromRequest(req.Donor),
		Metadata:  req.Metadata,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidAmount):
			fail(c, http.StatusBadRequest, ErrCodeValidationFailed, "amount must be at least 1")
		case errors.Is(err, services.ErrInvalidFrequency):
			fail(c, http.StatusBadRequest, ErrCodeValidationFailed, "frequency must be one of: one-time, daily, weekly, monthly, yearly")
		default:
			fail(c, http.StatusInternalServerError, ErrCodePaymentFailed, gatewayErrorMessage(err))
		}
		return
	}

	ok(c, http.StatusOK, CreateDonationResponse{
		ClientSecret:    res.ClientSecret,
		PaymentIntentID: res.PaymentIntentID,
		SubscriptionID:  res.SubscriptionID,
	})
}

// VerifyPayment confirms a payment intent's outcome and records the donation
// when it succeeded. The status is returned verbatim so the frontend can
// show processing/failure states.
func (h *Handlers) VerifyPayment(c *gin.Context) {
	var req VerifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.PaymentIntentID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, "paymentIntentId required")
		return
	}

	status, err := h.donationSvc.VerifyPayment(c.Request.Context(), strings.TrimSpace(req.PaymentIntentID))
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDonorNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "donor not found")
		case errors.Is(err, services.ErrCustomerEmailMissing):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "no donor email on payment")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeVerificationFailed, gatewayErrorMessage(err))
		}
		return
	}

	ok(c, http.StatusOK, VerifyPaymentResponse{Status: status})
}

// ListDonations returns a page of a donor's donation history. Supports weak
// ETag via If-None-Match and may return 304.
func (h *Handlers) ListDonations(c *gin.Context) {
	ctx := c.Request.Context()
	email := strings.ToLower(strings.TrimSpace(c.Query("email")))
	if email == "" {
		fail(c, http.StatusBadRequest, ErrCodeValidationFailed, "email query parameter required")
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort; lookup errors fall through to the list
	// call, which reports them properly).
	if etag, err := h.donationSvc.DonationsETag(ctx, email); err == nil && etag != "" {
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	// Fetch page.
	pageData, err := h.donationSvc.ListDonations(ctx, email, page, pageSize)
	if err != nil {
		if errors.Is(err, services.ErrDonorNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "donor not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	total := pageData.Total
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	resp := ListDonationsResponse{
		Donations: pageData.Donations,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	}
	ok(c, http.StatusOK, resp)
}

// GetConfig exposes the publishable key and currency the frontend needs to
// initialize the payment form.
func (h *Handlers) GetConfig(c *gin.Context) {
	ok(c, http.StatusOK, ConfigResponse{
		PublishableKey: h.publishableKey,
		Currency:       h.currency,
	})
}

// TestDB probes database connectivity. readyState mirrors the convention of
// connection-state probes: 1 when connected, 0 when not.
func (h *Handlers) TestDB(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":     "error",
				"readyState": 0,
				"dbName":     h.dbPath,
			})
			return
		}
		ok(c, http.StatusOK, gin.H{
			"status":     "ok",
			"readyState": 1,
			"dbName":     h.dbPath,
		})
	}
}
