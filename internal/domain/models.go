// Package domain defines the persistence models for donors and donations.
// These types are mapped with GORM and form the core data layer of the
// donation backend.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Frequency identifies how often a donation repeats. It aliases string so
// values flow between request payloads, gateway metadata maps, and the model
// column without conversion noise.
type Frequency = string

// Donation frequencies accepted by the donation form. FrequencyOneTime
// produces a single payment intent; every other value produces a recurring
// subscription on the payment gateway.
const (
	FrequencyOneTime Frequency = "one-time"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// Donation lifecycle statuses. A donation is written as succeeded or failed
// at the moment the corresponding gateway event arrives; succeeded donations
// move to canceled in bulk when their subscription is deleted.
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// ValidFrequency reports whether s is one of the five recognized donation
// frequencies.
func ValidFrequency(s string) bool {
	switch s {
	case FrequencyOneTime, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	}
	return false
}

// Donor is the identity record for a donating person, keyed by email.
// A donor is created on the first donation attempt (upsert by email),
// refreshed on subsequent attempts, and never deleted.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Email: unique natural identity key.
//   - Name / Phone: contact fields from the donation form.
//   - AddressLine1..Country: optional postal address, flattened columns.
//   - StripeCustomerID: gateway customer reference, set once the donor has
//     a recurring payment relationship; indexed for webhook lookups.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
//   - DeletedAt: soft deletion marker (unused in practice; donors are never
//     deleted, the column exists for schema consistency).
type Donor struct {
	ID               string         `json:"id"                 gorm:"type:char(36);primaryKey"`
	Email            string         `json:"email"              gorm:"type:varchar(255);not null;uniqueIndex:ux_donor_email"`
	Name             string         `json:"name"               gorm:"type:varchar(255);not null"`
	Phone            string         `json:"phone,omitempty"    gorm:"type:varchar(32)"`
	AddressLine1     string         `json:"address_line1,omitempty" gorm:"type:varchar(255)"`
	AddressLine2     string         `json:"address_line2,omitempty" gorm:"type:varchar(255)"`
	City             string         `json:"city,omitempty"     gorm:"type:varchar(128)"`
	State            string         `json:"state,omitempty"    gorm:"type:varchar(128)"`
	PostalCode       string         `json:"postal_code,omitempty" gorm:"type:varchar(32)"`
	Country          string         `json:"country,omitempty"  gorm:"type:varchar(2)"`
	StripeCustomerID string         `json:"stripe_customer_id,omitempty" gorm:"type:varchar(255);index:idx_donor_customer"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `json:"-"                  gorm:"index"`
}

// TableName returns the database table name for Donor.
func (Donor) TableName() string { return "donors" }

// Donation is the transaction record for a single attempted charge or
// billing cycle. At most one donation exists per payment-intent reference;
// this is enforced by an existence check before insert rather than a unique
// constraint (see repo.CreateDonation).
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - DonorID: weak reference to the owning donor (indexed, no cascade).
//   - Amount: major currency units (e.g. 50.00), converted from the
//     gateway's minor units at write time.
//   - Currency: lowercase ISO code, e.g. "usd".
//   - Frequency / Status: constrained to the enums above.
//   - StripePaymentIntentID / StripeSubscriptionID / StripeInvoiceID:
//     external gateway references, each indexed for webhook lookups.
//   - ReceiptURL / InvoicePDFURL: receipt documents for the donor email.
//   - Metadata: free-form string-to-string tags carried over from the
//     payment object, stored as a JSON text column.
type Donation struct {
	ID                    string         `json:"id"        gorm:"type:char(36);primaryKey"`
	DonorID               string         `json:"donor_id"  gorm:"type:char(36);not null;index:idx_donation_donor"`
	Amount                float64        `json:"amount"    gorm:"not null"`
	Currency              string         `json:"currency"  gorm:"type:varchar(8);not null;default:'usd'"`
	Frequency             string         `json:"frequency" gorm:"type:varchar(16);not null;check:frequency IN ('one-time','daily','weekly','monthly','yearly')"`
	Status                string         `json:"status"    gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','succeeded','failed','canceled')"`
	StripePaymentIntentID string         `json:"stripe_payment_intent_id,omitempty" gorm:"type:varchar(255);index:idx_donation_intent"`
	StripeSubscriptionID  string         `json:"stripe_subscription_id,omitempty"  gorm:"type:varchar(255);index:idx_donation_subscription"`
	StripeInvoiceID       string         `json:"stripe_invoice_id,omitempty"       gorm:"type:varchar(255);index:idx_donation_invoice"`
	ReceiptURL            string         `json:"receipt_url,omitempty"     gorm:"type:text"`
	InvoicePDFURL         string         `json:"invoice_pdf_url,omitempty" gorm:"type:text"`
	Metadata              Metadata       `json:"metadata,omitempty"        gorm:"type:text"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	DeletedAt             gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Donation.
func (Donation) TableName() string { return "donations" }
