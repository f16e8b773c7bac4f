// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Donation
// model.
//
// Donations are written once (succeeded or failed) when a payment outcome is
// known, and transitioned to canceled in bulk when a subscription ends.
// The "at most one donation per payment intent" invariant is enforced by
// DonationExistsForPaymentIntent followed by CreateDonation rather than a
// unique constraint: concurrent webhook deliveries for the same intent can
// therefore double-insert. This is a documented limitation of the flow, not
// a bug to be fixed here.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-donation-backend/internal/domain"
)

// CreateDonation inserts a new Donation row. The ID is a randomly generated
// UUID and CreatedAt is set to UTC. The caller fills every domain field;
// this function adds no defaults beyond what the schema declares.
func CreateDonation(ctx context.Context, db *gorm.DB, d *domain.Donation) (*domain.Donation, error) {
	d.ID = uuid.NewString()
	d.CreatedAt = time.Now().UTC()
	if err := db.WithContext(ctx).Create(d).Error; err != nil {
		return nil, err
	}
	return d, nil
}

// DonationExistsForPaymentIntent reports whether a donation already
// references the given payment-intent id. It is the best-effort idempotency
// guard for duplicate webhook delivery and the verify-payment fallback.
func DonationExistsForPaymentIntent(ctx context.Context, db *gorm.DB, paymentIntentID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Donation{}).
		Where("stripe_payment_intent_id = ?", paymentIntentID).
		Count(&n).Error
	return n > 0, err
}

// CancelDonationsBySubscription bulk-updates every donation referencing the
// given subscription id to status canceled, returning the number of rows
// affected. Donations for other subscriptions are untouched.
func CancelDonationsBySubscription(ctx context.Context, db *gorm.DB, subscriptionID string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Donation{}).
		Where("stripe_subscription_id = ?", subscriptionID).
		Update("status", domain.StatusCanceled)
	return res.RowsAffected, res.Error
}

// CountDonationsByDonor returns the total number of donations recorded for
// the donor. Used for pagination metadata.
func CountDonationsByDonor(ctx context.Context, db *gorm.DB, donorID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Donation{}).
		Where("donor_id = ?", donorID).
		Count(&total).Error
	return total, err
}

// ListDonationsPage returns a paginated slice of a donor's donations,
// ordered by creation time descending. Use CountDonationsByDonor to obtain
// the total for pagination metadata.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListDonationsPage(ctx context.Context, db *gorm.DB, donorID string, offset, limit int) ([]domain.Donation, error) {
	var out []domain.Donation
	err := db.WithContext(ctx).
		Where("donor_id = ?", donorID).
		Order("created_at desc").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
