// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Donor
// model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a donor is not found, lookup functions return
//     gorm.ErrRecordNotFound (also exported here as ErrNotFound).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
//
// Upsert semantics mirror the donation form's two paths:
//
//   - EnsureDonor inserts a donor on first contact and otherwise only
//     refreshes the update timestamp — existing contact fields are treated
//     as insert-only and left untouched.
//
//   - UpsertDonor (recurring path) refreshes every contact field and stores
//     the gateway customer reference, inserting the donor when missing.
//
// Both are keyed by the donor's email, the natural identity of the record.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-donation-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// EnsureDonor inserts a Donor for profile.Email when none exists, setting
// all contact fields from the profile. When the donor already exists, only
// UpdatedAt is refreshed; contact fields keep their original values.
//
// On success it returns the persisted (or touched) Donor.
func EnsureDonor(ctx context.Context, db *gorm.DB, profile domain.DonorProfile) (*domain.Donor, error) {
	var d domain.Donor
	err := db.WithContext(ctx).Where("email = ?", profile.Email).First(&d).Error
	switch {
	case err == nil:
		if err := db.WithContext(ctx).
			Model(&d).
			Update("updated_at", time.Now().UTC()).Error; err != nil {
			return nil, err
		}
		return &d, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		d = domain.Donor{ID: uuid.NewString(), CreatedAt: time.Now().UTC()}
		profile.Apply(&d)
		if err := db.WithContext(ctx).Create(&d).Error; err != nil {
			return nil, err
		}
		return &d, nil
	default:
		return nil, err
	}
}

// UpsertDonor inserts or updates a Donor keyed by profile.Email, refreshing
// every contact field and recording the gateway customer reference. Used on
// the recurring path, where the form data is considered authoritative.
func UpsertDonor(ctx context.Context, db *gorm.DB, profile domain.DonorProfile, stripeCustomerID string) (*domain.Donor, error) {
	var d domain.Donor
	err := db.WithContext(ctx).Where("email = ?", profile.Email).First(&d).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		d = domain.Donor{ID: uuid.NewString(), CreatedAt: time.Now().UTC()}
	}
	profile.Apply(&d)
	d.StripeCustomerID = stripeCustomerID
	if err := db.WithContext(ctx).Save(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDonorByEmail fetches a donor by email, or ErrNotFound if missing.
func GetDonorByEmail(ctx context.Context, db *gorm.DB, email string) (*domain.Donor, error) {
	var d domain.Donor
	if err := db.WithContext(ctx).Where("email = ?", email).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDonorByCustomerID fetches a donor by its gateway customer reference,
// or ErrNotFound if missing.
func GetDonorByCustomerID(ctx context.Context, db *gorm.DB, customerID string) (*domain.Donor, error) {
	var d domain.Donor
	if err := db.WithContext(ctx).Where("stripe_customer_id = ?", customerID).First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}

// GetDonorByEmailOrCustomerID fetches a donor matching either the email or
// the gateway customer reference, whichever is present. Empty arguments are
// excluded from the match so a blank customer id cannot accidentally match
// donors without one. Returns ErrNotFound when neither matches.
func GetDonorByEmailOrCustomerID(ctx context.Context, db *gorm.DB, email, customerID string) (*domain.Donor, error) {
	q := db.WithContext(ctx)
	switch {
	case email != "" && customerID != "":
		q = q.Where("email = ? OR stripe_customer_id = ?", email, customerID)
	case email != "":
		q = q.Where("email = ?", email)
	case customerID != "":
		q = q.Where("stripe_customer_id = ?", customerID)
	default:
		return nil, gorm.ErrRecordNotFound
	}
	var d domain.Donor
	if err := q.First(&d).Error; err != nil {
		return nil, err
	}
	return &d, nil
}
