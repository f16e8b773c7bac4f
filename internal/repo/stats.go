// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides lightweight aggregate queries used for
// conditional responses (weak ETags) on the donation history listing.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-donation-backend/internal/domain"
)

// DonationsStats returns the donation count and the most recent updated_at
// for a donor. Both values together form a cheap change indicator: any
// insert or status transition moves at least one of them.
//
// The freshest timestamp is read from the newest row rather than a MAX()
// aggregate: the sqlite driver hands aggregate results back as strings,
// which do not scan into time.Time.
func DonationsStats(ctx context.Context, db *gorm.DB, donorID string) (int64, *time.Time, error) {
	var count int64
	if err := db.WithContext(ctx).
		Model(&domain.Donation{}).
		Where("donor_id = ?", donorID).
		Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	var row struct{ UpdatedAt time.Time }
	if err := db.WithContext(ctx).
		Model(&domain.Donation{}).
		Select("updated_at").
		Where("donor_id = ?", donorID).
		Order("updated_at DESC").
		Limit(1).
		Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
