package repository

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/posbridge/posbridge/internal/vendors/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertVendor(ctx context.Context, db *gorm.DB, vendor *domain.Vendor) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO vendors (id, name, slug, email, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		vendor.ID,
		vendor.Name,
		vendor.Slug,
		vendor.Email,
		vendor.Active,
		vendor.CreatedAt,
		vendor.UpdatedAt,
	).Error
}

func (r *repo) FindVendorBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Vendor, error) {
	var vendor domain.Vendor
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, slug, email, active, created_at, updated_at
		 FROM vendors WHERE slug = ?`,
		strings.TrimSpace(slug),
	).Scan(&vendor).Error
	if err != nil {
		return nil, err
	}
	if vendor.ID == 0 {
		return nil, nil
	}
	return &vendor, nil
}

func (r *repo) FindVendorByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Vendor, error) {
	var vendor domain.Vendor
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, slug, email, active, created_at, updated_at
		 FROM vendors WHERE id = ?`,
		id,
	).Scan(&vendor).Error
	if err != nil {
		return nil, err
	}
	if vendor.ID == 0 {
		return nil, nil
	}
	return &vendor, nil
}

func (r *repo) InsertLocation(ctx context.Context, db *gorm.DB, location *domain.VendorLocation) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO vendor_locations (id, vendor_id, provider, external_location_id, name, timezone, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		location.ID,
		location.VendorID,
		location.Provider,
		location.ExternalLocationID,
		location.Name,
		location.Timezone,
		location.Active,
		location.CreatedAt,
		location.UpdatedAt,
	).Error
}

func (r *repo) ResolveLocation(ctx context.Context, db *gorm.DB, provider, externalLocationID string) (*domain.VendorLocation, error) {
	var location domain.VendorLocation
	err := db.WithContext(ctx).Raw(
		`SELECT id, vendor_id, provider, external_location_id, name, timezone, active, created_at, updated_at
		 FROM vendor_locations
		 WHERE provider = ? AND external_location_id = ? AND active = ?`,
		strings.ToLower(strings.TrimSpace(provider)),
		strings.TrimSpace(externalLocationID),
		true,
	).Scan(&location).Error
	if err != nil {
		return nil, err
	}
	if location.ID == 0 {
		return nil, nil
	}
	return &location, nil
}

func (r *repo) ListActiveLocations(ctx context.Context, db *gorm.DB) ([]domain.VendorLocation, error) {
	var locations []domain.VendorLocation
	err := db.WithContext(ctx).Raw(
		`SELECT id, vendor_id, provider, external_location_id, name, timezone, active, created_at, updated_at
		 FROM vendor_locations WHERE active = ?
		 ORDER BY provider, external_location_id`,
		true,
	).Scan(&locations).Error
	if err != nil {
		return nil, err
	}
	return locations, nil
}

func (r *repo) ListLocationsByVendor(ctx context.Context, db *gorm.DB, vendorID snowflake.ID) ([]domain.VendorLocation, error) {
	var locations []domain.VendorLocation
	err := db.WithContext(ctx).Raw(
		`SELECT id, vendor_id, provider, external_location_id, name, timezone, active, created_at, updated_at
		 FROM vendor_locations WHERE vendor_id = ?
		 ORDER BY created_at, id`,
		vendorID,
	).Scan(&locations).Error
	if err != nil {
		return nil, err
	}
	return locations, nil
}
