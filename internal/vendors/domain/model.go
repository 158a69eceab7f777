package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Vendor is a restaurant brand onboarded to the platform.
type Vendor struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"not null" json:"name"`
	Slug      string       `gorm:"not null;uniqueIndex" json:"slug"`
	Email     string       `json:"email,omitempty"`
	Active    bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (Vendor) TableName() string { return "vendors" }

// VendorLocation binds a provider location (Square location, Clover
// merchant, Toast restaurant) to a vendor. Webhook notifications resolve
// through this mapping.
type VendorLocation struct {
	ID                 snowflake.ID `gorm:"primaryKey" json:"id"`
	VendorID           snowflake.ID `gorm:"not null;index" json:"vendor_id"`
	Provider           string       `gorm:"type:text;not null" json:"provider"`
	ExternalLocationID string       `gorm:"type:text;not null" json:"external_location_id"`
	Name               string       `json:"name,omitempty"`
	Timezone           string       `json:"timezone,omitempty"`
	Active             bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (VendorLocation) TableName() string { return "vendor_locations" }

var (
	ErrVendorNotFound   = errors.New("vendors: vendor not found")
	ErrLocationNotFound = errors.New("vendors: location not found")
	ErrInvalidName      = errors.New("vendors: invalid name")
	ErrSlugTaken        = errors.New("vendors: slug already in use")
)

type CreateVendorRequest struct {
	Name  string
	Email string
}

type AddLocationRequest struct {
	VendorSlug         string
	Provider           string
	ExternalLocationID string
	Name               string
	Timezone           string
}

type Repository interface {
	InsertVendor(ctx context.Context, db *gorm.DB, vendor *Vendor) error
	FindVendorBySlug(ctx context.Context, db *gorm.DB, slug string) (*Vendor, error)
	FindVendorByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Vendor, error)
	InsertLocation(ctx context.Context, db *gorm.DB, location *VendorLocation) error
	ResolveLocation(ctx context.Context, db *gorm.DB, provider, externalLocationID string) (*VendorLocation, error)
	ListActiveLocations(ctx context.Context, db *gorm.DB) ([]VendorLocation, error)
	ListLocationsByVendor(ctx context.Context, db *gorm.DB, vendorID snowflake.ID) ([]VendorLocation, error)
}

type Service interface {
	Create(ctx context.Context, req CreateVendorRequest) (Vendor, error)
	GetBySlug(ctx context.Context, slug string) (*Vendor, error)
	AddLocation(ctx context.Context, req AddLocationRequest) (VendorLocation, error)
	Locations(ctx context.Context, slug string) ([]VendorLocation, error)
}
