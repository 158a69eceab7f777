package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/posbridge/posbridge/internal/vendors/domain"
	"github.com/posbridge/posbridge/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("vendors.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateVendorRequest) (domain.Vendor, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Vendor{}, domain.ErrInvalidName
	}

	now := time.Now().UTC()
	vendor := domain.Vendor{
		ID:        s.genID.Generate(),
		Name:      name,
		Slug:      slug.Make(name),
		Email:     strings.TrimSpace(req.Email),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.repo.InsertVendor(ctx, s.db, &vendor); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.Vendor{}, domain.ErrSlugTaken
		}
		return domain.Vendor{}, err
	}

	s.log.Info("vendor created",
		zap.String("vendor_id", vendor.ID.String()),
		zap.String("slug", vendor.Slug),
	)
	return vendor, nil
}

func (s *Service) GetBySlug(ctx context.Context, vendorSlug string) (*domain.Vendor, error) {
	vendor, err := s.repo.FindVendorBySlug(ctx, s.db, vendorSlug)
	if err != nil {
		return nil, err
	}
	if vendor == nil {
		return nil, domain.ErrVendorNotFound
	}
	return vendor, nil
}

func (s *Service) AddLocation(ctx context.Context, req domain.AddLocationRequest) (domain.VendorLocation, error) {
	vendor, err := s.GetBySlug(ctx, req.VendorSlug)
	if err != nil {
		return domain.VendorLocation{}, err
	}

	now := time.Now().UTC()
	location := domain.VendorLocation{
		ID:                 s.genID.Generate(),
		VendorID:           vendor.ID,
		Provider:           strings.ToLower(strings.TrimSpace(req.Provider)),
		ExternalLocationID: strings.TrimSpace(req.ExternalLocationID),
		Name:               strings.TrimSpace(req.Name),
		Timezone:           strings.TrimSpace(req.Timezone),
		Active:             true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	if err := s.repo.InsertLocation(ctx, s.db, &location); err != nil {
		return domain.VendorLocation{}, err
	}
	return location, nil
}

func (s *Service) Locations(ctx context.Context, vendorSlug string) ([]domain.VendorLocation, error) {
	vendor, err := s.GetBySlug(ctx, vendorSlug)
	if err != nil {
		return nil, err
	}
	return s.repo.ListLocationsByVendor(ctx, s.db, vendor.ID)
}
