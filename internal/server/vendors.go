package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	vendordomain "github.com/posbridge/posbridge/internal/vendors/domain"
)

type createVendorRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email"`
}

func (s *Server) CreateVendor(c *gin.Context) {
	var req createVendorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	vendor, err := s.vendorSvc.Create(c.Request.Context(), vendordomain.CreateVendorRequest{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, vendor)
}

func (s *Server) GetVendor(c *gin.Context) {
	vendor, err := s.vendorSvc.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, vendor)
}

type addLocationRequest struct {
	Provider           string `json:"provider" binding:"required"`
	ExternalLocationID string `json:"external_location_id" binding:"required"`
	Name               string `json:"name"`
	Timezone           string `json:"timezone"`
}

func (s *Server) AddVendorLocation(c *gin.Context) {
	var req addLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if !s.registry.ProviderExists(req.Provider) {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	location, err := s.vendorSvc.AddLocation(c.Request.Context(), vendordomain.AddLocationRequest{
		VendorSlug:         c.Param("slug"),
		Provider:           req.Provider,
		ExternalLocationID: req.ExternalLocationID,
		Name:               req.Name,
		Timezone:           req.Timezone,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, location)
}

func (s *Server) ListVendorLocations(c *gin.Context) {
	locations, err := s.vendorSvc.Locations(c.Request.Context(), c.Param("slug"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"locations": locations})
}

func (s *Server) GetLoyaltyBalance(c *gin.Context) {
	email := strings.TrimSpace(c.Query("email"))
	if email == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	vendor, err := s.vendorSvc.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.loyaltyRepo.Balance(c.Request.Context(), s.db, vendor.ID, email)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"vendor": vendor.Slug,
		"email":  email,
		"points": balance,
	})
}
