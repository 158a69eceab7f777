package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/posbridge/posbridge/internal/clock"
	"github.com/posbridge/posbridge/internal/ingest/domain"
	jobdomain "github.com/posbridge/posbridge/internal/jobqueue/domain"
	loyaltydomain "github.com/posbridge/posbridge/internal/loyalty/domain"
	"github.com/posbridge/posbridge/internal/pos"
	posdomain "github.com/posbridge/posbridge/internal/pos/domain"
	"github.com/posbridge/posbridge/internal/providers/email"
	vendordomain "github.com/posbridge/posbridge/internal/vendors/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	GenID       *snowflake.Node
	Registry    *pos.Registry
	Repo        domain.Repository
	LoyaltyRepo loyaltydomain.Repository
	VendorRepo  vendordomain.Repository
	Email       email.Provider
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clk         clock.Clock
	genID       *snowflake.Node
	registry    *pos.Registry
	repo        domain.Repository
	loyaltyRepo loyaltydomain.Repository
	vendorRepo  vendordomain.Repository
	email       email.Provider
}

func New(p Params) *Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("ingest.service"),
		clk:         p.Clock,
		genID:       p.GenID,
		registry:    p.Registry,
		repo:        p.Repo,
		loyaltyRepo: p.LoyaltyRepo,
		vendorRepo:  p.VendorRepo,
		email:       p.Email,
	}
}

// Process fetches the order behind a queued job and applies it. Any error
// is retryable from the queue's point of view; the snapshot uniqueness
// below keeps retries from double-applying terminal side effects.
func (s *Service) Process(ctx context.Context, job *jobdomain.WebhookJob) error {
	adapter, err := s.registry.Adapter(job.Provider)
	if err != nil {
		return fmt.Errorf("adapter for %q: %w", job.Provider, err)
	}

	order, err := adapter.FetchOrder(ctx, job.LocationID, job.ExternalOrderID)
	if err != nil {
		return fmt.Errorf("fetch order %s/%s: %w", job.Provider, job.ExternalOrderID, err)
	}

	_, err = s.IngestOrder(ctx, job.VendorID, job.VendorLocation, job.Provider, order)
	return err
}

// IngestOrder upserts the canonical order, keeps its kitchen ticket in
// step, and finalizes terminal orders. State moves forward only; stale
// fetches cannot regress an order.
func (s *Service) IngestOrder(ctx context.Context, vendorID, vendorLocationID snowflake.ID, provider string, order *posdomain.Order) (domain.IngestOutcome, error) {
	var outcome domain.IngestOutcome
	if order == nil || strings.TrimSpace(order.ExternalID) == "" {
		return outcome, fmt.Errorf("ingest: empty order")
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	now := s.clk.Now()

	lineItems, err := json.Marshal(order.LineItems)
	if err != nil {
		return outcome, fmt.Errorf("encode line items: %w", err)
	}
	var metadata []byte
	if len(order.Metadata) > 0 {
		metadata, err = json.Marshal(order.Metadata)
		if err != nil {
			return outcome, fmt.Errorf("encode metadata: %w", err)
		}
	}

	stored, err := s.upsertOrder(ctx, vendorID, vendorLocationID, provider, order, lineItems, metadata, now, &outcome)
	if err != nil {
		return outcome, err
	}

	s.ensureTicket(ctx, stored, now, &outcome)

	// Only a completed purchase earns the immutable snapshot and its
	// loyalty writes. Canceled orders close the ticket and nothing more.
	if stored.State == string(posdomain.OrderStateCompleted) {
		finalized, err := s.finalize(ctx, stored, now)
		if err != nil {
			return outcome, err
		}
		outcome.Finalized = finalized
		if finalized {
			s.notifyReceipt(stored)
		}
	}
	return outcome, nil
}

func (s *Service) upsertOrder(ctx context.Context, vendorID, vendorLocationID snowflake.ID, provider string, order *posdomain.Order, lineItems, metadata []byte, now time.Time, outcome *domain.IngestOutcome) (*domain.CanonicalOrder, error) {
	existing, err := s.repo.FindOrder(ctx, s.db, vendorID, provider, order.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}

	if existing == nil {
		record := domain.CanonicalOrder{
			ID:              s.genID.Generate(),
			VendorID:        vendorID,
			VendorLocation:  vendorLocationID,
			Provider:        provider,
			ExternalOrderID: order.ExternalID,
			State:           string(order.State),
			TotalCents:      order.TotalCents,
			Currency:        order.Currency,
			CustomerName:    order.CustomerName,
			CustomerEmail:   order.CustomerEmail,
			LineItems:       datatypes.JSON(lineItems),
			Metadata:        datatypes.JSON(metadata),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if !order.PlacedAt.IsZero() {
			placedAt := order.PlacedAt
			record.PlacedAt = &placedAt
		}
		if posdomain.OrderState(record.State).Terminal() {
			record.ClosedAt = &now
		}

		inserted, err := s.repo.InsertOrder(ctx, s.db, &record)
		if err != nil {
			return nil, fmt.Errorf("insert order: %w", err)
		}
		if inserted {
			outcome.OrderCreated = true
			return &record, nil
		}
		// Lost a race with a concurrent ingest of the same order.
		existing, err = s.repo.FindOrder(ctx, s.db, vendorID, provider, order.ExternalID)
		if err != nil || existing == nil {
			return nil, fmt.Errorf("reload order after conflict: %w", err)
		}
	}

	currentState := posdomain.OrderState(existing.State)
	nextState := order.State
	if currentState.CanTransition(nextState) {
		existing.State = string(nextState)
		outcome.OrderAdvanced = true
		if nextState.Terminal() {
			existing.ClosedAt = &now
		}
	}

	existing.TotalCents = order.TotalCents
	if order.Currency != "" {
		existing.Currency = order.Currency
	}
	if order.CustomerName != "" {
		existing.CustomerName = order.CustomerName
	}
	if order.CustomerEmail != "" {
		existing.CustomerEmail = order.CustomerEmail
	}
	existing.LineItems = datatypes.JSON(lineItems)
	if len(metadata) > 0 {
		existing.Metadata = datatypes.JSON(metadata)
	}
	existing.UpdatedAt = now

	if err := s.repo.UpdateOrder(ctx, s.db, existing); err != nil {
		return nil, fmt.Errorf("update order: %w", err)
	}
	return existing, nil
}

// ensureTicket is best effort: a missed ticket update heals on the next
// event or reconcile pass, so errors do not fail the job. A ticket is
// created only while the order is open; an order first seen already
// terminal never had kitchen work to track.
func (s *Service) ensureTicket(ctx context.Context, order *domain.CanonicalOrder, now time.Time, outcome *domain.IngestOutcome) {
	ticket, err := s.repo.FindTicketByOrder(ctx, s.db, order.ID)
	if err != nil {
		s.log.Warn("find kitchen ticket", zap.String("order_id", order.ID.String()), zap.Error(err))
		return
	}

	if ticket == nil {
		if posdomain.OrderState(order.State).Terminal() {
			return
		}
		placedAt := now
		if order.PlacedAt != nil && !order.PlacedAt.IsZero() {
			placedAt = *order.PlacedAt
		}
		created := domain.KitchenTicket{
			ID:        s.genID.Generate(),
			OrderID:   order.ID,
			VendorID:  order.VendorID,
			Shortcode: ticketShortcode(order.ID),
			State:     order.State,
			PlacedAt:  placedAt,
			CreatedAt: now,
			UpdatedAt: now,
		}
		inserted, err := s.repo.InsertTicket(ctx, s.db, &created)
		if err != nil {
			s.log.Warn("insert kitchen ticket", zap.String("order_id", order.ID.String()), zap.Error(err))
			return
		}
		if inserted {
			outcome.TicketCreated = true
			return
		}
		ticket, err = s.repo.FindTicketByOrder(ctx, s.db, order.ID)
		if err != nil || ticket == nil {
			s.log.Warn("reload kitchen ticket", zap.String("order_id", order.ID.String()), zap.Error(err))
			return
		}
	}

	if posdomain.OrderState(ticket.State).CanTransition(posdomain.OrderState(order.State)) {
		if err := s.repo.UpdateTicketState(ctx, s.db, ticket.ID, order.State, now); err != nil {
			s.log.Warn("advance kitchen ticket", zap.String("ticket_id", ticket.ID.String()), zap.Error(err))
			return
		}
		outcome.TicketAdvanced = true
	}
}

// ticketShortcode derives the code kitchen staff call out. The tail of
// the snowflake in base36 is unique enough within a service window.
func ticketShortcode(id snowflake.ID) string {
	code := strings.ToUpper(strconv.FormatInt(int64(id), 36))
	if len(code) > 4 {
		code = code[len(code)-4:]
	}
	return code
}

// finalize writes the completed-order snapshot and its loyalty writes in
// one transaction. The snapshot's unique key arbitrates:
// only the inserting transaction touches the ledger, so retries and
// duplicate deliveries cannot double-award. The redemption entry is
// additionally guarded by its own existence check.
func (s *Service) finalize(ctx context.Context, order *domain.CanonicalOrder, now time.Time) (bool, error) {
	var inserted bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		snapshot := domain.OrderSnapshot{
			ID:              s.genID.Generate(),
			VendorID:        order.VendorID,
			Provider:        order.Provider,
			ExternalOrderID: order.ExternalOrderID,
			State:           order.State,
			TotalCents:      order.TotalCents,
			Currency:        order.Currency,
			CapturedAt:      now,
		}
		var err error
		inserted, err = s.repo.InsertSnapshot(ctx, tx, &snapshot)
		if err != nil {
			return fmt.Errorf("insert snapshot: %w", err)
		}
		if !inserted {
			return nil
		}

		customerEmail := strings.ToLower(strings.TrimSpace(order.CustomerEmail))
		if customerEmail == "" {
			return nil
		}

		if points := loyaltydomain.PointsForTotal(order.TotalCents); points > 0 {
			entry := loyaltydomain.LedgerEntry{
				ID:              s.genID.Generate(),
				VendorID:        order.VendorID,
				Provider:        order.Provider,
				ExternalOrderID: order.ExternalOrderID,
				CustomerEmail:   customerEmail,
				Points:          points,
				Reason:          loyaltydomain.ReasonOrderCompleted,
				CreatedAt:       now,
			}
			if err := s.loyaltyRepo.InsertEntry(ctx, tx, &entry); err != nil {
				return fmt.Errorf("insert loyalty entry: %w", err)
			}
		}

		redeem := order.RedeemPointsRequested()
		if redeem == 0 {
			return nil
		}
		redeemed, err := s.loyaltyRepo.HasEntryForOrder(ctx, tx, order.VendorID, order.Provider, order.ExternalOrderID, loyaltydomain.ReasonRedemption)
		if err != nil {
			return fmt.Errorf("check redemption entry: %w", err)
		}
		if redeemed {
			return nil
		}
		entry := loyaltydomain.LedgerEntry{
			ID:              s.genID.Generate(),
			VendorID:        order.VendorID,
			Provider:        order.Provider,
			ExternalOrderID: order.ExternalOrderID,
			CustomerEmail:   customerEmail,
			Points:          -redeem,
			Reason:          loyaltydomain.ReasonRedemption,
			CreatedAt:       now,
		}
		if err := s.loyaltyRepo.InsertEntry(ctx, tx, &entry); err != nil {
			return fmt.Errorf("insert redemption entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// notifyReceipt emails a receipt without holding up the job. Failures are
// logged and dropped; receipts are not retried.
func (s *Service) notifyReceipt(order *domain.CanonicalOrder) {
	customerEmail := strings.TrimSpace(order.CustomerEmail)
	if customerEmail == "" {
		return
	}

	var items []posdomain.LineItem
	_ = json.Unmarshal(order.LineItems, &items)

	orderCopy := *order
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		vendorName := "Your restaurant"
		if vendor, err := s.vendorRepo.FindVendorByID(ctx, s.db, orderCopy.VendorID); err == nil && vendor != nil {
			vendorName = vendor.Name
		}

		receiptItems := make([]email.ReceiptItem, 0, len(items))
		for _, item := range items {
			receiptItems = append(receiptItems, email.ReceiptItem{
				Name:       item.Name,
				Quantity:   item.Quantity,
				TotalCents: item.TotalCents,
			})
		}

		body, err := email.RenderOrderReceipt(email.ReceiptData{
			VendorName:   vendorName,
			CustomerName: orderCopy.CustomerName,
			OrderRef:     orderCopy.ExternalOrderID,
			Items:        receiptItems,
			TotalCents:   orderCopy.TotalCents,
			Currency:     orderCopy.Currency,
		})
		if err != nil {
			s.log.Warn("render receipt", zap.Error(err))
			return
		}

		subject := fmt.Sprintf("Your receipt from %s", vendorName)
		if err := s.email.Send(ctx, []string{customerEmail}, subject, body); err != nil {
			s.log.Warn("send receipt",
				zap.String("order_id", orderCopy.ID.String()),
				zap.Error(err),
			)
		}
	}()
}
