package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Additional-Code/copra/internal/cache"
	"github.com/Additional-Code/copra/internal/config"
	"github.com/Additional-Code/copra/internal/database"
	"github.com/Additional-Code/copra/internal/entity"
	"github.com/Additional-Code/copra/internal/inventory"
	"github.com/Additional-Code/copra/internal/messaging"
	"github.com/Additional-Code/copra/internal/observability"
	"github.com/Additional-Code/copra/internal/pricing"
	orderrepo "github.com/Additional-Code/copra/internal/repository/order"
	productrepo "github.com/Additional-Code/copra/internal/repository/product"
	"github.com/Additional-Code/copra/internal/validation"
	"github.com/Additional-Code/copra/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/Additional-Code/copra/service/order")

const (
	defaultPageSize = 20
	maxPageSize     = 100
	defaultCountry  = "Ghana"
)

// CustomerInput is the buyer's contact details at checkout.
type CustomerInput struct {
	Name     string `json:"name" validate:"notblank,max=120"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Phone    string `json:"phone" validate:"phone"`
	WhatsApp string `json:"whatsapp,omitempty" validate:"omitempty,phone"`
}

// AddressInput is the delivery destination at checkout.
type AddressInput struct {
	Street  string `json:"street" validate:"notblank,max=255"`
	City    string `json:"city" validate:"notblank,max=128"`
	Region  string `json:"region" validate:"notblank,max=128"`
	Country string `json:"country,omitempty" validate:"max=64"`
	Zip     string `json:"zip,omitempty" validate:"max=32"`
}

// ItemInput is one requested product line.
type ItemInput struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"min=1,max=1000"`
}

// CreateInput is everything needed to place an order. Prices are never taken from the caller.
type CreateInput struct {
	Customer        CustomerInput        `json:"customer"`
	ShippingAddress AddressInput         `json:"shipping_address"`
	Items           []ItemInput          `json:"items" validate:"required,min=1,max=50,dive"`
	PaymentMethod   entity.PaymentMethod `json:"payment_method" validate:"payment_method"`
	Notes           string               `json:"notes,omitempty" validate:"max=1000"`
}

// Filter narrows admin listings.
type Filter struct {
	Status        entity.OrderStatus
	PaymentStatus entity.PaymentStatus
	From          *time.Time
	To            *time.Time
	Search        string
	Page          int
	PageSize      int
}

// Page is one page of orders, newest first.
type Page struct {
	Items      []entity.Order `json:"items"`
	Total      int            `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalPages int            `json:"total_pages"`
}

// PaymentUpdate changes an order's payment state. IsPaid, when set, must agree with Status.
type PaymentUpdate struct {
	Status    entity.PaymentStatus
	Reference string
	IsPaid    *bool
}

// Service encapsulates business logic around orders.
type Service struct {
	repo      Repository
	products  Products
	stock     Stock
	numbers   Numbers
	tx        Transactor
	fees      Fees
	validator *validation.Validator
	cache     cache.Store
	cacheTTL  time.Duration
	publisher messaging.Client
	logger    *zap.Logger
	metrics   *observability.Metrics
	window    time.Duration
	currency  string
	retry     database.RetryOptions
	now       func() time.Time
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Repository Repository
	Products   Products
	Stock      Stock
	Numbers    Numbers
	Tx         Transactor
	Fees       Fees
	Validator  *validation.Validator
	Cache      cache.Store
	Config     config.Config
	Logger     *zap.Logger
	Publisher  messaging.Client
	Metrics    *observability.Metrics `optional:"true"`
}

// NewService wires a new Service instance.
func NewService(p Params) *Service {
	return &Service{
		repo:      p.Repository,
		products:  p.Products,
		stock:     p.Stock,
		numbers:   p.Numbers,
		tx:        p.Tx,
		fees:      p.Fees,
		validator: p.Validator,
		cache:     p.Cache,
		cacheTTL:  p.Config.Cache.DefaultTTL,
		publisher: p.Publisher,
		logger:    p.Logger,
		metrics:   p.Metrics,
		window:    p.Config.Store.CancelWindow,
		currency:  p.Config.Store.Currency,
		retry: database.RetryOptions{
			MaxRetries: p.Config.Store.MaxRetries,
			BaseDelay:  p.Config.Store.RetryBaseDelay,
		},
		now: time.Now,
	}
}

// Create validates the checkout, snapshots product prices, stamps a number and stores a pending order.
func (s *Service) Create(ctx context.Context, in CreateInput) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Create", trace.WithAttributes(attribute.Int("order.lines", len(in.Items))))
	defer span.End()

	if err := s.validator.Validate(in); err != nil {
		return nil, err
	}

	items, lines, err := s.snapshotItems(ctx, in.Items)
	if err != nil {
		return nil, err
	}

	totals := pricing.ComputeOrderTotals(lines, s.fees.DeliveryFeeForRegion(in.ShippingAddress.Region))
	now := s.now().UTC()
	country := strings.TrimSpace(in.ShippingAddress.Country)
	if country == "" {
		country = defaultCountry
	}

	order := &entity.Order{
		Customer: entity.CustomerInfo{
			Name:     strings.TrimSpace(in.Customer.Name),
			Email:    strings.ToLower(strings.TrimSpace(in.Customer.Email)),
			Phone:    strings.TrimSpace(in.Customer.Phone),
			WhatsApp: strings.TrimSpace(in.Customer.WhatsApp),
		},
		ShippingAddress: entity.Address{
			Street:  strings.TrimSpace(in.ShippingAddress.Street),
			City:    strings.TrimSpace(in.ShippingAddress.City),
			Region:  strings.TrimSpace(in.ShippingAddress.Region),
			Country: country,
			Zip:     strings.TrimSpace(in.ShippingAddress.Zip),
		},
		Items:         items,
		Subtotal:      totals.Subtotal,
		DeliveryFee:   totals.DeliveryFee,
		Total:         totals.Total,
		PaymentMethod: in.PaymentMethod,
		PaymentStatus: entity.PaymentStatusPending,
		Status:        entity.OrderStatusPending,
		Notes:         strings.TrimSpace(in.Notes),
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}

	// the sequence commits on its own, so a retry after a duplicate always draws a fresh number
	err = database.Retry(ctx, s.retry, func(ctx context.Context) error {
		number, err := s.numbers.Next(ctx, now)
		if err != nil {
			return err
		}
		order.ID = 0
		order.Number = number
		return s.repo.Insert(ctx, order)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return nil, s.translate(err, "failed to create order")
	}

	span.SetAttributes(attribute.String("order.number", order.Number))
	s.logger.Info("order created",
		zap.String("order.number", order.Number),
		zap.String("order.total", order.Total.StringFixed(2)),
		zap.Int("order.lines", len(order.Items)),
	)
	s.storeInCache(ctx, order)
	s.publish(ctx, EventCreated, order, now)
	s.metrics.OrderCreated(ctx)
	return order, nil
}

func (s *Service) snapshotItems(ctx context.Context, in []ItemInput) ([]entity.OrderItem, []pricing.Line, error) {
	requested := make(map[int64]int, len(in))
	for _, it := range in {
		requested[it.ProductID] += it.Quantity
	}

	items := make([]entity.OrderItem, 0, len(in))
	lines := make([]pricing.Line, 0, len(in))
	for _, it := range in {
		p, err := s.products.FindByID(ctx, it.ProductID)
		if errors.Is(err, productrepo.ErrNotFound) {
			return nil, nil, errorbank.NotFound(fmt.Sprintf("product %d not found", it.ProductID), errorbank.WithDetail("product_id", it.ProductID))
		}
		if err != nil {
			return nil, nil, errorbank.Internal("failed to load product", errorbank.WithCause(err))
		}
		if requested[p.ID] > p.StockQuantity {
			return nil, nil, errorbank.Unprocessable(
				fmt.Sprintf("only %d of %s left in stock", max(p.StockQuantity, 0), p.Name),
				errorbank.WithDetails(map[string]any{
					"code":       "insufficient_stock",
					"product_id": p.ID,
					"available":  max(p.StockQuantity, 0),
					"requested":  requested[p.ID],
				}),
			)
		}

		items = append(items, entity.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			UnitPrice: p.Price,
			Quantity:  it.Quantity,
			ImageURL:  p.ImageURL,
		})
		lines = append(lines, pricing.Line{UnitPrice: p.Price, Quantity: it.Quantity})
	}
	return items, lines, nil
}

// Get retrieves an order by number or numeric id, consulting cache when available.
func (s *Service) Get(ctx context.Context, ref string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.Get", trace.WithAttributes(attribute.String("order.ref", ref)))
	defer span.End()

	if order, err := cache.GetJSON[entity.Order](ctx, s.cache, cache.Key("orders", ref)); err == nil {
		return order, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("orders cache read failed", zap.String("order.ref", ref), zap.Error(err))
	}

	order, err := s.find(ctx, ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lookup failed")
		return nil, s.translate(err, "failed to load order")
	}

	s.storeInCache(ctx, order)
	return order, nil
}

// FindByPaymentReference returns the order a gateway reference is attached to.
func (s *Service) FindByPaymentReference(ctx context.Context, reference string) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.FindByPaymentReference", trace.WithAttributes(attribute.String("payment.reference", reference)))
	defer span.End()

	order, err := s.repo.FindByPaymentReference(ctx, reference)
	if err != nil {
		return nil, s.translate(err, "failed to load order")
	}
	return order, nil
}

// List returns a filtered page of orders, newest first.
func (s *Service) List(ctx context.Context, f Filter) (*Page, error) {
	ctx, span := serviceTracer.Start(ctx, "OrderService.List")
	defer span.End()

	fields := map[string]string{}
	if f.Status != "" && !f.Status.Valid() {
		fields["status"] = "is not a recognised order status"
	}
	if f.PaymentStatus != "" && !f.PaymentStatus.Valid() {
		fields["payment_status"] = "is not a recognised payment status"
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		fields["from"] = "must not be after to"
	}
	if len(fields) > 0 {
		return nil, errorbank.Validation("invalid order filter", fields)
	}

	page := f.Page
	if page < 1 {
		page = 1
	}
	size := f.PageSize
	if size < 1 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	items, total, err := s.repo.List(ctx, orderrepo.Query{
		Status:        f.Status,
		PaymentStatus: f.PaymentStatus,
		From:          f.From,
		To:            f.To,
		Search:        f.Search,
		Limit:         size,
		Offset:        (page - 1) * size,
	})
	if err != nil {
		span.RecordError(err)
		return nil, errorbank.Internal("failed to list orders", errorbank.WithCause(err))
	}
	if items == nil {
		items = []entity.Order{}
	}

	return &Page{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   size,
		TotalPages: int(math.Ceil(float64(total) / float64(size))),
	}, nil
}

// UpdateStatus moves an order's fulfilment status forward. Moving to cancelled is an admin cancellation.
func (s *Service) UpdateStatus(ctx context.Context, ref string, status entity.OrderStatus, notes string) (*entity.Order, error) {
	if status == entity.OrderStatusCancelled {
		return s.Cancel(ctx, ref, entity.ActorAdmin, notes)
	}
	return s.mutate(ctx, ref, "OrderService.UpdateStatus", func(o *entity.Order, now time.Time) (effect, error) {
		return applyStatus(o, status, strings.TrimSpace(notes), now)
	})
}

// UpdatePaymentStatus applies a payment status change. Reaching paid confirms a pending order and
// decrements stock exactly once.
func (s *Service) UpdatePaymentStatus(ctx context.Context, ref string, u PaymentUpdate) (*entity.Order, error) {
	if u.IsPaid != nil && *u.IsPaid != (u.Status == entity.PaymentStatusPaid) {
		return nil, errorbank.Validation("is_paid must agree with payment_status", map[string]string{
			"is_paid": "must be true exactly when payment_status is paid",
		})
	}
	return s.mutate(ctx, ref, "OrderService.UpdatePaymentStatus", func(o *entity.Order, now time.Time) (effect, error) {
		eff, err := applyPayment(o, u.Status, now)
		if err != nil {
			return eff, err
		}
		if eff.changed && u.Reference != "" && o.PaymentReference == "" {
			o.PaymentReference = u.Reference
		}
		return eff, nil
	})
}

// Cancel cancels an order on behalf of actor, restoring stock when it had been taken.
func (s *Service) Cancel(ctx context.Context, ref string, actor entity.Actor, reason string) (*entity.Order, error) {
	if actor != entity.ActorCustomer && actor != entity.ActorAdmin {
		return nil, errorbank.Validation("unknown actor", map[string]string{"actor": "must be customer or admin"})
	}
	return s.mutate(ctx, ref, "OrderService.Cancel", func(o *entity.Order, now time.Time) (effect, error) {
		return applyCancel(o, actor, strings.TrimSpace(reason), now, s.window)
	})
}

// AttachPaymentReference records the gateway reference for an unpaid, active order.
func (s *Service) AttachPaymentReference(ctx context.Context, ref, reference string) (*entity.Order, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, errorbank.Validation("payment reference is required", map[string]string{"reference": "is required"})
	}
	return s.mutate(ctx, ref, "OrderService.AttachPaymentReference", func(o *entity.Order, _ time.Time) (effect, error) {
		if o.Status.Terminal() {
			return effect{}, terminalError(o)
		}
		if o.IsPaid {
			return effect{}, errorbank.InvalidTransition(fmt.Sprintf("order %s is already paid", o.Number))
		}
		if o.PaymentReference == reference {
			return effect{}, nil
		}
		o.PaymentReference = reference
		return effect{changed: true}, nil
	})
}

type transition func(o *entity.Order, now time.Time) (effect, error)

// mutate loads the order, applies fn, adjusts stock and writes the result in one transaction
// guarded by the order version. Version conflicts retry against fresh state.
func (s *Service) mutate(ctx context.Context, ref, op string, fn transition) (*entity.Order, error) {
	ctx, span := serviceTracer.Start(ctx, op, trace.WithAttributes(attribute.String("order.ref", ref)))
	defer span.End()

	now := s.now().UTC()
	var (
		result *entity.Order
		eff    effect
	)
	err := database.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.tx.RunInTx(ctx, func(ctx context.Context) error {
			o, err := s.find(ctx, ref)
			if err != nil {
				return err
			}
			version := o.Version

			eff, err = fn(o, now)
			if err != nil {
				return err
			}
			result = o
			if !eff.changed {
				return nil
			}

			if err := s.applyStock(ctx, o, eff.stock); err != nil {
				return err
			}
			o.UpdatedAt = now
			return s.repo.Update(ctx, o, version)
		})
	})
	if err != nil {
		if !errorbank.IsKind(err, errorbank.KindInvalidTransition) && !errorbank.IsKind(err, errorbank.KindNotCancellable) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "transition failed")
		}
		return nil, s.translate(err, "failed to update order")
	}

	if eff.changed {
		s.logger.Info("order updated",
			zap.String("op", op),
			zap.String("order.number", result.Number),
			zap.String("order.status", string(result.Status)),
			zap.String("payment.status", string(result.PaymentStatus)),
		)
		s.invalidate(ctx, result)
		s.publish(ctx, eff.event, result, now)
		if eff.event != "" {
			s.metrics.OrderTransition(ctx, eff.event, string(result.Status))
		}
	}
	return result, nil
}

func (s *Service) applyStock(ctx context.Context, o *entity.Order, st stockEffect) error {
	var dir inventory.Direction
	switch st {
	case stockDecrement:
		dir = inventory.Decrease
	case stockRestore:
		dir = inventory.Increase
	default:
		return nil
	}

	report, err := s.stock.Apply(ctx, o.Items, dir)
	if err != nil {
		return err
	}
	if len(report.Skipped) > 0 || len(report.Anomalies) > 0 {
		s.logger.Warn("stock adjusted with exceptions",
			zap.String("order.number", o.Number),
			zap.String("direction", dir.String()),
			zap.Int64s("skipped_products", report.Skipped),
			zap.Int("anomalies", len(report.Anomalies)),
		)
	}
	return nil
}

func (s *Service) find(ctx context.Context, ref string) (*entity.Order, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errorbank.BadRequest("order reference is required")
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil && id > 0 {
		return s.repo.FindByID(ctx, id)
	}
	return s.repo.FindByNumber(ctx, ref)
}

func (s *Service) translate(err error, message string) error {
	var appErr *errorbank.AppError
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, orderrepo.ErrNotFound):
		return errorbank.NotFound("order not found")
	case errors.Is(err, productrepo.ErrNotFound):
		return errorbank.NotFound("product not found")
	case errors.Is(err, orderrepo.ErrDuplicateReference):
		return errorbank.Conflict("payment reference already in use", errorbank.WithCause(err))
	case database.IsRetryable(err):
		return errorbank.Conflict("order was modified concurrently, please retry", errorbank.WithCause(err))
	default:
		return errorbank.Internal(message, errorbank.WithCause(err))
	}
}

func cacheKeys(o *entity.Order) []string {
	return []string{
		cache.Key("orders", strconv.FormatInt(o.ID, 10)),
		cache.Key("orders", o.Number),
	}
}

// storeInCache refuses to overwrite entries fenced by a newer mutation, so a read that
// raced a commit cannot repopulate the cache with its stale copy.
func (s *Service) storeInCache(ctx context.Context, o *entity.Order) {
	if err := cache.SetVersionedJSON(ctx, s.cache, o, int64(o.Version), s.cacheTTL, cacheKeys(o)...); err != nil {
		s.logger.Warn("orders cache write failed", zap.String("order.number", o.Number), zap.Error(err))
	}
}

func (s *Service) invalidate(ctx context.Context, o *entity.Order) {
	if err := cache.Invalidate(ctx, s.cache, int64(o.Version), s.cacheTTL, cacheKeys(o)...); err != nil {
		s.logger.Warn("orders cache invalidation failed", zap.String("order.number", o.Number), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, kind string, o *entity.Order, now time.Time) {
	if kind == "" || s.publisher == nil {
		return
	}
	payload, err := json.Marshal(newEvent(kind, o, s.currency, now))
	if err != nil {
		s.logger.Error("marshal order event", zap.String("event", kind), zap.Error(err))
		return
	}
	if err := s.publisher.Publish(ctx, []byte(o.Number), payload, map[string]string{messaging.HeaderEvent: kind}); err != nil {
		s.logger.Error("publish order event",
			zap.String("event", kind),
			zap.String("order.number", o.Number),
			zap.Error(err),
		)
	}
}
