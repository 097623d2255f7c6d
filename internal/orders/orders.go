package orders

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"terrashop/internal/logging"
	"terrashop/internal/shipping"
)

var (
	// ErrNotFound is returned when no order has the requested ID.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicate is returned by a Store when the order ID already exists.
	ErrDuplicate = errors.New("order already exists")
	// ErrUnshippable wraps the calculation error for carts that cannot be quoted.
	ErrUnshippable = errors.New("order cannot be shipped")
	// ErrInvalid signals a malformed order command.
	ErrInvalid = errors.New("invalid order")
	// ErrConflict is returned when a client-chosen order ID is reused for a
	// different order.
	ErrConflict = errors.New("order id already used for a different order")
)

const StatusPending = "pending"

// UnshippableError carries the shipping calculation failure for an order.
type UnshippableError struct {
	Cause error
}

func (e *UnshippableError) Error() string { return ErrUnshippable.Error() + ": " + e.Cause.Error() }

func (e *UnshippableError) Is(target error) bool { return target == ErrUnshippable }

func (e *UnshippableError) Unwrap() error { return e.Cause }

// Order is the persisted checkout summary.
type Order struct {
	ID               uuid.UUID           `json:"id"`
	CustomerEmail    string              `json:"customerEmail"`
	Prefecture       string              `json:"prefecture"`
	ShippingMethod   string              `json:"shippingMethod"`
	Currency         string              `json:"currency"`
	Subtotal         int64               `json:"subtotal"`
	ShippingBase     int64               `json:"shippingBase"`
	ShippingDiscount int64               `json:"shippingDiscount"`
	ShippingFinal    int64               `json:"shippingFinal"`
	Tax              int64               `json:"tax"`
	GrandTotal       int64               `json:"grandTotal"`
	SizeTier         int                 `json:"sizeTier"`
	Quote            shipping.Quote      `json:"quote"`
	Items            []shipping.LineItem `json:"items"`
	Status           string              `json:"status"`
	CreatedAt        time.Time           `json:"createdAt"`
}

// Store persists orders.
type Store interface {
	Insert(ctx context.Context, o Order) error
	Get(ctx context.Context, id uuid.UUID) (Order, error)
}

// PlaceCommand carries what the storefront submits at checkout. ID is
// optional; when the client supplies one, resubmitting is idempotent.
type PlaceCommand struct {
	ID            uuid.UUID
	CustomerEmail string
	Prefecture    string
	Method        string
	Subtotal      int64
	Items         []shipping.LineItem
}

// Service prices and records orders. Shipping is always recomputed on
// the server from the submitted cart.
type Service struct {
	store     Store
	estimator *shipping.Estimator
	now       func() time.Time
}

func NewService(store Store, estimator *shipping.Estimator) *Service {
	return &Service{store: store, estimator: estimator, now: time.Now}
}

func (s *Service) Place(ctx context.Context, cmd PlaceCommand) (Order, error) {
	if strings.TrimSpace(cmd.CustomerEmail) == "" {
		return Order{}, fmt.Errorf("%w: customer email required", ErrInvalid)
	}
	if len(cmd.Items) == 0 {
		return Order{}, fmt.Errorf("%w: cart is empty", ErrInvalid)
	}
	if cmd.Subtotal < 0 {
		return Order{}, fmt.Errorf("%w: subtotal must not be negative", ErrInvalid)
	}

	quote, err := s.estimator.Quote(ctx, shipping.Request{
		Items:      cmd.Items,
		Prefecture: cmd.Prefecture,
		Method:     cmd.Method,
		Subtotal:   cmd.Subtotal,
	})
	if err != nil {
		return Order{}, &UnshippableError{Cause: err}
	}
	pricing := s.estimator.Tariff().Pricing()
	final := shipping.ApplyDiscount(quote.TotalCost, cmd.Subtotal, pricing)
	totals := shipping.OrderTotals(cmd.Subtotal, final.FinalShippingCost, pricing)
	method, _ := shipping.ParseMethod(cmd.Method)

	id := cmd.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	o := Order{
		ID:               id,
		CustomerEmail:    strings.TrimSpace(cmd.CustomerEmail),
		Prefecture:       strings.TrimSpace(cmd.Prefecture),
		ShippingMethod:   string(method),
		Currency:         quote.Currency,
		Subtotal:         cmd.Subtotal,
		ShippingBase:     final.BaseShippingCost,
		ShippingDiscount: final.ShippingDiscount,
		ShippingFinal:    final.FinalShippingCost,
		Tax:              totals.Tax,
		GrandTotal:       totals.GrandTotal,
		SizeTier:         quote.Tier.Size,
		Quote:            quote,
		Items:            cmd.Items,
		Status:           StatusPending,
		CreatedAt:        s.now().UTC().Truncate(time.Microsecond),
	}

	err = s.store.Insert(ctx, o)
	if errors.Is(err, ErrDuplicate) {
		stored, err := s.store.Get(ctx, id)
		if err != nil {
			return Order{}, err
		}
		if !sameOrder(stored, o) {
			logging.FromContext(ctx).Warn("order id reused", zap.String("order_id", id.String()))
			return Order{}, ErrConflict
		}
		logging.FromContext(ctx).Info("order resubmitted", zap.String("order_id", id.String()))
		return stored, nil
	}
	if err != nil {
		return Order{}, err
	}
	logging.FromContext(ctx).Info("order placed",
		zap.String("order_id", o.ID.String()),
		zap.Int("size_tier", o.SizeTier),
		zap.Int64("grand_total", o.GrandTotal),
	)
	return o, nil
}

// sameOrder reports whether a resubmission carries the same customer and cart
// as the stored order.
func sameOrder(stored, o Order) bool {
	return strings.EqualFold(stored.CustomerEmail, o.CustomerEmail) &&
		stored.Prefecture == o.Prefecture &&
		stored.ShippingMethod == o.ShippingMethod &&
		stored.Subtotal == o.Subtotal &&
		slices.Equal(stored.Items, o.Items)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (Order, error) {
	return s.store.Get(ctx, id)
}
