package shipping

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"terrashop/internal/logging"
	"terrashop/internal/rate"
)

var (
	// ErrNoDestination means no prefecture has been entered yet.
	ErrNoDestination = errors.New("enter a shipping address to calculate shipping")
	// ErrInvalidMethod is returned for shipping methods other than standard and express.
	ErrInvalidMethod = errors.New("unsupported shipping method")
)

// Request is everything the calculator needs from checkout state.
type Request struct {
	Items      []LineItem
	Prefecture string
	Method     string
	Subtotal   int64
}

// Estimate is the collapsed result handed to the storefront. Exactly one of
// Quote or Error is set; on error TotalCost is zero.
type Estimate struct {
	Quote     *Quote         `json:"quote,omitempty"`
	Final     *FinalShipping `json:"final,omitempty"`
	Totals    *Totals        `json:"totals,omitempty"`
	TotalCost int64          `json:"totalCost"`
	Error     string         `json:"error,omitempty"`
}

// OK reports whether the estimate carries a quote.
func (e Estimate) OK() bool { return e.Error == "" && e.Quote != nil }

// Estimator runs the shipping pipeline against one tariff. It holds no
// mutable state and is safe for concurrent use.
type Estimator struct {
	tariff *rate.Tariff
}

func NewEstimator(tariff *rate.Tariff) *Estimator {
	return &Estimator{tariff: tariff}
}

// Tariff exposes the loaded rate table.
func (e *Estimator) Tariff() *rate.Tariff { return e.tariff }

// Quote packs the cart, picks a size tier, looks up the base rate and
// applies surcharges. Errors match ErrNoDestination, ErrInvalidMethod,
// rate.ErrNoTierFits or rate.ErrRateNotFound.
func (e *Estimator) Quote(ctx context.Context, req Request) (Quote, error) {
	if strings.TrimSpace(req.Prefecture) == "" {
		return Quote{}, ErrNoDestination
	}
	method, err := ParseMethod(req.Method)
	if err != nil {
		return Quote{}, err
	}

	parcel := Aggregate(req.Items)
	tier, err := e.tariff.SelectTier(parcel.TotalDimension(), parcel.TotalWeight)
	if err != nil {
		return Quote{}, err
	}
	base, err := e.tariff.BaseRate(tier, req.Prefecture)
	if err != nil {
		return Quote{}, err
	}

	q := Compose(base, tier, parcel, method, e.tariff.Pricing())
	q.Currency = e.tariff.Currency()
	logging.FromContext(ctx).Debug("shipping quoted",
		zap.Int("tier", tier.Size),
		zap.String("prefecture", req.Prefecture),
		zap.String("method", string(method)),
		zap.Float64("total_dimension", q.TotalDimension),
		zap.Int64("total_weight", q.TotalWeight),
		zap.Int64("total_cost", q.TotalCost),
	)
	return q, nil
}

// Estimate runs Quote, the subtotal discount and order totals, and folds
// any failure into the Error field so callers never handle Go errors.
func (e *Estimator) Estimate(ctx context.Context, req Request) Estimate {
	q, err := e.Quote(ctx, req)
	if err != nil {
		logFailure(ctx, req, err)
		return Estimate{Error: err.Error()}
	}
	final := ApplyDiscount(q.TotalCost, req.Subtotal, e.tariff.Pricing())
	totals := OrderTotals(req.Subtotal, final.FinalShippingCost, e.tariff.Pricing())
	return Estimate{
		Quote:     &q,
		Final:     &final,
		Totals:    &totals,
		TotalCost: q.TotalCost,
	}
}

func logFailure(ctx context.Context, req Request, err error) {
	logger := logging.FromContext(ctx).With(
		zap.String("prefecture", req.Prefecture),
		zap.String("method", req.Method),
		zap.Int("line_items", len(req.Items)),
		zap.Error(err),
	)
	switch {
	case errors.Is(err, rate.ErrRateNotFound):
		logger.Error("shipping rate missing from tariff")
	case errors.Is(err, rate.ErrNoTierFits):
		logger.Info("shipment too large for carrier")
	default:
		logger.Debug("shipping estimate rejected")
	}
}
