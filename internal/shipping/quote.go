package shipping

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"terrashop/internal/rate"
)

// Method is the delivery speed picked at checkout.
type Method string

const (
	MethodStandard Method = "standard"
	MethodExpress  Method = "express"
)

// ParseMethod accepts "standard" or "express"; empty means standard.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToLower(strings.TrimSpace(s))) {
	case "", MethodStandard:
		return MethodStandard, nil
	case MethodExpress:
		return MethodExpress, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMethod, s)
	}
}

// Breakdown itemises the quoted shipping cost.
type Breakdown struct {
	Base      int64 `json:"base"`
	Speed     int64 `json:"speed"`
	Packaging int64 `json:"packaging"`
}

// Quote is a successful shipping calculation.
type Quote struct {
	Currency            string     `json:"currency"`
	Tier                rate.Tier  `json:"tier"`
	BaseCost            int64      `json:"baseCost"`
	TotalCost           int64      `json:"totalCost"`
	Dimensions          Dimensions `json:"dimensions"`
	TotalDimension      float64    `json:"totalDimension"`
	TotalWeight         int64      `json:"totalWeight"`
	PackagingWeight     int64      `json:"packagingWeight"`
	HasFragile          bool       `json:"hasFragile"`
	SpecialInstructions []string   `json:"specialInstructions"`
	Breakdown           Breakdown  `json:"breakdown"`
}

// FinalShipping is the shipping line after the order-level discount.
type FinalShipping struct {
	BaseShippingCost  int64 `json:"baseShippingCost"`
	ShippingDiscount  int64 `json:"shippingDiscount"`
	FinalShippingCost int64 `json:"finalShippingCost"`
}

// Totals is the order summary shown beside the shipping line.
type Totals struct {
	Subtotal   int64 `json:"subtotal"`
	Shipping   int64 `json:"shipping"`
	Tax        int64 `json:"tax"`
	GrandTotal int64 `json:"grandTotal"`
}

// Compose adds the speed and fragile-handling surcharges to a base rate.
func Compose(base int64, tier rate.Tier, parcel Parcel, method Method, pricing rate.Pricing) Quote {
	var speed, packaging int64
	if method == MethodExpress {
		speed = pricing.ExpressSurcharge
	}
	if parcel.HasFragile {
		packaging = pricing.FragileSurcharge
	}
	return Quote{
		Tier:                tier,
		BaseCost:            base,
		TotalCost:           base + speed + packaging,
		Dimensions:          parcel.Dimensions,
		TotalDimension:      parcel.TotalDimension(),
		TotalWeight:         parcel.TotalWeight,
		PackagingWeight:     parcel.PackagingWeight,
		HasFragile:          parcel.HasFragile,
		SpecialInstructions: parcel.SpecialInstructions,
		Breakdown:           Breakdown{Base: base, Speed: speed, Packaging: packaging},
	}
}

// ApplyDiscount takes the flat shipping discount off once the subtotal
// reaches the threshold. The result is never negative.
func ApplyDiscount(totalCost, subtotal int64, pricing rate.Pricing) FinalShipping {
	var discount int64
	if subtotal >= pricing.DiscountThreshold {
		discount = pricing.DiscountAmount
	}
	return FinalShipping{
		BaseShippingCost:  totalCost,
		ShippingDiscount:  discount,
		FinalShippingCost: max(0, totalCost-discount),
	}
}

// OrderTotals computes consumption tax on goods plus shipping. Tax is
// truncated toward zero, never rounded.
func OrderTotals(subtotal, shipping int64, pricing rate.Pricing) Totals {
	taxable := decimal.NewFromInt(subtotal + shipping)
	tax := taxable.Mul(pricing.TaxRate).Floor().IntPart()
	return Totals{
		Subtotal:   subtotal,
		Shipping:   shipping,
		Tax:        tax,
		GrandTotal: subtotal + shipping + tax,
	}
}
