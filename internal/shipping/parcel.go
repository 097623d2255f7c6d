package shipping

import (
	"math"
	"strings"
)

const (
	// PackagingBuffer is added to each packed axis for box walls and padding (cm).
	PackagingBuffer = 5.0
	// MinPackagingWeight is the carton weight floor (g).
	MinPackagingWeight int64 = 200
	// MaxSideBySideWidth is the widest a multi-unit row may get before units are stacked (cm).
	MaxSideBySideWidth = 170.0
)

// Dimensions are measured in centimetres.
type Dimensions struct {
	Width  float64 `json:"width" validate:"gte=0"`
	Height float64 `json:"height" validate:"gte=0"`
	Depth  float64 `json:"depth" validate:"gte=0"`
}

// Total is the sum of the three axes, the carrier's linear size.
func (d Dimensions) Total() float64 { return d.Width + d.Height + d.Depth }

// Product is the shipping-relevant slice of a catalogue product.
type Product struct {
	Dimensions         Dimensions `json:"dimensions"`
	ShippingWeight     int64      `json:"shippingWeight" validate:"gte=0"`
	Fragile            bool       `json:"fragile"`
	SpecialInstruction string     `json:"specialInstruction,omitempty"`
}

// LineItem is one cart row.
type LineItem struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity" validate:"gte=1"`
}

// Parcel is the single box a cart is packed into.
type Parcel struct {
	Dimensions          Dimensions `json:"dimensions"`
	ItemWeight          int64      `json:"itemWeight"`
	PackagingWeight     int64      `json:"packagingWeight"`
	TotalWeight         int64      `json:"totalWeight"`
	HasFragile          bool       `json:"hasFragile"`
	SpecialInstructions []string   `json:"specialInstructions"`
}

// TotalDimension is the only size input used for tier selection.
func (p Parcel) TotalDimension() float64 { return p.Dimensions.Total() }

// Aggregate packs line items into one parcel.
//
// Multi-unit rows are laid side by side unless the row would be wider than
// MaxSideBySideWidth, in which case they are stacked. Each row is folded
// into running per-axis maxima on its own; distinct products are never
// packed jointly. An empty cart yields a zero parcel.
func Aggregate(items []LineItem) Parcel {
	var (
		maxW, maxH, maxD float64
		itemWeight       int64
		fragile          bool
		counted          int
	)
	instructions := []string{}
	seen := make(map[string]struct{})

	for _, item := range items {
		q := item.Quantity
		if q <= 0 {
			continue
		}
		counted++
		p := item.Product
		itemWeight = addWeight(itemWeight, mulWeight(nonNegative(p.ShippingWeight), int64(q)))
		if p.Fragile {
			fragile = true
		}
		if s := strings.TrimSpace(p.SpecialInstruction); s != "" {
			if _, dup := seen[s]; !dup {
				seen[s] = struct{}{}
				instructions = append(instructions, s)
			}
		}

		w, h, d := axis(p.Dimensions.Width), axis(p.Dimensions.Height), axis(p.Dimensions.Depth)
		if q > 1 {
			if w*float64(q) <= MaxSideBySideWidth {
				w *= float64(q)
			} else {
				h *= float64(q)
			}
		}
		maxW = max(maxW, w)
		maxH = max(maxH, h)
		maxD = max(maxD, d)
	}

	if counted == 0 {
		return Parcel{SpecialInstructions: instructions}
	}

	packaging := PackagingWeight(itemWeight)
	return Parcel{
		Dimensions: Dimensions{
			Width:  maxW + PackagingBuffer,
			Height: maxH + PackagingBuffer,
			Depth:  maxD + PackagingBuffer,
		},
		ItemWeight:          itemWeight,
		PackagingWeight:     packaging,
		TotalWeight:         addWeight(itemWeight, packaging),
		HasFragile:          fragile,
		SpecialInstructions: instructions,
	}
}

// PackagingWeight is 10% of the item weight, truncated, but never below
// MinPackagingWeight.
func PackagingWeight(itemWeight int64) int64 {
	return max(MinPackagingWeight, nonNegative(itemWeight)/10)
}

// Weights saturate at math.MaxInt64 so an absurd cart fails tier selection
// instead of wrapping negative.
func mulWeight(w, q int64) int64 {
	if w != 0 && q > math.MaxInt64/w {
		return math.MaxInt64
	}
	return w * q
}

func addWeight(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func axis(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
