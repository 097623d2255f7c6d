package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"terrashop/internal/shipping"
)

// ErrNotObject is returned when a checkout payload is not a JSON object.
var ErrNotObject = errors.New("payload must be a JSON object")

// ErrInvalidNumber is returned when a count or amount is not a whole number
// in int64 range.
var ErrInvalidNumber = errors.New("invalid number")

// CheckoutPayload is the cart state posted by the storefront, after key
// normalization.
type CheckoutPayload struct {
	OrderID        string              `json:"orderId" validate:"omitempty,uuid"`
	CustomerEmail  string              `json:"customerEmail" validate:"omitempty,email"`
	Prefecture     string              `json:"prefecture"`
	ShippingMethod string              `json:"shippingMethod" validate:"omitempty,oneof=standard express"`
	Subtotal       int64               `json:"subtotal" validate:"gte=0"`
	Items          []shipping.LineItem `json:"items" validate:"required,min=1,dive"`
}

// Request converts the payload into a calculator request.
func (p CheckoutPayload) Request() shipping.Request {
	return shipping.Request{
		Items:      p.Items,
		Prefecture: p.Prefecture,
		Method:     p.ShippingMethod,
		Subtotal:   p.Subtotal,
	}
}

// ParsedOrderID returns the client-chosen order ID, or uuid.Nil.
func (p CheckoutPayload) ParsedOrderID() uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(p.OrderID))
	if err != nil {
		return uuid.Nil
	}
	return id
}

// NormalizeCheckout accepts the storefront's camelCase cart shape as well
// as snake_case keys and flattened items without a product wrapper.
func NormalizeCheckout(body []byte) (CheckoutPayload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return CheckoutPayload{}, err
	}
	payload, ok := raw.(map[string]any)
	if !ok {
		return CheckoutPayload{}, ErrNotObject
	}

	out := CheckoutPayload{
		OrderID:        getString(payload, []string{"orderId", "order_id"}),
		CustomerEmail:  strings.TrimSpace(getString(payload, []string{"customerEmail", "customer_email", "email", "shippingAddress.email", "shipping_address.email"})),
		Prefecture:     strings.TrimSpace(getString(payload, []string{"prefecture", "destination", "shippingAddress.prefecture", "shipping_address.prefecture", "address.prefecture"})),
		ShippingMethod: strings.ToLower(strings.TrimSpace(getString(payload, []string{"shippingMethod", "shipping_method", "method"}))),
	}
	subtotal, _, err := wholeNumber("subtotal", getAny(payload, []string{"subtotal", "cartSubtotal", "cart_subtotal"}))
	if err != nil {
		return CheckoutPayload{}, err
	}
	out.Subtotal = subtotal

	rawItems, _ := getAny(payload, []string{"items", "lineItems", "line_items", "cart"}).([]any)
	out.Items = make([]shipping.LineItem, 0, len(rawItems))
	for _, ri := range rawItems {
		m, ok := ri.(map[string]any)
		if !ok {
			return CheckoutPayload{}, ErrNotObject
		}
		item, err := normalizeLineItem(m)
		if err != nil {
			return CheckoutPayload{}, err
		}
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func normalizeLineItem(m map[string]any) (shipping.LineItem, error) {
	product := m
	if p, ok := getAny(m, []string{"product"}).(map[string]any); ok {
		product = p
	}

	item := shipping.LineItem{Quantity: 1}
	qty, ok, err := wholeNumber("quantity", getAny(m, []string{"quantity", "qty"}))
	if err != nil {
		return shipping.LineItem{}, err
	}
	if ok {
		if qty > math.MaxInt || qty < math.MinInt {
			return shipping.LineItem{}, fmt.Errorf("%w: quantity out of range", ErrInvalidNumber)
		}
		item.Quantity = int(qty)
	}
	item.Product.Dimensions = shipping.Dimensions{
		Width:  getFloat(product, []string{"dimensions.width", "width"}),
		Height: getFloat(product, []string{"dimensions.height", "height"}),
		Depth:  getFloat(product, []string{"dimensions.depth", "depth"}),
	}
	weight, _, err := wholeNumber("shippingWeight", getAny(product, []string{"shippingWeight", "shipping_weight", "weight"}))
	if err != nil {
		return shipping.LineItem{}, err
	}
	item.Product.ShippingWeight = weight
	item.Product.Fragile = getBool(product, []string{"fragile", "isFragile", "is_fragile"})
	item.Product.SpecialInstruction = getString(product, []string{"specialInstruction", "special_instruction", "shippingNote"})
	return item, nil
}

// getString returns the first non-empty string from the candidate keys.
// Supports dot-path navigation for nested maps.
func getString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if v := getPath(m, k); v != nil {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

func getFloat(m map[string]any, keys []string) float64 {
	for _, k := range keys {
		if f, ok := toFloat(getPath(m, k)); ok {
			return f
		}
	}
	return 0
}

func getBool(m map[string]any, keys []string) bool {
	for _, k := range keys {
		if b, ok := getPath(m, k).(bool); ok {
			return b
		}
	}
	return false
}

// getAny returns the first non-nil value from the candidate keys.
func getAny(m map[string]any, keys []string) any {
	for _, k := range keys {
		if v := getPath(m, k); v != nil {
			return v
		}
	}
	return nil
}

// getPath navigates a dot-separated key into nested maps.
func getPath(m map[string]any, path string) any {
	var cur any = m
	for _, p := range strings.Split(path, ".") {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := mm[p]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// wholeNumber reads an integral JSON value. ok is false when v is absent.
func wholeNumber(field string, v any) (n int64, ok bool, err error) {
	if v == nil {
		return 0, false, nil
	}
	if num, isNum := v.(json.Number); isNum {
		if i, err := num.Int64(); err == nil {
			return i, true, nil
		}
	}
	f, isFloat := toFloat(v)
	if !isFloat || f != math.Trunc(f) || f >= float64(math.MaxInt64) || f < float64(math.MinInt64) {
		return 0, true, fmt.Errorf("%w: %s must be a whole number", ErrInvalidNumber, field)
	}
	return int64(f), true, nil
}

// toFloat reports false for non-numeric and non-finite values.
func toFloat(v any) (float64, bool) {
	f, ok := numeric(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		if err == nil {
			return f, true
		}
		return 0, false
	case string:
		f, err := json.Number(strings.TrimSpace(t)).Float64()
		if err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}
