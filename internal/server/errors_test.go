package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"terrashop/internal/orders"
	"terrashop/internal/shipping"
)

// helper to parse standardized error
type stdError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeError(t *testing.T, body []byte) stdError {
	t.Helper()
	var e stdError
	require.NoError(t, json.Unmarshal(body, &e))
	return e
}

type fakeStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]orders.Order
}

func (f *fakeStore) Insert(_ context.Context, o orders.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.orders[o.ID]; ok {
		return orders.ErrDuplicate
	}
	f.orders[o.ID] = o
	return nil
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (orders.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o, nil
}

func newOrderHandler(t *testing.T) http.Handler {
	t.Helper()
	est := newEstimator(t)
	store := &fakeStore{orders: map[uuid.UUID]orders.Order{}}
	return New(est, orders.NewService(store, est), nil)
}

func TestQuote_InvalidJSON(t *testing.T) {
	rr := do(t, newHandler(t), http.MethodPost, "/shipping/quote", `{"items": [`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_json", decodeError(t, rr.Body.Bytes()).Error.Code)

	rr = do(t, newHandler(t), http.MethodPost, "/shipping/quote", `[1, 2]`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_json", decodeError(t, rr.Body.Bytes()).Error.Code)
}

func TestQuote_ValidationErrors(t *testing.T) {
	cases := []struct {
		name, body, message string
	}{
		{"empty cart", `{"prefecture": "北海道", "items": []}`, "items required"},
		{"bad method", `{"prefecture": "北海道", "shippingMethod": "drone", "items": [{"product": {}, "quantity": 1}]}`, "shippingMethod must be one of: standard express"},
		{"zero quantity", `{"prefecture": "北海道", "items": [{"product": {}, "quantity": 0}]}`, "items[0].quantity failed gte validation"},
		{"negative subtotal", `{"prefecture": "北海道", "subtotal": -5, "items": [{"product": {}, "quantity": 1}]}`, "subtotal failed gte validation"},
		{"negative width", `{"prefecture": "北海道", "items": [{"product": {"dimensions": {"width": -1}}, "quantity": 1}]}`, "items[0].product.dimensions.width failed gte validation"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, newHandler(t), http.MethodPost, "/shipping/quote", tc.body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			e := decodeError(t, rr.Body.Bytes())
			assert.Equal(t, "invalid_request", e.Error.Code)
			assert.Equal(t, tc.message, e.Error.Message)
		})
	}
}

func TestGetRates_ErrorJSON(t *testing.T) {
	h := newHandler(t)

	rr := do(t, h, http.MethodGet, "/rates?total_dimension=45&weight=700", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rr.Body.Bytes()).Error.Code)

	rr = do(t, h, http.MethodGet, "/rates?prefecture=Ontario&total_dimension=45&weight=700", "")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "rate_not_found", decodeError(t, rr.Body.Bytes()).Error.Code)

	rr = do(t, h, http.MethodGet, "/rates?prefecture=Ontario&total_dimension=300&weight=700", "")
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	assert.Equal(t, "no_tier_fits", decodeError(t, rr.Body.Bytes()).Error.Code)
}

func TestGetRates_RejectsUnrepresentableWeight(t *testing.T) {
	h := newHandler(t)
	for _, weight := range []string{"1e300", "Inf", "9.3e18", "9223372036854775808", "700.5", "NaN", "-1"} {
		t.Run(weight, func(t *testing.T) {
			target := "/rates?prefecture=" + url.QueryEscape("北海道") + "&total_dimension=10&weight=" + url.QueryEscape(weight)
			rr := do(t, h, http.MethodGet, target, "")
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Equal(t, "invalid_request", decodeError(t, rr.Body.Bytes()).Error.Code)
		})
	}

	for _, dim := range []string{"Inf", "NaN"} {
		rr := do(t, h, http.MethodGet, "/rates?prefecture="+url.QueryEscape("北海道")+"&total_dimension="+dim+"&weight=700", "")
		require.Equal(t, http.StatusBadRequest, rr.Code, dim)
	}
}

func TestOrders_UnavailableWithoutDatabase(t *testing.T) {
	rr := do(t, newHandler(t), http.MethodGet, "/orders/"+uuid.NewString(), "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "orders_unavailable", decodeError(t, rr.Body.Bytes()).Error.Code)
}

const orderBody = `{
	"orderId": "%s",
	"customerEmail": "moss@example.com",
	"prefecture": "北海道",
	"shippingMethod": "standard",
	"subtotal": 12000,
	"items": [{"product": {"dimensions": {"width": 10, "height": 10, "depth": 10}, "shippingWeight": 500}, "quantity": 1}]
}`

func TestOrders_CreateAndGet(t *testing.T) {
	h := newOrderHandler(t)
	id := uuid.New()

	rr := do(t, h, http.MethodPost, "/orders", sprintfOrder(id))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created orders.Order
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	assert.Equal(t, id, created.ID)
	assert.Equal(t, int64(810), created.ShippingBase)
	assert.Equal(t, int64(310), created.ShippingFinal)
	assert.Equal(t, int64(1231), created.Tax)
	assert.Equal(t, int64(13541), created.GrandTotal)

	rr = do(t, h, http.MethodGet, "/orders/"+id.String(), "")
	require.Equal(t, http.StatusOK, rr.Code)
	var got orders.Order
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, created.GrandTotal, got.GrandTotal)

	rr = do(t, h, http.MethodGet, "/orders/"+uuid.NewString(), "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "resource_not_found", decodeError(t, rr.Body.Bytes()).Error.Code)

	rr = do(t, h, http.MethodGet, "/orders/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestOrders_Unshippable(t *testing.T) {
	body := `{"customerEmail": "a@example.com", "prefecture": "北海道", "items": [{"product": {"dimensions": {"width": 80, "height": 60, "depth": 50}, "shippingWeight": 30000}, "quantity": 1}]}`
	rr := do(t, newOrderHandler(t), http.MethodPost, "/orders", body)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
	var est shipping.Estimate
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &est))
	assert.Contains(t, est.Error, "215cm")
	assert.Zero(t, est.TotalCost)
}

func TestOrders_RequiresEmail(t *testing.T) {
	body := `{"prefecture": "北海道", "items": [{"product": {}, "quantity": 1}]}`
	rr := do(t, newOrderHandler(t), http.MethodPost, "/orders", body)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "customerEmail required", decodeError(t, rr.Body.Bytes()).Error.Message)
}

func TestQuote_RejectsNonWholeNumbers(t *testing.T) {
	cases := []struct {
		name, body, message string
	}{
		{"fractional quantity", `{"prefecture": "北海道", "items": [{"product": {}, "quantity": 2.7}]}`, "quantity must be a whole number"},
		{"fractional weight", `{"prefecture": "北海道", "items": [{"product": {"shippingWeight": 499.5}, "quantity": 1}]}`, "shippingWeight must be a whole number"},
		{"huge weight", `{"prefecture": "北海道", "items": [{"product": {"shippingWeight": 1e300}, "quantity": 1}]}`, "shippingWeight must be a whole number"},
		{"huge subtotal", `{"prefecture": "北海道", "subtotal": 1e19, "items": [{"product": {}, "quantity": 1}]}`, "subtotal must be a whole number"},
		{"non-numeric quantity", `{"prefecture": "北海道", "items": [{"product": {}, "quantity": "two"}]}`, "quantity must be a whole number"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := do(t, newHandler(t), http.MethodPost, "/shipping/quote", tc.body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			e := decodeError(t, rr.Body.Bytes())
			assert.Equal(t, "invalid_request", e.Error.Code)
			assert.Contains(t, e.Error.Message, tc.message)
		})
	}
}

func TestQuote_OverflowingWeightDoesNotFit(t *testing.T) {
	body := `{"prefecture": "北海道", "items": [{"product": {"dimensions": {"width": 0, "height": 1, "depth": 1}, "shippingWeight": 1000000}, "quantity": 1e13}]}`
	est := quote(t, newHandler(t), body)
	assert.Nil(t, est.Quote)
	assert.Zero(t, est.TotalCost)
	assert.Contains(t, est.Error, "largest size tier")
}

func TestOrders_ReusedIDConflicts(t *testing.T) {
	h := newOrderHandler(t)
	id := uuid.New()

	rr := do(t, h, http.MethodPost, "/orders", sprintfOrder(id))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = do(t, h, http.MethodPost, "/orders", sprintfOrder(id))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	other := strings.Replace(sprintfOrder(id), "moss@example.com", "mallory@example.com", 1)
	rr = do(t, h, http.MethodPost, "/orders", other)
	require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())
	e := decodeError(t, rr.Body.Bytes())
	assert.Equal(t, "order_conflict", e.Error.Code)
	assert.NotContains(t, rr.Body.String(), "moss@example.com")
}

func sprintfOrder(id uuid.UUID) string {
	return fmt.Sprintf(orderBody, id)
}
