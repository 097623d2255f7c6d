package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"terrashop/internal/logging"
	"terrashop/internal/orders"
	"terrashop/internal/rate"
	"terrashop/internal/shipping"
)

const maxBodyBytes = 1 << 20

type Server struct {
	est      *shipping.Estimator
	orders   *orders.Service
	logger   *zap.Logger
	validate *validator.Validate
}

// New builds the HTTP handler. orderSvc may be nil when no database is
// configured; order routes then answer 503.
func New(est *shipping.Estimator, orderSvc *orders.Service, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{est: est, orders: orderSvc, logger: logger, validate: newValidator()}
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.accessLogMiddleware)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Get("/rates", s.handleGetRates)
	r.Route("/shipping", func(r chi.Router) {
		r.Get("/tiers", s.handleGetTiers)
		r.Post("/quote", s.handleQuote)
	})
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", s.handleCreateOrder)
		r.Get("/{id}", s.handleGetOrder)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Rates
type RateResponse struct {
	Carrier        string  `json:"carrier"`
	Currency       string  `json:"currency"`
	Prefecture     string  `json:"prefecture"`
	Size           int     `json:"size"`
	TotalDimension float64 `json:"total_dimension"`
	Weight         int64   `json:"weight"`
	Amount         int64   `json:"amount"`
}

// handleGetRates looks up the base rate for an already packed parcel:
// /rates?prefecture=北海道&total_dimension=45&weight=700
func (s *Server) handleGetRates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	prefecture := strings.TrimSpace(q.Get("prefecture"))
	if prefecture == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "prefecture required")
		return
	}
	dim, err := parseFloat(q.Get("total_dimension"))
	if err != nil || dim < 0 || math.IsNaN(dim) || math.IsInf(dim, 0) {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "total_dimension must be a non-negative number")
		return
	}
	weight, err := strconv.ParseInt(strings.TrimSpace(q.Get("weight")), 10, 64)
	if err != nil || weight < 0 {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "weight must be a non-negative number of grams")
		return
	}

	tariff := s.est.Tariff()
	tier, err := tariff.SelectTier(dim, weight)
	if err != nil {
		writeErrorJSON(w, http.StatusUnprocessableEntity, "no_tier_fits", err.Error())
		return
	}
	amount, err := tariff.BaseRate(tier, prefecture)
	if err != nil {
		writeErrorJSON(w, http.StatusUnprocessableEntity, "rate_not_found", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, RateResponse{
		Carrier:        tariff.Carrier(),
		Currency:       tariff.Currency(),
		Prefecture:     prefecture,
		Size:           tier.Size,
		TotalDimension: dim,
		Weight:         weight,
		Amount:         amount,
	})
}

type TiersResponse struct {
	Carrier  string      `json:"carrier"`
	Currency string      `json:"currency"`
	Tiers    []rate.Tier `json:"tiers"`
}

func (s *Server) handleGetTiers(w http.ResponseWriter, r *http.Request) {
	tariff := s.est.Tariff()
	writeJSON(w, http.StatusOK, TiersResponse{
		Carrier:  tariff.Carrier(),
		Currency: tariff.Currency(),
		Tiers:    tariff.Tiers(),
	})
}

// handleQuote always answers 200 for a well-formed cart; calculation
// failures come back as {"error": "...", "totalCost": 0}.
func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	payload, ok := s.decodeCheckout(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.est.Estimate(r.Context(), payload.Request()))
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	if s.orders == nil {
		writeErrorJSON(w, http.StatusServiceUnavailable, "orders_unavailable", "order storage is not configured")
		return
	}
	payload, ok := s.decodeCheckout(w, r)
	if !ok {
		return
	}
	if payload.CustomerEmail == "" {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "customerEmail required")
		return
	}

	o, err := s.orders.Place(r.Context(), orders.PlaceCommand{
		ID:            payload.ParsedOrderID(),
		CustomerEmail: payload.CustomerEmail,
		Prefecture:    payload.Prefecture,
		Method:        payload.ShippingMethod,
		Subtotal:      payload.Subtotal,
		Items:         payload.Items,
	})
	var unshippable *orders.UnshippableError
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, o)
	case errors.As(err, &unshippable):
		writeJSON(w, http.StatusUnprocessableEntity, shipping.Estimate{Error: unshippable.Cause.Error()})
	case errors.Is(err, orders.ErrInvalid):
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, orders.ErrConflict):
		writeErrorJSON(w, http.StatusConflict, "order_conflict", err.Error())
	default:
		logging.FromContext(r.Context()).Error("place order", zap.Error(err))
		writeErrorJSON(w, http.StatusInternalServerError, "db_error", "failed to create order")
	}
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	if s.orders == nil {
		writeErrorJSON(w, http.StatusServiceUnavailable, "orders_unavailable", "order storage is not configured")
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", "id must be a UUID")
		return
	}
	o, err := s.orders.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			writeErrorJSON(w, http.StatusNotFound, "resource_not_found", "order not found")
			return
		}
		logging.FromContext(r.Context()).Error("get order", zap.Error(err))
		writeErrorJSON(w, http.StatusInternalServerError, "db_error", "db error")
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) decodeCheckout(w http.ResponseWriter, r *http.Request) (CheckoutPayload, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "read_error", "read error")
		return CheckoutPayload{}, false
	}
	payload, err := NormalizeCheckout(body)
	if errors.Is(err, ErrInvalidNumber) {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", err.Error())
		return CheckoutPayload{}, false
	}
	if err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_json", "invalid json")
		return CheckoutPayload{}, false
	}
	if err := s.validate.Struct(payload); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid_request", validationMessage(err))
		return CheckoutPayload{}, false
	}
	return payload, true
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "CheckoutPayload.")
	switch fe.Tag() {
	case "required", "min":
		return field + " required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErrorJSON writes a standardized JSON error response:
// {"error": {"code": string, "message": string}}
func writeErrorJSON(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// requestIDMiddleware ensures X-Request-ID is set on the response and
// attaches a request-scoped logger to the context.
// If provided in the request header, it is propagated; otherwise a UUID is generated.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if rid == "" {
			rid = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", rid)
		ctx := logging.WithLogger(r.Context(), s.logger.With(zap.String("request_id", rid)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.FromContext(r.Context()).Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func parseFloat(s string) (float64, error) {
	var n json.Number = json.Number(strings.TrimSpace(s))
	return n.Float64()
}
