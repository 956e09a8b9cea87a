package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/rentloop/rental-core/internal/kafka"
	"github.com/rentloop/rental-core/internal/redisx"
	"github.com/rentloop/rental-core/internal/rental"
)

// RentalHandler wires the reservation core to HTTP. Caller identity comes
// from the auth layer upstream as X-User-Id / X-User-Role headers; this
// service never issues or verifies tokens itself.
type RentalHandler struct {
	Svc      *rental.Service
	Redis    *redis.Client
	Producer *kafkax.Producer // rental.order.committed
	Service  string
}

func (h *RentalHandler) Register(r *chi.Mux) {
	r.Get("/products", h.listProducts)
	r.Post("/products", h.createProduct)
	r.Get("/products/{id}", h.getProduct)
	r.Get("/products/{id}/availability", h.checkAvailability)
	r.Put("/products/{id}/stock", h.adjustStock)
	r.Get("/products/{id}/ledger", h.listLedger)
	r.Post("/products/{id}/ledger", h.appendLedger)

	r.Post("/orders", h.commitOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/scan", h.scanOrder)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, errCode(err), map[string]string{"error": err.Error()})
}

func errCode(err error) int {
	switch {
	case errors.Is(err, rental.ErrInvalidRange):
		return http.StatusBadRequest
	case errors.Is(err, rental.ErrProductNotFound), errors.Is(err, rental.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, rental.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, rental.ErrConcurrencyConflict):
		return http.StatusConflict
	}
	var stock *rental.InsufficientStockError
	var state *rental.StateTransitionError
	if errors.As(err, &stock) || errors.As(err, &state) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func identity(r *http.Request) (userID, role string) {
	return r.Header.Get("X-User-Id"), r.Header.Get("X-User-Role")
}

func isOperator(role string) bool { return role == "Admin" || role == "Staff" }

// ---- products ----

type createProductReq struct {
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	TotalStock int    `json:"total_stock"`
	DayCents   int    `json:"day_cents"`
	WeekCents  int    `json:"week_cents"`
	MonthCents int    `json:"month_cents"`
}

func (h *RentalHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	userID, role := identity(r)
	if !isOperator(role) {
		writeErr(w, rental.ErrNotAuthorized)
		return
	}
	var req createProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	p := rental.Product{
		SKU:        req.SKU,
		Name:       req.Name,
		TotalStock: req.TotalStock,
		DayCents:   req.DayCents,
		WeekCents:  req.WeekCents,
		MonthCents: req.MonthCents,
	}
	if err := h.Svc.CreateProduct(ctx, &p, userID); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *RentalHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Svc.ListProducts(ctx)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *RentalHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	p, err := h.Svc.GetProduct(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// checkAvailability: GET /products/{id}/availability?quantity=2&start=...&end=...
// Dates are RFC3339 instants (UTC); no calendar logic beyond comparison.
func (h *RentalHandler) checkAvailability(w http.ResponseWriter, r *http.Request) {
	qty, err := strconv.Atoi(r.URL.Query().Get("quantity"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid quantity"})
		return
	}
	start, err1 := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	end, err2 := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err1 != nil || err2 != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "start/end must be RFC3339"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	av, err := h.Svc.CheckAvailability(ctx, chi.URLParam(r, "id"), qty, start.UTC(), end.UTC())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

type adjustStockReq struct {
	TotalStock int `json:"total_stock"`
}

func (h *RentalHandler) adjustStock(w http.ResponseWriter, r *http.Request) {
	userID, role := identity(r)
	if role != "Admin" {
		writeErr(w, rental.ErrNotAuthorized)
		return
	}
	var req adjustStockReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	entry, err := h.Svc.AdjustStock(ctx, chi.URLParam(r, "id"), req.TotalStock, userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *RentalHandler) listLedger(w http.ResponseWriter, r *http.Request) {
	_, role := identity(r)
	if role != "Admin" {
		writeErr(w, rental.ErrNotAuthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	entries, err := h.Svc.ProductLedger(ctx, chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type appendLedgerReq struct {
	Delta  int                 `json:"delta"`
	Reason rental.LedgerReason `json:"reason"`
}

func (h *RentalHandler) appendLedger(w http.ResponseWriter, r *http.Request) {
	userID, role := identity(r)
	if role != "Admin" {
		writeErr(w, rental.ErrNotAuthorized)
		return
	}
	var req appendLedgerReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	entry, err := h.Svc.RecordStockChange(ctx, chi.URLParam(r, "id"), req.Delta, req.Reason, rental.RefAdmin, userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// ---- orders ----

type commitOrderReq struct {
	Lines         []rental.LineInput     `json:"lines"`
	Shipping      rental.ShippingAddress `json:"shipping"`
	PaymentMethod rental.PaymentMethod   `json:"payment_method"`
}

type commitOrderResp struct {
	OrderID    string        `json:"order_id"`
	Status     rental.Status `json:"status"`
	TotalCents int           `json:"total_cents"`
	Idempotent bool          `json:"idempotent"`
}

func (h *RentalHandler) commitOrder(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity(r)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing identity"})
		return
	}
	var req commitOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	externalID := r.Header.Get("Idempotency-Key")
	o, existed, err := h.Svc.CommitOrder(ctx, userID, externalID, req.Lines, req.Shipping, req.PaymentMethod)
	if err != nil {
		writeErr(w, err)
		return
	}

	if externalID != "" {
		idemKey := fmt.Sprintf(redisx.KeyIdemOrderCommit, externalID)
		_ = h.Redis.Set(ctx, idemKey, o.ID, redisx.TTLIdempotency).Err()
	}
	statusKey := fmt.Sprintf(redisx.KeyOrderStatus, o.ID)
	_ = h.Redis.Set(ctx, statusKey, fmt.Sprintf(`{"status":%q}`, o.Status), redisx.TTLStatusCache).Err()

	if !existed {
		h.publishCommitted(r, o)
	}
	writeJSON(w, http.StatusCreated, commitOrderResp{
		OrderID: o.ID, Status: o.Status, TotalCents: o.TotalCents, Idempotent: existed,
	})
}

func (h *RentalHandler) publishCommitted(r *http.Request, o rental.Order) {
	lines := make([]rental.LinePayload, 0, len(o.Lines))
	for _, ln := range o.Lines {
		lines = append(lines, rental.LinePayload{
			ProductID: ln.ProductID, Quantity: ln.Quantity, StartDate: ln.StartDate, EndDate: ln.EndDate,
		})
	}
	ev := rental.Envelope{
		EventID:       uuid.NewString(),
		EventType:     rental.EventOrderCommitted,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       r.Header.Get("X-Request-Id"),
		CorrelationID: o.ID,
		Payload: kafkax.MustMarshal(rental.OrderCommittedPayload{
			OrderID: o.ID, UserID: o.UserID, TotalCents: o.TotalCents, Lines: lines,
		}),
	}
	h.Producer.Publish(rental.PartitionKey(o.ID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(rental.EventOrderCommitted)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (h *RentalHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	userID, _ := identity(r)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing identity"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	os, err := h.Svc.ListOrders(ctx, userID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, os)
}

func (h *RentalHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	userID, role := identity(r)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Svc.GetOrder(ctx, chi.URLParam(r, "id"), userID, isOperator(role))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *RentalHandler) scanOrder(w http.ResponseWriter, r *http.Request) {
	_, role := identity(r)
	if !isOperator(role) {
		writeErr(w, rental.ErrNotAuthorized)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	orderID := chi.URLParam(r, "id")
	res, err := h.Svc.ScanOrder(ctx, orderID)
	if err != nil {
		writeErr(w, err)
		return
	}

	statusKey := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = h.Redis.Set(ctx, statusKey, fmt.Sprintf(`{"status":%q}`, res.Status), redisx.TTLStatusCache).Err()

	writeJSON(w, http.StatusOK, res)
}

func (h *RentalHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	userID, role := identity(r)
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing identity"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	orderID := chi.URLParam(r, "id")
	if err := h.Svc.CancelOrder(ctx, orderID, userID, role == "Admin"); err != nil {
		writeErr(w, err)
		return
	}

	statusKey := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	_ = h.Redis.Set(ctx, statusKey, fmt.Sprintf(`{"status":%q}`, rental.StatusCancelled), redisx.TTLStatusCache).Err()

	writeJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "status": rental.StatusCancelled})
}
