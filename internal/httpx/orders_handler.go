package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
	"github.com/vladislavdragonenkov/shoporbit/internal/service/ordering"
)

const defaultListLimit = 50

// PlaceOrderReq — тело запроса оформления заказа из корзины.
type PlaceOrderReq struct {
	UserID          string `json:"user_id"`
	Currency        string `json:"currency"`
	ShippingAddress string `json:"shipping_address"`
	PaymentMethod   string `json:"payment_method"`
	Notes           string `json:"notes"`
}

// OrderLineResp — позиция заказа в ответе API.
type OrderLineResp struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
	ImageURL   string `json:"image_url,omitempty"`
}

// OrderResp — заказ в ответе API.
type OrderResp struct {
	OrderID         string          `json:"order_id"`
	UserID          string          `json:"user_id"`
	Status          string          `json:"status"`
	Currency        string          `json:"currency"`
	AmountMinor     int64           `json:"amount_minor"`
	ShippingAddress string          `json:"shipping_address"`
	PaymentMethod   string          `json:"payment_method,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	Items           []OrderLineResp `json:"items"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// OrdersHandler обслуживает HTTP-операции над заказами.
type OrdersHandler struct {
	Service *ordering.Service
	Logger  *log.Entry
}

// Register навешивает маршруты заказов на роутер.
func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/orders", h.placeOrder)
	r.Post("/orders/{id}/pay", h.payOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders", h.listOrders)
}

func (h *OrdersHandler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	order, err := h.Service.PlaceOrder(r.Context(), ordering.PlaceOrderRequest{
		UserID:          req.UserID,
		Currency:        req.Currency,
		ShippingAddress: req.ShippingAddress,
		PaymentMethod:   req.PaymentMethod,
		Notes:           req.Notes,
	})
	if err != nil {
		h.writeOrderError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toOrderResp(order))
}

func (h *OrdersHandler) payOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	if err := h.Service.Pay(r.Context(), orderID); err != nil {
		h.writeOrderError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"order_id": orderID, "status": "payment_requested"})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.Service.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toOrderResp(order))
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	orders, err := h.Service.ListOrders(r.Context(), userID, limit)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}

	resp := make([]OrderResp, 0, len(orders))
	for _, order := range orders {
		resp = append(resp, toOrderResp(order))
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeOrderError переводит доменные ошибки в HTTP-статусы. Синхронные
// бизнес-отказы остаются 4xx; все остальное — 500 без деталей.
func (h *OrdersHandler) writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUserRequired),
		errors.Is(err, domain.ErrShippingAddressRequired),
		errors.Is(err, domain.ErrEmptyCart),
		errors.Is(err, domain.ErrItemsRequired),
		errors.Is(err, domain.ErrItemQtyInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrProductUnavailable):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrSystemBusy),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrOrderNotPayable),
		errors.Is(err, domain.ErrOrderVersionConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		if h.Logger != nil {
			h.Logger.WithError(err).Error("order request failed")
		}
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func toOrderResp(order domain.Order) OrderResp {
	items := make([]OrderLineResp, 0, len(order.Items))
	for _, line := range order.Items {
		items = append(items, OrderLineResp{
			ProductID:  line.ProductID,
			Name:       line.Name,
			Qty:        line.Qty,
			PriceMinor: line.PriceMinor,
			ImageURL:   line.ImageURL,
		})
	}

	return OrderResp{
		OrderID:         order.ID,
		UserID:          order.UserID,
		Status:          string(order.Status),
		Currency:        order.Currency,
		AmountMinor:     order.AmountMinor,
		ShippingAddress: order.ShippingAddress,
		PaymentMethod:   order.PaymentMethod,
		Notes:           order.Notes,
		Items:           items,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
	}
}
