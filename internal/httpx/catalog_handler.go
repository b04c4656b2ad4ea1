package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporbit/internal/domain"
)

// ProductResp — ответ внутреннего product lookup.
type ProductResp struct {
	ProductID  string `json:"product_id"`
	Name       string `json:"name"`
	PriceMinor int64  `json:"price_minor"`
	ImageURL   string `json:"image_url,omitempty"`
	Available  int32  `json:"available"`
}

// CatalogHandler отдает внутренний lookup товара для сервиса заказов.
type CatalogHandler struct {
	Lookup domain.ProductLookup
	Logger *log.Entry
}

// Register навешивает внутренние маршруты каталога на роутер.
func (h *CatalogHandler) Register(r chi.Router) {
	r.Get("/internal/products/{id}", h.getProduct)
}

func (h *CatalogHandler) getProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "id")
	if productID == "" {
		writeError(w, http.StatusBadRequest, "missing product id")
		return
	}

	info, err := h.Lookup.Lookup(r.Context(), productID)
	if err != nil {
		if h.Logger != nil {
			h.Logger.WithError(err).WithField("product_id", productID).Error("product lookup failed")
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !info.Exists {
		writeError(w, http.StatusNotFound, "product not found")
		return
	}

	writeJSON(w, http.StatusOK, ProductResp{
		ProductID:  info.ProductID,
		Name:       info.Name,
		PriceMinor: info.PriceMinor,
		ImageURL:   info.ImageURL,
		Available:  info.Available,
	})
}
