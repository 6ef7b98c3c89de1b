package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/billingbridge/internal/billing"
	"github.com/hitoshi/billingbridge/internal/middleware"
)

// PriceListerInterface は価格一覧ハンドラーが必要とするサービスインターフェース。
type PriceListerInterface interface {
	List(ctx context.Context) ([]billing.PriceEntry, error)
}

// PriceHandler は価格一覧のHTTPハンドラー。認証は不要。
type PriceHandler struct {
	prices PriceListerInterface
}

// NewPriceHandler はPriceHandlerを生成する。
func NewPriceHandler(prices PriceListerInterface) *PriceHandler {
	return &PriceHandler{prices: prices}
}

type priceListResponse struct {
	Prices []billing.PriceEntry `json:"prices"`
}

// ListPrices は価格IDが設定されている組み合わせの価格を返す。
// GET /prices
func (h *PriceHandler) ListPrices(w http.ResponseWriter, r *http.Request) {
	entries, err := h.prices.List(r.Context())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if entries == nil {
		entries = []billing.PriceEntry{}
	}
	writeJSON(w, http.StatusOK, priceListResponse{Prices: entries})
}
