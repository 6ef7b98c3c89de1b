package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/hitoshi/billingbridge/internal/billing"
	"github.com/hitoshi/billingbridge/internal/middleware"
	"github.com/hitoshi/billingbridge/internal/model"
)

// maxCheckoutBodyBytes はチェックアウト開始リクエストのボディ上限。
const maxCheckoutBodyBytes = 4 << 10

// CheckoutServiceInterface はチェックアウトハンドラーが必要とするサービスインターフェース。
type CheckoutServiceInterface interface {
	Start(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error)
}

// PortalServiceInterface は請求ポータルハンドラーが必要とするサービスインターフェース。
type PortalServiceInterface interface {
	Open(ctx context.Context, userID, origin string) (string, error)
}

// CheckoutHandler はチェックアウト開始と請求ポータルのHTTPハンドラー。
type CheckoutHandler struct {
	checkout CheckoutServiceInterface
	portal   PortalServiceInterface
}

// NewCheckoutHandler はCheckoutHandlerを生成する。
func NewCheckoutHandler(checkout CheckoutServiceInterface, portal PortalServiceInterface) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		portal:   portal,
	}
}

// checkoutRequest はチェックアウト開始リクエストのボディ。
type checkoutRequest struct {
	Plan    string `json:"plan"`
	Billing string `json:"billing"`
}

// StartCheckout はチェックアウトセッションを作成し、決済ページのURLを返す。
// POST /checkout
func (h *CheckoutHandler) StartCheckout(w http.ResponseWriter, r *http.Request) {
	user, err := middleware.UserFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, r, model.NewUnauthorizedError("Not authenticated"))
		return
	}

	var req checkoutRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxCheckoutBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, r, model.NewInvalidRequestError("リクエストボディのJSONが不正です。"))
		return
	}

	session, err := h.checkout.Start(r.Context(), billing.CheckoutRequest{
		UserID:  user.ID,
		Email:   user.Email,
		Plan:    req.Plan,
		Billing: req.Billing,
		Origin:  r.Header.Get("Origin"),
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, urlResponse{URL: session.URL})
}

// OpenBillingPortal は請求ポータルのセッションを作成し、そのURLを返す。
// POST /billing-portal
func (h *CheckoutHandler) OpenBillingPortal(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, r, model.NewUnauthorizedError("Not authenticated"))
		return
	}

	url, err := h.portal.Open(r.Context(), userID, r.Header.Get("Origin"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, urlResponse{URL: url})
}
