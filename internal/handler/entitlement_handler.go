package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/billingbridge/internal/entitlement"
	"github.com/hitoshi/billingbridge/internal/middleware"
	"github.com/hitoshi/billingbridge/internal/model"
)

// EntitlementServiceInterface は権限ハンドラーが必要とするサービスインターフェース。
type EntitlementServiceInterface interface {
	// ForUser はユーザーの権限と、判定に使った時刻を返す。
	ForUser(ctx context.Context, userID string) (entitlement.Result, time.Time, error)
}

// EntitlementHandler は利用権限照会のHTTPハンドラー。
type EntitlementHandler struct {
	service EntitlementServiceInterface
}

// NewEntitlementHandler はEntitlementHandlerを生成する。
func NewEntitlementHandler(service EntitlementServiceInterface) *EntitlementHandler {
	return &EntitlementHandler{service: service}
}

type entitlementFlags struct {
	Networking bool `json:"networking"`
	Talent     bool `json:"talent"`
	Bundle     bool `json:"bundle"`
}

type subscriptionView struct {
	Plan             string     `json:"plan"`
	Billing          string     `json:"billing"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end"`
	Active           bool       `json:"active"`
}

// entitlementResponse はGET /entitlementsのレスポンス。
// plansはプランごとの代表行で、表示用の補助情報。
type entitlementResponse struct {
	UserID        string                      `json:"user_id"`
	Entitlements  entitlementFlags            `json:"entitlements"`
	Subscriptions []subscriptionView          `json:"subscriptions"`
	Plans         map[string]subscriptionView `json:"plans"`
}

func newSubscriptionView(row model.Subscription, now time.Time) subscriptionView {
	return subscriptionView{
		Plan:             string(row.Plan),
		Billing:          string(row.Billing),
		Status:           row.Status,
		CurrentPeriodEnd: row.CurrentPeriodEnd,
		Active:           entitlement.IsValid(row, now),
	}
}

// GetEntitlements はログインユーザーの利用権限を返す。
// GET /entitlements
func (h *EntitlementHandler) GetEntitlements(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, r, model.NewUnauthorizedError("Not authenticated"))
		return
	}

	result, now, err := h.service.ForUser(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}

	resp := entitlementResponse{
		UserID: userID,
		Entitlements: entitlementFlags{
			Networking: result.Flags.Networking,
			Talent:     result.Flags.Talent,
			Bundle:     result.Flags.Bundle,
		},
		Subscriptions: make([]subscriptionView, 0, len(result.Rows)),
		Plans:         make(map[string]subscriptionView),
	}
	for _, row := range entitlement.SortForDisplay(result.Rows, now) {
		resp.Subscriptions = append(resp.Subscriptions, newSubscriptionView(row, now))
	}
	for plan, row := range entitlement.BestByPlan(result.Rows, now) {
		resp.Plans[string(plan)] = newSubscriptionView(row, now)
	}

	writeJSON(w, http.StatusOK, resp)
}
