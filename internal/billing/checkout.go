package billing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/billingbridge/internal/config"
	"github.com/hitoshi/billingbridge/internal/metrics"
	"github.com/hitoshi/billingbridge/internal/model"
)

// checkoutSessionIDPlaceholder はStripeが完了時に実際のセッションIDへ置換する文字列。
const checkoutSessionIDPlaceholder = "{CHECKOUT_SESSION_ID}"

// CheckoutRequest はチェックアウト開始要求。PlanとBillingは未検証の入力値。
type CheckoutRequest struct {
	UserID  string
	Email   string
	Plan    string
	Billing string
	Origin  string
}

// CheckoutService は購入フローの開始（チェックアウトセッション作成）を担う。
type CheckoutService struct {
	provider Provider
	prices   config.PriceTable
	origins  *OriginPolicy
	metrics  metrics.MetricsCollector
}

// NewCheckoutService はCheckoutServiceを生成する。
func NewCheckoutService(provider Provider, prices config.PriceTable, origins *OriginPolicy, m metrics.MetricsCollector) *CheckoutService {
	return &CheckoutService{
		provider: provider,
		prices:   prices,
		origins:  origins,
		metrics:  metrics.OrNop(m),
	}
}

// Start はプラン・課金間隔を検証し、チェックアウトセッションを作成してURLを返す。
// 検証エラーと価格未設定の場合はプロバイダーを呼び出さない。
func (s *CheckoutService) Start(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	plan, planOK := model.ParsePlan(req.Plan)
	billing, billingOK := model.ParseBilling(req.Billing)
	if !planOK || !billingOK {
		s.metrics.RecordCheckoutSession("invalid", "invalid", metrics.OutcomeRejected)
		return nil, model.NewInvalidPlanError(req.Plan, req.Billing)
	}

	priceID := s.prices.Lookup(plan, billing)
	if priceID == "" {
		envKey := config.PriceEnvKey(plan, billing)
		slog.Error("価格IDが設定されていません",
			slog.String("env", envKey),
		)
		s.metrics.RecordCheckoutSession(string(plan), string(billing), metrics.OutcomeRejected)
		return nil, model.NewPriceNotConfiguredError(envKey)
	}

	mode := ModeSubscription
	if billing.IsOneTime() {
		mode = ModePayment
	}

	origin := s.origins.Resolve(req.Origin)
	in := CheckoutSessionInput{
		Mode:              mode,
		PriceID:           priceID,
		SuccessURL:        fmt.Sprintf("%s/success?plan=%s&billing=%s&session_id=%s", origin, plan, billing, checkoutSessionIDPlaceholder),
		CancelURL:         fmt.Sprintf("%s/upgrade?plan=%s", origin, plan),
		CustomerEmail:     req.Email,
		ClientReferenceID: req.UserID,
		Metadata: map[string]string{
			MetadataUserID:  req.UserID,
			MetadataPlan:    string(plan),
			MetadataBilling: string(billing),
		},
	}

	session, err := s.provider.CreateCheckoutSession(ctx, in)
	if err != nil {
		slog.Error("チェックアウトセッションの作成に失敗しました",
			slog.String("user_id", req.UserID),
			slog.String("plan", string(plan)),
			slog.String("billing", string(billing)),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordCheckoutSession(string(plan), string(billing), metrics.OutcomeError)
		return nil, model.NewUpstreamError("決済プロバイダー")
	}
	if session.URL == "" {
		slog.Error("チェックアウトセッションにURLが含まれていません",
			slog.String("session_id", session.ID),
		)
		s.metrics.RecordCheckoutSession(string(plan), string(billing), metrics.OutcomeError)
		return nil, model.NewUpstreamError("決済プロバイダー")
	}

	slog.Info("チェックアウトセッションを作成しました",
		slog.String("user_id", req.UserID),
		slog.String("plan", string(plan)),
		slog.String("billing", string(billing)),
		slog.String("mode", string(mode)),
		slog.String("session_id", session.ID),
	)
	s.metrics.RecordCheckoutSession(string(plan), string(billing), metrics.OutcomeOK)
	return session, nil
}
