package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/billingbridge/internal/auth"
	"github.com/hitoshi/billingbridge/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger         *slog.Logger
	UserResolver   middleware.UserResolver
	AllowedOrigins []string
	RateLimiter    *middleware.RateLimiter

	// ヘルスチェック・メトリクス
	HealthChecker  Pinger
	MetricsHandler http.Handler

	// 権限照会
	EntitlementService EntitlementServiceInterface

	// 課金
	CheckoutService CheckoutServiceInterface
	PortalService   PortalServiceInterface
	PriceLister     PriceListerInterface

	// Webhook
	WebhookVerifier     EventVerifier
	WebhookApplier      EventApplier
	WebhookMaxBodyBytes int64
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → Logging → SecurityHeaders → CORS
//
// 認証が必要なルートでは、その後にAuth → RateLimit(General)が続く。
// POST /checkout にはチェックアウト専用のレート制限、
// POST /billing-portal にはCookie認証に対するOriginチェックを追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.AllowedOrigins))

	entitlementHandler := NewEntitlementHandler(deps.EntitlementService)
	checkoutHandler := NewCheckoutHandler(deps.CheckoutService, deps.PortalService)
	priceHandler := NewPriceHandler(deps.PriceLister)
	webhookHandler := NewWebhookHandler(deps.WebhookVerifier, deps.WebhookApplier, deps.WebhookMaxBodyBytes)

	// --- 認証不要のルート ---
	if deps.HealthChecker != nil {
		r.Get("/health", NewHealthHandler(deps.HealthChecker).Check)
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}
	r.Get("/prices", priceHandler.ListPrices)

	// 署名検証は生のボディに対して行うため、ボディを読むミドルウェアを挟まない
	r.Post("/webhook", webhookHandler.HandleEvent)

	// --- 認証が必要なルート ---
	r.With(
		middleware.NewAuthMiddleware(deps.UserResolver, auth.ChannelBearer|auth.ChannelCookie),
		deps.RateLimiter.GeneralMiddleware(),
	).Get("/entitlements", entitlementHandler.GetEntitlements)

	r.With(
		middleware.NewAuthMiddleware(deps.UserResolver, auth.ChannelBearer),
		deps.RateLimiter.GeneralMiddleware(),
		deps.RateLimiter.CheckoutMiddleware(),
	).Post("/checkout", checkoutHandler.StartCheckout)

	r.With(
		middleware.NewOriginCheckMiddleware(deps.AllowedOrigins),
		middleware.NewAuthMiddleware(deps.UserResolver, auth.ChannelCookie),
		deps.RateLimiter.GeneralMiddleware(),
	).Post("/billing-portal", checkoutHandler.OpenBillingPortal)

	return r
}
