package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/billingbridge/internal/billing"
	"github.com/hitoshi/billingbridge/internal/entitlement"
	"github.com/hitoshi/billingbridge/internal/middleware"
	"github.com/hitoshi/billingbridge/internal/model"
	"github.com/hitoshi/billingbridge/internal/webhook"
)

// --- モック定義 ---

type mockEntitlementService struct {
	forUserFn func(ctx context.Context, userID string) (entitlement.Result, time.Time, error)
}

func (m *mockEntitlementService) ForUser(ctx context.Context, userID string) (entitlement.Result, time.Time, error) {
	return m.forUserFn(ctx, userID)
}

type mockCheckoutService struct {
	startFn func(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error)
}

func (m *mockCheckoutService) Start(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutSession, error) {
	return m.startFn(ctx, req)
}

type mockPortalService struct {
	openFn func(ctx context.Context, userID, origin string) (string, error)
}

func (m *mockPortalService) Open(ctx context.Context, userID, origin string) (string, error) {
	return m.openFn(ctx, userID, origin)
}

type mockPriceLister struct {
	listFn func(ctx context.Context) ([]billing.PriceEntry, error)
}

func (m *mockPriceLister) List(ctx context.Context) ([]billing.PriceEntry, error) {
	return m.listFn(ctx)
}

type mockApplier struct {
	applyFn func(ctx context.Context, ev webhook.Event) error
	applied []webhook.Event
}

func (m *mockApplier) Apply(ctx context.Context, ev webhook.Event) error {
	m.applied = append(m.applied, ev)
	if m.applyFn != nil {
		return m.applyFn(ctx, ev)
	}
	return nil
}

type mockPinger struct {
	err error
}

func (m *mockPinger) PingContext(ctx context.Context) error { return m.err }

// コンパイル時にインターフェースの実装を検証する
var (
	_ EntitlementServiceInterface = (*entitlement.Service)(nil)
	_ CheckoutServiceInterface    = (*billing.CheckoutService)(nil)
	_ PortalServiceInterface      = (*billing.PortalService)(nil)
	_ PriceListerInterface        = (*billing.Catalog)(nil)
	_ EventVerifier               = (*webhook.Verifier)(nil)
	_ EventApplier                = (*webhook.Reconciler)(nil)
)

// withUser はテスト用にユーザーをコンテキストに注入する。
func withUser(r *http.Request, userID, email string) *http.Request {
	return r.WithContext(middleware.ContextWithUser(r.Context(), &model.User{ID: userID, Email: email}))
}

func stringsReader(s string) *strings.Reader { return strings.NewReader(s) }
