package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/hitoshi/billingbridge/internal/metrics"
)

const providerName = "stripe"

// StripeProvider はStripe APIを使ったProviderの実装。
// パッケージグローバルのstripe.Keyは使わず、クライアントごとにキーを保持する。
type StripeProvider struct {
	api     *client.API
	metrics metrics.MetricsCollector
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider はシークレットキーからStripeProviderを生成する。
// backendsがnilの場合はStripe本番エンドポイントを使用する。
func NewStripeProvider(secretKey string, backends *stripe.Backends, m metrics.MetricsCollector) *StripeProvider {
	return &StripeProvider{
		api:     client.New(secretKey, backends),
		metrics: metrics.OrNop(m),
	}
}

func (p *StripeProvider) observe(op string, start time.Time) {
	p.metrics.RecordProviderLatency(providerName, op, time.Since(start))
}

// CreateCheckoutSession はチェックアウトセッションを作成する。
// 顧客の事前作成は一回払いの場合のみ指定する（定期課金ではStripeが自動で作成する）。
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CheckoutSession, error) {
	defer p.observe("create_checkout_session", time.Now())

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(in.Mode)),
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(in.PriceID), Quantity: stripe.Int64(1)},
		},
		ClientReferenceID: stripe.String(in.ClientReferenceID),
	}
	params.Context = ctx

	if in.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(in.CustomerEmail)
	}
	for k, v := range in.Metadata {
		params.AddMetadata(k, v)
	}

	switch in.Mode {
	case ModePayment:
		params.CustomerCreation = stripe.String(string(stripe.CheckoutSessionCustomerCreationAlways))
	case ModeSubscription:
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: copyMetadata(in.Metadata),
		}
	}

	s, err := p.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("チェックアウトセッションの作成に失敗しました: %w", err)
	}
	return &CheckoutSession{ID: s.ID, URL: s.URL}, nil
}

// GetSubscription はサブスクリプションの現在状態を取得する。
func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionInfo, error) {
	defer p.observe("get_subscription", time.Now())

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	sub, err := p.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("サブスクリプション %s の取得に失敗しました: %w", subscriptionID, err)
	}
	return subscriptionInfo(sub), nil
}

// CreatePortalSession は顧客の請求管理ポータルのURLを発行する。
func (p *StripeProvider) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	defer p.observe("create_portal_session", time.Now())

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	params.Context = ctx

	s, err := p.api.BillingPortalSessions.New(params)
	if err != nil {
		return "", fmt.Errorf("請求管理ポータルの作成に失敗しました: %w", err)
	}
	return s.URL, nil
}

// GetPrice は価格情報を取得する。
func (p *StripeProvider) GetPrice(ctx context.Context, priceID string) (*PriceInfo, error) {
	defer p.observe("get_price", time.Now())

	params := &stripe.PriceParams{}
	params.Context = ctx

	pr, err := p.api.Prices.Get(priceID, params)
	if err != nil {
		return nil, fmt.Errorf("価格 %s の取得に失敗しました: %w", priceID, err)
	}
	return &PriceInfo{
		ID:         pr.ID,
		UnitAmount: pr.UnitAmount,
		Currency:   string(pr.Currency),
	}, nil
}

// subscriptionInfo はStripeのサブスクリプションを内部表現に変換する。
// 期間終了日時はアイテム単位の値のうち最も遅いものを採用する。
func subscriptionInfo(sub *stripe.Subscription) *SubscriptionInfo {
	info := &SubscriptionInfo{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Metadata: sub.Metadata,
	}
	if sub.Customer != nil {
		info.CustomerID = sub.Customer.ID
	}

	var end int64
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item != nil && item.CurrentPeriodEnd > end {
				end = item.CurrentPeriodEnd
			}
		}
	}
	if end > 0 {
		t := time.Unix(end, 0).UTC()
		info.CurrentPeriodEnd = &t
	}
	return info
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
