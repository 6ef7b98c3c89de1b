// Package billing は決済プロバイダー（Stripe）とのやり取りを扱う。
// チェックアウトセッションの作成、請求管理ポータルの発行、価格一覧の提供を行う。
package billing

import (
	"context"
	"time"
)

// チェックアウトセッションおよびサブスクリプションに付与するメタデータのキー。
const (
	MetadataUserID       = "supabase_user_id"
	MetadataLegacyUserID = "user_id"
	MetadataPlan         = "plan"
	MetadataBilling      = "billing"
)

// SessionMode はチェックアウトセッションの種別。
type SessionMode string

const (
	// ModePayment は一回払い（買い切り）。
	ModePayment SessionMode = "payment"
	// ModeSubscription は定期課金。
	ModeSubscription SessionMode = "subscription"
)

// CheckoutSessionInput はチェックアウトセッション作成時の入力。
type CheckoutSessionInput struct {
	Mode              SessionMode
	PriceID           string
	SuccessURL        string
	CancelURL         string
	CustomerEmail     string
	ClientReferenceID string
	Metadata          map[string]string
}

// CheckoutSession はプロバイダーが発行したチェックアウトセッション。
type CheckoutSession struct {
	ID  string
	URL string
}

// SubscriptionInfo はプロバイダー側のサブスクリプションの現在状態。
type SubscriptionInfo struct {
	ID               string
	Status           string
	CustomerID       string
	CurrentPeriodEnd *time.Time
	Metadata         map[string]string
}

// PriceInfo はプロバイダー側の価格情報。UnitAmountは最小通貨単位（セント等）。
type PriceInfo struct {
	ID         string
	UnitAmount int64
	Currency   string
}

// Provider は決済プロバイダーへの呼び出しを抽象化するインターフェース。
type Provider interface {
	CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionInfo, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
	GetPrice(ctx context.Context, priceID string) (*PriceInfo, error)
}
