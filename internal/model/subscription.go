package model

import "time"

// 決済プロバイダー由来のステータスのうち、本サービスが意味を持たせる値。
// それ以外の値（past_due, unpaid, incomplete等）も保存はされるが、権利は付与しない。
const (
	StatusActive   = "active"
	StatusLifetime = "lifetime"
	StatusPaid     = "paid"
	StatusTrialing = "trialing"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
)

// Subscription はsubscriptionsテーブルの1行を表す。
// (所有者, プラン) ごとに1行が権威を持ち、決済プロバイダーのライフサイクルイベントで更新される。
// 物理削除はせず、解約時はステータスをcanceledに遷移させる。
type Subscription struct {
	ID                      string
	UserID                  string
	Plan                    Plan
	Billing                 Billing
	Status                  string
	CurrentPeriodEnd        *time.Time
	StripeCustomerID        string
	StripeSubscriptionID    string
	StripeCheckoutSessionID string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// SubscriptionState はプロバイダーのサブスクリプションIDをキーにした部分更新の内容。
// プラン・課金間隔には触れない。
type SubscriptionState struct {
	Status           string
	CurrentPeriodEnd *time.Time
	// StripeCustomerID が空の場合は既存値を維持する。
	StripeCustomerID string
}
