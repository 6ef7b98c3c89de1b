// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/hitoshi/billingbridge/internal/model"
)

var (
	// ErrNoCustomer は所有者の行に決済プロバイダーの顧客IDが1件も保存されていないことを示す。
	ErrNoCustomer = errors.New("no stripe customer id on file")

	// ErrOwnerColumnMissing はsubscriptionsテーブルに新旧どちらの所有者カラムも存在しないことを示す。
	ErrOwnerColumnMissing = errors.New("subscriptions table has no owner column")
)

// SubscriptionRepository は購読行の永続化インターフェース。
type SubscriptionRepository interface {
	// ListByOwner は所有者の全行をupdated_at降順で返す。行がない場合は空スライスを返す。
	ListByOwner(ctx context.Context, userID string) ([]model.Subscription, error)

	// UpsertByOwnerPlan は(所有者, プラン)をキーに行を冪等にUPSERTする。
	// 空のプロバイダーIDは既存値を維持する（サブスクリプションIDを除く）。
	UpsertByOwnerPlan(ctx context.Context, sub *model.Subscription) error

	// ApplySubscription はプロバイダーのサブスクリプションIDに一致する行を
	// プラン・課金間隔を含めて更新し、更新件数を返す。買い切り行は更新しない。
	ApplySubscription(ctx context.Context, sub *model.Subscription) (int64, error)

	// UpsertUnlessGranted は(所有者, プラン)の行がない場合に挿入し、既存行が
	// 別の権利（買い切り、または継続中の別サブスクリプション）でなければ上書きする。
	// 既存の権利を守って書き込まなかった場合はfalseを返す。
	UpsertUnlessGranted(ctx context.Context, sub *model.Subscription) (bool, error)

	// ApplySubscriptionState はプロバイダーのサブスクリプションIDで行を部分更新し、更新件数を返す。
	// プラン・課金間隔には触れない。買い切り行は更新しない。
	ApplySubscriptionState(ctx context.Context, stripeSubscriptionID string, state model.SubscriptionState) (int64, error)

	// FindLatestCustomerID は所有者の顧客IDのうち最も期限の遅い行のものを返す。
	// 見つからない場合はErrNoCustomerを返す。
	FindLatestCustomerID(ctx context.Context, userID string) (string, error)
}

// Querier はリポジトリが利用するSQL実行メソッド。*sql.DBと*sql.Txが満たす。
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
