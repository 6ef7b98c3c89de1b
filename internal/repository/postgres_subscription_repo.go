package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/billingbridge/internal/metrics"
	"github.com/hitoshi/billingbridge/internal/model"
)

// 所有者カラム名。スキーマバージョン2でuser_idからsupabase_user_idにリネームされた。
const (
	OwnerColumnCurrent = "supabase_user_id"
	OwnerColumnLegacy  = "user_id"
)

// undefinedColumn はPostgreSQLのSQLSTATE 42703 (undefined_column)。
const undefinedColumn pq.ErrorCode = "42703"

// isUndefinedColumn はerrが「カラムが存在しない」エラーかどうかを型で判定する。
func isUndefinedColumn(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == undefinedColumn
}

// ValidOwnerColumn はcolが既知の所有者カラム名かどうかを返す。
func ValidOwnerColumn(col string) bool {
	return col == OwnerColumnCurrent || col == OwnerColumnLegacy
}

func alternateOwnerColumn(col string) string {
	if col == OwnerColumnLegacy {
		return OwnerColumnCurrent
	}
	return OwnerColumnLegacy
}

// DetectOwnerColumn はinformation_schemaを参照してsubscriptionsテーブルの所有者カラムを判定する。
// 両方存在する場合は新カラムを優先する。どちらもない場合はErrOwnerColumnMissingを返す。
func DetectOwnerColumn(ctx context.Context, q Querier) (string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT column_name FROM information_schema.columns
		 WHERE table_schema = current_schema() AND table_name = 'subscriptions'
		   AND column_name IN ($1, $2)`,
		OwnerColumnCurrent, OwnerColumnLegacy,
	)
	if err != nil {
		return "", fmt.Errorf("所有者カラムの判定に失敗しました: %w", err)
	}
	defer rows.Close()

	found := make(map[string]bool, 2)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", fmt.Errorf("カラム情報の読み取りに失敗しました: %w", err)
		}
		found[name] = true
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("カラム情報の走査に失敗しました: %w", err)
	}

	switch {
	case found[OwnerColumnCurrent]:
		return OwnerColumnCurrent, nil
	case found[OwnerColumnLegacy]:
		return OwnerColumnLegacy, nil
	default:
		return "", ErrOwnerColumnMissing
	}
}

// PostgresSubscriptionRepo はPostgreSQLを使用した購読リポジトリ。
// 所有者カラム名は起動時判定の結果を初期値とし、実行時に42703を受けた場合は
// もう一方のカラムで1回だけ再試行して、成功したカラムを以後使い続ける。
type PostgresSubscriptionRepo struct {
	db      Querier
	metrics metrics.MetricsCollector
	legacy  atomic.Bool
	now     func() time.Time
}

var _ SubscriptionRepository = (*PostgresSubscriptionRepo)(nil)

// Option はPostgresSubscriptionRepoの設定を変更する。
type Option func(*PostgresSubscriptionRepo)

// WithOwnerColumn は所有者カラムの初期値を指定する。未知の値は無視する。
func WithOwnerColumn(col string) Option {
	return func(r *PostgresSubscriptionRepo) {
		if ValidOwnerColumn(col) {
			r.legacy.Store(col == OwnerColumnLegacy)
		}
	}
}

// WithMetrics はフォールバック発生を記録するコレクタを指定する。
func WithMetrics(m metrics.MetricsCollector) Option {
	return func(r *PostgresSubscriptionRepo) {
		r.metrics = metrics.OrNop(m)
	}
}

// NewPostgresSubscriptionRepo はPostgresSubscriptionRepoを生成する。
func NewPostgresSubscriptionRepo(db Querier, opts ...Option) *PostgresSubscriptionRepo {
	r := &PostgresSubscriptionRepo{
		db:      db,
		metrics: metrics.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OwnerColumn は現在使用している所有者カラム名を返す。
func (r *PostgresSubscriptionRepo) OwnerColumn() string {
	if r.legacy.Load() {
		return OwnerColumnLegacy
	}
	return OwnerColumnCurrent
}

// withOwnerColumn は現在の所有者カラムでfnを実行し、カラム不存在の場合のみ
// もう一方のカラムで再試行する。それ以外のエラーはそのまま返す。
func (r *PostgresSubscriptionRepo) withOwnerColumn(ctx context.Context, operation string, fn func(col string) error) error {
	col := r.OwnerColumn()
	err := fn(col)
	if !isUndefinedColumn(err) {
		return err
	}

	alt := alternateOwnerColumn(col)
	slog.WarnContext(ctx, "所有者カラムが存在しないため代替カラムで再試行します",
		slog.String("operation", operation),
		slog.String("column", col),
		slog.String("fallback", alt),
	)
	r.metrics.RecordOwnerColumnFallback(operation)

	if err := fn(alt); err != nil {
		if isUndefinedColumn(err) {
			return fmt.Errorf("%w: %v", ErrOwnerColumnMissing, err)
		}
		return err
	}
	r.legacy.Store(alt == OwnerColumnLegacy)
	return nil
}

func listByOwnerQuery(col string) string {
	return fmt.Sprintf(
		`SELECT id, %[1]s, plan, billing, status, current_period_end,
		        COALESCE(stripe_customer_id, ''), COALESCE(stripe_subscription_id, ''),
		        COALESCE(stripe_checkout_session_id, ''), created_at, updated_at
		 FROM subscriptions WHERE %[1]s = $1 ORDER BY updated_at DESC`, col)
}

func upsertByOwnerPlanQuery(col string) string {
	return upsertQuery(col, "")
}

// upsertUnlessGrantedQuery は既存行が買い切り、または継続中の別サブスクリプションの場合に
// 更新を行わない。その場合RETURNINGは0行になる。
func upsertUnlessGrantedQuery(col string) string {
	return upsertQuery(col, `
		 WHERE subscriptions.billing <> 'lifetime' AND subscriptions.status <> 'lifetime'
		   AND (subscriptions.stripe_subscription_id IS NULL
		        OR subscriptions.stripe_subscription_id = EXCLUDED.stripe_subscription_id
		        OR subscriptions.status NOT IN ('active', 'trialing', 'past_due'))`)
}

func upsertQuery(col, guard string) string {
	return fmt.Sprintf(
		`INSERT INTO subscriptions (id, %[1]s, plan, billing, status, current_period_end,
		                           stripe_customer_id, stripe_subscription_id, stripe_checkout_session_id,
		                           created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), $10, $10)
		 ON CONFLICT (%[1]s, plan) DO UPDATE SET
		   billing = EXCLUDED.billing,
		   status = EXCLUDED.status,
		   current_period_end = EXCLUDED.current_period_end,
		   stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, subscriptions.stripe_customer_id),
		   stripe_subscription_id = EXCLUDED.stripe_subscription_id,
		   stripe_checkout_session_id = COALESCE(EXCLUDED.stripe_checkout_session_id, subscriptions.stripe_checkout_session_id),
		   updated_at = EXCLUDED.updated_at%[2]s
		 RETURNING id, created_at`, col, guard)
}

// applySubscriptionQuery は同じ所有者の別の行が移動先のプランを持つ場合は更新しない。
func applySubscriptionQuery(col string) string {
	return fmt.Sprintf(
		`UPDATE subscriptions AS s SET
		   plan = $2,
		   billing = $3,
		   status = $4,
		   current_period_end = COALESCE($5, s.current_period_end),
		   stripe_customer_id = COALESCE(NULLIF($6, ''), s.stripe_customer_id),
		   updated_at = $7
		 WHERE s.stripe_subscription_id = $1
		   AND s.billing <> 'lifetime' AND s.status <> 'lifetime'
		   AND NOT EXISTS (
		     SELECT 1 FROM subscriptions o
		     WHERE o.%[1]s = s.%[1]s AND o.plan = $2 AND o.id <> s.id)`, col)
}

func latestCustomerQuery(col string) string {
	return fmt.Sprintf(
		`SELECT stripe_customer_id FROM subscriptions
		 WHERE %[1]s = $1 AND COALESCE(stripe_customer_id, '') <> ''
		 ORDER BY current_period_end DESC NULLS FIRST, updated_at DESC
		 LIMIT 1`, col)
}

// ListByOwner は所有者の全行をupdated_at降順で返す。
func (r *PostgresSubscriptionRepo) ListByOwner(ctx context.Context, userID string) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.withOwnerColumn(ctx, "list_by_owner", func(col string) error {
		rows, err := r.db.QueryContext(ctx, listByOwnerQuery(col), userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		subs = subs[:0]
		for rows.Next() {
			sub, err := scanSubscription(rows)
			if err != nil {
				return err
			}
			subs = append(subs, sub)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("購読一覧の取得に失敗しました: %w", err)
	}
	if subs == nil {
		subs = []model.Subscription{}
	}
	return subs, nil
}

func scanSubscription(rows *sql.Rows) (model.Subscription, error) {
	var (
		sub           model.Subscription
		plan, billing string
		periodEnd     sql.NullTime
	)
	err := rows.Scan(
		&sub.ID, &sub.UserID, &plan, &billing, &sub.Status, &periodEnd,
		&sub.StripeCustomerID, &sub.StripeSubscriptionID, &sub.StripeCheckoutSessionID,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return model.Subscription{}, fmt.Errorf("購読行の読み取りに失敗しました: %w", err)
	}
	sub.Plan = model.Plan(plan)
	sub.Billing = model.Billing(billing)
	if periodEnd.Valid {
		t := periodEnd.Time
		sub.CurrentPeriodEnd = &t
	}
	return sub, nil
}

// UpsertByOwnerPlan は(所有者, プラン)をキーに行を冪等にUPSERTする。
// 成功時はsub.ID・CreatedAt・UpdatedAtを保存後の値で上書きする。
func (r *PostgresSubscriptionRepo) UpsertByOwnerPlan(ctx context.Context, sub *model.Subscription) error {
	now := r.now().UTC()
	newID := uuid.NewString()

	var periodEnd sql.NullTime
	if sub.CurrentPeriodEnd != nil {
		periodEnd = sql.NullTime{Time: *sub.CurrentPeriodEnd, Valid: true}
	}

	var (
		id        string
		createdAt time.Time
	)
	err := r.withOwnerColumn(ctx, "upsert_by_owner_plan", func(col string) error {
		return r.db.QueryRowContext(ctx, upsertByOwnerPlanQuery(col),
			newID, sub.UserID, string(sub.Plan), string(sub.Billing), sub.Status, periodEnd,
			sub.StripeCustomerID, sub.StripeSubscriptionID, sub.StripeCheckoutSessionID, now,
		).Scan(&id, &createdAt)
	})
	if err != nil {
		return fmt.Errorf("購読のUPSERTに失敗しました: %w", err)
	}

	sub.ID = id
	sub.CreatedAt = createdAt
	sub.UpdatedAt = now
	return nil
}

// UpsertUnlessGranted は既存の権利を上書きしない条件付きUPSERTを行う。
// 書き込んだ場合はsub.ID・CreatedAt・UpdatedAtを保存後の値で上書きしてtrueを返す。
func (r *PostgresSubscriptionRepo) UpsertUnlessGranted(ctx context.Context, sub *model.Subscription) (bool, error) {
	now := r.now().UTC()
	newID := uuid.NewString()

	var periodEnd sql.NullTime
	if sub.CurrentPeriodEnd != nil {
		periodEnd = sql.NullTime{Time: *sub.CurrentPeriodEnd, Valid: true}
	}

	var (
		id        string
		createdAt time.Time
	)
	err := r.withOwnerColumn(ctx, "upsert_unless_granted", func(col string) error {
		return r.db.QueryRowContext(ctx, upsertUnlessGrantedQuery(col),
			newID, sub.UserID, string(sub.Plan), string(sub.Billing), sub.Status, periodEnd,
			sub.StripeCustomerID, sub.StripeSubscriptionID, sub.StripeCheckoutSessionID, now,
		).Scan(&id, &createdAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("購読の条件付きUPSERTに失敗しました: %w", err)
	}

	sub.ID = id
	sub.CreatedAt = createdAt
	sub.UpdatedAt = now
	return true, nil
}

// ApplySubscription はプロバイダーのサブスクリプションIDで行をプラン・課金間隔ごと更新する。
// 期限がnilの場合と顧客IDが空の場合は既存値を維持する。
func (r *PostgresSubscriptionRepo) ApplySubscription(ctx context.Context, sub *model.Subscription) (int64, error) {
	var periodEnd sql.NullTime
	if sub.CurrentPeriodEnd != nil {
		periodEnd = sql.NullTime{Time: *sub.CurrentPeriodEnd, Valid: true}
	}

	var n int64
	err := r.withOwnerColumn(ctx, "apply_subscription", func(col string) error {
		res, err := r.db.ExecContext(ctx, applySubscriptionQuery(col),
			sub.StripeSubscriptionID, string(sub.Plan), string(sub.Billing), sub.Status,
			periodEnd, sub.StripeCustomerID, r.now().UTC(),
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("サブスクリプションの更新に失敗しました: %w", err)
	}
	return n, nil
}

// ApplySubscriptionState はプロバイダーのサブスクリプションIDで行を部分更新する。
// 期限がnilの場合と顧客IDが空の場合は既存値を維持する。
func (r *PostgresSubscriptionRepo) ApplySubscriptionState(ctx context.Context, stripeSubscriptionID string, state model.SubscriptionState) (int64, error) {
	var periodEnd sql.NullTime
	if state.CurrentPeriodEnd != nil {
		periodEnd = sql.NullTime{Time: *state.CurrentPeriodEnd, Valid: true}
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE subscriptions SET
		   status = $2,
		   current_period_end = COALESCE($3, current_period_end),
		   stripe_customer_id = COALESCE(NULLIF($4, ''), stripe_customer_id),
		   updated_at = $5
		 WHERE stripe_subscription_id = $1
		   AND billing <> 'lifetime' AND status <> 'lifetime'`,
		stripeSubscriptionID, state.Status, periodEnd, state.StripeCustomerID, r.now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("サブスクリプション状態の更新に失敗しました: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// FindLatestCustomerID は所有者の顧客IDを返す。
// 期限の遅い行（無期限の買い切りを最優先）、次に更新日時の新しい行を優先する。
func (r *PostgresSubscriptionRepo) FindLatestCustomerID(ctx context.Context, userID string) (string, error) {
	var customerID string
	err := r.withOwnerColumn(ctx, "find_latest_customer_id", func(col string) error {
		return r.db.QueryRowContext(ctx, latestCustomerQuery(col), userID).Scan(&customerID)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNoCustomer
	}
	if err != nil {
		return "", fmt.Errorf("顧客IDの取得に失敗しました: %w", err)
	}
	return customerID, nil
}
