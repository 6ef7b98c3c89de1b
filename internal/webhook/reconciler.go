package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/billingbridge/internal/auth"
	"github.com/hitoshi/billingbridge/internal/billing"
	"github.com/hitoshi/billingbridge/internal/metrics"
	"github.com/hitoshi/billingbridge/internal/model"
)

// SubscriptionWriter は購読行の書き込みを行うインターフェース。
type SubscriptionWriter interface {
	UpsertByOwnerPlan(ctx context.Context, row *model.Subscription) error
	UpsertUnlessGranted(ctx context.Context, row *model.Subscription) (bool, error)
	ApplySubscription(ctx context.Context, row *model.Subscription) (int64, error)
	ApplySubscriptionState(ctx context.Context, subscriptionID string, state model.SubscriptionState) (int64, error)
}

// SubscriptionFetcher はプロバイダー側のサブスクリプションを取得するインターフェース。
type SubscriptionFetcher interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*billing.SubscriptionInfo, error)
}

// UserLookup はIDプロバイダーでユーザーの存在を確認するインターフェース。
type UserLookup interface {
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
}

// Reconciler は分類済みイベントを購読ストアに反映する。
// 同じイベントを複数回適用しても結果は変わらない。
type Reconciler struct {
	store    SubscriptionWriter
	provider SubscriptionFetcher
	users    UserLookup
	metrics  metrics.MetricsCollector
}

// NewReconciler はReconcilerを生成する。
func NewReconciler(store SubscriptionWriter, provider SubscriptionFetcher, users UserLookup, m metrics.MetricsCollector) *Reconciler {
	return &Reconciler{
		store:    store,
		provider: provider,
		users:    users,
		metrics:  metrics.OrNop(m),
	}
}

// Apply はイベントを反映する。エラーを返した場合、呼び出し側は5xxを返して再送を促す。
// 修復できないデータ不備は警告ログを出したうえでnilを返す。
func (r *Reconciler) Apply(ctx context.Context, ev Event) error {
	var (
		outcome string
		err     error
	)

	switch e := ev.(type) {
	case CheckoutCompleted:
		outcome, err = r.applyCheckout(ctx, e)
	case SubscriptionChanged:
		outcome, err = r.applySubscriptionChanged(ctx, e)
	case SubscriptionDeleted:
		outcome, err = r.applySubscriptionDeleted(ctx, e)
	case Ignored:
		outcome = metrics.OutcomeIgnored
	default:
		err = fmt.Errorf("未対応のイベント型です: %T", ev)
	}

	if err != nil {
		outcome = metrics.OutcomeError
	}
	r.metrics.RecordWebhookEvent(ev.Type(), outcome)
	return err
}

// owner はチェックアウトセッションから購入者のユーザーIDを取り出す。
func (e CheckoutCompleted) owner() string {
	if v := e.Metadata[billing.MetadataUserID]; v != "" {
		return v
	}
	if v := e.Metadata[billing.MetadataLegacyUserID]; v != "" {
		return v
	}
	return e.ClientReferenceID
}

func (r *Reconciler) applyCheckout(ctx context.Context, e CheckoutCompleted) (string, error) {
	userID := e.owner()
	plan, planOK := model.ParsePlan(e.Metadata[billing.MetadataPlan])
	bill, billingOK := model.ParseBilling(e.Metadata[billing.MetadataBilling])
	if userID == "" || !planOK || !billingOK {
		slog.Warn("チェックアウト完了イベントのメタデータが不足しています",
			slog.String("event_id", e.EventID),
			slog.String("session_id", e.SessionID),
			slog.String("user_id", userID),
			slog.Any("metadata", e.Metadata),
		)
		return metrics.OutcomeSkipped, nil
	}

	if ok, err := r.ownerExists(ctx, e.EventID, userID); err != nil || !ok {
		return metrics.OutcomeSkipped, err
	}

	row := &model.Subscription{
		UserID:                  userID,
		Plan:                    plan,
		StripeCustomerID:        e.CustomerID,
		StripeCheckoutSessionID: e.SessionID,
	}

	if e.Mode == string(billing.ModePayment) {
		row.Billing = model.BillingLifetime
		row.Status = model.StatusLifetime
	} else {
		row.Billing = bill
		row.Status = model.StatusActive
		row.StripeSubscriptionID = e.SubscriptionID

		if e.SubscriptionID != "" {
			sub, err := r.provider.GetSubscription(ctx, e.SubscriptionID)
			if err != nil {
				return "", fmt.Errorf("サブスクリプションの取得に失敗しました: %w", err)
			}
			if sub.Status != "" {
				row.Status = sub.Status
			}
			row.CurrentPeriodEnd = sub.CurrentPeriodEnd
			if row.StripeCustomerID == "" {
				row.StripeCustomerID = sub.CustomerID
			}
		}
	}

	if err := r.store.UpsertByOwnerPlan(ctx, row); err != nil {
		return "", fmt.Errorf("購読行の保存に失敗しました: %w", err)
	}

	slog.Info("チェックアウト完了を反映しました",
		slog.String("event_id", e.EventID),
		slog.String("user_id", userID),
		slog.String("plan", string(row.Plan)),
		slog.String("billing", string(row.Billing)),
		slog.String("status", row.Status),
	)
	return metrics.OutcomeOK, nil
}

func (r *Reconciler) applySubscriptionChanged(ctx context.Context, e SubscriptionChanged) (string, error) {
	sub := e.Subscription

	userID := sub.Metadata[billing.MetadataUserID]
	if userID == "" {
		userID = sub.Metadata[billing.MetadataLegacyUserID]
	}
	plan, planOK := model.ParsePlan(sub.Metadata[billing.MetadataPlan])
	bill, billingOK := model.ParseBilling(sub.Metadata[billing.MetadataBilling])

	if userID != "" && planOK && billingOK {
		row := &model.Subscription{
			UserID:               userID,
			Plan:                 plan,
			Billing:              bill,
			Status:               sub.Status,
			CurrentPeriodEnd:     sub.CurrentPeriodEnd,
			StripeCustomerID:     sub.CustomerID,
			StripeSubscriptionID: sub.ID,
		}

		// サブスクリプションIDで一致する行を優先し、(所有者, プラン) では既存の権利を上書きしない。
		n, err := r.store.ApplySubscription(ctx, row)
		if err != nil {
			return "", fmt.Errorf("購読行の更新に失敗しました: %w", err)
		}
		written := n > 0
		if !written {
			if ok, err := r.ownerExists(ctx, e.EventID, userID); err != nil || !ok {
				return metrics.OutcomeSkipped, err
			}
			written, err = r.store.UpsertUnlessGranted(ctx, row)
			if err != nil {
				return "", fmt.Errorf("購読行の保存に失敗しました: %w", err)
			}
		}
		if written {
			slog.Info("サブスクリプションの変更を反映しました",
				slog.String("event_id", e.EventID),
				slog.String("subscription_id", sub.ID),
				slog.String("status", sub.Status),
			)
			return metrics.OutcomeOK, nil
		}

		slog.Warn("同じプランに別の権利があるため購読行を上書きしません",
			slog.String("event_id", e.EventID),
			slog.String("subscription_id", sub.ID),
			slog.String("user_id", userID),
			slog.String("plan", string(plan)),
		)
	}

	return r.applyState(ctx, e.EventID, sub.ID, model.SubscriptionState{
		Status:           sub.Status,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		StripeCustomerID: sub.CustomerID,
	})
}

func (r *Reconciler) applySubscriptionDeleted(ctx context.Context, e SubscriptionDeleted) (string, error) {
	return r.applyState(ctx, e.EventID, e.Subscription.ID, model.SubscriptionState{
		Status:           model.StatusCanceled,
		CurrentPeriodEnd: e.Subscription.CurrentPeriodEnd,
	})
}

func (r *Reconciler) applyState(ctx context.Context, eventID, subscriptionID string, state model.SubscriptionState) (string, error) {
	n, err := r.store.ApplySubscriptionState(ctx, subscriptionID, state)
	if err != nil {
		return "", fmt.Errorf("購読行の更新に失敗しました: %w", err)
	}
	if n == 0 {
		slog.Warn("サブスクリプションIDに一致する購読行がありません",
			slog.String("event_id", eventID),
			slog.String("subscription_id", subscriptionID),
			slog.String("status", state.Status),
		)
		return metrics.OutcomeSkipped, nil
	}

	slog.Info("サブスクリプションの状態を更新しました",
		slog.String("event_id", eventID),
		slog.String("subscription_id", subscriptionID),
		slog.String("status", state.Status),
		slog.Int64("rows", n),
	)
	return metrics.OutcomeOK, nil
}

// ownerExists はIDプロバイダーにユーザーが存在するかを確認する。
// 存在しない場合は警告ログを出してfalseを返す。
func (r *Reconciler) ownerExists(ctx context.Context, eventID, userID string) (bool, error) {
	_, err := r.users.GetUserByID(ctx, userID)
	if errors.Is(err, auth.ErrUserNotFound) {
		slog.Warn("イベントの所有者がIDプロバイダーに存在しません",
			slog.String("event_id", eventID),
			slog.String("user_id", userID),
		)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ユーザーの確認に失敗しました: %w", err)
	}
	return true, nil
}
