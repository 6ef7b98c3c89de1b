package entitlement

import (
	"context"
	"fmt"
	"time"

	"github.com/hitoshi/billingbridge/internal/metrics"
	"github.com/hitoshi/billingbridge/internal/model"
)

// SubscriptionLister は所有者の購読行一覧を取得するインターフェース。
type SubscriptionLister interface {
	ListByOwner(ctx context.Context, userID string) ([]model.Subscription, error)
}

// Service はユーザーの利用権限を導出するサービス層。
type Service struct {
	repo    SubscriptionLister
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo SubscriptionLister, m metrics.MetricsCollector) *Service {
	return &Service{
		repo:    repo,
		metrics: metrics.OrNop(m),
		now:     time.Now,
	}
}

// ForUser はユーザーの全行を読み込み、現在時刻で権限を導出する。
// ストアのエラーは劣化させずにそのまま返す。
func (s *Service) ForUser(ctx context.Context, userID string) (Result, time.Time, error) {
	rows, err := s.repo.ListByOwner(ctx, userID)
	if err != nil {
		s.metrics.RecordEntitlementLookup(metrics.OutcomeError)
		return Result{}, time.Time{}, fmt.Errorf("購読行の取得に失敗しました: %w", err)
	}

	now := s.now()
	s.metrics.RecordEntitlementLookup(metrics.OutcomeOK)
	return Resolve(rows, now), now, nil
}
