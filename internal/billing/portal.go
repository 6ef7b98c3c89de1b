package billing

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hitoshi/billingbridge/internal/model"
	"github.com/hitoshi/billingbridge/internal/repository"
)

// CustomerFinder は所有者の請求先顧客IDを取得するインターフェース。
type CustomerFinder interface {
	FindLatestCustomerID(ctx context.Context, userID string) (string, error)
}

// PortalService は請求管理ポータルへの遷移URLを発行する。
type PortalService struct {
	provider  Provider
	customers CustomerFinder
	origins   *OriginPolicy
}

// NewPortalService はPortalServiceを生成する。
func NewPortalService(provider Provider, customers CustomerFinder, origins *OriginPolicy) *PortalService {
	return &PortalService{
		provider:  provider,
		customers: customers,
		origins:   origins,
	}
}

// Open はユーザーの最新の顧客IDでポータルセッションを作成し、URLを返す。
// 顧客IDが保存されていない場合はプロバイダーを呼び出さずにNoCustomerエラーを返す。
func (s *PortalService) Open(ctx context.Context, userID, origin string) (string, error) {
	customerID, err := s.customers.FindLatestCustomerID(ctx, userID)
	if errors.Is(err, repository.ErrNoCustomer) {
		return "", model.NewNoCustomerError()
	}
	if err != nil {
		slog.Error("顧客IDの取得に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return "", model.NewUpstreamError("購読ストア")
	}

	returnURL := s.origins.Resolve(origin) + "/"
	url, err := s.provider.CreatePortalSession(ctx, customerID, returnURL)
	if err != nil {
		slog.Error("請求管理ポータルの作成に失敗しました",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return "", model.NewUpstreamError("決済プロバイダー")
	}
	return url, nil
}
