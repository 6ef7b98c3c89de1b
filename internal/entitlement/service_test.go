package entitlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/billingbridge/internal/model"
)

type mockLister struct {
	listFn func(ctx context.Context, userID string) ([]model.Subscription, error)
}

func (m *mockLister) ListByOwner(ctx context.Context, userID string) ([]model.Subscription, error) {
	return m.listFn(ctx, userID)
}

func TestService_ForUser_ResolvesWithClock(t *testing.T) {
	lister := &mockLister{
		listFn: func(_ context.Context, userID string) ([]model.Subscription, error) {
			if userID != "u1" {
				t.Errorf("userID = %q, want u1", userID)
			}
			return []model.Subscription{
				row(model.PlanNetworking, model.BillingMonthly, model.StatusActive, at(time.Hour)),
			}, nil
		},
	}
	svc := NewService(lister, nil)
	svc.now = func() time.Time { return now }

	got, evaluatedAt, err := svc.ForUser(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Flags != (Flags{Networking: true}) {
		t.Errorf("flags = %+v", got.Flags)
	}
	if !evaluatedAt.Equal(now) {
		t.Errorf("evaluatedAt = %v, want %v", evaluatedAt, now)
	}

	// 2時間後には期限切れ
	svc.now = func() time.Time { return now.Add(2 * time.Hour) }
	got, _, _ = svc.ForUser(context.Background(), "u1")
	if got.Flags != (Flags{}) {
		t.Errorf("flags after expiry = %+v, want none", got.Flags)
	}
}

func TestService_ForUser_StoreErrorIsFatal(t *testing.T) {
	storeErr := errors.New("connection reset")
	svc := NewService(&mockLister{
		listFn: func(context.Context, string) ([]model.Subscription, error) { return nil, storeErr },
	}, nil)

	_, _, err := svc.ForUser(context.Background(), "u1")
	if !errors.Is(err, storeErr) {
		t.Errorf("err = %v, want wrapped %v", err, storeErr)
	}
}
