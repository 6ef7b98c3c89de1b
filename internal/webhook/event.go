package webhook

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"
)

// ErrMalformedPayload はイベント本体を解釈できないことを示す。
var ErrMalformedPayload = errors.New("malformed event payload")

// Event は処理対象のイベントを表す閉じた型。
// 実装はCheckoutCompleted, SubscriptionChanged, SubscriptionDeleted, Ignoredのみ。
type Event interface {
	// Type はプロバイダーのイベント種別（例: checkout.session.completed）を返す。
	Type() string
	sealed()
}

// CheckoutCompleted はチェックアウト完了イベント。
type CheckoutCompleted struct {
	EventID           string
	SessionID         string
	Mode              string
	CustomerID        string
	SubscriptionID    string
	ClientReferenceID string
	Metadata          map[string]string
}

// SubscriptionSnapshot はイベントに含まれるサブスクリプションの状態。
type SubscriptionSnapshot struct {
	ID               string
	Status           string
	CustomerID       string
	CurrentPeriodEnd *time.Time
	Metadata         map[string]string
}

// SubscriptionChanged はサブスクリプションの作成・更新イベント。
type SubscriptionChanged struct {
	EventID      string
	EventType    string
	Subscription SubscriptionSnapshot
}

// SubscriptionDeleted はサブスクリプションの削除（解約確定）イベント。
type SubscriptionDeleted struct {
	EventID      string
	Subscription SubscriptionSnapshot
}

// Ignored は処理対象外のイベント。
type Ignored struct {
	EventID   string
	EventType string
}

func (CheckoutCompleted) Type() string     { return string(stripe.EventTypeCheckoutSessionCompleted) }
func (e SubscriptionChanged) Type() string { return e.EventType }
func (SubscriptionDeleted) Type() string   { return string(stripe.EventTypeCustomerSubscriptionDeleted) }
func (e Ignored) Type() string             { return e.EventType }

func (CheckoutCompleted) sealed()   {}
func (SubscriptionChanged) sealed() {}
func (SubscriptionDeleted) sealed() {}
func (Ignored) sealed()             {}

// Classify は検証済みのイベントを処理用の型に変換する。
// 対象のイベント種別で本体を解釈できない場合はErrMalformedPayloadを返す。
func Classify(ev stripe.Event) (Event, error) {
	switch ev.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		return classifyCheckout(ev)
	case stripe.EventTypeCustomerSubscriptionCreated, stripe.EventTypeCustomerSubscriptionUpdated:
		snap, err := decodeSubscription(ev)
		if err != nil {
			return nil, err
		}
		return SubscriptionChanged{EventID: ev.ID, EventType: string(ev.Type), Subscription: snap}, nil
	case stripe.EventTypeCustomerSubscriptionDeleted:
		snap, err := decodeSubscription(ev)
		if err != nil {
			return nil, err
		}
		return SubscriptionDeleted{EventID: ev.ID, Subscription: snap}, nil
	default:
		return Ignored{EventID: ev.ID, EventType: string(ev.Type)}, nil
	}
}

func rawObject(ev stripe.Event) (json.RawMessage, error) {
	if ev.Data == nil || len(ev.Data.Raw) == 0 {
		return nil, fmt.Errorf("%w: %s has no data.object", ErrMalformedPayload, ev.Type)
	}
	return ev.Data.Raw, nil
}

func classifyCheckout(ev stripe.Event) (Event, error) {
	raw, err := rawObject(ev)
	if err != nil {
		return nil, err
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if s.ID == "" {
		return nil, fmt.Errorf("%w: checkout session without id", ErrMalformedPayload)
	}

	out := CheckoutCompleted{
		EventID:           ev.ID,
		SessionID:         s.ID,
		Mode:              string(s.Mode),
		ClientReferenceID: s.ClientReferenceID,
		Metadata:          s.Metadata,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Subscription != nil {
		out.SubscriptionID = s.Subscription.ID
	}
	return out, nil
}

// rawSubscription はサブスクリプションの本体のうち使用する項目。
// 期間終了日時はAPIバージョンによってトップレベルまたはアイテム単位に置かれる。
type rawSubscription struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Customer         json.RawMessage   `json:"customer"`
	CurrentPeriodEnd int64             `json:"current_period_end"`
	Metadata         map[string]string `json:"metadata"`
	Items            struct {
		Data []struct {
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

func decodeSubscription(ev stripe.Event) (SubscriptionSnapshot, error) {
	raw, err := rawObject(ev)
	if err != nil {
		return SubscriptionSnapshot{}, err
	}

	var s rawSubscription
	if err := json.Unmarshal(raw, &s); err != nil {
		return SubscriptionSnapshot{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if s.ID == "" {
		return SubscriptionSnapshot{}, fmt.Errorf("%w: subscription without id", ErrMalformedPayload)
	}

	customerID, err := expandableID(s.Customer)
	if err != nil {
		return SubscriptionSnapshot{}, fmt.Errorf("%w: customer: %v", ErrMalformedPayload, err)
	}

	var end int64
	for _, item := range s.Items.Data {
		if item.CurrentPeriodEnd > end {
			end = item.CurrentPeriodEnd
		}
	}
	if end == 0 {
		end = s.CurrentPeriodEnd
	}

	return SubscriptionSnapshot{
		ID:               s.ID,
		Status:           s.Status,
		CustomerID:       customerID,
		CurrentPeriodEnd: unixTime(end),
		Metadata:         s.Metadata,
	}, nil
}

// expandableID はIDの文字列、または展開済みオブジェクトからIDを取り出す。
func expandableID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id, nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", err
	}
	return obj.ID, nil
}

func unixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
