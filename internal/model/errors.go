package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string            // エラーコード
	Message  string            // エラーメッセージ
	Category string            // カテゴリ: auth, validation, config, upstream, billing, system
	Action   string            // 利用者向け対処方法
	Expected map[string]string // バリデーションエラー時に期待される列挙値
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInvalidPlan        = "INVALID_PLAN"
	ErrCodePriceNotConfigured = "PRICE_NOT_CONFIGURED"
	ErrCodeNoCustomer         = "NO_CUSTOMER"
	ErrCodeUpstream           = "UPSTREAM_ERROR"
	ErrCodeInvalidSignature   = "INVALID_SIGNATURE"
	ErrCodeInvalidPayload     = "INVALID_PAYLOAD"
	ErrCodeForbiddenOrigin    = "FORBIDDEN_ORIGIN"
	ErrCodeRateLimited        = "RATE_LIMITED"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

// NewUnauthorizedError は認証失敗エラーを生成する。reasonは利用者にそのまま表示される。
func NewUnauthorizedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  reason,
		Category: "auth",
		Action:   "ログインし直してから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewInvalidPlanError はプラン・課金間隔が列挙外の場合のエラーを生成する。
// 期待される列挙値をExpectedに含める。
func NewInvalidPlanError(plan, billing string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPlan,
		Message:  fmt.Sprintf("Invalid payload: plan=%q billing=%q", plan, billing),
		Category: "validation",
		Action:   "planとbillingには列挙された値のいずれかを指定してください。",
		Expected: map[string]string{
			"plan":    PlanEnumeration(),
			"billing": BillingEnumeration(),
		},
	}
}

// NewPriceNotConfiguredError は価格IDが設定されていない場合のエラーを生成する。
// 利用者ではなく運用者が修正すべき設定不備を表す。
func NewPriceNotConfiguredError(envKey string) *APIError {
	return &APIError{
		Code:     ErrCodePriceNotConfigured,
		Message:  fmt.Sprintf("No Stripe price found for this option. Missing env: %s", envKey),
		Category: "config",
		Action:   "運営者にお問い合わせください。",
	}
}

// NewNoCustomerError は請求先の顧客IDが保存されていない場合のエラーを生成する。
func NewNoCustomerError() *APIError {
	return &APIError{
		Code:     ErrCodeNoCustomer,
		Message:  "Missing stripe_customer_id on subscriptions for this user",
		Category: "billing",
		Action:   "プランを購入してから請求管理ページを開いてください。",
	}
}

// NewUpstreamError は外部サービス（ストア・決済・認証）呼び出しの失敗エラーを生成する。
func NewUpstreamError(service string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstream,
		Message:  fmt.Sprintf("%s の呼び出しに失敗しました。", service),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidSignatureError はWebhook署名の欠落・不一致エラーを生成する。
func NewInvalidSignatureError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSignature,
		Message:  reason,
		Category: "validation",
		Action:   "署名シークレットの設定を確認してください。",
	}
}

// NewInvalidPayloadError はWebhookペイロードの解析失敗エラーを生成する。
func NewInvalidPayloadError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPayload,
		Message:  fmt.Sprintf("イベントペイロードを解析できません: %s", reason),
		Category: "validation",
		Action:   "イベントの内容を確認してください。",
	}
}

// NewForbiddenOriginError はCookie認証の状態変更リクエストが許可外のOriginから送られた場合のエラーを生成する。
func NewForbiddenOriginError() *APIError {
	return &APIError{
		Code:     ErrCodeForbiddenOrigin,
		Message:  "許可されていないOriginからのリクエストです。",
		Category: "auth",
		Action:   "アプリケーションの画面から操作してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーの汎用レスポンスを生成する。
// 詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
