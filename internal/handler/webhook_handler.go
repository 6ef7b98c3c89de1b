package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v82"

	"github.com/hitoshi/billingbridge/internal/middleware"
	"github.com/hitoshi/billingbridge/internal/model"
	"github.com/hitoshi/billingbridge/internal/webhook"
)

// defaultWebhookMaxBodyBytes はWebhookボディ上限の既定値。
const defaultWebhookMaxBodyBytes = 1 << 20

// EventVerifier はWebhookの署名を検証するインターフェース。
type EventVerifier interface {
	Verify(payload []byte, signature string) (stripe.Event, error)
}

// EventApplier は分類済みイベントを購読ストアに反映するインターフェース。
type EventApplier interface {
	Apply(ctx context.Context, ev webhook.Event) error
}

// WebhookHandler は決済プロバイダーからのWebhookを受け付けるHTTPハンドラー。
type WebhookHandler struct {
	verifier     EventVerifier
	applier      EventApplier
	maxBodyBytes int64
}

// NewWebhookHandler はWebhookHandlerを生成する。maxBodyBytesが0以下の場合は1MiBとする。
func NewWebhookHandler(verifier EventVerifier, applier EventApplier, maxBodyBytes int64) *WebhookHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultWebhookMaxBodyBytes
	}
	return &WebhookHandler{
		verifier:     verifier,
		applier:      applier,
		maxBodyBytes: maxBodyBytes,
	}
}

// HandleEvent は署名付きイベントを検証し、購読ストアへ反映する。
// 反映に失敗した場合は500を返し、プロバイダーの再送に委ねる。
// POST /webhook
func (h *WebhookHandler) HandleEvent(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, r, model.NewInvalidPayloadError("ボディが大きすぎます。"))
			return
		}
		middleware.WriteError(w, r, model.NewInvalidPayloadError("ボディを読み取れません。"))
		return
	}

	raw, err := h.verifier.Verify(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		slog.Warn("Webhookの署名検証に失敗しました", slog.String("error", err.Error()))
		if errors.Is(err, webhook.ErrMissingSignature) {
			middleware.WriteError(w, r, model.NewInvalidSignatureError("Missing stripe-signature"))
			return
		}
		middleware.WriteError(w, r, model.NewInvalidSignatureError("Webhook signature verification failed"))
		return
	}

	ev, err := webhook.Classify(raw)
	if err != nil {
		slog.Warn("Webhookイベントを解釈できません",
			slog.String("event_id", raw.ID),
			slog.String("event_type", string(raw.Type)),
			slog.String("error", err.Error()),
		)
		middleware.WriteError(w, r, model.NewInvalidPayloadError("イベント本体を解釈できません。"))
		return
	}

	if err := h.applier.Apply(r.Context(), ev); err != nil {
		slog.Error("Webhookイベントの反映に失敗しました",
			slog.String("event_id", raw.ID),
			slog.String("event_type", string(raw.Type)),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "ok")
}
