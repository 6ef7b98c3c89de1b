package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/billingbridge/internal/model"
)

// TestWriteErrorResponse_WritesUnifiedFormat は統一エラーフォーマットでレスポンスが書き込まれることを検証する。
func TestWriteErrorResponse_WritesUnifiedFormat(t *testing.T) {
	w := httptest.NewRecorder()

	apiErr := &model.APIError{
		Code:     "TEST_ERROR",
		Message:  "テストエラーです。",
		Category: "validation",
		Action:   "正しい値を入力してください。",
	}

	WriteErrorResponse(w, http.StatusBadRequest, apiErr)

	resp := w.Result()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusBadRequest)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var raw map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	for _, field := range []string{"code", "message", "category", "action"} {
		if _, ok := raw[field]; !ok {
			t.Errorf("missing field %q", field)
		}
	}
	if _, ok := raw["expected"]; ok {
		t.Error("expected must be omitted when empty")
	}
	if raw["code"] != "TEST_ERROR" || raw["action"] != "正しい値を入力してください。" {
		t.Errorf("body = %v", raw)
	}
}

// TestWriteErrorResponse_InvalidPlanIncludesExpected は不正プランのエラーに受け付け可能な値が含まれることを検証する。
func TestWriteErrorResponse_InvalidPlanIncludesExpected(t *testing.T) {
	w := httptest.NewRecorder()
	WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidPlanError("gold", "weekly"))

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != model.ErrCodeInvalidPlan {
		t.Errorf("code = %q", body.Code)
	}
	if body.Expected["plan"] == "" || body.Expected["billing"] == "" {
		t.Errorf("expected = %v, want plan and billing hints", body.Expected)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  *model.APIError
		want int
	}{
		{model.NewUnauthorizedError("x"), http.StatusUnauthorized},
		{model.NewInvalidRequestError("x"), http.StatusBadRequest},
		{model.NewInvalidPlanError("a", "b"), http.StatusBadRequest},
		{model.NewNoCustomerError(), http.StatusBadRequest},
		{model.NewInvalidSignatureError("x"), http.StatusBadRequest},
		{model.NewInvalidPayloadError("x"), http.StatusBadRequest},
		{model.NewForbiddenOriginError(), http.StatusForbidden},
		{model.NewRateLimitedError(), http.StatusTooManyRequests},
		{model.NewPriceNotConfiguredError("STRIPE_PRICE_TALENT_MONTHLY"), http.StatusInternalServerError},
		{model.NewUpstreamError("決済プロバイダー"), http.StatusInternalServerError},
		{model.NewInternalError(), http.StatusInternalServerError},
		{&model.APIError{Code: "SOMETHING_NEW"}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Code, func(t *testing.T) {
			if got := StatusForError(tt.err); got != tt.want {
				t.Errorf("StatusForError(%s) = %d, want %d", tt.err.Code, got, tt.want)
			}
		})
	}
}

// TestWriteError_WrappedAPIError はラップされたAPIErrorも対応するステータスで返すことを検証する。
func TestWriteError_WrappedAPIError(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/billing-portal", nil)

	WriteError(w, r, fmt.Errorf("ポータル作成: %w", model.NewNoCustomerError()))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	var body ErrorResponseBody
	json.NewDecoder(w.Body).Decode(&body)
	if body.Code != model.ErrCodeNoCustomer {
		t.Errorf("code = %q, want %q", body.Code, model.ErrCodeNoCustomer)
	}
}

// TestWriteError_HidesInternalDetails は内部エラーの詳細がレスポンスに含まれないことを検証する。
func TestWriteError_HidesInternalDetails(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/entitlements", nil)

	WriteError(w, r, errors.New("pq: connection refused to 10.0.0.5"))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	var body ErrorResponseBody
	json.NewDecoder(w.Body).Decode(&body)
	if body.Code != model.ErrCodeInternal || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
}
