package middleware

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/hitoshi/billingbridge/internal/model"
)

// NewOriginCheckMiddleware はCookie認証の状態変更リクエストに対するCSRF対策ミドルウェアを返す。
// 安全なメソッド（GET, HEAD, OPTIONS）は検証をスキップする。
// 状態変更メソッドはOriginヘッダー（無い場合はRefererのオリジン）が許可リストに含まれることを必須とする。
func NewOriginCheckMiddleware(allowedOrigins []string) func(next http.Handler) http.Handler {
	allowed := originSet(allowedOrigins)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			origin := requestOrigin(r)
			if _, ok := allowed[origin]; !ok || origin == "" {
				slog.Warn("CSRF validation failed: origin not allowed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("origin", origin),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenOriginError())
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestOrigin はリクエストの送信元オリジンを返す。
// Originヘッダーが無い場合はRefererからスキーム+ホストを取り出す。
func requestOrigin(r *http.Request) string {
	if o := r.Header.Get("Origin"); o != "" && o != "null" {
		return o
	}
	ref := r.Header.Get("Referer")
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
