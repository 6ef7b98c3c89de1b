// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/billingbridge/internal/auth"
	"github.com/hitoshi/billingbridge/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userContextKey はリクエストコンテキストに認証済みユーザーを格納するためのキー。
var userContextKey = contextKey("user")

// UserResolver はリクエストの認証情報からユーザーを特定するインターフェース。
// auth.Resolverが実装する。
type UserResolver interface {
	Resolve(r *http.Request, channels auth.Channel) (*model.User, error)
}

// NewAuthMiddleware は許可された経路（Bearer/Cookie）でユーザーを特定し、
// リクエストコンテキストに注入するミドルウェアを返す。
// 認証失敗は401、IDプロバイダーの障害は500を返す。
func NewAuthMiddleware(resolver UserResolver, channels auth.Channel) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := resolver.Resolve(r, channels)
			if err != nil {
				WriteError(w, r, err)
				return
			}
			annotateUser(r.Context(), user.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// UserFromContext はリクエストコンテキストから認証済みユーザーを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserFromContext(ctx context.Context) (*model.User, error) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	if !ok || user == nil || user.ID == "" {
		return nil, fmt.Errorf("user not found in context")
	}
	return user, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	user, err := UserFromContext(ctx)
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

// ContextWithUser はコンテキストにユーザーを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}
