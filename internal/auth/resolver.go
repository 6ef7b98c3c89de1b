package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/billingbridge/internal/model"
)

// Channel はリクエストの認証情報の受け取り経路。
type Channel uint8

const (
	// ChannelBearer はAuthorization: Bearer ヘッダー。
	ChannelBearer Channel = 1 << iota
	// ChannelCookie はSupabase SSRのセッションCookie。
	ChannelCookie
)

// 利用者に返す認証失敗の理由
const (
	ReasonMissingBearer    = "Missing Authorization: Bearer <access_token>"
	ReasonInvalidToken     = "Invalid access token"
	ReasonProjectMismatch  = "Invalid access token (project mismatch)"
	ReasonNotAuthenticated = "Not authenticated (no Bearer token and/or no valid auth cookies)"
)

// TokenVerifier はアクセストークンを検証してユーザーを返すインターフェース。
type TokenVerifier interface {
	GetUser(ctx context.Context, accessToken string) (*model.User, error)
}

// Resolver はリクエストの認証情報からユーザーを特定する。
// キャッシュは持たず、リクエストごとにIDプロバイダーへ問い合わせる。
type Resolver struct {
	verifier    TokenVerifier
	cookieName  string
	projectHost string
}

// NewResolver はResolverを生成する。supabaseURLからCookie名と発行者ホストを導出する。
func NewResolver(verifier TokenVerifier, supabaseURL string) *Resolver {
	var host string
	if u, err := url.Parse(supabaseURL); err == nil {
		host = u.Host
	}
	return &Resolver{
		verifier:    verifier,
		cookieName:  SessionCookieName(ProjectRef(supabaseURL)),
		projectHost: host,
	}
}

// Resolve は許可された経路からユーザーを特定する。Bearerが存在すればCookieより優先する。
// 認証失敗は401相当、IDプロバイダーの障害は500相当の*model.APIErrorを返す。
func (r *Resolver) Resolve(req *http.Request, channels Channel) (*model.User, error) {
	ctx := req.Context()

	if channels&ChannelBearer != 0 {
		if token, ok := BearerToken(req); ok {
			return r.verify(ctx, token, ReasonInvalidToken)
		}
	}

	if channels&ChannelCookie != 0 {
		token, err := AccessTokenFromCookies(req, r.cookieName)
		if err != nil {
			return nil, model.NewUnauthorizedError(ReasonNotAuthenticated)
		}
		return r.verify(ctx, token, ReasonNotAuthenticated)
	}

	return nil, model.NewUnauthorizedError(ReasonMissingBearer)
}

func (r *Resolver) verify(ctx context.Context, token, rejectedReason string) (*model.User, error) {
	if r.projectMismatch(token) {
		return nil, model.NewUnauthorizedError(ReasonProjectMismatch)
	}

	user, err := r.verifier.GetUser(ctx, token)
	if errors.Is(err, ErrInvalidToken) {
		return nil, model.NewUnauthorizedError(rejectedReason)
	}
	if err != nil {
		slog.ErrorContext(ctx, "IDプロバイダーでのトークン検証に失敗しました",
			slog.String("error", err.Error()),
		)
		return nil, model.NewUpstreamError("認証プロバイダー")
	}
	return user, nil
}

// projectMismatch は署名を検証せずにトークンの発行者を読み、別プロジェクトの発行であればtrueを返す。
// JWTとして読めないトークンの判定はIDプロバイダーに委ねる。
func (r *Resolver) projectMismatch(token string) bool {
	if r.projectHost == "" {
		return false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	iss, err := claims.GetIssuer()
	if err != nil || iss == "" {
		return false
	}
	return !strings.Contains(iss, r.projectHost)
}

// BearerToken はAuthorizationヘッダーからBearerトークンを取り出す。スキーム名は大文字小文字を区別しない。
func BearerToken(req *http.Request) (string, bool) {
	fields := strings.Fields(req.Header.Get("Authorization"))
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Bearer") {
		return "", false
	}
	return fields[1], true
}
