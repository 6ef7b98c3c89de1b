package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// base64CookiePrefix はSupabase SSRがbase64url形式で保存したセッションに付ける接頭辞。
const base64CookiePrefix = "base64-"

// maxCookieChunks はチャンク分割されたセッションCookieの最大読み取り数。
const maxCookieChunks = 16

// ErrNoSessionCookie はセッションCookieが存在しない、またはアクセストークンを含まないことを示す。
var ErrNoSessionCookie = errors.New("no session cookie")

// ProjectRef はSupabaseのURLからプロジェクト参照ID（ホスト名の先頭ラベル）を返す。
func ProjectRef(supabaseURL string) string {
	u, err := url.Parse(supabaseURL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	ref, _, _ := strings.Cut(host, ".")
	return ref
}

// SessionCookieName はプロジェクトのセッションCookie名を返す。
func SessionCookieName(projectRef string) string {
	return "sb-" + projectRef + "-auth-token"
}

// AccessTokenFromCookies はSupabase SSRのセッションCookieからアクセストークンを取り出す。
// Cookieは単一、または name.0, name.1, ... のチャンクに分割されている場合がある。
func AccessTokenFromCookies(r *http.Request, cookieName string) (string, error) {
	raw := readSessionCookie(r, cookieName)
	if raw == "" {
		return "", ErrNoSessionCookie
	}
	return decodeSessionValue(raw)
}

func readSessionCookie(r *http.Request, name string) string {
	if c, err := r.Cookie(name); err == nil && c.Value != "" {
		return c.Value
	}

	var sb strings.Builder
	for i := 0; i < maxCookieChunks; i++ {
		c, err := r.Cookie(name + "." + strconv.Itoa(i))
		if err != nil {
			break
		}
		sb.WriteString(c.Value)
	}
	return sb.String()
}

// decodeSessionValue はCookie値（base64url / URLエンコード / 生JSON）をデコードし、access_tokenを返す。
func decodeSessionValue(raw string) (string, error) {
	var data []byte
	if b64, ok := strings.CutPrefix(raw, base64CookiePrefix); ok {
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(b64, "="))
		if err != nil {
			return "", ErrNoSessionCookie
		}
		data = decoded
	} else {
		if unescaped, err := url.QueryUnescape(raw); err == nil {
			raw = unescaped
		}
		data = []byte(raw)
	}

	var session struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(data, &session); err == nil {
		if session.AccessToken == "" {
			return "", ErrNoSessionCookie
		}
		return session.AccessToken, nil
	}

	// 旧形式: [access_token, refresh_token, ...]
	var legacy []any
	if err := json.Unmarshal(data, &legacy); err == nil && len(legacy) > 0 {
		if token, ok := legacy[0].(string); ok && token != "" {
			return token, nil
		}
	}
	return "", ErrNoSessionCookie
}
