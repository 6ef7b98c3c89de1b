package billing

import "strings"

// OriginPolicy はリダイレクト先URLの起点（スキーム+ホスト）を決定する。
// 許可リストに含まれるOriginのみ採用し、それ以外はBaseURLを使う。
type OriginPolicy struct {
	baseURL string
	allowed map[string]struct{}
}

// NewOriginPolicy はOriginPolicyを生成する。末尾のスラッシュは無視する。
func NewOriginPolicy(baseURL string, allowedOrigins []string) *OriginPolicy {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimRight(strings.TrimSpace(o), "/"); o != "" {
			allowed[o] = struct{}{}
		}
	}
	return &OriginPolicy{
		baseURL: strings.TrimRight(baseURL, "/"),
		allowed: allowed,
	}
}

// Resolve はリクエストのOriginヘッダー値から起点URLを返す。
func (p *OriginPolicy) Resolve(origin string) string {
	origin = strings.TrimRight(origin, "/")
	if origin == "" {
		return p.baseURL
	}
	if _, ok := p.allowed[origin]; ok {
		return origin
	}
	return p.baseURL
}
