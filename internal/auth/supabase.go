// Package auth はIDプロバイダー（Supabase Auth）によるリクエストの本人確認を提供する。
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/billingbridge/internal/metrics"
	"github.com/hitoshi/billingbridge/internal/model"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxResponseBytes   = 1 << 20
)

var (
	// ErrInvalidToken はアクセストークンがIDプロバイダーに拒否されたことを示す。
	ErrInvalidToken = errors.New("invalid access token")
	// ErrUserNotFound は指定IDのユーザーがIDプロバイダーに存在しないことを示す。
	ErrUserNotFound = errors.New("user not found")
)

// ClientConfig はSupabase Authクライアントの設定。
type ClientConfig struct {
	URL            string // 例: https://<project-ref>.supabase.co
	AnonKey        string
	ServiceRoleKey string

	// テスト用にオーバーライド可能
	HTTPClient *http.Client
}

// Client はSupabase Auth (GoTrue) のREST APIクライアント。
type Client struct {
	baseURL        string
	anonKey        string
	serviceRoleKey string
	httpClient     *http.Client
	metrics        metrics.MetricsCollector
}

// NewClient はClientを生成する。
func NewClient(cfg ClientConfig, m metrics.MetricsCollector) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &Client{
		baseURL:        strings.TrimRight(cfg.URL, "/"),
		anonKey:        cfg.AnonKey,
		serviceRoleKey: cfg.ServiceRoleKey,
		httpClient:     httpClient,
		metrics:        metrics.OrNop(m),
	}
}

// supabaseUser は/auth/v1/userおよび/auth/v1/admin/users/{id}のレスポンスのうち使用する項目。
type supabaseUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// GetUser はアクセストークンを公開キーで検証し、トークンの所有者を返す。
// トークンが拒否された場合はErrInvalidTokenを返す。
func (c *Client) GetUser(ctx context.Context, accessToken string) (*model.User, error) {
	status, body, err := c.get(ctx, "get_user", "/auth/v1/user", c.anonKey, accessToken)
	if err != nil {
		return nil, err
	}

	switch {
	case status == http.StatusOK:
		return decodeUser(body)
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusNotFound:
		return nil, ErrInvalidToken
	default:
		return nil, fmt.Errorf("user lookup failed with status %d: %s", status, truncate(body))
	}
}

// GetUserByID は特権キーでユーザーを取得する。存在しない場合はErrUserNotFoundを返す。
func (c *Client) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	path := "/auth/v1/admin/users/" + url.PathEscape(id)
	status, body, err := c.get(ctx, "get_user_by_id", path, c.serviceRoleKey, c.serviceRoleKey)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		return decodeUser(body)
	// GoTrueはUUID形式でないIDに400/422を返す
	case http.StatusNotFound, http.StatusBadRequest, http.StatusUnprocessableEntity:
		return nil, ErrUserNotFound
	default:
		return nil, fmt.Errorf("admin user lookup failed with status %d: %s", status, truncate(body))
	}
}

func (c *Client) get(ctx context.Context, operation, path, apiKey, bearer string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("apikey", apiKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.RecordProviderLatency("supabase", operation, time.Since(start))
	if err != nil {
		return 0, nil, fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read auth response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func decodeUser(body []byte) (*model.User, error) {
	var u supabaseUser
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, fmt.Errorf("failed to parse user response: %w", err)
	}
	if u.ID == "" {
		return nil, fmt.Errorf("empty id in user response")
	}
	return &model.User{ID: u.ID, Email: u.Email}, nil
}

func truncate(b []byte) string {
	const limit = 200
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
