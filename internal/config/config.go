package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/hitoshi/billingbridge/internal/model"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string
	// OwnerColumn はsubscriptionsテーブルの所有者カラム名を固定する場合に指定する。
	// 空の場合は起動時に自動判定する。
	OwnerColumn string

	// Identity provider (Supabase)
	SupabaseURL            string
	SupabaseAnonKey        string
	SupabaseServiceRoleKey string

	// Payment provider (Stripe)
	StripeSecretKey     string
	StripeWebhookSecret string
	Prices              PriceTable
	PriceCacheTTL       time.Duration

	// Webhook
	WebhookMaxBodyBytes int64

	// Rate Limit (req/min/user)
	RateLimitGeneral  int
	RateLimitCheckout int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// CORS
	CORSAllowedOrigins []string
}

// PriceTable は (プラン, 課金間隔) ごとのStripe価格IDを保持する。
// 未設定の組み合わせは空文字列のままとし、チェックアウト時に設定不備として扱う。
type PriceTable struct {
	TalentMonthly      string `env:"STRIPE_PRICE_TALENT_MONTHLY"`
	TalentYearly       string `env:"STRIPE_PRICE_TALENT_YEARLY"`
	TalentLifetime     string `env:"STRIPE_PRICE_TALENT_LIFETIME"`
	NetworkingMonthly  string `env:"STRIPE_PRICE_NETWORKING_MONTHLY"`
	NetworkingYearly   string `env:"STRIPE_PRICE_NETWORKING_YEARLY"`
	NetworkingLifetime string `env:"STRIPE_PRICE_NETWORKING_LIFETIME"`
	BundleMonthly      string `env:"STRIPE_PRICE_BUNDLE_MONTHLY"`
	BundleYearly       string `env:"STRIPE_PRICE_BUNDLE_YEARLY"`
	BundleLifetime     string `env:"STRIPE_PRICE_BUNDLE_LIFETIME"`
}

// Lookup は指定の組み合わせの価格IDを返す。未設定の場合は空文字列を返す。
func (t PriceTable) Lookup(plan model.Plan, billing model.Billing) string {
	switch plan {
	case model.PlanTalent:
		return pick(billing, t.TalentMonthly, t.TalentYearly, t.TalentLifetime)
	case model.PlanNetworking:
		return pick(billing, t.NetworkingMonthly, t.NetworkingYearly, t.NetworkingLifetime)
	case model.PlanBundle:
		return pick(billing, t.BundleMonthly, t.BundleYearly, t.BundleLifetime)
	default:
		return ""
	}
}

func pick(billing model.Billing, monthly, yearly, lifetime string) string {
	switch billing {
	case model.BillingMonthly:
		return monthly
	case model.BillingYearly:
		return yearly
	case model.BillingLifetime:
		return lifetime
	default:
		return ""
	}
}

// PriceEnvKey は組み合わせに対応する環境変数名を返す（例: STRIPE_PRICE_TALENT_MONTHLY）。
func PriceEnvKey(plan model.Plan, billing model.Billing) string {
	return "STRIPE_PRICE_" + strings.ToUpper(string(plan)) + "_" + strings.ToUpper(string(billing))
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（既存の環境変数は上書きしない）。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	// Required fields
	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.SupabaseURL = strings.TrimRight(required("SUPABASE_URL"), "/")
	cfg.SupabaseAnonKey = required("SUPABASE_ANON_KEY")
	cfg.SupabaseServiceRoleKey = required("SUPABASE_SERVICE_ROLE_KEY")
	cfg.StripeSecretKey = required("STRIPE_SECRET_KEY")
	cfg.StripeWebhookSecret = required("STRIPE_WEBHOOK_SECRET")
	cfg.BaseURL = strings.TrimRight(required("BASE_URL"), "/")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if err := env.Parse(&cfg.Prices); err != nil {
		return nil, fmt.Errorf("failed to parse price table: %w", err)
	}

	// Optional fields with defaults
	cfg.OwnerColumn = getEnvString("OWNER_COLUMN", "")
	cfg.PriceCacheTTL = getEnvDuration("PRICE_CACHE_TTL", 5*time.Minute)
	cfg.WebhookMaxBodyBytes = getEnvInt64("WEBHOOK_MAX_BODY_BYTES", 1<<20)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitCheckout = getEnvInt("RATE_LIMIT_CHECKOUT", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", []string{cfg.BaseURL})

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数をスライスとして返す。空要素は除外する。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimRight(strings.TrimSpace(s), "/"); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
