package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hitoshi/billingbridge/internal/config"
	"github.com/hitoshi/billingbridge/internal/model"
)

// maxConcurrentPriceLookups は価格取得の同時実行数の上限。
const maxConcurrentPriceLookups = 4

// PriceEntry は価格一覧の1要素。
type PriceEntry struct {
	Plan     model.Plan    `json:"plan"`
	Billing  model.Billing `json:"billing"`
	Amount   int64         `json:"amount"`
	Currency string        `json:"currency"`
	PriceID  string        `json:"price_id"`
	Label    string        `json:"label"`
}

// Catalog は設定済みの価格をプロバイダーから取得して一覧化する。
// 取得結果はTTLの間キャッシュする。
type Catalog struct {
	provider Provider
	prices   config.PriceTable
	ttl      time.Duration
	now      func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	entries   []PriceEntry
	fetchedAt time.Time
}

// NewCatalog はCatalogを生成する。ttlが0以下の場合はキャッシュしない。
func NewCatalog(provider Provider, prices config.PriceTable, ttl time.Duration) *Catalog {
	return &Catalog{
		provider: provider,
		prices:   prices,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Label は価格一覧に表示するラベルを返す（例: "Talent Pack — Monthly"）。
func Label(plan model.Plan, billing model.Billing) string {
	return plan.Label() + " — " + billing.Label()
}

// List は設定済みの (プラン, 課金間隔) の価格をプラン・課金間隔の表示順で返す。
// 価格IDが未設定の組み合わせは含めない。1件でも取得に失敗した場合はエラーを返す。
func (c *Catalog) List(ctx context.Context) ([]PriceEntry, error) {
	if entries, ok := c.cached(); ok {
		return entries, nil
	}

	// 合流した他の呼び出し元がいるため、先頭の呼び出し元の切断で取得を中断しない。
	v, err, _ := c.group.Do("prices", func() (any, error) {
		entries, err := c.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.store(entries)
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return clonePriceEntries(v.([]PriceEntry)), nil
}

func (c *Catalog) cached() ([]PriceEntry, bool) {
	if c.ttl <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil || c.now().Sub(c.fetchedAt) >= c.ttl {
		return nil, false
	}
	return clonePriceEntries(c.entries), true
}

func (c *Catalog) store(entries []PriceEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = entries
	c.fetchedAt = c.now()
}

func (c *Catalog) fetch(ctx context.Context) ([]PriceEntry, error) {
	type slot struct {
		plan    model.Plan
		billing model.Billing
		priceID string
	}
	var slots []slot
	for _, plan := range model.Plans() {
		for _, billing := range model.Billings() {
			if id := c.prices.Lookup(plan, billing); id != "" {
				slots = append(slots, slot{plan, billing, id})
			}
		}
	}

	entries := make([]PriceEntry, len(slots))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPriceLookups)
	for i, s := range slots {
		g.Go(func() error {
			p, err := c.provider.GetPrice(gctx, s.priceID)
			if err != nil {
				return fmt.Errorf("%s の価格取得に失敗しました: %w", config.PriceEnvKey(s.plan, s.billing), err)
			}
			currency := p.Currency
			if currency == "" {
				currency = "usd"
			}
			entries[i] = PriceEntry{
				Plan:     s.plan,
				Billing:  s.billing,
				Amount:   p.UnitAmount,
				Currency: currency,
				PriceID:  p.ID,
				Label:    Label(s.plan, s.billing),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func clonePriceEntries(in []PriceEntry) []PriceEntry {
	out := make([]PriceEntry, len(in))
	copy(out, in)
	return out
}
