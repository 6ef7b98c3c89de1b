// Package entitlement は購読行から利用権限（エンタイトルメント）を導出する。
package entitlement

import (
	"sort"
	"time"

	"github.com/hitoshi/billingbridge/internal/model"
)

// Flags は3つの利用権限フラグ。bundleが有効な場合はtalentとnetworkingも有効になる。
type Flags struct {
	Talent     bool
	Networking bool
	Bundle     bool
}

// Result は権限フラグと、その導出に使った行の組。
type Result struct {
	Flags Flags
	Rows  []model.Subscription
}

// StatusValid はステータスが権限を付与しうる値かどうかを返す。
// paidは買い切りの場合のみ有効とみなす。
func StatusValid(status string, billing model.Billing) bool {
	switch status {
	case model.StatusActive, model.StatusLifetime:
		return true
	case model.StatusPaid:
		return billing == model.BillingLifetime
	default:
		return false
	}
}

// IsValid は行がnow時点で権限を付与するかどうかを返す。
// 期限付きの行は期限がnowより厳密に後である必要がある。
func IsValid(row model.Subscription, now time.Time) bool {
	if !StatusValid(row.Status, row.Billing) {
		return false
	}
	if row.Billing == model.BillingLifetime {
		return true
	}
	return row.CurrentPeriodEnd != nil && row.CurrentPeriodEnd.After(now)
}

// Resolve は行集合とnowから権限フラグを導出する。副作用はない。
// 同一プランに複数の行がある場合は、いずれか1行でも有効であれば有効とする。
func Resolve(rows []model.Subscription, now time.Time) Result {
	var valid [3]bool
	for _, row := range rows {
		if !IsValid(row, now) {
			continue
		}
		switch row.Plan {
		case model.PlanTalent:
			valid[0] = true
		case model.PlanNetworking:
			valid[1] = true
		case model.PlanBundle:
			valid[2] = true
		}
	}

	bundle := valid[2]
	if rows == nil {
		rows = []model.Subscription{}
	}
	return Result{
		Flags: Flags{
			Talent:     bundle || valid[0],
			Networking: bundle || valid[1],
			Bundle:     bundle,
		},
		Rows: rows,
	}
}

// BestByPlan は表示用にプランごとの代表行を1つずつ選ぶ。
// 優先順位: 有効な行 > 買い切り > 期限が遅い > 更新日時が新しい > ID。
// 入力の並び順に依存しない。
func BestByPlan(rows []model.Subscription, now time.Time) map[model.Plan]model.Subscription {
	best := make(map[model.Plan]model.Subscription)
	for _, row := range rows {
		cur, ok := best[row.Plan]
		if !ok || better(row, cur, now) {
			best[row.Plan] = row
		}
	}
	return best
}

// better はaがbより代表行として優先される場合にtrueを返す。
func better(a, b model.Subscription, now time.Time) bool {
	if va, vb := IsValid(a, now), IsValid(b, now); va != vb {
		return va
	}
	if la, lb := a.Billing == model.BillingLifetime, b.Billing == model.BillingLifetime; la != lb {
		return la
	}
	if c := comparePeriodEnd(a.CurrentPeriodEnd, b.CurrentPeriodEnd); c != 0 {
		return c > 0
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.ID > b.ID
}

// comparePeriodEnd は期限を比較する。期限なしは最も早いものとして扱う。
func comparePeriodEnd(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Compare(*b)
	}
}

// SortForDisplay は行をプランの表示順、同一プラン内は代表行優先で並べた新しいスライスを返す。
func SortForDisplay(rows []model.Subscription, now time.Time) []model.Subscription {
	out := make([]model.Subscription, len(rows))
	copy(out, rows)

	order := make(map[model.Plan]int, 3)
	for i, p := range model.Plans() {
		order[p] = i
	}
	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := planOrder(order, out[i].Plan), planOrder(order, out[j].Plan)
		if oi != oj {
			return oi < oj
		}
		return better(out[i], out[j], now)
	})
	return out
}

func planOrder(order map[model.Plan]int, p model.Plan) int {
	if i, ok := order[p]; ok {
		return i
	}
	return len(order)
}
