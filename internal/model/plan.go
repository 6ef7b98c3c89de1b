// Package model はドメインモデルを定義する。
package model

import "strings"

// Plan は購入可能なプランを表す。
type Plan string

const (
	// PlanTalent はTalent Packを表す。
	PlanTalent Plan = "talent"
	// PlanNetworking はNetworking Packを表す。
	PlanNetworking Plan = "networking"
	// PlanBundle はTalentとNetworkingの両方を含むバンドルを表す。
	PlanBundle Plan = "bundle"
)

// Billing は課金間隔を表す。
type Billing string

const (
	// BillingMonthly は月額課金。
	BillingMonthly Billing = "monthly"
	// BillingYearly は年額課金。
	BillingYearly Billing = "yearly"
	// BillingLifetime は買い切り（一回払い）。
	BillingLifetime Billing = "lifetime"
)

// Plans は全プランを表示順で返す。
func Plans() []Plan {
	return []Plan{PlanTalent, PlanNetworking, PlanBundle}
}

// Billings は全課金間隔を表示順で返す。
func Billings() []Billing {
	return []Billing{BillingMonthly, BillingYearly, BillingLifetime}
}

// ParsePlan は文字列をPlanに変換する。列挙外の値の場合はfalseを返す。
func ParsePlan(s string) (Plan, bool) {
	switch p := Plan(s); p {
	case PlanTalent, PlanNetworking, PlanBundle:
		return p, true
	default:
		return "", false
	}
}

// ParseBilling は文字列をBillingに変換する。列挙外の値の場合はfalseを返す。
func ParseBilling(s string) (Billing, bool) {
	switch b := Billing(s); b {
	case BillingMonthly, BillingYearly, BillingLifetime:
		return b, true
	default:
		return "", false
	}
}

// Label は画面表示用のプラン名を返す。
func (p Plan) Label() string {
	switch p {
	case PlanTalent:
		return "Talent Pack"
	case PlanNetworking:
		return "Networking Pack"
	case PlanBundle:
		return "Bundle (Talent + Networking)"
	default:
		return string(p)
	}
}

// Label は画面表示用の課金間隔名を返す。
func (b Billing) Label() string {
	switch b {
	case BillingMonthly:
		return "Monthly"
	case BillingYearly:
		return "Yearly"
	case BillingLifetime:
		return "Lifetime"
	default:
		return string(b)
	}
}

// IsOneTime は一回払い（買い切り）の課金間隔かどうかを返す。
func (b Billing) IsOneTime() bool {
	return b == BillingLifetime
}

// PlanEnumeration はバリデーションエラーで提示する列挙値の文字列。
func PlanEnumeration() string {
	return joinEnum(Plans())
}

// BillingEnumeration はバリデーションエラーで提示する列挙値の文字列。
func BillingEnumeration() string {
	return joinEnum(Billings())
}

func joinEnum[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, "|")
}
