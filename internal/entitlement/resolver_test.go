package entitlement

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/hitoshi/billingbridge/internal/model"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func row(plan model.Plan, billing model.Billing, status string, end *time.Time) model.Subscription {
	return model.Subscription{Plan: plan, Billing: billing, Status: status, CurrentPeriodEnd: end}
}

func TestResolve_NoRows(t *testing.T) {
	got := Resolve(nil, now)
	if got.Flags != (Flags{}) {
		t.Errorf("flags = %+v, want all false", got.Flags)
	}
	if got.Rows == nil || len(got.Rows) != 0 {
		t.Errorf("rows = %v, want empty non-nil slice", got.Rows)
	}
}

func TestResolve_Scenarios(t *testing.T) {
	tests := []struct {
		name string
		rows []model.Subscription
		want Flags
	}{
		{
			name: "active networking with future period end",
			rows: []model.Subscription{row(model.PlanNetworking, model.BillingMonthly, model.StatusActive, at(24*time.Hour))},
			want: Flags{Networking: true},
		},
		{
			name: "lifetime bundle implies everything",
			rows: []model.Subscription{row(model.PlanBundle, model.BillingLifetime, model.StatusLifetime, nil)},
			want: Flags{Talent: true, Networking: true, Bundle: true},
		},
		{
			name: "expired monthly talent",
			rows: []model.Subscription{row(model.PlanTalent, model.BillingMonthly, model.StatusActive, at(-time.Second))},
			want: Flags{},
		},
		{
			name: "period end exactly now is expired",
			rows: []model.Subscription{row(model.PlanTalent, model.BillingYearly, model.StatusActive, at(0))},
			want: Flags{},
		},
		{
			name: "active without period end is not time-valid",
			rows: []model.Subscription{row(model.PlanTalent, model.BillingMonthly, model.StatusActive, nil)},
			want: Flags{},
		},
		{
			name: "canceled keeps period end but grants nothing",
			rows: []model.Subscription{row(model.PlanTalent, model.BillingMonthly, model.StatusCanceled, at(24*time.Hour))},
			want: Flags{},
		},
		{
			name: "past_due and trialing grant nothing",
			rows: []model.Subscription{
				row(model.PlanTalent, model.BillingMonthly, model.StatusPastDue, at(24*time.Hour)),
				row(model.PlanNetworking, model.BillingMonthly, model.StatusTrialing, at(24*time.Hour)),
			},
			want: Flags{},
		},
		{
			name: "paid counts for lifetime only",
			rows: []model.Subscription{
				row(model.PlanTalent, model.BillingLifetime, model.StatusPaid, nil),
				row(model.PlanNetworking, model.BillingMonthly, model.StatusPaid, at(24*time.Hour)),
			},
			want: Flags{Talent: true},
		},
		{
			name: "stale row does not hide a valid row for the same plan",
			rows: []model.Subscription{
				row(model.PlanTalent, model.BillingMonthly, model.StatusCanceled, at(-48*time.Hour)),
				row(model.PlanTalent, model.BillingLifetime, model.StatusLifetime, nil),
			},
			want: Flags{Talent: true},
		},
		{
			name: "canceled bundle with valid talent",
			rows: []model.Subscription{
				row(model.PlanBundle, model.BillingYearly, model.StatusCanceled, at(24*time.Hour)),
				row(model.PlanTalent, model.BillingYearly, model.StatusActive, at(24*time.Hour)),
			},
			want: Flags{Talent: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.rows, now)
			if got.Flags != tt.want {
				t.Errorf("flags = %+v, want %+v", got.Flags, tt.want)
			}
			if len(got.Rows) != len(tt.rows) {
				t.Errorf("rows = %d, want %d (raw rows must be returned)", len(got.Rows), len(tt.rows))
			}
		})
	}
}

// randomRows は列挙内外の値を混ぜた行集合を生成する。
func randomRows(r *rand.Rand) []model.Subscription {
	plans := []model.Plan{model.PlanTalent, model.PlanNetworking, model.PlanBundle}
	billings := []model.Billing{model.BillingMonthly, model.BillingYearly, model.BillingLifetime}
	statuses := []string{model.StatusActive, model.StatusLifetime, model.StatusPaid, model.StatusCanceled, model.StatusPastDue, model.StatusTrialing, "incomplete"}
	ends := []*time.Time{nil, at(-time.Hour), at(0), at(time.Nanosecond), at(90 * 24 * time.Hour)}

	rows := make([]model.Subscription, r.Intn(6))
	for i := range rows {
		rows[i] = model.Subscription{
			ID:               fmt.Sprintf("row-%d", i),
			Plan:             plans[r.Intn(len(plans))],
			Billing:          billings[r.Intn(len(billings))],
			Status:           statuses[r.Intn(len(statuses))],
			CurrentPeriodEnd: ends[r.Intn(len(ends))],
			UpdatedAt:        now.Add(-time.Duration(r.Intn(1000)) * time.Minute),
		}
	}
	return rows
}

// TestResolve_Properties は任意の行集合について権限導出の性質を検証する。
func TestResolve_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for i := 0; i < 5000; i++ {
		rows := randomRows(r)
		got := Resolve(rows, now)

		var validBundle, validTalent, validNetworking bool
		for _, row := range rows {
			statusOK := row.Status == model.StatusActive || row.Status == model.StatusLifetime ||
				(row.Status == model.StatusPaid && row.Billing == model.BillingLifetime)
			timeOK := row.Billing == model.BillingLifetime ||
				(row.CurrentPeriodEnd != nil && row.CurrentPeriodEnd.After(now))
			if IsValid(row, now) != (statusOK && timeOK) {
				t.Fatalf("IsValid(%+v) = %v, want %v", row, !(statusOK && timeOK), statusOK && timeOK)
			}
			if !(statusOK && timeOK) {
				continue
			}
			switch row.Plan {
			case model.PlanBundle:
				validBundle = true
			case model.PlanTalent:
				validTalent = true
			case model.PlanNetworking:
				validNetworking = true
			}
		}

		if got.Flags.Bundle != validBundle {
			t.Fatalf("bundle = %v, want %v for %+v", got.Flags.Bundle, validBundle, rows)
		}
		if validBundle && (!got.Flags.Talent || !got.Flags.Networking) {
			t.Fatalf("valid bundle must force talent and networking: %+v", got.Flags)
		}
		if got.Flags.Talent != (validBundle || validTalent) {
			t.Fatalf("talent = %v for %+v", got.Flags.Talent, rows)
		}
		if got.Flags.Networking != (validBundle || validNetworking) {
			t.Fatalf("networking = %v for %+v", got.Flags.Networking, rows)
		}

		// 入力順に依存しない
		shuffled := append([]model.Subscription(nil), rows...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		if again := Resolve(shuffled, now); again.Flags != got.Flags {
			t.Fatalf("Resolve is order dependent: %+v vs %+v", again.Flags, got.Flags)
		}
	}
}

func TestBestByPlan_TieBreak(t *testing.T) {
	updatedOld := now.Add(-2 * time.Hour)
	updatedNew := now.Add(-time.Hour)

	tests := []struct {
		name   string
		rows   []model.Subscription
		wantID string
	}{
		{
			name: "valid beats invalid even if newer",
			rows: []model.Subscription{
				{ID: "a", Plan: model.PlanTalent, Billing: model.BillingMonthly, Status: model.StatusCanceled, CurrentPeriodEnd: at(time.Hour), UpdatedAt: updatedNew},
				{ID: "b", Plan: model.PlanTalent, Billing: model.BillingMonthly, Status: model.StatusActive, CurrentPeriodEnd: at(time.Hour), UpdatedAt: updatedOld},
			},
			wantID: "b",
		},
		{
			name: "lifetime beats active monthly",
			rows: []model.Subscription{
				{ID: "a", Plan: model.PlanTalent, Billing: model.BillingMonthly, Status: model.StatusActive, CurrentPeriodEnd: at(300 * 24 * time.Hour), UpdatedAt: updatedNew},
				{ID: "b", Plan: model.PlanTalent, Billing: model.BillingLifetime, Status: model.StatusLifetime, UpdatedAt: updatedOld},
			},
			wantID: "b",
		},
		{
			name: "later period end wins",
			rows: []model.Subscription{
				{ID: "a", Plan: model.PlanTalent, Billing: model.BillingMonthly, Status: model.StatusActive, CurrentPeriodEnd: at(time.Hour), UpdatedAt: updatedNew},
				{ID: "b", Plan: model.PlanTalent, Billing: model.BillingYearly, Status: model.StatusActive, CurrentPeriodEnd: at(2 * time.Hour), UpdatedAt: updatedOld},
			},
			wantID: "b",
		},
		{
			name: "newer update wins on equal period end",
			rows: []model.Subscription{
				{ID: "a", Plan: model.PlanTalent, Billing: model.BillingMonthly, Status: model.StatusActive, CurrentPeriodEnd: at(time.Hour), UpdatedAt: updatedNew},
				{ID: "b", Plan: model.PlanTalent, Billing: model.BillingMonthly, Status: model.StatusActive, CurrentPeriodEnd: at(time.Hour), UpdatedAt: updatedOld},
			},
			wantID: "a",
		},
		{
			name: "id breaks a full tie",
			rows: []model.Subscription{
				{ID: "a", Plan: model.PlanTalent, Billing: model.BillingMonthly, Status: model.StatusActive, CurrentPeriodEnd: at(time.Hour), UpdatedAt: updatedNew},
				{ID: "b", Plan: model.PlanTalent, Billing: model.BillingMonthly, Status: model.StatusActive, CurrentPeriodEnd: at(time.Hour), UpdatedAt: updatedNew},
			},
			wantID: "b",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, rows := range [][]model.Subscription{tt.rows, {tt.rows[1], tt.rows[0]}} {
				best := BestByPlan(rows, now)
				if got := best[model.PlanTalent].ID; got != tt.wantID {
					t.Errorf("best = %q, want %q", got, tt.wantID)
				}
			}
		})
	}
}

func TestBestByPlan_OrderIndependent(t *testing.T) {
	r := rand.New(rand.NewSource(7))

	for i := 0; i < 2000; i++ {
		rows := randomRows(r)
		want := BestByPlan(rows, now)

		shuffled := append([]model.Subscription(nil), rows...)
		r.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := BestByPlan(shuffled, now)

		if len(got) != len(want) {
			t.Fatalf("plans = %d, want %d", len(got), len(want))
		}
		for plan, w := range want {
			if got[plan].ID != w.ID {
				t.Fatalf("best[%s] = %q, want %q (rows %+v)", plan, got[plan].ID, w.ID, rows)
			}
		}
	}
}

func TestSortForDisplay_GroupsByPlanOrder(t *testing.T) {
	rows := []model.Subscription{
		{ID: "bundle", Plan: model.PlanBundle, Billing: model.BillingLifetime, Status: model.StatusLifetime},
		{ID: "net", Plan: model.PlanNetworking, Billing: model.BillingMonthly, Status: model.StatusActive, CurrentPeriodEnd: at(time.Hour)},
		{ID: "talent-old", Plan: model.PlanTalent, Billing: model.BillingMonthly, Status: model.StatusCanceled, CurrentPeriodEnd: at(-time.Hour)},
		{ID: "talent", Plan: model.PlanTalent, Billing: model.BillingYearly, Status: model.StatusActive, CurrentPeriodEnd: at(time.Hour)},
	}

	got := SortForDisplay(rows, now)
	want := []string{"talent", "talent-old", "net", "bundle"}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("got[%d] = %q, want %q", i, got[i].ID, id)
		}
	}
	if rows[0].ID != "bundle" {
		t.Error("SortForDisplay must not modify its input")
	}
}
