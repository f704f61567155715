package app

import (
	"errors"
	"testing"
	"time"

	"github.com/lingzhiapp/reward-service/internal/domain"
)

func intPtr(v int) *int { return &v }

func TestDayKey_RollsOverAtMidnightUTC(t *testing.T) {
	beforeMidnight := time.Date(2026, 3, 9, 23, 59, 59, 0, time.UTC)
	afterMidnight := time.Date(2026, 3, 10, 0, 0, 1, 0, time.UTC)

	if got := DayKey(beforeMidnight); got != "2026-03-09" {
		t.Fatalf("expected key 2026-03-09, got %q", got)
	}
	if got := DayKey(afterMidnight); got != "2026-03-10" {
		t.Fatalf("expected key 2026-03-10, got %q", got)
	}

	// A local timezone east of UTC must not shift the key.
	shanghai := time.FixedZone("CST", 8*3600)
	localEvening := time.Date(2026, 3, 10, 2, 0, 0, 0, shanghai) // 2026-03-09T18:00Z
	if got := DayKey(localEvening); got != "2026-03-09" {
		t.Fatalf("expected UTC key 2026-03-09 for +08 local time, got %q", got)
	}
}

func TestResolveRule(t *testing.T) {
	tests := []struct {
		name     string
		rules    []domain.Rule
		role     string
		wantCode string
		wantErr  error
	}{
		{
			name:    "empty catalog",
			rules:   nil,
			role:    domain.RoleMember,
			wantErr: ErrNoRuleFound,
		},
		{
			name: "role-specific rule outranks all-role rule with higher priority",
			rules: []domain.Rule{
				{Code: "generic", TargetRole: domain.TargetRoleAll, Priority: 100, Status: domain.RuleStatusActive},
				{Code: "merchant_bonus", TargetRole: domain.RoleMerchant, Priority: 1, Status: domain.RuleStatusActive},
			},
			role:     domain.RoleMerchant,
			wantCode: "merchant_bonus",
		},
		{
			name: "falls back to all-role rule when no role match",
			rules: []domain.Rule{
				{Code: "generic", TargetRole: domain.TargetRoleAll, Priority: 0, Status: domain.RuleStatusActive},
				{Code: "merchant_bonus", TargetRole: domain.RoleMerchant, Priority: 10, Status: domain.RuleStatusActive},
			},
			role:     domain.RoleMember,
			wantCode: "generic",
		},
		{
			name: "higher priority wins within a tier",
			rules: []domain.Rule{
				{Code: "low", TargetRole: domain.TargetRoleAll, Priority: 1, Status: domain.RuleStatusActive},
				{Code: "high", TargetRole: domain.TargetRoleAll, Priority: 5, Status: domain.RuleStatusActive},
			},
			role:     domain.RoleMember,
			wantCode: "high",
		},
		{
			name: "equal priority breaks ties on rule code",
			rules: []domain.Rule{
				{Code: "bbb", TargetRole: domain.TargetRoleAll, Priority: 3, Status: domain.RuleStatusActive},
				{Code: "aaa", TargetRole: domain.TargetRoleAll, Priority: 3, Status: domain.RuleStatusActive},
			},
			role:     domain.RoleMember,
			wantCode: "aaa",
		},
		{
			name: "inactive rules are skipped",
			rules: []domain.Rule{
				{Code: "retired", TargetRole: domain.TargetRoleAll, Priority: 10, Status: domain.RuleStatusInactive},
				{Code: "live", TargetRole: domain.TargetRoleAll, Priority: 1, Status: domain.RuleStatusActive},
			},
			role:     domain.RoleMember,
			wantCode: "live",
		},
		{
			name: "only rules for other roles",
			rules: []domain.Rule{
				{Code: "merchant_only", TargetRole: domain.RoleMerchant, Priority: 1, Status: domain.RuleStatusActive},
			},
			role:    domain.RoleMember,
			wantErr: ErrNoRuleFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := ResolveRule(tt.rules, tt.role)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected error %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveRule returned error: %v", err)
			}
			if rule.Code != tt.wantCode {
				t.Fatalf("expected rule %q, got %q", tt.wantCode, rule.Code)
			}
		})
	}
}

func TestQuotaSpecFor(t *testing.T) {
	now := time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC)

	unlimited := domain.Rule{Code: "r1"}
	if spec := QuotaSpecFor(unlimited, now); spec != nil {
		t.Fatalf("expected nil quota spec for unlimited rule, got %+v", spec)
	}

	capped := domain.Rule{Code: "r2", MaxDailyTimes: intPtr(1), MaxTotalTimes: intPtr(30)}
	spec := QuotaSpecFor(capped, now)
	if spec == nil {
		t.Fatal("expected quota spec for capped rule")
	}
	if spec.RuleCode != "r2" {
		t.Fatalf("expected rule code r2, got %q", spec.RuleCode)
	}
	if spec.DayKey != "2026-03-09" {
		t.Fatalf("expected day key 2026-03-09, got %q", spec.DayKey)
	}
	if spec.DailyLimit == nil || *spec.DailyLimit != 1 {
		t.Fatalf("expected daily limit 1, got %v", spec.DailyLimit)
	}
	if spec.TotalLimit == nil || *spec.TotalLimit != 30 {
		t.Fatalf("expected total limit 30, got %v", spec.TotalLimit)
	}
}

func TestValidateRulePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload domain.CreateRulePayload
		wantErr bool
	}{
		{
			name: "valid earn rule",
			payload: domain.CreateRulePayload{
				Code: "daily_checkin", EventType: domain.EventDailyCheckin,
				Direction: domain.RuleDirectionEarn, ContributionDelta: 10, SpendableDelta: 5,
				MaxDailyTimes: intPtr(1),
			},
		},
		{
			name: "valid consume rule",
			payload: domain.CreateRulePayload{
				Code: "store_redeem", EventType: "store_redeem",
				Direction: domain.RuleDirectionConsume, SpendableDelta: -50,
			},
		},
		{
			name: "earn rule with negative delta",
			payload: domain.CreateRulePayload{
				Code: "bad", EventType: "evt",
				Direction: domain.RuleDirectionEarn, SpendableDelta: -5,
			},
			wantErr: true,
		},
		{
			name: "consume rule crediting spendable",
			payload: domain.CreateRulePayload{
				Code: "bad", EventType: "evt",
				Direction: domain.RuleDirectionConsume, SpendableDelta: 5,
			},
			wantErr: true,
		},
		{
			name: "consume rule reducing contribution",
			payload: domain.CreateRulePayload{
				Code: "bad", EventType: "evt",
				Direction: domain.RuleDirectionConsume, ContributionDelta: -10,
			},
			wantErr: true,
		},
		{
			name: "unknown direction",
			payload: domain.CreateRulePayload{
				Code: "bad", EventType: "evt", Direction: "transfer",
			},
			wantErr: true,
		},
		{
			name: "missing code",
			payload: domain.CreateRulePayload{
				EventType: "evt", Direction: domain.RuleDirectionEarn,
			},
			wantErr: true,
		},
		{
			name: "zero daily cap",
			payload: domain.CreateRulePayload{
				Code: "bad", EventType: "evt",
				Direction: domain.RuleDirectionEarn, MaxDailyTimes: intPtr(0),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRulePayload(tt.payload)
			if tt.wantErr && err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("expected payload to validate, got %v", err)
			}
		})
	}
}
