package config

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestParseFeeTiers(t *testing.T) {
	tiers, err := ParseFeeTiers("100:15, 1000:10, *:5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(tiers) != 3 {
		t.Fatalf("got %d tiers, want 3", len(tiers))
	}
	if tiers[0].UpTo.String() != "100" || tiers[0].Percent.String() != "15" {
		t.Errorf("tier 0 = %s:%s", tiers[0].UpTo, tiers[0].Percent)
	}
	if tiers[2].UpTo != nil {
		t.Errorf("last tier should be unbounded")
	}
}

func TestParseFeeTiersErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing colon", "100-15,*:5"},
		{"bad percent", "100:x,*:5"},
		{"percent over 100", "100:150,*:5"},
		{"negative percent", "100:-1,*:5"},
		{"descending bounds", "1000:10,100:15,*:5"},
		{"equal bounds", "100:10,100:15,*:5"},
		{"unbounded in middle", "*:5,100:10"},
		{"no unbounded tier", "100:15,1000:10"},
		{"bad bound", "abc:10,*:5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseFeeTiers(tt.input); err == nil {
				t.Errorf("ParseFeeTiers(%q) expected error", tt.input)
			}
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR_GO", "90s")
	t.Setenv("TEST_DUR_SECONDS", "45")
	t.Setenv("TEST_DUR_BAD", "soon")

	if got := getEnvDuration("TEST_DUR_GO", time.Minute); got != 90*time.Second {
		t.Errorf("go duration = %v", got)
	}
	if got := getEnvDuration("TEST_DUR_SECONDS", time.Minute); got != 45*time.Second {
		t.Errorf("seconds = %v", got)
	}
	if got := getEnvDuration("TEST_DUR_BAD", time.Minute); got != time.Minute {
		t.Errorf("bad value should fall back, got %v", got)
	}
	if got := getEnvDuration("TEST_DUR_UNSET", time.Minute); got != time.Minute {
		t.Errorf("unset should fall back, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.PostMaxAttempts != 3 {
		t.Errorf("PostMaxAttempts = %d, want 3", cfg.PostMaxAttempts)
	}
	if cfg.PostBackoffBase != 2*time.Second {
		t.Errorf("PostBackoffBase = %v, want 2s", cfg.PostBackoffBase)
	}
	if cfg.RightsStrikeThreshold != 2 {
		t.Errorf("RightsStrikeThreshold = %d, want 2", cfg.RightsStrikeThreshold)
	}
	if cfg.ClickOvershootPolicy != OvershootCap {
		t.Errorf("ClickOvershootPolicy = %q, want cap", cfg.ClickOvershootPolicy)
	}
	if len(cfg.FeeTiers) != 3 {
		t.Errorf("default fee tiers = %d, want 3", len(cfg.FeeTiers))
	}
}

func TestValidateNormalizesPolicy(t *testing.T) {
	cfg := &Config{ClickOvershootPolicy: "bogus", PostMaxAttempts: 0, RightsStrikeThreshold: 0}
	cfg.Validate(zap.NewNop())
	if cfg.ClickOvershootPolicy != OvershootCap {
		t.Errorf("policy = %q, want cap", cfg.ClickOvershootPolicy)
	}
	if cfg.PostMaxAttempts != 1 || cfg.RightsStrikeThreshold != 1 {
		t.Errorf("attempts/threshold not clamped: %d/%d", cfg.PostMaxAttempts, cfg.RightsStrikeThreshold)
	}
}
