package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_UsesPayoutServiceInternalAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "INTERNAL_API_KEY")
	setEnvWithCleanup(t, "PAYOUT_SERVICE_INTERNAL_API_KEY", "alias-only-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "alias-only-key" {
		t.Fatalf("expected InternalAPIKey from alias env var, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_InternalAPIKeyTakesPrecedenceOverAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "INTERNAL_API_KEY", "primary-key")
	setEnvWithCleanup(t, "PAYOUT_SERVICE_INTERNAL_API_KEY", "alias-key")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.InternalAPIKey != "primary-key" {
		t.Fatalf("expected InternalAPIKey to prioritize INTERNAL_API_KEY, got %q", cfg.InternalAPIKey)
	}
}

func TestLoadConfig_ClampsMarginFloor(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "MARGIN_FLOOR_PERCENT", "150")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MarginFloorPercent != 100 {
		t.Fatalf("expected margin floor capped at 100, got %f", cfg.MarginFloorPercent)
	}
}

func TestLoadConfig_DefaultMultiplierCap(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "MAX_COMPOUNDED_MULTIPLIER")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MaxCompoundedMultiplier != 3.0 {
		t.Fatalf("expected default multiplier cap 3.0, got %f", cfg.MaxCompoundedMultiplier)
	}
}

func TestParseRegionFloors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]float64
	}{
		{
			name: "empty value",
			raw:  "",
			want: map[string]float64{},
		},
		{
			name: "single pair",
			raw:  "US=10",
			want: map[string]float64{"US": 10},
		},
		{
			name: "multiple pairs with whitespace and lowercase region",
			raw:  " us = 10 , eu=12.5",
			want: map[string]float64{"US": 10, "EU": 12.5},
		},
		{
			name: "malformed pair skipped",
			raw:  "US=10,garbage,EU=abc",
			want: map[string]float64{"US": 10},
		},
		{
			name: "out of range floor skipped",
			raw:  "US=120,EU=5",
			want: map[string]float64{"EU": 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseRegionFloors(tt.raw)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %d floors, got %d (%v)", len(tt.want), len(got), got)
			}
			for region, floor := range tt.want {
				if got[region] != floor {
					t.Fatalf("expected floor %f for region %s, got %f", floor, region, got[region])
				}
			}
		})
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
		}
	})
}
