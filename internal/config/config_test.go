package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func withCredentials(t *testing.T) {
	t.Helper()
	t.Setenv("SEARCH_API_CLIENT_ID", "test-id")
	t.Setenv("SEARCH_API_CLIENT_SECRET", "test-secret")
	t.Cleanup(viper.Reset)
}

func TestLoadDefaults(t *testing.T) {
	withCredentials(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.SearchAPI.BaseURL != "https://openapi.naver.com/v1/search/shop.json" {
		t.Errorf("base url = %q", cfg.SearchAPI.BaseURL)
	}
	if cfg.SearchAPI.DelayMin != 300*time.Millisecond || cfg.SearchAPI.DelayMax != 900*time.Millisecond {
		t.Errorf("delay window = %s..%s, want 300ms..900ms", cfg.SearchAPI.DelayMin, cfg.SearchAPI.DelayMax)
	}
	if cfg.Scheduler.TickInterval != 10*time.Minute {
		t.Errorf("tick = %s, want 10m", cfg.Scheduler.TickInterval)
	}
	if cfg.Scheduler.ScanDepth != 1000 || cfg.Scheduler.PageSize != 100 {
		t.Errorf("scan bounds = %d/%d, want 1000/100", cfg.Scheduler.ScanDepth, cfg.Scheduler.PageSize)
	}
	if cfg.Retention.Horizon != 90*24*time.Hour {
		t.Errorf("retention = %s, want 90 days", cfg.Retention.Horizon)
	}
}

func TestLoadRequiresCredentials(t *testing.T) {
	t.Setenv("SEARCH_API_CLIENT_ID", "")
	t.Setenv("SEARCH_API_CLIENT_SECRET", "")
	t.Cleanup(viper.Reset)

	if _, err := Load(); err == nil {
		t.Fatal("Load() without credentials returned nil error")
	}
}

func TestLoadRejectsInvertedDelayWindow(t *testing.T) {
	withCredentials(t)
	t.Setenv("SEARCH_API_DELAY_MIN", "2s")
	t.Setenv("SEARCH_API_DELAY_MAX", "1s")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with max delay below min returned nil error")
	}
}

func TestLoadOverrides(t *testing.T) {
	withCredentials(t)
	t.Setenv("SCHEDULER_WORKERS", "7")
	t.Setenv("SCHEDULER_TICK", "5m")
	t.Setenv("RETENTION_DAYS", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Scheduler.Workers != 7 {
		t.Errorf("workers = %d, want 7", cfg.Scheduler.Workers)
	}
	if cfg.Scheduler.TickInterval != 5*time.Minute {
		t.Errorf("tick = %s, want 5m", cfg.Scheduler.TickInterval)
	}
	if cfg.Retention.Horizon != 30*24*time.Hour {
		t.Errorf("retention = %s, want 30 days", cfg.Retention.Horizon)
	}
}
