package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

func TestApplyPoolSettings(t *testing.T) {
	cfg, err := pgxpool.ParseConfig("postgres://u:p@localhost:5432/eczane")
	if err != nil {
		t.Fatal(err)
	}
	applyPoolSettings(cfg, 8, 2)

	if cfg.MaxConns != 8 || cfg.MinConns != 2 {
		t.Errorf("expected 8/2 conns, got %d/%d", cfg.MaxConns, cfg.MinConns)
	}
	if got := cfg.ConnConfig.RuntimeParams["application_name"]; got != applicationName {
		t.Errorf("application_name = %q, want %q", got, applicationName)
	}
}

func TestApplyPoolSettings_MinCappedAtMax(t *testing.T) {
	cfg, err := pgxpool.ParseConfig("postgres://u:p@localhost:5432/eczane")
	if err != nil {
		t.Fatal(err)
	}
	applyPoolSettings(cfg, 4, 10)
	if cfg.MinConns != 4 {
		t.Errorf("expected min conns capped to 4, got %d", cfg.MinConns)
	}
}

func TestApplyPoolSettings_KeepsApplicationNameFromURL(t *testing.T) {
	cfg, err := pgxpool.ParseConfig("postgres://u:p@localhost:5432/eczane?application_name=relay")
	if err != nil {
		t.Fatal(err)
	}
	applyPoolSettings(cfg, 4, 1)
	if got := cfg.ConnConfig.RuntimeParams["application_name"]; got != "relay" {
		t.Errorf("application_name = %q, want relay", got)
	}
}

func TestNewPool_InvalidURL(t *testing.T) {
	if _, err := NewPool(context.Background(), "://bad", 4, 1); err == nil {
		t.Error("expected parse error")
	}
}
