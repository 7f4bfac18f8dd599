package config

import (
	"path/filepath"
	"testing"
)

func TestContextRoundTrip(t *testing.T) {
	store := NewContextStore(filepath.Join(t.TempDir(), "context.yaml"))

	ctx, err := store.Load()
	if err != nil {
		t.Fatalf("load empty context: %v", err)
	}
	if !ctx.IsEmpty() {
		t.Fatalf("expected empty context, got %s", ctx)
	}

	ctx.SetThread(1001, "alice#0001")
	if err := store.Save(ctx); err != nil {
		t.Fatalf("save context: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("reload context: %v", err)
	}
	if loaded.ThreadID != 1001 {
		t.Fatalf("expected thread 1001, got %d", loaded.ThreadID)
	}
	if loaded.RecipientName != "alice#0001" {
		t.Fatalf("expected recipient name preserved, got %q", loaded.RecipientName)
	}
	if got := loaded.String(); got != "thread:1001 (alice#0001)" {
		t.Fatalf("unexpected context string: %q", got)
	}
}

func TestContextClear(t *testing.T) {
	store := NewContextStore(filepath.Join(t.TempDir(), "context.yaml"))

	ctx := &Context{}
	ctx.SetThread(42, "")
	if err := store.Save(ctx); err != nil {
		t.Fatalf("save context: %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("clear context: %v", err)
	}
	// Clearing twice must not fail.
	if err := store.Clear(); err != nil {
		t.Fatalf("clear missing context: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load after clear: %v", err)
	}
	if !loaded.IsEmpty() {
		t.Fatalf("expected empty context after clear, got %s", loaded)
	}
}

func TestLoaderDefaults(t *testing.T) {
	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	if cfg.Chat.RatePerSecond <= 0 {
		t.Fatalf("expected positive default rate, got %f", cfg.Chat.RatePerSecond)
	}
	if cfg.SettingsDBPath() == "" || cfg.LogsDBPath() == "" {
		t.Fatal("expected derived database paths")
	}
	if cfg.SettingsDBPath() == cfg.LogsDBPath() {
		t.Fatal("settings and logs databases must not share a path")
	}
}
