package main

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/eczane/eczane/internal/config"
	"github.com/eczane/eczane/internal/platform/idempotency"
	"github.com/eczane/eczane/internal/platform/notification"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := rootCmd()
	want := map[string]bool{"serve": false, "migrate": false, "relay": false}
	for _, c := range root.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("expected subcommand %q", name)
		}
	}
}

func TestMigrateCmd_DirFlag(t *testing.T) {
	cmd := migrateCmd()
	for _, sub := range []string{"up", "status"} {
		c, _, err := cmd.Find([]string{sub})
		if err != nil {
			t.Fatalf("find %s: %v", sub, err)
		}
		if c.Flags().Lookup("dir") == nil {
			t.Errorf("%s: expected --dir flag", sub)
		}
	}
}

func TestMigrationSource_Embedded(t *testing.T) {
	src := migrationSource("")
	entries, err := fs.ReadDir(src, ".")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	var sql int
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".sql" {
			sql++
		}
	}
	if sql == 0 {
		t.Error("expected embedded .sql migrations")
	}
}

func TestMigrationSource_Dir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_init.sql"), []byte("SELECT 1;"), 0o600); err != nil {
		t.Fatal(err)
	}
	src := migrationSource(dir)
	b, err := fs.ReadFile(src, "001_init.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(b) != "SELECT 1;" {
		t.Errorf("unexpected content %q", b)
	}
}

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"development", "production"} {
		l := newLogger(env)
		if l.GetLevel() != zerolog.TraceLevel {
			t.Errorf("%s: unexpected level %v", env, l.GetLevel())
		}
	}
}

func TestNotificationSink_InboxWithoutKafka(t *testing.T) {
	inbox := notification.NewStore(nil)
	sink, closeFn := notificationSink(&config.Config{}, inbox)
	if sink != notification.Sink(inbox) {
		t.Error("expected inbox store as sink")
	}
	if err := closeFn(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestNotificationSink_KafkaPublisher(t *testing.T) {
	cfg := &config.Config{KafkaBrokers: []string{"localhost:9092"}, NotificationTopic: "eczane.notifications"}
	sink, closeFn := notificationSink(cfg, notification.NewStore(nil))
	if _, ok := sink.(*notification.Publisher); !ok {
		t.Errorf("expected *notification.Publisher, got %T", sink)
	}
	if err := closeFn(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestIdempotencyStore_MemoryFallback(t *testing.T) {
	store, closeFn, err := idempotencyStore(&config.Config{IdempotencyTTL: time.Hour}, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := store.(*idempotency.MemoryStore); !ok {
		t.Errorf("expected *idempotency.MemoryStore, got %T", store)
	}
	if err := closeFn(); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestIdempotencyStore_BadRedisURL(t *testing.T) {
	_, _, err := idempotencyStore(&config.Config{RedisURL: "not a url"}, zerolog.Nop())
	if err == nil {
		t.Error("expected error for malformed redis url")
	}
}
