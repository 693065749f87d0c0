package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != StorePostgres || cfg.Sync.Mode != SyncEmbedded {
		t.Fatalf("store=%q mode=%q", cfg.Store.Driver, cfg.Sync.Mode)
	}
	if cfg.Sync.ManualBroadcastInterval != 25*time.Second ||
		cfg.Sync.HostedVideoInterval != 120*time.Second ||
		cfg.Sync.AIPresenterInterval != 60*time.Second {
		t.Fatalf("intervals = %+v", cfg.Sync)
	}
	if cfg.Reconcile.ManualBroadcastWindow != 3*time.Hour || cfg.Reconcile.Lookahead != 15*time.Minute {
		t.Fatalf("windows = %+v", cfg.Reconcile)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", " SQLite ")
	t.Setenv("SQLITE_PATH", "file:test.db")
	t.Setenv("SYNC_HOSTED_VIDEO_INTERVAL", "5m")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/live")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != StoreSQLite || cfg.Store.SQLitePath != "file:test.db" {
		t.Fatalf("store = %+v", cfg.Store)
	}
	if cfg.Sync.HostedVideoInterval != 5*time.Minute {
		t.Fatalf("hosted interval = %s", cfg.Sync.HostedVideoInterval)
	}
	if cfg.Database.DSN() != "postgres://u:p@db:5432/live" {
		t.Fatalf("dsn = %q", cfg.Database.DSN())
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown driver", map[string]string{"STORE_DRIVER": "mongo"}, "STORE_DRIVER"},
		{"unknown mode", map[string]string{"SYNC_MODE": "cron"}, "SYNC_MODE"},
		{"worker without redis", map[string]string{"SYNC_MODE": "worker", "REDIS_ADDR": ""}, "REDIS_ADDR"},
		{"worker on sqlite", map[string]string{"SYNC_MODE": "worker", "REDIS_ADDR": "localhost:6379", "STORE_DRIVER": "sqlite"}, "postgres"},
		{"bad duration", map[string]string{"ENGINE_TICK": "soon"}, "parse env"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestDatabaseConfig_DSNFromParts(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5433", User: "u", Password: "p", DBName: "live", SSLMode: "require"}
	want := "host=db port=5433 user=u password=p dbname=live sslmode=require"
	if got := c.DSN(); got != want {
		t.Fatalf("dsn = %q", got)
	}
}
