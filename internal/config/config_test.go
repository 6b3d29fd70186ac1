package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
server:
  port: 8181
`

func TestParse_EmptyConfig_AppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want %q (default)", cfg.Database.Driver, "sqlite")
	}
	if cfg.Database.Path != "darkroom.db" {
		t.Errorf("Database.Path = %q, want %q (default)", cfg.Database.Path, "darkroom.db")
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Tasks.Timeout != 10*time.Minute {
		t.Errorf("Tasks.Timeout = %v, want 10m", cfg.Tasks.Timeout)
	}
	if cfg.Tasks.MaxBatchSize != 5 {
		t.Errorf("Tasks.MaxBatchSize = %d, want 5", cfg.Tasks.MaxBatchSize)
	}
	if cfg.Uploads.TTL != 30*time.Minute {
		t.Errorf("Uploads.TTL = %v, want 30m", cfg.Uploads.TTL)
	}
	if cfg.Uploads.MaxBytes != 10<<20 {
		t.Errorf("Uploads.MaxBytes = %d, want %d", cfg.Uploads.MaxBytes, 10<<20)
	}
	if cfg.Sync.RetryCron != "*/5 * * * *" {
		t.Errorf("Sync.RetryCron = %q, want default", cfg.Sync.RetryCron)
	}
	if cfg.Sync.Enabled() {
		t.Error("Sync.Enabled() = true, want false without endpoint")
	}
	if cfg.Notify.Slack.Enabled() || cfg.Notify.Discord.Enabled() {
		t.Error("notify targets should be disabled by default")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

func TestParse_MySQLDefaults(t *testing.T) {
	cfg, err := Parse([]byte("database:\n  driver: mysql\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Host != "127.0.0.1" {
		t.Errorf("Database.Host = %q, want 127.0.0.1", cfg.Database.Host)
	}
	if cfg.Database.Port != 3306 {
		t.Errorf("Database.Port = %d, want 3306", cfg.Database.Port)
	}
	if cfg.Database.User != "root" {
		t.Errorf("Database.User = %q, want root", cfg.Database.User)
	}
	if cfg.Database.Name != "darkroom" {
		t.Errorf("Database.Name = %q, want darkroom", cfg.Database.Name)
	}
	if cfg.Database.Path != "" {
		t.Errorf("Database.Path = %q, want empty for mysql", cfg.Database.Path)
	}
}

func TestParse_ExpandsEnvironment(t *testing.T) {
	t.Setenv("DARKROOM_TEST_TOKEN", "s3cret")
	yaml := `
sync:
  endpoint: https://docs.example.com/records
  token: ${DARKROOM_TEST_TOKEN}
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sync.Token != "s3cret" {
		t.Errorf("Sync.Token = %q, want %q", cfg.Sync.Token, "s3cret")
	}
	if !cfg.Sync.Enabled() {
		t.Error("Sync.Enabled() = false, want true")
	}
}

func TestParse_SyncWithoutCredentials(t *testing.T) {
	yaml := `
sync:
  endpoint: https://docs.example.com/records
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected error for sync without credentials")
	}
	if !strings.Contains(err.Error(), "sync requires token") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "sync requires token")
	}
}

func TestParse_BadLogLevel(t *testing.T) {
	_, err := Parse([]byte("log:\n  level: loud\n"))
	if err == nil {
		t.Fatal("expected error for bad log level")
	}
	if !strings.Contains(err.Error(), `log.level "loud"`) {
		t.Errorf("error = %q, want to mention log.level", err.Error())
	}
}

func TestParse_MultipleValidationErrors(t *testing.T) {
	yaml := `
database:
  driver: oracle
server:
  port: 70000
log:
  level: loud
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("expected error")
	}
	msg := err.Error()
	for _, want := range []string{"database.driver", "server.port", "log.level"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error missing %q: %s", want, msg)
		}
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte(":::invalid"))
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "config: parse:") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: parse:")
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "darkroom.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8181 {
		t.Errorf("Server.Port = %d, want 8181", cfg.Server.Port)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/darkroom.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "config: read") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: read")
	}
}

// --- Fixture-based tests using testdata/ files ---

func TestLoad_FullFixture(t *testing.T) {
	t.Setenv("DARKROOM_TEST_DB_PASSWORD", "pw")
	t.Setenv("DARKROOM_TEST_SYNC_SECRET", "shh")

	cfg, err := Load("testdata/valid_full.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Driver != "mysql" {
		t.Errorf("Database.Driver = %q, want mysql", cfg.Database.Driver)
	}
	if cfg.Database.Host != "10.0.0.5" || cfg.Database.Port != 3307 {
		t.Errorf("Database = %s:%d, want 10.0.0.5:3307", cfg.Database.Host, cfg.Database.Port)
	}
	if cfg.Database.Password != "pw" {
		t.Errorf("Database.Password = %q, want expanded %q", cfg.Database.Password, "pw")
	}
	if cfg.Tasks.Timeout != 15*time.Minute {
		t.Errorf("Tasks.Timeout = %v, want 15m", cfg.Tasks.Timeout)
	}
	if cfg.Tasks.MaxBatchSize != 4 {
		t.Errorf("Tasks.MaxBatchSize = %d, want 4", cfg.Tasks.MaxBatchSize)
	}
	if cfg.Uploads.SweepInterval != 30*time.Second {
		t.Errorf("Uploads.SweepInterval = %v, want 30s", cfg.Uploads.SweepInterval)
	}
	if cfg.Sync.ClientSecret != "shh" {
		t.Errorf("Sync.ClientSecret = %q, want %q", cfg.Sync.ClientSecret, "shh")
	}
	if len(cfg.Sync.Scopes) != 1 || cfg.Sync.Scopes[0] != "records:write" {
		t.Errorf("Sync.Scopes = %v, want [records:write]", cfg.Sync.Scopes)
	}
	if cfg.Sync.MaxRetries != 5 {
		t.Errorf("Sync.MaxRetries = %d, want 5", cfg.Sync.MaxRetries)
	}
	if !cfg.Notify.Slack.Enabled() {
		t.Error("Notify.Slack.Enabled() = false, want true")
	}
	if cfg.Notify.Discord.ChannelID != "998877" {
		t.Errorf("Notify.Discord.ChannelID = %q, want 998877", cfg.Notify.Discord.ChannelID)
	}
	if !cfg.Log.Development || cfg.Log.Level != "debug" {
		t.Errorf("Log = %+v, want debug development", cfg.Log)
	}
}

func TestLoad_MinimalFixture(t *testing.T) {
	cfg, err := Load("testdata/valid_minimal.yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Database.Path != "/tmp/darkroom-test.db" {
		t.Errorf("Database.Path = %q, want /tmp/darkroom-test.db", cfg.Database.Path)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want default sqlite", cfg.Database.Driver)
	}
}

func TestLoad_BadDriverFixture(t *testing.T) {
	_, err := Load("testdata/bad_driver.yaml")
	if err == nil {
		t.Fatal("expected error for unsupported driver")
	}
	if !strings.Contains(err.Error(), "must be sqlite or mysql") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "must be sqlite or mysql")
	}
}

func TestLoad_InvalidYAMLFixture(t *testing.T) {
	_, err := Load("testdata/invalid.yaml")
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
	if !strings.Contains(err.Error(), "config: parse:") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "config: parse:")
	}
}
