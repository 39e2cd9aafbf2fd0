package config

import (
	"os"
	"path/filepath"
	"testing"
)

// --- Validate ---

func TestValidate_ValidConfig(t *testing.T) {
	cfg := Defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -1
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for negative port")
	}

	cfg.Server.Port = 70000
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidate_TicketEndpointRequired(t *testing.T) {
	cfg := Defaults()
	cfg.Handoff.Ticket.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when ticket enabled without endpoint")
	}

	cfg.Handoff.Ticket.Endpoint = "https://support.example.com/api/tickets"
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_TelegramRequiresTokenAndChat(t *testing.T) {
	cfg := Defaults()
	cfg.Handoff.Telegram.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error when telegram enabled without token and chat id")
	}

	cfg.Handoff.Telegram.Token = "123:abc"
	cfg.Handoff.Telegram.ChatID = -100200300
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

func TestValidate_ChunkOverlapBounds(t *testing.T) {
	cfg := Defaults()
	cfg.Retrieval.ChunkOverlap = cfg.Retrieval.ChunkSize
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for overlap >= chunkSize")
	}
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := Defaults()
	cfg.Logging.Level = "verbose"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

// --- ExpandEnvVars ---

func TestExpandEnvVars_Set(t *testing.T) {
	os.Setenv("DESKBOT_TEST_KEY", "sk-test-123")
	defer os.Unsetenv("DESKBOT_TEST_KEY")

	got := ExpandEnvVars(`{"apiKey": "${DESKBOT_TEST_KEY}"}`)
	want := `{"apiKey": "sk-test-123"}`
	if got != want {
		t.Errorf("expected %s, got %s", want, got)
	}
}

func TestExpandEnvVars_Default(t *testing.T) {
	os.Unsetenv("DESKBOT_UNSET_VAR")
	got := ExpandEnvVars("${DESKBOT_UNSET_VAR:-fallback}")
	if got != "fallback" {
		t.Errorf("expected fallback, got %s", got)
	}
}

func TestExpandEnvVars_UnsetNoDefault(t *testing.T) {
	os.Unsetenv("DESKBOT_UNSET_VAR")
	got := ExpandEnvVars("${DESKBOT_UNSET_VAR}")
	if got != "${DESKBOT_UNSET_VAR}" {
		t.Errorf("expected original string preserved, got %s", got)
	}
}

// --- Load / Save round trip ---

func TestLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Defaults()
	cfg.Server.Port = 9191
	cfg.Escalation.SentimentWindow = 5
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Server.Port != 9191 {
		t.Errorf("expected port 9191, got %d", loaded.Server.Port)
	}
	if loaded.Escalation.SentimentWindow != 5 {
		t.Errorf("expected sentiment window 5, got %d", loaded.Escalation.SentimentWindow)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte("{not json"), 0o644)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}
