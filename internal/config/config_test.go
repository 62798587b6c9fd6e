package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultProfile = "work"
	cfg.Chat.RingingTimeout = Duration{45 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Chat.RingingTimeout.Duration != 45*time.Second {
		t.Errorf("RingingTimeout = %v, want 45s", loaded.Chat.RingingTimeout)
	}
}

func TestLoadMissingReturnsDefaults(t *testing.T) {
	cfg, err := Load("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Chat.MaxParticipants != 100 {
		t.Errorf("MaxParticipants = %d, want default 100", cfg.Chat.MaxParticipants)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[identity]
public_uri = "tel:+33611111111"
device_id = "dev-1"

[chat]
inactivity_timeout = "2m"
auto_accept = true
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	s := cfg.Settings()
	if s.InactivityTimeout != 2*time.Minute {
		t.Errorf("InactivityTimeout = %v, want 2m", s.InactivityTimeout)
	}
	if !s.AutoAccept {
		t.Error("AutoAccept = false, want true")
	}
	if s.RingingTimeout != 60*time.Second {
		t.Errorf("RingingTimeout = %v, want default 60s", s.RingingTimeout)
	}
	if !s.DeliveryReports {
		t.Error("DeliveryReports lost its default")
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[chat]\nringing_timeout = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for bad duration")
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error without identity")
	}
	cfg.Identity.PublicURI = "sip:+33611111111@ims.example.org"
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error without device id")
	}
	cfg.Identity.DeviceID = "dev"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if cfg.MSRP.MaxMessageSize != 1<<20 {
		t.Errorf("MSRP.MaxMessageSize = %d, want 1 MiB", cfg.MSRP.MaxMessageSize)
	}
	cfg.MSRP.MaxMessageSize = -1
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() expected error for negative msrp.max_message_size")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, Default()); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
