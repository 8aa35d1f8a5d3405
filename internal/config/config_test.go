package config

import (
	"strings"
	"testing"
	"time"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setRequired(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost:5432/laughtrack")
	t.Setenv("UPSTREAM_BASE_URL", "https://api.example.com")
	t.Setenv("ENCRYPTION_KEY", testKey)
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load(Overrides{EnvFile: "/nonexistent/.env"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LaughterThreshold != 0.3 {
		t.Errorf("LaughterThreshold = %v, want 0.3", cfg.LaughterThreshold)
	}
	if cfg.ClipDuration != 4*time.Second {
		t.Errorf("ClipDuration = %v, want 4s", cfg.ClipDuration)
	}
	if cfg.ChunkSize() != 30*time.Minute {
		t.Errorf("ChunkSize = %v, want 30m", cfg.ChunkSize())
	}
	if cfg.NightlyUTC != "09:00" {
		t.Errorf("NightlyUTC = %q, want 09:00", cfg.NightlyUTC)
	}
	if len(cfg.EncryptionKeyBytes()) != 32 {
		t.Errorf("EncryptionKeyBytes length = %d, want 32", len(cfg.EncryptionKeyBytes()))
	}
}

func TestLoad_UploadDirAbsolute(t *testing.T) {
	setRequired(t)
	t.Setenv("UPLOAD_DIR", "relative/uploads")

	cfg, err := Load(Overrides{EnvFile: "/nonexistent/.env"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !strings.HasPrefix(cfg.UploadDir, "/") {
		t.Errorf("UploadDir = %q, want absolute path", cfg.UploadDir)
	}
}

func TestLoad_BadEncryptionKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{"not_hex", "zzzz"},
		{"too_short", "0011223344"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv("ENCRYPTION_KEY", tt.key)
			if _, err := Load(Overrides{EnvFile: "/nonexistent/.env"}); err == nil {
				t.Error("Load should fail with invalid ENCRYPTION_KEY")
			}
		})
	}
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)

	cfg, err := Load(Overrides{
		EnvFile:  "/nonexistent/.env",
		HTTPAddr: ":9999",
		LogLevel: "debug",
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q, want :9999", cfg.HTTPAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
}

func TestParseNightly(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"09:00", 9 * time.Hour, false},
		{"00:00", 0, false},
		{"23:59", 23*time.Hour + 59*time.Minute, false},
		{"9am", 0, true},
		{"25:00", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseNightly(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseNightly(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseNightly(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
