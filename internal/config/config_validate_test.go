package config

import (
	"strings"
	"testing"
	"time"
)

const errExpectedValErr = "expected validation error"

func TestConfigValidate_DataMode(t *testing.T) {
	cfg := Defaults()
	cfg.Display.Mode = ModeData
	cfg.Display.BaseURL = ""

	if err := cfg.Validate(); err != nil {
		t.Errorf("data mode does not need a base URL: %v", err)
	}
}

func TestConfigValidate_EmptyLogFields(t *testing.T) {
	cfg := Defaults()
	cfg.Log.Level = ""
	cfg.Log.Format = ""

	if err := cfg.Validate(); err != nil {
		t.Errorf("empty log fields should fall back to defaults: %v", err)
	}
}

func TestConfigValidate_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		mention string
	}{
		{"empty data dir", func(c *Config) { c.Store.DataDir = " " }, "store.data_dir"},
		{"negative lock timeout", func(c *Config) { c.Store.LockTimeout = Duration{-time.Second} }, "store.lock_timeout"},
		{"unknown mode", func(c *Config) { c.Display.Mode = "inline" }, "display.mode"},
		{"relative base url", func(c *Config) { c.Display.BaseURL = "/blob" }, "display.base_url"},
		{"empty base url", func(c *Config) { c.Display.BaseURL = "" }, "display.base_url"},
		{"empty listen", func(c *Config) { c.HTTP.Listen = "" }, "http.listen"},
		{"listen missing port", func(c *Config) { c.HTTP.Listen = "127.0.0.1" }, "http.listen"},
		{"listen colon only", func(c *Config) { c.HTTP.Listen = "localhost:" }, "http.listen"},
		{"zero upload cap", func(c *Config) { c.HTTP.MaxUploadBytes = 0 }, "http.max_upload_bytes"},
		{"negative write rate", func(c *Config) { c.HTTP.WritesPerSecond = -1 }, "http.writes_per_second"},
		{"bad log level", func(c *Config) { c.Log.Level = "chatty" }, "log.level"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal(errExpectedValErr)
			}
			if !strings.Contains(err.Error(), tt.mention) {
				t.Errorf("error should mention %q: %v", tt.mention, err)
			}
		})
	}
}

func TestConfigValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.HTTP.Listen = ""
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal(errExpectedValErr)
	}
	msg := err.Error()
	if !strings.Contains(msg, "http.listen") || !strings.Contains(msg, "log.format") {
		t.Errorf("all problems should be reported at once: %v", msg)
	}
}

func TestConfigValidate_IPv6Listen(t *testing.T) {
	cfg := Defaults()
	cfg.HTTP.Listen = "[::1]:9000"
	if err := cfg.Validate(); err != nil {
		t.Errorf("IPv6 listen should be valid: %v", err)
	}
}
