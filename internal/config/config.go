package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"imagestash/internal/logging"

	"github.com/BurntSushi/toml"
)

const defaultPath = "~/.imagestash/config.toml"

// Display URL modes.
const (
	ModeBlob = "blob"
	ModeData = "data"
)

type Config struct {
	Store   StoreConfig   `toml:"store"`
	Display DisplayConfig `toml:"display"`
	HTTP    HTTPConfig    `toml:"http"`
	Log     LogConfig     `toml:"log"`
}

type StoreConfig struct {
	DataDir     string   `toml:"data_dir"`
	LockTimeout Duration `toml:"lock_timeout"`
}

type DisplayConfig struct {
	Mode    string `toml:"mode"`
	BaseURL string `toml:"base_url"`
}

type HTTPConfig struct {
	Listen         string   `toml:"listen"`
	AllowedOrigins []string `toml:"allowed_origins"`
	MaxUploadBytes int64    `toml:"max_upload_bytes"`

	// WritesPerSecond throttles PUT and POST per client IP; 0 disables.
	WritesPerSecond float64 `toml:"writes_per_second"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration that decodes from a TOML string like "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Store: StoreConfig{
			DataDir:     "~/.imagestash",
			LockTimeout: Duration{5 * time.Second},
		},
		Display: DisplayConfig{
			Mode:    ModeBlob,
			BaseURL: "http://127.0.0.1:8089",
		},
		HTTP: HTTPConfig{
			Listen:          "127.0.0.1:8089",
			AllowedOrigins:  []string{"http://localhost:3000"},
			MaxUploadBytes:  32 << 20,
			WritesPerSecond: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML config file on top of the defaults.
// If path is empty, ~/.imagestash/config.toml is tried and a missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		path = expandHome(defaultPath)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parsing config: unknown keys: %s", strings.Join(keys, ", "))
	}

	return cfg, nil
}

// Validate checks that the loaded values are usable.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Store.DataDir) == "" {
		errs = append(errs, errors.New("store.data_dir must not be empty"))
	}
	if c.Store.LockTimeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("store.lock_timeout must not be negative, got %s", c.Store.LockTimeout))
	}

	switch c.Display.Mode {
	case ModeData:
	case ModeBlob:
		u, err := url.Parse(c.Display.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("display.base_url must be an absolute URL in blob mode, got %q", c.Display.BaseURL))
		}
	default:
		errs = append(errs, fmt.Errorf("display.mode must be %q or %q, got %q", ModeBlob, ModeData, c.Display.Mode))
	}

	if err := validateListen(c.HTTP.Listen); err != nil {
		errs = append(errs, fmt.Errorf("http.listen: %w", err))
	}
	if c.HTTP.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("http.max_upload_bytes must be positive, got %d", c.HTTP.MaxUploadBytes))
	}
	if c.HTTP.WritesPerSecond < 0 {
		errs = append(errs, fmt.Errorf("http.writes_per_second must not be negative, got %g", c.HTTP.WritesPerSecond))
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if f := strings.ToLower(c.Log.Format); f != "" && f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

func validateListen(addr string) error {
	if addr == "" {
		return errors.New("must not be empty")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", addr, err)
	}
	if port == "" {
		return fmt.Errorf("missing port in %q", addr)
	}
	return nil
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
