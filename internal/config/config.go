package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// APIConfig describes the remote scheduling API.
type APIConfig struct {
	// BaseURL is the API root, without the /api prefix.
	BaseURL string `yaml:"base_url" json:"base_url"`
	// Timeout bounds a single request.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
	// UserAgent is sent with every request.
	UserAgent string `yaml:"user_agent" json:"user_agent"`
}

// SessionConfig controls where the session flags are persisted.
type SessionConfig struct {
	DBPath string `yaml:"db_path" json:"db_path"`
}

// ScheduleConfig holds cron expressions for background jobs.
type ScheduleConfig struct {
	// CredentialCheck re-validates the logged-in user against the server.
	CredentialCheck string `yaml:"credential_check" json:"credential_check"`
	// Refresh reloads users and the tracked week.
	Refresh string `yaml:"refresh" json:"refresh"`
}

// ICSConfig controls calendar import/export.
type ICSConfig struct {
	// Domain is used in exported UIDs (event-<id>@domain).
	Domain string `yaml:"domain" json:"domain"`
	// HorizonDays bounds recurring series on import.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
	// MaxOccurrences caps each recurring series.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the local API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address of the local API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone event dates are read and written in.
	// "Local" (default) uses the host zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is the first day of a loaded week:
	//   - "monday" (default)
	//   - "sunday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	API      APIConfig      `yaml:"api" json:"api"`
	Session  SessionConfig  `yaml:"session" json:"session"`
	Schedule ScheduleConfig `yaml:"schedule" json:"schedule"`
	ICS      ICSConfig      `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    "127.0.0.1:8080",
		Timezone:  "Local",
		WeekStart: "monday",
		LogLevel:  "info",
		API: APIConfig{
			BaseURL:   "https://guardguys.herokuapp.com",
			Timeout:   15 * time.Second,
			UserAgent: "guardsched/0.1",
		},
		Session: SessionConfig{
			DBPath: "/var/lib/guardsched/session.db",
		},
		Schedule: ScheduleConfig{
			CredentialCheck: "*/5 * * * *",
			Refresh:         "*/15 * * * *",
		},
		ICS: ICSConfig{
			Domain:         "guardsched.local",
			HorizonDays:    90,
			MaxOccurrences: 500,
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values so partially-filled configs still
// behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch strings.ToLower(c.WeekStart) {
	case "monday", "sunday":
		c.WeekStart = strings.ToLower(c.WeekStart)
	default:
		// Unknown value; fall back to monday, the API's week anchor.
		c.WeekStart = def.WeekStart
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.BaseURL == "" {
		c.API.BaseURL = def.API.BaseURL
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = def.API.Timeout
	}
	if c.API.UserAgent == "" {
		c.API.UserAgent = def.API.UserAgent
	}
	if c.Session.DBPath == "" {
		c.Session.DBPath = def.Session.DBPath
	}
	if c.Schedule.CredentialCheck == "" {
		c.Schedule.CredentialCheck = def.Schedule.CredentialCheck
	}
	if c.Schedule.Refresh == "" {
		c.Schedule.Refresh = def.Schedule.Refresh
	}
	if c.ICS.Domain == "" {
		c.ICS.Domain = def.ICS.Domain
	}
	if c.ICS.HorizonDays <= 0 {
		c.ICS.HorizonDays = def.ICS.HorizonDays
	}
	if c.ICS.MaxOccurrences <= 0 {
		c.ICS.MaxOccurrences = def.ICS.MaxOccurrences
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		c.BasicAuth = nil
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, err
	}
	return loc, nil
}

// SundayFirst reports whether weeks start on Sunday.
func (c *Config) SundayFirst() bool {
	return c.WeekStart == "sunday"
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - If the file exists, it is unmarshaled and normalized.
//
// Environment overrides (see ApplyEnv) are applied in both cases.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			saveErr := Save(path, cfg)
			// Even if save fails, return cfg with error so caller can decide.
			cfg.ApplyEnv()
			cfg.Normalize()
			return cfg, saveErr
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	cfg.Normalize()

	return &cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(paths ...string) error {
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// Environment variables that override file values.
const (
	EnvAPIURL    = "GUARDSCHED_API_URL"
	EnvListen    = "GUARDSCHED_LISTEN"
	EnvTimezone  = "GUARDSCHED_TIMEZONE"
	EnvLogLevel  = "GUARDSCHED_LOG_LEVEL"
	EnvSessionDB = "GUARDSCHED_SESSION_DB"
)

// ApplyEnv overrides config values from GUARDSCHED_* variables.
func (c *Config) ApplyEnv() {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	set(&c.API.BaseURL, EnvAPIURL)
	set(&c.Listen, EnvListen)
	set(&c.Timezone, EnvTimezone)
	set(&c.LogLevel, EnvLogLevel)
	set(&c.Session.DBPath, EnvSessionDB)
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".guardsched-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
