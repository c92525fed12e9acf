package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ICSFeed describes one iCalendar feed merged into the event catalog.
type ICSFeed struct {
	// ID is an internal identifier used for cache keys and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
	// Category is applied to feed events that carry no CATEGORIES property.
	Category string `yaml:"category,omitempty" json:"category,omitempty"`
}

// CatalogConfig controls where event records come from.
type CatalogConfig struct {
	// Seed loads the built-in sample catalog.
	Seed bool `yaml:"seed" json:"seed"`

	// Files is a list of YAML catalog files.
	Files []string `yaml:"files" json:"files"`

	// ICS is a list of iCalendar feeds.
	ICS []ICSFeed `yaml:"ics" json:"ics"`

	// Refresh is a cron expression for reloading the catalog.
	Refresh string `yaml:"refresh" json:"refresh"`

	// HorizonDays bounds recurrence expansion of feed events.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// CacheDir holds the conditional-GET cache for ICS feeds.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
}

type RemindersConfig struct {
	// DefaultLeadMinutes is used when a user has no stored preference or
	// nobody is signed in.
	DefaultLeadMinutes int `yaml:"default_lead_minutes" json:"default_lead_minutes"`

	// Title is the headline of every reminder.
	Title string `yaml:"title" json:"title"`

	// WebhookURL, if set, receives a JSON POST for each delivered reminder.
	WebhookURL string `yaml:"webhook_url,omitempty" json:"webhook_url,omitempty"`
}

type AuthConfig struct {
	MinPasswordLength   int `yaml:"min_password_length" json:"min_password_length"`
	MaxFailedAttempts   int `yaml:"max_failed_attempts" json:"max_failed_attempts"`
	LockoutMinutes      int `yaml:"lockout_minutes" json:"lockout_minutes"`
	ReauthWindowMinutes int `yaml:"reauth_window_minutes" json:"reauth_window_minutes"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone event dates and times are written in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Database is the SQLite file backing accounts and user documents.
	Database string `yaml:"database" json:"database"`

	Log       LogConfig       `yaml:"log" json:"log"`
	Catalog   CatalogConfig   `yaml:"catalog" json:"catalog"`
	Reminders RemindersConfig `yaml:"reminders" json:"reminders"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "America/Chicago"
	defaultDatabase    = "/var/lib/campusevents/campusevents.db"
	defaultCacheDir    = "/var/lib/campusevents/ics-cache"
	defaultRefresh     = "*/30 * * * *"
	defaultHorizonDays = 120
	defaultLeadMinutes = 15
	defaultTitle       = "🎉 Event Reminder"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Catalog: CatalogConfig{Seed: true},
	}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.Database == "" {
		c.Database = defaultDatabase
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
		c.Log.Level = strings.ToLower(c.Log.Level)
	default:
		c.Log.Level = "info"
	}
	if c.Log.Format != "json" {
		c.Log.Format = "text"
	}

	if c.Catalog.Refresh == "" {
		c.Catalog.Refresh = defaultRefresh
	}
	if c.Catalog.HorizonDays <= 0 {
		c.Catalog.HorizonDays = defaultHorizonDays
	}
	if c.Catalog.CacheDir == "" {
		c.Catalog.CacheDir = defaultCacheDir
	}
	if c.Catalog.Files == nil {
		c.Catalog.Files = []string{}
	}
	if c.Catalog.ICS == nil {
		c.Catalog.ICS = []ICSFeed{}
	}

	if c.Reminders.DefaultLeadMinutes <= 0 {
		c.Reminders.DefaultLeadMinutes = defaultLeadMinutes
	}
	if c.Reminders.Title == "" {
		c.Reminders.Title = defaultTitle
	}

	if c.Auth.MinPasswordLength <= 0 {
		c.Auth.MinPasswordLength = 6
	}
	if c.Auth.MaxFailedAttempts <= 0 {
		c.Auth.MaxFailedAttempts = 5
	}
	if c.Auth.LockoutMinutes <= 0 {
		c.Auth.LockoutMinutes = 15
	}
	if c.Auth.ReauthWindowMinutes <= 0 {
		c.Auth.ReauthWindowMinutes = 5
	}
}

// Load loads configuration from the given YAML path.
//
// A missing file is a first run: the default config is written with 0600
// permissions and returned. An existing file is decoded and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Caller decides whether an unwritable first-run file is fatal.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory as needed.
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

	tmp, err := os.CreateTemp(dir, ".campusevents-config-*.tmp")
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

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// Location resolves Timezone; "Local" or an empty zone is the host zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// FeedID is the cache and log key of a feed: its ID, else its name, else
// its URL.
func (f ICSFeed) FeedID() string {
	switch {
	case f.ID != "":
		return f.ID
	case f.Name != "":
		return f.Name
	default:
		return f.URL
	}
}
