package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Paths     PathsConfig     `yaml:"paths"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	HTTP      HTTPConfig      `yaml:"http"`
	Watch     WatchConfig     `yaml:"watch"`
	Database  DatabaseConfig  `yaml:"database"`
	History   HistoryConfig   `yaml:"history"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// PathsConfig holds the local filesystem locations the agent reads and writes.
type PathsConfig struct {
	LogDir         string `yaml:"log_dir"`
	Extension      string `yaml:"extension"`
	MarkerSuffix   string `yaml:"marker_suffix"`
	DependencyPath string `yaml:"dependency_path"`
}

// EndpointsConfig holds the remote service URLs.
type EndpointsConfig struct {
	HashURL         string `yaml:"hash_url"`
	DependencyURL   string `yaml:"dependency_url"`
	CatalogURL      string `yaml:"catalog_url"`
	TokenURL        string `yaml:"token_url"`
	UploadURL       string `yaml:"upload_url"`
	RegistrationURL string `yaml:"registration_url"`
}

// ScheduleConfig holds the pass cadence.
type ScheduleConfig struct {
	InitialDelay   time.Duration `yaml:"initial_delay"`
	Interval       time.Duration `yaml:"interval"`
	CheckForUpdate bool          `yaml:"check_for_update"`
}

// HTTPConfig holds outbound HTTP settings.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// RegistrationInsecureTLS skips certificate verification for the
	// registration endpoint, which usually runs on localhost with a
	// self-signed certificate.
	RegistrationInsecureTLS bool `yaml:"registration_insecure_tls"`
	// RateLimits overrides requests-per-second per endpoint family
	// ("arcdps", "dpsreport", "registry"). Zero disables limiting.
	RateLimits map[string]float64 `yaml:"rate_limits"`
}

// WatchConfig controls the optional filesystem watcher.
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// DatabaseConfig holds SQLite settings for the upload history.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// HistoryConfig controls the upload history ledger.
type HistoryConfig struct {
	Enabled       bool `yaml:"enabled"`
	RetentionDays int  `yaml:"retention_days"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level          string `yaml:"level"`
	Format         string `yaml:"format"`
	FilePath       string `yaml:"file_path"`
	FileMaxSizeMB  int    `yaml:"file_max_size_mb"`
	FileMaxFiles   int    `yaml:"file_max_files"`
	FileMaxAgeDays int    `yaml:"file_max_age_days"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			LogDir:         defaultLogDir(),
			Extension:      ".evtc",
			MarkerSuffix:   ".uploaded",
			DependencyPath: `C:\Program Files\Guild Wars 2\bin64\d3d9.dll`,
		},
		Endpoints: EndpointsConfig{
			HashURL:         "https://www.deltaconnected.com/arcdps/x64/d3d9.dll.md5sum",
			DependencyURL:   "https://www.deltaconnected.com/arcdps/x64/d3d9.dll",
			CatalogURL:      "https://dps.report/docs/bossIds.txt",
			TokenURL:        "https://dps.report/getUserToken",
			UploadURL:       "https://dps.report/uploadContent",
			RegistrationURL: "https://localhost:8443/api/Report",
		},
		Schedule: ScheduleConfig{
			InitialDelay:   10 * time.Second,
			Interval:       60 * time.Second,
			CheckForUpdate: true,
		},
		HTTP: HTTPConfig{
			Timeout: 2 * time.Minute,
		},
		Watch: WatchConfig{
			Enabled:  false,
			Debounce: 5 * time.Second,
		},
		Database: DatabaseConfig{
			Path: defaultDBPath(),
		},
		History: HistoryConfig{
			Enabled:       true,
			RetentionDays: 90,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load reads config from a YAML file (if it exists) and overrides with
// environment variables. Environment variables take precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path supplied by the operator
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, c)
}

func (c *Config) loadFromEnv() {
	if v := os.Getenv("AH_LOG_DIR"); v != "" {
		c.Paths.LogDir = v
	}
	if v := os.Getenv("AH_DEPENDENCY_PATH"); v != "" {
		c.Paths.DependencyPath = v
	}
	if v := os.Getenv("AH_REGISTRATION_URL"); v != "" {
		c.Endpoints.RegistrationURL = v
	}
	if v := os.Getenv("AH_INITIAL_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Schedule.InitialDelay = d
		}
	}
	if v := os.Getenv("AH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Schedule.Interval = d
		}
	}
	if v := os.Getenv("AH_CHECK_FOR_UPDATE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Schedule.CheckForUpdate = b
		}
	}
	if v := os.Getenv("AH_WATCH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Watch.Enabled = b
		}
	}
	if v := os.Getenv("AH_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("AH_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("AH_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("AH_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
}

func (c *Config) validate() error {
	if c.Paths.LogDir == "" {
		return fmt.Errorf("log directory is required")
	}
	if c.Paths.MarkerSuffix == "" {
		return fmt.Errorf("marker suffix is required")
	}
	if !strings.HasPrefix(c.Paths.Extension, ".") {
		return fmt.Errorf("invalid extension %q: must start with a dot", c.Paths.Extension)
	}
	if strings.EqualFold(c.Paths.Extension, c.Paths.MarkerSuffix) {
		return fmt.Errorf("marker suffix must differ from the artifact extension")
	}
	if c.Schedule.Interval <= 0 {
		return fmt.Errorf("invalid interval: %s", c.Schedule.Interval)
	}
	if c.Schedule.InitialDelay < 0 {
		return fmt.Errorf("invalid initial delay: %s", c.Schedule.InitialDelay)
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("invalid http timeout: %s", c.HTTP.Timeout)
	}
	if c.History.Enabled && c.Database.Path == "" {
		return fmt.Errorf("database path is required when history is enabled")
	}

	for name, raw := range map[string]string{
		"hash_url":         c.Endpoints.HashURL,
		"dependency_url":   c.Endpoints.DependencyURL,
		"catalog_url":      c.Endpoints.CatalogURL,
		"token_url":        c.Endpoints.TokenURL,
		"upload_url":       c.Endpoints.UploadURL,
		"registration_url": c.Endpoints.RegistrationURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("invalid endpoint %s: %q", name, raw)
		}
	}
	c.Endpoints.RegistrationURL = strings.TrimRight(c.Endpoints.RegistrationURL, "/")
	return nil
}

// defaultLogDir resolves the arcdps log folder under the user's documents.
func defaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, "Documents", "Guild Wars 2", "addons", "arcdps", "arcdps.cbtlogs")
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "archarvest.db"
	}
	return filepath.Join(dir, "archarvest", "history.db")
}
