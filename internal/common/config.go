package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	DevMode     bool            `toml:"dev_mode"`    // bypasses live credential verification
	Server      ServerConfig    `toml:"server"`
	Logging     LoggingConfig   `toml:"logging"`
	Storage     StorageConfig   `toml:"storage"`
	Vault       VaultConfig     `toml:"vault"`
	Browser     BrowserConfig   `toml:"browser"`
	WorkFossa   WorkFossaConfig `toml:"workfossa"`
	Queue       QueueConfig     `toml:"queue"`
	Resources   ResourcesConfig `toml:"resources"`
	Forms       FormsConfig     `toml:"forms"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Auth        AuthConfig      `toml:"auth"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"min=1,max=65535"`
	Host string `toml:"host"`
}

type LoggingConfig struct {
	Level         string   `toml:"level"`           // "debug", "info", "warn", "error"
	Format        string   `toml:"format"`          // "json" or "text"
	Output        []string `toml:"output"`          // "stdout", "file"
	TimeFormat    string   `toml:"time_format"`     // Time format for logs
	MinEventLevel string   `toml:"min_event_level"` // Minimum level streamed to WebSocket clients
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

// VaultConfig locates the encrypted credential files. MasterKey is never
// read from TOML; it comes exclusively from the MASTER_KEY environment
// variable at startup.
type VaultConfig struct {
	Dir       string `toml:"dir"`
	MasterKey string `toml:"-"`
}

// BrowserConfig controls the shared browser pool
type BrowserConfig struct {
	Visible        bool   `toml:"visible"`          // run non-headless
	MaxSessions    int    `toml:"max_sessions"`     // concurrent contexts (default 5)
	UserAgent      string `toml:"user_agent"`       // realistic Chrome UA
	PageTimeout    string `toml:"page_timeout"`     // per-navigation timeout
	NavRetryDelay  string `toml:"nav_retry_delay"`  // fixed fallback delay when content markers are absent
	SessionIdleTTL string `toml:"session_idle_ttl"` // close_idle sweep threshold
}

// WorkFossaConfig carries the target-site endpoints the driver navigates
type WorkFossaConfig struct {
	BaseURL   string `toml:"base_url" validate:"required"`
	LoginPath string `toml:"login_path"`
	ListPath  string `toml:"list_path"`
}

type QueueConfig struct {
	MaxConcurrentJobs int    `toml:"max_concurrent_jobs"` // parallel workers (default 3)
	TickInterval      string `toml:"tick_interval"`       // scheduler tick (default 5s)
	PersistInterval   string `toml:"persist_interval"`    // periodic job snapshot
	TerminalRetention string `toml:"terminal_retention"`  // purge horizon for terminal jobs (default 24h)
}

// ResourcesConfig is the global capacity the resource manager enforces
type ResourcesConfig struct {
	Sessions int     `toml:"sessions"`
	MemoryMB int     `toml:"memory_mb"`
	CPU      float64 `toml:"cpu"`
}

type FormsConfig struct {
	TemplatesFile   string `toml:"templates_file"` // optional YAML template overrides
	Concurrency     int    `toml:"concurrency"`    // batch concurrency (default 1)
	InterJobDelay   string `toml:"inter_job_delay"`
	ItemRetryLimit  int    `toml:"item_retry_limit"` // per-item retries in a batch (default 3)
	ContinueOnError bool   `toml:"continue_on_error"`
}

type SchedulerConfig struct {
	Enabled bool `toml:"enabled"`
}

// WebSocketConfig controls the WS hub and the log stream writer
type WebSocketConfig struct {
	MinLevel         string   `toml:"min_level"`
	ExcludePatterns  []string `toml:"exclude_patterns"`
	ThrottleInterval string   `toml:"throttle_interval"` // progress broadcast throttle
}

// AuthToken grants one bearer token access as one user
type AuthToken struct {
	Token  string `toml:"token" validate:"required"`
	UserID string `toml:"user_id" validate:"required"`
	Admin  bool   `toml:"admin"`
}

type AuthConfig struct {
	Tokens []AuthToken `toml:"tokens"`
}

// NewDefaultConfig returns the baseline configuration before any file,
// environment, or flag overrides.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		DevMode:     false,
		Server: ServerConfig{
			Port: 8085,
			Host: "0.0.0.0",
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "text",
			Output:        []string{"stdout", "file"},
			TimeFormat:    "15:04:05",
			MinEventLevel: "info",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/metior",
				ResetOnStartup: false,
			},
		},
		Vault: VaultConfig{
			Dir: "./data/credentials",
		},
		Browser: BrowserConfig{
			Visible:        false,
			MaxSessions:    5,
			UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			PageTimeout:    "30s",
			NavRetryDelay:  "2s",
			SessionIdleTTL: "15m",
		},
		WorkFossa: WorkFossaConfig{
			BaseURL:   "https://app.workfossa.com",
			LoginPath: "/login",
			ListPath:  "/work/list",
		},
		Queue: QueueConfig{
			MaxConcurrentJobs: 3,
			TickInterval:      "5s",
			PersistInterval:   "30s",
			TerminalRetention: "24h",
		},
		Resources: ResourcesConfig{
			Sessions: 5,
			MemoryMB: 4096,
			CPU:      4.0,
		},
		Forms: FormsConfig{
			TemplatesFile:   "",
			Concurrency:     1,
			InterJobDelay:   "2s",
			ItemRetryLimit:  3,
			ContinueOnError: true,
		},
		Scheduler: SchedulerConfig{
			Enabled: true,
		},
		WebSocket: WebSocketConfig{
			MinLevel:         "info",
			ExcludePatterns:  []string{},
			ThrottleInterval: "250ms",
		},
		Auth: AuthConfig{},
	}
}

// LoadFromFiles loads configuration with priority:
// defaults -> file1 -> file2 -> ... -> environment variables.
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config.
// MASTER_KEY, BROWSER_VISIBLE, MAX_CONCURRENT_JOBS and DEV_MODE are read
// unprefixed; everything else uses the METIOR_ prefix.
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("METIOR_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	config.Vault.MasterKey = os.Getenv("MASTER_KEY")

	if visible := os.Getenv("BROWSER_VISIBLE"); visible != "" {
		config.Browser.Visible = parseBool(visible)
	}
	if maxJobs := os.Getenv("MAX_CONCURRENT_JOBS"); maxJobs != "" {
		if n, err := strconv.Atoi(maxJobs); err == nil && n > 0 {
			config.Queue.MaxConcurrentJobs = n
		}
	}
	if devMode := os.Getenv("DEV_MODE"); devMode != "" {
		config.DevMode = parseBool(devMode)
	}

	if port := os.Getenv("METIOR_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("METIOR_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if level := os.Getenv("METIOR_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("METIOR_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
	if badgerPath := os.Getenv("METIOR_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}
	if vaultDir := os.Getenv("METIOR_VAULT_DIR"); vaultDir != "" {
		config.Vault.Dir = vaultDir
	}
	if baseURL := os.Getenv("METIOR_WORKFOSSA_BASE_URL"); baseURL != "" {
		config.WorkFossa.BaseURL = baseURL
	}
	if sessions := os.Getenv("METIOR_BROWSER_MAX_SESSIONS"); sessions != "" {
		if n, err := strconv.Atoi(sessions); err == nil && n > 0 {
			config.Browser.MaxSessions = n
		}
	}
}

// ApplyFlagOverrides applies CLI flag values over everything else
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks structural validity plus the startup-fatal requirements:
// a present master key and a usable resource capacity.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Vault.MasterKey == "" {
		return fmt.Errorf("MASTER_KEY environment variable is required")
	}
	if c.Browser.MaxSessions <= 0 {
		return fmt.Errorf("browser.max_sessions must be positive")
	}
	if c.Resources.Sessions < c.Browser.MaxSessions {
		c.Resources.Sessions = c.Browser.MaxSessions
	}
	for i, t := range c.Auth.Tokens {
		if t.Token == "" || t.UserID == "" {
			return fmt.Errorf("auth.tokens[%d] requires both token and user_id", i)
		}
	}
	return nil
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	return env == "production" || env == "prod"
}

// ParseDuration parses a duration string with a fallback default
func ParseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
