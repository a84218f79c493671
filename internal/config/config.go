package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	DB      DBConfig      `mapstructure:"db"`
	Site    SiteConfig    `mapstructure:"site"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Browser BrowserConfig `mapstructure:"browser"`
	Notify  NotifyConfig  `mapstructure:"notify"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

// SiteConfig holds the URLs of the tracked issue site. ParentListURL and
// SubListURL point at the script-rendered list pages the extractor reads.
type SiteConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	LoginURL      string `mapstructure:"login_url"`
	ParentListURL string `mapstructure:"parent_list_url"`
	SubListURL    string `mapstructure:"sub_list_url"`

	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// SessionCookie is the cookie name whose presence marks a logged-in
	// session, e.g. JSESSIONID.
	SessionCookie string        `mapstructure:"session_cookie"`
	LoginTimeout  time.Duration `mapstructure:"login_timeout"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
}

type SyncConfig struct {
	IntervalMinutes  int           `mapstructure:"interval_minutes"`
	ReadyTimeout     time.Duration `mapstructure:"ready_timeout"`
	ReadyPolls       int           `mapstructure:"ready_polls"`
	ExtractTimeout   time.Duration `mapstructure:"extract_timeout"`
	TrackDescription bool          `mapstructure:"track_description"`
}

type BrowserConfig struct {
	Headless  bool   `mapstructure:"headless"`
	UserAgent string `mapstructure:"user_agent"`
}

type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Agent      string        `mapstructure:"agent"`
}

// ConfigError reports missing or invalid configuration discovered before
// any network activity starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func Load(path string, envOnly bool) (Config, error) {
	v := newViper(path)
	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("JIRASYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8086")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 10)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("site.base_url", "")
	v.SetDefault("site.login_url", "")
	v.SetDefault("site.parent_list_url", "")
	v.SetDefault("site.sub_list_url", "")
	v.SetDefault("site.username", "")
	v.SetDefault("site.password", "")
	v.SetDefault("site.session_cookie", "JSESSIONID")
	v.SetDefault("site.login_timeout", "45s")
	v.SetDefault("site.session_ttl", "12h")
	v.SetDefault("sync.interval_minutes", 30)
	v.SetDefault("sync.ready_timeout", "5s")
	v.SetDefault("sync.ready_polls", 10)
	v.SetDefault("sync.extract_timeout", "30s")
	v.SetDefault("sync.track_description", false)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.user_agent", "")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.api_key", "")
	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("notify.agent", "jirasync")

	return v
}

// Store persists orchestrator-owned settings (list URLs, refresh interval)
// back to the config file so they survive restarts.
type Store struct {
	path string
	v    *viper.Viper
}

func NewStore(path string) *Store {
	return &Store{path: path, v: newViper(path)}
}

func (s *Store) SaveSync(parentURL, subURL string, intervalMinutes int) error {
	if s == nil || s.v == nil {
		return nil
	}
	// Re-read so unrelated keys keep their file values rather than defaults.
	_ = s.v.ReadInConfig()
	s.v.Set("site.parent_list_url", parentURL)
	s.v.Set("site.sub_list_url", subURL)
	s.v.Set("sync.interval_minutes", intervalMinutes)
	return s.v.WriteConfigAs(s.path)
}
