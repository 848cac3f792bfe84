// Package config loads steplink settings from YAML files and the
// environment. Precedence, lowest first: defaults, ~/.steplink/config.yaml,
// ./.steplink/config.yaml (or an explicit path), ~/.steplink/config.env,
// process environment.
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/odvcencio/steplink/pkg/errors"
	"github.com/odvcencio/steplink/pkg/observability"
)

// Environment variables read by steplink.
const (
	EnvDevToken         = "TP_DEV_TOKEN"
	EnvAgentURL         = "TP_AGENT_URL"
	EnvProjectName      = "TP_PROJECT_NAME"
	EnvJobName          = "TP_JOB_NAME"
	EnvReportsDisabled  = "STEPLINK_REPORTS_DISABLED"
	EnvLogLevel         = "STEPLINK_LOG_LEVEL"
	EnvJournal          = "STEPLINK_JOURNAL"
	EnvBusURL           = "STEPLINK_BUS_URL"
	EnvDataProviderPath = "STEPLINK_DATA_PROVIDER"
)

const (
	DefaultAgentURL = "http://localhost:8585"
	configDirName   = ".steplink"
)

// Config is the full steplink configuration.
type Config struct {
	Agent        AgentConfig        `yaml:"agent"`
	Reporting    ReportingConfig    `yaml:"reporting"`
	Logging      LoggingConfig      `yaml:"logging"`
	Bus          BusConfig          `yaml:"bus"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Project      ProjectConfig      `yaml:"project"`
	DataProvider DataProviderConfig `yaml:"data_provider"`
}

// AgentConfig locates the agent and bounds every exchange with it.
type AgentConfig struct {
	URL                  string        `yaml:"url"`
	Token                string        `yaml:"token"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	ValidationTimeout    time.Duration `yaml:"validation_timeout"`
	RequestTimeout       time.Duration `yaml:"request_timeout"`
	MaxRequestsPerSecond float64       `yaml:"max_requests_per_second"`
}

type ReportingConfig struct {
	Disabled    bool   `yaml:"disabled"`
	JournalPath string `yaml:"journal_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BusConfig selects NATS when URL is set; otherwise events stay in-process.
type BusConfig struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

// TelemetryConfig turns on span export to stderr.
type TelemetryConfig struct {
	Tracing bool `yaml:"tracing"`
}

type ProjectConfig struct {
	Name string `yaml:"name"`
	Job  string `yaml:"job"`
}

type DataProviderConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	journal := ""
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		journal = filepath.Join(home, configDirName, "journal.db")
	}
	return &Config{
		Agent: AgentConfig{
			URL:                  DefaultAgentURL,
			ConnectTimeout:       5 * time.Second,
			ValidationTimeout:    30 * time.Second,
			RequestTimeout:       30 * time.Second,
			MaxRequestsPerSecond: 50,
		},
		Reporting: ReportingConfig{
			JournalPath: journal,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Bus: BusConfig{
			Name: "steplink",
		},
	}
}

// Load loads configuration from default locations with proper precedence
func Load() (*Config, error) {
	cfg := DefaultConfig()

	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	if home != "" {
		userConfigPath := filepath.Join(home, configDirName, "config.yaml")
		if err := loadAndMerge(cfg, userConfigPath); err != nil && !os.IsNotExist(err) {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigLoad, "loading user config").WithContext("path", userConfigPath)
		}
	}

	projectConfigPath := filepath.Join(".", configDirName, "config.yaml")
	if err := loadAndMerge(cfg, projectConfigPath); err != nil && !os.IsNotExist(err) {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigLoad, "loading project config").WithContext("path", projectConfigPath)
	}

	return finish(cfg)
}

// LoadFromPath loads configuration from a specific file path
func LoadFromPath(path string) (*Config, error) {
	cfg := DefaultConfig()

	path = expandHomeDir(path)
	if err := loadAndMerge(cfg, path); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeConfigLoad, "loading config").WithContext("path", path)
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	applyEnvOverrides(cfg, loadConfigEnvVars())
	cfg.Reporting.JournalPath = expandHomeDir(cfg.Reporting.JournalPath)
	cfg.DataProvider.Path = expandHomeDir(cfg.DataProvider.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides. Values from
// ~/.steplink/config.env apply only when the process environment is unset.
func applyEnvOverrides(cfg *Config, configEnv map[string]string) {
	get := func(key string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		return strings.TrimSpace(configEnv[key])
	}

	if v := get(EnvDevToken); v != "" {
		cfg.Agent.Token = v
	}
	if v := get(EnvAgentURL); v != "" {
		cfg.Agent.URL = v
	}
	if v := get(EnvProjectName); v != "" {
		cfg.Project.Name = v
	}
	if v := get(EnvJobName); v != "" {
		cfg.Project.Job = v
	}
	if val, ok := parseBool(get(EnvReportsDisabled)); ok {
		cfg.Reporting.Disabled = val
	}
	if v := get(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := get(EnvJournal); v != "" {
		cfg.Reporting.JournalPath = v
	}
	if v := get(EnvBusURL); v != "" {
		cfg.Bus.URL = v
	}
	if v := get(EnvDataProviderPath); v != "" {
		cfg.DataProvider.Path = v
	}
}

// Validate checks whether the config is usable.
func (c *Config) Validate() error {
	invalid := func(field, msg string) *apperrors.Error {
		return apperrors.New(apperrors.ErrCodeConfigInvalid, msg).WithContext("field", field)
	}

	u, err := url.Parse(strings.TrimSpace(c.Agent.URL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("agent.url", "agent url must be an http(s) URL").
			WithRemediation("set " + EnvAgentURL + " or agent.url, e.g. " + DefaultAgentURL)
	}
	if c.Agent.ConnectTimeout < 0 {
		return invalid("agent.connect_timeout", "connect timeout must be zero or positive")
	}
	if c.Agent.ValidationTimeout < 0 {
		return invalid("agent.validation_timeout", "validation timeout must be zero or positive")
	}
	if c.Agent.RequestTimeout < 0 {
		return invalid("agent.request_timeout", "request timeout must be zero or positive")
	}
	if c.Agent.MaxRequestsPerSecond < 0 {
		return invalid("agent.max_requests_per_second", "request rate must be zero or positive")
	}
	if _, err := observability.ParseLevel(c.Logging.Level); err != nil {
		return invalid("logging.level", err.Error())
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "json", "text":
	default:
		return invalid("logging.format", "log format must be json or text")
	}
	if c.Bus.URL != "" {
		if bu, err := url.Parse(c.Bus.URL); err != nil || bu.Scheme == "" {
			return invalid("bus.url", "bus url must include a scheme, e.g. nats://localhost:4222")
		}
	}
	return nil
}
