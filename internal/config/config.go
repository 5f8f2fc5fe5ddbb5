package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Poll         Poll         `yaml:"poll"`
	Sources      Sources      `yaml:"sources"`
	Verification Verification `yaml:"verification"`
	Alerts       Alerts       `yaml:"alerts"`
	Dispatch     Dispatch     `yaml:"dispatch"`
	Output       Output       `yaml:"output"`
	Logging      Logging      `yaml:"logging"`
}

type Poll struct {
	IntervalMinutes       int `yaml:"interval_minutes"`
	CycleTimeoutMinutes   int `yaml:"cycle_timeout_minutes"`
	AdapterTimeoutSeconds int `yaml:"adapter_timeout_seconds"`
}

type Sources struct {
	// Priority orders providers from most to least authoritative. The
	// verifier takes canonical field values from the highest-priority
	// source in an agreeing group.
	Priority  []string     `yaml:"priority"`
	Watchlist []string     `yaml:"watchlist"`
	EDGAR     EDGARConfig  `yaml:"edgar"`
	Yahoo     YahooConfig  `yaml:"yahoo"`
	FinViz    FinVizConfig `yaml:"finviz"`
}

type EDGARConfig struct {
	Enabled           bool    `yaml:"enabled"`
	BaseURL           string  `yaml:"base_url"`
	UserAgent         string  `yaml:"user_agent"`
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
}

type YahooConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
}

type FinVizConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
}

type Verification struct {
	PriceTolerancePct  float64 `yaml:"price_tolerance_pct"`
	SharesTolerancePct float64 `yaml:"shares_tolerance_pct"`
	DateToleranceDays  int     `yaml:"date_tolerance_days"`
	ScoreThreshold     float64 `yaml:"score_threshold"`
	ValueTolerancePct  float64 `yaml:"value_tolerance_pct"`
}

type Alerts struct {
	ExecutiveRoles        []string `yaml:"executive_roles"`
	LargePurchaseMinValue float64  `yaml:"large_purchase_min_value"`
	ClusteredMinInsiders  int      `yaml:"clustered_min_insiders"`
	ClusteredWindowDays   int      `yaml:"clustered_window_days"`
	SellingEnabled        bool     `yaml:"selling_enabled"`
	SellingMinSellers     int      `yaml:"selling_min_sellers"`
	SellingMinValue       float64  `yaml:"selling_min_value"`
	ReissueOnUpgrade      bool     `yaml:"reissue_on_upgrade"`
}

type Dispatch struct {
	MaxAttempts    int            `yaml:"max_attempts"`
	BackoffSeconds int            `yaml:"backoff_seconds"`
	Pushover       PushoverConfig `yaml:"pushover"`
}

type PushoverConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
	UserEnv  string `yaml:"user_env"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for insiderwatch.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "insiderwatch")
}

// DataDir returns the XDG data directory for insiderwatch.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "insiderwatch")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/insiderwatch/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'insiderwatch init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Poll: Poll{
			IntervalMinutes:       5,
			CycleTimeoutMinutes:   4,
			AdapterTimeoutSeconds: 45,
		},
		Sources: Sources{
			Priority: []string{"sec-edgar", "yahoo-finance", "finviz"},
			Watchlist: []string{
				"PFE", "JNJ", "MRK", "ABBV", "LLY", "BMY", "UNH", "CVS",
				"MRNA", "BNTX", "REGN", "VRTX", "BIIB", "GILD", "AMGN",
			},
			EDGAR: EDGARConfig{
				Enabled:           true,
				BaseURL:           "https://www.sec.gov",
				UserAgent:         "insiderwatch/1.0 (research; contact admin@example.com)",
				RequestsPerMinute: 30,
			},
			Yahoo:  YahooConfig{Enabled: true, RequestsPerMinute: 30},
			FinViz: FinVizConfig{Enabled: false, RequestsPerMinute: 10},
		},
		Verification: Verification{
			PriceTolerancePct:  2,
			SharesTolerancePct: 2,
			DateToleranceDays:  1,
			ScoreThreshold:     0.8,
			ValueTolerancePct:  1,
		},
		Alerts: Alerts{
			ExecutiveRoles: []string{
				"CEO", "Chief Executive", "CFO", "Chief Financial",
				"President", "COO", "Chief Operating", "Chairman", "Chair",
			},
			LargePurchaseMinValue: 1_000_000,
			ClusteredMinInsiders:  3,
			ClusteredWindowDays:   14,
			SellingEnabled:        true,
			SellingMinSellers:     3,
			SellingMinValue:       2_000_000,
			ReissueOnUpgrade:      true,
		},
		Dispatch: Dispatch{
			MaxAttempts:    3,
			BackoffSeconds: 2,
			Pushover: PushoverConfig{
				Enabled:  false,
				TokenEnv: "PUSHOVER_APP_TOKEN",
				UserEnv:  "PUSHOVER_USER_KEY",
			},
		},
		Logging: Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Poll.IntervalMinutes < 1 {
		return fmt.Errorf("poll.interval_minutes must be >= 1, got %d", c.Poll.IntervalMinutes)
	}
	if c.Verification.ScoreThreshold <= 0 || c.Verification.ScoreThreshold > 1 {
		return fmt.Errorf("verification.score_threshold must be in (0, 1], got %g", c.Verification.ScoreThreshold)
	}
	if c.Dispatch.MaxAttempts < 1 {
		return fmt.Errorf("dispatch.max_attempts must be >= 1, got %d", c.Dispatch.MaxAttempts)
	}
	if len(c.Sources.Priority) == 0 {
		return fmt.Errorf("sources.priority must list at least one provider")
	}
	return nil
}

// PollInterval returns the polling interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalMinutes) * time.Minute
}

// CycleTimeout returns the per-cycle timeout as a duration.
func (c *Config) CycleTimeout() time.Duration {
	return time.Duration(c.Poll.CycleTimeoutMinutes) * time.Minute
}

// AdapterTimeout returns the per-adapter fetch timeout as a duration.
func (c *Config) AdapterTimeout() time.Duration {
	return time.Duration(c.Poll.AdapterTimeoutSeconds) * time.Second
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
