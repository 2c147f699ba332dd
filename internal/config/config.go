package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// GitHubConfig holds the target organization and authentication settings.
type GitHubConfig struct {
	Organization string `yaml:"organization"`
	Token        string `yaml:"token"`
	BaseURL      string `yaml:"base_url"` // custom endpoint (e.g. GitHub Enterprise)
}

// LLMConfig holds the Groq chat-completions settings.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// FallbackModels is an ordered list of model names to try when the
	// primary model is decommissioned or rejected by the API.
	FallbackModels []string `yaml:"fallback_models"`

	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// ScheduleConfig controls when daily cycles fire.
type ScheduleConfig struct {
	// CronExpr is a standard 5-field cron expression. When set it takes
	// precedence over DailyHour.
	CronExpr string `yaml:"cron_expr"`

	// DailyHour is the UTC hour (0-23) at which a cycle fires when no
	// cron expression is configured.
	DailyHour int `yaml:"daily_hour"`
}

// PlannerConfig bounds the size and behavior of daily plans.
type PlannerConfig struct {
	// NumContributions caps intents per daily plan.
	NumContributions int `yaml:"num_contributions"`

	// KeepPlans is the number of plan artifact files retained on disk.
	KeepPlans int `yaml:"keep_plans"`
}

// ExecutorConfig bounds concurrent execution of plan intents.
type ExecutorConfig struct {
	// MaxInFlight caps simultaneously executing intents.
	MaxInFlight int `yaml:"max_in_flight"`

	DryRun bool `yaml:"dry_run"`
}

// MaintenanceConfig controls the repository sweep.
type MaintenanceConfig struct {
	// StaleDays is the inactivity threshold after which issues are closed.
	StaleDays int `yaml:"stale_days"`

	// PaceSeconds is the delay inserted between per-repository passes.
	PaceSeconds int `yaml:"pace_seconds"`
}

type TelegramConfig struct {
	Token   string  `yaml:"token"`
	ChatIDs []int64 `yaml:"chat_ids"`
	Enabled bool    `yaml:"enabled"`
}

type DiscordConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Enabled    bool   `yaml:"enabled"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Discord  DiscordConfig  `yaml:"discord"`
}

// TelemetryConfig controls the optional OpenTelemetry pipeline.
type TelemetryConfig struct {
	Enabled        bool    `yaml:"enabled"`
	Exporter       string  `yaml:"exporter"` // "otlp-http", "stdout", "none"
	Endpoint       string  `yaml:"endpoint"`
	ServiceName    string  `yaml:"service_name"`
	SampleRate     float64 `yaml:"sample_rate"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	GitHub      GitHubConfig      `yaml:"github"`
	LLM         LLMConfig         `yaml:"llm"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Planner     PlannerConfig     `yaml:"planner"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
	Notify      NotifyConfig      `yaml:"notify"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`

	// RetentionAuditLogDays prunes old audit rows. 0 keeps everything.
	RetentionAuditLogDays int `yaml:"retention_audit_log_days"`
}

// StatePath returns the path to the state document within the home directory.
func (c Config) StatePath() string {
	return filepath.Join(c.HomeDir, "state.json")
}

// PlansDir returns the directory holding daily plan artifacts.
func (c Config) PlansDir() string {
	return filepath.Join(c.HomeDir, "plans")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Fingerprint returns a stable hash of the active config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "org=%s|bind=%s|log=%s|model=%s|cron=%s|hour=%d|contrib=%d|stale=%d",
		c.GitHub.Organization, c.BindAddr, c.LogLevel, c.LLM.Model,
		c.Schedule.CronExpr, c.Schedule.DailyHour, c.Planner.NumContributions, c.Maintenance.StaleDays)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}

func defaultConfig() Config {
	return Config{
		BindAddr: "127.0.0.1:18990",
		LogLevel: "info",
		GitHub: GitHubConfig{
			BaseURL: "https://api.github.com",
		},
		LLM: LLMConfig{
			BaseURL:     "https://api.groq.com/openai/v1",
			Model:       "llama-3.3-70b-versatile",
			MaxTokens:   4096,
			Temperature: 0.7,
			FallbackModels: []string{
				"llama-3.1-8b-instant",
				"gemma2-9b-it",
			},
		},
		Schedule: ScheduleConfig{DailyHour: 2},
		Planner: PlannerConfig{
			NumContributions: 3,
			KeepPlans:        30,
		},
		Executor:    ExecutorConfig{MaxInFlight: 1},
		Maintenance: MaintenanceConfig{StaleDays: 14, PaceSeconds: 2},
		Telemetry: TelemetryConfig{
			Exporter:    "none",
			ServiceName: "steward",
			SampleRate:  1.0,
		},
		RetentionAuditLogDays: 365,
	}
}

func HomeDir() string {
	if override := os.Getenv("STEWARD_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".steward")
}

func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create steward home: %w", err)
	}

	configPath := ConfigPath(cfg.HomeDir)
	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config.yaml: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	if err := validate(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:18990"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if strings.TrimSpace(cfg.GitHub.BaseURL) == "" {
		cfg.GitHub.BaseURL = "https://api.github.com"
	}
	cfg.GitHub.BaseURL = strings.TrimRight(cfg.GitHub.BaseURL, "/")
	if strings.TrimSpace(cfg.LLM.BaseURL) == "" {
		cfg.LLM.BaseURL = "https://api.groq.com/openai/v1"
	}
	cfg.LLM.BaseURL = strings.TrimRight(cfg.LLM.BaseURL, "/")
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "llama-3.3-70b-versatile"
	}
	if cfg.LLM.MaxTokens <= 0 {
		cfg.LLM.MaxTokens = 4096
	}
	if cfg.Planner.NumContributions <= 0 {
		cfg.Planner.NumContributions = 3
	}
	if cfg.Planner.KeepPlans <= 0 {
		cfg.Planner.KeepPlans = 30
	}
	if cfg.Executor.MaxInFlight <= 0 {
		cfg.Executor.MaxInFlight = 1
	}
	if cfg.Maintenance.StaleDays <= 0 {
		cfg.Maintenance.StaleDays = 14
	}
	if cfg.Maintenance.PaceSeconds < 0 {
		cfg.Maintenance.PaceSeconds = 0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "steward"
	}
	if cfg.Telemetry.SampleRate <= 0 || cfg.Telemetry.SampleRate > 1 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

func validate(cfg *Config) error {
	if cfg.Schedule.DailyHour < 0 || cfg.Schedule.DailyHour > 23 {
		return fmt.Errorf("schedule.daily_hour must be 0-23, got %d", cfg.Schedule.DailyHour)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("STEWARD_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("STEWARD_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("GITHUB_TOKEN"); raw != "" {
		cfg.GitHub.Token = raw
	}
	if raw := os.Getenv("GITHUB_ORG"); raw != "" {
		cfg.GitHub.Organization = raw
	}
	if raw := os.Getenv("GROQ_API_KEY"); raw != "" {
		cfg.LLM.APIKey = raw
	}
	if raw := os.Getenv("GROQ_MODEL"); raw != "" {
		cfg.LLM.Model = raw
	}
	if raw := os.Getenv("STEWARD_NUM_CONTRIBUTIONS"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Planner.NumContributions = v
		}
	}
	if raw := os.Getenv("STEWARD_DAILY_HOUR"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			cfg.Schedule.DailyHour = v
		}
	}
	if raw := os.Getenv("STEWARD_CRON_EXPR"); raw != "" {
		cfg.Schedule.CronExpr = raw
	}
	if raw := os.Getenv("STEWARD_DRY_RUN"); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Executor.DryRun = v
		}
	}
	if raw := os.Getenv("TELEGRAM_BOT_TOKEN"); raw != "" {
		cfg.Notify.Telegram.Token = raw
		cfg.Notify.Telegram.Enabled = true
	}
	if raw := os.Getenv("TELEGRAM_CHAT_ID"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.Notify.Telegram.ChatIDs = append(cfg.Notify.Telegram.ChatIDs, v)
		}
	}
	if raw := os.Getenv("DISCORD_WEBHOOK_URL"); raw != "" {
		cfg.Notify.Discord.WebhookURL = raw
		cfg.Notify.Discord.Enabled = true
	}
}
