package config

import (
	"errors"
	"fmt"
	"os"

	"carebook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Scheduling    SchedulingConfig    `yaml:"scheduling"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Reminders     RemindersConfig     `yaml:"reminders"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
	API           APIConfig           `yaml:"api"`
	Centers       []*models.Center    `yaml:"centers"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// SchedulingConfig configures the external scheduling provider. Leaving
// base_url empty disables the integration entirely; bookings then carry
// no external ref.
type SchedulingConfig struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	WebhookSecret  string `yaml:"webhook_secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type NotificationsConfig struct {
	MaxAttempts         int `yaml:"max_attempts"`
	RetryDelaySeconds   int `yaml:"retry_delay_seconds"`
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

type RemindersConfig struct {
	Hour     int `yaml:"hour"`
	LeadDays int `yaml:"lead_days"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

// APIAuthConfig configures API-key auth. Auth is not optional: every
// /api/v1 request must present a known key.
type APIAuthConfig struct {
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional outside local development.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Expand ${ENV} references before parsing.
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	if c.Scheduling.BaseURL != "" && c.Scheduling.WebhookSecret == "" {
		return errors.New("scheduling.webhook_secret is required when a provider is configured")
	}

	if c.API.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api.auth.api_keys must not be empty when the API is enabled")
	}

	return ValidateCenters(c.Centers)
}

func ValidateCenters(centers []*models.Center) error {
	centerIDs := make(map[int64]bool)
	for _, center := range centers {
		if center.ID == 0 {
			return fmt.Errorf("center '%s' has invalid ID 0", center.Name)
		}
		if centerIDs[center.ID] {
			return fmt.Errorf("duplicate center ID found: %d", center.ID)
		}
		centerIDs[center.ID] = true

		serviceIDs := make(map[int64]bool)
		for _, svc := range center.Services {
			if svc.ID == 0 {
				return fmt.Errorf("service '%s' at center %d has invalid ID 0", svc.Name, center.ID)
			}
			if serviceIDs[svc.ID] {
				return fmt.Errorf("duplicate service ID %d at center %d", svc.ID, center.ID)
			}
			serviceIDs[svc.ID] = true
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Scheduling.TimeoutSeconds == 0 {
		c.Scheduling.TimeoutSeconds = 10
	}

	if c.Notifications.MaxAttempts == 0 {
		c.Notifications.MaxAttempts = models.NotificationMaxAttempts
	}
	if c.Notifications.RetryDelaySeconds == 0 {
		c.Notifications.RetryDelaySeconds = 30
	}
	if c.Notifications.PollIntervalSeconds == 0 {
		c.Notifications.PollIntervalSeconds = 2
	}

	if c.Reminders.Hour == 0 {
		c.Reminders.Hour = models.ReminderHour
	}
	if c.Reminders.LeadDays == 0 {
		c.Reminders.LeadDays = models.ReminderLeadDays
	}
}
