package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Backup       BackupConfig       `yaml:"backup"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Logging      LoggingConfig      `yaml:"logging"`
	Auth         AuthConfig         `yaml:"auth"`
	Worker       WorkerConfig       `yaml:"worker"`
	Integrations IntegrationsConfig `yaml:"integrations"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
	// PublicBaseURL is used to build OAuth redirect URIs and is the base
	// the queue consumer reads vehicle state from.
	PublicBaseURL string `yaml:"public_base_url"`
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

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
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

type AuthConfig struct {
	Enabled      bool        `yaml:"enabled"`
	HeaderAPIKey string      `yaml:"header_api_key"`
	APIKeys      []ClientKey `yaml:"api_keys"`
	RateLimit    RateLimit   `yaml:"rate_limit"`
}

type ClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type RateLimit struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type WorkerConfig struct {
	MaxRetries      int     `yaml:"max_retries"`
	InitialDelaySec int     `yaml:"initial_delay_sec"`
	MaxDelaySec     int     `yaml:"max_delay_sec"`
	BackoffFactor   float64 `yaml:"backoff_factor"`
	BatchSize       int     `yaml:"batch_size"`
	PollIntervalSec int     `yaml:"poll_interval_sec"`
}

type IntegrationsConfig struct {
	DMS        DMSConfig        `yaml:"dms"`
	Accounting AccountingConfig `yaml:"accounting"`
	Listings   ListingsConfig   `yaml:"listings"`
}

type DMSConfig struct {
	APIURL string `yaml:"api_url"`
	APIKey string `yaml:"api_key"`
}

type AccountingConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RealmID      string `yaml:"realm_id"`
	AuthURL      string `yaml:"auth_url"`
	TokenURL     string `yaml:"token_url"`
	APIURL       string `yaml:"api_url"`
}

type ListingsConfig struct {
	CarGurusAPIKey  string `yaml:"cargurus_api_key"`
	CarGurusAPIURL  string `yaml:"cargurus_api_url"`
	TrueCarDealerID string `yaml:"truecar_dealer_id"`
	TrueCarAPIURL   string `yaml:"truecar_api_url"`
	KBBDealerID     string `yaml:"kbb_dealer_id"`
	KBBAPIURL       string `yaml:"kbb_api_url"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
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
	if c.Integrations.Accounting.ClientID != "" && c.Integrations.Accounting.ClientSecret == "" {
		return errors.New("accounting client_secret is required when client_id is set")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.PublicBaseURL == "" {
		c.Server.PublicBaseURL = fmt.Sprintf("http://localhost:%d", c.Server.Port)
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Auth.HeaderAPIKey == "" {
		c.Auth.HeaderAPIKey = "x-api-key"
	}

	// Worker defaults
	if c.Worker.MaxRetries == 0 {
		c.Worker.MaxRetries = 5
	}
	if c.Worker.InitialDelaySec == 0 {
		c.Worker.InitialDelaySec = 2
	}
	if c.Worker.MaxDelaySec == 0 {
		c.Worker.MaxDelaySec = 60
	}
	if c.Worker.BackoffFactor == 0 {
		c.Worker.BackoffFactor = 2
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 20
	}
	if c.Worker.PollIntervalSec == 0 {
		c.Worker.PollIntervalSec = 2
	}

	// Accounting provider endpoints (QuickBooks-shaped defaults)
	acct := &c.Integrations.Accounting
	if acct.AuthURL == "" {
		acct.AuthURL = "https://appcenter.intuit.com/connect/oauth2"
	}
	if acct.TokenURL == "" {
		acct.TokenURL = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	}
	if acct.APIURL == "" {
		acct.APIURL = "https://quickbooks.api.intuit.com/v3"
	}
}
