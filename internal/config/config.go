package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Alarming   AlarmingConfig   `yaml:"alarming"`
	Feed       FeedConfig       `yaml:"feed"`
	Seeds      []SeedTarget     `yaml:"seeds"`
}

type ServerConfig struct {
	BindAddr string `yaml:"bindAddr"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MonitoringConfig drives the probe scheduler. Durations are strings such
// as "5m" or "10s".
type MonitoringConfig struct {
	Interval       string `yaml:"interval"`
	ProbeTimeout   string `yaml:"probeTimeout"`
	Workers        int    `yaml:"workers"`
	PublishRetries int    `yaml:"publishRetries"`
	PublishBackoff string `yaml:"publishBackoff"`
}

// AlarmingConfig holds the default alarm definition parameters applied to
// every enabled target.
type AlarmingConfig struct {
	Namespace             string  `yaml:"namespace"`
	DashboardName         string  `yaml:"dashboardName"`
	EvalWindow            string  `yaml:"evalWindow"`
	AvailabilityThreshold float64 `yaml:"availabilityThreshold"`
	AvailabilityPeriods   int     `yaml:"availabilityPeriods"`
	AvailabilityBreaches  int     `yaml:"availabilityBreaches"`
	AdaptivePeriods       int     `yaml:"adaptivePeriods"`
	AdaptiveBreaches      int     `yaml:"adaptiveBreaches"`
	DeviationFactor       float64 `yaml:"deviationFactor"`
}

type FeedConfig struct {
	Interval string `yaml:"interval"`
	Batch    int    `yaml:"batch"`
	Shards   int    `yaml:"shards"`
	Buffer   int    `yaml:"buffer"`
}

// SeedTarget is a target created at startup when no target with the same
// name exists yet.
type SeedTarget struct {
	Name    string `yaml:"name"`
	URL     string `yaml:"url"`
	Enabled *bool  `yaml:"enabled"`
}

func Load() (*Config, error) {
	configFile := flag.String("f", "", "Path to configuration file")
	flag.Parse()
	return load(*configFile)
}

func load(configFile string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			BindAddr: getEnv("SERVER_BIND_ADDR", "0.0.0.0:8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			DBName:   getEnv("DB_NAME", "webcanary"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Monitoring: MonitoringConfig{
			Interval:       getEnv("MONITOR_INTERVAL", "5m"),
			ProbeTimeout:   getEnv("MONITOR_PROBE_TIMEOUT", "10s"),
			Workers:        getEnvInt("MONITOR_WORKERS", 8),
			PublishRetries: getEnvInt("MONITOR_PUBLISH_RETRIES", 3),
			PublishBackoff: getEnv("MONITOR_PUBLISH_BACKOFF", "2s"),
		},
		Alarming: AlarmingConfig{
			Namespace:             getEnv("ALARM_NAMESPACE", "WebMonitoring/Health"),
			DashboardName:         getEnv("ALARM_DASHBOARD_NAME", "WebMonitoringDashboard"),
			EvalWindow:            getEnv("ALARM_EVAL_WINDOW", "5m"),
			AvailabilityThreshold: 1.0,
			AvailabilityPeriods:   getEnvInt("ALARM_AVAILABILITY_PERIODS", 2),
			AvailabilityBreaches:  getEnvInt("ALARM_AVAILABILITY_BREACHES", 2),
			AdaptivePeriods:       getEnvInt("ALARM_ADAPTIVE_PERIODS", 3),
			AdaptiveBreaches:      getEnvInt("ALARM_ADAPTIVE_BREACHES", 2),
			DeviationFactor:       2,
		},
		Feed: FeedConfig{
			Interval: getEnv("FEED_POLL_INTERVAL", "5s"),
			Batch:    getEnvInt("FEED_POLL_BATCH", 200),
			Shards:   getEnvInt("FEED_SHARDS", 4),
			Buffer:   getEnvInt("FEED_SHARD_BUFFER", 64),
		},
	}

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, err
		}
	}

	// fill reasonable defaults when fields omitted in file
	if cfg.Server.BindAddr == "" {
		cfg.Server.BindAddr = "0.0.0.0:8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Monitoring.Interval == "" {
		cfg.Monitoring.Interval = "5m"
	}
	if cfg.Monitoring.ProbeTimeout == "" {
		cfg.Monitoring.ProbeTimeout = "10s"
	}
	if cfg.Monitoring.Workers <= 0 {
		cfg.Monitoring.Workers = 8
	}
	if cfg.Monitoring.PublishRetries <= 0 {
		cfg.Monitoring.PublishRetries = 3
	}
	if cfg.Alarming.Namespace == "" {
		cfg.Alarming.Namespace = "WebMonitoring/Health"
	}
	if cfg.Alarming.AvailabilityThreshold <= 0 {
		cfg.Alarming.AvailabilityThreshold = 1.0
	}
	if cfg.Alarming.DeviationFactor <= 0 {
		cfg.Alarming.DeviationFactor = 2
	}
	if cfg.Feed.Batch <= 0 {
		cfg.Feed.Batch = 200
	}
	if cfg.Feed.Shards <= 0 {
		cfg.Feed.Shards = 4
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", filePath, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", filePath, err)
	}
	return nil
}

// Duration parses s, falling back to d when s is empty or malformed.
func Duration(s string, d time.Duration) time.Duration {
	if s == "" {
		return d
	}
	if v, err := time.ParseDuration(s); err == nil {
		return v
	}
	return d
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
