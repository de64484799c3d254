package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Environment string            `mapstructure:"environment"`
	LogLevel    string            `mapstructure:"log_level"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Aggregation AggregationConfig `mapstructure:"aggregation"`
	Forecast    ForecastConfig    `mapstructure:"forecast"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	DBName       string `mapstructure:"dbname"`
	SSLMode      string `mapstructure:"sslmode"`
	DatabaseURL  string `mapstructure:"database_url"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AggregationConfig carries the aggregation policy knobs. TrendThreshold is
// the relative change in average price beyond which a period is classified
// rising or falling instead of stable.
type AggregationConfig struct {
	TrendThreshold float64 `mapstructure:"trend_threshold"`
	// MaxParallelKeys caps how many vegetables/regions are aggregated
	// concurrently in a batch run. Keys are disjoint, so runs never
	// contend on the same natural key.
	MaxParallelKeys int `mapstructure:"max_parallel_keys"`
}

// ForecastConfig carries prediction policy knobs.
type ForecastConfig struct {
	// ConfidenceMultiplier is k in the prediction's point ± k·RMSE band.
	ConfidenceMultiplier float64 `mapstructure:"confidence_multiplier"`
	// DefaultRegion names the region whose weather aggregates feed
	// weather-sourced features when a request does not name one.
	DefaultRegion string `mapstructure:"default_region"`
	// CacheTTL is how long prediction results stay cached, e.g. "10m".
	CacheTTL string `mapstructure:"cache_ttl"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	setDefaults()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found, use defaults and environment variables
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	config.Environment = strings.ToLower(config.Environment)

	if config.Aggregation.TrendThreshold <= 0 || config.Aggregation.TrendThreshold >= 1 {
		return nil, fmt.Errorf("aggregation trend_threshold must be in (0, 1), got %f",
			config.Aggregation.TrendThreshold)
	}
	if config.Aggregation.MaxParallelKeys < 1 {
		return nil, fmt.Errorf("aggregation max_parallel_keys must be at least 1, got %d",
			config.Aggregation.MaxParallelKeys)
	}
	if config.Forecast.ConfidenceMultiplier <= 0 {
		return nil, fmt.Errorf("forecast confidence_multiplier must be positive, got %f",
			config.Forecast.ConfidenceMultiplier)
	}

	return &config, nil
}

func setDefaults() {
	// Environment
	viper.SetDefault("environment", "development")
	viper.SetDefault("log_level", "info")

	// Server
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "veggiecast")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.database_url", "")
	viper.SetDefault("database.max_open_conns", 25)

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Aggregation
	viper.SetDefault("aggregation.trend_threshold", 0.05)
	viper.SetDefault("aggregation.max_parallel_keys", 4)

	// Forecast
	viper.SetDefault("forecast.confidence_multiplier", 2.0)
	viper.SetDefault("forecast.default_region", "hiroshima")
	viper.SetDefault("forecast.cache_ttl", "10m")
}
