/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the payout-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                   string  `mapstructure:"SERVER_PORT"`
	DatabaseURL                  string  `mapstructure:"DATABASE_URL"`
	RedisURL                     string  `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix         string  `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL                  string  `mapstructure:"RABBITMQ_URL"`
	PayoutEventExchange          string  `mapstructure:"PAYOUT_EVENT_EXCHANGE"`
	RailAPIBaseURL               string  `mapstructure:"RAIL_API_BASE_URL"`
	RailAPIKey                   string  `mapstructure:"RAIL_API_KEY"`
	AdminJWKSURL                 string  `mapstructure:"ADMIN_JWKS_URL"`
	InternalAPIKey               string  `mapstructure:"INTERNAL_API_KEY"`
	OnboardingReturnURL          string  `mapstructure:"ONBOARDING_RETURN_URL"`
	OnboardingRefreshURL         string  `mapstructure:"ONBOARDING_REFRESH_URL"`
	MarginFloorPercent           float64 `mapstructure:"MARGIN_FLOOR_PERCENT"`
	MarginFloorByRegion          string  `mapstructure:"MARGIN_FLOOR_BY_REGION"`
	MaxCompoundedMultiplier      float64 `mapstructure:"MAX_COMPOUNDED_MULTIPLIER"`
	PayoutRetryRateLimitPerMin   int     `mapstructure:"PAYOUT_RETRY_RATE_LIMIT_PER_MINUTE"`
	ShareNormalizationEpsilonPct float64 `mapstructure:"SHARE_NORMALIZATION_EPSILON_PERCENT"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8086")
	viper.SetDefault("PAYOUT_EVENT_EXCHANGE", "harvesttable.events")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "harvesttable:rate_limit")
	viper.SetDefault("MARGIN_FLOOR_PERCENT", 10.0)
	viper.SetDefault("MAX_COMPOUNDED_MULTIPLIER", 3.0)
	viper.SetDefault("PAYOUT_RETRY_RATE_LIMIT_PER_MINUTE", 10)
	viper.SetDefault("SHARE_NORMALIZATION_EPSILON_PERCENT", 0.01)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "PAYOUT_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PAYOUT_EVENT_EXCHANGE")
	_ = viper.BindEnv("RAIL_API_BASE_URL")
	_ = viper.BindEnv("RAIL_API_KEY")
	_ = viper.BindEnv("ADMIN_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PAYOUT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("ONBOARDING_RETURN_URL")
	_ = viper.BindEnv("ONBOARDING_REFRESH_URL")
	_ = viper.BindEnv("MARGIN_FLOOR_PERCENT")
	_ = viper.BindEnv("MARGIN_FLOOR_BY_REGION")
	_ = viper.BindEnv("MAX_COMPOUNDED_MULTIPLIER")
	_ = viper.BindEnv("PAYOUT_RETRY_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("SHARE_NORMALIZATION_EPSILON_PERCENT")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("PAYOUT_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "harvesttable:rate_limit"
	}

	if config.MarginFloorPercent < 0 {
		log.Printf("level=warn component=config msg=\"negative margin floor configured; coercing to zero\" floor_percent=%f", config.MarginFloorPercent)
		config.MarginFloorPercent = 0
	}
	if config.MarginFloorPercent > 100 {
		log.Printf("level=warn component=config msg=\"margin floor too high; capping at 100\" floor_percent=%f", config.MarginFloorPercent)
		config.MarginFloorPercent = 100
	}
	if config.MaxCompoundedMultiplier <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive multiplier cap configured; using default\" cap=%f", config.MaxCompoundedMultiplier)
		config.MaxCompoundedMultiplier = 3.0
	}
	if config.PayoutRetryRateLimitPerMin < 0 {
		config.PayoutRetryRateLimitPerMin = 0
	}
	if config.ShareNormalizationEpsilonPct <= 0 {
		config.ShareNormalizationEpsilonPct = 0.01
	}

	return
}

// ParseRegionFloors parses the MARGIN_FLOOR_BY_REGION value, a comma-separated
// list of REGION=PERCENT pairs (e.g. "US=10,EU=12.5"). Malformed pairs are
// logged and skipped rather than failing startup.
func ParseRegionFloors(raw string) map[string]float64 {
	floors := make(map[string]float64)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			log.Printf("level=warn component=config msg=\"invalid region floor pair; skipping\" pair=%q", pair)
			continue
		}
		region := strings.ToUpper(strings.TrimSpace(parts[0]))
		value, parseErr := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if region == "" || parseErr != nil {
			log.Printf("level=warn component=config msg=\"invalid region floor pair; skipping\" pair=%q err=%v", pair, parseErr)
			continue
		}
		if value < 0 || value > 100 {
			log.Printf("level=warn component=config msg=\"region floor out of range; skipping\" region=%s floor_percent=%f", region, value)
			continue
		}
		floors[region] = value
	}
	return floors
}
