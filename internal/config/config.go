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
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the transfer-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort             string `mapstructure:"SERVER_PORT"`
	DatabaseURL            string `mapstructure:"DATABASE_URL"`
	RedisURL               string `mapstructure:"REDIS_URL"`
	RedisIdempotencyPrefix string `mapstructure:"REDIS_IDEMPOTENCY_PREFIX"`
	RabbitMQURL            string `mapstructure:"RABBITMQ_URL"`
	JWTSecret              string `mapstructure:"JWT_SECRET"`
	InternalAPIKey         string `mapstructure:"INTERNAL_API_KEY"`
	WebhookEndpointURL     string `mapstructure:"WEBHOOK_ENDPOINT_URL"`
	WebhookSecret          string `mapstructure:"WEBHOOK_SECRET"`
	ProfileServiceURL      string `mapstructure:"PROFILE_SERVICE_URL"`
	DefaultCurrency        string `mapstructure:"DEFAULT_CURRENCY"`
	MaxTransferAmountCents int64  `mapstructure:"MAX_TRANSFER_AMOUNT_CENTS"`
	TransferExpirySchedule string `mapstructure:"TRANSFER_EXPIRY_SCHEDULE"`
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
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_IDEMPOTENCY_PREFIX", "interpay:settlement_idem")
	viper.SetDefault("DEFAULT_CURRENCY", "CAD")
	viper.SetDefault("MAX_TRANSFER_AMOUNT_CENTS", 1000000)
	viper.SetDefault("TRANSFER_EXPIRY_SCHEDULE", "*/5 * * * *")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "TRANSFER_REDIS_URL")
	_ = viper.BindEnv("REDIS_IDEMPOTENCY_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "TRANSFER_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("WEBHOOK_ENDPOINT_URL")
	_ = viper.BindEnv("WEBHOOK_SECRET")
	_ = viper.BindEnv("PROFILE_SERVICE_URL")
	_ = viper.BindEnv("DEFAULT_CURRENCY")
	_ = viper.BindEnv("MAX_TRANSFER_AMOUNT_CENTS")
	_ = viper.BindEnv("MAX_TRANSFER_AMOUNT")
	_ = viper.BindEnv("TRANSFER_EXPIRY_SCHEDULE")

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
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("TRANSFER_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisIdempotencyPrefix = strings.TrimSpace(config.RedisIdempotencyPrefix)
	if config.RedisIdempotencyPrefix == "" {
		config.RedisIdempotencyPrefix = "interpay:settlement_idem"
	}
	config.DefaultCurrency = strings.ToUpper(strings.TrimSpace(config.DefaultCurrency))
	if config.DefaultCurrency == "" {
		config.DefaultCurrency = "CAD"
	}

	// Allow specifying the limit in whole currency units via MAX_TRANSFER_AMOUNT.
	if viper.IsSet("MAX_TRANSFER_AMOUNT") {
		amountStr := strings.TrimSpace(viper.GetString("MAX_TRANSFER_AMOUNT"))
		if amountStr != "" {
			amountValue, parseErr := strconv.ParseFloat(amountStr, 64)
			if parseErr != nil {
				log.Printf("level=warn component=config msg=\"invalid MAX_TRANSFER_AMOUNT\" value=%q err=%v", amountStr, parseErr)
			} else {
				config.MaxTransferAmountCents = int64(math.Round(amountValue * 100))
			}
		}
	}

	if config.MaxTransferAmountCents <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive transfer limit configured; using default\" limit_cents=%d", config.MaxTransferAmountCents)
		config.MaxTransferAmountCents = 1000000
	}

	return
}
