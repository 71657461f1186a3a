// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"

	"intouch/internal/featureflags"

	"github.com/spf13/viper"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	JWTSecret                     string  `mapstructure:"JWT_SECRET"`
	JWTAccessTTLMinutes           int     `mapstructure:"JWT_ACCESS_TTL_MINUTES"`
	JWTRefreshTTLHours            int     `mapstructure:"JWT_REFRESH_TTL_HOURS"`
	Port                          string  `mapstructure:"PORT"`
	DBHost                        string  `mapstructure:"DB_HOST"`
	DBPort                        string  `mapstructure:"DB_PORT"`
	DBUser                        string  `mapstructure:"DB_USER"`
	DBPassword                    string  `mapstructure:"DB_PASSWORD"`
	DBName                        string  `mapstructure:"DB_NAME"`
	DBSSLMode                     string  `mapstructure:"DB_SSLMODE"`
	DBMaxOpenConns                int     `mapstructure:"DB_MAX_OPEN_CONNS"`
	DBMaxIdleConns                int     `mapstructure:"DB_MAX_IDLE_CONNS"`
	DBConnMaxLifetimeMin          int     `mapstructure:"DB_CONN_MAX_LIFETIME_MINUTES"`
	DBSchemaMode                  string  `mapstructure:"DB_SCHEMA_MODE"`
	DBAutoMigrateAllowDestructive bool    `mapstructure:"DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE"`
	RedisURL                      string  `mapstructure:"REDIS_URL"`
	AllowedOrigins                string  `mapstructure:"ALLOWED_ORIGINS"`
	FeatureFlags                  string  `mapstructure:"FEATURE_FLAGS"`
	Env                           string  `mapstructure:"APP_ENV"`
	RequireEmailConfirmed         bool    `mapstructure:"REQUIRE_EMAIL_CONFIRMATION"`
	BlobEndpoint                  string  `mapstructure:"BLOB_ENDPOINT"`
	BlobRegion                    string  `mapstructure:"BLOB_REGION"`
	BlobBucket                    string  `mapstructure:"BLOB_BUCKET"`
	BlobAccessKeyID               string  `mapstructure:"BLOB_ACCESS_KEY_ID"`
	BlobSecretAccessKey           string  `mapstructure:"BLOB_SECRET_ACCESS_KEY"`
	BlobUsePathStyle              bool    `mapstructure:"BLOB_USE_PATH_STYLE"`
	PublicBaseURL                 string  `mapstructure:"PUBLIC_BASE_URL"`
	AvatarURLPrefix               string  `mapstructure:"AVATAR_URL_PREFIX"`
	FilesURLPrefix                string  `mapstructure:"FILES_URL_PREFIX"`
	AvatarMaxUploadSizeMB         int     `mapstructure:"AVATAR_MAX_UPLOAD_MB"`
	FileMaxUploadSizeMB           int     `mapstructure:"FILE_MAX_UPLOAD_MB"`
	WSMessagesPerSecond           int     `mapstructure:"WS_MESSAGES_PER_SECOND"`
	TracingEnabled                bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter               string  `mapstructure:"TRACING_EXPORTER"`
	TracingEndpoint               string  `mapstructure:"TRACING_ENDPOINT"`
	TracingSamplerRatio           float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base file is optional; environment variables alone are enough.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" && env != "test" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
		}
		log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "intouch")
	viper.SetDefault("DB_SSLMODE", "disable")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME_MINUTES", 5)
	viper.SetDefault("DB_SCHEMA_MODE", "hybrid")
	viper.SetDefault("DB_AUTOMIGRATE_ALLOW_DESTRUCTIVE", false)
	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("JWT_SECRET", defaultJWTSecret)
	viper.SetDefault("JWT_ACCESS_TTL_MINUTES", 60)
	viper.SetDefault("JWT_REFRESH_TTL_HOURS", 24*14)
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")
	viper.SetDefault("FEATURE_FLAGS", "typing_indicators=on,membership_notices=on")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("REQUIRE_EMAIL_CONFIRMATION", false)
	viper.SetDefault("BLOB_ENDPOINT", "http://localhost:9000")
	viper.SetDefault("BLOB_REGION", "auto")
	viper.SetDefault("BLOB_BUCKET", "intouch")
	viper.SetDefault("BLOB_ACCESS_KEY_ID", "")
	viper.SetDefault("BLOB_SECRET_ACCESS_KEY", "")
	viper.SetDefault("BLOB_USE_PATH_STYLE", true)
	viper.SetDefault("PUBLIC_BASE_URL", "http://localhost:8375")
	viper.SetDefault("AVATAR_URL_PREFIX", "http://localhost:9000/intouch/")
	viper.SetDefault("FILES_URL_PREFIX", "http://localhost:9000/intouch/")
	viper.SetDefault("AVATAR_MAX_UPLOAD_MB", 5)
	viper.SetDefault("FILE_MAX_UPLOAD_MB", 10)
	viper.SetDefault("WS_MESSAGES_PER_SECOND", 5)
	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("TRACING_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)
}

func (c *Config) normalize() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	c.DBSSLMode = strings.ToLower(strings.TrimSpace(c.DBSSLMode))
	c.DBSchemaMode = strings.ToLower(strings.TrimSpace(c.DBSchemaMode))
	c.TracingExporter = strings.ToLower(strings.TrimSpace(c.TracingExporter))
	c.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.PublicBaseURL), "/")
}

// IsProduction reports whether the service runs with production strictness.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Validate ensures that required configuration values are present and meet security standards.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	if c.AvatarMaxUploadSizeMB <= 0 || c.FileMaxUploadSizeMB <= 0 {
		return errors.New("upload size limits must be positive")
	}
	if c.JWTAccessTTLMinutes < 0 || c.JWTRefreshTTLHours < 0 {
		return errors.New("token lifetimes must not be negative")
	}
	if _, err := featureflags.Parse(c.FeatureFlags); err != nil {
		return err
	}
	if c.PublicBaseURL != "" {
		u, err := url.Parse(c.PublicBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("PUBLIC_BASE_URL %q must be an absolute http(s) URL", c.PublicBaseURL)
		}
	}
	switch c.DBSchemaMode {
	case "", "hybrid", "sql", "auto":
	default:
		return fmt.Errorf("DB_SCHEMA_MODE %q is not one of hybrid, sql, auto", c.DBSchemaMode)
	}

	if c.IsProduction() {
		if c.JWTSecret == defaultJWTSecret {
			return errors.New("JWT_SECRET must be changed from the default value in production")
		}
		if len(c.JWTSecret) < 32 {
			return errors.New("JWT_SECRET must be at least 32 characters in production")
		}
		if c.DBPassword == "password" || c.DBPassword == "" {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.DBSSLMode == "disable" || c.DBSSLMode == "" {
			return errors.New("DB_SSLMODE must enable TLS in production")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
	} else if len(c.JWTSecret) < 32 {
		log.Println("WARNING: JWT_SECRET is shorter than 32 characters. Consider using a stronger secret for production.")
	}

	return nil
}
