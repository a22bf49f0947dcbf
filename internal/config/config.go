package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	Server    ServerConfig
	MongoDB   MongoDBConfig
	Redis     RedisConfig
	RedCap    RedCapConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port         string
	Host         string
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type MongoDBConfig struct {
	URI      string
	Database string
	Timeout  time.Duration
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// RedCapConfig describes how to reach the REDCap API. Project tokens live in a
// separate credentials file (one INI section per project) so they stay out of
// the environment and out of logs.
type RedCapConfig struct {
	URL               string
	CredentialsFile   string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

type RateLimitConfig struct {
	Enabled       bool
	UseRedis      bool
	RPS           float64
	Burst         int
	WindowSeconds int
}

// LoadConfig loads configuration from environment variables and .env file
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env")

	viper.AutomaticEnv()

	viper.SetDefault("SERVER_PORT", "5020")
	viper.SetDefault("SERVER_HOST", "0.0.0.0")
	viper.SetDefault("SERVER_ENVIRONMENT", "development")
	viper.SetDefault("MONGODB_TIMEOUT", 10)
	viper.SetDefault("REDCAP_URL", "https://redcap.research.cchmc.org/api/")
	viper.SetDefault("REDCAP_RPS", 5)
	viper.SetDefault("REDCAP_BURST", 10)
	viper.SetDefault("REDCAP_TIMEOUT", 120)
	viper.SetDefault("RATE_LIMIT_ENABLED", true)
	viper.SetDefault("RATE_LIMIT_RPS", 1)
	viper.SetDefault("RATE_LIMIT_BURST", 2)
	viper.SetDefault("RATE_LIMIT_WINDOW_SECONDS", 60)

	cfg := &Config{
		Server: ServerConfig{
			Port:         viper.GetString("SERVER_PORT"),
			Host:         viper.GetString("SERVER_HOST"),
			Environment:  viper.GetString("SERVER_ENVIRONMENT"),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		MongoDB: MongoDBConfig{
			URI:      viper.GetString("MONGODB_URI"),
			Database: viper.GetString("MONGODB_DATABASE"),
			Timeout:  time.Duration(viper.GetInt("MONGODB_TIMEOUT")) * time.Second,
		},
		Redis: RedisConfig{
			Host:     viper.GetString("REDIS_HOST"),
			Port:     viper.GetString("REDIS_PORT"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       0,
		},
		RedCap: RedCapConfig{
			URL:               viper.GetString("REDCAP_URL"),
			CredentialsFile:   viper.GetString("REDCAP_CREDENTIALS"),
			RequestsPerSecond: viper.GetFloat64("REDCAP_RPS"),
			Burst:             viper.GetInt("REDCAP_BURST"),
			Timeout:           time.Duration(viper.GetInt("REDCAP_TIMEOUT")) * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:       viper.GetBool("RATE_LIMIT_ENABLED"),
			UseRedis:      viper.GetBool("RATE_LIMIT_USE_REDIS"),
			RPS:           viper.GetFloat64("RATE_LIMIT_RPS"),
			Burst:         viper.GetInt("RATE_LIMIT_BURST"),
			WindowSeconds: viper.GetInt("RATE_LIMIT_WINDOW_SECONDS"),
		},
	}

	if cfg.RedCap.CredentialsFile == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			cfg.RedCap.CredentialsFile = filepath.Join(home, ".redcap.cfg")
		}
	}

	return cfg, nil
}

// ProjectTokens reads the INI credentials file and returns project name -> API
// token. File format, one section per project:
//
//	[CAPTIVA DC]
//	token = XXXX
func ProjectTokens(path string) (map[string]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read credentials %s: %w", path, err)
	}

	tokens := make(map[string]string)
	for section, raw := range v.AllSettings() {
		m, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		if tok, ok := m["token"].(string); ok && tok != "" {
			tokens[section] = tok
		}
	}
	return tokens, nil
}
