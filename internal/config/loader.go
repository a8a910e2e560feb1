package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the service settings.
type Config struct {
	ServerAddress   string
	BackendBaseURL  string
	RequestTimeout  time.Duration
	DefaultPageSize int
	ExportDirectory string
	ExportTimeout   time.Duration
	AllowedOrigins  []string
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		ServerAddress:   ":8080",
		BackendBaseURL:  "http://localhost:8000/api",
		RequestTimeout:  30 * time.Second,
		DefaultPageSize: 10,
		ExportDirectory: "",
		ExportTimeout:   5 * time.Minute,
		AllowedOrigins:  []string{"http://localhost:3000"},
	}
}

// Load reads config.yaml from configPath and applies APQP_* environment
// overrides (APQP_SERVER_ADDRESS, APQP_BACKEND_BASE_URL, ...). A missing
// config file is fine; defaults plus env vars apply.
func Load(configPath string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("APQP")

	v.BindEnv("server.address")
	v.BindEnv("backend.base_url")
	v.BindEnv("backend.request_timeout")
	v.BindEnv("history.page_size")
	v.BindEnv("export.directory")
	v.BindEnv("export.timeout")
	v.BindEnv("server.allowed_origins")

	if err := v.ReadInConfig(); err != nil {
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	if v.IsSet("server.address") {
		cfg.ServerAddress = v.GetString("server.address")
	}
	if v.IsSet("backend.base_url") {
		cfg.BackendBaseURL = v.GetString("backend.base_url")
	}
	if v.IsSet("backend.request_timeout") {
		cfg.RequestTimeout = v.GetDuration("backend.request_timeout")
	}
	if v.IsSet("history.page_size") {
		cfg.DefaultPageSize = v.GetInt("history.page_size")
	}
	if v.IsSet("export.directory") {
		cfg.ExportDirectory = v.GetString("export.directory")
	}
	if v.IsSet("export.timeout") {
		cfg.ExportTimeout = v.GetDuration("export.timeout")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	return cfg, nil
}
