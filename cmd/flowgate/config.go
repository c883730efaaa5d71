package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all flowgate server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	ListenAddr string `json:"listen_addr"`
	DBPath    string `json:"db_path"`
	RedisAddr string `json:"redis_addr"`
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	PoolSize  int    `json:"pool_size"`
	MockMode  bool   `json:"mock_mode"`

	GBPBaseURL      string `json:"gbp_base_url"`
	GBPToken        string `json:"gbp_token"`
	MetaBaseURL     string `json:"meta_base_url"`
	MetaToken       string `json:"meta_token"`
	LinkedInBaseURL string `json:"linkedin_base_url"`
	LinkedInToken   string `json:"linkedin_token"`
}

func defaultConfig() Config {
	return Config{
		ListenAddr: ":4700",
		DBPath:    filepath.Join(flowgateDir(), "flowgate.db"),
		LogLevel:  "info",
		LogFormat: "text",
		PoolSize:  10,
	}
}

func flowgateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".flowgate"
	}
	return filepath.Join(home, ".flowgate")
}

func settingsPath() string {
	return filepath.Join(flowgateDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("FLOWGATE_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("FLOWGATE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("FLOWGATE_REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("FLOWGATE_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("FLOWGATE_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("FLOWGATE_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("FLOWGATE_MOCK_MODE"); v != "" {
		cfg.MockMode = v == "true" || v == "1"
	}
	if v := os.Getenv("FLOWGATE_GBP_BASE_URL"); v != "" {
		cfg.GBPBaseURL = v
	}
	if v := os.Getenv("FLOWGATE_GBP_TOKEN"); v != "" {
		cfg.GBPToken = v
	}
	if v := os.Getenv("FLOWGATE_META_BASE_URL"); v != "" {
		cfg.MetaBaseURL = v
	}
	if v := os.Getenv("FLOWGATE_META_TOKEN"); v != "" {
		cfg.MetaToken = v
	}
	if v := os.Getenv("FLOWGATE_LINKEDIN_BASE_URL"); v != "" {
		cfg.LinkedInBaseURL = v
	}
	if v := os.Getenv("FLOWGATE_LINKEDIN_TOKEN"); v != "" {
		cfg.LinkedInToken = v
	}

	return cfg
}
