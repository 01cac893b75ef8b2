package main

import (
	"time"

	"ragchat/internal/config"
	"ragchat/internal/observability"
)

const shutdownTimeout = 10 * time.Second

// loadConfig mirrors the teacher's startup sequence: load env, init
// logging, then validate.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
