package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/viper"

	"github.com/rowanlabs/rowan/internal/config"
)

// loadConfig merges defaults, the optional config file, and environment
// overrides. A missing config file is fine; a malformed one is not.
func loadConfig() (config.Config, error) {
	cfg := config.Default()

	err := viper.ReadInConfig()
	switch {
	case err == nil:
		if err := config.ValidateSettings(viper.AllSettings()); err != nil {
			return config.Config{}, err
		}
		if err := viper.Unmarshal(&cfg); err != nil {
			return config.Config{}, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) || os.IsNotExist(err):
		// Defaults plus env only.
	default:
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config.Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Finish(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
