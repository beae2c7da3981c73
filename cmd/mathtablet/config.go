// Copyright (C) 2019-2026 Public Invention
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/davidjeschke/math-tablet/pkg/logging"
	"github.com/davidjeschke/math-tablet/services/notebook/handwriting"
)

// Config is the server configuration, loaded from a YAML file.
type Config struct {
	Port  int  `yaml:"port" validate:"required,min=1,max=65535"`
	Debug bool `yaml:"debug"`

	// Store selects the persistence backend.
	Store   string `yaml:"store" validate:"required,oneof=badger folder"`
	DataDir string `yaml:"dataDir" validate:"required"`

	LogDir   string `yaml:"logDir"`
	LogLevel string `yaml:"logLevel" validate:"omitempty,oneof=debug info warn error"`
	LogJSON  bool   `yaml:"logJson"`

	// IterationBudget bounds the observer dispatch loop per change batch.
	// Zero uses the server default.
	IterationBudget int `yaml:"iterationBudget" validate:"omitempty,min=1"`

	// MyScript enables handwriting recognition when credentials are set.
	MyScript *handwriting.Keys `yaml:"myscript,omitempty"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() Config {
	return Config{
		Port:     8080,
		Store:    "folder",
		DataDir:  "~/.math-tablet/notebooks",
		LogDir:   "~/.math-tablet/logs",
		LogLevel: "info",
	}
}

// loadConfig reads and validates the config file, creating a default one on
// first run when the default path is used.
func loadConfig(path string) (Config, error) {
	defaulted := path == ""
	if defaulted {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("could not find the user's home directory: %w", err)
		}
		path = filepath.Join(home, ".math-tablet", "config.yaml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Printf("First run detected, creating the config at %s\n", path)
			if err := createDefault(path); err != nil {
				return Config{}, err
			}
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse the config file: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.LogDir = expandHome(cfg.LogDir)
	return cfg, nil
}

func createDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}
