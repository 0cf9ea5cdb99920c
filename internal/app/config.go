package app

import (
	"errors"
	"fmt"

	"github.com/vk/buildgrid/internal/buildconfig"
)

// Config holds everything an App instance needs to run.
type Config struct {
	// BuildPath is the workspace root containing BUILD.hcl files.
	BuildPath string
	// RulesPath is the directory of rule-class manifests.
	RulesPath string
	// ConfigPath optionally names an HCL file declaring configuration
	// fragments. Empty means an empty configuration.
	ConfigPath string
	// Targets are the labels whose results get reported. Empty means all.
	Targets []string

	AllowAnalysisFailures bool
	FragmentMode          buildconfig.FragmentMode

	LogFormat   string
	LogLevel    string
	WorkerCount int
}

// NewConfig validates a Config.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.BuildPath == "" {
		return nil, errors.New("BuildPath is a required configuration field and cannot be empty")
	}
	if cfg.RulesPath == "" {
		return nil, errors.New("RulesPath is a required configuration field and cannot be empty")
	}
	if cfg.WorkerCount < 1 {
		return nil, fmt.Errorf("WorkerCount must be at least 1, got %d", cfg.WorkerCount)
	}
	return &cfg, nil
}
