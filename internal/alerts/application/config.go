package application

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	alerts "facade-monitor/internal/alerts/domain"
)

// SweepConfig defines sweep cadences and detection parameters.
type SweepConfig struct {
	AnomalyInterval     time.Duration `yaml:"anomaly_interval"`
	InactivityInterval  time.Duration `yaml:"inactivity_interval"`
	RetentionInterval   time.Duration `yaml:"retention_interval"`
	CheckTimeout        time.Duration `yaml:"check_timeout"`
	DetectionWindow     time.Duration `yaml:"detection_window"`
	InactivityThreshold time.Duration `yaml:"inactivity_threshold"`
	Retention           time.Duration `yaml:"retention"`
}

// ThresholdFile is the YAML layout of a threshold override file.
type ThresholdFile struct {
	Sensors  map[string]alerts.ThresholdRule `yaml:"sensors"`
	Schedule SweepConfig                     `yaml:"schedule"`
}

// DefaultSweepConfig returns the deployed cadences.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		AnomalyInterval:     DefaultAnomalyInterval,
		InactivityInterval:  DefaultInactivityInterval,
		RetentionInterval:   DefaultRetentionInterval,
		CheckTimeout:        30 * time.Second,
		DetectionWindow:     DefaultDetectionWindow,
		InactivityThreshold: alerts.DefaultInactivityThreshold,
		Retention:           alerts.DefaultRetention,
	}
}

// LoadSweepConfig builds the sweep configuration from env, then applies the
// schedule section of the threshold file at path when one is given.
func LoadSweepConfig(path string) (SweepConfig, alerts.ThresholdTable, error) {
	cfg := DefaultSweepConfig()
	cfg.AnomalyInterval = getenvDuration("SWEEP_ANOMALY_INTERVAL", cfg.AnomalyInterval)
	cfg.InactivityInterval = getenvDuration("SWEEP_INACTIVITY_INTERVAL", cfg.InactivityInterval)
	cfg.RetentionInterval = getenvDuration("SWEEP_RETENTION_INTERVAL", cfg.RetentionInterval)
	cfg.CheckTimeout = getenvDuration("SWEEP_CHECK_TIMEOUT", cfg.CheckTimeout)
	cfg.DetectionWindow = getenvDuration("SWEEP_DETECTION_WINDOW", cfg.DetectionWindow)
	cfg.InactivityThreshold = time.Duration(getenvIntDefault("SENSOR_INACTIVE_MINUTES", int(cfg.InactivityThreshold/time.Minute))) * time.Minute
	cfg.Retention = time.Duration(getenvIntDefault("ALERT_RETENTION_DAYS", int(cfg.Retention/(24*time.Hour)))) * 24 * time.Hour

	table := alerts.DefaultThresholds()
	if path == "" {
		return cfg, table, cfg.validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, table, err
	}
	var file ThresholdFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return cfg, table, fmt.Errorf("thresholds: %s: %w", path, err)
	}
	table, err = table.Merge(file.Sensors)
	if err != nil {
		return cfg, alerts.DefaultThresholds(), err
	}
	cfg = mergeSweepConfig(cfg, file.Schedule)
	return cfg, table, cfg.validate()
}

func (c SweepConfig) validate() error {
	if c.DetectionWindow <= 0 {
		return errors.New("sweep config: detection window must be positive")
	}
	if c.InactivityThreshold <= 0 {
		return errors.New("sweep config: inactivity threshold must be positive")
	}
	if c.Retention <= 0 {
		return errors.New("sweep config: retention must be positive")
	}
	return nil
}

func mergeSweepConfig(base, override SweepConfig) SweepConfig {
	if override.AnomalyInterval > 0 {
		base.AnomalyInterval = override.AnomalyInterval
	}
	if override.InactivityInterval > 0 {
		base.InactivityInterval = override.InactivityInterval
	}
	if override.RetentionInterval > 0 {
		base.RetentionInterval = override.RetentionInterval
	}
	if override.CheckTimeout > 0 {
		base.CheckTimeout = override.CheckTimeout
	}
	if override.DetectionWindow > 0 {
		base.DetectionWindow = override.DetectionWindow
	}
	if override.InactivityThreshold > 0 {
		base.InactivityThreshold = override.InactivityThreshold
	}
	if override.Retention > 0 {
		base.Retention = override.Retention
	}
	return base
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
