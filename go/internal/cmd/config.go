package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/undercutlive/undercut/go/internal/auction"
	"github.com/undercutlive/undercut/go/internal/auction/scheduler"
)

type Config struct {
	Auction auction.SessionConfig `yaml:"auction"`

	Scheduler struct {
		TickIntervalSec  int `yaml:"tick_interval_sec"`
		SweepIntervalMin int `yaml:"sweep_interval_min"`
		RetentionHours   int `yaml:"retention_hours"`
	} `yaml:"scheduler"`

	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
}

func defaultConfig() Config {
	var config Config
	config.Auction = auction.DefaultSessionConfig()
	config.Scheduler.TickIntervalSec = 1
	config.Scheduler.SweepIntervalMin = 60
	config.Scheduler.RetentionHours = 24
	config.NATS.URL = "nats://localhost:4222"
	config.NATS.SubjectPrefix = "auction.events"
	config.Server.Port = "8080"
	return config
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Environment overrides for deployment knobs
	config.Server.Port = getEnv("PORT", config.Server.Port)
	config.NATS.URL = getEnv("NATS_URL", config.NATS.URL)
	config.Scheduler.RetentionHours = getEnvAsInt("SESSION_RETENTION_HOURS", config.Scheduler.RetentionHours)

	return &config, nil
}

func (c *Config) schedulerConfig() scheduler.Config {
	return scheduler.Config{
		TickInterval:  time.Duration(c.Scheduler.TickIntervalSec) * time.Second,
		SweepInterval: time.Duration(c.Scheduler.SweepIntervalMin) * time.Minute,
		Retention:     time.Duration(c.Scheduler.RetentionHours) * time.Hour,
	}
}
