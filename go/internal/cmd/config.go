package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/turflads/crazy-bids-sub000/go/internal/auction"
	"github.com/turflads/crazy-bids-sub000/go/internal/models"
)

// Config is the server's YAML configuration. Teams and grades are only
// needed when seeding a fresh auction; the running server treats documents
// as opaque.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Disabled bool `yaml:"disabled"` // run cache-only, nothing survives a restart
	} `yaml:"database"`

	NATS struct {
		URL string `yaml:"url"` // empty disables the cross-instance relay
	} `yaml:"nats"`

	Roster struct {
		File string `yaml:"file"`
		URL  string `yaml:"url"`
	} `yaml:"roster"`

	Teams  []TeamConfig        `yaml:"teams"`
	Grades []auction.GradeRule `yaml:"grades"`
}

// TeamConfig declares one participating team.
type TeamConfig struct {
	Name       string `yaml:"name"`
	TotalPurse int64  `yaml:"total_purse"`
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

// GradeRules returns the grade tiers keyed by grade name.
func (c *Config) GradeRules() map[string]auction.GradeRule {
	rules := make(map[string]auction.GradeRule, len(c.Grades))
	for _, rule := range c.Grades {
		rules[rule.Grade] = rule
	}
	return rules
}

// TeamModels returns the configured teams as model values.
func (c *Config) TeamModels() []models.Team {
	teams := make([]models.Team, 0, len(c.Teams))
	for _, t := range c.Teams {
		teams = append(teams, models.Team{Name: t.Name, TotalPurse: t.TotalPurse})
	}
	return teams
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
