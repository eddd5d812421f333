// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

// Package config loads service configuration from environment variables,
// with an optional YAML file for governance seed data (override permissions
// and initial rules) that does not belong in the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration for the governance service.
type Config struct {
	// DatabaseURL is the postgres connection string. Required.
	DatabaseURL string

	// Port the HTTP server listens on.
	Port int

	// AnthropicAPIKey authenticates against the evaluation service.
	// Optional: without it the qualitative governance engine is disabled
	// and only the deterministic evaluator runs.
	AnthropicAPIKey string

	// JWTSecret signs and verifies bearer tokens on override endpoints.
	JWTSecret string

	// AllowedOrigins for CORS. Empty means same-origin only.
	AllowedOrigins []string

	// EscalationInterval is how often the timeout-escalation scan runs.
	EscalationInterval time.Duration

	// GovernanceFile optionally points at a YAML seed file.
	GovernanceFile string
}

// GovernanceSeed is the YAML-loaded governance seed: who may execute
// emergency overrides, and any rules active from boot.
type GovernanceSeed struct {
	OverridePermissions map[string][]string `yaml:"override_permissions"`
	Rules               []SeedRule          `yaml:"rules"`
}

// SeedRule is one governance rule declared in the seed file.
type SeedRule struct {
	Name        string `yaml:"name"`
	Keyword     string `yaml:"keyword"`
	ForcedRoute string `yaml:"forced_route"`
	Rationale   string `yaml:"rationale"`
}

// LoadFromEnv reads configuration from the environment.
// DATABASE_URL is required; everything else has a default.
func LoadFromEnv() (*Config, error) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("missing required environment variable: DATABASE_URL")
	}

	cfg := &Config{
		DatabaseURL:        databaseURL,
		Port:               8080,
		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		EscalationInterval: 1 * time.Minute,
		GovernanceFile:     os.Getenv("GOVERNANCE_FILE"),
	}

	if portStr := os.Getenv("PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT value: %s", portStr)
		}
		cfg.Port = port
	}

	if intervalStr := os.Getenv("ESCALATION_INTERVAL"); intervalStr != "" {
		interval, err := time.ParseDuration(intervalStr)
		if err != nil {
			return nil, fmt.Errorf("invalid ESCALATION_INTERVAL format: %s", intervalStr)
		}
		cfg.EscalationInterval = interval
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitAndTrim(origins)
	}

	return cfg, nil
}

// LoadGovernanceSeed parses the YAML seed file. A missing path returns an
// empty seed rather than an error.
func LoadGovernanceSeed(path string) (*GovernanceSeed, error) {
	if path == "" {
		return &GovernanceSeed{OverridePermissions: map[string][]string{}}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read governance file %s: %w", path, err)
	}

	seed := &GovernanceSeed{}
	if err := yaml.Unmarshal(data, seed); err != nil {
		return nil, fmt.Errorf("failed to parse governance file %s: %w", path, err)
	}
	if seed.OverridePermissions == nil {
		seed.OverridePermissions = map[string][]string{}
	}

	for _, rule := range seed.Rules {
		if rule.Name == "" || rule.Keyword == "" {
			return nil, fmt.Errorf("governance file %s: every rule needs a name and a keyword", path)
		}
	}

	return seed, nil
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
