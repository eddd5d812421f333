// Copyright 2025 LoanGuard
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	_, err := LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestLoadFromEnvDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/loanguard")
	t.Setenv("PORT", "")
	t.Setenv("ESCALATION_INTERVAL", "")
	t.Setenv("ALLOWED_ORIGINS", "")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, time.Minute, cfg.EscalationInterval)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/loanguard")
	t.Setenv("PORT", "9090")
	t.Setenv("ESCALATION_INTERVAL", "30s")
	t.Setenv("ALLOWED_ORIGINS", "https://ops.example.com, https://qa.example.com")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.EscalationInterval)
	assert.Equal(t, []string{"https://ops.example.com", "https://qa.example.com"}, cfg.AllowedOrigins)
}

func TestLoadFromEnvInvalidValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/loanguard")

	t.Setenv("PORT", "not-a-port")
	_, err := LoadFromEnv()
	assert.Error(t, err)

	t.Setenv("PORT", "8080")
	t.Setenv("ESCALATION_INTERVAL", "soon")
	_, err = LoadFromEnv()
	assert.Error(t, err)
}

func TestLoadGovernanceSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "governance.yaml")
	content := `
override_permissions:
  director-1: [all]
  supervisor-1: [customer_harm, regulatory_deadline]
rules:
  - name: foreclosure-review
    keyword: foreclose
    forced_route: leadership_approval
    rationale: foreclosure always needs leadership sign-off
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	seed, err := LoadGovernanceSeed(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"all"}, seed.OverridePermissions["director-1"])
	assert.Equal(t, []string{"customer_harm", "regulatory_deadline"}, seed.OverridePermissions["supervisor-1"])
	require.Len(t, seed.Rules, 1)
	assert.Equal(t, "foreclosure-review", seed.Rules[0].Name)
	assert.Equal(t, "leadership_approval", seed.Rules[0].ForcedRoute)
}

func TestLoadGovernanceSeedEmptyPath(t *testing.T) {
	seed, err := LoadGovernanceSeed("")
	require.NoError(t, err)
	assert.NotNil(t, seed.OverridePermissions)
	assert.Empty(t, seed.Rules)
}

func TestLoadGovernanceSeedRejectsIncompleteRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "governance.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - name: x\n"), 0o600))

	_, err := LoadGovernanceSeed(path)
	assert.Error(t, err)
}
