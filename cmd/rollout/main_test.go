package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/rollout/pkg/config"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

	got, err := parseTime("", now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = parseTime("24h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-24*time.Hour), got)

	got, err = parseTime("2024-05-01T00:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), got)

	_, err = parseTime("yesterday", now)
	assert.Error(t, err)
}

func newPolicyCmd(t *testing.T) *cobra.Command {
	t.Helper()
	loaded, err := config.Load()
	require.NoError(t, err)
	cfg = loaded

	cmd := &cobra.Command{Use: "test"}
	addPolicyFlags(cmd)
	return cmd
}

func TestPoliciesFromFlags(t *testing.T) {
	cmd := newPolicyCmd(t)
	require.NoError(t, cmd.ParseFlags([]string{"--max-attempts", "5", "--path", "/status"}))

	policies, err := policiesFromFlags(cmd, []string{"web"})
	require.NoError(t, err)
	require.Len(t, policies, 1)

	p := policies[0]
	assert.Equal(t, "web", p.Lineage)
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, []string{"/status"}, p.Paths)
	assert.Equal(t, "app.kubernetes.io/instance=web", p.Selector)
	assert.Equal(t, cfg.Interval, p.Interval)
}

func TestPoliciesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	doc := "kind: RolloutPolicy\nmetadata:\n  name: web\n---\nkind: RolloutPolicy\nmetadata:\n  name: api\nspec:\n  interval: 1m\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cmd := newPolicyCmd(t)
	require.NoError(t, cmd.ParseFlags([]string{"-f", path}))

	all, err := policiesFromFlags(cmd, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	one, err := policiesFromFlags(cmd, []string{"api"})
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, time.Minute, one[0].Interval)

	_, err = policiesFromFlags(cmd, []string{"missing"})
	assert.Error(t, err)
}

func TestPoliciesFromFlagsRequiresLineage(t *testing.T) {
	cmd := newPolicyCmd(t)
	_, err := policiesFromFlags(cmd, nil)
	assert.Error(t, err)
}
