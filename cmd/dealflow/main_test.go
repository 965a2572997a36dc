package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/dealflow/internal/testutil"
)

type cliTestEnv struct {
	configPath   string
	templatePath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	base := t.TempDir()

	configPath := filepath.Join(base, "dealflow.yaml")
	config := fmt.Sprintf("log:\n  level: error\nstorage:\n  driver: sqlite\n  dsn: %q\nworker:\n  lock_file: %q\n",
		"file:"+filepath.Join(base, "dealflow.db"),
		filepath.Join(base, "worker.lock"),
	)
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0o600))

	templatePath := filepath.Join(base, "fast_lease.yaml")
	require.NoError(t, os.WriteFile(templatePath, testutil.FastLeaseTemplate(), 0o600))

	return &cliTestEnv{configPath: configPath, templatePath: templatePath}
}

func (e *cliTestEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionsCreateListActivate(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "versions", "create", env.templatePath, "--version", "1", "--activate")
	require.NoError(t, err)
	assert.Contains(t, out, "fast-lease-v1")
	assert.Contains(t, out, "yes")

	_, err = env.run(t, "versions", "create", env.templatePath, "--version", "2", "--title", "Second")
	require.NoError(t, err)

	out, err = env.run(t, "versions", "list", "fast-lease-v1")
	require.NoError(t, err)
	var secondID string
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(strings.ReplaceAll(line, "│", " "))
		if len(fields) >= 4 && fields[2] == "2" {
			secondID = fields[0]
		}
	}
	require.NotEmpty(t, secondID, out)

	out, err = env.run(t, "versions", "activate", "fast-lease-v1", secondID)
	require.NoError(t, err)
	assert.Contains(t, out, "Activated fast-lease-v1 version 2")

	_, err = env.run(t, "versions", "create", env.templatePath, "--version", "2")
	assert.Error(t, err, "duplicate version label")
}

func TestVersionsListEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "versions", "list", "unknown")
	require.NoError(t, err)
	assert.Contains(t, out, "No versions of unknown")
}

func TestQueuesRunOnEmptyStore(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "queues", "run", "--limit", "5")
	require.NoError(t, err)
	assert.Contains(t, out, "notifications")
	assert.Contains(t, out, "total")

	_, err = env.run(t, "queues", "run", "--limit", "-1")
	assert.Error(t, err)
}

func TestResyncArguments(t *testing.T) {
	env := setupCLITestEnv(t)

	_, err := env.run(t, "resync")
	assert.EqualError(t, err, "pass either a deal id or --all")

	_, err = env.run(t, "resync", "deal-1", "--all")
	assert.Error(t, err)

	out, err := env.run(t, "resync", "--all", "--skip-status", "cancelled")
	require.NoError(t, err)
	assert.Contains(t, out, "Total")
}

func TestInvalidConfigFails(t *testing.T) {
	env := setupCLITestEnv(t)
	require.NoError(t, os.WriteFile(env.configPath, []byte("storage:\n  driver: oracle\n"), 0o600))

	_, err := env.run(t, "queues", "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported value")
}
