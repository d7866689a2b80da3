package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	cfg := "log_level: error\n" +
		"database:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "test.db") + "\n  max_open_conns: 1\n" +
		"marketdata:\n  symbols: [EURUSD, XAUUSD]\n"
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootRegistersSubcommands(t *testing.T) {
	cmd := newRootCommand()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "seed"})
}

func TestMigrateThenSeed(t *testing.T) {
	path := writeConfig(t)
	envFile := filepath.Join(t.TempDir(), "missing.env")

	_, err := run(t, "--config", path, "--env-file", envFile, "migrate")
	require.NoError(t, err)

	out, err := run(t, "--config", path, "--env-file", envFile, "seed", "--email", "seed@example.com", "--balance", "2500")
	require.NoError(t, err)
	_, err = uuid.Parse(strings.TrimSpace(out))
	assert.NoError(t, err)
}

func TestSeedRejectsBadBalance(t *testing.T) {
	_, err := run(t, "--config", writeConfig(t), "seed", "--balance", "lots")
	assert.ErrorContains(t, err, "invalid --balance")
}
