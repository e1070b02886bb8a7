package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	path := writeFile(t, "tokend.yaml", `
listen: ":9000"
network_id: "testnet"
rate_per_second: 2.5
token:
  name: "Test Token"
  symbol: "TST"
  total_supply: 500
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "testnet", cfg.Network)
	assert.Equal(t, 2.5, cfg.RatePerSecond)
	assert.Equal(t, "TST", cfg.Token.Symbol)
	assert.Equal(t, uint64(500), cfg.Token.TotalSupply)
	// untouched fields keep their defaults
	assert.Equal(t, "ledger.db", cfg.JournalPath)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	path := writeFile(t, "bad.yaml", "listn: \":9000\"\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("TOKEND_NETWORK_ID", "envnet")
	t.Setenv("TOKEND_RATE_PER_SECOND", "7")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "envnet", cfg.Network)
	assert.Equal(t, 7.0, cfg.RatePerSecond)

	t.Setenv("TOKEND_RATE_PER_SECOND", "fast")
	require.Error(t, cfg.ApplyEnv())
}

func TestParseConfigFlagsWin(t *testing.T) {
	t.Setenv("TOKEND_NETWORK_ID", "envnet")
	path := writeFile(t, "tokend.yaml", "network_id: filenet\nlisten: \":7000\"\n")

	cfg, err := parseConfig([]string{"-config", path, "-network", "flagnet"})
	require.NoError(t, err)
	assert.Equal(t, "flagnet", cfg.Network)
	assert.Equal(t, ":7000", cfg.Listen)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TLS.Cert = "cert.pem"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.LogLevel = "loud"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Network = ""
	require.Error(t, cfg.Validate())
}
