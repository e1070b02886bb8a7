package main

import (
	"bytes"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"example.com/tokenledger/pkg/api"
	"example.com/tokenledger/pkg/tokens"
	"example.com/tokenledger/pkg/wallet"
)

const network = "clinet"

type env struct {
	ledger     *tokens.Ledger
	server     string
	walletPath string
	creator    *wallet.Wallet
}

func newEnv(t *testing.T) *env {
	t.Helper()

	creator, err := wallet.NewWallet()
	require.NoError(t, err)
	walletPath := filepath.Join(t.TempDir(), "wallet.pem")
	require.NoError(t, creator.BackupWallet(walletPath))

	l := tokens.NewLedger(creator.Address())
	srv := httptest.NewServer(api.NewAPI(api.Config{
		Ledger:  l,
		Network: network,
		Logger:  zaptest.NewLogger(t),
	}).Handler())
	t.Cleanup(srv.Close)

	return &env{ledger: l, server: srv.URL, walletPath: walletPath, creator: creator}
}

func (e *env) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--server", e.server, "--network", network, "--wallet", e.walletPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenAndBalance(t *testing.T) {
	e := newEnv(t)

	out, err := e.run(t, "", "token")
	require.NoError(t, err)
	assert.Contains(t, out, tokens.DefaultSymbol)
	assert.Contains(t, out, network)

	out, err = e.run(t, "", "balance")
	require.NoError(t, err)
	assert.Contains(t, out, e.creator.Address().String())
	assert.Contains(t, out, "1000000")
}

func TestTransferConfirmed(t *testing.T) {
	e := newEnv(t)
	to, err := wallet.NewWallet()
	require.NoError(t, err)

	out, err := e.run(t, "y\n", "transfer", to.Address().String(), "15")
	require.NoError(t, err)
	assert.Contains(t, out, "transfer #1")
	assert.Equal(t, uint64(15), e.ledger.BalanceOf(to.Address()))

	out, err = e.run(t, "", "transfers")
	require.NoError(t, err)
	assert.Contains(t, out, to.Address().String())
}

func TestTransferDeclinedIsSilent(t *testing.T) {
	e := newEnv(t)
	to, err := wallet.NewWallet()
	require.NoError(t, err)

	out, err := e.run(t, "n\n", "transfer", to.Address().String(), "15")
	require.NoError(t, err)
	assert.NotContains(t, out, "transfer #")
	assert.Zero(t, e.ledger.Len())
}

// slowReader hands out its input only after a delay, like a user who takes
// a while to answer the prompt.
type slowReader struct {
	delay time.Duration
	r     io.Reader
}

func (s *slowReader) Read(p []byte) (int, error) {
	time.Sleep(s.delay)
	return s.r.Read(p)
}

func TestTransferSlowConfirmation(t *testing.T) {
	e := newEnv(t)
	to, err := wallet.NewWallet()
	require.NoError(t, err)

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(&slowReader{delay: 300 * time.Millisecond, r: strings.NewReader("y\n")})
	cmd.SetArgs([]string{"--server", e.server, "--network", network, "--wallet", e.walletPath,
		"--timeout", "100ms", "transfer", to.Address().String(), "7"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "transfer #1")
	assert.Equal(t, uint64(7), e.ledger.BalanceOf(to.Address()))
}

func TestTransferFailures(t *testing.T) {
	e := newEnv(t)
	to, err := wallet.NewWallet()
	require.NoError(t, err)

	_, err = e.run(t, "", "transfer", "--yes", to.Address().String(), "1000001")
	require.EqualError(t, err, "not enough tokens")

	_, err = e.run(t, "", "transfer", "--yes", wallet.ZeroAddress.String(), "1")
	require.EqualError(t, err, "invalid recipient")

	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--server", e.server, "--network", "elsewhere", "--wallet", e.walletPath,
		"transfer", "--yes", to.Address().String(), "1"})
	err = cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "switch to network")

	assert.Zero(t, e.ledger.Len())
}

func TestWalletCommands(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.pem")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--wallet", path, "wallet", "new"})
	require.NoError(t, cmd.Execute())
	created := strings.TrimSpace(out.String())

	_, err := wallet.ParseAddress(created)
	require.NoError(t, err)

	cmd = newRootCmd()
	out.Reset()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--wallet", path, "wallet", "show"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, created, strings.TrimSpace(out.String()))

	cmd = newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--wallet", path, "wallet", "new"})
	require.Error(t, cmd.Execute())
}
