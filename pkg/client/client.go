// Package client talks to the HTTP API served by tokend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"example.com/tokenledger/pkg/api"
	"example.com/tokenledger/pkg/tokens"
	"example.com/tokenledger/pkg/wallet"
)

// ErrNetworkMismatch is returned by EnsureNetwork when the server serves a
// different network than the caller expects.
var ErrNetworkMismatch = errors.New("network mismatch")

// Error is a non-2xx reply from the server.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return strconv.Itoa(e.StatusCode) + ": " + e.Message
}

// Unwrap maps ledger error codes back onto the tokens sentinels.
func (e *Error) Unwrap() error {
	switch e.Code {
	case api.CodeInsufficientBalance:
		return tokens.ErrInsufficientBalance
	case api.CodeInvalidRecipient:
		return tokens.ErrInvalidRecipient
	case api.CodeBadSignature:
		return api.ErrBadSignature
	case api.CodeStaleNonce:
		return api.ErrStaleNonce
	}
	return nil
}

// Client is a thin wrapper over the tokend HTTP API.
type Client struct {
	base string
	http *http.Client
}

// New returns a client for baseURL. A nil httpClient gets a 5s timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "read %s response", path)
	}

	var envelope struct {
		api.Response
		Data json.RawMessage `json:"data"`
	}
	decodeErr := json.Unmarshal(raw, &envelope)

	if resp.StatusCode/100 != 2 {
		if decodeErr != nil {
			// not one of ours, e.g. a proxy or mux error page
			msg := strings.TrimSpace(string(raw))
			if msg == "" {
				msg = http.StatusText(resp.StatusCode)
			}
			return &Error{StatusCode: resp.StatusCode, Message: msg}
		}
		return &Error{StatusCode: resp.StatusCode, Code: envelope.Code, Message: envelope.Message}
	}
	if decodeErr != nil {
		return errors.Wrapf(decodeErr, "decode %s response", path)
	}
	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return errors.Wrapf(err, "decode %s data", path)
		}
	}
	return nil
}

// Token returns the ledger metadata and network identifier.
func (c *Client) Token(ctx context.Context) (api.TokenInfo, error) {
	var info api.TokenInfo
	err := c.do(ctx, http.MethodGet, "/token", nil, &info)
	return info, err
}

// Supply returns the fixed total supply.
func (c *Client) Supply(ctx context.Context) (uint64, error) {
	var s api.Supply
	err := c.do(ctx, http.MethodGet, "/supply", nil, &s)
	return s.TotalSupply, err
}

// BalanceOf returns the balance of addr.
func (c *Client) BalanceOf(ctx context.Context, addr wallet.Address) (uint64, error) {
	var b api.Balance
	err := c.do(ctx, http.MethodGet, "/balance?address="+url.QueryEscape(addr.String()), nil, &b)
	return b.Balance, err
}

// Transfers returns the records committed after since.
func (c *Client) Transfers(ctx context.Context, since uint64) ([]tokens.Transfer, error) {
	var t api.Transfers
	err := c.do(ctx, http.MethodGet, "/transfers?since="+strconv.FormatUint(since, 10), nil, &t)
	return t.Transfers, err
}

// Transfer signs and submits a transfer from w. The nonce is derived from
// the current time so successive calls from one wallet keep increasing.
func (c *Client) Transfer(ctx context.Context, w *wallet.Wallet, network string, to wallet.Address, amount uint64) (tokens.Transfer, error) {
	req := api.TransferRequest{
		To:     to,
		Amount: amount,
		Nonce:  uint64(time.Now().UnixNano()),
	}
	if err := req.Sign(w, network); err != nil {
		return tokens.Transfer{}, errors.Wrap(err, "sign transfer")
	}

	var rec tokens.Transfer
	err := c.do(ctx, http.MethodPost, "/transfer", &req, &rec)
	return rec, err
}

// EnsureNetwork fails with ErrNetworkMismatch unless the server serves want.
func (c *Client) EnsureNetwork(ctx context.Context, want string) (api.TokenInfo, error) {
	info, err := c.Token(ctx)
	if err != nil {
		return info, err
	}
	if info.Network != want {
		return info, errors.Wrapf(ErrNetworkMismatch, "server is on %q, expected %q", info.Network, want)
	}
	return info, nil
}
