package api

import (
	"encoding/hex"
	"strconv"
	"strings"

	"example.com/tokenledger/pkg/tokens"
	"example.com/tokenledger/pkg/wallet"
)

// TransferRequest is the body of POST /transfer. The caller is the owner of
// PublicKey; Signature covers SigningMessage.
type TransferRequest struct {
	PublicKey string         `json:"public_key"` // hex PKIX DER
	To        wallet.Address `json:"to"`
	Amount    uint64         `json:"amount"`
	Nonce     uint64         `json:"nonce"`
	Signature string         `json:"signature"` // hex ASN.1 ECDSA
}

// SigningMessage is the canonical byte string a wallet signs for r on the
// given network.
func (r *TransferRequest) SigningMessage(network string) []byte {
	return []byte(strings.Join([]string{
		"transfer",
		network,
		r.To.String(),
		strconv.FormatUint(r.Amount, 10),
		strconv.FormatUint(r.Nonce, 10),
	}, "|"))
}

// Sign fills PublicKey and Signature using w.
func (r *TransferRequest) Sign(w *wallet.Wallet, network string) error {
	r.PublicKey = w.PublicKeyHex()
	sig, err := w.SignMessage(r.SigningMessage(network))
	if err != nil {
		return err
	}
	r.Signature = hex.EncodeToString(sig)
	return nil
}

// Caller verifies the signature and returns the signing account.
func (r *TransferRequest) Caller(network string) (wallet.Address, error) {
	pub, err := hex.DecodeString(r.PublicKey)
	if err != nil {
		return wallet.ZeroAddress, ErrBadSignature
	}
	sig, err := hex.DecodeString(r.Signature)
	if err != nil {
		return wallet.ZeroAddress, ErrBadSignature
	}
	ok, err := wallet.VerifySignature(r.SigningMessage(network), sig, pub)
	if err != nil || !ok {
		return wallet.ZeroAddress, ErrBadSignature
	}
	return wallet.AddressFromPublicKey(pub), nil
}

// TokenInfo is returned by GET /token.
type TokenInfo struct {
	tokens.Metadata
	Network string `json:"network"`
}

// Balance is returned by GET /balance.
type Balance struct {
	Address wallet.Address `json:"address"`
	Balance uint64         `json:"balance"`
}

// Supply is returned by GET /supply.
type Supply struct {
	TotalSupply uint64 `json:"total_supply"`
}

// Transfers is returned by GET /transfers.
type Transfers struct {
	Since     uint64            `json:"since"`
	Transfers []tokens.Transfer `json:"transfers"`
}

// Response is the envelope of every JSON reply.
type Response struct {
	Status  string      `json:"status"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Error codes reported in Response.Code.
const (
	CodeInsufficientBalance = "InsufficientBalance"
	CodeInvalidRecipient    = "InvalidRecipient"
	CodeBadSignature        = "BadSignature"
	CodeStaleNonce          = "StaleNonce"
	CodeBadRequest          = "BadRequest"
	CodeRateLimited         = "RateLimited"
)
