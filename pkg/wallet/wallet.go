package wallet

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

const pemBlockType = "EC PRIVATE KEY"

var (
	ErrNoPrivateKey     = errors.New("private key not available")
	ErrInvalidPublicKey = errors.New("invalid public key")
	ErrInvalidKeyFile   = errors.New("invalid wallet file")
)

// Wallet stores the private and public keys of one account.
type Wallet struct {
	PrivateKey *ecdsa.PrivateKey
	// PublicKey is the PKIX DER encoding of the public half.
	PublicKey []byte
}

// NewWallet creates and returns a new wallet
func NewWallet() (*Wallet, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return fromPrivateKey(privateKey)
}

func fromPrivateKey(privateKey *ecdsa.PrivateKey) (*Wallet, error) {
	publicKey, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		return nil, err
	}
	return &Wallet{PrivateKey: privateKey, PublicKey: publicKey}, nil
}

// Address returns the account identity of the wallet.
func (w *Wallet) Address() Address {
	return AddressFromPublicKey(w.PublicKey)
}

// PublicKeyHex returns the public key in hexadecimal format
func (w *Wallet) PublicKeyHex() string {
	return hex.EncodeToString(w.PublicKey)
}

// SignMessage signs the SHA-256 digest of message with the wallet's private key.
func (w *Wallet) SignMessage(message []byte) ([]byte, error) {
	if w.PrivateKey == nil {
		return nil, ErrNoPrivateKey
	}
	digest := sha256.Sum256(message)
	return ecdsa.SignASN1(rand.Reader, w.PrivateKey, digest[:])
}

// VerifySignature verifies the signature of a given message against a
// PKIX encoded public key.
func VerifySignature(message, signature, publicKey []byte) (bool, error) {
	key, err := x509.ParsePKIXPublicKey(publicKey)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	ecKey, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return false, ErrInvalidPublicKey
	}
	digest := sha256.Sum256(message)
	return ecdsa.VerifyASN1(ecKey, digest[:], signature), nil
}

// BackupWallet saves the private key to a PEM file readable only by the owner.
func (w *Wallet) BackupWallet(filename string) error {
	if w.PrivateKey == nil {
		return ErrNoPrivateKey
	}
	der, err := x509.MarshalECPrivateKey(w.PrivateKey)
	if err != nil {
		return err
	}
	data := pem.EncodeToMemory(&pem.Block{Type: pemBlockType, Bytes: der})
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("backup wallet: %w", err)
	}
	return nil
}

// RestoreWallet loads a wallet from a file written by BackupWallet.
func RestoreWallet(filename string) (*Wallet, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("restore wallet: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemBlockType {
		return nil, ErrInvalidKeyFile
	}
	privateKey, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKeyFile, err)
	}
	return fromPrivateKey(privateKey)
}

// LoadOrCreate restores the wallet at filename, creating and saving a new
// one when the file does not exist yet.
func LoadOrCreate(filename string) (w *Wallet, created bool, err error) {
	w, err = RestoreWallet(filename)
	if err == nil {
		return w, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	w, err = NewWallet()
	if err != nil {
		return nil, false, err
	}
	if err := w.BackupWallet(filename); err != nil {
		return nil, false, err
	}
	return w, true, nil
}
