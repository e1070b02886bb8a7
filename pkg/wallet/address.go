package wallet

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/ripemd160"
)

// AddressLen is the size of an account identity in bytes.
const AddressLen = 20

// AddressVersion prefixes the encoded form of every address.
const AddressVersion = byte(0x35)

const checksumLen = 4

// Errors
var (
	ErrInvalidAddress  = errors.New("invalid address")
	ErrInvalidChecksum = errors.New("invalid address checksum")
)

// Address identifies an account on the ledger. The zero value is the null
// identity and can never receive funds.
type Address [AddressLen]byte

// ZeroAddress is the null identity.
var ZeroAddress Address

// IsZero reports whether a is the null identity.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// String returns the base58 form: version, public key hash and a 4-byte
// double SHA-256 checksum.
func (a Address) String() string {
	payload := make([]byte, 0, 1+AddressLen+checksumLen)
	payload = append(payload, AddressVersion)
	payload = append(payload, a[:]...)
	payload = append(payload, calculateChecksum(payload)...)
	return base58.Encode(payload)
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress decodes the base58 form produced by Address.String.
func ParseAddress(s string) (Address, error) {
	var addr Address

	raw, err := base58.Decode(s)
	if err != nil {
		return addr, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) != 1+AddressLen+checksumLen {
		return addr, fmt.Errorf("%w: length %d", ErrInvalidAddress, len(raw))
	}
	if raw[0] != AddressVersion {
		return addr, fmt.Errorf("%w: version 0x%02x", ErrInvalidAddress, raw[0])
	}

	payload := raw[:len(raw)-checksumLen]
	checksum := raw[len(raw)-checksumLen:]
	if !bytes.Equal(checksum, calculateChecksum(payload)) {
		return addr, ErrInvalidChecksum
	}

	copy(addr[:], payload[1:])
	return addr, nil
}

// AddressFromPublicKey derives the account identity owning pubKey.
func AddressFromPublicKey(pubKey []byte) Address {
	var addr Address
	copy(addr[:], hashPublicKey(pubKey))
	return addr
}

// hashPublicKey performs SHA256 followed by RIPEMD160 on the public key
func hashPublicKey(pubKey []byte) []byte {
	pubHash := sha256.Sum256(pubKey)
	ripeHasher := ripemd160.New()
	// hash.Hash never returns an error on Write
	_, _ = ripeHasher.Write(pubHash[:])
	return ripeHasher.Sum(nil)
}

// calculateChecksum computes the first 4 bytes of the double SHA256 hash
func calculateChecksum(payload []byte) []byte {
	firstHash := sha256.Sum256(payload)
	secondHash := sha256.Sum256(firstHash[:])
	return secondHash[:checksumLen]
}
