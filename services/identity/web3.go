package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

var (
	errBadSignature = errors.New("malformed signature")
	errBadAddress   = errors.New("address must be 0x followed by 40 hex characters")
)

// normalizeAddress validates an Ethereum address and lower-cases it.
func normalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !addressPattern.MatchString(address) {
		return "", errBadAddress
	}
	return strings.ToLower(address), nil
}

// signInMessage is the text the wallet is asked to personal_sign.
func signInMessage(address, nonce string) string {
	return fmt.Sprintf("Sign this message to authenticate with AeThex.\n\nAddress: %s\nNonce: %s", address, nonce)
}

func keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// personalHash is the EIP-191 hash of a personal_sign message.
func personalHash(message string) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return keccak256([]byte(prefix), []byte(message))
}

// pubkeyAddress derives the lower-case 0x address of a public key.
func pubkeyAddress(pub *secp256k1.PublicKey) string {
	uncompressed := pub.SerializeUncompressed()
	return "0x" + hex.EncodeToString(keccak256(uncompressed[1:])[12:])
}

// recoverAddress returns the address that produced signature over message.
// signature is the 65-byte r||s||v hex string wallets return; v may be 0/1
// or 27/28.
func recoverAddress(message, signature string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "0x"))
	if err != nil || len(raw) != 65 {
		return "", errBadSignature
	}
	v := raw[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return "", errBadSignature
	}

	// Compact form is header||r||s, header 27+recid for uncompressed keys.
	compact := make([]byte, 65)
	compact[0] = 27 + v
	copy(compact[1:], raw[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, personalHash(message))
	if err != nil {
		return "", fmt.Errorf("recover signer: %w", err)
	}
	return pubkeyAddress(pub), nil
}
