package domain

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// PublicKey is the externally visible identifier of an account.
type PublicKey [ed25519.PublicKeySize]byte

// ParsePublicKey parses a hex encoded ed25519 public key.
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return pk, fmt.Errorf("parse public key: %w", err)
	}
	if len(raw) != len(pk) {
		return pk, fmt.Errorf("parse public key: want %d bytes, got %d", len(pk), len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

func (k PublicKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Verify reports whether sig is a valid signature of msg by k.
func (k PublicKey) Verify(msg, sig []byte) bool {
	return ed25519.Verify(ed25519.PublicKey(k[:]), msg, sig)
}

// Keypair is an ed25519 signing identity.
type Keypair struct {
	priv ed25519.PrivateKey
	pub  PublicKey
}

// NewKeypairFromSeed builds a keypair from a 32 byte seed.
func NewKeypairFromSeed(seed []byte) (Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return Keypair{}, fmt.Errorf("seed must be %d bytes", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	var pub PublicKey
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return Keypair{priv: priv, pub: pub}, nil
}

// DeriveKeypair deterministically derives a labelled keypair from a root
// secret, so every module instance holding the same secret owns the same
// account.
func DeriveKeypair(rootSecret []byte, label string) (Keypair, error) {
	if len(rootSecret) == 0 {
		return Keypair{}, errors.New("root secret is empty")
	}
	h := sha256.New()
	_, _ = h.Write(rootSecret)
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("fedwallet-module-key-v1"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(label))
	return NewKeypairFromSeed(h.Sum(nil))
}

func (k Keypair) PublicKey() PublicKey {
	return k.pub
}

// IsZero reports whether the keypair was never initialised.
func (k Keypair) IsZero() bool {
	return k.priv == nil
}

func (k Keypair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}
