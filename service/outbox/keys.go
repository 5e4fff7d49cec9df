package outbox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

// KeyPair is a Curve25519 key pair used to open sealed outbox entries.
type KeyPair struct {
	Public  *[32]byte
	Private *[32]byte
}

// GenerateKeyPair creates a new random key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// ParseKeyPair decodes base64 public and private keys.
func ParseKeyPair(public, private string) (KeyPair, error) {
	pub, err := ParseKey(public)
	if err != nil {
		return KeyPair{}, fmt.Errorf("invalid public key: %w", err)
	}
	priv, err := ParseKey(private)
	if err != nil {
		return KeyPair{}, fmt.Errorf("invalid private key: %w", err)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// ParseKey decodes a base64 32-byte key.
func ParseKey(s string) (*[32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, errors.New("key must be 32 bytes")
	}
	var k [32]byte
	copy(k[:], raw)
	return &k, nil
}

// EncodeKey returns the base64 form of k.
func EncodeKey(k *[32]byte) string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// PublicKey returns the base64 public key.
func (kp KeyPair) PublicKey() string {
	return EncodeKey(kp.Public)
}

// Seal encrypts msg so only the holder of recipient's private key can read it.
func Seal(msg []byte, recipient *[32]byte) ([]byte, error) {
	return box.SealAnonymous(nil, msg, recipient, rand.Reader)
}

// Open decrypts a sealed message.
func (kp KeyPair) Open(sealed []byte) ([]byte, error) {
	out, ok := box.OpenAnonymous(nil, sealed, kp.Public, kp.Private)
	if !ok {
		return nil, errors.New("failed to open sealed box")
	}
	return out, nil
}
