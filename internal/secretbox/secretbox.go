// Package secretbox seals plugin data values with AES-256-GCM. Stored rows
// use the versioned envelope string "enc:v1:<base64>", parsed into an
// explicit Value rather than sniffed by prefix at call sites.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	envelopePrefix = "enc:"
	envelopeV1     = "v1"
)

var ErrNoKey = errors.New("secretbox: encryption key not configured")

// Value is either a plaintext string or a sealed envelope. The zero Value is
// the empty plaintext.
type Value struct {
	sealed  bool
	version string
	payload []byte
	plain   string
}

// Plain wraps a plaintext string.
func Plain(s string) Value {
	return Value{plain: s}
}

// Parse interprets a stored column value. Strings without the envelope
// prefix are plaintext; malformed envelopes are an error rather than being
// silently treated as plaintext.
func Parse(stored string) (Value, error) {
	if !strings.HasPrefix(stored, envelopePrefix) {
		return Plain(stored), nil
	}
	rest := strings.TrimPrefix(stored, envelopePrefix)
	version, encoded, found := strings.Cut(rest, ":")
	if !found {
		return Value{}, fmt.Errorf("secretbox: malformed envelope")
	}
	if version != envelopeV1 {
		return Value{}, fmt.Errorf("secretbox: unsupported envelope version %q", version)
	}
	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Value{}, fmt.Errorf("secretbox: decode envelope: %w", err)
	}
	return Value{sealed: true, version: version, payload: payload}, nil
}

func (v Value) Sealed() bool { return v.sealed }

// Encode renders the wire form stored in the value column.
func (v Value) Encode() string {
	if !v.sealed {
		return v.plain
	}
	return envelopePrefix + v.version + ":" + base64.StdEncoding.EncodeToString(v.payload)
}

// Codec seals and opens envelopes with a key derived from the configured
// master secret.
type Codec struct {
	key []byte
}

// New derives the AES-256 data key from the 32-byte master key via
// HKDF-SHA256 so the master secret itself never touches ciphertext.
func New(masterKey []byte) (*Codec, error) {
	if len(masterKey) != 32 {
		return nil, errors.New("secretbox: master key must be 32 bytes")
	}
	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, masterKey, nil, []byte("paperline plugin data v1"))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("secretbox: derive key: %w", err)
	}
	return &Codec{key: key}, nil
}

// Seal encrypts plaintext into a v1 envelope with the nonce prepended to the
// ciphertext.
func (c *Codec) Seal(plaintext string) (Value, error) {
	if c == nil {
		return Value{}, ErrNoKey
	}
	gcm, err := c.aead()
	if err != nil {
		return Value{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return Value{}, fmt.Errorf("secretbox: generate nonce: %w", err)
	}
	payload := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return Value{sealed: true, version: envelopeV1, payload: payload}, nil
}

// Open decrypts a sealed Value; plaintext Values pass through unchanged.
func (c *Codec) Open(v Value) (string, error) {
	if !v.sealed {
		return v.plain, nil
	}
	if c == nil {
		return "", ErrNoKey
	}
	gcm, err := c.aead()
	if err != nil {
		return "", err
	}
	if len(v.payload) < gcm.NonceSize() {
		return "", errors.New("secretbox: envelope too short")
	}
	nonce, ciphertext := v.payload[:gcm.NonceSize()], v.payload[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("secretbox: open envelope: %w", err)
	}
	return string(plaintext), nil
}

func (c *Codec) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("secretbox: create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("secretbox: create gcm: %w", err)
	}
	return gcm, nil
}
