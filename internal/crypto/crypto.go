// Package crypto implements the sealed-blob codec for archive payloads.
//
// Every archive is encrypted with a key derived from a long-lived master
// secret and a per-archive random salt. Losing the master secret makes
// all existing archives permanently unrecoverable; there is no recovery
// path.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Sealed blob layout: salt (16 bytes) || nonce (12 bytes) || ciphertext+tag.
const (
	SaltSize  = 16
	NonceSize = 12

	keySize = 32

	// DefaultIterations is the PBKDF2-SHA256 cost fixed by blob format v1.
	// Changing it orphans every blob sealed under the old count.
	DefaultIterations = 600_000

	minMasterKeyLen = 16
)

// ErrIntegrity is returned when a sealed blob is malformed or fails
// authentication. Data that trips it is corrupt or tampered with;
// retrying cannot fix it.
var ErrIntegrity = errors.New("sealed blob integrity check failed")

// Codec seals and opens archive payloads under a process-wide master
// secret. Safe for concurrent use; the secret is read-only after
// construction.
type Codec struct {
	master     []byte
	iterations int
}

// NewCodec returns a Codec using the production KDF cost.
func NewCodec(master []byte) (*Codec, error) {
	return NewCodecWithIterations(master, DefaultIterations)
}

// NewCodecWithIterations returns a Codec with an explicit PBKDF2 cost.
// Tests use a low count to stay fast; production callers use NewCodec.
func NewCodecWithIterations(master []byte, iterations int) (*Codec, error) {
	if len(master) < minMasterKeyLen {
		return nil, fmt.Errorf("master key too short: got %d bytes, need at least %d", len(master), minMasterKeyLen)
	}
	if iterations < 1 {
		return nil, errors.New("iteration count must be positive")
	}
	m := make([]byte, len(master))
	copy(m, master)
	return &Codec{master: m, iterations: iterations}, nil
}

// Seal encrypts plaintext into a self-describing blob:
// salt || nonce || ciphertext+tag. Every call draws a fresh salt and
// nonce; neither is reused across archives.
func (c *Codec) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	gcm, err := c.aead(salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	sealed := make([]byte, 0, SaltSize+NonceSize+len(plaintext)+gcm.Overhead())
	sealed = append(sealed, salt...)
	sealed = append(sealed, nonce...)
	sealed = gcm.Seal(sealed, nonce, plaintext, nil)
	return sealed, nil
}

// Open decrypts a sealed blob, deriving the key from the embedded salt.
// Returns ErrIntegrity when the blob is truncated or its authentication
// tag does not verify.
func (c *Codec) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < SaltSize+NonceSize {
		return nil, fmt.Errorf("%w: blob too short (%d bytes)", ErrIntegrity, len(sealed))
	}
	salt := sealed[:SaltSize]
	nonce := sealed[SaltSize : SaltSize+NonceSize]
	ciphertext := sealed[SaltSize+NonceSize:]

	gcm, err := c.aead(salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	return plaintext, nil
}

// aead derives the per-archive AES-256 key for salt and builds the GCM AEAD.
func (c *Codec) aead(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key(c.master, salt, c.iterations, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// GenerateMasterKey generates a 32-byte cryptographically secure random
// master key.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating master key: %w", err)
	}
	return key, nil
}
