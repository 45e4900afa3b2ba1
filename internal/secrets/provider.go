// Package secrets loads the process-wide secrets at startup: the archive
// master key and object-store credentials. Values are read exactly once
// and held read-only; they are never logged and never re-fetched per
// operation.
package secrets

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Environment fallbacks consulted when no explicit source is configured.
const (
	EnvMasterKey = "SESSIONVAULT_MASTER_KEY"
	EnvAccessKey = "SESSIONVAULT_S3_ACCESS_KEY"
	EnvSecretKey = "SESSIONVAULT_S3_SECRET_KEY"
)

// Sources names where each secret comes from. Empty fields fall back to
// the corresponding environment variable.
type Sources struct {
	// MasterKeyFile is a file holding the hex or base64 encoded master
	// key. When set it wins over EnvMasterKey.
	MasterKeyFile string
	AccessKey     string
	SecretKey     string
}

// Provider holds the loaded secrets. The master key is held in memory
// for the process lifetime; Close zeroes it.
type Provider struct {
	mu        sync.RWMutex
	master    []byte
	accessKey string
	secretKey string
}

// Load reads all secrets from src. It fails when the master key is
// missing or not decodable; object-store credentials may legitimately be
// empty for stores that allow anonymous access.
func Load(src Sources) (*Provider, error) {
	encoded, err := readMasterKey(src.MasterKeyFile)
	if err != nil {
		return nil, err
	}
	master, err := decodeKey(encoded)
	if err != nil {
		return nil, err
	}

	access := src.AccessKey
	if access == "" {
		access = os.Getenv(EnvAccessKey)
	}
	secret := src.SecretKey
	if secret == "" {
		secret = os.Getenv(EnvSecretKey)
	}

	return &Provider{master: master, accessKey: access, secretKey: secret}, nil
}

func readMasterKey(path string) (string, error) {
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("reading master key file: %w", err)
		}
		return strings.TrimSpace(string(raw)), nil
	}
	if v := os.Getenv(EnvMasterKey); v != "" {
		return strings.TrimSpace(v), nil
	}
	return "", fmt.Errorf("master key not configured: set master_key_file or %s", EnvMasterKey)
}

// decodeKey accepts a hex or standard-base64 encoded key.
func decodeKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, errors.New("master key is empty")
	}
	if b, err := hex.DecodeString(encoded); err == nil {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(encoded); err == nil {
		return b, nil
	}
	return nil, errors.New("master key is neither hex nor base64")
}

// MasterKey returns a defensive copy of the master key. Returns nil
// after Close.
func (p *Provider) MasterKey() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.master == nil {
		return nil
	}
	key := make([]byte, len(p.master))
	copy(key, p.master)
	return key
}

// ObjectStoreKeys returns the object-store credential pair.
func (p *Provider) ObjectStoreKeys() (accessKey, secretKey string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.accessKey, p.secretKey
}

// Close zeroes the in-memory master key. The Provider is unusable
// afterwards.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.master {
		p.master[i] = 0
	}
	p.master = nil
}
