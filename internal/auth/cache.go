package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"filippo.io/age"

	"pqi-go/internal/pqi"
)

// TokenCache persists the bearer token between CLI invocations, encrypted
// at rest with an age X25519 key pair. The public key encrypts on store;
// the private key decrypts on load.
type TokenCache struct {
	path           string
	publicKeyPath  string
	privateKeyPath string
}

// NewTokenCache creates a cache at path using the given key pair.
func NewTokenCache(path, publicKeyPath, privateKeyPath string) *TokenCache {
	return &TokenCache{
		path:           path,
		publicKeyPath:  publicKeyPath,
		privateKeyPath: privateKeyPath,
	}
}

// Setup generates a new X25519 key pair for the cache. The private key file
// is created with owner-only permissions; the token must stay refreshable
// without prompting, so no passphrase wraps it.
func (c *TokenCache) Setup() error {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating key pair: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.publicKeyPath), 0700); err != nil {
		return fmt.Errorf("creating public key directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(c.privateKeyPath), 0700); err != nil {
		return fmt.Errorf("creating private key directory: %w", err)
	}

	if err := os.WriteFile(c.publicKeyPath, []byte(identity.Recipient().String()+"\n"), 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	if err := os.WriteFile(c.privateKeyPath, []byte(identity.String()+"\n"), 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}

// cachedToken is the JSON document inside the encrypted cache file.
type cachedToken struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store encrypts and writes the token.
func (c *TokenCache) Store(token *pqi.Token) error {
	recipientData, err := os.ReadFile(c.publicKeyPath)
	if err != nil {
		return fmt.Errorf("reading public key: %w", err)
	}
	recipient, err := age.ParseX25519Recipient(strings.TrimSpace(string(recipientData)))
	if err != nil {
		return fmt.Errorf("parsing public key: %w", err)
	}

	doc, err := json.Marshal(cachedToken{Token: token.Value, ExpiresAt: token.ExpiresAt})
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	f, err := os.OpenFile(c.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating cache file: %w", err)
	}
	defer f.Close()

	w, err := age.Encrypt(f, recipient)
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(doc); err != nil {
		return fmt.Errorf("writing encrypted token: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted token: %w", err)
	}
	return nil
}

// Load decrypts and returns the cached token, or nil when no cache exists.
func (c *TokenCache) Load() (*pqi.Token, error) {
	identityData, err := os.ReadFile(c.privateKeyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	identity, err := age.ParseX25519Identity(strings.TrimSpace(string(identityData)))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	f, err := os.Open(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening cache file: %w", err)
	}
	defer f.Close()

	r, err := age.Decrypt(f, identity)
	if err != nil {
		return nil, fmt.Errorf("decrypting token cache: %w", err)
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("reading token cache: %w", err)
	}

	var doc cachedToken
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		return nil, fmt.Errorf("decoding token cache: %w", err)
	}
	return &pqi.Token{Value: doc.Token, ExpiresAt: doc.ExpiresAt}, nil
}

// Clear removes the cache file; a missing file is fine.
func (c *TokenCache) Clear() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing cache file: %w", err)
	}
	return nil
}
