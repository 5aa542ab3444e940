// Package credential encrypts token values at rest.
package credential

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/neboloop/pagerelay/internal/keyring"
)

const encPrefix = "enc:"

// ErrNoKey is returned by Encrypt and Decrypt before Init.
var ErrNoKey = errors.New("credential: encryption key not initialized")

var (
	encKey []byte
	mu     sync.RWMutex
)

// Init sets the encryption key. Called once at startup.
func Init(key []byte) {
	mu.Lock()
	defer mu.Unlock()
	encKey = key
}

func currentKey() ([]byte, error) {
	mu.RLock()
	defer mu.RUnlock()
	if len(encKey) == 0 {
		return nil, ErrNoKey
	}
	return encKey, nil
}

// GenerateKey returns a fresh random key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// Encrypt seals plaintext with XChaCha20-Poly1305 and prepends the "enc:"
// prefix. Returns empty string for empty input.
func Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	key, err := currentKey()
	if err != nil {
		return "", err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Values without the "enc:"
// prefix are returned unchanged, so stores written before encryption was
// enabled stay readable.
func Decrypt(ciphertext string) (string, error) {
	if !IsEncrypted(ciphertext) {
		return ciphertext, nil
	}
	key, err := currentKey()
	if err != nil {
		return "", err
	}
	data, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(ciphertext, encPrefix))
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}
	if len(data) < aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, sealed := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plain), nil
}

// IsEncrypted returns true if the value has the "enc:" prefix.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, encPrefix)
}

// LoadOrCreateKey returns the encryption key, creating one on first use.
// The key lives in the OS keychain when kr is usable, otherwise in keyFile
// with owner-only permissions.
func LoadOrCreateKey(kr *keyring.Keyring, keyFile string) ([]byte, error) {
	if kr != nil && keyring.Available() {
		key, err := kr.Key()
		if err == nil && len(key) == chacha20poly1305.KeySize {
			return key, nil
		}
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return nil, err
		}
		key, err = GenerateKey()
		if err != nil {
			return nil, err
		}
		if err := kr.SetKey(key); err != nil {
			return nil, err
		}
		return key, nil
	}
	return loadOrCreateKeyFile(keyFile)
}

func loadOrCreateKeyFile(path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("credential: no keychain and no key file configured")
	}
	data, err := os.ReadFile(path)
	if err == nil {
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("key file %s is corrupt", path)
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	key, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(base64.StdEncoding.EncodeToString(key)+"\n"), 0600); err != nil {
		return nil, fmt.Errorf("write key file: %w", err)
	}
	return key, nil
}
