// Package keyring keeps secrets in the OS keychain.
package keyring

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	zkr "github.com/zalando/go-keyring"
)

// DefaultService is the keychain service pagerelay stores its secrets
// under.
const DefaultService = "pagerelay"

const keyAccount = "token-encryption-key"

// ErrNotFound is returned when the keychain has no entry for an account.
var ErrNotFound = errors.New("keyring: not found")

// Keyring is a handle on one keychain service.
type Keyring struct {
	service string
}

// New returns a handle on service, or DefaultService when empty.
func New(service string) *Keyring {
	if service == "" {
		service = DefaultService
	}
	return &Keyring{service: service}
}

// Service returns the keychain service name.
func (k *Keyring) Service() string { return k.service }

// Get reads account's secret.
func (k *Keyring) Get(account string) (string, error) {
	v, err := zkr.Get(k.service, account)
	if errors.Is(err, zkr.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("keychain get: %w", err)
	}
	return v, nil
}

// Set writes account's secret.
func (k *Keyring) Set(account, secret string) error {
	if err := zkr.Set(k.service, account, secret); err != nil {
		return fmt.Errorf("keychain set: %w", err)
	}
	return nil
}

// Delete removes account. Deleting a missing account is not an error.
func (k *Keyring) Delete(account string) error {
	err := zkr.Delete(k.service, account)
	if err != nil && !errors.Is(err, zkr.ErrNotFound) {
		return fmt.Errorf("keychain delete: %w", err)
	}
	return nil
}

// Key retrieves the token encryption key.
func (k *Keyring) Key() ([]byte, error) {
	hexKey, err := k.Get(keyAccount)
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(hexKey)
}

// SetKey stores the token encryption key.
func (k *Keyring) SetKey(key []byte) error {
	return k.Set(keyAccount, hex.EncodeToString(key))
}

// Available returns true if the OS keychain is functional.
// Returns false if PAGERELAY_KEYRING_DISABLED=1 is set (opt-in for headless/CI/Docker).
// Otherwise probes the keychain with a test write/read/delete cycle.
func Available() bool {
	if os.Getenv("PAGERELAY_KEYRING_DISABLED") == "1" {
		return false
	}
	testService := "pagerelay-keyring-probe"
	testAccount := "probe"
	if err := zkr.Set(testService, testAccount, "ok"); err != nil {
		return false
	}
	_ = zkr.Delete(testService, testAccount)
	return true
}
