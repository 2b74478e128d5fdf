package config

import (
	"fmt"

	"github.com/zalando/go-keyring"
)

// ServiceName is the identifier used for all sync-engine credentials in the
// system keyring.
const ServiceName = "nodesync"

// CredentialStore is the interface used to resolve CredentialRef entries.
type CredentialStore interface {
	// Get retrieves a credential value by key.
	Get(key string) (string, error)
	// Set stores a credential value.
	Set(key, value string) error
	// Delete removes a credential.
	Delete(key string) error
}

// KeyringCredentialStore implements CredentialStore using the OS keyring:
// Keychain on macOS, Credential Manager on Windows, Secret Service on Linux.
type KeyringCredentialStore struct {
	service string
}

// NewKeyringCredentialStore creates a keyring-backed credential store.
func NewKeyringCredentialStore() *KeyringCredentialStore {
	return &KeyringCredentialStore{service: ServiceName}
}

// Get retrieves a credential from the system keyring.
func (s *KeyringCredentialStore) Get(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("credential key cannot be empty")
	}

	value, err := keyring.Get(s.service, key)
	if err != nil {
		if err == keyring.ErrNotFound {
			return "", fmt.Errorf("credential not found: %s", key)
		}
		return "", fmt.Errorf("failed to retrieve credential: %w", err)
	}
	return value, nil
}

// Set stores a credential in the system keyring.
func (s *KeyringCredentialStore) Set(key, value string) error {
	if key == "" {
		return fmt.Errorf("credential key cannot be empty")
	}

	if err := keyring.Set(s.service, key, value); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// Delete removes a credential from the system keyring.
func (s *KeyringCredentialStore) Delete(key string) error {
	if key == "" {
		return fmt.Errorf("credential key cannot be empty")
	}

	if err := keyring.Delete(s.service, key); err != nil {
		if err == keyring.ErrNotFound {
			return fmt.Errorf("credential not found: %s", key)
		}
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}
