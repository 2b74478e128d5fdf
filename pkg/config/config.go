// Package config defines the connection configuration consumed by the sync
// engine and its loading from YAML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by SetDefaults for fields left zero.
const (
	DefaultReconnectInterval    = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultHeartbeatInterval    = 30 * time.Second
	// MaxReconnectDelay caps the exponential backoff curve.
	MaxReconnectDelay = 30 * time.Second
)

// ConnectionConfig is an immutable snapshot of connection parameters,
// supplied by the caller per Connect attempt. The engine reads it and never
// mutates it.
type ConnectionConfig struct {
	// WSURL is the WebSocket endpoint of the execution backend.
	WSURL string `json:"ws_url,omitempty" yaml:"ws_url,omitempty"`
	// EventSourceURL is the Server-Sent-Events endpoint of the backend.
	EventSourceURL string `json:"event_source_url,omitempty" yaml:"event_source_url,omitempty"`
	// UseWebSocket selects the WebSocket transport; otherwise SSE is used.
	UseWebSocket bool `json:"use_websocket" yaml:"use_websocket"`
	// ReconnectInterval is the base delay between reconnect attempts.
	ReconnectInterval time.Duration `json:"reconnect_interval,omitempty" yaml:"reconnect_interval,omitempty"`
	// MaxReconnectAttempts bounds automatic reconnection; once exhausted the
	// connection enters the error state until Connect is called again.
	MaxReconnectAttempts int `json:"max_reconnect_attempts,omitempty" yaml:"max_reconnect_attempts,omitempty"`
	// HeartbeatInterval is the expected backend heartbeat period; twice this
	// value without a heartbeat marks the connection unhealthy.
	HeartbeatInterval time.Duration `json:"heartbeat_interval,omitempty" yaml:"heartbeat_interval,omitempty"`
	// Headers are sent on the transport handshake (SSE request or WebSocket
	// dial).
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	// CredentialRef names a credential in the system keyring whose value is
	// sent as a bearer token. Resolved by ResolveCredential, never stored in
	// config files.
	CredentialRef string `json:"credential_ref,omitempty" yaml:"credential_ref,omitempty"`
}

// SetDefaults fills zero-valued tuning fields with defaults.
func (c *ConnectionConfig) SetDefaults() {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = DefaultReconnectInterval
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
}

// Validate checks that the config names an endpoint for the selected
// transport.
func (c *ConnectionConfig) Validate() error {
	if c.UseWebSocket {
		if c.WSURL == "" {
			return errors.New("connection config: websocket transport selected but ws_url is empty")
		}
		return nil
	}
	if c.EventSourceURL == "" {
		return errors.New("connection config: sse transport selected but event_source_url is empty")
	}
	return nil
}

// URL returns the endpoint for the selected transport.
func (c *ConnectionConfig) URL() string {
	if c.UseWebSocket {
		return c.WSURL
	}
	return c.EventSourceURL
}

// Default returns a config with all tuning fields at their defaults and no
// endpoint set.
func Default() *ConnectionConfig {
	cfg := &ConnectionConfig{}
	cfg.SetDefaults()
	return cfg
}

// LoadFromFile reads a ConnectionConfig from a YAML file, applies defaults,
// and validates it.
func LoadFromFile(path string) (*ConnectionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML bytes into a validated ConnectionConfig.
func Parse(data []byte) (*ConnectionConfig, error) {
	var cfg ConnectionConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveCredential looks up CredentialRef in the given store and returns a
// copy of the config with an Authorization header added. The receiver is not
// modified. A config without a CredentialRef is returned unchanged.
func (c *ConnectionConfig) ResolveCredential(store CredentialStore) (*ConnectionConfig, error) {
	if c.CredentialRef == "" {
		return c, nil
	}

	token, err := store.Get(c.CredentialRef)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve credential %q: %w", c.CredentialRef, err)
	}

	out := *c
	out.Headers = make(map[string]string, len(c.Headers)+1)
	for k, v := range c.Headers {
		out.Headers[k] = v
	}
	out.Headers["Authorization"] = "Bearer " + token
	return &out, nil
}
