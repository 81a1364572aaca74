package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the persisted shape of <home>/.always-coder/config.json
// (spec.md §6), field-for-field.
type Config struct {
	Server       string `json:"server"`
	WebURL       string `json:"webUrl"`
	UserID       string `json:"userId,omitempty"`
	AuthToken    string `json:"authToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	InstanceLabel string `json:"instanceLabel,omitempty"`

	CognitoUserPoolID string `json:"cognitoUserPoolId,omitempty"`
	CognitoClientID   string `json:"cognitoClientId,omitempty"`
	CognitoRegion     string `json:"cognitoRegion,omitempty"`
}

// Manager loads, merges and persists Config the way the CLI binary
// uses it: local install defaults merged under the user's own config,
// then environment variables applied on top.
type Manager struct {
	userPath string
	cfg      Config
}

// Load reads config.local.json (if present) as a base, merges the
// user's config.json on top, then applies ALWAYS_CODER_* env overrides.
func Load() (*Manager, error) {
	userPath, err := UserConfigPath()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if localPath, err := LocalConfigPath(); err == nil {
		if local, err := readConfig(localPath); err == nil {
			cfg = local
		}
	}
	if user, err := readConfig(userPath); err == nil {
		mergeUserOver(&cfg, user)
	}

	applyEnvOverrides(&cfg)

	return &Manager{userPath: userPath, cfg: cfg}, nil
}

func readConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// mergeUserOver overlays user-supplied fields (non-empty values win)
// on top of base, following the user-overrides-local-defaults rule for
// auth fields in spec.md §6.
func mergeUserOver(base *Config, user Config) {
	if user.Server != "" {
		base.Server = user.Server
	}
	if user.WebURL != "" {
		base.WebURL = user.WebURL
	}
	if user.UserID != "" {
		base.UserID = user.UserID
	}
	if user.AuthToken != "" {
		base.AuthToken = user.AuthToken
	}
	if user.RefreshToken != "" {
		base.RefreshToken = user.RefreshToken
	}
	if user.InstanceLabel != "" {
		base.InstanceLabel = user.InstanceLabel
	}
	if user.CognitoUserPoolID != "" {
		base.CognitoUserPoolID = user.CognitoUserPoolID
	}
	if user.CognitoClientID != "" {
		base.CognitoClientID = user.CognitoClientID
	}
	if user.CognitoRegion != "" {
		base.CognitoRegion = user.CognitoRegion
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALWAYS_CODER_SERVER"); v != "" {
		cfg.Server = v
	}
	if v := os.Getenv("ALWAYS_CODER_WEB_URL"); v != "" {
		cfg.WebURL = v
	}
}

// Get returns the effective config.
func (m *Manager) Get() Config { return m.cfg }

// Save persists the user-facing config.json with 0600 permissions
// (best-effort on platforms lacking POSIX permissions).
func (m *Manager) Save() error {
	data, err := json.MarshalIndent(m.cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(m.userPath, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", m.userPath, err)
	}
	return nil
}

// Set updates one top-level field by key, mirroring the CLI's
// `config set <key> <value>` subcommand.
func (m *Manager) Set(key, value string) error {
	switch key {
	case "server":
		m.cfg.Server = value
	case "webUrl":
		m.cfg.WebURL = value
	case "userId":
		m.cfg.UserID = value
	case "authToken":
		m.cfg.AuthToken = value
	case "refreshToken":
		m.cfg.RefreshToken = value
	case "instanceLabel":
		m.cfg.InstanceLabel = value
	case "cognitoUserPoolId":
		m.cfg.CognitoUserPoolID = value
	case "cognitoClientId":
		m.cfg.CognitoClientID = value
	case "cognitoRegion":
		m.cfg.CognitoRegion = value
	default:
		return fmt.Errorf("config: unknown key %q", key)
	}
	return nil
}

// Unset clears one top-level field by key.
func (m *Manager) Unset(key string) error {
	return m.Set(key, "")
}

// GetField returns one field's value by key, for `config get <key>`.
func (m *Manager) GetField(key string) (string, error) {
	switch key {
	case "server":
		return m.cfg.Server, nil
	case "webUrl":
		return m.cfg.WebURL, nil
	case "userId":
		return m.cfg.UserID, nil
	case "authToken":
		return m.cfg.AuthToken, nil
	case "refreshToken":
		return m.cfg.RefreshToken, nil
	case "instanceLabel":
		return m.cfg.InstanceLabel, nil
	case "cognitoUserPoolId":
		return m.cfg.CognitoUserPoolID, nil
	case "cognitoClientId":
		return m.cfg.CognitoClientID, nil
	case "cognitoRegion":
		return m.cfg.CognitoRegion, nil
	default:
		return "", fmt.Errorf("config: unknown key %q", key)
	}
}
