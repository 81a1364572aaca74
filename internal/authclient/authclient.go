// Package authclient implements the CLI-side half of `ac login`: it
// fetches the relay's server config endpoint once, then polls an
// external identity provider's device-code endpoint for a token. The
// identity provider itself is out of scope (spec.md §1); this package
// only implements the polling shape the CLI needs against it.
package authclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ServerConfig is the payload served at GET {webUrl}/api/config.json
// (spec.md §6).
type ServerConfig struct {
	Server  string `json:"server"`
	WebURL  string `json:"webUrl"`
	Cognito struct {
		UserPoolID string `json:"userPoolId"`
		ClientID   string `json:"clientId"`
		Region     string `json:"region"`
	} `json:"cognito"`
}

// FetchServerConfig retrieves the relay's bootstrap config, consumed
// once by login to seed the client (spec.md §6).
func FetchServerConfig(webURL string) (ServerConfig, error) {
	resp, err := http.Get(webURL + "/api/config.json")
	if err != nil {
		return ServerConfig{}, fmt.Errorf("authclient: fetch server config: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ServerConfig{}, fmt.Errorf("authclient: server config returned %s", resp.Status)
	}
	var cfg ServerConfig
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("authclient: decode server config: %w", err)
	}
	return cfg, nil
}

// DeviceCode is returned by the identity provider to start a login.
type DeviceCode struct {
	DeviceCode      string `json:"deviceCode"`
	UserCode        string `json:"userCode"`
	VerificationURL string `json:"verificationUrl"`
	IntervalSeconds int    `json:"interval"`
	ExpiresInSeconds int   `json:"expiresIn"`
}

// TokenResult is the identity provider's successful token response.
type TokenResult struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
}

// ErrAuthorizationPending is returned by PollForToken while the user
// has not yet completed the browser-side approval.
var ErrAuthorizationPending = errors.New("authclient: authorization pending")

// RequestDeviceCode starts a device-code login against the provider.
func RequestDeviceCode(webURL string) (DeviceCode, error) {
	resp, err := http.Post(webURL+"/api/device/code", "application/json", bytes.NewReader(nil))
	if err != nil {
		return DeviceCode{}, fmt.Errorf("authclient: request device code: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return DeviceCode{}, fmt.Errorf("authclient: device code request returned %s", resp.Status)
	}
	var dc DeviceCode
	if err := json.NewDecoder(resp.Body).Decode(&dc); err != nil {
		return DeviceCode{}, fmt.Errorf("authclient: decode device code: %w", err)
	}
	return dc, nil
}

// PollForToken polls the provider once for a completed login.
func PollForToken(webURL, deviceCode string) (TokenResult, error) {
	body, _ := json.Marshal(map[string]string{"deviceCode": deviceCode})
	resp, err := http.Post(webURL+"/api/device/token", "application/json", bytes.NewReader(body))
	if err != nil {
		return TokenResult{}, fmt.Errorf("authclient: poll token: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var tok TokenResult
		if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
			return TokenResult{}, fmt.Errorf("authclient: decode token: %w", err)
		}
		return tok, nil
	case http.StatusAccepted:
		return TokenResult{}, ErrAuthorizationPending
	default:
		return TokenResult{}, fmt.Errorf("authclient: poll token returned %s", resp.Status)
	}
}

// Login runs the full device-code flow to completion or until the
// device code expires, polling at the provider-specified interval.
func Login(webURL string) (TokenResult, error) {
	dc, err := RequestDeviceCode(webURL)
	if err != nil {
		return TokenResult{}, err
	}

	interval := time.Duration(dc.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	deadline := time.Now().Add(time.Duration(dc.ExpiresInSeconds) * time.Second)
	if dc.ExpiresInSeconds <= 0 {
		deadline = time.Now().Add(10 * time.Minute)
	}

	for time.Now().Before(deadline) {
		tok, err := PollForToken(webURL, dc.DeviceCode)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, ErrAuthorizationPending) {
			return TokenResult{}, err
		}
		time.Sleep(interval)
	}
	return TokenResult{}, errors.New("authclient: device code expired")
}
