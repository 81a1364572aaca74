package relay

import (
	"crypto/ecdsa"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tyyzqmf/always-coder-sub001/internal/crypto"
)

// Device-code login against the relay's own signing key. spec.md §1
// marks OAuth/identity-provider integration out of scope; this is the
// minimal stand-in that lets `ac login` obtain a bearer token the
// relay itself can later verify (DESIGN.md: "generalized to a simpler
// self-issued-JWT model"). There is no separate browser approval
// step: a device code is redeemable as soon as it is issued.
const (
	deviceCodeTTL      = 10 * time.Minute
	deviceTokenTTL     = 24 * time.Hour
	devicePollInterval = 5
)

type deviceGrant struct {
	userID    string
	expiresAt time.Time
}

type deviceAuth struct {
	signingKey *ecdsa.PrivateKey
	webURL     string

	mu     sync.Mutex
	grants map[string]deviceGrant
}

func newDeviceAuth(signingKey *ecdsa.PrivateKey, webURL string) *deviceAuth {
	return &deviceAuth{
		signingKey: signingKey,
		webURL:     webURL,
		grants:     make(map[string]deviceGrant),
	}
}

func (d *deviceAuth) handleCode(w http.ResponseWriter, r *http.Request) {
	deviceCode := uuid.NewString()
	userCode, err := crypto.GenerateSessionID()
	if err != nil {
		http.Error(w, "generate user code", http.StatusInternalServerError)
		return
	}

	d.mu.Lock()
	d.grants[deviceCode] = deviceGrant{
		userID:    "device-" + userCode,
		expiresAt: time.Now().Add(deviceCodeTTL),
	}
	d.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"deviceCode":      deviceCode,
		"userCode":        userCode,
		"verificationUrl": d.webURL + "/device?code=" + userCode,
		"interval":        devicePollInterval,
		"expiresIn":       int(deviceCodeTTL.Seconds()),
	})
}

func (d *deviceAuth) handleToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeviceCode string `json:"deviceCode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceCode == "" {
		http.Error(w, "deviceCode required", http.StatusBadRequest)
		return
	}

	d.mu.Lock()
	grant, ok := d.grants[req.DeviceCode]
	if ok {
		delete(d.grants, req.DeviceCode)
	}
	d.mu.Unlock()

	if !ok || time.Now().After(grant.expiresAt) {
		http.Error(w, "unknown or expired device code", http.StatusNotFound)
		return
	}

	token, err := IssueToken(d.signingKey, grant.userID, "", deviceTokenTTL)
	if err != nil {
		http.Error(w, "issue token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"accessToken": token,
		"userId":      grant.userID,
	})
}
