package relay

import (
	"crypto/ecdsa"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Verifier validates a bearer token against an external identity
// provider and is the only surface that collaborator is expected to
// implement; OAuth/IdP integration itself is out of scope here.
type Verifier interface {
	Verify(token string) (userID, email string, err error)
}

// jwtVerifier verifies tokens the relay itself issued via IssueToken.
type jwtVerifier struct {
	pub *ecdsa.PublicKey
}

func (v *jwtVerifier) Verify(token string) (string, string, error) {
	return ValidateToken(v.pub, token)
}

// AuthGate attaches authentication results to connections and guards
// administrative/cross-session operations, plus a per-IP connection
// rate limiter (spec.md §4.7; SPEC_FULL.md §6 rate-limited upgrades).
type AuthGate struct {
	verifier Verifier

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewAuthGate builds an AuthGate around an external Verifier. If
// verifier is nil, a verifier backed by the relay's own signing key is
// used (the relay issuing and verifying its own post-login tokens).
func NewAuthGate(verifier Verifier, signingPub *ecdsa.PublicKey) *AuthGate {
	if verifier == nil && signingPub != nil {
		verifier = &jwtVerifier{pub: signingPub}
	}
	return &AuthGate{
		verifier: verifier,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Authenticate validates a bearer token presented as a query parameter
// on connect. An empty token is not an error: the connection remains
// unauthenticated (ownership defaults to "anonymous").
func (g *AuthGate) Authenticate(token string) (userID string, ok bool) {
	if token == "" || g.verifier == nil {
		return "", false
	}
	uid, _, err := g.verifier.Verify(token)
	if err != nil || uid == "" {
		return "", false
	}
	return uid, true
}

// AllowConnect rate-limits new WS upgrades per source IP: 5 per second,
// burst 10, mirroring the teacher relay's per-IP RateLimiter shape.
func (g *AuthGate) AllowConnect(r *http.Request) bool {
	ip := clientIP(r)
	g.mu.Lock()
	lim, ok := g.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(5), 10)
		g.limiters[ip] = lim
	}
	g.mu.Unlock()
	return lim.Allow()
}

// StartLimiterSweep runs every 5 minutes and drops each per-IP limiter
// whose token bucket has refilled to its full burst of 10, so the map
// does not grow unbounded.
func (g *AuthGate) StartLimiterSweep(stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			g.mu.Lock()
			for ip, lim := range g.limiters {
				if lim.TokensAt(time.Now()) >= 10 {
					delete(g.limiters, ip)
				}
			}
			g.mu.Unlock()
		}
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
