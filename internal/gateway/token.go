package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTokenTTL bounds how long an issued token can be redeemed.
const DefaultTokenTTL = 30 * time.Second

type tokenEntry struct {
	appID    string
	deviceID string
	expireAt time.Time
}

// TokenIssuer hands out single-use connection tokens.
type TokenIssuer struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	tokens map[string]tokenEntry
}

// NewTokenIssuer creates an issuer whose tokens expire after ttl.
func NewTokenIssuer(ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenIssuer{
		ttl:    ttl,
		now:    time.Now,
		tokens: make(map[string]tokenEntry),
	}
}

// Issue creates a token for the given client identity.
func (t *TokenIssuer) Issue(appID string, deviceID string) (string, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.pruneLocked(now)

	token := uuid.NewString()
	expireAt := now.Add(t.ttl)
	t.tokens[token] = tokenEntry{appID: appID, deviceID: deviceID, expireAt: expireAt}
	return token, expireAt
}

// Redeem consumes token. It reports false for unknown, used or expired tokens.
func (t *TokenIssuer) Redeem(token string) (string, bool) {
	if token == "" {
		return "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.tokens[token]
	if !ok {
		return "", false
	}
	delete(t.tokens, token)
	if !t.now().Before(entry.expireAt) {
		return "", false
	}
	return entry.deviceID, true
}

// Outstanding returns the number of tokens not yet redeemed or expired.
func (t *TokenIssuer) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneLocked(t.now())
	return len(t.tokens)
}

func (t *TokenIssuer) pruneLocked(now time.Time) {
	for token, entry := range t.tokens {
		if !now.Before(entry.expireAt) {
			delete(t.tokens, token)
		}
	}
}
