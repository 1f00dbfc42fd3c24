package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/devdazzlee/canton-clob/libs/auth"
)

const (
	defaultExpirySkew  = 30 * time.Second
	defaultFallbackTTL = 5 * time.Minute
)

// TokenSource is the identity-provider capability the operator calls to
// obtain a service credential. Issuance itself is an external concern.
type TokenSource interface {
	ServiceCredential(ctx context.Context) (string, error)
}

// CredentialCache holds the bearer credential for ledger calls. The cached
// value expires slightly before the credential's real expiry so a call never
// goes out with a token about to lapse.
type CredentialCache struct {
	mu          sync.Mutex
	source      TokenSource
	logger      *slog.Logger
	now         func() time.Time
	skew        time.Duration
	fallbackTTL time.Duration

	token  string
	expiry time.Time
}

func NewCredentialCache(source TokenSource, logger *slog.Logger) *CredentialCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialCache{
		source:      source,
		logger:      logger,
		now:         time.Now,
		skew:        defaultExpirySkew,
		fallbackTTL: defaultFallbackTTL,
	}
}

// Get returns the cached credential, fetching a fresh one when none is held
// or the held one has expired.
func (c *CredentialCache) Get(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.expiry) {
		return c.token, nil
	}

	token, err := c.source.ServiceCredential(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch service credential: %w", err)
	}

	expiry := c.now().Add(c.fallbackTTL)
	if exp, err := auth.TokenExpiry(token); err == nil {
		expiry = exp.Add(-c.skew)
	} else {
		c.logger.Debug("credential has no readable expiry, using fallback ttl", "ttl", c.fallbackTTL)
	}

	c.token = token
	c.expiry = expiry
	return token, nil
}

// Invalidate drops the cached credential so the next Get refetches. Called
// after the ledger reports the credential stale.
func (c *CredentialCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiry = time.Time{}
}
