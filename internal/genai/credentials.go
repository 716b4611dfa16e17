package genai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/eternisai/enchanted-chat/internal/logger"
)

const (
	// validationTTL is how long a probe outcome is trusted.
	validationTTL = time.Hour

	// credKeyPrefix is the syntactic marker of a provider API key.
	credKeyPrefix = "AIza"

	credKeyMinLen = 39
	credKeyMaxLen = 100
)

// ClientFactory builds an upstream client bound to one credential.
type ClientFactory func(credential string) Client

// clientEntry pairs a cached client with its recency for LRU eviction.
type clientEntry struct {
	client     Client
	lastAccess time.Time
}

// validationEntry caches the outcome of a semantic probe.
type validationEntry struct {
	valid      bool
	reason     string
	observedAt time.Time
}

// CredentialCache resolves bring-your-own-key credentials to upstream
// clients. Client-supplied keys are validated syntactically, probed once
// against the provider, and cached by fingerprint with LRU eviction. The
// server credential's client is a singleton and never evicted.
type CredentialCache struct {
	mu         sync.Mutex
	clients    map[string]*clientEntry
	validation map[string]*validationEntry

	serverClient Client
	factory      ClientFactory
	maxClients   int
	logger       *logger.Logger
	now          func() time.Time
}

// NewCredentialCache creates the cache around the server credential's client.
func NewCredentialCache(serverClient Client, factory ClientFactory, maxClients int, log *logger.Logger) *CredentialCache {
	if maxClients <= 0 {
		maxClients = 100
	}
	return &CredentialCache{
		clients:      make(map[string]*clientEntry),
		validation:   make(map[string]*validationEntry),
		serverClient: serverClient,
		factory:      factory,
		maxClients:   maxClients,
		logger:       log.WithComponent("credential-cache"),
		now:          time.Now,
	}
}

// Fingerprint returns the first 16 hex chars of SHA-256(credential).
// Used as a non-reversible cache key; the raw credential is never logged.
func Fingerprint(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])[:16]
}

// Sanitize renders a credential safe for logs: first4…last4.
func Sanitize(credential string) string {
	if len(credential) < 8 {
		return "****"
	}
	return credential[:4] + "…" + credential[len(credential)-4:]
}

// Get resolves a credential to a client. The second return value reports
// whether the client key was actually used; false means the server
// credential was used (no key supplied, or the key failed validation).
func (c *CredentialCache) Get(ctx context.Context, credential string) (Client, bool) {
	if credential == "" {
		return c.serverClient, false
	}

	if !validSyntax(credential) {
		c.logger.Warn("client credential failed syntactic validation, falling back",
			slog.String("credential", Sanitize(credential)))
		return c.serverClient, false
	}

	fp := Fingerprint(credential)

	c.mu.Lock()
	entry, known := c.validation[fp]
	if known && c.now().Sub(entry.observedAt) > validationTTL {
		delete(c.validation, fp)
		known = false
	}
	if known && !entry.valid {
		c.mu.Unlock()
		c.logger.Warn("client credential known invalid, falling back",
			slog.String("fingerprint", fp),
			slog.String("reason", entry.reason))
		return c.serverClient, false
	}
	client := c.getClientLocked(fp, credential)
	c.mu.Unlock()

	if known {
		return client, true
	}

	// First use of this fingerprint: probe the provider. Redundant probes
	// under concurrency are acceptable; the last writer wins.
	err := client.Probe(ctx)
	switch {
	case err == nil:
		c.storeValidation(fp, true, "")
	case IsAuthError(err):
		c.storeValidation(fp, false, err.Error())
		c.removeClient(fp)
		c.logger.Warn("client credential rejected by provider, falling back",
			slog.String("fingerprint", fp),
			slog.String("credential", Sanitize(credential)))
		return c.serverClient, false
	default:
		// Network or quota trouble says nothing about the key itself.
		c.logger.Warn("credential probe inconclusive, provisionally accepting",
			slog.String("fingerprint", fp),
			slog.String("error", err.Error()))
	}

	return client, true
}

// getClientLocked returns the cached client for fp, constructing and
// LRU-inserting one if needed. Caller holds c.mu.
func (c *CredentialCache) getClientLocked(fp, credential string) Client {
	if entry, ok := c.clients[fp]; ok {
		entry.lastAccess = c.now()
		return entry.client
	}

	if len(c.clients) >= c.maxClients {
		c.evictLRULocked()
	}

	client := c.factory(credential)
	c.clients[fp] = &clientEntry{client: client, lastAccess: c.now()}
	return client
}

// evictLRULocked drops the entry with the smallest lastAccess.
func (c *CredentialCache) evictLRULocked() {
	var lruFP string
	var lru time.Time

	for fp, entry := range c.clients {
		if lruFP == "" || entry.lastAccess.Before(lru) {
			lruFP = fp
			lru = entry.lastAccess
		}
	}

	if lruFP != "" {
		delete(c.clients, lruFP)
		c.logger.Debug("evicted LRU client", slog.String("fingerprint", lruFP))
	}
}

func (c *CredentialCache) storeValidation(fp string, valid bool, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validation[fp] = &validationEntry{valid: valid, reason: reason, observedAt: c.now()}
}

func (c *CredentialCache) removeClient(fp string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clients, fp)
}

// Size returns the number of cached clients.
func (c *CredentialCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// validSyntax checks the cheap structural properties of a provider key.
func validSyntax(credential string) bool {
	if len(credential) < credKeyMinLen || len(credential) > credKeyMaxLen {
		return false
	}
	if credential[:4] != credKeyPrefix {
		return false
	}
	for _, r := range credential {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}
