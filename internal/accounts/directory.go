// Package accounts resolves account records with a read-through cache.
package accounts

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pulsegram/backend/internal/models"
)

// Store loads accounts from durable storage.
type Store interface {
	FindByID(ctx context.Context, id string) (models.Account, error)
}

// CachingLookup serves account reads from a Cache and falls back to the Store.
// Cache failures are logged and treated as misses.
type CachingLookup struct {
	store  Store
	cache  Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachingLookup wraps store with cache.
func NewCachingLookup(store Store, cache Cache, ttl time.Duration, logger *slog.Logger) *CachingLookup {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingLookup{store: store, cache: cache, ttl: ttl, logger: logger}
}

// Get returns the account with id.
func (l *CachingLookup) Get(ctx context.Context, id string) (models.Account, error) {
	key := cacheKey(id)

	raw, ok, err := l.cache.Get(key)
	if err != nil {
		l.logger.Warn("account cache read failed", "account_id", id, "error", err)
	}
	if ok {
		var acct models.Account
		if err := json.Unmarshal(raw, &acct); err == nil {
			return acct, nil
		}
	}

	acct, err := l.store.FindByID(ctx, id)
	if err != nil {
		return models.Account{}, err
	}

	if raw, err := json.Marshal(cachedAccount(acct)); err == nil {
		if err := l.cache.Set(key, raw, l.ttl); err != nil {
			l.logger.Warn("account cache write failed", "account_id", id, "error", err)
		}
	}
	return acct, nil
}

// Invalidate drops the cached copy of id.
func (l *CachingLookup) Invalidate(id string) {
	if err := l.cache.Delete(cacheKey(id)); err != nil {
		l.logger.Warn("account cache invalidate failed", "account_id", id, "error", err)
	}
}

func cacheKey(id string) string {
	return "account:" + id
}

// cachedAccount strips credentials before the record leaves the process.
func cachedAccount(acct models.Account) models.Account {
	acct.PasswordHash = ""
	return acct
}
