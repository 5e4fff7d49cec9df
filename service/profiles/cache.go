// Package profiles resolves counterparty addresses to display identities.
package profiles

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/walletfeed/service/metrics"
)

// Profile is the public identity published for an address.
type Profile struct {
	Address     string    `json:"address"`
	DisplayName string    `json:"displayName,omitempty"`
	Avatar      string    `json:"avatar,omitempty"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Complete reports whether the profile has both a name and an avatar.
func (p Profile) Complete() bool {
	return p.DisplayName != "" && p.Avatar != ""
}

// Directory is the external source of public profiles.
type Directory interface {
	GetPublicProfile(ctx context.Context, address string) (Profile, error)
}

// Storage persists cached profiles across restarts. ReadProfile returns
// (nil, nil) when nothing is cached.
type Storage interface {
	ReadProfile(ctx context.Context, address string) (*Profile, error)
	WriteProfile(ctx context.Context, p Profile) error
}

// Cache is a two-level (memory, then Storage) cache in front of a Directory.
type Cache struct {
	directory Directory
	storage   Storage
	ttl       time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu      sync.RWMutex
	entries map[string]Profile
}

// NewCache creates a Cache. storage may be nil for a memory-only cache.
func NewCache(directory Directory, storage Storage, ttl time.Duration, m *metrics.Metrics, logger *slog.Logger) *Cache {
	return &Cache{
		directory: directory,
		storage:   storage,
		ttl:       ttl,
		now:       time.Now,
		metrics:   m,
		logger:    logger,
		entries:   make(map[string]Profile),
	}
}

// WithClock replaces the clock used for freshness checks.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Resolve returns the profile for address. A cached profile is returned when
// it is complete and younger than the TTL; otherwise the directory is asked.
// When the directory fails, the best cached profile is returned with the
// error.
func (c *Cache) Resolve(ctx context.Context, address string) (Profile, error) {
	key := strings.ToLower(address)

	cached, ok := c.lookup(ctx, key)
	if ok && cached.Complete() && c.fresh(cached) {
		c.metrics.RecordProfileLookup("hit")
		return cached, nil
	}

	if ok {
		c.metrics.RecordProfileLookup("refresh")
	} else {
		c.metrics.RecordProfileLookup("miss")
	}

	fetched, err := c.directory.GetPublicProfile(ctx, address)
	if err != nil {
		c.metrics.RecordProfileLookup("error")
		if !ok {
			cached = Profile{Address: address}
		}
		return cached, fmt.Errorf("failed to fetch profile for %s: %w", address, err)
	}

	fetched.Address = address
	fetched.LastUpdated = c.now()
	c.store(ctx, key, fetched)
	return fetched, nil
}

func (c *Cache) fresh(p Profile) bool {
	return c.now().Sub(p.LastUpdated) < c.ttl
}

func (c *Cache) lookup(ctx context.Context, key string) (Profile, bool) {
	c.mu.RLock()
	p, ok := c.entries[key]
	c.mu.RUnlock()
	if ok || c.storage == nil {
		return p, ok
	}

	stored, err := c.storage.ReadProfile(ctx, key)
	if err != nil {
		c.logger.Warn("failed to read cached profile", "address", key, "error", err)
		return Profile{}, false
	}
	if stored == nil {
		return Profile{}, false
	}

	c.mu.Lock()
	c.entries[key] = *stored
	c.mu.Unlock()
	return *stored, true
}

// store updates memory and persists best-effort.
func (c *Cache) store(ctx context.Context, key string, p Profile) {
	c.mu.Lock()
	c.entries[key] = p
	c.mu.Unlock()

	if c.storage == nil {
		return
	}
	persisted := p
	persisted.Address = key
	if err := c.storage.WriteProfile(ctx, persisted); err != nil {
		c.logger.Warn("failed to persist profile", "address", key, "error", err)
	}
}
