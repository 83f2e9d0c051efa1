package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-push-service/pkg/push"
)

// KeyPrefix namespaces the per-owner token lists.
const KeyPrefix = "notify:tokens:"

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or an error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	DelPrefix(ctx context.Context, prefix string) error
}

// CachedDeviceStore is a Decorator that adds read-aside caching of active
// token lists to any push.DeviceRegistry.
// TouchToken and Update pass through: neither changes which tokens are active.
type CachedDeviceStore struct {
	push.DeviceRegistry
	cache  CacheClient
	ttl    time.Duration
	logger *slog.Logger
}

var _ push.DeviceRegistry = (*CachedDeviceStore)(nil)

// NewCachedDeviceStore creates the decorator.
func NewCachedDeviceStore(realStore push.DeviceRegistry, cache CacheClient, ttl time.Duration, logger *slog.Logger) *CachedDeviceStore {
	return &CachedDeviceStore{
		DeviceRegistry: realStore,
		cache:          cache,
		ttl:            ttl,
		logger:         logger.With("component", "CachedDeviceStore"),
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedDeviceStore) ActiveTokensForOwner(ctx context.Context, ownerID string) ([]string, error) {
	key := cacheKey(ownerID)

	var cached []string
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.DeviceRegistry.ActiveTokensForOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization; if Redis is down we just serve from the DB.
	if err := s.cache.Set(ctx, key, fresh, s.ttl); err != nil {
		s.logger.Debug("Failed to populate token cache", "owner", ownerID, "err", err)
	}
	return fresh, nil
}

// --- WRITE PATHS (Invalidate-on-Write) ---

// Register invalidates both the new owner and, when the token moves, the
// previous one.
func (s *CachedDeviceStore) Register(ctx context.Context, reg push.DeviceRegistration) (*push.DeviceToken, error) {
	previous, _ := s.DeviceRegistry.FindByToken(ctx, reg.Token)

	device, err := s.DeviceRegistry.Register(ctx, reg)
	if err != nil {
		return nil, err
	}

	owners := []string{reg.OwnerID}
	if previous != nil && previous.OwnerID != reg.OwnerID {
		owners = append(owners, previous.OwnerID)
	}
	s.invalidate(ctx, owners...)
	return device, nil
}

func (s *CachedDeviceStore) DeactivateToken(ctx context.Context, token string) (bool, error) {
	return s.writeThenInvalidate(ctx, token, s.DeviceRegistry.DeactivateToken)
}

func (s *CachedDeviceStore) Remove(ctx context.Context, token string) (bool, error) {
	return s.writeThenInvalidate(ctx, token, s.DeviceRegistry.Remove)
}

// Cleanup can touch any owner, so the whole namespace is dropped.
func (s *CachedDeviceStore) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	n, err := s.DeviceRegistry.Cleanup(ctx, olderThan)
	if n > 0 {
		if derr := s.cache.DelPrefix(ctx, KeyPrefix); derr != nil {
			s.logger.Warn("Failed to flush token cache after cleanup", "err", derr)
		}
	}
	return n, err
}

func (s *CachedDeviceStore) writeThenInvalidate(ctx context.Context, token string, write func(context.Context, string) (bool, error)) (bool, error) {
	device, _ := s.DeviceRegistry.FindByToken(ctx, token)

	found, err := write(ctx, token)
	if err != nil {
		return false, err
	}
	// Even if only the DB write mattered, the cache must go so sends stop immediately.
	if device != nil {
		s.invalidate(ctx, device.OwnerID)
	}
	return found, nil
}

// --- Helpers ---

func (s *CachedDeviceStore) invalidate(ctx context.Context, owners ...string) {
	keys := make([]string, 0, len(owners))
	for _, o := range owners {
		keys = append(keys, cacheKey(o))
	}
	if err := s.cache.Del(ctx, keys...); err != nil {
		s.logger.Warn("Failed to invalidate token cache", "owners", owners, "err", err)
	}
}

func cacheKey(ownerID string) string {
	return KeyPrefix + ownerID
}
