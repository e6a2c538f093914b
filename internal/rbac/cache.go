// AngelaMos | 2026
// cache.go

package rbac

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ResolverRepository is the read surface the cache needs to recompute a
// user's effective permissions.
type ResolverRepository interface {
	ActiveRoleAssignments(
		ctx context.Context,
		userID string,
	) ([]RoleAssignment, error)
	ActiveRolePermissions(
		ctx context.Context,
		roleIDs []string,
	) ([]RolePermission, error)
	ActiveOverrides(
		ctx context.Context,
		userID string,
	) ([]PermissionOverride, error)
}

type cacheEntry struct {
	effective Effective
	cachedAt  time.Time
}

// Cache memoizes resolver output per user for a short TTL. Every mutation
// that changes role/permission/override state must call Invalidate after
// the write commits; serving stale grants is the failure to avoid, extra
// recomputation is fine. Concurrent misses for the same user may each
// recompute — resolution is side-effect free.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	repo    ResolverRepository
	now     func() time.Time
}

const DefaultCacheTTL = 5 * time.Minute

func NewCache(repo ResolverRepository, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		repo:    repo,
		now:     time.Now,
	}
}

// Effective returns the user's effective permission set, recomputing
// through the repository on miss, expiry, or forceRefresh.
func (c *Cache) Effective(
	ctx context.Context,
	userID string,
	forceRefresh bool,
) (*Effective, error) {
	if !forceRefresh {
		c.mu.RLock()
		entry, ok := c.entries[userID]
		c.mu.RUnlock()

		if ok && c.now().Sub(entry.cachedAt) < c.ttl {
			eff := entry.effective
			return &eff, nil
		}
	}

	effective, err := c.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[userID] = cacheEntry{effective: effective, cachedAt: c.now()}
	c.mu.Unlock()

	return &effective, nil
}

func (c *Cache) resolve(ctx context.Context, userID string) (Effective, error) {
	assignments, err := c.repo.ActiveRoleAssignments(ctx, userID)
	if err != nil {
		return Effective{}, fmt.Errorf("load role assignments: %w", err)
	}

	roleIDs := make([]string, 0, len(assignments))
	for _, a := range assignments {
		roleIDs = append(roleIDs, a.RoleID)
	}

	var rolePerms []RolePermission
	if len(roleIDs) > 0 {
		rolePerms, err = c.repo.ActiveRolePermissions(ctx, roleIDs)
		if err != nil {
			return Effective{}, fmt.Errorf("load role permissions: %w", err)
		}
	}

	overrides, err := c.repo.ActiveOverrides(ctx, userID)
	if err != nil {
		return Effective{}, fmt.Errorf("load overrides: %w", err)
	}

	return Resolve(assignments, rolePerms, overrides, c.now()), nil
}

func (c *Cache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len is a diagnostic for the admin stats surface.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
