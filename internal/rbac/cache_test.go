// AngelaMos | 2026
// cache_test.go

package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolverRepo struct {
	assignments map[string][]RoleAssignment
	rolePerms   []RolePermission
	overrides   map[string][]PermissionOverride
	err         error

	resolveCalls int
}

func (f *fakeResolverRepo) ActiveRoleAssignments(
	_ context.Context,
	userID string,
) ([]RoleAssignment, error) {
	f.resolveCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.assignments[userID], nil
}

func (f *fakeResolverRepo) ActiveRolePermissions(
	_ context.Context,
	_ []string,
) ([]RolePermission, error) {
	return f.rolePerms, nil
}

func (f *fakeResolverRepo) ActiveOverrides(
	_ context.Context,
	userID string,
) ([]PermissionOverride, error) {
	return f.overrides[userID], nil
}

func newTestRepo() *fakeResolverRepo {
	medico := activeRole("r1", "medico")
	return &fakeResolverRepo{
		assignments: map[string][]RoleAssignment{
			"u1": {testAssignment("a1", medico, true)},
		},
		rolePerms: []RolePermission{testRolePerm("r1", "patients:read")},
		overrides: map[string][]PermissionOverride{},
	}
}

func TestCacheMemoizes(t *testing.T) {
	repo := newTestRepo()
	cache := NewCache(repo, time.Minute)

	first, err := cache.Effective(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"patients:read"}, first.Permissions)
	assert.Equal(t, 1, repo.resolveCalls)

	second, err := cache.Effective(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.Equal(t, first.Permissions, second.Permissions)
	assert.Equal(t, 1, repo.resolveCalls, "hit must not touch the repository")
}

func TestCacheForceRefresh(t *testing.T) {
	repo := newTestRepo()
	cache := NewCache(repo, time.Minute)

	_, err := cache.Effective(context.Background(), "u1", false)
	require.NoError(t, err)

	repo.rolePerms = append(repo.rolePerms, testRolePerm("r1", "queue:manage"))

	refreshed, err := cache.Effective(context.Background(), "u1", true)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.resolveCalls)
	assert.Equal(
		t,
		[]string{"patients:read", "queue:manage"},
		refreshed.Permissions,
	)
}

func TestCacheTTLExpiry(t *testing.T) {
	repo := newTestRepo()
	cache := NewCache(repo, time.Minute)

	current := testNow
	cache.now = func() time.Time { return current }

	_, err := cache.Effective(context.Background(), "u1", false)
	require.NoError(t, err)

	current = current.Add(30 * time.Second)
	_, err = cache.Effective(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.resolveCalls)

	current = current.Add(31 * time.Second)
	_, err = cache.Effective(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.resolveCalls)
}

func TestCacheInvalidate(t *testing.T) {
	repo := newTestRepo()
	repo.assignments["u2"] = repo.assignments["u1"]
	cache := NewCache(repo, time.Minute)

	_, err := cache.Effective(context.Background(), "u1", false)
	require.NoError(t, err)
	_, err = cache.Effective(context.Background(), "u2", false)
	require.NoError(t, err)
	assert.Equal(t, 2, cache.Len())

	cache.Invalidate("u1")
	assert.Equal(t, 1, cache.Len())

	_, err = cache.Effective(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.Equal(t, 3, repo.resolveCalls)

	cache.InvalidateAll()
	assert.Equal(t, 0, cache.Len())
}

func TestCacheRepositoryError(t *testing.T) {
	repo := newTestRepo()
	repo.err = errors.New("connection refused")
	cache := NewCache(repo, time.Minute)

	_, err := cache.Effective(context.Background(), "u1", false)
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len(), "errors must not be cached")
}

func TestCacheDefaultTTL(t *testing.T) {
	cache := NewCache(newTestRepo(), 0)
	assert.Equal(t, DefaultCacheTTL, cache.ttl)
}
