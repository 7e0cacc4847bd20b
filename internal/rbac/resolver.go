package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL bounds how long an effective set may be served from cache.
const DefaultCacheTTL = 10 * time.Minute

type permissionSet map[string]struct{}

func (s permissionSet) has(name string) bool {
	_, ok := s[name]
	return ok
}

func (s permissionSet) sorted() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// ResolverConfig tunes a Resolver.
type ResolverConfig struct {
	TTL                time.Duration
	CaseSensitiveRoles bool
	Logger             *slog.Logger
	Metrics            *Metrics
}

// Resolver answers authorization questions for a Subject.
//
// Effective sets are cached under keys embedding a per-role and a per-user
// version counter. Clearing a cache bumps the counter, so every key built
// before the bump is unreachable from then on.
type Resolver struct {
	store         Store
	cache         Cache
	ttl           time.Duration
	caseSensitive bool
	logger        *slog.Logger
	metrics       *Metrics
	group         singleflight.Group
}

// NewResolver constructs a resolver. A nil cache disables cross-request caching.
func NewResolver(store Store, cache Cache, cfg ResolverConfig) *Resolver {
	if cache == nil {
		cache = NoopCache{}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:         store,
		cache:         cache,
		ttl:           cfg.TTL,
		caseSensitive: cfg.CaseSensitiveRoles,
		logger:        logger,
		metrics:       cfg.Metrics,
	}
}

// Subject loads the user and a snapshot of their role. A role_id pointing at
// a missing role yields a subject without a role.
func (r *Resolver) Subject(ctx context.Context, userID int64) (Subject, error) {
	user, err := r.store.GetUser(ctx, userID)
	if err != nil {
		if IsNotFound(err) {
			return Subject{}, ErrUnknownUser
		}
		return Subject{}, fmt.Errorf("load user %d: %w", userID, err)
	}
	subject := Subject{User: user}
	if user.RoleID == nil {
		return subject, nil
	}
	role, err := r.store.GetRole(ctx, *user.RoleID)
	switch {
	case err == nil:
		subject.Role = &role
	case IsNotFound(err):
		r.logger.Warn("user references missing role", slog.Int64("user_id", userID), slog.Int64("role_id", *user.RoleID))
	default:
		return Subject{}, fmt.Errorf("load role %d: %w", *user.RoleID, err)
	}
	return subject, nil
}

// HasPermission reports whether subject may perform name. Super admins are
// always allowed. Load failures are logged and deny.
func (r *Resolver) HasPermission(ctx context.Context, subject Subject, name PermissionName) bool {
	if subject.IsSuperAdmin() {
		r.metrics.decision("bypass")
		return true
	}
	set, err := r.effectiveSet(ctx, subject)
	if err != nil {
		r.logLoadFailure(subject, err)
		r.metrics.decision("error")
		return false
	}
	return r.decide(set.has(string(name)))
}

// HasAllPermissions reports whether subject holds every name. An empty list is satisfied.
func (r *Resolver) HasAllPermissions(ctx context.Context, subject Subject, names ...PermissionName) bool {
	if subject.IsSuperAdmin() {
		r.metrics.decision("bypass")
		return true
	}
	if len(names) == 0 {
		return true
	}
	set, err := r.effectiveSet(ctx, subject)
	if err != nil {
		r.logLoadFailure(subject, err)
		r.metrics.decision("error")
		return false
	}
	for _, name := range names {
		if !set.has(string(name)) {
			return r.decide(false)
		}
	}
	return r.decide(true)
}

// HasAnyPermission reports whether subject holds at least one name. An empty list is not satisfied.
func (r *Resolver) HasAnyPermission(ctx context.Context, subject Subject, names ...PermissionName) bool {
	if subject.IsSuperAdmin() {
		r.metrics.decision("bypass")
		return true
	}
	if len(names) == 0 {
		return false
	}
	set, err := r.effectiveSet(ctx, subject)
	if err != nil {
		r.logLoadFailure(subject, err)
		r.metrics.decision("error")
		return false
	}
	for _, name := range names {
		if set.has(string(name)) {
			return r.decide(true)
		}
	}
	return r.decide(false)
}

// HasAnyRole reports whether subject's role matches one of names by name or slug.
func (r *Resolver) HasAnyRole(subject Subject, names ...string) bool {
	if subject.Role == nil {
		return false
	}
	for _, name := range names {
		if r.sameRole(subject.Role.Name, name) || r.sameRole(subject.Role.Slug, name) {
			return true
		}
	}
	return false
}

func (r *Resolver) sameRole(a, b string) bool {
	if r.caseSensitive {
		return a == b
	}
	return fold(a) == fold(b)
}

// CanManageUser reports whether actor may change target's role. Only super
// admins may.
func (r *Resolver) CanManageUser(actor, _ Subject) bool {
	return actor.IsSuperAdmin()
}

// EffectivePermissions returns the sorted effective set of subject. Super
// admins receive every stored permission.
func (r *Resolver) EffectivePermissions(ctx context.Context, subject Subject) ([]string, error) {
	if subject.IsSuperAdmin() {
		perms, err := r.store.ListPermissions(ctx)
		if err != nil {
			return nil, err
		}
		names := make([]string, 0, len(perms))
		for _, p := range perms {
			names = append(names, p.Name)
		}
		sort.Strings(names)
		return names, nil
	}
	set, err := r.effectiveSet(ctx, subject)
	if err != nil {
		return nil, err
	}
	return set.sorted(), nil
}

// ClearRoleCache invalidates the cached sets of every member of roleID.
func (r *Resolver) ClearRoleCache(ctx context.Context, roleID int64) error {
	memoFromContext(ctx).reset()
	if _, err := r.cache.Incr(ctx, versionKey("role", roleID)); err != nil {
		return fmt.Errorf("bump role %d version: %w", roleID, err)
	}
	return nil
}

// ClearUserCache invalidates the cached set of userID.
func (r *Resolver) ClearUserCache(ctx context.Context, userID int64) error {
	memoFromContext(ctx).forget(userID)
	if _, err := r.cache.Incr(ctx, versionKey("user", userID)); err != nil {
		return fmt.Errorf("bump user %d version: %w", userID, err)
	}
	if err := r.cache.DeleteByPrefix(ctx, userKeyPrefix(userID)); err != nil {
		r.logger.Warn("rbac cache prune", slog.Int64("user_id", userID), slog.Any("error", err))
	}
	return nil
}

func (r *Resolver) decide(allowed bool) bool {
	if allowed {
		r.metrics.decision("allow")
	} else {
		r.metrics.decision("deny")
	}
	return allowed
}

func (r *Resolver) logLoadFailure(subject Subject, err error) {
	r.logger.Error("rbac load effective permissions", slog.Int64("user_id", subject.ID()), slog.Any("error", err))
}

func userKeyPrefix(userID int64) string {
	return fmt.Sprintf("rbac:perms:user:%d:", userID)
}

func (r *Resolver) effectiveSet(ctx context.Context, subject Subject) (permissionSet, error) {
	memo := memoFromContext(ctx)
	if set, ok := memo.get(subject.ID()); ok {
		return set, nil
	}

	key, cacheable := r.cacheKey(ctx, subject)
	if cacheable {
		if payload, ok, err := r.cache.Get(ctx, key); err != nil {
			r.logger.Warn("rbac cache get", slog.String("key", key), slog.Any("error", err))
		} else if ok {
			var names []string
			if err := json.Unmarshal(payload, &names); err == nil {
				r.metrics.hit()
				set := toSet(names)
				memo.put(subject.ID(), set)
				return set, nil
			}
		}
	}
	r.metrics.miss()

	flightKey := key
	if !cacheable {
		flightKey = fmt.Sprintf("nocache:%d:%d", subject.ID(), subject.RoleID())
	}
	loadCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(flightKey, func() (any, error) {
		set, err := r.load(loadCtx, subject)
		if err != nil {
			return nil, err
		}
		if cacheable {
			r.writeCache(loadCtx, key, set)
		}
		return set, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		set := res.Val.(permissionSet)
		memo.put(subject.ID(), set)
		return set, nil
	}
}

// cacheKey reads both version counters before any store access, so a set
// loaded concurrently with a bump lands under the superseded key.
func (r *Resolver) cacheKey(ctx context.Context, subject Subject) (string, bool) {
	var roleVer int64
	if roleID := subject.RoleID(); roleID != 0 {
		ver, err := r.cache.Version(ctx, versionKey("role", roleID))
		if err != nil {
			r.logger.Warn("rbac cache version", slog.Int64("role_id", roleID), slog.Any("error", err))
			return "", false
		}
		roleVer = ver
	}
	userVer, err := r.cache.Version(ctx, versionKey("user", subject.ID()))
	if err != nil {
		r.logger.Warn("rbac cache version", slog.Int64("user_id", subject.ID()), slog.Any("error", err))
		return "", false
	}
	return fmt.Sprintf("%sr%d.%d:u%d", userKeyPrefix(subject.ID()), subject.RoleID(), roleVer, userVer), true
}

func (r *Resolver) load(ctx context.Context, subject Subject) (permissionSet, error) {
	set := make(permissionSet)
	if roleID := subject.RoleID(); roleID != 0 {
		names, err := r.store.RolePermissionNames(ctx, roleID)
		if err != nil {
			return nil, fmt.Errorf("role %d permissions: %w", roleID, err)
		}
		for _, name := range names {
			set[name] = struct{}{}
		}
	}
	overrides, err := r.store.UserOverrides(ctx, subject.ID())
	if err != nil {
		return nil, fmt.Errorf("user %d overrides: %w", subject.ID(), err)
	}
	for _, o := range overrides {
		switch o.Effect {
		case EffectGrant:
			set[o.Name] = struct{}{}
		case EffectRevoke:
			delete(set, o.Name)
		}
	}
	return set, nil
}

func (r *Resolver) writeCache(ctx context.Context, key string, set permissionSet) {
	payload, err := json.Marshal(set.sorted())
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, payload, r.ttl); err != nil {
		r.logger.Warn("rbac cache set", slog.String("key", key), slog.Any("error", err))
	}
}

func toSet(names []string) permissionSet {
	set := make(permissionSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}
