package rbac_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/medicore/hms/internal/audit"
	"github.com/medicore/hms/internal/rbac"
	"github.com/medicore/hms/internal/rbac/rbactest"
)

const (
	rootID  int64 = 1
	adminID int64 = 2
	nurseID int64 = 3
)

type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *recordingSink) Record(_ context.Context, entry audit.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *recordingSink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Action
	}
	return out
}

type fixture struct {
	store    *rbactest.Store
	resolver *rbac.Resolver
	service  *rbac.Service
	sink     *recordingSink
	ids      map[rbac.PermissionName]int64

	superRole rbac.Role
	adminRole rbac.Role
	nurseRole rbac.Role
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func ptr[T any](v T) *T { return &v }

// newFixture seeds a super admin (1), a hospital admin (2) and a nurse (3).
func newFixture(t *testing.T, cache rbac.Cache) *fixture {
	t.Helper()
	if cache == nil {
		cache = rbac.NewMemoryCache(128, time.Minute)
	}
	store := rbactest.NewStore()
	ids := store.AddRegistry(rbac.DefaultRegistry())
	resolver := rbac.NewResolver(store, cache, rbac.ResolverConfig{Logger: quietLogger()})
	sink := &recordingSink{}
	f := &fixture{
		store:    store,
		resolver: resolver,
		service:  rbac.NewService(store, resolver, rbac.DefaultDependencyRules(), sink, quietLogger()),
		sink:     sink,
		ids:      ids,
	}

	f.superRole = store.AddRole(rbac.Role{Name: rbac.RoleSuperAdmin, Slug: "super-admin", Priority: 100, IsSystem: true, IsSuperAdmin: true})
	f.adminRole = store.AddRole(rbac.Role{Name: "Hospital Admin", Slug: "hospital-admin", Priority: 100, IsSystem: true})
	f.nurseRole = store.AddRole(rbac.Role{Name: "Nurse", Slug: "nurse", Priority: 50, IsSystem: true})
	store.Bind(f.adminRole.ID, f.idsOf(
		rbac.PermManageUsers, rbac.PermManageRoles, rbac.PermManageRolePermissions,
		rbac.PermManageUserRoles, rbac.PermManageUserPermissions,
	)...)
	store.Bind(f.nurseRole.ID, f.idsOf(rbac.PermViewPatients, rbac.PermViewAppointments)...)

	store.AddUser(rbac.User{ID: rootID, Name: "Root", Email: "root@hospital.test", RoleID: ptr(f.superRole.ID), LegacyRole: "super-admin"})
	store.AddUser(rbac.User{ID: adminID, Name: "Ada", Email: "ada@hospital.test", RoleID: ptr(f.adminRole.ID), LegacyRole: "hospital-admin"})
	store.AddUser(rbac.User{ID: nurseID, Name: "Nina", Email: "nina@hospital.test", RoleID: ptr(f.nurseRole.ID), LegacyRole: "nurse"})
	return f
}

func (f *fixture) idsOf(names ...rbac.PermissionName) []int64 {
	out := make([]int64, len(names))
	for i, n := range names {
		out[i] = f.ids[n]
	}
	return out
}

func (f *fixture) subject(t *testing.T, id int64) rbac.Subject {
	t.Helper()
	subject, err := f.resolver.Subject(context.Background(), id)
	require.NoError(t, err)
	return subject
}
