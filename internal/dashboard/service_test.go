package dashboard_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medicore/hms/internal/dashboard"
	"github.com/medicore/hms/internal/platform/httpx"
	"github.com/medicore/hms/internal/rbac"
	"github.com/medicore/hms/internal/rbac/rbactest"
	"github.com/medicore/hms/internal/shared"
)

type fixture struct {
	store *rbactest.Store
	ids   map[rbac.PermissionName]int64
	super rbac.Role
	admin rbac.Role
	nurse rbac.Role
}

func newFixture() fixture {
	store := rbactest.NewStore()
	ids := store.AddRegistry(rbac.DefaultRegistry())
	super := store.AddRole(rbac.Role{Name: rbac.RoleSuperAdmin, Slug: "super-admin", Priority: 100, IsSystem: true, IsSuperAdmin: true})
	admin := store.AddRole(rbac.Role{Name: "Hospital Admin", Slug: "hospital-admin", Priority: 100, IsSystem: true})
	nurse := store.AddRole(rbac.Role{Name: "Nurse", Slug: "nurse", Priority: 50, ParentRoleID: &admin.ID})
	store.Bind(nurse.ID, ids[rbac.PermViewPatients], ids[rbac.PermViewPermissionMatrix])
	store.AddUser(rbac.User{ID: 1, Name: "Root", RoleID: &super.ID})
	store.AddUser(rbac.User{ID: 2, Name: "Nina", RoleID: &nurse.ID})
	store.AddUser(rbac.User{ID: 3, Name: "Ned", RoleID: &nurse.ID})
	store.AddUser(rbac.User{ID: 4, Name: "Walk-in"})
	return fixture{store: store, ids: ids, super: super, admin: admin, nurse: nurse}
}

func TestRoleDistribution(t *testing.T) {
	f := newFixture()
	dist, err := dashboard.NewService(f.store).RoleDistribution(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, dist.TotalUsers)
	require.Len(t, dist.Roles, 4)
	assert.Equal(t, "Nurse", dist.Roles[0].Name)
	assert.Equal(t, 2, dist.Roles[0].Count)
	assert.InDelta(t, 50.0, dist.Roles[0].Percentage, 0.001)
	assert.Equal(t, rbac.RoleSuperAdmin, dist.Roles[1].Name)
	assert.InDelta(t, 25.0, dist.Roles[1].Percentage, 0.001)
	assert.Equal(t, "Hospital Admin", dist.Roles[2].Name)
	assert.Zero(t, dist.Roles[2].Percentage)

	last := dist.Roles[3]
	assert.Equal(t, dashboard.UnassignedLabel, last.Name)
	assert.Nil(t, last.RoleID)
	assert.Equal(t, 1, last.Count)
}

func TestRoleDistributionWithoutUsers(t *testing.T) {
	store := rbactest.NewStore()
	store.AddRole(rbac.Role{Name: "Nurse", Slug: "nurse"})
	dist, err := dashboard.NewService(store).RoleDistribution(context.Background())
	require.NoError(t, err)
	require.Len(t, dist.Roles, 1)
	assert.Zero(t, dist.Roles[0].Percentage)
}

func TestPermissionMatrix(t *testing.T) {
	f := newFixture()
	matrix, err := dashboard.NewService(f.store).PermissionMatrix(context.Background())
	require.NoError(t, err)

	total := 0
	for _, group := range matrix.Modules {
		total += len(group.Permissions)
	}
	assert.Equal(t, len(rbac.DefaultRegistry().Definitions()), total)

	byName := map[string]dashboard.MatrixRole{}
	for _, role := range matrix.Roles {
		byName[role.Name] = role
	}
	assert.Len(t, byName[rbac.RoleSuperAdmin].Permissions, total)
	assert.Empty(t, byName["Hospital Admin"].Permissions)
	assert.NotNil(t, byName["Hospital Admin"].Permissions)
	assert.ElementsMatch(t, []int64{f.ids[rbac.PermViewPatients], f.ids[rbac.PermViewPermissionMatrix]}, byName["Nurse"].Permissions)
	require.NotNil(t, byName["Nurse"].ParentRoleID)
	assert.Equal(t, f.admin.ID, *byName["Nurse"].ParentRoleID)
}

func TestReportsWrapStoreErrors(t *testing.T) {
	f := newFixture()
	boom := errors.New("boom")
	f.store.FailOn("Bindings", boom)
	_, err := dashboard.NewService(f.store).PermissionMatrix(context.Background())
	assert.ErrorIs(t, err, boom)

	f.store.FailOn("CountUsers", boom)
	_, err = dashboard.NewService(f.store).RoleDistribution(context.Background())
	assert.ErrorIs(t, err, boom)
}

func serve(t *testing.T, f fixture, user int64, path string) (int, httpx.Envelope) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resolver := rbac.NewResolver(f.store, nil, rbac.ResolverConfig{Logger: logger})
	mw := rbac.Middleware{Resolver: resolver, Logger: logger}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithUserID(req.Context(), user)))
		})
	})
	r.Use(mw.LoadSubject)
	dashboard.NewHandler(logger, dashboard.NewService(f.store), mw).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	var env httpx.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func TestDashboardRoutes(t *testing.T) {
	f := newFixture()

	code, env := serve(t, f, 2, "/rbac/permission-matrix")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, env.Data.(map[string]any), "modules")

	code, _ = serve(t, f, 2, "/rbac/role-distribution")
	assert.Equal(t, http.StatusForbidden, code)

	code, env = serve(t, f, 1, "/rbac/role-distribution")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 4, env.Data.(map[string]any)["total_users"])

	f.store.FailOn("ListRoles", errors.New("db down"))
	code, env = serve(t, f, 1, "/rbac/role-distribution")
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.NotContains(t, env.Message, "db down")

	code, _ = serve(t, f, 4, "/rbac/permission-matrix")
	assert.Equal(t, http.StatusForbidden, code, "users without a role are denied")
}
