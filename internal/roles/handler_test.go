package roles_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medicore/hms/internal/platform/httpx"
	"github.com/medicore/hms/internal/rbac"
	"github.com/medicore/hms/internal/rbac/rbactest"
	"github.com/medicore/hms/internal/roles"
	"github.com/medicore/hms/internal/shared"
)

const (
	rootID  = 1
	adminID = 2
	nurseID = 3
)

type env struct {
	router http.Handler
	store  *rbactest.Store
	ids    map[rbac.PermissionName]int64
	nurse  rbac.Role
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := rbactest.NewStore()
	ids := store.AddRegistry(rbac.DefaultRegistry())
	super := store.AddRole(rbac.Role{Name: rbac.RoleSuperAdmin, Slug: "super-admin", Priority: 100, IsSystem: true, IsSuperAdmin: true})
	admin := store.AddRole(rbac.Role{Name: "Hospital Admin", Slug: "hospital-admin", Priority: 100, IsSystem: true})
	nurse := store.AddRole(rbac.Role{Name: "Nurse", Slug: "nurse", Priority: 50})
	store.Bind(admin.ID, ids[rbac.PermManageRoles], ids[rbac.PermManageRolePermissions])
	store.Bind(nurse.ID, ids[rbac.PermViewPatients])
	store.AddUser(rbac.User{ID: rootID, Name: "Root", RoleID: &super.ID})
	store.AddUser(rbac.User{ID: adminID, Name: "Ada", RoleID: &admin.ID})
	store.AddUser(rbac.User{ID: nurseID, Name: "Nina", RoleID: &nurse.ID})

	resolver := rbac.NewResolver(store, rbac.NewMemoryCache(64, time.Minute), rbac.ResolverConfig{Logger: logger})
	service := rbac.NewService(store, resolver, rbac.DefaultDependencyRules(), nil, logger)
	mw := rbac.Middleware{Resolver: resolver, Logger: logger}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if id, err := strconv.ParseInt(req.Header.Get("X-User"), 10, 64); err == nil {
				req = req.WithContext(shared.ContextWithUserID(req.Context(), id))
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Use(mw.LoadSubject)
	roles.NewHandler(logger, service, mw).MountRoutes(r)
	return &env{router: r, store: store, ids: ids, nurse: nurse}
}

func (e *env) do(t *testing.T, user int64, method, path, body string) (*httptest.ResponseRecorder, httpx.Envelope) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-User", strconv.FormatInt(user, 10))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	var out httpx.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestListRoles(t *testing.T) {
	e := newEnv(t)
	rec, body := e.do(t, adminID, http.MethodGet, "/admin/roles", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)
	assert.Len(t, body.Data, 3)

	rec, body = e.do(t, nurseID, http.MethodGet, "/admin/roles", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, body.Success)
}

func TestCreateRoleEndpoint(t *testing.T) {
	e := newEnv(t)
	rec, body := e.do(t, adminID, http.MethodPost, "/admin/roles", `{"name":"Ward Manager","description":"Runs a ward"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	data := body.Data.(map[string]any)
	assert.Equal(t, "ward-manager", data["slug"])
	assert.EqualValues(t, 80, data["priority"])

	rec, body = e.do(t, adminID, http.MethodPost, "/admin/roles", `{"name":"super admin"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "This role is protected and cannot be created or assigned.", body.Message)

	rec, body = e.do(t, adminID, http.MethodPost, "/admin/roles", `{"name":""}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, body.Errors, "name")

	rec, _ = e.do(t, adminID, http.MethodPost, "/admin/roles", `{"name":"Night Director","is_super_admin":true}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, body = e.do(t, rootID, http.MethodPost, "/admin/roles", `{"name":"Night Director","is_super_admin":true}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, body.Errors, "is_super_admin")

	rec, _ = e.do(t, adminID, http.MethodPost, "/admin/roles", `{"name":"Porter","colour":"red"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 4, e.store.RoleCount())
}

func TestGetAndUpdateRole(t *testing.T) {
	e := newEnv(t)
	path := "/admin/roles/" + strconv.FormatInt(e.nurse.ID, 10)
	rec, body := e.do(t, adminID, http.MethodGet, path, "")
	require.Equal(t, http.StatusOK, rec.Code)
	detail := body.Data.(map[string]any)
	assert.Len(t, detail["permissions"], 1)

	rec, _ = e.do(t, adminID, http.MethodGet, "/admin/roles/abc", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = e.do(t, adminID, http.MethodGet, "/admin/roles/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body = e.do(t, adminID, http.MethodPut, path, `{"name":"Staff Nurse","description":"Ward nursing"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "staff-nurse", body.Data.(map[string]any)["slug"])
}

func TestDeleteRoleIsAlwaysForbidden(t *testing.T) {
	e := newEnv(t)
	for _, user := range []int64{rootID, adminID, nurseID, 0} {
		rec, body := e.do(t, user, http.MethodDelete, "/admin/roles/"+strconv.FormatInt(e.nurse.ID, 10), "")
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "Role deletion is currently disabled.", body.Message)
	}
	assert.Equal(t, 3, e.store.RoleCount())
}

func TestUpdateRolePermissionsEndpoint(t *testing.T) {
	e := newEnv(t)
	path := "/rbac/roles/" + strconv.FormatInt(e.nurse.ID, 10) + "/permissions"
	ids := []int64{e.ids[rbac.PermViewPatients], e.ids[rbac.PermEditPatients]}
	payload, _ := json.Marshal(map[string][]int64{"permissions": ids})

	rec, _ := e.do(t, adminID, http.MethodPut, path, string(payload))
	require.Equal(t, http.StatusOK, rec.Code)
	got, err := e.store.RolePermissionIDs(t.Context(), e.nurse.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, got)

	rec, body := e.do(t, adminID, http.MethodPost, path, `{"permissions":[`+strconv.FormatInt(e.ids[rbac.PermEditPatients], 10)+`]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, body.Errors, "permissions.edit-patients")

	rec, body = e.do(t, adminID, http.MethodPut, path, `{"permissions":[424242]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, body.Errors, "permissions")

	rec, _ = e.do(t, nurseID, http.MethodPut, path, `{"permissions":[]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	got, err = e.store.RolePermissionIDs(t.Context(), e.nurse.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, got)
}

func TestListPermissionsEndpoint(t *testing.T) {
	e := newEnv(t)
	rec, body := e.do(t, rootID, http.MethodGet, "/admin/permissions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	groups := body.Data.([]any)
	assert.Equal(t, "administration", groups[0].(map[string]any)["module"])
}
