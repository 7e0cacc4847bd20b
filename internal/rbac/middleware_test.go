package rbac_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medicore/hms/internal/platform/httpx"
	"github.com/medicore/hms/internal/rbac"
	"github.com/medicore/hms/internal/shared"
)

func serveAs(userID int64, handler http.Handler) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin/roles", nil)
	if userID != 0 {
		req = req.WithContext(shared.ContextWithUserID(req.Context(), userID))
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareRequireAny(t *testing.T) {
	f := newFixture(t, nil)
	mw := rbac.Middleware{Resolver: f.resolver, Audit: f.sink, Logger: quietLogger()}
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, found := rbac.SubjectFromContext(r.Context())
		require.True(t, found)
		httpx.OK(w, http.StatusOK, "", map[string]int64{"user": subject.ID()})
	})
	handler := mw.LoadSubject(mw.RequireAny(rbac.PermManageRoles)(ok))

	assert.Equal(t, http.StatusOK, serveAs(adminID, handler).Code)
	assert.Equal(t, http.StatusOK, serveAs(rootID, handler).Code)
	assert.Equal(t, http.StatusUnauthorized, serveAs(0, handler).Code)
	assert.Equal(t, http.StatusUnauthorized, serveAs(404, handler).Code)

	rec := serveAs(nurseID, handler)
	require.Equal(t, http.StatusForbidden, rec.Code)
	var body httpx.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, httpx.MessageForbidden, body.Message)
	assert.Equal(t, []string{"access.denied"}, f.sink.actions())
}

func TestMiddlewareRequireAllAndSuperAdmin(t *testing.T) {
	f := newFixture(t, nil)
	mw := rbac.Middleware{Resolver: f.resolver, Logger: quietLogger()}
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	all := mw.LoadSubject(mw.RequireAll(rbac.PermManageRoles, rbac.PermVoidBills)(ok))
	assert.Equal(t, http.StatusForbidden, serveAs(adminID, all).Code)
	assert.Equal(t, http.StatusNoContent, serveAs(rootID, all).Code)

	super := mw.LoadSubject(mw.RequireSuperAdmin(ok))
	assert.Equal(t, http.StatusForbidden, serveAs(adminID, super).Code)
	assert.Equal(t, http.StatusNoContent, serveAs(rootID, super).Code)

	authed := mw.LoadSubject(mw.RequireAuthenticated(ok))
	assert.Equal(t, http.StatusNoContent, serveAs(nurseID, authed).Code)
	assert.Equal(t, http.StatusUnauthorized, serveAs(0, authed).Code)
}
