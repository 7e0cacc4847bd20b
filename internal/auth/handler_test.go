package auth_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/medicore/hms/internal/audit"
	"github.com/medicore/hms/internal/auth"
	"github.com/medicore/hms/internal/platform/httpx"
	"github.com/medicore/hms/internal/shared"
	_ "github.com/medicore/hms/testing"
)

type stubRepo struct {
	user *auth.User
	err  error
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.user == nil || !strings.EqualFold(s.user.Email, email) {
		return nil, shared.ErrNotFound
	}
	return s.user, nil
}

type recordingSink struct {
	entries []audit.Entry
}

func (s *recordingSink) Record(_ context.Context, entry audit.Entry) {
	s.entries = append(s.entries, entry)
}

type authEnv struct {
	mr       *miniredis.Miniredis
	sessions *shared.SessionManager
	tokens   *auth.TokenIssuer
	sink     *recordingSink
	router   http.Handler
}

func newAuthEnv(t *testing.T, repo auth.Repository) *authEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := &authEnv{
		mr:       mr,
		sessions: shared.NewSessionManager(client, "hms_session", time.Hour, false),
		tokens:   auth.NewTokenIssuer("jwt-secret", time.Hour),
		sink:     &recordingSink{},
	}
	handler := auth.NewHandler(nil, auth.NewService(repo), env.tokens, env.sessions, shared.NewCSRFManager("csrf-secret"), env.sink)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			sess, err := env.sessions.Load(req.Context(), req)
			require.NoError(t, err)
			ctx := shared.ContextWithSession(req.Context(), sess)
			next.ServeHTTP(w, req.WithContext(ctx))
			require.NoError(t, env.sessions.Commit(ctx, w, sess))
		})
	})
	r.Route("/auth", handler.MountRoutes)
	env.router = r
	return env
}

func (e *authEnv) post(t *testing.T, path, body string) (*httptest.ResponseRecorder, httpx.Envelope) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	var env httpx.Envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func activeUser(t *testing.T) *auth.User {
	t.Helper()
	hashed, err := bcrypt.GenerateFromPassword([]byte("correctpass"), bcrypt.MinCost)
	require.NoError(t, err)
	return &auth.User{ID: 7, Name: "Nina", Email: "nina@hospital.test", PasswordHash: string(hashed), IsActive: true}
}

func TestLoginIssuesTokenAndSession(t *testing.T) {
	env := newAuthEnv(t, &stubRepo{user: activeUser(t)})

	rec, body := env.post(t, "/auth/login", `{"email":"nina@hospital.test","password":"correctpass"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)

	data := body.Data.(map[string]any)
	assert.NotEmpty(t, data["csrf_token"])
	id, err := env.tokens.Parse(data["token"].(string))
	require.NoError(t, err)
	assert.EqualValues(t, 7, id)
	assert.NotContains(t, rec.Body.String(), "password_hash")

	keys := env.mr.Keys()
	require.Len(t, keys, 1)
	assert.True(t, strings.HasPrefix(keys[0], "hms:session:"))

	require.Len(t, env.sink.entries, 1)
	assert.Equal(t, "auth.login", env.sink.entries[0].Action)
}

func TestLoginInvalidCredentials(t *testing.T) {
	user := activeUser(t)
	env := newAuthEnv(t, &stubRepo{user: user})

	rec, body := env.post(t, "/auth/login", `{"email":"nina@hospital.test","password":"wrongpass"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "These credentials do not match our records.", body.Message)
	assert.Empty(t, env.mr.Keys())
	require.Len(t, env.sink.entries, 1)
	assert.Equal(t, audit.SeverityWarning, env.sink.entries[0].Severity)

	rec, _ = env.post(t, "/auth/login", `{"email":"ghost@hospital.test","password":"correctpass"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	user.IsActive = false
	rec, _ = env.post(t, "/auth/login", `{"email":"nina@hospital.test","password":"correctpass"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginValidation(t *testing.T) {
	env := newAuthEnv(t, &stubRepo{})
	rec, body := env.post(t, "/auth/login", `{"email":"not-an-email","password":"short"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, body.Errors, "email")
	assert.Contains(t, body.Errors, "password")

	rec, _ = env.post(t, "/auth/login", `{"email":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginRepositoryFailure(t *testing.T) {
	env := newAuthEnv(t, &stubRepo{err: errors.New("db down")})
	rec, body := env.post(t, "/auth/login", `{"email":"nina@hospital.test","password":"correctpass"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, body.Message, "db down")
}

func TestLogoutDestroysSession(t *testing.T) {
	env := newAuthEnv(t, &stubRepo{user: activeUser(t)})
	rec, _ := env.post(t, "/auth/login", `{"email":"nina@hospital.test","password":"correctpass"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	keys := env.mr.Keys()
	require.Len(t, keys, 1)
	sessionID := strings.TrimPrefix(keys[0], "hms:session:")

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: env.sessions.CookieName(), Value: sessionID})
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.mr.Keys())
}

func TestCSRFEndpointIssuesToken(t *testing.T) {
	env := newAuthEnv(t, &stubRepo{})
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/csrf", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "csrf_token")
	assert.Len(t, env.mr.Keys(), 1)
}
