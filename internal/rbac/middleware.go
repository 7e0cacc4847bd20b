package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/medicore/hms/internal/audit"
	"github.com/medicore/hms/internal/platform/httpx"
	"github.com/medicore/hms/internal/shared"
)

// Middleware wires RBAC authorization helpers for HTTP handlers.
type Middleware struct {
	Resolver *Resolver
	Audit    audit.Sink
	Logger   *slog.Logger
}

// LoadSubject resolves the authenticated user id into a Subject and installs
// a per-request permission memo. Anonymous requests pass through untouched.
func (m Middleware) LoadSubject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithRequestMemo(r.Context())
		userID, ok := shared.UserIDFromContext(ctx)
		if !ok {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}
		subject, err := m.Resolver.Subject(ctx, userID)
		if err != nil {
			if IsNotFound(err) {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			m.logger().Error("rbac load subject", slog.Int64("user_id", userID), slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithSubject(ctx, subject)))
	})
}

// RequireAny ensures the current subject holds at least one of perms.
func (m Middleware) RequireAny(perms ...PermissionName) func(http.Handler) http.Handler {
	return m.require(perms, func(r *http.Request, subject Subject) bool {
		if len(perms) == 0 {
			return true
		}
		return m.Resolver.HasAnyPermission(r.Context(), subject, perms...)
	})
}

// RequireAll ensures the current subject holds every one of perms.
func (m Middleware) RequireAll(perms ...PermissionName) func(http.Handler) http.Handler {
	return m.require(perms, func(r *http.Request, subject Subject) bool {
		return m.Resolver.HasAllPermissions(r.Context(), subject, perms...)
	})
}

// RequireSuperAdmin admits only super admins.
func (m Middleware) RequireSuperAdmin(next http.Handler) http.Handler {
	return m.require(nil, func(_ *http.Request, subject Subject) bool {
		return subject.IsSuperAdmin()
	})(next)
}

// RequireAuthenticated rejects requests without a subject.
func (m Middleware) RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := SubjectFromContext(r.Context()); !ok {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m Middleware) require(perms []PermissionName, allowed func(*http.Request, Subject) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := SubjectFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if allowed(r, subject) {
				next.ServeHTTP(w, r)
				return
			}
			m.recordDenial(r, subject, perms)
			httpx.RespondError(w, ErrForbidden)
		})
	}
}

func (m Middleware) recordDenial(r *http.Request, subject Subject, perms []PermissionName) {
	if m.Audit == nil {
		return
	}
	required := make([]string, len(perms))
	for i, p := range perms {
		required[i] = string(p)
	}
	userID := subject.ID()
	m.Audit.Record(r.Context(), audit.Entry{
		UserID:      &userID,
		UserName:    subject.User.Name,
		Action:      "access.denied",
		Module:      "rbac",
		Severity:    audit.SeverityWarning,
		Description: r.Method + " " + r.URL.Path,
		Meta:        map[string]any{"required": strings.Join(required, ",")},
		IP:          r.RemoteAddr,
	})
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}
