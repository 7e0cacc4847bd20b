package users

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/medicore/hms/internal/platform/httpx"
	"github.com/medicore/hms/internal/rbac"
)

// Admin changes a user's role and permission overrides.
type Admin interface {
	UpdateUserRole(ctx context.Context, actor rbac.Subject, userID, roleID int64) error
	UpdateUserPermissions(ctx context.Context, actor rbac.Subject, userID int64, permissionIDs []int64) error
	SetUserOverrides(ctx context.Context, actor rbac.Subject, userID int64, overrides []rbac.Override) error
}

// Authorizer resolves subjects and their effective permissions.
type Authorizer interface {
	Subject(ctx context.Context, userID int64) (rbac.Subject, error)
	EffectivePermissions(ctx context.Context, subject rbac.Subject) ([]string, error)
}

// Handler manages user management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	admin     Admin
	authz     Authorizer
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, admin Admin, authz Authorizer, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, admin: admin, authz: authz, rbac: rbac, validator: httpx.NewValidator()}
}

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAuthenticated).Get("/me", h.me)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermManageUsers, rbac.PermManageUserRoles, rbac.PermManageUserPermissions))
		r.Get("/admin/users", h.listUsers)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermManageUserPermissions))
		r.Get("/admin/users/{user}/permissions", h.userPermissions)
		r.Post("/admin/users/{user}/permissions", h.updateUserPermissions)
	})
	r.With(h.rbac.RequireAny(rbac.PermManageUserRoles)).Put("/rbac/users/{user}/role", h.updateUserRole)
}

type meResponse struct {
	User         rbac.User  `json:"user"`
	Role         *rbac.Role `json:"role,omitempty"`
	IsSuperAdmin bool       `json:"is_super_admin"`
	Permissions  []string   `json:"permissions"`
}

type userRoleRequest struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

type overrideRequest struct {
	PermissionID int64  `json:"permission_id" validate:"required,gt=0"`
	Effect       string `json:"effect" validate:"required,oneof=grant revoke"`
}

// userPermissionsRequest accepts either plain grants or explicit overrides.
type userPermissionsRequest struct {
	Permissions []int64           `json:"permissions" validate:"required_without=Overrides,dive,gt=0"`
	Overrides   []overrideRequest `json:"overrides" validate:"omitempty,dive"`
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	subject, _ := rbac.SubjectFromContext(r.Context())
	h.respondSubject(w, r, subject)
}

func (h *Handler) userPermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	subject, err := h.authz.Subject(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondSubject(w, r, subject)
}

func (h *Handler) respondSubject(w http.ResponseWriter, r *http.Request, subject rbac.Subject) {
	perms, err := h.authz.EffectivePermissions(r.Context(), subject)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if perms == nil {
		perms = []string{}
	}
	httpx.OK(w, http.StatusOK, "", meResponse{
		User:         subject.User,
		Role:         subject.Role,
		IsSuperAdmin: subject.IsSuperAdmin(),
		Permissions:  perms,
	})
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Search: q.Get("search")}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))
	if raw := q.Get("role_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			fields := httpx.FieldErrors{}
			fields.Add("role_id", "The role_id must be a number.")
			httpx.RespondError(w, fields)
			return
		}
		filter.RoleID = &id
	}
	page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", page)
}

func (h *Handler) updateUserRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := rbac.SubjectFromContext(r.Context())
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var req userRoleRequest
	if err := httpx.Bind(h.validator, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.admin.UpdateUserRole(r.Context(), actor, id, req.RoleID); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, "User role updated.", nil)
}

func (h *Handler) updateUserPermissions(w http.ResponseWriter, r *http.Request) {
	actor, _ := rbac.SubjectFromContext(r.Context())
	id, ok := userID(w, r)
	if !ok {
		return
	}
	var req userPermissionsRequest
	if err := httpx.Bind(h.validator, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	var err error
	if req.Overrides != nil {
		overrides := make([]rbac.Override, len(req.Overrides))
		for i, o := range req.Overrides {
			overrides[i] = rbac.Override{PermissionID: o.PermissionID, Effect: rbac.Effect(o.Effect)}
		}
		err = h.admin.SetUserOverrides(r.Context(), actor, id, overrides)
	} else {
		err = h.admin.UpdateUserPermissions(r.Context(), actor, id, req.Permissions)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, "User permissions updated.", nil)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusOf(err) >= http.StatusInternalServerError {
		h.logger.Error("users request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func userID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "user"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, rbac.ErrUnknownUser)
		return 0, false
	}
	return id, true
}
