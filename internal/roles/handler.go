// Package roles exposes role administration over HTTP.
package roles

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

// Admin is the role administration surface the handler drives.
type Admin interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	GetRole(ctx context.Context, id int64) (rbac.RoleDetail, error)
	CreateRole(ctx context.Context, actor rbac.Subject, in rbac.CreateRoleInput) (rbac.Role, error)
	UpdateRole(ctx context.Context, actor rbac.Subject, id int64, in rbac.UpdateRoleInput) (rbac.Role, error)
	DeleteRole(ctx context.Context, actor rbac.Subject, id int64) error
	ListPermissions(ctx context.Context) ([]rbac.PermissionGroup, error)
	UpdateRolePermissions(ctx context.Context, actor rbac.Subject, roleID int64, permissionIDs []int64) error
}

// Handler manages role management endpoints.
type Handler struct {
	logger    *slog.Logger
	admin     Admin
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, admin Admin, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, admin: admin, rbac: rbac, validator: httpx.NewValidator()}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/admin/roles", func(r chi.Router) {
		r.Delete("/{role}", h.deleteRole)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAny(rbac.PermManageRoles))
			r.Get("/", h.listRoles)
			r.Post("/", h.createRole)
			r.Get("/{role}", h.getRole)
			r.Put("/{role}", h.updateRole)
		})
	})
	r.With(h.rbac.RequireAny(rbac.PermManageRoles)).Get("/admin/permissions", h.listPermissions)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(rbac.PermManageRolePermissions))
		r.Put("/rbac/roles/{role}/permissions", h.updateRolePermissions)
		r.Post("/rbac/roles/{role}/permissions", h.updateRolePermissions)
	})
}

type createRoleRequest struct {
	Name         string `json:"name" validate:"required,max=100"`
	Description  string `json:"description" validate:"max=500"`
	IsSuperAdmin bool   `json:"is_super_admin"`
	ParentRoleID *int64 `json:"parent_role_id" validate:"omitempty,gt=0"`
}

type updateRoleRequest struct {
	Name         string `json:"name" validate:"required,max=100"`
	Description  string `json:"description" validate:"max=500"`
	ParentRoleID *int64 `json:"parent_role_id" validate:"omitempty,gt=0"`
}

type rolePermissionsRequest struct {
	Permissions []int64 `json:"permissions" validate:"required,dive,gt=0"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.admin.ListRoles(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if roles == nil {
		roles = []rbac.Role{}
	}
	httpx.OK(w, http.StatusOK, "", roles)
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := roleID(w, r)
	if !ok {
		return
	}
	detail, err := h.admin.GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", detail)
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	var req createRoleRequest
	if err := httpx.Bind(h.validator, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.admin.CreateRole(r.Context(), actor, rbac.CreateRoleInput{
		Name:         req.Name,
		Description:  req.Description,
		IsSuperAdmin: req.IsSuperAdmin,
		ParentRoleID: req.ParentRoleID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusCreated, "Role created.", role)
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := roleID(w, r)
	if !ok {
		return
	}
	var req updateRoleRequest
	if err := httpx.Bind(h.validator, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.admin.UpdateRole(r.Context(), actor, id, rbac.UpdateRoleInput{
		Name:         req.Name,
		Description:  req.Description,
		ParentRoleID: req.ParentRoleID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, "Role updated.", role)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	actor, _ := rbac.SubjectFromContext(r.Context())
	id, _ := strconv.ParseInt(chi.URLParam(r, "role"), 10, 64)
	h.fail(w, r, h.admin.DeleteRole(r.Context(), actor, id))
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	groups, err := h.admin.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if groups == nil {
		groups = []rbac.PermissionGroup{}
	}
	httpx.OK(w, http.StatusOK, "", groups)
}

func (h *Handler) updateRolePermissions(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(w, r)
	if !ok {
		return
	}
	id, ok := roleID(w, r)
	if !ok {
		return
	}
	var req rolePermissionsRequest
	if err := httpx.Bind(h.validator, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.admin.UpdateRolePermissions(r.Context(), actor, id, req.Permissions); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.OK(w, http.StatusOK, "Role permissions updated.", nil)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusOf(err) >= http.StatusInternalServerError {
		h.logger.Error("roles request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func actorFrom(w http.ResponseWriter, r *http.Request) (rbac.Subject, bool) {
	actor, ok := rbac.SubjectFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, httpx.ErrUnauthorized)
	}
	return actor, ok
}

func roleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "role"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, rbac.ErrNotFound)
		return 0, false
	}
	return id, true
}
