package dashboard

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/medicore/hms/internal/platform/httpx"
	"github.com/medicore/hms/internal/rbac"
)

// Reports is the read model behind the dashboard endpoints.
type Reports interface {
	RoleDistribution(ctx context.Context) (Distribution, error)
	PermissionMatrix(ctx context.Context) (Matrix, error)
}

// Handler exposes the access-control reports.
type Handler struct {
	logger  *slog.Logger
	reports Reports
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, reports Reports, mw rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, reports: reports, rbac: mw}
}

// MountRoutes registers dashboard routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.With(h.rbac.RequireAny(rbac.PermViewPermissionMatrix)).Get("/rbac/permission-matrix", h.matrix)
	r.With(h.rbac.RequireAny(rbac.PermViewRBACDashboard)).Get("/rbac/role-distribution", h.distribution)
}

func (h *Handler) matrix(w http.ResponseWriter, r *http.Request) {
	matrix, err := h.reports.PermissionMatrix(r.Context())
	if err != nil {
		h.fail(w, "permission matrix", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", matrix)
}

func (h *Handler) distribution(w http.ResponseWriter, r *http.Request) {
	dist, err := h.reports.RoleDistribution(r.Context())
	if err != nil {
		h.fail(w, "role distribution", err)
		return
	}
	httpx.OK(w, http.StatusOK, "", dist)
}

func (h *Handler) fail(w http.ResponseWriter, report string, err error) {
	h.logger.Error("dashboard report failed", slog.String("report", report), slog.Any("error", err))
	httpx.RespondError(w, err)
}
