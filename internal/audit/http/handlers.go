package audithttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/medicore/hms/internal/audit"
	"github.com/medicore/hms/internal/platform/httpx"
)

// Searcher is the read side of the audit trail.
type Searcher interface {
	Search(ctx context.Context, filter audit.Filter) (audit.Page, error)
}

// Handler serves the activity log search.
type Handler struct {
	logger  *slog.Logger
	service Searcher
	guard   func(http.Handler) http.Handler
}

// NewHandler builds the audit log handler. guard authorizes every request
// before it reaches the search.
func NewHandler(logger *slog.Logger, service Searcher, guard func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, guard: guard}
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Severity: audit.Severity(q.Get("severity")),
		Module:   q.Get("module"),
		Search:   q.Get("search"),
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	page, err := h.service.Search(r.Context(), filter)
	if err != nil {
		if httpx.StatusOf(err) >= http.StatusInternalServerError {
			h.logger.Error("search audit logs", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	if page.Entries == nil {
		page.Entries = []audit.Entry{}
	}
	httpx.OK(w, http.StatusOK, "", page)
}
