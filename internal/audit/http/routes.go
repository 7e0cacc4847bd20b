package audithttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/medicore/hms/internal/platform/httpx"
	"github.com/medicore/hms/internal/shared"
)

const rateLimit = 30
const rateWindow = time.Minute

// MountRoutes registers the audit log search endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(rateLimit, rateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Fail(w, http.StatusTooManyRequests, "Too many requests.", nil)
		}),
	)
	r.Group(func(gr chi.Router) {
		if h.guard != nil {
			gr.Use(h.guard)
		}
		gr.Use(limiter)
		gr.Get("/rbac/audit-logs", h.handleSearch)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if id, ok := shared.UserIDFromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(id, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
