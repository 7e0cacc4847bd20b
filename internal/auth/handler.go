package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/medicore/hms/internal/audit"
	"github.com/medicore/hms/internal/platform/httpx"
	"github.com/medicore/hms/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	tokens         *TokenIssuer
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	audit          audit.Sink
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, tokens *TokenIssuer, sessions *shared.SessionManager, csrf *shared.CSRFManager, sink audit.Sink) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Handler{
		logger:         logger,
		service:        service,
		tokens:         tokens,
		sessionManager: sessions,
		csrfManager:    csrf,
		audit:          sink,
		validator:      httpx.NewValidator(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.handleCSRF)
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type loginResponse struct {
	User      *User     `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	CSRFToken string    `json:"csrf_token,omitempty"`
}

func (h *Handler) handleCSRF(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrfManager.EnsureToken(shared.SessionFromContext(r.Context()))
	if err != nil {
		h.logger.Error("issue csrf token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, "", map[string]string{"csrf_token": token})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.Bind(h.validator, r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	user, err := h.service.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			h.audit.Record(r.Context(), audit.Entry{
				Action:      "auth.login_failed",
				Module:      "auth",
				Severity:    audit.SeverityWarning,
				Description: "Failed sign-in for " + req.Email,
				IP:          r.RemoteAddr,
			})
			httpx.Fail(w, http.StatusUnauthorized, "These credentials do not match our records.", nil)
			return
		}
		h.logger.Error("authenticate", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	token, expires, err := h.tokens.Issue(user)
	if err != nil {
		h.logger.Error("issue token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := loginResponse{User: user, Token: token, ExpiresAt: expires}

	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		if err := h.sessionManager.Renew(r.Context(), sess); err != nil {
			h.logger.Error("renew session", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		sess.SetUserID(user.ID)
		sess.Set(shared.CSRFSessionKey, "")
		if resp.CSRFToken, err = h.csrfManager.EnsureToken(sess); err != nil {
			h.logger.Warn("issue csrf token", slog.Any("error", err))
		}
	}

	userID := user.ID
	h.audit.Record(r.Context(), audit.Entry{
		UserID:      &userID,
		UserName:    user.Name,
		Action:      "auth.login",
		Module:      "auth",
		Severity:    audit.SeverityInfo,
		Description: "Signed in",
		IP:          r.RemoteAddr,
	})
	httpx.OK(w, http.StatusOK, "Signed in.", resp)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.sessionManager.Destroy(sess)
	}
	httpx.OK(w, http.StatusOK, "Signed out.", nil)
}
