package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"devicehub/internal/bootstrap/logging"
	"devicehub/internal/cache"
	"devicehub/internal/domain/user"
	"devicehub/internal/errs"
	"devicehub/internal/usecase/usermgmt"
)

// UserService is the part of usermgmt.Service the router exposes.
type UserService interface {
	GetUser(ctx context.Context, username string) (user.User, error)
	GetGrantedAuthorities(ctx context.Context, username string) ([]user.GrantedAuthority, error)
	CreateUser(ctx context.Context, input usermgmt.CreateUserInput) (user.User, error)
	UpdateUser(ctx context.Context, input usermgmt.UpdateUserInput) (user.User, error)
	DeleteUser(ctx context.Context, username string) error
	SetUserAuthorities(ctx context.Context, username string, authorities []string) ([]user.GrantedAuthority, error)
	CreateGrantedAuthority(ctx context.Context, input usermgmt.CreateAuthorityInput) (user.GrantedAuthority, error)
	ListAuthorities(ctx context.Context) ([]user.GrantedAuthority, error)
	FlushCache(ctx context.Context, cacheID string) error
	CacheStats() []cache.Stats
}

var _ UserService = (*usermgmt.Service)(nil)

type handler struct {
	svc    UserService
	logCtx context.Context
}

// NewRouter mounts the user management API. gatherer may be nil, in which case
// /metrics is not served.
func NewRouter(ctx context.Context, svc UserService, gatherer prometheus.Gatherer) http.Handler {
	h := &handler{
		svc:    svc,
		logCtx: logging.Component(logging.Detach(ctx), "transport.http"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.requestLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/users", func(r chi.Router) {
		r.Post("/", h.createUser)
		r.Route("/{username}", func(r chi.Router) {
			r.Get("/", h.getUser)
			r.Put("/", h.updateUser)
			r.Delete("/", h.deleteUser)
			r.Get("/authorities", h.getGrantedAuthorities)
			r.Put("/authorities", h.setUserAuthorities)
		})
	})
	r.Route("/authorities", func(r chi.Router) {
		r.Get("/", h.listAuthorities)
		r.Post("/", h.createAuthority)
	})
	r.Route("/caches", func(r chi.Router) {
		r.Get("/", h.cacheStats)
		r.Post("/{id}/flush", h.flushCache)
	})

	return r
}

func (h *handler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		logging.Debug(h.logCtx, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// UserResponse is the wire form of a user. It never carries the password hash.
type UserResponse struct {
	Username  string            `json:"username"`
	FirstName string            `json:"first_name,omitempty"`
	LastName  string            `json:"last_name,omitempty"`
	Status    string            `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

type AuthorityResponse struct {
	Authority   string `json:"authority"`
	Description string `json:"description,omitempty"`
	Parent      string `json:"parent,omitempty"`
	Group       bool   `json:"group,omitempty"`
}

type userRequest struct {
	Username       string            `json:"username"`
	HashedPassword string            `json:"hashed_password"`
	FirstName      string            `json:"first_name"`
	LastName       string            `json:"last_name"`
	Status         string            `json:"status"`
	Metadata       map[string]string `json:"metadata"`
	Authorities    []string          `json:"authorities"`
}

type authoritiesRequest struct {
	Authorities []string `json:"authorities"`
}

type authorityRequest struct {
	Authority   string `json:"authority"`
	Description string `json:"description"`
	Parent      string `json:"parent"`
	Group       bool   `json:"group"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.svc.GetUser(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToUserResponse(u))
}

func (h *handler) getGrantedAuthorities(w http.ResponseWriter, r *http.Request) {
	auths, err := h.svc.GetGrantedAuthorities(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToAuthorityResponses(auths))
}

func (h *handler) createUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decodeBody(w, r, &req) {
		return
	}

	u, err := h.svc.CreateUser(r.Context(), usermgmt.CreateUserInput{
		Username:       req.Username,
		HashedPassword: req.HashedPassword,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Status:         req.Status,
		Metadata:       req.Metadata,
		Authorities:    req.Authorities,
	})
	if err != nil && !errors.Is(err, usermgmt.ErrPublishFailed) {
		h.writeError(w, err)
		return
	}
	h.logPublishFailure(err)
	writeJSON(w, http.StatusCreated, ToUserResponse(u))
}

func (h *handler) updateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if !decodeBody(w, r, &req) {
		return
	}

	u, err := h.svc.UpdateUser(r.Context(), usermgmt.UpdateUserInput{
		Username:       chi.URLParam(r, "username"),
		HashedPassword: req.HashedPassword,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Status:         req.Status,
		Metadata:       req.Metadata,
	})
	if err != nil && !errors.Is(err, usermgmt.ErrPublishFailed) {
		h.writeError(w, err)
		return
	}
	h.logPublishFailure(err)
	writeJSON(w, http.StatusOK, ToUserResponse(u))
}

func (h *handler) deleteUser(w http.ResponseWriter, r *http.Request) {
	err := h.svc.DeleteUser(r.Context(), chi.URLParam(r, "username"))
	if err != nil && !errors.Is(err, usermgmt.ErrPublishFailed) {
		h.writeError(w, err)
		return
	}
	h.logPublishFailure(err)
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) setUserAuthorities(w http.ResponseWriter, r *http.Request) {
	var req authoritiesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	auths, err := h.svc.SetUserAuthorities(r.Context(), chi.URLParam(r, "username"), req.Authorities)
	if err != nil && !errors.Is(err, usermgmt.ErrPublishFailed) {
		h.writeError(w, err)
		return
	}
	h.logPublishFailure(err)
	writeJSON(w, http.StatusOK, ToAuthorityResponses(auths))
}

func (h *handler) listAuthorities(w http.ResponseWriter, r *http.Request) {
	auths, err := h.svc.ListAuthorities(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ToAuthorityResponses(auths))
}

func (h *handler) createAuthority(w http.ResponseWriter, r *http.Request) {
	var req authorityRequest
	if !decodeBody(w, r, &req) {
		return
	}

	created, err := h.svc.CreateGrantedAuthority(r.Context(), usermgmt.CreateAuthorityInput{
		Authority:   req.Authority,
		Description: req.Description,
		Parent:      req.Parent,
		Group:       req.Group,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ToAuthorityResponse(created))
}

func (h *handler) cacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.CacheStats())
}

func (h *handler) flushCache(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.FlushCache(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// logPublishFailure records a committed write whose invalidation did not reach
// the bus. The caller still gets the write's result.
func (h *handler) logPublishFailure(err error) {
	if err == nil {
		return
	}
	logging.Warn(h.logCtx, "write committed but invalidation not published", slog.Any("err", errs.Loggable(err)))
}

func (h *handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.Error(h.logCtx, "request failed", slog.Int("status", status), slog.Any("err", errs.Loggable(err)))
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errs.IsAny(err,
		cache.ErrInvalidKey,
		user.ErrUsernameRequired,
		user.ErrInvalidUsername,
		user.ErrAuthorityRequired,
		user.ErrInvalidAuthority,
		user.ErrInvalidStatus,
		usermgmt.ErrPasswordRequired,
	):
		return http.StatusBadRequest
	case errs.IsAny(err, user.ErrNotFound, usermgmt.ErrUnknownCache):
		return http.StatusNotFound
	case errors.Is(err, user.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, cache.ErrSourceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, usermgmt.ErrPublishFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func ToUserResponse(u user.User) UserResponse {
	return UserResponse{
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Status:    string(u.Status),
		Metadata:  u.Metadata,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func ToAuthorityResponse(a user.GrantedAuthority) AuthorityResponse {
	return AuthorityResponse{
		Authority:   a.Authority,
		Description: a.Description,
		Parent:      a.Parent,
		Group:       a.Group,
	}
}

func ToAuthorityResponses(in []user.GrantedAuthority) []AuthorityResponse {
	out := make([]AuthorityResponse, 0, len(in))
	for _, a := range in {
		out = append(out, ToAuthorityResponse(a))
	}
	return out
}
