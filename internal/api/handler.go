package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/nidhogg/tenber/internal/ideas"
	"github.com/nidhogg/tenber/internal/vitality"
	"go.uber.org/zap"
)

// UserHeader carries the caller's identity, set by the auth proxy in front of the API.
const UserHeader = "X-User-ID"

type ctxKey struct{}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc     *ideas.Service
	metrics http.Handler
	ready   func(ctx context.Context) error
	logger  *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(svc *ideas.Service, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// SetMetricsHandler mounts h at /metrics.
func (h *Handler) SetMetricsHandler(mh http.Handler) { h.metrics = mh }

// SetReadiness makes /api/health report the result of check.
func (h *Handler) SetReadiness(check func(ctx context.Context) error) { h.ready = check }

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
		AllowCredentials: true,
	}))
	r.Use(identity)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Get("/ideas", h.listIdeas)
		r.Post("/ideas", h.createIdea)
		r.Get("/ideas/{id}", h.getIdea)
		r.Delete("/ideas/{id}", h.deleteIdea)
		r.Post("/ideas/{id}/stake", h.stake)

		// Discussion
		r.Get("/ideas/{id}/comments", h.listComments)
		r.Post("/ideas/{id}/comments", h.addComment)
		r.Delete("/comments/{id}", h.deleteComment)

		r.Get("/me", h.me)
		r.Get("/me/budget", h.budget)
		r.Put("/me/profile", h.updateProfile)
		r.Get("/users/{username}", h.userPage)

		r.Get("/vitality/tiers", h.tiers)
	})

	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}
	return r
}

func identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := strings.TrimSpace(r.Header.Get(UserHeader)); id != "" {
			r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, id))
		}
		next.ServeHTTP(w, r)
	})
}

// userID returns the caller's ID, or "" for anonymous requests.
func userID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			h.logger.Warn("readiness check failed",
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "tenber"})
}

func (h *Handler) listIdeas(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.svc.ListIdeas(r.Context(), ideas.ListFilter{
		Category: q.Get("category"),
		Search:   q.Get("q"),
		ViewerID: userID(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*ideas.Idea{}
	}
	writeJSON(w, http.StatusOK, list)
}

type createIdeaRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

func (h *Handler) createIdea(w http.ResponseWriter, r *http.Request) {
	var req createIdeaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	idea, err := h.svc.CreateIdea(r.Context(), userID(r), req.Title, req.Description, req.Category)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, idea)
}

func (h *Handler) getIdea(w http.ResponseWriter, r *http.Request) {
	idea, err := h.svc.GetIdea(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, idea)
}

func (h *Handler) deleteIdea(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteIdea(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type stakeRequest struct {
	Amount *float64 `json:"amount"`
}

func (h *Handler) stake(w http.ResponseWriter, r *http.Request) {
	var req stakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Amount == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "amount is required"})
		return
	}
	res, err := h.svc.Stake(r.Context(), userID(r), chi.URLParam(r, "id"), *req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) listComments(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Comments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*ideas.Comment{}
	}
	writeJSON(w, http.StatusOK, list)
}

type commentRequest struct {
	Content  string `json:"content"`
	ParentID string `json:"parent_id"`
}

func (h *Handler) addComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	c, err := h.svc.AddComment(r.Context(), userID(r), chi.URLParam(r, "id"), req.Content, req.ParentID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) deleteComment(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteComment(r.Context(), userID(r), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Me(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) budget(w http.ResponseWriter, r *http.Request) {
	remaining, err := h.svc.RemainingBudget(r.Context(), userID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{
		"budget":    h.svc.Budget(),
		"remaining": remaining,
	})
}

type profileRequest struct {
	Username string `json:"username"`
	Bio      string `json:"bio"`
}

func (h *Handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	p, err := h.svc.UpdateProfile(r.Context(), userID(r), req.Username, req.Bio)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) userPage(w http.ResponseWriter, r *http.Request) {
	page, err := h.svc.UserPage(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if page.Staked == nil {
		page.Staked = []*ideas.Idea{}
	}
	writeJSON(w, http.StatusOK, page)
}

type tierInfo struct {
	Tier  vitality.Tier `json:"tier"`
	Above float64       `json:"above"`
}

func (h *Handler) tiers(w http.ResponseWriter, r *http.Request) {
	out := make([]tierInfo, 0, len(vitality.Tiers))
	for _, t := range vitality.Tiers {
		out = append(out, tierInfo{Tier: t, Above: t.Floor()})
	}
	engine := h.svc.Engine()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"half_life_hours": engine.HalfLife().Hours(),
		"initial":         vitality.InitialVitality,
		"tiers":           out,
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ideas.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ideas.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ideas.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ideas.ErrOverBudget), errors.Is(err, ideas.ErrUsernameTaken):
		return http.StatusConflict
	case ideas.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeJSON encodes v before writing the header, so a value JSON cannot
// represent becomes a 500 instead of an empty success.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		data = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(append(data, '\n'))
}
