package protocols

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/careflow-scheduling/internal/apperr"
	"github.com/wolfman30/careflow-scheduling/internal/http/respond"
	"github.com/wolfman30/careflow-scheduling/pkg/logging"
)

// Handler serves the /protocols routes.
type Handler struct {
	service     *Service
	matcher     *Matcher
	recommender *Recommender
	logger      *logging.Logger
}

// NewHandler creates a protocols handler.
func NewHandler(service *Service, matcher *Matcher, recommender *Recommender, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{service: service, matcher: matcher, recommender: recommender, logger: logger}
}

// Routes mounts the protocol endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/match", h.Match)
	r.Post("/recommend", h.Recommend)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
}

// ListProtocolsResponse is the response for listing protocols.
type ListProtocolsResponse struct {
	Protocols []Protocol `json:"protocols"`
	Count     int        `json:"count"`
}

// List handles GET /protocols.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var filter ListFilter
	if raw := r.URL.Query().Get("active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			respond.Error(w, h.logger, apperr.Validation("protocols: list", "active must be true or false"))
			return
		}
		filter.Active = &active
	}

	list, err := h.service.List(r.Context(), filter)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	if list == nil {
		list = []Protocol{}
	}
	respond.JSON(w, http.StatusOK, ListProtocolsResponse{Protocols: list, Count: len(list)})
}

// Create handles POST /protocols.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateProtocolRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	p, err := h.service.Create(r.Context(), req)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, p)
}

// Get handles GET /protocols/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, p)
}

// Update handles PUT /protocols/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	var req UpdateProtocolRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	p, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, p)
}

type matchRequest struct {
	Symptoms []string `json:"symptoms"`
}

// Match handles POST /protocols/match.
func (h *Handler) Match(w http.ResponseWriter, r *http.Request) {
	var req matchRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	if len(CanonicalSymptoms(req.Symptoms)) == 0 {
		respond.Error(w, h.logger, apperr.Validation("protocols: match", "at least one symptom is required"))
		return
	}
	matches, err := h.matcher.Match(r.Context(), req.Symptoms)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"matches": matches, "count": len(matches)})
}

// Recommend handles POST /protocols/recommend.
func (h *Handler) Recommend(w http.ResponseWriter, r *http.Request) {
	var req RecommendRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	recs, err := h.recommender.Recommend(r.Context(), req)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]any{"recommendations": recs, "count": len(recs)})
}
