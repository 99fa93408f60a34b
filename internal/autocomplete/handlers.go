package autocomplete

import (
	"encoding/json"
	"net/http"
	"strconv"

	reqctx "github.com/geosuggest/geosuggest/internal/pkg/context"
	apperrors "github.com/geosuggest/geosuggest/internal/pkg/errors"
	"github.com/geosuggest/geosuggest/internal/pkg/middleware"
	"github.com/geosuggest/geosuggest/internal/place"
)

// maxFeedbackBody caps the POST /feedback body.
const maxFeedbackBody = 64 << 10

// Handler provides HTTP handlers for the autocomplete pipeline.
type Handler struct {
	svc *Service
}

// NewHandler creates a new autocomplete handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// MessageResponse is the body of a successful POST /feedback.
type MessageResponse struct {
	Message string `json:"message"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// HandleAutocomplete handles GET /autocomplete?query=<text>.
func (h *Handler) HandleAutocomplete(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	if !values.Has("query") {
		apperrors.WriteError(w, apperrors.ValidationError("query parameter is required"))
		return
	}

	clientID := reqctx.GetClientID(r.Context())
	if clientID == "" {
		clientID = middleware.ClientIP(r, false)
	}

	results, err := h.svc.Autocomplete(r.Context(), clientID, values.Get("query"))
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}
	if results == nil {
		results = []place.Suggestion{}
	}

	writeJSON(w, http.StatusOK, results)
}

// HandleFeedback handles POST /feedback.
func (h *Handler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFeedbackBody)

	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteError(w, apperrors.InvalidRequestError("invalid request body: "+err.Error()))
		return
	}

	if err := h.svc.RecordFeedback(r.Context(), req); err != nil {
		apperrors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Feedback recorded successfully"})
}

// HandlePopular handles GET /popular?prefix=<p>&limit=<n>.
func (h *Handler) HandlePopular(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()

	limit := DefaultPopularLimit
	if raw := values.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > MaxPopularLimit {
			apperrors.WriteError(w, apperrors.ValidationError("limit must be between 1 and 100"))
			return
		}
		limit = n
	}

	results, err := h.svc.Popular(r.Context(), values.Get("prefix"), limit)
	if err != nil {
		apperrors.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, results)
}

// RegisterRoutes registers the pipeline routes with the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /autocomplete", h.HandleAutocomplete)
	mux.HandleFunc("POST /feedback", h.HandleFeedback)
	mux.HandleFunc("GET /popular", h.HandlePopular)
}
