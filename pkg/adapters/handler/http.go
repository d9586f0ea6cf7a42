package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/wadjakorntonsri/fusly/pkg/core/domain"
	"github.com/wadjakorntonsri/fusly/pkg/ports"
)

type LinkHandler struct {
	links  ports.LinkService
	logger *zap.Logger
}

func NewLinkHandler(links ports.LinkService, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{links: links, logger: logger}
}

// ShortenRequest payload
type ShortenRequest struct {
	LongURL string `json:"long_url"`
	Vanity  string `json:"vanity,omitempty"`
}

// RetargetRequest payload
type RetargetRequest struct {
	LongURL string `json:"long_url"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Shorten creates a mapping, or returns the caller's existing one for the URL.
func (h *LinkHandler) Shorten(w http.ResponseWriter, r *http.Request) {
	var req ShortenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, domain.BadRequest("Invalid request body"))
		return
	}

	detail, err := h.links.Shorten(r.Context(), req.LongURL, req.Vanity, IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Redirect resolves the code and answers with a 302 to the long URL.
func (h *LinkHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	longURL, err := h.links.Resolve(r.Context(), r.PathValue("code"), requestMeta(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	http.Redirect(w, r, longURL, http.StatusFound)
}

// Visit resolves the code like Redirect but answers with JSON, for clients that
// follow the link themselves.
func (h *LinkHandler) Visit(w http.ResponseWriter, r *http.Request) {
	longURL, err := h.links.Resolve(r.Context(), r.PathValue("code"), requestMeta(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"long_url": longURL})
}

func (h *LinkHandler) Recent(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	details, err := h.links.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *LinkHandler) Popular(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	details, err := h.links.Popular(r.Context(), limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// List returns the caller's live mappings.
func (h *LinkHandler) List(w http.ResponseWriter, r *http.Request) {
	details, err := h.links.ListForOwner(r.Context(), IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (h *LinkHandler) Detail(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, h.logger, "id")
	if !ok {
		return
	}
	detail, err := h.links.MappingDetail(r.Context(), id, IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *LinkHandler) Retarget(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, h.logger, "id")
	if !ok {
		return
	}
	var req RetargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, domain.BadRequest("Invalid request body"))
		return
	}

	detail, err := h.links.Retarget(r.Context(), id, req.LongURL, IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *LinkHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, h.logger, "id")
	if !ok {
		return
	}
	if err := h.links.SoftDelete(r.Context(), id, IdentityFrom(r.Context())); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *LinkHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, true)
}

func (h *LinkHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.toggle(w, r, false)
}

func (h *LinkHandler) toggle(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := pathID(w, r, h.logger, "id")
	if !ok {
		return
	}
	shortURL, err := h.links.ToggleActive(r.Context(), id, IdentityFrom(r.Context()), active)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"short_url": shortURL, "active": active})
}

func (h *LinkHandler) Visitors(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, h.logger, "id")
	if !ok {
		return
	}
	visitors, err := h.links.VisitorsOf(r.Context(), id, IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, visitors)
}

func (h *LinkHandler) Visitor(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, h.logger, "id")
	if !ok {
		return
	}
	visitorID, ok := pathID(w, r, h.logger, "visitorID")
	if !ok {
		return
	}
	visitor, err := h.links.VisitorDetail(r.Context(), id, visitorID, IdentityFrom(r.Context()))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, visitor)
}

func (h *LinkHandler) Influential(w http.ResponseWriter, r *http.Request) {
	owners, err := h.links.InfluentialOwners(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, owners)
}

func pathID(w http.ResponseWriter, r *http.Request, logger *zap.Logger, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, logger, domain.BadRequest("Invalid %s", name))
		return 0, false
	}
	return id, true
}

func requestMeta(r *http.Request) domain.RequestMeta {
	return domain.RequestMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOf(kind domain.Kind) int {
	switch kind {
	case domain.KindBadRequest:
		return http.StatusBadRequest
	case domain.KindUnauthorized:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindUnavailable:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err as {"error", "message"}. Internal errors are logged;
// only their caller-safe message leaves the process.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	kind := domain.KindOf(err)
	if kind == domain.KindInternal {
		logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, statusOf(kind), errorResponse{Error: kind.String(), Message: domain.MessageOf(err)})
}
