// Package closinghttp exposes the current-inventory read surface.
package closinghttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/atlasfm/atlasfm/internal/closing"
	"github.com/atlasfm/atlasfm/internal/platform/httpx"
)

// StatusService is the reconciliation surface the handler needs.
type StatusService interface {
	GetCurrentStatus(ctx context.Context, filter closing.StatusFilter, page, perPage int) (closing.StatusPage, error)
}

// Handler serves inventory status endpoints.
type Handler struct {
	service StatusService
	logger  *slog.Logger
}

// NewHandler constructs Handler.
func NewHandler(service StatusService, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// MountRoutes attaches inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/current", h.current)
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	filter := closing.StatusFilter{
		CompanyID:      queryInt64(r, "company_id"),
		FacilityTypeID: queryInt64(r, "facility_type_id"),
	}
	page := int(queryInt64(r, "page"))
	perPage := int(queryInt64(r, "per_page"))
	result, err := h.service.GetCurrentStatus(r.Context(), filter, page, perPage)
	if err != nil {
		h.logger.Error("current inventory status", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func queryInt64(r *http.Request, name string) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
