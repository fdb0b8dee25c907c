// Package facilityhttp exposes facility registration and lookup.
package facilityhttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atlasfm/atlasfm/internal/facility"
	"github.com/atlasfm/atlasfm/internal/platform/httpx"
)

// FacilityService is the operation surface the handler needs.
type FacilityService interface {
	Register(ctx context.Context, in facility.RegisterInput) (facility.Facility, error)
	Depreciate(ctx context.Context, in facility.DepreciateInput) (facility.Facility, error)
	Get(ctx context.Context, id int64) (facility.Facility, error)
	List(ctx context.Context, filter facility.Filter) ([]facility.Facility, error)
	ListTypes(ctx context.Context) ([]facility.FacilityType, error)
}

// Handler serves facility endpoints.
type Handler struct {
	service FacilityService
	logger  *slog.Logger
}

// NewHandler constructs Handler.
func NewHandler(service FacilityService, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// MountRoutes attaches facility routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.register)
	r.Post("/{id}/depreciate", h.depreciate)
	r.Get("/types", h.listTypes)
	r.Get("/{id}", h.get)
	r.Get("/", h.list)
}

type registerRequest struct {
	ManagementNumber  string `json:"management_number"`
	SerialNumber      string `json:"serial_number"`
	Brand             string `json:"brand"`
	FacilityTypeID    int64  `json:"facility_type_id"`
	AcquisitionCost   string `json:"acquisition_cost"`
	LocationCompanyID int64  `json:"location_company_id"`
	OwnerCompanyID    int64  `json:"owner_company_id"`
	ActorID           int64  `json:"actor_id"`
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	cost, err := parseAmount(req.AcquisitionCost)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "acquisition_cost: "+err.Error())
		return
	}
	f, err := h.service.Register(r.Context(), facility.RegisterInput{
		ManagementNumber:  req.ManagementNumber,
		SerialNumber:      req.SerialNumber,
		Brand:             req.Brand,
		FacilityTypeID:    req.FacilityTypeID,
		AcquisitionCost:   cost,
		LocationCompanyID: req.LocationCompanyID,
		OwnerCompanyID:    req.OwnerCompanyID,
		ActorID:           req.ActorID,
	})
	if err != nil {
		h.logger.Warn("facility register", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, f)
}

type depreciateRequest struct {
	Amount  string `json:"amount"`
	ActorID int64  `json:"actor_id"`
}

func (h *Handler) depreciate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req depreciateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "amount: "+err.Error())
		return
	}
	f, err := h.service.Depreciate(r.Context(), facility.DepreciateInput{
		FacilityID: id,
		Amount:     amount,
		ActorID:    req.ActorID,
	})
	if err != nil {
		h.logger.Warn("facility depreciate", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, f)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	f, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, f)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := facility.Filter{
		FacilityTypeID:    queryInt64(q.Get("facility_type_id")),
		LocationCompanyID: queryInt64(q.Get("location_company_id")),
		OwnerCompanyID:    queryInt64(q.Get("owner_company_id")),
		Status:            facility.Status(q.Get("status")),
		ActiveOnly:        q.Get("active") == "true",
		Search:            q.Get("search"),
		Limit:             int(queryInt64(q.Get("limit"))),
		Offset:            int(queryInt64(q.Get("offset"))),
	}
	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("facility list", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) listTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.service.ListTypes(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, types)
}

func parseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

func queryInt64(raw string) int64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return v
}
