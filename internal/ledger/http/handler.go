// Package ledgerhttp exposes the movement ledger as a JSON API.
package ledgerhttp

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/atlasfm/atlasfm/internal/facility"
	"github.com/atlasfm/atlasfm/internal/ledger"
	"github.com/atlasfm/atlasfm/internal/platform/httpx"
)

// LedgerService is the operation surface the handler needs.
type LedgerService interface {
	Inbound(ctx context.Context, in ledger.InboundInput) (ledger.FacilityTransaction, error)
	Outbound(ctx context.Context, in ledger.OutboundInput) (ledger.FacilityTransaction, error)
	Move(ctx context.Context, in ledger.MoveInput) (ledger.FacilityTransaction, error)
	Rental(ctx context.Context, in ledger.RentalInput) (ledger.FacilityTransaction, error)
	Return(ctx context.Context, in ledger.ReturnInput) (ledger.FacilityTransaction, error)
	ServiceTransfer(ctx context.Context, in ledger.ServiceInput) (ledger.FacilityTransaction, error)
	Dispose(ctx context.Context, in ledger.DisposeInput) (ledger.FacilityTransaction, error)
	Cancel(ctx context.Context, in ledger.CancelInput) (ledger.FacilityTransaction, error)
	Get(ctx context.Context, id int64) (ledger.FacilityTransaction, error)
	List(ctx context.Context, filter ledger.TransactionFilter) ([]ledger.FacilityTransaction, error)
}

// Handler serves ledger endpoints.
type Handler struct {
	service LedgerService
	logger  *slog.Logger
}

// NewHandler constructs Handler.
func NewHandler(service LedgerService, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// MountRoutes attaches ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/inbound", h.inbound)
	r.Post("/outbound", h.outbound)
	r.Post("/move", h.move)
	r.Post("/rental", h.rental)
	r.Post("/return", h.returnRental)
	r.Post("/service", h.serviceTransfer)
	r.Post("/dispose", h.dispose)
	r.Post("/{id}/cancel", h.cancel)
	r.Get("/{id}", h.get)
	r.Get("/", h.list)
}

type inboundRequest struct {
	FacilityID    int64  `json:"facility_id"`
	ToCompanyID   int64  `json:"to_company_id"`
	FromCompanyID int64  `json:"from_company_id"`
	StatusAfter   string `json:"status_after"`
	BatchID       string `json:"batch_id"`
	ActorID       int64  `json:"actor_id"`
	Notes         string `json:"notes"`
}

func (h *Handler) inbound(w http.ResponseWriter, r *http.Request) {
	var req inboundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	h.respond(w, "inbound", func(ctx context.Context) (ledger.FacilityTransaction, error) {
		return h.service.Inbound(ctx, ledger.InboundInput{
			FacilityID:    req.FacilityID,
			ToCompanyID:   req.ToCompanyID,
			FromCompanyID: req.FromCompanyID,
			StatusAfter:   facility.Status(req.StatusAfter),
			BatchID:       parseBatch(req.BatchID),
			ActorID:       req.ActorID,
			Notes:         req.Notes,
		})
	}, r)
}

type outboundRequest struct {
	FacilityID        int64  `json:"facility_id"`
	FromCompanyID     int64  `json:"from_company_id"`
	ToCompanyID       int64  `json:"to_company_id"`
	TransferOwnership bool   `json:"transfer_ownership"`
	StatusAfter       string `json:"status_after"`
	BatchID           string `json:"batch_id"`
	ActorID           int64  `json:"actor_id"`
	Notes             string `json:"notes"`
}

func (h *Handler) outbound(w http.ResponseWriter, r *http.Request) {
	var req outboundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	h.respond(w, "outbound", func(ctx context.Context) (ledger.FacilityTransaction, error) {
		return h.service.Outbound(ctx, ledger.OutboundInput{
			FacilityID:        req.FacilityID,
			FromCompanyID:     req.FromCompanyID,
			ToCompanyID:       req.ToCompanyID,
			TransferOwnership: req.TransferOwnership,
			StatusAfter:       facility.Status(req.StatusAfter),
			BatchID:           parseBatch(req.BatchID),
			ActorID:           req.ActorID,
			Notes:             req.Notes,
		})
	}, r)
}

type moveRequest struct {
	FacilityID    int64  `json:"facility_id"`
	FromCompanyID int64  `json:"from_company_id"`
	ToCompanyID   int64  `json:"to_company_id"`
	StatusAfter   string `json:"status_after"`
	BatchID       string `json:"batch_id"`
	ActorID       int64  `json:"actor_id"`
	Notes         string `json:"notes"`
}

func (h *Handler) move(w http.ResponseWriter, r *http.Request) {
	var req moveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	h.respond(w, "move", func(ctx context.Context) (ledger.FacilityTransaction, error) {
		return h.service.Move(ctx, ledger.MoveInput{
			FacilityID:    req.FacilityID,
			FromCompanyID: req.FromCompanyID,
			ToCompanyID:   req.ToCompanyID,
			StatusAfter:   facility.Status(req.StatusAfter),
			BatchID:       parseBatch(req.BatchID),
			ActorID:       req.ActorID,
			Notes:         req.Notes,
		})
	}, r)
}

type rentalRequest struct {
	FacilityID         int64  `json:"facility_id"`
	FromCompanyID      int64  `json:"from_company_id"`
	ToCompanyID        int64  `json:"to_company_id"`
	ExpectedReturnDate string `json:"expected_return_date"`
	StatusAfter        string `json:"status_after"`
	BatchID            string `json:"batch_id"`
	ActorID            int64  `json:"actor_id"`
	Notes              string `json:"notes"`
}

func (h *Handler) rental(w http.ResponseWriter, r *http.Request) {
	var req rentalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	expected, err := parseDate(req.ExpectedReturnDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "expected_return_date: "+err.Error())
		return
	}
	h.respond(w, "rental", func(ctx context.Context) (ledger.FacilityTransaction, error) {
		return h.service.Rental(ctx, ledger.RentalInput{
			FacilityID:         req.FacilityID,
			FromCompanyID:      req.FromCompanyID,
			ToCompanyID:        req.ToCompanyID,
			ExpectedReturnDate: expected,
			StatusAfter:        facility.Status(req.StatusAfter),
			BatchID:            parseBatch(req.BatchID),
			ActorID:            req.ActorID,
			Notes:              req.Notes,
		})
	}, r)
}

type returnRequest struct {
	FacilityID          int64  `json:"facility_id"`
	RentalTransactionID int64  `json:"rental_transaction_id"`
	ActualReturnDate    string `json:"actual_return_date"`
	StatusAfter         string `json:"status_after"`
	BatchID             string `json:"batch_id"`
	ActorID             int64  `json:"actor_id"`
	Notes               string `json:"notes"`
}

func (h *Handler) returnRental(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	var actual *time.Time
	if req.ActualReturnDate != "" {
		parsed, err := parseDate(req.ActualReturnDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Body", "actual_return_date: "+err.Error())
			return
		}
		actual = &parsed
	}
	h.respond(w, "return", func(ctx context.Context) (ledger.FacilityTransaction, error) {
		return h.service.Return(ctx, ledger.ReturnInput{
			FacilityID:          req.FacilityID,
			RentalTransactionID: req.RentalTransactionID,
			ActualReturnDate:    actual,
			StatusAfter:         facility.Status(req.StatusAfter),
			BatchID:             parseBatch(req.BatchID),
			ActorID:             req.ActorID,
			Notes:               req.Notes,
		})
	}, r)
}

type serviceRequest struct {
	FacilityID           int64  `json:"facility_id"`
	ServiceRequestID     int64  `json:"service_request_id"`
	FromCompanyID        int64  `json:"from_company_id"`
	ToCompanyID          int64  `json:"to_company_id"`
	IsReturn             bool   `json:"is_return"`
	RelatedTransactionID int64  `json:"related_transaction_id"`
	StatusAfter          string `json:"status_after"`
	BatchID              string `json:"batch_id"`
	ActorID              int64  `json:"actor_id"`
	Notes                string `json:"notes"`
}

func (h *Handler) serviceTransfer(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	h.respond(w, "service", func(ctx context.Context) (ledger.FacilityTransaction, error) {
		return h.service.ServiceTransfer(ctx, ledger.ServiceInput{
			FacilityID:           req.FacilityID,
			ServiceRequestID:     req.ServiceRequestID,
			FromCompanyID:        req.FromCompanyID,
			ToCompanyID:          req.ToCompanyID,
			IsReturn:             req.IsReturn,
			RelatedTransactionID: req.RelatedTransactionID,
			StatusAfter:          facility.Status(req.StatusAfter),
			BatchID:              parseBatch(req.BatchID),
			ActorID:              req.ActorID,
			Notes:                req.Notes,
		})
	}, r)
}

type disposeRequest struct {
	FacilityID int64  `json:"facility_id"`
	ActorID    int64  `json:"actor_id"`
	Notes      string `json:"notes"`
}

func (h *Handler) dispose(w http.ResponseWriter, r *http.Request) {
	var req disposeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	h.respond(w, "dispose", func(ctx context.Context) (ledger.FacilityTransaction, error) {
		return h.service.Dispose(ctx, ledger.DisposeInput{
			FacilityID: req.FacilityID,
			ActorID:    req.ActorID,
			Notes:      req.Notes,
		})
	}, r)
}

type cancelRequest struct {
	Reason  string `json:"reason"`
	ActorID int64  `json:"actor_id"`
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req cancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	t, err := h.service.Cancel(r.Context(), ledger.CancelInput{
		TransactionID: id,
		Reason:        req.Reason,
		ActorID:       req.ActorID,
	})
	if err != nil {
		h.logger.Warn("ledger cancel", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	t, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, t)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ledger.TransactionFilter{
		FacilityID:     queryInt64(q.Get("facility_id")),
		FacilityTypeID: queryInt64(q.Get("facility_type_id")),
		FromCompanyID:  queryInt64(q.Get("from_company_id")),
		ToCompanyID:    queryInt64(q.Get("to_company_id")),
		Type:           ledger.TransactionType(q.Get("type")),
		BatchID:        parseBatch(q.Get("batch_id")),
		Limit:          int(queryInt64(q.Get("limit"))),
		Offset:         int(queryInt64(q.Get("offset"))),
	}
	if q.Get("exclude_cancelled") == "true" {
		filter.ExcludeCancelled = true
	}
	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list transactions", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) respond(w http.ResponseWriter, op string, fn func(ctx context.Context) (ledger.FacilityTransaction, error), r *http.Request) {
	t, err := fn(r.Context())
	if err != nil {
		h.logger.Warn("ledger "+op, slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, t)
}

func parseBatch(raw string) uuid.UUID {
	if raw == "" {
		return uuid.Nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil
	}
	return id
}

func parseDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02", raw, time.UTC)
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
