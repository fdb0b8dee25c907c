package closinghttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/atlasfm/atlasfm/internal/closing"
	"github.com/atlasfm/atlasfm/internal/platform/httpx"
	"github.com/atlasfm/atlasfm/internal/shared"
)

type stubStatusService struct {
	gotFilter  closing.StatusFilter
	gotPage    int
	gotPerPage int
	page       closing.StatusPage
	err        error
}

func (s *stubStatusService) GetCurrentStatus(ctx context.Context, filter closing.StatusFilter, page, perPage int) (closing.StatusPage, error) {
	s.gotFilter = filter
	s.gotPage = page
	s.gotPerPage = perPage
	return s.page, s.err
}

func newTestRouter(svc StatusService) chi.Router {
	r := chi.NewRouter()
	NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).MountRoutes(r)
	return r
}

func TestCurrentInventoryPassesFilterAndPaging(t *testing.T) {
	svc := &stubStatusService{page: closing.StatusPage{
		Items: []closing.CurrentInventoryStatus{{
			CompanyID:       3,
			FacilityTypeID:  7,
			BaseQuantity:    40,
			CurrentQuantity: 42,
			AsOf:            time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC),
		}},
	}}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/current?company_id=3&facility_type_id=7&page=2&per_page=25", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, closing.StatusFilter{CompanyID: 3, FacilityTypeID: 7}, svc.gotFilter)
	require.Equal(t, 2, svc.gotPage)
	require.Equal(t, 25, svc.gotPerPage)

	var body closing.StatusPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Items, 1)
	require.Equal(t, int64(42), body.Items[0].CurrentQuantity)
}

func TestCurrentInventoryIgnoresMalformedParams(t *testing.T) {
	svc := &stubStatusService{}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/current?company_id=abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, closing.StatusFilter{}, svc.gotFilter)
}

func TestCurrentInventoryMapsErrors(t *testing.T) {
	svc := &stubStatusService{err: shared.ErrQuantityIntegrity}
	router := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/current", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var problem httpx.ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	require.Equal(t, http.StatusUnprocessableEntity, problem.Status)
	require.Equal(t, "Quantity Integrity", problem.Title)
}
