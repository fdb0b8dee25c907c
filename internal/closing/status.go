package closing

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/atlasfm/atlasfm/internal/shared"
)

// StatusService reconciles current quantity-on-hand on demand: the
// latest closed snapshot plus the ledger movements recorded since it.
// Results are cached with a short TTL and invalidated on ledger writes.
type StatusService struct {
	repo    Repository
	cache   *Cache
	workers int
	now     func() time.Time
}

// NewStatusService builds StatusService. workers bounds the per-key
// reconciliation queries run concurrently.
func NewStatusService(repo Repository, cache *Cache, workers int) *StatusService {
	if workers < 1 {
		workers = 1
	}
	return &StatusService{repo: repo, cache: cache, workers: workers, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *StatusService) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// StatusPage is the paged reconciliation result.
type StatusPage struct {
	Items      []CurrentInventoryStatus `json:"items"`
	Pagination shared.Pagination        `json:"pagination"`
}

// GetCurrentStatus reconciles every key matching the filter and pages
// the result in memory. Keys are ordered by company then facility type
// so pages are stable between calls.
func (s *StatusService) GetCurrentStatus(ctx context.Context, filter StatusFilter, page, perPage int) (StatusPage, error) {
	var result StatusPage
	err := s.cache.GetOrLoad(ctx, keyStatus(filter, page, perPage), &result, func(ctx context.Context) (any, error) {
		keys, err := s.repo.StatusKeys(ctx, filter)
		if err != nil {
			return nil, err
		}
		sortKeys(keys)
		pg := shared.NewPagination(page, perPage, len(keys))
		window := pageSlice(keys, pg)
		items, err := s.reconcile(ctx, window)
		if err != nil {
			return nil, err
		}
		return StatusPage{Items: items, Pagination: pg}, nil
	})
	if err != nil {
		return StatusPage{}, err
	}
	return result, nil
}

// GetCurrentStatusPage pages at the source instead of in memory. It
// skips the total count, so the returned pagination carries no totals;
// callers iterate until a short page comes back.
func (s *StatusService) GetCurrentStatusPage(ctx context.Context, filter StatusFilter, page, perPage int) ([]CurrentInventoryStatus, error) {
	pg := shared.NewPagination(page, perPage, 0)
	keys, err := s.repo.StatusKeysPage(ctx, filter, pg.PerPage, pg.Offset())
	if err != nil {
		return nil, err
	}
	return s.reconcile(ctx, keys)
}

// reconcile computes current quantity for each key on a bounded pool.
func (s *StatusService) reconcile(ctx context.Context, keys []Key) ([]CurrentInventoryStatus, error) {
	items := make([]CurrentInventoryStatus, len(keys))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			status, err := s.reconcileOne(ctx, key)
			if err != nil {
				return err
			}
			items[i] = status
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *StatusService) reconcileOne(ctx context.Context, key Key) (CurrentInventoryStatus, error) {
	asOf := s.now()
	base := int64(0)
	var since time.Time
	snap, ok, err := s.repo.LatestClosedDaily(ctx, key)
	if err != nil {
		return CurrentInventoryStatus{}, err
	}
	if ok {
		base = snap.ClosingQuantity
		// The snapshot already covers its own day.
		since = dayStart(snap.ClosingDate).AddDate(0, 0, 1)
	}
	inbound, outbound, err := s.repo.SumMovements(ctx, key, since, asOf)
	if err != nil {
		return CurrentInventoryStatus{}, err
	}
	status := CurrentInventoryStatus{
		CompanyID:       key.CompanyID,
		FacilityTypeID:  key.FacilityTypeID,
		BaseQuantity:    base,
		RecentInbound:   inbound,
		RecentOutbound:  outbound,
		CurrentQuantity: base + inbound - outbound,
		AsOf:            asOf,
	}
	if ok {
		status.LatestClosingDate = dayStart(snap.ClosingDate)
	}
	return status, nil
}

func sortKeys(keys []Key) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].CompanyID != keys[j].CompanyID {
			return keys[i].CompanyID < keys[j].CompanyID
		}
		return keys[i].FacilityTypeID < keys[j].FacilityTypeID
	})
}

func pageSlice(keys []Key, pg shared.Pagination) []Key {
	start := pg.Offset()
	if start >= len(keys) {
		return nil
	}
	end := start + pg.PerPage
	if end > len(keys) {
		end = len(keys)
	}
	return keys[start:end]
}
