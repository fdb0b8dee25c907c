package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/atlasfm/atlasfm/internal/closing"
)

// CompanyPort lists the companies that participate in closing runs.
type CompanyPort interface {
	ActiveIDs(ctx context.Context) ([]int64, error)
}

// FacilityTypePort lists the facility types that participate.
type FacilityTypePort interface {
	TypeIDs(ctx context.Context) ([]int64, error)
}

// ClosingJobs adapts the batch orchestrator to Asynq handlers.
type ClosingJobs struct {
	companies    CompanyPort
	types        FacilityTypePort
	orchestrator *closing.Orchestrator
	logger       *slog.Logger
	actorID      int64
	now          func() time.Time
}

// NewClosingJobs constructs ClosingJobs. actorID stamps snapshots
// closed by the scheduler rather than a person.
func NewClosingJobs(companies CompanyPort, types FacilityTypePort, orchestrator *closing.Orchestrator, logger *slog.Logger, actorID int64) *ClosingJobs {
	return &ClosingJobs{
		companies:    companies,
		types:        types,
		orchestrator: orchestrator,
		logger:       logger,
		actorID:      actorID,
		now:          time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (j *ClosingJobs) WithNow(now func() time.Time) {
	if now != nil {
		j.now = now
	}
}

// HandleDaily closes every active (company, facility type) unit for the
// payload date. Unit failures are reported by the orchestrator and do
// not fail the task; a batch that could not run at all is retried.
func (j *ClosingJobs) HandleDaily(ctx context.Context, t *asynq.Task) error {
	var payload DailyClosingPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("jobs: daily closing payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	date, err := payload.resolveDate(j.now())
	if err != nil {
		return fmt.Errorf("jobs: daily closing date: %v: %w", err, asynq.SkipRetry)
	}
	actorID := payload.ActorID
	if actorID == 0 {
		actorID = j.actorID
	}
	units, err := j.units(ctx)
	if err != nil {
		return err
	}
	result, err := j.orchestrator.RunBatchClosing(ctx, units, date, actorID)
	if err != nil {
		return err
	}
	j.logger.Info("daily batch closing finished",
		slog.String("date", date.Format(payloadDateLayout)),
		slog.Int("units", len(units)),
		slog.Int("processed", result.Processed),
		slog.Int("failed", len(result.Failed)))
	return nil
}

// HandleMonthly closes every active unit for the payload month.
func (j *ClosingJobs) HandleMonthly(ctx context.Context, t *asynq.Task) error {
	var payload MonthlyClosingPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("jobs: monthly closing payload: %v: %w", err, asynq.SkipRetry)
		}
	}
	year, month := payload.resolveMonth(j.now())
	actorID := payload.ActorID
	if actorID == 0 {
		actorID = j.actorID
	}
	units, err := j.units(ctx)
	if err != nil {
		return err
	}
	result, err := j.orchestrator.RunBatchMonthlyClosing(ctx, units, year, month, actorID)
	if err != nil {
		return err
	}
	j.logger.Info("monthly batch closing finished",
		slog.Int("year", year),
		slog.Int("month", int(month)),
		slog.Int("units", len(units)),
		slog.Int("processed", result.Processed),
		slog.Int("failed", len(result.Failed)))
	return nil
}

// units crosses active companies with facility types.
func (j *ClosingJobs) units(ctx context.Context) ([]closing.Key, error) {
	companyIDs, err := j.companies.ActiveIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobs: list companies: %w", err)
	}
	typeIDs, err := j.types.TypeIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobs: list facility types: %w", err)
	}
	units := make([]closing.Key, 0, len(companyIDs)*len(typeIDs))
	for _, companyID := range companyIDs {
		for _, typeID := range typeIDs {
			units = append(units, closing.Key{CompanyID: companyID, FacilityTypeID: typeID})
		}
	}
	return units, nil
}
