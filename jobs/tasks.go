package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskClosingDaily runs the daily batch closing.
	TaskClosingDaily = "closing:daily"
	// TaskClosingMonthly runs the monthly batch closing.
	TaskClosingMonthly = "closing:monthly"
)

// DailyClosingPayload selects the date to close. A zero date means
// "yesterday" at execution time, which is what the nightly cron wants.
type DailyClosingPayload struct {
	Date    string `json:"date,omitempty"`
	ActorID int64  `json:"actor_id,omitempty"`
}

// MonthlyClosingPayload selects the month to close. Zero values mean
// "last month" at execution time.
type MonthlyClosingPayload struct {
	Year    int   `json:"year,omitempty"`
	Month   int   `json:"month,omitempty"`
	ActorID int64 `json:"actor_id,omitempty"`
}

// NewDailyClosingTask constructs the daily closing task.
func NewDailyClosingTask(payload DailyClosingPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskClosingDaily, data), nil
}

// NewMonthlyClosingTask constructs the monthly closing task.
func NewMonthlyClosingTask(payload MonthlyClosingPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskClosingMonthly, data), nil
}

const payloadDateLayout = "2006-01-02"

func (p DailyClosingPayload) resolveDate(now time.Time) (time.Time, error) {
	if p.Date == "" {
		return now.AddDate(0, 0, -1), nil
	}
	return time.ParseInLocation(payloadDateLayout, p.Date, time.UTC)
}

func (p MonthlyClosingPayload) resolveMonth(now time.Time) (int, time.Month) {
	if p.Year == 0 || p.Month == 0 {
		// Last day of the previous month avoids AddDate normalisation
		// surprises at month ends.
		prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, 0, -1)
		return prev.Year(), prev.Month()
	}
	return p.Year, time.Month(p.Month)
}
