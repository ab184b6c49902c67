package store

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
)

const (
	OutcomeWritten = "written"
	OutcomeSkipped = "skipped"
)

type ExperimentRun struct {
	ID          string
	Location    string
	StartDate   string
	EndDate     string
	Metrics     []string
	StartedAt   time.Time
	FinishedAt  sql.NullTime
	DaysWritten sql.NullInt64
	DaysSkipped sql.NullInt64
}

type ExperimentDay struct {
	RunID      string
	Date       string
	Outcome    string
	Reason     sql.NullString
	RecordedAt time.Time
}

// StartExperimentRun registers a new experiment run under a fresh ID.
func (s *Store) StartExperimentRun(location string, start, end time.Time, metrics []string) (*ExperimentRun, error) {
	run := &ExperimentRun{
		ID:        uuid.NewString(),
		Location:  location,
		StartDate: start.Format(models.DateLayout),
		EndDate:   end.Format(models.DateLayout),
		Metrics:   metrics,
		StartedAt: s.clock.Now().UTC(),
	}

	_, err := s.db.Exec(`
		INSERT INTO experiment_runs (id, location, start_date, end_date, metrics, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.Location, run.StartDate, run.EndDate, strings.Join(metrics, ","), run.StartedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) CompleteExperimentRun(run *ExperimentRun, written, skipped int) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: s.clock.Now().UTC(), Valid: true}
	run.DaysWritten = sql.NullInt64{Int64: int64(written), Valid: true}
	run.DaysSkipped = sql.NullInt64{Int64: int64(skipped), Valid: true}

	_, err := s.db.Exec(`
		UPDATE experiment_runs SET finished_at = ?, days_written = ?, days_skipped = ?
		WHERE id = ?
	`, run.FinishedAt, run.DaysWritten, run.DaysSkipped, run.ID)
	return err
}

// RecordExperimentDay stores the outcome of one day. A repeated record for
// the same run and date replaces the earlier one.
func (s *Store) RecordExperimentDay(runID string, date time.Time, outcome, reason string) error {
	var r sql.NullString
	if reason != "" {
		r = sql.NullString{String: reason, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO experiment_days (run_id, date, outcome, reason, recorded_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id, date) DO UPDATE SET
			outcome = excluded.outcome,
			reason = excluded.reason,
			recorded_at = excluded.recorded_at
	`, runID, date.Format(models.DateLayout), outcome, r, s.clock.Now().UTC())
	return err
}

// ExperimentDays returns the recorded day outcomes of a run in date order.
func (s *Store) ExperimentDays(runID string) ([]ExperimentDay, error) {
	rows, err := s.db.Query(`
		SELECT run_id, date, outcome, reason, recorded_at
		FROM experiment_days
		WHERE run_id = ?
		ORDER BY date ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var days []ExperimentDay
	for rows.Next() {
		var d ExperimentDay
		if err := rows.Scan(&d.RunID, &d.Date, &d.Outcome, &d.Reason, &d.RecordedAt); err != nil {
			return nil, err
		}
		days = append(days, d)
	}
	return days, rows.Err()
}

func (s *Store) GetExperimentRun(id string) (*ExperimentRun, error) {
	return scanRun(s.db.QueryRow(`
		SELECT id, location, start_date, end_date, metrics, started_at, finished_at, days_written, days_skipped
		FROM experiment_runs WHERE id = ?
	`, id))
}

// LatestExperimentRun returns the most recently started run, restricted to
// location unless it is empty. It returns nil when there is none.
func (s *Store) LatestExperimentRun(location string) (*ExperimentRun, error) {
	return scanRun(s.db.QueryRow(`
		SELECT id, location, start_date, end_date, metrics, started_at, finished_at, days_written, days_skipped
		FROM experiment_runs
		WHERE ? = '' OR location = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1
	`, location, location))
}

func scanRun(row *sql.Row) (*ExperimentRun, error) {
	var run ExperimentRun
	var metrics string
	err := row.Scan(&run.ID, &run.Location, &run.StartDate, &run.EndDate, &metrics,
		&run.StartedAt, &run.FinishedAt, &run.DaysWritten, &run.DaysSkipped)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if metrics != "" {
		run.Metrics = strings.Split(metrics, ",")
	}
	return &run, nil
}
