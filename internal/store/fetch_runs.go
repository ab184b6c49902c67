package store

import (
	"database/sql"
	"time"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
)

// FetchRun records a single source adapter call for one day.
type FetchRun struct {
	ID           int64
	StartedAt    time.Time
	FinishedAt   sql.NullTime
	Source       string
	Date         string
	Records      sql.NullInt64
	Success      bool
	Unavailable  bool // the source could not produce the whole day
	ErrorMessage sql.NullString
}

// StartFetchRun creates a new fetch run record and returns it.
func (s *Store) StartFetchRun(source string, date time.Time) (*FetchRun, error) {
	run := &FetchRun{
		StartedAt: s.clock.Now().UTC(),
		Source:    source,
		Date:      date.Format(models.DateLayout),
	}

	result, err := s.db.Exec(`
		INSERT INTO fetch_runs (started_at, source, date, success)
		VALUES (?, ?, ?, FALSE)
	`, run.StartedAt, run.Source, run.Date)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteFetchRun updates the fetch run with results.
func (s *Store) CompleteFetchRun(run *FetchRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: s.clock.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`
		UPDATE fetch_runs SET
			finished_at = ?,
			records = ?,
			success = ?,
			unavailable = ?,
			error_message = ?
		WHERE id = ?
	`, run.FinishedAt, run.Records, run.Success, run.Unavailable, run.ErrorMessage, run.ID)
	return err
}

// FetchRunsFor returns every recorded fetch of source for date, oldest first.
func (s *Store) FetchRunsFor(source string, date time.Time) ([]FetchRun, error) {
	rows, err := s.db.Query(`
		SELECT id, started_at, finished_at, source, date, records, success, unavailable, error_message
		FROM fetch_runs
		WHERE source = ? AND date = ?
		ORDER BY id ASC
	`, source, date.Format(models.DateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FetchRun
	for rows.Next() {
		var r FetchRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Source, &r.Date,
			&r.Records, &r.Success, &r.Unavailable, &r.ErrorMessage); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// FetchHealthSummary aggregates fetch outcomes per source.
type FetchHealthSummary struct {
	Source      string
	TotalRuns   int
	SuccessRuns int
	Unavailable int
	Failed      int
	Records     int64
}

func (s *Store) GetFetchHealth() ([]FetchHealthSummary, error) {
	rows, err := s.db.Query(`
		SELECT
			source,
			COUNT(*),
			SUM(CASE WHEN success THEN 1 ELSE 0 END),
			SUM(CASE WHEN unavailable THEN 1 ELSE 0 END),
			SUM(CASE WHEN NOT success AND NOT unavailable THEN 1 ELSE 0 END),
			COALESCE(SUM(records), 0)
		FROM fetch_runs
		GROUP BY source
		ORDER BY source
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FetchHealthSummary
	for rows.Next() {
		var h FetchHealthSummary
		if err := rows.Scan(&h.Source, &h.TotalRuns, &h.SuccessRuns, &h.Unavailable, &h.Failed, &h.Records); err != nil {
			return nil, err
		}
		results = append(results, h)
	}
	return results, rows.Err()
}
