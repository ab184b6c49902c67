// Package experiment scores every day of a date range for one location and
// stores one result file per day.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/cache"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/daily"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/forecast"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/gridindex"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/metric"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/metrics"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/store"
)

type Experiment struct {
	Location    models.Location
	Start       time.Time       `validate:"required"`
	End         time.Time       `validate:"required,gtefield=Start"`
	Metrics     []metric.Metric `validate:"min=1"`
	Params      metric.Params
	Catalog     *forecast.Catalog `validate:"required"`
	ResultsRoot string            `validate:"required"`

	// Ledger is optional.
	Ledger *store.Store
	// RefreshLocation drops cached location data before each day so matcher
	// changes take effect.
	RefreshLocation bool
}

type Summary struct {
	RunID   string
	Written []time.Time
	Skipped []time.Time
}

var validate = validator.New()

func (e *Experiment) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("experiment: %w", err)
	}
	if e.Location.Name == "" {
		return fmt.Errorf("experiment: location has no name")
	}
	return e.Params.Validate()
}

// Days lists every calendar day from Start to End, both included.
func (e *Experiment) Days() []time.Time {
	var days []time.Time
	for d := models.Day(e.Start); !d.After(models.Day(e.End)); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func (e *Experiment) metricNames() []string {
	names := make([]string, len(e.Metrics))
	for i, m := range e.Metrics {
		names[i] = m.Name()
	}
	return names
}

// Run processes the days in order. A day that cannot be scored is logged,
// recorded and skipped; only a missing grid index or a cancelled context
// stops the run.
func (e *Experiment) Run(ctx context.Context) (*Summary, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	sum := &Summary{}
	var run *store.ExperimentRun
	if e.Ledger != nil {
		var err error
		run, err = e.Ledger.StartExperimentRun(e.Location.Name, e.Start, e.End, e.metricNames())
		if err != nil {
			log.Printf("experiment: ledger start: %v", err)
		} else {
			sum.RunID = run.ID
		}
	}

	days := e.Days()
	log.Printf("experiment: %s, %d days from %s", e.Location.Name, len(days), days[0].Format(models.DateLayout))

	var runErr error
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		err := e.runDay(ctx, day)
		if err == nil {
			sum.Written = append(sum.Written, day)
			e.record(run, day, store.OutcomeWritten, "")
			continue
		}
		if errors.Is(err, gridindex.ErrIndexMissing) || ctx.Err() != nil {
			runErr = fmt.Errorf("%s: %w", day.Format(models.DateLayout), err)
			break
		}
		log.Printf("experiment: skipping %s %s: %v", e.Location.Name, day.Format(models.DateLayout), err)
		sum.Skipped = append(sum.Skipped, day)
		e.record(run, day, store.OutcomeSkipped, err.Error())
	}

	if run != nil {
		if err := e.Ledger.CompleteExperimentRun(run, len(sum.Written), len(sum.Skipped)); err != nil {
			log.Printf("experiment: ledger complete: %v", err)
		}
	}
	log.Printf("experiment: %s done, %d written, %d skipped", e.Location.Name, len(sum.Written), len(sum.Skipped))
	return sum, runErr
}

func (e *Experiment) runDay(ctx context.Context, day time.Time) error {
	d, err := daily.New(e.Catalog, day, e.Location, e.Params.Observation)
	if err != nil {
		return err
	}
	if e.RefreshLocation {
		for _, name := range d.Names() {
			ent, _ := d.Forecast(name)
			if err := ent.InvalidateLocation(); err != nil {
				return err
			}
		}
	}

	results, err := metric.Evaluate(ctx, d, e.Params, e.Metrics)
	if err != nil {
		return err
	}
	data, err := Encode(results)
	if err != nil {
		return err
	}
	return cache.WriteFileAtomic(ResultPath(e.ResultsRoot, e.Location.Name, day), data)
}

func (e *Experiment) record(run *store.ExperimentRun, day time.Time, outcome, reason string) {
	metrics.ExperimentDaysTotal.WithLabelValues(e.Location.Name, outcome).Inc()
	if run == nil {
		return
	}
	if err := e.Ledger.RecordExperimentDay(run.ID, day, outcome, reason); err != nil {
		log.Printf("experiment: ledger day %s: %v", day.Format(models.DateLayout), err)
	}
}
