package metric

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/daily"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/gridindex"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/ingest"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
)

var ErrObservationUnavailable = errors.New("observation data unavailable")

// Aligned holds the hourly mean series of one day over the window.
type Aligned struct {
	Hours       []int
	Observed    []float64
	Persistence float64
	// Sources lists the forecast sources in table order.
	Sources   []string
	Predicted map[string][]float64
}

// Align extracts the observed, persistence and per-source predicted series
// for a day. A forecast source that cannot be read yields an all-NaN series;
// an unavailable observation source fails with ErrObservationUnavailable. A
// missing grid index or a cancelled context always fails.
func Align(ctx context.Context, d *daily.Data, p Params) (*Aligned, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	obsEntity, err := d.Forecast(p.Observation)
	if err != nil {
		return nil, err
	}
	obs, err := obsEntity.LocationData(ctx)
	if errors.Is(err, ingest.ErrUnavailable) {
		return nil, fmt.Errorf("%w: %w", ErrObservationUnavailable, err)
	}
	if err != nil {
		return nil, err
	}

	hours := p.Hours()
	a := &Aligned{
		Hours:       hours,
		Observed:    hourlyMeans(obs, hours),
		Persistence: hourlyMean(obs, p.PersistenceHour),
		Predicted:   make(map[string][]float64),
	}

	for _, name := range d.Names() {
		if name == p.Observation {
			continue
		}
		set, err := forecastData(ctx, d, name)
		switch {
		case err == nil:
		case errors.Is(err, gridindex.ErrIndexMissing) || ctx.Err() != nil:
			return nil, err
		case errors.Is(err, ingest.ErrUnavailable):
			log.Printf("metric: %s missing for %s, scores undefined", name, d.Date.Format(models.DateLayout))
			set = nil
		case err != nil:
			log.Printf("metric: %s failed for %s, scores undefined: %v", name, d.Date.Format(models.DateLayout), err)
			set = nil
		}
		a.Sources = append(a.Sources, name)
		a.Predicted[name] = hourlyMeans(set, hours)
	}
	return a, nil
}

func forecastData(ctx context.Context, d *daily.Data, name string) (models.ReadingSet, error) {
	e, err := d.Forecast(name)
	if err != nil {
		return nil, err
	}
	return e.LocationData(ctx)
}

func hourlyMeans(set models.ReadingSet, hours []int) []float64 {
	out := make([]float64, len(hours))
	for i, h := range hours {
		out[i] = hourlyMean(set, h)
	}
	return out
}

// hourlyMean averages every reading valid at h, NaN when there are none.
func hourlyMean(set models.ReadingSet, h int) float64 {
	vals := set.AtHour(h)
	if len(vals) == 0 {
		return math.NaN()
	}
	return stat.Mean(vals, nil)
}
