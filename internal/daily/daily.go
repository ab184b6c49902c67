// Package daily groups the forecast entities of every configured source for
// one calendar day and location.
package daily

import (
	"fmt"
	"slices"
	"time"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/forecast"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
)

const DefaultObservation = "airnow"

// Data is transient: it holds no readings itself, only entities whose
// caches do.
type Data struct {
	Date        time.Time
	Location    models.Location
	Observation string

	names    []string
	entities map[string]*forecast.Entity
}

// New builds one entity per source in the catalog's table. The observation
// source must be among them.
func New(cat *forecast.Catalog, date time.Time, loc models.Location, observation string) (*Data, error) {
	if observation == "" {
		observation = DefaultObservation
	}
	names := cat.Table.Names()
	if !slices.Contains(names, observation) {
		return nil, fmt.Errorf("observation source %q not configured (have %v)", observation, names)
	}

	d := &Data{
		Date:        models.Day(date),
		Location:    loc,
		Observation: observation,
		names:       names,
		entities:    make(map[string]*forecast.Entity, len(names)),
	}
	for _, n := range names {
		e, err := cat.Entity(n, date, loc)
		if err != nil {
			return nil, err
		}
		d.entities[n] = e
	}
	return d, nil
}

// Names returns every configured source, observation included.
func (d *Data) Names() []string {
	return append([]string(nil), d.names...)
}

// Forecasts returns the configured sources other than the observation.
func (d *Data) Forecasts() []string {
	var out []string
	for _, n := range d.names {
		if n != d.Observation {
			out = append(out, n)
		}
	}
	return out
}

func (d *Data) Forecast(name string) (*forecast.Entity, error) {
	e, ok := d.entities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", forecast.ErrUnknownSource, name)
	}
	return e, nil
}

func (d *Data) ObservationEntity() *forecast.Entity {
	return d.entities[d.Observation]
}
