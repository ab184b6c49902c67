package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/fetch"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/forecast"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/ingest"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/location"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/metric"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/store"
)

// Globals are the options shared by every command.
type Globals struct {
	Data    string `name:"data" default:"data" env:"PM25_DATA" type:"path" help:"Root of the forecast cache."`
	Results string `name:"results" default:"results" env:"PM25_RESULTS" type:"path" help:"Root of the per-day result files."`
	Figures string `name:"figures" default:"figures" env:"PM25_FIGURES" type:"path" help:"Root for rendered tables."`
	DB      string `name:"db" default:"data/ledger.db" env:"PM25_DB" type:"path" help:"SQLite run ledger."`

	Sources   []string `name:"sources" default:"airnow,hrrr,cams,geoscf,naqfc" env:"PM25_SOURCES" help:"Sources to evaluate, observation included."`
	AirNow    string   `name:"airnow-source" default:"s3" env:"PM25_AIRNOW_SOURCE" help:"AirNow archive: s3, https, or a location such as ftp://host/dir or a directory."`
	GridBase  string   `name:"grid-base" default:"data/grids" env:"PM25_GRID_BASE" help:"Archive of gridded model tables: directory, https:// or s3://bucket/prefix."`
	Gazetteer string   `name:"gazetteer-base" default:"${gazetteer_base}" env:"PM25_GAZETTEER_BASE" help:"Where to download the census gazetteer from."`

	WindowStart     int     `name:"window-start" default:"13" env:"PM25_WINDOW_START" help:"First lead hour scored."`
	WindowEnd       int     `name:"window-end" default:"35" env:"PM25_WINDOW_END" help:"Last lead hour scored."`
	PersistenceHour int     `name:"persistence-hour" default:"11" env:"PM25_PERSISTENCE_HOUR" help:"Observed hour held constant as the persistence forecast."`
	Threshold       float64 `name:"threshold" default:"35" env:"PM25_THRESHOLD" help:"Smoke day threshold in µg/m³."`
	Observation     string  `name:"observation" default:"airnow" env:"PM25_OBSERVATION" help:"Source treated as ground truth."`

	MaxDistance     map[string]float64 `name:"max-distance" env:"PM25_MAX_DISTANCE" help:"Matcher distance overrides in km, e.g. cams=80;airnow=30."`
	MaxNeighbors    map[string]int     `name:"max-neighbors" env:"PM25_MAX_NEIGHBORS" help:"Nearest matcher neighbor overrides, e.g. airnow=5."`
	RefreshLocation bool               `name:"refresh-location" env:"PM25_REFRESH_LOCATION" help:"Rebuild cached location data, e.g. after changing matcher settings."`

	MetricsFile string `name:"metrics-file" env:"PM25_METRICS_FILE" type:"path" help:"Write Prometheus metrics to this textfile on exit."`
}

func (g *Globals) params() metric.Params {
	return metric.Params{
		WindowStart:     g.WindowStart,
		WindowEnd:       g.WindowEnd,
		PersistenceHour: g.PersistenceHour,
		Threshold:       g.Threshold,
		Observation:     g.Observation,
	}
}

func (g *Globals) resolver(ctx context.Context) (*location.Resolver, error) {
	getter, err := fetch.Open(ctx, g.Gazetteer)
	if err != nil {
		return nil, fmt.Errorf("gazetteer source: %w", err)
	}
	return location.New(g.Data, getter), nil
}

func (g *Globals) airNowGetter(ctx context.Context) (fetch.Getter, error) {
	switch g.AirNow {
	case "s3":
		return fetch.NewS3(ctx, ingest.AirNowRegion, ingest.AirNowBucket, ingest.AirNowPrefix)
	case "https":
		return fetch.NewHTTP(ingest.AirNowHTTPS), nil
	default:
		return fetch.Open(ctx, g.AirNow)
	}
}

func (g *Globals) adapters(ctx context.Context) (map[string]ingest.Adapter, error) {
	out := make(map[string]ingest.Adapter, len(g.Sources))
	var grid fetch.Getter
	for _, name := range g.Sources {
		if name == "airnow" {
			getter, err := g.airNowGetter(ctx)
			if err != nil {
				return nil, fmt.Errorf("airnow source: %w", err)
			}
			out[name] = ingest.NewAirNow(getter)
			continue
		}

		params, ok := ingest.DefaultGridParams[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", forecast.ErrUnknownSource, name)
		}
		if grid == nil {
			var err error
			if grid, err = fetch.Open(ctx, g.GridBase); err != nil {
				return nil, fmt.Errorf("grid source: %w", err)
			}
		}
		a, err := ingest.NewGridded(params, grid)
		if err != nil {
			return nil, err
		}
		out[name] = a
	}
	return out, nil
}

func (g *Globals) table(ctx context.Context) (*forecast.Table, error) {
	adapters, err := g.adapters(ctx)
	if err != nil {
		return nil, err
	}
	all, err := forecast.DefaultTable(adapters)
	if err != nil {
		return nil, err
	}
	table, err := all.Select(g.Sources)
	if err != nil {
		return nil, err
	}
	for name, km := range g.MaxDistance {
		if err := table.Override(name, km, 0); err != nil {
			return nil, fmt.Errorf("--max-distance: %w", err)
		}
	}
	for name, k := range g.MaxNeighbors {
		if err := table.Override(name, 0, k); err != nil {
			return nil, fmt.Errorf("--max-neighbors: %w", err)
		}
	}
	return table, nil
}

// env is everything an experiment needs, built once per command.
type env struct {
	params   metric.Params
	catalog  *forecast.Catalog
	ledger   *store.Store
	resolver *location.Resolver
}

func (g *Globals) open(ctx context.Context) (*env, error) {
	params := g.params()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	table, err := g.table(ctx)
	if err != nil {
		return nil, err
	}
	resolver, err := g.resolver(ctx)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(g.DB), 0755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	ledger, err := store.Open(g.DB, nil)
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", filepath.Clean(g.DB), err)
	}
	return &env{
		params:   params,
		catalog:  forecast.NewCatalog(g.Data, table, ledger),
		ledger:   ledger,
		resolver: resolver,
	}, nil
}

func (e *env) Close() error {
	return e.ledger.Close()
}
