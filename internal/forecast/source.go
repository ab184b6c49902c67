// Package forecast holds the source table and the forecast entity: one
// source for one day and one location, with its raw and location-matched
// readings cached on disk.
package forecast

import (
	"errors"
	"fmt"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/geo"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/ingest"
)

var ErrUnknownSource = errors.New("unknown source")

type Kind int

const (
	// Station sources report at irregular monitor points.
	Station Kind = iota
	// Grid sources report on a fixed model grid.
	Grid
)

func (k Kind) String() string {
	if k == Grid {
		return "grid"
	}
	return "station"
}

// Source is one entry of the source table: how to fetch a day, how to
// reduce it to a location, and how it is stored.
type Source struct {
	Name        string
	Kind        Kind
	Match       geo.Matcher
	GridIndexed bool
	Adapter     ingest.Adapter
}

// Defaults lists the supported sources with their matching rules. Adapters
// are attached at startup.
var Defaults = []Source{
	{Name: "airnow", Kind: Station, Match: geo.Matcher{Mode: geo.Nearest, MaxDistanceKm: 50, MaxNeighbors: 10}},
	{Name: "hrrr", Kind: Grid, Match: geo.Matcher{Mode: geo.Radius, MaxDistanceKm: 50}, GridIndexed: true},
	{Name: "cams", Kind: Grid, Match: geo.Matcher{Mode: geo.Radius, MaxDistanceKm: 60}},
	{Name: "geoscf", Kind: Grid, Match: geo.Matcher{Mode: geo.Radius, MaxDistanceKm: 50}},
	{Name: "naqfc", Kind: Grid, Match: geo.Matcher{Mode: geo.Radius, MaxDistanceKm: 50}},
}

// Table resolves source names to their behavior.
type Table struct {
	sources map[string]Source
	order   []string
}

func NewTable(sources ...Source) (*Table, error) {
	t := &Table{sources: make(map[string]Source, len(sources))}
	for _, s := range sources {
		if err := t.Register(s); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// DefaultTable builds the default sources, attaching the adapter registered
// under each name. A default without an adapter is left out.
func DefaultTable(adapters map[string]ingest.Adapter) (*Table, error) {
	var srcs []Source
	for _, s := range Defaults {
		a, ok := adapters[s.Name]
		if !ok {
			continue
		}
		s.Adapter = a
		srcs = append(srcs, s)
	}
	return NewTable(srcs...)
}

func (t *Table) Register(s Source) error {
	if s.Name == "" {
		return fmt.Errorf("register source: empty name")
	}
	if _, dup := t.sources[s.Name]; dup {
		return fmt.Errorf("register source %s: already registered", s.Name)
	}
	if s.Match.Mode == geo.Nearest && s.Match.MaxNeighbors <= 0 {
		return fmt.Errorf("register source %s: nearest matching needs max neighbors", s.Name)
	}
	if s.Match.MaxDistanceKm <= 0 {
		return fmt.Errorf("register source %s: max distance must be positive", s.Name)
	}
	t.sources[s.Name] = s
	t.order = append(t.order, s.Name)
	return nil
}

func (t *Table) Lookup(name string) (Source, error) {
	s, ok := t.sources[name]
	if !ok {
		return Source{}, fmt.Errorf("%w: %q (have %v)", ErrUnknownSource, name, t.Names())
	}
	return s, nil
}

// Names returns the registered names in registration order.
func (t *Table) Names() []string {
	return append([]string(nil), t.order...)
}

// Select returns a table restricted to names, in the given order.
func (t *Table) Select(names []string) (*Table, error) {
	out := &Table{sources: make(map[string]Source, len(names))}
	for _, n := range names {
		s, err := t.Lookup(n)
		if err != nil {
			return nil, err
		}
		if err := out.Register(s); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Override replaces the matcher distance and neighbor cap of a source.
// Zero values keep the current setting.
func (t *Table) Override(name string, maxDistanceKm float64, maxNeighbors int) error {
	s, err := t.Lookup(name)
	if err != nil {
		return err
	}
	if maxDistanceKm > 0 {
		s.Match.MaxDistanceKm = maxDistanceKm
	}
	if maxNeighbors > 0 {
		s.Match.MaxNeighbors = maxNeighbors
	}
	t.sources[name] = s
	return nil
}
