package forecast

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/cache"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/gridindex"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/ingest"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/metrics"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/store"
)

// State is the lifecycle of one cached artifact.
type State int

const (
	Absent State = iota
	OnDisk
)

func (s State) String() string {
	if s == OnDisk {
		return "on_disk"
	}
	return "absent"
}

// Catalog hands out entities under one data root and owns the grid index of
// each grid-indexed source.
type Catalog struct {
	Root   string
	Table  *Table
	Ledger *store.Store // optional

	mu      sync.Mutex
	indices map[string]*gridindex.Index
}

func NewCatalog(root string, table *Table, ledger *store.Store) *Catalog {
	return &Catalog{Root: root, Table: table, Ledger: ledger, indices: make(map[string]*gridindex.Index)}
}

// Index returns the shared grid index for source, opening it on first use.
func (c *Catalog) Index(source string) (*gridindex.Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.indices[source]; ok {
		return idx, nil
	}
	idx, err := gridindex.Open(cache.GridIndexPath(c.Root, source))
	if err != nil {
		return nil, fmt.Errorf("open grid index for %s: %w", source, err)
	}
	c.indices[source] = idx
	return idx, nil
}

// Entity returns the entity for source name on date at loc.
func (c *Catalog) Entity(name string, date time.Time, loc models.Location) (*Entity, error) {
	src, err := c.Table.Lookup(name)
	if err != nil {
		return nil, err
	}
	e := &Entity{
		Source:   src,
		Date:     models.Day(date),
		Location: loc,
		Root:     c.Root,
		ledger:   c.Ledger,
	}
	if src.GridIndexed {
		if e.index, err = c.Index(src.Name); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Entity is one source for one day and one location. Each of its two
// artifacts moves from Absent to OnDisk once; after that it is only read.
type Entity struct {
	Source   Source
	Date     time.Time
	Location models.Location
	Root     string

	index  *gridindex.Index
	ledger *store.Store

	raw       models.ReadingSet
	rawLoaded bool
	loc       models.ReadingSet
	locLoaded bool
}

func (e *Entity) RawPath() string {
	return cache.RawPath(e.Root, e.Source.Name, e.Date)
}

func (e *Entity) LocationPath() string {
	return cache.LocationPath(e.Root, e.Location.Name, e.Source.Name, e.Date)
}

func stateOf(path string) (State, error) {
	ok, err := cache.Exists(path)
	if err != nil {
		return Absent, err
	}
	if ok {
		return OnDisk, nil
	}
	return Absent, nil
}

func (e *Entity) RawState() (State, error)      { return stateOf(e.RawPath()) }
func (e *Entity) LocationState() (State, error) { return stateOf(e.LocationPath()) }

func (e *Entity) label() string {
	return fmt.Sprintf("%s %s", e.Source.Name, e.Date.Format(models.DateLayout))
}

// EnsureRaw makes the full-domain readings available, fetching them from the
// source adapter only if no cached file exists. An unavailable day returns an
// error wrapping ingest.ErrUnavailable and writes nothing.
func (e *Entity) EnsureRaw(ctx context.Context) error {
	if e.rawLoaded {
		metrics.CacheAccessesTotal.WithLabelValues(e.Source.Name, "raw", "memory").Inc()
		return nil
	}

	path := e.RawPath()
	state, err := stateOf(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	result := "disk"
	if state == Absent {
		set, err := e.fetch(ctx)
		if err != nil {
			return err
		}
		if err := e.write(path, set); err != nil {
			return fmt.Errorf("cache raw %s: %w", e.label(), err)
		}
		log.Printf("entity: cached %s raw data (%d readings)", e.label(), len(set))
		result = "built"
	}

	set, err := e.read(path)
	if err != nil {
		return fmt.Errorf("load raw %s: %w", e.label(), err)
	}
	e.raw, e.rawLoaded = set, true
	metrics.CacheAccessesTotal.WithLabelValues(e.Source.Name, "raw", result).Inc()
	return nil
}

func (e *Entity) fetch(ctx context.Context) (models.ReadingSet, error) {
	if e.Source.Adapter == nil {
		return nil, fmt.Errorf("source %s has no adapter", e.Source.Name)
	}

	var run *store.FetchRun
	if e.ledger != nil {
		var err error
		if run, err = e.ledger.StartFetchRun(e.Source.Name, e.Date); err != nil {
			log.Printf("entity: ledger start for %s: %v", e.label(), err)
		}
	}

	start := time.Now()
	set, err := e.Source.Adapter.Fetch(ctx, e.Date)
	metrics.AdapterFetchLatency.WithLabelValues(e.Source.Name).Observe(time.Since(start).Seconds())

	outcome := "ok"
	switch {
	case errors.Is(err, ingest.ErrUnavailable):
		outcome = "unavailable"
	case err != nil:
		outcome = "error"
	}
	metrics.AdapterFetchesTotal.WithLabelValues(e.Source.Name, outcome).Inc()

	if run != nil {
		run.Success = err == nil
		run.Unavailable = outcome == "unavailable"
		if err != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		} else {
			run.Records = sql.NullInt64{Int64: int64(len(set)), Valid: true}
		}
		if cerr := e.ledger.CompleteFetchRun(run); cerr != nil {
			log.Printf("entity: ledger complete for %s: %v", e.label(), cerr)
		}
	}

	if err != nil {
		if outcome == "unavailable" {
			log.Printf("entity: %s unavailable: %v", e.label(), err)
		}
		return nil, fmt.Errorf("fetch %s: %w", e.label(), err)
	}
	return set, nil
}

// EnsureLocation makes the location-matched readings available, deriving
// them from the raw artifact only if no cached file exists.
func (e *Entity) EnsureLocation(ctx context.Context) error {
	if e.locLoaded {
		metrics.CacheAccessesTotal.WithLabelValues(e.Source.Name, "location", "memory").Inc()
		return nil
	}

	path := e.LocationPath()
	state, err := stateOf(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	result := "disk"
	if state == Absent {
		raw, err := e.Raw(ctx)
		if err != nil {
			return err
		}
		matched := e.Source.Match.Match(raw, e.Location.Point)
		if err := e.write(path, matched); err != nil {
			return fmt.Errorf("cache location %s: %w", e.label(), err)
		}
		log.Printf("entity: cached %s data for %s (%s, %d readings)", e.label(), e.Location.Name, e.Source.Match, len(matched))
		result = "built"
	}

	set, err := e.read(path)
	if err != nil {
		return fmt.Errorf("load location %s: %w", e.label(), err)
	}
	e.loc, e.locLoaded = set, true
	metrics.CacheAccessesTotal.WithLabelValues(e.Source.Name, "location", result).Inc()
	return nil
}

func (e *Entity) Raw(ctx context.Context) (models.ReadingSet, error) {
	if err := e.EnsureRaw(ctx); err != nil {
		return nil, err
	}
	return e.raw, nil
}

func (e *Entity) LocationData(ctx context.Context) (models.ReadingSet, error) {
	if err := e.EnsureLocation(ctx); err != nil {
		return nil, err
	}
	return e.loc, nil
}

// InvalidateLocation removes the cached location artifact so the next access
// rebuilds it from raw data, e.g. after matcher settings change.
func (e *Entity) InvalidateLocation() error {
	e.loc, e.locLoaded = nil, false
	if err := os.Remove(e.LocationPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("invalidate %s: %w", e.LocationPath(), err)
	}
	return nil
}

func (e *Entity) write(path string, set models.ReadingSet) error {
	var data []byte
	var err error
	if e.Source.GridIndexed {
		rows, encErr := e.index.Encode(set)
		if encErr != nil {
			return encErr
		}
		metrics.GridIndexPoints.WithLabelValues(e.Source.Name).Set(float64(e.index.Len()))
		data, err = cache.EncodeIndexed(rows)
	} else {
		data, err = cache.EncodeReadings(set)
	}
	if err != nil {
		return err
	}
	return cache.WriteFileAtomic(path, data)
}

func (e *Entity) read(path string) (models.ReadingSet, error) {
	if !e.Source.GridIndexed {
		return cache.ReadReadings(path)
	}
	rows, err := cache.ReadIndexed(path)
	if err != nil {
		return nil, err
	}
	return e.index.Decode(rows)
}
