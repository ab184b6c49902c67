package forecast

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/geo"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/gridindex"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/ingest"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/store"
)

type countingAdapter struct {
	calls int
	set   models.ReadingSet
	err   error
}

func (c *countingAdapter) Fetch(_ context.Context, _ time.Time) (models.ReadingSet, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return append(models.ReadingSet(nil), c.set...), nil
}

var (
	testDate = time.Date(2023, 6, 7, 0, 0, 0, 0, time.UTC)
	nyc      = models.Location{Name: "New York--Jersey City--Newark, NY--NJ", Point: models.Point{Latitude: 40.7128, Longitude: -74.006}}
)

func sampleSet() models.ReadingSet {
	var set models.ReadingSet
	for _, h := range []int{13, 14} {
		set = append(set,
			models.Reading{Latitude: 40.72, Longitude: -74.01, ValidTime: h, PM25: 10 + float64(h)},
			models.Reading{Latitude: 40.9, Longitude: -74.2, ValidTime: h, PM25: 20 + float64(h)},
			models.Reading{Latitude: 34.05, Longitude: -118.24, ValidTime: h, PM25: 5},
		)
	}
	return set
}

func newCatalog(t *testing.T, src Source) *Catalog {
	t.Helper()
	table, err := NewTable(src)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return NewCatalog(t.TempDir(), table, nil)
}

func TestEntity_RawIdempotent(t *testing.T) {
	ad := &countingAdapter{set: sampleSet()}
	cat := newCatalog(t, Source{Name: "cams", Kind: Grid, Match: geo.Matcher{Mode: geo.Radius, MaxDistanceKm: 60}, Adapter: ad})

	e, _ := cat.Entity("cams", testDate, nyc)
	if st, _ := e.RawState(); st != Absent {
		t.Fatalf("RawState = %v, want absent", st)
	}

	first, err := e.Raw(context.Background())
	if err != nil {
		t.Fatalf("Raw: %v", err)
	}
	if st, _ := e.RawState(); st != OnDisk {
		t.Fatalf("RawState = %v, want on_disk", st)
	}
	again, _ := e.Raw(context.Background())

	fresh, _ := cat.Entity("cams", testDate, nyc)
	third, err := fresh.Raw(context.Background())
	if err != nil {
		t.Fatalf("fresh Raw: %v", err)
	}

	if ad.calls != 1 {
		t.Errorf("adapter calls = %d, want 1", ad.calls)
	}
	for _, got := range []models.ReadingSet{again, third} {
		if len(got) != len(first) {
			t.Fatalf("len = %d, want %d", len(got), len(first))
		}
		for i := range first {
			if got[i] != first[i] {
				t.Errorf("row %d = %+v, want %+v", i, got[i], first[i])
			}
		}
	}
}

func TestEntity_LocationData(t *testing.T) {
	ad := &countingAdapter{set: sampleSet()}
	cat := newCatalog(t, Source{Name: "airnow", Kind: Station, Match: geo.Matcher{Mode: geo.Nearest, MaxDistanceKm: 50, MaxNeighbors: 1}, Adapter: ad})

	e, _ := cat.Entity("airnow", testDate, nyc)
	loc, err := e.LocationData(context.Background())
	if err != nil {
		t.Fatalf("LocationData: %v", err)
	}
	if len(loc) != 2 {
		t.Fatalf("len = %d, want 2 (nearest station, both hours)", len(loc))
	}
	for _, r := range loc {
		if r.Latitude != 40.72 {
			t.Errorf("kept reading from %v", r.Point())
		}
	}

	if _, err := os.Stat(e.LocationPath()); err != nil {
		t.Errorf("location file not written: %v", err)
	}
	if !strings.Contains(e.LocationPath(), "location-data/"+nyc.Name+"/airnow/2023/06/2023-06-07.csv") {
		t.Errorf("LocationPath = %s", e.LocationPath())
	}

	fresh, _ := cat.Entity("airnow", testDate, nyc)
	if _, err := fresh.LocationData(context.Background()); err != nil {
		t.Fatalf("fresh LocationData: %v", err)
	}
	if ad.calls != 1 {
		t.Errorf("adapter calls = %d, want 1", ad.calls)
	}
}

func TestEntity_Unavailable(t *testing.T) {
	ad := &countingAdapter{err: fmt.Errorf("hour 17: %w", ingest.ErrUnavailable)}
	cat := newCatalog(t, Source{Name: "naqfc", Kind: Grid, Match: geo.Matcher{Mode: geo.Radius, MaxDistanceKm: 50}, Adapter: ad})

	e, _ := cat.Entity("naqfc", testDate, nyc)
	_, err := e.LocationData(context.Background())
	if !errors.Is(err, ingest.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if st, _ := e.RawState(); st != Absent {
		t.Errorf("RawState = %v after unavailable day", st)
	}
	if st, _ := e.LocationState(); st != Absent {
		t.Errorf("LocationState = %v after unavailable day", st)
	}

	// a retry goes back to the source
	e.LocationData(context.Background())
	if ad.calls != 2 {
		t.Errorf("adapter calls = %d, want 2", ad.calls)
	}
}

func TestEntity_GridIndexed(t *testing.T) {
	ad := &countingAdapter{set: sampleSet()}
	cat := newCatalog(t, Source{Name: "hrrr", Kind: Grid, Match: geo.Matcher{Mode: geo.Radius, MaxDistanceKm: 50}, GridIndexed: true, Adapter: ad})

	e, err := cat.Entity("hrrr", testDate, nyc)
	if err != nil {
		t.Fatalf("Entity: %v", err)
	}
	raw, err := e.Raw(context.Background())
	if err != nil {
		t.Fatalf("Raw: %v", err)
	}
	if raw[0].Latitude != 40.72 || raw[0].Longitude != -74.01 {
		t.Errorf("decoded raw[0] = %+v", raw[0])
	}

	data, _ := os.ReadFile(e.RawPath())
	if !strings.HasPrefix(string(data), "LatLonIdx,ValidTime,PM25\n0,13,23\n1,13,33\n2,13,5\n") {
		t.Errorf("raw file = %q", data)
	}

	idx, _ := cat.Index("hrrr")
	if idx.State() != gridindex.Built || idx.Len() != 3 {
		t.Errorf("index state %v len %d", idx.State(), idx.Len())
	}

	loc, err := e.LocationData(context.Background())
	if err != nil {
		t.Fatalf("LocationData: %v", err)
	}
	if len(loc) != 4 {
		t.Errorf("len(loc) = %d, want 4", len(loc))
	}
	locData, _ := os.ReadFile(e.LocationPath())
	if !strings.HasPrefix(string(locData), "LatLonIdx,") {
		t.Errorf("location file not indexed: %q", locData)
	}
}

func TestEntity_GridIndexMissingOnDecode(t *testing.T) {
	ad := &countingAdapter{set: sampleSet()}
	cat := newCatalog(t, Source{Name: "hrrr", Kind: Grid, Match: geo.Matcher{Mode: geo.Radius, MaxDistanceKm: 50}, GridIndexed: true, Adapter: ad})

	e, _ := cat.Entity("hrrr", testDate, nyc)
	if _, err := e.Raw(context.Background()); err != nil {
		t.Fatalf("Raw: %v", err)
	}
	os.Remove(idxPath(cat))

	other := NewCatalog(cat.Root, cat.Table, nil)
	e2, _ := other.Entity("hrrr", testDate, nyc)
	if _, err := e2.Raw(context.Background()); !errors.Is(err, gridindex.ErrIndexMissing) {
		t.Errorf("err = %v, want ErrIndexMissing", err)
	}
}

func idxPath(c *Catalog) string {
	idx, _ := c.Index("hrrr")
	return idx.Path()
}

func TestEntity_InvalidateLocation(t *testing.T) {
	ad := &countingAdapter{set: sampleSet()}
	src := Source{Name: "airnow", Kind: Station, Match: geo.Matcher{Mode: geo.Nearest, MaxDistanceKm: 50, MaxNeighbors: 1}, Adapter: ad}
	cat := newCatalog(t, src)

	e, _ := cat.Entity("airnow", testDate, nyc)
	if _, err := e.LocationData(context.Background()); err != nil {
		t.Fatalf("LocationData: %v", err)
	}

	if err := cat.Table.Override("airnow", 0, 5); err != nil {
		t.Fatalf("Override: %v", err)
	}
	e2, _ := cat.Entity("airnow", testDate, nyc)
	if got, _ := e2.LocationData(context.Background()); len(got) != 2 {
		t.Fatalf("cached location len = %d, want stale 2", len(got))
	}

	if err := e2.InvalidateLocation(); err != nil {
		t.Fatalf("InvalidateLocation: %v", err)
	}
	got, err := e2.LocationData(context.Background())
	if err != nil {
		t.Fatalf("LocationData: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("rebuilt location len = %d, want 4", len(got))
	}
	if ad.calls != 1 {
		t.Errorf("adapter calls = %d, want 1", ad.calls)
	}
}

func TestEntity_LedgerRecordsFetches(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	ledger := store.New(db, nil)
	if err := ledger.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	ok := &countingAdapter{set: sampleSet()}
	bad := &countingAdapter{err: ingest.ErrUnavailable}
	table, _ := NewTable(
		Source{Name: "cams", Kind: Grid, Match: geo.Matcher{Mode: geo.Radius, MaxDistanceKm: 60}, Adapter: ok},
		Source{Name: "naqfc", Kind: Grid, Match: geo.Matcher{Mode: geo.Radius, MaxDistanceKm: 50}, Adapter: bad},
	)
	cat := NewCatalog(t.TempDir(), table, ledger)

	e, _ := cat.Entity("cams", testDate, nyc)
	e.Raw(context.Background())
	e2, _ := cat.Entity("naqfc", testDate, nyc)
	e2.Raw(context.Background())

	runs, err := ledger.FetchRunsFor("cams", testDate)
	if err != nil || len(runs) != 1 || !runs[0].Success || runs[0].Records.Int64 != 6 {
		t.Errorf("cams runs = %+v, %v", runs, err)
	}
	runs, err = ledger.FetchRunsFor("naqfc", testDate)
	if err != nil || len(runs) != 1 || runs[0].Success || !runs[0].Unavailable {
		t.Errorf("naqfc runs = %+v, %v", runs, err)
	}
}

func TestTable(t *testing.T) {
	adapters := map[string]ingest.Adapter{
		"airnow": &countingAdapter{},
		"hrrr":   &countingAdapter{},
	}
	table, err := DefaultTable(adapters)
	if err != nil {
		t.Fatalf("DefaultTable: %v", err)
	}
	if got := strings.Join(table.Names(), ","); got != "airnow,hrrr" {
		t.Errorf("Names = %s", got)
	}

	hrrr, err := table.Lookup("hrrr")
	if err != nil || !hrrr.GridIndexed || hrrr.Match.Mode != geo.Radius {
		t.Errorf("hrrr = %+v, %v", hrrr, err)
	}
	if _, err := table.Lookup("cams"); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("Lookup(cams) err = %v", err)
	}

	sel, err := table.Select([]string{"hrrr"})
	if err != nil || len(sel.Names()) != 1 {
		t.Errorf("Select = %v, %v", sel, err)
	}

	if _, err := NewTable(Source{Name: "x", Match: geo.Matcher{Mode: geo.Nearest, MaxDistanceKm: 10}}); err == nil {
		t.Error("expected error for nearest matcher without neighbor cap")
	}
	if _, err := NewTable(Defaults[0], Defaults[0]); err == nil {
		t.Error("expected duplicate error")
	}
}
