package experiment

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/cache"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/forecast"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/gridindex"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/ingest"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/metric"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/store"
)

var (
	boise = models.Location{Name: "Boise City, ID", Point: models.Point{Latitude: 43.6, Longitude: -116.2}}
	day1  = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	day2  = day1.AddDate(0, 0, 1)
	day3  = day1.AddDate(0, 0, 2)
)

// scripted serves a fixed set per day, ErrUnavailable for days it has no
// entry for, and counts calls.
type scripted struct {
	byDay map[time.Time]models.ReadingSet
	calls int
}

func (s *scripted) Fetch(_ context.Context, date time.Time) (models.ReadingSet, error) {
	s.calls++
	set, ok := s.byDay[date]
	if !ok {
		return nil, ingest.ErrUnavailable
	}
	return set, nil
}

func hourly(lat float64, first, last int, pm func(h int) float64) models.ReadingSet {
	var set models.ReadingSet
	for h := first; h <= last; h++ {
		set = append(set, models.Reading{Latitude: lat, Longitude: -116.2, ValidTime: h, PM25: pm(h)})
	}
	return set
}

type fixture struct {
	exp    *Experiment
	airnow *scripted
	cams   *scripted
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	airnow := &scripted{byDay: map[time.Time]models.ReadingSet{
		day1: hourly(43.61, 11, 35, func(h int) float64 { return float64(h) }),
		// day2 unavailable
		day3: hourly(47.0, 11, 35, func(h int) float64 { return 50 }), // no monitor near Boise
	}}
	cams := &scripted{byDay: map[time.Time]models.ReadingSet{
		day1: hourly(43.7, 13, 35, func(h int) float64 { return float64(h) + 1 }),
		day2: hourly(43.7, 13, 35, func(h int) float64 { return 5 }),
		// day3 unavailable
	}}
	table, err := forecast.DefaultTable(map[string]ingest.Adapter{"airnow": airnow, "cams": cams})
	if err != nil {
		t.Fatal(err)
	}
	root := t.TempDir()
	return &fixture{
		exp: &Experiment{
			Location:    boise,
			Start:       day1,
			End:         day3,
			Metrics:     []metric.Metric{metric.RMSE{}, metric.MeanExcessExposure{}, metric.SmokeDay{Threshold: 35}},
			Params:      metric.DefaultParams(),
			Catalog:     forecast.NewCatalog(filepath.Join(root, "data"), table, nil),
			ResultsRoot: filepath.Join(root, "results"),
		},
		airnow: airnow,
		cams:   cams,
	}
}

func TestRun(t *testing.T) {
	f := newFixture(t)
	ledger, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"), clockwork.NewFakeClock())
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()
	f.exp.Ledger = ledger

	sum, err := f.exp.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sum.Written) != 1 || !sum.Written[0].Equal(day1) {
		t.Errorf("Written = %v", sum.Written)
	}
	// day2 has no observations, day3 has no defined score
	if len(sum.Skipped) != 2 {
		t.Errorf("Skipped = %v", sum.Skipped)
	}

	path := ResultPath(f.exp.ResultsRoot, boise.Name, day1)
	r, err := ReadResult(path)
	if err != nil {
		t.Fatalf("ReadResult: %v", err)
	}
	if v, ok := r["mee"]["cams"].Float(); !ok || v != 0 {
		t.Errorf("mee cams = %v", r["mee"]["cams"])
	}
	if v, ok := r["smokeday"]["observed"].Flag(); !ok || v {
		t.Errorf("smokeday observed = %v", r["smokeday"]["observed"])
	}
	if v, ok := r["smokeday"]["cams"].Flag(); !ok || !v {
		t.Errorf("smokeday cams = %v", r["smokeday"]["cams"])
	}
	for _, d := range []time.Time{day2, day3} {
		if _, err := os.Stat(ResultPath(f.exp.ResultsRoot, boise.Name, d)); !os.IsNotExist(err) {
			t.Errorf("result for skipped %s exists: %v", d.Format(models.DateLayout), err)
		}
	}

	days, err := ledger.ExperimentDays(sum.RunID)
	if err != nil {
		t.Fatalf("ExperimentDays: %v", err)
	}
	if len(days) != 3 {
		t.Fatalf("ledger days = %d, want 3", len(days))
	}
	if days[0].Outcome != store.OutcomeWritten || days[1].Outcome != store.OutcomeSkipped || days[2].Outcome != store.OutcomeSkipped {
		t.Errorf("outcomes = %s %s %s", days[0].Outcome, days[1].Outcome, days[2].Outcome)
	}
	if !strings.Contains(days[2].Reason.String, ErrMissingValues.Error()) {
		t.Errorf("day3 reason = %q", days[2].Reason.String)
	}
}

func TestRun_BrokenSourceStillWritesDay(t *testing.T) {
	f := newFixture(t)
	broken := ingest.AdapterFunc(func(context.Context, time.Time) (models.ReadingSet, error) {
		return nil, errors.New("parse geoscf/20230601/f05.csv: line 3: bad float")
	})
	table, err := forecast.DefaultTable(map[string]ingest.Adapter{"airnow": f.airnow, "cams": f.cams, "geoscf": broken})
	if err != nil {
		t.Fatal(err)
	}
	f.exp.Catalog = forecast.NewCatalog(t.TempDir(), table, nil)
	f.exp.End = day1

	sum, err := f.exp.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sum.Written) != 1 || len(sum.Skipped) != 0 {
		t.Fatalf("written %v, skipped %v", sum.Written, sum.Skipped)
	}
	r, err := ReadResult(ResultPath(f.exp.ResultsRoot, boise.Name, day1))
	if err != nil {
		t.Fatalf("ReadResult: %v", err)
	}
	if r["rmse"]["geoscf"].Defined() {
		t.Errorf("rmse geoscf = %v, want undefined", r["rmse"]["geoscf"])
	}
	if !r["rmse"]["cams"].Defined() || !r["rmse"][metric.Persistence].Defined() {
		t.Errorf("rmse = %v, want cams and persistence defined", r["rmse"])
	}
}

func TestRun_Rerun(t *testing.T) {
	f := newFixture(t)
	if _, err := f.exp.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	path := ResultPath(f.exp.ResultsRoot, boise.Name, day1)
	first, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasSuffix(first, []byte("}\n")) {
		t.Errorf("result lacks trailing newline: %q", first)
	}
	airnowCalls, camsCalls := f.airnow.calls, f.cams.calls

	if _, err := f.exp.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("rerun changed result:\n%s\n---\n%s", first, second)
	}
	// available days are served from the cache; unavailable days are retried
	if got := f.airnow.calls - airnowCalls; got != 1 {
		t.Errorf("airnow refetched %d days, want 1 (the unavailable one)", got)
	}
	if got := f.cams.calls - camsCalls; got != 1 {
		t.Errorf("cams refetched %d days, want 1", got)
	}
}

func TestRun_GridIndexMissingStops(t *testing.T) {
	f := newFixture(t)
	hrrr := &scripted{}
	table, err := forecast.DefaultTable(map[string]ingest.Adapter{"airnow": f.airnow, "hrrr": hrrr})
	if err != nil {
		t.Fatal(err)
	}
	root := f.exp.Catalog.Root
	f.exp.Catalog = forecast.NewCatalog(root, table, nil)

	// an indexed raw file whose index was lost
	raw := cache.RawPath(root, "hrrr", day1)
	if err := cache.WriteFileAtomic(raw, []byte("LatLonIdx,ValidTime,PM25\n0,13,5\n")); err != nil {
		t.Fatal(err)
	}

	sum, err := f.exp.Run(context.Background())
	if !errors.Is(err, gridindex.ErrIndexMissing) {
		t.Fatalf("err = %v, want ErrIndexMissing", err)
	}
	if len(sum.Written)+len(sum.Skipped) != 0 {
		t.Errorf("days after fatal error: %+v", sum)
	}
	if hrrr.calls != 0 {
		t.Errorf("hrrr adapter called %d times", hrrr.calls)
	}
}

func TestRun_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.exp.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Experiment)
	}{
		{"end before start", func(e *Experiment) { e.End = day1.AddDate(0, 0, -1) }},
		{"no metrics", func(e *Experiment) { e.Metrics = nil }},
		{"no results root", func(e *Experiment) { e.ResultsRoot = "" }},
		{"no location", func(e *Experiment) { e.Location = models.Location{} }},
		{"bad params", func(e *Experiment) { e.Params.PersistenceHour = 20 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.modify(f.exp)
			if err := f.exp.Validate(); err == nil {
				t.Error("expected error")
			}
		})
	}
	if err := newFixture(t).exp.Validate(); err != nil {
		t.Errorf("valid experiment rejected: %v", err)
	}
}

func TestEncode(t *testing.T) {
	_, err := Encode(DayResult{
		"rmse":     {"cams": metric.UndefinedNumber()},
		"smokeday": {"observed": metric.UndefinedFlag()},
	})
	if !errors.Is(err, ErrMissingValues) {
		t.Errorf("err = %v, want ErrMissingValues", err)
	}

	data, err := Encode(DayResult{
		"smokeday": {"observed": metric.Bool(false), "cams": metric.UndefinedFlag()},
		"rmse":     {"cams": metric.Num(2.5)},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "{\n  \"rmse\": {\n    \"cams\": 2.5\n  },\n  \"smokeday\": {\n    \"cams\": null,\n    \"observed\": false\n  }\n}\n"
	if string(data) != want {
		t.Errorf("got\n%s\nwant\n%s", data, want)
	}
}

func TestReadResults(t *testing.T) {
	root := t.TempDir()
	for _, d := range []time.Time{day2, day1} {
		data, _ := Encode(DayResult{"rmse": {"cams": metric.Num(1)}})
		if err := cache.WriteFileAtomic(ResultPath(root, "A/B", d), data); err != nil {
			t.Fatal(err)
		}
	}
	os.WriteFile(filepath.Join(root, "A_B", "notes.txt"), []byte("x"), 0644)

	results, err := ReadResults(root, "A/B")
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(SortedDates(results), ","); got != "2023-06-01,2023-06-02" {
		t.Errorf("dates = %s", got)
	}
}

func TestParseBatch(t *testing.T) {
	in := `# location|start|end
Boise City, ID|2023-06-01|2023-06-30

  Seattle--Tacoma, WA | 2023-07-01 | 2023-07-02
`
	jobs, err := ParseBatch(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ParseBatch: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("jobs = %+v", jobs)
	}
	if jobs[0].Location != "Boise City, ID" || jobs[0].Line != 2 || !jobs[0].End.Equal(time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("job 0 = %+v", jobs[0])
	}
	if jobs[1].Location != "Seattle--Tacoma, WA" || jobs[1].Line != 4 {
		t.Errorf("job 1 = %+v", jobs[1])
	}

	for _, bad := range []string{
		"Boise|2023-06-01",
		"|2023-06-01|2023-06-02",
		"Boise|2023-13-01|2023-06-02",
		"Boise|2023-06-02|2023-06-01",
	} {
		if _, err := ParseBatch(strings.NewReader(bad)); err == nil {
			t.Errorf("ParseBatch(%q) succeeded", bad)
		}
	}
}
