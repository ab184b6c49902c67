package summary

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/cache"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/experiment"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/metric"
)

func day(flags map[string]metric.Score) experiment.DayResult {
	return experiment.DayResult{"smokeday": flags}
}

var (
	yes  = metric.Bool(true)
	no   = metric.Bool(false)
	none = metric.UndefinedFlag()
)

func sample() map[string]experiment.DayResult {
	return map[string]experiment.DayResult{
		"2023-06-01": day(map[string]metric.Score{"observed": yes, "persistence": yes, "hrrr": yes, "cams": no, "airnow": yes}),
		"2023-06-02": day(map[string]metric.Score{"observed": no, "persistence": yes, "hrrr": no, "cams": none, "airnow": no}),
		"2023-06-03": day(map[string]metric.Score{"observed": yes, "persistence": no, "hrrr": yes, "cams": no}),
		"2023-06-04": day(map[string]metric.Score{"observed": none, "persistence": yes, "hrrr": yes, "cams": yes}),
		"2023-06-05": {"rmse": {"hrrr": metric.Num(3)}},
	}
}

func TestTally(t *testing.T) {
	tbl := Tally("Boise City, ID", sample(), "airnow")

	if tbl.Days != 5 || tbl.Unscored != 2 {
		t.Errorf("Days = %d, Unscored = %d", tbl.Days, tbl.Unscored)
	}
	var order []string
	for _, r := range tbl.Rows {
		order = append(order, r.Source)
	}
	if got := strings.Join(order, ","); got != "persistence,cams,hrrr" {
		t.Errorf("rows = %s", got)
	}

	tests := []struct {
		source string
		want   Counts
	}{
		{"persistence", Counts{TP: 1, FP: 1, FN: 1}},
		{"hrrr", Counts{TP: 2, TN: 1}},
		{"cams", Counts{FN: 2}},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			r, ok := tbl.Row(tt.source)
			if !ok {
				t.Fatal("missing row")
			}
			if r.Counts != tt.want {
				t.Errorf("counts = %+v, want %+v", r.Counts, tt.want)
			}
		})
	}
}

func TestRatios(t *testing.T) {
	tests := []struct {
		name      string
		c         Counts
		precision Ratio
		recall    Ratio
	}{
		{"both defined", Counts{TP: 3, FP: 1, FN: 3}, Ratio{0.75, true}, Ratio{0.5, true}},
		{"never predicted", Counts{FN: 2, TN: 4}, Ratio{}, Ratio{0, true}},
		{"never observed", Counts{FP: 2, TN: 4}, Ratio{0, true}, Ratio{}},
		{"empty", Counts{}, Ratio{}, Ratio{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Precision(); got != tt.precision {
				t.Errorf("Precision = %+v, want %+v", got, tt.precision)
			}
			if got := tt.c.Recall(); got != tt.recall {
				t.Errorf("Recall = %+v, want %+v", got, tt.recall)
			}
		})
	}
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	if err := Tally("Boise City, ID", sample(), "airnow").Write(&buf); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Confusion matrix for Boise City, ID (5 days, 2 without observations)",
		"1 (33.33%)",
		"1.00 +",
		"--",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "airnow") {
		t.Errorf("observation source listed:\n%s", out)
	}
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	for date, r := range sample() {
		d, _ := time.Parse("2006-01-02", date)
		data, err := experiment.Encode(r)
		if err != nil {
			t.Fatal(err)
		}
		if err := cache.WriteFileAtomic(experiment.ResultPath(root, "Boise City, ID", d), data); err != nil {
			t.Fatal(err)
		}
	}

	tbl, err := Load(root, "Boise City, ID", "airnow")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	r, _ := tbl.Row("hrrr")
	if r.Counts != (Counts{TP: 2, TN: 1}) {
		t.Errorf("hrrr = %+v", r.Counts)
	}

	if _, err := Load(root, "Nowhere", "airnow"); err == nil {
		t.Error("expected error for missing location")
	}
}
