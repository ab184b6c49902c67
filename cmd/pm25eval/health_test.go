package main

import (
	"bytes"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/store"
)

func TestWriteHealth(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC))
	ledger, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"), clock)
	if err != nil {
		t.Fatal(err)
	}
	defer ledger.Close()

	var out bytes.Buffer
	if err := writeHealth(&out, ledger, ""); err != nil {
		t.Fatalf("writeHealth: %v", err)
	}
	if !strings.Contains(out.String(), "no experiment runs recorded") {
		t.Errorf("empty ledger output:\n%s", out.String())
	}

	day := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	fr, _ := ledger.StartFetchRun("cams", day)
	fr.Success = true
	fr.Records = sql.NullInt64{Int64: 46, Valid: true}
	if err := ledger.CompleteFetchRun(fr); err != nil {
		t.Fatal(err)
	}
	run, _ := ledger.StartExperimentRun("Boise City, ID", day, day.AddDate(0, 0, 1), []string{"rmse"})
	ledger.RecordExperimentDay(run.ID, day, store.OutcomeWritten, "")
	ledger.RecordExperimentDay(run.ID, day.AddDate(0, 0, 1), store.OutcomeSkipped, "observation data unavailable")
	if err := ledger.CompleteExperimentRun(run, 1, 1); err != nil {
		t.Fatal(err)
	}

	out.Reset()
	if err := writeHealth(&out, ledger, "Boise City, ID"); err != nil {
		t.Fatalf("writeHealth: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"ledger schema v",
		"last run " + run.ID + ": Boise City, ID 2023-06-01..2023-06-02, started 2024-03-01 09:30:00",
		"1 days written, 1 skipped",
		"skipped 2023-06-02: observation data unavailable",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output lacks %q:\n%s", want, got)
		}
	}

	var cams []string
	for _, line := range strings.Split(got, "\n") {
		if strings.HasPrefix(line, "cams") {
			cams = strings.Fields(line)
		}
	}
	if strings.Join(cams, " ") != "cams 1 1 0 0 46" {
		t.Errorf("cams row = %v", cams)
	}
}
