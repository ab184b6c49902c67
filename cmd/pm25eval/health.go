package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/store"
)

type HealthCmd struct {
	Location string `help:"Only report the last experiment run for this location."`
}

func (c *HealthCmd) Run(g *Globals) error {
	if err := os.MkdirAll(filepath.Dir(g.DB), 0755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	ledger, err := store.Open(g.DB, nil)
	if err != nil {
		return fmt.Errorf("open ledger %s: %w", filepath.Clean(g.DB), err)
	}
	defer ledger.Close()
	return writeHealth(os.Stdout, ledger, c.Location)
}

// writeHealth prints per-source fetch outcomes and the most recent
// experiment run with the days it skipped.
func writeHealth(w io.Writer, s *store.Store, location string) error {
	version, err := s.MigrationVersion()
	if err != nil {
		return fmt.Errorf("schema version: %w", err)
	}
	health, err := s.GetFetchHealth()
	if err != nil {
		return fmt.Errorf("fetch health: %w", err)
	}
	fmt.Fprintf(w, "ledger schema v%d\n\n", version)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "source\tfetches\tok\tunavailable\tfailed\treadings")
	for _, h := range health {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", h.Source, h.TotalRuns, h.SuccessRuns, h.Unavailable, h.Failed, h.Records)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	run, err := s.LatestExperimentRun(location)
	if err != nil {
		return fmt.Errorf("last experiment run: %w", err)
	}
	if run == nil {
		fmt.Fprintln(w, "\nno experiment runs recorded")
		return nil
	}
	fmt.Fprintf(w, "\nlast run %s: %s %s..%s, started %s\n", run.ID, run.Location, run.StartDate, run.EndDate,
		run.StartedAt.Format(models.DateLayout+" 15:04:05"))
	if !run.FinishedAt.Valid {
		fmt.Fprintln(w, "  not finished")
	} else {
		fmt.Fprintf(w, "  %d days written, %d skipped\n", run.DaysWritten.Int64, run.DaysSkipped.Int64)
	}

	days, err := s.ExperimentDays(run.ID)
	if err != nil {
		return fmt.Errorf("experiment days: %w", err)
	}
	for _, d := range days {
		if d.Outcome == store.OutcomeSkipped {
			fmt.Fprintf(w, "  skipped %s: %s\n", d.Date, d.Reason.String)
		}
	}
	return nil
}
