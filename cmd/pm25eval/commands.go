package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/cache"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/experiment"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/gridindex"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/location"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/metric"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/summary"
)

type RunCmd struct {
	Location string    `required:"" help:"Urban area name exactly as in the census gazetteer."`
	Start    time.Time `required:"" format:"2006-01-02" help:"First day (YYYY-MM-DD)."`
	End      time.Time `required:"" format:"2006-01-02" help:"Last day, included (YYYY-MM-DD)."`
	Metrics  []string  `default:"rmse,mee,smokeday" help:"Metrics to compute."`
}

func (c *RunCmd) Run(ctx context.Context, g *Globals) error {
	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	sum, err := e.experiment(ctx, g, c.Location, c.Start, c.End, c.Metrics)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d days written, %d skipped\n", c.Location, len(sum.Written), len(sum.Skipped))
	return nil
}

// experiment resolves the location before anything is fetched, then runs.
func (e *env) experiment(ctx context.Context, g *Globals, name string, start, end time.Time, names []string) (*experiment.Summary, error) {
	loc, err := e.resolver.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	ms, err := metric.Parse(names, e.params)
	if err != nil {
		return nil, err
	}
	exp := &experiment.Experiment{
		Location:        loc,
		Start:           start,
		End:             end,
		Metrics:         ms,
		Params:          e.params,
		Catalog:         e.catalog,
		ResultsRoot:     g.Results,
		Ledger:          e.ledger,
		RefreshLocation: g.RefreshLocation,
	}
	return exp.Run(ctx)
}

type BatchCmd struct {
	File    string   `arg:"" type:"existingfile" help:"Batch list with one location|start|end per line."`
	Metrics []string `default:"rmse,mee,smokeday" help:"Metrics to compute."`
}

func (c *BatchCmd) Run(ctx context.Context, g *Globals) error {
	f, err := os.Open(c.File)
	if err != nil {
		return err
	}
	jobs, err := experiment.ParseBatch(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("%s: %w", c.File, err)
	}

	e, err := g.open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	var failed []string
	for _, job := range jobs {
		sum, err := e.experiment(ctx, g, job.Location, job.Start, job.End, c.Metrics)
		if errors.Is(err, gridindex.ErrIndexMissing) || ctx.Err() != nil {
			return fmt.Errorf("line %d: %w", job.Line, err)
		}
		if err != nil {
			log.Printf("batch: line %d (%s): %v", job.Line, job.Location, err)
			failed = append(failed, job.Location)
			continue
		}
		fmt.Printf("%s %s..%s: %d days written, %d skipped\n", job.Location,
			job.Start.Format(models.DateLayout), job.End.Format(models.DateLayout), len(sum.Written), len(sum.Skipped))
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d experiments failed: %s", len(failed), len(jobs), strings.Join(failed, "; "))
	}
	return nil
}

type SummaryCmd struct {
	Location string `required:"" help:"Location whose stored results are tallied."`
	Save     bool   `help:"Also write the table under the figures root."`
}

func (c *SummaryCmd) Run(g *Globals) error {
	tbl, err := summary.Load(g.Results, strings.TrimSpace(c.Location), g.Observation)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := tbl.Write(&buf); err != nil {
		return err
	}
	os.Stdout.Write(buf.Bytes())

	if c.Save {
		path := filepath.Join(g.Figures, strings.ReplaceAll(tbl.Location, "/", "_"), "confusion.txt")
		if err := cache.WriteFileAtomic(path, buf.Bytes()); err != nil {
			return err
		}
		log.Printf("summary: saved %s", path)
	}
	return nil
}

type LocateCmd struct {
	Name string `arg:"" help:"Urban area name."`
}

func (c *LocateCmd) Run(ctx context.Context, g *Globals) error {
	r, err := g.resolver(ctx)
	if err != nil {
		return err
	}
	loc, err := r.Resolve(ctx, c.Name)
	var nf *location.NotFoundError
	if errors.As(err, &nf) && nf.Suggestion == "" {
		return fmt.Errorf("%w (no similar name in the gazetteer)", err)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s\t%.6f\t%.6f\n", loc.Name, loc.Point.Latitude, loc.Point.Longitude)
	return nil
}
