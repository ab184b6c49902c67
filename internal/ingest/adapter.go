// Package ingest holds the source adapters: one per forecast provider, each
// turning a calendar date into a reading set in µg/m³ with lead hours
// counted from midnight of that date.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/fetch"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
)

// ErrUnavailable means the source cannot produce the whole day. Adapters
// never return a partial day.
var ErrUnavailable = errors.New("source data unavailable")

type Adapter interface {
	Fetch(ctx context.Context, date time.Time) (models.ReadingSet, error)
}

// AdapterFunc lets a plain function act as an Adapter.
type AdapterFunc func(ctx context.Context, date time.Time) (models.ReadingSet, error)

func (f AdapterFunc) Fetch(ctx context.Context, date time.Time) (models.ReadingSet, error) {
	return f(ctx, date)
}

// DefaultParallelism bounds concurrent segment downloads per day.
const DefaultParallelism = 4

type segment struct {
	key   string
	parse func([]byte) (models.ReadingSet, error)
}

// fetchSegments downloads and parses every segment of a day. Results keep
// segment order regardless of completion order. A missing segment makes the
// whole day unavailable.
func fetchSegments(ctx context.Context, g fetch.Getter, segs []segment, limit int) (models.ReadingSet, error) {
	if limit <= 0 {
		limit = DefaultParallelism
	}
	parts := make([]models.ReadingSet, len(segs))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for i, s := range segs {
		eg.Go(func() error {
			data, err := g.Get(egCtx, s.key)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if errors.Is(err, fetch.ErrNotFound) {
					return fmt.Errorf("segment %s: %w", s.key, ErrUnavailable)
				}
				return fmt.Errorf("segment %s: %w: %w", s.key, ErrUnavailable, err)
			}
			set, err := s.parse(data)
			if err != nil {
				return fmt.Errorf("parse %s: %w", s.key, err)
			}
			parts[i] = set
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	n := 0
	for _, p := range parts {
		n += len(p)
	}
	out := make(models.ReadingSet, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out, nil
}

// clean drops readings that fail validation, logging how many went.
func clean(scope string, set models.ReadingSet) models.ReadingSet {
	out := set[:0]
	dropped := 0
	for _, r := range set {
		if rejects(ValidateReading(r)) {
			dropped++
			continue
		}
		out = append(out, r)
	}
	if dropped > 0 {
		log.Printf("%s: dropped %d invalid readings", scope, dropped)
	}
	return out
}
