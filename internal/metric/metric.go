// Package metric scores forecast sources against observations over a fixed
// window of lead hours.
package metric

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/daily"
)

const (
	Persistence = "persistence"
	Observed    = "observed"
)

type Metric interface {
	Name() string
	// Score reduces an aligned day to one score per source.
	Score(a *Aligned) Result
}

// Evaluate aligns d with p and scores it with every metric, keyed by metric
// name.
func Evaluate(ctx context.Context, d *daily.Data, p Params, ms []Metric) (map[string]Result, error) {
	a, err := Align(ctx, d, p)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Result, len(ms))
	for _, m := range ms {
		out[m.Name()] = m.Score(a)
	}
	return out, nil
}

type RMSE struct{}

func (RMSE) Name() string { return "rmse" }

func (RMSE) Score(a *Aligned) Result {
	r := make(Result, len(a.Sources)+1)
	for _, name := range a.Sources {
		r[name] = Num(rmse(a.Observed, a.Predicted[name]))
	}
	r[Persistence] = Num(rmse(a.Observed, constant(a.Persistence, len(a.Observed))))
	return r
}

func rmse(obs, pred []float64) float64 {
	return floats.Distance(obs, pred, 2) / math.Sqrt(float64(len(obs)))
}

// MeanExcessExposure is the observed concentration at the hour a source
// predicts to be cleanest, less the cleanest observed hour.
type MeanExcessExposure struct{}

func (MeanExcessExposure) Name() string { return "mee" }

func (MeanExcessExposure) Score(a *Aligned) Result {
	r := make(Result, len(a.Sources)+1)
	for _, name := range a.Sources {
		r[name] = Num(excessExposure(a.Observed, a.Predicted[name]))
	}
	if floats.HasNaN(a.Observed) {
		r[Persistence] = UndefinedNumber()
	} else {
		r[Persistence] = Num(stat.Mean(a.Observed, nil) - floats.Min(a.Observed))
	}
	return r
}

func excessExposure(obs, pred []float64) float64 {
	if floats.HasNaN(obs) || floats.HasNaN(pred) {
		return math.NaN()
	}
	return obs[floats.MinIdx(pred)] - floats.Min(obs)
}

// SmokeDay flags a day whose window maximum exceeds Threshold. It also
// reports the observed ground truth.
type SmokeDay struct {
	Threshold float64
}

func (SmokeDay) Name() string { return "smokeday" }

func (m SmokeDay) Score(a *Aligned) Result {
	r := make(Result, len(a.Sources)+2)
	for _, name := range a.Sources {
		r[name] = m.exceeds(a.Predicted[name])
	}
	r[Persistence] = m.exceeds([]float64{a.Persistence})
	r[Observed] = m.exceeds(a.Observed)
	return r
}

func (m SmokeDay) exceeds(series []float64) Score {
	if len(series) == 0 || floats.HasNaN(series) {
		return UndefinedFlag()
	}
	return Bool(floats.Max(series) > m.Threshold)
}

func constant(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// Names lists the metrics ByName accepts.
var Names = []string{"rmse", "mee", "smokeday"}

func ByName(name string, p Params) (Metric, error) {
	switch strings.TrimSpace(strings.ToLower(name)) {
	case "rmse":
		return RMSE{}, nil
	case "mee":
		return MeanExcessExposure{}, nil
	case "smokeday":
		return SmokeDay{Threshold: p.Threshold}, nil
	}
	return nil, fmt.Errorf("unknown metric %q (have %v)", name, Names)
}

// Parse resolves names in order, rejecting duplicates. An empty list selects
// every metric.
func Parse(names []string, p Params) ([]Metric, error) {
	if len(names) == 0 {
		names = Names
	}
	var seen []string
	var out []Metric
	for _, n := range names {
		m, err := ByName(n, p)
		if err != nil {
			return nil, err
		}
		if slices.Contains(seen, m.Name()) {
			return nil, fmt.Errorf("metric %q listed twice", m.Name())
		}
		seen = append(seen, m.Name())
		out = append(out, m)
	}
	return out, nil
}
