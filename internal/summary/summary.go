// Package summary turns stored smoke-day results into per-source confusion
// matrices.
package summary

import (
	"fmt"
	"sort"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/experiment"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/metric"
)

const smokeDayMetric = "smokeday"

// Ratio is a quotient that is undefined when its denominator is zero.
type Ratio struct {
	Value   float64
	Defined bool
}

func ratio(num, den int) Ratio {
	if den == 0 {
		return Ratio{}
	}
	return Ratio{Value: float64(num) / float64(den), Defined: true}
}

type Counts struct {
	TP, FP, FN, TN int
}

func (c *Counts) Add(predicted, observed bool) {
	switch {
	case predicted && observed:
		c.TP++
	case predicted:
		c.FP++
	case observed:
		c.FN++
	default:
		c.TN++
	}
}

func (c Counts) Total() int        { return c.TP + c.FP + c.FN + c.TN }
func (c Counts) Precision() Ratio  { return ratio(c.TP, c.TP+c.FP) }
func (c Counts) Recall() Ratio     { return ratio(c.TP, c.TP+c.FN) }
func (c Counts) Share(n int) Ratio { return ratio(n, c.Total()) }

type Row struct {
	Source string
	Counts
}

type Table struct {
	Location string
	// Days counts the result files read; Unscored those without a defined
	// observed flag.
	Days     int
	Unscored int
	Rows     []Row
}

// Row returns the row for source, if any.
func (t *Table) Row(source string) (Row, bool) {
	for _, r := range t.Rows {
		if r.Source == source {
			return r, true
		}
	}
	return Row{}, false
}

// Tally counts the smoke-day flags of every source against the observed
// flag. Days whose observed flag is undefined and undefined source flags are
// left out. The observation source is dropped. Persistence comes first, the
// other sources follow by name.
func Tally(location string, results map[string]experiment.DayResult, observation string) *Table {
	t := &Table{Location: location}
	counts := make(map[string]*Counts)

	for _, date := range experiment.SortedDates(results) {
		t.Days++
		flags, ok := results[date][smokeDayMetric]
		if !ok {
			t.Unscored++
			continue
		}
		observed, ok := flags[metric.Observed].Flag()
		if !ok {
			t.Unscored++
			continue
		}
		for source, s := range flags {
			if source == metric.Observed || source == observation {
				continue
			}
			predicted, ok := s.Flag()
			if !ok {
				continue
			}
			c := counts[source]
			if c == nil {
				c = &Counts{}
				counts[source] = c
			}
			c.Add(predicted, observed)
		}
	}

	names := make([]string, 0, len(counts))
	for n := range counts {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		if (names[i] == metric.Persistence) != (names[j] == metric.Persistence) {
			return names[i] == metric.Persistence
		}
		return names[i] < names[j]
	})
	for _, n := range names {
		t.Rows = append(t.Rows, Row{Source: n, Counts: *counts[n]})
	}
	return t
}

// Load reads every stored day of location under root and tallies it.
func Load(root, location, observation string) (*Table, error) {
	results, err := experiment.ReadResults(root, location)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("no results stored for %s", location)
	}
	return Tally(location, results, observation), nil
}
