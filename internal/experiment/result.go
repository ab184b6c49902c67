package experiment

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/metric"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
)

// ErrMissingValues means a day produced no defined score at all.
var ErrMissingValues = errors.New("missing values")

// DayResult maps a metric name to its per-source scores.
type DayResult map[string]metric.Result

func ResultPath(root, location string, date time.Time) string {
	return filepath.Join(root, strings.ReplaceAll(location, "/", "_"), date.Format(models.DateLayout)+".json")
}

// Encode renders r as indented JSON with sorted keys and a trailing newline.
func Encode(r DayResult) ([]byte, error) {
	defined := false
	for _, res := range r {
		defined = defined || res.Defined()
	}
	if !defined {
		return nil, ErrMissingValues
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return append(data, '\n'), nil
}

func ReadResult(path string) (DayResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var r DayResult
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return r, nil
}

// ReadResults loads every day file stored for location, keyed by date.
func ReadResults(root, location string) (map[string]DayResult, error) {
	dir := filepath.Dir(ResultPath(root, location, time.Time{}))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read results for %s: %w", location, err)
	}

	out := make(map[string]DayResult)
	for _, ent := range entries {
		name := ent.Name()
		if ent.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		date := strings.TrimSuffix(name, ".json")
		if _, err := time.Parse(models.DateLayout, date); err != nil {
			continue
		}
		r, err := ReadResult(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		out[date] = r
	}
	return out, nil
}

// SortedDates returns the keys of results in ascending order.
func SortedDates(results map[string]DayResult) []string {
	dates := make([]string, 0, len(results))
	for d := range results {
		dates = append(dates, d)
	}
	sort.Strings(dates)
	return dates
}
