package experiment

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
)

// Job is one line of a batch list: a location and an inclusive date range.
type Job struct {
	Line     int
	Location string
	Start    time.Time
	End      time.Time
}

// ParseBatch reads lines of the form
//
//	Boise City, ID|2023-06-01|2023-06-30
//
// Blank lines and lines starting with # are ignored.
func ParseBatch(r io.Reader) ([]Job, error) {
	var jobs []Job
	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) != 3 {
			return nil, fmt.Errorf("line %d: want location|start|end, got %q", n, line)
		}
		loc := strings.TrimSpace(parts[0])
		if loc == "" {
			return nil, fmt.Errorf("line %d: empty location", n)
		}
		start, err := time.Parse(models.DateLayout, strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("line %d: start date: %w", n, err)
		}
		end, err := time.Parse(models.DateLayout, strings.TrimSpace(parts[2]))
		if err != nil {
			return nil, fmt.Errorf("line %d: end date: %w", n, err)
		}
		if end.Before(start) {
			return nil, fmt.Errorf("line %d: end %s before start %s", n, parts[2], parts[1])
		}
		jobs = append(jobs, Job{Line: n, Location: loc, Start: start, End: end})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read batch list: %w", err)
	}
	return jobs, nil
}
