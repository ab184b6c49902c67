package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/fetch"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
)

const (
	AirNowBucket = "files.airnowtech.org"
	AirNowPrefix = "airnow"
	AirNowRegion = "us-west-1"
	AirNowHTTPS  = "https://s3-us-west-1.amazonaws.com/files.airnowtech.org/airnow"

	airNowUnit = "UG/M3"
)

// AirNow reads the hourly AQ observation files published by AirNow. A day
// spans hours 04-23 of the date and 00-17 of the following day, the latter
// numbered 24-41.
type AirNow struct {
	getter      fetch.Getter
	bbox        BBox
	parallelism int
}

func NewAirNow(g fetch.Getter) *AirNow {
	return &AirNow{getter: g, bbox: CONUS, parallelism: DefaultParallelism}
}

// AirNowKey is the archive key of the observation file for hour h of date.
func AirNowKey(date time.Time, hour int) string {
	d := date.Format("20060102")
	return fmt.Sprintf("%04d/%s/HourlyAQObs_%s%02d.dat", date.Year(), d, d, hour)
}

func (a *AirNow) Fetch(ctx context.Context, date time.Time) (models.ReadingSet, error) {
	date = models.Day(date)
	next := date.AddDate(0, 0, 1)

	var segs []segment
	for h := 4; h <= 23; h++ {
		segs = append(segs, segment{key: AirNowKey(date, h), parse: a.hourParser(0)})
	}
	for h := 0; h <= 17; h++ {
		segs = append(segs, segment{key: AirNowKey(next, h), parse: a.hourParser(24)})
	}

	set, err := fetchSegments(ctx, a.getter, segs, a.parallelism)
	if err != nil {
		return nil, fmt.Errorf("airnow %s: %w", date.Format(models.DateLayout), err)
	}
	return clean("airnow", set), nil
}

func (a *AirNow) hourParser(offset int) func([]byte) (models.ReadingSet, error) {
	return func(data []byte) (models.ReadingSet, error) {
		return parseHourlyAQObs(data, offset, a.bbox)
	}
}

// parseHourlyAQObs parses one HourlyAQObs file. Rows without a PM2.5 value
// are skipped and every remaining row must report UG/M3.
func parseHourlyAQObs(data []byte, offset int, bbox BBox) (models.ReadingSet, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, name := range []string{"Latitude", "Longitude", "ValidTime", "PM25", "PM25_Unit"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("missing column %s", name)
		}
	}

	field := func(rec []string, name string) string {
		i := col[name]
		if i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var set models.ReadingSet
	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		pmText := field(rec, "PM25")
		if pmText == "" {
			continue
		}
		if unit := field(rec, "PM25_Unit"); unit != airNowUnit {
			return nil, fmt.Errorf("line %d: PM25 unit %q, want %s", line, unit, airNowUnit)
		}

		pm, err := strconv.ParseFloat(pmText, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: PM25: %w", line, err)
		}
		lat, err := strconv.ParseFloat(field(rec, "Latitude"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: Latitude: %w", line, err)
		}
		lon, err := strconv.ParseFloat(field(rec, "Longitude"), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: Longitude: %w", line, err)
		}
		vt := field(rec, "ValidTime")
		if len(vt) < 2 {
			return nil, fmt.Errorf("line %d: ValidTime %q", line, vt)
		}
		hour, err := strconv.Atoi(vt[:2])
		if err != nil {
			return nil, fmt.Errorf("line %d: ValidTime: %w", line, err)
		}

		if !bbox.IsZero() && !bbox.Contains(lat, lon) {
			continue
		}
		set = append(set, models.Reading{Latitude: lat, Longitude: lon, ValidTime: hour + offset, PM25: pm})
	}
	return set, nil
}
