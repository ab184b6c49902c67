package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/fetch"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
)

// GridParams describes how a gridded model's per-lead tables map onto
// readings. Tables live at {Source}/{yyyymmdd}/f{lead:02}.csv with columns
// Latitude,Longitude,PM25 in the model's native unit.
type GridParams struct {
	Source    string
	Cycle     int // forecast cycle hour (UTC)
	FirstLead int
	LastLead  int
	// Scale converts the native unit to µg/m³ (1e9 for kg/m³).
	Scale float64
	// WrapLongitude maps 0..360 longitudes onto -180..180.
	WrapLongitude bool
	// CoordDecimals and ValueDecimals round parsed values; negative keeps
	// full precision.
	CoordDecimals int
	ValueDecimals int
	BBox          BBox
}

// DefaultGridParams holds the settings for the supported gridded models, all
// taken from the 12Z cycle.
var DefaultGridParams = map[string]GridParams{
	"hrrr":   {Source: "hrrr", Cycle: 12, FirstLead: 1, LastLead: 24, Scale: 1e9, CoordDecimals: -1, ValueDecimals: 2, BBox: CONUS},
	"cams":   {Source: "cams", Cycle: 12, FirstLead: 1, LastLead: 30, Scale: 1e9, WrapLongitude: true, CoordDecimals: 4, ValueDecimals: 4, BBox: CONUS},
	"geoscf": {Source: "geoscf", Cycle: 12, FirstLead: 0, LastLead: 35, Scale: 1, CoordDecimals: -1, ValueDecimals: 1, BBox: CONUS},
	"naqfc":  {Source: "naqfc", Cycle: 12, FirstLead: 1, LastLead: 24, Scale: 1, CoordDecimals: -1, ValueDecimals: 2, BBox: CONUS},
}

func (p GridParams) Validate() error {
	switch {
	case p.Source == "":
		return fmt.Errorf("grid params: missing source name")
	case p.Cycle < 0 || p.Cycle > 23:
		return fmt.Errorf("grid params %s: cycle %d out of range", p.Source, p.Cycle)
	case p.FirstLead < 0 || p.LastLead < p.FirstLead:
		return fmt.Errorf("grid params %s: lead range %d-%d", p.Source, p.FirstLead, p.LastLead)
	case p.Scale <= 0:
		return fmt.Errorf("grid params %s: scale must be positive", p.Source)
	}
	return nil
}

// Gridded reads pre-extracted gridded model tables through a Getter.
type Gridded struct {
	params      GridParams
	getter      fetch.Getter
	parallelism int
}

func NewGridded(params GridParams, g fetch.Getter) (*Gridded, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Gridded{params: params, getter: g, parallelism: DefaultParallelism}, nil
}

// GridKey is the archive key of one lead's table.
func GridKey(source string, date time.Time, lead int) string {
	return fmt.Sprintf("%s/%s/f%02d.csv", source, date.Format("20060102"), lead)
}

func (g *Gridded) Fetch(ctx context.Context, date time.Time) (models.ReadingSet, error) {
	date = models.Day(date)

	var segs []segment
	for lead := g.params.FirstLead; lead <= g.params.LastLead; lead++ {
		vt := g.params.Cycle + lead
		segs = append(segs, segment{
			key: GridKey(g.params.Source, date, lead),
			parse: func(data []byte) (models.ReadingSet, error) {
				return parseGridTable(data, vt, g.params)
			},
		})
	}

	set, err := fetchSegments(ctx, g.getter, segs, g.parallelism)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", g.params.Source, date.Format(models.DateLayout), err)
	}
	return clean(g.params.Source, set), nil
}

func round(v float64, decimals int) float64 {
	if decimals < 0 {
		return v
	}
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

func parseGridTable(data []byte, validTime int, p GridParams) (models.ReadingSet, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = 3
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if header[0] != "Latitude" || header[1] != "Longitude" || header[2] != "PM25" {
		return nil, fmt.Errorf("unexpected header %v", header)
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

		lat, err1 := strconv.ParseFloat(rec[0], 64)
		lon, err2 := strconv.ParseFloat(rec[1], 64)
		v, err3 := strconv.ParseFloat(rec[2], 64)
		for _, err := range []error{err1, err2, err3} {
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}

		if p.WrapLongitude && lon > 180 {
			lon -= 360
		}
		lat, lon = round(lat, p.CoordDecimals), round(lon, p.CoordDecimals)
		if !p.BBox.IsZero() && !p.BBox.Contains(lat, lon) {
			continue
		}
		set = append(set, models.Reading{
			Latitude:  lat,
			Longitude: lon,
			ValidTime: validTime,
			PM25:      round(v*p.Scale, p.ValueDecimals),
		})
	}
	return set, nil
}
