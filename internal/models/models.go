package models

import (
	"strconv"
	"time"
)

type Point struct {
	Latitude  float64
	Longitude float64
}

type Location struct {
	Name  string
	Point Point
}

// Reading is one concentration value in µg/m³ at a point, for a lead hour
// counted from midnight of the reference day.
type Reading struct {
	Latitude  float64
	Longitude float64
	ValidTime int
	PM25      float64
}

func (r Reading) Point() Point {
	return Point{Latitude: r.Latitude, Longitude: r.Longitude}
}

type IndexedReading struct {
	LatLonIdx int
	ValidTime int
	PM25      float64
}

type ReadingSet []Reading

// AtHour returns the concentrations of every reading valid at hour h.
func (s ReadingSet) AtHour(h int) []float64 {
	var vals []float64
	for _, r := range s {
		if r.ValidTime == h {
			vals = append(vals, r.PM25)
		}
	}
	return vals
}

// Points returns the distinct points of the set in first-occurrence order.
func (s ReadingSet) Points() []Point {
	seen := make(map[PointKey]bool)
	var pts []Point
	for _, r := range s {
		k := KeyOf(r.Point())
		if seen[k] {
			continue
		}
		seen[k] = true
		pts = append(pts, r.Point())
	}
	return pts
}

// PointKey is a point rounded to 6 decimal places, suitable for exact
// equality after a round trip through text storage.
type PointKey struct {
	Lat string
	Lon string
}

func KeyOf(p Point) PointKey {
	return PointKey{
		Lat: strconv.FormatFloat(p.Latitude, 'f', 6, 64),
		Lon: strconv.FormatFloat(p.Longitude, 'f', 6, 64),
	}
}

func (k PointKey) Point() (Point, error) {
	lat, err := strconv.ParseFloat(k.Lat, 64)
	if err != nil {
		return Point{}, err
	}
	lon, err := strconv.ParseFloat(k.Lon, 64)
	if err != nil {
		return Point{}, err
	}
	return Point{Latitude: lat, Longitude: lon}, nil
}

// Day truncates t to a calendar date in UTC.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

const DateLayout = "2006-01-02"
