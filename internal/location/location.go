// Package location resolves urban area names to coordinates using the
// Census Bureau gazetteer.
package location

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/klauspost/compress/zip"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/cache"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/fetch"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
)

const (
	GazetteerBase    = "https://www2.census.gov/geo/docs/maps-data/data/gazetteer/2023_Gazetteer"
	GazetteerArchive = "2023_Gaz_ua_national.zip"
	GazetteerFile    = "2023_Gaz_ua_national.txt"

	// MinSimilarity is the lowest normalized similarity for a suggestion.
	MinSimilarity = 0.6
)

const (
	nameCol = 1
	latCol  = 7
	lonCol  = 8
)

// NotFoundError reports an unknown name with the closest known one, if any
// is close enough.
type NotFoundError struct {
	Name       string
	Suggestion string
}

func (e *NotFoundError) Error() string {
	if e.Suggestion == "" {
		return fmt.Sprintf("location %q not found", e.Name)
	}
	return fmt.Sprintf("location %q not found, did you mean %q?", e.Name, e.Suggestion)
}

// Resolver looks names up in the gazetteer stored under
// {data}/urban_centers, downloading it once when missing.
type Resolver struct {
	dir    string
	getter fetch.Getter

	once    sync.Once
	loadErr error
	names   []string
	points  map[string]models.Point
}

// New returns a resolver. getter serves GazetteerArchive and may be nil when
// the gazetteer is already on disk.
func New(dataRoot string, getter fetch.Getter) *Resolver {
	return &Resolver{dir: filepath.Join(dataRoot, "urban_centers"), getter: getter}
}

func (r *Resolver) Path() string {
	return filepath.Join(r.dir, GazetteerFile)
}

// Resolve returns the location named exactly name, ignoring surrounding
// whitespace. An unknown name yields a *NotFoundError.
func (r *Resolver) Resolve(ctx context.Context, name string) (models.Location, error) {
	r.once.Do(func() { r.loadErr = r.load(ctx) })
	if r.loadErr != nil {
		return models.Location{}, r.loadErr
	}

	name = strings.TrimSpace(name)
	if p, ok := r.points[name]; ok {
		return models.Location{Name: name, Point: p}, nil
	}
	suggestion, _ := Suggest(name, r.names)
	return models.Location{}, &NotFoundError{Name: name, Suggestion: suggestion}
}

func (r *Resolver) load(ctx context.Context) error {
	if err := r.ensure(ctx); err != nil {
		return err
	}
	f, err := os.Open(r.Path())
	if err != nil {
		return err
	}
	defer f.Close()

	entries, err := Parse(f)
	if err != nil {
		return fmt.Errorf("parse %s: %w", r.Path(), err)
	}
	r.points = make(map[string]models.Point, len(entries))
	for _, e := range entries {
		if _, dup := r.points[e.Name]; dup {
			continue
		}
		r.points[e.Name] = e.Point
		r.names = append(r.names, e.Name)
	}
	return nil
}

func (r *Resolver) ensure(ctx context.Context) error {
	ok, err := cache.Exists(r.Path())
	if err != nil || ok {
		return err
	}
	if r.getter == nil {
		return fmt.Errorf("gazetteer %s missing and no download source configured", r.Path())
	}

	log.Printf("location: downloading %s", GazetteerArchive)
	data, err := r.getter.Get(ctx, GazetteerArchive)
	if err != nil {
		return fmt.Errorf("download gazetteer: %w", err)
	}
	return extract(data, r.dir)
}

// extract writes every regular file of a zip archive into dir.
func extract(data []byte, dir string) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open gazetteer archive: %w", err)
	}
	found := false
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		name := filepath.Base(zf.Name)
		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("open %s: %w", zf.Name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("read %s: %w", zf.Name, err)
		}
		if err := cache.WriteFileAtomic(filepath.Join(dir, name), body); err != nil {
			return err
		}
		found = found || name == GazetteerFile
	}
	if !found {
		return fmt.Errorf("archive has no %s", GazetteerFile)
	}
	return nil
}

type Entry struct {
	Name  string
	Point models.Point
}

// Parse reads the tab separated gazetteer. The first line is a header.
func Parse(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	if _, err := cr.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty gazetteer")
		}
		return nil, err
	}

	var out []Entry
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) <= lonCol {
			return nil, fmt.Errorf("line %d: %d columns, want at least %d", line, len(rec), lonCol+1)
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(rec[latCol]), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(rec[lonCol]), 64)
		if err := errors.Join(err1, err2); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, Entry{
			Name:  strings.TrimSpace(rec[nameCol]),
			Point: models.Point{Latitude: lat, Longitude: lon},
		})
	}
	return out, nil
}

// Similarity is 1 minus the case-insensitive edit distance over the longer
// length, in runes.
func Similarity(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	n := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if n == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(n)
}

// Suggest returns the candidate most similar to name, provided it reaches
// MinSimilarity. Ties go to the earlier candidate.
func Suggest(name string, candidates []string) (string, bool) {
	best, bestScore := "", MinSimilarity
	found := false
	for _, c := range candidates {
		if s := Similarity(name, c); s > bestScore || (!found && s >= bestScore) {
			best, bestScore, found = c, s, true
		}
	}
	return best, found
}
