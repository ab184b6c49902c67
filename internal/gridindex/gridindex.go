// Package gridindex maps repeated grid coordinates to dense integer indices
// persisted once per source, so cached grid tables store one integer per row
// instead of a coordinate pair.
package gridindex

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/cache"
	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
)

// ErrIndexMissing is returned when decoding is attempted before any encode
// has built the index file.
var ErrIndexMissing = errors.New("grid index not built")

type State int

const (
	Unbuilt State = iota
	Built
)

func (s State) String() string {
	if s == Built {
		return "built"
	}
	return "unbuilt"
}

// Index is the persisted coordinate table for one source. Assignments are
// append-only: once a key has an index it keeps it for the life of the file.
type Index struct {
	path string

	mu     sync.Mutex
	state  State
	keys   []models.PointKey
	lookup map[models.PointKey]int
}

// Open returns the index stored at path. A missing file is not an error; the
// index stays Unbuilt until the first Encode.
func Open(path string) (*Index, error) {
	idx := &Index{path: path, lookup: make(map[models.PointKey]int)}
	if err := idx.load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return idx, nil
}

func (i *Index) Path() string { return i.path }

func (i *Index) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Index) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.keys)
}

func (i *Index) load() error {
	data, err := os.ReadFile(i.path)
	if err != nil {
		return err
	}
	keys, err := parse(data)
	if err != nil {
		return fmt.Errorf("parse %s: %w", i.path, err)
	}

	i.keys = keys
	i.lookup = make(map[models.PointKey]int, len(keys))
	for n, k := range keys {
		if _, dup := i.lookup[k]; dup {
			return fmt.Errorf("parse %s: duplicate coordinate %s,%s at line %d", i.path, k.Lat, k.Lon, n+1)
		}
		i.lookup[k] = n
	}
	i.state = Built
	return nil
}

func parse(data []byte) ([]models.PointKey, error) {
	var keys []models.PointKey
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		lat, lon, ok := strings.Cut(text, ",")
		if !ok {
			return nil, fmt.Errorf("line %d: want lat,lon", line)
		}
		k := models.PointKey{Lat: strings.TrimSpace(lat), Lon: strings.TrimSpace(lon)}
		if _, err := k.Point(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		keys = append(keys, k)
	}
	return keys, sc.Err()
}

func render(keys []models.PointKey) []byte {
	var buf bytes.Buffer
	for _, k := range keys {
		buf.WriteString(k.Lat)
		buf.WriteByte(',')
		buf.WriteString(k.Lon)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// build publishes the index derived from set. The file is created
// exclusively; if another writer got there first its table is loaded instead.
func (i *Index) build(set models.ReadingSet) error {
	var keys []models.PointKey
	for _, p := range set.Points() {
		keys = append(keys, models.KeyOf(p))
	}

	if err := os.MkdirAll(filepath.Dir(i.path), 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(i.path), "."+filepath.Base(i.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(render(keys)); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}

	err = os.Link(tmp.Name(), i.path)
	if errors.Is(err, fs.ErrExist) {
		log.Printf("gridindex: %s created by another writer, loading it", i.path)
		return i.load()
	}
	if err != nil {
		return fmt.Errorf("publish index: %w", err)
	}

	i.keys = keys
	i.lookup = make(map[models.PointKey]int, len(keys))
	for n, k := range keys {
		i.lookup[k] = n
	}
	i.state = Built
	log.Printf("gridindex: built %s with %d points", i.path, len(keys))
	return nil
}

// Encode replaces each reading's coordinates with its grid index, building
// the index from set if none exists yet. Coordinates never seen before are
// appended and persisted before Encode returns. An empty set never builds
// the index.
func (i *Index) Encode(set models.ReadingSet) ([]models.IndexedReading, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.state == Unbuilt {
		// another process may have published since Open
		if err := i.load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if i.state == Unbuilt {
		if len(set) == 0 {
			log.Printf("gridindex: empty reading set, %s left unbuilt", i.path)
			return []models.IndexedReading{}, nil
		}
		if err := i.build(set); err != nil {
			return nil, fmt.Errorf("build grid index: %w", err)
		}
	}

	var unseen []models.PointKey
	pending := make(map[models.PointKey]bool)
	for _, r := range set {
		k := models.KeyOf(r.Point())
		if _, ok := i.lookup[k]; !ok && !pending[k] {
			pending[k] = true
			unseen = append(unseen, k)
		}
	}
	if len(unseen) > 0 {
		if err := i.extend(unseen); err != nil {
			return nil, fmt.Errorf("extend grid index: %w", err)
		}
	}

	out := make([]models.IndexedReading, len(set))
	for n, r := range set {
		out[n] = models.IndexedReading{LatLonIdx: i.lookup[models.KeyOf(r.Point())], ValidTime: r.ValidTime, PM25: r.PM25}
	}
	return out, nil
}

// lockStale is how old a lock file must be before it is taken to belong to
// a crashed writer.
const lockStale = 10 * time.Minute

// extend appends keys after whatever is on disk. Appends from different
// processes are serialized through an exclusive lock file and the table is
// reloaded under the lock, so indices handed out by another writer are kept.
func (i *Index) extend(keys []models.PointKey) error {
	unlock, err := i.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if err := i.load(); err != nil {
		return err
	}
	added := 0
	for _, k := range keys {
		if _, ok := i.lookup[k]; ok {
			continue
		}
		i.lookup[k] = len(i.keys)
		i.keys = append(i.keys, k)
		added++
	}
	if added == 0 {
		return nil
	}
	if err := cache.WriteFileAtomic(i.path, render(i.keys)); err != nil {
		return err
	}
	log.Printf("gridindex: appended %d points to %s", added, i.path)
	return nil
}

func (i *Index) lock() (func(), error) {
	path := i.path + ".lock"
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = time.Second
	bo.MaxElapsedTime = 2 * time.Minute

	err := backoff.Retry(func() error {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			return f.Close()
		}
		if !errors.Is(err, fs.ErrExist) {
			return backoff.Permanent(err)
		}
		if fi, serr := os.Stat(path); serr == nil && time.Since(fi.ModTime()) > lockStale {
			log.Printf("gridindex: removing stale lock %s", path)
			os.Remove(path)
		}
		return fmt.Errorf("%s is held by another writer", path)
	}, bo)
	if err != nil {
		return nil, fmt.Errorf("lock grid index: %w", err)
	}
	return func() { os.Remove(path) }, nil
}

// Decode restores coordinates for indexed rows.
func (i *Index) Decode(rows []models.IndexedReading) (models.ReadingSet, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if len(rows) == 0 {
		return models.ReadingSet{}, nil
	}
	if i.state == Unbuilt {
		if err := i.load(); errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("decode with %s: %w", i.path, ErrIndexMissing)
		} else if err != nil {
			return nil, err
		}
	}

	pts := make([]models.Point, len(i.keys))
	parsed := make([]bool, len(i.keys))

	out := make(models.ReadingSet, len(rows))
	for n, r := range rows {
		if r.LatLonIdx < 0 || r.LatLonIdx >= len(i.keys) {
			// the file may have been extended by another run
			if err := i.load(); err != nil {
				return nil, err
			}
			if r.LatLonIdx < 0 || r.LatLonIdx >= len(i.keys) {
				return nil, fmt.Errorf("grid index %d out of range [0,%d)", r.LatLonIdx, len(i.keys))
			}
			pts = append(pts, make([]models.Point, len(i.keys)-len(pts))...)
			parsed = append(parsed, make([]bool, len(i.keys)-len(parsed))...)
		}
		if !parsed[r.LatLonIdx] {
			p, err := i.keys[r.LatLonIdx].Point()
			if err != nil {
				return nil, err
			}
			pts[r.LatLonIdx] = p
			parsed[r.LatLonIdx] = true
		}
		p := pts[r.LatLonIdx]
		out[n] = models.Reading{Latitude: p.Latitude, Longitude: p.Longitude, ValidTime: r.ValidTime, PM25: r.PM25}
	}
	return out, nil
}
