package cache

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/DavidRBurt/PM25-Forecasting-Framework/internal/models"
)

var (
	readingHeader = []string{"Latitude", "Longitude", "ValidTime", "PM25"}
	indexedHeader = []string{"LatLonIdx", "ValidTime", "PM25"}
)

// RawPath is where a source's full-domain readings for date are cached.
func RawPath(root, source string, date time.Time) string {
	return filepath.Join(root, source, datePath(date))
}

// LocationPath is where a source's readings matched to one location are cached.
func LocationPath(root, location, source string, date time.Time) string {
	return filepath.Join(root, "location-data", strings.ReplaceAll(location, "/", "_"), source, datePath(date))
}

func GridIndexPath(root, source string) string {
	return filepath.Join(root, source+"-latlon-idx.csv")
}

func datePath(date time.Time) string {
	return filepath.Join(
		fmt.Sprintf("%04d", date.Year()),
		fmt.Sprintf("%02d", int(date.Month())),
		date.Format(models.DateLayout)+".csv",
	)
}

// Exists reports whether path names a regular file.
func Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

// WriteFileAtomic replaces path with data in one step. A reader sees either
// the previous file or the complete new one, never a prefix.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// EncodeReadings renders set as CSV with a Latitude,Longitude,ValidTime,PM25
// header.
func EncodeReadings(set models.ReadingSet) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(readingHeader); err != nil {
		return nil, err
	}
	for _, r := range set {
		rec := []string{
			formatFloat(r.Latitude),
			formatFloat(r.Longitude),
			strconv.Itoa(r.ValidTime),
			formatFloat(r.PM25),
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func DecodeReadings(r io.Reader) (models.ReadingSet, error) {
	rows, err := readTable(r, readingHeader)
	if err != nil {
		return nil, err
	}

	set := make(models.ReadingSet, 0, len(rows))
	for i, rec := range rows {
		lat, err1 := strconv.ParseFloat(rec[0], 64)
		lon, err2 := strconv.ParseFloat(rec[1], 64)
		vt, err3 := strconv.Atoi(rec[2])
		pm, err4 := strconv.ParseFloat(rec[3], 64)
		if err := firstErr(err1, err2, err3, err4); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		set = append(set, models.Reading{Latitude: lat, Longitude: lon, ValidTime: vt, PM25: pm})
	}
	return set, nil
}

// EncodeIndexed renders grid-indexed rows as CSV with a
// LatLonIdx,ValidTime,PM25 header.
func EncodeIndexed(rows []models.IndexedReading) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(indexedHeader); err != nil {
		return nil, err
	}
	for _, r := range rows {
		if err := w.Write([]string{strconv.Itoa(r.LatLonIdx), strconv.Itoa(r.ValidTime), formatFloat(r.PM25)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func DecodeIndexed(r io.Reader) ([]models.IndexedReading, error) {
	rows, err := readTable(r, indexedHeader)
	if err != nil {
		return nil, err
	}

	out := make([]models.IndexedReading, 0, len(rows))
	for i, rec := range rows {
		idx, err1 := strconv.Atoi(rec[0])
		vt, err2 := strconv.Atoi(rec[1])
		pm, err3 := strconv.ParseFloat(rec[2], 64)
		if err := firstErr(err1, err2, err3); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		out = append(out, models.IndexedReading{LatLonIdx: idx, ValidTime: vt, PM25: pm})
	}
	return out, nil
}

func readTable(r io.Reader, header []string) ([][]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(header)
	cr.ReuseRecord = false

	got, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("missing header")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		if got[i] != header[i] {
			return nil, fmt.Errorf("unexpected header %v, want %v", got, header)
		}
	}

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	return rows, nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// ReadReadings loads a reading table from path.
func ReadReadings(path string) (models.ReadingSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	set, err := DecodeReadings(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return set, nil
}

func ReadIndexed(path string) ([]models.IndexedReading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := DecodeIndexed(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return rows, nil
}
