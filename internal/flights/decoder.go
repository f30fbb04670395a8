package flights

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/zip"
	gzip "github.com/klauspost/pgzip"
)

// ErrNoCSVEntry is returned when a zip archive holds no *.csv entry.
var ErrNoCSVEntry = errors.New("no CSV entry found")

type container int

const (
	containerPlain container = iota
	containerGzip
	containerZip
)

func containerOf(filePath string) container {
	baseName := strings.ToLower(filepath.Base(filePath))
	switch {
	case strings.HasSuffix(baseName, ".zip"):
		return containerZip
	case strings.HasSuffix(baseName, ".gz"):
		return containerGzip
	default:
		return containerPlain
	}
}

// OpenDataReader opens filePath as a CSV byte stream. Zip archives yield
// their first *.csv entry, *.gz files are decompressed, anything else is
// read as is. The caller must Close the returned reader.
func OpenDataReader(filePath string) (io.ReadCloser, error) {
	switch containerOf(filePath) {
	case containerZip:
		archive, err := zip.OpenReader(filePath)
		if err != nil {
			return nil, err
		}
		entry := csvEntry(archive.File)
		if entry == nil {
			archive.Close()
			return nil, fmt.Errorf("%w in %s", ErrNoCSVEntry, filePath)
		}
		rc, err := entry.Open()
		if err != nil {
			archive.Close()
			return nil, err
		}
		return &stackedReader{Reader: rc, closers: []io.Closer{archive, rc}}, nil

	case containerGzip:
		file, err := os.Open(filePath)
		if err != nil {
			return nil, err
		}
		gz, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("%s: %w", filePath, err)
		}
		return &stackedReader{Reader: gz, closers: []io.Closer{file, gz}}, nil

	default:
		return os.Open(filePath)
	}
}

func csvEntry(files []*zip.File) *zip.File {
	for _, f := range files {
		if strings.HasSuffix(strings.ToLower(f.Name), ".csv") {
			return f
		}
	}
	return nil
}

// stackedReader closes its closers innermost first.
type stackedReader struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedReader) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RawRow is one CSV line keyed by header name.
type RawRow map[string]string

// RowReader yields header-labelled rows from a CSV stream. It reads the
// header once and cannot be rewound.
type RowReader struct {
	csv     *csv.Reader
	headers []string
}

func NewRowReader(r io.Reader) (*RowReader, error) {
	csvReader := csv.NewReader(r)
	csvReader.FieldsPerRecord = -1
	csvReader.ReuseRecord = true

	headers, err := csvReader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("missing CSV header: %w", err)
		}
		return nil, err
	}

	owned := make([]string, len(headers))
	copy(owned, headers)
	if len(owned) > 0 {
		owned[0] = strings.TrimPrefix(owned[0], "\ufeff")
	}

	return &RowReader{csv: csvReader, headers: owned}, nil
}

func (r *RowReader) Headers() []string { return r.headers }

// Next returns the next row, or io.EOF at the end of the stream. Columns
// beyond the header are dropped; missing trailing columns are absent.
func (r *RowReader) Next() (RawRow, error) {
	record, err := r.csv.Read()
	if err != nil {
		return nil, err
	}

	row := make(RawRow, len(r.headers))
	for i, h := range r.headers {
		if i < len(record) {
			row[h] = record[i]
		}
	}
	return row, nil
}

var (
	dataSuffixes    = []string{".csv", ".gz", ".zip"}
	yearMonthSuffix = regexp.MustCompile(`-(\d{4})-(\d{2})$`)
	yearSuffix      = regexp.MustCompile(`-(\d{4})$`)
)

// YearMonthFromFilename extracts partition hints from names such as
// flights-2024-07.csv.gz (2024, 07) or flights-2019.zip (2019, "").
func YearMonthFromFilename(filePath string) (year, month string) {
	name := strings.ToLower(filepath.Base(filePath))
	for stripped := true; stripped; {
		stripped = false
		for _, suffix := range dataSuffixes {
			if strings.HasSuffix(name, suffix) {
				name = strings.TrimSuffix(name, suffix)
				stripped = true
			}
		}
	}

	if m := yearMonthSuffix.FindStringSubmatch(name); m != nil {
		return m[1], m[2]
	}
	if m := yearSuffix.FindStringSubmatch(name); m != nil {
		return m[1], ""
	}
	return "", ""
}

// CountLines counts raw lines without parsing CSV, so quoted fields that
// contain newlines are over-counted. Good enough for a progress estimate.
func CountLines(filePath string) (int64, error) {
	rc, err := OpenDataReader(filePath)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	buf := make([]byte, 64*1024)
	var count int64
	var last byte = '\n'
	for {
		n, err := rc.Read(buf)
		if n > 0 {
			count += int64(bytes.Count(buf[:n], []byte{'\n'}))
			last = buf[n-1]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}
	if last != '\n' {
		count++
	}
	return count, nil
}
