package flights

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zip"
	gzip "github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCSV = "FlightDate,Reporting_Airline,Origin\n2024-03-01,AA,JFK\n2024-03-02,DL,LAX\n"

func writePlain(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeGzip(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

// writeZip stores entries in order; each entry is name then content.
func writeZip(t *testing.T, dir, name string, entries ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for i := 0; i+1 < len(entries); i += 2 {
		w, err := zw.Create(entries[i])
		require.NoError(t, err)
		_, err = w.Write([]byte(entries[i+1]))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

func readAll(t *testing.T, path string) string {
	t.Helper()
	rc, err := OpenDataReader(path)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestOpenDataReaderFormats(t *testing.T) {
	dir := t.TempDir()

	assert.Equal(t, sampleCSV, readAll(t, writePlain(t, dir, "flights-2024-03.csv", sampleCSV)))
	assert.Equal(t, sampleCSV, readAll(t, writeGzip(t, dir, "flights-2024-03.csv.gz", sampleCSV)))
	assert.Equal(t, sampleCSV, readAll(t, writeZip(t, dir, "flights-2024-03.zip",
		"readme.txt", "not data",
		"On_Time_2024_3.CSV", sampleCSV,
		"second.csv", "ignored\n",
	)))
}

func TestOpenDataReaderZipWithoutCSV(t *testing.T) {
	path := writeZip(t, t.TempDir(), "flights-2024.zip", "readme.txt", "nothing here")

	_, err := OpenDataReader(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoCSVEntry)
}

func TestRowReader(t *testing.T) {
	rows, err := NewRowReader(strings.NewReader("\ufeffFlightDate,Origin,Dest\n2024-01-01,JFK\n2024-01-02,LAX,SFO,extra\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"FlightDate", "Origin", "Dest"}, rows.Headers())

	row, err := rows.Next()
	require.NoError(t, err)
	assert.Equal(t, RawRow{"FlightDate": "2024-01-01", "Origin": "JFK"}, row)

	row, err = rows.Next()
	require.NoError(t, err)
	assert.Equal(t, RawRow{"FlightDate": "2024-01-02", "Origin": "LAX", "Dest": "SFO"}, row)

	_, err = rows.Next()
	assert.Equal(t, io.EOF, err)
}

func TestRowReaderEmptyInput(t *testing.T) {
	_, err := NewRowReader(strings.NewReader(""))
	assert.ErrorIs(t, err, io.EOF)
}

func TestYearMonthFromFilename(t *testing.T) {
	cases := []struct {
		path        string
		year, month string
	}{
		{"data/flights-2024-03.csv", "2024", "03"},
		{"/abs/flights-2024-07.csv.gz", "2024", "07"},
		{"flights-2019.zip", "2019", ""},
		{"FLIGHTS-2019.CSV.ZIP", "2019", ""},
		{"flights-2022.gz.csv", "2022", ""},
		{"On_Time_Reporting_2024_3.zip", "", ""},
		{"flights.csv", "", ""},
		{"flights-24-03.csv", "", ""},
	}
	for _, tc := range cases {
		year, month := YearMonthFromFilename(tc.path)
		assert.Equal(t, tc.year, year, tc.path)
		assert.Equal(t, tc.month, month, tc.path)
	}
}

func TestCountLines(t *testing.T) {
	dir := t.TempDir()

	for _, path := range []string{
		writePlain(t, dir, "a.csv", sampleCSV),
		writeGzip(t, dir, "b.csv.gz", sampleCSV),
		writeZip(t, dir, "c.zip", "c.csv", sampleCSV),
	} {
		n, err := CountLines(path)
		require.NoError(t, err, path)
		assert.EqualValues(t, 3, n, path)
	}

	n, err := CountLines(writePlain(t, dir, "no-trailing-newline.csv", "h\n1\n2"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)

	n, err = CountLines(writePlain(t, dir, "empty.csv", ""))
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)

	// Quoted newlines are counted as lines.
	n, err = CountLines(writePlain(t, dir, "quoted.csv", "h1,h2\n\"a\nb\",c\n"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}
