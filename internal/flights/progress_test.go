package flights

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestFormatNumber(t *testing.T) {
	cases := map[int64]string{
		0:        "0",
		999:      "999",
		1000:     "1,000",
		1234567:  "1,234,567",
		-1234567: "-1,234,567",
	}
	for n, want := range cases {
		assert.Equal(t, want, FormatNumber(n))
	}
}

func TestProgressPrint(t *testing.T) {
	var out bytes.Buffer
	p := NewProgress(&out)

	p.AddLoaded(1500)
	p.Print()
	assert.Equal(t, "\r1,500 records loaded", out.String())

	out.Reset()
	p.SetTotal(3000)
	p.Print()
	assert.Equal(t, "\r1,500 of 3,000 records loaded (50.0%)", out.String())
}

func TestCountTotalRecords(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writePlain(t, dir, "a.csv", "h\n1\n2\n"),
		writeGzip(t, dir, "b.csv.gz", "h\n1\n"),
		writePlain(t, dir, "header-only.csv", "h\n"),
		writePlain(t, dir, "empty.csv", ""),
		writeZip(t, dir, "broken.zip", "readme.txt", "x"),
		filepath.Join(dir, "missing.csv"),
		dir,
	}
	assert.EqualValues(t, 3, CountTotalRecords(files, zap.NewNop().Sugar()))
}
