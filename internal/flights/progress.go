package flights

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

// Progress tracks the record counters of a run. Loaded counts documents the
// cluster acknowledged; Processed counts every row read, skipped or not.
type Progress struct {
	total     atomic.Int64
	loaded    atomic.Int64
	processed atomic.Int64
	out       io.Writer
}

func NewProgress(out io.Writer) *Progress {
	if out == nil {
		out = io.Discard
	}
	return &Progress{out: out}
}

func (p *Progress) SetTotal(n int64)        { p.total.Store(n) }
func (p *Progress) AddProcessed(n int64)    { p.processed.Add(n) }
func (p *Progress) AddLoaded(n int64) int64 { return p.loaded.Add(n) }

func (p *Progress) Total() int64     { return p.total.Load() }
func (p *Progress) Loaded() int64    { return p.loaded.Load() }
func (p *Progress) Processed() int64 { return p.processed.Load() }

// Print rewrites the current progress line.
func (p *Progress) Print() {
	loaded, total := p.Loaded(), p.Total()
	if total > 0 {
		percentage := float64(loaded) / float64(total) * 100
		fmt.Fprintf(p.out, "\r%s of %s records loaded (%.1f%%)", FormatNumber(loaded), FormatNumber(total), percentage)
	} else {
		fmt.Fprintf(p.out, "\r%s records loaded", FormatNumber(loaded))
	}
	if f, ok := p.out.(*os.File); ok {
		f.Sync()
	}
}

// CountTotalRecords estimates the number of data rows across files: raw line
// count minus the header for every regular file. Files that cannot be
// counted are logged and left out of the estimate.
func CountTotalRecords(files []string, logger *zap.SugaredLogger) int64 {
	var total int64
	for _, filePath := range files {
		info, err := os.Stat(filePath)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		count, err := CountLines(filePath)
		if err != nil {
			logger.Warnf("Failed to count lines in %s: %v", filePath, err)
			continue
		}
		if count > 0 {
			total += count - 1
		}
	}
	return total
}

// FormatNumber renders n with thousands separators.
func FormatNumber(n int64) string {
	s := strconv.FormatInt(n, 10)
	sign := ""
	if n < 0 {
		sign, s = "-", s[1:]
	}
	if len(s) <= 3 {
		return sign + s
	}

	var b strings.Builder
	b.WriteString(sign)
	for i, r := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}
