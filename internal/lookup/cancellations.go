package lookup

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
)

// CancellationLookup maps cancellation codes to their description.
type CancellationLookup struct {
	cancellations map[string]string
}

// NewCancellationLookup loads a CSV with Code and Description columns. An
// empty path or a missing file yields an empty lookup.
func NewCancellationLookup(cancellationsFile string, logger *zap.SugaredLogger) (*CancellationLookup, error) {
	if cancellationsFile == "" {
		return &CancellationLookup{cancellations: make(map[string]string)}, nil
	}

	file, err := os.Open(cancellationsFile)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warnf("Cancellations file %s not found, reasons will be omitted", cancellationsFile)
		return &CancellationLookup{cancellations: make(map[string]string)}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	logger.Infof("Loading cancellations from %s", cancellationsFile)

	lookup, err := LoadCancellations(file)
	if err != nil {
		return nil, fmt.Errorf("cancellations file %s: %w", cancellationsFile, err)
	}

	logger.Infof("Loaded %d cancellation reasons into lookup table", lookup.Len())
	return lookup, nil
}

// LoadCancellations reads the Code/Description CSV from r.
func LoadCancellations(r io.Reader) (*CancellationLookup, error) {
	csvReader := csv.NewReader(r)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	headers, err := csvReader.Read()
	if err != nil {
		return nil, err
	}

	codeIdx, descIdx := -1, -1
	for i, h := range headers {
		switch strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) {
		case "Code":
			codeIdx = i
		case "Description":
			descIdx = i
		}
	}
	if codeIdx == -1 || descIdx == -1 {
		return nil, fmt.Errorf("CSV must have 'Code' and 'Description' columns")
	}

	lookup := &CancellationLookup{cancellations: make(map[string]string)}
	for {
		row, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if len(row) <= codeIdx || len(row) <= descIdx {
			continue
		}

		code := strings.TrimSpace(row[codeIdx])
		description := strings.TrimSpace(row[descIdx])
		if code == "" || description == "" {
			continue
		}
		lookup.cancellations[strings.ToUpper(code)] = description
	}
	return lookup, nil
}

// LookupReason returns the description for code, or "".
func (c *CancellationLookup) LookupReason(code string) string {
	if code == "" {
		return ""
	}
	return c.cancellations[strings.ToUpper(strings.TrimSpace(code))]
}

func (c *CancellationLookup) Len() int { return len(c.cancellations) }
