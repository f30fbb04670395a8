package lookup

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	gzip "github.com/klauspost/pgzip"
	"go.uber.org/zap"
)

// Columns of the OpenFlights airports dump: ID, Name, City, Country, IATA, ICAO, Lat, Lon, ...
const (
	airportIATACol = 4
	airportLatCol  = 6
	airportLonCol  = 7
)

type coordinates struct {
	Lat float64
	Lon float64
}

// AirportLookup maps IATA codes to coordinates. Read-only once built.
type AirportLookup struct {
	airports map[string]coordinates
}

// NewAirportLookup loads airportsFile (gzip when it ends in .gz). An empty
// path or a file that does not exist yields an empty lookup.
func NewAirportLookup(airportsFile string, logger *zap.SugaredLogger) (*AirportLookup, error) {
	lookup := &AirportLookup{airports: make(map[string]coordinates)}
	if airportsFile == "" {
		return lookup, nil
	}

	file, err := os.Open(airportsFile)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warnf("Airports file %s not found, coordinates will be omitted", airportsFile)
		return lookup, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	logger.Infof("Loading airports from %s", airportsFile)

	var reader io.Reader = file
	if strings.HasSuffix(strings.ToLower(airportsFile), ".gz") {
		gz, err := gzip.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("airports file %s: %w", airportsFile, err)
		}
		defer gz.Close()
		reader = gz
	}

	if err := lookup.load(reader); err != nil {
		return nil, fmt.Errorf("airports file %s: %w", airportsFile, err)
	}

	logger.Infof("Loaded %d airports into lookup table", lookup.Len())
	return lookup, nil
}

// LoadAirports builds a lookup from an uncompressed CSV stream.
func LoadAirports(r io.Reader) (*AirportLookup, error) {
	lookup := &AirportLookup{airports: make(map[string]coordinates)}
	if err := lookup.load(r); err != nil {
		return nil, err
	}
	return lookup, nil
}

func (a *AirportLookup) load(r io.Reader) error {
	csvReader := csv.NewReader(r)
	csvReader.FieldsPerRecord = -1

	for {
		row, err := csvReader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if len(row) <= airportLonCol {
			continue
		}

		iata := strings.TrimSpace(row[airportIATACol])
		if iata == "" || iata == `\N` {
			continue
		}

		lat, err := strconv.ParseFloat(strings.TrimSpace(row[airportLatCol]), 64)
		if err != nil {
			continue
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(row[airportLonCol]), 64)
		if err != nil {
			continue
		}

		a.airports[strings.ToUpper(iata)] = coordinates{Lat: lat, Lon: lon}
	}
}

// LookupCoordinates returns "lat,lon" for iataCode, or "" when unknown.
func (a *AirportLookup) LookupCoordinates(iataCode string) string {
	if iataCode == "" {
		return ""
	}

	airport, ok := a.airports[strings.ToUpper(strings.TrimSpace(iataCode))]
	if !ok {
		return ""
	}
	return fmt.Sprintf("%.6f,%.6f", airport.Lat, airport.Lon)
}

func (a *AirportLookup) Len() int { return len(a.airports) }
