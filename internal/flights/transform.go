package flights

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Document is a flight record as indexed. Every field is optional; absent
// values are omitted from the JSON body rather than sent as null.
type Document struct {
	FlightID  string `json:"FlightID,omitempty"`
	Timestamp string `json:"@timestamp,omitempty"`

	ReportingAirline string `json:"Reporting_Airline,omitempty"`
	TailNumber       string `json:"Tail_Number,omitempty"`
	FlightNumber     string `json:"Flight_Number,omitempty"`
	Origin           string `json:"Origin,omitempty"`
	Dest             string `json:"Dest,omitempty"`

	CRSDepTimeLocal *int `json:"CRSDepTimeLocal,omitempty"`
	DepDelayMin     *int `json:"DepDelayMin,omitempty"`
	TaxiOutMin      *int `json:"TaxiOutMin,omitempty"`
	TaxiInMin       *int `json:"TaxiInMin,omitempty"`
	CRSArrTimeLocal *int `json:"CRSArrTimeLocal,omitempty"`
	ArrDelayMin     *int `json:"ArrDelayMin,omitempty"`

	Cancelled          *bool  `json:"Cancelled,omitempty"`
	Diverted           *bool  `json:"Diverted,omitempty"`
	CancellationCode   string `json:"CancellationCode,omitempty"`
	CancellationReason string `json:"CancellationReason,omitempty"`

	ActualElapsedTimeMin *int `json:"ActualElapsedTimeMin,omitempty"`
	AirTimeMin           *int `json:"AirTimeMin,omitempty"`
	Flights              *int `json:"Flights,omitempty"`
	DistanceMiles        *int `json:"DistanceMiles,omitempty"`

	CarrierDelayMin      *int `json:"CarrierDelayMin,omitempty"`
	WeatherDelayMin      *int `json:"WeatherDelayMin,omitempty"`
	NASDelayMin          *int `json:"NASDelayMin,omitempty"`
	SecurityDelayMin     *int `json:"SecurityDelayMin,omitempty"`
	LateAircraftDelayMin *int `json:"LateAircraftDelayMin,omitempty"`

	OriginLocation string `json:"OriginLocation,omitempty"`
	DestLocation   string `json:"DestLocation,omitempty"`
}

// Compact returns the document as the field map that is sent to the
// cluster. Numbers are json.Number.
func (d Document) Compact() (map[string]any, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// AirportResolver resolves an IATA code to a "lat,lon" string.
type AirportResolver interface {
	LookupCoordinates(iataCode string) string
}

// ReasonResolver resolves a cancellation code to its description.
type ReasonResolver interface {
	LookupReason(code string) string
}

type Transformer struct {
	airports      AirportResolver
	cancellations ReasonResolver
}

func NewTransformer(airports AirportResolver, cancellations ReasonResolver) *Transformer {
	return &Transformer{airports: airports, cancellations: cancellations}
}

// Transform maps a raw CSV row to a Document. A row with no timestamp still
// produces a document; routing decides whether it is kept.
func (t *Transformer) Transform(row RawRow) Document {
	timestamp := present(row["@timestamp"])
	if timestamp == "" {
		timestamp = present(row["FlightDate"])
	}

	doc := Document{
		Timestamp:        timestamp,
		ReportingAirline: present(row["Reporting_Airline"]),
		TailNumber:       present(row["Tail_Number"]),
		FlightNumber:     present(row["Flight_Number_Reporting_Airline"]),
		Origin:           present(row["Origin"]),
		Dest:             present(row["Dest"]),

		CRSDepTimeLocal: toInteger(row["CRSDepTime"]),
		DepDelayMin:     toInteger(row["DepDelay"]),
		TaxiOutMin:      toInteger(row["TaxiOut"]),
		TaxiInMin:       toInteger(row["TaxiIn"]),
		CRSArrTimeLocal: toInteger(row["CRSArrTime"]),
		ArrDelayMin:     toInteger(row["ArrDelay"]),

		Cancelled:        toBoolean(row["Cancelled"]),
		Diverted:         toBoolean(row["Diverted"]),
		CancellationCode: present(row["CancellationCode"]),

		ActualElapsedTimeMin: toInteger(row["ActualElapsedTime"]),
		AirTimeMin:           toInteger(row["AirTime"]),
		Flights:              toInteger(row["Flights"]),
		DistanceMiles:        toInteger(row["Distance"]),

		CarrierDelayMin:      toInteger(row["CarrierDelay"]),
		WeatherDelayMin:      toInteger(row["WeatherDelay"]),
		NASDelayMin:          toInteger(row["NASDelay"]),
		SecurityDelayMin:     toInteger(row["SecurityDelay"]),
		LateAircraftDelayMin: toInteger(row["LateAircraftDelay"]),
	}

	if doc.Timestamp != "" && doc.ReportingAirline != "" && doc.FlightNumber != "" && doc.Origin != "" && doc.Dest != "" {
		doc.FlightID = strings.Join([]string{doc.Timestamp, doc.ReportingAirline, doc.FlightNumber, doc.Origin, doc.Dest}, "_")
	}

	if t.cancellations != nil {
		doc.CancellationReason = t.cancellations.LookupReason(doc.CancellationCode)
	}
	if t.airports != nil {
		doc.OriginLocation = t.airports.LookupCoordinates(doc.Origin)
		doc.DestLocation = t.airports.LookupCoordinates(doc.Dest)
	}

	return doc
}

func present(value string) string {
	return strings.TrimSpace(value)
}

// toInteger rounds half away from zero; NaN and infinities count as absent.
func toInteger(value string) *int {
	value = present(value)
	if value == "" {
		return nil
	}

	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}

	n := int(math.Round(f))
	return &n
}

func toBoolean(value string) *bool {
	value = present(value)
	if value == "" {
		return nil
	}

	var b bool
	switch strings.ToLower(value) {
	case "true", "t", "yes", "y":
		b = true
	case "false", "f", "no", "n":
		b = false
	default:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil
		}
		// NaN compares false, so it coerces to false like any non-positive number.
		b = f > 0
	}
	return &b
}
