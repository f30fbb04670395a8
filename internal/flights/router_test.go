package flights

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouterIndexName(t *testing.T) {
	r := Router{Prefix: "flights"}

	cases := []struct {
		name                        string
		timestamp, fileYear, fileMo string
		want                        string
		ok                          bool
	}{
		{"year and month from file", "2019-01-01", "2024", "03", "flights-2024-03", true},
		{"year from file", "2019-01-01", "2024", "", "flights-2024", true},
		{"timestamp only", "2023-11-01T00:00:00Z", "", "", "flights-2023", true},
		{"plain date", "2022-07-04", "", "", "flights-2022", true},
		{"no hints", "", "", "", "", false},
		{"bad timestamp", "07/04/2022", "", "", "", false},
		{"short year", "22-07-04", "", "", "", false},
		{"slash date", "2023/11/01", "", "", "flights-2023", true},
		{"compact date", "20231101", "", "", "flights-2023", true},
		{"bare year", "2023", "", "", "flights-2023", true},
		{"three digits", "202", "", "", "", false},
		{"letter in year", "20x3-01-01", "", "", "", false},
		{"month without year ignored", "2021-05-05", "", "05", "flights-2021", true},
	}
	for _, tc := range cases {
		got, ok := r.IndexName(tc.timestamp, tc.fileYear, tc.fileMo)
		assert.Equal(t, tc.ok, ok, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}
}
