package flights

import "regexp"

// timestampYear takes the year from the first four characters of a timestamp,
// whatever date layout follows (2023-11-01, 2023/11/01, 20231101).
var timestampYear = regexp.MustCompile(`^(\d{4})`)

// Router picks the destination index for a document. Indices are
// partitioned by year, or by year and month when the file name says so.
type Router struct {
	Prefix string
}

// IndexName returns {prefix}-{year}-{month} or {prefix}-{year}. Hints taken
// from the file name win over the document timestamp. ok is false when
// neither yields a year.
func (r Router) IndexName(timestamp, fileYear, fileMonth string) (name string, ok bool) {
	if fileYear != "" && fileMonth != "" {
		return r.Prefix + "-" + fileYear + "-" + fileMonth, true
	}
	if fileYear != "" {
		return r.Prefix + "-" + fileYear, true
	}

	m := timestampYear.FindStringSubmatch(timestamp)
	if m == nil {
		return "", false
	}
	return r.Prefix + "-" + m[1], true
}
