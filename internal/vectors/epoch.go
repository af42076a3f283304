package vectors

import (
	"regexp"
	"time"
)

// EpochLayout is the day-of-year format used by the OEM feed, e.g.
// 2025-050T23:48:00.000Z. Parsing accepts 1 to 9 fractional digits.
const EpochLayout = "2006-002T15:04:05.000Z"

const parseLayout = "2006-002T15:04:05.999999999Z"

var epochPattern = regexp.MustCompile(`^\d{4}-\d{3}T\d{2}:\d{2}:\d{2}\.\d{1,9}Z$`)

// ParseEpoch strictly parses s into a UTC instant. Anything other than
// YYYY-DDDTHH:MM:SS.fZ, or a day-of-year outside the year, is an
// EpochFormat error.
func ParseEpoch(s string) (time.Time, error) {
	if !epochPattern.MatchString(s) {
		return time.Time{}, Errorf(KindEpochFormat, "parse epoch", "%q does not match YYYY-DDDTHH:MM:SS.fZ", s)
	}
	t, err := time.Parse(parseLayout, s)
	if err != nil {
		return time.Time{}, NewError(KindEpochFormat, "parse epoch", err)
	}
	return t.UTC(), nil
}

// FormatEpoch renders t in EpochLayout with millisecond precision.
func FormatEpoch(t time.Time) string {
	return t.UTC().Format(EpochLayout)
}
