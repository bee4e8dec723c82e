package panwatch

import (
	"time"
	_ "time/tzdata"
)

const (
	shanghaiTimeZoneName = "Asia/Shanghai"
	dateLayout           = "2006-01-02"
	timestampLayout      = time.RFC3339Nano
)

var shanghaiLocation = loadShanghaiLocation()

func loadShanghaiLocation() *time.Location {
	location, err := time.LoadLocation(shanghaiTimeZoneName)
	if err != nil {
		return time.FixedZone(shanghaiTimeZoneName, 8*60*60)
	}
	return location
}

// ShanghaiLocation returns the Asia/Shanghai timezone.
func ShanghaiLocation() *time.Location {
	return shanghaiLocation
}

func formatTimestamp(t time.Time) string {
	return t.Format(timestampLayout)
}

func parseTimestamp(s string) (time.Time, error) {
	if t, err := time.Parse(timestampLayout, s); err == nil {
		return t, nil
	}
	// CURRENT_TIMESTAMP defaults are UTC without a zone designator.
	return time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
}
