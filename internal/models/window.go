package models

// Time window tokens accepted in mission configs.
const (
	Window1Hour   = "1h"
	Window4Hours  = "4h"
	Window24Hours = "24h"
	Window7Days   = "7d"
	Window30Days  = "30d"
	Window90Days  = "90d"
	Window12Month = "12m"
)

// TimeWindows lists every supported window, shortest first.
var TimeWindows = []string{
	Window1Hour, Window4Hours, Window24Hours, Window7Days,
	Window30Days, Window90Days, Window12Month,
}

// Granularity is the sampling resolution of a stored timeseries.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
	GranularityWeek   Granularity = "week"
)

// GranularityFor returns the resolution a provider reports for the window.
// Unknown windows default to hourly.
func GranularityFor(window string) Granularity {
	switch window {
	case Window1Hour, Window4Hours:
		return GranularityMinute
	case Window24Hours, Window7Days:
		return GranularityHour
	case Window30Days, Window90Days:
		return GranularityDay
	case Window12Month:
		return GranularityWeek
	default:
		return GranularityHour
	}
}

// IsKnownWindow reports whether window is one of TimeWindows.
func IsKnownWindow(window string) bool {
	for _, w := range TimeWindows {
		if w == window {
			return true
		}
	}
	return false
}
