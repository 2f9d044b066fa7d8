package store

import (
	"fmt"
	"time"
)

// Periods lists the temperature history windows in display order.
var Periods = []string{"1h", "24h", "1w", "1m", "1y", "2y", "all"}

// DefaultPeriod is used when a caller does not ask for one.
const DefaultPeriod = "1h"

// PeriodStart returns the unix-millis lower bound of a history window ending
// at now. "all" starts at zero.
func PeriodStart(period string, now time.Time) (int64, error) {
	var start time.Time
	switch period {
	case "1h":
		start = now.Add(-time.Hour)
	case "24h":
		start = now.Add(-24 * time.Hour)
	case "1w":
		start = now.AddDate(0, 0, -7)
	case "1m":
		start = now.AddDate(0, -1, 0)
	case "1y":
		start = now.AddDate(-1, 0, 0)
	case "2y":
		start = now.AddDate(-2, 0, 0)
	case "all":
		return 0, nil
	default:
		return 0, fmt.Errorf("unknown period %q", period)
	}
	return start.UnixMilli(), nil
}
