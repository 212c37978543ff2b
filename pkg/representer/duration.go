package representer

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

var durationPattern = regexp.MustCompile(`^P(?:(\d+(?:\.\d+)?)D)?(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// FormatDuration renders hours as an ISO-8601 duration such as PT2H30M
func FormatDuration(hours float64) string {
	minutes := int(math.Round(hours * 60))
	if minutes == 0 {
		return "PT0S"
	}
	h, m := minutes/60, minutes%60
	switch {
	case m == 0:
		return fmt.Sprintf("PT%dH", h)
	case h == 0:
		return fmt.Sprintf("PT%dM", m)
	default:
		return fmt.Sprintf("PT%dH%dM", h, m)
	}
}

// ParseDuration converts an ISO-8601 duration into hours
func ParseDuration(s string) (float64, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	var hours float64
	for i, factor := range []float64{24, 1, 1.0 / 60, 1.0 / 3600} {
		part := m[i+1]
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		hours += v * factor
	}
	return hours, nil
}
