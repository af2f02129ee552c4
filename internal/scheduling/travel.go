package scheduling

import "strings"

// TravelMinutes is a coarse keyword estimate of travel time to a location.
func TravelMinutes(location string, attendees int) int {
	loc := strings.ToLower(location)
	switch {
	case strings.Contains(loc, "city hall"), strings.Contains(loc, "downtown"):
		crowd := attendees
		if crowd < 0 {
			crowd = 0
		}
		if crowd > 200 {
			crowd = 200
		}
		return 30 + 15*crowd/200
	case strings.Contains(loc, "center"), strings.Contains(loc, "venue"):
		return 20
	case strings.Contains(loc, "remote"), strings.Contains(loc, "virtual"):
		return 0
	default:
		return 15
	}
}
