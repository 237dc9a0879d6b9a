package rules

// LeastLoaded picks the member with the strictly lowest count; ties go to the
// earliest member. Members missing from counts have zero load.
func LeastLoaded(members []string, counts map[string]int) (string, bool) {
	if len(members) == 0 {
		return "", false
	}
	best := members[0]
	bestCount := counts[best]
	for _, member := range members[1:] {
		if c := counts[member]; c < bestCount {
			best, bestCount = member, c
		}
	}
	return best, true
}
