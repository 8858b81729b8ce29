package domain

// ResolveOffset returns 1 when the two runs are anchored to different calendar
// dates and 0 otherwise. The offset is subtracted from the index used against
// the newer run so both runs are read at the same valid date.
func ResolveOffset(current, previous RunKey) int {
	if current.EffectiveDate().Equal(previous.EffectiveDate()) {
		return 0
	}
	return 1
}
