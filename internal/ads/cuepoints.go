package ads

// PostrollCuePoint is the cue point value denoting an ad break at the very
// end of content.
const PostrollCuePoint = -1.0

// GroupTimesFromCuePoints converts the ad engine's fractional cue points
// (each in [0,1), or PostrollCuePoint) into absolute microsecond insertion
// times against the given content duration. An empty cue point set means a
// single preroll at position 0, never "no ads".
func GroupTimesFromCuePoints(cuePoints []float64, contentDurationUs int64) []int64 {
	if len(cuePoints) == 0 {
		return []int64{0}
	}
	timesUs := make([]int64, len(cuePoints))
	for i, cuePoint := range cuePoints {
		if cuePoint == PostrollCuePoint {
			timesUs[i] = TimeEndOfSource
		} else {
			timesUs[i] = int64(cuePoint * float64(contentDurationUs))
		}
	}
	return timesUs
}
