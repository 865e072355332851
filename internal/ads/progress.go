package ads

// Progress is a position/duration pair reported to the ad engine's
// poll-based progress interface.
type Progress struct {
	PositionUs int64 `json:"position_us"`
	DurationUs int64 `json:"duration_us"`
}

// ProgressNotReady is returned while no meaningful progress can be reported,
// e.g. before the content duration is known or while the player is inside an
// ad and content progress is requested.
var ProgressNotReady = Progress{PositionUs: TimeUnset, DurationUs: TimeUnset}

// Ready reports whether the progress carries a usable position.
func (p Progress) Ready() bool {
	return p.PositionUs != TimeUnset
}
