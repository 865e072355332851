package reconciler

import "github.com/example/ads-platform/internal/ads"

// PlaybackState mirrors the player's coarse playback state.
type PlaybackState int

const (
	StateIdle PlaybackState = iota + 1
	StateBuffering
	StateReady
	StateEnded
)

// Player is the content player the reconciler drives. Implementations report
// the player's own view of playback; the reconciler never assumes it agrees
// with the ad engine's view.
type Player interface {
	// PositionUs returns the current playback position in microseconds.
	PositionUs() int64
	// DurationUs returns the duration of the currently playing item (the ad,
	// while an ad is playing), or ads.TimeUnset.
	DurationUs() int64
	// PlayingAd reports whether the player believes it is playing an ad.
	PlayingAd() bool
	// CurrentAdGroupIndex returns the ad group being played, or ads.IndexUnset.
	CurrentAdGroupIndex() int
	// CurrentAdIndexInGroup returns the index of the playing ad within its
	// group, or ads.IndexUnset.
	CurrentAdIndexInGroup() int
	// SetPlayWhenReady pauses or resumes the player.
	SetPlayWhenReady(playWhenReady bool)
}

// AdsRequester issues the one-shot ad request against the ad engine. The
// result arrives asynchronously through OnSessionLoaded or OnAdError on the
// reconciler's goroutine.
type AdsRequester interface {
	RequestAds(player AdPlayer)
}

// AdsSession is a loaded ad engine session (the engine's manager for one ad
// request). All methods are non-blocking.
type AdsSession interface {
	// CuePoints returns the fractional cue points of the schedule, each in
	// [0,1) or ads.PostrollCuePoint.
	CuePoints() []float64
	// Init prepares the session (enables creative preloading).
	Init()
	// Start begins ad playback for the first loaded ad.
	Start()
	// Pause suspends the session while the player is detached.
	Pause()
	// Resume continues a session suspended by Pause.
	Resume()
	// ContentComplete tells the ad engine that content playback finished, so
	// it can schedule any postroll break.
	ContentComplete()
	// Destroy tears the session down. No further lifecycle calls follow.
	Destroy()
}

// AdPodInfo describes the placement of a loaded ad within its break.
// PodIndex may be ads.IndexUnset when the engine cannot attribute the break.
type AdPodInfo struct {
	PodIndex     int
	AdPosition   int
	TotalAds     int
	IsBumper     bool
	MaxDurationS float64
}

// AdCallback receives the ad lifecycle feed the ad engine subscribes to.
type AdCallback interface {
	OnPlay()
	OnResume()
	OnPause()
	OnEnded()
	OnError()
}

// AdPlayer is the control surface the reconciler exposes to the ad engine.
// ResumeAd is part of the protocol but is never legitimately invoked.
type AdPlayer interface {
	LoadAd(uri string)
	PlayAd()
	PauseAd()
	StopAd()
	ResumeAd()
	AddCallback(cb AdCallback)
	RemoveCallback(cb AdCallback)
	AdProgress() ads.Progress
	ContentProgress() ads.Progress
}

// EventListener receives schedule updates and ad load errors. Snapshots are
// deep copies; holders may retain them indefinitely.
type EventListener interface {
	OnAdPlaybackState(state *ads.State)
	OnLoadError(err error)
}
