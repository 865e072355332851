// Package reconciler reconciles two independently clocked subsystems, a
// content player and an ad insertion engine, into one consistent playback
// timeline. It owns the canonical ads.State and translates events from
// either side into actions on the other, absorbing the ad engine's known
// lifecycle quirks along the way.
//
// A Reconciler is single-threaded by contract: every entry point, player
// event and ad engine callback alike, must run on the same goroutine.
package reconciler

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/ads-platform/internal/ads"
)

// endOfContentThresholdUs is how close to the end of content a buffering
// player must be before the ad engine is told content is complete.
const endOfContentThresholdUs = 5 * ads.MicrosPerSecond

// Mode is the logical playback mode derived from the reconciled state.
type Mode int

const (
	// ModeContent means content is playing (or would be, if not paused by
	// the user).
	ModeContent Mode = iota
	// ModeContentPausedForAd means the ad engine has claimed the timeline
	// but has not started (or has just finished) an ad.
	ModeContentPausedForAd
	// ModeAdPlaying means an ad is playing.
	ModeAdPlaying
	// ModeAdPaused means an ad is paused.
	ModeAdPaused
)

func (m Mode) String() string {
	switch m {
	case ModeContent:
		return "content"
	case ModeContentPausedForAd:
		return "content_paused_for_ad"
	case ModeAdPlaying:
		return "ad_playing"
	case ModeAdPaused:
		return "ad_paused"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// engineAdState is the ad engine's belief about ad playback, derived from
// its playAd/pauseAd/stopAd calls. It evolves independently of the player's
// own belief and the two are reconciled explicitly.
type engineAdState int

const (
	engineAdIdle engineAdState = iota
	engineAdPlaying
	engineAdPaused
)

// Reconciler is the stateful controller between a Player and an ad engine.
type Reconciler struct {
	log       *zap.Logger
	requester AdsRequester
	callbacks []AdCallback

	// now is the wall clock used for synthesized progress. Overridable in
	// tests.
	now func() time.Time

	player   Player
	listener EventListener

	// Progress values cached on detach so the ad engine's polls keep
	// returning something plausible while no player is attached.
	lastContentProgress ads.Progress
	lastAdProgress      ads.Progress

	session           AdsSession
	state             *ads.State
	contentDurationUs int64
	requestedAds      bool

	// Ad engine's belief.
	adGroupIndex        int
	engineAd            engineAdState
	contentPausedForAd  bool
	sentContentComplete bool

	// Player's belief.
	playingAd             bool
	playingAdIndexInGroup int

	// Synthetic clock covering the window between the player entering an ad
	// region and the ad engine formally requesting a content pause.
	fakeProgressAnchor   time.Time
	fakeProgressOffsetUs int64

	// Pending position from a seek that landed inside an ad break before
	// the ad engine reacted. Reported to the progress poll exactly once.
	pendingContentPositionUs   int64
	sentPendingContentPosition bool
}

// New creates a reconciler that will request ads from the given requester on
// first player attach.
func New(requester AdsRequester, log *zap.Logger) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		log:                      log,
		requester:                requester,
		now:                      time.Now,
		lastContentProgress:      ads.ProgressNotReady,
		lastAdProgress:           ads.ProgressNotReady,
		contentDurationUs:        ads.TimeUnset,
		adGroupIndex:             ads.IndexUnset,
		playingAdIndexInGroup:    ads.IndexUnset,
		fakeProgressOffsetUs:     ads.TimeUnset,
		pendingContentPositionUs: ads.TimeUnset,
	}
}

// Mode returns the current logical playback mode.
func (r *Reconciler) Mode() Mode {
	switch r.engineAd {
	case engineAdPlaying:
		return ModeAdPlaying
	case engineAdPaused:
		return ModeAdPaused
	}
	if r.contentPausedForAd {
		return ModeContentPausedForAd
	}
	return ModeContent
}

// State returns a snapshot of the current schedule, or nil if the ad engine
// has not reported its cue points yet.
func (r *Reconciler) State() *ads.State {
	if r.state == nil {
		return nil
	}
	return r.state.Copy()
}

// AttachPlayer attaches the player that will play content and ads. If a
// schedule already exists it is republished to the listener; otherwise the
// one-shot ad request is issued now.
func (r *Reconciler) AttachPlayer(player Player, listener EventListener) {
	r.player = player
	r.listener = listener
	r.lastContentProgress = ads.ProgressNotReady
	r.lastAdProgress = ads.ProgressNotReady
	if r.state != nil {
		listener.OnAdPlaybackState(r.state.Copy())
		if r.playingAd && r.session != nil {
			r.session.Resume()
		}
	} else if !r.requestedAds {
		r.requestAds()
	}
}

// DetachPlayer detaches the player and listener but keeps the schedule and
// ad engine session alive for a later AttachPlayer.
func (r *Reconciler) DetachPlayer() {
	if r.player != nil {
		if r.session != nil && r.playingAd {
			// The schedule may still be deferred on a pre-timeline detach; the
			// resume position is only recordable once it exists.
			if r.state != nil {
				r.state.SetResumePosition(r.player.PositionUs())
			}
			r.session.Pause()
		}
		r.lastAdProgress = r.AdProgress()
		r.lastContentProgress = r.ContentProgress()
		r.player = nil
	}
	r.listener = nil
}

// Release tears down the ad engine session and detaches unconditionally.
// Ad engine callbacks arriving afterwards are dropped.
func (r *Reconciler) Release() {
	if r.session != nil {
		r.session.Destroy()
		r.session = nil
	}
	r.DetachPlayer()
}

// OnSessionLoaded is called by the ad engine once the ad request resolved.
// The schedule is derived from the session's cue points; if the content
// duration is not known yet, derivation waits for the next timeline event.
func (r *Reconciler) OnSessionLoaded(session AdsSession) {
	r.session = session
	session.Init()
	if r.contentDurationUs == ads.TimeUnset {
		r.log.Debug("ads session loaded before timeline, deferring schedule")
		return
	}
	r.initSchedule(session.CuePoints())
}

// OnAdLoaded is called when the ad engine has an ad ready in some break.
func (r *Reconciler) OnAdLoaded(pod AdPodInfo) {
	if r.session == nil {
		r.log.Warn("dropping ad loaded event while released")
		return
	}
	if r.state == nil {
		r.log.Warn("dropping ad loaded event before schedule")
		return
	}
	groupIndex := pod.PodIndex
	if groupIndex == ads.IndexUnset {
		// The engine could not attribute the break; assume the last group.
		groupIndex = len(r.state.Groups) - 1
		r.log.Debug("pod index unset, falling back to last ad group",
			zap.Int("ad_group", groupIndex))
	}
	r.adGroupIndex = groupIndex
	r.session.Start()
	r.log.Debug("ad loaded",
		zap.Int("ad_group", groupIndex),
		zap.Int("ad_position", pod.AdPosition),
		zap.Int("total_ads", pod.TotalAds))
	if err := r.state.SetAdCount(groupIndex, pod.TotalAds); err != nil {
		r.log.Error("ad engine protocol violation", zap.Error(err))
		return
	}
	r.publishState()
}

// OnContentPauseRequested is called when the ad engine claims the timeline.
// playAd/pauseAd/stopAd calls follow until OnContentResumeRequested.
func (r *Reconciler) OnContentPauseRequested() {
	if r.session == nil {
		r.log.Warn("dropping content pause request while released")
		return
	}
	if r.player == nil {
		return
	}
	r.pauseContent()
}

// OnContentResumeRequested is called when the ad engine hands the timeline
// back to content.
func (r *Reconciler) OnContentResumeRequested() {
	if r.session == nil {
		r.log.Warn("dropping content resume request while released")
		return
	}
	if r.player == nil {
		return
	}
	r.resumeContent()
}

// OnAdSkipped is called when the viewer skips the current ad. The engine
// treats it like a content resume; the ad engine stops the ad itself.
func (r *Reconciler) OnAdSkipped() {
	r.OnContentResumeRequested()
}

// OnAllAdsCompleted is called after the last break. Nothing to do: the
// session is destroyed on Release.
func (r *Reconciler) OnAllAdsCompleted() {}

// OnAdError surfaces an ad request or session error to the listener. The
// schedule is untouched and content keeps playing; no retry is attempted.
func (r *Reconciler) OnAdError(err error) {
	r.log.Debug("ad error", zap.Error(err))
	if r.listener != nil {
		r.listener.OnLoadError(fmt.Errorf("ad error: %w", err))
	}
}

// ContentProgress serves the ad engine's content progress poll.
func (r *Reconciler) ContentProgress() ads.Progress {
	if r.player == nil {
		return r.lastContentProgress
	}
	if r.pendingContentPositionUs != ads.TimeUnset {
		r.sentPendingContentPosition = true
		return ads.Progress{PositionUs: r.pendingContentPositionUs, DurationUs: r.contentDurationUs}
	}
	if !r.fakeProgressAnchor.IsZero() {
		elapsedUs := r.now().Sub(r.fakeProgressAnchor).Microseconds()
		return ads.Progress{PositionUs: r.fakeProgressOffsetUs + elapsedUs, DurationUs: r.contentDurationUs}
	}
	if r.player.PlayingAd() || r.contentDurationUs == ads.TimeUnset {
		return ads.ProgressNotReady
	}
	return ads.Progress{PositionUs: r.player.PositionUs(), DurationUs: r.contentDurationUs}
}

// AdProgress serves the ad engine's ad progress poll.
func (r *Reconciler) AdProgress() ads.Progress {
	if r.player == nil {
		return r.lastAdProgress
	}
	if !r.player.PlayingAd() {
		return ads.ProgressNotReady
	}
	return ads.Progress{PositionUs: r.player.PositionUs(), DurationUs: r.player.DurationUs()}
}

// LoadAd records the source of the next ad in the current group.
func (r *Reconciler) LoadAd(uri string) {
	if r.state == nil {
		r.log.Warn("dropping loadAd before schedule")
		return
	}
	r.log.Debug("loadAd", zap.Int("ad_group", r.adGroupIndex))
	if err := r.state.AddAdURI(r.adGroupIndex, uri); err != nil {
		r.log.Error("loadAd failed", zap.Error(err))
		return
	}
	r.publishState()
}

// PlayAd resumes the player for ad playback. A playAd while an ad is already
// believed playing (a known ad engine defect) is absorbed without notifying
// progress listeners again.
func (r *Reconciler) PlayAd() {
	if r.player == nil {
		r.log.Warn("dropping playAd while detached")
		return
	}
	r.player.SetPlayWhenReady(true)
	switch r.engineAd {
	case engineAdIdle:
		r.engineAd = engineAdPlaying
		for _, cb := range r.callbacks {
			cb.OnPlay()
		}
	case engineAdPaused:
		r.engineAd = engineAdPlaying
		for _, cb := range r.callbacks {
			cb.OnResume()
		}
	case engineAdPlaying:
		r.log.Warn("ignoring playAd without preceding stopAd")
	}
}

// PauseAd pauses the player during ad playback. Calls arriving after content
// has already resumed are absorbed.
func (r *Reconciler) PauseAd() {
	if r.engineAd != engineAdPlaying {
		return
	}
	r.engineAd = engineAdPaused
	if r.player != nil {
		r.player.SetPlayWhenReady(false)
	}
	for _, cb := range r.callbacks {
		cb.OnPause()
	}
}

// StopAd marks the current ad played and pauses the player pending the
// transition back to content. Unexpected stopAd calls are absorbed.
func (r *Reconciler) StopAd() {
	if r.engineAd == engineAdIdle {
		r.log.Debug("ignoring unexpected stopAd")
		return
	}
	if r.player == nil {
		r.log.Warn("dropping stopAd while detached")
		return
	}
	r.stopAdInternal()
}

// ResumeAd is defined by the ad player protocol but never legitimately
// invoked; reaching it is a programming-contract violation.
func (r *Reconciler) ResumeAd() {
	panic("reconciler: resumeAd invoked")
}

// AddCallback registers a listener for the ad lifecycle feed.
func (r *Reconciler) AddCallback(cb AdCallback) {
	r.callbacks = append(r.callbacks, cb)
}

// RemoveCallback unregisters a previously added listener.
func (r *Reconciler) RemoveCallback(cb AdCallback) {
	for i, existing := range r.callbacks {
		if existing == cb {
			r.callbacks = append(r.callbacks[:i], r.callbacks[i+1:]...)
			return
		}
	}
}

// OnTimelineChanged is called with the content duration whenever the
// player's timeline changes. Empty timelines must be filtered by the caller:
// they mean the player is being re-prepared.
func (r *Reconciler) OnTimelineChanged(contentDurationUs int64) {
	if r.player == nil {
		return
	}
	r.contentDurationUs = contentDurationUs
	if r.state == nil && r.session != nil && contentDurationUs != ads.TimeUnset {
		r.initSchedule(r.session.CuePoints())
	}
	r.playingAd = r.player.PlayingAd()
	if r.playingAd {
		r.playingAdIndexInGroup = r.player.CurrentAdIndexInGroup()
	} else {
		r.playingAdIndexInGroup = ads.IndexUnset
	}
}

// OnPlayerStateChanged is called when the player's playback state changes.
func (r *Reconciler) OnPlayerStateChanged(playWhenReady bool, state PlaybackState) {
	if r.player == nil {
		return
	}
	if r.engineAd == engineAdIdle && state == StateBuffering && playWhenReady {
		r.checkForContentComplete()
	} else if r.engineAd != engineAdIdle && state == StateEnded {
		// The ad engine is waiting for the ad to finish. Either a content
		// resume follows, or playAd is called again for the next ad.
		for _, cb := range r.callbacks {
			cb.OnEnded()
		}
	}
}

// OnPlayerError is called when playback fails. Failures during an ad are
// forwarded to the ad engine; content errors are not the reconciler's
// concern.
func (r *Reconciler) OnPlayerError(err error) {
	if r.player == nil || !r.player.PlayingAd() {
		return
	}
	r.log.Debug("player error during ad", zap.Error(err))
	for _, cb := range r.callbacks {
		cb.OnError()
	}
}

// OnPositionDiscontinuity is called when the player's position jumps,
// including transitions between content and ad periods.
func (r *Reconciler) OnPositionDiscontinuity() {
	if r.player == nil {
		return
	}
	wasPlayingAd := r.playingAd
	r.playingAd = r.player.PlayingAd()
	if !r.playingAd && !wasPlayingAd {
		// A seek within content. If it landed on an ad-covered position the
		// ad engine will move playback to the break; keep reporting the seek
		// target until it reacts.
		if r.state != nil {
			positionUs := r.player.PositionUs()
			if r.state.GroupIndexForPosition(positionUs, r.contentDurationUs) != ads.IndexUnset {
				r.sentPendingContentPosition = false
				r.pendingContentPositionUs = positionUs
			}
		}
		return
	}

	oldAdIndexInGroup := r.playingAdIndexInGroup
	if r.playingAd {
		r.playingAdIndexInGroup = r.player.CurrentAdIndexInGroup()
	} else {
		r.playingAdIndexInGroup = ads.IndexUnset
	}
	if wasPlayingAd && r.playingAdIndexInGroup != oldAdIndexInGroup {
		// The ad engine is waiting for the ad to finish. Either a content
		// resume follows, or playAd is called again for the next ad.
		for _, cb := range r.callbacks {
			cb.OnEnded()
		}
	}
	if !r.sentContentComplete && r.playingAd && !wasPlayingAd &&
		r.engineAd == engineAdIdle && !r.contentPausedForAd {
		// The player entered an ad region before the ad engine sent its
		// content pause. Pause and anchor a synthetic clock at the break's
		// nominal position so progress polls stay plausible.
		r.player.SetPlayWhenReady(false)
		r.contentPausedForAd = true
		if !r.fakeProgressAnchor.IsZero() {
			r.log.Error("fake progress anchor already set on ad entry")
		}
		r.fakeProgressAnchor = r.now()
		r.fakeProgressOffsetUs = r.groupStartPositionUs(r.player.CurrentAdGroupIndex())
	}
}

func (r *Reconciler) requestAds() {
	r.requestedAds = true
	r.log.Debug("requesting ads")
	r.requester.RequestAds(r)
}

func (r *Reconciler) initSchedule(cuePoints []float64) {
	timesUs := ads.GroupTimesFromCuePoints(cuePoints, r.contentDurationUs)
	r.state = ads.NewState(timesUs)
	r.publishState()
}

func (r *Reconciler) pauseContent() {
	if r.sentPendingContentPosition {
		r.pendingContentPositionUs = ads.TimeUnset
		r.sentPendingContentPosition = false
	}
	// The ad engine now owns the pause; stop faking the content position.
	r.fakeProgressAnchor = time.Time{}
	r.fakeProgressOffsetUs = ads.TimeUnset
	r.player.SetPlayWhenReady(false)
	r.contentPausedForAd = true
	r.engineAd = engineAdIdle
}

func (r *Reconciler) resumeContent() {
	if r.contentDurationUs != ads.TimeUnset && r.engineAd != engineAdIdle {
		// The ad engine resumed content without stopping its ad first.
		r.log.Warn("content resume without stopAd, stopping ad")
		r.stopAdInternal()
	}
	r.player.SetPlayWhenReady(true)
	r.contentPausedForAd = false
	r.engineAd = engineAdIdle
}

func (r *Reconciler) stopAdInternal() {
	r.player.SetPlayWhenReady(false)
	if r.state == nil || r.adGroupIndex == ads.IndexUnset {
		r.log.Warn("stopAd with no ad group to mark")
	} else if err := r.state.MarkAdPlayed(r.adGroupIndex); err != nil {
		r.log.Error("mark ad played failed", zap.Error(err))
	} else {
		r.publishState()
	}
	if !r.player.PlayingAd() {
		r.adGroupIndex = ads.IndexUnset
	}
	r.engineAd = engineAdIdle
}

func (r *Reconciler) checkForContentComplete() {
	if r.sentContentComplete || r.session == nil || r.contentDurationUs == ads.TimeUnset {
		return
	}
	if r.player.PositionUs()+endOfContentThresholdUs >= r.contentDurationUs {
		r.log.Debug("content complete")
		r.session.ContentComplete()
		r.sentContentComplete = true
	}
}

func (r *Reconciler) groupStartPositionUs(groupIndex int) int64 {
	if r.state == nil || groupIndex < 0 || groupIndex >= len(r.state.Groups) {
		return 0
	}
	offsetUs := r.state.Groups[groupIndex].InsertionTimeUs
	if offsetUs == ads.TimeEndOfSource {
		offsetUs = r.contentDurationUs
	}
	return offsetUs
}

// publishState hands the listener a fresh snapshot. Updates while detached
// are dropped; the next attach republishes the latest state.
func (r *Reconciler) publishState() {
	if r.listener == nil || r.state == nil {
		return
	}
	r.listener.OnAdPlaybackState(r.state.Copy())
}
