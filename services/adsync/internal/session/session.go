// Package session hosts one reconciler per playback session behind a
// single-consumer event loop, so the engine's single-goroutine contract
// holds no matter how many HTTP requests and ad engine callbacks arrive.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/ads-platform/internal/ads"
	"github.com/example/ads-platform/internal/ads/reconciler"
	"github.com/example/ads-platform/internal/platform/analytics"
	"github.com/example/ads-platform/services/adsync/internal/adengine"
)

// ErrReleased is returned for operations on a released session.
var ErrReleased = errors.New("session released")

// PlayerEvent is one event reported by the remote player.
type PlayerEvent struct {
	Type string `json:"type"`

	// timeline
	ContentDurationUs int64 `json:"content_duration_us,omitempty"`

	// playback_state
	PlayWhenReady *bool  `json:"play_when_ready,omitempty"`
	State         string `json:"state,omitempty"`

	// position / discontinuity
	PositionUs     *int64 `json:"position_us,omitempty"`
	DurationUs     *int64 `json:"duration_us,omitempty"`
	PlayingAd      *bool  `json:"playing_ad,omitempty"`
	AdGroupIndex   *int   `json:"ad_group_index,omitempty"`
	AdIndexInGroup *int   `json:"ad_index_in_group,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// Status is a snapshot of the session for the control plane.
type Status struct {
	Mode      string     `json:"mode"`
	State     *StateView `json:"state,omitempty"`
	LoadError string     `json:"load_error,omitempty"`
	Attached  bool       `json:"attached"`
}

// Session is one hosted reconciliation session. All reconciler access goes
// through the dispatch channel; the loop goroutine is the engine's
// designated execution context.
type Session struct {
	ID        string
	Owner     string
	AdTagURL  string
	CreatedAt time.Time

	log       *zap.Logger
	rec       *reconciler.Reconciler
	mirror    *playerMirror
	sink      *eventSink
	requester *adengine.Requester

	dispatch  chan func()
	closed    chan struct{}
	closeOnce sync.Once
	attached  bool
}

func newSession(id, owner, adTagURL string, deps Deps) *Session {
	log := deps.Log.With(zap.String("session_id", id))
	s := &Session{
		ID:        id,
		Owner:     owner,
		AdTagURL:  adTagURL,
		CreatedAt: time.Now().UTC(),
		log:       log,
		mirror:    newPlayerMirror(),
		dispatch:  make(chan func(), 64),
		closed:    make(chan struct{}),
	}
	s.sink = &eventSink{sessionID: id, events: deps.Events, log: log}
	s.requester = adengine.NewRequester(deps.Client, deps.Signer, deps.CreativeTTL,
		id, adTagURL, s.dispatchAsync, log)
	s.rec = reconciler.New(s.requester, log)

	go s.loop(deps.PollInterval)
	_ = s.do(func() {
		s.rec.AddCallback(s.sink)
		s.rec.AttachPlayer(s.mirror, s.sink)
		s.attached = true
	})
	return s
}

func (s *Session) loop(pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case fn := <-s.dispatch:
			fn()
		case <-ticker.C:
			s.requester.Poll()
		case <-s.closed:
			return
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (s *Session) do(fn func()) error {
	done := make(chan struct{})
	select {
	case s.dispatch <- func() { fn(); close(done) }:
	case <-s.closed:
		return ErrReleased
	}
	select {
	case <-done:
		return nil
	case <-s.closed:
		return ErrReleased
	}
}

// dispatchAsync hands fn to the loop without waiting. Used by off-loop
// goroutines (the ad decision fetch); drops silently after release.
func (s *Session) dispatchAsync(fn func()) {
	select {
	case s.dispatch <- fn:
	case <-s.closed:
	}
}

// ApplyEvents ingests player events in arrival order and returns the player
// commands the engine issued while processing them, plus the resulting mode.
func (s *Session) ApplyEvents(events []PlayerEvent) (commands []string, mode string, err error) {
	err = s.do(func() {
		for i := range events {
			s.applyEvent(&events[i])
		}
		commands = s.mirror.drainCommands()
		mode = s.rec.Mode().String()
	})
	return commands, mode, err
}

func (s *Session) applyEvent(ev *PlayerEvent) {
	switch ev.Type {
	case "timeline":
		// An empty timeline means the player is re-preparing; ignore it.
		if ev.ContentDurationUs <= 0 {
			return
		}
		s.mirrorUpdate(ev)
		s.rec.OnTimelineChanged(ev.ContentDurationUs)
	case "playback_state":
		if ev.PlayWhenReady != nil {
			s.mirror.playWhenReady = *ev.PlayWhenReady
		}
		state, ok := parsePlaybackState(ev.State)
		if !ok {
			s.log.Warn("unknown playback state", zap.String("state", ev.State))
			return
		}
		s.mirrorUpdate(ev)
		s.rec.OnPlayerStateChanged(s.mirror.playWhenReady, state)
	case "position":
		s.mirrorUpdate(ev)
	case "discontinuity":
		s.mirrorUpdate(ev)
		s.rec.OnPositionDiscontinuity()
	case "error":
		s.mirrorUpdate(ev)
		s.rec.OnPlayerError(fmt.Errorf("player error: %s", ev.Message))
	default:
		s.log.Warn("unknown player event type", zap.String("type", ev.Type))
	}
}

func (s *Session) mirrorUpdate(ev *PlayerEvent) {
	if ev.PositionUs != nil {
		s.mirror.positionUs = *ev.PositionUs
	}
	if ev.DurationUs != nil {
		s.mirror.durationUs = *ev.DurationUs
	}
	if ev.PlayingAd != nil {
		s.mirror.playingAd = *ev.PlayingAd
		if !s.mirror.playingAd {
			s.mirror.adGroupIndex = ads.IndexUnset
			s.mirror.adIndexInGroup = ads.IndexUnset
		}
	}
	if ev.AdGroupIndex != nil {
		s.mirror.adGroupIndex = *ev.AdGroupIndex
	}
	if ev.AdIndexInGroup != nil {
		s.mirror.adIndexInGroup = *ev.AdIndexInGroup
	}
}

func parsePlaybackState(s string) (reconciler.PlaybackState, bool) {
	switch s {
	case "idle":
		return reconciler.StateIdle, true
	case "buffering":
		return reconciler.StateBuffering, true
	case "ready":
		return reconciler.StateReady, true
	case "ended":
		return reconciler.StateEnded, true
	}
	return 0, false
}

// Status returns the current schedule snapshot and mode.
func (s *Session) Status() (Status, error) {
	var st Status
	err := s.do(func() {
		st.Mode = s.rec.Mode().String()
		st.State = ViewOf(s.rec.State())
		st.Attached = s.attached
		if s.sink.loadErr != nil {
			st.LoadError = s.sink.loadErr.Error()
		}
	})
	return st, err
}

// Progress returns the engine's view of content and ad progress.
func (s *Session) Progress() (content, ad ProgressView, err error) {
	err = s.do(func() {
		content = progressView(s.rec.ContentProgress())
		ad = progressView(s.rec.AdProgress())
	})
	return content, ad, err
}

// Detach disconnects the player; the schedule and ad session stay alive.
func (s *Session) Detach() error {
	return s.do(func() {
		s.rec.DetachPlayer()
		s.attached = false
	})
}

// Attach reconnects the player and republishes the current schedule.
func (s *Session) Attach() error {
	return s.do(func() {
		s.rec.AttachPlayer(s.mirror, s.sink)
		s.attached = true
	})
}

// Release destroys the ad session and stops the loop. Idempotent.
func (s *Session) Release() {
	_ = s.do(func() { s.rec.Release() })
	s.closeOnce.Do(func() { close(s.closed) })
}

// eventSink receives the engine's listener and ad lifecycle feeds: it keeps
// the last load error for the control plane and fans snapshots and ad
// start/complete events out on the event bus.
type eventSink struct {
	sessionID string
	events    *analytics.Publisher
	log       *zap.Logger

	loadErr error
}

func (e *eventSink) OnAdPlaybackState(state *ads.State) {
	e.events.Publish(analytics.SubjectSessionSnapshot, "session_snapshot", e.sessionID,
		map[string]any{"state": ViewOf(state)})
}

func (e *eventSink) OnLoadError(err error) {
	e.loadErr = err
	e.log.Warn("ad load error", zap.Error(err))
	e.events.Publish(analytics.SubjectLoadError, "session_load_error", e.sessionID,
		map[string]any{"error": err.Error()})
}

func (e *eventSink) OnPlay() {
	e.events.Publish(analytics.SubjectAdStarted, "ad_started", e.sessionID, nil)
}

func (e *eventSink) OnEnded() {
	e.events.Publish(analytics.SubjectAdCompleted, "ad_completed", e.sessionID, nil)
}

func (e *eventSink) OnResume() {}
func (e *eventSink) OnPause()  {}
func (e *eventSink) OnError()  {}
