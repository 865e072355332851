package adengine

import (
	"go.uber.org/zap"

	"github.com/example/ads-platform/internal/ads/reconciler"
	"github.com/example/ads-platform/internal/platform/signing"
)

// driver is the loaded ad session for one decision. It implements
// reconciler.AdsSession (driven by the host) and reconciler.AdCallback
// (listening to the ad lifecycle feed), and walks the decision's breaks in
// order: cue reached, content pause, load/play each creative, content resume.
//
// Runs entirely on the session loop goroutine.
type driver struct {
	req      *Requester
	host     Host
	decision *Decision
	log      *zap.Logger

	breakIdx        int
	adIdx           int
	inBreak         bool
	pendingStart    bool
	paused          bool
	destroyed       bool
	contentComplete bool
}

func newDriver(req *Requester, host Host, decision *Decision) *driver {
	return &driver{req: req, host: host, decision: decision, log: req.log}
}

// ─── reconciler.AdsSession ───

func (d *driver) CuePoints() []float64 { return d.decision.CuePoints }

func (d *driver) Init() {
	d.host.AddCallback(d)
}

// Start begins playback of the ad announced by the last OnAdLoaded.
func (d *driver) Start() {
	if d.destroyed || !d.pendingStart {
		return
	}
	d.pendingStart = false
	ad := d.currentAds()[d.adIdx]
	uri := ad.URI
	if d.req.signer != nil {
		signed, err := signing.BuildSignedURL(d.req.signer.SignFor(uri, d.req.sessionID, d.req.creativeTTL))
		if err != nil {
			d.log.Warn("creative signing failed, using bare uri", zap.Error(err))
		} else {
			uri = signed
		}
	}
	d.host.LoadAd(uri)
	d.host.PlayAd()
}

func (d *driver) Pause() {
	if d.inBreak && !d.pendingStart {
		d.paused = true
		d.host.PauseAd()
	}
}

func (d *driver) Resume() {
	if d.inBreak && d.paused {
		d.paused = false
		d.host.PlayAd()
	}
}

// ContentComplete unlocks any postroll break.
func (d *driver) ContentComplete() {
	d.contentComplete = true
	d.poll()
}

func (d *driver) Destroy() {
	d.destroyed = true
	d.host.RemoveCallback(d)
}

// ─── reconciler.AdCallback ───

func (d *driver) OnPlay()   {}
func (d *driver) OnResume() {}
func (d *driver) OnPause()  {}

// OnEnded advances to the next creative in the break, or returns the
// timeline to content when the break is exhausted.
func (d *driver) OnEnded() {
	if d.destroyed || !d.inBreak || d.pendingStart {
		return
	}
	d.host.StopAd()
	d.adIdx++
	if d.adIdx < len(d.currentAds()) {
		d.announce()
		return
	}
	d.inBreak = false
	d.breakIdx++
	d.host.OnContentResumeRequested()
}

// OnError discards the failed creative the same way a finished one is
// discarded.
func (d *driver) OnError() {
	d.log.Warn("ad playback error, discarding creative",
		zap.Int("break", d.breakIdx), zap.Int("ad", d.adIdx))
	d.OnEnded()
}

// ─── break progression ───

// poll checks whether the next break's cue has been reached and starts it.
func (d *driver) poll() {
	if d.destroyed || d.inBreak || d.pendingStart {
		return
	}
	cues := d.effectiveCues()
	if d.breakIdx >= len(cues) {
		return
	}
	cue := cues[d.breakIdx]
	if cue == -1 {
		if !d.contentComplete {
			return
		}
	} else {
		p := d.host.ContentProgress()
		if !p.Ready() {
			return
		}
		if p.PositionUs < int64(cue*float64(p.DurationUs)) {
			return
		}
	}
	d.startBreak()
}

func (d *driver) startBreak() {
	if len(d.currentAds()) == 0 {
		// Decision carried a cue with no creatives; skip the break.
		d.breakIdx++
		return
	}
	d.inBreak = true
	d.adIdx = 0
	d.host.OnContentPauseRequested()
	d.announce()
}

// announce reports the current creative as loaded; the host answers with
// Start.
func (d *driver) announce() {
	ads := d.currentAds()
	ad := ads[d.adIdx]
	d.pendingStart = true
	d.host.OnAdLoaded(reconciler.AdPodInfo{
		PodIndex:     d.breakIdx,
		AdPosition:   d.adIdx + 1,
		TotalAds:     len(ads),
		MaxDurationS: float64(ad.DurationUs) / 1e6,
	})
}

func (d *driver) currentAds() []Creative {
	if d.breakIdx < len(d.decision.Breaks) {
		return d.decision.Breaks[d.breakIdx].Ads
	}
	return nil
}

// effectiveCues mirrors the schedule derivation: no cue points means a
// single preroll break.
func (d *driver) effectiveCues() []float64 {
	if len(d.decision.CuePoints) == 0 {
		return []float64{0}
	}
	return d.decision.CuePoints
}
