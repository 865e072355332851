package adengine

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/ads-platform/internal/ads"
	"github.com/example/ads-platform/internal/ads/reconciler"
	"github.com/example/ads-platform/internal/platform/signing"
)

// ─── stub host ───

// stubHost records every call the driver makes and answers Start the way a
// reconciler would: OnAdLoaded is immediately followed by session.Start.
type stubHost struct {
	session  reconciler.AdsSession
	calls    []string
	progress ads.Progress
}

func (h *stubHost) LoadAd(uri string) { h.calls = append(h.calls, "loadAd:"+uri) }
func (h *stubHost) PlayAd() { h.calls = append(h.calls, "playAd") }
func (h *stubHost) PauseAd() { h.calls = append(h.calls, "pauseAd") }
func (h *stubHost) StopAd() { h.calls = append(h.calls, "stopAd") }
func (h *stubHost) ResumeAd() {}

func (h *stubHost) AddCallback(reconciler.AdCallback) {}
func (h *stubHost) RemoveCallback(reconciler.AdCallback) {}

func (h *stubHost) AdProgress() ads.Progress { return ads.ProgressNotReady }
func (h *stubHost) ContentProgress() ads.Progress { return h.progress }

func (h *stubHost) OnSessionLoaded(s reconciler.AdsSession) {
	h.session = s
	h.calls = append(h.calls, "sessionLoaded")
}

func (h *stubHost) OnAdLoaded(pod reconciler.AdPodInfo) {
	h.calls = append(h.calls, fmt.Sprintf("adLoaded:%d:%d/%d", pod.PodIndex, pod.AdPosition, pod.TotalAds))
	h.session.Start()
}

func (h *stubHost) OnContentPauseRequested() { h.calls = append(h.calls, "contentPause") }
func (h *stubHost) OnContentResumeRequested() { h.calls = append(h.calls, "contentResume") }
func (h *stubHost) OnAdError(err error) { h.calls = append(h.calls, "adError:"+err.Error()) }

func newTestDriver(host *stubHost, decision *Decision, signer *signing.Signer) *driver {
	req := NewRequester(nil, signer, time.Hour, "sess-1", "tag://x", nil, zap.NewNop())
	d := newDriver(req, host, decision)
	host.session = d
	d.Init()
	return d
}

// ─── lifecycle ───

func TestDriver_PrerollBreakPlaysAllAds(t *testing.T) {
	host := &stubHost{progress: ads.Progress{PositionUs: 0, DurationUs: 60_000_000}}
	d := newTestDriver(host, &Decision{
		Breaks: []Break{{Ads: []Creative{{URI: "a1"}, {URI: "a2"}}}},
	}, nil)

	d.poll()
	want := []string{"contentPause", "adLoaded:0:1/2", "loadAd:a1", "playAd"}
	if got := strings.Join(host.calls, ","); got != strings.Join(want, ",") {
		t.Fatalf("calls after poll = %v", host.calls)
	}

	host.calls = nil
	d.OnEnded()
	want = []string{"stopAd", "adLoaded:0:2/2", "loadAd:a2", "playAd"}
	if got := strings.Join(host.calls, ","); got != strings.Join(want, ",") {
		t.Fatalf("calls after first ad = %v", host.calls)
	}

	host.calls = nil
	d.OnEnded()
	want = []string{"stopAd", "contentResume"}
	if got := strings.Join(host.calls, ","); got != strings.Join(want, ",") {
		t.Fatalf("calls after break = %v", host.calls)
	}

	// Schedule exhausted; further polls are quiet.
	host.calls = nil
	d.poll()
	if len(host.calls) != 0 {
		t.Fatalf("unexpected calls after schedule end: %v", host.calls)
	}
}

func TestDriver_MidrollWaitsForCue(t *testing.T) {
	host := &stubHost{progress: ads.Progress{PositionUs: 10_000_000, DurationUs: 60_000_000}}
	d := newTestDriver(host, &Decision{
		CuePoints: []float64{0.5},
		Breaks:    []Break{{Ads: []Creative{{URI: "mid"}}}},
	}, nil)

	d.poll()
	if len(host.calls) != 0 {
		t.Fatalf("break started before cue: %v", host.calls)
	}

	host.progress.PositionUs = 30_000_000
	d.poll()
	if len(host.calls) == 0 || host.calls[0] != "contentPause" {
		t.Fatalf("break did not start at cue: %v", host.calls)
	}
}

func TestDriver_NoPollBeforeProgressReady(t *testing.T) {
	host := &stubHost{progress: ads.ProgressNotReady}
	d := newTestDriver(host, &Decision{
		Breaks: []Break{{Ads: []Creative{{URI: "pre"}}}},
	}, nil)

	d.poll()
	if len(host.calls) != 0 {
		t.Fatalf("break started without progress: %v", host.calls)
	}
}

func TestDriver_PostrollWaitsForContentComplete(t *testing.T) {
	host := &stubHost{progress: ads.Progress{PositionUs: 59_000_000, DurationUs: 60_000_000}}
	d := newTestDriver(host, &Decision{
		CuePoints: []float64{-1},
		Breaks:    []Break{{Ads: []Creative{{URI: "post"}}}},
	}, nil)

	d.poll()
	if len(host.calls) != 0 {
		t.Fatalf("postroll started before content complete: %v", host.calls)
	}

	d.ContentComplete()
	if len(host.calls) == 0 || host.calls[0] != "contentPause" {
		t.Fatalf("postroll did not start: %v", host.calls)
	}
}

func TestDriver_SkipsEmptyBreak(t *testing.T) {
	host := &stubHost{progress: ads.Progress{PositionUs: 25_000_000, DurationUs: 60_000_000}}
	d := newTestDriver(host, &Decision{
		CuePoints: []float64{0.3, 0.6},
		Breaks:    []Break{{}, {Ads: []Creative{{URI: "mid"}}}},
	}, nil)

	d.poll()
	if len(host.calls) != 0 {
		t.Fatalf("empty break produced calls: %v", host.calls)
	}

	host.progress.PositionUs = 30_000_000
	d.poll()
	if len(host.calls) != 0 {
		t.Fatalf("second break started before its cue: %v", host.calls)
	}

	host.progress.PositionUs = 45_000_000
	d.poll()
	if len(host.calls) == 0 || host.calls[0] != "contentPause" {
		t.Fatalf("second break did not start: %v", host.calls)
	}
}

func TestDriver_AdErrorAdvancesLikeEnded(t *testing.T) {
	host := &stubHost{progress: ads.Progress{PositionUs: 0, DurationUs: 60_000_000}}
	d := newTestDriver(host, &Decision{
		Breaks: []Break{{Ads: []Creative{{URI: "broken"}}}},
	}, nil)

	d.poll()
	host.calls = nil
	d.OnError()
	want := []string{"stopAd", "contentResume"}
	if got := strings.Join(host.calls, ","); got != strings.Join(want, ",") {
		t.Fatalf("calls after ad error = %v", host.calls)
	}
}

func TestDriver_SignsCreativeURLs(t *testing.T) {
	host := &stubHost{progress: ads.Progress{PositionUs: 0, DurationUs: 60_000_000}}
	d := newTestDriver(host, &Decision{
		Breaks: []Break{{Ads: []Creative{{URI: "https://cdn.example.com/pre.mp4"}}}},
	}, signing.New("creative-secret"))

	d.poll()
	var loaded string
	for _, call := range host.calls {
		if strings.HasPrefix(call, "loadAd:") {
			loaded = strings.TrimPrefix(call, "loadAd:")
		}
	}
	if loaded == "" {
		t.Fatalf("no loadAd call: %v", host.calls)
	}
	rawURL, sid, _, _, err := signing.ExtractSigned(loaded)
	if err != nil {
		t.Fatalf("loaded uri not signed: %q (%v)", loaded, err)
	}
	if rawURL != "https://cdn.example.com/pre.mp4" || sid != "sess-1" {
		t.Fatalf("signed uri fields: url=%q sid=%q", rawURL, sid)
	}
}

func TestDriver_DestroyedIsInert(t *testing.T) {
	host := &stubHost{progress: ads.Progress{PositionUs: 0, DurationUs: 60_000_000}}
	d := newTestDriver(host, &Decision{
		Breaks: []Break{{Ads: []Creative{{URI: "pre"}}}},
	}, nil)

	d.Destroy()
	d.poll()
	d.OnEnded()
	if len(host.calls) != 0 {
		t.Fatalf("destroyed driver produced calls: %v", host.calls)
	}
}
