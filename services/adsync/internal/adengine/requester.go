package adengine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/ads-platform/internal/ads/reconciler"
	"github.com/example/ads-platform/internal/platform/signing"
)

// Host is the surface the driver needs from its reconciler: the ad player
// protocol plus the lifecycle entry points. *reconciler.Reconciler satisfies
// it.
type Host interface {
	reconciler.AdPlayer
	OnSessionLoaded(session reconciler.AdsSession)
	OnAdLoaded(pod reconciler.AdPodInfo)
	OnContentPauseRequested()
	OnContentResumeRequested()
	OnAdError(err error)
}

const fetchTimeout = 10 * time.Second

// Requester issues the one-shot ad request for a single playback session.
// The HTTP fetch runs off-loop; everything else runs on the session loop via
// dispatch.
type Requester struct {
	client      *Client
	signer      *signing.Signer
	creativeTTL time.Duration
	sessionID   string
	adTagURL    string
	dispatch    func(func())
	log         *zap.Logger

	driver *driver
}

func NewRequester(client *Client, signer *signing.Signer, creativeTTL time.Duration,
	sessionID, adTagURL string, dispatch func(func()), log *zap.Logger) *Requester {
	return &Requester{
		client:      client,
		signer:      signer,
		creativeTTL: creativeTTL,
		sessionID:   sessionID,
		adTagURL:    adTagURL,
		dispatch:    dispatch,
		log:         log,
	}
}

// RequestAds fetches the ad decision and, once resolved, hands the loaded
// session back to the host on the session loop.
func (r *Requester) RequestAds(player reconciler.AdPlayer) {
	host, ok := player.(Host)
	if !ok {
		r.log.Error("ad player does not expose the lifecycle surface")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		decision, err := r.client.Fetch(ctx, r.adTagURL)
		r.dispatch(func() {
			if err != nil {
				host.OnAdError(err)
				return
			}
			r.driver = newDriver(r, host, decision)
			host.OnSessionLoaded(r.driver)
		})
	}()
}

// Poll advances the loaded session, if any. Called from the session loop's
// ticker.
func (r *Requester) Poll() {
	if r.driver != nil {
		r.driver.poll()
	}
}
