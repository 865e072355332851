package adengine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/ads-platform/internal/ads"
)

func TestClientFetch_ParsesDecision(t *testing.T) {
	var gotTag string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTag = r.URL.Query().Get("tag")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"cue_points": [0.5, -1],
			"breaks": [
				{"ads": [{"uri": "https://cdn.example.com/mid.mp4", "duration_us": 15000000}]},
				{"ads": [{"uri": "https://cdn.example.com/post.mp4", "duration_us": 10000000}]}
			]
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	d, err := c.Fetch(context.Background(), "tag://campaign/42")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotTag != "tag://campaign/42" {
		t.Fatalf("tag = %q", gotTag)
	}
	if !reflect.DeepEqual(d.CuePoints, []float64{0.5, -1}) {
		t.Fatalf("cue points = %v", d.CuePoints)
	}
	if len(d.Breaks) != 2 || d.Breaks[0].Ads[0].URI != "https://cdn.example.com/mid.mp4" {
		t.Fatalf("breaks = %+v", d.Breaks)
	}
}

func TestClientFetch_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no fill", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zap.NewNop())
	if _, err := c.Fetch(context.Background(), "tag://x"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestClientFetch_RejectsBadDecision(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"cue out of range", `{"cue_points":[1.5],"breaks":[{"ads":[{"uri":"u"}]}]}`},
		{"missing uri", `{"cue_points":[0.5],"breaks":[{"ads":[{"uri":""}]}]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()
			c := NewClient(srv.URL, zap.NewNop())
			if _, err := c.Fetch(context.Background(), "tag://x"); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

// ─── requester ───

func runDispatched(t *testing.T, dispatched chan func()) {
	t.Helper()
	select {
	case fn := <-dispatched:
		fn()
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for dispatch")
	}
}

func TestRequester_DeliversLoadedSessionViaDispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"cue_points":[],"breaks":[{"ads":[{"uri":"pre"}]}]}`))
	}))
	defer srv.Close()

	dispatched := make(chan func(), 1)
	req := NewRequester(NewClient(srv.URL, zap.NewNop()), nil, time.Hour,
		"sess-1", "tag://x", func(fn func()) { dispatched <- fn }, zap.NewNop())
	host := &stubHost{}

	req.RequestAds(host)
	runDispatched(t, dispatched)

	if host.session == nil {
		t.Fatal("session not delivered")
	}

	// The ticker poll now drives the preroll through the loaded session.
	host.calls = nil
	host.progress = ads.Progress{PositionUs: 0, DurationUs: 60_000_000}
	req.Poll()
	if len(host.calls) == 0 || host.calls[0] != "contentPause" {
		t.Fatalf("poll did not start the preroll: %v", host.calls)
	}
}

func TestRequester_SurfacesFetchError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no fill", http.StatusInternalServerError)
	}))
	defer srv.Close()

	dispatched := make(chan func(), 1)
	req := NewRequester(NewClient(srv.URL, zap.NewNop()), nil, time.Hour,
		"sess-1", "tag://x", func(fn func()) { dispatched <- fn }, zap.NewNop())
	host := &stubHost{}

	req.RequestAds(host)
	runDispatched(t, dispatched)

	var sawError bool
	for _, call := range host.calls {
		if strings.HasPrefix(call, "adError:") {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("fetch error not surfaced: %v", host.calls)
	}
	req.Poll() // must not panic with no driver
}
