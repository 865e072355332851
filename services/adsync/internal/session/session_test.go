package session

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/ads-platform/internal/ads/reconciler"
	"github.com/example/ads-platform/services/adsync/internal/adengine"
)

const testDurationUs = int64(60_000_000)

func decisionServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestManager(t *testing.T, decisionURL string) *Manager {
	t.Helper()
	return NewManager(Deps{
		Log:          zap.NewNop(),
		Client:       adengine.NewClient(decisionURL, zap.NewNop()),
		PollInterval: 5 * time.Millisecond,
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func boolPtr(v bool) *bool { return &v }

func intPtr(v int) *int { return &v }

// ─── lifecycle ───

func TestSession_PrerollFlow(t *testing.T) {
	srv := decisionServer(t, `{"cue_points":[],"breaks":[{"ads":[{"uri":"https://cdn.example.com/pre.mp4","duration_us":15000000}]}]}`)
	m := newTestManager(t, srv.URL)
	s := m.Create("user-1", "tag://campaign")
	defer m.Release(s.ID)

	if _, _, err := s.ApplyEvents([]PlayerEvent{{Type: "timeline", ContentDurationUs: testDurationUs}}); err != nil {
		t.Fatalf("timeline event: %v", err)
	}

	// The decision fetch resolves and the ticker poll starts the preroll.
	waitFor(t, "ad playback to start", func() bool {
		st, err := s.Status()
		return err == nil && st.Mode == "ad_playing"
	})

	cmds, mode, err := s.ApplyEvents(nil)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if mode != "ad_playing" {
		t.Fatalf("mode = %q, want ad_playing", mode)
	}
	// The engine paused content for the break, then resumed for the ad.
	if len(cmds) < 2 || cmds[0] != CommandPause || cmds[len(cmds)-1] != CommandResume {
		t.Fatalf("commands = %v, want pause..resume", cmds)
	}

	st, err := s.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.State == nil || len(st.State.Groups) != 1 {
		t.Fatalf("state = %+v", st.State)
	}
	if st.State.Groups[0].AdCount != 1 || len(st.State.Groups[0].AdURIs) != 1 {
		t.Fatalf("group = %+v", st.State.Groups[0])
	}

	// The player finishes the ad.
	if _, _, err := s.ApplyEvents([]PlayerEvent{
		{Type: "playback_state", PlayWhenReady: boolPtr(true), State: "ended"},
	}); err != nil {
		t.Fatalf("ended event: %v", err)
	}

	waitFor(t, "content to resume", func() bool {
		st, err := s.Status()
		return err == nil && st.Mode == "content"
	})
	st, _ = s.Status()
	if !st.State.Groups[0].Consumed {
		t.Fatalf("preroll group not consumed: %+v", st.State.Groups[0])
	}
}

func TestSession_LoadErrorSurfacedInStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no fill", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)
	m := newTestManager(t, srv.URL)
	s := m.Create("user-1", "tag://campaign")
	defer m.Release(s.ID)

	waitFor(t, "load error", func() bool {
		st, err := s.Status()
		return err == nil && st.LoadError != ""
	})
	st, _ := s.Status()
	if st.Mode != "content" {
		t.Fatalf("mode after load error = %q, want content", st.Mode)
	}
}

func TestSession_DetachAttach(t *testing.T) {
	srv := decisionServer(t, `{"cue_points":[0.9],"breaks":[{"ads":[{"uri":"late.mp4"}]}]}`)
	m := newTestManager(t, srv.URL)
	s := m.Create("user-1", "tag://campaign")
	defer m.Release(s.ID)

	if _, _, err := s.ApplyEvents([]PlayerEvent{{Type: "timeline", ContentDurationUs: testDurationUs}}); err != nil {
		t.Fatalf("timeline: %v", err)
	}
	waitFor(t, "schedule", func() bool {
		st, err := s.Status()
		return err == nil && st.State != nil
	})

	if err := s.Detach(); err != nil {
		t.Fatalf("detach: %v", err)
	}
	st, err := s.Status()
	if err != nil {
		t.Fatalf("status while detached: %v", err)
	}
	if st.Attached {
		t.Fatal("still attached after detach")
	}

	if err := s.Attach(); err != nil {
		t.Fatalf("attach: %v", err)
	}
	st, _ = s.Status()
	if !st.Attached || st.State == nil {
		t.Fatalf("reattach lost the schedule: %+v", st)
	}
}

func TestSession_DetachAfterAdEntryBeforeTimeline(t *testing.T) {
	srv := decisionServer(t, `{"cue_points":[0.5],"breaks":[{"ads":[{"uri":"mid.mp4"}]}]}`)
	m := newTestManager(t, srv.URL)
	s := m.Create("user-1", "tag://campaign")
	defer m.Release(s.ID)

	// Let the ad request resolve so the engine holds a live ads session while
	// the schedule is still deferred on the missing timeline.
	time.Sleep(50 * time.Millisecond)

	if _, _, err := s.ApplyEvents([]PlayerEvent{{
		Type:           "discontinuity",
		PlayingAd:      boolPtr(true),
		AdGroupIndex:   intPtr(0),
		AdIndexInGroup: intPtr(0),
	}}); err != nil {
		t.Fatalf("discontinuity: %v", err)
	}
	if err := s.Detach(); err != nil {
		t.Fatalf("detach before timeline: %v", err)
	}
	st, err := s.Status()
	if err != nil {
		t.Fatalf("status after detach: %v", err)
	}
	if st.State != nil {
		t.Fatalf("schedule appeared without a timeline: %+v", st.State)
	}
}

func TestSession_ReleasedOperationsFail(t *testing.T) {
	srv := decisionServer(t, `{"cue_points":[],"breaks":[]}`)
	m := newTestManager(t, srv.URL)
	s := m.Create("user-1", "tag://campaign")

	if !m.Release(s.ID) {
		t.Fatal("release reported missing session")
	}
	if _, ok := m.Get(s.ID); ok {
		t.Fatal("released session still listed")
	}
	if _, _, err := s.ApplyEvents(nil); !errors.Is(err, ErrReleased) {
		t.Fatalf("err = %v, want ErrReleased", err)
	}
	// Idempotent.
	s.Release()
}

// The sink doubles as the engine's ad lifecycle listener so ad start and
// completion reach the event bus; without a bus every publish is a no-op.
func TestEventSink_AdLifecycleSafeWithoutBus(t *testing.T) {
	var cb reconciler.AdCallback = &eventSink{sessionID: "sess-1", log: zap.NewNop()}
	cb.OnPlay()
	cb.OnResume()
	cb.OnPause()
	cb.OnEnded()
	cb.OnError()
}

func TestManager_Shutdown(t *testing.T) {
	srv := decisionServer(t, `{"cue_points":[],"breaks":[]}`)
	m := newTestManager(t, srv.URL)
	a := m.Create("user-1", "tag://a")
	b := m.Create("user-2", "tag://b")

	m.Shutdown()
	if m.Len() != 0 {
		t.Fatalf("sessions after shutdown: %d", m.Len())
	}
	for _, s := range []*Session{a, b} {
		if _, _, err := s.ApplyEvents(nil); !errors.Is(err, ErrReleased) {
			t.Fatalf("session %s alive after shutdown: %v", s.ID, err)
		}
	}
}
