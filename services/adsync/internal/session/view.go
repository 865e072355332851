package session

import (
	"github.com/example/ads-platform/internal/ads"
)

// GroupView is the wire form of one ad group.
type GroupView struct {
	InsertionTimeUs int64    `json:"insertion_time_us"`
	AdCount         int      `json:"ad_count"`
	AdURIs          []string `json:"ad_uris,omitempty"`
	Played          []bool   `json:"played,omitempty"`
	Consumed        bool     `json:"consumed"`
}

// StateView is the wire form of an ad schedule snapshot.
type StateView struct {
	Groups           []GroupView `json:"groups"`
	ResumePositionUs int64       `json:"resume_position_us"`
}

// ViewOf converts a schedule snapshot for serialization. Nil in, nil out.
func ViewOf(st *ads.State) *StateView {
	if st == nil {
		return nil
	}
	v := &StateView{
		Groups:           make([]GroupView, len(st.Groups)),
		ResumePositionUs: st.ResumePositionUs,
	}
	for i := range st.Groups {
		g := &st.Groups[i]
		v.Groups[i] = GroupView{
			InsertionTimeUs: g.InsertionTimeUs,
			AdCount:         g.AdCount,
			AdURIs:          g.AdURIs,
			Played:          g.Played,
			Consumed:        g.Consumed(),
		}
	}
	return v
}

// ProgressView is the wire form of a progress poll result.
type ProgressView struct {
	Ready      bool  `json:"ready"`
	PositionUs int64 `json:"position_us,omitempty"`
	DurationUs int64 `json:"duration_us,omitempty"`
}

func progressView(p ads.Progress) ProgressView {
	if !p.Ready() {
		return ProgressView{}
	}
	return ProgressView{Ready: true, PositionUs: p.PositionUs, DurationUs: p.DurationUs}
}
