// Package ads holds the canonical model of an ad insertion schedule: where
// the ad breaks sit on the content timeline, how many ads each break carries,
// and how far playback has consumed them.
package ads

import (
	"fmt"
	"math"
)

const (
	// MicrosPerSecond is the number of microseconds in one second.
	MicrosPerSecond = int64(1_000_000)

	// TimeUnset represents an unknown time or duration in microseconds.
	TimeUnset = int64(math.MinInt64 + 1)

	// TimeEndOfSource is the insertion time of a postroll ad group.
	TimeEndOfSource = int64(math.MinInt64)

	// IndexUnset represents an unset ad group or ad index.
	IndexUnset = -1

	// CountUnset marks an ad group whose ad count has not been reported yet.
	CountUnset = -1
)

// AdGroup is one insertion point in the content timeline.
//
// AdURIs is populated incrementally, in the order the ad engine will request
// playback, and may be shorter than AdCount until every ad has loaded.
type AdGroup struct {
	InsertionTimeUs int64    `json:"insertion_time_us"`
	AdCount         int      `json:"ad_count"`
	AdURIs          []string `json:"ad_uris,omitempty"`
	Played          []bool   `json:"played,omitempty"`

	playedCount int
}

// Consumed reports whether every ad in the group has finished playing.
// Groups with no ads are trivially consumed; groups whose count is still
// unknown are not ready to play and never consumed.
func (g *AdGroup) Consumed() bool {
	return g.AdCount != CountUnset && g.playedCount >= g.AdCount
}

// PlayedCount returns how many ads in the group have finished playing.
func (g *AdGroup) PlayedCount() int {
	return g.playedCount
}

// State is the ad playback schedule published to the playback front end.
// Insertion times are fixed at construction; only per-group ad metadata and
// played status mutate. It is not safe for concurrent use: the reconciler
// owns it and hands out copies via Copy.
type State struct {
	Groups           []AdGroup `json:"groups"`
	ResumePositionUs int64     `json:"resume_position_us"`
}

// NewState builds one ad group per insertion time. An empty input synthesizes
// a single preroll group at position 0: no cue points never means no ads.
func NewState(insertionTimesUs []int64) *State {
	if len(insertionTimesUs) == 0 {
		insertionTimesUs = []int64{0}
	}
	groups := make([]AdGroup, len(insertionTimesUs))
	for i, t := range insertionTimesUs {
		groups[i] = AdGroup{InsertionTimeUs: t, AdCount: CountUnset}
	}
	return &State{Groups: groups}
}

// SetAdCount records the number of ads in a group once the ad engine reports
// it. Re-setting a group to a conflicting count is a protocol violation and
// fails without overwriting.
func (s *State) SetAdCount(groupIndex, count int) error {
	g, err := s.group(groupIndex)
	if err != nil {
		return err
	}
	if count < 0 {
		return fmt.Errorf("ad group %d: invalid ad count %d", groupIndex, count)
	}
	if g.AdCount != CountUnset && g.AdCount != count {
		return fmt.Errorf("ad group %d: ad count already set to %d, refusing %d", groupIndex, g.AdCount, count)
	}
	g.AdCount = count
	return nil
}

// AddAdURI records the source of the next pending ad in the group. Callers
// must add URIs in the order the ad engine will request playback.
func (s *State) AddAdURI(groupIndex int, uri string) error {
	g, err := s.group(groupIndex)
	if err != nil {
		return err
	}
	g.AdURIs = append(g.AdURIs, uri)
	return nil
}

// MarkAdPlayed marks the group's next loaded-but-unplayed ad as played.
func (s *State) MarkAdPlayed(groupIndex int) error {
	g, err := s.group(groupIndex)
	if err != nil {
		return err
	}
	for len(g.Played) <= g.playedCount {
		g.Played = append(g.Played, false)
	}
	g.Played[g.playedCount] = true
	g.playedCount++
	return nil
}

// SetResumePosition records the content position at which ad playback
// interrupted content, so a detach/reattach cycle resumes correctly.
func (s *State) SetResumePosition(positionUs int64) {
	s.ResumePositionUs = positionUs
}

// GroupIndexForPosition returns the index of the last ad group at or before
// positionUs that still has ads left to play, or IndexUnset if there is none.
// Postroll groups sit at contentDurationUs for the purpose of this lookup.
func (s *State) GroupIndexForPosition(positionUs, contentDurationUs int64) int {
	index := IndexUnset
	for i := range s.Groups {
		t := s.Groups[i].InsertionTimeUs
		if t == TimeEndOfSource {
			if contentDurationUs == TimeUnset {
				continue
			}
			t = contentDurationUs
		}
		if t > positionUs {
			break
		}
		if !s.Groups[i].Consumed() {
			index = i
		}
	}
	return index
}

// Copy returns a deep snapshot safe to hand to listeners: mutating the
// original afterwards is never observable through the copy.
func (s *State) Copy() *State {
	out := &State{
		Groups:           make([]AdGroup, len(s.Groups)),
		ResumePositionUs: s.ResumePositionUs,
	}
	for i, g := range s.Groups {
		cp := g
		if g.AdURIs != nil {
			cp.AdURIs = append([]string(nil), g.AdURIs...)
		}
		if g.Played != nil {
			cp.Played = append([]bool(nil), g.Played...)
		}
		out.Groups[i] = cp
	}
	return out
}

func (s *State) group(groupIndex int) (*AdGroup, error) {
	if groupIndex < 0 || groupIndex >= len(s.Groups) {
		return nil, fmt.Errorf("ad group index %d out of range (%d groups)", groupIndex, len(s.Groups))
	}
	return &s.Groups[groupIndex], nil
}
