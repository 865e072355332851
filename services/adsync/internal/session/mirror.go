package session

import (
	"github.com/example/ads-platform/internal/ads"
)

// Player commands queued for the remote player. Returned in issue order on
// the next event ingestion response.
const (
	CommandPause  = "pause"
	CommandResume = "resume"
)

// playerMirror is the engine's view of the remote player. Event ingestion
// writes the reported fields; the reconciler reads them back through the
// Player interface and queues pause/resume commands for the client to apply.
//
// Only touched on the session loop goroutine.
type playerMirror struct {
	positionUs     int64
	durationUs     int64
	playingAd      bool
	adGroupIndex   int
	adIndexInGroup int
	playWhenReady  bool

	commands []string
}

func newPlayerMirror() *playerMirror {
	return &playerMirror{
		durationUs:     ads.TimeUnset,
		adGroupIndex:   ads.IndexUnset,
		adIndexInGroup: ads.IndexUnset,
	}
}

func (m *playerMirror) PositionUs() int64 { return m.positionUs }

func (m *playerMirror) DurationUs() int64 { return m.durationUs }

func (m *playerMirror) PlayingAd() bool { return m.playingAd }

func (m *playerMirror) CurrentAdGroupIndex() int { return m.adGroupIndex }

func (m *playerMirror) CurrentAdIndexInGroup() int { return m.adIndexInGroup }

func (m *playerMirror) SetPlayWhenReady(playWhenReady bool) {
	m.playWhenReady = playWhenReady
	if playWhenReady {
		m.commands = append(m.commands, CommandResume)
	} else {
		m.commands = append(m.commands, CommandPause)
	}
}

// drainCommands returns the queued commands and resets the queue.
func (m *playerMirror) drainCommands() []string {
	out := m.commands
	m.commands = nil
	return out
}
