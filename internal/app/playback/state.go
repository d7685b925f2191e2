// Package playback provides playback control with integrated queue management.
package playback

// State represents the playback state.
type State int

const (
	StateIdle          State = iota // No track playing (queue empty or stopped)
	StatePlaying                    // Track is playing
	StatePaused                     // Track is paused
	StateTransitioning              // Between tracks, next candidate being selected/resolved
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateTransitioning:
		return "transitioning"
	default:
		return "unknown"
	}
}

// LoopMode represents the repeat behavior applied on track completion.
type LoopMode int

const (
	LoopOff   LoopMode = iota // No repetition
	LoopTrack                 // Replay the track that just finished
	LoopQueue                 // Re-append finished tracks to the queue tail
)

// String returns the string representation of the loop mode.
func (m LoopMode) String() string {
	switch m {
	case LoopOff:
		return "off"
	case LoopTrack:
		return "track"
	case LoopQueue:
		return "queue"
	default:
		return "unknown"
	}
}

// ParseLoopMode parses a loop mode name. Unknown names map to LoopOff.
func ParseLoopMode(s string) LoopMode {
	switch s {
	case "track":
		return LoopTrack
	case "queue":
		return LoopQueue
	default:
		return LoopOff
	}
}
