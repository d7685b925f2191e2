// Package track provides the Track domain entity.
package track

import "time"

// Track represents a playable track.
// Identity is the canonical URL; duration is 0 until resolved.
type Track struct {
	Title     string        // Track title
	Artist    string        // Primary artist or uploader
	URL       string        // Canonical URL (identity key)
	Duration  time.Duration // Track duration (0 = unknown until resolved)
	Thumbnail string        // Thumbnail URL (optional)
}

// SameAs reports whether two tracks refer to the same canonical URL.
func (t Track) SameAs(other Track) bool {
	return t.URL != "" && t.URL == other.URL
}

// Tier represents a recommendation confidence bucket.
type Tier string

const (
	TierComfort  Tier = "comfort"  // Tracks the user already liked
	TierAdjacent Tier = "adjacent" // New tracks related to liked ones
	TierWildcard Tier = "wildcard" // Deliberate novelty picks
)

// Slot is a scored recommendation produced for one refill cycle.
type Slot struct {
	Track   Track
	UserID  string // Listener the slot was generated for
	Tier    Tier
	Reason  string // Human-readable explanation of the pick
	Matched string // Title of the liked track that matched (optional)
}

// RequesterType identifies where a candidate track came from.
type RequesterType string

const (
	RequesterUser     RequesterType = "user"     // Explicit listener request
	RequesterAutoplay RequesterType = "autoplay" // Engine-selected candidate
)

// QueuedTrack represents a track in the explicit request queue.
type QueuedTrack struct {
	Track       Track
	RequestedBy string    // User ID of the requester
	AddedAt     time.Time // Time when added to queue
}

// InteractionKind represents a recorded preference signal.
type InteractionKind string

const (
	InteractionLike    InteractionKind = "like"
	InteractionDislike InteractionKind = "dislike"
	InteractionSkip    InteractionKind = "skip"
	InteractionRequest InteractionKind = "request"
)

// Preference is a user's accumulated score for a track.
type Preference struct {
	Artist          string
	Title           string
	URL             string
	Score           int
	LastInteraction time.Time
}

// PoolEntry is a catalog entry of a track anyone has ever liked or requested.
type PoolEntry struct {
	Artist string
	Title  string
	URL    string
}
