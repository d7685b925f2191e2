package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/vexolabs/autodj/internal/domain/track"
)

// DuplicateTrackFilter checks for duplicate tracks already queued or
// buffered in the session.
// Detects:
// - Exact URL matches
// - Remasters (normalized track title + same artist)
// Excludes:
// - Cover songs (same title but different artist)
type DuplicateTrackFilter struct {
	queueView QueueView
}

// QueueView exposes every track currently queued or buffered.
type QueueView interface {
	AllTracks() []track.Track
}

// NewDuplicateTrackFilter creates a new duplicate track filter.
func NewDuplicateTrackFilter(queueView QueueView) *DuplicateTrackFilter {
	return &DuplicateTrackFilter{
		queueView: queueView,
	}
}

// Name returns the filter name.
func (f *DuplicateTrackFilter) Name() string {
	return "duplicate_track_filter"
}

// Description returns the filter description.
func (f *DuplicateTrackFilter) Description() string {
	return "Rejects tracks already queued or buffered (remasters included), covers by other artists are allowed"
}

// ReturnCodes returns possible return codes.
func (f *DuplicateTrackFilter) ReturnCodes() []string {
	return []string{"duplicate_track"}
}

// AppliesTo returns which requester types this filter applies to.
func (f *DuplicateTrackFilter) AppliesTo(requesterType track.RequesterType) bool {
	// Autoplay candidates are deduplicated by the claimed-set already
	return requesterType == track.RequesterUser
}

// ValidateConfig validates the filter configuration.
func (f *DuplicateTrackFilter) ValidateConfig(config map[string]any) error {
	// No configuration needed
	return nil
}

// Check checks if the track is a duplicate.
func (f *DuplicateTrackFilter) Check(ctx context.Context, req TrackRequest, candidate track.Track) Result {
	for _, queued := range f.queueView.AllTracks() {
		// 1. Exact URL match
		if queued.SameAs(candidate) {
			return Reject("duplicate_track")
		}

		// 2. Remaster detection: normalized title + same artist
		if isRemaster(queued, candidate) {
			return Reject("duplicate_track")
		}
	}

	return Accept()
}

// isRemaster checks if two tracks are the same song (remaster/different version).
// Returns true if:
// - Normalized track titles match
// - Artist is the same
func isRemaster(a, b track.Track) bool {
	titleA := normalizeTrackTitle(a.Title)
	titleB := normalizeTrackTitle(b.Title)

	// If normalized titles don't match, they're different songs
	if titleA != titleB {
		return false
	}

	// Same normalized title - check if same artist
	// If different artists, it's a cover song (allowed)
	if a.Artist == "" || b.Artist == "" {
		return false
	}
	return strings.EqualFold(a.Artist, b.Artist)
}

// normalizeTrackTitle removes remaster information and version details.
func normalizeTrackTitle(title string) string {
	// Convert to lowercase
	normalized := strings.ToLower(title)

	// Remove common remaster patterns
	remasterPatterns := []*regexp.Regexp{
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),      // "- 2011 Remaster"
		regexp.MustCompile(`\s*\(remaster(ed)?\s*\d{0,4}\)`),     // "(Remastered 2023)"
		regexp.MustCompile(`\s*\[remaster(ed)?\s*\d{0,4}\]`),     // "[Remastered]"
		regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?`), // "- Remastered"
		regexp.MustCompile(`\s*\(.*?remaster.*?\)`),              // "(Any Remaster text)"
		regexp.MustCompile(`\s*\[.*?remaster.*?\]`),              // "[Any Remaster text]"
	}

	for _, pattern := range remasterPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}

	// Remove other common version indicators
	versionPatterns := []*regexp.Regexp{
		regexp.MustCompile(`\s*\(.*?version\)`),        // "(Single Version)"
		regexp.MustCompile(`\s*\(.*?edit\)`),           // "(Radio Edit)"
		regexp.MustCompile(`\s*-?\s*live`),             // "- Live"
		regexp.MustCompile(`\s*\(live\)`),              // "(Live)"
		regexp.MustCompile(`\s*-?\s*radio\s+edit`),     // "- Radio Edit"
		regexp.MustCompile(`\s*-?\s*single\s+version`), // "- Single Version"
	}

	for _, pattern := range versionPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}

	// Remove extra whitespace
	normalized = strings.TrimSpace(normalized)
	normalized = regexp.MustCompile(`\s+`).ReplaceAllString(normalized, " ")

	// Remove trailing dashes
	normalized = strings.TrimRight(normalized, " -")

	return normalized
}
