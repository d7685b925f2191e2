package discovery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexolabs/autodj/internal/domain/track"
)

func likedTracks(artist string, n int) []track.Preference {
	prefs := make([]track.Preference, 0, n)
	for i := 0; i < n; i++ {
		prefs = append(prefs, track.Preference{
			Artist:          artist,
			Title:           fmt.Sprintf("%s Song %d", artist, i),
			URL:             fmt.Sprintf("https://yt/%s-%d", artist, i),
			Score:           5,
			LastInteraction: time.Now(),
		})
	}
	return prefs
}

func TestAllocator_Fairness(t *testing.T) {
	m := newMemStore()
	m.prefs["alice"] = likedTracks("alice-fav", 6)
	m.prefs["bob"] = likedTracks("bob-fav", 6)

	scorer := NewScorer(m, Config{RatioComfort: 1})
	a := NewAllocator(scorer, 4)

	public, hidden, err := a.Allocate(context.Background(), "s1", []string{"alice", "bob"}, nil)
	require.NoError(t, err)
	require.Len(t, public, 4)
	require.Len(t, hidden, 4)

	countByUser := func(slots []track.Slot) map[string]int {
		counts := make(map[string]int)
		for _, s := range slots {
			counts[s.UserID]++
		}
		return counts
	}
	assert.Equal(t, map[string]int{"alice": 2, "bob": 2}, countByUser(public))
	assert.Equal(t, map[string]int{"alice": 2, "bob": 2}, countByUser(hidden))

	// Round-robin: adjacent positions belong to different listeners
	assert.NotEqual(t, public[0].UserID, public[1].UserID)
	assert.NotEqual(t, public[2].UserID, public[3].UserID)

	// No track handed out twice across the whole cycle
	seen := make(map[string]struct{})
	for _, s := range append(public, hidden...) {
		_, dup := seen[s.Track.URL]
		assert.False(t, dup, "duplicate track %s", s.Track.URL)
		seen[s.Track.URL] = struct{}{}
	}
}

func TestAllocator_SkipsListenersWithoutPreferences(t *testing.T) {
	m := newMemStore()
	m.prefs["alice"] = likedTracks("alice-fav", 6)

	scorer := NewScorer(m, Config{RatioComfort: 1})
	a := NewAllocator(scorer, 4)

	public, hidden, err := a.Allocate(context.Background(), "s1", []string{"alice", "lurker"}, nil)
	require.NoError(t, err)

	for _, s := range append(public, hidden...) {
		assert.Equal(t, "alice", s.UserID)
	}
	assert.Len(t, public, 2)
	assert.Len(t, hidden, 2)
}

func TestAllocator_RespectsClaimedSet(t *testing.T) {
	m := newMemStore()
	m.prefs["alice"] = likedTracks("alice-fav", 4)

	scorer := NewScorer(m, Config{RatioComfort: 1})
	a := NewAllocator(scorer, 4)

	claimed := map[string]struct{}{
		"https://yt/alice-fav-0": {},
		"https://yt/alice-fav-1": {},
	}
	public, hidden, err := a.Allocate(context.Background(), "s1", []string{"alice"}, claimed)
	require.NoError(t, err)

	for _, s := range append(public, hidden...) {
		assert.NotContains(t, []string{"https://yt/alice-fav-0", "https://yt/alice-fav-1"}, s.Track.URL)
	}
	// Handed-out URLs are claimed for the rest of the cycle
	assert.Len(t, claimed, 4)
}

func TestAllocator_EmptyListeners(t *testing.T) {
	scorer := NewScorer(newMemStore(), Config{})
	a := NewAllocator(scorer, 4)

	public, hidden, err := a.Allocate(context.Background(), "s1", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, public)
	assert.Empty(t, hidden)
}
