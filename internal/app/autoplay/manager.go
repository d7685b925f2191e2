// Package autoplay owns the bounded look-ahead buffers that feed playback
// when no explicit request is queued.
//
// Each session holds two buffers: a visible queue listeners can see and a
// hidden reserve. Together they never exceed the configured budget. Refills
// go through the fairness allocator, with an operator-configured fallback
// playlist for sessions where discovery yields nothing.
package autoplay

import (
	"context"
	cryptoRand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/vexolabs/autodj/internal/domain/track"
)

// Allocator produces interleaved per-listener recommendation queues.
type Allocator interface {
	Allocate(ctx context.Context, sessionID string, userIDs []string, claimed map[string]struct{}) (public, hidden []track.Slot, err error)
}

// MoodScorer finds a track similar to a seed for mood refresh.
type MoodScorer interface {
	SimilarTo(ctx context.Context, sessionID string, seed track.Track, claimed map[string]struct{}) (*track.Track, error)
}

// PlaylistExpander expands the fallback playlist into tracks.
type PlaylistExpander interface {
	ExpandPlaylist(ctx context.Context, url string, limit int, shuffle bool) ([]track.Track, error)
}

// HistoryChecker reports whether a track played recently in a session.
type HistoryChecker interface {
	IsRecentlyPlayed(ctx context.Context, sessionID, url string, within time.Duration) (bool, error)
}

// Config represents buffer manager configuration.
type Config struct {
	VisibleSize      int
	HiddenSize       int
	RefillInterval   time.Duration
	FallbackPlaylist string
	DedupWindow      time.Duration
}

// Manager owns one session's autoplay buffers.
type Manager struct {
	mu          sync.Mutex
	visible     []track.Slot
	hidden      []track.Slot
	isRefilling bool
	rng         *rand.Rand

	allocator Allocator
	mood      MoodScorer
	expander  PlaylistExpander
	history   HistoryChecker
	config    Config
}

// NewManager creates a new buffer manager. expander and history may be nil
// when no fallback playlist is configured.
func NewManager(allocator Allocator, mood MoodScorer, expander PlaylistExpander, history HistoryChecker, cfg Config) *Manager {
	if cfg.VisibleSize <= 0 {
		cfg.VisibleSize = 5
	}
	if cfg.HiddenSize <= 0 {
		cfg.HiddenSize = 5
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = 10 * time.Second
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 90 * time.Minute
	}
	return &Manager{
		rng:       newRNG(),
		allocator: allocator,
		mood:      mood,
		expander:  expander,
		history:   history,
		config:    cfg,
	}
}

// RefillInterval returns the configured periodic refill interval.
func (m *Manager) RefillInterval() time.Duration {
	return m.config.RefillInterval
}

// Refill tops the buffers up to the budget. A refill already in flight
// makes this a no-op, the second request is dropped, not queued.
func (m *Manager) Refill(ctx context.Context, sessionID string, listeners []string, maxDuration time.Duration) error {
	m.mu.Lock()
	if m.isRefilling {
		m.mu.Unlock()
		zlog.Debug().Msgf("refill already in flight for session %s, dropping", sessionID)
		return nil
	}
	m.isRefilling = true
	needed := m.config.VisibleSize + m.config.HiddenSize - len(m.visible) - len(m.hidden)
	claimed := m.claimedLocked()
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.isRefilling = false
		m.mu.Unlock()
	}()

	if needed <= 0 {
		return nil
	}

	public, hidden, err := m.allocator.Allocate(ctx, sessionID, listeners, claimed)
	if err != nil {
		return err
	}
	slots := append(public, hidden...)
	if len(slots) > needed {
		slots = slots[:needed]
	}

	if len(slots) < needed && m.config.FallbackPlaylist != "" && m.expander != nil {
		slots = append(slots, m.fallbackSlots(ctx, sessionID, needed-len(slots), claimed, maxDuration)...)
	}
	if len(slots) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	added := 0
	for _, slot := range slots {
		// Buffers may have changed while slow allocation ran
		if m.containsLocked(slot.Track.URL) {
			continue
		}
		switch {
		case len(m.visible) < m.config.VisibleSize:
			m.visible = append(m.visible, slot)
		case len(m.hidden) < m.config.HiddenSize:
			m.hidden = append(m.hidden, slot)
		default:
			continue
		}
		added++
	}
	zlog.Info().Msgf("refilled session %s buffers: +%d (visible=%d, hidden=%d)",
		sessionID, added, len(m.visible), len(m.hidden))
	return nil
}

// fallbackSlots samples the fallback playlist, respecting the claimed-set,
// the dedup window and the session duration limit.
func (m *Manager) fallbackSlots(ctx context.Context, sessionID string, needed int, claimed map[string]struct{}, maxDuration time.Duration) []track.Slot {
	tracks, err := m.expander.ExpandPlaylist(ctx, m.config.FallbackPlaylist, needed*3, true)
	if err != nil {
		zlog.Warn().Msgf("fallback playlist expansion failed: %v", err)
		return nil
	}

	var slots []track.Slot
	for _, t := range tracks {
		if len(slots) >= needed {
			break
		}
		if t.URL == "" {
			continue
		}
		if _, ok := claimed[t.URL]; ok {
			continue
		}
		if maxDuration > 0 && t.Duration > maxDuration {
			continue
		}
		if m.history != nil {
			if recent, err := m.history.IsRecentlyPlayed(ctx, sessionID, t.URL, m.config.DedupWindow); err == nil && recent {
				continue
			}
		}
		claimed[t.URL] = struct{}{}
		slots = append(slots, track.Slot{
			Track:  t,
			Tier:   track.TierWildcard,
			Reason: "From the fallback playlist",
		})
	}
	return slots
}

// PopNext pops the next playable slot from the visible queue, discarding
// candidates whose known duration exceeds maxDuration (0 = unlimited).
// Accepting a slot rotates one hidden slot into the visible queue.
// Returns nil when the visible queue is exhausted.
func (m *Manager) PopNext(maxDuration time.Duration) *track.Slot {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.visible) > 0 {
		slot := m.visible[0]
		m.visible = m.visible[1:]

		if maxDuration > 0 && slot.Track.Duration > maxDuration {
			zlog.Info().Msgf("discarding over-limit candidate '%s' (%s > %s)",
				slot.Track.Title, slot.Track.Duration, maxDuration)
			continue
		}

		m.rotateLocked()
		return &slot
	}
	return nil
}

// Must be called with lock held.
func (m *Manager) rotateLocked() {
	if len(m.hidden) > 0 && len(m.visible) < m.config.VisibleSize {
		m.visible = append(m.visible, m.hidden[0])
		m.hidden = m.hidden[1:]
	}
}

// MoodRefresh replaces one random hidden slot with a track similar to the
// seed, nudging the reserve toward the current listening mood. A failed
// search leaves the buffers untouched.
func (m *Manager) MoodRefresh(ctx context.Context, sessionID string, seed track.Track) {
	m.mu.Lock()
	if len(m.hidden) == 0 {
		m.mu.Unlock()
		return
	}
	idx := m.rng.Intn(len(m.hidden))
	claimed := m.claimedLocked()
	m.mu.Unlock()

	similar, err := m.mood.SimilarTo(ctx, sessionID, seed, claimed)
	if err != nil || similar == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Buffers may have rotated while the search ran
	if idx >= len(m.hidden) {
		return
	}
	old := m.hidden[idx]
	m.hidden[idx] = track.Slot{
		Track:   *similar,
		UserID:  old.UserID,
		Tier:    track.TierAdjacent,
		Reason:  "Matches the current mood",
		Matched: seed.Title,
	}
	zlog.Debug().Msgf("mood refresh for session %s: '%s' replaced '%s'", sessionID, similar.Title, old.Track.Title)
}

// RemoveUserSlots evicts every slot generated for the given listener.
func (m *Manager) RemoveUserSlots(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	keep := func(slots []track.Slot) []track.Slot {
		out := slots[:0]
		for _, s := range slots {
			if s.UserID == userID {
				removed++
				continue
			}
			out = append(out, s)
		}
		return out
	}
	m.visible = keep(m.visible)
	m.hidden = keep(m.hidden)
	return removed
}

// Peek returns the head of the visible queue without removing it.
func (m *Manager) Peek() *track.Slot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.visible) == 0 {
		return nil
	}
	slot := m.visible[0]
	return &slot
}

// Snapshot returns copies of both buffers.
func (m *Manager) Snapshot() (visible, hidden []track.Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]track.Slot(nil), m.visible...), append([]track.Slot(nil), m.hidden...)
}

// AllTracks returns every buffered track, visible and hidden.
func (m *Manager) AllTracks() []track.Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]track.Track, 0, len(m.visible)+len(m.hidden))
	for _, s := range m.visible {
		out = append(out, s.Track)
	}
	for _, s := range m.hidden {
		out = append(out, s.Track)
	}
	return out
}

// Total returns the number of buffered slots.
func (m *Manager) Total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.visible) + len(m.hidden)
}

// Clear drops both buffers.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.visible = nil
	m.hidden = nil
}

// Must be called with lock held.
func (m *Manager) claimedLocked() map[string]struct{} {
	claimed := make(map[string]struct{}, len(m.visible)+len(m.hidden))
	for _, s := range m.visible {
		claimed[s.Track.URL] = struct{}{}
	}
	for _, s := range m.hidden {
		claimed[s.Track.URL] = struct{}{}
	}
	return claimed
}

// Must be called with lock held.
func (m *Manager) containsLocked(url string) bool {
	if url == "" {
		return false
	}
	for _, s := range m.visible {
		if s.Track.URL == url {
			return true
		}
	}
	for _, s := range m.hidden {
		if s.Track.URL == url {
			return true
		}
	}
	return false
}

// newRNG returns a crypto-seeded math/rand source.
func newRNG() *rand.Rand {
	var seed int64
	var buf [8]byte
	if _, err := cryptoRand.Read(buf[:]); err == nil {
		seed = int64(binary.LittleEndian.Uint64(buf[:]))
	} else {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}
