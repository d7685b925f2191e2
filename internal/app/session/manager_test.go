package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexolabs/autodj/internal/app/notification"
	"github.com/vexolabs/autodj/internal/app/playback"
	"github.com/vexolabs/autodj/internal/domain/track"
	"github.com/vexolabs/autodj/internal/infra/config"
	"github.com/vexolabs/autodj/internal/infra/resolver"
	"github.com/vexolabs/autodj/internal/infra/store"
)

type recordedInteraction struct {
	userID string
	url    string
	kind   track.InteractionKind
}

type fakeStore struct {
	mu           sync.Mutex
	interactions []recordedInteraction
	history      []string
	pool         []track.PoolEntry
	settings     map[string]store.SessionSettings
	mirrorCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{settings: make(map[string]store.SessionSettings)}
}

func (s *fakeStore) RecordInteraction(_ context.Context, userID string, t track.Track, kind track.InteractionKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interactions = append(s.interactions, recordedInteraction{userID: userID, url: t.URL, kind: kind})
	return nil
}

func (s *fakeStore) AddHistory(_ context.Context, _ string, t track.Track) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, t.URL)
	return nil
}

func (s *fakeStore) AddPoolTrack(_ context.Context, e track.PoolEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool = append(s.pool, e)
	return nil
}

func (s *fakeStore) IsRecentlyPlayed(_ context.Context, _, _ string, _ time.Duration) (bool, error) {
	return false, nil
}

func (s *fakeStore) LoadSessionSettings(_ context.Context, sessionID string) (store.SessionSettings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings, ok := s.settings[sessionID]
	return settings, ok, nil
}

func (s *fakeStore) SaveSessionSettings(_ context.Context, sessionID string, settings store.SessionSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[sessionID] = settings
	return nil
}

func (s *fakeStore) ReplaceSessionSlots(_ context.Context, _ string, _, _ []track.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mirrorCalls++
	return nil
}

func (s *fakeStore) recorded() []recordedInteraction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedInteraction(nil), s.interactions...)
}

func (s *fakeStore) playedHistory() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.history...)
}

type fakeResolver struct {
	mu        sync.Mutex
	searchHit map[string]track.Track
	streams   map[string]*resolver.StreamHandle
	playlist  []track.Track
	resolved  []string
}

func (r *fakeResolver) Search(_ context.Context, query string) (*track.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.searchHit[query]; ok {
		return &t, nil
	}
	return nil, resolver.ErrNotFound
}

func (r *fakeResolver) ResolveStream(_ context.Context, url string) (*resolver.StreamHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolved = append(r.resolved, url)
	if h, ok := r.streams[url]; ok {
		return h, nil
	}
	return nil, resolver.ErrResolutionFailed
}

func (r *fakeResolver) resolvedURLs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.resolved...)
}

func (r *fakeResolver) addStream(url string, h *resolver.StreamHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[url] = h
}

func (r *fakeResolver) ExpandPlaylist(_ context.Context, _ string, limit int, _ bool) ([]track.Track, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.playlist) > limit {
		return r.playlist[:limit], nil
	}
	return r.playlist, nil
}

// fakeAllocator hands out a fixed slot list, respecting the claimed-set
// and splitting the result half public, half hidden.
type fakeAllocator struct {
	mu    sync.Mutex
	slots []track.Slot
	calls int
}

func (a *fakeAllocator) Allocate(_ context.Context, _ string, _ []string, claimed map[string]struct{}) ([]track.Slot, []track.Slot, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	var out []track.Slot
	for _, s := range a.slots {
		if _, ok := claimed[s.Track.URL]; ok {
			continue
		}
		out = append(out, s)
	}
	half := (len(out) + 1) / 2
	return out[:half], out[half:], nil
}

func (a *fakeAllocator) setSlots(slots []track.Slot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.slots = slots
}

func (a *fakeAllocator) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fakeMood struct{}

func (fakeMood) SimilarTo(_ context.Context, _ string, _ track.Track, _ map[string]struct{}) (*track.Track, error) {
	return nil, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Playback: config.PlaybackConfig{
			DefaultVolume:  0.5,
			PersistentMode: true,
		},
		Autoplay: config.AutoplayConfig{
			VisibleSize:       2,
			HiddenSize:        2,
			RefillIntervalSec: 300,
		},
		Discovery: config.DiscoveryConfig{
			DedupMinutes: 90,
		},
	}
}

type testSession struct {
	m     *Manager
	store *fakeStore
	res   *fakeResolver
	alloc *fakeAllocator
	notes *recordingStream
}

type recordingStream struct {
	mu       sync.Mutex
	received []notification.Notification
}

func (s *recordingStream) Send(n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, *n)
	return nil
}

func (s *recordingStream) byType(t notification.Type) []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []notification.Notification
	for _, n := range s.received {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

func newTestSession(t *testing.T, cfg *config.Config, onTerminate func(string)) *testSession {
	t.Helper()
	st := newFakeStore()
	res := &fakeResolver{
		searchHit: make(map[string]track.Track),
		streams:   make(map[string]*resolver.StreamHandle),
	}
	alloc := &fakeAllocator{}
	notifier := notification.NewManager()
	notes := &recordingStream{}
	notifier.Subscribe(notes)

	m := NewManager("guild-1", Deps{
		Config:      cfg,
		Store:       st,
		Resolver:    res,
		Allocator:   alloc,
		Mood:        fakeMood{},
		Notifier:    notifier,
		OnTerminate: onTerminate,
	})
	t.Cleanup(m.Close)

	return &testSession{m: m, store: st, res: res, alloc: alloc, notes: notes}
}

func TestManager_RequestStartsPlayback(t *testing.T) {
	ts := newTestSession(t, testConfig(), nil)
	ts.res.searchHit["daft punk around the world"] = track.Track{
		Title: "Around the World", Artist: "Daft Punk", URL: "https://yt/a",
	}
	ts.res.streams["https://yt/a"] = &resolver.StreamHandle{SourceURL: "https://cdn/a", Duration: 4 * time.Minute}

	got, code, err := ts.m.Request(context.Background(), "alice", "daft punk around the world")
	require.NoError(t, err)
	assert.Empty(t, code)
	require.NotNil(t, got)
	assert.Equal(t, "https://yt/a", got.URL)

	assert.Eventually(t, func() bool {
		current, ok := ts.m.Playback().GetCurrentTrack()
		return ok && current.Track.URL == "https://yt/a"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		for _, i := range ts.store.recorded() {
			if i.kind == track.InteractionRequest && i.userID == "alice" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "request interaction is recorded")
}

func TestManager_RequestNotFound(t *testing.T) {
	ts := newTestSession(t, testConfig(), nil)

	got, code, err := ts.m.Request(context.Background(), "alice", "gibberish")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, "track_not_found", code)
}

func TestManager_AutoplayFillsGap(t *testing.T) {
	ts := newTestSession(t, testConfig(), nil)
	ts.alloc.slots = []track.Slot{
		{Track: track.Track{Title: "Pick One", URL: "https://yt/b1", Duration: 3 * time.Minute},
			UserID: "alice", Tier: track.TierComfort, Reason: "From your likes (score 5.0)"},
		{Track: track.Track{Title: "Pick Two", URL: "https://yt/b2", Duration: 3 * time.Minute},
			UserID: "alice", Tier: track.TierAdjacent, Reason: "Same artist as 'Pick One'"},
	}
	ts.res.streams["https://yt/b1"] = &resolver.StreamHandle{SourceURL: "https://cdn/b1", Duration: 3 * time.Minute}
	ts.res.streams["https://yt/b2"] = &resolver.StreamHandle{SourceURL: "https://cdn/b2", Duration: 3 * time.Minute}

	ts.m.OnListenerJoin("alice")
	require.Eventually(t, func() bool {
		return len(ts.m.GetStatus().Upcoming) > 0
	}, 2*time.Second, 10*time.Millisecond, "join triggers a buffer refill")

	// Idle with a filled buffer: kicking autoplay starts the first candidate
	ts.m.SetAutoplay(true)

	assert.Eventually(t, func() bool {
		current, ok := ts.m.Playback().GetCurrentTrack()
		return ok && current.Track.URL == "https://yt/b1"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		for _, n := range ts.notes.byType(notification.TypeNowPlaying) {
			if n.Reason == "From your likes (score 5.0)" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "the pick reason is surfaced to listeners")

	assert.Eventually(t, func() bool {
		for _, url := range ts.store.playedHistory() {
			if url == "https://yt/b1" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "played tracks land in the history")
}

func TestManager_DiscardsOverLimitAfterResolution(t *testing.T) {
	ts := newTestSession(t, testConfig(), nil)
	ts.m.SetMaxDuration(2 * time.Minute)

	// First candidate's duration is only known after stream resolution
	ts.alloc.slots = []track.Slot{
		{Track: track.Track{Title: "Long Mix", URL: "https://yt/c1"}, UserID: "alice", Tier: track.TierWildcard},
		{Track: track.Track{Title: "Radio Edit", URL: "https://yt/c2"}, UserID: "alice", Tier: track.TierWildcard},
	}
	ts.res.streams["https://yt/c1"] = &resolver.StreamHandle{SourceURL: "https://cdn/c1", Duration: 3 * time.Minute}
	ts.res.streams["https://yt/c2"] = &resolver.StreamHandle{SourceURL: "https://cdn/c2", Duration: 90 * time.Second}

	ts.m.OnListenerJoin("alice")
	require.Eventually(t, func() bool {
		return len(ts.m.GetStatus().Upcoming) > 0
	}, 2*time.Second, 10*time.Millisecond)

	ts.m.SetAutoplay(true)

	assert.Eventually(t, func() bool {
		current, ok := ts.m.Playback().GetCurrentTrack()
		return ok && current.Track.URL == "https://yt/c2"
	}, 2*time.Second, 10*time.Millisecond, "over-limit candidate is discarded, next one plays")
}

func TestManager_ExplicitRequestBeatsAutoplay(t *testing.T) {
	ts := newTestSession(t, testConfig(), nil)
	ts.alloc.slots = []track.Slot{
		{Track: track.Track{Title: "Autoplay Pick", URL: "https://yt/auto", Duration: 3 * time.Minute}, UserID: "alice"},
	}
	ts.res.streams["https://yt/auto"] = &resolver.StreamHandle{SourceURL: "https://cdn/auto", Duration: 3 * time.Minute}
	ts.res.searchHit["first"] = track.Track{Title: "First", URL: "https://yt/1"}
	ts.res.searchHit["second"] = track.Track{Title: "Second", URL: "https://yt/2"}
	ts.res.streams["https://yt/1"] = &resolver.StreamHandle{SourceURL: "https://cdn/1"}
	ts.res.streams["https://yt/2"] = &resolver.StreamHandle{SourceURL: "https://cdn/2"}

	ts.m.OnListenerJoin("alice")
	require.Eventually(t, func() bool {
		return len(ts.m.GetStatus().Upcoming) > 0
	}, 2*time.Second, 10*time.Millisecond)

	_, _, err := ts.m.Request(context.Background(), "alice", "first")
	require.NoError(t, err)
	_, _, err = ts.m.Request(context.Background(), "alice", "second")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, ok := ts.m.Playback().GetCurrentTrack()
		return ok && current.Track.URL == "https://yt/1"
	}, 2*time.Second, 10*time.Millisecond)

	ts.m.Playback().OnTrackComplete()

	assert.Eventually(t, func() bool {
		current, ok := ts.m.Playback().GetCurrentTrack()
		return ok && current.Track.URL == "https://yt/2"
	}, 2*time.Second, 10*time.Millisecond, "the queued request plays before any autoplay candidate")

	ts.m.Playback().OnTrackComplete()

	assert.Eventually(t, func() bool {
		current, ok := ts.m.Playback().GetCurrentTrack()
		return ok && current.Track.URL == "https://yt/auto"
	}, 2*time.Second, 10*time.Millisecond, "autoplay takes over once the queue is empty")
}

func TestManager_RequestOverLimitAfterResolution(t *testing.T) {
	ts := newTestSession(t, testConfig(), nil)
	ts.m.SetAutoplay(false)
	ts.m.SetMaxDuration(10 * time.Minute)

	// Search metadata understates the duration, only stream
	// resolution reveals the real length
	ts.res.searchHit["sleep mix"] = track.Track{Title: "Sleep Mix", URL: "https://yt/mix", Duration: 5 * time.Minute}
	ts.res.searchHit["short"] = track.Track{Title: "Short", URL: "https://yt/short", Duration: 3 * time.Minute}
	ts.res.streams["https://yt/mix"] = &resolver.StreamHandle{SourceURL: "https://cdn/mix", Duration: 2 * time.Hour}
	ts.res.streams["https://yt/short"] = &resolver.StreamHandle{SourceURL: "https://cdn/short", Duration: 3 * time.Minute}

	_, code, err := ts.m.Request(context.Background(), "alice", "sleep mix")
	require.NoError(t, err)
	assert.Empty(t, code)
	_, _, err = ts.m.Request(context.Background(), "alice", "short")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		current, ok := ts.m.Playback().GetCurrentTrack()
		return ok && current.Track.URL == "https://yt/short"
	}, 2*time.Second, 10*time.Millisecond, "the over-limit request is dropped after resolution")

	assert.Contains(t, ts.res.resolvedURLs(), "https://yt/mix",
		"the request went through stream resolution before the re-check")
	assert.NotContains(t, ts.store.playedHistory(), "https://yt/mix")
}

func TestManager_PrefetchRefillsEmptyBuffer(t *testing.T) {
	ts := newTestSession(t, testConfig(), nil)
	ts.res.searchHit["opener"] = track.Track{Title: "Opener", URL: "https://yt/open"}
	ts.res.streams["https://yt/open"] = &resolver.StreamHandle{SourceURL: "https://cdn/open"}
	ts.res.streams["https://yt/d1"] = &resolver.StreamHandle{SourceURL: "https://cdn/d1", Duration: 3 * time.Minute}
	ts.res.streams["https://yt/d2"] = &resolver.StreamHandle{SourceURL: "https://cdn/d2", Duration: 3 * time.Minute}

	// Discovery has nothing yet, the join leaves the buffers empty
	ts.m.OnListenerJoin("alice")
	require.Eventually(t, func() bool {
		return ts.alloc.callCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Empty(t, ts.m.GetStatus().Upcoming)

	ts.alloc.setSlots([]track.Slot{
		{Track: track.Track{Title: "Deep Cut One", URL: "https://yt/d1", Duration: 3 * time.Minute}, UserID: "alice"},
		{Track: track.Track{Title: "Deep Cut Two", URL: "https://yt/d2", Duration: 3 * time.Minute}, UserID: "alice"},
	})

	_, _, err := ts.m.Request(context.Background(), "alice", "opener")
	require.NoError(t, err)

	// With the request playing and nothing else queued, the prefetcher
	// refills the buffers and warms the new head
	require.Eventually(t, func() bool {
		current, ok := ts.m.Playback().GetCurrentTrack()
		return ok && current.Track.URL == "https://yt/open"
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(ts.m.GetStatus().Upcoming) > 0
	}, 2*time.Second, 10*time.Millisecond, "an empty buffer triggers a refill")

	assert.Eventually(t, func() bool {
		upcoming := ts.m.GetStatus().Upcoming
		if len(upcoming) == 0 {
			return false
		}
		for _, url := range ts.res.resolvedURLs() {
			if url == upcoming[0].Track.URL {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "the refilled head is prefetched")
}

func TestManager_PersistentSessionIdlesWhenEmpty(t *testing.T) {
	ts := newTestSession(t, testConfig(), nil)
	ts.m.SetAutoplay(false)
	ts.res.searchHit["only"] = track.Track{Title: "Only", URL: "https://yt/only"}
	ts.res.streams["https://yt/only"] = &resolver.StreamHandle{SourceURL: "https://cdn/only"}

	_, _, err := ts.m.Request(context.Background(), "alice", "only")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := ts.m.Playback().GetCurrentTrack()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	ts.m.Playback().OnTrackComplete()

	assert.Eventually(t, func() bool {
		return ts.m.Playback().GetState() == playback.StateIdle
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		return len(ts.notes.byType(notification.TypeSessionIdle)) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_NonPersistentSessionTerminates(t *testing.T) {
	cfg := testConfig()
	cfg.Playback.PersistentMode = false

	terminated := make(chan string, 1)
	ts := newTestSession(t, cfg, func(id string) { terminated <- id })
	ts.m.SetAutoplay(false)
	ts.res.searchHit["only"] = track.Track{Title: "Only", URL: "https://yt/only"}
	ts.res.streams["https://yt/only"] = &resolver.StreamHandle{SourceURL: "https://cdn/only"}

	_, _, err := ts.m.Request(context.Background(), "alice", "only")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := ts.m.Playback().GetCurrentTrack()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	ts.m.Playback().OnTrackComplete()

	select {
	case id := <-terminated:
		assert.Equal(t, "guild-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
	}
}

func TestManager_ChannelStatusPushed(t *testing.T) {
	cfg := testConfig()
	cfg.Playback.ChannelStatus = true
	ts := newTestSession(t, cfg, nil)
	ts.m.SetAutoplay(false)
	ts.res.searchHit["nightcall"] = track.Track{Title: "Nightcall", Artist: "Kavinsky", URL: "https://yt/n"}
	ts.res.streams["https://yt/n"] = &resolver.StreamHandle{SourceURL: "https://cdn/n"}

	_, _, err := ts.m.Request(context.Background(), "alice", "nightcall")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, n := range ts.notes.byType(notification.TypeChannelStatus) {
			if strings.Contains(n.StatusText, "Kavinsky") && strings.Contains(n.StatusText, "Nightcall") {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "track start pushes a channel status")

	ts.m.Playback().OnTrackComplete()

	assert.Eventually(t, func() bool {
		statuses := ts.notes.byType(notification.TypeChannelStatus)
		return len(statuses) >= 2 && statuses[len(statuses)-1].StatusText == ""
	}, 2*time.Second, 10*time.Millisecond, "going idle clears the status")
}

func TestManager_ChannelStatusDisabledByDefault(t *testing.T) {
	ts := newTestSession(t, testConfig(), nil)
	ts.m.SetAutoplay(false)
	ts.res.searchHit["song"] = track.Track{Title: "Song", URL: "https://yt/cs"}
	ts.res.streams["https://yt/cs"] = &resolver.StreamHandle{SourceURL: "https://cdn/cs"}

	_, _, err := ts.m.Request(context.Background(), "alice", "song")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(ts.notes.byType(notification.TypeNowPlaying)) > 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, ts.notes.byType(notification.TypeChannelStatus))
}

func TestFormatChannelStatus(t *testing.T) {
	tests := []struct {
		name     string
		track    track.Track
		expected string
	}{
		{
			name:     "artist and title",
			track:    track.Track{Title: "Nightcall", Artist: "Kavinsky"},
			expected: "\U0001F3B6 Kavinsky - Nightcall",
		},
		{
			name:     "artist embedded in title",
			track:    track.Track{Title: "Kavinsky - Nightcall", Artist: "Kavinsky"},
			expected: "\U0001F3B6 Kavinsky - Nightcall",
		},
		{
			name:     "no artist",
			track:    track.Track{Title: "Nightcall"},
			expected: "\U0001F3B6 Nightcall",
		},
		{
			name:     "empty track",
			track:    track.Track{},
			expected: "\U0001F3B6 Unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatChannelStatus(tt.track))
		})
	}

	long := formatChannelStatus(track.Track{Title: strings.Repeat("a", 200)})
	assert.Len(t, []rune(long), 80, "status line is truncated")
}

func TestManager_ListenerLeaveEvictsSlots(t *testing.T) {
	ts := newTestSession(t, testConfig(), nil)
	ts.alloc.slots = []track.Slot{
		{Track: track.Track{Title: "A", URL: "https://yt/a"}, UserID: "alice"},
		{Track: track.Track{Title: "B", URL: "https://yt/b"}, UserID: "alice"},
	}

	ts.m.OnListenerJoin("alice")
	require.Eventually(t, func() bool {
		return len(ts.m.GetStatus().Upcoming) > 0
	}, 2*time.Second, 10*time.Millisecond)

	ts.m.OnListenerLeave("alice")
	assert.Empty(t, ts.m.GetStatus().Upcoming)
	assert.Equal(t, 0, ts.m.ListenerCount())
}

func TestManager_SkipRecordsInteraction(t *testing.T) {
	ts := newTestSession(t, testConfig(), nil)
	ts.res.searchHit["song"] = track.Track{Title: "Song", URL: "https://yt/s"}
	ts.res.streams["https://yt/s"] = &resolver.StreamHandle{SourceURL: "https://cdn/s"}

	_, _, err := ts.m.Request(context.Background(), "alice", "song")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := ts.m.Playback().GetCurrentTrack()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ts.m.Skip(context.Background(), "bob"))

	assert.Eventually(t, func() bool {
		for _, i := range ts.store.recorded() {
			if i.kind == track.InteractionSkip && i.userID == "bob" && i.url == "https://yt/s" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_RecordFeedback(t *testing.T) {
	ts := newTestSession(t, testConfig(), nil)

	err := ts.m.RecordFeedback(context.Background(), "alice", track.InteractionLike)
	assert.ErrorIs(t, err, ErrNoCurrentTrack)

	ts.res.searchHit["song"] = track.Track{Title: "Song", URL: "https://yt/s"}
	ts.res.addStream("https://yt/s", &resolver.StreamHandle{SourceURL: "https://cdn/s"})
	_, _, err = ts.m.Request(context.Background(), "alice", "song")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, ok := ts.m.Playback().GetCurrentTrack()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, ts.m.RecordFeedback(context.Background(), "alice", track.InteractionLike))

	var found bool
	for _, i := range ts.store.recorded() {
		if i.kind == track.InteractionLike && i.userID == "alice" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestManager_RestoresPersistedSettings(t *testing.T) {
	st := newFakeStore()
	st.settings["guild-1"] = store.SessionSettings{
		Volume:             0.8,
		Autoplay:           false,
		LoopMode:           "queue",
		MaxDurationSeconds: 240,
		Persistent:         true,
	}
	res := &fakeResolver{searchHit: map[string]track.Track{}, streams: map[string]*resolver.StreamHandle{}}
	notifier := notification.NewManager()

	m := NewManager("guild-1", Deps{
		Config:    testConfig(),
		Store:     st,
		Resolver:  res,
		Allocator: &fakeAllocator{},
		Mood:      fakeMood{},
		Notifier:  notifier,
	})
	defer m.Close()

	assert.Eventually(t, func() bool {
		return !m.AutoplayEnabled() &&
			m.MaxDuration() == 4*time.Minute &&
			m.Playback().GetLoopMode() == playback.LoopQueue &&
			m.Playback().GetVolume() == 0.8
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_RequestPlaylist(t *testing.T) {
	ts := newTestSession(t, testConfig(), nil)
	ts.res.playlist = []track.Track{
		{Title: "One", URL: "https://yt/p1"},
		{Title: "Two", URL: "https://yt/p2"},
		{Title: "Three", URL: "https://yt/p3"},
	}
	ts.res.streams["https://yt/p1"] = &resolver.StreamHandle{SourceURL: "https://cdn/p1"}

	n, err := ts.m.RequestPlaylist(context.Background(), "alice", "https://yt/playlist", 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Eventually(t, func() bool {
		current, ok := ts.m.Playback().GetCurrentTrack()
		return ok && current.Track.URL == "https://yt/p1"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 2, ts.m.Playback().GetQueueSize())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	assert.True(t, r.Join("alice"))
	assert.False(t, r.Join("alice"), "joining twice is a no-op")
	assert.True(t, r.Join("bob"))
	assert.Equal(t, 2, r.Count())
	assert.True(t, r.Contains("alice"))

	ids := r.IDs()
	assert.ElementsMatch(t, []string{"alice", "bob"}, ids)

	assert.True(t, r.Leave("alice"))
	assert.False(t, r.Leave("alice"))
	assert.False(t, r.Contains("alice"))
	assert.Equal(t, 1, r.Count())
}
