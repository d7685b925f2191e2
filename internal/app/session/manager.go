// Package session ties playback, discovery and the autoplay buffers
// together into one per-session engine.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/vexolabs/autodj/internal/app/autoplay"
	"github.com/vexolabs/autodj/internal/app/filter"
	"github.com/vexolabs/autodj/internal/app/notification"
	"github.com/vexolabs/autodj/internal/app/playback"
	"github.com/vexolabs/autodj/internal/domain/track"
	"github.com/vexolabs/autodj/internal/infra/config"
	"github.com/vexolabs/autodj/internal/infra/resolver"
	"github.com/vexolabs/autodj/internal/infra/store"
)

var ErrNoCurrentTrack = errors.New("no track is playing")

// Store is the persistence surface the session engine needs.
type Store interface {
	RecordInteraction(ctx context.Context, userID string, t track.Track, kind track.InteractionKind) error
	AddHistory(ctx context.Context, sessionID string, t track.Track) error
	AddPoolTrack(ctx context.Context, e track.PoolEntry) error
	IsRecentlyPlayed(ctx context.Context, sessionID, url string, within time.Duration) (bool, error)
	LoadSessionSettings(ctx context.Context, sessionID string) (store.SessionSettings, bool, error)
	SaveSessionSettings(ctx context.Context, sessionID string, settings store.SessionSettings) error
	ReplaceSessionSlots(ctx context.Context, sessionID string, visible, hidden []track.Slot) error
}

// Resolver searches and resolves tracks and playlists.
type Resolver interface {
	Search(ctx context.Context, query string) (*track.Track, error)
	ResolveStream(ctx context.Context, url string) (*resolver.StreamHandle, error)
	ExpandPlaylist(ctx context.Context, url string, limit int, shuffle bool) ([]track.Track, error)
}

// Deps are the shared dependencies a session manager is built from.
type Deps struct {
	Config      *config.Config
	Store       Store
	Resolver    Resolver
	Allocator   autoplay.Allocator
	Mood        autoplay.MoodScorer
	Notifier    *notification.Manager
	OnTerminate func(sessionID string)
}

// Manager runs one playback session.
type Manager struct {
	mu sync.RWMutex

	sessionID string
	config    *config.Config

	// Components
	store     Store
	resolver  Resolver
	playback  *playback.Controller
	buffers   *autoplay.Manager
	prefetch  *playback.Prefetcher
	listeners *Registry
	notifier  *notification.Manager
	filters   *filter.Chain

	// Per-session settings, persisted across restarts
	autoplayEnabled bool
	maxDuration     time.Duration
	persistent      bool

	// Why the engine picked the track now starting (autoplay only)
	currentReason string

	onTerminate func(sessionID string)

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates and starts a session manager.
func NewManager(sessionID string, deps Deps) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := deps.Config

	m := &Manager{
		sessionID: sessionID,
		config:    cfg,
		store:     deps.Store,
		resolver:  deps.Resolver,
		playback: playback.NewController(playback.Config{
			DefaultVolume: cfg.Playback.DefaultVolume,
		}),
		prefetch:  playback.NewPrefetcher(deps.Resolver),
		listeners: NewRegistry(),
		notifier:  deps.Notifier,
		filters:   filter.NewChain(),

		autoplayEnabled: true,
		maxDuration:     time.Duration(cfg.Playback.MaxDurationSeconds) * time.Second,
		persistent:      cfg.Playback.PersistentMode,

		onTerminate: deps.OnTerminate,

		ctx:    ctx,
		cancel: cancel,
	}

	m.buffers = autoplay.NewManager(deps.Allocator, deps.Mood, deps.Resolver, deps.Store, autoplay.Config{
		VisibleSize:      cfg.Autoplay.VisibleSize,
		HiddenSize:       cfg.Autoplay.HiddenSize,
		RefillInterval:   time.Duration(cfg.Autoplay.RefillIntervalSec) * time.Second,
		FallbackPlaylist: cfg.Autoplay.FallbackPlaylist,
		DedupWindow:      time.Duration(cfg.Discovery.DedupMinutes) * time.Minute,
	})

	m.setupFilters()

	go m.loadSettings()
	go m.playbackLoop()
	go m.refillLoop()

	return m
}

// setupFilters initializes the filter chain.
func (m *Manager) setupFilters() {
	cfg := m.config

	if cfg.IsFilterEnabled("duration_limit_filter") {
		f := filter.NewDurationLimitFilter()
		if err := f.ValidateConfig(cfg.FilterSettings("duration_limit_filter")); err != nil {
			zlog.Error().Msgf("failed to validate duration limit filter config: %v", err)
		} else {
			m.filters.Add(f)
		}
	}

	if cfg.IsFilterEnabled("recently_played_filter") {
		f := filter.NewRecentlyPlayedFilter(m.store)
		if err := f.ValidateConfig(cfg.FilterSettings("recently_played_filter")); err != nil {
			zlog.Error().Msgf("failed to validate recently played filter config: %v", err)
		} else {
			m.filters.Add(f)
		}
	}

	if cfg.IsFilterEnabled("duplicate_track_filter") {
		m.filters.Add(filter.NewDuplicateTrackFilter(queueView{m}))
	}
}

// queueView exposes everything already queued or buffered for the
// duplicate check: current track, request queue, history and both
// autoplay buffers.
type queueView struct {
	m *Manager
}

func (v queueView) AllTracks() []track.Track {
	qts := v.m.playback.GetAllTracks()
	out := make([]track.Track, 0, len(qts))
	for _, qt := range qts {
		out = append(out, qt.Track)
	}
	return append(out, v.m.buffers.AllTracks()...)
}

// loadSettings restores persisted session settings.
func (m *Manager) loadSettings() {
	ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()

	settings, found, err := m.store.LoadSessionSettings(ctx, m.sessionID)
	if err != nil {
		zlog.Warn().Msgf("failed to load settings for session %s: %v", m.sessionID, err)
		return
	}
	if !found {
		return
	}

	m.mu.Lock()
	m.autoplayEnabled = settings.Autoplay
	m.maxDuration = time.Duration(settings.MaxDurationSeconds) * time.Second
	m.persistent = settings.Persistent
	m.mu.Unlock()

	if settings.Volume > 0 {
		m.playback.SetVolume(settings.Volume)
	}
	m.playback.SetLoopMode(playback.ParseLoopMode(settings.LoopMode))

	zlog.Info().Msgf("restored settings for session %s: autoplay=%t loop=%s volume=%.2f",
		m.sessionID, settings.Autoplay, settings.LoopMode, settings.Volume)
}

// playbackLoop handles playback events.
func (m *Manager) playbackLoop() {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("playback loop panicked: %v", r)
			// Restart loop to prevent a zombie session
			zlog.Info().Msg("restarting playback loop")
			go m.playbackLoop()
		}
	}()

	for {
		select {
		case <-m.ctx.Done():
			return
		case event := <-m.playback.Events():
			m.handlePlaybackEvent(event)
		}
	}
}

// handlePlaybackEvent handles playback events.
func (m *Manager) handlePlaybackEvent(event playback.Event) {
	zlog.Debug().Msgf("playback event: session=%s type=%s", m.sessionID, event.Type)

	switch event.Type {
	case playback.EventTrackStarted:
		m.onTrackStarted(event.Track)

	case playback.EventTrackEnded:
		// Next track is played by the controller, or EventQueueEmpty follows

	case playback.EventTrackSkipped:
		if event.Track != nil {
			m.broadcast(&notification.Notification{
				Type:  notification.TypeTrackSkipped,
				Track: &event.Track.Track,
			})
		}

	case playback.EventStateChanged:
		m.broadcast(&notification.Notification{
			Type:  notification.TypeStateChanged,
			State: event.State.String(),
		})

	case playback.EventTrackDequeued:
		m.startQueued(event.Track)

	case playback.EventQueueDepleting:
		go m.topUp()

	case playback.EventQueueEmpty:
		m.advance()
	}
}

func (m *Manager) onTrackStarted(qt *track.QueuedTrack) {
	if qt == nil {
		return
	}

	reason := m.takeReason()

	go m.recordPlayed(qt.Track)

	m.broadcast(&notification.Notification{
		Type:   notification.TypeNowPlaying,
		Track:  &qt.Track,
		Reason: reason,
		State:  m.playback.GetState().String(),
	})
	m.pushChannelStatus(&qt.Track)

	// Nudge the hidden buffer toward what just started playing
	go m.buffers.MoodRefresh(m.ctx, m.sessionID, qt.Track)

	m.prefetchNext()
}

// pushChannelStatus broadcasts a voice channel status line for the
// current track, or clears it when t is nil. Best effort, gated by
// the channel_status config flag.
func (m *Manager) pushChannelStatus(t *track.Track) {
	if !m.config.Playback.ChannelStatus {
		return
	}
	var status string
	if t != nil {
		status = formatChannelStatus(*t)
	}
	m.broadcast(&notification.Notification{
		Type:       notification.TypeChannelStatus,
		Track:      t,
		StatusText: status,
	})
}

// formatChannelStatus builds the status line shown on the voice
// channel. The artist is omitted when the title already contains it.
func formatChannelStatus(t track.Track) string {
	title := t.Title
	if title == "" {
		title = "Unknown"
	}
	if t.Artist == "" || strings.Contains(strings.ToLower(title), strings.ToLower(t.Artist)) {
		return truncate("\U0001F3B6 "+title, 80)
	}
	return truncate("\U0001F3B6 "+t.Artist, 30) + " - " + truncate(title, 50)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// recordPlayed writes the track into the session history and the shared
// candidate pool.
func (m *Manager) recordPlayed(t track.Track) {
	ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()

	if err := m.store.AddHistory(ctx, m.sessionID, t); err != nil {
		zlog.Warn().Msgf("failed to record history: %v", err)
	}
	if t.URL == "" || t.Artist == "" {
		return
	}
	if err := m.store.AddPoolTrack(ctx, track.PoolEntry{
		Artist: t.Artist,
		Title:  t.Title,
		URL:    t.URL,
	}); err != nil {
		zlog.Warn().Msgf("failed to add track to candidate pool: %v", err)
	}
}

// prefetchNext warms the stream cache for whichever track plays next:
// the head of the request queue, or the head of the visible buffer.
// With both empty it triggers a refill and retries against the fresh
// buffer, so the first autoplay pick still starts warm.
func (m *Manager) prefetchNext() {
	if queued := m.playback.GetQueuedTracks(); len(queued) > 0 {
		m.prefetch.Prefetch(m.ctx, queued[0].Track.URL)
		return
	}
	if slot := m.buffers.Peek(); slot != nil {
		m.prefetch.Prefetch(m.ctx, slot.Track.URL)
		return
	}
	go func() {
		m.topUp()
		if slot := m.buffers.Peek(); slot != nil {
			m.prefetch.Prefetch(m.ctx, slot.Track.URL)
		}
	}()
}

// advance picks the next track once the request queue runs dry. Explicit
// requests always win; autoplay only feeds the gap.
func (m *Manager) advance() {
	// A request may have landed while the previous track was finishing
	if !m.playback.IsQueueEmpty() {
		if err := m.playback.PlayNext(); err != nil {
			zlog.Debug().Msgf("play from queue during advance: %v", err)
		}
		return
	}

	if !m.AutoplayEnabled() {
		m.settleIdle()
		return
	}

	maxDur := m.MaxDuration()
	refilled := false
	for {
		slot := m.buffers.PopNext(maxDur)
		if slot == nil {
			if refilled {
				m.settleIdle()
				return
			}
			refilled = true
			if err := m.buffers.Refill(m.ctx, m.sessionID, m.listeners.IDs(), maxDur); err != nil {
				zlog.Warn().Msgf("emergency refill failed for session %s: %v", m.sessionID, err)
			}
			continue
		}

		req := filter.TrackRequest{SessionID: m.sessionID, UserID: slot.UserID}
		result := m.filters.Execute(m.ctx, req, slot.Track, track.RequesterAutoplay)
		if !result.Accepted {
			zlog.Debug().Msgf("autoplay candidate rejected: track=%s code=%s", slot.Track.Title, result.Code)
			continue
		}

		if m.startSlot(*slot) {
			go m.mirrorSlots()
			return
		}
	}
}

// startSlot resolves a candidate and starts playing it. Returns false
// when the candidate should be discarded and the next one tried.
func (m *Manager) startSlot(slot track.Slot) bool {
	return m.startTrack(track.QueuedTrack{
		Track:       slot.Track,
		RequestedBy: slot.UserID,
		AddedAt:     time.Now(),
	}, slot.Reason)
}

// startQueued resolves and starts the request the controller just
// dequeued. A track that fails resolution or exceeds the duration
// limit is dropped and the controller falls through to the next
// request, or to autoplay via EventQueueEmpty.
func (m *Manager) startQueued(qt *track.QueuedTrack) {
	if qt == nil {
		return
	}
	if m.startTrack(*qt, "") {
		return
	}
	if err := m.playback.PlayNext(); err != nil && !errors.Is(err, playback.ErrQueueEmpty) {
		zlog.Debug().Msgf("play after dropped request: %v", err)
	}
}

// startTrack resolves a track's stream and starts playback. Every
// track passes through here, explicit request or autoplay candidate,
// so the duration limit is always re-checked against the resolved
// duration. Returns false when the track should be discarded.
func (m *Manager) startTrack(qt track.QueuedTrack, reason string) bool {
	ctx, cancel := context.WithTimeout(m.ctx, 30*time.Second)
	defer cancel()

	handle := m.prefetch.Take(qt.Track.URL)
	if handle == nil {
		h, err := m.resolver.ResolveStream(ctx, qt.Track.URL)
		if err != nil {
			zlog.Warn().Msgf("discarding unresolvable track '%s': %v", qt.Track.Title, err)
			return false
		}
		handle = h
	}

	// Resolution often fills in a duration search metadata lacked
	if handle.Duration > 0 {
		qt.Track.Duration = handle.Duration
	}
	if maxDur := m.MaxDuration(); maxDur > 0 && qt.Track.Duration > maxDur {
		zlog.Info().Msgf("discarding track '%s' after resolution (%s > %s)",
			qt.Track.Title, qt.Track.Duration, maxDur)
		return false
	}

	m.setReason(reason)
	m.playback.PlayTrack(qt)
	return true
}

// settleIdle decides what happens when nothing is left to play.
func (m *Manager) settleIdle() {
	m.pushChannelStatus(nil)
	if m.Persistent() {
		m.playback.GoIdle()
		m.broadcast(&notification.Notification{
			Type:  notification.TypeSessionIdle,
			State: playback.StateIdle.String(),
		})
		return
	}

	zlog.Info().Msgf("session %s ran out of tracks, terminating", m.sessionID)
	m.broadcast(&notification.Notification{Type: notification.TypeSessionEnded})
	if m.onTerminate != nil {
		go m.onTerminate(m.sessionID)
	}
}

// topUp refills the autoplay buffers up to the budget.
func (m *Manager) topUp() {
	if !m.AutoplayEnabled() || m.listeners.Count() == 0 {
		return
	}
	if err := m.buffers.Refill(m.ctx, m.sessionID, m.listeners.IDs(), m.MaxDuration()); err != nil {
		zlog.Warn().Msgf("refill failed for session %s: %v", m.sessionID, err)
		return
	}
	m.mirrorSlots()
}

// refillLoop periodically tops the buffers up.
func (m *Manager) refillLoop() {
	ticker := time.NewTicker(m.buffers.RefillInterval())
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.topUp()
		}
	}
}

// mirrorSlots persists the buffer contents so a restart can show the
// same upcoming tracks.
func (m *Manager) mirrorSlots() {
	ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()

	visible, hidden := m.buffers.Snapshot()
	if err := m.store.ReplaceSessionSlots(ctx, m.sessionID, visible, hidden); err != nil {
		zlog.Warn().Msgf("failed to mirror slots for session %s: %v", m.sessionID, err)
	}
}

// Request searches for a track and enqueues it for the listener.
// Returns the track and an empty code on success, or a non-empty reject
// code when a filter declined the request.
func (m *Manager) Request(ctx context.Context, userID, query string) (*track.Track, string, error) {
	t, err := m.resolver.Search(ctx, query)
	if errors.Is(err, resolver.ErrNotFound) {
		zlog.Warn().Msgf("track request rejected: user=%s query=%q code=track_not_found", userID, query)
		return nil, "track_not_found", nil
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "search failed")
	}

	req := filter.TrackRequest{SessionID: m.sessionID, UserID: userID}
	result := m.filters.Execute(ctx, req, *t, track.RequesterUser)
	zlog.Info().Msgf("track request: user=%s track=%s result=%t code=%s", userID, t.Title, result.Accepted, result.Code)
	if !result.Accepted {
		return nil, result.Code, nil
	}

	m.playback.Enqueue(track.QueuedTrack{
		Track:       *t,
		RequestedBy: userID,
		AddedAt:     time.Now(),
	})

	go m.recordInteraction(userID, *t, track.InteractionRequest)

	m.broadcast(&notification.Notification{
		Type:  notification.TypeQueueUpdated,
		Track: t,
	})

	if m.playback.GetState() == playback.StateIdle {
		go func() {
			if err := m.playback.Play(); err != nil {
				zlog.Debug().Msgf("play after enqueue: %v", err)
			}
		}()
	}

	return t, "", nil
}

// RequestPlaylist expands a playlist URL and enqueues the accepted
// tracks. Returns how many were enqueued.
func (m *Manager) RequestPlaylist(ctx context.Context, userID, url string, limit int) (int, error) {
	if limit <= 0 {
		limit = 50
	}
	tracks, err := m.resolver.ExpandPlaylist(ctx, url, limit, false)
	if err != nil {
		return 0, errors.Wrap(err, "playlist expansion failed")
	}

	req := filter.TrackRequest{SessionID: m.sessionID, UserID: userID}
	var accepted []track.QueuedTrack
	for _, t := range tracks {
		result := m.filters.Execute(ctx, req, t, track.RequesterUser)
		if !result.Accepted {
			zlog.Debug().Msgf("playlist track rejected: track=%s code=%s", t.Title, result.Code)
			continue
		}
		accepted = append(accepted, track.QueuedTrack{
			Track:       t,
			RequestedBy: userID,
			AddedAt:     time.Now(),
		})
	}
	if len(accepted) == 0 {
		return 0, nil
	}

	m.playback.EnqueueMultiple(accepted)
	zlog.Info().Msgf("enqueued playlist: user=%s url=%s accepted=%d/%d", userID, url, len(accepted), len(tracks))

	m.broadcast(&notification.Notification{Type: notification.TypeQueueUpdated})

	if m.playback.GetState() == playback.StateIdle {
		go func() {
			if err := m.playback.Play(); err != nil {
				zlog.Debug().Msgf("play after playlist enqueue: %v", err)
			}
		}()
	}

	return len(accepted), nil
}

// Skip skips the current track, recording it as a skip interaction for
// the acting listener.
func (m *Manager) Skip(ctx context.Context, userID string) error {
	if qt, ok := m.playback.GetCurrentTrack(); ok && userID != "" {
		go m.recordInteraction(userID, qt.Track, track.InteractionSkip)
	}
	return m.playback.Skip()
}

// RecordFeedback records a like or dislike on the current track.
func (m *Manager) RecordFeedback(ctx context.Context, userID string, kind track.InteractionKind) error {
	qt, ok := m.playback.GetCurrentTrack()
	if !ok {
		return ErrNoCurrentTrack
	}
	if err := m.store.RecordInteraction(ctx, userID, qt.Track, kind); err != nil {
		return errors.Wrap(err, "failed to record interaction")
	}
	zlog.Info().Msgf("feedback recorded: user=%s track=%s kind=%s", userID, qt.Track.Title, kind)
	return nil
}

func (m *Manager) recordInteraction(userID string, t track.Track, kind track.InteractionKind) {
	ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()
	if err := m.store.RecordInteraction(ctx, userID, t, kind); err != nil {
		zlog.Warn().Msgf("failed to record %s interaction: %v", kind, err)
	}
}

// OnListenerJoin marks a listener present and tops the buffers up so
// their taste is represented.
func (m *Manager) OnListenerJoin(userID string) {
	if !m.listeners.Join(userID) {
		return
	}
	zlog.Info().Msgf("listener joined: session=%s user=%s count=%d", m.sessionID, userID, m.listeners.Count())
	go m.topUp()
}

// OnListenerLeave removes a listener and evicts their buffered slots.
func (m *Manager) OnListenerLeave(userID string) {
	if !m.listeners.Leave(userID) {
		return
	}
	removed := m.buffers.RemoveUserSlots(userID)
	zlog.Info().Msgf("listener left: session=%s user=%s evicted_slots=%d", m.sessionID, userID, removed)
	if removed > 0 {
		go m.mirrorSlots()
	}
}

// ListenerCount returns the number of present listeners.
func (m *Manager) ListenerCount() int {
	return m.listeners.Count()
}

// SetAutoplay enables or disables autoplay for this session.
func (m *Manager) SetAutoplay(enabled bool) {
	m.mu.Lock()
	m.autoplayEnabled = enabled
	m.mu.Unlock()

	go m.persistSettings()

	// Enabling autoplay on an idle session should start playing
	if enabled && m.playback.GetState() == playback.StateIdle {
		go m.advance()
	}
}

// AutoplayEnabled reports whether autoplay is on.
func (m *Manager) AutoplayEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.autoplayEnabled
}

// SetMaxDuration sets the track duration limit (0 = unlimited).
func (m *Manager) SetMaxDuration(d time.Duration) {
	m.mu.Lock()
	m.maxDuration = d
	m.mu.Unlock()
	go m.persistSettings()
}

// MaxDuration returns the track duration limit.
func (m *Manager) MaxDuration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxDuration
}

// SetPersistent controls whether the session stays alive when idle.
func (m *Manager) SetPersistent(persistent bool) {
	m.mu.Lock()
	m.persistent = persistent
	m.mu.Unlock()
	go m.persistSettings()
}

// Persistent reports whether the session stays alive when idle.
func (m *Manager) Persistent() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.persistent
}

// SetVolume sets the playback volume (0.0 to 1.0).
func (m *Manager) SetVolume(v float64) {
	m.playback.SetVolume(v)
	go m.persistSettings()
}

// SetLoopMode sets the loop mode from its string form.
func (m *Manager) SetLoopMode(mode string) {
	m.playback.SetLoopMode(playback.ParseLoopMode(mode))
	go m.persistSettings()
}

func (m *Manager) persistSettings() {
	ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()

	m.mu.RLock()
	settings := store.SessionSettings{
		Volume:             m.playback.GetVolume(),
		Autoplay:           m.autoplayEnabled,
		LoopMode:           m.playback.GetLoopMode().String(),
		MaxDurationSeconds: int(m.maxDuration.Seconds()),
		Persistent:         m.persistent,
	}
	m.mu.RUnlock()

	if err := m.store.SaveSessionSettings(ctx, m.sessionID, settings); err != nil {
		zlog.Warn().Msgf("failed to persist settings for session %s: %v", m.sessionID, err)
	}
}

// Play starts playback from the request queue, or kicks autoplay when
// the queue is empty.
func (m *Manager) Play() error {
	if m.playback.IsQueueEmpty() && m.playback.GetState() == playback.StateIdle {
		if !m.AutoplayEnabled() {
			return playback.ErrQueueEmpty
		}
		go m.advance()
		return nil
	}
	return m.playback.Play()
}

// Pause pauses playback.
func (m *Manager) Pause() error {
	return m.playback.Pause()
}

// Resume resumes paused playback.
func (m *Manager) Resume() error {
	return m.playback.Resume()
}

// Stop stops playback and clears the request queue.
func (m *Manager) Stop() error {
	m.playback.ClearQueue()
	m.pushChannelStatus(nil)
	return m.playback.Stop()
}

// Status represents a point-in-time view of the session.
type Status struct {
	SessionID     string
	State         playback.State
	Current       *track.QueuedTrack
	Remaining     time.Duration
	Queue         []track.QueuedTrack
	Upcoming      []track.Slot
	ListenerCount int
	Autoplay      bool
	LoopMode      playback.LoopMode
	Volume        float64
}

// GetStatus returns the current session status.
func (m *Manager) GetStatus() *Status {
	current, _ := m.playback.GetCurrentTrack()
	visible, _ := m.buffers.Snapshot()

	return &Status{
		SessionID:     m.sessionID,
		State:         m.playback.GetState(),
		Current:       current,
		Remaining:     m.playback.GetRemainingDuration(),
		Queue:         m.playback.GetQueuedTracks(),
		Upcoming:      visible,
		ListenerCount: m.listeners.Count(),
		Autoplay:      m.AutoplayEnabled(),
		LoopMode:      m.playback.GetLoopMode(),
		Volume:        m.playback.GetVolume(),
	}
}

// Playback exposes the underlying controller, mainly for status surfaces.
func (m *Manager) Playback() *playback.Controller {
	return m.playback
}

func (m *Manager) broadcast(n *notification.Notification) {
	n.SessionID = m.sessionID
	if err := m.notifier.Broadcast(n); err != nil {
		zlog.Error().Msgf("failed to broadcast %s: %v", n.Type, err)
	}
}

func (m *Manager) setReason(reason string) {
	m.mu.Lock()
	m.currentReason = reason
	m.mu.Unlock()
}

func (m *Manager) takeReason() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	reason := m.currentReason
	m.currentReason = ""
	return reason
}

// Close shuts the session down.
func (m *Manager) Close() {
	m.cancel()
	m.playback.Close()
	m.prefetch.Clear()
}
