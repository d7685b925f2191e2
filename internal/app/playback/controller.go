package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/vexolabs/autodj/internal/domain/track"
)

// Errors
var (
	ErrNoTrack    = errors.New("no track playing")
	ErrQueueEmpty = errors.New("queue is empty")
	ErrNotPlaying = errors.New("not playing")
	ErrNotPaused  = errors.New("not paused")
)

// Config holds controller configuration.
type Config struct {
	DepletionThresholdSec int           // Threshold for queue depletion warning
	NotificationDelay     time.Duration // Base delay before emitting EventTrackStarted
	GapCorrection         time.Duration // Small delay to compensate for client drift
	DefaultVolume         float64       // Initial volume in [0, 1]
}

// Controller manages playback with an internal request queue.
// It owns the per-session state machine: the queue of explicit requests,
// the played history, the loop mode and the completion timers. Candidate
// selection beyond the request queue (autoplay) happens in the session,
// triggered by EventQueueEmpty.
type Controller struct {
	mu sync.RWMutex

	// Queue management
	queue  []track.QueuedTrack // Explicit requests waiting to be played
	played []track.QueuedTrack // Tracks that have been played (history)

	// Current track state
	currentTrack       *track.QueuedTrack
	state              State
	loopMode           LoopMode
	volume             float64
	startTime          time.Time
	scheduledStartTime time.Time // Scheduled start time (before delay)
	notificationTime   time.Time // When the notification is scheduled to be emitted
	pausedAt           *time.Time
	pausedElapsed      time.Duration

	// Timer
	timerCancel                  func() // Cancel function for track end timer
	depletionTimerCancel         func() // Cancel function for depletion timer
	notificationDelayTimerCancel func() // Cancel function for notification delay timer

	// Configuration
	config Config

	// Events
	eventCh chan Event
	closed  bool // Set under mu before eventCh is closed

	// Context
	ctx    context.Context
	cancel context.CancelFunc

	// Depletion tracking
	depletionNotified bool
}

// NewController creates a new playback controller.
func NewController(config Config) *Controller {
	if config.DefaultVolume <= 0 || config.DefaultVolume > 1 {
		config.DefaultVolume = 0.5
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		queue:   make([]track.QueuedTrack, 0),
		played:  make([]track.QueuedTrack, 0),
		state:   StateIdle,
		volume:  config.DefaultVolume,
		config:  config,
		eventCh: make(chan Event, 10),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Events returns the event channel.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// Play starts playback. If a track is currently playing, it continues.
// If no track is playing, it dequeues the next request and asks the
// session to resolve and start it via EventTrackDequeued.
func (c *Controller) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Already playing, or a dequeued request is mid-resolution
	if c.state == StatePlaying || c.state == StateTransitioning {
		return nil
	}

	// If paused, resume
	if c.state == StatePaused {
		return c.resumeLocked()
	}

	// If idle, start playing next track from queue
	// isContinuous=false because this is an explicit start
	return c.playNextLocked(false)
}

// PlayNext dequeues the next request regardless of the transitioning
// state. The session calls this to fall through to the next request
// after a dequeued track turned out to be unplayable.
func (c *Controller) PlayNext() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StatePlaying || c.state == StatePaused {
		return nil
	}
	return c.playNextLocked(true)
}

// PlayTrack starts playing the given track immediately, bypassing the
// request queue. Used by the session to inject the candidate the advance
// algorithm selected (autoplay, fallback, loop replay).
func (c *Controller) PlayTrack(qt track.QueuedTrack) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTimersLocked()
	if c.currentTrack != nil {
		c.played = append(c.played, *c.currentTrack)
	}
	c.playTrackLocked(qt)
}

// Pause pauses the current playback.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentTrack == nil {
		return ErrNoTrack
	}

	if c.state != StatePlaying {
		return ErrNotPlaying
	}

	c.stopTimersLocked()

	now := toWallTime(time.Now())

	// If still in delay period, add remaining delay to pausedElapsed
	if now.Before(c.startTime) {
		c.pausedElapsed += c.startTime.Sub(now)
		c.startTime = now
	}

	c.pausedAt = &now
	c.state = StatePaused

	// Send event
	c.sendEventLocked(Event{
		Type:  EventStateChanged,
		Track: c.currentTrack,
		State: c.state,
	})

	return nil
}

// Resume resumes paused playback.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.resumeLocked()
}

func (c *Controller) resumeLocked() error {
	if c.currentTrack == nil {
		return ErrNoTrack
	}

	if c.state != StatePaused {
		return ErrNotPaused
	}

	// Calculate elapsed time during pause
	if c.pausedAt != nil {
		c.pausedElapsed += time.Since(*c.pausedAt)
	}
	c.pausedAt = nil
	c.state = StatePlaying

	// Calculate remaining duration
	remaining := c.getRemainingDurationLocked()
	if c.currentTrack.Track.Duration > 0 && remaining <= 0 {
		// Track should have ended, trigger end
		c.onTrackEndLocked()
		return nil
	}

	now := toWallTime(time.Now())

	// If notification is still pending, reschedule the delay timer
	if !c.notificationTime.IsZero() && now.Before(c.notificationTime) {
		delayRemaining := c.notificationTime.Sub(now)

		c.notificationDelayTimerCancel = c.startWallClockTimer(delayRemaining, func() {
			c.mu.Lock()
			defer c.mu.Unlock()

			// Clear the cancel func reference as it's already fired/done
			c.notificationDelayTimerCancel = nil

			if c.currentTrack == nil {
				return
			}

			// Send event
			c.sendEventLocked(Event{
				Type:  EventTrackStarted,
				Track: c.currentTrack,
				State: c.state,
			})
		})
	}

	// Restart track timer
	if c.currentTrack.Track.Duration > 0 {
		c.startTrackTimer(remaining)
	}

	// Reschedule depletion check
	c.checkDepletionLocked()
	c.sendEventLocked(Event{
		Type:  EventStateChanged,
		Track: c.currentTrack,
		State: c.state,
	})

	return nil
}

// Skip skips the current track and plays the next one from the queue.
// An empty queue leaves the controller transitioning, the session's
// advance algorithm picks the follow-up.
func (c *Controller) Skip() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentTrack == nil {
		return ErrNoTrack
	}

	c.stopTimersLocked()

	skippedTrack := c.currentTrack
	c.played = append(c.played, *skippedTrack)
	c.currentTrack = nil
	c.state = StateIdle
	c.pausedAt = nil
	c.pausedElapsed = 0
	c.notificationTime = time.Time{}

	// Send skip event
	c.sendEventLocked(Event{
		Type:  EventTrackSkipped,
		Track: skippedTrack,
		State: c.state,
	})

	// Play next track
	// isContinuous=true so an empty queue hands over to autoplay
	return c.playNextLocked(true)
}

// Stop stops playback completely.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTimersLocked()

	c.currentTrack = nil
	c.state = StateIdle
	c.pausedAt = nil
	c.pausedElapsed = 0
	c.notificationTime = time.Time{}

	return nil
}

// GoIdle settles the controller into the idle state after the advance
// algorithm found nothing to play.
func (c *Controller) GoIdle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentTrack != nil {
		return
	}
	c.state = StateIdle
	c.sendEventLocked(Event{
		Type:  EventStateChanged,
		State: c.state,
	})
}

// OnTrackComplete reports that the audio subsystem finished the current
// track. Safe to call from any goroutine, the callback thread never
// touches session state directly.
func (c *Controller) OnTrackComplete() {
	c.onTrackEnd()
}

// SetLoopMode sets the loop mode.
func (c *Controller) SetLoopMode(mode LoopMode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loopMode = mode
}

// GetLoopMode returns the loop mode.
func (c *Controller) GetLoopMode() LoopMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loopMode
}

// SetVolume sets the volume, clamped to [0, 1].
func (c *Controller) SetVolume(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	c.volume = v
}

// GetVolume returns the current volume.
func (c *Controller) GetVolume() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.volume
}

// Enqueue adds a track to the end of the queue.
func (c *Controller) Enqueue(qt track.QueuedTrack) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue = append(c.queue, qt)
	c.depletionNotified = false // Reset depletion flag when track is added
	c.checkDepletionLocked()    // Reschedule depletion timer
}

// EnqueueMultiple adds multiple tracks to the end of the queue.
func (c *Controller) EnqueueMultiple(qts []track.QueuedTrack) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue = append(c.queue, qts...)
	c.depletionNotified = false // Reset depletion flag when tracks are added
	c.checkDepletionLocked()    // Reschedule depletion timer
}

// ClearQueue removes all tracks from the queue.
func (c *Controller) ClearQueue() []track.QueuedTrack {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.queue
	c.queue = make([]track.QueuedTrack, 0)
	return removed
}

// GetState returns the current playback state.
func (c *Controller) GetState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// GetCurrentTrack returns the currently playing track.
func (c *Controller) GetCurrentTrack() (*track.QueuedTrack, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.currentTrack == nil {
		return nil, false
	}
	return c.currentTrack, true
}

// GetRemainingDuration returns the remaining playback time.
func (c *Controller) GetRemainingDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.getRemainingDurationLocked()
}

func (c *Controller) getRemainingDurationLocked() time.Duration {
	if c.currentTrack == nil {
		return 0
	}

	now := toWallTime(time.Now())

	// If still before actual start time (delay period), return full duration
	if now.Before(c.startTime) {
		return c.currentTrack.Track.Duration
	}

	elapsed := now.Sub(c.startTime) - c.pausedElapsed
	if c.state == StatePaused && c.pausedAt != nil {
		elapsed -= now.Sub(*c.pausedAt)
	}

	remaining := c.currentTrack.Track.Duration - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// GetQueueSize returns the number of tracks in the queue.
func (c *Controller) GetQueueSize() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.queue)
}

// IsQueueEmpty returns true if the queue is empty.
func (c *Controller) IsQueueEmpty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.queue) == 0
}

// IsInQueue checks if a track URL is currently playing or queued.
func (c *Controller) IsInQueue(url string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Check current track
	if c.currentTrack != nil && c.currentTrack.Track.URL == url {
		return true
	}

	// Check queue
	for _, qt := range c.queue {
		if qt.Track.URL == url {
			return true
		}
	}

	return false
}

// GetQueuedTracks returns a copy of the queued tracks.
func (c *Controller) GetQueuedTracks() []track.QueuedTrack {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]track.QueuedTrack, len(c.queue))
	copy(result, c.queue)
	return result
}

// GetPlayedTracks returns a copy of the played tracks.
func (c *Controller) GetPlayedTracks() []track.QueuedTrack {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]track.QueuedTrack, len(c.played))
	copy(result, c.played)
	return result
}

// GetAllTracks returns all tracks (played + current + queued).
func (c *Controller) GetAllTracks() []track.QueuedTrack {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]track.QueuedTrack, 0, len(c.played)+len(c.queue)+1)
	result = append(result, c.played...)
	if c.currentTrack != nil {
		result = append(result, *c.currentTrack)
	}
	result = append(result, c.queue...)
	return result
}

// GetTotalDuration returns the total duration of all queued tracks.
func (c *Controller) GetTotalDuration() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var total time.Duration
	for _, qt := range c.queue {
		total += qt.Track.Duration
	}
	return total
}

// Close closes the controller and releases resources.
func (c *Controller) Close() {
	c.cancel()
	_ = c.Stop()

	// All sends happen in sendEventLocked under mu, so marking closed
	// and closing the channel under the same lock rules out a send on
	// the closed channel from a late timer callback.
	c.mu.Lock()
	c.closed = true
	close(c.eventCh)
	c.mu.Unlock()
}

// playNextLocked dequeues the next request. The track does not start
// here: the session resolves the stream, re-checks the duration limit
// and calls PlayTrack. Until then the controller is transitioning.
// isContinuous: true if this is a natural track advance, false if explicit start
// Must be called with lock held.
func (c *Controller) playNextLocked(isContinuous bool) error {
	if len(c.queue) == 0 {
		// A natural advance hands over to the session's candidate
		// selection, an explicit start with nothing queued goes idle.
		if isContinuous {
			c.state = StateTransitioning
		} else {
			c.state = StateIdle
		}
		c.sendEventLocked(Event{
			Type:  EventQueueEmpty,
			State: c.state,
		})
		return ErrQueueEmpty
	}

	// Dequeue next track and hand it to the session for resolution
	qt := c.queue[0]
	c.queue = c.queue[1:]
	c.state = StateTransitioning

	c.sendEventLocked(Event{
		Type:  EventTrackDequeued,
		Track: &qt,
		State: c.state,
	})
	return nil
}

// playTrackLocked sets qt as the current track and starts timers.
// Must be called with lock held.
func (c *Controller) playTrackLocked(qt track.QueuedTrack) {
	c.currentTrack = &qt
	c.pausedAt = nil
	c.pausedElapsed = 0
	c.state = StatePlaying

	notificationDelay := c.config.NotificationDelay
	gapCorrection := c.config.GapCorrection

	// Always set start times immediately, applying gap correction
	startBase := toWallTime(time.Now())
	if gapCorrection > 0 {
		startBase = startBase.Add(gapCorrection)
	}

	c.scheduledStartTime = startBase
	c.startTime = c.scheduledStartTime

	// Set timer for track end. Tracks with unknown duration rely on the
	// audio subsystem's completion callback instead.
	if qt.Track.Duration > 0 {
		c.startTrackTimer(qt.Track.Duration + gapCorrection)
	}

	// Check depletion
	c.checkDepletionLocked()

	if notificationDelay > 0 {
		c.notificationTime = c.scheduledStartTime.Add(notificationDelay)
		zlog.Debug().Msgf("playback: setting notification delay timer: delay=%v gap=%v track=%s duration=%v",
			notificationDelay, gapCorrection, qt.Track.Title, qt.Track.Duration)

		// The notification delay is relative to the startTime (which
		// already includes the gap), so wait for gap + delay.
		totalDelay := notificationDelay + gapCorrection
		c.notificationDelayTimerCancel = c.startWallClockTimer(totalDelay, func() {
			c.mu.Lock()
			defer c.mu.Unlock()

			// Clear reference
			c.notificationDelayTimerCancel = nil

			// Check if track was skipped or changed during delay
			if c.currentTrack == nil || c.currentTrack.Track.URL != qt.Track.URL {
				return
			}

			zlog.Debug().Msgf("playback: notification delay completed, emitting EventTrackStarted: track=%s", qt.Track.Title)

			// Send event
			c.sendEventLocked(Event{
				Type:  EventTrackStarted,
				Track: c.currentTrack,
				State: c.state,
			})
		})
	} else {
		zlog.Debug().Msgf("playback: starting immediately (no notification delay): track=%s duration=%v",
			qt.Track.Title, qt.Track.Duration)

		// Send event immediately
		c.sendEventLocked(Event{
			Type:  EventTrackStarted,
			Track: c.currentTrack,
			State: c.state,
		})
	}
}

// onTrackEnd is called when the current track ends.
func (c *Controller) onTrackEnd() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onTrackEndLocked()
}

func (c *Controller) onTrackEndLocked() {
	if c.currentTrack == nil {
		return
	}

	// Stop any running timer
	if c.timerCancel != nil {
		c.timerCancel()
		c.timerCancel = nil
	}

	endedTrack := c.currentTrack

	if !c.startTime.IsZero() {
		elapsed := toWallTime(time.Now()).Sub(c.startTime)
		zlog.Debug().Msgf("playback: track ended: track=%s expected_duration=%v actual_elapsed=%v",
			endedTrack.Track.Title, endedTrack.Track.Duration, elapsed)
	}

	// Add to played history
	c.played = append(c.played, *endedTrack)

	// Send track ended event
	c.sendEventLocked(Event{
		Type:  EventTrackEnded,
		Track: endedTrack,
		State: c.state,
	})

	// Loop track replays the same track with fresh timers
	if c.loopMode == LoopTrack {
		c.playTrackLocked(*endedTrack)
		return
	}

	// Loop queue re-appends the finished track to the tail
	if c.loopMode == LoopQueue {
		c.queue = append(c.queue, *endedTrack)
	}

	// Clear current track
	c.currentTrack = nil
	c.pausedAt = nil
	c.pausedElapsed = 0

	// Play next track
	// isContinuous=true because this is a natural track end
	_ = c.playNextLocked(true)
}

// checkDepletionLocked checks if queue is depleting and sends event.
// Must be called with lock held.
func (c *Controller) checkDepletionLocked() {
	if c.depletionNotified {
		return
	}

	// Cancel any existing depletion timer
	if c.depletionTimerCancel != nil {
		c.depletionTimerCancel()
		c.depletionTimerCancel = nil
	}

	// Calculate total remaining time: current track + all queued tracks
	var totalRemaining time.Duration

	// Add remaining time of current track
	if c.currentTrack != nil {
		totalRemaining = c.getRemainingDurationLocked()
	}

	// Add duration of all queued tracks
	for _, qt := range c.queue {
		totalRemaining += qt.Track.Duration
	}

	threshold := time.Duration(c.config.DepletionThresholdSec) * time.Second

	// Check if total remaining time is already below threshold
	if totalRemaining < threshold && totalRemaining > 0 {
		c.depletionNotified = true
		c.sendEventLocked(Event{
			Type:  EventQueueDepleting,
			Track: c.currentTrack,
			State: c.state,
		})
		return
	}

	// Schedule a timer to fire when remaining time drops below threshold
	if totalRemaining > threshold && c.state == StatePlaying {
		delay := totalRemaining - threshold
		c.depletionTimerCancel = c.startWallClockTimer(delay, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			// Clear reference
			c.depletionTimerCancel = nil

			c.checkDepletionLocked()
		})
	}
}

// sendEventLocked sends an event without blocking.
// Must be called with lock held.
func (c *Controller) sendEventLocked(e Event) {
	if c.closed {
		return
	}
	select {
	case c.eventCh <- e:
		// Successfully sent
	case <-c.ctx.Done():
		// Context cancelled, don't send
	default:
		// Channel full, drop event (shouldn't happen with buffered channel)
	}
}

// stopTimersLocked cancels all running timers.
// Must be called with lock held.
func (c *Controller) stopTimersLocked() {
	if c.timerCancel != nil {
		c.timerCancel()
		c.timerCancel = nil
	}
	if c.depletionTimerCancel != nil {
		c.depletionTimerCancel()
		c.depletionTimerCancel = nil
	}
	if c.notificationDelayTimerCancel != nil {
		c.notificationDelayTimerCancel()
		c.notificationDelayTimerCancel = nil
	}
}

// startTrackTimer starts the track end timer using wall clock.
func (c *Controller) startTrackTimer(duration time.Duration) {
	if c.timerCancel != nil {
		c.timerCancel()
	}
	c.timerCancel = c.startWallClockTimer(duration, func() {
		c.onTrackEnd()
	})
}

// startWallClockTimer starts a timer that triggers callback after duration, using wall clock.
// Returns a cancel function.
func (c *Controller) startWallClockTimer(duration time.Duration, callback func()) func() {
	// Create context for cancellation
	ctx, cancel := context.WithCancel(context.Background())

	// Use manual wall clock calculation to avoid monotonic clock drift issues
	fn := func() {
		endTime := toWallTime(time.Now()).Add(duration)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if toWallTime(time.Now()).After(endTime) {
					callback()
					return
				}
			}
		}
	}

	go fn()

	return cancel
}

// toWallTime returns the time with monotonic clock stripped.
// This ensures that time differences are calculated using wall clock time,
// avoiding issues where the system monotonic clock runs faster/slower than real time.
func toWallTime(t time.Time) time.Time {
	return time.Unix(t.Unix(), int64(t.Nanosecond()))
}
