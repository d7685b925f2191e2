package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vexolabs/autodj/internal/domain/track"
)

// Tracks with zero duration rely on OnTrackComplete, which keeps these
// tests free of wall-clock timers.
func queued(title, url string) track.QueuedTrack {
	return track.QueuedTrack{
		Track:       track.Track{Title: title, URL: url},
		RequestedBy: "u1",
		AddedAt:     time.Now(),
	}
}

func waitForEvent(t *testing.T, c *Controller, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-c.Events():
			if e.Type == want {
				return e
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

// startNext performs the session's half of the dequeue handshake: it
// waits for the controller to hand over the next request and starts it.
func startNext(t *testing.T, c *Controller) track.QueuedTrack {
	t.Helper()
	e := waitForEvent(t, c, EventTrackDequeued)
	require.NotNil(t, e.Track)
	c.PlayTrack(*e.Track)
	return *e.Track
}

func TestController_PlayFromQueue(t *testing.T) {
	c := NewController(Config{})
	defer c.Close()

	c.Enqueue(queued("First", "https://yt/1"))
	c.Enqueue(queued("Second", "https://yt/2"))

	require.NoError(t, c.Play())
	startNext(t, c)
	assert.Equal(t, StatePlaying, c.GetState())

	current, ok := c.GetCurrentTrack()
	require.True(t, ok)
	assert.Equal(t, "https://yt/1", current.Track.URL)
	assert.Equal(t, 1, c.GetQueueSize())

	e := waitForEvent(t, c, EventTrackStarted)
	assert.Equal(t, "https://yt/1", e.Track.Track.URL)
}

func TestController_DequeueAwaitsStart(t *testing.T) {
	c := NewController(Config{})
	defer c.Close()

	c.Enqueue(queued("First", "https://yt/1"))
	require.NoError(t, c.Play())

	// The dequeued request does not play until PlayTrack is called
	e := waitForEvent(t, c, EventTrackDequeued)
	require.NotNil(t, e.Track)
	assert.Equal(t, "https://yt/1", e.Track.Track.URL)
	assert.Equal(t, StateTransitioning, c.GetState())
	_, ok := c.GetCurrentTrack()
	assert.False(t, ok)

	// A second Play while mid-resolution is a no-op
	require.NoError(t, c.Play())
	assert.Equal(t, StateTransitioning, c.GetState())

	c.PlayTrack(*e.Track)
	assert.Equal(t, StatePlaying, c.GetState())
}

func TestController_PlayNextDropsUnplayable(t *testing.T) {
	c := NewController(Config{})
	defer c.Close()

	c.Enqueue(queued("Broken", "https://yt/broken"))
	c.Enqueue(queued("Good", "https://yt/good"))

	require.NoError(t, c.Play())
	e := waitForEvent(t, c, EventTrackDequeued)
	assert.Equal(t, "https://yt/broken", e.Track.Track.URL)

	// The session failed to resolve the first request and falls
	// through to the next one.
	require.NoError(t, c.PlayNext())
	e = waitForEvent(t, c, EventTrackDequeued)
	assert.Equal(t, "https://yt/good", e.Track.Track.URL)

	// Exhausting the queue hands over to candidate selection
	assert.ErrorIs(t, c.PlayNext(), ErrQueueEmpty)
	waitForEvent(t, c, EventQueueEmpty)
}

func TestController_CompleteAdvancesQueue(t *testing.T) {
	c := NewController(Config{})
	defer c.Close()

	c.Enqueue(queued("First", "https://yt/1"))
	c.Enqueue(queued("Second", "https://yt/2"))
	require.NoError(t, c.Play())
	startNext(t, c)

	c.OnTrackComplete()

	waitForEvent(t, c, EventTrackEnded)
	startNext(t, c)
	current, ok := c.GetCurrentTrack()
	require.True(t, ok)
	assert.Equal(t, "https://yt/2", current.Track.URL)

	played := c.GetPlayedTracks()
	require.Len(t, played, 1)
	assert.Equal(t, "https://yt/1", played[0].Track.URL)
}

func TestController_LoopTrackReplays(t *testing.T) {
	c := NewController(Config{})
	defer c.Close()

	c.Enqueue(queued("First", "https://yt/1"))
	c.Enqueue(queued("Second", "https://yt/2"))
	require.NoError(t, c.Play())
	startNext(t, c)
	c.SetLoopMode(LoopTrack)

	c.OnTrackComplete()

	current, ok := c.GetCurrentTrack()
	require.True(t, ok)
	assert.Equal(t, "https://yt/1", current.Track.URL, "loop track replays the finished track")
	assert.Equal(t, 1, c.GetQueueSize(), "queued requests stay put")
	assert.Equal(t, StatePlaying, c.GetState())
}

func TestController_LoopQueueReappends(t *testing.T) {
	c := NewController(Config{})
	defer c.Close()

	c.Enqueue(queued("Only", "https://yt/1"))
	require.NoError(t, c.Play())
	startNext(t, c)
	c.SetLoopMode(LoopQueue)

	c.OnTrackComplete()

	qt := startNext(t, c)
	assert.Equal(t, "https://yt/1", qt.Track.URL, "finished track cycles back through the queue")
	assert.Equal(t, 0, c.GetQueueSize())
}

func TestController_EmptyQueueHandsOver(t *testing.T) {
	c := NewController(Config{})
	defer c.Close()

	c.Enqueue(queued("Only", "https://yt/1"))
	require.NoError(t, c.Play())
	startNext(t, c)

	c.OnTrackComplete()

	waitForEvent(t, c, EventQueueEmpty)
	assert.Equal(t, StateTransitioning, c.GetState(),
		"natural track end with an empty queue waits for candidate selection")

	c.GoIdle()
	assert.Equal(t, StateIdle, c.GetState())
}

func TestController_Skip(t *testing.T) {
	c := NewController(Config{})
	defer c.Close()

	assert.ErrorIs(t, c.Skip(), ErrNoTrack)

	c.Enqueue(queued("First", "https://yt/1"))
	c.Enqueue(queued("Second", "https://yt/2"))
	require.NoError(t, c.Play())
	startNext(t, c)

	require.NoError(t, c.Skip())

	e := waitForEvent(t, c, EventTrackSkipped)
	assert.Equal(t, "https://yt/1", e.Track.Track.URL)

	startNext(t, c)
	current, ok := c.GetCurrentTrack()
	require.True(t, ok)
	assert.Equal(t, "https://yt/2", current.Track.URL)
}

func TestController_PlayTrackBypassesQueue(t *testing.T) {
	c := NewController(Config{})
	defer c.Close()

	c.Enqueue(queued("Queued", "https://yt/q"))
	c.PlayTrack(queued("Injected", "https://yt/injected"))

	current, ok := c.GetCurrentTrack()
	require.True(t, ok)
	assert.Equal(t, "https://yt/injected", current.Track.URL)
	assert.Equal(t, 1, c.GetQueueSize(), "request queue is untouched")
}

func TestController_PauseResume(t *testing.T) {
	c := NewController(Config{})
	defer c.Close()

	long := queued("Long", "https://yt/long")
	long.Track.Duration = time.Hour
	c.Enqueue(long)
	require.NoError(t, c.Play())
	startNext(t, c)

	require.NoError(t, c.Pause())
	assert.Equal(t, StatePaused, c.GetState())
	assert.ErrorIs(t, c.Pause(), ErrNotPlaying)

	require.NoError(t, c.Resume())
	assert.Equal(t, StatePlaying, c.GetState())
	assert.ErrorIs(t, c.Resume(), ErrNotPaused)

	remaining := c.GetRemainingDuration()
	assert.Greater(t, remaining, 50*time.Minute)
}

func TestController_Stop(t *testing.T) {
	c := NewController(Config{})
	defer c.Close()

	c.Enqueue(queued("First", "https://yt/1"))
	require.NoError(t, c.Play())
	startNext(t, c)

	require.NoError(t, c.Stop())
	assert.Equal(t, StateIdle, c.GetState())
	_, ok := c.GetCurrentTrack()
	assert.False(t, ok)
}

func TestController_VolumeClamped(t *testing.T) {
	c := NewController(Config{DefaultVolume: 0.5})
	defer c.Close()

	assert.Equal(t, 0.5, c.GetVolume())

	c.SetVolume(1.5)
	assert.Equal(t, 1.0, c.GetVolume())

	c.SetVolume(-0.2)
	assert.Equal(t, 0.0, c.GetVolume())
}

func TestController_IsInQueue(t *testing.T) {
	c := NewController(Config{})
	defer c.Close()

	c.Enqueue(queued("First", "https://yt/1"))
	c.Enqueue(queued("Second", "https://yt/2"))
	require.NoError(t, c.Play())
	startNext(t, c)

	assert.True(t, c.IsInQueue("https://yt/1"), "current track counts")
	assert.True(t, c.IsInQueue("https://yt/2"))
	assert.False(t, c.IsInQueue("https://yt/3"))
}

func TestController_EventAfterClose(t *testing.T) {
	c := NewController(Config{})

	c.PlayTrack(queued("Only", "https://yt/1"))
	c.Close()

	// A late timer callback racing Close must not panic on the
	// closed event channel.
	assert.NotPanics(t, func() {
		c.OnTrackComplete()
		c.GoIdle()
	})
}

func TestParseLoopMode(t *testing.T) {
	tests := []struct {
		input    string
		expected LoopMode
	}{
		{input: "off", expected: LoopOff},
		{input: "track", expected: LoopTrack},
		{input: "queue", expected: LoopQueue},
		{input: "bogus", expected: LoopOff},
		{input: "", expected: LoopOff},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ParseLoopMode(tt.input))
		if tt.input != "bogus" && tt.input != "" {
			assert.Equal(t, tt.input, tt.expected.String())
		}
	}
}
