package session

import (
	"sync"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/vexolabs/autodj/internal/app/autoplay"
	"github.com/vexolabs/autodj/internal/app/notification"
	"github.com/vexolabs/autodj/internal/infra/config"
)

// Engine owns all live sessions. Sessions are created lazily on first
// use and torn down when they terminate.
type Engine struct {
	mu       sync.Mutex
	sessions map[string]*Manager

	config    *config.Config
	store     Store
	resolver  Resolver
	allocator autoplay.Allocator
	mood      autoplay.MoodScorer
	notifier  *notification.Manager
}

// NewEngine creates the session engine.
func NewEngine(cfg *config.Config, st Store, res Resolver, allocator autoplay.Allocator, mood autoplay.MoodScorer) *Engine {
	return &Engine{
		sessions:  make(map[string]*Manager),
		config:    cfg,
		store:     st,
		resolver:  res,
		allocator: allocator,
		mood:      mood,
		notifier:  notification.NewManager(),
	}
}

// GetOrCreate returns the session for the given ID, creating it if needed.
func (e *Engine) GetOrCreate(sessionID string) *Manager {
	e.mu.Lock()
	defer e.mu.Unlock()

	if m, ok := e.sessions[sessionID]; ok {
		return m
	}

	m := NewManager(sessionID, Deps{
		Config:      e.config,
		Store:       e.store,
		Resolver:    e.resolver,
		Allocator:   e.allocator,
		Mood:        e.mood,
		Notifier:    e.notifier,
		OnTerminate: e.Remove,
	})
	e.sessions[sessionID] = m
	zlog.Info().Msgf("session created: session_id=%s total=%d", sessionID, len(e.sessions))
	return m
}

// Get returns an existing session. It never creates one, a terminated
// session stays gone until something explicitly starts a new one.
func (e *Engine) Get(sessionID string) (*Manager, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.sessions[sessionID]
	return m, ok
}

// Remove tears a session down and forgets it.
func (e *Engine) Remove(sessionID string) {
	e.mu.Lock()
	m, ok := e.sessions[sessionID]
	if ok {
		delete(e.sessions, sessionID)
	}
	e.mu.Unlock()

	if !ok {
		return
	}
	m.Close()
	zlog.Info().Msgf("session removed: session_id=%s", sessionID)
}

// Count returns the number of live sessions.
func (e *Engine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

// Notifier returns the shared notification manager.
func (e *Engine) Notifier() *notification.Manager {
	return e.notifier
}

// Close shuts every session down.
func (e *Engine) Close() {
	e.mu.Lock()
	sessions := make([]*Manager, 0, len(e.sessions))
	for _, m := range e.sessions {
		sessions = append(sessions, m)
	}
	e.sessions = make(map[string]*Manager)
	e.mu.Unlock()

	for _, m := range sessions {
		m.Close()
	}
	e.notifier.Close()

	// Give in-flight broadcasts a moment to drain
	time.Sleep(100 * time.Millisecond)
}
