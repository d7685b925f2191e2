// Package store provides the SQLite-backed preference and history store.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	zlog "github.com/rs/zerolog/log"

	"github.com/vexolabs/autodj/internal/domain/track"
)

const schema = `
CREATE TABLE IF NOT EXISTS user_preferences (
	user_id          TEXT NOT NULL,
	url              TEXT NOT NULL,
	artist           TEXT NOT NULL DEFAULT '',
	title            TEXT NOT NULL DEFAULT '',
	score            INTEGER NOT NULL DEFAULT 0,
	last_interaction TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, url)
);

CREATE TABLE IF NOT EXISTS playback_history (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	url        TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	played_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_session_url ON playback_history (session_id, url, played_at);

CREATE TABLE IF NOT EXISTS pool_tracks (
	url    TEXT PRIMARY KEY,
	artist TEXT NOT NULL DEFAULT '',
	title  TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS artist_genres (
	artist TEXT PRIMARY KEY,
	genre  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS session_settings (
	session_id           TEXT PRIMARY KEY,
	volume               REAL NOT NULL,
	autoplay             INTEGER NOT NULL,
	loop_mode            TEXT NOT NULL,
	max_duration_seconds INTEGER NOT NULL,
	persistent           INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS session_slots (
	session_id TEXT NOT NULL,
	hidden     INTEGER NOT NULL,
	position   INTEGER NOT NULL,
	user_id    TEXT NOT NULL,
	tier       TEXT NOT NULL,
	url        TEXT NOT NULL,
	title      TEXT NOT NULL DEFAULT '',
	artist     TEXT NOT NULL DEFAULT '',
	reason     TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (session_id, hidden, position)
);
`

// InteractionWeights maps interaction kinds to score deltas.
type InteractionWeights struct {
	Like    int
	Dislike int
	Skip    int
	Request int
}

// CollabCandidate is a track liked by users who share likes with the subject user.
type CollabCandidate struct {
	URL        string `db:"url"`
	Supporters int    `db:"supporters"`
}

// SessionSettings are the persisted per-session playback settings.
type SessionSettings struct {
	Volume             float64 `db:"volume"`
	Autoplay           bool    `db:"autoplay"`
	LoopMode           string  `db:"loop_mode"`
	MaxDurationSeconds int     `db:"max_duration_seconds"`
	Persistent         bool    `db:"persistent"`
}

// Store is the SQLite-backed preference store.
type Store struct {
	db      *sqlx.DB
	weights InteractionWeights
}

// Open opens (and initializes) the store at the given path.
// Use ":memory:" for an ephemeral store.
func Open(path string, weights InteractionWeights) (*Store, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize schema")
	}

	return &Store{db: db, weights: weights}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// delta returns the score delta for an interaction kind.
func (s *Store) delta(kind track.InteractionKind) int {
	switch kind {
	case track.InteractionLike:
		return s.weights.Like
	case track.InteractionDislike:
		return s.weights.Dislike
	case track.InteractionSkip:
		return s.weights.Skip
	case track.InteractionRequest:
		return s.weights.Request
	default:
		return 0
	}
}

// RecordInteraction accumulates a preference score delta for (user, track).
// Likes and requests also register the track in the shared pool.
func (s *Store) RecordInteraction(ctx context.Context, userID string, t track.Track, kind track.InteractionKind) error {
	delta := s.delta(kind)
	if delta == 0 {
		return nil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_preferences (user_id, url, artist, title, score, last_interaction)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, url) DO UPDATE SET
			score = score + excluded.score,
			artist = excluded.artist,
			title = excluded.title,
			last_interaction = excluded.last_interaction`,
		userID, t.URL, t.Artist, t.Title, delta, time.Now())
	if err != nil {
		return errors.Wrap(err, "failed to record interaction")
	}

	if kind == track.InteractionLike || kind == track.InteractionRequest {
		if err := s.AddPoolTrack(ctx, track.PoolEntry{Artist: t.Artist, Title: t.Title, URL: t.URL}); err != nil {
			zlog.Warn().Msgf("failed to add pool track: %v", err)
		}
	}
	return nil
}

// GetLikedTracks returns the user's positive-score preferences.
func (s *Store) GetLikedTracks(ctx context.Context, userID string) ([]track.Preference, error) {
	var rows []struct {
		Artist          string    `db:"artist"`
		Title           string    `db:"title"`
		URL             string    `db:"url"`
		Score           int       `db:"score"`
		LastInteraction time.Time `db:"last_interaction"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT artist, title, url, score, last_interaction
		FROM user_preferences
		WHERE user_id = ? AND score > 0
		ORDER BY score DESC`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get liked tracks")
	}

	prefs := make([]track.Preference, len(rows))
	for i, r := range rows {
		prefs[i] = track.Preference{
			Artist:          r.Artist,
			Title:           r.Title,
			URL:             r.URL,
			Score:           r.Score,
			LastInteraction: r.LastInteraction,
		}
	}
	return prefs, nil
}

// AddHistory records a played track for the session.
func (s *Store) AddHistory(ctx context.Context, sessionID string, t track.Track) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO playback_history (session_id, url, title, played_at)
		VALUES (?, ?, ?, ?)`,
		sessionID, t.URL, t.Title, time.Now())
	return errors.Wrap(err, "failed to add history")
}

// IsRecentlyPlayed reports whether the URL was played in this session within
// the given window. This is the single source of truth for dedup checks.
func (s *Store) IsRecentlyPlayed(ctx context.Context, sessionID, url string, within time.Duration) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM playback_history
		WHERE session_id = ? AND url = ? AND played_at > ?`,
		sessionID, url, time.Now().Add(-within))
	if err != nil {
		return false, errors.Wrap(err, "failed to check history")
	}
	return count > 0, nil
}

// GetLastPlayedTrack returns the most recently played track in the session,
// or nil when the session has no history.
func (s *Store) GetLastPlayedTrack(ctx context.Context, sessionID string) (*track.Track, error) {
	var row struct {
		URL    string `db:"url"`
		Title  string `db:"title"`
		Artist string `db:"artist"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT h.url, h.title, COALESCE(p.artist, '') AS artist
		FROM playback_history h
		LEFT JOIN pool_tracks p ON p.url = h.url
		WHERE h.session_id = ?
		ORDER BY h.played_at DESC, h.id DESC
		LIMIT 1`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get last played track")
	}
	return &track.Track{Title: row.Title, Artist: row.Artist, URL: row.URL}, nil
}

// AddPoolTrack registers a track in the shared pool. Dedup on URL.
func (s *Store) AddPoolTrack(ctx context.Context, e track.PoolEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pool_tracks (url, artist, title)
		VALUES (?, ?, ?)
		ON CONFLICT(url) DO NOTHING`,
		e.URL, e.Artist, e.Title)
	return errors.Wrap(err, "failed to add pool track")
}

// GetPoolTracks returns the full shared pool.
func (s *Store) GetPoolTracks(ctx context.Context) ([]track.PoolEntry, error) {
	var rows []struct {
		Artist string `db:"artist"`
		Title  string `db:"title"`
		URL    string `db:"url"`
	}
	err := s.db.SelectContext(ctx, &rows, `SELECT artist, title, url FROM pool_tracks`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get pool tracks")
	}

	entries := make([]track.PoolEntry, len(rows))
	for i, r := range rows {
		entries[i] = track.PoolEntry{Artist: r.Artist, Title: r.Title, URL: r.URL}
	}
	return entries, nil
}

// GetCollaborativeCandidates returns tracks liked by other users who share at
// least one like with the subject user, with supporter counts. Tracks already
// played in the given session are excluded.
func (s *Store) GetCollaborativeCandidates(ctx context.Context, sessionID, userID string, limit int) ([]CollabCandidate, error) {
	var candidates []CollabCandidate
	err := s.db.SelectContext(ctx, &candidates, `
		SELECT p2.url AS url, COUNT(DISTINCT p2.user_id) AS supporters
		FROM user_preferences p1
		JOIN user_preferences p2 ON p1.user_id = p2.user_id
		WHERE p1.user_id != ?
		  AND p1.score > 0 AND p2.score > 0
		  AND p1.url IN (SELECT url FROM user_preferences WHERE user_id = ? AND score > 0)
		  AND p2.url NOT IN (SELECT url FROM user_preferences WHERE user_id = ? AND score > 0)
		  AND p2.url NOT IN (SELECT url FROM playback_history WHERE session_id = ?)
		GROUP BY p2.url
		ORDER BY supporters DESC
		LIMIT ?`, userID, userID, userID, sessionID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get collaborative candidates")
	}
	return candidates, nil
}

// SetArtistGenre stores genre metadata for an artist.
func (s *Store) SetArtistGenre(ctx context.Context, artist, genre string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artist_genres (artist, genre)
		VALUES (?, ?)
		ON CONFLICT(artist) DO UPDATE SET genre = excluded.genre`,
		artist, genre)
	return errors.Wrap(err, "failed to set artist genre")
}

// GetGenreForArtist returns the genre for an artist, or "" when unknown.
func (s *Store) GetGenreForArtist(ctx context.Context, artist string) (string, error) {
	var genre string
	err := s.db.GetContext(ctx, &genre, `SELECT genre FROM artist_genres WHERE artist = ?`, artist)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to get genre")
	}
	return genre, nil
}

// LoadSessionSettings loads persisted settings for a session.
// The second return value is false when no settings were stored.
func (s *Store) LoadSessionSettings(ctx context.Context, sessionID string) (SessionSettings, bool, error) {
	var settings SessionSettings
	err := s.db.GetContext(ctx, &settings, `
		SELECT volume, autoplay, loop_mode, max_duration_seconds, persistent
		FROM session_settings WHERE session_id = ?`, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionSettings{}, false, nil
	}
	if err != nil {
		return SessionSettings{}, false, errors.Wrap(err, "failed to load session settings")
	}
	return settings, true, nil
}

// SaveSessionSettings persists settings for a session.
func (s *Store) SaveSessionSettings(ctx context.Context, sessionID string, settings SessionSettings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_settings (session_id, volume, autoplay, loop_mode, max_duration_seconds, persistent)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			volume = excluded.volume,
			autoplay = excluded.autoplay,
			loop_mode = excluded.loop_mode,
			max_duration_seconds = excluded.max_duration_seconds,
			persistent = excluded.persistent`,
		sessionID, settings.Volume, settings.Autoplay, settings.LoopMode,
		settings.MaxDurationSeconds, settings.Persistent)
	return errors.Wrap(err, "failed to save session settings")
}

// ReplaceSessionSlots mirrors the session's current buffers for introspection.
func (s *Store) ReplaceSessionSlots(ctx context.Context, sessionID string, visible, hidden []track.Slot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM session_slots WHERE session_id = ?`, sessionID); err != nil {
		return errors.Wrap(err, "failed to clear session slots")
	}

	insert := func(slots []track.Slot, hiddenFlag int) error {
		for i, slot := range slots {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO session_slots (session_id, hidden, position, user_id, tier, url, title, artist, reason)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				sessionID, hiddenFlag, i, slot.UserID, string(slot.Tier),
				slot.Track.URL, slot.Track.Title, slot.Track.Artist, slot.Reason)
			if err != nil {
				return err
			}
		}
		return nil
	}

	if err := insert(visible, 0); err != nil {
		return errors.Wrap(err, "failed to insert visible slots")
	}
	if err := insert(hidden, 1); err != nil {
		return errors.Wrap(err, "failed to insert hidden slots")
	}

	return errors.Wrap(tx.Commit(), "failed to commit session slots")
}
