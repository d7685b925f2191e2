// Package discovery implements the three-tier recommendation scorer and
// the fairness allocator that feed the autoplay buffers.
//
// Each listener's allocation is split into three tiers:
//
//   - comfort: tracks the listener already liked, weighted by score with
//     temporal decay so recent favorites surface more often.
//   - adjacent: new tracks from artists, keywords and genres the listener
//     likes, boosted by collaborative and momentum signals.
//   - wildcard: pool tracks with no matching signal at all, shuffled.
//     Without this tier the system degenerates into an echo chamber.
//
// Every slot carries a human-readable reason explaining why it was picked.
package discovery

import (
	"context"
	cryptoRand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	zlog "github.com/rs/zerolog/log"

	"github.com/vexolabs/autodj/internal/domain/track"
	"github.com/vexolabs/autodj/internal/infra/store"
)

// Store is the preference store contract the scorer reads from.
type Store interface {
	GetLikedTracks(ctx context.Context, userID string) ([]track.Preference, error)
	GetPoolTracks(ctx context.Context) ([]track.PoolEntry, error)
	GetCollaborativeCandidates(ctx context.Context, sessionID, userID string, limit int) ([]store.CollabCandidate, error)
	IsRecentlyPlayed(ctx context.Context, sessionID, url string, within time.Duration) (bool, error)
	GetLastPlayedTrack(ctx context.Context, sessionID string) (*track.Track, error)
	GetGenreForArtist(ctx context.Context, artist string) (string, error)
}

// Config represents scorer configuration.
type Config struct {
	RatioComfort      float64
	RatioAdjacent     float64
	RatioWildcard     float64
	DecayHalfLifeDays int
	DedupWindow       time.Duration
	GenreMatchScore   int
	CollabScore       int
	MomentumScore     int
}

const collabLimit = 50

// Scorer ranks candidate tracks into tiers for a single listener.
type Scorer struct {
	store  Store
	config Config
}

// NewScorer creates a new scorer. Zero config fields fall back to defaults.
func NewScorer(st Store, cfg Config) *Scorer {
	if cfg.RatioComfort == 0 && cfg.RatioAdjacent == 0 && cfg.RatioWildcard == 0 {
		cfg.RatioComfort, cfg.RatioAdjacent, cfg.RatioWildcard = 0.5, 0.35, 0.15
	}
	if cfg.DecayHalfLifeDays <= 0 {
		cfg.DecayHalfLifeDays = 14
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 90 * time.Minute
	}
	if cfg.GenreMatchScore <= 0 {
		cfg.GenreMatchScore = 4
	}
	if cfg.CollabScore <= 0 {
		cfg.CollabScore = 3
	}
	if cfg.MomentumScore <= 0 {
		cfg.MomentumScore = 2
	}
	return &Scorer{store: st, config: cfg}
}

// Recommend builds up to count slots for one listener across the three
// tiers. URLs in claimed are never picked. Returns nil when the listener
// has no positive preferences or the store is unavailable (personalization
// fails open, it never aborts playback).
func (s *Scorer) Recommend(ctx context.Context, userID, sessionID string, count int, claimed map[string]struct{}) ([]track.Slot, error) {
	if count <= 0 {
		return nil, nil
	}

	prefs, err := s.store.GetLikedTracks(ctx, userID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		zlog.Warn().Msgf("preference lookup failed for user %s, skipping personalization: %v", userID, err)
		return nil, nil
	}
	if len(prefs) == 0 {
		return nil, nil
	}

	used := make(map[string]struct{}, len(claimed))
	for u := range claimed {
		used[u] = struct{}{}
	}

	// Effective score = raw score x temporal decay.
	now := time.Now()
	eff := make(map[string]float64, len(prefs))
	for _, p := range prefs {
		eff[p.URL] = float64(p.Score) * s.decayWeight(now, p.LastInteraction)
	}
	sort.SliceStable(prefs, func(i, j int) bool {
		return eff[prefs[i].URL] > eff[prefs[j].URL]
	})

	comfortCount, adjacentCount, wildcardCount := s.tierCounts(count)
	zlog.Debug().Msgf("building %d slots for user %s (comfort=%d, adjacent=%d, wildcard=%d), %d liked tracks in profile",
		count, userID, comfortCount, adjacentCount, wildcardCount, len(prefs))

	rng := newRNG()
	slots := s.pickComfort(ctx, rng, prefs, eff, userID, sessionID, comfortCount, used)
	for _, slot := range slots {
		used[slot.Track.URL] = struct{}{}
	}

	scored := s.scorePool(ctx, userID, sessionID, prefs, eff, used)

	// Adjacent tier: candidates with a positive signal, ordered by score
	// plus a touch of randomness so consecutive refills differ.
	var adjacent []scoredCandidate
	for _, c := range scored {
		if c.score > 0 {
			adjacent = append(adjacent, c)
		}
	}
	jitter := make(map[string]float64, len(adjacent))
	for _, c := range adjacent {
		jitter[c.entry.URL] = float64(c.score) + rng.Float64()*2
	}
	sort.SliceStable(adjacent, func(i, j int) bool {
		return jitter[adjacent[i].entry.URL] > jitter[adjacent[j].entry.URL]
	})

	taken := 0
	for _, c := range adjacent {
		if taken >= adjacentCount {
			break
		}
		if _, ok := used[c.entry.URL]; ok {
			continue
		}
		slots = append(slots, c.slot(userID, track.TierAdjacent))
		used[c.entry.URL] = struct{}{}
		taken++
	}

	// Wildcard tier: zero-signal candidates, uniformly at random.
	var wildcard []scoredCandidate
	for _, c := range scored {
		if c.score != 0 {
			continue
		}
		if _, ok := used[c.entry.URL]; ok {
			continue
		}
		wildcard = append(wildcard, c)
	}
	rng.Shuffle(len(wildcard), func(i, j int) {
		wildcard[i], wildcard[j] = wildcard[j], wildcard[i]
	})
	for i := 0; i < wildcardCount && i < len(wildcard); i++ {
		c := wildcard[i]
		c.reason = "Wildcard pick — something new for you"
		c.matched = ""
		slots = append(slots, c.slot(userID, track.TierWildcard))
		used[c.entry.URL] = struct{}{}
	}

	// Sparse pool: backfill from leftover adjacent candidates before
	// returning short.
	for _, c := range adjacent {
		if len(slots) >= count {
			break
		}
		if _, ok := used[c.entry.URL]; ok {
			continue
		}
		slots = append(slots, c.slot(userID, track.TierAdjacent))
		used[c.entry.URL] = struct{}{}
	}

	return slots, nil
}

// SimilarTo finds a pool track similar to the seed track for mood refresh.
// Returns nil when nothing in the pool resembles the seed.
func (s *Scorer) SimilarTo(ctx context.Context, sessionID string, seed track.Track, claimed map[string]struct{}) (*track.Track, error) {
	pool, err := s.store.GetPoolTracks(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		zlog.Warn().Msgf("pool lookup failed for mood refresh: %v", err)
		return nil, nil
	}

	seedWords := extractKeywords(seed.Title)
	seedArtist := strings.ToLower(seed.Artist)
	seedGenre := s.genreFor(ctx, seedArtist)

	type match struct {
		entry track.PoolEntry
		score int
	}
	var matches []match
	for _, e := range pool {
		if e.URL == "" || e.URL == seed.URL {
			continue
		}
		if _, ok := claimed[e.URL]; ok {
			continue
		}

		artist := strings.ToLower(e.Artist)
		score := 0
		if artist == seedArtist {
			score += 5
		}
		score += keywordOverlap(seedWords, extractKeywords(e.Title)) * 2
		if seedGenre != "" && artist != seedArtist {
			if g := s.genreFor(ctx, artist); genresOverlap(seedGenre, g) {
				score += 3
			}
		}

		if score > 0 && !s.recentlyPlayed(ctx, sessionID, e.URL) {
			matches = append(matches, match{entry: e, score: score})
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}

	rng := newRNG()
	jitter := make(map[string]float64, len(matches))
	for _, m := range matches {
		jitter[m.entry.URL] = float64(m.score) + rng.Float64()
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return jitter[matches[i].entry.URL] > jitter[matches[j].entry.URL]
	})

	chosen := matches[0].entry
	zlog.Debug().Msgf("mood refresh: selected '%s' by %s as similar to '%s'", chosen.Title, chosen.Artist, seed.Title)
	return &track.Track{Title: chosen.Title, Artist: chosen.Artist, URL: chosen.URL}, nil
}

// tierCounts splits count into the three tiers by the configured ratios.
// Each tier with a positive ratio gets at least one slot when count allows,
// and the counts never exceed count in total.
func (s *Scorer) tierCounts(count int) (comfort, adjacent, wildcard int) {
	if count <= 0 {
		return 0, 0, 0
	}
	if s.config.RatioComfort > 0 {
		comfort = int(math.Round(float64(count) * s.config.RatioComfort))
		if comfort < 1 {
			comfort = 1
		}
	}
	if s.config.RatioAdjacent > 0 {
		adjacent = int(math.Round(float64(count) * s.config.RatioAdjacent))
		if adjacent < 1 {
			adjacent = 1
		}
	}
	if comfort > count {
		comfort = count
	}
	if comfort+adjacent > count {
		adjacent = count - comfort
	}
	if s.config.RatioWildcard > 0 {
		wildcard = count - comfort - adjacent
		if wildcard < 1 && count >= 3 {
			if comfort >= adjacent && comfort > 1 {
				comfort--
				wildcard++
			} else if adjacent > 1 {
				adjacent--
				wildcard++
			}
		}
		if wildcard < 0 {
			wildcard = 0
		}
	}
	return comfort, adjacent, wildcard
}

// pickComfort picks comfort-tier slots from the listener's liked history
// using weighted random sampling without replacement. The weight floor keeps
// low-scored likes from being excluded entirely.
func (s *Scorer) pickComfort(ctx context.Context, rng *rand.Rand, prefs []track.Preference, eff map[string]float64, userID, sessionID string, count int, used map[string]struct{}) []track.Slot {
	var eligible []track.Preference
	for _, p := range prefs {
		if p.URL == "" {
			continue
		}
		if _, ok := used[p.URL]; ok {
			continue
		}
		if s.recentlyPlayed(ctx, sessionID, p.URL) {
			continue
		}
		eligible = append(eligible, p)
	}

	var selected []track.Slot
	for len(selected) < count && len(eligible) > 0 {
		total := 0.0
		for _, p := range eligible {
			total += comfortWeight(eff[p.URL])
		}
		r := rng.Float64() * total
		idx := 0
		cum := 0.0
		for i, p := range eligible {
			cum += comfortWeight(eff[p.URL])
			if cum >= r {
				idx = i
				break
			}
		}

		p := eligible[idx]
		eligible = append(eligible[:idx], eligible[idx+1:]...)
		selected = append(selected, track.Slot{
			Track:  track.Track{Title: p.Title, Artist: p.Artist, URL: p.URL},
			UserID: userID,
			Tier:   track.TierComfort,
			Reason: fmt.Sprintf("From your likes (score %.1f)", eff[p.URL]),
		})
	}
	return selected
}

type scoredCandidate struct {
	entry   track.PoolEntry
	score   int
	reason  string
	matched string
}

func (c scoredCandidate) slot(userID string, tier track.Tier) track.Slot {
	return track.Slot{
		Track:   track.Track{Title: c.entry.Title, Artist: c.entry.Artist, URL: c.entry.URL},
		UserID:  userID,
		Tier:    tier,
		Reason:  c.reason,
		Matched: c.matched,
	}
}

// scorePool scores every shared-pool track once for the adjacent and
// wildcard tiers.
func (s *Scorer) scorePool(ctx context.Context, userID, sessionID string, prefs []track.Preference, eff map[string]float64, used map[string]struct{}) []scoredCandidate {
	pool, err := s.store.GetPoolTracks(ctx)
	if err != nil {
		zlog.Warn().Msgf("pool lookup failed for user %s: %v", userID, err)
		return nil
	}

	// Artist and keyword lookups keep the highest-scored liked track per
	// key, prefs arrive sorted by effective score.
	artistToLiked := make(map[string]track.Preference)
	for _, p := range prefs {
		key := strings.ToLower(p.Artist)
		if key == "" {
			continue
		}
		if _, ok := artistToLiked[key]; !ok {
			artistToLiked[key] = p
		}
	}
	keywordToLiked := make(map[string]track.Preference)
	for _, p := range prefs {
		for kw := range extractKeywords(p.Title) {
			if _, ok := keywordToLiked[kw]; !ok {
				keywordToLiked[kw] = p
			}
		}
	}

	likedGenres := make(map[string]string, len(artistToLiked))
	for artist := range artistToLiked {
		if g := s.genreFor(ctx, artist); g != "" {
			likedGenres[artist] = g
		}
	}

	collab := make(map[string]int)
	if candidates, err := s.store.GetCollaborativeCandidates(ctx, sessionID, userID, collabLimit); err != nil {
		zlog.Debug().Msgf("collaborative query failed (non-critical): %v", err)
	} else {
		for _, c := range candidates {
			collab[c.URL] = c.Supporters
		}
	}

	var lastArtist, lastGenre string
	if last, err := s.store.GetLastPlayedTrack(ctx, sessionID); err == nil && last != nil {
		lastArtist = strings.ToLower(last.Artist)
		lastGenre = s.genreFor(ctx, lastArtist)
	}

	var results []scoredCandidate
	for _, e := range pool {
		if e.URL == "" {
			continue
		}
		if _, ok := used[e.URL]; ok {
			continue
		}
		if s.recentlyPlayed(ctx, sessionID, e.URL) {
			continue
		}

		artist := strings.ToLower(e.Artist)
		score := 0
		var reasons []string
		var matched string

		// Artist match is the strongest signal, a favourite artist
		// (effective score above 10) gets an extra boost.
		if liked, ok := artistToLiked[artist]; ok {
			matched = liked.Title
			bonus := 5
			if eff[liked.URL] > 10 {
				bonus = 7
			}
			score += bonus
			reasons = append(reasons, fmt.Sprintf("Same artist as '%s'", matched))
		}

		trackWords := extractKeywords(e.Title)
		matching := 0
		var matchedKw string
		for kw := range trackWords {
			if _, ok := keywordToLiked[kw]; ok {
				if matchedKw == "" {
					matchedKw = kw
				}
				matching++
			}
		}
		if matching > 0 {
			score += matching * 2
			if matched == "" {
				matched = keywordToLiked[matchedKw].Title
			}
			reasons = append(reasons, fmt.Sprintf("Title keywords match '%s'", matched))
		}

		trackGenre := ""
		if artist != "" {
			trackGenre = s.genreFor(ctx, artist)
		}
		if trackGenre != "" {
			for likedArtist, likedGenre := range likedGenres {
				if !genresOverlap(trackGenre, likedGenre) {
					continue
				}
				score += s.config.GenreMatchScore
				if matched == "" {
					matched = artistToLiked[likedArtist].Title
				}
				reasons = append(reasons, fmt.Sprintf("Genre match (%s)", primaryGenre(trackGenre)))
				break // count genre match once
			}
		}

		if supporters, ok := collab[e.URL]; ok {
			bonus := s.config.CollabScore * supporters
			if bonus > 9 {
				bonus = 9
			}
			score += bonus
			plural := ""
			if supporters != 1 {
				plural = "s"
			}
			reasons = append(reasons, fmt.Sprintf("Liked by %d listener%s with similar taste", supporters, plural))
		}

		// Momentum: match the vibe of what just played.
		if lastArtist != "" && artist == lastArtist {
			score += s.config.MomentumScore
			reasons = append(reasons, "Keeps the current vibe going")
		} else if lastGenre != "" && trackGenre != "" && genresOverlap(lastGenre, trackGenre) {
			bonus := s.config.MomentumScore - 1
			if bonus < 1 {
				bonus = 1
			}
			score += bonus
			reasons = append(reasons, "Matches the current mood")
		}

		reason := "Discovery"
		if len(reasons) > 0 {
			reason = reasons[0]
		}
		if score > 0 {
			zlog.Debug().Msgf("scored '%s' by %s => %d pts (%s)", e.Title, e.Artist, score, strings.Join(reasons, " + "))
		}

		results = append(results, scoredCandidate{entry: e, score: score, reason: reason, matched: matched})
	}
	return results
}

// decayWeight returns the exponential temporal decay multiplier in (0, 1].
func (s *Scorer) decayWeight(now, last time.Time) float64 {
	if last.IsZero() {
		return 0.1
	}
	ageDays := now.Sub(last).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Pow(0.5, ageDays/float64(s.config.DecayHalfLifeDays))
}

func comfortWeight(effective float64) float64 {
	return math.Max(effective, 0.1)
}

// recentlyPlayed checks the dedup window, failing open on store errors.
func (s *Scorer) recentlyPlayed(ctx context.Context, sessionID, url string) bool {
	recent, err := s.store.IsRecentlyPlayed(ctx, sessionID, url, s.config.DedupWindow)
	if err != nil {
		return false
	}
	return recent
}

// genreFor looks up a stored genre, returning "" on any failure.
func (s *Scorer) genreFor(ctx context.Context, artist string) string {
	if artist == "" {
		return ""
	}
	g, err := s.store.GetGenreForArtist(ctx, artist)
	if err != nil {
		return ""
	}
	return g
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
