// Package resolver resolves search queries, stream sources and playlists
// via YouTube (yt-dlp and the search API).
package resolver

import (
	"context"
	cryptoRand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lrstanley/go-ytdlp"
	"github.com/ppalone/ytsearch"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/vexolabs/autodj/internal/domain/track"
)

var (
	ErrNotFound         = errors.New("no results found")
	ErrResolutionFailed = errors.New("stream resolution failed")
)

// StreamHandle is an opaque playable source for a resolved track.
type StreamHandle struct {
	SourceURL string        // Direct media URL
	Title     string        // Resolved title
	Artist    string        // Resolved uploader
	Duration  time.Duration // Actual duration (authoritative)
}

// PlaylistItem is a (artist, title) pair from an external playlist source.
type PlaylistItem struct {
	Artist string
	Title  string
}

// PlaylistBridge expands playlist URLs of an external catalog (e.g. Spotify)
// into searchable (artist, title) pairs.
type PlaylistBridge interface {
	Matches(url string) bool
	PlaylistItems(ctx context.Context, url string, limit int) ([]PlaylistItem, error)
}

// Config represents resolver configuration.
type Config struct {
	RateLimitPerSec  float64
	RateLimitBurst   int
	SearchResultSize int
}

// Client resolves tracks against YouTube.
type Client struct {
	search  *ytsearch.Client
	limiter *rate.Limiter
	bridge  PlaylistBridge
	config  Config
}

// New creates a new resolver client. bridge may be nil.
func New(cfg Config, bridge PlaylistBridge) *Client {
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = 4
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 10
	}
	if cfg.SearchResultSize <= 0 {
		cfg.SearchResultSize = 5
	}
	return &Client{
		search:  ytsearch.NewClient(nil),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst),
		bridge:  bridge,
		config:  cfg,
	}
}

// Search finds the best track for a query. Returns ErrNotFound when the
// query yields nothing.
func (c *Client) Search(ctx context.Context, query string) (*track.Track, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := c.search.Search(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "search failed")
	}
	if len(res.Results) == 0 {
		return nil, ErrNotFound
	}

	r := res.Results[0]
	return &track.Track{
		Title:    r.Title,
		Artist:   r.Channel,
		URL:      canonicalURL(r.VideoID),
		Duration: parseColonDuration(r.Duration),
	}, nil
}

// ResolveStream resolves a playable source for a canonical URL.
// The returned duration is authoritative and may differ from the duration
// known at selection time.
func (c *Client) ResolveStream(ctx context.Context, url string) (*StreamHandle, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := ytdlp.New().
		Print("%(url)s\t%(title)s\t%(uploader)s\t%(duration)s").
		Format("bestaudio[ext=webm]/bestaudio").
		NoCheckFormats().
		NoWarnings().
		IgnoreConfig().
		Run(ctx, "--skip-download", url)
	if err != nil {
		return nil, errors.Wrapf(ErrResolutionFailed, "yt-dlp: %v", err)
	}

	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		ps := strings.Split(line, "\t")
		if len(ps) < 4 {
			continue
		}
		d, _ := time.ParseDuration(ps[3] + "s")
		return &StreamHandle{SourceURL: ps[0], Title: ps[1], Artist: ps[2], Duration: d}, nil
	}
	return nil, errors.Wrap(ErrResolutionFailed, "no parseable output")
}

// ExpandPlaylist expands a playlist URL into up to limit tracks.
// Bridged catalogs (Spotify) are expanded to (artist, title) pairs and
// re-searched on YouTube; everything else goes through yt-dlp flat
// extraction.
func (c *Client) ExpandPlaylist(ctx context.Context, url string, limit int, shuffle bool) ([]track.Track, error) {
	if limit <= 0 {
		limit = 50
	}

	var tracks []track.Track
	var err error
	if c.bridge != nil && c.bridge.Matches(url) {
		tracks, err = c.expandBridged(ctx, url, limit)
	} else {
		tracks, err = c.expandFlat(ctx, url, limit)
	}
	if err != nil {
		return nil, err
	}

	if shuffle {
		rng := newRNG()
		rng.Shuffle(len(tracks), func(i, j int) {
			tracks[i], tracks[j] = tracks[j], tracks[i]
		})
	}
	if len(tracks) > limit {
		tracks = tracks[:limit]
	}
	return tracks, nil
}

// expandFlat extracts playlist entries with yt-dlp flat extraction.
func (c *Client) expandFlat(ctx context.Context, url string, limit int) ([]track.Track, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	res, err := ytdlp.New().
		FlatPlaylist().
		Print("%(url)s\t%(title)s\t%(uploader)s\t%(duration)s").
		PlaylistItems(fmt.Sprintf("1-%d", limit)).
		NoWarnings().
		IgnoreConfig().
		Run(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "playlist extraction failed")
	}

	var tracks []track.Track
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		ps := strings.Split(line, "\t")
		if len(ps) < 4 {
			continue
		}
		d, _ := time.ParseDuration(ps[3] + "s")
		tracks = append(tracks, track.Track{URL: ps[0], Title: ps[1], Artist: ps[2], Duration: d})
	}
	return tracks, nil
}

// expandBridged expands a bridged playlist and re-searches each item.
func (c *Client) expandBridged(ctx context.Context, url string, limit int) ([]track.Track, error) {
	items, err := c.bridge.PlaylistItems(ctx, url, limit)
	if err != nil {
		return nil, errors.Wrap(err, "bridge expansion failed")
	}

	tracks := make([]track.Track, 0, len(items))
	for _, item := range items {
		t, err := c.Search(ctx, item.Artist+" "+item.Title)
		if err != nil {
			zlog.Debug().Msgf("bridged item not found: artist=%s title=%s err=%v", item.Artist, item.Title, err)
			continue
		}
		tracks = append(tracks, *t)
	}
	return tracks, nil
}

// canonicalURL builds the canonical watch URL for a video ID.
func canonicalURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
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
