// Package spotify provides a bridge for expanding Spotify playlist URLs.
package spotify

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/vexolabs/autodj/internal/infra/resolver"
)

// Client is a Spotify API client using client-credentials auth.
// It only reads public catalog data (playlists, albums).
type Client struct {
	client     *spotify.Client
	maxRetries int
	retryDelay time.Duration
}

// Config represents Spotify client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
}

var playlistIDPattern = regexp.MustCompile(`(?:playlist|album)[:/]([A-Za-z0-9]+)`)

// New creates a new Spotify client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	creds := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	token, err := creds.Token(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to obtain token")
	}

	httpClient := spotifyauth.New().Client(ctx, token)
	return &Client{
		client:     spotify.New(httpClient),
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// Matches reports whether the URL points at the Spotify catalog.
// Implements resolver.PlaylistBridge.
func (c *Client) Matches(url string) bool {
	return strings.Contains(url, "open.spotify.com") || strings.HasPrefix(url, "spotify:")
}

// PlaylistItems returns up to limit (artist, title) pairs from a playlist
// or album URL. Implements resolver.PlaylistBridge.
func (c *Client) PlaylistItems(ctx context.Context, url string, limit int) ([]resolver.PlaylistItem, error) {
	id := extractPlaylistID(url)
	if id == "" {
		return nil, errors.Newf("invalid spotify URL: %s", url)
	}

	var items []resolver.PlaylistItem
	offset := 0
	pageSize := 100
	if limit < pageSize {
		pageSize = limit
	}

	for len(items) < limit {
		var page *spotify.PlaylistItemPage
		err := c.retry(func() error {
			p, err := c.client.GetPlaylistItems(ctx, spotify.ID(id),
				spotify.Limit(pageSize),
				spotify.Offset(offset),
			)
			if err != nil {
				return err
			}
			page = p
			return nil
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to get playlist items")
		}

		for _, item := range page.Items {
			// Episodes have no track payload
			if item.Track.Track == nil || item.Track.Track.ID == "" {
				continue
			}
			t := item.Track.Track
			var artist string
			if len(t.Artists) > 0 {
				artist = t.Artists[0].Name
			}
			items = append(items, resolver.PlaylistItem{Artist: artist, Title: t.Name})
			if len(items) >= limit {
				break
			}
		}

		if len(page.Items) < pageSize {
			break
		}
		offset += pageSize
	}

	return items, nil
}

// extractPlaylistID pulls the playlist or album ID out of a URL or URI.
func extractPlaylistID(url string) string {
	m := playlistIDPattern.FindStringSubmatch(url)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// retry retries an operation with linear backoff.
func (c *Client) retry(fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelay * time.Duration(i+1))
		}
	}
	return lastErr
}
