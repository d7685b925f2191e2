package playback

import (
	"context"
	"sync"

	zlog "github.com/rs/zerolog/log"

	"github.com/vexolabs/autodj/internal/infra/resolver"
)

// StreamResolver resolves a playable source for a canonical URL.
type StreamResolver interface {
	ResolveStream(ctx context.Context, url string) (*resolver.StreamHandle, error)
}

// Prefetcher eagerly resolves the next track's stream handle so the
// transition between tracks does not wait on the network. It is purely a
// latency optimization, a failed prefetch just means the next advance
// resolves synchronously.
type Prefetcher struct {
	mu       sync.Mutex
	resolver StreamResolver
	url      string
	handle   *resolver.StreamHandle
	inflight string
}

// NewPrefetcher creates a new prefetcher.
func NewPrefetcher(r StreamResolver) *Prefetcher {
	return &Prefetcher{resolver: r}
}

// Prefetch resolves the handle for url in the background, unless it is
// already cached or in flight. Cancelling ctx abandons the resolution.
func (p *Prefetcher) Prefetch(ctx context.Context, url string) {
	p.mu.Lock()
	if url == "" || p.url == url || p.inflight == url {
		p.mu.Unlock()
		return
	}
	p.inflight = url
	p.mu.Unlock()

	go func() {
		handle, err := p.resolver.ResolveStream(ctx, url)

		p.mu.Lock()
		defer p.mu.Unlock()
		// A newer prefetch superseded this one while it ran
		if p.inflight != url {
			return
		}
		p.inflight = ""
		if err != nil {
			zlog.Debug().Msgf("prefetch failed for %s: %v", url, err)
			return
		}
		p.url = url
		p.handle = handle
		zlog.Debug().Msgf("prefetched stream for %s", url)
	}()
}

// Take returns and clears the cached handle if it matches url.
func (p *Prefetcher) Take(url string) *resolver.StreamHandle {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.url != url || p.handle == nil {
		return nil
	}
	handle := p.handle
	p.url = ""
	p.handle = nil
	return handle
}

// Clear drops the cache and supersedes any in-flight resolution.
func (p *Prefetcher) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = ""
	p.handle = nil
	p.inflight = ""
}
