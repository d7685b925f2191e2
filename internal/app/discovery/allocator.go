package discovery

import (
	"context"

	zlog "github.com/rs/zerolog/log"

	"github.com/vexolabs/autodj/internal/domain/track"
)

// Allocator builds the visible and hidden autoplay queues with fair
// per-listener allocation.
type Allocator struct {
	scorer       *Scorer
	slotsPerUser int
}

// NewAllocator creates a new allocator.
func NewAllocator(scorer *Scorer, slotsPerUser int) *Allocator {
	if slotsPerUser <= 0 {
		slotsPerUser = 4
	}
	return &Allocator{scorer: scorer, slotsPerUser: slotsPerUser}
}

// Allocate requests slots for every listener present and interleaves them
// round-robin so no single listener dominates the front of either queue.
// The first half of each listener's slots goes to the public queue, the
// second half to the hidden reserve. URLs are added to claimed as they are
// handed out, no two listeners receive the same track in one cycle.
// Listeners without stored preferences contribute nothing and are skipped.
func (a *Allocator) Allocate(ctx context.Context, sessionID string, userIDs []string, claimed map[string]struct{}) (public, hidden []track.Slot, err error) {
	if claimed == nil {
		claimed = make(map[string]struct{})
	}

	publicByUser := make(map[string][]track.Slot)
	hiddenByUser := make(map[string][]track.Slot)
	var withSlots []string

	for _, userID := range userIDs {
		slots, err := a.scorer.Recommend(ctx, userID, sessionID, a.slotsPerUser, claimed)
		if err != nil {
			return nil, nil, err
		}
		if len(slots) == 0 {
			continue
		}

		half := a.slotsPerUser / 2
		if half > len(slots) {
			half = len(slots)
		}
		publicByUser[userID] = slots[:half]
		hiddenByUser[userID] = slots[half:]
		withSlots = append(withSlots, userID)

		for _, s := range slots {
			if s.Track.URL != "" {
				claimed[s.Track.URL] = struct{}{}
			}
		}
	}

	// Random starting permutation keeps the interleave order from always
	// favoring the same listener.
	perm := append([]string(nil), withSlots...)
	rng := newRNG()
	rng.Shuffle(len(perm), func(i, j int) {
		perm[i], perm[j] = perm[j], perm[i]
	})

	public = interleave(perm, publicByUser)
	hidden = interleave(perm, hiddenByUser)

	zlog.Info().Msgf("allocation complete for session %s: %d public, %d hidden across %d listeners",
		sessionID, len(public), len(hidden), len(withSlots))
	return public, hidden, nil
}

// interleave appends one slot per listener per round in permutation order.
func interleave(userIDs []string, byUser map[string][]track.Slot) []track.Slot {
	maxSlots := 0
	for _, slots := range byUser {
		if len(slots) > maxSlots {
			maxSlots = len(slots)
		}
	}

	var result []track.Slot
	for i := 0; i < maxSlots; i++ {
		for _, userID := range userIDs {
			if slots := byUser[userID]; i < len(slots) {
				result = append(result, slots[i])
			}
		}
	}
	return result
}
