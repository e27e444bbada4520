package lights

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/tracklight/internal/rgb"
)

// Report summarizes a broadcast. Failed is keyed by device address.
type Report struct {
	Applied []string
	Failed  map[string]error
}

// Group owns the discovered lights, keyed by address, and broadcasts
// commands to all of them.
type Group struct {
	mu      sync.RWMutex
	members map[string]Light

	watchers sync.WaitGroup
}

// NewGroup creates an empty group.
func NewGroup() *Group {
	return &Group{
		members: make(map[string]Light),
	}
}

// Add registers a light and starts logging its asynchronous errors.
func (g *Group) Add(l Light) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	addr := l.Address()
	if _, exists := g.members[addr]; exists {
		return fmt.Errorf("%s: %w", addr, ErrDuplicateAddress)
	}
	g.members[addr] = l

	g.watchers.Add(1)
	go g.watch(l)

	log.Debug().Str("device", addr).Int("members", len(g.members)).Msg("Device added to group")
	return nil
}

func (g *Group) watch(l Light) {
	defer g.watchers.Done()
	for err := range l.Errors() {
		log.Warn().
			Err(err).
			Str("device", l.Address()).
			Str("state", l.State().String()).
			Msg("Device reported error")
	}
}

// Has reports whether a light with the address is registered.
func (g *Group) Has(addr string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.members[addr]
	return ok
}

// Len returns the number of members.
func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.members)
}

// Members returns the lights sorted by address.
func (g *Group) Members() []Light {
	g.mu.RLock()
	members := make([]Light, 0, len(g.members))
	for _, l := range g.members {
		members = append(members, l)
	}
	g.mu.RUnlock()

	sort.Slice(members, func(i, j int) bool {
		return members[i].Address() < members[j].Address()
	})
	return members
}

// SetRGBColorForAll sends the color to every member concurrently. A failing
// member never affects the others; an empty group is a no-op.
func (g *Group) SetRGBColorForAll(ctx context.Context, c rgb.Color, transition time.Duration) Report {
	members := g.Members()
	report := Report{Failed: make(map[string]error)}
	if len(members) == 0 {
		return report
	}

	// One slot per member, written only by that member's goroutine.
	results := make([]error, len(members))
	var wg sync.WaitGroup
	for i, l := range members {
		wg.Add(1)
		go func(i int, l Light) {
			defer wg.Done()
			results[i] = l.SetColor(ctx, c, transition)
		}(i, l)
	}
	wg.Wait()

	for i, l := range members {
		if err := results[i]; err != nil {
			log.Warn().
				Err(err).
				Str("device", l.Address()).
				Str("color", c.String()).
				Msg("Failed to set device color")
			report.Failed[l.Address()] = err
			continue
		}
		report.Applied = append(report.Applied, l.Address())
	}
	return report
}

// Close closes every member and waits for their error watchers to finish.
func (g *Group) Close() error {
	for _, l := range g.Members() {
		if err := l.Close(); err != nil {
			log.Warn().Err(err).Str("device", l.Address()).Msg("Failed to close device")
		}
	}
	g.watchers.Wait()
	return nil
}
