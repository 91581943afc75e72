package scheduler

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/undercutlive/undercut/go/internal/auction"
)

// Config holds the scheduler cadences and the retention window for ended
// sessions.
type Config struct {
	TickInterval  time.Duration
	SweepInterval time.Duration
	Retention     time.Duration
}

// DefaultConfig returns the stock cadences: 1s tick, hourly sweep, 24h
// retention.
func DefaultConfig() Config {
	return Config{
		TickInterval:  time.Second,
		SweepInterval: time.Hour,
		Retention:     24 * time.Hour,
	}
}

// Scheduler drives every live session forward once per tick and evicts
// ended sessions on a slow sweep. Session logic stays tick-driven so tests
// can feed synthetic ticks without wall-clock delay.
type Scheduler struct {
	registry  *auction.Registry
	publisher auction.Publisher
	clock     clockwork.Clock
	cfg       Config
}

// New creates a scheduler over the given registry.
func New(registry *auction.Registry, publisher auction.Publisher, clock clockwork.Clock, cfg Config) *Scheduler {
	return &Scheduler{
		registry:  registry,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
	}
}

// Run blocks, ticking sessions and sweeping the registry until ctx is done.
func (sc *Scheduler) Run(ctx context.Context) error {
	log.Info().
		Dur("tick_interval", sc.cfg.TickInterval).
		Dur("sweep_interval", sc.cfg.SweepInterval).
		Msg("scheduler started")

	tick := sc.clock.NewTicker(sc.cfg.TickInterval)
	defer tick.Stop()
	sweep := sc.clock.NewTicker(sc.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler shutting down")
			return nil
		case <-tick.Chan():
			sc.TickAll(sc.clock.Now())
		case <-sweep.Chan():
			sc.Sweep(sc.clock.Now())
		}
	}
}

// tickable is the slice of session behavior the tick loop needs.
type tickable interface {
	ID() string
	Tick(now time.Time) []auction.Event
}

// TickAll advances every live session by one period.
func (sc *Scheduler) TickAll(now time.Time) {
	sessions := sc.registry.All()
	targets := make([]tickable, 0, len(sessions))
	for _, s := range sessions {
		targets = append(targets, s)
	}
	sc.tickSessions(targets, now)
}

// tickSessions advances each target by one period. A fault in one
// session's tick is isolated so the rest still advance.
func (sc *Scheduler) tickSessions(sessions []tickable, now time.Time) {
	for _, session := range sessions {
		for _, ev := range sc.tickSession(session, now) {
			sc.publisher.Publish(ev)
		}
	}
}

func (sc *Scheduler) tickSession(session tickable, now time.Time) (evts []auction.Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("session_id", session.ID()).
				Msg("session tick panicked")
			evts = nil
		}
	}()
	return session.Tick(now)
}

// Sweep removes ended sessions older than the retention window and reports
// aggregate counts. Returns how many sessions were evicted.
func (sc *Scheduler) Sweep(now time.Time) int {
	var total, active, evicted int
	for _, session := range sc.registry.All() {
		total++
		switch session.State() {
		case auction.StateActive:
			active++
		case auction.StateEnded:
			if now.Sub(session.CreatedAt()) > sc.cfg.Retention {
				sc.registry.Remove(session.ID())
				evicted++
			}
		}
	}

	log.Info().
		Int("total_sessions", total).
		Int("active_sessions", active).
		Int("evicted", evicted).
		Msg("registry sweep complete")
	return evicted
}
