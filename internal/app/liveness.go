package app

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/signalrelay/internal/protocol"
)

// Monitor evicts connections that miss a whole heartbeat period.
type Monitor struct {
	gate     *Gate
	clock    clock.Clock
	interval time.Duration
}

func NewMonitor(g *Gate, clk clock.Clock, interval time.Duration) *Monitor {
	if clk == nil {
		clk = clock.New()
	}
	return &Monitor{gate: g, clock: clk, interval: interval}
}

// Run sweeps every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	t := m.clock.Ticker(m.interval)
	defer t.Stop()
	log.Info().Str("module", "app.liveness").Dur("interval", m.interval).Msg("liveness monitor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.liveness").Msg("liveness monitor stopped")
			return nil
		case <-t.C:
			m.Sweep()
		}
	}
}

// Sweep closes connections that have not answered since the previous sweep
// and probes the rest. It returns the number evicted.
func (m *Monitor) Sweep() int {
	evicted := 0
	for _, c := range m.gate.Connections() {
		if !c.alive.Swap(false) {
			m.gate.Close(c, protocol.CloseHeartbeatTimeout)
			evicted++
			continue
		}
		m.gate.Probe(c)
	}
	if evicted > 0 {
		log.Info().Str("module", "app.liveness").Int("evicted", evicted).Msg("sweep")
	}
	return evicted
}
