package chat

import (
	"context"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSpec re-evaluates suspensions once per second.
const DefaultSweepSpec = "@every 1s"

// Sweeper periodically ticks all loaded sessions so suspensions lift even
// when no client is polling.
type Sweeper struct {
	cron *cron.Cron
	svc  *Service
}

// NewSweeper schedules svc.Sweep on spec (robfig/cron syntax).
func NewSweeper(svc *Service, spec string) (*Sweeper, error) {
	if spec == "" {
		spec = DefaultSweepSpec
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	sw := &Sweeper{cron: c, svc: svc}
	if _, err := c.AddFunc(spec, sw.run); err != nil {
		return nil, fmt.Errorf("schedule sweeper %q: %w", spec, err)
	}
	return sw, nil
}

func (sw *Sweeper) run() {
	if n := sw.svc.Sweep(context.Background()); n > 0 {
		log.Printf("[sweeper] lifted %d suspension(s)", n)
	}
}

// Start begins ticking in the background.
func (sw *Sweeper) Start() {
	sw.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (sw *Sweeper) Stop(ctx context.Context) {
	done := sw.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
