// Package maintenance runs the gateway's periodic chores on a cron schedule.
package maintenance

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/omnirelay/omnirelay/pkg/dedup"
	"github.com/omnirelay/omnirelay/pkg/logger"
	"github.com/omnirelay/omnirelay/pkg/registry"
)

const component = "maintenance"

// Scheduler evicts expired dedup entries and logs registry stats whenever the
// cron expression is due. Only the in-memory dedup filter needs sweeping;
// Redis expires its keys by TTL.
type Scheduler struct {
	expr   string
	gron   *gronx.Gronx
	filter *dedup.MemoryFilter
	reg    *registry.Registry
}

// New creates a scheduler. filter may be nil when dedup runs on Redis.
func New(expr string, filter *dedup.MemoryFilter, reg *registry.Registry) *Scheduler {
	return &Scheduler{
		expr:   expr,
		gron:   gronx.New(),
		filter: filter,
		reg:    reg,
	}
}

// Run ticks once a minute until ctx is done. Blocking; callers run it in a
// goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	if !s.gron.IsValid(s.expr) {
		logger.ErrorCF(component, "Invalid cron expression, maintenance disabled", map[string]interface{}{
			"expr": s.expr,
		})
		return
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := s.gron.IsDue(s.expr, time.Now())
			if err != nil || !due {
				continue
			}
			s.tick()
		}
	}
}

func (s *Scheduler) tick() {
	evicted := 0
	if s.filter != nil {
		evicted = s.filter.Sweep()
	}
	logger.InfoCF(component, "Maintenance pass finished", map[string]interface{}{
		"dedup_evicted": evicted,
		"connections":   s.reg.Size(),
	})
}
