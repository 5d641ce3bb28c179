package server

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"pipeci/internal/core"
)

// Scheduler fires schedule events for the loaded pipelines' cron
// triggers. A fired event goes through the same dispatch path as an
// external one, so trigger evaluation stays in one place.
type Scheduler struct {
	cron   *cron.Cron
	server *Server
}

// NewScheduler registers every cron trigger of the server's pipelines.
// Expressions were validated at pipeline load time; one failing to
// register here is reported, not fatal.
func NewScheduler(s *Server) (*Scheduler, error) {
	c := cron.New()
	seen := make(map[string]bool)

	s.mu.Lock()
	pipelines := s.pipelines
	s.mu.Unlock()

	for _, p := range pipelines {
		for _, t := range p.On.Schedule {
			if seen[t.Cron] {
				continue
			}
			seen[t.Cron] = true
			expr := t.Cron
			_, err := c.AddFunc(expr, func() {
				s.Dispatch(context.Background(), core.Event{
					Kind: core.EventSchedule,
					Time: time.Now(),
				})
			})
			if err != nil {
				s.logger.Error().Err(err).Str("cron", expr).Msg("cannot register schedule")
			}
		}
	}
	return &Scheduler{cron: c, server: s}, nil
}

// Start begins firing schedule events in the background.
func (sc *Scheduler) Start() {
	sc.cron.Start()
}

// Stop halts scheduling and returns once in-flight cron callbacks have
// returned.
func (sc *Scheduler) Stop() {
	<-sc.cron.Stop().Done()
}
