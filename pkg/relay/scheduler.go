package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/hamlink/js8relay/pkg/logger"
)

// Announcer is the mesh-side surface the scheduler drives.
type Announcer interface {
	Announce(ctx context.Context) error
}

// Scheduler runs the periodic jobs: identity announces so mesh peers can
// discover the relay, and the daily traffic summary for admins. Schedules
// are standard five-field cron expressions checked once a minute.
type Scheduler struct {
	orch     *Orchestrator
	announce Announcer

	announceCron string
	statsCron    string

	gron     *gronx.Gronx
	wg       sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

func NewScheduler(orch *Orchestrator, announce Announcer, announceCron, statsCron string) *Scheduler {
	return &Scheduler{
		orch:         orch,
		announce:     announce,
		announceCron: strings.TrimSpace(announceCron),
		statsCron:    strings.TrimSpace(statsCron),
		gron:         gronx.New(),
		done:         make(chan struct{}),
	}
}

// Start validates the expressions and launches the minute ticker. An invalid
// expression is a configuration error and fails startup.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, expr := range []string{s.announceCron, s.statsCron} {
		if expr == "" {
			continue
		}
		if !s.gron.IsValid(expr) {
			return fmt.Errorf("scheduler: invalid cron expression %q", expr)
		}
	}

	s.wg.Add(1)
	go s.run(ctx)
	return nil
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	if s.due(s.announceCron, now) {
		if err := s.announce.Announce(ctx); err != nil {
			logger.WarnCF("scheduler", "Announce failed", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			logger.DebugC("scheduler", "Identity announced")
		}
	}

	if s.due(s.statsCron, now) {
		s.sendDailySummary(ctx)
	}
}

func (s *Scheduler) due(expr string, now time.Time) bool {
	if expr == "" {
		return false
	}
	due, err := s.gron.IsDue(expr, now)
	if err != nil {
		logger.WarnCF("scheduler", "Cron check failed", map[string]interface{}{
			"expr":  expr,
			"error": err.Error(),
		})
		return false
	}
	return due
}

func (s *Scheduler) sendDailySummary(ctx context.Context) {
	stats, err := s.orch.store.DailyStats(1)
	if err != nil {
		logger.WarnCF("scheduler", "Daily summary failed", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	summary := "Daily summary: no traffic yet."
	if len(stats) > 0 {
		d := stats[0]
		summary = fmt.Sprintf("Daily summary for %s: %d inbound, %d outbound, %d subscribers.",
			d.Day, d.Inbound, d.Outbound, len(s.orch.dir.Users()))
	}
	s.orch.notifyAdmins(ctx, summary)
}
