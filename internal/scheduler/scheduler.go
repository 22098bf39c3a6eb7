package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/models"
	"github.com/ternarybob/quaestor/internal/orchestrator"
)

// Scheduler fires portal runs on cron schedules. One entry per portal; a
// tick that lands while the portal is still running is skipped, never
// queued, so a slow portal cannot pile up overlapping runs.
type Scheduler struct {
	logger arbor.ILogger
	orch   *orchestrator.Orchestrator
	cron   *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
	running bool
}

// New creates a scheduler over the orchestrator
func New(logger arbor.ILogger, orch *orchestrator.Orchestrator) *Scheduler {
	return &Scheduler{
		logger:  logger,
		orch:    orch,
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
	}
}

// RegisterPortals adds one cron entry per portal. A portal without its own
// schedule falls back to defaultSchedule; portals with neither are left
// unscheduled. Invalid expressions fail registration for that portal only.
func (s *Scheduler) RegisterPortals(portals []*models.Portal, defaultSchedule string) int {
	registered := 0
	for _, portal := range portals {
		schedule := portal.Schedule
		if schedule == "" {
			schedule = defaultSchedule
		}
		if schedule == "" {
			continue
		}
		if err := s.Register(portal, schedule); err != nil {
			s.logger.Error().Err(err).
				Str("portal", portal.Name).
				Str("schedule", schedule).
				Msg("Failed to schedule portal")
			continue
		}
		registered++
	}
	return registered
}

// Register adds a cron entry for one portal
func (s *Scheduler) Register(portal *models.Portal, schedule string) error {
	if err := common.ValidateSchedule(schedule); err != nil {
		return fmt.Errorf("portal %q: %w", portal.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[portal.Name]; exists {
		return fmt.Errorf("portal %q already scheduled", portal.Name)
	}

	p := portal
	id, err := s.cron.AddFunc(schedule, func() {
		s.runPortal(p)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron entry for portal %q: %w", portal.Name, err)
	}
	s.entries[portal.Name] = id

	s.logger.Info().
		Str("portal", portal.Name).
		Str("schedule", schedule).
		Msg("Portal scheduled")

	return nil
}

// Start begins firing entries
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.Start()
	s.running = true

	for name, id := range s.entries {
		next := s.cron.Entry(id).Next
		s.logger.Info().
			Str("portal", name).
			Str("next_run", next.Format(time.RFC3339)).
			Msg("Scheduler entry armed")
	}
	s.logger.Info().Int("entries", len(s.entries)).Msg("Scheduler started")
}

// Stop halts new ticks and waits for in-flight scheduled runs to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Scheduler stopped")
}

// NextRuns reports the upcoming fire time per scheduled portal
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		next[name] = s.cron.Entry(id).Next
	}
	return next
}

// runPortal executes one scheduled tick
func (s *Scheduler) runPortal(portal *models.Portal) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("portal", portal.Name).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Panic recovered in scheduled run")
		}
	}()

	if s.orch.IsRunning(portal.Name) {
		s.logger.Warn().
			Str("portal", portal.Name).
			Msg("Scheduled tick skipped, portal run still in progress")
		return
	}

	s.logger.Info().Str("portal", portal.Name).Msg("Scheduled run starting")

	summary, err := s.orch.RunPortal(context.Background(), portal, models.ScopeOnlyNew)
	if err != nil {
		s.logger.Error().Err(err).Str("portal", portal.Name).Msg("Scheduled run failed")
		return
	}

	s.logger.Info().
		Str("portal", portal.Name).
		Str("status", string(summary.Status)).
		Int("extracted", summary.Counters.ExtractedTotalTenders).
		Msg("Scheduled run finished")
}
