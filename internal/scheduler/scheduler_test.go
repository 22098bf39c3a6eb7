package scheduler

import (
	"testing"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/models"
	"github.com/ternarybob/quaestor/internal/orchestrator"
)

func newTestScheduler() *Scheduler {
	logger := arbor.NewLogger()
	orch := orchestrator.New(common.NewDefaultConfig(), logger, nil, nil, nil, nil)
	return New(logger, orch)
}

func portal(name, schedule string) *models.Portal {
	return &models.Portal{
		Name:     name,
		BaseURL:  "https://etenders.example.in/nicgep/app",
		Schedule: schedule,
	}
}

func TestRegisterValidSchedule(t *testing.T) {
	s := newTestScheduler()

	if err := s.Register(portal("Haryana", ""), "0 6 * * *"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := s.Register(portal("Haryana", ""), "0 7 * * *"); err == nil {
		t.Error("duplicate portal registration must fail")
	}
}

func TestRegisterRejectsInvalidSchedules(t *testing.T) {
	s := newTestScheduler()

	cases := []struct {
		name     string
		schedule string
	}{
		{"malformed", "not a cron line"},
		{"too few fields", "0 6 *"},
		{"every minute", "* * * * *"},
		{"under five minutes", "*/2 * * * *"},
	}
	for _, tc := range cases {
		if err := s.Register(portal("Haryana", ""), tc.schedule); err == nil {
			t.Errorf("%s schedule %q accepted", tc.name, tc.schedule)
		}
	}
}

func TestRegisterPortalsFallsBackToDefault(t *testing.T) {
	s := newTestScheduler()

	// Haryana has its own schedule, Punjab falls back to the default,
	// Assam's expression is invalid and must be skipped.
	portals := []*models.Portal{
		portal("Haryana", "0 6 * * *"),
		portal("Punjab", ""),
		portal("Assam", "broken"),
	}

	registered := s.RegisterPortals(portals, "30 5 * * *")
	if registered != 2 {
		t.Errorf("registered = %d, want 2", registered)
	}

	next := s.NextRuns()
	if _, ok := next["Haryana"]; !ok {
		t.Error("Haryana not scheduled")
	}
	if _, ok := next["Punjab"]; !ok {
		t.Error("Punjab not scheduled under the default")
	}
	if _, ok := next["Assam"]; ok {
		t.Error("Assam scheduled despite a broken expression")
	}
}

func TestRegisterPortalsWithoutAnySchedule(t *testing.T) {
	s := newTestScheduler()

	registered := s.RegisterPortals([]*models.Portal{portal("Haryana", "")}, "")
	if registered != 0 {
		t.Errorf("registered = %d, want portals without schedules left alone", registered)
	}
}

func TestStartArmsEntries(t *testing.T) {
	s := newTestScheduler()
	if err := s.Register(portal("Haryana", ""), "0 6 * * *"); err != nil {
		t.Fatal(err)
	}

	s.Start()
	defer s.Stop()

	next := s.NextRuns()
	if at, ok := next["Haryana"]; !ok || at.IsZero() {
		t.Errorf("next run not armed: %v", next)
	}

	// Start is idempotent.
	s.Start()
}

func TestStopWithoutStart(t *testing.T) {
	s := newTestScheduler()
	s.Stop()
}
