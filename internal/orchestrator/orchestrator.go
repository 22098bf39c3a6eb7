package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/extraction"
	"github.com/ternarybob/quaestor/internal/interfaces"
	"github.com/ternarybob/quaestor/internal/models"
)

// finalizeTimeout bounds the post-cancellation persistence window
const finalizeTimeout = 60 * time.Second

// activeRun tracks one in-flight portal run. runID and scope are settled
// after the run is already visible in the active map, so they live behind
// the mutex with phase.
type activeRun struct {
	portalName string
	startedAt  time.Time
	cancel     context.CancelFunc

	mu    sync.Mutex
	runID uint64
	scope models.ScopeMode
	phase models.RunPhase
}

func (r *activeRun) setPhase(phase models.RunPhase) {
	r.mu.Lock()
	r.phase = phase
	r.mu.Unlock()
}

func (r *activeRun) currentPhase() models.RunPhase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

func (r *activeRun) setRun(runID uint64, scope models.ScopeMode) {
	r.mu.Lock()
	r.runID = runID
	r.scope = scope
	r.mu.Unlock()
}

func (r *activeRun) currentRunID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

func (r *activeRun) currentScope() models.ScopeMode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scope
}

// ActiveRunInfo is the externally visible state of an in-flight run
type ActiveRunInfo struct {
	RunID      uint64          `json:"run_id"`
	PortalName string          `json:"portal_name"`
	ScopeMode  models.ScopeMode `json:"scope_mode"`
	Phase      models.RunPhase `json:"phase"`
	StartedAt  time.Time       `json:"started_at"`
}

// Orchestrator conducts portal runs end to end: preflight, department
// listing, delta planning, the worker pool, and finalization. One portal
// runs at a time; different portals may run concurrently.
type Orchestrator struct {
	config   *common.Config
	logger   arbor.ILogger
	storage  interfaces.StorageManager
	bus      interfaces.EventBus
	skills   interfaces.SkillRegistry
	sessions interfaces.SessionFactory
	limits   *extraction.PortalLimiter

	mu     sync.Mutex
	active map[string]*activeRun
}

// New creates the orchestrator
func New(
	config *common.Config,
	logger arbor.ILogger,
	storage interfaces.StorageManager,
	bus interfaces.EventBus,
	skills interfaces.SkillRegistry,
	sessions interfaces.SessionFactory,
) *Orchestrator {
	return &Orchestrator{
		config:   config,
		logger:   logger,
		storage:  storage,
		bus:      bus,
		skills:   skills,
		sessions: sessions,
		limits:   extraction.NewPortalLimiter(config.Scraper.DefaultRateLimitRPM),
		active:   make(map[string]*activeRun),
	}
}

// IsRunning reports whether the portal has a run in flight
func (o *Orchestrator) IsRunning(portalName string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.active[common.NormalizePortalName(portalName)]
	return ok
}

// ActiveRuns lists the in-flight runs
func (o *Orchestrator) ActiveRuns() []ActiveRunInfo {
	o.mu.Lock()
	defer o.mu.Unlock()

	infos := make([]ActiveRunInfo, 0, len(o.active))
	for _, ar := range o.active {
		infos = append(infos, ActiveRunInfo{
			RunID:      ar.currentRunID(),
			PortalName: ar.portalName,
			ScopeMode:  ar.currentScope(),
			Phase:      ar.currentPhase(),
			StartedAt:  ar.startedAt,
		})
	}
	return infos
}

// CancelRun cancels the run with the given id, reporting whether it was
// found. The run still drains through its finalizing phase.
func (o *Orchestrator) CancelRun(runID uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ar := range o.active {
		if ar.currentRunID() == runID {
			ar.cancel()
			return true
		}
	}
	return false
}

// Shutdown cancels every in-flight run
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ar := range o.active {
		ar.cancel()
	}
}

// RunPortal scrapes one portal to completion and returns its summary. A
// second call for the same portal while one is in flight fails fast; the
// orchestrator never interleaves two runs of one portal.
func (o *Orchestrator) RunPortal(ctx context.Context, portal *models.Portal, scope models.ScopeMode) (*models.RunSummary, error) {
	norm := common.NormalizePortalName(portal.Name)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ar := &activeRun{
		portalName: portal.Name,
		scope:      scope,
		startedAt:  time.Now(),
		cancel:     cancel,
		phase:      models.PhasePreflight,
	}

	o.mu.Lock()
	if _, exists := o.active[norm]; exists {
		o.mu.Unlock()
		return nil, fmt.Errorf("portal %q already has a run in progress", portal.Name)
	}
	o.active[norm] = ar
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.active, norm)
		o.mu.Unlock()
	}()

	log := o.logger.WithCorrelationId(common.PortalSlug(portal.Name))

	skillID := portal.SkillID
	if skillID == "" {
		skillID = "nic"
	}
	skill, err := o.skills.Get(skillID)
	if err != nil {
		return nil, models.NewScrapeError(models.ErrKindFatalConfig, fmt.Sprintf("portal %q", portal.Name), err)
	}

	// Resume takes precedence over everything else: a non-terminal run with
	// a checkpoint picks up where it stopped, with its original scope.
	var resumedCheckpoint *models.Checkpoint
	if cp := LoadCheckpoint(runCtx, &o.config.Scraper, o.storage, log, portal.Name); cp != nil {
		run, err := o.storage.Runs().GetRun(runCtx, cp.RunID)
		if err == nil && run != nil && !run.Status.IsTerminal() {
			resumedCheckpoint = cp
			scope = run.ScopeMode
		} else {
			log.Info().Int64("run_id", int64(cp.RunID)).Msg("Stale checkpoint discarded")
			DiscardCheckpoint(runCtx, &o.config.Scraper, o.storage, log, portal.Name)
		}
	}

	// Cheap change probe: an unchanged portal with prior history needs no
	// run at all in only-new mode.
	if resumedCheckpoint == nil && scope == models.ScopeOnlyNew {
		if hint, _ := skill.DetectFastChange(runCtx, portal); hint == models.ChangeHintUnchanged {
			last, err := o.storage.Runs().GetLastCompletedRun(runCtx, portal.Name)
			if err == nil && last != nil {
				log.Info().Str("portal", portal.Name).Msg("Fast change probe reports no changes, skipping run")
				o.publishLog(0, portal.Name, "info", "fast change probe: portal unchanged, run skipped")
				return &models.RunSummary{
					PortalName: portal.Name,
					ScopeMode:  scope,
					Status:     models.RunStatusCompleted,
					StartedAt:  ar.startedAt,
				}, nil
			}
		}
	}

	var runID uint64
	if resumedCheckpoint != nil {
		runID = resumedCheckpoint.RunID
	} else {
		runID, err = o.storage.Runs().BeginRun(runCtx, portal.Name, scope)
		if err != nil {
			return nil, models.NewScrapeError(models.ErrKindDatastoreIO, "begin run", err)
		}
	}
	ar.setRun(runID, scope)

	acc := NewAccumulator(portal.Name, runID)
	if resumedCheckpoint != nil {
		acc.SeedFromCheckpoint(resumedCheckpoint)
		log.Info().
			Int64("run_id", int64(runID)).
			Int("tenders", len(resumedCheckpoint.AllTenderDetails)).
			Int("departments_done", len(resumedCheckpoint.ProcessedDepartmentNamesNorm)).
			Str("saved_at", resumedCheckpoint.SavedAtISO).
			Msg("Resuming run from checkpoint")
		o.publishLog(runID, portal.Name, "info", "resuming run from checkpoint")
	}

	startEvent := models.NewEvent(models.EventStart)
	startEvent.RunID = runID
	startEvent.Portal = portal.Name
	startEvent.Message = string(scope)
	o.bus.Publish(startEvent)

	log.Info().
		Int64("run_id", int64(runID)).
		Str("scope", string(scope)).
		Msg("Run starting")

	summary, err := o.executeRun(runCtx, log, ar, skill, portal, scope, acc, resumedCheckpoint != nil)
	if err != nil {
		return summary, err
	}
	return summary, nil
}

// executeRun drives the phases after the run row exists. Failures from
// here on finalize the run row before returning.
func (o *Orchestrator) executeRun(
	runCtx context.Context,
	log arbor.ILogger,
	ar *activeRun,
	skill interfaces.PortalSkill,
	portal *models.Portal,
	scope models.ScopeMode,
	acc *Accumulator,
	resuming bool,
) (*models.RunSummary, error) {
	runID := ar.currentRunID()

	fail := func(stage string, err error) (*models.RunSummary, error) {
		msg := fmt.Sprintf("%s: %v", stage, err)
		log.Error().Err(err).Str("stage", stage).Int64("run_id", int64(runID)).Msg("Run failed")

		finalCtx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
		defer cancel()
		if ferr := o.storage.Runs().FinalizeRun(finalCtx, runID, models.RunStatusFailed, msg); ferr != nil {
			log.Warn().Err(ferr).Msg("Failed to finalize failed run")
		}

		event := models.NewEvent(models.EventError)
		event.RunID = runID
		event.Portal = portal.Name
		event.ErrorKind = string(models.KindOf(err))
		event.ErrorDetail = msg
		o.bus.Publish(event)

		return acc.Summary(scope, models.RunStatusFailed, ar.startedAt, msg), err
	}

	// Departments
	ar.setPhase(models.PhaseFetchingDepartments)
	o.publishStatus(runID, portal.Name, models.PhaseFetchingDepartments)

	session, err := o.sessions.NewSession(runCtx)
	if err != nil {
		return fail("browser launch", err)
	}
	departments, err := skill.ListDepartments(runCtx, session, portal)
	session.Close()
	if err != nil {
		return fail("department listing", err)
	}

	deptsEvent := models.NewEvent(models.EventDepartmentsLoaded)
	deptsEvent.RunID = runID
	deptsEvent.Portal = portal.Name
	deptsEvent.Total = len(departments)
	o.bus.Publish(deptsEvent)

	counts := make([]models.DepartmentCount, 0, len(departments))
	for _, dept := range departments {
		counts = append(counts, models.DepartmentCount{NameNorm: dept.NameNorm, TenderCount: dept.TenderCount})
	}
	if err := o.storage.Runs().SetDepartmentSnapshot(runCtx, runID, counts); err != nil {
		log.Warn().Err(err).Msg("Department snapshot write failed")
	}

	// Delta
	ar.setPhase(models.PhaseComputingDelta)
	o.publishStatus(runID, portal.Name, models.PhaseComputingDelta)

	skip := map[string]string{}
	if scope == models.ScopeOnlyNew {
		skip, err = o.storage.Tenders().GetLiveSkipSnapshot(runCtx, portal.Name, common.NowIST())
		if err != nil {
			return fail("skip snapshot", err)
		}
	}

	lastRun, err := o.storage.Runs().GetLastCompletedRun(runCtx, portal.Name)
	if err != nil {
		log.Warn().Err(err).Msg("Last completed run lookup failed, treating portal as new")
		lastRun = nil
	}

	plan := computeDelta(log, scope, departments, lastRun, o.config.Scraper.VerificationSweepCap, runID)
	if resuming {
		before := len(plan.toProcess)
		plan = filterProcessed(plan, acc)
		log.Info().
			Int("remaining", len(plan.toProcess)).
			Int("already_done", before-len(plan.toProcess)).
			Msg("Resume filtered processed departments")
	}
	for _, skipped := range plan.skipped {
		acc.RecordSkippedDepartment(skipped)
	}

	// Scraping
	ar.setPhase(models.PhaseScheduling)
	o.publishStatus(runID, portal.Name, models.PhaseScheduling)

	engine := extraction.NewEngine(&o.config.Scraper, o.logger, o.bus, o.limits)
	saver := NewCheckpointSaver(&o.config.Scraper, o.logger, o.storage, o.bus, acc, portal.Name, runID)
	saver.Start(runCtx)

	ar.setPhase(models.PhaseScraping)
	o.publishStatus(runID, portal.Name, models.PhaseScraping)

	pool := NewWorkerPool(&o.config.Scraper, o.logger, o.bus, engine, o.sessions, skill, portal, runID, skip, acc)
	_ = pool.Run(runCtx, plan.toProcess)

	// Finalize: always on a background context so cancellation cannot
	// block the final persistence.
	ar.setPhase(models.PhaseFinalizing)
	o.publishStatus(runID, portal.Name, models.PhaseFinalizing)

	saver.Stop()

	finalCtx, cancelFinal := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancelFinal()

	status := models.RunStatusCompleted
	errorMessage := ""
	if runCtx.Err() != nil {
		status = models.RunStatusCancelled
		errorMessage = "run cancelled"
	}

	if err := saver.Flush(finalCtx); err != nil {
		status = models.RunStatusFailed
		errorMessage = fmt.Sprintf("final flush: %v", err)
		log.Error().Err(err).Msg("Final checkpoint flush failed")
	}

	if err := o.storage.Runs().FinalizeRun(finalCtx, runID, status, errorMessage); err != nil {
		log.Warn().Err(err).Msg("Run finalize write failed")
	}

	if status == models.RunStatusCompleted {
		DiscardCheckpoint(finalCtx, &o.config.Scraper, o.storage, log, portal.Name)
		if err := o.storage.Backups().RunBackups(finalCtx); err != nil {
			log.Warn().Err(err).Msg("Post-run backups failed")
		}
	}

	summary := acc.Summary(scope, status, ar.startedAt, errorMessage)

	eventType := models.EventComplete
	if status == models.RunStatusCancelled {
		eventType = models.EventCancelled
	}
	finalEvent := models.NewEvent(eventType)
	finalEvent.RunID = runID
	finalEvent.Portal = portal.Name
	finalEvent.Summary = summary
	o.bus.Publish(finalEvent)

	log.Info().
		Int64("run_id", int64(runID)).
		Str("status", string(status)).
		Int("extracted", summary.Counters.ExtractedTotalTenders).
		Int("skipped_existing", summary.Counters.SkippedExistingTotal).
		Int("changed_closing", summary.Counters.ChangedClosingDateCount).
		Int("soft_miss", summary.Counters.SoftMissTotal).
		Int("departments", summary.Counters.ProcessedDepartments).
		Dur("duration", summary.Duration).
		Msg("Run finished")

	return summary, nil
}

func (o *Orchestrator) publishStatus(runID uint64, portal string, phase models.RunPhase) {
	event := models.NewEvent(models.EventStatus)
	event.RunID = runID
	event.Portal = portal
	event.Phase = string(phase)
	o.bus.Publish(event)
}

func (o *Orchestrator) publishLog(runID uint64, portal, level, message string) {
	event := models.NewEvent(models.EventLog)
	event.RunID = runID
	event.Portal = portal
	event.Level = level
	event.Message = message
	o.bus.Publish(event)
}
