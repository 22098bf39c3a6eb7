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

const (
	// maxWorkerRestarts bounds how often a panicking worker is replaced
	// before the pool shrinks by one.
	maxWorkerRestarts = 2

	// sessionRetryAttempts bounds browser launch attempts per worker
	sessionRetryAttempts = 3
)

// deptTask is one unit of pool work. A department whose session was
// poisoned mid-extraction re-queues exactly once.
type deptTask struct {
	dept     models.Department
	attempts int
}

// WorkerPool fans a run's department list across browser workers. Each
// worker owns its browser session; departments are consumed in portal
// order from a shared queue. Worker panics replace the worker up to
// maxWorkerRestarts, after which the pool shrinks rather than thrash.
type WorkerPool struct {
	config   *common.ScraperConfig
	logger   arbor.ILogger
	bus      interfaces.EventBus
	engine   *extraction.Engine
	sessions interfaces.SessionFactory
	skill    interfaces.PortalSkill

	portal *models.Portal
	runID  uint64
	skip   map[string]string
	acc    *Accumulator

	tasks    chan *deptTask
	taskWG   sync.WaitGroup
	workerWG sync.WaitGroup

	mu      sync.Mutex
	current map[int]string
}

// NewWorkerPool wires a pool for one run
func NewWorkerPool(
	config *common.ScraperConfig,
	logger arbor.ILogger,
	bus interfaces.EventBus,
	engine *extraction.Engine,
	sessions interfaces.SessionFactory,
	skill interfaces.PortalSkill,
	portal *models.Portal,
	runID uint64,
	skip map[string]string,
	acc *Accumulator,
) *WorkerPool {
	return &WorkerPool{
		config:   config,
		logger:   logger,
		bus:      bus,
		engine:   engine,
		sessions: sessions,
		skill:    skill,
		portal:   portal,
		runID:    runID,
		skip:     skip,
		acc:      acc,
		current:  make(map[int]string),
	}
}

// Run processes the departments and returns when all are accounted for:
// extracted, skipped with a reason, or abandoned to cancellation.
func (p *WorkerPool) Run(ctx context.Context, departments []models.Department) error {
	if len(departments) == 0 {
		return nil
	}

	workers := p.config.Workers
	p.logger.Info().
		Str("portal", p.portal.Name).
		Int("departments", len(departments)).
		Int("workers", workers).
		Msg("Starting worker pool")

	// Capacity covers every task plus one requeue each, so a worker can
	// always requeue without blocking.
	p.tasks = make(chan *deptTask, 2*len(departments))
	p.taskWG.Add(len(departments))
	for i := range departments {
		p.tasks <- &deptTask{dept: departments[i]}
	}

	common.SafeGo(p.logger, "taskQueueCloser", func() {
		p.taskWG.Wait()
		close(p.tasks)
	})

	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	common.SafeGoWithContext(hbCtx, p.logger, "workerHeartbeats", func() {
		p.heartbeatLoop(hbCtx)
	})

	for i := 0; i < workers; i++ {
		p.workerWG.Add(1)
		go p.worker(ctx, i, 0)
	}
	p.workerWG.Wait()

	p.drainAbandoned(ctx)
	return nil
}

// worker consumes tasks until the queue closes or the run is cancelled.
// The restarts counter survives replacement so a poisoned environment
// cannot respawn workers forever.
func (p *WorkerPool) worker(ctx context.Context, id, restarts int) {
	defer p.workerWG.Done()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Int("worker_id", id).
				Str("panic", fmt.Sprintf("%v", r)).
				Int("restarts", restarts).
				Msg("Worker panicked")
			if restarts < maxWorkerRestarts {
				p.workerWG.Add(1)
				go p.worker(ctx, id, restarts+1)
			} else {
				p.logger.Error().
					Int("worker_id", id).
					Msg("Worker restart budget exhausted, pool shrinks")
			}
		}
	}()

	session := p.newSessionWithRetry(ctx, id)
	if session == nil {
		return
	}
	defer func() {
		if session != nil {
			session.Close()
		}
	}()

	p.logger.Debug().Int("worker_id", id).Str("session", session.ID()).Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}

			p.setCurrent(id, task.dept.Name)
			p.publishHeartbeat(id, task.dept.Name)
			p.processTask(ctx, id, session, task)
			p.setCurrent(id, "")

			if session.Poisoned() {
				session.Close()
				session = p.newSessionWithRetry(ctx, id)
				if session == nil {
					return
				}
				p.logger.Info().
					Int("worker_id", id).
					Str("session", session.ID()).
					Msg("Worker replaced poisoned session")
			}
		}
	}
}

// processTask runs one department and settles its task accounting. A task
// whose session was poisoned re-queues once with its counters unabsorbed;
// the re-run produces the department's one authoritative result.
func (p *WorkerPool) processTask(ctx context.Context, workerID int, session interfaces.BrowserSession, task *deptTask) {
	requeued := false
	defer func() {
		if !requeued {
			p.taskWG.Done()
		}
	}()

	result := p.engine.ProcessDepartment(ctx, session, p.skill, p.portal, &task.dept, p.runID, workerID, p.skip, p.acc.AddTender)

	if result.Partial && session.Poisoned() && task.attempts == 0 && ctx.Err() == nil {
		task.attempts++
		p.tasks <- task
		requeued = true
		p.logger.Warn().
			Int("worker_id", workerID).
			Str("department", task.dept.Name).
			Msg("Session poisoned mid-department, requeued once")
		return
	}

	p.acc.AbsorbResult(result)

	log := p.logger.Info()
	if len(result.Errors) > 0 || result.Reason != "" {
		log = p.logger.Warn()
	}
	log.
		Int("worker_id", workerID).
		Str("department", task.dept.Name).
		Int("expected", result.Expected).
		Int("extracted", result.Extracted).
		Int("skipped_existing", result.SkippedExisting).
		Int("soft_miss", result.SoftMiss).
		Str("reason", result.Reason).
		Dur("duration", result.Duration).
		Msg("Department finished")
}

// drainAbandoned settles tasks left behind when every worker has exited,
// either to cancellation or to exhausted restart budgets.
func (p *WorkerPool) drainAbandoned(ctx context.Context) {
	reason := models.DeptReasonWorkersLost
	if ctx.Err() != nil {
		reason = models.DeptReasonCancelled
	}

	abandoned := 0
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.acc.RecordSkippedDepartment(models.DepartmentResult{
				Department: task.dept,
				Expected:   task.dept.TenderCount,
				Reason:     reason,
				Partial:    true,
			})
			p.taskWG.Done()
			abandoned++
		default:
			if abandoned > 0 {
				p.logger.Warn().
					Str("portal", p.portal.Name).
					Int("abandoned", abandoned).
					Str("reason", reason).
					Msg("Departments left unprocessed")
			}
			return
		}
	}
}

func (p *WorkerPool) newSessionWithRetry(ctx context.Context, workerID int) interfaces.BrowserSession {
	for attempt := 0; attempt < sessionRetryAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		session, err := p.sessions.NewSession(ctx)
		if err == nil {
			return session
		}
		p.logger.Warn().Err(err).
			Int("worker_id", workerID).
			Int("attempt", attempt+1).
			Msg("Browser session launch failed")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Duration(attempt+1) * 2 * time.Second):
		}
	}
	p.logger.Error().Int("worker_id", workerID).Msg("Could not launch a browser session, worker exits")
	return nil
}

func (p *WorkerPool) setCurrent(workerID int, task string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if task == "" {
		delete(p.current, workerID)
		return
	}
	p.current[workerID] = task
}

// heartbeatLoop publishes a heartbeat for every busy worker so the stuck
// monitor can tell a long department from a hung one.
func (p *WorkerPool) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(p.config.HeartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			busy := make(map[int]string, len(p.current))
			for id, task := range p.current {
				busy[id] = task
			}
			p.mu.Unlock()

			for id, task := range busy {
				p.publishHeartbeat(id, task)
			}
		}
	}
}

func (p *WorkerPool) publishHeartbeat(workerID int, task string) {
	event := models.NewEvent(models.EventHeartbeat)
	event.RunID = p.runID
	event.Portal = p.portal.Name
	event.WorkerID = workerID
	event.Task = task
	p.bus.Publish(event)
}
