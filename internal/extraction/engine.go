package extraction

import (
	"context"
	"errors"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/interfaces"
	"github.com/ternarybob/quaestor/internal/models"
)

// progressEvery is the detail-fetch cadence for progress events
const progressEvery = 10

// TenderSink receives each extracted tender as soon as it exists; the
// run accumulator behind it owns dedup and persistence.
type TenderSink func(*models.Tender)

// Engine drives one department through a skill: open the department, walk
// its tender rows, partition rows against the live skip snapshot, and fetch
// detail pages for the rows that are new or changed. Recoverable failures
// are folded into the DepartmentResult rather than raised.
type Engine struct {
	config *common.ScraperConfig
	logger arbor.ILogger
	bus    interfaces.EventBus
	retry  *RetryPolicy
	limits *PortalLimiter
}

// NewEngine wires the extraction engine
func NewEngine(config *common.ScraperConfig, logger arbor.ILogger, bus interfaces.EventBus, limits *PortalLimiter) *Engine {
	return &Engine{
		config: config,
		logger: logger,
		bus:    bus,
		retry:  NewRetryPolicy(config),
		limits: limits,
	}
}

// ProcessDepartment extracts one department. The skip snapshot maps
// normalized tender ids to normalized closing text for tenders already
// stored and still live: an id found there with identical closing text is
// skipped without a detail visit, and one with different closing text is
// re-extracted and reported in ChangedIDs.
func (e *Engine) ProcessDepartment(
	ctx context.Context,
	session interfaces.BrowserSession,
	skill interfaces.PortalSkill,
	portal *models.Portal,
	dept *models.Department,
	runID uint64,
	workerID int,
	skip map[string]string,
	sink TenderSink,
) *models.DepartmentResult {
	start := time.Now()
	log := e.logger.WithCorrelationId(portal.Name)

	result := &models.DepartmentResult{
		Department: *dept,
		Expected:   dept.TenderCount,
		WorkerID:   workerID,
	}
	defer func() {
		result.Duration = time.Since(start)
	}()

	opened := false
	err := e.retry.Do(ctx, log, "open department", func() error {
		ok, err := skill.OpenDepartment(ctx, session, portal, dept)
		opened = ok
		return err
	})
	if err != nil {
		return e.failDepartment(result, portal, runID, workerID, err)
	}
	if !opened {
		result.Reason = models.DeptReasonOpenFailed
		log.Warn().Str("department", dept.Name).Msg("Department has no navigable tender list")
		return result
	}

	var rows []models.TenderRow
	err = e.retry.Do(ctx, log, "extract tender rows", func() error {
		var rerr error
		rows, rerr = skill.ExtractTenderRows(ctx, session)
		return rerr
	})
	if err != nil && len(rows) == 0 {
		return e.failDepartment(result, portal, runID, workerID, err)
	}
	if err != nil {
		// Partial row walk: keep what we have and record the break.
		result.Errors = append(result.Errors, err.Error())
		result.Partial = true
	}

	if len(rows) > e.config.OversizedCeiling {
		result.Reason = models.DeptReasonOversized
		log.Warn().
			Str("department", dept.Name).
			Int("rows", len(rows)).
			Int("ceiling", e.config.OversizedCeiling).
			Msg("Department exceeds oversized ceiling, skipping")
		e.publishError(portal, runID, workerID, models.ErrKindOversized, dept.Name)
		return result
	}

	toVisit, changed := e.partitionRows(portal, rows, skip, result)

	log.Info().
		Str("department", dept.Name).
		Int("rows", len(rows)).
		Int("to_visit", len(toVisit)).
		Int("skipped_existing", result.SkippedExisting).
		Msg("Department rows partitioned")

	for i := range toVisit {
		if ctx.Err() != nil {
			result.Reason = models.DeptReasonCancelled
			result.Partial = true
			return result
		}

		row := &toVisit[i]
		if err := e.limits.Wait(ctx, portal); err != nil {
			result.Reason = models.DeptReasonCancelled
			result.Partial = true
			return result
		}

		var tender *models.Tender
		err := e.retry.Do(ctx, log, "extract tender details", func() error {
			t, derr := skill.ExtractTenderDetails(ctx, session, portal, row)
			if derr != nil {
				return derr
			}
			tender = t
			return nil
		})
		if err != nil {
			switch models.KindOf(err) {
			case models.ErrKindCaptcha:
				result.Reason = models.DeptReasonCaptchaRequired
				result.Partial = true
				e.publishError(portal, runID, workerID, models.ErrKindCaptcha, dept.Name)
				return result
			case models.ErrKindPoisoned:
				// Session is dead; the worker replaces it and the department
				// re-queues, so stop here rather than burn the remaining rows.
				result.Errors = append(result.Errors, err.Error())
				result.Partial = true
				return result
			default:
				if errors.Is(err, context.Canceled) {
					result.Reason = models.DeptReasonCancelled
					result.Partial = true
					return result
				}
				result.Errors = append(result.Errors, err.Error())
				continue
			}
		}

		if tender == nil {
			// Soft miss: the row vanished between list walk and detail visit.
			result.SoftMiss++
			log.Debug().
				Str("department", dept.Name).
				Str("tender_id", row.TenderID).
				Msg("Tender detail soft miss")
			continue
		}

		tender.DepartmentName = dept.Name
		tender.RunID = runID
		sink(tender)
		result.Extracted++

		id := common.NormalizeTenderID(row.TenderID)
		if changed[id] {
			result.ChangedIDs = append(result.ChangedIDs, id)
			delete(changed, id)
		}

		if result.Extracted%progressEvery == 0 {
			e.publishProgress(portal, runID, workerID, dept.Name, result.Extracted, len(toVisit))
		}
	}

	e.publishProgress(portal, runID, workerID, dept.Name, result.Extracted, len(toVisit))
	return result
}

// partitionRows splits a department's rows into visits and skips. Invalid
// ids never get a detail visit; ids in the snapshot with unchanged closing
// text are counted and skipped; the rest are visited, with ids whose
// closing text moved tracked in the returned change set.
func (e *Engine) partitionRows(portal *models.Portal, rows []models.TenderRow, skip map[string]string, result *models.DepartmentResult) ([]models.TenderRow, map[string]bool) {
	toVisit := make([]models.TenderRow, 0, len(rows))
	changed := make(map[string]bool)

	for _, row := range rows {
		if common.IsInvalidTenderID(row.TenderID) {
			continue
		}
		id := common.NormalizeTenderID(row.TenderID)
		snapClosing, inSnapshot := skip[id]
		if inSnapshot {
			if common.NormalizeClosingText(row.ClosingAtText) == snapClosing {
				result.SkippedExisting++
				continue
			}
			changed[id] = true
		}
		toVisit = append(toVisit, row)
	}

	return toVisit, changed
}

// failDepartment folds a department-opening failure into the result
func (e *Engine) failDepartment(result *models.DepartmentResult, portal *models.Portal, runID uint64, workerID int, err error) *models.DepartmentResult {
	switch models.KindOf(err) {
	case models.ErrKindCaptcha:
		result.Reason = models.DeptReasonCaptchaRequired
		e.publishError(portal, runID, workerID, models.ErrKindCaptcha, result.Department.Name)
	default:
		if errors.Is(err, context.Canceled) {
			result.Reason = models.DeptReasonCancelled
			result.Partial = true
			return result
		}
		result.Reason = models.DeptReasonOpenFailed
	}
	result.Errors = append(result.Errors, err.Error())
	return result
}

func (e *Engine) publishProgress(portal *models.Portal, runID uint64, workerID int, dept string, current, total int) {
	event := models.NewEvent(models.EventProgress)
	event.RunID = runID
	event.Portal = portal.Name
	event.WorkerID = workerID
	event.Department = dept
	event.Current = current
	event.Total = total
	e.bus.Publish(event)
}

func (e *Engine) publishError(portal *models.Portal, runID uint64, workerID int, kind models.ErrorKind, dept string) {
	event := models.NewEvent(models.EventError)
	event.RunID = runID
	event.Portal = portal.Name
	event.WorkerID = workerID
	event.Department = dept
	event.ErrorKind = string(kind)
	e.bus.Publish(event)
}
