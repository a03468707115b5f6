package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"petition-hand/config"
	"petition-hand/docservice"
	"petition-hand/models"
	"petition-hand/validators"
)

// DocClient is the slice of the document service the orchestrator needs.
type DocClient interface {
	Submit(ctx context.Context, templateSlug string, fields map[string]string) (string, error)
	Status(ctx context.Context, taskID string) (*docservice.TaskStatus, error)
	Fetch(ctx context.Context, link string) ([]byte, error)
}

// Archiver stores the finished document and returns its archive link.
// Optional: a nil archiver skips archival.
type Archiver interface {
	Archive(ctx context.Context, key string, data []byte) (string, error)
}

// Generator orchestrates document generation jobs: local validation,
// submission to the document service, and status polling until a terminal
// state.
type Generator struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *gorm.DB
	doc      DocClient
	registry *FormRegistry
	archiver Archiver
}

// NewGenerator creates the orchestrator.
func NewGenerator(cfg *config.Config, db *gorm.DB, doc DocClient, registry *FormRegistry, archiver Archiver, logger *zap.Logger) *Generator {
	return &Generator{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		doc:      doc,
		registry: registry,
		archiver: archiver,
	}
}

// ErrValidation marks a submission blocked by local field validation; the
// field-level errors travel alongside.
var ErrValidation = errors.New("form validation failed")

// Submit validates the session's full field set and, when clean, sends it
// to the document service. Required keys come from the session's template
// placeholders merged with any caller-supplied extras, so a required
// placeholder is enforced even when the request names none. Validation
// failure surfaces the field errors and makes no network call; a transient
// submission failure leaves no side effects, so the user can simply submit
// again. On acceptance a PENDING job row is created.
func (g *Generator) Submit(ctx context.Context, session *FormSession, required []string) (*models.GenerationJob, []validators.FieldError, error) {
	required = mergeKeys(session.RequiredFields(), required)
	fields := session.Values()
	if errs := validators.ValidateForm(fields, required); len(errs) > 0 {
		g.logger.Info("submission blocked by validation",
			zap.String("slug", session.Slug), zap.Int("field_errors", len(errs)))
		return nil, errs, ErrValidation
	}

	taskID, err := g.doc.Submit(ctx, session.TemplateSlug, fields)
	if err != nil {
		g.logger.Error("generation submission failed", zap.String("slug", session.Slug), zap.Error(err))
		return nil, nil, err
	}

	job := &models.GenerationJob{
		ID:           uuid.NewString(),
		TemplateSlug: session.TemplateSlug,
		RemoteTaskID: taskID,
		Status:       models.JobPending,
	}
	if err := g.db.WithContext(ctx).Create(job).Error; err != nil {
		g.logger.Error("failed to persist generation job", zap.Error(err))
		return nil, nil, err
	}

	g.logger.Info("generation job accepted",
		zap.String("job_id", job.ID), zap.String("task_id", taskID))
	return job, nil, nil
}

func mergeKeys(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, k := range append(a, b...) {
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

var statusRank = map[string]int{
	models.JobPending:    0,
	models.JobProcessing: 1,
	models.JobSuccess:    2,
	models.JobFailure:    2,
}

// MergeUpdate folds one status report into the job, idempotently. Reports
// arriving late, duplicated or out of order are ignored unless they carry
// new information: progress only ever moves forward, and a terminal
// status always takes precedence. Returns whether the job changed.
func MergeUpdate(job *models.GenerationJob, update docservice.TaskStatus) bool {
	if job.Terminal() {
		return false
	}

	terminal := update.Status == models.JobSuccess || update.Status == models.JobFailure
	if terminal {
		job.Status = update.Status
		if update.Status == models.JobSuccess {
			job.Progress = 100
			job.ResultLink = update.Link
		} else {
			job.Error = update.Error
			if job.Error == "" {
				job.Error = "document generation failed"
			}
		}
		return true
	}

	changed := false
	if statusRank[update.Status] > statusRank[job.Status] {
		job.Status = update.Status
		changed = true
	}
	// Progress stays within 0..100 whatever the remote reports.
	if update.Progress > 100 {
		update.Progress = 100
	}
	if update.Progress > job.Progress {
		job.Progress = update.Progress
		changed = true
	}
	return changed
}

// Watch polls the document service at a fixed interval until the job
// reaches a terminal state, the context is canceled, or the overall
// timeout expires. Cancellation stops the polling immediately. On SUCCESS
// the session's unsaved-changes state is cleared, the slug's draft is
// retired and the document archived; on FAILURE the form data stays
// untouched so the user can resubmit.
func (g *Generator) Watch(ctx context.Context, job *models.GenerationJob, session *FormSession) (*models.GenerationJob, error) {
	log := g.logger.With(zap.String("job_id", job.ID), zap.String("task_id", job.RemoteTaskID))

	ticker := time.NewTicker(g.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(g.cfg.PollTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("job watch canceled")
			return job, ctx.Err()
		case <-deadline.C:
			job.Status = models.JobFailure
			job.Error = fmt.Sprintf("no result after %s", g.cfg.PollTimeout)
			g.persist(job)
			log.Warn("job watch timed out")
			return job, nil
		case <-ticker.C:
			update, err := g.doc.Status(ctx, job.RemoteTaskID)
			if err != nil {
				// Transient poll failures are absorbed; the deadline
				// bounds how long we keep trying.
				log.Warn("status poll failed", zap.Error(err))
				continue
			}
			if !MergeUpdate(job, *update) {
				continue
			}
			g.persist(job)
			log.Debug("job progressed",
				zap.String("status", job.Status), zap.Int("progress", job.Progress))

			if !job.Terminal() {
				continue
			}
			if job.Status == models.JobSuccess {
				g.finishSuccess(ctx, job, session, log)
			} else {
				log.Warn("generation failed", zap.String("error", job.Error))
			}
			return job, nil
		}
	}
}

func (g *Generator) finishSuccess(ctx context.Context, job *models.GenerationJob, session *FormSession, log *zap.Logger) {
	if session != nil {
		// A session the user discarded mid-watch stays DISCARDED.
		if session.Phase() != FormDiscarded {
			session.MarkSubmitted()
		}
		g.registry.RetireDraft(session.Slug)
	}

	if g.archiver != nil && job.ResultLink != "" {
		data, err := g.doc.Fetch(ctx, job.ResultLink)
		if err != nil {
			log.Warn("could not download generated document for archival", zap.Error(err))
		} else {
			key := fmt.Sprintf("%s/%s.pdf", job.TemplateSlug, job.ID)
			link, err := g.archiver.Archive(ctx, key, data)
			if err != nil {
				log.Warn("archive upload failed", zap.Error(err))
			} else {
				job.ArchiveLink = link
				g.persist(job)
			}
		}
	}
	log.Info("generation succeeded", zap.String("link", job.ResultLink))
}

func (g *Generator) persist(job *models.GenerationJob) {
	if g.db == nil {
		return
	}
	if err := g.db.Save(job).Error; err != nil {
		g.logger.Error("failed to persist job update", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// ReapStuckJobs fails PENDING/PROCESSING jobs that have not progressed
// within the stuck timeout. Wired to the cron schedule.
func (g *Generator) ReapStuckJobs() int {
	cutoff := time.Now().Add(-g.cfg.JobStuckTimeout)
	result := g.db.Model(&models.GenerationJob{}).
		Where("status IN ? AND updated_at < ?", []string{models.JobPending, models.JobProcessing}, cutoff).
		Updates(map[string]interface{}{
			"status": models.JobFailure,
			"error":  "job abandoned: no progress within the stuck timeout",
		})
	if result.Error != nil {
		g.logger.Error("stuck job reaper failed", zap.Error(result.Error))
		return 0
	}
	if result.RowsAffected > 0 {
		g.logger.Info("stuck jobs failed", zap.Int64("count", result.RowsAffected))
	}
	return int(result.RowsAffected)
}
