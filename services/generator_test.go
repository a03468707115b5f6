package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"petition-hand/config"
	"petition-hand/docservice"
	"petition-hand/models"
)

type fakeDocClient struct {
	submitErr error
	submitted int
	taskID    string
	statuses  []docservice.TaskStatus
	polls     int
}

func (f *fakeDocClient) Submit(ctx context.Context, templateSlug string, fields map[string]string) (string, error) {
	f.submitted++
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.taskID, nil
}

func (f *fakeDocClient) Status(ctx context.Context, taskID string) (*docservice.TaskStatus, error) {
	if f.polls >= len(f.statuses) {
		last := f.statuses[len(f.statuses)-1]
		return &last, nil
	}
	s := f.statuses[f.polls]
	f.polls++
	return &s, nil
}

func (f *fakeDocClient) Fetch(ctx context.Context, link string) ([]byte, error) {
	return []byte("pdf"), nil
}

func TestMergeUpdateProgressIsMonotonic(t *testing.T) {
	job := &models.GenerationJob{Status: models.JobPending}

	// out-of-order and duplicate reports must never move progress backward
	reports := []int{10, 25, 10, 50, 100}
	var observed []int
	for _, p := range reports {
		if MergeUpdate(job, docservice.TaskStatus{Status: models.JobProcessing, Progress: p}) {
			observed = append(observed, job.Progress)
		}
	}

	assert.Equal(t, []int{10, 25, 50, 100}, observed)
	assert.Equal(t, models.JobProcessing, job.Status)
}

func TestMergeUpdateIgnoresStatusRegression(t *testing.T) {
	job := &models.GenerationJob{Status: models.JobProcessing, Progress: 40}

	changed := MergeUpdate(job, docservice.TaskStatus{Status: models.JobPending, Progress: 40})

	assert.False(t, changed)
	assert.Equal(t, models.JobProcessing, job.Status)
}

func TestMergeUpdateSuccessIsTerminal(t *testing.T) {
	job := &models.GenerationJob{Status: models.JobProcessing, Progress: 70}

	changed := MergeUpdate(job, docservice.TaskStatus{Status: models.JobSuccess, Link: "https://docs/result.pdf"})

	assert.True(t, changed)
	assert.Equal(t, models.JobSuccess, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.Equal(t, "https://docs/result.pdf", job.ResultLink)

	// a late PROCESSING report after the terminal state is a no-op
	assert.False(t, MergeUpdate(job, docservice.TaskStatus{Status: models.JobProcessing, Progress: 99}))
	assert.Equal(t, models.JobSuccess, job.Status)
}

func TestMergeUpdateClampsProgress(t *testing.T) {
	job := &models.GenerationJob{Status: models.JobPending}

	changed := MergeUpdate(job, docservice.TaskStatus{Status: models.JobProcessing, Progress: 150})

	assert.True(t, changed)
	assert.Equal(t, 100, job.Progress)

	// negatives never move progress backward either
	assert.False(t, MergeUpdate(job, docservice.TaskStatus{Status: models.JobProcessing, Progress: -5}))
	assert.Equal(t, 100, job.Progress)
}

func TestMergeUpdateFailureKeepsDefaultError(t *testing.T) {
	job := &models.GenerationJob{Status: models.JobProcessing}

	MergeUpdate(job, docservice.TaskStatus{Status: models.JobFailure})

	assert.Equal(t, models.JobFailure, job.Status)
	assert.Equal(t, "document generation failed", job.Error)
}

func TestSubmitBlockedByValidationMakesNoNetworkCall(t *testing.T) {
	registry := newTestRegistry()
	session := registry.Open("appeal-1", "appeal-template", nil)
	session.SetField("claimant_cpf", "123.456.789-00", false) // bad check digits
	session.SetField("claimant_name", "Maria da Silva", false)

	doc := &fakeDocClient{taskID: "task-1"}
	gen := NewGenerator(testConfig(), nil, doc, registry, nil, zap.NewNop())

	job, errs, err := gen.Submit(context.Background(), session, []string{"claimant_name"})

	assert.Nil(t, job)
	assert.ErrorIs(t, err, ErrValidation)
	if assert.Len(t, errs, 1) {
		assert.Equal(t, "claimant_cpf", errs[0].Key)
	}
	assert.Zero(t, doc.submitted, "validation failure must not reach the network")
}

func TestSubmitRejectsMissingRequiredField(t *testing.T) {
	registry := newTestRegistry()
	session := registry.Open("appeal-1", "appeal-template", nil)

	doc := &fakeDocClient{taskID: "task-1"}
	gen := NewGenerator(testConfig(), nil, doc, registry, nil, zap.NewNop())

	_, errs, err := gen.Submit(context.Background(), session, []string{"claimant_name"})

	assert.ErrorIs(t, err, ErrValidation)
	if assert.Len(t, errs, 1) {
		assert.Equal(t, "claimant_name", errs[0].Key)
	}
}

func TestSubmitEnforcesTemplateRequiredFields(t *testing.T) {
	registry := newTestRegistry()
	session := registry.Open("appeal-1", "appeal-template", nil)
	session.SetRequired([]string{"claimant_name"})

	doc := &fakeDocClient{taskID: "task-1"}
	gen := NewGenerator(testConfig(), nil, doc, registry, nil, zap.NewNop())

	// The caller names no required fields; the template's still bind.
	job, errs, err := gen.Submit(context.Background(), session, nil)

	assert.Nil(t, job)
	assert.ErrorIs(t, err, ErrValidation)
	if assert.Len(t, errs, 1) {
		assert.Equal(t, "claimant_name", errs[0].Key)
	}
	assert.Zero(t, doc.submitted)

	// Once the field is filled the gate opens and the call goes out.
	session.SetField("claimant_name", "Maria da Silva", false)
	doc.submitErr = errors.New("unreachable service")
	_, errs, err = gen.Submit(context.Background(), session, nil)
	assert.NotErrorIs(t, err, ErrValidation)
	assert.Nil(t, errs)
	assert.Equal(t, 1, doc.submitted)
}

func TestSubmitNetworkFailureLeavesNoSideEffects(t *testing.T) {
	registry := newTestRegistry()
	session := registry.Open("appeal-1", "appeal-template", nil)
	session.SetField("claimant_name", "Maria da Silva", false)

	doc := &fakeDocClient{submitErr: errors.New("connection refused")}
	gen := NewGenerator(testConfig(), nil, doc, registry, nil, zap.NewNop())

	job, errs, err := gen.Submit(context.Background(), session, []string{"claimant_name"})

	assert.Nil(t, job)
	assert.Nil(t, errs)
	assert.Error(t, err)
	// the form stays as it was, the user just submits again
	assert.Equal(t, "Maria da Silva", session.Value("claimant_name"))
	assert.Equal(t, FormDirty, session.Phase())
}

func watchConfig() *config.Config {
	cfg := testConfig()
	cfg.PollInterval = 2 * time.Millisecond
	cfg.PollTimeout = 40 * time.Millisecond
	return cfg
}

func TestWatchTimesOutWithoutTerminalReport(t *testing.T) {
	registry := newTestRegistry()
	session := registry.Open("appeal-1", "appeal-template", nil)

	// The remote never leaves PROCESSING; the deadline has to end it.
	doc := &fakeDocClient{statuses: []docservice.TaskStatus{{Status: models.JobProcessing, Progress: 10}}}
	gen := NewGenerator(watchConfig(), nil, doc, registry, nil, zap.NewNop())

	job := &models.GenerationJob{ID: "job-1", Status: models.JobPending}
	finished, err := gen.Watch(context.Background(), job, session)

	assert.NoError(t, err)
	assert.Equal(t, models.JobFailure, finished.Status)
	assert.True(t, strings.Contains(finished.Error, "no result after"), "error = %q", finished.Error)
	// the form keeps its data for resubmission
	assert.NotEqual(t, FormSubmitted, session.Phase())
}

func TestWatchSuccessMarksSessionSubmitted(t *testing.T) {
	registry := newTestRegistry()
	session := registry.Open("appeal-1", "appeal-template", nil)
	session.SetField("claimant_name", "Maria", false)
	registry.SaveDraft(session)

	doc := &fakeDocClient{statuses: []docservice.TaskStatus{
		{Status: models.JobSuccess, Link: "https://docs/result.pdf"},
	}}
	gen := NewGenerator(watchConfig(), nil, doc, registry, nil, zap.NewNop())

	job := &models.GenerationJob{ID: "job-1", Status: models.JobPending, TemplateSlug: "appeal-template"}
	finished, err := gen.Watch(context.Background(), job, session)

	assert.NoError(t, err)
	assert.Equal(t, models.JobSuccess, finished.Status)
	assert.Equal(t, FormSubmitted, session.Phase())
	if _, ok := registry.PendingDraft("appeal-1"); ok {
		t.Fatal("draft must be retired after a successful generation")
	}
}

func TestWatchSuccessKeepsDiscardedSessionDiscarded(t *testing.T) {
	registry := newTestRegistry()
	session := registry.Open("appeal-1", "appeal-template", nil)
	registry.Discard("appeal-1")

	doc := &fakeDocClient{statuses: []docservice.TaskStatus{
		{Status: models.JobSuccess, Link: "https://docs/result.pdf"},
	}}
	gen := NewGenerator(watchConfig(), nil, doc, registry, nil, zap.NewNop())

	job := &models.GenerationJob{ID: "job-1", Status: models.JobPending, TemplateSlug: "appeal-template"}
	finished, err := gen.Watch(context.Background(), job, session)

	assert.NoError(t, err)
	assert.Equal(t, models.JobSuccess, finished.Status)
	assert.Equal(t, FormDiscarded, session.Phase())
}

func TestWatchStopsOnCancellation(t *testing.T) {
	registry := newTestRegistry()
	session := registry.Open("appeal-1", "appeal-template", nil)

	doc := &fakeDocClient{statuses: []docservice.TaskStatus{{Status: models.JobProcessing, Progress: 10}}}
	gen := NewGenerator(testConfig(), nil, doc, registry, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := &models.GenerationJob{ID: "job-1", Status: models.JobPending}
	_, err := gen.Watch(ctx, job, session)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, job.Terminal(), "cancellation must not fail the job")
}
