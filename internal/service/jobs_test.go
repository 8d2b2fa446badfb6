package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/azkastekom/massweb/internal/models"
	"github.com/azkastekom/massweb/internal/service/publisher"
)

func TestPublishJob_AdvanceCompletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createProject(t, TemplateSet{Content: "x"})
	f.seedContents(t, p.ID, 3)

	job, err := f.jobs.Create(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.TotalContents)

	require.NoError(t, f.jobs.Advance(ctx, job.ID))

	job = f.reloadJob(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.TotalContents)
	assert.Equal(t, 3, job.ProcessedCount)
	assert.NotNil(t, job.StartedAt)
	assert.NotNil(t, job.CompletedAt)

	for _, c := range f.contentList(t, p.ID) {
		assert.Equal(t, models.PublishStatusPublished, c.PublishStatus)
		assert.NotNil(t, c.PublishedAt)
	}

	err = f.jobs.Advance(ctx, job.ID)
	assert.True(t, errors.Is(err, ErrInvalidState))
}

func TestPublishJob_ProgressIsMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createProject(t, TemplateSet{Content: "x"})
	f.seedContents(t, p.ID, 5)

	job, err := f.jobs.Create(ctx, p.ID, 0)
	require.NoError(t, err)

	var observed []int
	require.NoError(t, f.publishers.RegisterPublisher(&funcPublisher{
		name: "progress",
		fn: func(ctx context.Context, c publisher.PublishContent) error {
			current := f.reloadJob(t, job.ID)
			assert.LessOrEqual(t, current.ProcessedCount, current.TotalContents)
			observed = append(observed, current.ProcessedCount)
			return nil
		},
	}))

	require.NoError(t, f.jobs.Advance(ctx, job.ID))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, observed)
}

func TestPublishJob_CreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.jobs.Create(ctx, 42, 0)
	assert.True(t, errors.Is(err, ErrNotFound))

	p := f.createProject(t, TemplateSet{Content: "x"})
	_, err = f.jobs.Create(ctx, p.ID, -1)
	assert.True(t, errors.Is(err, ErrInvalidArgument))

	first, err := f.jobs.Create(ctx, p.ID, 5)
	require.NoError(t, err)

	_, err = f.jobs.Create(ctx, p.ID, 5)
	assert.True(t, errors.Is(err, ErrInvalidState))

	active, err := f.jobs.GetActive(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, first.ID, active.ID)

	_, err = f.jobs.Cancel(ctx, first.ID)
	require.NoError(t, err)

	active, err = f.jobs.GetActive(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, active)

	_, err = f.jobs.Create(ctx, p.ID, 5)
	assert.NoError(t, err)
}

func TestPublishJob_PauseResumeIdempotence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createProject(t, TemplateSet{Content: "x"})
	job, err := f.jobs.Create(ctx, p.ID, 0)
	require.NoError(t, err)

	paused, err := f.jobs.Pause(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPaused, paused.Status)

	_, err = f.jobs.Pause(ctx, job.ID)
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, models.JobStatusPaused, f.reloadJob(t, job.ID).Status)

	resumed, err := f.jobs.Resume(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, resumed.Status)

	_, err = f.jobs.Resume(ctx, job.ID)
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, models.JobStatusPending, f.reloadJob(t, job.ID).Status)
}

func TestPublishJob_IllegalTransitionsLeaveStateUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createProject(t, TemplateSet{Content: "x"})
	job, err := f.jobs.Create(ctx, p.ID, 0)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.PublishJob{}).Where("id = ?", job.ID).Update("status", models.JobStatusProcessing).Error)

	_, err = f.jobs.Resume(ctx, job.ID)
	assert.True(t, errors.Is(err, ErrInvalidState))
	assert.Equal(t, models.JobStatusProcessing, f.reloadJob(t, job.ID).Status)

	_, err = f.jobs.Cancel(ctx, job.ID)
	require.NoError(t, err)

	for _, op := range []func(context.Context, string) (*models.PublishJob, error){f.jobs.Pause, f.jobs.Resume, f.jobs.Cancel} {
		_, err = op(ctx, job.ID)
		assert.True(t, errors.Is(err, ErrInvalidState))
	}
	assert.Equal(t, models.JobStatusCancelled, f.reloadJob(t, job.ID).Status)

	_, err = f.jobs.Pause(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPublishJob_CancelInterruptsWait(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createProject(t, TemplateSet{Content: "x"})
	f.seedContents(t, p.ID, 3)

	job, err := f.jobs.Create(ctx, p.ID, 60)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.jobs.Advance(ctx, job.ID) }()

	require.Eventually(t, func() bool {
		return f.reloadJob(t, job.ID).ProcessedCount == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, err = f.jobs.Cancel(ctx, job.ID)
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("advance did not return after cancel")
	}

	job = f.reloadJob(t, job.ID)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.Equal(t, 1, job.ProcessedCount)

	published, err := f.contents.CountByStatus(ctx, p.ID, models.PublishStatusPublished)
	require.NoError(t, err)
	assert.Equal(t, int64(1), published)
}

func TestPublishJob_PauseThenResumeContinues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createProject(t, TemplateSet{Content: "x"})
	f.seedContents(t, p.ID, 3)

	job, err := f.jobs.Create(ctx, p.ID, 60)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.jobs.Advance(ctx, job.ID) }()

	require.Eventually(t, func() bool {
		return f.reloadJob(t, job.ID).ProcessedCount == 1
	}, 5*time.Second, 10*time.Millisecond)

	_, err = f.jobs.Pause(ctx, job.ID)
	require.NoError(t, err)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("advance did not return after pause")
	}
	assert.Equal(t, models.JobStatusPaused, f.reloadJob(t, job.ID).Status)

	_, err = f.jobs.Resume(ctx, job.ID)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.PublishJob{}).Where("id = ?", job.ID).Update("delay_seconds", 0).Error)
	require.NoError(t, f.jobs.Advance(ctx, job.ID))

	job = f.reloadJob(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.ProcessedCount)
	assert.Equal(t, 3, job.TotalContents)
}

func TestPublishJob_ShutdownReleasesLease(t *testing.T) {
	f := newFixture(t)

	p := f.createProject(t, TemplateSet{Content: "x"})
	f.seedContents(t, p.ID, 3)

	job, err := f.jobs.Create(context.Background(), p.ID, 60)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.jobs.Advance(ctx, job.ID) }()

	require.Eventually(t, func() bool {
		return f.reloadJob(t, job.ID).ProcessedCount == 1
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("advance did not return after shutdown")
	}

	job = f.reloadJob(t, job.ID)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 1, job.ProcessedCount)
}

func TestPublishJob_PublisherFailureFailsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createProject(t, TemplateSet{Content: "x"})
	f.seedContents(t, p.ID, 3)
	require.NoError(t, f.publishers.RegisterPublisher(&funcPublisher{
		name: "broken",
		fn: func(ctx context.Context, c publisher.PublishContent) error {
			if c.Title == "Item 2" {
				return errors.New("webhook down")
			}
			return nil
		},
	}))

	job, err := f.jobs.Create(ctx, p.ID, 0)
	require.NoError(t, err)

	err = f.jobs.Advance(ctx, job.ID)
	require.Error(t, err)

	job = f.reloadJob(t, job.ID)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.ProcessedCount)
	require.NotNil(t, job.ErrorMessage)
	assert.Contains(t, *job.ErrorMessage, "webhook down")

	items := f.contentList(t, p.ID)
	assert.Equal(t, models.PublishStatusPublished, items[0].PublishStatus)
	assert.Equal(t, models.PublishStatusPending, items[1].PublishStatus)

	logs, total, err := f.monitoring.ListErrors(ctx, 0, 1, 10, false)
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	require.NotNil(t, logs[0].JobID)
	assert.Equal(t, job.ID, *logs[0].JobID)
}

func TestPublishJob_ExternallyChangedItemsAreSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createProject(t, TemplateSet{Content: "x"})
	items := f.seedContents(t, p.ID, 3)
	require.NoError(t, f.publishers.RegisterPublisher(&funcPublisher{
		name: "mutator",
		fn: func(ctx context.Context, c publisher.PublishContent) error {
			if c.ID == items[0].ID {
				return f.contents.Delete(ctx, items[1].ID)
			}
			return nil
		},
	}))

	job, err := f.jobs.Create(ctx, p.ID, 0)
	require.NoError(t, err)
	require.NoError(t, f.jobs.Advance(ctx, job.ID))

	job = f.reloadJob(t, job.ID)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.ProcessedCount)

	published, err := f.contents.CountByStatus(ctx, p.ID, models.PublishStatusPublished)
	require.NoError(t, err)
	assert.Equal(t, int64(2), published)
}

func TestPublishJob_StaleLeaseTakeover(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createProject(t, TemplateSet{Content: "x"})
	f.seedContents(t, p.ID, 2)

	job, err := f.jobs.Create(ctx, p.ID, 0)
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.PublishJob{}).Where("id = ?", job.ID).UpdateColumns(map[string]interface{}{
		"status":     models.JobStatusProcessing,
		"updated_at": time.Now().UTC(),
	}).Error)

	next, err := f.jobs.NextRunnable(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.True(t, errors.Is(f.jobs.Advance(ctx, job.ID), ErrInvalidState))

	require.NoError(t, f.db.Model(&models.PublishJob{}).Where("id = ?", job.ID).UpdateColumns(map[string]interface{}{
		"updated_at": time.Now().UTC().Add(-time.Hour),
	}).Error)

	next, err = f.jobs.NextRunnable(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, job.ID, next.ID)

	require.NoError(t, f.jobs.Advance(ctx, job.ID))
	assert.Equal(t, models.JobStatusCompleted, f.reloadJob(t, job.ID).Status)
}

func TestPublishJob_PublishNowAndUnpublishRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createProject(t, TemplateSet{Content: "x"})
	items := f.seedContents(t, p.ID, 3)

	job, err := f.jobs.PublishNow(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)

	n, err := f.contents.Unpublish(ctx, 0, []uint{items[0].ID, items[2].ID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, c := range f.contentList(t, p.ID) {
		if c.ID == items[1].ID {
			assert.Equal(t, models.PublishStatusPublished, c.PublishStatus)
			continue
		}
		assert.Equal(t, models.PublishStatusPending, c.PublishStatus)
		assert.Nil(t, c.PublishedAt)
	}

	job, err = f.jobs.PublishNow(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, job.TotalContents)

	published, err := f.contents.CountByStatus(ctx, p.ID, models.PublishStatusPublished)
	require.NoError(t, err)
	assert.Equal(t, int64(3), published)
}

func TestPublishJob_PublishNowIsLeasedFromCreation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createProject(t, TemplateSet{Content: "x"})
	f.seedContents(t, p.ID, 2)

	var checked bool
	require.NoError(t, f.publishers.RegisterPublisher(&funcPublisher{
		name: "scheduler-race",
		fn: func(ctx context.Context, c publisher.PublishContent) error {
			if checked {
				return nil
			}
			checked = true

			active, err := f.jobs.GetActive(ctx, p.ID)
			require.NoError(t, err)
			require.NotNil(t, active)
			assert.Equal(t, models.JobStatusProcessing, active.Status)
			assert.NotNil(t, active.StartedAt)

			// A scheduler tick finds nothing to run and cannot steal the job
			next, err := f.jobs.NextRunnable(ctx)
			require.NoError(t, err)
			assert.Nil(t, next)
			assert.True(t, errors.Is(f.jobs.Advance(ctx, active.ID), ErrInvalidState))
			return nil
		},
	}))

	job, err := f.jobs.PublishNow(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.True(t, checked)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 2, job.ProcessedCount)
	assert.NotNil(t, job.StartedAt)
}

func TestPublishJob_ListAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p := f.createProject(t, TemplateSet{Content: "x"})
	job, err := f.jobs.Create(ctx, p.ID, 0)
	require.NoError(t, err)

	assert.True(t, errors.Is(f.jobs.Delete(ctx, job.ID), ErrInvalidState))

	_, err = f.jobs.Cancel(ctx, job.ID)
	require.NoError(t, err)

	jobs, err := f.jobs.List(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	require.NoError(t, f.jobs.Delete(ctx, job.ID))
	_, err = f.jobs.Get(ctx, job.ID)
	assert.True(t, errors.Is(err, ErrNotFound))
}
