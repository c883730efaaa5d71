package scheduler

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vantori/flowgate/internal/store"
	"github.com/vantori/flowgate/pkg/schema"
)

type recordingRunner struct {
	mu    sync.Mutex
	fired []string
	err   error
}

func (r *recordingRunner) RunScheduled(_ context.Context, wf *store.Workflow, _ time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, wf.ID)
	return "run-" + wf.ID, r.err
}

func (r *recordingRunner) firedIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.fired...)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "sched.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

const auditDefinition = `{
  "id": "wf-audit",
  "name": "Nightly audit",
  "enabled": true,
  "trigger": {"type": "SCHEDULE", "cron": "0 2 * * *"},
  "actions": [{"type": "RUN_PRESENCE_AUDIT"}]
}`

func scheduleWorkflow(t *testing.T, st store.Store, nextRunAt *time.Time) *store.Workflow {
	t.Helper()
	now := time.Now().UTC()
	wf := &store.Workflow{
		ID:          uuid.NewString(),
		OrgID:       "org-sched",
		Key:         uuid.NewString(),
		Name:        "Nightly audit",
		Enabled:     true,
		TriggerType: schema.TriggerSchedule,
		Definition:  []byte(auditDefinition),
		NextRunAt:   nextRunAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, st.CreateWorkflow(context.Background(), wf))
	return wf
}

func TestCalculateNextRun(t *testing.T) {
	s := NewScheduler(nil, nil, discardLogger())

	from := time.Date(2026, 8, 24, 1, 30, 0, 0, time.UTC)
	next, err := s.CalculateNextRun("0 2 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 8, 24, 2, 0, 0, 0, time.UTC), next)

	_, err = s.CalculateNextRun("not a cron", from)
	assert.Error(t, err)
}

func TestTickFiresDueWorkflowAndAdvancesSchedule(t *testing.T) {
	st := newTestStore(t)
	runner := &recordingRunner{}
	s := NewScheduler(st, runner, discardLogger())

	// next_run_at unset means due immediately.
	due := scheduleWorkflow(t, st, nil)

	s.tick(context.Background())
	assert.Equal(t, []string{due.ID}, runner.firedIDs())

	updated, err := st.GetWorkflow(context.Background(), due.OrgID, due.ID)
	require.NoError(t, err)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.After(time.Now().UTC()))

	// The advanced schedule keeps it out of the next tick.
	s.tick(context.Background())
	assert.Len(t, runner.firedIDs(), 1)
}

func TestTickSkipsFutureWorkflows(t *testing.T) {
	st := newTestStore(t)
	runner := &recordingRunner{}
	s := NewScheduler(st, runner, discardLogger())

	future := time.Now().UTC().Add(time.Hour)
	scheduleWorkflow(t, st, &future)

	s.tick(context.Background())
	assert.Empty(t, runner.firedIDs())
}

func TestTickAdvancesScheduleEvenWhenRunFails(t *testing.T) {
	st := newTestStore(t)
	runner := &recordingRunner{err: schema.NewError(schema.ErrCodeExecution, "boom")}
	s := NewScheduler(st, runner, discardLogger())

	due := scheduleWorkflow(t, st, nil)
	s.tick(context.Background())

	updated, err := st.GetWorkflow(context.Background(), due.OrgID, due.ID)
	require.NoError(t, err)
	assert.NotNil(t, updated.NextRunAt)
}

func TestStartStopLifecycle(t *testing.T) {
	st := newTestStore(t)
	s := NewScheduler(st, &recordingRunner{}, discardLogger())

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())

	// Restart after stop is allowed.
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
