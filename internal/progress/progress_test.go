package progress

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/store/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBroadcaster(t *testing.T, heartbeat time.Duration) (*Broadcaster, *MemoryHub) {
	t.Helper()
	hub := NewMemoryHub(16, testLogger())
	b, err := NewBroadcaster(memstore.New().Stores().Events, hub, heartbeat, 16, testLogger())
	require.NoError(t, err)
	return b, hub
}

func taskEvent(planID uuid.UUID, status domain.TaskStatus, pct float64) *domain.ProgressEvent {
	jobID, taskID := uuid.New(), uuid.New()
	return &domain.ProgressEvent{
		ID: uuid.New(), PlanID: planID, JobID: &jobID, TaskID: &taskID,
		Type: domain.EventTaskStatus, Status: string(status), Progress: pct, Timestamp: time.Now().UTC(),
	}
}

func receive(t *testing.T, ch <-chan *domain.ProgressEvent) *domain.ProgressEvent {
	t.Helper()
	select {
	case e, ok := <-ch:
		require.True(t, ok, "stream closed early")
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestSubscribeReplaysThenStreamsLive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b, hub := newBroadcaster(t, time.Hour)
	planID := uuid.New()

	require.NoError(t, b.Emit(ctx, domain.NewPlanEvent(planID, domain.EventPlanCreated, domain.PlanStatusReady)))
	require.NoError(t, b.Emit(ctx, domain.NewPlanEvent(planID, domain.EventPlanExecuting, domain.PlanStatusExecuting)))

	ch, err := b.Subscribe(ctx, planID, SubscribeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers(planID))

	assert.Equal(t, domain.EventPlanCreated, receive(t, ch).Type)
	assert.Equal(t, domain.EventPlanExecuting, receive(t, ch).Type)

	live := taskEvent(planID, domain.TaskStatusStored, 50)
	require.NoError(t, b.Emit(ctx, live))
	got := receive(t, ch)
	assert.Equal(t, live.ID, got.ID)
	assert.Equal(t, int64(3), got.Sequence)

	require.NoError(t, b.Emit(ctx, domain.NewPlanEvent(planID, domain.EventPlanCompleted, domain.PlanStatusCompleted)))
	assert.Equal(t, domain.EventPlanCompleted, receive(t, ch).Type)

	_, open := <-ch
	assert.False(t, open, "stream ends after a terminal event")
	assert.Eventually(t, func() bool { return hub.Subscribers(planID) == 0 }, time.Second, 10*time.Millisecond)
}

func TestSubscribeResumesAfterSequence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b, _ := newBroadcaster(t, time.Hour)
	planID := uuid.New()

	for i := 0; i < 4; i++ {
		require.NoError(t, b.Emit(ctx, taskEvent(planID, domain.TaskStatusGenerating, float64(i*10))))
	}

	ch, err := b.Subscribe(ctx, planID, SubscribeOptions{AfterSequence: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), receive(t, ch).Sequence)
	assert.Equal(t, int64(4), receive(t, ch).Sequence)
}

func TestSubscribePastTerminalEventCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b, hub := newBroadcaster(t, 10*time.Millisecond)
	planID := uuid.New()

	require.NoError(t, b.Emit(ctx, taskEvent(planID, domain.TaskStatusStored, 100)))
	require.NoError(t, b.Emit(ctx, domain.NewPlanEvent(planID, domain.EventPlanCompleted, domain.PlanStatusCompleted)))

	tests := []struct {
		name string
		opts SubscribeOptions
	}{
		{name: "after the terminal sequence", opts: SubscribeOptions{AfterSequence: 2}},
		{name: "far past the log", opts: SubscribeOptions{AfterSequence: 99}},
		{name: "since after the terminal event", opts: SubscribeOptions{Since: time.Now().Add(time.Minute)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := b.Subscribe(ctx, planID, tt.opts)
			require.NoError(t, err)
			select {
			case e, open := <-ch:
				assert.False(t, open, "unexpected event %v", e)
			case <-time.After(2 * time.Second):
				t.Fatal("stream of a finished plan stayed open")
			}
		})
	}
	assert.Eventually(t, func() bool { return hub.Subscribers(planID) == 0 }, time.Second, 10*time.Millisecond)

	// a position before the terminal event still replays it
	ch, err := b.Subscribe(ctx, planID, SubscribeOptions{AfterSequence: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.EventPlanCompleted, receive(t, ch).Type)
	_, open := <-ch
	assert.False(t, open)
}

func TestSubscribeUnfinishedPlanStaysOpen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b, _ := newBroadcaster(t, 10*time.Millisecond)
	planID := uuid.New()

	require.NoError(t, b.Emit(ctx, taskEvent(planID, domain.TaskStatusGenerating, 10)))

	ch, err := b.Subscribe(ctx, planID, SubscribeOptions{AfterSequence: 5})
	require.NoError(t, err)
	assert.Equal(t, domain.EventHeartbeat, receive(t, ch).Type)
}

func TestSubscribeFilters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b, _ := newBroadcaster(t, time.Hour)
	planID := uuid.New()

	ch, err := b.Subscribe(ctx, planID, SubscribeOptions{
		Types:    []domain.EventType{domain.EventTaskStatus},
		MinDelta: 10,
	})
	require.NoError(t, err)

	require.NoError(t, b.Emit(ctx, domain.NewPlanEvent(planID, domain.EventPlanExecuting, domain.PlanStatusExecuting)))
	for _, pct := range []float64{5, 8, 15, 20, 30} {
		require.NoError(t, b.Emit(ctx, taskEvent(planID, domain.TaskStatusStored, pct)))
	}
	require.NoError(t, b.Emit(ctx, domain.NewPlanEvent(planID, domain.EventPlanFailed, domain.PlanStatusFailed)))

	var got []float64
	for e := range ch {
		if e.Type == domain.EventPlanFailed {
			break
		}
		assert.Equal(t, domain.EventTaskStatus, e.Type)
		got = append(got, e.Progress)
	}
	assert.Equal(t, []float64{5, 15, 30}, got)
}

func TestSubscribeHeartbeat(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b, _ := newBroadcaster(t, time.Hour)
	planID := uuid.New()

	ch, err := b.Subscribe(ctx, planID, SubscribeOptions{Heartbeat: 20 * time.Millisecond})
	require.NoError(t, err)

	e := receive(t, ch)
	assert.Equal(t, domain.EventHeartbeat, e.Type)
	assert.Equal(t, planID, e.PlanID)

	cancel()
	assert.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
}

type failingFanout struct{ *MemoryHub }

func (failingFanout) Publish(context.Context, *domain.ProgressEvent) error {
	return assert.AnError
}

func TestEmitSurvivesFanoutFailure(t *testing.T) {
	ctx := context.Background()
	events := memstore.New().Stores().Events
	b, err := NewBroadcaster(events, failingFanout{NewMemoryHub(1, testLogger())}, time.Hour, 1, testLogger())
	require.NoError(t, err)

	planID := uuid.New()
	require.NoError(t, b.Emit(ctx, domain.NewPlanEvent(planID, domain.EventPlanCreated, domain.PlanStatusReady)))

	logged, err := events.ListAfter(ctx, planID, 0, time.Time{})
	require.NoError(t, err)
	assert.Len(t, logged, 1, "the log is written even when fan-out fails")
}

func TestSnapshot(t *testing.T) {
	t.Parallel()
	planID := uuid.New()
	job := &domain.Job{ID: uuid.New(), PlanID: planID, Status: domain.JobStatusActive}
	task := &domain.Task{ID: uuid.New(), JobID: job.ID, PlanID: planID, Status: domain.TaskStatusGenerating}

	events := []*domain.ProgressEvent{
		domain.NewPlanEvent(planID, domain.EventPlanExecuting, domain.PlanStatusExecuting),
		domain.NewJobEvent(job, domain.EventJobActive),
		domain.NewTaskEvent(task, domain.EventTaskStatus).WithProgress(0),
	}
	task.Status = domain.TaskStatusStored
	job.Status = domain.JobStatusCompleted
	events = append(events,
		domain.NewTaskEvent(task, domain.EventTaskStored).WithProgress(100),
		domain.NewJobEvent(job, domain.EventJobCompleted),
		domain.NewPlanEvent(planID, domain.EventPlanCompleted, domain.PlanStatusCompleted),
		domain.NewPlanEvent(uuid.New(), domain.EventPlanFailed, domain.PlanStatusFailed),
	)

	snap := Snapshot(planID, events)
	assert.Equal(t, domain.PlanStatusCompleted, snap.PlanStatus)
	assert.Equal(t, domain.JobStatusCompleted, snap.Jobs[job.ID])
	assert.Equal(t, domain.TaskStatusStored, snap.Tasks[task.ID])
	assert.Equal(t, 100.0, snap.Progress)
}

func TestPercent(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 0.0, Percent(1, 0))
	assert.Equal(t, 33.3, Percent(1, 3))
	assert.Equal(t, 100.0, Percent(4, 4))
}
