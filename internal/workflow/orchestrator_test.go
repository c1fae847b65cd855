package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dokimi/internal/conversation"
)

type fakeJobs struct {
	mu         sync.Mutex
	queue      []JobStatus
	statusErr  error
	startErr   error
	startCalls int
	delay      time.Duration
}

func (f *fakeJobs) GenerationStatus(ctx context.Context, kind Kind, conversationID string) (JobStatus, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return JobStatus{}, f.statusErr
	}
	if len(f.queue) == 0 {
		return JobStatus{State: JobInProgress}, nil
	}
	st := f.queue[0]
	if len(f.queue) > 1 {
		f.queue = f.queue[1:]
	}
	return st, nil
}

func (f *fakeJobs) StartGeneration(ctx context.Context, kind Kind, conversationID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return f.startErr
}

func (f *fakeJobs) starts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.startCalls
}

func newTestOrchestrator(t *testing.T, jobs JobClient, opts ...Option) (*Orchestrator, chan Notification) {
	t.Helper()
	notes := make(chan Notification, 16)
	base := []Option{
		WithPollInterval(5 * time.Millisecond),
		WithPollCeiling(time.Second),
		WithNotify(func(n Notification) { notes <- n }),
	}
	o := New("uc-1", jobs, append(base, opts...)...)
	t.Cleanup(o.Close)
	return o, notes
}

func activePollers(o *Orchestrator) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pollers)
}

func TestApplyConfirmationRequiredOpensDialog(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeJobs{})
	o.Apply(conversation.Event{Kind: KindRequirements, Signal: conversation.SignalConfirmationRequired})

	kind, open := o.AwaitingConfirmation()
	require.True(t, open)
	require.Equal(t, KindRequirements, kind)
	require.False(t, o.Busy())
}

func TestConfirmStartsJobExactlyOnce(t *testing.T) {
	jobs := &fakeJobs{}
	o, _ := newTestOrchestrator(t, jobs)
	o.Apply(conversation.Event{Kind: KindScenarios, Signal: conversation.SignalConfirmationRequired})

	require.NoError(t, o.Confirm(context.Background(), KindScenarios))
	require.NoError(t, o.Confirm(context.Background(), KindScenarios))

	require.Equal(t, 1, jobs.starts())
	st := o.State(KindScenarios)
	require.Equal(t, StatusInProgress, st.Status)
	require.True(t, st.Confirmed)
	require.True(t, st.Handled)
	require.True(t, o.Suppressed(KindScenarios))
	require.True(t, o.Busy())
}

func TestPollCompletionNotifiesWithCount(t *testing.T) {
	jobs := &fakeJobs{queue: []JobStatus{
		{State: JobInProgress},
		{State: JobCompleted, Confirmed: true, TotalInserted: 12, HasTotal: true},
	}}
	o, notes := newTestOrchestrator(t, jobs)

	require.NoError(t, o.Confirm(context.Background(), KindRequirements))

	select {
	case n := <-notes:
		require.Equal(t, LevelSuccess, n.Level)
		require.Equal(t, KindRequirements, n.Kind)
		require.Contains(t, n.Message, "12")
	case <-time.After(time.Second):
		t.Fatal("expected a completion notification")
	}
	require.Equal(t, StatusCompleted, o.State(KindRequirements).Status)
	require.Eventually(t, func() bool { return !o.Busy() }, time.Second, 2*time.Millisecond)
}

func TestPollFailureNotifiesGenerically(t *testing.T) {
	jobs := &fakeJobs{queue: []JobStatus{{State: JobFailed}}}
	o, notes := newTestOrchestrator(t, jobs)

	require.NoError(t, o.Confirm(context.Background(), KindTestCases))

	select {
	case n := <-notes:
		require.Equal(t, LevelError, n.Level)
		require.Contains(t, n.Message, "Test case generation failed")
	case <-time.After(time.Second):
		t.Fatal("expected a failure notification")
	}
	require.Equal(t, StatusFailed, o.State(KindTestCases).Status)
}

func TestSingleActivePollerPerKind(t *testing.T) {
	o, _ := newTestOrchestrator(t, &fakeJobs{})

	o.Apply(conversation.Event{Kind: KindRequirements, Signal: conversation.SignalInProgress})
	o.mu.Lock()
	o.startPollingLocked(KindRequirements)
	o.startPollingLocked(KindRequirements)
	o.mu.Unlock()

	require.Equal(t, 1, activePollers(o))
}

func TestDismissClosesDialogWithoutSideEffects(t *testing.T) {
	jobs := &fakeJobs{}
	o, _ := newTestOrchestrator(t, jobs)
	o.Apply(conversation.Event{Kind: KindRequirements, Signal: conversation.SignalConfirmationRequired})

	o.Dismiss(KindRequirements)

	st := o.State(KindRequirements)
	require.Equal(t, StatusNotStarted, st.Status)
	require.False(t, st.Confirmed)
	require.True(t, st.Handled)
	require.Equal(t, 0, jobs.starts())

	// Replaying the same event must not reopen the dialog.
	o.Apply(conversation.Event{Kind: KindRequirements, Signal: conversation.SignalConfirmationRequired})
	_, open := o.AwaitingConfirmation()
	require.False(t, open)
}

func TestStartFailureSurfacesToastAndUnblocks(t *testing.T) {
	jobs := &fakeJobs{startErr: errors.New("boom")}
	o, notes := newTestOrchestrator(t, jobs)
	o.Apply(conversation.Event{Kind: KindScenarios, Signal: conversation.SignalConfirmationRequired})

	err := o.Confirm(context.Background(), KindScenarios)
	require.Error(t, err)

	select {
	case n := <-notes:
		require.Equal(t, LevelError, n.Level)
		require.Contains(t, n.Message, "Could not start")
	case <-time.After(time.Second):
		t.Fatal("expected a start-failure notification")
	}
	st := o.State(KindScenarios)
	require.Equal(t, StatusNotStarted, st.Status)
	require.True(t, st.Handled)
	require.False(t, o.Busy())
}

func TestPollErrorStopsSilently(t *testing.T) {
	jobs := &fakeJobs{statusErr: errors.New("connection refused")}
	o, notes := newTestOrchestrator(t, jobs)

	require.NoError(t, o.Confirm(context.Background(), KindRequirements))
	require.Eventually(t, func() bool { return !o.Busy() }, time.Second, 2*time.Millisecond)

	// Unblocked, but no asserted outcome and no toast.
	require.Equal(t, StatusInProgress, o.State(KindRequirements).Status)
	select {
	case n := <-notes:
		t.Fatalf("expected no notification, got %+v", n)
	default:
	}
}

func TestPollCeilingSoftStops(t *testing.T) {
	o, notes := newTestOrchestrator(t, &fakeJobs{}, WithPollCeiling(25*time.Millisecond))

	require.NoError(t, o.Confirm(context.Background(), KindRequirements))
	require.Eventually(t, func() bool { return !o.Busy() }, time.Second, 2*time.Millisecond)

	require.Equal(t, StatusInProgress, o.State(KindRequirements).Status)
	select {
	case n := <-notes:
		t.Fatalf("ceiling is not a failure, got %+v", n)
	default:
	}
}

func TestCloseSuppressesStalePollWrites(t *testing.T) {
	jobs := &fakeJobs{
		delay: 40 * time.Millisecond,
		queue: []JobStatus{{State: JobCompleted, HasTotal: true, TotalInserted: 7}},
	}
	o, notes := newTestOrchestrator(t, jobs)

	require.NoError(t, o.Confirm(context.Background(), KindRequirements))
	o.Close()
	time.Sleep(100 * time.Millisecond)

	// The in-flight poll resolved after Close; its result must be dropped.
	require.NotEqual(t, StatusCompleted, o.State(KindRequirements).Status)
	select {
	case n := <-notes:
		t.Fatalf("expected no notification after close, got %+v", n)
	default:
	}
}

func TestSyncResumesRunningJob(t *testing.T) {
	jobs := &fakeJobs{queue: []JobStatus{
		{State: JobInProgress, Confirmed: true},
		{State: JobInProgress, Confirmed: true},
		{State: JobCompleted, Confirmed: true},
	}}
	o, notes := newTestOrchestrator(t, jobs)

	o.Sync(context.Background())

	st := o.State(KindRequirements)
	require.True(t, st.Confirmed)
	require.True(t, o.Suppressed(KindRequirements))

	select {
	case n := <-notes:
		require.Equal(t, LevelSuccess, n.Level)
	case <-time.After(time.Second):
		t.Fatal("expected resumed poll to observe completion")
	}
}

func TestSyncAdoptsTerminalStates(t *testing.T) {
	jobs := &fakeJobs{queue: []JobStatus{{State: JobCompleted, Confirmed: true}}}
	o, _ := newTestOrchestrator(t, jobs)

	o.Sync(context.Background())

	require.Equal(t, StatusCompleted, o.State(KindRequirements).Status)
	require.False(t, o.Busy())
}
