package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dokimi/internal/conversation"
)

const (
	defaultPollInterval = 6 * time.Second
	defaultPollCeiling  = 10 * time.Minute
)

// poller is the cancellable handle for one kind's polling loop. At most
// one poller exists per kind; starting a new one always cancels the old.
type poller struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// Orchestrator owns the workflow state for one conversation across all
// generation kinds. All state writes go through its single lock; poll
// loops run on their own goroutines but apply results under the same
// lock, gated on their own handle still being the registered one.
type Orchestrator struct {
	conversationID string
	jobs           JobClient
	notify         func(Notification)
	log            zerolog.Logger
	pollInterval   time.Duration
	pollCeiling    time.Duration

	mu      sync.Mutex
	states  map[Kind]*State
	pollers map[Kind]*poller
	closed  bool
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithNotify installs the one-shot notification sink. The callback runs
// outside the orchestrator lock and may safely call back in.
func WithNotify(fn func(Notification)) Option {
	return func(o *Orchestrator) { o.notify = fn }
}

// WithLogger replaces the default disabled logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithPollInterval overrides the delay between job-status polls.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithPollCeiling overrides the wall-clock bound after which polling is
// forcibly stopped.
func WithPollCeiling(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollCeiling = d
		}
	}
}

// New builds the orchestrator for one conversation. States for every
// kind start at not-started; call Sync to adopt server truth.
func New(conversationID string, jobs JobClient, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		conversationID: conversationID,
		jobs:           jobs,
		notify:         func(Notification) {},
		log:            zerolog.Nop(),
		pollInterval:   defaultPollInterval,
		pollCeiling:    defaultPollCeiling,
		states:         map[Kind]*State{},
		pollers:        map[Kind]*poller{},
	}
	for _, kind := range conversation.Kinds() {
		o.states[kind] = &State{Status: StatusNotStarted}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ConversationID returns the conversation this orchestrator serves.
func (o *Orchestrator) ConversationID() string { return o.conversationID }

// States returns a copy of every kind's state for rendering.
func (o *Orchestrator) States() map[Kind]State {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[Kind]State, len(o.states))
	for kind, st := range o.states {
		out[kind] = *st
	}
	return out
}

// State returns a copy of one kind's state.
func (o *Orchestrator) State(kind Kind) State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return *o.stateLocked(kind)
}

// Busy reports whether any kind is actively tracking a background job.
// This, not the raw status, drives the composer lock: a poll timeout or
// poll error leaves the status in-progress but releases the lock.
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.pollers) > 0
}

// AwaitingConfirmation returns the kind whose confirmation dialog should
// be open, if any. At most one dialog is open at a time; the first kind
// in declaration order wins.
func (o *Orchestrator) AwaitingConfirmation() (Kind, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, kind := range conversation.Kinds() {
		if o.states[kind].Status == StatusAwaitingConfirmation {
			return kind, true
		}
	}
	return "", false
}

// Suppressed reports whether events for a kind must be dropped during
// decode: the dialog was already confirmed or otherwise acted on for
// this conversation.
func (o *Orchestrator) Suppressed(kind Kind) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.stateLocked(kind)
	return st.Confirmed || st.Handled
}

// Apply feeds one decoded system event into the state machine.
func (o *Orchestrator) Apply(ev conversation.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	st := o.stateLocked(ev.Kind)
	switch ev.Signal {
	case conversation.SignalConfirmationRequired:
		if st.Confirmed || st.Handled || st.Status == StatusInProgress {
			return
		}
		st.Status = StatusAwaitingConfirmation
	case conversation.SignalInProgress:
		if _, running := o.pollers[ev.Kind]; running {
			return
		}
		st.Status = StatusInProgress
		st.StartedAt = time.Now()
		o.startPollingLocked(ev.Kind)
	}
}

// Confirm accepts the confirmation dialog for a kind: it records the
// acceptance so the dialog cannot reopen, starts the background job, and
// begins polling. The generate call is made at most once per acceptance;
// a failed start surfaces an error notification and returns the workflow
// to not-started (still marked handled).
func (o *Orchestrator) Confirm(ctx context.Context, kind Kind) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator closed")
	}
	st := o.stateLocked(kind)
	if st.Status == StatusInProgress {
		o.mu.Unlock()
		return nil
	}
	st.Confirmed = true
	st.Handled = true
	st.Status = StatusInProgress
	st.StartedAt = time.Now()
	o.mu.Unlock()

	if err := o.jobs.StartGeneration(ctx, kind, o.conversationID); err != nil {
		o.mu.Lock()
		st := o.stateLocked(kind)
		st.Status = StatusNotStarted
		st.StartedAt = time.Time{}
		o.mu.Unlock()
		o.log.Error().Err(err).Str("kind", string(kind)).Msg("generation start failed")
		o.notify(Notification{
			Kind:    kind,
			Level:   LevelError,
			Message: fmt.Sprintf("Could not start %s generation. Please try again.", strings.ToLower(titleLabel(kind))),
		})
		return fmt.Errorf("start %s generation: %w", kind, err)
	}

	o.mu.Lock()
	o.startPollingLocked(kind)
	o.mu.Unlock()
	return nil
}

// Dismiss cancels the confirmation dialog for a kind. No side effects
// beyond closing the dialog; the turn counts as acted on so replaying
// the log does not reopen it.
func (o *Orchestrator) Dismiss(kind Kind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := o.stateLocked(kind)
	if st.Status == StatusAwaitingConfirmation {
		st.Status = StatusNotStarted
	}
	st.Handled = true
}

// Sync adopts server truth for every kind, covering page reload and
// multi-tab: a job already running resumes polling immediately. Per-kind
// fetch failures are logged and skipped.
func (o *Orchestrator) Sync(ctx context.Context) {
	for _, kind := range conversation.Kinds() {
		status, err := o.jobs.GenerationStatus(ctx, kind, o.conversationID)
		if err != nil {
			o.log.Warn().Err(err).Str("kind", string(kind)).Msg("workflow status fetch failed")
			continue
		}
		o.mu.Lock()
		if o.closed {
			o.mu.Unlock()
			return
		}
		st := o.stateLocked(kind)
		st.Confirmed = status.Confirmed
		switch status.State {
		case JobInProgress:
			st.Status = StatusInProgress
			if st.StartedAt.IsZero() {
				st.StartedAt = time.Now()
			}
			o.startPollingLocked(kind)
		case JobCompleted:
			st.Status = StatusCompleted
		case JobFailed:
			st.Status = StatusFailed
		default:
			if st.Status == StatusInProgress {
				st.Status = StatusNotStarted
			}
		}
		o.mu.Unlock()
	}
}

// Close stops every poll loop. Used on conversation switch and on view
// teardown; in-flight polls observe their cancelled handle and write
// nothing afterwards.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	for kind, p := range o.pollers {
		p.cancel()
		delete(o.pollers, kind)
	}
}

func (o *Orchestrator) stateLocked(kind Kind) *State {
	st, ok := o.states[kind]
	if !ok {
		st = &State{Status: StatusNotStarted}
		o.states[kind] = st
	}
	return st
}

// startPollingLocked registers a fresh poller for kind, cancelling any
// existing one first so exactly one loop runs per kind.
func (o *Orchestrator) startPollingLocked(kind Kind) {
	if o.closed {
		return
	}
	if old, ok := o.pollers[kind]; ok {
		old.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{ctx: ctx, cancel: cancel}
	o.pollers[kind] = p
	go o.pollLoop(kind, p)
}

// pollLoop polls the job status until a terminal state, an error, the
// wall-clock ceiling, or cancellation. Ticks are strictly sequential:
// the next delay is armed only after the previous poll resolves.
func (o *Orchestrator) pollLoop(kind Kind, p *poller) {
	ceiling := time.NewTimer(o.pollCeiling)
	defer ceiling.Stop()
	tick := time.NewTimer(0)
	defer tick.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ceiling.C:
			o.stopPolling(kind, p)
			o.log.Warn().Str("kind", string(kind)).Dur("ceiling", o.pollCeiling).
				Msg("poll ceiling reached, job may still complete server-side")
			return
		case <-tick.C:
		}

		status, err := o.jobs.GenerationStatus(p.ctx, kind, o.conversationID)
		if note, done := o.applyPoll(kind, p, status, err); done {
			if note != nil {
				o.notify(*note)
			}
			return
		}
		tick.Reset(o.pollInterval)
	}
}

// applyPoll folds one poll result into state. Returns done=true when the
// loop must exit, with an optional notification to emit after the lock
// is released. A handle that is no longer the registered poller writes
// nothing: its conversation was switched away or superseded mid-flight.
func (o *Orchestrator) applyPoll(kind Kind, p *poller, status JobStatus, err error) (*Notification, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if p.ctx.Err() != nil || o.pollers[kind] != p {
		return nil, true
	}
	st := o.stateLocked(kind)

	if err != nil {
		// The job outcome is unobservable; stop tracking without
		// asserting success or failure.
		o.removePollerLocked(kind, p)
		o.log.Warn().Err(err).Str("kind", string(kind)).Msg("job status poll failed, polling stopped")
		return nil, true
	}

	st.Confirmed = st.Confirmed || status.Confirmed
	switch status.State {
	case JobCompleted:
		st.Status = StatusCompleted
		st.StartedAt = time.Time{}
		o.removePollerLocked(kind, p)
		msg := fmt.Sprintf("%s generation completed.", titleLabel(kind))
		if status.HasTotal {
			msg = fmt.Sprintf("%s generation completed: %d %s generated.", titleLabel(kind), status.TotalInserted, itemsLabel(kind))
		}
		return &Notification{Kind: kind, Level: LevelSuccess, Message: msg}, true
	case JobFailed:
		st.Status = StatusFailed
		st.StartedAt = time.Time{}
		o.removePollerLocked(kind, p)
		msg := fmt.Sprintf("%s generation failed. Please try again, or re-upload the source documents if the problem persists.", titleLabel(kind))
		return &Notification{Kind: kind, Level: LevelError, Message: msg}, true
	default:
		st.Status = StatusInProgress
		return nil, false
	}
}

// stopPolling releases a loop's handle without touching the status; used
// for the ceiling, which is an operational timeout and not a failure.
func (o *Orchestrator) stopPolling(kind Kind, p *poller) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.removePollerLocked(kind, p)
}

func (o *Orchestrator) removePollerLocked(kind Kind, p *poller) {
	if o.pollers[kind] == p {
		p.cancel()
		delete(o.pollers, kind)
	}
}

func titleLabel(kind Kind) string {
	switch kind {
	case KindRequirements:
		return "Requirement"
	case KindScenarios:
		return "Scenario"
	case KindTestCases:
		return "Test case"
	}
	return string(kind)
}

func itemsLabel(kind Kind) string {
	switch kind {
	case KindRequirements:
		return "requirements"
	case KindScenarios:
		return "scenarios"
	case KindTestCases:
		return "test cases"
	}
	return string(kind)
}
