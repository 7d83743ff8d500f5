package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overseer-dev/overseer/internal/phase"
	"github.com/overseer-dev/overseer/internal/session"
)

// stubAnalyzer replays a fixed sequence of results, then repeats the last
// one.
type stubAnalyzer struct {
	mu      sync.Mutex
	results []*phase.Result
	calls   int
}

func (a *stubAnalyzer) Analyze(_ context.Context, _ *session.Session) *phase.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if len(a.results) == 0 {
		return phase.NoAction("idle", "", phase.SourceHeuristic)
	}
	i := a.calls - 1
	if i >= len(a.results) {
		i = len(a.results) - 1
	}
	return a.results[i]
}

func (a *stubAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// recordingSink captures keystroke events in delivery order.
type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *recordingSink) SendText(_, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "text:"+text)
	return nil
}

func (s *recordingSink) SendReturn(_ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, "return")
	return nil
}

func (s *recordingSink) recorded() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.events...)
}

type fixture struct {
	sch      *Scheduler
	analyzer *stubAnalyzer
	sink     *recordingSink
	manager  *session.Manager
}

// newFixture builds a scheduler whose ticks the test drives by hand. The
// task is registered without a background loop so assertions stay
// deterministic.
func newFixture(cfg Config, results ...*phase.Result) *fixture {
	analyzer := &stubAnalyzer{results: results}
	sink := &recordingSink{}
	if cfg.ReturnDelay == 0 {
		cfg.ReturnDelay = time.Millisecond
	}
	return &fixture{
		sch:      New(cfg, analyzer, sink),
		analyzer: analyzer,
		sink:     sink,
		manager:  session.NewManager(),
	}
}

func (f *fixture) supervise(opts session.Options) (*session.Session, *task) {
	s := f.manager.Create(opts)
	t := &task{
		session:  s,
		done:     make(chan struct{}),
		state:    StateIdle,
		interval: f.sch.cfg.MinInterval,
		lastSeen: s.Buffer.TotalWritten(),
	}
	f.sch.tasks.Store(s.ID, t)
	return s, t
}

func TestIntervalDoublesWhileQuiet(t *testing.T) {
	f := newFixture(Config{MinInterval: 100 * time.Millisecond, MaxInterval: 400 * time.Millisecond})
	_, task := f.supervise(session.Options{})

	ctx := context.Background()
	f.sch.tick(ctx, task)
	assert.Equal(t, 200*time.Millisecond, task.currentInterval())

	f.sch.tick(ctx, task)
	assert.Equal(t, 400*time.Millisecond, task.currentInterval())

	// Capped at MaxInterval.
	f.sch.tick(ctx, task)
	assert.Equal(t, 400*time.Millisecond, task.currentInterval())
}

func TestIntervalResetsOnActivity(t *testing.T) {
	f := newFixture(Config{MinInterval: 100 * time.Millisecond, MaxInterval: 800 * time.Millisecond})
	s, task := f.supervise(session.Options{})

	ctx := context.Background()
	f.sch.tick(ctx, task)
	f.sch.tick(ctx, task)
	require.Equal(t, 400*time.Millisecond, task.currentInterval())

	s.Buffer.Append([]byte("fresh output\n"))
	f.sch.tick(ctx, task)
	assert.Equal(t, 100*time.Millisecond, task.currentInterval())
}

func TestAutoActionSendsTextThenReturn(t *testing.T) {
	res := &phase.Result{
		NeedsAction:     true,
		ActionType:      phase.ActionSelect,
		SuggestedAction: "2",
		CurrentState:    "menu",
		Source:          phase.SourceHeuristic,
	}
	f := newFixture(Config{MinInterval: 100 * time.Millisecond, MaxInterval: time.Second}, res)
	s, task := f.supervise(session.Options{AutoAction: true})

	f.sch.tick(context.Background(), task)

	assert.Equal(t, []string{"text:2", "return"}, f.sink.recorded())
	state, ok := f.sch.StateOf(s.ID)
	require.True(t, ok)
	assert.Equal(t, StateIdle, state)

	interval, _ := f.sch.Interval(s.ID)
	assert.Equal(t, 100*time.Millisecond, interval)
}

func TestEmptyActionSendsBareReturn(t *testing.T) {
	res := &phase.Result{
		NeedsAction:  true,
		ActionType:   phase.ActionConfirm,
		CurrentState: "waiting_confirmation",
		Source:       phase.SourceHeuristic,
	}
	f := newFixture(Config{}, res)
	_, task := f.supervise(session.Options{AutoAction: true})

	f.sch.tick(context.Background(), task)
	assert.Equal(t, []string{"return"}, f.sink.recorded())
}

func TestDangerousDecisionHeldDespiteAutoAction(t *testing.T) {
	res := &phase.Result{
		NeedsAction:     true,
		ActionType:      phase.ActionShellCommand,
		SuggestedAction: "rm -rf /",
		IsDangerous:     true,
		CurrentState:    "waiting_input",
		Source:          phase.SourceAI,
	}

	var notified string
	f := newFixture(Config{
		OnAwaitingConfirmation: func(id string, _ *phase.Result) { notified = id },
	}, res)
	s, task := f.supervise(session.Options{AutoAction: true})

	f.sch.tick(context.Background(), task)

	assert.Empty(t, f.sink.recorded())
	state, _ := f.sch.StateOf(s.ID)
	assert.Equal(t, StateAwaitingConfirmation, state)
	assert.Same(t, res, f.sch.Pending(s.ID))
	assert.Equal(t, s.ID, notified)
}

func TestManualModeHoldsEveryDecision(t *testing.T) {
	res := &phase.Result{
		NeedsAction:     true,
		ActionType:      phase.ActionConfirm,
		SuggestedAction: "y",
		CurrentState:    "waiting_confirmation",
		Source:          phase.SourceHeuristic,
	}
	f := newFixture(Config{}, res)
	s, task := f.supervise(session.Options{AutoAction: false})

	f.sch.tick(context.Background(), task)

	assert.Empty(t, f.sink.recorded())
	state, _ := f.sch.StateOf(s.ID)
	assert.Equal(t, StateAwaitingConfirmation, state)
}

func TestAwaitingTickDoesNotReanalyze(t *testing.T) {
	res := &phase.Result{
		NeedsAction:     true,
		ActionType:      phase.ActionConfirm,
		SuggestedAction: "y",
		CurrentState:    "waiting_confirmation",
		Source:          phase.SourceHeuristic,
	}
	f := newFixture(Config{}, res)
	s, task := f.supervise(session.Options{})

	ctx := context.Background()
	f.sch.tick(ctx, task)
	require.Equal(t, 1, f.analyzer.callCount())

	// New output arrives while held; the tick absorbs it but does not
	// produce a second decision.
	s.Buffer.Append([]byte("still waiting\n"))
	f.sch.tick(ctx, task)
	f.sch.tick(ctx, task)
	assert.Equal(t, 1, f.analyzer.callCount())
	assert.Same(t, res, f.sch.Pending(s.ID))
}

func TestResolveApproveExecutesHeldAction(t *testing.T) {
	res := &phase.Result{
		NeedsAction:     true,
		ActionType:      phase.ActionShellCommand,
		SuggestedAction: "git push --force origin main",
		IsDangerous:     true,
		CurrentState:    "waiting_input",
		Source:          phase.SourceAI,
	}
	f := newFixture(Config{}, res)
	s, task := f.supervise(session.Options{AutoAction: true})

	ctx := context.Background()
	f.sch.tick(ctx, task)
	require.Equal(t, StateAwaitingConfirmation, task.state)

	require.NoError(t, f.sch.Resolve(ctx, s.ID, true))

	assert.Equal(t, []string{"text:git push --force origin main", "return"}, f.sink.recorded())
	state, _ := f.sch.StateOf(s.ID)
	assert.Equal(t, StateIdle, state)
	assert.Nil(t, f.sch.Pending(s.ID))
}

func TestResolveRejectDiscardsHeldAction(t *testing.T) {
	res := &phase.Result{
		NeedsAction:     true,
		ActionType:      phase.ActionConfirm,
		SuggestedAction: "y",
		CurrentState:    "waiting_confirmation",
		Source:          phase.SourceHeuristic,
	}
	f := newFixture(Config{}, res)
	s, task := f.supervise(session.Options{})

	ctx := context.Background()
	f.sch.tick(ctx, task)
	require.NoError(t, f.sch.Resolve(ctx, s.ID, false))

	assert.Empty(t, f.sink.recorded())
	state, _ := f.sch.StateOf(s.ID)
	assert.Equal(t, StateIdle, state)
	assert.Nil(t, f.sch.Pending(s.ID))
}

func TestResolveErrors(t *testing.T) {
	f := newFixture(Config{})
	s, _ := f.supervise(session.Options{})

	ctx := context.Background()
	assert.ErrorIs(t, f.sch.Resolve(ctx, "missing", true), ErrNotSupervised)
	assert.ErrorIs(t, f.sch.Resolve(ctx, s.ID, true), ErrNothingPending)
}

func TestStartAndStopLifecycle(t *testing.T) {
	f := newFixture(Config{MinInterval: 5 * time.Millisecond, MaxInterval: 10 * time.Millisecond})
	s := f.manager.Create(session.Options{})

	f.sch.Start(s)
	_, ok := f.sch.StateOf(s.ID)
	require.True(t, ok)

	// Let the loop take at least one tick.
	assert.Eventually(t, func() bool {
		return f.analyzer.callCount() > 0
	}, time.Second, time.Millisecond)

	value, ok := f.sch.tasks.Load(s.ID)
	require.True(t, ok)
	loopDone := value.(*task).done

	f.sch.Stop(s.ID)

	select {
	case <-loopDone:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit after Stop")
	}

	_, ok = f.sch.StateOf(s.ID)
	assert.False(t, ok)
}
