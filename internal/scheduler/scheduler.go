// Package scheduler drives the per-session supervision loop: adaptive
// polling, decision execution, and the manual-confirmation holding state.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/overseer-dev/overseer/internal/logging"
	"github.com/overseer-dev/overseer/internal/monitoring"
	"github.com/overseer-dev/overseer/internal/phase"
	"github.com/overseer-dev/overseer/internal/session"
)

var (
	// ErrNotSupervised means the session has no running loop.
	ErrNotSupervised = errors.New("session is not supervised")
	// ErrNothingPending means the session has no decision awaiting
	// confirmation.
	ErrNothingPending = errors.New("no decision awaiting confirmation")
)

// State is one session's position in the supervision loop.
type State int32

const (
	StateIdle State = iota
	StateAnalyzing
	StateAwaitingConfirmation
	StateExecuting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAnalyzing:
		return "analyzing"
	case StateAwaitingConfirmation:
		return "awaiting_confirmation"
	case StateExecuting:
		return "executing"
	default:
		return "unknown"
	}
}

// Analyzer produces a decision for a session.
type Analyzer interface {
	Analyze(ctx context.Context, s *session.Session) *phase.Result
}

// InputSink delivers synthesized keystrokes to a session's terminal. The
// text and its terminating return are separate calls because the target
// CLI's input widget treats a bare trailing return as a distinct event
// from text-with-return.
type InputSink interface {
	SendText(sessionID, text string) error
	SendReturn(sessionID string) error
}

// Config tunes the scheduler.
type Config struct {
	// MinInterval is the polling interval while the session is active.
	MinInterval time.Duration
	// MaxInterval caps the backed-off interval while the session is quiet.
	MaxInterval time.Duration
	// ReturnDelay separates the text event from its terminating return.
	ReturnDelay time.Duration
	// OnDecision observes every completed analysis.
	OnDecision func(sessionID string, res *phase.Result)
	// OnAwaitingConfirmation surfaces a decision that needs a human.
	OnAwaitingConfirmation func(sessionID string, res *phase.Result)
	Logger                 *logging.Logger
	Metrics                *monitoring.Metrics
}

func (c Config) withDefaults() Config {
	if c.MinInterval <= 0 {
		c.MinInterval = 2 * time.Second
	}
	if c.MaxInterval < c.MinInterval {
		c.MaxInterval = 60 * time.Second
	}
	if c.ReturnDelay <= 0 {
		c.ReturnDelay = 150 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = logging.NewNop()
	}
	return c
}

// task is the supervision loop state for one session. Ticks for one task
// are strictly sequential: a session can never have two overlapping
// analyses racing to act on it.
type task struct {
	session *session.Session
	cancel  context.CancelFunc
	done    chan struct{}

	mu       sync.Mutex
	state    State
	interval time.Duration
	lastSeen int64
	pending  *phase.Result
}

// Scheduler runs one independent supervision loop per session.
type Scheduler struct {
	cfg      Config
	analyzer Analyzer
	sink     InputSink
	tasks    sync.Map // sessionID -> *task
	awaiting sync.Map // sessionID -> struct{}
}

// New creates a scheduler.
func New(cfg Config, analyzer Analyzer, sink InputSink) *Scheduler {
	return &Scheduler{
		cfg:      cfg.withDefaults(),
		analyzer: analyzer,
		sink:     sink,
	}
}

// Start begins supervising a session. Each session's loop runs on its own
// goroutine, concurrently with all others.
func (sch *Scheduler) Start(s *session.Session) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		session:  s,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    StateIdle,
		interval: sch.cfg.MinInterval,
		lastSeen: s.Buffer.TotalWritten(),
	}
	sch.tasks.Store(s.ID, t)

	go sch.run(ctx, t)
}

// Stop cancels a session's loop. Any in-flight analysis result is
// discarded; cancellation of an in-flight provider call is best-effort.
func (sch *Scheduler) Stop(sessionID string) {
	value, ok := sch.tasks.LoadAndDelete(sessionID)
	if !ok {
		return
	}
	t := value.(*task)
	t.cancel()
	sch.clearAwaiting(sessionID)
}

// Wait blocks until a session's loop has exited. Used by tests and
// graceful shutdown.
func (sch *Scheduler) Wait(sessionID string) {
	if value, ok := sch.tasks.Load(sessionID); ok {
		<-value.(*task).done
	}
}

// StateOf reports a session's current loop state.
func (sch *Scheduler) StateOf(sessionID string) (State, bool) {
	value, ok := sch.tasks.Load(sessionID)
	if !ok {
		return StateIdle, false
	}
	t := value.(*task)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state, true
}

// Pending returns the decision a session is holding for confirmation.
func (sch *Scheduler) Pending(sessionID string) *phase.Result {
	value, ok := sch.tasks.Load(sessionID)
	if !ok {
		return nil
	}
	t := value.(*task)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// Interval returns a session's current polling interval.
func (sch *Scheduler) Interval(sessionID string) (time.Duration, bool) {
	value, ok := sch.tasks.Load(sessionID)
	if !ok {
		return 0, false
	}
	t := value.(*task)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval, true
}

// Resolve settles a decision held in AwaitingConfirmation. Approving
// executes the held keystrokes (the human has confirmed, so the dangerous
// flag no longer blocks); rejecting discards them. Either way the session
// returns to Idle at the responsive interval.
func (sch *Scheduler) Resolve(ctx context.Context, sessionID string, approve bool) error {
	value, ok := sch.tasks.Load(sessionID)
	if !ok {
		return ErrNotSupervised
	}
	t := value.(*task)

	t.mu.Lock()
	if t.state != StateAwaitingConfirmation || t.pending == nil {
		t.mu.Unlock()
		return ErrNothingPending
	}
	res := t.pending
	t.pending = nil
	t.state = StateExecuting
	t.mu.Unlock()

	var err error
	if approve {
		err = sch.execute(ctx, t, res)
	}

	t.mu.Lock()
	t.state = StateIdle
	t.interval = sch.cfg.MinInterval
	t.mu.Unlock()
	sch.clearAwaiting(sessionID)
	return err
}

// run is one session's supervision loop.
func (sch *Scheduler) run(ctx context.Context, t *task) {
	defer close(t.done)

	timer := time.NewTimer(t.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			sch.tick(ctx, t)
			timer.Reset(t.currentInterval())
		}
	}
}

func (t *task) currentInterval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval
}

// tick runs one Idle → Analyzing → (Idle | Executing | Awaiting) cycle.
func (sch *Scheduler) tick(ctx context.Context, t *task) {
	t.mu.Lock()
	if t.state == StateAwaitingConfirmation {
		// Keep absorbing fresh output, but no new decision until the
		// held one is resolved externally.
		t.lastSeen = t.session.Buffer.TotalWritten()
		t.mu.Unlock()
		return
	}
	t.state = StateAnalyzing
	active := t.session.Buffer.TotalWritten() != t.lastSeen
	t.lastSeen = t.session.Buffer.TotalWritten()
	t.mu.Unlock()

	res := sch.analyzer.Analyze(ctx, t.session)

	if ctx.Err() != nil {
		// Session was deleted mid-analysis; discard the result.
		return
	}

	if res != nil && sch.cfg.OnDecision != nil {
		sch.cfg.OnDecision(t.session.ID, res)
	}

	if res == nil || !res.NeedsAction {
		t.mu.Lock()
		t.state = StateIdle
		if active {
			t.interval = sch.cfg.MinInterval
		} else {
			t.interval = min(t.interval*2, sch.cfg.MaxInterval)
		}
		t.mu.Unlock()
		return
	}

	if t.session.AutoActionEnabled() && !res.IsDangerous {
		t.mu.Lock()
		t.state = StateExecuting
		t.mu.Unlock()

		if err := sch.execute(ctx, t, res); err != nil {
			sch.cfg.Logger.Warn("keystroke delivery failed",
				zap.String("session", t.session.ID),
				zap.Error(err))
		}

		t.mu.Lock()
		t.state = StateIdle
		t.interval = sch.cfg.MinInterval
		t.mu.Unlock()
		return
	}

	// Manual confirmation required: either auto-action is off or the
	// gate flagged the action as dangerous.
	t.mu.Lock()
	t.state = StateAwaitingConfirmation
	t.pending = res
	t.mu.Unlock()

	sch.markAwaiting(t.session.ID)
	sch.cfg.Logger.Info("decision held for confirmation",
		zap.String("session", t.session.ID),
		zap.String("action_type", string(res.ActionType)),
		zap.Bool("dangerous", res.IsDangerous))
	if sch.cfg.OnAwaitingConfirmation != nil {
		sch.cfg.OnAwaitingConfirmation(t.session.ID, res)
	}
}

// execute delivers the suggested keystrokes: the text, a pause, then the
// terminating return as its own event.
func (sch *Scheduler) execute(ctx context.Context, t *task, res *phase.Result) error {
	if res.SuggestedAction != "" {
		if err := sch.sink.SendText(t.session.ID, res.SuggestedAction); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sch.cfg.ReturnDelay):
		}
	}
	if err := sch.sink.SendReturn(t.session.ID); err != nil {
		return err
	}

	sch.cfg.Metrics.RecordAction(string(res.ActionType))
	sch.cfg.Logger.Info("executed action",
		zap.String("session", t.session.ID),
		zap.String("action_type", string(res.ActionType)),
		zap.String("action", res.SuggestedAction))
	return nil
}

func (sch *Scheduler) markAwaiting(sessionID string) {
	sch.awaiting.Store(sessionID, struct{}{})
	sch.cfg.Metrics.SetAwaitingApproval(sch.awaitingCount())
}

func (sch *Scheduler) clearAwaiting(sessionID string) {
	sch.awaiting.Delete(sessionID)
	sch.cfg.Metrics.SetAwaitingApproval(sch.awaitingCount())
}

func (sch *Scheduler) awaitingCount() int {
	n := 0
	sch.awaiting.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}
