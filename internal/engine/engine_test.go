package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/overseer-dev/overseer/internal/phase"
	"github.com/overseer-dev/overseer/internal/provider"
	"github.com/overseer-dev/overseer/internal/session"
	"github.com/overseer-dev/overseer/internal/tools"
)

// fakeClient is a scriptable provider client.
type fakeClient struct {
	name string
	mu   sync.Mutex

	calls   int
	results []*phase.Result
	errs    []error
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Analyze(_ context.Context, _ provider.AnalyzeRequest) (*phase.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return phase.NoAction("idle", "", phase.SourceAI), nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type testEnv struct {
	engine  *Engine
	manager *session.Manager
	fakes   map[string]*fakeClient
	health  *provider.HealthRegistry
}

func newTestEnv(t *testing.T, fakes map[string]*fakeClient, failover bool) *testEnv {
	t.Helper()

	var configs []provider.Config
	priority := 1
	for _, name := range []string{"primary", "backup", "isolated"} {
		if _, ok := fakes[name]; !ok {
			continue
		}
		configs = append(configs, provider.Config{
			Name:                name,
			Endpoint:            "http://test.invalid",
			Model:               "test-model",
			Priority:            priority,
			ExcludeFromFailover: name == "isolated",
		})
		priority++
	}
	store, err := provider.NewStore(configs)
	require.NoError(t, err)

	health := provider.NewHealthRegistry(provider.HealthSettings{
		DegradedAfter: 1,
		FailedAfter:   2,
		BackoffBase:   time.Minute,
		BackoffMax:    time.Hour,
	})

	eng := New(Config{
		Registry: tools.Builtin(),
		Store:    store,
		Health:   health,
		Failover: failover,
		Factory: func(cfg provider.Config) provider.Client {
			return fakes[cfg.Name]
		},
	})

	return &testEnv{
		engine:  eng,
		manager: session.NewManager(),
		fakes:   fakes,
		health:  health,
	}
}

func (env *testEnv) newSession(text string) *session.Session {
	s := env.manager.Create(session.Options{Goal: "finish the refactor"})
	s.Buffer.Append([]byte(text))
	return s
}

func remoteFailure(name string) error {
	return &provider.Error{Kind: provider.KindRemote, Provider: name, Err: errors.New("500")}
}

func TestHeuristicShortCircuitsNetwork(t *testing.T) {
	fake := &fakeClient{name: "primary"}
	env := newTestEnv(t, map[string]*fakeClient{"primary": fake}, false)

	s := env.newSession("Continue? [Y/n]")
	res := env.engine.Analyze(context.Background(), s)

	require.NotNil(t, res)
	assert.Equal(t, phase.SourceHeuristic, res.Source)
	assert.Equal(t, "y", res.SuggestedAction)
	assert.Zero(t, fake.callCount())

	counters := s.Counters.Snapshot()
	assert.Equal(t, int64(1), counters.Total)
	assert.Equal(t, int64(1), counters.PreAnalyzed)
	assert.Equal(t, int64(0), counters.AIAnalyzed)
	assert.Same(t, res, s.LastPhase())
}

func TestInconclusiveEscalatesToProvider(t *testing.T) {
	fake := &fakeClient{
		name:    "primary",
		results: []*phase.Result{{NeedsAction: false, ActionType: phase.ActionNone, CurrentState: "working", Source: phase.SourceAI}},
	}
	env := newTestEnv(t, map[string]*fakeClient{"primary": fake}, false)

	s := env.newSession("compiling module graph\nlinking binaries")
	res := env.engine.Analyze(context.Background(), s)

	assert.Equal(t, phase.SourceAI, res.Source)
	assert.Equal(t, "working", res.CurrentState)
	assert.Equal(t, 1, fake.callCount())

	counters := s.Counters.Snapshot()
	assert.Equal(t, int64(1), counters.AIAnalyzed)
	assert.Equal(t, int64(1), counters.Success)
}

func TestProviderFailureProducesSafeResult(t *testing.T) {
	fake := &fakeClient{name: "primary", errs: []error{remoteFailure("primary")}}
	env := newTestEnv(t, map[string]*fakeClient{"primary": fake}, false)

	s := env.newSession("compiling module graph")
	res := env.engine.Analyze(context.Background(), s)

	require.NotNil(t, res)
	assert.False(t, res.NeedsAction)
	assert.Equal(t, "analysis failed", res.CurrentState)
	assert.Equal(t, int64(1), s.Counters.Snapshot().Failed)
}

func TestFailedProviderShortCircuitsAllSessions(t *testing.T) {
	fake := &fakeClient{
		name: "primary",
		errs: []error{remoteFailure("primary"), remoteFailure("primary")},
	}
	env := newTestEnv(t, map[string]*fakeClient{"primary": fake}, false)

	s1 := env.newSession("compiling module graph")
	s2 := env.newSession("compiling module graph")

	// Two failures cross the threshold (FailedAfter=2).
	env.engine.Analyze(context.Background(), s1)
	env.engine.Analyze(context.Background(), s1)
	require.Equal(t, provider.StatusFailed, env.health.Get("primary").Status())
	require.Equal(t, 2, fake.callCount())

	// Health is shared: the other session short-circuits without a call.
	res := env.engine.Analyze(context.Background(), s2)
	assert.Equal(t, "AI unavailable", res.CurrentState)
	assert.False(t, res.NeedsAction)
	assert.Equal(t, 2, fake.callCount())
}

func TestFailoverRetriesOnceOnNextProvider(t *testing.T) {
	primary := &fakeClient{
		name: "primary",
		errs: []error{remoteFailure("primary"), remoteFailure("primary")},
	}
	backup := &fakeClient{
		name:    "backup",
		results: []*phase.Result{{ActionType: phase.ActionNone, CurrentState: "idle from backup", Source: phase.SourceAI}},
	}
	env := newTestEnv(t, map[string]*fakeClient{"primary": primary, "backup": backup}, true)

	s := env.newSession("compiling module graph")

	// First failure only degrades primary; no failover yet.
	env.engine.Analyze(context.Background(), s)
	assert.Zero(t, backup.callCount())

	// Second failure marks primary failed and the cycle retries once on
	// the backup.
	res := env.engine.Analyze(context.Background(), s)
	assert.Equal(t, "idle from backup", res.CurrentState)
	assert.Equal(t, 1, backup.callCount())
}

func TestFailoverSkipsExcludedProviders(t *testing.T) {
	primary := &fakeClient{
		name: "primary",
		errs: []error{remoteFailure("primary"), remoteFailure("primary")},
	}
	isolated := &fakeClient{name: "isolated"}
	env := newTestEnv(t, map[string]*fakeClient{"primary": primary, "isolated": isolated}, true)

	s := env.newSession("compiling module graph")
	env.engine.Analyze(context.Background(), s)
	res := env.engine.Analyze(context.Background(), s)

	assert.Equal(t, "analysis failed", res.CurrentState)
	assert.Zero(t, isolated.callCount())
}

func TestDangerousSuggestionIsGated(t *testing.T) {
	fake := &fakeClient{
		name: "primary",
		results: []*phase.Result{{
			NeedsAction:     true,
			ActionType:      phase.ActionShellCommand,
			SuggestedAction: "rm -rf ./build && make",
			CurrentState:    "idle",
			Source:          phase.SourceAI,
		}},
	}
	env := newTestEnv(t, map[string]*fakeClient{"primary": fake}, false)

	s := env.newSession("compiling module graph")
	res := env.engine.Analyze(context.Background(), s)

	assert.True(t, res.NeedsAction)
	assert.True(t, res.IsDangerous)
	assert.Contains(t, res.Reason, "recursive delete")
}

func TestHeuristicResultsAreGatedToo(t *testing.T) {
	registry := tools.NewRegistry()
	require.NoError(t, registry.Register(tools.Tool{
		ID:            "cursed",
		Signatures:    []string{"cursed tool"},
		QuitCommand:   "rm -rf /",
		ResumeCommand: "cursed",
	}))

	store, err := provider.NewStore(nil)
	require.NoError(t, err)

	eng := New(Config{
		Registry: registry,
		Store:    store,
		Health:   provider.NewHealthRegistry(provider.HealthSettings{}),
	})

	mgr := session.NewManager()
	s := mgr.Create(session.Options{ToolID: "cursed"})
	s.Buffer.Append([]byte("cursed tool\nfatal error: cannot continue"))

	res := eng.Analyze(context.Background(), s)
	require.NotNil(t, res)
	require.True(t, res.NeedsAction)
	assert.True(t, res.IsDangerous)
}

func TestNoProviderConfigured(t *testing.T) {
	store, err := provider.NewStore(nil)
	require.NoError(t, err)

	eng := New(Config{
		Registry: tools.Builtin(),
		Store:    store,
		Health:   provider.NewHealthRegistry(provider.HealthSettings{}),
	})

	mgr := session.NewManager()
	s := mgr.Create(session.Options{})
	s.Buffer.Append([]byte("compiling module graph"))

	res := eng.Analyze(context.Background(), s)
	assert.False(t, res.NeedsAction)
	assert.Equal(t, "no provider configured", res.CurrentState)
}
