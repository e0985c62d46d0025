package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	core "github.com/watchpost/watchpost/internal/app/core/service"
	"github.com/watchpost/watchpost/pkg/watchpost/cache"
	"github.com/watchpost/watchpost/pkg/watchpost/check"
	"github.com/watchpost/watchpost/pkg/watchpost/datasource"
	"github.com/watchpost/watchpost/pkg/watchpost/environment"
	"github.com/watchpost/watchpost/pkg/watchpost/executor"
	"github.com/watchpost/watchpost/pkg/watchpost/hostname"
	"github.com/watchpost/watchpost/pkg/watchpost/result"
	"github.com/watchpost/watchpost/pkg/watchpost/scheduling"
	"github.com/watchpost/watchpost/pkg/watchpost/state"
	"github.com/watchpost/watchpost/pkg/watchpost/storage"
)

func newTestEngine(t *testing.T, reg check.Registration) *Engine {
	t.Helper()

	ds := datasource.NewRegistry()
	checks := check.NewRegistry()
	if err := checks.Register(reg, ds); err != nil {
		t.Fatalf("Register: %v", err)
	}

	return New(Config{
		Checks:             checks,
		Datasources:        ds,
		Cache:              cache.New(storage.NewMemory()),
		Executor:           executor.New(executor.Config{WorkerPoolSize: 2}),
		ExecutionEnv:       "prod",
		KnownExecutionEnvs: []string{"prod"},
		CoercionEnabled:    true,
	})
}

func prodEnv() environment.Environment {
	return environment.New("prod", "", nil)
}

func TestPollScheduleExecutesAndReturnsResult(t *testing.T) {
	reg := check.Registration{
		ID:                 "disk-space",
		ServiceName:        "disk-space",
		TargetEnvironments: []environment.Environment{prodEnv()},
		CacheFor:           "none",
		Function: func(args []interface{}) (interface{}, error) {
			return result.OK("all good"), nil
		},
	}
	e := newTestEngine(t, reg)

	results := e.Poll(context.Background(), PollOptions{})
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	if results[0].State != state.OK || results[0].Summary != "all good" {
		t.Errorf("results[0] = %+v", results[0])
	}
}

func TestPollFiresObservationHooksAroundCheckFunction(t *testing.T) {
	ds := datasource.NewRegistry()
	checks := check.NewRegistry()
	reg := check.Registration{
		ID:                 "disk-space",
		ServiceName:        "disk-space",
		TargetEnvironments: []environment.Environment{prodEnv()},
		CacheFor:           "none",
		Function: func(args []interface{}) (interface{}, error) {
			return result.OK("all good"), nil
		},
	}
	if err := checks.Register(reg, ds); err != nil {
		t.Fatalf("Register: %v", err)
	}

	var mu sync.Mutex
	var started, completed []string
	var gotErr error
	hooks := core.ObservationHooks{
		OnStart: func(ctx context.Context, meta map[string]string) {
			mu.Lock()
			defer mu.Unlock()
			started = append(started, meta["check_id"])
		},
		OnComplete: func(ctx context.Context, meta map[string]string, err error, d time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			completed = append(completed, meta["check_id"])
			gotErr = err
		},
	}

	e := New(Config{
		Checks:             checks,
		Datasources:        ds,
		Cache:              cache.New(storage.NewMemory()),
		Executor:           executor.New(executor.Config{WorkerPoolSize: 2}),
		ExecutionEnv:       "prod",
		KnownExecutionEnvs: []string{"prod"},
		CoercionEnabled:    true,
		ObservationHooks:   hooks,
	})

	results := e.Poll(context.Background(), PollOptions{})
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(started) != 1 || started[0] != "disk-space" {
		t.Fatalf("expected OnStart to fire once with the check id, got %v", started)
	}
	if len(completed) != 1 || completed[0] != "disk-space" {
		t.Fatalf("expected OnComplete to fire once with the check id, got %v", completed)
	}
	if gotErr != nil {
		t.Fatalf("expected a nil error for a successful check, got %v", gotErr)
	}
}

func TestPollCachesAndServesLiveEntryWithoutExecuting(t *testing.T) {
	var calls int
	reg := check.Registration{
		ID:                 "cached-check",
		ServiceName:        "cached-check",
		TargetEnvironments: []environment.Environment{prodEnv()},
		CacheFor:           "1h",
		Function: func(args []interface{}) (interface{}, error) {
			calls++
			return result.OK("fresh"), nil
		},
	}
	e := newTestEngine(t, reg)

	first := e.Poll(context.Background(), PollOptions{})
	second := e.Poll(context.Background(), PollOptions{})

	if calls != 1 {
		t.Errorf("calls = %d, want 1 (second poll should be served from cache)", calls)
	}
	if len(first) != 1 || len(second) != 1 || first[0].Summary != second[0].Summary {
		t.Errorf("first = %+v, second = %+v", first, second)
	}
}

func TestPollForceNoCacheAlwaysExecutes(t *testing.T) {
	var calls int
	reg := check.Registration{
		ID:                 "cached-check",
		ServiceName:        "cached-check",
		TargetEnvironments: []environment.Environment{prodEnv()},
		CacheFor:           "1h",
		Function: func(args []interface{}) (interface{}, error) {
			calls++
			return result.OK("fresh"), nil
		},
	}
	e := newTestEngine(t, reg)

	e.Poll(context.Background(), PollOptions{ForceNoCache: true})
	e.Poll(context.Background(), PollOptions{ForceNoCache: true})

	if calls != 2 {
		t.Errorf("calls = %d, want 2 (ForceNoCache must bypass the cache every time)", calls)
	}
}

func TestPollDontScheduleEmitsNoResult(t *testing.T) {
	reg := check.Registration{
		ID:                   "staging-only",
		ServiceName:          "staging-only",
		TargetEnvironments:   []environment.Environment{prodEnv()},
		CacheFor:             "none",
		SchedulingStrategies: []scheduling.Strategy{scheduling.MustRunInGivenExecutionEnvironment("staging")},
		Function: func(args []interface{}) (interface{}, error) {
			t.Fatal("check must not run when DONT_SCHEDULE is decided")
			return nil, nil
		},
	}
	e := newTestEngine(t, reg)

	results := e.Poll(context.Background(), PollOptions{})
	if len(results) != 0 {
		t.Errorf("results = %+v, want empty", results)
	}
}

func TestPollEngineDefaultStrategyAppliesWithoutCheckDeclaringOne(t *testing.T) {
	ds := datasource.NewRegistry()
	checks := check.NewRegistry()
	reg := check.Registration{
		ID:                 "no-own-strategy",
		ServiceName:        "no-own-strategy",
		TargetEnvironments: []environment.Environment{prodEnv()},
		CacheFor:           "none",
		Function: func(args []interface{}) (interface{}, error) {
			t.Fatal("check must not run: the engine default restricts it to staging")
			return nil, nil
		},
	}
	if err := checks.Register(reg, ds); err != nil {
		t.Fatalf("Register: %v", err)
	}

	e := New(Config{
		Checks:                  checks,
		Datasources:             ds,
		Cache:                   cache.New(storage.NewMemory()),
		Executor:                executor.New(executor.Config{WorkerPoolSize: 2}),
		ExecutionEnv:            "prod",
		KnownExecutionEnvs:      []string{"prod"},
		EngineDefaultStrategies: []scheduling.Strategy{scheduling.MustRunInGivenExecutionEnvironment("staging")},
		CoercionEnabled:         true,
	})

	results := e.Poll(context.Background(), PollOptions{})
	if len(results) != 0 {
		t.Errorf("results = %+v, want empty (engine default strategy should fold in and veto scheduling)", results)
	}
}

func TestPollSkipEmitsSyntheticUnknownWithoutCache(t *testing.T) {
	reg := check.Registration{
		ID:                   "skip-check",
		ServiceName:          "skip-check",
		TargetEnvironments:   []environment.Environment{prodEnv()},
		CacheFor:             "none",
		SchedulingStrategies: []scheduling.Strategy{skipAlways{}},
		Function: func(args []interface{}) (interface{}, error) {
			t.Fatal("check must not run when SKIP is decided")
			return nil, nil
		},
	}
	e := newTestEngine(t, reg)

	results := e.Poll(context.Background(), PollOptions{})
	if len(results) != 1 || results[0].State != state.UNKNOWN || results[0].Summary != "scheduled-skip-no-cache" {
		t.Errorf("results = %+v", results)
	}
}

func TestPollSkipServesCachedResultWhenPresent(t *testing.T) {
	reg := check.Registration{
		ID:                   "skip-with-cache",
		ServiceName:          "skip-with-cache",
		TargetEnvironments:   []environment.Environment{prodEnv()},
		CacheFor:             "1h",
		SchedulingStrategies: []scheduling.Strategy{&mustRunFirstPoll{}},
		Function: func(args []interface{}) (interface{}, error) {
			return result.OK("warmed"), nil
		},
	}
	e := newTestEngine(t, reg)

	first := e.Poll(context.Background(), PollOptions{})
	if len(first) != 1 || first[0].Summary != "warmed" {
		t.Fatalf("first poll = %+v", first)
	}

	second := e.Poll(context.Background(), PollOptions{})
	if len(second) != 1 || second[0].Summary != "warmed" || second[0].State != state.OK {
		t.Errorf("second poll (SKIP) = %+v, want cached warmed/OK", second)
	}
}

func TestPollCheckErrorBecomesUnknown(t *testing.T) {
	reg := check.Registration{
		ID:                 "failing-check",
		ServiceName:        "failing-check",
		TargetEnvironments: []environment.Environment{prodEnv()},
		CacheFor:           "none",
		Function: func(args []interface{}) (interface{}, error) {
			return nil, errors.New("boom")
		},
	}
	e := newTestEngine(t, reg)

	results := e.Poll(context.Background(), PollOptions{})
	if len(results) != 1 || results[0].State != state.UNKNOWN {
		t.Fatalf("results = %+v", results)
	}
}

func TestPollAppliesErrorHandlerExpansion(t *testing.T) {
	reg := check.Registration{
		ID:                 "failing-check",
		ServiceName:        "failing-check",
		TargetEnvironments: []environment.Environment{prodEnv()},
		CacheFor:           "none",
		ErrorHandlers:      []result.ErrorHandler{result.ExpandByHostname("host-a", "host-b")},
		Function: func(args []interface{}) (interface{}, error) {
			return nil, errors.New("boom")
		},
	}
	e := newTestEngine(t, reg)

	results := e.Poll(context.Background(), PollOptions{})
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2 (expand_by_hostname duplicates per host)", len(results))
	}
	hosts := map[string]bool{results[0].PiggybackHost: true, results[1].PiggybackHost: true}
	if !hosts["host-a"] || !hosts["host-b"] {
		t.Errorf("results = %+v, want piggyback hosts host-a and host-b", results)
	}
}

func TestPollResolvesCheckLevelHostnameStrategy(t *testing.T) {
	reg := check.Registration{
		ID:                 "hosted-check",
		ServiceName:        "hosted-check",
		TargetEnvironments: []environment.Environment{prodEnv()},
		CacheFor:           "none",
		HostnameStrategy:   hostname.Static("Configured.Host"),
		Function: func(args []interface{}) (interface{}, error) {
			return result.OK("ok"), nil
		},
	}
	e := newTestEngine(t, reg)

	results := e.Poll(context.Background(), PollOptions{})
	if len(results) != 1 || results[0].PiggybackHost != "configured.host" {
		t.Errorf("PiggybackHost = %q, want coerced configured.host", results[0].PiggybackHost)
	}
}

func TestPollFilterPrefixNarrowsEnumeration(t *testing.T) {
	ds := datasource.NewRegistry()
	checks := check.NewRegistry()
	must(t, checks.Register(check.Registration{
		ID: "a.foo", ServiceName: "a-foo",
		TargetEnvironments: []environment.Environment{prodEnv()}, CacheFor: "none",
		Function: func(args []interface{}) (interface{}, error) { return result.OK("a"), nil },
	}, ds))
	must(t, checks.Register(check.Registration{
		ID: "b.foo", ServiceName: "b-foo",
		TargetEnvironments: []environment.Environment{prodEnv()}, CacheFor: "none",
		Function: func(args []interface{}) (interface{}, error) { return result.OK("b"), nil },
	}, ds))

	e := New(Config{
		Checks: checks, Datasources: ds,
		Cache: cache.New(storage.NewMemory()), Executor: executor.New(executor.Config{}),
		ExecutionEnv: "prod", KnownExecutionEnvs: []string{"prod"}, CoercionEnabled: true,
	})

	results := e.Poll(context.Background(), PollOptions{FilterPrefix: "a."})
	if len(results) != 1 || results[0].ServiceName != "a-foo" {
		t.Errorf("results = %+v, want only a.foo's result", results)
	}
}

func TestPollResolvesDatasourceParam(t *testing.T) {
	ds := datasource.NewRegistry()
	ds.RegisterDirect("counter", func(args map[string]interface{}) (interface{}, error) {
		return &counter{}, nil
	})
	checks := check.NewRegistry()
	must(t, checks.Register(check.Registration{
		ID:                 "uses-datasource",
		ServiceName:        "uses-datasource",
		TargetEnvironments: []environment.Environment{prodEnv()},
		CacheFor:           "none",
		Signature:          []check.ParamSpec{check.Datasource("counter")},
		Function: func(args []interface{}) (interface{}, error) {
			c := args[0].(*counter)
			c.n++
			return result.OK("n"), nil
		},
	}, ds))

	e := New(Config{
		Checks: checks, Datasources: ds,
		Cache: cache.New(storage.NewMemory()), Executor: executor.New(executor.Config{}),
		ExecutionEnv: "prod", KnownExecutionEnvs: []string{"prod"}, CoercionEnabled: true,
	})

	e.Poll(context.Background(), PollOptions{ForceNoCache: true})
	e.Poll(context.Background(), PollOptions{ForceNoCache: true})

	instance, _ := ds.ResolveDirect("uses-datasource", "counter", nil)
	if instance.(*counter).n != 2 {
		t.Errorf("counter.n = %d, want 2 (datasource instance must be memoized/shared)", instance.(*counter).n)
	}
}

func TestVerifyConfigurationDetectsUnsatisfiableCombination(t *testing.T) {
	reg := check.Registration{
		ID:                   "unsatisfiable",
		ServiceName:          "unsatisfiable",
		TargetEnvironments:   []environment.Environment{environment.New("staging", "", nil)},
		CacheFor:             "none",
		SchedulingStrategies: []scheduling.Strategy{scheduling.MustRunInGivenExecutionEnvironment("qa")},
		Function:             func(args []interface{}) (interface{}, error) { return result.OK("x"), nil },
	}
	e := newTestEngine(t, reg)

	if err := e.VerifyConfiguration(); err == nil {
		t.Fatal("expected VerifyConfiguration to detect the unsatisfiable (execution_env, target_env) combination")
	}
}

func TestVerifyConfigurationFoldsInEngineDefaultStrategy(t *testing.T) {
	ds := datasource.NewRegistry()
	checks := check.NewRegistry()
	reg := check.Registration{
		ID:                 "no-own-strategy",
		ServiceName:        "no-own-strategy",
		TargetEnvironments: []environment.Environment{environment.New("staging", "", nil)},
		CacheFor:           "none",
		Function:           func(args []interface{}) (interface{}, error) { return result.OK("x"), nil },
	}
	if err := checks.Register(reg, ds); err != nil {
		t.Fatalf("Register: %v", err)
	}

	e := New(Config{
		Checks:                  checks,
		Datasources:             ds,
		Cache:                   cache.New(storage.NewMemory()),
		Executor:                executor.New(executor.Config{WorkerPoolSize: 2}),
		ExecutionEnv:            "prod",
		KnownExecutionEnvs:      []string{"prod"},
		EngineDefaultStrategies: []scheduling.Strategy{scheduling.MustRunInGivenExecutionEnvironment("qa")},
		CoercionEnabled:         true,
	})

	if err := e.VerifyConfiguration(); err == nil {
		t.Fatal("expected the engine default strategy to make this check's only target environment unsatisfiable")
	}
}

func TestStartStopLifecycle(t *testing.T) {
	reg := check.Registration{
		ID:                 "lifecycle-check",
		ServiceName:        "lifecycle-check",
		TargetEnvironments: []environment.Environment{prodEnv()},
		CacheFor:           "none",
		Function:           func(args []interface{}) (interface{}, error) { return result.OK("x"), nil },
	}
	e := newTestEngine(t, reg)

	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

type counter struct{ n int }

type skipAlways struct{}

func (skipAlways) Decide(checkID, executionEnv, targetEnv string) scheduling.Decision {
	return scheduling.SKIP
}
func (skipAlways) Name() string { return "skip_always" }

// mustRunFirstPoll schedules once, then forces SKIP on every later
// evaluation — used to exercise the SKIP branch's cached-result path after
// a first poll has populated the cache.
type mustRunFirstPoll struct{ evaluated bool }

func (s *mustRunFirstPoll) Decide(checkID, executionEnv, targetEnv string) scheduling.Decision {
	if !s.evaluated {
		s.evaluated = true
		return scheduling.SCHEDULE
	}
	return scheduling.SKIP
}
func (s *mustRunFirstPoll) Name() string { return "must_run_first_poll" }
