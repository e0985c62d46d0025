// Package engine implements the top-level orchestrator described in spec
// §4.6: one poll enumerates every (check, target_env) pair, decides
// scheduling, dispatches to the Executor, normalizes and expands results,
// resolves hostnames, and writes the cache — all against explicit state
// threaded through a Context rather than an ambient "current application"
// global (spec §9 redesign note).
package engine

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	wperrors "github.com/watchpost/watchpost/infrastructure/errors"
	core "github.com/watchpost/watchpost/internal/app/core/service"
	"github.com/watchpost/watchpost/pkg/logger"
	"github.com/watchpost/watchpost/pkg/watchpost/cache"
	"github.com/watchpost/watchpost/pkg/watchpost/check"
	"github.com/watchpost/watchpost/pkg/watchpost/datasource"
	"github.com/watchpost/watchpost/pkg/watchpost/environment"
	"github.com/watchpost/watchpost/pkg/watchpost/executor"
	"github.com/watchpost/watchpost/pkg/watchpost/hostname"
	"github.com/watchpost/watchpost/pkg/watchpost/metrics"
	"github.com/watchpost/watchpost/pkg/watchpost/result"
	"github.com/watchpost/watchpost/pkg/watchpost/scheduling"
	"github.com/watchpost/watchpost/pkg/watchpost/state"
)

// Config assembles the immutable state one Engine instance runs against.
type Config struct {
	Checks             *check.Registry
	Datasources        *datasource.Registry
	Cache              *cache.Cache // nil disables caching entirely
	Executor           *executor.Executor
	ExecutionEnv       string   // this process's own execution environment name
	KnownExecutionEnvs []string // every execution environment known at startup, for conflict detection
	EngineDefaultHost  hostname.Strategy
	// EngineDefaultStrategies are scheduling strategies folded into every
	// check's effective strategy set alongside its own declared,
	// datasource, and factory strategies (spec §4.3's composition rule:
	// the union of all four sources), the way an engine-wide "only run
	// in these execution environments" policy would be applied without
	// every check declaring it individually.
	EngineDefaultStrategies []scheduling.Strategy
	CoercionEnabled         bool
	Log                     *logger.Logger
	// ObservationHooks, if set, fires around every check function
	// invocation (not the cache/skip-served branches), carrying the
	// check id and target environment as metadata. It's a side channel
	// for custom instrumentation (tracing, per-check latency histograms)
	// independent of the pkg/watchpost/metrics Prometheus collectors.
	ObservationHooks core.ObservationHooks
}

// Engine is the top-level orchestrator. It holds only immutable registries
// plus the mutable Cache and Executor spec §4.6 names as its state.
type Engine struct {
	checks                  *check.Registry
	datasources             *datasource.Registry
	cache                   *cache.Cache
	exec                    *executor.Executor
	executionEnv            string
	knownEnvs               []string
	hostResolver            *hostname.Resolver
	log                     *logger.Logger
	hooks                   core.ObservationHooks
	engineDefaultStrategies []scheduling.Strategy
}

// New builds an Engine from cfg. It does not run conflict detection; call
// VerifyConfiguration first (or use Start, which runs it for you).
func New(cfg Config) *Engine {
	log := cfg.Log
	if log == nil {
		log = logger.NewDefault("watchpost-engine")
	}
	return &Engine{
		checks:                  cfg.Checks,
		datasources:             cfg.Datasources,
		cache:                   cfg.Cache,
		exec:                    cfg.Executor,
		executionEnv:            cfg.ExecutionEnv,
		knownEnvs:               cfg.KnownExecutionEnvs,
		hostResolver:            hostname.NewResolver(cfg.EngineDefaultHost, cfg.CoercionEnabled),
		log:                     log,
		hooks:                   cfg.ObservationHooks,
		engineDefaultStrategies: cfg.EngineDefaultStrategies,
	}
}

// effectiveStrategies returns d's declared/datasource/factory strategies
// (already folded together by check.Build) unioned with the engine's own
// default strategies — spec §4.3's full four-source composition rule.
func (e *Engine) effectiveStrategies(d check.Descriptor) []scheduling.Strategy {
	if len(e.engineDefaultStrategies) == 0 {
		return d.SchedulingStrategies
	}
	combined := make([]scheduling.Strategy, 0, len(d.SchedulingStrategies)+len(e.engineDefaultStrategies))
	combined = append(combined, d.SchedulingStrategies...)
	combined = append(combined, e.engineDefaultStrategies...)
	return combined
}

// Descriptor advertises the engine's placement for the system service
// manager's introspection surface.
func (e *Engine) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:   "watchpost-engine",
		Domain: "monitoring",
		Layer:  core.LayerEngine,
	}.WithCapabilities("poll", "schedule", "cache", "dispatch")
}

// Name satisfies system.Service.
func (e *Engine) Name() string { return "watchpost-engine" }

// Start satisfies system.Service: it runs registration-time conflict
// detection, aborting if any check's scheduling strategies are
// unsatisfiable (spec §4.3, §4.6 failure semantics: "a registration-time
// configuration error ... aborts engine startup").
func (e *Engine) Start(ctx context.Context) error {
	return e.VerifyConfiguration()
}

// Stop satisfies system.Service: it shuts down the executor, draining
// in-flight work.
func (e *Engine) Stop(ctx context.Context) error {
	e.exec.Shutdown(true)
	return nil
}

// Statistics exposes the executor's rolling running/completed/errored
// snapshot for the `/executor/statistics` HTTP surface (spec §6).
func (e *Engine) Statistics() executor.Statistics {
	return e.exec.Statistics()
}

// ErroredSnapshot exposes the executor's bounded errored-results ring
// buffer for the `/executor/errored` HTTP surface (spec §6).
func (e *Engine) ErroredSnapshot() []executor.ErroredRecord {
	return e.exec.ErroredSnapshot()
}

// Checks exposes the check registry for surfaces that enumerate
// registrations without running a poll (the CLI's list-checks and
// get-check-hostnames commands, spec §6).
func (e *Engine) Checks() *check.Registry {
	return e.checks
}

// VerifyConfiguration runs spec §4.3's conflict-detection pass over every
// registered check's effective strategy set and every declared target
// environment, aggregating every failure into one MultiError (spec §4.6:
// "a registration-time configuration error ... aborts engine startup", and
// the CLI's verify-check-configuration surface wants every conflict at
// once, not just the first).
func (e *Engine) VerifyConfiguration() error {
	multi := &wperrors.MultiError{}
	for _, d := range e.checks.All() {
		targetNames := make([]string, 0, len(d.TargetEnvironments))
		for _, env := range d.TargetEnvironments {
			targetNames = append(targetNames, env.Name())
		}
		if err := scheduling.CheckConflicts(d.ID, e.effectiveStrategies(d), e.knownEnvs, targetNames); err != nil {
			multi.Add(err)
		}
	}
	return multi.AsError()
}

// pollKey is the cache/executor deduplication key for one (check, env)
// pair (spec §3: "for any (check_id, env_name) key, the cache contains at
// most one entry").
func pollKey(checkID, envName string) string {
	return checkID + "::" + envName
}

// Poll runs one full enumeration: every registered check against every one
// of its declared target environments, honoring filters, cache policy, and
// sync/async routing. It blocks until every pair's result (or synthetic
// stand-in) has been collected, returning results in stable enumeration
// order (spec §5 ordering guarantees).
func (e *Engine) Poll(ctx context.Context, opts PollOptions) []result.ExecutionResult {
	start := time.Now()
	results := e.poll(ctx, opts)

	counts := make(map[string]int, 4)
	for _, r := range results {
		counts[r.State.String()]++
	}
	metrics.RecordPoll(time.Since(start), counts)

	return results
}

func (e *Engine) poll(ctx context.Context, opts PollOptions) []result.ExecutionResult {
	pairs := e.enumerate(opts)

	pending := make([]pendingPair, 0, len(pairs))
	pendingIdx := make([]int, 0, len(pairs))
	perPair := make([][]result.ExecutionResult, len(pairs))

	for i, p := range pairs {
		decision := scheduling.Aggregate(e.effectiveStrategies(p.descriptor), p.descriptor.ID, e.executionEnv, p.targetEnv.Name())
		switch decision {
		case scheduling.DONT_SCHEDULE:
			continue
		case scheduling.SKIP:
			perPair[i] = e.resultsForSkip(p)
		default: // SCHEDULE
			if !opts.ForceNoCache {
				if cached, ok := e.liveCacheHit(p); ok {
					perPair[i] = cached
					continue
				}
			}
			future, err := e.submit(ctx, p, opts.ForceAsync)
			if err != nil {
				perPair[i] = e.syntheticUnknown(p, err)
				continue
			}
			pending = append(pending, pendingPair{pair: p, future: future, skipCacheWrite: opts.ForceNoCache})
			pendingIdx = append(pendingIdx, i)
		}
	}

	for j, results := range e.awaitAll(ctx, pending) {
		perPair[pendingIdx[j]] = results
	}

	var out []result.ExecutionResult
	for _, results := range perPair {
		out = append(out, results...)
	}
	return out
}

// awaitAll collects every pending future concurrently — spec §5's
// suspension points are exactly the await-a-future points, so fanning the
// awaits out rather than awaiting sequentially is what "the engine consumes
// results by awaiting all futures of one polling cycle" (spec §4.5) calls
// for — and returns one result slice per pending pair, in the order the
// pairs were given, so poll can place them back at their enumeration
// positions (spec §5 ordering guarantees).
func (e *Engine) awaitAll(ctx context.Context, pending []pendingPair) [][]result.ExecutionResult {
	perPair := make([][]result.ExecutionResult, len(pending))

	g, gctx := errgroup.WithContext(ctx)
	for i, pp := range pending {
		i, pp := i, pp
		g.Go(func() error {
			perPair[i] = e.awaitAndFinish(gctx, pp)
			return nil
		})
	}
	_ = g.Wait() // awaitAndFinish never returns an error; every slot is filled

	return perPair
}

// PollOptions narrows a poll to a subset of checks, per the CLI's
// `run-checks` filters (spec §6).
type PollOptions struct {
	FilterPrefix   string
	FilterContains string
	ForceNoCache   bool
	ForceAsync     *bool // nil leaves each check's own SyncOrAsync untouched
}

type pair struct {
	descriptor check.Descriptor
	targetEnv  environment.Environment
}

type pendingPair struct {
	pair           pair
	future         *executor.Future
	skipCacheWrite bool
}

func (e *Engine) enumerate(opts PollOptions) []pair {
	var out []pair
	for _, d := range e.checks.All() {
		if opts.FilterPrefix != "" && !hasPrefix(d.ID, opts.FilterPrefix) {
			continue
		}
		if opts.FilterContains != "" && !contains(d.ID, opts.FilterContains) {
			continue
		}
		for _, env := range d.TargetEnvironments {
			out = append(out, pair{descriptor: d, targetEnv: env})
		}
	}
	return out
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func contains(s, substr string) bool {
	return len(substr) == 0 || indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// resultsForSkip implements spec §4.6 step 2's SKIP branch: serve whatever
// is cached regardless of expiry, or synthesize an UNKNOWN
// "scheduled-skip-no-cache" placeholder.
func (e *Engine) resultsForSkip(p pair) []result.ExecutionResult {
	key := pollKey(p.descriptor.ID, p.targetEnv.Name())
	if e.cache != nil {
		if entry, ok := e.cache.Get(key, true); ok {
			if results, err := decodeResults(entry.Value); err == nil {
				return results
			}
		}
	}
	return []result.ExecutionResult{{
		ServiceName:     p.descriptor.ServiceName,
		EnvironmentName: p.targetEnv.Name(),
		CheckID:         p.descriptor.ID,
		State:           state.UNKNOWN,
		Summary:         "scheduled-skip-no-cache",
		PiggybackHost:   result.NoPiggybackHost,
	}}
}

// liveCacheHit implements spec §4.6 step 2's SCHEDULE branch's cache probe:
// a live (non-expired) entry is served without executing.
func (e *Engine) liveCacheHit(p pair) ([]result.ExecutionResult, bool) {
	_, enabled := p.descriptor.EffectiveCacheDuration()
	if !enabled || e.cache == nil {
		return nil, false
	}
	key := pollKey(p.descriptor.ID, p.targetEnv.Name())
	entry, ok := e.cache.Get(key, false)
	if !ok {
		return nil, false
	}
	results, err := decodeResults(entry.Value)
	if err != nil {
		return nil, false
	}
	return results, true
}

// submit dispatches p's check function to the executor under its poll key,
// deduplicating concurrent polls of the same pair (spec §5: "concurrent
// polls of the same key see the same in-flight future").
func (e *Engine) submit(ctx context.Context, p pair, forceAsync *bool) (*executor.Future, error) {
	key := pollKey(p.descriptor.ID, p.targetEnv.Name())
	isAsync := p.descriptor.SyncOrAsync == check.Async
	if forceAsync != nil {
		isAsync = *forceAsync
	}
	descriptor := p.descriptor
	targetEnv := p.targetEnv
	return e.exec.Submit(ctx, key, isAsync, func(ctx context.Context) (interface{}, error) {
		finish := core.StartObservation(ctx, e.hooks, map[string]string{
			"check_id":    descriptor.ID,
			"environment": targetEnv.Name(),
		})
		args, err := e.resolveArgs(descriptor, targetEnv)
		if err != nil {
			finish(err)
			return nil, err
		}
		value, err := descriptor.Function(args)
		finish(err)
		return value, err
	})
}

// resolveArgs walks the signature plan, substituting the current target
// environment for EnvironmentParam bindings and resolving each
// DatasourceParam against the datasource registry (spec §4.4: "the plan is
// walked with the current target_env substituted ... each datasource param
// is resolved to an instance"). A resolution failure aborts the whole call
// before the check function ever runs, surfacing as the same "dependency
// resolution throw during execution" UNKNOWN path spec §4.6 describes.
func (e *Engine) resolveArgs(d check.Descriptor, targetEnv environment.Environment) ([]interface{}, error) {
	args := make([]interface{}, 0, len(d.SignaturePlan))
	for _, binding := range d.SignaturePlan {
		switch binding.Spec.Kind {
		case check.EnvironmentKind:
			args = append(args, targetEnv)
		case check.DatasourceKind:
			instance, err := e.resolveDatasourceParam(d.ID, binding.Spec)
			if err != nil {
				return nil, err
			}
			args = append(args, instance)
		}
	}
	return args, nil
}

func (e *Engine) resolveDatasourceParam(checkID string, spec check.ParamSpec) (interface{}, error) {
	if spec.Factory != nil {
		return e.datasources.ResolveFactory(checkID, spec.Factory.FactoryType, spec.Factory.Args)
	}
	return e.datasources.ResolveDirect(checkID, spec.DatasourceType, nil)
}

// awaitAndFinish waits for p's future, normalizes its return value into
// ExecutionResults (spec §4.6 step 4), applies error handlers on the
// thrown-error path (step 5), resolves hostnames (step 6), and writes the
// cache (step 7).
func (e *Engine) awaitAndFinish(ctx context.Context, pp pendingPair) []result.ExecutionResult {
	value, err := pp.future.Await(ctx)
	results, fromError := e.normalize(pp.pair, value, err)

	if fromError {
		for _, handler := range pp.pair.descriptor.ErrorHandlers {
			results = handler(pp.pair.descriptor.ID, pp.pair.targetEnv.Name(), results)
		}
	}

	for i := range results {
		results[i] = e.resolveHostname(pp.pair, results[i])
	}

	if !fromError && !pp.skipCacheWrite {
		e.writeCache(pp.pair, results)
	}

	return results
}

// normalize implements spec §4.6 step 4: a single CheckResult or a slice of
// CheckResult pass through as ExecutionResults; a thrown error (including
// one from a failed datasource resolution before the check function ever
// ran) becomes a single synthesized UNKNOWN result. It reports whether the
// result sequence originated from an error, since only that path runs the
// error handlers (step 5).
func (e *Engine) normalize(p pair, value interface{}, err error) (results []result.ExecutionResult, fromError bool) {
	if err != nil {
		return e.syntheticUnknown(p, err), true
	}

	switch v := value.(type) {
	case result.CheckResult:
		return []result.ExecutionResult{e.toExecutionResult(p, v)}, false
	case []result.CheckResult:
		out := make([]result.ExecutionResult, 0, len(v))
		for _, cr := range v {
			out = append(out, e.toExecutionResult(p, cr))
		}
		return out, false
	default:
		return e.syntheticUnknown(p, fmt.Errorf("check returned unrecognized value of type %T", value)), true
	}
}

func (e *Engine) toExecutionResult(p pair, cr result.CheckResult) result.ExecutionResult {
	serviceName := p.descriptor.ServiceName
	if cr.NameSuffix != "" {
		serviceName += cr.NameSuffix
	}
	return result.ExecutionResult{
		ServiceName:     serviceName,
		ServiceLabels:   p.descriptor.ServiceLabels,
		EnvironmentName: p.targetEnv.Name(),
		State:           cr.State,
		Summary:         cr.Summary,
		Details:         cr.Details.Render(),
		Metrics:         cr.Metrics,
		CheckID:         p.descriptor.ID,
		PiggybackHost:   cr.HostnameOverride,
	}
}

// syntheticUnknown builds the single UNKNOWN result spec §4.6 step 4 and
// the failure-semantics paragraph require whenever a check throws,
// dependency resolution fails during execution, or the executor rejects
// the submission.
func (e *Engine) syntheticUnknown(p pair, err error) []result.ExecutionResult {
	return []result.ExecutionResult{{
		ServiceName:     p.descriptor.ServiceName,
		ServiceLabels:   p.descriptor.ServiceLabels,
		EnvironmentName: p.targetEnv.Name(),
		CheckID:         p.descriptor.ID,
		State:           state.UNKNOWN,
		Summary:         "check execution failed",
		Details:         wperrors.CheckExecutionError(p.descriptor.ID, err).Error(),
	}}
}

// resolveHostname implements spec §4.6 step 6: walk the resolution
// hierarchy (result override → check-level → environment-level →
// engine-level default → synthesized fallback) and stamp the winner onto
// r.PiggybackHost.
func (e *Engine) resolveHostname(p pair, r result.ExecutionResult) result.ExecutionResult {
	ctx, environmentLevel := e.hostnameContextFor(p, r.ServiceName)
	var resultOverride hostname.Strategy
	if r.PiggybackHost != "" {
		resultOverride = hostname.Static(r.PiggybackHost)
	}
	host, err := e.hostResolver.Resolve(ctx, resultOverride, p.descriptor.HostnameStrategy, environmentLevel)
	if err != nil {
		r.State = state.UNKNOWN
		r.Summary = "hostname resolution failed"
		r.Details = wperrors.AsWatchpostError(err).Error()
		r.PiggybackHost = result.NoPiggybackHost
		return r
	}
	r.PiggybackHost = host
	return r
}

// hostnameContextFor builds the resolution Context and environment-level
// strategy shared by resolveHostname's per-result resolution and
// ResolveHostnames' pre-execution introspection.
func (e *Engine) hostnameContextFor(p pair, serviceName string) (hostname.Context, hostname.Strategy) {
	ctx := hostname.Context{
		CheckID:         p.descriptor.ID,
		EnvironmentName: p.targetEnv.Name(),
		ServiceName:     serviceName,
	}
	var environmentLevel hostname.Strategy
	if envHost := p.targetEnv.Hostname(); envHost != "" {
		environmentLevel = hostname.Static(envHost)
	}
	return ctx, environmentLevel
}

// HostnameAssignment is one (check, environment) pair's resolved piggyback
// hostname, for introspection without running the check (the CLI's
// get-check-hostnames command, spec §6).
type HostnameAssignment struct {
	CheckID         string
	EnvironmentName string
	Hostname        string
	Err             error
}

// ResolveHostnames walks every registered (check, environment) pair through
// the same hostname-resolution hierarchy Poll applies to each result,
// without submitting any check for execution.
func (e *Engine) ResolveHostnames() []HostnameAssignment {
	pairs := e.enumerate(PollOptions{})
	out := make([]HostnameAssignment, 0, len(pairs))
	for _, p := range pairs {
		ctx, environmentLevel := e.hostnameContextFor(p, p.descriptor.ServiceName)
		host, err := e.hostResolver.Resolve(ctx, nil, p.descriptor.HostnameStrategy, environmentLevel)
		out = append(out, HostnameAssignment{
			CheckID:         p.descriptor.ID,
			EnvironmentName: p.targetEnv.Name(),
			Hostname:        host,
			Err:             err,
		})
	}
	return out
}

// writeCache implements spec §4.6 step 7: when caching is enabled and the
// check did not throw, the full (possibly handler-expanded) result
// sequence is stored under the pair's key with the check's cache_for TTL.
func (e *Engine) writeCache(p pair, results []result.ExecutionResult) {
	ttl, enabled := p.descriptor.EffectiveCacheDuration()
	if !enabled || e.cache == nil {
		return
	}
	encoded, err := encodeResults(results)
	if err != nil {
		e.log.WithField("check_id", p.descriptor.ID).Warnf("failed to encode results for cache: %v", err)
		return
	}
	key := pollKey(p.descriptor.ID, p.targetEnv.Name())
	if err := e.cache.Store(key, encoded, ttl); err != nil {
		// Storage errors degrade to cache miss; never observed by check
		// functions (spec §7).
		e.log.WithField("check_id", p.descriptor.ID).Debugf("cache store failed: %v", err)
	}
}
