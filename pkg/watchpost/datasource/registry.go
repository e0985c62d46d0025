// Package datasource implements the datasource registry and dependency
// injection described in spec §4.4: direct and factory registrations, and
// per-(type, args) singleton memoization.
package datasource

import (
	"context"
	"fmt"
	"sync"

	core "github.com/watchpost/watchpost/internal/app/core/service"
	wperrors "github.com/watchpost/watchpost/infrastructure/errors"
	"github.com/watchpost/watchpost/infrastructure/resilience"
	"github.com/watchpost/watchpost/pkg/logger"
	"github.com/watchpost/watchpost/pkg/watchpost/scheduling"
)

// Constructor builds a datasource instance from its registered
// constructor arguments.
type Constructor func(args map[string]interface{}) (interface{}, error)

// Factory builds a datasource instance given the factory's own arguments
// plus the per-call arguments supplied by a check's FromFactory binding.
type Factory func(args map[string]interface{}) (interface{}, error)

type directRegistration struct {
	construct  Constructor
	strategies []scheduling.Strategy
}

type factoryRegistration struct {
	build      Factory
	strategies []scheduling.Strategy
}

// Registry holds direct and factory registrations and memoizes constructed
// instances per (type, args) tuple for the engine's lifetime.
type Registry struct {
	mu             sync.Mutex
	direct         map[string]directRegistration
	factories      map[string]factoryRegistration
	singletons     map[string]interface{}
	constructRetry core.RetryPolicy
	breakerConfig  resilience.Config
	breakers       map[string]*resilience.CircuitBreaker
	log            *logger.Logger
}

// NewRegistry builds an empty Registry. Construction of a singleton
// (direct or factory) is attempted once by default; use
// SetConstructionRetryPolicy to retry transient failures (a
// newly-started dependency still coming up, for instance) before the
// call site sees DatasourceUnavailable. Each type also gets its own
// circuit breaker (resilience.DefaultConfig) so a dependency that keeps
// failing stops being retried on every resolve and instead fails fast
// with ErrCircuitOpen until its cooldown elapses. A breaker's state
// transitions are logged through the registry's logger (see SetLogger);
// without one a default logger is used.
func NewRegistry() *Registry {
	return &Registry{
		direct:         make(map[string]directRegistration),
		factories:      make(map[string]factoryRegistration),
		singletons:     make(map[string]interface{}),
		constructRetry: core.DefaultRetryPolicy,
		breakerConfig:  resilience.DefaultConfig(),
		breakers:       make(map[string]*resilience.CircuitBreaker),
		log:            logger.NewDefault("watchpost-datasource"),
	}
}

// SetConstructionRetryPolicy overrides the retry policy applied around a
// datasource's first construction call.
func (r *Registry) SetConstructionRetryPolicy(policy core.RetryPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructRetry = policy
}

// SetLogger overrides the logger used to report circuit breaker state
// changes. Call it before any datasource is resolved; a breaker already
// constructed keeps logging through the logger in effect when it was
// created.
func (r *Registry) SetLogger(log *logger.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = log
}

// SetCircuitBreakerConfig overrides the circuit breaker configuration
// applied per datasource type. It only affects breakers created after
// the call; a type already resolved keeps its existing breaker. Any
// OnStateChange already set on cfg runs in addition to the registry's
// own state-change logging.
func (r *Registry) SetCircuitBreakerConfig(cfg resilience.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakerConfig = cfg
}

func (r *Registry) breakerFor(typeName string) *resilience.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[typeName]
	if !ok {
		cfg := r.breakerConfig
		userHook := cfg.OnStateChange
		log := r.log
		cfg.OnStateChange = func(from, to resilience.State) {
			log.WithFields(map[string]interface{}{
				"datasource": typeName,
				"from":       from.String(),
				"to":         to.String(),
			}).Warn("circuit breaker state changed")
			if userHook != nil {
				userHook(from, to)
			}
		}
		cb = resilience.New(cfg)
		r.breakers[typeName] = cb
	}
	return cb
}

func (r *Registry) construct(typeName string, build func() (interface{}, error)) (interface{}, error) {
	r.mu.Lock()
	policy := r.constructRetry
	r.mu.Unlock()

	cb := r.breakerFor(typeName)
	var instance interface{}
	err := cb.Execute(context.Background(), func() error {
		return core.Retry(context.Background(), policy, func() error {
			v, buildErr := build()
			if buildErr != nil {
				return buildErr
			}
			instance = v
			return nil
		})
	})
	if err != nil {
		return nil, wperrors.DatasourceUnavailable(typeName, err)
	}
	return instance, nil
}

// RegisterDirect registers typeName for direct construction.
func (r *Registry) RegisterDirect(typeName string, construct Constructor, strategies ...scheduling.Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.direct[typeName] = directRegistration{construct: construct, strategies: strategies}
}

// RegisterFactory registers factoryType as a factory producing datasource
// instances on demand.
func (r *Registry) RegisterFactory(factoryType string, build Factory, strategies ...scheduling.Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[factoryType] = factoryRegistration{build: build, strategies: strategies}
}

// HasDirect reports whether typeName has a direct registration.
func (r *Registry) HasDirect(typeName string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.direct[typeName]
	return ok
}

// HasFactory reports whether factoryType is registered.
func (r *Registry) HasFactory(factoryType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.factories[factoryType]
	return ok
}

// DirectStrategies returns the scheduling strategies declared on a direct
// registration, if any.
func (r *Registry) DirectStrategies(typeName string) []scheduling.Strategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.direct[typeName].strategies
}

// FactoryStrategies returns the scheduling strategies declared on a
// factory registration, if any.
func (r *Registry) FactoryStrategies(factoryType string) []scheduling.Strategy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.factories[factoryType].strategies
}

func memoKey(typeName string, args map[string]interface{}) string {
	return fmt.Sprintf("%s:%v", typeName, args)
}

// ResolveDirect returns the singleton instance for typeName's direct
// registration, constructing it on first use. checkID is carried only for
// diagnostic context on an unknown-type error.
func (r *Registry) ResolveDirect(checkID, typeName string, args map[string]interface{}) (interface{}, error) {
	key := memoKey(typeName, args)

	r.mu.Lock()
	if instance, ok := r.singletons[key]; ok {
		r.mu.Unlock()
		return instance, nil
	}
	reg, ok := r.direct[typeName]
	r.mu.Unlock()
	if !ok {
		return nil, wperrors.UnknownDatasourceType(checkID, typeName)
	}

	instance, err := r.construct(typeName, func() (interface{}, error) { return reg.construct(args) })
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.singletons[key]; ok {
		return existing, nil
	}
	r.singletons[key] = instance
	return instance, nil
}

// ResolveFactory returns the singleton instance produced by factoryType for
// the given args, constructing it on first use. checkID is carried only
// for diagnostic context on an unknown-type error.
func (r *Registry) ResolveFactory(checkID, factoryType string, args map[string]interface{}) (interface{}, error) {
	key := "factory:" + memoKey(factoryType, args)

	r.mu.Lock()
	if instance, ok := r.singletons[key]; ok {
		r.mu.Unlock()
		return instance, nil
	}
	reg, ok := r.factories[factoryType]
	r.mu.Unlock()
	if !ok {
		return nil, wperrors.UnknownDatasourceType(checkID, factoryType)
	}

	instance, err := r.construct(factoryType, func() (interface{}, error) { return reg.build(args) })
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.singletons[key]; ok {
		return existing, nil
	}
	r.singletons[key] = instance
	return instance, nil
}
