package check

import (
	"time"

	wperrors "github.com/watchpost/watchpost/infrastructure/errors"
	"github.com/watchpost/watchpost/pkg/watchpost/checkconfig"
	"github.com/watchpost/watchpost/pkg/watchpost/datasource"
	"github.com/watchpost/watchpost/pkg/watchpost/scheduling"
)

// Build normalizes a Registration into a Descriptor, validating every
// registration-time invariant spec §4.4 and §8 require:
//   - every ParamSpec resolves against ds (unknown types fail registration),
//   - a FromFactory binding's factory type must be registered,
//   - target_environments must be non-empty,
//   - cache_for must parse,
//   - scheduling strategies declared on resolved datasources/factories are
//     folded into the check's effective strategy set (the engine folds in
//     its own default strategies on top of this at aggregation time, spec
//     §4.3's fourth composition source).
//
// Any failure returns a *wperrors.WatchpostError aggregatable into the
// engine's startup MultiError; Build never panics on bad input.
func Build(reg Registration, ds *datasource.Registry) (Descriptor, error) {
	if len(reg.TargetEnvironments) == 0 {
		return Descriptor{}, wperrors.EmptyTargetEnvironments(reg.ID)
	}

	cacheFor, err := checkconfig.ParseDuration(orNone(reg.CacheFor))
	if err != nil {
		return Descriptor{}, err
	}

	plan := make(SignaturePlan, 0, len(reg.Signature))
	effectiveStrategies := append([]scheduling.Strategy{}, reg.SchedulingStrategies...)

	for _, spec := range reg.Signature {
		switch spec.Kind {
		case EnvironmentKind:
			plan = append(plan, ParamBinding{Spec: spec})
		case DatasourceKind:
			if spec.Factory != nil {
				if !ds.HasFactory(spec.Factory.FactoryType) {
					return Descriptor{}, wperrors.InvalidCheckConfiguration(reg.ID,
						"parameter requires unregistered factory "+spec.Factory.FactoryType)
				}
				effectiveStrategies = append(effectiveStrategies, ds.FactoryStrategies(spec.Factory.FactoryType)...)
			} else {
				if !ds.HasDirect(spec.DatasourceType) {
					return Descriptor{}, wperrors.UnknownDatasourceType(reg.ID, spec.DatasourceType)
				}
				effectiveStrategies = append(effectiveStrategies, ds.DirectStrategies(spec.DatasourceType)...)
			}
			plan = append(plan, ParamBinding{Spec: spec})
		default:
			return Descriptor{}, wperrors.InvalidCheckConfiguration(reg.ID, "unrecognized parameter kind")
		}
	}

	return Descriptor{
		ID:                   reg.ID,
		ServiceName:          reg.ServiceName,
		ServiceLabels:        reg.ServiceLabels,
		TargetEnvironments:   reg.TargetEnvironments,
		CacheFor:             cacheFor,
		HostnameStrategy:     reg.HostnameStrategy,
		SchedulingStrategies: effectiveStrategies,
		ErrorHandlers:        reg.ErrorHandlers,
		SignaturePlan:        plan,
		SyncOrAsync:          reg.SyncOrAsync,
		Function:             reg.Function,
	}, nil
}

func orNone(raw string) string {
	if raw == "" {
		return "none"
	}
	return raw
}

// EffectiveCacheDuration reports whether caching is enabled for d and, if
// so, the TTL to use.
func (d Descriptor) EffectiveCacheDuration() (ttl time.Duration, enabled bool) {
	if d.CacheFor == checkconfig.NoCacheDuration {
		return 0, false
	}
	return d.CacheFor, true
}
