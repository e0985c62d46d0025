package hostname

import wperrors "github.com/watchpost/watchpost/infrastructure/errors"

// Resolver walks the resolution hierarchy for one ExecutionResult: a
// per-result override, then the owning check's configured strategy, then
// the target environment's, then the engine's own default, and finally the
// synthesized "{service_name}-{environment_name}" fallback. Coercion is
// applied to whatever the hierarchy produces, unless disabled.
type Resolver struct {
	EngineDefault Strategy
	CoercionOn    bool
}

// NewResolver builds a Resolver. engineDefault may be nil, in which case
// the hierarchy falls through straight to the synthesized default.
func NewResolver(engineDefault Strategy, coercionEnabled bool) *Resolver {
	return &Resolver{EngineDefault: engineDefault, CoercionOn: coercionEnabled}
}

// Resolve walks the hierarchy for one result. resultOverride and
// checkLevel/environmentLevel strategies may be nil to indicate "not
// configured at this level"; the first non-nil strategy decides, even when
// it yields an empty string. It returns the hostname to stamp on the
// ExecutionResult, or an error if coercion is disabled and the resolved
// hostname is an empty string (spec §6, "purely-empty result is a fatal
// per-result error when coercion is disabled").
func (r *Resolver) Resolve(ctx Context, resultOverride, checkLevel, environmentLevel Strategy) (string, error) {
	for _, strategy := range []Strategy{resultOverride, checkLevel, environmentLevel, r.EngineDefault} {
		if strategy == nil {
			continue
		}
		host, err := strategy.Resolve(ctx)
		if err != nil {
			return "", err
		}
		return r.finish(ctx, host)
	}
	return r.finish(ctx, Synthesized(ctx))
}

func (r *Resolver) finish(ctx Context, host string) (string, error) {
	if !r.CoercionOn {
		if host == "" {
			return "", wperrors.HostnameResolutionFailed(ctx.CheckID, ctx.EnvironmentName)
		}
		return host, nil
	}
	coerced := Coerce(host)
	if coerced == "" {
		coerced = Coerce(Synthesized(ctx))
	}
	return coerced, nil
}
