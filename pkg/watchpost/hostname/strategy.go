// Package hostname resolves the piggyback hostname for an ExecutionResult
// by walking the resolution hierarchy described in spec §4.6 step 6, then
// coercing the result to an RFC1123-safe label per §6.
package hostname

import "strings"

// Context carries the values a template or callable strategy may need to
// render a hostname: the check and environment it is being resolved for,
// and the service name the result was produced under. It replaces the
// source's ambient "current application" global with an explicit value
// threaded through the call (spec §9 redesign note).
type Context struct {
	CheckID         string
	EnvironmentName string
	ServiceName     string
}

// Strategy resolves a hostname given a Context. A nil Strategy means "no
// strategy configured at this level" and is skipped by the resolver.
type Strategy interface {
	Resolve(ctx Context) (string, error)
}

// StrategyFunc adapts a function to the Strategy interface.
type StrategyFunc func(ctx Context) (string, error)

// Resolve calls f.
func (f StrategyFunc) Resolve(ctx Context) (string, error) { return f(ctx) }

// Static returns a Strategy that always resolves to the same literal
// hostname, ignoring the context.
func Static(hostname string) Strategy {
	return StrategyFunc(func(Context) (string, error) { return hostname, nil })
}

// Template returns a Strategy that substitutes `{check_id}`,
// `{environment_name}`, and `{service_name}` placeholders in pattern with
// the corresponding Context fields.
func Template(pattern string) Strategy {
	return StrategyFunc(func(ctx Context) (string, error) {
		replacer := strings.NewReplacer(
			"{check_id}", ctx.CheckID,
			"{environment_name}", ctx.EnvironmentName,
			"{service_name}", ctx.ServiceName,
		)
		return replacer.Replace(pattern), nil
	})
}

// Synthesized builds the engine's last-resort default: "{service_name}-{environment_name}".
func Synthesized(ctx Context) string {
	return ctx.ServiceName + "-" + ctx.EnvironmentName
}
