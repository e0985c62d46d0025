package scheduling

import "github.com/watchpost/watchpost/pkg/watchpost/environment"

// Strategy answers "decide(check, execution_env, target_env) ->
// SchedulingDecision" for one check. Every built-in strategy is a pure
// function of its inputs, as required by spec §4.3.
type Strategy interface {
	Decide(checkID, executionEnv, targetEnv string) Decision
	// Name identifies the strategy for conflict diagnostics.
	Name() string
}

type mustRunInGivenExecutionEnvironment struct{ envs environment.Set }

// MustRunInGivenExecutionEnvironment schedules only when the process's own
// execution environment is a member of envs.
func MustRunInGivenExecutionEnvironment(envs ...string) Strategy {
	return mustRunInGivenExecutionEnvironment{envs: environment.NewSet(envs...)}
}

func (s mustRunInGivenExecutionEnvironment) Decide(checkID, executionEnv, targetEnv string) Decision {
	if s.envs.Contains(executionEnv) {
		return SCHEDULE
	}
	return DONT_SCHEDULE
}

func (s mustRunInGivenExecutionEnvironment) Name() string {
	return "must_run_in_given_execution_environment"
}

type mustRunAgainstGivenTargetEnvironment struct{ envs environment.Set }

// MustRunAgainstGivenTargetEnvironment schedules only when the pair's
// target environment is a member of envs.
func MustRunAgainstGivenTargetEnvironment(envs ...string) Strategy {
	return mustRunAgainstGivenTargetEnvironment{envs: environment.NewSet(envs...)}
}

func (s mustRunAgainstGivenTargetEnvironment) Decide(checkID, executionEnv, targetEnv string) Decision {
	if s.envs.Contains(targetEnv) {
		return SCHEDULE
	}
	return DONT_SCHEDULE
}

func (s mustRunAgainstGivenTargetEnvironment) Name() string {
	return "must_run_against_given_target_environment"
}

type mustRunInTargetEnvironment struct{}

// MustRunInTargetEnvironment schedules only when the execution environment
// is exactly the pair's target environment — the common "run this check
// from inside the environment it observes" rule.
func MustRunInTargetEnvironment() Strategy {
	return mustRunInTargetEnvironment{}
}

func (s mustRunInTargetEnvironment) Decide(checkID, executionEnv, targetEnv string) Decision {
	if executionEnv == targetEnv {
		return SCHEDULE
	}
	return DONT_SCHEDULE
}

func (s mustRunInTargetEnvironment) Name() string {
	return "must_run_in_target_environment"
}

// Aggregate evaluates every strategy in the set and returns the strictest
// decision under the SCHEDULE < SKIP < DONT_SCHEDULE total order (spec
// §4.3 aggregation).
func Aggregate(strategies []Strategy, checkID, executionEnv, targetEnv string) Decision {
	decisions := make([]Decision, 0, len(strategies))
	for _, s := range strategies {
		decisions = append(decisions, s.Decide(checkID, executionEnv, targetEnv))
	}
	return MaxAll(decisions...)
}
