package scheduling

import wperrors "github.com/watchpost/watchpost/infrastructure/errors"

type detectImpossibleCombination struct{}

// DetectImpossibleCombination is a marker strategy: it never influences a
// runtime decision (its Decide always returns SCHEDULE, the aggregation
// identity), but its presence in a check's effective strategy set is what
// CheckConflicts looks for at registration time to perform the
// impossible-combination analysis spec §4.3 describes.
func DetectImpossibleCombination() Strategy {
	return detectImpossibleCombination{}
}

func (detectImpossibleCombination) Decide(checkID, executionEnv, targetEnv string) Decision {
	return SCHEDULE
}

func (detectImpossibleCombination) Name() string { return "detect_impossible_combination" }

// CheckConflicts runs the registration-time analysis: for every
// targetEnv, verify that at least one of knownExecutionEnvs aggregates the
// strategy set to SCHEDULE. If none does for some target_env, it returns a
// SchedulingConflict naming the check, that target_env, and every
// strategy's name — a fatal configuration error that must abort engine
// startup (spec §4.3: "fail startup with a diagnostic naming the check,
// the target_env, and the conflicting strategies").
func CheckConflicts(checkID string, strategies []Strategy, knownExecutionEnvs, targetEnvs []string) error {
	names := make([]string, 0, len(strategies))
	for _, s := range strategies {
		names = append(names, s.Name())
	}

	for _, targetEnv := range targetEnvs {
		satisfiable := false
		for _, executionEnv := range knownExecutionEnvs {
			if Aggregate(strategies, checkID, executionEnv, targetEnv) == SCHEDULE {
				satisfiable = true
				break
			}
		}
		if !satisfiable {
			return wperrors.SchedulingConflict(checkID, targetEnv, names)
		}
	}
	return nil
}
