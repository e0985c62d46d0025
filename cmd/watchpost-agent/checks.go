package main

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/watchpost/watchpost/infrastructure/config"
	"github.com/watchpost/watchpost/pkg/watchpost/check"
	"github.com/watchpost/watchpost/pkg/watchpost/datasource"
	"github.com/watchpost/watchpost/pkg/watchpost/environment"
	"github.com/watchpost/watchpost/pkg/watchpost/result"
)

// randomSource is a toy datasource standing in for whatever a real deployment
// would register directly (a DB handle, an HTTP client, ...), demonstrating
// the direct-registration + memoized-singleton shape spec §4.4 describes.
type randomSource struct {
	rng *rand.Rand
}

func (s *randomSource) next() float64 { return s.rng.Float64() * 100 }

// buildDatasources registers every datasource this agent's example checks
// depend on.
func buildDatasources() *datasource.Registry {
	ds := datasource.NewRegistry()
	ds.RegisterDirect("random_source", func(args map[string]interface{}) (interface{}, error) {
		return &randomSource{rng: rand.New(rand.NewSource(1))}, nil
	})
	return ds
}

// buildChecks registers the example checks this agent binary demonstrates
// the framework with: a plain host check, one that injects the current
// target environment, and one that injects a registered datasource.
func buildChecks(ds *datasource.Registry, envs []environment.Environment) (*check.Registry, error) {
	reg := check.NewRegistry()

	uptimeReg := check.Registration{
		ID:                 "agent.uptime",
		ServiceName:        "Agent Uptime",
		TargetEnvironments: envs,
		CacheFor:           "30s",
		Function: func(args []interface{}) (interface{}, error) {
			hostname, _ := os.Hostname()
			return result.OK(fmt.Sprintf("watchpost-agent running on %s", hostname)), nil
		},
	}
	// Operators running several agent instances behind one piggyback
	// collector can fan this check's thrown-error result out to every
	// instance's host, the same way a successful run would, by listing
	// them here instead of losing the failure to just the polling host.
	if hosts := config.SplitAndTrimCSV(config.GetEnv("WATCHPOST_AGENT_UPTIME_PIGGYBACK_HOSTS", "")); len(hosts) > 0 {
		uptimeReg.ErrorHandlers = []result.ErrorHandler{result.ExpandByHostname(hosts...)}
	}
	if err := reg.Register(uptimeReg, ds); err != nil {
		return nil, err
	}

	if err := reg.Register(check.Registration{
		ID:                 "agent.environment",
		ServiceName:        "Target Environment",
		TargetEnvironments: envs,
		CacheFor:           "none",
		Signature:          []check.ParamSpec{check.Environment()},
		Function: func(args []interface{}) (interface{}, error) {
			env := args[0].(environment.Environment)
			return result.OK(fmt.Sprintf("polling environment %q", env.Name())), nil
		},
	}, ds); err != nil {
		return nil, err
	}

	if err := reg.Register(check.Registration{
		ID:                 "agent.random_metric",
		ServiceName:        "Random Metric",
		TargetEnvironments: envs,
		CacheFor:           "15s",
		Signature:          []check.ParamSpec{check.Datasource("random_source")},
		Function: func(args []interface{}) (interface{}, error) {
			source := args[0].(*randomSource)
			value := source.next()
			cr := result.OK(fmt.Sprintf("value=%.2f", value)).
				WithMetrics(result.Metric{Name: "value", Value: value, Unit: ""})
			return cr, nil
		},
	}, ds); err != nil {
		return nil, err
	}

	return reg, nil
}
