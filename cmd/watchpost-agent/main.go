// Command watchpost-agent is the CLI entry point spec §6 names:
// list-checks, run-checks, verify-check-configuration, and
// get-check-hostnames, all running directly against an in-process Engine
// rather than against a remote HTTP surface (contrast with the teacher's
// slctl, which is itself an HTTP client of a separately-running server).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/robfig/cron/v3"

	"github.com/watchpost/watchpost/infrastructure/config"
	appsystem "github.com/watchpost/watchpost/internal/app/system"
	"github.com/watchpost/watchpost/internal/httpapi"
	"github.com/watchpost/watchpost/pkg/logger"
	"github.com/watchpost/watchpost/pkg/watchpost/cache"
	"github.com/watchpost/watchpost/pkg/watchpost/check"
	"github.com/watchpost/watchpost/pkg/watchpost/checkconfig"
	"github.com/watchpost/watchpost/pkg/watchpost/engine"
	"github.com/watchpost/watchpost/pkg/watchpost/environment"
	"github.com/watchpost/watchpost/pkg/watchpost/executor"
	"github.com/watchpost/watchpost/pkg/watchpost/result"
	"github.com/watchpost/watchpost/pkg/watchpost/scheduling"
	"github.com/watchpost/watchpost/pkg/watchpost/storage"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return usageError("no command specified")
	}

	eng, err := buildEngine()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	switch args[0] {
	case "list-checks":
		return cmdListChecks(eng)
	case "run-checks":
		return cmdRunChecks(eng, args[1:])
	case "verify-check-configuration":
		return cmdVerifyCheckConfiguration(eng)
	case "get-check-hostnames":
		return cmdGetCheckHostnames(eng)
	case "serve":
		return cmdServe(eng, args[1:])
	default:
		return usageError("unrecognized command " + args[0])
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: watchpost-agent <list-checks|run-checks|verify-check-configuration|get-check-hostnames|serve> [flags]", msg)
}

// buildEngine assembles the Engine this binary's example checks run
// against, reading ambient process configuration the way the teacher's
// cmd/appserver does (env vars via infrastructure/config, flags layered on
// top per-subcommand).
func buildEngine() (*engine.Engine, error) {
	executionEnv := config.GetEnv("WATCHPOST_EXECUTION_ENV", "prod")
	poolSize := config.GetEnvInt("WATCHPOST_WORKER_POOL_SIZE", 4)

	envs, err := loadEnvironments()
	if err != nil {
		return nil, err
	}
	knownEnvs := make([]string, 0, len(envs))
	for _, e := range envs {
		knownEnvs = append(knownEnvs, e.Name())
	}

	log := buildLogger()

	ds := buildDatasources()
	ds.SetLogger(log)
	checks, err := buildChecks(ds, envs)
	if err != nil {
		return nil, err
	}

	cacheDir := config.GetEnv("WATCHPOST_CACHE_DIR", "")
	backend, err := buildCacheBackend(cacheDir, log)
	if err != nil {
		return nil, err
	}

	eng := engine.New(engine.Config{
		Checks:                  checks,
		Datasources:             ds,
		Cache:                   cache.New(backend),
		Executor:                executor.New(executor.Config{WorkerPoolSize: poolSize}),
		ExecutionEnv:            executionEnv,
		KnownExecutionEnvs:      knownEnvs,
		EngineDefaultStrategies: engineDefaultStrategies(),
		CoercionEnabled:         config.GetEnvBool("WATCHPOST_HOSTNAME_COERCION", true),
		Log:                     log,
	})
	if err := eng.VerifyConfiguration(); err != nil {
		return nil, err
	}
	return eng, nil
}

// buildLogger reads WATCHPOST_LOG_LEVEL/FORMAT/OUTPUT/FILE_PREFIX and
// builds the process's logger accordingly, defaulting to an info-level
// text logger on stdout when none are set.
func buildLogger() *logger.Logger {
	return logger.New(logger.LoggingConfig{
		Level:      config.GetEnv("WATCHPOST_LOG_LEVEL", "info"),
		Format:     config.GetEnv("WATCHPOST_LOG_FORMAT", "text"),
		Output:     config.GetEnv("WATCHPOST_LOG_OUTPUT", "stdout"),
		FilePrefix: config.GetEnv("WATCHPOST_LOG_FILE_PREFIX", "watchpost-agent"),
	})
}

// engineDefaultStrategies reads WATCHPOST_ENGINE_DEFAULT_EXECUTION_ENVS as a
// CSV list and, when set, folds a MustRunInGivenExecutionEnvironment
// strategy into every check's effective strategy set (spec §4.3's fourth
// composition source: engine-default strategies), restricting every check
// to running only from the listed execution environments regardless of
// what any individual check declares.
func engineDefaultStrategies() []scheduling.Strategy {
	envs := config.SplitAndTrimCSV(config.GetEnv("WATCHPOST_ENGINE_DEFAULT_EXECUTION_ENVS", ""))
	if len(envs) == 0 {
		return nil
	}
	return []scheduling.Strategy{scheduling.MustRunInGivenExecutionEnvironment(envs...)}
}

// loadEnvironments reads WATCHPOST_ENVIRONMENTS_FILE as a YAML manifest of
// environment registrations when set; otherwise it falls back to the two
// built-in example environments this binary demonstrates checks against.
func loadEnvironments() ([]environment.Environment, error) {
	path := config.GetEnv("WATCHPOST_ENVIRONMENTS_FILE", "")
	if strings.TrimSpace(path) == "" {
		return []environment.Environment{
			environment.New("prod", "", nil),
			environment.New("staging", "", nil),
		}, nil
	}
	return checkconfig.LoadEnvironmentsYAML(path)
}

// buildCacheBackend selects the storage back-end for the result cache:
// an in-memory store when WATCHPOST_CACHE_DIR is unset, or a disk-backed
// store rooted there with an external-mutation watch running alongside
// it when it is set.
func buildCacheBackend(dir string, log *logger.Logger) (storage.Storage, error) {
	if strings.TrimSpace(dir) == "" {
		return storage.NewMemory(), nil
	}
	disk, err := storage.NewDisk(dir)
	if err != nil {
		return nil, fmt.Errorf("open disk cache at %q: %w", dir, err)
	}
	if err := disk.WatchMutations(log); err != nil {
		log.WithField("error", err).Warn("disk cache directory watch unavailable, continuing without it")
	}
	return disk, nil
}

// cmdListChecks implements `list-checks`: prints each registered check as
// `{id}({param: type}, ...)`. Exit 0.
func cmdListChecks(eng *engine.Engine) error {
	for _, d := range eng.Checks().All() {
		fmt.Printf("%s(%s)\n", d.ID, describeSignature(d))
	}
	return nil
}

func describeSignature(d check.Descriptor) string {
	parts := make([]string, 0, len(d.SignaturePlan))
	for _, binding := range d.SignaturePlan {
		switch binding.Spec.Kind {
		case check.EnvironmentKind:
			parts = append(parts, "environment")
		case check.DatasourceKind:
			if binding.Spec.Factory != nil {
				parts = append(parts, "datasource: "+binding.Spec.Factory.FactoryType)
			} else {
				parts = append(parts, "datasource: "+binding.Spec.DatasourceType)
			}
		}
	}
	return strings.Join(parts, ", ")
}

// cmdRunChecks implements `run-checks [--(no-)cache] [--filter-prefix S]
// [--filter-contains S] [--sync|--async] [--schedule D]`: runs one full
// poll (or, with --schedule, a poll on every tick of the given cron
// expression) and prints a State/Environment/Service/Metrics/Summary table.
func cmdRunChecks(eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("run-checks", flag.ContinueOnError)
	noCache := fs.Bool("no-cache", false, "force every check to execute, bypassing the cache")
	filterPrefix := fs.String("filter-prefix", "", "only run checks whose id has this prefix")
	filterContains := fs.String("filter-contains", "", "only run checks whose id contains this substring")
	sync := fs.Bool("sync", false, "force every check to run synchronously")
	async := fs.Bool("async", false, "force every check to run asynchronously")
	schedule := fs.String("schedule", "", "cron expression; when set, polls repeatedly instead of once")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *sync && *async {
		return usageError("--sync and --async are mutually exclusive")
	}

	var forceAsync *bool
	if *sync {
		v := false
		forceAsync = &v
	}
	if *async {
		v := true
		forceAsync = &v
	}

	opts := engine.PollOptions{
		FilterPrefix:   *filterPrefix,
		FilterContains: *filterContains,
		ForceNoCache:   *noCache,
		ForceAsync:     forceAsync,
	}

	if strings.TrimSpace(*schedule) == "" {
		return pollOnce(eng, opts)
	}
	return pollOnSchedule(eng, opts, *schedule)
}

func pollOnce(eng *engine.Engine, opts engine.PollOptions) error {
	start := time.Now()
	results := eng.Poll(context.Background(), opts)
	printResultsTable(results)
	fmt.Printf("\n%d checks in %s\n", len(results), humanize.RelTime(start, time.Now(), "", ""))
	return nil
}

func pollOnSchedule(eng *engine.Engine, opts engine.PollOptions, schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		printResultsTable(eng.Poll(context.Background(), opts))
	})
	if err != nil {
		return fmt.Errorf("invalid --schedule expression %q: %w", schedule, err)
	}
	c.Start()
	defer c.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	return nil
}

func printResultsTable(results []result.ExecutionResult) {
	fmt.Printf("%-8s %-12s %-24s %-8s %s\n", "State", "Environment", "Service", "Metrics", "Summary")
	for _, r := range results {
		fmt.Printf("%-8s %-12s %-24s %-8s %s\n", r.State.String(), r.EnvironmentName, r.ServiceName, humanizeMetrics(r.Metrics), r.Summary)
	}
}

// humanizeMetrics renders a check's perf-data points for the table,
// formatting byte-valued metrics with humanize.Bytes instead of a raw
// float so a reader sees "4.4 MB" rather than "4404019".
func humanizeMetrics(metrics []result.Metric) string {
	if len(metrics) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(metrics))
	for _, m := range metrics {
		switch m.Unit {
		case "B", "bytes":
			parts = append(parts, fmt.Sprintf("%s=%s", m.Name, humanize.Bytes(uint64(m.Value))))
		default:
			parts = append(parts, fmt.Sprintf("%s=%.2f%s", m.Name, m.Value, m.Unit))
		}
	}
	return strings.Join(parts, ",")
}

// cmdVerifyCheckConfiguration implements `verify-check-configuration`:
// registration-time validation only. Exit 0 on success, non-zero with
// diagnostics on conflicts or unresolved dependencies. buildEngine already
// ran VerifyConfiguration once; reaching here means it succeeded.
func cmdVerifyCheckConfiguration(eng *engine.Engine) error {
	fmt.Println("configuration OK: all checks satisfiable")
	return nil
}

// cmdGetCheckHostnames implements `get-check-hostnames`: prints each
// (check, env) → resolved hostname.
func cmdGetCheckHostnames(eng *engine.Engine) error {
	for _, a := range eng.ResolveHostnames() {
		if a.Err != nil {
			fmt.Printf("%s@%s -> ERROR: %v\n", a.CheckID, a.EnvironmentName, a.Err)
			continue
		}
		fmt.Printf("%s@%s -> %s\n", a.CheckID, a.EnvironmentName, a.Hostname)
	}
	return nil
}

// cmdServe implements `serve [--addr host:port]`: starts the HTTP adapter
// spec §6 describes (poll-on-request, executor introspection, metrics)
// alongside the engine, both managed through the shared system.Service
// lifecycle, and blocks until SIGINT/SIGTERM.
func cmdServe(eng *engine.Engine, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", ":8080", "address the HTTP adapter listens on")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log := buildLogger()
	httpSvc := httpapi.NewService(eng, *addr, log)

	services := []appsystem.Service{eng, httpSvc}
	providers := []appsystem.DescriptorProvider{eng, httpSvc}
	for _, d := range appsystem.CollectDescriptors(providers) {
		log.WithFields(map[string]interface{}{
			"layer":        d.Layer,
			"capabilities": d.Capabilities,
		}).Infof("starting service %s", d.Name)
	}

	ctx := context.Background()
	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownTimeout := config.GetDefaultTimeouts().Shutdown
	if d, ok := config.ParseEnvDuration("WATCHPOST_SHUTDOWN_TIMEOUT"); ok {
		shutdownTimeout = d
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, svc := range services {
		if err := svc.Stop(stopCtx); err != nil {
			log.WithField("error", err).Warnf("stop %s", svc.Name())
		}
	}
	return nil
}
