package httpapi

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/watchpost/watchpost/pkg/watchpost/cache"
	"github.com/watchpost/watchpost/pkg/watchpost/check"
	"github.com/watchpost/watchpost/pkg/watchpost/datasource"
	"github.com/watchpost/watchpost/pkg/watchpost/engine"
	"github.com/watchpost/watchpost/pkg/watchpost/environment"
	"github.com/watchpost/watchpost/pkg/watchpost/executor"
	"github.com/watchpost/watchpost/pkg/watchpost/result"
	"github.com/watchpost/watchpost/pkg/watchpost/storage"
)

func newTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	ds := datasource.NewRegistry()
	reg := check.NewRegistry()
	must(t, reg.Register(check.Registration{
		ID:                 "disk.usage",
		ServiceName:        "Disk Usage",
		TargetEnvironments: []environment.Environment{environment.New("prod", "", nil)},
		CacheFor:           "none",
		Function: func(args []interface{}) (interface{}, error) {
			return result.OK("ok"), nil
		},
	}, ds))
	return engine.New(engine.Config{
		Checks:             reg,
		Datasources:        ds,
		Cache:              cache.New(storage.NewMemory()),
		Executor:           executor.New(executor.Config{WorkerPoolSize: 1}),
		ExecutionEnv:       "prod",
		KnownExecutionEnvs: []string{"prod"},
		CoercionEnabled:    true,
	})
}

func TestServiceStartServesRoutesAndStopShutsDown(t *testing.T) {
	svc := NewService(newTestEngine(t), "127.0.0.1:0", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	must(t, svc.Start(ctx))
	defer svc.Stop(ctx)

	addr := svc.Addr()
	if addr == "" {
		t.Fatal("expected a bound address after Start")
	}

	resp, err := http.Get("http://" + addr + "/healthcheck")
	must(t, err)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204 from /healthcheck, got %d", resp.StatusCode)
	}

	resp2, err := http.Get("http://" + addr + "/")
	must(t, err)
	defer resp2.Body.Close()
	body, _ := io.ReadAll(resp2.Body)
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /, got %d", resp2.StatusCode)
	}
	if len(body) == 0 {
		t.Fatal("expected non-empty piggyback body")
	}

	must(t, svc.Stop(ctx))

	if _, err := http.Get("http://" + addr + "/healthcheck"); err == nil {
		t.Fatal("expected connection refused after Stop")
	}
}

func TestServiceDescriptorAdvertisesAdapterLayer(t *testing.T) {
	svc := NewService(newTestEngine(t), "127.0.0.1:0", nil)
	d := svc.Descriptor()
	if d.Name != "watchpost-http" {
		t.Fatalf("unexpected descriptor name: %q", d.Name)
	}
}
