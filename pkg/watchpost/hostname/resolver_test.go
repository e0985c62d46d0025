package hostname

import (
	"testing"

	wperrors "github.com/watchpost/watchpost/infrastructure/errors"
)

func TestResolverPrefersResultOverride(t *testing.T) {
	r := NewResolver(Static("engine-default"), false)
	ctx := Context{CheckID: "c1", EnvironmentName: "prod", ServiceName: "svc"}
	got, err := r.Resolve(ctx, Static("override-host"), Static("check-host"), Static("env-host"))
	if err != nil {
		t.Fatal(err)
	}
	if got != "override-host" {
		t.Errorf("Resolve = %q, want override-host", got)
	}
}

func TestResolverFallsThroughHierarchy(t *testing.T) {
	r := NewResolver(Static("engine-default"), false)
	ctx := Context{CheckID: "c1", EnvironmentName: "prod", ServiceName: "svc"}

	got, err := r.Resolve(ctx, nil, nil, Static("env-host"))
	if err != nil || got != "env-host" {
		t.Errorf("Resolve = %q, %v; want env-host", got, err)
	}

	got, err = r.Resolve(ctx, nil, nil, nil)
	if err != nil || got != "engine-default" {
		t.Errorf("Resolve = %q, %v; want engine-default", got, err)
	}
}

func TestResolverSynthesizesWhenNothingConfigured(t *testing.T) {
	r := NewResolver(nil, false)
	ctx := Context{CheckID: "c1", EnvironmentName: "prod", ServiceName: "svc"}
	got, err := r.Resolve(ctx, nil, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "svc-prod" {
		t.Errorf("Resolve = %q, want svc-prod", got)
	}
}

func TestResolverFatalOnEmptyWithCoercionDisabled(t *testing.T) {
	r := NewResolver(nil, false)
	ctx := Context{CheckID: "c1", EnvironmentName: "prod", ServiceName: ""}
	_, err := r.Resolve(ctx, Static(""), nil, nil)
	if err == nil {
		t.Fatal("expected an error")
	}
	we := wperrors.AsWatchpostError(err)
	if we == nil || we.Code != wperrors.ErrCodeHostnameResolutionFail {
		t.Errorf("err = %v, want ErrCodeHostnameResolutionFail", err)
	}
}

func TestResolverCoercesResult(t *testing.T) {
	r := NewResolver(nil, true)
	ctx := Context{CheckID: "c1", EnvironmentName: "prod", ServiceName: "svc"}
	got, err := r.Resolve(ctx, Static("My_Host!!.Example.com"), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "my-host.example.com" {
		t.Errorf("Resolve = %q, want my-host.example.com", got)
	}
}

func TestResolverTemplateStrategy(t *testing.T) {
	r := NewResolver(nil, false)
	ctx := Context{CheckID: "disk-space", EnvironmentName: "prod", ServiceName: "svc"}
	got, err := r.Resolve(ctx, nil, Template("{check_id}.{environment_name}.internal"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "disk-space.prod.internal" {
		t.Errorf("Resolve = %q, want disk-space.prod.internal", got)
	}
}
