package check

import (
	"testing"

	"github.com/watchpost/watchpost/pkg/watchpost/environment"
)

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(baseRegistration(), newTestRegistry()); err != nil {
		t.Fatal(err)
	}
	d, ok := r.Lookup("disk-space-check")
	if !ok || d.ServiceName != "disk-space" {
		t.Errorf("Lookup = %+v, %v", d, ok)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	r := NewRegistry()
	ds := newTestRegistry()
	if err := r.Register(baseRegistration(), ds); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(baseRegistration(), ds); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestRegistryAllPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	ds := newTestRegistry()
	first := baseRegistration()
	first.ID = "check-a"
	second := baseRegistration()
	second.ID = "check-b"
	second.TargetEnvironments = []environment.Environment{environment.New("staging", "", nil)}

	if err := r.Register(first, ds); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(second, ds); err != nil {
		t.Fatal(err)
	}

	all := r.All()
	if len(all) != 2 || all[0].ID != "check-a" || all[1].ID != "check-b" {
		t.Errorf("All() = %+v, want [check-a, check-b] in order", all)
	}
}
