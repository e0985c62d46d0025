package check

import (
	wperrors "github.com/watchpost/watchpost/infrastructure/errors"
	"github.com/watchpost/watchpost/pkg/watchpost/datasource"
)

// Registry holds every check descriptor known to one engine instance.
// Checks are discovered by explicit enumeration — the caller passes every
// Registration it wants known, rather than the registry reflecting over a
// package tree — mirroring the core-check loader's explicit
// RegisterChecks(...) call list rather than a plugin-discovery scan.
type Registry struct {
	byID  map[string]Descriptor
	order []string
}

// NewRegistry builds an empty check Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Descriptor)}
}

// Register validates reg against ds and adds the resulting Descriptor. All
// errors are returned rather than panicked so the caller can aggregate them
// across every check before aborting startup (spec §7: "a registration-time
// configuration error ... aborts engine startup").
func (r *Registry) Register(reg Registration, ds *datasource.Registry) error {
	if _, exists := r.byID[reg.ID]; exists {
		return wperrors.InvalidCheckConfiguration(reg.ID, "duplicate check id")
	}
	descriptor, err := Build(reg, ds)
	if err != nil {
		return err
	}
	r.byID[reg.ID] = descriptor
	r.order = append(r.order, reg.ID)
	return nil
}

// Lookup returns the descriptor registered under id.
func (r *Registry) Lookup(id string) (Descriptor, bool) {
	d, ok := r.byID[id]
	return d, ok
}

// All returns every registered descriptor in registration order, which
// the engine uses as its enumeration order for one poll (spec §5:
// "results for one poll are emitted in a stable order").
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Len reports how many checks are registered.
func (r *Registry) Len() int {
	return len(r.byID)
}
