// Package check implements the check registry: descriptor normalization,
// signature-plan construction and validation at registration time, and
// explicit-enumeration registration (spec §4.4's signature-plan rules and
// §2's "Check Registry" component).
package check

import (
	"time"

	"github.com/watchpost/watchpost/pkg/watchpost/environment"
	"github.com/watchpost/watchpost/pkg/watchpost/hostname"
	"github.com/watchpost/watchpost/pkg/watchpost/result"
	"github.com/watchpost/watchpost/pkg/watchpost/scheduling"
)

// SyncOrAsync marks whether a check's function must run on the worker pool
// (Sync) or the event loop (Async).
type SyncOrAsync int

const (
	Sync SyncOrAsync = iota
	Async
)

// Func is the user-authored check body. It receives the resolved
// datasource/environment arguments the SignaturePlan computed, and returns
// a value the engine's normalize step accepts: a single CheckResult, a
// slice of CheckResult, or an error.
type Func func(args []interface{}) (interface{}, error)

// Descriptor is a fully-normalized, immutable check registration (spec
// §3's Check descriptor).
type Descriptor struct {
	ID                   string
	ServiceName          string
	ServiceLabels        map[string]string
	TargetEnvironments   []environment.Environment
	CacheFor             time.Duration
	HostnameStrategy     hostname.Strategy
	SchedulingStrategies []scheduling.Strategy
	ErrorHandlers        []result.ErrorHandler
	SignaturePlan        SignaturePlan
	SyncOrAsync          SyncOrAsync
	Function             Func
}

// Registration is the decorator-equivalent input a check author supplies;
// Build normalizes it into a Descriptor, validating everything that must
// be a registration-time error.
type Registration struct {
	ID                   string
	ServiceName          string
	ServiceLabels        map[string]string
	TargetEnvironments   []environment.Environment
	CacheFor             string // raw duration string, e.g. "5m" or "none"
	HostnameStrategy     hostname.Strategy
	SchedulingStrategies []scheduling.Strategy
	ErrorHandlers        []result.ErrorHandler
	Signature            []ParamSpec
	SyncOrAsync          SyncOrAsync
	Function             Func
}
