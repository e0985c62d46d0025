// Package result defines the check-author-facing CheckResult type and the
// engine-internal, fully-resolved ExecutionResult it normalizes into, along
// with the Metric/Thresholds shapes carried by both.
package result

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/watchpost/watchpost/pkg/watchpost/state"
)

// Thresholds carries the warn/crit levels rendered into a metric's
// Checkmk perf-data field.
type Thresholds struct {
	Warn float64
	Crit float64
	// set distinguishes an explicitly-zero threshold from "none declared".
	set bool
}

// NewThresholds returns a populated Thresholds value.
func NewThresholds(warn, crit float64) Thresholds {
	return Thresholds{Warn: warn, Crit: crit, set: true}
}

// IsSet reports whether levels were declared for this metric.
func (t Thresholds) IsSet() bool { return t.set }

// thresholdsWire is Thresholds with its set flag exported, so a cached
// Metric round-trips through gob (spec §4.1's disk envelope) without
// silently losing "no levels declared" information.
type thresholdsWire struct {
	Warn, Crit float64
	Set        bool
}

// GobEncode implements gob.GobEncoder.
func (t Thresholds) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(thresholdsWire{Warn: t.Warn, Crit: t.Crit, Set: t.set})
	return buf.Bytes(), err
}

// GobDecode implements gob.GobDecoder.
func (t *Thresholds) GobDecode(data []byte) error {
	var wire thresholdsWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return err
	}
	t.Warn, t.Crit, t.set = wire.Warn, wire.Crit, wire.Set
	return nil
}

// Boundaries carries a metric's optional min/max range.
type Boundaries struct {
	Min, Max float64
	set      bool
}

// NewBoundaries returns a populated Boundaries value.
func NewBoundaries(min, max float64) Boundaries {
	return Boundaries{Min: min, Max: max, set: true}
}

// IsSet reports whether boundaries were declared for this metric.
func (b Boundaries) IsSet() bool { return b.set }

// boundariesWire mirrors thresholdsWire's purpose for Boundaries.
type boundariesWire struct {
	Min, Max float64
	Set      bool
}

// GobEncode implements gob.GobEncoder.
func (b Boundaries) GobEncode() ([]byte, error) {
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(boundariesWire{Min: b.Min, Max: b.Max, Set: b.set})
	return buf.Bytes(), err
}

// GobDecode implements gob.GobDecoder.
func (b *Boundaries) GobDecode(data []byte) error {
	var wire boundariesWire
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return err
	}
	b.Min, b.Max, b.set = wire.Min, wire.Max, wire.Set
	return nil
}

// Metric is one perf-data point attached to a check result.
type Metric struct {
	Name       string
	Value      float64
	Levels     Thresholds
	Boundaries Boundaries
	Unit       string
}

// Render formats the metric as Checkmk's `name=value[;warn;crit[;min;max]]`
// perf-data segment.
func (m Metric) Render() string {
	out := fmt.Sprintf("%s=%s%s", m.Name, formatFloat(m.Value), m.Unit)
	if !m.Levels.IsSet() && !m.Boundaries.IsSet() {
		return out
	}
	out += fmt.Sprintf(";%s;%s", formatFloat(m.Levels.Warn), formatFloat(m.Levels.Crit))
	if m.Boundaries.IsSet() {
		out += fmt.Sprintf(";%s;%s", formatFloat(m.Boundaries.Min), formatFloat(m.Boundaries.Max))
	}
	return out
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%g", f)
}

// Details is the check result's free-form detail payload: a string, a
// structured mapping, or an error, all of which render to text for the
// Checkmk piggyback block.
type Details struct {
	Text     string
	Fields   map[string]interface{}
	Err      error
	hasValue bool
}

// NewTextDetails wraps a plain detail string.
func NewTextDetails(text string) Details {
	return Details{Text: text, hasValue: text != ""}
}

// NewFieldDetails wraps a structured mapping of details.
func NewFieldDetails(fields map[string]interface{}) Details {
	return Details{Fields: fields, hasValue: len(fields) > 0}
}

// NewErrorDetails wraps an error whose message and (if present) stack trace
// render into the details text.
func NewErrorDetails(err error) Details {
	return Details{Err: err, hasValue: err != nil}
}

// IsEmpty reports whether no detail content was supplied.
func (d Details) IsEmpty() bool { return !d.hasValue }

// Render flattens the details into the text block Checkmk expects.
func (d Details) Render() string {
	switch {
	case d.Err != nil:
		return fmt.Sprintf("error: %v", d.Err)
	case len(d.Fields) > 0:
		out := ""
		for k, v := range d.Fields {
			if out != "" {
				out += "\n"
			}
			out += fmt.Sprintf("%s: %v", k, v)
		}
		return out
	default:
		return d.Text
	}
}

// CheckResult is the value a check function (or its result builder) hands
// back to the engine. It is resolved to zero or more ExecutionResults
// during normalization (spec §4.6 step 4).
type CheckResult struct {
	State            state.CheckState
	Summary          string
	Details          Details
	NameSuffix       string
	HostnameOverride string
	Metrics          []Metric
}

// OK builds a CheckResult in the OK state.
func OK(summary string) CheckResult { return CheckResult{State: state.OK, Summary: summary} }

// Warn builds a CheckResult in the WARN state.
func Warn(summary string) CheckResult { return CheckResult{State: state.WARN, Summary: summary} }

// Crit builds a CheckResult in the CRIT state.
func Crit(summary string) CheckResult { return CheckResult{State: state.CRIT, Summary: summary} }

// Unknown builds a CheckResult in the UNKNOWN state.
func Unknown(summary string) CheckResult { return CheckResult{State: state.UNKNOWN, Summary: summary} }

// WithDetails attaches details and returns the receiver for chaining.
func (r CheckResult) WithDetails(d Details) CheckResult {
	r.Details = d
	return r
}

// WithMetrics attaches metrics and returns the receiver for chaining.
func (r CheckResult) WithMetrics(metrics ...Metric) CheckResult {
	r.Metrics = metrics
	return r
}

// WithNameSuffix attaches a service-name suffix and returns the receiver.
func (r CheckResult) WithNameSuffix(suffix string) CheckResult {
	r.NameSuffix = suffix
	return r
}

// WithHostnameOverride pins the piggyback host for this result specifically,
// taking precedence over every other hostname-resolution step (spec §4.6
// step 6).
func (r CheckResult) WithHostnameOverride(hostname string) CheckResult {
	r.HostnameOverride = hostname
	return r
}

// ExecutionResult is the engine-internal, fully-resolved record emitted to
// the output formatter. Every invariant of spec §3 applies: non-empty
// ServiceName, a resolved PiggybackHost (possibly the no-piggyback
// sentinel), and Details with error tracebacks already rendered to text.
type ExecutionResult struct {
	PiggybackHost   string
	ServiceName     string
	ServiceLabels   map[string]string
	EnvironmentName string
	State           state.CheckState
	Summary         string
	Details         string
	Metrics         []Metric
	CheckID         string
}

// NoPiggybackHost is the sentinel used when a result carries no piggyback
// routing (spec §3 invariants, §6 output format).
const NoPiggybackHost = "no-piggyback"
