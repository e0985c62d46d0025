package result

import (
	"fmt"
	"strings"

	"github.com/watchpost/watchpost/pkg/watchpost/state"
)

// Builder accumulates sub-checks ("ok"/"warn"/"crit"/"unknown" calls) into a
// single CheckResult whose state is the max severity of every sub-check
// added (spec §4.7: severity-max fold). Summary is always okSummary or
// failSummary verbatim; the bulleted list of non-OK sub-check messages
// (plus an optional base-details string) goes into Details instead.
type Builder struct {
	okSummary   string
	failSummary string
	baseDetails string
	worst       state.CheckState
	failures    []string
	metrics     []Metric
	hasAny      bool
}

// NewBuilder starts a Builder. okSummary and failSummary are used verbatim
// as the eventual Summary depending on whether any sub-check failed.
// baseDetails, if given, is an optional fixed string that prefixes the
// bulleted list of failing sub-check messages in Details.
func NewBuilder(okSummary, failSummary string, baseDetails ...string) *Builder {
	b := &Builder{okSummary: okSummary, failSummary: failSummary, worst: state.OK}
	if len(baseDetails) > 0 {
		b.baseDetails = baseDetails[0]
	}
	return b
}

func (b *Builder) add(s state.CheckState, message string) *Builder {
	b.hasAny = true
	b.worst = state.Max(b.worst, s)
	if s != state.OK {
		b.failures = append(b.failures, fmt.Sprintf("%s: %s", s, message))
	}
	return b
}

// OK records a passing sub-check.
func (b *Builder) OK(message string) *Builder { return b.add(state.OK, message) }

// Warn records a WARN-severity sub-check.
func (b *Builder) Warn(message string) *Builder { return b.add(state.WARN, message) }

// Crit records a CRIT-severity sub-check.
func (b *Builder) Crit(message string) *Builder { return b.add(state.CRIT, message) }

// Unknown records an UNKNOWN-severity sub-check.
func (b *Builder) Unknown(message string) *Builder { return b.add(state.UNKNOWN, message) }

// AddMetric attaches a metric to the eventual CheckResult.
func (b *Builder) AddMetric(m Metric) *Builder {
	b.metrics = append(b.metrics, m)
	return b
}

// Build folds every recorded sub-check into one CheckResult at the worst
// severity observed, OK if nothing was ever added. Summary is the plain
// okSummary or failSummary string; any base details and failing sub-check
// messages go into Details as a bulleted list instead of being folded into
// Summary.
func (b *Builder) Build() CheckResult {
	summary := b.okSummary
	if len(b.failures) > 0 {
		summary = b.failSummary
	}

	r := CheckResult{State: b.worst, Summary: summary}
	if b.baseDetails != "" || len(b.failures) > 0 {
		var sb strings.Builder
		if b.baseDetails != "" {
			sb.WriteString(b.baseDetails)
			sb.WriteString("\n")
		}
		for _, f := range b.failures {
			sb.WriteString("- ")
			sb.WriteString(f)
			sb.WriteString("\n")
		}
		r.Details = NewTextDetails(strings.TrimRight(sb.String(), "\n"))
	}
	if len(b.metrics) > 0 {
		r.Metrics = b.metrics
	}
	return r
}
