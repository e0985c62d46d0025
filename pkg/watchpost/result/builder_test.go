package result

import (
	"strings"
	"testing"

	"github.com/watchpost/watchpost/pkg/watchpost/state"
)

func TestBuilderAllOK(t *testing.T) {
	r := NewBuilder("all good", "something failed").OK("disk free").OK("memory free").Build()
	if r.State != state.OK {
		t.Errorf("State = %v, want OK", r.State)
	}
	if r.Summary != "all good" {
		t.Errorf("Summary = %q, want %q", r.Summary, "all good")
	}
}

func TestBuilderSeverityMaxFold(t *testing.T) {
	r := NewBuilder("all good", "problems found").
		OK("disk free").
		Warn("memory at 85%").
		Crit("disk at 98%").
		Build()

	if r.State != state.CRIT {
		t.Errorf("State = %v, want CRIT (max of OK/WARN/CRIT)", r.State)
	}
	if r.Summary != "problems found" {
		t.Errorf("Summary = %q, want the fail summary verbatim", r.Summary)
	}
	details := r.Details.Render()
	if !strings.Contains(details, "CRIT: disk at 98%") {
		t.Errorf("Details = %q, want it to contain the CRIT bullet", details)
	}
	if strings.Contains(details, "disk free") {
		t.Errorf("Details = %q, want OK sub-checks omitted from the bullet list", details)
	}
}

func TestBuilderBaseDetailsPrefixesBulletList(t *testing.T) {
	r := NewBuilder("all good", "problems found", "host: db-1").
		Warn("memory at 85%").
		Build()

	if r.Summary != "problems found" {
		t.Errorf("Summary = %q, want the fail summary verbatim", r.Summary)
	}
	details := r.Details.Render()
	if !strings.Contains(details, "host: db-1") {
		t.Errorf("Details = %q, want it to contain the base details", details)
	}
	if !strings.Contains(details, "WARN: memory at 85%") {
		t.Errorf("Details = %q, want it to contain the WARN bullet", details)
	}
}

func TestBuilderUnknownOutranksWarnNotCrit(t *testing.T) {
	r := NewBuilder("ok", "fail").Warn("a").Unknown("b").Build()
	if r.State != state.UNKNOWN {
		t.Errorf("State = %v, want UNKNOWN (UNKNOWN outranks WARN)", r.State)
	}

	r2 := NewBuilder("ok", "fail").Unknown("a").Crit("b").Build()
	if r2.State != state.CRIT {
		t.Errorf("State = %v, want CRIT (CRIT outranks UNKNOWN)", r2.State)
	}
}

func TestBuilderEmptyDefaultsToOK(t *testing.T) {
	r := NewBuilder("nothing to check", "fail").Build()
	if r.State != state.OK {
		t.Errorf("State = %v, want OK for an empty builder", r.State)
	}
	if r.Summary != "nothing to check" {
		t.Errorf("Summary = %q, want ok_summary", r.Summary)
	}
}

func TestBuilderMetricsCarried(t *testing.T) {
	r := NewBuilder("ok", "fail").OK("x").AddMetric(Metric{Name: "load", Value: 1.5}).Build()
	if len(r.Metrics) != 1 || r.Metrics[0].Name != "load" {
		t.Errorf("Metrics = %+v, want one load metric", r.Metrics)
	}
}
