// Package output renders a poll's ExecutionResults into the Checkmk
// piggyback text format (spec §6), bit-exact down to the framing markers.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/watchpost/watchpost/pkg/watchpost/result"
)

// Format writes results in emission order to w, grouped by PiggybackHost.
// Per spec §6: each group is framed as
//
//	<<<<{host}>>>>
//	<<<local:sep(0)>>>
//	{state_int} "{service_name}" {metrics_or_hyphen} {summary}\n{details}
//	<<<<>>>>
//
// with the NoPiggybackHost sentinel omitting the `<<<<host>>>>` framing
// entirely (the local-check line is written bare).
func Format(w io.Writer, results []result.ExecutionResult) error {
	var currentHost string
	hostOpen := false

	for _, r := range results {
		if r.PiggybackHost != currentHost || !hostOpen {
			if hostOpen {
				if err := writeLine(w, "<<<<>>>>"); err != nil {
					return err
				}
			}
			if r.PiggybackHost != result.NoPiggybackHost {
				if err := writeLine(w, fmt.Sprintf("<<<<%s>>>>", r.PiggybackHost)); err != nil {
					return err
				}
			}
			if err := writeLine(w, "<<<local:sep(0)>>>"); err != nil {
				return err
			}
			currentHost = r.PiggybackHost
			hostOpen = true
		}
		if err := writeLine(w, renderLocalCheckLine(r)); err != nil {
			return err
		}
	}
	if hostOpen {
		if err := writeLine(w, "<<<<>>>>"); err != nil {
			return err
		}
	}
	return nil
}

func renderLocalCheckLine(r result.ExecutionResult) string {
	metrics := "-"
	if len(r.Metrics) > 0 {
		parts := make([]string, 0, len(r.Metrics))
		for _, m := range r.Metrics {
			parts = append(parts, m.Render())
		}
		metrics = strings.Join(parts, "|")
	}
	return fmt.Sprintf("%d \"%s\" %s %s\\n%s", int(r.State), r.ServiceName, metrics, r.Summary, r.Details)
}

func writeLine(w io.Writer, line string) error {
	_, err := io.WriteString(w, line+"\n")
	return err
}
