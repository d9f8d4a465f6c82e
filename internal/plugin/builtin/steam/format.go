package steam

import (
	"fmt"
	"strings"
	"time"
)

// renderNotice builds the one combined change notice, one line per
// transition in configured order.
func renderNotice(transitions []Transition) string {
	var b strings.Builder
	b.WriteString("⚠️ Steam service status change:\n")
	for i, t := range transitions {
		if i > 0 {
			b.WriteByte('\n')
		}
		if t.Up {
			b.WriteString(t.Name + ": ✅ recovered")
		} else {
			b.WriteString(t.Name + ": ❌ degraded")
		}
	}
	return b.String()
}

// renderReport builds the on-demand status report, one line per endpoint
// in configured order.
func renderReport(endpoints []Endpoint, verdicts map[string]bool) string {
	var b strings.Builder
	b.WriteString("📊 Steam status report:\n")
	for i, ep := range endpoints {
		if i > 0 {
			b.WriteByte('\n')
		}
		if verdicts[ep.Name] {
			b.WriteString(ep.Name + ": ✅ ok")
		} else {
			b.WriteString(ep.Name + ": ❌ down")
		}
	}
	return b.String()
}

// renderHistory builds the owner-only transition history listing, newest
// first.
func renderHistory(items []historyLine) string {
	if len(items) == 0 {
		return "No recorded transitions."
	}
	var b strings.Builder
	b.WriteString("Recent transitions:\n")
	for i, it := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		state := "❌ down"
		if it.Up {
			state = "✅ up"
		}
		fmt.Fprintf(&b, "%s  %s: %s", it.At.Format("2006-01-02 15:04"), it.Name, state)
	}
	return b.String()
}

type historyLine struct {
	At   time.Time
	Name string
	Up   bool
}
