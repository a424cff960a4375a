package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/user/bluelane/journal"
)

// MarkdownReport renders the results of the last CheckAssertions, the
// per-central matrix of what each one observed, and journal counts.
func (r *Runner) MarkdownReport() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Scenario Report: %s\n\n", r.scenario.Name))
	if desc := strings.TrimSpace(r.scenario.Description); desc != "" {
		sb.WriteString(desc + "\n\n")
	}
	sb.WriteString(fmt.Sprintf("- Peripheral: `%s`\n", r.scenario.Peripheral))
	sb.WriteString(fmt.Sprintf("- Timeline: %d event(s) over %v\n\n", len(r.scenario.Timeline), r.scenario.Duration()))

	if r.bench != nil {
		sb.WriteString("## Centrals\n\n")
		sb.WriteString("| Central | State | Subscribed | Indications | Bond lost | Failures |\n")
		sb.WriteString("|---------|-------|------------|-------------|-----------|----------|\n")
		subscribable := r.bench.Table.Subscribable()
		for _, d := range r.bench.Devices() {
			subscribed, changes := 0, 0
			for _, addr := range subscribable {
				for _, peer := range r.bench.Responder.Subscribers(addr.Characteristic) {
					if peer == d.ID {
						subscribed++
					}
				}
				changes += d.Events.Indications(addr)
			}
			sb.WriteString(fmt.Sprintf("| %s | %s | %d/%d | %d | %d | %d |\n",
				shortID(d.ID), d.Session.State(), subscribed, len(subscribable),
				changes, d.Events.BondLost(), d.Events.Failures()))
		}
		sb.WriteString("\n")

		sb.WriteString("## Journal\n\n")
		counts := make(map[string]int)
		for _, e := range r.bench.Journal.Entries(journal.Filter{}) {
			counts[e.Kind.String()]++
		}
		kinds := make([]string, 0, len(counts))
		for k := range counts {
			kinds = append(kinds, k)
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			sb.WriteString(fmt.Sprintf("- %s: %d\n", k, counts[k]))
		}
		sb.WriteString("\n")
	}

	r.mu.Lock()
	results := append([]AssertionResult(nil), r.results...)
	r.mu.Unlock()

	sb.WriteString("## Assertions\n\n")
	passed := 0
	for _, res := range results {
		mark := "❌"
		if res.Passed {
			mark = "✅"
			passed++
		}
		sb.WriteString(fmt.Sprintf("- %s **%s** %s\n", mark, res.Assertion.Type, res.Message))
	}
	sb.WriteString(fmt.Sprintf("\n**Total: %d/%d passed**\n", passed, len(results)))
	return sb.String()
}

// WriteMarkdownReport writes MarkdownReport into dir as a timestamped file
// and returns its path.
func (r *Runner) WriteMarkdownReport(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	name := strings.ReplaceAll(r.scenario.Name, " ", "_")
	path := filepath.Join(dir, fmt.Sprintf("report_%s_%s.md", name, timestamp))
	if err := os.WriteFile(path, []byte(r.MarkdownReport()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
