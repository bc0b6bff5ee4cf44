// Package report aggregates a project's recent memory into a weekly or
// monthly activity digest, renderable as JSON or Markdown.
package report

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"kiromemory/internal/apperr"
	"kiromemory/internal/category"
	"kiromemory/internal/store"
)

// Period selects the report window.
type Period string

// Supported report windows.
const (
	PeriodWeekly  Period = "weekly"
	PeriodMonthly Period = "monthly"
)

// ParsePeriod validates a query-string period. Empty means weekly.
func ParsePeriod(s string) (Period, error) {
	switch s {
	case "", string(PeriodWeekly):
		return PeriodWeekly, nil
	case string(PeriodMonthly):
		return PeriodMonthly, nil
	default:
		return "", apperr.Validationf("period must be weekly or monthly, got %q", s)
	}
}

func (p Period) days() int {
	if p == PeriodMonthly {
		return 30
	}
	return 7
}

// NameCount pairs a name with how often it appeared.
type NameCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// SummaryLine is the digest of one session summary inside the report.
type SummaryLine struct {
	Project   string `json:"project,omitempty"`
	Request   string `json:"request,omitempty"`
	Completed string `json:"completed,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Report is the aggregated activity for one window.
type Report struct {
	Project           string         `json:"project,omitempty"`
	Period            Period         `json:"period"`
	From              string         `json:"from"`
	To                string         `json:"to"`
	TotalObservations int            `json:"total_observations"`
	ByType            map[string]int `json:"by_type"`
	ByCategory        map[string]int `json:"by_category"`
	KnowledgeCount    int            `json:"knowledge_count"`
	ActiveSessions    int            `json:"active_sessions"`
	Summaries         []SummaryLine  `json:"summaries,omitempty"`
	TopFiles          []NameCount    `json:"top_files,omitempty"`
	TopConcepts       []NameCount    `json:"top_concepts,omitempty"`
	NextSteps         []string       `json:"next_steps,omitempty"`
}

const (
	maxSummaryLines = 10
	maxTopEntries   = 10
	maxNextSteps    = 10
)

// Generator builds reports from a store.
type Generator struct {
	store *store.Store
	now   func() time.Time
}

// New builds a report generator over st.
func New(st *store.Store) *Generator {
	return &Generator{store: st, now: time.Now}
}

// Generate aggregates the window ending now for the given project. An empty
// project spans every project in the store.
func (g *Generator) Generate(ctx context.Context, project string, period Period) (*Report, error) {
	now := g.now().UTC()
	since := now.AddDate(0, 0, -period.days())

	obs, err := g.store.ObservationsSince(ctx, project, since.UnixMilli())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "load observations for report", err)
	}
	sums, err := g.store.SummariesSince(ctx, project, since.UnixMilli())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "load summaries for report", err)
	}

	r := &Report{
		Project:    project,
		Period:     period,
		From:       since.Format(time.RFC3339),
		To:         now.Format(time.RFC3339),
		ByType:     map[string]int{},
		ByCategory: map[string]int{},
	}

	sessions := map[int64]bool{}
	files := map[string]int{}
	concepts := map[string]int{}
	for _, o := range obs {
		r.TotalObservations++
		r.ByType[o.Type]++
		r.ByCategory[o.AutoCategory]++
		if category.IsKnowledgeType(o.Type) {
			r.KnowledgeCount++
		}
		if o.MemorySessionID > 0 {
			sessions[o.MemorySessionID] = true
		}
		for _, f := range splitList(o.FilesRead) {
			files[f]++
		}
		for _, f := range splitList(o.FilesModified) {
			files[f]++
		}
		for _, c := range splitList(o.Concepts) {
			concepts[c]++
		}
	}
	r.ActiveSessions = len(sessions)
	r.TopFiles = topN(files, maxTopEntries)
	r.TopConcepts = topN(concepts, maxTopEntries)

	// Newest summaries first in the report body.
	for i := len(sums) - 1; i >= 0 && len(r.Summaries) < maxSummaryLines; i-- {
		sm := sums[i]
		r.Summaries = append(r.Summaries, SummaryLine{
			Project:   sm.Project,
			Request:   sm.Request,
			Completed: sm.Completed,
			CreatedAt: sm.CreatedAt,
		})
		for _, step := range strings.Split(sm.NextSteps, "\n") {
			if step = strings.TrimSpace(step); step != "" && len(r.NextSteps) < maxNextSteps {
				r.NextSteps = append(r.NextSteps, step)
			}
		}
	}
	return r, nil
}

// Markdown renders the report as a document suitable for terminals and
// chat clients.
func (r *Report) Markdown() string {
	var b strings.Builder

	title := "Memory Report"
	if r.Project != "" {
		title += " for " + r.Project
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "*%s: %s to %s*\n\n", r.Period, shortDate(r.From), shortDate(r.To))

	fmt.Fprintf(&b, "## Activity\n\n")
	fmt.Fprintf(&b, "- **%d** observations across **%d** sessions\n", r.TotalObservations, r.ActiveSessions)
	fmt.Fprintf(&b, "- **%d** knowledge items captured\n", r.KnowledgeCount)
	for _, nc := range sortedCounts(r.ByType) {
		fmt.Fprintf(&b, "  - %s: %d\n", nc.Name, nc.Count)
	}

	if len(r.ByCategory) > 0 {
		b.WriteString("\n## Categories\n\n")
		for _, nc := range sortedCounts(r.ByCategory) {
			fmt.Fprintf(&b, "- %s: %d\n", nc.Name, nc.Count)
		}
	}

	if len(r.Summaries) > 0 {
		b.WriteString("\n## Sessions\n\n")
		for _, sm := range r.Summaries {
			line := sm.Request
			if line == "" {
				line = "(no recorded request)"
			}
			fmt.Fprintf(&b, "- **%s** %s\n", shortDate(sm.CreatedAt), line)
			if sm.Completed != "" {
				fmt.Fprintf(&b, "  - done: %s\n", firstLine(sm.Completed))
			}
		}
	}

	if len(r.TopFiles) > 0 {
		b.WriteString("\n## Most touched files\n\n")
		for _, nc := range r.TopFiles {
			fmt.Fprintf(&b, "- `%s` (%d)\n", nc.Name, nc.Count)
		}
	}

	if len(r.TopConcepts) > 0 {
		b.WriteString("\n## Concepts\n\n")
		for _, nc := range r.TopConcepts {
			fmt.Fprintf(&b, "- %s (%d)\n", nc.Name, nc.Count)
		}
	}

	if len(r.NextSteps) > 0 {
		b.WriteString("\n## Open next steps\n\n")
		for _, step := range r.NextSteps {
			fmt.Fprintf(&b, "- %s\n", step)
		}
	}
	return b.String()
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func topN(counts map[string]int, n int) []NameCount {
	out := sortedCounts(counts)
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func sortedCounts(counts map[string]int) []NameCount {
	out := make([]NameCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, NameCount{name, count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func shortDate(iso string) string {
	if len(iso) >= 10 {
		return iso[:10]
	}
	return iso
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
