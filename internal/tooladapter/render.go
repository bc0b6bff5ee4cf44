package tooladapter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"kiromemory/internal/category"
	"kiromemory/internal/store"
)

// snippetLen bounds inline previews so a tool response stays readable.
const snippetLen = 200

func renderSearch(query string, obs []*store.Observation, sums []*store.Summary, more bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Search results for %q\n\n", query)
	if len(obs) == 0 && len(sums) == 0 {
		b.WriteString("Nothing recorded matches.")
		return b.String()
	}
	if len(obs) > 0 {
		b.WriteString("### Observations\n\n")
		for _, o := range obs {
			fmt.Fprintf(&b, "- #%d **%s** (%s, %s, %s)\n", o.ID, o.Title, o.Type, o.Project, day(o.CreatedAt))
			if s := snippet(firstNonEmpty(o.Subtitle, o.Narrative, o.Text)); s != "" {
				fmt.Fprintf(&b, "  %s\n", s)
			}
		}
		b.WriteString("\n")
	}
	if len(sums) > 0 {
		b.WriteString("### Session summaries\n\n")
		for _, s := range sums {
			fmt.Fprintf(&b, "- summary #%d (%s, %s): %s\n", s.ID, s.Project, day(s.CreatedAt),
				snippet(firstNonEmpty(s.Request, s.Learned, s.Completed)))
		}
		b.WriteString("\n")
	}
	if more {
		b.WriteString("More results exist; narrow the query or raise the limit.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderTimeline(anchor int64, obs []*store.Observation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Timeline around #%d\n\n", anchor)
	for _, o := range obs {
		if o.ID == anchor {
			fmt.Fprintf(&b, "- **#%d %s** (%s, %s) [anchor]\n", o.ID, o.Title, o.Type, day(o.CreatedAt))
			continue
		}
		fmt.Fprintf(&b, "- #%d %s (%s, %s)\n", o.ID, o.Title, o.Type, day(o.CreatedAt))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderObservations(requested []int64, obs []*store.Observation) string {
	var b strings.Builder
	found := map[int64]bool{}
	for _, o := range obs {
		found[o.ID] = true
		fmt.Fprintf(&b, "## #%d %s\n\n", o.ID, o.Title)
		fmt.Fprintf(&b, "%s | %s | %s\n\n", o.Project, o.Type, day(o.CreatedAt))
		if o.Subtitle != "" {
			fmt.Fprintf(&b, "*%s*\n\n", o.Subtitle)
		}
		if o.Narrative != "" {
			b.WriteString(o.Narrative + "\n\n")
		}
		if o.Text != "" {
			b.WriteString(o.Text + "\n\n")
		}
		if o.Concepts != "" {
			fmt.Fprintf(&b, "Concepts: %s\n\n", o.Concepts)
		}
		if o.FilesRead != "" {
			fmt.Fprintf(&b, "Files read: %s\n\n", o.FilesRead)
		}
		if o.FilesModified != "" {
			fmt.Fprintf(&b, "Files modified: %s\n\n", o.FilesModified)
		}
		if o.Facts != "" {
			fmt.Fprintf(&b, "Metadata: %s\n\n", o.Facts)
		}
	}
	var missing []string
	for _, id := range requested {
		if !found[id] {
			missing = append(missing, "#"+strconv.FormatInt(id, 10))
		}
	}
	if len(missing) > 0 {
		fmt.Fprintf(&b, "Not found: %s\n", strings.Join(missing, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderContext(res *contextPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Context: %s\n\n", res.Project)
	if res.Query != "" {
		fmt.Fprintf(&b, "Focus: %q\n\n", res.Query)
	}

	if len(res.Summaries) > 0 {
		b.WriteString("## Recent sessions\n\n")
		for _, s := range res.Summaries {
			fmt.Fprintf(&b, "- (%s) %s\n", day(s.CreatedAt), snippet(firstNonEmpty(s.Request, s.Completed)))
			if s.Learned != "" {
				fmt.Fprintf(&b, "  Learned: %s\n", snippet(s.Learned))
			}
			if s.NextSteps != "" {
				fmt.Fprintf(&b, "  Next: %s\n", snippet(s.NextSteps))
			}
		}
		b.WriteString("\n")
	}

	if len(res.Items) > 0 {
		b.WriteString("## Relevant memory\n\n")
		for _, it := range res.Items {
			label := it.Type
			if category.IsKnowledgeType(it.Type) {
				label = "knowledge/" + it.Type
			}
			fmt.Fprintf(&b, "- [%s] #%d **%s**\n", label, it.ID, it.Title)
			if s := snippet(it.Content); s != "" {
				fmt.Fprintf(&b, "  %s\n", s)
			}
		}
		b.WriteString("\n")
	}

	if len(res.Prompts) > 0 {
		b.WriteString("## Recent prompts\n\n")
		for _, p := range res.Prompts {
			fmt.Fprintf(&b, "- %s\n", snippet(p.PromptText))
		}
		b.WriteString("\n")
	}

	if len(res.Summaries) == 0 && len(res.Items) == 0 && len(res.Prompts) == 0 {
		b.WriteString("No recorded activity for this project yet.\n\n")
	}
	fmt.Fprintf(&b, "Tokens: %d of %d budget.", res.TokensUsed, res.Budget)
	return b.String()
}

func renderHybrid(query string, hits []hybridHit) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Hybrid results for %q\n\n", query)
	if len(hits) == 0 {
		b.WriteString("Nothing recorded matches.")
		return b.String()
	}
	for i, h := range hits {
		fmt.Fprintf(&b, "%d. **%s** (#%d, %s, score %.2f, %s)\n", i+1, h.Title, h.ID, h.Type, h.Score, h.Source)
		if s := snippet(h.Content); s != "" {
			fmt.Fprintf(&b, "   %s\n", s)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderEmbeddingStats(res *embeddingStatsPayload) string {
	var b strings.Builder
	b.WriteString("## Embedding coverage\n\n")
	fmt.Fprintf(&b, "- Observations: %d\n", res.Observations)
	fmt.Fprintf(&b, "- Embedded: %d (%.1f%%)\n", res.Embedded, res.Coverage*100)
	fmt.Fprintf(&b, "- Queue depth: %d\n", res.QueueDepth)
	if len(res.Models) > 0 {
		fmt.Fprintf(&b, "- Models: %s\n", joinCounts(res.Models))
	}
	if len(res.Dimensions) > 0 {
		fmt.Fprintf(&b, "- Dimensions: %s\n", joinCounts(res.Dimensions))
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderCheckpoint(cp *store.Checkpoint) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Resume: %s\n\n", cp.Project)
	if cp.Task != "" {
		fmt.Fprintf(&b, "**Task**: %s\n\n", cp.Task)
	}
	if cp.Progress != "" {
		fmt.Fprintf(&b, "**Progress**: %s\n\n", cp.Progress)
	}
	if cp.NextSteps != "" {
		fmt.Fprintf(&b, "### Next steps\n\n%s\n\n", cp.NextSteps)
	}
	if cp.OpenQuestions != "" {
		fmt.Fprintf(&b, "### Open questions\n\n%s\n\n", cp.OpenQuestions)
	}
	if cp.RelevantFiles != "" {
		fmt.Fprintf(&b, "Relevant files: %s\n\n", cp.RelevantFiles)
	}
	fmt.Fprintf(&b, "Checkpoint #%d from session %d, %s.", cp.ID, cp.SessionID, day(cp.CreatedAt))
	return b.String()
}

// day trims an RFC 3339 timestamp to its date part.
func day(iso string) string {
	if len(iso) >= 10 {
		return iso[:10]
	}
	return iso
}

func snippet(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= snippetLen {
		return s
	}
	cut := snippetLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func joinCounts(m map[string]int64) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %d", k, m[k]))
	}
	return strings.Join(parts, ", ")
}
