package summary

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"kiromemory/internal/category"
)

// Per-field line caps.
const (
	maxInvestigated = 5
	maxLearned      = 5
	maxCompleted    = 10
	maxNextSteps    = 5
)

// todoRe mines followup markers out of observation text.
var todoRe = regexp.MustCompile(`\b(?:TODO|FIXME|HACK|XXX)\b[:\s-]*(.*)`)

// Template derives the draft from observation partitions without a model. It
// never fails.
type Template struct{}

// Name identifies the generator.
func (Template) Name() string { return "template" }

// Generate partitions the observations into the summary fields: reads and
// research feed investigated, narratives feed learned, writes, commands and
// debugging work feed completed, and TODO-style markers feed next_steps.
func (Template) Generate(_ context.Context, in Input) (*Draft, error) {
	var investigated, learned, completed, nextSteps []string
	counts := map[string]int{}

	for _, o := range in.Observations {
		counts[o.Type]++
		if o.Type == "file-read" || o.Type == "research" {
			investigated = append(investigated, o.Title)
		}
		if (o.Type == "research" || category.IsKnowledgeType(o.Type)) && o.Narrative != "" {
			learned = append(learned, o.Narrative)
		}
		if o.Type == "file-write" || o.Type == "command" || o.AutoCategory == category.Debugging {
			completed = append(completed, o.Title)
		}
		nextSteps = append(nextSteps, mineNextSteps(o.Text)...)
	}

	return &Draft{
		Request:      requestLine(in),
		Investigated: joinCapped(investigated, maxInvestigated),
		Learned:      joinCapped(learned, maxLearned),
		Completed:    joinCapped(completed, maxCompleted),
		NextSteps:    joinCapped(nextSteps, maxNextSteps),
		Notes:        notesLine(in, counts),
	}, nil
}

// requestLine prefers the prompt recorded on the session, then the first
// captured prompt.
func requestLine(in Input) string {
	if in.Session != nil && in.Session.UserPrompt != "" {
		return in.Session.UserPrompt
	}
	if len(in.Prompts) > 0 {
		return in.Prompts[0].PromptText
	}
	return ""
}

// mineNextSteps extracts the remainder of every line carrying a followup
// marker; a bare marker yields the whole line.
func mineNextSteps(text string) []string {
	if text == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(text, "\n") {
		m := todoRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		step := strings.TrimSpace(m[1])
		if step == "" {
			step = strings.TrimSpace(line)
		}
		out = append(out, step)
	}
	return out
}

// joinCapped dedupes the lines in input order and keeps at most limit.
func joinCapped(lines []string, limit int) string {
	seen := make(map[string]bool, len(lines))
	out := make([]string, 0, limit)
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
		if len(out) == limit {
			break
		}
	}
	return strings.Join(out, "\n")
}

// notesLine reports the observation count, the session duration and the
// per-type breakdown.
func notesLine(in Input, counts map[string]int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d observations", len(in.Observations))
	if d := sessionDuration(in); d > 0 {
		fmt.Fprintf(&b, " over %s", humanDuration(d))
	}
	if len(counts) > 0 {
		types := make([]string, 0, len(counts))
		for t := range counts {
			types = append(types, t)
		}
		sort.Strings(types)
		parts := make([]string, len(types))
		for i, t := range types {
			parts[i] = fmt.Sprintf("%d %s", counts[t], t)
		}
		b.WriteString(": " + strings.Join(parts, ", "))
	}
	return b.String()
}

// sessionDuration uses the session timestamps when both ends are known,
// otherwise the span of the observations.
func sessionDuration(in Input) time.Duration {
	var start, end int64
	if s := in.Session; s != nil {
		start = s.StartedAtEpoch
		if s.CompletedAtEpoch != nil {
			end = *s.CompletedAtEpoch
		}
	}
	if start == 0 || end == 0 {
		if len(in.Observations) < 2 {
			return 0
		}
		start, end = in.Observations[0].CreatedAtEpoch, in.Observations[0].CreatedAtEpoch
		for _, o := range in.Observations[1:] {
			if o.CreatedAtEpoch < start {
				start = o.CreatedAtEpoch
			}
			if o.CreatedAtEpoch > end {
				end = o.CreatedAtEpoch
			}
		}
	}
	if end <= start {
		return 0
	}
	return time.Duration(end-start) * time.Millisecond
}

func humanDuration(d time.Duration) string {
	if d < time.Minute {
		return "<1m"
	}
	m := int(d / time.Minute)
	if m < 60 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh%02dm", m/60, m%60)
}
