// Package category assigns an auto-category to each observation from its
// fields. Rules are evaluated in priority order; the first hit wins.
package category

import (
	"regexp"
	"strings"
)

// The nine auto-categories.
const (
	Debugging      = "debugging"
	Testing        = "testing"
	Documentation  = "documentation"
	Configuration  = "configuration"
	Refactoring    = "refactoring"
	Research       = "research"
	Planning       = "planning"
	Implementation = "implementation"
	General        = "general"
)

// All lists every category the engine can assign.
var All = []string{
	Debugging, Testing, Documentation, Configuration, Refactoring,
	Research, Planning, Implementation, General,
}

// Fields is the projection of an observation the rules look at.
type Fields struct {
	Type          string
	Title         string
	Text          string
	Narrative     string
	FilesRead     string
	FilesModified string
}

var (
	debugRe    = regexp.MustCompile(`(?i)\b(fix(ed|ing)?|bug|error|crash|fail(ed|ing|ure)?|exception|panic|traceback|stack trace|regression)\b`)
	testWordRe = regexp.MustCompile(`(?i)\b(test(s|ing)?|spec|coverage|assert(ion)?s?|fixture)\b`)
	testFileRe = regexp.MustCompile(`(?i)(_test\.go|\.test\.|\.spec\.|(^|/)tests?/|(^|/)__tests__/)`)
	docFileRe  = regexp.MustCompile(`(?i)(\.mdx?$|\.rst$|(^|/)docs?/|(^|/)readme|(^|/)changelog)`)
	docWordRe  = regexp.MustCompile(`(?i)\b(document(ed|ing|ation)?|readme|changelog|docstring)\b`)
	confFileRe = regexp.MustCompile(`(?i)(\.ya?ml$|\.json$|\.toml$|\.ini$|\.env(\.|$)|dockerfile|makefile|\.conf$|go\.mod$|package\.json$)`)
	confWordRe = regexp.MustCompile(`(?i)\b(config(ure|uration)?|settings|environment variable|env var)\b`)
	refacRe    = regexp.MustCompile(`(?i)\b(refactor(ed|ing)?|renam(e|ed|ing)|restructur(e|ed|ing)|clean(ed|ing)? ?up|extract(ed|ing)?|simplif(y|ied))\b`)
	resrchRe   = regexp.MustCompile(`(?i)\b(research(ed|ing)?|investigat(e|ed|ing|ion)|explor(e|ed|ing)|compar(e|ed|ing|ison)|read about|looked into)\b`)
	planRe     = regexp.MustCompile(`(?i)\b(plan(ned|ning)?|design(ed|ing)?|architect(ure|ed)?|roadmap|decision|decid(e|ed|ing)|trade-?off)\b`)
	implRe     = regexp.MustCompile(`(?i)\b(add(ed|ing)?|implement(ed|ing|ation)?|creat(e|ed|ing)|build(ing)?|built|wir(e|ed|ing)|introduc(e|ed|ing)|support(ed|ing)?)\b`)
)

// knowledgeTypes are observation types carrying curated knowledge.
var knowledgeTypes = map[string]bool{
	"constraint": true,
	"decision":   true,
	"heuristic":  true,
	"rejected":   true,
}

// Categorize returns the auto-category for the given fields. It never
// returns an empty string.
func Categorize(f Fields) string {
	blob := f.Title + " " + f.Text + " " + f.Narrative
	files := splitFiles(f.FilesRead)
	files = append(files, splitFiles(f.FilesModified)...)

	switch {
	case knowledgeTypes[f.Type]:
		return Planning
	case debugRe.MatchString(blob):
		return Debugging
	case anyFile(files, testFileRe) && f.Type == "file-write":
		return Testing
	case testWordRe.MatchString(f.Title):
		return Testing
	case anyFile(files, docFileRe) && f.Type == "file-write":
		return Documentation
	case docWordRe.MatchString(f.Title):
		return Documentation
	case anyFile(files, confFileRe):
		return Configuration
	case confWordRe.MatchString(f.Title):
		return Configuration
	case refacRe.MatchString(blob):
		return Refactoring
	case f.Type == "research" || f.Type == "delegation" || resrchRe.MatchString(f.Title):
		return Research
	case planRe.MatchString(f.Title):
		return Planning
	case (f.Type == "file-write" || f.Type == "command") && implRe.MatchString(blob):
		return Implementation
	default:
		return General
	}
}

func splitFiles(list string) []string {
	if list == "" {
		return nil
	}
	parts := strings.Split(list, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func anyFile(files []string, re *regexp.Regexp) bool {
	for _, f := range files {
		if re.MatchString(f) {
			return true
		}
	}
	return false
}

// IsKnowledgeType reports whether typ is one of the knowledge observation
// types.
func IsKnowledgeType(typ string) bool {
	return knowledgeTypes[strings.ToLower(typ)]
}

// KnowledgeTypes returns the knowledge type names.
func KnowledgeTypes() []string {
	return []string{"constraint", "decision", "heuristic", "rejected"}
}
