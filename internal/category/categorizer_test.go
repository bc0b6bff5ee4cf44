package category

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		f    Fields
		want string
	}{
		{
			"knowledge decision",
			Fields{Type: "decision", Title: "Use esbuild"},
			Planning,
		},
		{
			"debugging beats implementation",
			Fields{Type: "file-write", Title: "Fix crash in parser", Text: "added nil check"},
			Debugging,
		},
		{
			"test file write",
			Fields{Type: "file-write", Title: "Update parser cases", FilesModified: "internal/parser/parser_test.go"},
			Testing,
		},
		{
			"test word in title",
			Fields{Type: "command", Title: "Run coverage for store"},
			Testing,
		},
		{
			"documentation file",
			Fields{Type: "file-write", Title: "Expand usage section", FilesModified: "docs/usage.md"},
			Documentation,
		},
		{
			"configuration file",
			Fields{Type: "file-read", Title: "Inspect service ports", FilesRead: "deploy/compose.yaml"},
			Configuration,
		},
		{
			"refactoring",
			Fields{Type: "file-write", Title: "Extract retry helper", Text: "moved shared code"},
			Refactoring,
		},
		{
			"research type",
			Fields{Type: "research", Title: "JWT expiry behavior"},
			Research,
		},
		{
			"delegation type",
			Fields{Type: "delegation", Title: "Ask subagent for API docs"},
			Research,
		},
		{
			"planning title",
			Fields{Type: "file-read", Title: "Roadmap for q3 storage work"},
			Planning,
		},
		{
			"implementation",
			Fields{Type: "file-write", Title: "Add cursor pagination", Text: "implemented keyset queries"},
			Implementation,
		},
		{
			"fallthrough general",
			Fields{Type: "file-read", Title: "Open main.go"},
			General,
		},
		{
			"empty fields",
			Fields{},
			General,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.f))
		})
	}
}

func TestCategorizeAlwaysReturnsKnownCategory(t *testing.T) {
	known := map[string]bool{}
	for _, c := range All {
		known[c] = true
	}
	inputs := []Fields{
		{Type: "command", Title: "ls -la"},
		{Type: "constraint", Title: "Never write to prod"},
		{Type: "file-write", FilesModified: "a.go,b.go"},
	}
	for _, f := range inputs {
		assert.True(t, known[Categorize(f)])
	}
}

func TestIsKnowledgeType(t *testing.T) {
	for _, typ := range KnowledgeTypes() {
		assert.True(t, IsKnowledgeType(typ))
	}
	assert.True(t, IsKnowledgeType("Decision"))
	assert.False(t, IsKnowledgeType("file-read"))
	assert.False(t, IsKnowledgeType(""))
}
