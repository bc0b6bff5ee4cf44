// Package secrets removes credential material from observation text before it
// reaches storage. Redaction keeps the first four characters of each match so
// a human can still recognize which credential leaked.
package secrets

import (
	"regexp"
	"strings"
)

const marker = "***REDACTED***"

// rule pairs a pattern with the submatch index holding the secret.
// group 0 redacts the whole match.
type rule struct {
	name  string
	re    *regexp.Regexp
	group int
}

var rules = []rule{
	{"aws-access-key", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`), 0},
	{"github-token", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,255}\b`), 0},
	{"github-pat", regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{22,255}\b`), 0},
	{"slack-token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,250}\b`), 0},
	{"openai-key", regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}\b`), 0},
	{"google-key", regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`), 0},
	{"npm-token", regexp.MustCompile(`\bnpm_[A-Za-z0-9]{36}\b`), 0},
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{6,}`), 0},
	{"private-key", regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`), 0},
	{"bearer", regexp.MustCompile(`(?i)\bbearer\s+([A-Za-z0-9_\-.=]{16,})`), 1},
	{"connection-url", regexp.MustCompile(`(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqps?)://[^:/\s]+:([^@\s]+)@`), 1},
	{"assignment", regexp.MustCompile(`(?i)\b(?:api[_-]?key|apikey|access[_-]?key|secret[_-]?key|client[_-]?secret|auth[_-]?token|api[_-]?token|private[_-]?key|password|passwd|secret|token)["']?\s*[:=]\s*["']?([A-Za-z0-9_\-./+]{8,})`), 1},
}

// Redact replaces every recognized credential in s, preserving the first four
// characters of the secret. Text with no matches is returned unchanged.
func Redact(s string) string {
	if s == "" {
		return s
	}
	for _, r := range rules {
		s = applyRule(s, r)
	}
	return s
}

// RedactAll redacts a set of fields in place and reports whether anything
// changed.
func RedactAll(fields ...*string) bool {
	changed := false
	for _, f := range fields {
		if f == nil {
			continue
		}
		out := Redact(*f)
		if out != *f {
			*f = out
			changed = true
		}
	}
	return changed
}

func applyRule(s string, r rule) string {
	matches := r.re.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if r.group > 0 {
			start, end = m[2*r.group], m[2*r.group+1]
		}
		if start < 0 || start < last {
			continue
		}
		secret := s[start:end]
		keep := secret
		if len(keep) > 4 {
			keep = keep[:4]
		}
		b.WriteString(s[last:start])
		b.WriteString(keep)
		b.WriteString(marker)
		last = end
	}
	b.WriteString(s[last:])
	return b.String()
}
