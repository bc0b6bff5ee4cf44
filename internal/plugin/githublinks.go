package plugin

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"kiromemory/internal/store"
	"kiromemory/internal/version"
)

var (
	// issueRef matches `owner/repo#123`, optionally led by a closing verb.
	issueRef = regexp.MustCompile(`(?i)\b(?:(fixes|closes|resolves)\s+)?([a-z0-9][a-z0-9._-]*/[a-z0-9][a-z0-9._-]*)#(\d+)`)
	// issueURL matches full github.com issue and pull request URLs.
	issueURL = regexp.MustCompile(`https://github\.com/([a-zA-Z0-9][a-zA-Z0-9._-]*/[a-zA-Z0-9][a-zA-Z0-9._-]*)/(?:issues|pull)/(\d+)`)
)

// GithubLinks is the builtin plugin that mines observation text for GitHub
// issue and pull request references and records them as link rows.
type GithubLinks struct {
	st *store.Store
}

// NewGithubLinks returns the unregistered builtin.
func NewGithubLinks() *GithubLinks { return &GithubLinks{} }

func (g *GithubLinks) Name() string    { return "github-links" }
func (g *GithubLinks) Version() string { return version.Version }

func (g *GithubLinks) Init(ctx context.Context, api *API) error {
	if api == nil || api.Store == nil {
		return fmt.Errorf("github-links needs store access")
	}
	g.st = api.Store
	return nil
}

func (g *GithubLinks) Destroy(ctx context.Context) error {
	g.st = nil
	return nil
}

// OnObservation extracts references from the observation's text fields. Each
// distinct repo#number pair becomes one github_links row.
func (g *GithubLinks) OnObservation(ctx context.Context, o *store.Observation) error {
	if g.st == nil || o == nil {
		return nil
	}
	text := strings.Join([]string{o.Title, o.Subtitle, o.Narrative, o.Text}, "\n")
	links := extractLinks(text)
	for _, l := range links {
		l.ObservationID = o.ID
		if _, err := g.st.InsertGithubLink(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// extractLinks collects distinct references, URL matches first so a pull
// request URL wins over the same pair spelled as a bare ref.
func extractLinks(text string) []store.GithubLink {
	seen := map[string]bool{}
	var out []store.GithubLink

	for _, m := range issueURL.FindAllStringSubmatch(text, -1) {
		repo, num := m[1], mustAtoi(m[2])
		key := fmt.Sprintf("%s#%d", repo, num)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, store.GithubLink{
			Repo:   repo,
			Number: num,
			Action: "mentions",
			URL:    m[0],
		})
	}

	for _, m := range issueRef.FindAllStringSubmatch(text, -1) {
		verb, repo, num := m[1], m[2], mustAtoi(m[3])
		key := fmt.Sprintf("%s#%d", repo, num)
		if seen[key] {
			continue
		}
		seen[key] = true
		action := "mentions"
		if verb != "" {
			action = strings.ToLower(verb)
		}
		out = append(out, store.GithubLink{
			Repo:   repo,
			Number: num,
			Action: action,
			URL:    fmt.Sprintf("https://github.com/%s/issues/%d", repo, num),
		})
	}
	return out
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
