package httpapi

import (
	"bufio"
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiromemory/internal/ingest"
)

// sseConn is a live /events subscription. A single goroutine feeds lines so
// consecutive nextEvent calls never fight over the body.
type sseConn struct {
	cancel context.CancelFunc
	resp   *http.Response
	lines  chan string
}

func openEvents(t *testing.T, a *testAPI) *sseConn {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.ts.URL+"/events", nil)
	require.NoError(t, err)

	resp, err := a.ts.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	conn := &sseConn{cancel: cancel, resp: resp, lines: make(chan string, 64)}
	t.Cleanup(conn.close)
	go func() {
		defer close(conn.lines)
		rd := bufio.NewReader(resp.Body)
		for {
			line, err := rd.ReadString('\n')
			if err != nil {
				return
			}
			select {
			case conn.lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	// The stream opens with a comment so proxies flush headers.
	select {
	case line := <-conn.lines:
		require.True(t, strings.HasPrefix(line, ":"))
	case <-time.After(5 * time.Second):
		t.Fatal("no opening comment on event stream")
	}
	return conn
}

func (c *sseConn) close() {
	c.cancel()
	c.resp.Body.Close()
}

// nextEvent reads frames until it sees the named event and returns its data
// line.
func (c *sseConn) nextEvent(t *testing.T, name string) string {
	t.Helper()
	deadline := time.After(5 * time.Second)
	current := ""
	for {
		select {
		case <-deadline:
			t.Fatalf("no %s event within deadline", name)
		case line, ok := <-c.lines:
			if !ok {
				t.Fatalf("stream closed before %s event", name)
			}
			line = strings.TrimRight(line, "\r\n")
			if rest, found := strings.CutPrefix(line, "event: "); found {
				current = rest
				continue
			}
			if rest, found := strings.CutPrefix(line, "data: "); found && current == name {
				return rest
			}
		}
	}
}

func TestEventsStreamDeliversObservationCreated(t *testing.T) {
	a := newTestAPI(t)
	conn := openEvents(t, a)

	var resp ingestResponse
	status := a.post(t, "/api/observations", ingest.Candidate{
		Project: "kiro", Type: "research", Title: "streamed row",
	}, &resp)
	require.Equal(t, http.StatusCreated, status)

	data := conn.nextEvent(t, "observation-created")
	assert.Contains(t, data, "streamed row")
}

func TestEventsStreamDeliversSessionLifecycle(t *testing.T) {
	a := newTestAPI(t)
	conn := openEvents(t, a)
	const sid = "sse-session"

	status := a.post(t, "/api/prompts", map[string]string{
		"content_session_id": sid,
		"project":            "kiro",
		"prompt_text":        "go",
	}, nil)
	require.Equal(t, http.StatusCreated, status)
	assert.Contains(t, conn.nextEvent(t, "session-started"), sid)

	status = a.post(t, "/api/sessions/complete", map[string]string{"content_session_id": sid}, nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, conn.nextEvent(t, "summary-created"))
	assert.Contains(t, conn.nextEvent(t, "session-completed"), sid)
}

func TestNotifyBroadcast(t *testing.T) {
	a := newTestAPI(t)
	conn := openEvents(t, a)

	var ack struct {
		Clients int `json:"clients"`
	}
	status := a.request(t, http.MethodPost, "/notify", testToken,
		map[string]any{"event": "toast", "data": map[string]string{"text": "hello"}}, &ack)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, ack.Clients)

	data := conn.nextEvent(t, "notify")
	assert.Contains(t, data, "toast")
	assert.Contains(t, data, "hello")
}

func TestStatsCountsEventClients(t *testing.T) {
	a := newTestAPI(t)
	openEvents(t, a)

	var body struct {
		SSEClients int `json:"sse_clients"`
	}
	require.Eventually(t, func() bool {
		a.get(t, "/api/stats", &body)
		return body.SSEClients == 1
	}, 2*time.Second, 20*time.Millisecond)
}
