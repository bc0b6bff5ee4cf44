// Package tooladapter serves the agent-facing tool protocol over stdio:
// length-framed JSON-RPC requests in, framed responses out. It is a
// stateless proxy; every tool resolves to one or two worker HTTP calls and
// renders the result as a single Markdown text block.
package tooladapter

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"kiromemory/internal/logging"
	"kiromemory/internal/version"
)

// protocolVersion is the tool protocol revision the adapter speaks.
const protocolVersion = "2024-11-05"

// JSON-RPC error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// textContent is the single Markdown block every tool returns.
type textContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type callResult struct {
	Content []textContent `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

// Adapter dispatches framed JSON-RPC requests to the registered tools.
type Adapter struct {
	client *Client
	tools  []tool
	byName map[string]tool
	log    *zap.SugaredLogger
}

// New builds an adapter around the given worker client with the full tool
// table registered.
func New(c *Client) *Adapter {
	a := &Adapter{
		client: c,
		byName: map[string]tool{},
		log:    logging.Get(logging.CategoryTool),
	}
	for _, t := range a.toolTable() {
		a.tools = append(a.tools, t)
		a.byName[t.name] = t
	}
	return a
}

// Serve reads framed requests from in until EOF, writing one framed response
// per request. Notifications (requests without an id) get no response. A
// framing error is unrecoverable and ends the loop.
func (a *Adapter) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	r := bufio.NewReader(in)
	for {
		payload, err := readFrame(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("tool stream broken: %w", err)
		}
		resp := a.dispatch(ctx, payload)
		if resp == nil {
			continue
		}
		data, err := json.Marshal(resp)
		if err != nil {
			return fmt.Errorf("encoding response: %w", err)
		}
		if err := writeFrame(out, data); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
}

// dispatch handles one raw message and returns the response to send, or nil
// for notifications.
func (a *Adapter) dispatch(ctx context.Context, payload []byte) *response {
	var req request
	if err := json.Unmarshal(payload, &req); err != nil {
		return errorResponse(nil, codeParseError, "request is not valid JSON")
	}
	if req.Method == "" {
		return errorResponse(req.ID, codeInvalidRequest, "request has no method")
	}
	if len(req.ID) == 0 {
		// Notification; nothing expects an answer.
		a.log.Debugw("notification ignored", "method", req.Method)
		return nil
	}

	switch req.Method {
	case "initialize":
		return okResponse(req.ID, map[string]any{
			"protocolVersion": protocolVersion,
			"serverInfo": map[string]string{
				"name":    "kiro-memory",
				"version": version.Version,
			},
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
		})
	case "ping":
		return okResponse(req.ID, map[string]any{})
	case "tools/list":
		return okResponse(req.ID, map[string]any{"tools": a.describeTools()})
	case "tools/call":
		return a.handleCall(ctx, req)
	default:
		return errorResponse(req.ID, codeMethodNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}
}

func (a *Adapter) handleCall(ctx context.Context, req request) *response {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return errorResponse(req.ID, codeInvalidParams, "tools/call needs a tool name")
	}
	t, ok := a.byName[params.Name]
	if !ok {
		return errorResponse(req.ID, codeInvalidParams, fmt.Sprintf("unknown tool %q", params.Name))
	}

	md, err := t.run(ctx, params.Arguments)
	if err != nil {
		a.log.Warnw("tool call failed", "tool", params.Name, "error", err)
		return okResponse(req.ID, callResult{
			Content: []textContent{{Type: "text", Text: "Error: " + err.Error()}},
			IsError: true,
		})
	}
	return okResponse(req.ID, callResult{
		Content: []textContent{{Type: "text", Text: md}},
	})
}

type toolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

func (a *Adapter) describeTools() []toolInfo {
	out := make([]toolInfo, 0, len(a.tools))
	for _, t := range a.tools {
		out = append(out, toolInfo{Name: t.name, Description: t.description, InputSchema: t.schema})
	}
	return out
}

func okResponse(id json.RawMessage, result any) *response {
	return &response{JSONRPC: "2.0", ID: id, Result: result}
}

func errorResponse(id json.RawMessage, code int, msg string) *response {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}}
}
