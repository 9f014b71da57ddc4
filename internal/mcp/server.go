// Package mcp exposes a search session as Model Context Protocol tools. Each
// tool drives the session's governor and answers with the resulting view state.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/staleguard/internal/criteria"
	"github.com/standardbeagle/staleguard/internal/debug"
	"github.com/standardbeagle/staleguard/internal/governor"
	"github.com/standardbeagle/staleguard/internal/session"
	"github.com/standardbeagle/staleguard/internal/version"
)

const (
	// DefaultWait is how long a tool waits for an issued request to settle
	DefaultWait = 10 * time.Second
	// MaxWait caps a caller-supplied wait_ms
	MaxWait = 60 * time.Second

	dateLayout = "2006-01-02"
)

// Options configures the tool server
type Options struct {
	// Name overrides the implementation name announced to clients
	Name string
	// Wait is the default settle wait; zero uses DefaultWait
	Wait time.Duration
}

// Server registers the governor tools on an MCP server
type Server struct {
	session *session.Session
	server  *mcp.Server
	wait    time.Duration
}

// SearchParams are the arguments of the search tool. Query accepts the
// criteria line syntax; the structured fields are merged on top of it.
type SearchParams struct {
	Query      string            `json:"query"`
	Folder     string            `json:"folder,omitempty"`
	Preview    []string          `json:"preview,omitempty"`
	Aspects    []string          `json:"aspects,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	After      string            `json:"after,omitempty"`
	Before     string            `json:"before,omitempty"`
	SizeMin    string            `json:"size_min,omitempty"`
	SizeMax    string            `json:"size_max,omitempty"`
	WaitMs     *int              `json:"wait_ms,omitempty"`
}

// WaitParams is shared by the tools that may issue a request
type WaitParams struct {
	WaitMs *int `json:"wait_ms,omitempty"`
}

// StateParams are the arguments of the state tool
type StateParams struct {
	Attempts bool `json:"attempts,omitempty"`
}

// NewServer creates the tool server over sess. The caller keeps ownership of sess.
func NewServer(sess *session.Session, opts Options) *Server {
	name := opts.Name
	if name == "" {
		name = "staleguard"
	}
	wait := opts.Wait
	if wait <= 0 {
		wait = DefaultWait
	}
	s := &Server{
		session: sess,
		server:  mcp.NewServer(&mcp.Implementation{Name: name, Version: version.Version}, nil),
		wait:    wait,
	}
	s.registerTools()
	return s
}

// MCPServer returns the underlying protocol server
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

// Run serves the tools over stdio until ctx is done or the client disconnects.
// Debug output is silenced so stdout stays a clean protocol stream.
func (s *Server) Run(ctx context.Context) error {
	debug.SetMCPMode(true)
	debug.LogMCP("serving session %s over stdio", s.session.ID())
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

var waitSchema = &jsonschema.Schema{
	Type:        "integer",
	Description: "Milliseconds to wait for the issued request to settle (default 10000, 0 returns immediately)",
}

func (s *Server) registerTools() {
	s.server.AddTool(&mcp.Tool{
		Name: "search",
		Description: "Run a search. When it comes back empty right after a write, the previous results stay visible " +
			"while the query is retried on a 1.5s/3s/6s backoff. The returned view says which results are current " +
			"(results) and which are a fallback (stale).",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"query": {
					Type:        "string",
					Description: "Free text plus optional filters: folder:/path preview:ready aspect:text prop:ext=md after:2024-01-01 before:2024-12-31 size:>10KB size:<2MB",
				},
				"folder":     {Type: "string", Description: "Folder scope; a prefix, or a glob when it contains * ? [ or {"},
				"preview":    {Type: "array", Items: &jsonschema.Schema{Type: "string"}, Description: "Accepted preview statuses"},
				"aspects":    {Type: "array", Items: &jsonschema.Schema{Type: "string"}, Description: "Aspects every result must carry"},
				"properties": {Type: "object", AdditionalProperties: &jsonschema.Schema{Type: "string"}, Description: "Exact property matches"},
				"after":      {Type: "string", Description: "Created on or after YYYY-MM-DD"},
				"before":     {Type: "string", Description: "Created before YYYY-MM-DD"},
				"size_min":   {Type: "string", Description: "Minimum size, e.g. 10KB"},
				"size_max":   {Type: "string", Description: "Maximum size, e.g. 2MB"},
				"wait_ms":    waitSchema,
			},
		},
	}, s.handleSearch)

	s.server.AddTool(&mcp.Tool{
		Name:        "hide",
		Description: "Hide the stale fallback results for the current query. Retries continue in the background.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.command("hide", s.session.Hide, false))

	s.server.AddTool(&mcp.Tool{
		Name:        "reveal",
		Description: "Show stale fallback results that were hidden for the current query.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.command("reveal", s.session.Reveal, false))

	s.server.AddTool(&mcp.Tool{
		Name:        "retry",
		Description: "Retry the current empty query now instead of waiting for the next scheduled attempt.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{"wait_ms": waitSchema},
		},
	}, s.command("retry", s.session.RetryNow, true))

	s.server.AddTool(&mcp.Tool{
		Name:        "retry_error",
		Description: "Re-issue the search behind the current error alert once.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{"wait_ms": waitSchema},
		},
	}, s.command("retry_error", s.session.RetryError, true))

	s.server.AddTool(&mcp.Tool{
		Name:        "dismiss_error",
		Description: "Dismiss the current error alert.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.command("dismiss_error", s.session.DismissError, false))

	s.server.AddTool(&mcp.Tool{
		Name:        "state",
		Description: "Return the current view state without issuing a request.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"attempts": {Type: "boolean", Description: "Include the attempt log of the current query"},
			},
		},
	}, s.handleState)
}

func (s *Server) handleSearch(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params SearchParams
	if err := unmarshalArgs(req, &params); err != nil {
		return createErrorResponse("search", fmt.Errorf("invalid parameters: %w", err))
	}
	c, err := params.Criteria()
	if err != nil {
		return createErrorResponse("search", err)
	}

	if err := s.session.Submit(c); err != nil {
		return createErrorResponse("search", err)
	}
	fp := c.Fingerprint()
	debug.LogMCP("search %s submitted", fp)

	view, settled, err := s.settle(ctx, params.WaitMs, func(v governor.ViewState) bool {
		return v.Fingerprint == fp && !v.Loading
	})
	if err != nil {
		return createErrorResponse("search", err)
	}
	return createJSONResponse(ToolResponse{
		Session: s.session.ID(),
		Command: "search",
		View:    view,
		Settled: settled,
	})
}

// command adapts a session command to a tool handler. Commands that may issue
// a request wait for it to settle.
func (s *Server) command(name string, f func() bool, waits bool) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var params WaitParams
		if err := unmarshalArgs(req, &params); err != nil {
			return createErrorResponse(name, fmt.Errorf("invalid parameters: %w", err))
		}

		applied := f()
		debug.LogMCP("%s applied=%v", name, applied)

		view, settled := s.session.View(), true
		if applied && waits {
			var err error
			view, settled, err = s.settle(ctx, params.WaitMs, func(v governor.ViewState) bool {
				return !v.Loading
			})
			if err != nil {
				return createErrorResponse(name, err)
			}
		}
		return createJSONResponse(ToolResponse{
			Session: s.session.ID(),
			Command: name,
			Applied: &applied,
			View:    view,
			Settled: settled && !view.Loading,
		})
	}
}

func (s *Server) handleState(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var params StateParams
	if err := unmarshalArgs(req, &params); err != nil {
		return createErrorResponse("state", fmt.Errorf("invalid parameters: %w", err))
	}
	view := s.session.View()
	resp := ToolResponse{
		Session: s.session.ID(),
		Command: "state",
		View:    view,
		Settled: !view.Loading,
	}
	if params.Attempts {
		resp.Attempts = attemptInfos(s.session.Attempts())
	}
	return createJSONResponse(resp)
}

// settle waits for pred within the requested budget. A passed deadline is not
// an error: the view is returned as it stands.
func (s *Server) settle(ctx context.Context, waitMs *int, pred func(governor.ViewState) bool) (governor.ViewState, bool, error) {
	wait := s.wait
	if waitMs != nil {
		wait = time.Duration(*waitMs) * time.Millisecond
	}
	if wait > MaxWait {
		wait = MaxWait
	}
	if wait <= 0 {
		v := s.session.View()
		return v, pred(v), nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	v, err := s.session.WaitFor(waitCtx, pred)
	switch {
	case err == nil:
		return v, true, nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return v, false, nil
	default:
		return v, false, err
	}
}

func unmarshalArgs(req *mcp.CallToolRequest, v any) error {
	if req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	return json.Unmarshal(req.Params.Arguments, v)
}

// Criteria builds the search criteria: the parsed query line, overlaid with
// the structured fields.
func (p SearchParams) Criteria() (criteria.Criteria, error) {
	c, err := criteria.Parse(p.Query)
	if err != nil {
		return criteria.Criteria{}, err
	}
	f := &c.Filters
	if p.Folder != "" {
		f.Folder = p.Folder
	}
	f.PreviewStatus = append(f.PreviewStatus, p.Preview...)
	f.Aspects = append(f.Aspects, p.Aspects...)
	if len(p.Properties) > 0 {
		if f.Properties == nil {
			f.Properties = make(map[string]string, len(p.Properties))
		}
		for k, v := range p.Properties {
			f.Properties[k] = v
		}
	}
	if p.After != "" {
		t, err := time.Parse(dateLayout, p.After)
		if err != nil {
			return criteria.Criteria{}, fmt.Errorf("invalid after date %q: %w", p.After, err)
		}
		f.Created.From = t
	}
	if p.Before != "" {
		t, err := time.Parse(dateLayout, p.Before)
		if err != nil {
			return criteria.Criteria{}, fmt.Errorf("invalid before date %q: %w", p.Before, err)
		}
		f.Created.To = t
	}
	if p.SizeMin != "" {
		n, err := criteria.ParseSize(p.SizeMin)
		if err != nil {
			return criteria.Criteria{}, err
		}
		f.Size.Min = n
	}
	if p.SizeMax != "" {
		n, err := criteria.ParseSize(p.SizeMax)
		if err != nil {
			return criteria.Criteria{}, err
		}
		f.Size.Max = n
	}
	return c.Normalize(), nil
}
