package mcp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/staleguard/internal/governor"
	"github.com/standardbeagle/staleguard/internal/scheduler"
)

// ToolResponse is the body every governor tool returns
type ToolResponse struct {
	Session string             `json:"session"`
	Command string             `json:"command,omitempty"`
	Applied *bool              `json:"applied,omitempty"`
	View    governor.ViewState `json:"view"`
	// Settled is false when the wait deadline passed with a request still in flight
	Settled  bool          `json:"settled"`
	Attempts []AttemptInfo `json:"attempts,omitempty"`
}

// AttemptInfo is the wire form of scheduler.AttemptRecord
type AttemptInfo struct {
	Attempt     int        `json:"attempt"`
	Outcome     string     `json:"outcome"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	FiredAt     *time.Time `json:"fired_at,omitempty"`
}

func attemptInfos(records []scheduler.AttemptRecord) []AttemptInfo {
	out := make([]AttemptInfo, 0, len(records))
	for _, r := range records {
		out = append(out, AttemptInfo{
			Attempt:     r.Attempt,
			Outcome:     r.Outcome.String(),
			ScheduledAt: timePtr(r.ScheduledAt),
			DueAt:       timePtr(r.DueAt),
			FiredAt:     timePtr(r.FiredAt),
		})
	}
	return out
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// createJSONResponse creates a standardized JSON response for MCP tools
func createJSONResponse(data interface{}) (*mcp.CallToolResult, error) {
	content, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response data: %v", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(content)},
		},
	}, nil
}

// createErrorResponse reports a tool failure inside the result with IsError
// set, so the caller sees it instead of a protocol-level error.
func createErrorResponse(operation string, err error) (*mcp.CallToolResult, error) {
	errorData := map[string]interface{}{
		"success":   false,
		"error":     err.Error(),
		"operation": operation,
	}
	if help, ok := operationHelp[operation]; ok {
		errorData["help"] = help
	}

	response, marshalErr := createJSONResponse(errorData)
	if marshalErr != nil {
		return nil, marshalErr
	}
	response.IsError = true
	return response, nil
}

var operationHelp = map[string]string{
	"search": `Use {"query": "annual report folder:/finance size:>10KB"} or structured fields such as {"query": "report", "folder": "/finance", "aspects": ["text"]}`,
}
