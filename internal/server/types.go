package server

import (
	"time"

	"github.com/standardbeagle/staleguard/internal/criteria"
	"github.com/standardbeagle/staleguard/internal/index"
)

// RPC request/response types for client-server communication

// IndexStatus represents the current status of the index
type IndexStatus struct {
	Ready          bool      `json:"ready"`
	IndexingActive bool      `json:"indexing_active"`
	Root           string    `json:"root"`
	Documents      int       `json:"documents"`
	Pending        int       `json:"pending"`
	Terms          int       `json:"terms"`
	Commits        int       `json:"commits"`
	LastCommit     time.Time `json:"last_commit,omitempty"`
	Watching       bool      `json:"watching"`
	Error          string    `json:"error,omitempty"`
}

// SearchRequest carries the criteria of one search
type SearchRequest struct {
	Criteria criteria.Criteria `json:"criteria"`
}

// PutRequest upserts documents; they become searchable after the next commit
type PutRequest struct {
	Documents []index.Document `json:"documents"`
}

// PutResponse lists the IDs of the staged documents, in request order
type PutResponse struct {
	IDs []string `json:"ids"`
}

// DeleteResponse confirms a staged delete
type DeleteResponse struct {
	ID string `json:"id"`
}

// CommitResponse reports how many staged writes were applied
type CommitResponse struct {
	Committed int `json:"committed"`
}

// ShutdownRequest requests server shutdown
type ShutdownRequest struct {
	Force bool `json:"force,omitempty"`
}

// ShutdownResponse confirms shutdown
type ShutdownResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// PingResponse confirms server is alive
type PingResponse struct {
	Uptime  float64 `json:"uptime_seconds"`
	Version string  `json:"version"`
	BuildID string  `json:"build_id"`
	PID     int     `json:"pid"`
}

// ReindexResponse confirms re-indexing started
type ReindexResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
