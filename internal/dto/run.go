package dto

import (
	"agentdeck/internal/cache"
	"agentdeck/internal/types"
)

// CreateRunReq starts a new agent run in an organization.
type CreateRunReq struct {
	Title      string `json:"title"`
	Prompt     string `json:"prompt" binding:"required"`
	Repository string `json:"repository"`
	Branch     string `json:"branch"`
}

// ResumeRunReq continues a paused or finished run with an optional
// follow-up prompt.
type ResumeRunReq struct {
	Prompt string `json:"prompt"`
}

// ListRunsResData is the cached view of an organization's runs plus
// the state of its last reconciliation.
type ListRunsResData struct {
	Runs      []types.RunRecord `json:"runs"`
	SyncState cache.SyncState   `json:"sync_state"`
}

// GithubSearchReq is the repository search passthrough query.
type GithubSearchReq struct {
	Query   string `form:"q" binding:"required"`
	Sort    string `form:"sort"`
	Order   string `form:"order"`
	Page    int    `form:"page"`
	PerPage int    `form:"per_page"`
}

// NpmSearchReq is the package search passthrough query.
type NpmSearchReq struct {
	Query    string `form:"q" binding:"required"`
	SortBy   string `form:"sort"`
	MaxPages int    `form:"pages"`
}
