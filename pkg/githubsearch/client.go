// Package githubsearch is a thin client for the GitHub repository
// search API, used by the dashboard's repository picker. Searches are
// best-effort: there is no retry or caching layer.
package githubsearch

import (
	"context"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	apperrors "agentdeck/pkg/errors"
)

const (
	DefaultBaseUrl = "https://api.github.com"

	defaultPerPage = 30
	maxPerPage     = 100
)

// Repository is the subset of the GitHub repository representation the
// dashboard renders.
type Repository struct {
	Id            int64     `json:"id"`
	FullName      string    `json:"full_name"`
	Description   string    `json:"description"`
	HtmlUrl       string    `json:"html_url"`
	DefaultBranch string    `json:"default_branch"`
	Language      string    `json:"language"`
	Stars         int       `json:"stargazers_count"`
	Forks         int       `json:"forks_count"`
	Private       bool      `json:"private"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// SearchResult is one page of repository matches.
type SearchResult struct {
	TotalCount   int          `json:"total_count"`
	Repositories []Repository `json:"items"`
}

// SearchOptions selects and orders a result page. Sort accepts the API
// values (stars, forks, updated); empty means best match.
type SearchOptions struct {
	Sort    string
	Order   string
	Page    int
	PerPage int
}

type Client struct {
	http *resty.Client
}

func NewClient(baseUrl, token string, timeout time.Duration) *Client {
	if baseUrl == "" {
		baseUrl = DefaultBaseUrl
	}
	httpClient := resty.New().
		SetBaseURL(baseUrl).
		SetTimeout(timeout).
		SetHeader("Accept", "application/vnd.github+json")
	if token != "" {
		httpClient.SetAuthToken(token)
	}
	return &Client{http: httpClient}
}

// SearchRepositories runs one page of the repository search.
func (c *Client) SearchRepositories(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error) {
	if query == "" {
		return nil, apperrors.New(apperrors.CodeInvalidParams, "search query is required")
	}
	if opts.Page <= 0 {
		opts.Page = 1
	}
	if opts.PerPage <= 0 {
		opts.PerPage = defaultPerPage
	}
	if opts.PerPage > maxPerPage {
		opts.PerPage = maxPerPage
	}

	params := map[string]string{
		"q":        query,
		"page":     strconv.Itoa(opts.Page),
		"per_page": strconv.Itoa(opts.PerPage),
	}
	if opts.Sort != "" {
		params["sort"] = opts.Sort
	}
	if opts.Order != "" {
		params["order"] = opts.Order
	}

	var result SearchResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&result).
		Get("/search/repositories")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeGithubSearch, "github search request failed", err)
	}
	if resp.IsError() {
		return nil, apperrors.WrapWithDetail(apperrors.CodeGithubSearch, "github search returned error", resp.Status(), nil)
	}
	return &result, nil
}
