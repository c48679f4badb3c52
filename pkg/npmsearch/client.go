// Package npmsearch searches the npm registry across multiple result
// pages at once and sorts the merged list client side, since the
// registry API only orders by relevance. Best effort, no retries.
package npmsearch

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	apperrors "agentdeck/pkg/errors"
)

const (
	DefaultRegistryUrl = "https://registry.npmjs.org"

	defaultPageSize    = 20
	defaultMaxPages    = 5
	maxConcurrentPages = 10
)

// SortBy orders the merged result set.
type SortBy string

const (
	SortByRelevance  SortBy = "relevance"
	SortByDownloads  SortBy = "downloads"
	SortByDate       SortBy = "date"
	SortByDependents SortBy = "dependents"
)

// Package is the flattened registry search entry the dashboard lists.
type Package struct {
	Name             string    `json:"name"`
	Version          string    `json:"version"`
	Description      string    `json:"description"`
	Author           string    `json:"author"`
	License          string    `json:"license"`
	DownloadsWeekly  int64     `json:"downloads_weekly"`
	DownloadsMonthly int64     `json:"downloads_monthly"`
	Dependents       int64     `json:"dependents"`
	LastPublish      time.Time `json:"last_publish"`
	Homepage         string    `json:"homepage"`
	Repository       string    `json:"repository"`
	Keywords         []string  `json:"keywords"`
	Quality          float64   `json:"quality_score"`
	Popularity       float64   `json:"popularity_score"`
	Maintenance      float64   `json:"maintenance_score"`
}

// SearchOptions bounds the page fan-out and selects the ordering.
type SearchOptions struct {
	MaxPages int
	PageSize int
	SortBy   SortBy
}

// registry /-/v1/search wire types.
type searchResponse struct {
	Objects []searchObject `json:"objects"`
	Total   int            `json:"total"`
}

type searchObject struct {
	Package struct {
		Name        string    `json:"name"`
		Version     string    `json:"version"`
		Description string    `json:"description"`
		License     string    `json:"license"`
		Date        time.Time `json:"date"`
		Keywords    []string  `json:"keywords"`
		Author      struct {
			Name string `json:"name"`
		} `json:"author"`
		Links struct {
			Homepage   string `json:"homepage"`
			Repository string `json:"repository"`
		} `json:"links"`
	} `json:"package"`
	Downloads struct {
		Weekly  int64 `json:"weekly"`
		Monthly int64 `json:"monthly"`
	} `json:"downloads"`
	Dependents int64 `json:"dependents"`
	Score      struct {
		Detail struct {
			Quality     float64 `json:"quality"`
			Popularity  float64 `json:"popularity"`
			Maintenance float64 `json:"maintenance"`
		} `json:"detail"`
	} `json:"score"`
}

type Client struct {
	http *resty.Client
}

func NewClient(registryUrl string, timeout time.Duration) *Client {
	if registryUrl == "" {
		registryUrl = DefaultRegistryUrl
	}
	return &Client{
		http: resty.New().
			SetBaseURL(registryUrl).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
	}
}

// Search fetches up to MaxPages result pages concurrently, flattens
// them in page order and applies the requested sort.
func (c *Client) Search(ctx context.Context, query string, opts SearchOptions) ([]Package, error) {
	if query == "" {
		return nil, apperrors.New(apperrors.CodeInvalidParams, "search query is required")
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = defaultMaxPages
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}

	// The first page also tells us how many pages exist at all.
	first, total, err := c.fetchPage(ctx, query, 0, opts.PageSize)
	if err != nil {
		return nil, err
	}

	pages := (total + opts.PageSize - 1) / opts.PageSize
	if pages > opts.MaxPages {
		pages = opts.MaxPages
	}

	results := make([][]Package, pages)
	if pages > 0 {
		results[0] = first
	} else {
		results = [][]Package{first}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPages)
	for page := 1; page < pages; page++ {
		page := page
		g.Go(func() error {
			packages, _, err := c.fetchPage(gctx, query, page*opts.PageSize, opts.PageSize)
			if err != nil {
				return err
			}
			results[page] = packages
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := lo.Flatten(results)
	sortPackages(merged, opts.SortBy)
	return merged, nil
}

func (c *Client) fetchPage(ctx context.Context, query string, from, size int) ([]Package, int, error) {
	var body searchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"text": query,
			"size": strconv.Itoa(size),
			"from": strconv.Itoa(from),
		}).
		SetResult(&body).
		Get("/-/v1/search")
	if err != nil {
		return nil, 0, apperrors.Wrap(apperrors.CodeNpmSearch, "npm search request failed", err)
	}
	if resp.IsError() {
		return nil, 0, apperrors.WrapWithDetail(apperrors.CodeNpmSearch, "npm search returned error", resp.Status(), nil)
	}

	packages := lo.Map(body.Objects, func(obj searchObject, _ int) Package {
		return Package{
			Name:             obj.Package.Name,
			Version:          obj.Package.Version,
			Description:      obj.Package.Description,
			Author:           obj.Package.Author.Name,
			License:          obj.Package.License,
			DownloadsWeekly:  obj.Downloads.Weekly,
			DownloadsMonthly: obj.Downloads.Monthly,
			Dependents:       obj.Dependents,
			LastPublish:      obj.Package.Date,
			Homepage:         obj.Package.Links.Homepage,
			Repository:       obj.Package.Links.Repository,
			Keywords:         obj.Package.Keywords,
			Quality:          obj.Score.Detail.Quality,
			Popularity:       obj.Score.Detail.Popularity,
			Maintenance:      obj.Score.Detail.Maintenance,
		}
	})
	return packages, body.Total, nil
}

// sortPackages orders the merged list; relevance keeps the registry's
// own order.
func sortPackages(packages []Package, by SortBy) {
	switch by {
	case SortByDownloads:
		sort.SliceStable(packages, func(i, j int) bool {
			return packages[i].DownloadsWeekly > packages[j].DownloadsWeekly
		})
	case SortByDate:
		sort.SliceStable(packages, func(i, j int) bool {
			return packages[i].LastPublish.After(packages[j].LastPublish)
		})
	case SortByDependents:
		sort.SliceStable(packages, func(i, j int) bool {
			return packages[i].Dependents > packages[j].Dependents
		})
	}
}
