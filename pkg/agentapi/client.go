// Package agentapi is the client for the remote agent-run service. A
// 404 from the service is the authoritative deletion signal and maps
// to CodeRunNotFound; every other failure is classified transient.
package agentapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"agentdeck/internal/types"
	apperrors "agentdeck/pkg/errors"
)

// API is the remote job contract the monitor and syncer consume.
type API interface {
	GetRun(ctx context.Context, organizationId, runId string) (*types.RunRecord, error)
	ListRuns(ctx context.Context, organizationId string) ([]types.RunRecord, error)
	CreateRun(ctx context.Context, organizationId string, req CreateRunRequest) (*types.RunRecord, error)
	ResumeRun(ctx context.Context, organizationId, runId string, req ResumeRunRequest) (*types.RunRecord, error)
	StopRun(ctx context.Context, organizationId, runId string) (*types.RunRecord, error)
}

// CreateRunRequest starts a new agent run.
type CreateRunRequest struct {
	Title          string `json:"title,omitempty"`
	Prompt         string `json:"prompt"`
	Repository     string `json:"repository,omitempty"`
	Branch         string `json:"branch,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ResumeRunRequest continues a paused or terminal run. The service
// answers with a new child run carrying a parent_run_id reference.
type ResumeRunRequest struct {
	Prompt string `json:"prompt,omitempty"`
}

// Client is the resty-backed API implementation.
type Client struct {
	http *resty.Client
}

func NewClient(baseUrl, apiKey string, timeout time.Duration) *Client {
	httpClient := resty.New().
		SetBaseURL(baseUrl).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if apiKey != "" {
		httpClient.SetAuthToken(apiKey)
	}
	return &Client{http: httpClient}
}

func (c *Client) GetRun(ctx context.Context, organizationId, runId string) (*types.RunRecord, error) {
	var run types.RunRecord
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&run).
		Get(fmt.Sprintf("/v1/organizations/%s/runs/%s", organizationId, runId))
	if err := classify(resp, err, runId); err != nil {
		return nil, err
	}
	normalize(&run)
	return &run, nil
}

func (c *Client) ListRuns(ctx context.Context, organizationId string) ([]types.RunRecord, error) {
	var runs []types.RunRecord
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&runs).
		Get(fmt.Sprintf("/v1/organizations/%s/runs", organizationId))
	if err := classify(resp, err, ""); err != nil {
		return nil, err
	}
	for i := range runs {
		normalize(&runs[i])
	}
	return runs, nil
}

func (c *Client) CreateRun(ctx context.Context, organizationId string, req CreateRunRequest) (*types.RunRecord, error) {
	var run types.RunRecord
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&run).
		Post(fmt.Sprintf("/v1/organizations/%s/runs", organizationId))
	if err := classify(resp, err, ""); err != nil {
		return nil, err
	}
	normalize(&run)
	return &run, nil
}

func (c *Client) ResumeRun(ctx context.Context, organizationId, runId string, req ResumeRunRequest) (*types.RunRecord, error) {
	var run types.RunRecord
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&run).
		Post(fmt.Sprintf("/v1/organizations/%s/runs/%s/resume", organizationId, runId))
	if err := classify(resp, err, runId); err != nil {
		return nil, err
	}
	normalize(&run)
	return &run, nil
}

func (c *Client) StopRun(ctx context.Context, organizationId, runId string) (*types.RunRecord, error) {
	var run types.RunRecord
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&run).
		Post(fmt.Sprintf("/v1/organizations/%s/runs/%s/stop", organizationId, runId))
	if err := classify(resp, err, runId); err != nil {
		return nil, err
	}
	normalize(&run)
	return &run, nil
}

func classify(resp *resty.Response, err error, runId string) error {
	if err != nil {
		return apperrors.Wrap(apperrors.CodeAgentTransient, "agent request failed", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return apperrors.WrapWithDetail(apperrors.CodeRunNotFound, "run not found", runId, nil)
	}
	if resp.IsError() {
		return apperrors.WrapWithDetail(apperrors.CodeAgentTransient, "agent returned error", resp.Status(), nil)
	}
	return nil
}

func normalize(run *types.RunRecord) {
	run.Status = types.NormalizeStatus(string(run.Status))
}
