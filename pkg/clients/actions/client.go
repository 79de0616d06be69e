package actions

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// transientMarker identifies the server-side error class that is expected to
// resolve on a later attempt. The dispatch and runs endpoints occasionally
// answer with this instead of a well-formed error payload.
const transientMarker = "Server Error"

const defaultPerPage = 10

// ClientInterface defines the operations the correlator and poller need
// against the workflow control plane.
type ClientInterface interface {
	// DispatchWorkflow fires a workflow_dispatch event. The API answers 204
	// with an empty body and never returns the id of the run it creates.
	DispatchWorkflow(ctx context.Context, req *DispatchRequest) error

	// ListDispatchRuns returns recent workflow_dispatch runs of the target
	// workflow, most recent first.
	ListDispatchRuns(ctx context.Context, opts ListRunsOptions) ([]RunSummary, error)

	// GetRun fetches the current status and conclusion of a single run.
	GetRun(ctx context.Context, runID int64) (RunSummary, error)
}

// ClientConfig holds the settings of a Client.
type ClientConfig struct {
	Owner      string
	Repo       string
	WorkflowID string
	Token      string
	BaseURL    string
	HTTPClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*ClientConfig)

// WithTarget sets the repository and workflow the client operates on. The
// workflow identifier may be a file name ("ci.yml") or a numeric workflow id.
func WithTarget(owner, repo, workflowID string) ClientOption {
	return func(c *ClientConfig) {
		c.Owner = owner
		c.Repo = repo
		c.WorkflowID = workflowID
	}
}

// WithToken sets the bearer credential attached to every request.
func WithToken(token string) ClientOption {
	return func(c *ClientConfig) {
		c.Token = token
	}
}

// WithBaseURL overrides the API root, e.g. for GitHub Enterprise or tests.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *ClientConfig) {
		c.BaseURL = baseURL
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *ClientConfig) {
		c.HTTPClient = httpClient
	}
}

// Client talks to the GitHub Actions REST API for a single owner/repo/workflow
// target. It classifies failures as transient or fatal but never retries on
// its own; the enclosing discovery and poll loops re-invoke it after their
// sleep interval.
type Client struct {
	config     *ClientConfig
	gh         *github.Client
	workflowID int64 // parsed numeric form, 0 when WorkflowID is a file name
}

var _ ClientInterface = (*Client)(nil)

// NewClient creates a new Actions client with the given options.
func NewClient(options ...ClientOption) (*Client, error) {
	config := &ClientConfig{}
	for _, option := range options {
		option(config)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: config.Token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	gh := github.NewClient(httpClient)
	if config.BaseURL != "" {
		base := config.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		parsed, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid API base URL %q: %w", config.BaseURL, err)
		}
		gh.BaseURL = parsed
	}

	client := &Client{
		config: config,
		gh:     gh,
	}

	if id, err := strconv.ParseInt(config.WorkflowID, 10, 64); err == nil && id > 0 {
		client.workflowID = id
	}

	return client, nil
}

func (c *Client) DispatchWorkflow(ctx context.Context, req *DispatchRequest) error {
	event := github.CreateWorkflowDispatchEventRequest{
		Ref:    req.Ref,
		Inputs: req.Inputs,
	}

	var (
		resp *github.Response
		err  error
	)
	if c.workflowID > 0 {
		resp, err = c.gh.Actions.CreateWorkflowDispatchEventByID(ctx, c.config.Owner, c.config.Repo, c.workflowID, event)
	} else {
		resp, err = c.gh.Actions.CreateWorkflowDispatchEventByFileName(ctx, c.config.Owner, c.config.Repo, c.config.WorkflowID, event)
	}
	if err != nil {
		return c.wrapError(fmt.Sprintf("workflows/%s/dispatches", c.config.WorkflowID), resp, err)
	}

	log.Debug().
		Str("workflow", c.config.WorkflowID).
		Str("ref", req.Ref).
		Msg("Workflow dispatch accepted")

	return nil
}

func (c *Client) ListDispatchRuns(ctx context.Context, opts ListRunsOptions) ([]RunSummary, error) {
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}

	listOpts := &github.ListWorkflowRunsOptions{
		Event:               "workflow_dispatch",
		Actor:               opts.Actor,
		ExcludePullRequests: true,
		ListOptions:         github.ListOptions{PerPage: perPage},
	}
	if !opts.CreatedSince.IsZero() {
		listOpts.Created = ">=" + opts.CreatedSince.UTC().Format(time.RFC3339)
	}

	var (
		runs *github.WorkflowRuns
		resp *github.Response
		err  error
	)
	if c.workflowID > 0 {
		runs, resp, err = c.gh.Actions.ListWorkflowRunsByID(ctx, c.config.Owner, c.config.Repo, c.workflowID, listOpts)
	} else {
		runs, resp, err = c.gh.Actions.ListWorkflowRunsByFileName(ctx, c.config.Owner, c.config.Repo, c.config.WorkflowID, listOpts)
	}
	if err != nil {
		return nil, c.wrapError(fmt.Sprintf("workflows/%s/runs", c.config.WorkflowID), resp, err)
	}

	summaries := make([]RunSummary, 0, len(runs.WorkflowRuns))
	for _, run := range runs.WorkflowRuns {
		summaries = append(summaries, newRunSummary(run))
	}

	return summaries, nil
}

func (c *Client) GetRun(ctx context.Context, runID int64) (RunSummary, error) {
	run, resp, err := c.gh.Actions.GetWorkflowRunByID(ctx, c.config.Owner, c.config.Repo, runID)
	if err != nil {
		return RunSummary{}, c.wrapError(fmt.Sprintf("runs/%d", runID), resp, err)
	}

	return newRunSummary(run), nil
}

// APIError is a failed call against the control-plane API. Transient marks
// the recognized retryable server error class; everything else is fatal.
type APIError struct {
	Path       string
	StatusCode int
	Body       string
	Transient  bool
	err        error
}

func (e *APIError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s API error on %s (status %d): %s", kind, e.Path, e.StatusCode, e.Body)
}

func (e *APIError) Unwrap() error {
	return e.err
}

// IsTransient reports whether err is a recognized retryable server error.
func IsTransient(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Transient
}

func (c *Client) wrapError(path string, resp *github.Response, err error) error {
	apiErr := &APIError{
		Path: path,
		Body: err.Error(),
		err:  err,
	}
	if resp != nil {
		apiErr.StatusCode = resp.StatusCode
	}

	var (
		rateLimitErr  *github.RateLimitError
		abuseRateErr  *github.AbuseRateLimitError
		responseError *github.ErrorResponse
		urlErr        *url.Error
		netErr        net.Error
	)
	switch {
	case errors.As(err, &rateLimitErr), errors.As(err, &abuseRateErr):
		apiErr.Transient = true
	case errors.As(err, &responseError):
		apiErr.Body = responseError.Message
		if apiErr.Body == "" {
			apiErr.Body = err.Error()
		}
		apiErr.Transient = apiErr.StatusCode >= http.StatusInternalServerError ||
			strings.Contains(responseError.Message, transientMarker)
	case errors.As(err, &urlErr), errors.As(err, &netErr) && netErr.Timeout():
		// Transport-level failures (timeouts, connection resets, refused
		// connections) never carry an HTTP response; retrying later is the
		// only sensible recovery.
		apiErr.Transient = true
	}

	return apiErr
}
