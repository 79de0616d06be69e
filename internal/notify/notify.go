// Package notify posts a comment-style "downstream run started" message to
// a caller-supplied webhook URL. The notification is best-effort: transient
// failures are retried a few times, a final failure is logged and swallowed.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/rs/zerolog"
)

const (
	notifyAttempts = 3
	notifyDelay    = 2 * time.Second
	notifyTimeout  = 30 * time.Second
)

// Notifier posts notifications to a single webhook URL with a bearer token.
type Notifier struct {
	httpClient *http.Client
	url        string
	token      string
	delay      time.Duration
	logger     zerolog.Logger
}

// New creates a Notifier for the given webhook URL.
func New(url, token string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		httpClient: &http.Client{Timeout: notifyTimeout},
		url:        url,
		token:      token,
		delay:      notifyDelay,
		logger:     logger,
	}
}

// WithHTTPClient overrides the underlying HTTP client. Used by tests.
func (n *Notifier) WithHTTPClient(httpClient *http.Client) *Notifier {
	n.httpClient = httpClient
	return n
}

type commentBody struct {
	Body string `json:"body"`
}

// RunStarted announces the identified downstream run. Never returns a fatal
// condition to the caller; the run itself matters more than the comment.
func (n *Notifier) RunStarted(ctx context.Context, runURL string) {
	body := commentBody{
		Body: fmt.Sprintf("Triggered downstream workflow run: %s", runURL),
	}

	err := retry.Do(
		func() error {
			return n.post(ctx, body)
		},
		retry.Attempts(notifyAttempts),
		retry.Delay(n.delay),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.RetryIf(isRetryable),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			n.logger.Warn().Err(err).Uint("attempt", attempt+1).Msg("Downstream notification failed, retrying")
		}),
	)
	if err != nil {
		n.logger.Warn().Err(err).Str("url", n.url).Msg("Giving up on downstream notification")
		return
	}

	n.logger.Info().Str("url", n.url).Msg("Downstream notification delivered")
}

// statusError marks HTTP-level notification failures so the retry predicate
// can distinguish server-side errors from everything else.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("notification endpoint answered %d: %s", e.code, e.body)
}

func isRetryable(err error) bool {
	if statusErr, ok := err.(*statusError); ok {
		return statusErr.code >= http.StatusInternalServerError
	}
	// Transport-level failures (connection refused, timeouts) are retried.
	return true
}

func (n *Notifier) post(ctx context.Context, body commentBody) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal notification body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create notification request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &statusError{code: resp.StatusCode, body: string(raw)}
	}

	return nil
}
