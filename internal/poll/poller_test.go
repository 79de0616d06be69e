package poll

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runbridge/runbridge/internal/outputs"
	"github.com/runbridge/runbridge/pkg/clients/actions"
)

// fakeClient scripts GetRun responses; each call consumes the next entry,
// the last entry repeats once the script runs out.
type fakeClient struct {
	responses []runResponse
	calls     int
}

type runResponse struct {
	run actions.RunSummary
	err error
}

func (f *fakeClient) DispatchWorkflow(ctx context.Context, req *actions.DispatchRequest) error {
	return errors.New("not used")
}

func (f *fakeClient) ListDispatchRuns(ctx context.Context, opts actions.ListRunsOptions) ([]actions.RunSummary, error) {
	return nil, errors.New("not used")
}

func (f *fakeClient) GetRun(ctx context.Context, runID int64) (actions.RunSummary, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	resp := f.responses[idx]
	return resp.run, resp.err
}

func running(status actions.Status) runResponse {
	return runResponse{run: actions.RunSummary{ID: 202, Status: status}}
}

func concluded(conclusion actions.Conclusion) runResponse {
	return runResponse{run: actions.RunSummary{ID: 202, Status: actions.StatusCompleted, Conclusion: conclusion}}
}

func newPoller(client actions.ClientInterface, out *outputs.Writer, sleeps *[]time.Duration, firstWait time.Duration) *Poller {
	sleep := func(d time.Duration) {
		if sleeps != nil {
			*sleeps = append(*sleeps, d)
		}
	}

	return New(client, Config{
		Interval:  10 * time.Second,
		FirstWait: firstWait,
		Sleep:     sleep,
		Outputs:   out,
		Logger:    zerolog.Nop(),
	})
}

func TestPoller_Wait_EmitsOneProgressRecordPerTick(t *testing.T) {
	client := &fakeClient{
		responses: []runResponse{
			running(actions.StatusInProgress),
			running(actions.StatusInProgress),
			concluded(actions.ConclusionSuccess),
		},
	}

	var buf bytes.Buffer
	result, err := newPoller(client, outputs.NewWithWriter(&buf), nil, 0).Wait(context.Background(), 202)
	require.NoError(t, err)

	assert.True(t, result.Succeeded())
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, actions.ConclusionSuccess, result.Conclusion)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "conclusion=", lines[0])
	assert.Equal(t, "conclusion=", lines[1])
	assert.Equal(t, "conclusion=success", lines[2])
}

func TestPoller_Wait_FailureConclusion(t *testing.T) {
	client := &fakeClient{
		responses: []runResponse{concluded(actions.ConclusionFailure)},
	}

	result, err := newPoller(client, nil, nil, 0).Wait(context.Background(), 202)
	require.NoError(t, err)

	assert.False(t, result.Succeeded())
	assert.Equal(t, actions.ConclusionFailure, result.Conclusion)
}

func TestPoller_Wait_CompletedWithoutConclusionKeepsPolling(t *testing.T) {
	client := &fakeClient{
		responses: []runResponse{
			// The API can briefly report completed before the conclusion
			// materializes; that is not a terminal observation yet.
			running(actions.StatusCompleted),
			concluded(actions.ConclusionSuccess),
		},
	}

	result, err := newPoller(client, nil, nil, 0).Wait(context.Background(), 202)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)
}

func TestPoller_Wait_AbsorbsTransientErrors(t *testing.T) {
	client := &fakeClient{
		responses: []runResponse{
			{err: &actions.APIError{Path: "runs/202", StatusCode: 500, Transient: true}},
			concluded(actions.ConclusionSuccess),
		},
	}

	var buf bytes.Buffer
	result, err := newPoller(client, outputs.NewWithWriter(&buf), nil, 0).Wait(context.Background(), 202)
	require.NoError(t, err)

	assert.True(t, result.Succeeded())
	// The failed fetch is not a poll observation: no progress record for it.
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, "conclusion=success\n", buf.String())
}

func TestPoller_Wait_FatalErrorAborts(t *testing.T) {
	client := &fakeClient{
		responses: []runResponse{
			{err: &actions.APIError{Path: "runs/202", StatusCode: 404}},
		},
	}

	_, err := newPoller(client, nil, nil, 0).Wait(context.Background(), 202)
	require.Error(t, err)

	var apiErr *actions.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.False(t, apiErr.Transient)
}

func TestPoller_Wait_FirstWaitHappensBeforeFirstCheck(t *testing.T) {
	client := &fakeClient{
		responses: []runResponse{concluded(actions.ConclusionSuccess)},
	}

	var sleeps []time.Duration
	_, err := newPoller(client, nil, &sleeps, 3*time.Minute).Wait(context.Background(), 202)
	require.NoError(t, err)

	require.NotEmpty(t, sleeps)
	assert.Equal(t, 3*time.Minute, sleeps[0])
}

func TestPoller_Wait_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := &fakeClient{
		responses: []runResponse{running(actions.StatusInProgress)},
	}

	_, err := newPoller(client, nil, nil, 0).Wait(ctx, 202)
	assert.ErrorIs(t, err, context.Canceled)
}
