package cli

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runbridge/runbridge/internal/poll"
	"github.com/runbridge/runbridge/pkg/clients/actions"
)

func TestReportOutcome(t *testing.T) {
	tests := []struct {
		name             string
		conclusion       actions.Conclusion
		propagateFailure bool
		wantErr          bool
	}{
		{
			name:             "success with propagation",
			conclusion:       actions.ConclusionSuccess,
			propagateFailure: true,
			wantErr:          false,
		},
		{
			name:             "success without propagation",
			conclusion:       actions.ConclusionSuccess,
			propagateFailure: false,
			wantErr:          false,
		},
		{
			name:             "failure with propagation exits non-zero",
			conclusion:       actions.ConclusionFailure,
			propagateFailure: true,
			wantErr:          true,
		},
		{
			name:             "failure without propagation exits zero",
			conclusion:       actions.ConclusionFailure,
			propagateFailure: false,
			wantErr:          false,
		},
		{
			name:             "cancelled with propagation exits non-zero",
			conclusion:       actions.ConclusionCancelled,
			propagateFailure: true,
			wantErr:          true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := poll.Result{
				Status:     actions.StatusCompleted,
				Conclusion: tt.conclusion,
				Attempts:   1,
			}

			err := reportOutcome(zerolog.Nop(), 202, result, tt.propagateFailure)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), string(tt.conclusion))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
