package temporal

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.temporal.io/api/serviceerror"

	"github.com/agentforge/core/engine"
)

func TestNew_RequiresDefaultTaskQueue(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}

func TestConvertRetryPolicy_ZeroValueReturnsNil(t *testing.T) {
	require.Nil(t, convertRetryPolicy(engine.RetryPolicy{}))
}

func TestConvertRetryPolicy_MapsFields(t *testing.T) {
	p := convertRetryPolicy(engine.RetryPolicy{MaxAttempts: 3, InitialInterval: time.Second, BackoffCoefficient: 2})
	require.NotNil(t, p)
	require.EqualValues(t, 3, p.MaximumAttempts)
	require.Equal(t, time.Second, p.InitialInterval)
	require.Equal(t, 2.0, p.BackoffCoefficient)
}

func TestMergeActivityOptions_OverrideWinsOverBase(t *testing.T) {
	base := engine.ActivityOptions{StartToCloseTimeout: time.Minute, RetryPolicy: engine.RetryPolicy{MaxAttempts: 5}}
	override := engine.ActivityOptions{StartToCloseTimeout: time.Second}

	merged := mergeActivityOptions(base, override)
	require.Equal(t, time.Second, merged.StartToCloseTimeout)
	require.Equal(t, 5, merged.RetryPolicy.MaxAttempts)
}

func TestMergeActivityOptions_ZeroOverrideKeepsBase(t *testing.T) {
	base := engine.ActivityOptions{StartToCloseTimeout: time.Minute}
	merged := mergeActivityOptions(base, engine.ActivityOptions{})
	require.Equal(t, time.Minute, merged.StartToCloseTimeout)
}

func TestNormalizeTemporalError_NilStaysNil(t *testing.T) {
	require.NoError(t, normalizeTemporalError(nil))
}

func TestNormalizeTemporalError_OrdinaryErrorPassesThrough(t *testing.T) {
	err := errors.New("boom")
	require.Equal(t, err, normalizeTemporalError(err))
}

func TestEngine_ActivityDefaultsReturnsZeroValueWhenUnregistered(t *testing.T) {
	e, err := New(Options{DefaultTaskQueue: "queue-1", DisableInstrumentation: true})
	require.NoError(t, err)
	require.Equal(t, engine.ActivityOptions{}, e.activityDefaults("missing"))
}

// TestServiceError_AlreadyStartedMatchesViaErrorsAs confirms the errors.As
// pattern StartWorkflow relies on to translate a wrapped
// *serviceerror.WorkflowExecutionAlreadyStarted into
// ErrWorkflowAlreadyStarted actually matches through an fmt.Errorf %w
// wrap, the same shape the Temporal client returns its RPC errors in.
func TestServiceError_AlreadyStartedMatchesViaErrorsAs(t *testing.T) {
	var alreadyStarted *serviceerror.WorkflowExecutionAlreadyStarted
	wrapped := fmt.Errorf("rpc error: %w", &serviceerror.WorkflowExecutionAlreadyStarted{})
	require.True(t, errors.As(wrapped, &alreadyStarted))
}

func TestEngine_ActivityDefaultsReflectsRegistration(t *testing.T) {
	e, err := New(Options{DefaultTaskQueue: "queue-1", DisableInstrumentation: true})
	require.NoError(t, err)
	e.RegisterActivity(engine.ActivityDefinition{
		Name:    "call-provider",
		Func:    func(ctx context.Context, input any) (any, error) { return nil, nil },
		Options: engine.ActivityOptions{StartToCloseTimeout: 30 * time.Second},
	})
	require.Equal(t, 30*time.Second, e.activityDefaults("call-provider").StartToCloseTimeout)
}
