package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/deskpilot/api/schemas"
	"github.com/xkilldash9x/deskpilot/internal/mocks"
)

func setupController(t *testing.T, budget int, validate func(schemas.Action) error) (*Controller, *mocks.MockRecoveryPlanner) {
	t.Helper()
	planner := new(mocks.MockRecoveryPlanner)
	c := NewController(planner, Options{Budget: budget, Timeout: time.Second, Validate: validate}, zaptest.NewLogger(t))
	return c, planner
}

var req = schemas.RecoveryRequest{Objective: "open settings", History: "Step 1: click", Diagnostic: "loop"}

func TestEscalate_SuccessConsumesExactlyOne(t *testing.T) {
	c, planner := setupController(t, 2, nil)
	want := schemas.Action{Kind: schemas.ActionHotkey, Keys: []string{"ctrl", "l"}}
	planner.On("Recover", mock.Anything, req).Return(want, nil)

	got, ok, err := c.Escalate(context.Background(), schemas.GuardNudge, req)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, c.Remaining())
	assert.Equal(t, 1, c.Escalations())

	_, ok, _ = c.Escalate(context.Background(), schemas.GuardNudge, req)
	assert.True(t, ok)
	assert.Equal(t, 0, c.Remaining())

	// Budget exhausted: the planner is no longer consulted, even in NUDGE.
	_, ok, err = c.Escalate(context.Background(), schemas.GuardNudge, req)
	assert.False(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, 0, c.Remaining())
	planner.AssertNumberOfCalls(t, "Recover", 2)
}

func TestEscalate_OnlyInNudge(t *testing.T) {
	c, planner := setupController(t, 3, nil)
	for _, s := range []schemas.GuardState{schemas.GuardRunning, schemas.GuardStop} {
		assert.False(t, c.Eligible(s))
		_, ok, err := c.Escalate(context.Background(), s, req)
		assert.False(t, ok)
		assert.NoError(t, err)
	}
	planner.AssertNotCalled(t, "Recover", mock.Anything, mock.Anything)
	assert.Equal(t, 3, c.Remaining())
}

func TestEscalate_NoPlannerConfigured(t *testing.T) {
	c := NewController(nil, Options{Budget: 5}, zaptest.NewLogger(t))
	assert.False(t, c.Eligible(schemas.GuardNudge))
	_, ok, err := c.Escalate(context.Background(), schemas.GuardNudge, req)
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestEscalate_FailuresAreSwallowedAndFree(t *testing.T) {
	c, planner := setupController(t, 1, nil)
	planner.On("Recover", mock.Anything, req).Return(schemas.Action{}, errors.New("connection refused")).Once()

	_, ok, err := c.Escalate(context.Background(), schemas.GuardNudge, req)
	assert.False(t, ok)
	var re *schemas.RecoveryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "planner unavailable", re.Reason)
	assert.Equal(t, 1, c.Remaining(), "a failed escalation must not consume budget")
	assert.Equal(t, 1, c.Attempts())
	assert.Equal(t, 0, c.Escalations())
}

func TestEscalate_Timeout(t *testing.T) {
	planner := new(mocks.MockRecoveryPlanner)
	c := NewController(planner, Options{Budget: 1, Timeout: 20 * time.Millisecond}, zaptest.NewLogger(t))
	planner.On("Recover", mock.Anything, req).
		Run(func(args mock.Arguments) { <-args.Get(0).(context.Context).Done() }).
		Return(schemas.Action{}, context.DeadlineExceeded)

	_, ok, err := c.Escalate(context.Background(), schemas.GuardNudge, req)
	assert.False(t, ok)
	var re *schemas.RecoveryError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "planner timed out", re.Reason)
	assert.Equal(t, 1, c.Remaining())
}

func TestEscalate_RejectsUnusableAction(t *testing.T) {
	invalid := errors.New("out of range")
	c, planner := setupController(t, 1, func(schemas.Action) error { return invalid })
	planner.On("Recover", mock.Anything, req).Return(schemas.Click(2, 2), nil)

	_, ok, err := c.Escalate(context.Background(), schemas.GuardNudge, req)
	assert.False(t, ok)
	assert.ErrorIs(t, err, invalid)
	assert.Equal(t, 1, c.Remaining())
}
