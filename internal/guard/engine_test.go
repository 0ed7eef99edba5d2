package guard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/deskpilot/api/schemas"
)

func setupEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())
	return New(cfg, zaptest.NewLogger(t))
}

func clickObs(x, y float64, class schemas.Classification) Observation {
	return Observation{Action: schemas.Click(x, y), Classification: class}
}

func pressObs(key string) Observation {
	return Observation{Action: schemas.Action{Kind: schemas.ActionPress, Key: key}, Classification: schemas.ClassUnknown}
}

// -- Repeat detection --

func TestEngine_NudgeExactlyOnKthRepeat(t *testing.T) {
	for _, k := range []int{1, 2, 3, 5} {
		e := setupEngine(t, func(c *Config) { c.RepeatThreshold = k; c.RepeatCeiling = k + 3 })
		for i := 1; i <= k; i++ {
			d := e.Observe(clickObs(0.5, 0.5, schemas.ClassChanged))
			if i < k {
				assert.Equal(t, schemas.GuardRunning, d.State, "K=%d, occurrence %d", k, i)
				assert.False(t, d.EnteredNudge)
			} else {
				assert.Equal(t, schemas.GuardNudge, d.State, "K=%d, occurrence %d", k, i)
				assert.True(t, d.EnteredNudge)
			}
		}
	}
}

func TestEngine_KMinusOneThenDifferentNeverNudges(t *testing.T) {
	e := setupEngine(t, nil)
	for round := 0; round < 5; round++ {
		for i := 0; i < 2; i++ {
			d := e.Observe(clickObs(0.5, 0.5, schemas.ClassChanged))
			assert.Equal(t, schemas.GuardRunning, d.State)
		}
		d := e.Observe(clickObs(0.2, 0.2, schemas.ClassChanged))
		assert.Equal(t, schemas.GuardRunning, d.State)
	}
}

func TestEngine_GridSnapsNearbyClicks(t *testing.T) {
	e := setupEngine(t, nil)
	e.Observe(clickObs(0.5001, 0.5002, schemas.ClassChanged))
	e.Observe(clickObs(0.4999, 0.5003, schemas.ClassChanged))
	d := e.Observe(clickObs(0.5, 0.5, schemas.ClassChanged))
	assert.Equal(t, schemas.GuardNudge, d.State)
	assert.Equal(t, "click:left:1@0.5000,0.5000", d.Signature)
}

func TestEngine_NudgeExitsOnDifferentAction(t *testing.T) {
	e := setupEngine(t, nil)
	for i := 0; i < 3; i++ {
		e.Observe(clickObs(0.5, 0.5, schemas.ClassChanged))
	}
	require.Equal(t, schemas.GuardNudge, e.State())
	assert.Contains(t, e.NudgeMessage(), "click:left:1@0.5000,0.5000")
	assert.Contains(t, e.NudgeMessage(), "ctrl+l")

	// Same action again stays in NUDGE.
	d := e.Observe(clickObs(0.5, 0.5, schemas.ClassChanged))
	assert.Equal(t, schemas.GuardNudge, d.State)

	d = e.Observe(pressObs("enter"))
	assert.Equal(t, schemas.GuardRunning, d.State)
	assert.Empty(t, e.NudgeMessage())
	assert.Equal(t, 1, d.Repeats)
}

func TestEngine_RepeatCeilingStops(t *testing.T) {
	e := setupEngine(t, nil) // K=3, ceiling=6
	var d Decision
	for i := 1; i <= 6; i++ {
		d = e.Observe(clickObs(0.5, 0.5, schemas.ClassChanged))
		assert.NotEqual(t, schemas.GuardStop, d.State, "occurrence %d", i)
	}
	d = e.Observe(clickObs(0.5, 0.5, schemas.ClassChanged))
	assert.Equal(t, schemas.GuardStop, d.State)
	assert.Equal(t, schemas.StopRepeatCeiling, d.StopReason)
}

// -- No-effect detection --

func TestEngine_UnchangedPointerActionsNudge(t *testing.T) {
	e := setupEngine(t, nil) // M=3
	e.Observe(clickObs(0.1, 0.1, schemas.ClassUnchanged))
	e.Observe(clickObs(0.3, 0.3, schemas.ClassUnchanged))
	d := e.Observe(clickObs(0.6, 0.6, schemas.ClassUnchanged))
	assert.Equal(t, schemas.GuardNudge, d.State)
	assert.Equal(t, 3, d.Unchanged)
	assert.Contains(t, e.Diagnostic(), "no visible effect")
}

func TestEngine_KeyboardNeverDrivesNoEffectNudge(t *testing.T) {
	e := setupEngine(t, nil)
	keys := []string{"a", "b", "c", "d", "e", "f", "g"}
	for _, k := range keys {
		d := e.Observe(pressObs(k))
		assert.Equal(t, schemas.GuardRunning, d.State)
		assert.Zero(t, d.Unchanged)
	}

	// Interleaved keyboard actions reset the no-effect run.
	e.Observe(clickObs(0.1, 0.1, schemas.ClassUnchanged))
	e.Observe(clickObs(0.2, 0.2, schemas.ClassUnchanged))
	e.Observe(Observation{Action: schemas.Action{Kind: schemas.ActionType, Text: "x"}, Classification: schemas.ClassUnknown})
	d := e.Observe(clickObs(0.3, 0.3, schemas.ClassUnchanged))
	assert.Equal(t, schemas.GuardRunning, d.State)
	assert.Equal(t, 1, d.Unchanged)
}

// -- Rejected coordinates --

func TestEngine_RejectedActionsCountAsRepeats(t *testing.T) {
	e := setupEngine(t, nil)
	var d Decision
	for i := 0; i < 3; i++ {
		d = e.Observe(Observation{Action: schemas.Click(1.5, 0.2), Rejected: true, Classification: schemas.ClassUnknown})
	}
	assert.Equal(t, "click:invalid", d.Signature)
	assert.Equal(t, schemas.GuardNudge, d.State)
}

func TestEngine_ValidateCoordinate(t *testing.T) {
	e := setupEngine(t, nil)
	assert.NoError(t, e.ValidateCoordinate(schemas.Coordinate{X: 0.5, Y: 0.5}))
	assert.Error(t, e.ValidateCoordinate(schemas.Coordinate{X: 0.001, Y: 0.5}))
}

// -- Stop conditions --

func TestEngine_TerminateWinsOverMaxSteps(t *testing.T) {
	e := setupEngine(t, func(c *Config) { c.MaxSteps = 5; c.RepeatThreshold = 5; c.RepeatCeiling = 8 })
	for i := 0; i < 4; i++ {
		d := e.Observe(clickObs(0.1, 0.1, schemas.ClassChanged))
		assert.Equal(t, schemas.GuardRunning, d.State)
	}
	d := e.Observe(Observation{Action: schemas.Terminate("success"), Classification: schemas.ClassUnknown})
	assert.Equal(t, schemas.GuardStop, d.State)
	assert.Equal(t, schemas.StopTerminate, d.StopReason)
	assert.Equal(t, 5, e.Steps())
}

func TestEngine_MaxSteps(t *testing.T) {
	e := setupEngine(t, func(c *Config) { c.MaxSteps = 4 })
	var d Decision
	for i := 0; i < 4; i++ {
		d = e.Observe(clickObs(0.1*float64(i+1), 0.5, schemas.ClassChanged))
	}
	assert.Equal(t, schemas.GuardStop, d.State)
	assert.Equal(t, schemas.StopMaxSteps, d.StopReason)

	// STOP is terminal and the step counter never passes the limit.
	d = e.Observe(clickObs(0.9, 0.9, schemas.ClassChanged))
	assert.Equal(t, schemas.GuardStop, d.State)
	assert.Equal(t, 4, e.Steps())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.RepeatCeiling = bad.RepeatThreshold
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.MaxSteps = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.UnchangedThreshold = 0
	assert.Error(t, bad.Validate())
}
