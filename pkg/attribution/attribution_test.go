package attribution

import (
	"context"
	"testing"

	"github.com/raterudder/gridsync/pkg/types"
	"github.com/stretchr/testify/assert"
)

func devices(states ...bool) []types.DeviceState {
	out := make([]types.DeviceState, len(states))
	for i, on := range states {
		out[i] = types.DeviceState{ID: int64(i + 1), Name: []string{"Washer", "EV Charger", "Pool Pump"}[i%3], IsOn: on}
	}
	return out
}

func TestDiffIdle(t *testing.T) {
	ctx := context.Background()

	t.Run("autonomous off", func(t *testing.T) {
		a := New(DefaultMaxPendingCycles)
		events := a.Diff(ctx, devices(true), devices(false))
		assert.Equal(t, []types.AttributedEvent{{DeviceID: 1, DeviceName: "Washer", Direction: types.AutonomousOff}}, events)
	})

	t.Run("autonomous on", func(t *testing.T) {
		a := New(DefaultMaxPendingCycles)
		events := a.Diff(ctx, devices(false, false), devices(false, true))
		assert.Equal(t, []types.AttributedEvent{{DeviceID: 2, DeviceName: "EV Charger", Direction: types.AutonomousOn}}, events)
	})

	t.Run("unchanged", func(t *testing.T) {
		a := New(DefaultMaxPendingCycles)
		assert.Empty(t, a.Diff(ctx, devices(true, false), devices(true, false)))
	})

	t.Run("new device", func(t *testing.T) {
		a := New(DefaultMaxPendingCycles)
		assert.Empty(t, a.Diff(ctx, devices(true), devices(true, true)))
	})

	t.Run("removed device", func(t *testing.T) {
		a := New(DefaultMaxPendingCycles)
		assert.Empty(t, a.Diff(ctx, devices(true, true), devices(true)))
	})

	t.Run("each transition reported once", func(t *testing.T) {
		a := New(DefaultMaxPendingCycles)
		assert.Len(t, a.Diff(ctx, devices(true), devices(false)), 1)
		assert.Empty(t, a.Diff(ctx, devices(false), devices(false)))
	})
}

func TestDiffPending(t *testing.T) {
	ctx := context.Background()

	t.Run("own command is suppressed", func(t *testing.T) {
		a := New(DefaultMaxPendingCycles)
		a.MarkIntent(1)
		assert.Equal(t, PendingUserAction, a.State(1))
		assert.Empty(t, a.Diff(ctx, devices(false), devices(true)))
		assert.Equal(t, Idle, a.State(1))
	})

	t.Run("later change after confirmation notifies", func(t *testing.T) {
		a := New(DefaultMaxPendingCycles)
		a.MarkIntent(1)
		assert.Empty(t, a.Diff(ctx, devices(false), devices(true)))
		events := a.Diff(ctx, devices(true), devices(false))
		assert.Equal(t, []types.AttributedEvent{{DeviceID: 1, DeviceName: "Washer", Direction: types.AutonomousOff}}, events)
	})

	t.Run("stays pending while unchanged", func(t *testing.T) {
		a := New(DefaultMaxPendingCycles)
		a.MarkIntent(1)
		assert.Empty(t, a.Diff(ctx, devices(false), devices(false)))
		assert.Equal(t, PendingUserAction, a.State(1))
		assert.Empty(t, a.Diff(ctx, devices(false), devices(true)))
		assert.Equal(t, Idle, a.State(1))
	})

	t.Run("other devices still notify", func(t *testing.T) {
		a := New(DefaultMaxPendingCycles)
		a.MarkIntent(1)
		events := a.Diff(ctx, devices(false, true), devices(true, false))
		assert.Equal(t, []types.AttributedEvent{{DeviceID: 2, DeviceName: "EV Charger", Direction: types.AutonomousOff}}, events)
	})

	t.Run("clear intent", func(t *testing.T) {
		a := New(DefaultMaxPendingCycles)
		a.MarkIntent(1)
		a.ClearIntent(1)
		assert.Equal(t, Idle, a.State(1))
		assert.Len(t, a.Diff(ctx, devices(false), devices(true)), 1)
	})

	t.Run("mark twice keeps one intent", func(t *testing.T) {
		a := New(DefaultMaxPendingCycles)
		a.MarkIntent(1)
		a.MarkIntent(1)
		assert.Equal(t, 1, a.Pending())
	})

	t.Run("expires after unchanged cycles", func(t *testing.T) {
		a := New(2)
		a.MarkIntent(1)
		a.Diff(ctx, devices(false), devices(false))
		assert.Equal(t, PendingUserAction, a.State(1))
		a.Diff(ctx, devices(false), devices(false))
		assert.Equal(t, Idle, a.State(1))
		assert.Len(t, a.Diff(ctx, devices(false), devices(true)), 1)
	})

	t.Run("refresh restarts expiry", func(t *testing.T) {
		a := New(2)
		a.MarkIntent(1)
		a.Diff(ctx, devices(false), devices(false))
		a.MarkIntent(1)
		a.Diff(ctx, devices(false), devices(false))
		assert.Equal(t, PendingUserAction, a.State(1))
	})

	t.Run("zero never expires", func(t *testing.T) {
		a := New(0)
		a.MarkIntent(1)
		for i := 0; i < 50; i++ {
			a.Diff(ctx, devices(false), devices(false))
		}
		assert.Equal(t, PendingUserAction, a.State(1))
	})

	t.Run("missing device drops intent", func(t *testing.T) {
		a := New(DefaultMaxPendingCycles)
		a.MarkIntent(2)
		a.Diff(ctx, devices(false, false), devices(false))
		assert.Equal(t, Idle, a.State(2))
	})

	t.Run("intent on a device not yet seen survives", func(t *testing.T) {
		a := New(DefaultMaxPendingCycles)
		a.MarkIntent(2)
		assert.Empty(t, a.Diff(ctx, devices(false), devices(false, true)))
		assert.Equal(t, PendingUserAction, a.State(2))
	})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "pending", PendingUserAction.String())
}
