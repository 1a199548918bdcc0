// Package attribution decides whether a device state change was caused by a
// command issued from here or happened on its own.
package attribution

import (
	"context"
	"log/slog"

	"github.com/raterudder/gridsync/pkg/log"
	"github.com/raterudder/gridsync/pkg/types"
	"github.com/samber/lo"
)

// DefaultMaxPendingCycles is how many unchanged diffs a pending intent
// survives before it is dropped.
const DefaultMaxPendingCycles = 5

// State is the per-device attribution state.
type State int

const (
	// Idle devices report every change they make.
	Idle State = iota
	// PendingUserAction devices have a command in flight; their next change
	// is attributed to it.
	PendingUserAction
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PendingUserAction:
		return "pending"
	default:
		return "unknown"
	}
}

type intent struct {
	unchanged int
}

// Attributor tracks pending user intents per device. Devices without an entry
// are Idle. It is not safe for concurrent use.
type Attributor struct {
	maxPendingCycles int
	intents          map[int64]*intent
}

// New returns an Attributor. A pending intent that sees maxPendingCycles
// consecutive diffs without its device changing reverts to Idle; zero keeps
// intents until the device changes or the command fails.
func New(maxPendingCycles int) *Attributor {
	if maxPendingCycles < 0 {
		maxPendingCycles = 0
	}
	return &Attributor{
		maxPendingCycles: maxPendingCycles,
		intents:          make(map[int64]*intent),
	}
}

// MarkIntent records that a command for id is about to be sent. Marking an
// already pending device restarts its expiry count.
func (a *Attributor) MarkIntent(id int64) {
	a.intents[id] = &intent{}
}

// ClearIntent returns id to Idle, typically after its command failed.
func (a *Attributor) ClearIntent(id int64) {
	delete(a.intents, id)
}

// State returns the attribution state of id.
func (a *Attributor) State(id int64) State {
	if _, ok := a.intents[id]; ok {
		return PendingUserAction
	}
	return Idle
}

// Pending returns the number of devices with a pending intent.
func (a *Attributor) Pending() int {
	return len(a.intents)
}

// Diff compares two consecutive device snapshots and returns an event for
// every device that changed while Idle, in next's order. A change on a
// pending device confirms the intent and produces no event. Devices missing
// from prev produce nothing. Intents for devices missing from next are
// dropped.
func (a *Attributor) Diff(ctx context.Context, prev, next []types.DeviceState) []types.AttributedEvent {
	before := lo.KeyBy(prev, func(d types.DeviceState) int64 { return d.ID })
	present := make(map[int64]struct{}, len(next))

	var events []types.AttributedEvent
	for _, d := range next {
		present[d.ID] = struct{}{}
		old, ok := before[d.ID]
		if !ok {
			continue
		}
		changed := old.IsOn != d.IsOn

		in, pending := a.intents[d.ID]
		switch {
		case pending && changed:
			delete(a.intents, d.ID)
			log.Ctx(ctx).DebugContext(ctx, "device change confirmed user intent",
				slog.Int64("deviceID", d.ID),
				slog.Bool("isOn", d.IsOn),
			)
		case pending:
			in.unchanged++
			if a.maxPendingCycles > 0 && in.unchanged >= a.maxPendingCycles {
				delete(a.intents, d.ID)
				log.Ctx(ctx).WarnContext(ctx, "pending intent expired without a device change",
					slog.Int64("deviceID", d.ID),
					slog.String("device", d.Name),
					slog.Int("cycles", in.unchanged),
				)
			}
		case changed:
			events = append(events, types.AttributedEvent{
				DeviceID:   d.ID,
				DeviceName: d.Name,
				Direction:  types.DirectionFor(d.IsOn),
			})
		}
	}

	for id := range a.intents {
		if _, ok := present[id]; !ok {
			delete(a.intents, id)
			log.Ctx(ctx).DebugContext(ctx, "dropping intent for missing device", slog.Int64("deviceID", id))
		}
	}
	return events
}
