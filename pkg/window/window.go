// Package window holds the most recent telemetry samples in arrival order.
package window

import "github.com/raterudder/gridsync/pkg/types"

// DefaultCapacity is the number of samples kept when no capacity is given.
const DefaultCapacity = 20

// SampleWindow is a bounded, ordered buffer of energy samples. A sample whose
// ID is already held is ignored, so repeated polls of an unchanged latest
// sample do not grow the window. It is not safe for concurrent use.
type SampleWindow struct {
	buf   []types.EnergySample
	start int
	n     int
	ids   map[int64]struct{}
}

// New returns an empty window holding at most capacity samples. A capacity
// below one uses DefaultCapacity.
func New(capacity int) *SampleWindow {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &SampleWindow{
		buf: make([]types.EnergySample, capacity),
		ids: make(map[int64]struct{}, capacity),
	}
}

// Append adds s as the newest sample, evicting the oldest when full. It
// returns false and leaves the window untouched if s is a duplicate.
func (w *SampleWindow) Append(s types.EnergySample) bool {
	if _, ok := w.ids[s.ID]; ok {
		return false
	}
	if w.n == len(w.buf) {
		delete(w.ids, w.buf[w.start].ID)
		w.buf[w.start] = s
		w.start = (w.start + 1) % len(w.buf)
	} else {
		w.buf[(w.start+w.n)%len(w.buf)] = s
		w.n++
	}
	w.ids[s.ID] = struct{}{}
	return true
}

// View returns a copy of the samples, oldest first.
func (w *SampleWindow) View() []types.EnergySample {
	out := make([]types.EnergySample, w.n)
	for i := range out {
		out[i] = w.buf[(w.start+i)%len(w.buf)]
	}
	return out
}

// Latest returns the newest sample.
func (w *SampleWindow) Latest() (types.EnergySample, bool) {
	if w.n == 0 {
		return types.EnergySample{}, false
	}
	return w.buf[(w.start+w.n-1)%len(w.buf)], true
}

// Len returns the number of samples held.
func (w *SampleWindow) Len() int {
	return w.n
}

// Cap returns the maximum number of samples held.
func (w *SampleWindow) Cap() int {
	return len(w.buf)
}
