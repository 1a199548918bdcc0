// Package engine polls the telemetry service and keeps the live view of
// samples, devices, notifications and the last analysis.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/raterudder/gridsync/pkg/attribution"
	"github.com/raterudder/gridsync/pkg/log"
	"github.com/raterudder/gridsync/pkg/metrics"
	"github.com/raterudder/gridsync/pkg/notify"
	"github.com/raterudder/gridsync/pkg/scenario"
	"github.com/raterudder/gridsync/pkg/storage"
	"github.com/raterudder/gridsync/pkg/telemetry"
	"github.com/raterudder/gridsync/pkg/types"
	"github.com/raterudder/gridsync/pkg/window"
	"github.com/robfig/cron/v3"
)

// DefaultPollInterval is the time between poll cycles.
const DefaultPollInterval = 2 * time.Second

// outboxSize is how many notifications may wait for archiving and sinks
// before new ones are dropped.
const outboxSize = 64

var (
	// ErrAlreadyRunning is returned by Run when the engine is already running.
	ErrAlreadyRunning = errors.New("engine already running")

	// ErrUnknownDevice is returned when toggling a device that has not been
	// seen in a device snapshot.
	ErrUnknownDevice = errors.New("unknown device")

	// ErrAnalysisUnsuccessful is returned when the service answers an
	// analysis request with success=false.
	ErrAnalysisUnsuccessful = errors.New("analysis reported failure")
)

// Sink receives every notification the engine emits.
type Sink interface {
	Publish(ctx context.Context, n types.Notification) error
}

// Options tunes an Engine. Use DefaultOptions as a starting point.
type Options struct {
	PollInterval     time.Duration
	WindowCapacity   int
	NotificationTTL  time.Duration
	MaxNotifications int
	// MaxPendingCycles is how many unchanged polls a pending toggle waits
	// for its device to change. Zero waits forever.
	MaxPendingCycles int
	ScenarioOrder    []string
	AnalysisInterval time.Duration
	// AnalysisSchedule is a cron spec for periodic analysis runs. Empty
	// disables them.
	AnalysisSchedule string
}

// DefaultOptions returns the standard engine settings.
func DefaultOptions() Options {
	return Options{
		PollInterval:     DefaultPollInterval,
		WindowCapacity:   window.DefaultCapacity,
		NotificationTTL:  notify.DefaultTTL,
		MaxNotifications: 50,
		MaxPendingCycles: attribution.DefaultMaxPendingCycles,
		ScenarioOrder:    types.DefaultScenarioOrder,
		AnalysisInterval: scenario.DefaultInterval,
	}
}

// State is a point in time copy of everything the engine holds.
type State struct {
	Latest         *types.EnergySample   `json:"latest"`
	Samples        []types.EnergySample  `json:"samples"`
	Devices        []types.DeviceState   `json:"devices"`
	Notifications  []types.Notification  `json:"notifications"`
	Analysis       *types.AnalysisReport `json:"analysis"`
	PendingIntents int                   `json:"pendingIntents"`
	LastPoll       time.Time             `json:"lastPoll"`
	SampleError    string                `json:"sampleError,omitempty"`
	DevicesError   string                `json:"devicesError,omitempty"`
}

// Engine runs the poll loop. All of its state is guarded by mu and no I/O
// happens while mu is held.
type Engine struct {
	svc     telemetry.Service
	archive storage.Database
	metrics *metrics.Metrics
	sinks   []Sink
	opts    Options
	now     func() time.Time

	refresh chan struct{}
	outbox  chan types.Notification

	mu           sync.Mutex
	running      bool
	cancel       context.CancelFunc
	window       *window.SampleWindow
	attributor   *attribution.Attributor
	queue        *notify.Queue
	expiry       *time.Timer
	latest       *types.EnergySample
	devices      []types.DeviceState
	haveDevices  bool
	report       *types.AnalysisReport
	lastPoll     time.Time
	sampleErr    error
	devicesErr   error
	subscribers  map[chan types.Notification]struct{}
	analysisLock sync.Mutex
}

// New returns an Engine polling svc. archive may be storage.Noop{} and m may
// be nil.
func New(svc telemetry.Service, archive storage.Database, m *metrics.Metrics, opts Options, sinks ...Sink) *Engine {
	e := &Engine{}
	e.init(svc, archive, m, opts, sinks)
	return e
}

func (e *Engine) init(svc telemetry.Service, archive storage.Database, m *metrics.Metrics, opts Options, sinks []Sink) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.AnalysisInterval <= 0 {
		opts.AnalysisInterval = scenario.DefaultInterval
	}
	if len(opts.ScenarioOrder) == 0 {
		opts.ScenarioOrder = types.DefaultScenarioOrder
	}
	if archive == nil {
		archive = storage.Noop{}
	}
	e.svc = svc
	e.archive = archive
	e.metrics = m
	e.sinks = sinks
	e.opts = opts
	e.now = time.Now
	e.refresh = make(chan struct{}, 1)
	e.outbox = make(chan types.Notification, outboxSize)
	e.window = window.New(opts.WindowCapacity)
	e.attributor = attribution.New(opts.MaxPendingCycles)
	e.queue = notify.New(opts.NotificationTTL, opts.MaxNotifications)
	e.subscribers = make(map[chan types.Notification]struct{})
}

// Run polls immediately and then every PollInterval until ctx is canceled or
// Stop is called. Cycles never overlap; ticks that arrive during a slow cycle
// collapse into one follow-up cycle.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.cancel = cancel
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.running = false
		e.cancel = nil
		if e.expiry != nil {
			e.expiry.Stop()
		}
		e.mu.Unlock()
	}()

	ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("component", "engine")))

	if e.opts.AnalysisSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(e.opts.AnalysisSchedule, func() {
			if _, err := e.Analyze(ctx); err != nil {
				log.Ctx(ctx).WarnContext(ctx, "scheduled analysis failed", slog.Any("error", err))
			}
		}); err != nil {
			return fmt.Errorf("invalid analysis schedule %q: %w", e.opts.AnalysisSchedule, err)
		}
		c.Start()
		defer c.Stop()
	}

	// archive and sink writes happen off the poll loop
	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		e.deliverLoop(ctx)
	}()
	defer func() {
		cancel()
		<-delivered
	}()

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	log.Ctx(ctx).InfoContext(ctx, "starting poller", slog.Duration("interval", e.opts.PollInterval))
	e.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Ctx(ctx).InfoContext(ctx, "stopping poller")
			return nil
		case <-ticker.C:
			e.cycle(ctx)
		case <-e.refresh:
			e.cycle(ctx)
		}
	}
}

// Stop ends a running Run. Fetches already in flight complete but their
// results are dropped.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
}

// Refresh asks a running engine to poll now instead of waiting for the next
// tick. It never blocks.
func (e *Engine) Refresh() {
	select {
	case e.refresh <- struct{}{}:
	default:
	}
}

type fetchResult struct {
	sample     *types.EnergySample
	sampleErr  error
	devices    []types.DeviceState
	devicesErr error
}

// cycle fetches the latest sample and the device list concurrently and
// applies whatever succeeded. It returns early, discarding the fetches, if
// ctx is canceled first.
func (e *Engine) cycle(ctx context.Context) {
	start := e.now()
	fetchCtx := context.WithoutCancel(ctx)

	var res fetchResult
	var wg sync.WaitGroup
	wg.Go(func() {
		res.sample, res.sampleErr = e.svc.LatestSample(fetchCtx)
	})
	wg.Go(func() {
		res.devices, res.devicesErr = e.svc.Devices(fetchCtx)
	})

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		log.Ctx(ctx).DebugContext(ctx, "engine stopped during poll, discarding results")
		return
	}

	emitted, ok := e.apply(ctx, res)
	if !ok {
		return
	}
	e.metrics.PollCycle(e.now().Sub(start))
	e.fanOut(ctx, emitted)
}

// apply stores the results of a cycle. It reports false, changing nothing, if
// ctx was canceled by the time the lock was taken.
func (e *Engine) apply(ctx context.Context, res fetchResult) ([]types.Notification, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ctx.Err() != nil {
		log.Ctx(ctx).DebugContext(ctx, "engine stopped before results were applied, discarding")
		return nil, false
	}

	now := e.now()
	e.lastPoll = now

	e.sampleErr = res.sampleErr
	if res.sampleErr != nil {
		e.metrics.FetchError(metrics.ResourceSample)
		log.Ctx(ctx).WarnContext(ctx, "failed to fetch latest sample", slog.Any("error", res.sampleErr))
	} else if res.sample != nil {
		s := *res.sample
		e.latest = &s
		if e.window.Append(s) {
			e.metrics.SampleAppended(s.Timestamp.Time)
		}
	}

	var emitted []types.Notification
	e.devicesErr = res.devicesErr
	if res.devicesErr != nil {
		e.metrics.FetchError(metrics.ResourceDevices)
		log.Ctx(ctx).WarnContext(ctx, "failed to fetch devices", slog.Any("error", res.devicesErr))
	} else {
		if e.haveDevices {
			for _, ev := range e.attributor.Diff(ctx, e.devices, res.devices) {
				n := e.queue.Enqueue(ev, now)
				emitted = append(emitted, n)
				e.metrics.Notification(ev.Direction.String())
				log.Ctx(ctx).InfoContext(ctx, "autonomous device change",
					slog.Int64("deviceID", ev.DeviceID),
					slog.String("device", ev.DeviceName),
					slog.String("direction", ev.Direction.String()),
				)
			}
		}
		e.devices = res.devices
		e.haveDevices = true
	}

	e.queue.ClearExpired(now)
	e.scheduleExpiryLocked()
	e.metrics.IntentsPending(e.attributor.Pending())
	return emitted, true
}

// scheduleExpiryLocked arms the timer that drops notifications once they
// expire.
func (e *Engine) scheduleExpiryLocked() {
	next, ok := e.queue.NextExpiry()
	if !ok {
		return
	}
	d := next.Sub(e.now())
	if d < 0 {
		d = 0
	}
	if e.expiry == nil {
		e.expiry = time.AfterFunc(d, e.clearExpired)
		return
	}
	e.expiry.Reset(d)
}

func (e *Engine) clearExpired() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.queue.ClearExpired(e.now())
	e.scheduleExpiryLocked()
}

func (e *Engine) fanOut(ctx context.Context, ns []types.Notification) {
	if len(ns) == 0 {
		return
	}

	e.mu.Lock()
	for ch := range e.subscribers {
		for _, n := range ns {
			select {
			case ch <- n:
			default:
				log.Ctx(ctx).WarnContext(ctx, "dropping notification for slow subscriber", slog.String("id", n.ID))
			}
		}
	}
	e.mu.Unlock()

	for _, n := range ns {
		select {
		case e.outbox <- n:
		default:
			log.Ctx(ctx).WarnContext(ctx, "notification outbox full, not archiving or publishing", slog.String("id", n.ID))
		}
	}
}

// deliverLoop archives and publishes queued notifications until ctx is done.
func (e *Engine) deliverLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-e.outbox:
			e.deliver(ctx, n)
		}
	}
}

func (e *Engine) deliver(ctx context.Context, n types.Notification) {
	if err := e.archive.InsertNotification(ctx, n); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to archive notification", slog.String("id", n.ID), slog.Any("error", err))
	}
	for _, s := range e.sinks {
		if err := s.Publish(ctx, n); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to publish notification", slog.String("id", n.ID), slog.Any("error", err))
		}
	}
}

// Subscribe returns a channel receiving every new notification and a func
// that unsubscribes and closes it. Notifications are dropped for a
// subscriber that falls behind.
func (e *Engine) Subscribe() (<-chan types.Notification, func()) {
	ch := make(chan types.Notification, 16)
	e.mu.Lock()
	e.subscribers[ch] = struct{}{}
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subscribers, ch)
			e.mu.Unlock()
			close(ch)
		})
	}
}

// SetDevice sends a control command for device id. The change it causes is
// not reported as a notification. On failure the pending intent is cleared
// and the error returned. On success a refresh is requested.
//
// A command asking for the state the device is already in, with no other
// command pending, expects no change and so marks no intent.
func (e *Engine) SetDevice(ctx context.Context, id int64, isOn bool) error {
	e.mu.Lock()
	marked := e.attributor.State(id) == attribution.PendingUserAction || !e.deviceInState(id, isOn)
	if marked {
		e.attributor.MarkIntent(id)
		e.metrics.IntentsPending(e.attributor.Pending())
	}
	e.mu.Unlock()

	if err := e.svc.SetDevice(ctx, id, isOn); err != nil {
		if marked {
			e.mu.Lock()
			e.attributor.ClearIntent(id)
			e.metrics.IntentsPending(e.attributor.Pending())
			e.mu.Unlock()
		}
		e.metrics.Toggle(false)
		log.Ctx(ctx).WarnContext(ctx, "device command failed", slog.Int64("deviceID", id), slog.Any("error", err))
		return fmt.Errorf("failed to set device %d: %w", id, err)
	}
	e.metrics.Toggle(true)
	log.Ctx(ctx).InfoContext(ctx, "device command sent", slog.Int64("deviceID", id), slog.Bool("isOn", isOn))
	e.Refresh()
	return nil
}

// deviceInState reports whether the last snapshot has device id in the isOn
// state. e.mu must be held.
func (e *Engine) deviceInState(id int64, isOn bool) bool {
	for _, d := range e.devices {
		if d.ID == id {
			return d.IsOn == isOn
		}
	}
	return false
}

// ToggleDevice flips device id relative to the last device snapshot and
// returns the state requested.
func (e *Engine) ToggleDevice(ctx context.Context, id int64) (bool, error) {
	e.mu.Lock()
	var (
		found bool
		isOn  bool
	)
	for _, d := range e.devices {
		if d.ID == id {
			found, isOn = true, d.IsOn
			break
		}
	}
	e.mu.Unlock()
	if !found {
		return false, fmt.Errorf("%w: %d", ErrUnknownDevice, id)
	}
	return !isOn, e.SetDevice(ctx, id, !isOn)
}

// Analyze runs the scenario analysis and keeps the aggregated result. On any
// failure the previous result is left in place.
func (e *Engine) Analyze(ctx context.Context) (*types.AnalysisReport, error) {
	// one run at a time, a second caller waits and runs again
	e.analysisLock.Lock()
	defer e.analysisLock.Unlock()

	res, err := e.svc.GenerateAnalysis(ctx)
	if err != nil {
		e.metrics.AnalysisRun(false)
		return nil, fmt.Errorf("failed to generate analysis: %w", err)
	}
	if !res.Success {
		e.metrics.AnalysisRun(false)
		return nil, ErrAnalysisUnsuccessful
	}

	report := types.AnalysisReport{
		GeneratedAt: e.now(),
		Summary:     res.Summary,
		Files:       res.Files,
		Scenarios:   scenario.Aggregate(res.Data, e.opts.ScenarioOrder, scenario.Hours(e.opts.AnalysisInterval)),
	}
	e.mu.Lock()
	e.report = &report
	e.mu.Unlock()
	e.metrics.AnalysisRun(true)

	log.Ctx(ctx).InfoContext(ctx, "analysis complete",
		slog.Int("records", len(res.Data)),
		slog.Int("scenarios", len(report.Scenarios)),
	)
	if err := e.archive.InsertAnalysisReport(ctx, report); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to archive analysis report", slog.Any("error", err))
	}
	out := report
	return &out, nil
}

// Snapshot returns a copy of the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	s := State{
		Samples:        e.window.View(),
		Devices:        append([]types.DeviceState(nil), e.devices...),
		Notifications:  e.queue.Active(now),
		PendingIntents: e.attributor.Pending(),
		LastPoll:       e.lastPoll,
	}
	if e.latest != nil {
		latest := *e.latest
		s.Latest = &latest
	}
	if e.report != nil {
		r := *e.report
		s.Analysis = &r
	}
	if e.sampleErr != nil {
		s.SampleError = e.sampleErr.Error()
	}
	if e.devicesErr != nil {
		s.DevicesError = e.devicesErr.Error()
	}
	return s
}

// Samples returns the window, oldest first.
func (e *Engine) Samples() []types.EnergySample {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.window.View()
}

// Devices returns the last device snapshot.
func (e *Engine) Devices() []types.DeviceState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.DeviceState(nil), e.devices...)
}

// Notifications returns the live notifications, oldest first.
func (e *Engine) Notifications() []types.Notification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Active(e.now())
}

// Analysis returns the last successful analysis, or nil.
func (e *Engine) Analysis() *types.AnalysisReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.report == nil {
		return nil
	}
	r := *e.report
	return &r
}
