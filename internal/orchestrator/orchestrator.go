package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"outreach_engine/internal/config"
	"outreach_engine/internal/engine"
	"outreach_engine/internal/logbus"
	"outreach_engine/internal/model"
	"outreach_engine/internal/notify"
	"outreach_engine/internal/queue"
	"outreach_engine/internal/safety"
)

var (
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrNoEnginesEnabled  = errors.New("no engines enabled")
	ErrNotRunning        = errors.New("orchestrator is not running")
	ErrCampaignActive    = errors.New("campaign is active")
	ErrCampaignCompleted = errors.New("campaign is completed")
	ErrBlocked           = errors.New("blocked by safety gate")
)

// Mirror receives durable copies of campaign and outcome state. Calls happen off the
// processing path and failures are only logged.
type Mirror interface {
	UpsertCampaign(ctx context.Context, c model.Campaign) error
	DeleteCampaign(ctx context.Context, id string) error
	InsertTaskOutcome(ctx context.Context, o model.TaskOutcome) error
}

type Options struct {
	Queue    *queue.Store
	Gate     *safety.Gate
	Engines  *engine.Registry
	Config   *config.Store
	Bus      *logbus.Bus
	Mirror   Mirror
	Notifier notify.Notifier
	// Now defaults to time.Now.
	Now func() time.Time
}

type Orchestrator struct {
	queue    *queue.Store
	gate     *safety.Gate
	engines  *engine.Registry
	cfg      *config.Store
	bus      *logbus.Bus
	mirror   Mirror
	notifier notify.Notifier
	now      func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	wg      sync.WaitGroup

	campMu    sync.RWMutex
	campaigns map[string]*model.Campaign

	paceMu sync.Mutex
	nextAt map[model.Category]time.Time

	events     chan func(context.Context)
	eventsStop context.CancelFunc
	eventsWG   sync.WaitGroup
	closeOnce  sync.Once
}

func New(opts Options) *Orchestrator {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	buffer := 256
	if opts.Config != nil {
		if n := opts.Config.Global().MirrorBuffer; n > 0 {
			buffer = n
		}
	}

	o := &Orchestrator{
		queue:     opts.Queue,
		gate:      opts.Gate,
		engines:   opts.Engines,
		cfg:       opts.Config,
		bus:       opts.Bus,
		mirror:    opts.Mirror,
		notifier:  notifier,
		now:       now,
		campaigns: make(map[string]*model.Campaign),
		nextAt:    make(map[model.Category]time.Time),
		events:    make(chan func(context.Context), buffer),
	}
	o.queue.Initialize(o.engines.Categories()...)

	ctx, cancel := context.WithCancel(context.Background())
	o.eventsStop = cancel
	o.eventsWG.Add(1)
	go o.eventLoop(ctx)
	return o
}

// Start launches the control loop. Calling Start while running is a no-op. If a previous
// loop is still finishing after a timed-out Stop, Start waits for it, bounded by ctx.
func (o *Orchestrator) Start(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.mu.Lock()
		if !o.running {
			break
		}
		if o.cancel != nil {
			o.mu.Unlock()
			return nil
		}
		done := o.done
		o.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	o.running = true
	runCtx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	done := make(chan struct{})
	o.done = done
	o.wg.Add(1)
	o.mu.Unlock()

	go o.runLoop(runCtx, done)
	o.log("info", "orchestrator started", map[string]any{
		"intervalMs":         o.cfg.Global().ProcessingInterval().Milliseconds(),
		"parallelCategories": o.cfg.Global().ParallelCategories,
	})
	return nil
}

// Stop asks the loop to exit and waits for the in-flight attempt, if any, to finish.
// The orchestrator reports running until the loop has actually exited.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return ErrNotRunning
	}
	cancel := o.cancel
	o.cancel = nil
	done := o.done
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	select {
	case <-done:
		o.log("info", "orchestrator stopped", nil)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Close stops the loop if needed and drains pending side effects.
func (o *Orchestrator) Close(ctx context.Context) error {
	if err := o.Stop(ctx); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	o.closeOnce.Do(o.eventsStop)

	done := make(chan struct{})
	go func() {
		o.eventsWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) runLoop(ctx context.Context, done chan struct{}) {
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
		close(done)
		o.wg.Done()
	}()

	for {
		wait := o.cfg.Global().ProcessingInterval()
		if err := o.safeSweep(ctx); err != nil && !errors.Is(err, context.Canceled) {
			wait = o.cfg.Global().ErrorCooldown()
			o.log("error", "sweep failed", map[string]any{
				"error":      err.Error(),
				"cooldownMs": wait.Milliseconds(),
			})
		}
		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

func (o *Orchestrator) safeSweep(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panic: %v", r)
		}
	}()
	return o.Sweep(ctx)
}

// Sweep runs one pass over every enabled category. Cancelling ctx stops the pass between
// tasks; unattempted tasks go back to their queue.
func (o *Orchestrator) Sweep(ctx context.Context) error {
	cats := o.enabledCategories()
	global := o.cfg.Global()

	if !global.ParallelCategories || len(cats) < 2 {
		for _, cat := range cats {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := o.sweepCategory(ctx, cat); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	limit := global.MaxConcurrentTasks
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, cat := range cats {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return o.sweepCategory(ctx, cat)
		})
	}
	return g.Wait()
}

func (o *Orchestrator) enabledCategories() []model.Category {
	var out []model.Category
	for _, cat := range o.engines.Categories() {
		if o.cfg.Engine(cat).Enabled {
			out = append(out, cat)
		}
	}
	return out
}

func (o *Orchestrator) sweepCategory(ctx context.Context, cat model.Category) error {
	eng, ok := o.engines.Get(cat)
	if !ok {
		return nil
	}
	settings := o.cfg.Engine(cat)
	if !o.paceReady(cat) {
		return nil
	}

	tasks, err := o.queue.DequeueBatchFunc(cat, settings.BatchSize, o.dispatchable)
	if err != nil {
		return fmt.Errorf("dequeue %s: %w", cat, err)
	}
	if len(tasks) == 0 {
		return nil
	}

	for i, task := range tasks {
		if ctx.Err() != nil {
			ids := make([]string, 0, len(tasks)-i)
			for _, t := range tasks[i:] {
				ids = append(ids, t.ID)
			}
			n := o.queue.Requeue(ids...)
			o.log("info", "stop requested, tasks returned to queue", map[string]any{
				"category": cat,
				"count":    n,
			})
			return ctx.Err()
		}
		o.process(ctx, eng, task)
	}
	o.schedulePace(cat, settings)
	return nil
}

// process admits task through the gate, which records the action before dispatch, then
// attempts it. Admission is atomic so parallel categories share ceilings correctly.
func (o *Orchestrator) process(ctx context.Context, eng engine.Engine, task model.Task) {
	decision := o.gate.Admit(task)
	if !decision.Allowed {
		if o.bus != nil {
			o.bus.Publish(logbus.TypeSafetyDenied, map[string]any{
				"taskId":     task.ID,
				"campaignId": task.CampaignID,
				"category":   task.Category,
				"scope":      decision.Scope,
				"reason":     decision.Reason,
			})
		}
		updated, err := o.queue.Fail(task.ID, fmt.Errorf("%w: %s", ErrBlocked, decision.Reason))
		o.afterOutcome(updated, err)
		return
	}

	started := o.now()
	result, attemptErr := o.attempt(ctx, eng, task)

	var (
		updated model.Task
		err     error
	)
	if attemptErr != nil {
		o.log("warn", "task attempt failed", map[string]any{
			"taskId":   task.ID,
			"category": task.Category,
			"retry":    task.RetryCount + 1,
			"error":    attemptErr.Error(),
		})
		updated, err = o.queue.Fail(task.ID, attemptErr)
	} else {
		o.log("info", "task attempt succeeded", map[string]any{
			"taskId":   task.ID,
			"category": task.Category,
			"status":   result.Status,
			"url":      result.URL,
			"ms":       o.now().Sub(started).Milliseconds(),
		})
		updated, err = o.queue.Complete(task.ID, &result)
	}
	o.afterOutcome(updated, err)
}

// attempt shields the engine call from cancellation so stop never interrupts a task
// mid-attempt.
func (o *Orchestrator) attempt(ctx context.Context, eng engine.Engine, task model.Task) (res model.TaskResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	return eng.Attempt(context.WithoutCancel(ctx), task)
}

func (o *Orchestrator) dispatchable(t model.Task) bool {
	if t.CampaignID == "" {
		return true
	}
	o.campMu.RLock()
	defer o.campMu.RUnlock()
	c, ok := o.campaigns[t.CampaignID]
	return !ok || c.Status == model.CampaignActive
}

func (o *Orchestrator) paceReady(cat model.Category) bool {
	o.paceMu.Lock()
	defer o.paceMu.Unlock()
	next, ok := o.nextAt[cat]
	return !ok || !o.now().Before(next)
}

// schedulePace holds the category back for a random delay within its configured window.
func (o *Orchestrator) schedulePace(cat model.Category, s config.EngineSettings) {
	d := jitter(time.Duration(s.MinDelaySeconds)*time.Second, time.Duration(s.MaxDelaySeconds)*time.Second)
	if d <= 0 {
		return
	}
	o.paceMu.Lock()
	o.nextAt[cat] = o.now().Add(d)
	o.paceMu.Unlock()
}

func jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo+1)
}

// emit hands fn to the side-effect worker, dropping it when the buffer is full.
func (o *Orchestrator) emit(kind string, fn func(context.Context)) {
	select {
	case o.events <- fn:
	default:
		o.log("warn", "side effect dropped: buffer full", map[string]any{"kind": kind})
	}
}

func (o *Orchestrator) eventLoop(ctx context.Context) {
	defer o.eventsWG.Done()
	for {
		select {
		case fn := <-o.events:
			o.runEvent(fn)
		case <-ctx.Done():
			for {
				select {
				case fn := <-o.events:
					o.runEvent(fn)
				default:
					return
				}
			}
		}
	}
}

func (o *Orchestrator) runEvent(fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			o.log("error", "side effect panicked", map[string]any{"panic": fmt.Sprint(r)})
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	fn(ctx)
}

func (o *Orchestrator) log(level, msg string, fields map[string]any) {
	if o.bus != nil {
		o.bus.Log(level, msg, fields)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
