// Package installer runs pipelines of install steps on a background
// goroutine and reports progress as a stream of events.
package installer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"kamisetup/internal/logging"
	"kamisetup/internal/tactile"
)

// ErrBusy is returned by Start while another run is active.
var ErrBusy = errors.New("an installation is already running")

// DefaultEventBuffer is the event channel capacity.
const DefaultEventBuffer = 256

// Runner executes one pipeline at a time.
type Runner struct {
	executor    tactile.StreamExecutor
	recorder    Recorder
	stepTimeout time.Duration
	dryRun      bool
	buffer      int

	mu     sync.Mutex
	active *Run
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Runner.
type Option func(*Runner)

// WithRecorder stores every finished run.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

// WithStepTimeout applies a timeout to command steps that carry none.
func WithStepTimeout(d time.Duration) Option {
	return func(r *Runner) { r.stepTimeout = d }
}

// WithDryRun reports the commands without executing anything.
func WithDryRun(dry bool) Option {
	return func(r *Runner) { r.dryRun = dry }
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) Option {
	return func(r *Runner) { r.buffer = n }
}

// NewRunner creates a runner over executor.
func NewRunner(executor tactile.StreamExecutor, opts ...Option) *Runner {
	r := &Runner{executor: executor, buffer: DefaultEventBuffer}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Busy reports whether a run is active.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// DryRun reports whether the runner only prints commands.
func (r *Runner) DryRun() bool {
	return r.dryRun
}

// Cancel stops the active run. It returns false when nothing is running.
func (r *Runner) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return false
	}
	logging.Install("Canceling run %s (%s)", r.active.ID, r.active.Title)
	r.cancel()
	return true
}

// Wait blocks until the active run, if any, has finished.
func (r *Runner) Wait() {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Start launches steps on a background goroutine. The returned channel
// delivers every event of the run and is closed after EventRunFinished.
// Consumers must drain it.
func (r *Runner) Start(ctx context.Context, title string, steps []Step) (*Run, <-chan Event, error) {
	if len(steps) == 0 {
		return nil, nil, fmt.Errorf("run %q has no steps", title)
	}
	for _, s := range steps {
		if err := s.Validate(); err != nil {
			return nil, nil, err
		}
	}

	r.mu.Lock()
	if r.active != nil {
		r.mu.Unlock()
		return nil, nil, ErrBusy
	}
	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:        uuid.NewString(),
		Title:     title,
		Steps:     steps,
		StartedAt: time.Now(),
		DryRun:    r.dryRun,
		Results:   make([]StepResult, len(steps)),
	}
	for i, s := range steps {
		run.Results[i] = StepResult{Index: i, Name: s.Name, Command: s.Display(), Status: StepPending, ExitCode: -1}
	}
	r.active = run
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	events := make(chan Event, r.buffer)
	logging.Install("Starting run %s: %s (%d steps, dry-run=%v)", run.ID, title, len(steps), r.dryRun)

	go func() {
		defer close(done)
		defer close(events)
		defer cancel()

		r.execute(runCtx, run, events)

		if r.recorder != nil {
			// recording must not be cut short by the run's own cancellation
			if err := r.recorder.Record(context.WithoutCancel(ctx), run); err != nil {
				logging.InstallError("Failed to record run %s: %v", run.ID, err)
			}
		}

		r.mu.Lock()
		r.active = nil
		r.cancel = nil
		r.mu.Unlock()

		events <- Event{Type: EventRunFinished, Timestamp: time.Now(), RunID: run.ID, Run: run}
	}()

	return run, events, nil
}

// RunSync starts steps and blocks until they finish, passing every event to
// onEvent (which may be nil).
func (r *Runner) RunSync(ctx context.Context, title string, steps []Step, onEvent func(Event)) (*Run, error) {
	run, events, err := r.Start(ctx, title, steps)
	if err != nil {
		return nil, err
	}
	for ev := range events {
		if onEvent != nil {
			onEvent(ev)
		}
	}
	if !run.Succeeded() {
		if run.Canceled {
			return run, context.Canceled
		}
		if f := run.FirstFailure(); f != nil {
			return run, fmt.Errorf("step %q failed: %w", f.Name, f.Err)
		}
		return run, fmt.Errorf("run %q did not complete", title)
	}
	return run, nil
}

func (r *Runner) execute(ctx context.Context, run *Run, events chan<- Event) {
	events <- Event{Type: EventRunStarted, Timestamp: time.Now(), RunID: run.ID, Run: run}

	failed := false
	for i := range run.Steps {
		step := &run.Steps[i]
		res := &run.Results[i]

		if ctx.Err() != nil && !run.Canceled {
			run.Canceled = true
			logging.InstallWarn("Run %s canceled before step %d (%s)", run.ID, i, step.Name)
		}
		stepCtx := ctx
		if failed || run.Canceled {
			if !step.Always {
				res.Status = StepSkipped
				res.Skipped = true
				r.emit(events, run, i, Event{Type: EventStepFinished, Result: res})
				continue
			}
			stepCtx = context.WithoutCancel(ctx)
		}

		r.emit(events, run, i, Event{Type: EventStepStarted, Step: step})
		start := time.Now()
		r.runStep(stepCtx, run, i, events)
		res.Duration = time.Since(start)

		if ctx.Err() != nil && res.Status == StepFailed {
			run.Canceled = true
		}
		if res.Status == StepFailed {
			if step.ContinueOnError {
				res.Tolerated = true
				logging.InstallWarn("Step %s failed, continuing: %v", step.Name, res.Err)
			} else {
				failed = true
				logging.InstallError("Step %s failed: %v", step.Name, res.Err)
			}
		} else {
			logging.Install("Step %s succeeded in %s", step.Name, res.Duration)
		}
		r.emit(events, run, i, Event{Type: EventStepFinished, Result: res})
	}

	run.FinishedAt = time.Now()
	logging.Install("Run %s finished: succeeded=%v canceled=%v duration=%s",
		run.ID, run.Succeeded(), run.Canceled, run.Duration())
}

func (r *Runner) runStep(ctx context.Context, run *Run, i int, events chan<- Event) {
	step := run.Steps[i]
	res := &run.Results[i]
	out := &stepOutput{runner: r, run: run, index: i, events: events}

	if r.dryRun {
		out.Printf(logging.LevelInfo, "[dry-run] %s", step.Display())
		res.Status = StepSucceeded
		res.ExitCode = 0
		return
	}

	if step.Func != nil {
		if err := step.Func(ctx, out); err != nil {
			res.Status = StepFailed
			res.Err = err
			return
		}
		res.Status = StepSucceeded
		res.ExitCode = 0
		return
	}

	cmd := step.Command
	if r.stepTimeout > 0 && (cmd.Limits == nil || cmd.Limits.TimeoutMs == 0) {
		limits := tactile.ResourceLimits{}
		if cmd.Limits != nil {
			limits = *cmd.Limits
		}
		limits.TimeoutMs = r.stepTimeout.Milliseconds()
		cmd.Limits = &limits
	}
	if cmd.RequestID == "" {
		cmd.RequestID = fmt.Sprintf("%s/%d", run.ID, i)
	}

	result, err := r.executor.Stream(ctx, cmd, func(l tactile.Line) {
		r.emit(events, run, i, Event{
			Type:   EventOutput,
			Line:   logging.ConsoleLine{Time: time.Now(), Level: logging.LevelInfo, Message: l.Text},
			Stream: l.Stream,
		})
	})
	if err != nil {
		res.Status = StepFailed
		res.Err = err
		return
	}

	res.ExitCode = result.ExitCode
	switch {
	case result.Killed:
		res.Status = StepFailed
		res.Err = fmt.Errorf("killed: %s", result.KillReason)
	case result.IsError():
		res.Status = StepFailed
		res.Err = errors.New(result.Error)
	case result.ExitCode != 0:
		res.Status = StepFailed
		res.Err = &ExitError{Code: result.ExitCode}
	default:
		res.Status = StepSucceeded
	}
}

func (r *Runner) emit(events chan<- Event, run *Run, i int, ev Event) {
	ev.Timestamp = time.Now()
	ev.RunID = run.ID
	ev.StepIndex = i
	ev.StepName = run.Steps[i].Name
	events <- ev
}

// stepOutput adapts a Func step's messages into events.
type stepOutput struct {
	runner *Runner
	run    *Run
	index  int
	events chan<- Event
}

func (o *stepOutput) Printf(level logging.Level, format string, args ...interface{}) {
	o.runner.emit(o.events, o.run, o.index, Event{
		Type: EventOutput,
		Line: logging.NewConsoleLine(level, format, args...),
	})
}

func (o *stepOutput) Progress(done, total int64) {
	o.runner.emit(o.events, o.run, o.index, Event{Type: EventProgress, Done: done, Total: total})
}
