package installer

import (
	"context"
	"fmt"
	"time"

	"kamisetup/internal/logging"
	"kamisetup/internal/tactile"
)

// Output receives user-visible messages from in-process steps.
type Output interface {
	Printf(level logging.Level, format string, args ...interface{})
	Progress(done, total int64)
}

// StepFunc is in-process work such as a download or writing a file.
type StepFunc func(ctx context.Context, out Output) error

// Step is one unit of a pipeline. Exactly one of Command and Func is set.
type Step struct {
	Name        string
	Description string
	Command     tactile.Command
	Func        StepFunc

	// ContinueOnError lets the pipeline go on after this step fails.
	// Such a failure does not fail the run.
	ContinueOnError bool

	// Always runs the step even after an earlier failure or cancellation.
	Always bool
}

// Validate checks the step shape.
func (s Step) Validate() error {
	hasCmd := !s.Command.IsZero()
	if hasCmd == (s.Func != nil) {
		return fmt.Errorf("step %q must set exactly one of Command or Func", s.Name)
	}
	if s.Name == "" {
		return fmt.Errorf("step name is required")
	}
	return nil
}

// Display is the line shown when the step starts.
func (s Step) Display() string {
	if s.Func != nil {
		if s.Description != "" {
			return s.Description
		}
		return s.Name
	}
	return s.Command.CommandString()
}

// StepStatus is the outcome of a step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepResult records how one step went.
type StepResult struct {
	Index    int
	Name     string
	Command  string
	Status   StepStatus
	ExitCode int
	Duration time.Duration
	Err      error
	Skipped  bool

	// Tolerated marks a failure of a ContinueOnError step.
	Tolerated bool
}

// ExitError is the failure of a command that ran and exited non-zero.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exited with code %d", e.Code)
}

// Run is one execution of a pipeline. Its fields are final once the
// RunFinished event has been delivered.
type Run struct {
	ID         string
	Title      string
	Steps      []Step
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []StepResult
	Canceled   bool
	DryRun     bool
}

// Succeeded is true when the run was not canceled and no step failed
// other than tolerated ones.
func (r *Run) Succeeded() bool {
	if r.Canceled {
		return false
	}
	for _, res := range r.Results {
		if res.Status == StepFailed && !res.Tolerated {
			return false
		}
		if res.Status == StepSkipped || res.Status == StepPending {
			return false
		}
	}
	return true
}

// FirstFailure returns the first untolerated failure, if any.
func (r *Run) FirstFailure() *StepResult {
	for i := range r.Results {
		if r.Results[i].Status == StepFailed && !r.Results[i].Tolerated {
			return &r.Results[i]
		}
	}
	return nil
}

// Duration is the wall time of the run.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// EventType categorizes runner events.
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventStepStarted  EventType = "step_started"
	EventOutput       EventType = "output"
	EventProgress     EventType = "progress"
	EventStepFinished EventType = "step_finished"
	EventRunFinished  EventType = "run_finished"
)

// Event is emitted by a running pipeline.
type Event struct {
	Type      EventType
	Timestamp time.Time
	RunID     string
	StepIndex int
	StepName  string

	// EventOutput
	Line   logging.ConsoleLine
	Stream tactile.Stream

	// EventProgress
	Done  int64
	Total int64

	// EventStepStarted carries the step, EventStepFinished its result.
	Step   *Step
	Result *StepResult

	// EventRunStarted and EventRunFinished
	Run *Run
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, run *Run) error
}
