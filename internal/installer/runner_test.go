package installer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"kamisetup/internal/logging"
	"kamisetup/internal/tactile"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeExecutor replays canned output per binary. A "block" binary waits for
// cancellation.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []tactile.Command
	exit  map[string]int
	lines map[string][]string
}

func (f *fakeExecutor) Execute(ctx context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error) {
	return f.Stream(ctx, cmd, nil)
}

func (f *fakeExecutor) Stream(ctx context.Context, cmd tactile.Command, onLine func(tactile.Line)) (*tactile.ExecutionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	f.mu.Unlock()

	switch cmd.Binary {
	case "missing":
		return &tactile.ExecutionResult{Success: false, ExitCode: -1, Error: "executable file not found"}, nil
	case "block":
		<-ctx.Done()
		return &tactile.ExecutionResult{Success: true, ExitCode: -1, Killed: true, KillReason: "context canceled"}, nil
	}
	for _, l := range f.lines[cmd.Binary] {
		if onLine != nil {
			onLine(tactile.Line{Stream: tactile.StreamStdout, Text: l})
		}
	}
	return &tactile.ExecutionResult{Success: true, ExitCode: f.exit[cmd.Binary]}, nil
}

func (f *fakeExecutor) Capabilities() tactile.ExecutorCapabilities {
	return tactile.ExecutorCapabilities{Name: "fake", SupportsStreaming: true}
}

func (f *fakeExecutor) Validate(tactile.Command) error { return nil }

func (f *fakeExecutor) binaries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.Binary)
	}
	return out
}

type memRecorder struct {
	mu   sync.Mutex
	runs []*Run
}

func (m *memRecorder) Record(_ context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func cmdStep(name, binary string) Step {
	return Step{Name: name, Command: tactile.Command{Binary: binary}}
}

func drain(events <-chan Event) []Event {
	var all []Event
	for ev := range events {
		all = append(all, ev)
	}
	return all
}

func TestRunner_Success(t *testing.T) {
	exec := &fakeExecutor{lines: map[string][]string{"pip": {"Collecting torch", "Successfully installed torch"}}}
	rec := &memRecorder{}
	r := NewRunner(exec, WithRecorder(rec))

	run, events, err := r.Start(context.Background(), "Install PyTorch", []Step{
		cmdStep("create", "conda"),
		cmdStep("torch", "pip"),
	})
	require.NoError(t, err)
	all := drain(events)

	assert.True(t, run.Succeeded())
	assert.Equal(t, []string{"conda", "pip"}, exec.binaries())
	assert.Equal(t, EventRunStarted, all[0].Type)
	assert.Equal(t, EventRunFinished, all[len(all)-1].Type)

	var output []string
	for _, ev := range all {
		if ev.Type == EventOutput {
			output = append(output, ev.Line.Message)
			assert.Equal(t, "torch", ev.StepName)
		}
	}
	assert.Equal(t, []string{"Collecting torch", "Successfully installed torch"}, output)

	require.Len(t, rec.runs, 1)
	assert.Equal(t, run.ID, rec.runs[0].ID)
	assert.False(t, r.Busy())
}

func TestRunner_StopsOnFailure(t *testing.T) {
	exec := &fakeExecutor{exit: map[string]int{"pip": 1}}
	r := NewRunner(exec)

	cleaned := false
	run, err := r.RunSync(context.Background(), "deps", []Step{
		cmdStep("first", "pip"),
		cmdStep("second", "conda"),
		{Name: "cleanup", Always: true, Func: func(context.Context, Output) error {
			cleaned = true
			return nil
		}},
	}, nil)

	require.Error(t, err)
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 1, exitErr.Code)

	assert.False(t, run.Succeeded())
	assert.Equal(t, StepFailed, run.Results[0].Status)
	assert.Equal(t, 1, run.Results[0].ExitCode)
	assert.Equal(t, StepSkipped, run.Results[1].Status)
	assert.True(t, run.Results[1].Skipped)
	assert.Equal(t, StepSucceeded, run.Results[2].Status)
	assert.True(t, cleaned)
	assert.Equal(t, []string{"pip"}, exec.binaries())
}

func TestRunner_ContinueOnError(t *testing.T) {
	exec := &fakeExecutor{}
	r := NewRunner(exec)

	step := cmdStep("optional", "missing")
	step.ContinueOnError = true
	run, err := r.RunSync(context.Background(), "setup", []Step{step, cmdStep("next", "pip")}, nil)

	require.NoError(t, err)
	assert.True(t, run.Succeeded())
	assert.True(t, run.Results[0].Tolerated)
	assert.Equal(t, "executable file not found", run.Results[0].Err.Error())
	assert.Equal(t, StepSucceeded, run.Results[1].Status)
}

func TestRunner_FuncStep(t *testing.T) {
	r := NewRunner(&fakeExecutor{})

	run, events, err := r.Start(context.Background(), "download", []Step{{
		Name: "download",
		Func: func(_ context.Context, out Output) error {
			out.Progress(50, 100)
			out.Printf(logging.LevelSuccess, "downloaded %d bytes", 100)
			return nil
		},
	}})
	require.NoError(t, err)
	all := drain(events)

	var sawProgress, sawLine bool
	for _, ev := range all {
		switch ev.Type {
		case EventProgress:
			sawProgress = ev.Done == 50 && ev.Total == 100
		case EventOutput:
			sawLine = ev.Line.Level == logging.LevelSuccess && ev.Line.Message == "downloaded 100 bytes"
		}
	}
	assert.True(t, sawProgress)
	assert.True(t, sawLine)
	assert.True(t, run.Succeeded())
}

func TestRunner_FuncStepError(t *testing.T) {
	r := NewRunner(&fakeExecutor{})
	boom := errors.New("boom")

	run, err := r.RunSync(context.Background(), "x", []Step{{Name: "f", Func: func(context.Context, Output) error { return boom }}}, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StepFailed, run.Results[0].Status)
}

func TestRunner_Busy(t *testing.T) {
	exec := &fakeExecutor{}
	r := NewRunner(exec)

	_, events, err := r.Start(context.Background(), "long", []Step{cmdStep("block", "block")})
	require.NoError(t, err)
	assert.True(t, r.Busy())

	_, _, err = r.Start(context.Background(), "other", []Step{cmdStep("pip", "pip")})
	assert.ErrorIs(t, err, ErrBusy)

	assert.True(t, r.Cancel())
	drain(events)
	r.Wait()
	assert.False(t, r.Busy())
	assert.False(t, r.Cancel())
}

func TestRunner_Cancel(t *testing.T) {
	exec := &fakeExecutor{}
	r := NewRunner(exec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run, events, err := r.Start(ctx, "cancel me", []Step{
		cmdStep("block", "block"),
		cmdStep("after", "pip"),
	})
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	drain(events)

	assert.True(t, run.Canceled)
	assert.False(t, run.Succeeded())
	assert.Equal(t, StepFailed, run.Results[0].Status)
	assert.Equal(t, StepSkipped, run.Results[1].Status)
	assert.Equal(t, []string{"block"}, exec.binaries())
}

func TestRunner_DryRun(t *testing.T) {
	exec := &fakeExecutor{}
	r := NewRunner(exec, WithDryRun(true))

	run, events, err := r.Start(context.Background(), "dry", []Step{
		{Name: "create", Command: tactile.Command{Binary: "conda", Arguments: []string{"create", "-n", "myenv"}}},
	})
	require.NoError(t, err)
	all := drain(events)

	assert.Empty(t, exec.binaries())
	assert.True(t, run.Succeeded())
	assert.True(t, run.DryRun)

	var lines []string
	for _, ev := range all {
		if ev.Type == EventOutput {
			lines = append(lines, ev.Line.Message)
		}
	}
	assert.Equal(t, []string{"[dry-run] conda create -n myenv"}, lines)
}

func TestRunner_StepTimeoutApplied(t *testing.T) {
	exec := &fakeExecutor{}
	r := NewRunner(exec, WithStepTimeout(time.Minute))

	_, err := r.RunSync(context.Background(), "t", []Step{cmdStep("pip", "pip")}, nil)
	require.NoError(t, err)
	require.Len(t, exec.calls, 1)
	require.NotNil(t, exec.calls[0].Limits)
	assert.Equal(t, int64(60000), exec.calls[0].Limits.TimeoutMs)
	assert.NotEmpty(t, exec.calls[0].RequestID)
}

func TestRunner_InvalidSteps(t *testing.T) {
	r := NewRunner(&fakeExecutor{})

	_, _, err := r.Start(context.Background(), "empty", nil)
	assert.Error(t, err)

	_, _, err = r.Start(context.Background(), "both", []Step{{
		Name:    "bad",
		Command: tactile.Command{Binary: "pip"},
		Func:    func(context.Context, Output) error { return nil },
	}})
	assert.Error(t, err)

	_, _, err = r.Start(context.Background(), "neither", []Step{{Name: "bad"}})
	assert.Error(t, err)
}
