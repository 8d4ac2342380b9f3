package tactile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"kamisetup/internal/logging"
)

// DirectExecutor executes commands directly on the host using os/exec.
type DirectExecutor struct {
	mu     sync.RWMutex
	config ExecutorConfig

	// auditCallback is called for execution events
	auditCallback func(AuditEvent)
}

// NewDirectExecutor creates a new direct executor with default config.
func NewDirectExecutor() *DirectExecutor {
	return NewDirectExecutorWithConfig(DefaultExecutorConfig())
}

// NewDirectExecutorWithConfig creates a new direct executor with custom config.
func NewDirectExecutorWithConfig(config ExecutorConfig) *DirectExecutor {
	logging.ExecDebug("Creating DirectExecutor: timeout=%s, maxOutput=%d bytes",
		config.DefaultTimeout, config.MaxOutputBytes)
	return &DirectExecutor{config: config}
}

// SetAuditCallback sets the callback for audit events.
func (e *DirectExecutor) SetAuditCallback(callback func(AuditEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.auditCallback = callback
}

func (e *DirectExecutor) emitAudit(typ AuditEventType, cmd Command, result *ExecutionResult) {
	e.mu.RLock()
	callback := e.auditCallback
	e.mu.RUnlock()

	if callback != nil {
		callback(AuditEvent{
			Type:         typ,
			Timestamp:    time.Now(),
			Command:      cmd,
			Result:       result,
			ExecutorName: "direct",
		})
	}
}

// Capabilities returns what this executor supports.
func (e *DirectExecutor) Capabilities() ExecutorCapabilities {
	return ExecutorCapabilities{
		Name:              "direct",
		Platform:          runtime.GOOS,
		SupportsStdin:     true,
		SupportsStreaming: true,
		MaxTimeout:        e.config.MaxTimeout,
		DefaultTimeout:    e.config.DefaultTimeout,
	}
}

// Validate checks if a command can be executed.
func (e *DirectExecutor) Validate(cmd Command) error {
	if cmd.Binary == "" {
		return fmt.Errorf("binary is required")
	}
	return nil
}

// Execute runs a command directly on the host and buffers its output.
func (e *DirectExecutor) Execute(ctx context.Context, cmd Command) (*ExecutionResult, error) {
	return e.Stream(ctx, cmd, nil)
}

// Stream runs a command directly on the host, delivering output lines to
// onLine as they are produced. A nil onLine only buffers.
func (e *DirectExecutor) Stream(ctx context.Context, cmd Command, onLine func(Line)) (*ExecutionResult, error) {
	timer := logging.StartTimer(logging.CategoryExec, "command "+cmd.Binary)
	defer timer.Stop()

	if err := e.Validate(cmd); err != nil {
		logging.ExecWarn("Command validation failed: %v", err)
		return nil, err
	}

	cmd = e.config.Merge(cmd)
	logging.Exec("Executing: %s (dir=%s, timeout=%dms)", cmd.CommandString(), cmd.WorkingDirectory, cmd.Limits.TimeoutMs)

	result := &ExecutionResult{
		ExitCode: -1,
		Command:  &cmd,
	}
	e.emitAudit(AuditEventStart, cmd, nil)

	timeout := time.Duration(cmd.Limits.TimeoutMs) * time.Millisecond
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	execCmd := exec.CommandContext(execCtx, cmd.Binary, cmd.Arguments...)
	execCmd.Dir = cmd.WorkingDirectory
	execCmd.Env = e.buildEnvironment(cmd.Environment)
	execCmd.WaitDelay = e.config.WaitDelay
	setupProcessGroup(execCmd)
	execCmd.Cancel = func() error { return killProcessGroup(execCmd) }

	if cmd.Stdin != "" {
		execCmd.Stdin = strings.NewReader(cmd.Stdin)
	}

	maxOutput := cmd.Limits.MaxOutputBytes
	var stdoutBuf, stderrBuf, combinedBuf bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdoutBuf, max: maxOutput}
	stderrLimited := &limitedWriter{w: &stderrBuf, max: maxOutput}
	combined := &syncWriter{w: &limitedWriter{w: &combinedBuf, max: maxOutput}}

	var outSplit, errSplit *lineSplitter
	if onLine != nil {
		emitter := &lineEmitter{fn: onLine}
		outSplit = &lineSplitter{stream: StreamStdout, emit: emitter.emit}
		errSplit = &lineSplitter{stream: StreamStderr, emit: emitter.emit}
		execCmd.Stdout = io.MultiWriter(stdoutLimited, combined, outSplit)
		execCmd.Stderr = io.MultiWriter(stderrLimited, combined, errSplit)
	} else {
		execCmd.Stdout = io.MultiWriter(stdoutLimited, combined)
		execCmd.Stderr = io.MultiWriter(stderrLimited, combined)
	}

	result.StartedAt = time.Now()
	err := execCmd.Run()
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	if outSplit != nil {
		outSplit.Flush()
		errSplit.Flush()
	}

	result.Stdout = stdoutBuf.String()
	result.Stderr = stderrBuf.String()
	result.Combined = combinedBuf.String()

	if stdoutLimited.truncated || stderrLimited.truncated {
		result.Truncated = true
		result.TruncatedBytes = stdoutLimited.discarded + stderrLimited.discarded
		logging.ExecWarn("Command output truncated: %d bytes discarded", result.TruncatedBytes)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.Success = true
		result.ExitCode = 0
	case ctx.Err() != nil:
		result.Killed = true
		result.KillReason = "context canceled"
		result.Success = true
		logging.Exec("Command canceled: %s", cmd.Binary)
		e.emitAudit(AuditEventKilled, cmd, result)
		return result, nil
	case errors.Is(execCtx.Err(), context.DeadlineExceeded):
		result.Killed = true
		result.KillReason = fmt.Sprintf("timeout after %s", timeout)
		result.Success = true
		logging.ExecWarn("Command killed (timeout): %s after %s", cmd.Binary, timeout)
		e.emitAudit(AuditEventKilled, cmd, result)
		return result, nil
	case errors.As(err, &exitErr):
		result.Success = true
		result.ExitCode = exitErr.ExitCode()
		logging.ExecDebug("Command exited non-zero: %s -> %d", cmd.Binary, result.ExitCode)
	default:
		result.Success = false
		result.Error = err.Error()
		logging.ExecError("Command failed: %s - %v", cmd.Binary, err)
		e.emitAudit(AuditEventError, cmd, result)
		return result, nil
	}

	if e.config.EnableResourceUsage {
		result.ResourceUsage = getProcessResourceUsage(execCmd)
	}
	e.emitAudit(AuditEventComplete, cmd, result)

	logging.Exec("Command completed: %s -> exit=%d, duration=%s", cmd.Binary, result.ExitCode, result.Duration)
	return result, nil
}

// buildEnvironment creates the environment variable list.
func (e *DirectExecutor) buildEnvironment(cmdEnv []string) []string {
	var env []string
	if e.config.InheritEnvironment {
		env = os.Environ()
	} else {
		for _, key := range e.config.AllowedEnvironment {
			if val, ok := os.LookupEnv(key); ok {
				env = append(env, key+"="+val)
			}
		}
	}
	// os/exec keeps the last value for duplicate keys
	return append(env, cmdEnv...)
}

// limitedWriter is an io.Writer that limits total bytes written.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
	discarded int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)

	if lw.written >= lw.max {
		lw.truncated = true
		lw.discarded += int64(n)
		return n, nil
	}

	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		lw.discarded += int64(n) - remaining
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		return n, err // report full length so the pipe copier does not fail
	}

	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}

// syncWriter serializes writes from the stdout and stderr copiers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// lineEmitter guarantees onLine is never called concurrently.
type lineEmitter struct {
	mu sync.Mutex
	fn func(Line)
}

func (l *lineEmitter) emit(line Line) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fn(line)
}

// lineSplitter turns a byte stream into lines. A bare '\r' also ends a line
// so that progress bars from pip and conda arrive as discrete updates.
type lineSplitter struct {
	stream Stream
	emit   func(Line)
	buf    []byte
	prevCR bool
	// crEmitted is set when the pending '\r' run already ended a line, so the
	// '\n' of a CRLF pair must not end another one.
	crEmitted bool
}

func (s *lineSplitter) Write(p []byte) (int, error) {
	for _, b := range p {
		switch b {
		case '\n':
			if s.prevCR && s.crEmitted {
				s.prevCR, s.crEmitted = false, false
				continue
			}
			s.prevCR, s.crEmitted = false, false
			s.flushLine(true)
		case '\r':
			emitted := s.flushLine(false)
			s.crEmitted = emitted || (s.prevCR && s.crEmitted)
			s.prevCR = true
		default:
			s.prevCR, s.crEmitted = false, false
			s.buf = append(s.buf, b)
		}
	}
	return len(p), nil
}

func (s *lineSplitter) flushLine(keepEmpty bool) bool {
	if len(s.buf) == 0 && !keepEmpty {
		return false
	}
	s.emit(Line{Stream: s.stream, Text: string(s.buf)})
	s.buf = s.buf[:0]
	return true
}

// Flush emits any trailing partial line.
func (s *lineSplitter) Flush() {
	if len(s.buf) > 0 {
		s.flushLine(false)
	}
}
