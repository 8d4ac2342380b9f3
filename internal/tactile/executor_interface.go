package tactile

import (
	"context"
)

// Executor is the interface for command execution.
type Executor interface {
	// Execute runs a command and returns a comprehensive result.
	// The context can be used for cancellation.
	Execute(ctx context.Context, cmd Command) (*ExecutionResult, error)

	// Capabilities returns what this executor supports.
	Capabilities() ExecutorCapabilities

	// Validate checks if a command can be executed by this executor.
	Validate(cmd Command) error
}

// StreamExecutor is an Executor that can deliver output line by line while
// the process runs.
type StreamExecutor interface {
	Executor

	// Stream runs cmd and calls onLine for every complete output line, in
	// order per stream. onLine is never called concurrently. The returned
	// result is the same as Execute would produce.
	Stream(ctx context.Context, cmd Command, onLine func(Line)) (*ExecutionResult, error)
}
