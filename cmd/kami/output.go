package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"kamisetup/internal/installer"
	"kamisetup/internal/logging"
)

// eventPrinter renders runner events as console lines.
type eventPrinter struct {
	w     io.Writer
	steps int
}

func (p *eventPrinter) line(level logging.Level, format string, args ...interface{}) {
	fmt.Fprintln(p.w, logging.NewConsoleLine(level, format, args...).String())
}

func (p *eventPrinter) handle(ev installer.Event) {
	switch ev.Type {
	case installer.EventStepStarted:
		desc := ev.Step.Description
		if desc == "" {
			desc = ev.Step.Name
		}
		p.line(logging.LevelInfo, "Step %d/%d: %s", ev.StepIndex+1, p.steps, desc)
		if !ev.Step.Command.IsZero() {
			p.line(logging.LevelInfo, "$ %s", ev.Step.Command.CommandString())
		}
	case installer.EventOutput:
		fmt.Fprintln(p.w, ev.Line.String())
	case installer.EventStepFinished:
		r := ev.Result
		switch {
		case r.Status == installer.StepSucceeded:
			p.line(logging.LevelSuccess, "%s done in %s", r.Name, r.Duration.Round(time.Millisecond))
		case r.Status == installer.StepSkipped:
			p.line(logging.LevelWarn, "%s skipped", r.Name)
		case r.Tolerated:
			p.line(logging.LevelWarn, "%s failed, continuing: %v", r.Name, r.Err)
		default:
			p.line(logging.LevelError, "%s failed: %v", r.Name, r.Err)
		}
	}
}

// runSteps runs steps in the foreground, printing progress to w.
func runSteps(ctx context.Context, a *app, w io.Writer, title string, steps []installer.Step) (*installer.Run, error) {
	p := &eventPrinter{w: w, steps: len(steps)}
	p.line(logging.LevelInfo, "Starting %s (%d steps)", title, len(steps))
	if a.runner.DryRun() {
		p.line(logging.LevelWarn, "Dry run: commands are printed, not executed")
	}

	run, err := a.runner.RunSync(ctx, title, steps, p.handle)
	if run != nil {
		logger.Debug("Run finished",
			zap.String("run_id", run.ID),
			zap.Bool("succeeded", run.Succeeded()),
			zap.Duration("duration", run.Duration()))
	}
	if err != nil {
		return run, err
	}
	p.line(logging.LevelSuccess, "%s completed in %s", title, run.Duration().Round(time.Second))
	return run, nil
}
