package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kamisetup/internal/installer"
	"kamisetup/internal/tactile"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleRun(id string, started time.Time, fail bool) *installer.Run {
	run := &installer.Run{
		ID:         id,
		Title:      "Install PyTorch",
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Steps: []installer.Step{
			{Name: "install-torch", Command: tactile.Command{Binary: "pip"}},
			{Name: "verify-torch", Command: tactile.Command{Binary: "python"}},
		},
		Results: []installer.StepResult{
			{Index: 0, Name: "install-torch", Command: "pip install torch", Status: installer.StepSucceeded, Duration: 80 * time.Second},
			{Index: 1, Name: "verify-torch", Command: "python -c 'import torch'", Status: installer.StepSucceeded, Duration: 2 * time.Second},
		},
	}
	if fail {
		run.Results[0].Status = installer.StepFailed
		run.Results[0].ExitCode = 1
		run.Results[0].Err = &installer.ExitError{Code: 1}
		run.Results[1].Status = installer.StepSkipped
		run.Results[1].Skipped = true
		run.Results[1].ExitCode = -1
	}
	return run
}

func TestRecordAndRecent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour).Truncate(time.Millisecond)

	require.NoError(t, s.Record(ctx, sampleRun("run-1", base, false)))
	require.NoError(t, s.Record(ctx, sampleRun("run-2", base.Add(time.Minute), true)))

	runs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.False(t, runs[0].OK)
	assert.Equal(t, "run-1", runs[1].ID)
	assert.True(t, runs[1].OK)
	assert.True(t, base.Equal(runs[1].StartedAt))
	assert.Equal(t, 90*time.Second, runs[1].Duration())

	limited, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSteps(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, sampleRun("run-x", time.Now(), true)))

	steps, err := s.Steps(ctx, "run-x")
	require.NoError(t, err)
	require.Len(t, steps, 2)

	assert.Equal(t, "install-torch", steps[0].Name)
	assert.Equal(t, "failed", steps[0].Status)
	assert.Equal(t, 1, steps[0].ExitCode)
	assert.Equal(t, "exited with code 1", steps[0].Error)
	assert.Equal(t, 80*time.Second, steps[0].Duration)
	assert.True(t, steps[1].Skipped)
}

func TestRecordIsIdempotent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	run := sampleRun("run-same", time.Now(), false)

	require.NoError(t, s.Record(ctx, run))
	require.NoError(t, s.Record(ctx, run))

	runs, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	require.NoError(t, s.Record(ctx, sampleRun("run-get", time.Now(), false)))

	r, err := s.Get(ctx, "run-get")
	require.NoError(t, err)
	assert.Equal(t, "Install PyTorch", r.Title)

	_, err = s.Get(ctx, "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(context.Background(), sampleRun("persisted", time.Now(), false)))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	runs, err := s.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "persisted", runs[0].ID)
}
