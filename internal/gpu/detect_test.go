package gpu

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kamisetup/internal/tactile"
)

const queryOutput = `0, NVIDIA GeForce RTX 4090, GPU-1111, 24564, 550.54.14
1, NVIDIA RTX A4000, GPU-2222, 16376, 550.54.14
`

const smiBanner = `+-----------------------------------------------------------------------------------------+
| NVIDIA-SMI 550.54.14              Driver Version: 550.54.14      CUDA Version: 12.4     |
|-----------------------------------------+------------------------+----------------------+
`

type smiExecutor struct {
	query, banner *tactile.ExecutionResult
}

func (s *smiExecutor) Execute(_ context.Context, cmd tactile.Command) (*tactile.ExecutionResult, error) {
	if len(cmd.Arguments) == 0 {
		return s.banner, nil
	}
	return s.query, nil
}

func (s *smiExecutor) Capabilities() tactile.ExecutorCapabilities { return tactile.ExecutorCapabilities{} }

func (s *smiExecutor) Validate(tactile.Command) error { return nil }

func TestParseQuery(t *testing.T) {
	gpus, driver, err := ParseQuery(queryOutput)
	require.NoError(t, err)

	want := []Info{
		{Index: 0, Name: "NVIDIA GeForce RTX 4090", UUID: "GPU-1111", MemoryMB: 24564},
		{Index: 1, Name: "NVIDIA RTX A4000", UUID: "GPU-2222", MemoryMB: 16376},
	}
	if diff := cmp.Diff(want, gpus); diff != "" {
		t.Errorf("ParseQuery() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "550.54.14", driver)
}

func TestParseQuery_Malformed(t *testing.T) {
	_, _, err := ParseQuery("garbage")
	assert.Error(t, err)
}

func TestParseCUDAVersion(t *testing.T) {
	assert.Equal(t, "12.4", ParseCUDAVersion(smiBanner))
	assert.Equal(t, "", ParseCUDAVersion("no banner"))
}

func TestDetect(t *testing.T) {
	exec := &smiExecutor{
		query:  &tactile.ExecutionResult{Success: true, Stdout: queryOutput},
		banner: &tactile.ExecutionResult{Success: true, Stdout: smiBanner},
	}
	report, err := Detect(context.Background(), exec)
	require.NoError(t, err)
	assert.True(t, report.Available)
	assert.Len(t, report.GPUs, 2)
	assert.Equal(t, "12.4", report.CUDAVersion)
	assert.Empty(t, report.ErrorMessage)
}

func TestDetect_NoDriver(t *testing.T) {
	exec := &smiExecutor{
		query: &tactile.ExecutionResult{Success: false, ExitCode: -1, Error: "executable file not found"},
	}
	report, err := Detect(context.Background(), exec)
	require.NoError(t, err)
	assert.False(t, report.Available)
	assert.Equal(t, "executable file not found", report.ErrorMessage)
}

func TestSuggestCUDA(t *testing.T) {
	supported := []string{"11.8", "12.1", "12.4"}

	tests := []struct {
		name   string
		report *Report
		want   string
	}{
		{"nil report", nil, ""},
		{"no gpu", &Report{}, ""},
		{"exact match", &Report{Available: true, CUDAVersion: "12.4"}, "12.4"},
		{"newer driver", &Report{Available: true, CUDAVersion: "12.6"}, "12.4"},
		{"between builds", &Report{Available: true, CUDAVersion: "12.2"}, "12.1"},
		{"old driver", &Report{Available: true, CUDAVersion: "11.8"}, "11.8"},
		{"too old", &Report{Available: true, CUDAVersion: "11.4"}, ""},
		{"unknown cuda", &Report{Available: true}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SuggestCUDA(tt.report, supported))
		})
	}
}
