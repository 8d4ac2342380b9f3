// Package gpu probes nvidia-smi and maps the driver's CUDA support onto the
// CUDA builds offered for PyTorch.
package gpu

import (
	"context"
	"encoding/csv"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"kamisetup/internal/logging"
	"kamisetup/internal/tactile"
)

const smiBinary = "nvidia-smi"

var cudaHeader = regexp.MustCompile(`CUDA Version:\s*(\d+\.\d+)`)

// Detect queries nvidia-smi. A missing binary or driver is not an error: the
// report comes back with Available=false and ErrorMessage set.
func Detect(ctx context.Context, executor tactile.Executor) (*Report, error) {
	timer := logging.StartTimer(logging.CategoryGPU, "gpu detect")
	defer timer.Stop()

	report := &Report{}
	result, err := executor.Execute(ctx, tactile.Command{
		Binary: smiBinary,
		Arguments: []string{
			"--query-gpu=index,name,uuid,memory.total,driver_version",
			"--format=csv,noheader,nounits",
		},
		Limits: &tactile.ResourceLimits{TimeoutMs: 15000},
	})
	if err != nil {
		return nil, err
	}
	if !result.OK() {
		report.ErrorMessage = describeFailure(result)
		logging.GPU("No NVIDIA GPU: %s", report.ErrorMessage)
		return report, nil
	}

	gpus, driver, err := ParseQuery(result.Stdout)
	if err != nil {
		report.ErrorMessage = err.Error()
		return report, nil
	}
	report.GPUs = gpus
	report.DriverVersion = driver
	report.Available = len(gpus) > 0

	header, err := executor.Execute(ctx, tactile.Command{
		Binary: smiBinary,
		Limits: &tactile.ResourceLimits{TimeoutMs: 15000},
	})
	if err == nil && header.OK() {
		report.CUDAVersion = ParseCUDAVersion(header.Stdout)
	}

	logging.GPU("Detected %d GPU(s), driver=%s cuda=%s", len(gpus), driver, report.CUDAVersion)
	return report, nil
}

func describeFailure(result *tactile.ExecutionResult) string {
	if result.Error != "" {
		return result.Error
	}
	if result.Killed {
		return result.KillReason
	}
	out := strings.TrimSpace(result.Output())
	if out == "" {
		return fmt.Sprintf("nvidia-smi exited with code %d", result.ExitCode)
	}
	return out
}

// ParseQuery parses `nvidia-smi --query-gpu=index,name,uuid,memory.total,driver_version
// --format=csv,noheader,nounits` output.
func ParseQuery(output string) ([]Info, string, error) {
	r := csv.NewReader(strings.NewReader(strings.TrimSpace(output)))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = 5

	records, err := r.ReadAll()
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse nvidia-smi output: %w", err)
	}

	var gpus []Info
	driver := ""
	for _, rec := range records {
		idx, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, "", fmt.Errorf("invalid gpu index %q: %w", rec[0], err)
		}
		mem, _ := strconv.ParseUint(strings.TrimSpace(rec[3]), 10, 64)
		gpus = append(gpus, Info{
			Index:    idx,
			Name:     strings.TrimSpace(rec[1]),
			UUID:     strings.TrimSpace(rec[2]),
			MemoryMB: mem,
		})
		if driver == "" {
			driver = strings.TrimSpace(rec[4])
		}
	}
	return gpus, driver, nil
}

// ParseCUDAVersion extracts the "CUDA Version: X.Y" banner of plain nvidia-smi.
func ParseCUDAVersion(output string) string {
	m := cudaHeader.FindStringSubmatch(output)
	if m == nil {
		return ""
	}
	return m[1]
}

// SuggestCUDA picks the newest supported toolkit the driver can run.
// It returns "" when the CPU build should be used.
func SuggestCUDA(report *Report, supported []string) string {
	if report == nil || !report.Available || report.CUDAVersion == "" {
		return ""
	}
	limit, ok := parseMajorMinor(report.CUDAVersion)
	if !ok {
		return ""
	}

	best := ""
	var bestV [2]int
	for _, s := range supported {
		v, ok := parseMajorMinor(s)
		if !ok || compare(v, limit) > 0 {
			continue
		}
		if best == "" || compare(v, bestV) > 0 {
			best, bestV = s, v
		}
	}
	return best
}

func parseMajorMinor(s string) ([2]int, bool) {
	parts := strings.SplitN(s, ".", 3)
	if len(parts) < 2 {
		return [2]int{}, false
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return [2]int{}, false
	}
	return [2]int{major, minor}, true
}

func compare(a, b [2]int) int {
	if a[0] != b[0] {
		return a[0] - b[0]
	}
	return a[1] - b[1]
}
