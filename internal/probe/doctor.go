// Package probe runs the system checks behind `kami doctor` and the
// System doctor page.
package probe

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"kamisetup/internal/conda"
	"kamisetup/internal/gpu"
	"kamisetup/internal/logging"
	"kamisetup/internal/pyrelease"
	"kamisetup/internal/python"
	"kamisetup/internal/tactile"
)

// Check is the outcome of one probe.
type Check struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
	Hint   string `json:"hint,omitempty"`
}

// Report collects every check.
type Report struct {
	Checks []Check `json:"checks"`
	// Python maps major.minor to the installed full version.
	Python map[string]string `json:"python"`
	GPU    *gpu.Report       `json:"gpu,omitempty"`
	// SuggestedCUDA is the best CUDA build for this machine, "" for CPU.
	SuggestedCUDA string        `json:"suggested_cuda"`
	CondaVersion  string        `json:"conda_version,omitempty"`
	Venvs         []string      `json:"venvs"`
	Duration      time.Duration `json:"duration"`
}

// OK reports whether every check passed.
func (r *Report) OK() bool {
	for _, c := range r.Checks {
		if !c.OK {
			return false
		}
	}
	return true
}

// Doctor runs the probes.
type Doctor struct {
	Executor       tactile.Executor
	PythonVersions []string
	CUDAVersions   []string
	Workspace      string
	Timeout        time.Duration

	// Releases checks python.org reachability when set.
	Releases *pyrelease.Client
}

// Run executes all checks concurrently. Individual failures are reported
// in the checks; the error is only set when ctx is done.
func (d *Doctor) Run(ctx context.Context) (*Report, error) {
	timer := logging.StartTimer(logging.CategoryEnv, "doctor")
	defer timer.Stop()

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	report := &Report{Python: make(map[string]string)}
	var mu sync.Mutex
	add := func(c Check) {
		mu.Lock()
		defer mu.Unlock()
		report.Checks = append(report.Checks, c)
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		version, err := conda.New(d.Executor).Check(egCtx)
		if err != nil {
			add(failed("conda", err))
			return nil
		}
		mu.Lock()
		report.CondaVersion = version
		mu.Unlock()
		add(Check{Name: "conda", OK: true, Detail: "conda " + version})
		return nil
	})

	for _, v := range d.PythonVersions {
		v := v
		eg.Go(func() error {
			full, err := python.CheckVersion(egCtx, d.Executor, v)
			name := "python " + v
			if err != nil {
				add(failed(name, err))
				return nil
			}
			mu.Lock()
			report.Python[v] = full
			mu.Unlock()
			add(Check{Name: name, OK: true, Detail: "Python " + full})
			add(PipCheck(egCtx, d.Executor, v))
			return nil
		})
	}

	eg.Go(func() error {
		r, err := gpu.Detect(egCtx, d.Executor)
		if err != nil {
			add(failed("nvidia gpu", err))
			return nil
		}
		suggested := gpu.SuggestCUDA(r, d.CUDAVersions)
		mu.Lock()
		report.GPU = r
		report.SuggestedCUDA = suggested
		mu.Unlock()
		add(gpuCheck(r, suggested))
		return nil
	})

	if d.Workspace != "" {
		eg.Go(func() error {
			venvs, err := python.FindLocalVenvs(d.Workspace)
			if err != nil {
				add(failed("venvs", err))
				return nil
			}
			mu.Lock()
			report.Venvs = venvs
			mu.Unlock()
			add(Check{Name: "venvs", OK: true, Detail: venvDetail(venvs)})
			return nil
		})
	}

	if d.Releases != nil {
		eg.Go(func() error {
			versions, err := d.Releases.Versions(egCtx)
			if err != nil {
				add(Check{Name: "python.org", Detail: err.Error(), Hint: "check your network or proxy settings"})
				return nil
			}
			add(Check{Name: "python.org", OK: true, Detail: fmt.Sprintf("%d releases listed", len(versions))})
			return nil
		})
	}

	// probes report their own failures
	_ = eg.Wait()

	sort.Slice(report.Checks, func(i, j int) bool { return report.Checks[i].Name < report.Checks[j].Name })
	report.Duration = time.Since(start)
	logging.Env("Doctor finished in %s: ok=%v", report.Duration, report.OK())

	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return report, err
	}
	return report, nil
}

// PipCheck verifies pip for an installed interpreter version.
func PipCheck(ctx context.Context, executor tactile.Executor, version string) Check {
	bin, args := python.Interpreter(version)
	res, err := executor.Execute(ctx, tactile.Command{
		Binary:    bin,
		Arguments: append(args, "-m", "pip", "--version"),
		Limits:    &tactile.ResourceLimits{TimeoutMs: 30000},
	})
	name := "pip (python " + version + ")"
	if err != nil {
		return failed(name, err)
	}
	if !res.OK() {
		return Check{Name: name, Detail: strings.TrimSpace(res.Output()), Hint: "run: python" + version + " -m ensurepip --upgrade"}
	}
	return Check{Name: name, OK: true, Detail: firstLine(res.Output())}
}

func failed(name string, err error) Check {
	return Check{Name: name, Detail: err.Error(), Hint: errors.FlattenHints(err)}
}

func gpuCheck(r *gpu.Report, suggested string) Check {
	if !r.Available {
		return Check{Name: "nvidia gpu", OK: true, Detail: "none detected, PyTorch will use the CPU build"}
	}
	names := make([]string, 0, len(r.GPUs))
	for _, g := range r.GPUs {
		names = append(names, g.Name)
	}
	detail := fmt.Sprintf("%s (driver %s, CUDA %s)", strings.Join(names, ", "), r.DriverVersion, r.CUDAVersion)
	if suggested != "" {
		detail += ", suggested CUDA build " + suggested
	}
	return Check{Name: "nvidia gpu", OK: true, Detail: detail}
}

func venvDetail(venvs []string) string {
	if len(venvs) == 0 {
		return "no venvs in workspace"
	}
	return strings.Join(venvs, ", ")
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
