package recipes

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"kamisetup/internal/installer"
	"kamisetup/internal/logging"
)

// DefaultRequirementsFile is looked up in the workspace when no path is given.
const DefaultRequirementsFile = "requirements.txt"

var torchFamily = map[string]bool{"torch": true, "torchvision": true, "torchaudio": true}

// inlineComment matches a '#' at line start or after whitespace, as pip does.
var inlineComment = regexp.MustCompile(`(^|\s)#.*$`)

// pathOptions take a file or directory argument that pip resolves relative
// to the requirements file containing them.
var pathOptions = []string{"-r", "--requirement", "-c", "--constraint", "-e", "--editable"}

// ParseRequirements returns the non-blank, non-comment lines of a
// requirements file with inline comments removed.
func ParseRequirements(r io.Reader) ([]string, error) {
	var reqs []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(inlineComment.ReplaceAllString(scanner.Text(), ""))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		reqs = append(reqs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read requirements: %w", err)
	}
	return reqs, nil
}

// requirementName returns the lowercase distribution name of a requirement
// line, or "" for option lines such as -e or --extra-index-url.
func requirementName(line string) string {
	if strings.HasPrefix(line, "-") {
		return ""
	}
	end := strings.IndexAny(line, "<>=!~;[ @")
	if end < 0 {
		end = len(line)
	}
	return strings.ToLower(strings.TrimSpace(line[:end]))
}

// SplitTorch separates PyTorch packages from the rest so they can be
// installed from the wheel index matching the selected device.
func SplitTorch(reqs []string) (torch, other []string) {
	for _, r := range reqs {
		if torchFamily[requirementName(r)] {
			torch = append(torch, r)
		} else {
			other = append(other, r)
		}
	}
	return torch, other
}

// RebaseRequirement rewrites a relative path in an option line such as
// "-r base.txt" or "-e ./pkg", or a bare "./pkg" line, so it resolves from
// dir. Other lines, URLs and absolute paths are returned unchanged.
func RebaseRequirement(line, dir string) string {
	for _, opt := range pathOptions {
		var arg, sep string
		switch {
		case strings.HasPrefix(line, opt+"="):
			arg, sep = line[len(opt)+1:], "="
		case strings.HasPrefix(line, opt+" "), strings.HasPrefix(line, opt+"\t"):
			arg, sep = strings.TrimSpace(line[len(opt):]), " "
		case len(opt) == 2 && len(line) > 2 && strings.HasPrefix(line, opt) && line[2] != '-':
			arg, sep = line[2:], ""
		default:
			continue
		}
		if arg == "" || filepath.IsAbs(arg) || strings.Contains(arg, "://") || (strings.Contains(arg, "+") && strings.Contains(arg, "@")) {
			return line
		}
		if opt == "-e" || opt == "--editable" {
			if !strings.HasPrefix(arg, ".") && !strings.ContainsAny(arg, "/\\") {
				return line
			}
		}
		return opt + sep + filepath.Join(dir, arg)
	}
	if strings.HasPrefix(line, "./") || strings.HasPrefix(line, "../") {
		return filepath.Join(dir, line)
	}
	return line
}

// Requirements installs a requirements file into t. When torchOpts is set,
// torch-family requirements are installed first from its wheel index.
func Requirements(t Target, path string, torchOpts *TorchOptions) ([]installer.Step, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if path == "" {
		path = filepath.Join(t.Workspace, DefaultRequirementsFile)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("requirements file: %w", err)
	}
	defer f.Close()

	reqs, err := ParseRequirements(f)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%s lists no requirements", path)
	}

	torch, other := SplitTorch(reqs)
	if torchOpts == nil || len(torch) == 0 {
		return []installer.Step{{
			Name:        "install-requirements",
			Description: "Install " + filepath.Base(path),
			Command:     t.Pip("install", "-r", path),
		}}, nil
	}
	logging.Install("Splitting %d torch requirement(s) out of %s", len(torch), path)

	args := append([]string{"install"}, torch...)
	args = append(args, "--index-url", torchOpts.WheelIndex())
	steps := []installer.Step{{
		Name:        "install-torch-requirements",
		Description: "Install PyTorch requirements from " + torchOpts.WheelIndex(),
		Command:     t.Pip(args...),
	}}
	if len(other) == 0 {
		return steps, nil
	}

	// The rest file lives under .kami, so nested -r/-c/-e paths are made
	// relative to the original file's directory before it is written.
	rebased := make([]string, len(other))
	for i, line := range other {
		rebased[i] = RebaseRequirement(line, filepath.Dir(path))
	}
	rest := filepath.Join(t.Workspace, ".kami", "requirements.rest.txt")
	restAbs, err := filepath.Abs(rest)
	if err != nil {
		return nil, err
	}
	steps = append(steps,
		installer.Step{
			Name:        "write-requirements",
			Description: "Write remaining requirements to " + rest,
			Func:        writeRequirements(restAbs, other),
		},
		installer.Step{
			Name:        "install-requirements",
			Description: "Install remaining requirements",
			Command:     t.Pip("install", "-r", restAbs),
		},
	)
	return steps, nil
}

func writeRequirements(path string, reqs []string) installer.StepFunc {
	return func(_ context.Context, out installer.Output) error {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(strings.Join(reqs, "\n")+"\n"), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		out.Printf(logging.LevelInfo, "Wrote %d requirement(s) to %s", len(reqs), path)
		return nil
	}
}
