package pyrelease

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"

	"kamisetup/internal/installer"
	"kamisetup/internal/logging"
	"kamisetup/internal/tactile"
)

// ErrUnsupportedPlatform is returned where python.org ships no installer.
var ErrUnsupportedPlatform = errors.New("no python.org installer for this platform")

// ErrUnresolvedVersion is returned when an installer is requested for a
// major.minor version that could not be resolved to a release.
var ErrUnresolvedVersion = errors.New("could not resolve a full Python version")

// InstallerName is the file name of the official installer.
func InstallerName(full, goos, goarch string) (string, error) {
	switch goos {
	case "windows":
		switch goarch {
		case "amd64":
			return fmt.Sprintf("python-%s-amd64.exe", full), nil
		case "arm64":
			return fmt.Sprintf("python-%s-arm64.exe", full), nil
		default:
			return fmt.Sprintf("python-%s.exe", full), nil
		}
	case "darwin":
		return fmt.Sprintf("python-%s-macos11.pkg", full), nil
	}
	return "", errors.WithHint(
		errors.Wrapf(ErrUnsupportedPlatform, "%s/%s", goos, goarch),
		"install Python with your distribution's package manager, e.g. apt install python3.11-venv, or use conda")
}

// InstallerURL is the download URL of the installer for full, e.g. "3.11.9".
func (c *Client) InstallerURL(full, goos, goarch string) (string, error) {
	name, err := InstallerName(full, goos, goarch)
	if err != nil {
		return "", err
	}
	return c.indexURL + full + "/" + name, nil
}

// Download streams url into dest, reporting bytes received. total is -1
// when the server sends no length.
func (c *Client) Download(ctx context.Context, url, dest string, progress func(done, total int64)) (int64, error) {
	timer := logging.StartTimer(logging.CategoryDownload, "download "+filepath.Base(dest))
	defer timer.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("download %s: HTTP %d: %s", url, resp.StatusCode, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create download directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".part-*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	pw := &progressWriter{total: resp.ContentLength, report: progress}
	n, err := io.Copy(io.MultiWriter(tmp, pw), resp.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("failed to download %s: %w", url, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return n, fmt.Errorf("failed to move download into place: %w", err)
	}

	logging.Download("Downloaded %s (%s) to %s", url, humanize.Bytes(uint64(n)), dest)
	return n, nil
}

type progressWriter struct {
	done   int64
	total  int64
	report func(done, total int64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.done += int64(len(b))
	if p.report != nil {
		p.report(p.done, p.total)
	}
	return len(b), nil
}

// InstallCommand runs a downloaded installer: unattended with a progress
// window on Windows, the macOS Installer app otherwise.
func InstallCommand(path, goos string) tactile.Command {
	if goos == "darwin" {
		return tactile.Command{Binary: "open", Arguments: []string{"-W", path}}
	}
	return tactile.Command{Binary: path, Arguments: []string{"/passive", "/norestart"}}
}

// InstallSteps downloads the installer for full into dir, runs it and
// deletes it again, even when the install fails.
func (c *Client) InstallSteps(full, dir, goos, goarch string) ([]installer.Step, error) {
	if !IsFullVersion(full) {
		return nil, errors.WithHintf(errors.Wrapf(ErrUnresolvedVersion, "%q", full),
			"check the connection to %s or pass a full version such as %s.0", c.IndexURL(), full)
	}
	url, err := c.InstallerURL(full, goos, goarch)
	if err != nil {
		return nil, err
	}
	name, _ := InstallerName(full, goos, goarch)
	dest, err := filepath.Abs(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}

	download := func(ctx context.Context, out installer.Output) error {
		out.Printf(logging.LevelInfo, "Downloading Python %s installer from: %s", full, url)
		var lastDecile int64 = -1
		n, err := c.Download(ctx, url, dest, func(done, total int64) {
			out.Progress(done, total)
			if total > 0 {
				pct := done * 100 / total
				if pct/10 != lastDecile {
					lastDecile = pct / 10
					out.Printf(logging.LevelInfo, "Downloaded %d%% (%s / %s)", pct,
						humanize.Bytes(uint64(done)), humanize.Bytes(uint64(total)))
				}
			}
		})
		if err != nil {
			out.Printf(logging.LevelError, "Error downloading Python installer: %v", err)
			return err
		}
		out.Printf(logging.LevelSuccess, "Python installer downloaded to: %s (%s)", dest, humanize.Bytes(uint64(n)))
		return nil
	}

	cleanup := func(_ context.Context, out installer.Output) error {
		err := os.Remove(dest)
		if err != nil && !os.IsNotExist(err) {
			out.Printf(logging.LevelError, "Error deleting installer file: %v", err)
			return err
		}
		return nil
	}

	return []installer.Step{
		{Name: "download-python", Description: "Download Python " + full, Func: download},
		{Name: "install-python", Description: "Install Python " + full, Command: InstallCommand(dest, goos)},
		{Name: "remove-installer", Description: "Remove " + name, Func: cleanup, Always: true, ContinueOnError: true},
	}, nil
}

// IsFullVersion reports whether v looks like X.Y.Z.
func IsFullVersion(v string) bool {
	return strings.Count(v, ".") == 2
}
