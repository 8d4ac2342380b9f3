package pyrelease

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kamisetup/internal/logging"
)

const indexPage = `<html><head><title>Index of /ftp/python/</title></head>
<body><h1>Index of /ftp/python/</h1><hr><pre>
<a href="../">../</a>
<a href="2.7.18/">2.7.18/</a>
<a href="3.10.11/">3.10.11/</a>
<a href="3.11.2/">3.11.2/</a>
<a href="3.11.10/">3.11.10/</a>
<a href="3.11.9/">3.11.9/</a>
<a href="3.12.0/">3.12.0/</a>
<a href="3.13.0a1/">3.13.0a1/</a>
<a href="doc/">doc/</a>
<a href="3.12.0/">3.12.0/</a>
</pre><hr></body></html>`

func TestParseIndex(t *testing.T) {
	versions, err := ParseIndex(strings.NewReader(indexPage))
	require.NoError(t, err)

	want := []Version{
		{2, 7, 18}, {3, 10, 11}, {3, 11, 2}, {3, 11, 9}, {3, 11, 10}, {3, 12, 0},
	}
	if diff := cmp.Diff(want, versions); diff != "" {
		t.Errorf("ParseIndex() mismatch (-want +got):\n%s", diff)
	}
}

func TestLatest(t *testing.T) {
	versions, err := ParseIndex(strings.NewReader(indexPage))
	require.NoError(t, err)

	v, ok := Latest(versions, "3.11")
	require.True(t, ok)
	assert.Equal(t, "3.11.10", v.String())

	_, ok = Latest(versions, "3.9")
	assert.False(t, ok)
}

func newIndexServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ftp/python/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ftp/python/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(indexPage))
	})
	mux.HandleFunc("/ftp/python/3.11.10/python-3.11.10-amd64.exe", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "2048")
		_, _ = w.Write(make([]byte, 2048))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveLatest(t *testing.T) {
	srv := newIndexServer(t)
	c := NewClient(srv.URL+"/ftp/python", srv.Client())

	assert.Equal(t, "3.11.10", c.ResolveLatest(context.Background(), "3.11"))
	assert.Equal(t, "3.9", c.ResolveLatest(context.Background(), "3.9"))
}

func TestResolveLatest_FallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, srv.Client())
	assert.Equal(t, "3.12", c.ResolveLatest(context.Background(), "3.12"))
}

func TestInstallerName(t *testing.T) {
	tests := []struct {
		goos, goarch, want string
	}{
		{"windows", "amd64", "python-3.11.9-amd64.exe"},
		{"windows", "arm64", "python-3.11.9-arm64.exe"},
		{"windows", "386", "python-3.11.9.exe"},
		{"darwin", "arm64", "python-3.11.9-macos11.pkg"},
	}
	for _, tt := range tests {
		got, err := InstallerName("3.11.9", tt.goos, tt.goarch)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := InstallerName("3.11.9", "linux", "amd64")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedPlatform))
	assert.Contains(t, errors.FlattenHints(err), "package manager")
}

func TestInstallerURL(t *testing.T) {
	c := NewClient("", nil)
	url, err := c.InstallerURL("3.11.9", "windows", "amd64")
	require.NoError(t, err)
	assert.Equal(t, "https://www.python.org/ftp/python/3.11.9/python-3.11.9-amd64.exe", url)
}

func TestDownload(t *testing.T) {
	srv := newIndexServer(t)
	c := NewClient(srv.URL+"/ftp/python/", srv.Client())
	dest := filepath.Join(t.TempDir(), "dl", "python.exe")

	var last, total int64
	n, err := c.Download(context.Background(), srv.URL+"/ftp/python/3.11.10/python-3.11.10-amd64.exe", dest,
		func(done, tot int64) { last, total = done, tot })
	require.NoError(t, err)
	assert.Equal(t, int64(2048), n)
	assert.Equal(t, int64(2048), last)
	assert.Equal(t, int64(2048), total)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(2048), info.Size())

	entries, err := os.ReadDir(filepath.Dir(dest))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be cleaned up")
}

func TestDownload_NotFound(t *testing.T) {
	srv := newIndexServer(t)
	c := NewClient(srv.URL+"/ftp/python/", srv.Client())
	dir := t.TempDir()

	_, err := c.Download(context.Background(), srv.URL+"/ftp/python/9.9.9/nope.exe", filepath.Join(dir, "x.exe"), nil)
	assert.ErrorContains(t, err, "HTTP 404")

	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestInstallCommand(t *testing.T) {
	cmd := InstallCommand(`C:\tmp\python-3.11.9-amd64.exe`, "windows")
	assert.Equal(t, `C:\tmp\python-3.11.9-amd64.exe`, cmd.Binary)
	assert.Equal(t, []string{"/passive", "/norestart"}, cmd.Arguments)

	cmd = InstallCommand("/tmp/python.pkg", "darwin")
	assert.Equal(t, "open", cmd.Binary)
	assert.Equal(t, []string{"-W", "/tmp/python.pkg"}, cmd.Arguments)
}

type recordingOutput struct {
	mu       sync.Mutex
	lines    []string
	progress int
}

func (r *recordingOutput) Printf(_ logging.Level, format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, format)
}

func (r *recordingOutput) Progress(int64, int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress++
}

func TestInstallSteps(t *testing.T) {
	srv := newIndexServer(t)
	c := NewClient(srv.URL+"/ftp/python/", srv.Client())
	dir := t.TempDir()

	steps, err := c.InstallSteps("3.11.10", dir, "windows", "amd64")
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, []string{"/passive", "/norestart"}, steps[1].Command.Arguments)
	assert.True(t, steps[2].Always)

	out := &recordingOutput{}
	require.NoError(t, steps[0].Func(context.Background(), out))
	installerPath := filepath.Join(dir, "python-3.11.10-amd64.exe")
	assert.FileExists(t, installerPath)
	assert.Positive(t, out.progress)

	require.NoError(t, steps[2].Func(context.Background(), out))
	assert.NoFileExists(t, installerPath)
	require.NoError(t, steps[2].Func(context.Background(), out), "removing twice is fine")

	_, err = c.InstallSteps("3.11.10", dir, "linux", "amd64")
	assert.Error(t, err)
}

func TestInstallStepsRejectsUnresolvedVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	c := NewClient(srv.URL+"/ftp/python/", srv.Client())

	latest := c.ResolveLatest(context.Background(), "3.11")
	require.Equal(t, "3.11", latest, "an unreachable index falls back to the input")

	steps, err := c.InstallSteps(latest, t.TempDir(), "windows", "amd64")
	assert.Nil(t, steps)
	assert.True(t, errors.Is(err, ErrUnresolvedVersion))
	assert.Contains(t, errors.FlattenHints(err), "3.11.0")
}

func TestIsFullVersion(t *testing.T) {
	assert.True(t, IsFullVersion("3.11.9"))
	assert.False(t, IsFullVersion("3.11"))
}
