// Package pyrelease resolves CPython releases from the python.org FTP index
// and downloads and runs the official installers.
package pyrelease

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"kamisetup/internal/logging"
)

// DefaultIndexURL is the CPython release directory listing.
const DefaultIndexURL = "https://www.python.org/ftp/python/"

var releaseDir = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)/$`)

// Version is a CPython release number.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// MajorMinor returns e.g. "3.11".
func (v Version) MajorMinor() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Less orders versions ascending.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// Client talks to the python.org release index.
type Client struct {
	httpClient *http.Client
	indexURL   string
}

// NewClient creates a client for indexURL (DefaultIndexURL when empty).
func NewClient(indexURL string, httpClient *http.Client) *Client {
	if indexURL == "" {
		indexURL = DefaultIndexURL
	}
	if !strings.HasSuffix(indexURL, "/") {
		indexURL += "/"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Client{httpClient: httpClient, indexURL: indexURL}
}

// IndexURL is the release index root.
func (c *Client) IndexURL() string {
	return c.indexURL
}

// Versions fetches and parses the release index.
func (c *Client) Versions(ctx context.Context) ([]Version, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	logging.Download("Fetching Python version list from: %s", c.indexURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.indexURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch python index: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("python index: HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	return ParseIndex(io.LimitReader(resp.Body, 8<<20))
}

// ParseIndex collects the X.Y.Z/ directory links of an index page, sorted
// ascending and deduplicated.
func ParseIndex(r io.Reader) ([]Version, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse python index: %w", err)
	}

	seen := make(map[Version]bool)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if v, ok := parseReleaseHref(getAttr(n, "href")); ok {
				seen[v] = true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	versions := make([]Version, 0, len(seen))
	for v := range seen {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i].Less(versions[j]) })
	return versions, nil
}

func parseReleaseHref(href string) (Version, bool) {
	m := releaseDir.FindStringSubmatch(href)
	if m == nil {
		return Version{}, false
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	patch, _ := strconv.Atoi(m[3])
	return Version{Major: major, Minor: minor, Patch: patch}, true
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// Latest returns the highest patch release of majorMinor.
func Latest(versions []Version, majorMinor string) (Version, bool) {
	var best Version
	found := false
	for _, v := range versions {
		if v.MajorMinor() != majorMinor {
			continue
		}
		if !found || best.Less(v) {
			best, found = v, true
		}
	}
	return best, found
}

// ResolveLatest returns the newest X.Y.Z for a major.minor. When the index
// cannot be fetched or lists no such release, majorMinor is returned as is.
func (c *Client) ResolveLatest(ctx context.Context, majorMinor string) string {
	versions, err := c.Versions(ctx)
	if err != nil {
		logging.DownloadWarn("Error fetching latest Python versions: %v", err)
		return majorMinor
	}
	v, ok := Latest(versions, majorMinor)
	if !ok {
		logging.DownloadWarn("No release found for Python %s", majorMinor)
		return majorMinor
	}
	logging.Download("Latest full Python version found for %s: %s", majorMinor, v)
	return v.String()
}
