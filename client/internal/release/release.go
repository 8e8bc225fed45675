// Package release resolves the latest game release and the patch artifact
// URLs for the current platform.
package release

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultFeedURL serves the release feed document
	DefaultFeedURL = "https://updates.butterlauncher.tech/versions_new.json"
	// DefaultPatchRootURL is the origin serving the versioned .pwr archives
	DefaultPatchRootURL = "https://game-patches.hytale.com/patches"

	// FallbackVersion is used when the feed is unreachable
	FallbackVersion = "7.pwr"
	// FallbackLastUpdated pairs with FallbackVersion
	FallbackLastUpdated = "2026-01-28"

	feedTimeout = 10 * time.Second
)

// Info is the release feed document.
type Info struct {
	LatestReleaseID int    `json:"latest_release_id"`
	LastUpdated     string `json:"last_updated"`
}

// Client fetches and interprets the release feed.
type Client struct {
	feedURL      string
	patchRootURL string
	httpClient   *http.Client
}

// NewClient creates a feed client against the default origins.
func NewClient() *Client {
	return NewClientWithURLs(DefaultFeedURL, DefaultPatchRootURL)
}

// NewClientWithURLs creates a feed client against custom origins.
func NewClientWithURLs(feedURL, patchRootURL string) *Client {
	return &Client{
		feedURL:      feedURL,
		patchRootURL: patchRootURL,
		httpClient:   &http.Client{Timeout: feedTimeout},
	}
}

// Info fetches the release feed.
func (c *Client) Info(ctx context.Context) (*Info, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch release feed: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			log.Warnf("error closing response body: %v", cerr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("release feed returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read release feed: %w", err)
	}

	info := &Info{}
	if err := json.Unmarshal(body, info); err != nil {
		return nil, fmt.Errorf("parse release feed: %w", err)
	}
	return info, nil
}

// LatestVersion returns the newest release artifact name, e.g. "7.pwr".
// Falls back to a known-good release when the feed is unreachable.
func (c *Client) LatestVersion(ctx context.Context) string {
	info, err := c.Info(ctx)
	if err != nil || info.LatestReleaseID == 0 {
		log.Warnf("falling back to release %s: %v", FallbackVersion, err)
		return FallbackVersion
	}
	return fmt.Sprintf("%d.pwr", info.LatestReleaseID)
}

// LastUpdated returns the release date used as the patch cache key.
func (c *Client) LastUpdated(ctx context.Context) string {
	info, err := c.Info(ctx)
	if err != nil || info.LastUpdated == "" {
		return FallbackLastUpdated
	}
	return info.LastUpdated
}

// FormattedVersionName returns the display name, e.g.
// "2026-01-28_build_release-7".
func (c *Client) FormattedVersionName(ctx context.Context) string {
	info, err := c.Info(ctx)
	if err != nil || info.LastUpdated == "" || info.LatestReleaseID == 0 {
		return fmt.Sprintf("%s_build_release-%s", FallbackLastUpdated, strings.TrimSuffix(FallbackVersion, ".pwr"))
	}
	return fmt.Sprintf("%s_build_release-%d", info.LastUpdated, info.LatestReleaseID)
}

// PatchURL builds the artifact URL for the current platform.
func (c *Client) PatchURL(version, channel string) string {
	if channel == "" {
		channel = "release"
	}
	fileName := version
	if !strings.HasSuffix(fileName, ".pwr") {
		fileName += ".pwr"
	}
	return fmt.Sprintf("%s/%s/%s/%s/0/%s", c.patchRootURL, runtime.GOOS, NormalizedArch(), channel, fileName)
}

// NormalizedArch maps the build architecture onto the patch origin's naming.
func NormalizedArch() string {
	switch runtime.GOARCH {
	case "amd64", "386":
		return "amd64"
	case "arm64":
		return "arm64"
	default:
		return runtime.GOARCH
	}
}

// IsUpdateAvailable compares the installed release against the latest one.
// Release names carry a numeric id ("7.pwr"); when either side does not
// parse, a plain inequality decides.
func IsUpdateAvailable(installed, latest string) bool {
	if installed == "" {
		return true
	}

	iv, errInstalled := goversion.NewVersion(strings.TrimSuffix(installed, ".pwr"))
	lv, errLatest := goversion.NewVersion(strings.TrimSuffix(latest, ".pwr"))
	if errInstalled != nil || errLatest != nil {
		return installed != latest
	}
	return iv.LessThan(lv)
}
