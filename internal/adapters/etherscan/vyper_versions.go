package etherscan

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const vyperReleasesURL = "https://vyper-releases-mirror.hardhat.org/list.json"

// assetVersionRe pulls "0.3.10+commit.91361694" out of an asset file name
// like "vyper.0.3.10+commit.91361694.linux".
var assetVersionRe = regexp.MustCompile(`vyper\.(\d+\.\d+\.\d+\+commit\.[0-9a-f]+)`)

// VyperVersionCache maps the short version explorers report ("0.3.10") to
// the full commit-qualified version the compiler repository uses. The
// release list is cached for an hour and refreshed once on a miss.
type VyperVersionCache struct {
	log      *slog.Logger
	http     *retryablehttp.Client
	listURL  string
	versions *expirable.LRU[string, string]
}

// NewVyperVersionCache builds the release list cache.
func NewVyperVersionCache(log *slog.Logger) *VyperVersionCache {
	client := retryablehttp.NewClient()
	client.RetryMax = 2
	client.Logger = nil
	return &VyperVersionCache{
		log:      log.With("component", "VyperVersionCache"),
		http:     client,
		listURL:  vyperReleasesURL,
		versions: expirable.NewLRU[string, string](256, nil, time.Hour),
	}
}

// Resolve maps a short vyper version to its commit-qualified form.
func (c *VyperVersionCache) Resolve(ctx context.Context, short string) (string, error) {
	if long, ok := c.versions.Get(short); ok {
		return long, nil
	}
	// Miss: refresh the list once and try again.
	if err := c.refresh(ctx); err != nil {
		return "", err
	}
	if long, ok := c.versions.Get(short); ok {
		return long, nil
	}
	return "", fmt.Errorf("vyper version %s not found in release list", short)
}

// githubRelease is the subset of a GitHub release object the mirror serves.
type githubRelease struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name string `json:"name"`
	} `json:"assets"`
}

func (c *VyperVersionCache) refresh(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.listURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetching vyper release list: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vyper release list returned HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var releases []githubRelease
	if err := json.Unmarshal(body, &releases); err != nil {
		return fmt.Errorf("parsing vyper release list: %w", err)
	}

	count := 0
	for _, release := range releases {
		short := strings.TrimPrefix(release.TagName, "v")
		for _, asset := range release.Assets {
			m := assetVersionRe.FindStringSubmatch(asset.Name)
			if m == nil {
				continue
			}
			c.versions.Add(short, m[1])
			count++
			break
		}
	}
	c.log.Debug("refreshed vyper release list", "versions", count)
	return nil
}
