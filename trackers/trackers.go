// Package trackers maintains a cached BitTorrent tracker list, used by
// the torrent handler to improve peer discovery beyond what a magnet
// link's own tracker tier provides.
package trackers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var errNoTrackersFetched = errors.New("trackers: no remote source returned a usable list")

var remoteListURLs = []string{
	"https://raw.githubusercontent.com/ngosang/trackerslist/master/trackers_best.txt",
	"https://cf.trackerslist.com/best.txt",
}

const (
	cacheFilename = "trackers.txt"
	cacheTTL      = 7 * 24 * time.Hour
)

// Manager caches a tracker list on disk, refreshing it from remote
// sources on expiry.
type Manager struct {
	cacheDir string
	client   *http.Client
}

// New builds a Manager that caches under cacheDir.
func New(cacheDir string) *Manager {
	return &Manager{
		cacheDir: cacheDir,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Get returns a tracker list: cached if fresh, freshly fetched and
// cached if not, or the bundled fallback if both the cache and every
// remote source are unavailable.
func (m *Manager) Get(ctx context.Context) []string {
	if trackers, ok := m.readCache(); ok {
		return trackers
	}

	trackers, err := m.fetchRemote(ctx)
	if err == nil && len(trackers) > 0 {
		_ = m.writeCache(trackers)
		return trackers
	}
	return FallbackTrackers()
}

// Refresh forces a remote fetch and updates the cache.
func (m *Manager) Refresh(ctx context.Context) ([]string, error) {
	trackers, err := m.fetchRemote(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.writeCache(trackers); err != nil {
		return nil, err
	}
	return trackers, nil
}

func (m *Manager) readCache() ([]string, bool) {
	path := filepath.Join(m.cacheDir, cacheFilename)
	fi, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if time.Since(fi.ModTime()) > cacheTTL {
		return nil, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	trackers := filterLines(string(data), func(s string) bool {
		return s != "" && !strings.HasPrefix(s, "#")
	})
	if len(trackers) == 0 {
		return nil, false
	}
	return trackers, true
}

func (m *Manager) writeCache(trackers []string) error {
	if err := os.MkdirAll(m.cacheDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(m.cacheDir, cacheFilename)
	return os.WriteFile(path, []byte(strings.Join(trackers, "\n")), 0o644)
}

func (m *Manager) fetchRemote(ctx context.Context) ([]string, error) {
	var lastErr error
	for _, listURL := range remoteListURLs {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := m.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			continue
		}
		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		trackers := filterLines(string(body), func(s string) bool {
			return strings.HasPrefix(s, "udp://") || strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
		})
		if len(trackers) > 0 {
			return trackers, nil
		}
	}
	if lastErr == nil {
		lastErr = errNoTrackersFetched
	}
	return nil, lastErr
}

func filterLines(content string, keep func(string) bool) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if keep(line) {
			out = append(out, line)
		}
	}
	return out
}

// FallbackTrackers returns the bundled list used when neither a cache
// nor any remote source is available.
func FallbackTrackers() []string {
	return []string{
		"udp://tracker.opentrackr.org:1337/announce",
		"udp://open.stealth.si:80/announce",
		"udp://tracker.torrent.eu.org:451/announce",
		"udp://exodus.desync.com:6969/announce",
		"udp://tracker.openbittorrent.com:6969/announce",
		"udp://open.demonii.com:1337/announce",
		"udp://tracker.moeking.me:6969/announce",
		"udp://explodie.org:6969/announce",
		"udp://tracker1.bt.moack.co.kr:80/announce",
		"udp://tracker.theoks.net:6969/announce",
	}
}
