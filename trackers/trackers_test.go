package trackers

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetUsesFreshCache(t *testing.T) {
	dir := t.TempDir()
	content := "udp://a.example:1/announce\n# comment\n\nudp://b.example:2/announce\n"
	if err := os.WriteFile(filepath.Join(dir, cacheFilename), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m := New(dir)
	got := m.Get(context.Background())
	want := []string{"udp://a.example:1/announce", "udp://b.example:2/announce"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestGetIgnoresExpiredCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, cacheFilename)
	if err := os.WriteFile(path, []byte("udp://stale.example:1/announce\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-8 * 24 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	// No network in tests, so an expired cache with no reachable remote
	// falls back to the bundled list rather than the stale cache.
	m := New(dir)
	got := m.Get(context.Background())
	for _, tr := range got {
		if tr == "udp://stale.example:1/announce" {
			t.Fatal("expected the expired cache entry to be discarded")
		}
	}
}

func TestReadCacheRejectsEmptyAfterFiltering(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, cacheFilename), []byte("# only a comment\n\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := New(dir)
	if _, ok := m.readCache(); ok {
		t.Fatal("expected a comment-only cache file to be rejected")
	}
}

func TestFallbackTrackersNonEmpty(t *testing.T) {
	trackers := FallbackTrackers()
	if len(trackers) == 0 {
		t.Fatal("expected a non-empty fallback list")
	}
}

func TestFilterLinesTrimsAndFilters(t *testing.T) {
	got := filterLines("  a  \n\nb\n  \n", func(s string) bool { return s != "" })
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected filter result: %v", got)
	}
}
