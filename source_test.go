package nebula

import "testing"

func TestClassifyHTTP(t *testing.T) {
	s := Classify("https://example.com/file.zip")
	if s.Kind != SourceHTTP {
		t.Fatalf("expected SourceHTTP, got %v", s.Kind)
	}
}

func TestClassifyMagnetExtractsDisplayName(t *testing.T) {
	s := Classify("magnet:?xt=urn:btih:abc123&dn=demo-file")
	if s.Kind != SourceMagnet {
		t.Fatalf("expected SourceMagnet, got %v", s.Kind)
	}
	if s.MagnetName == nil || *s.MagnetName != "demo-file" {
		t.Fatalf("expected dn=demo-file, got %v", s.MagnetName)
	}
}

func TestClassifyMagnetWithoutDisplayName(t *testing.T) {
	s := Classify("magnet:?xt=urn:btih:abc123")
	if s.Kind != SourceMagnet {
		t.Fatalf("expected SourceMagnet, got %v", s.Kind)
	}
	if s.MagnetName != nil {
		t.Fatalf("expected no display name, got %v", *s.MagnetName)
	}
}

func TestClassifyTorrentFileFallback(t *testing.T) {
	s := Classify("/path/to/file.torrent")
	if s.Kind != SourceTorrentFile {
		t.Fatalf("expected SourceTorrentFile, got %v", s.Kind)
	}
	if s.Path != "/path/to/file.torrent" {
		t.Fatalf("unexpected path %q", s.Path)
	}
}

func TestClassifyFTP(t *testing.T) {
	s := Classify("ftp://example.com/file.bin")
	if s.Kind != SourceFTP {
		t.Fatalf("expected SourceFTP, got %v", s.Kind)
	}
}

func TestClassifyVideoBeforeHTTP(t *testing.T) {
	// youtu.be is an http(s) URL but must classify as Video, not HTTP.
	s := Classify("https://youtu.be/dQw4w9WgXcQ?t=30")
	if s.Kind != SourceVideo {
		t.Fatalf("expected SourceVideo, got %v", s.Kind)
	}
}

func TestClassifyIsTotalAndDeterministic(t *testing.T) {
	inputs := []string{
		"https://example.com/a.zip",
		"magnet:?xt=urn:btih:abc",
		"/a/b/c.torrent",
		"ftp://host/a.bin",
		"https://www.bilibili.com/video/BV1xx411c7mD",
		"",
	}
	for _, in := range inputs {
		a := Classify(in)
		b := Classify(in)
		if a.Kind != b.Kind {
			t.Fatalf("classification of %q is not stable across runs", in)
		}
	}
}

func TestDisplayNameHTTPBasename(t *testing.T) {
	s := Classify("https://example.com/path/to/file.zip?token=x")
	if got := s.DisplayName(); got != "file.zip" {
		t.Fatalf("expected file.zip, got %q", got)
	}
}

func TestDisplayNameTorrentFileStem(t *testing.T) {
	s := Classify("/downloads/my-show.torrent")
	if got := s.DisplayName(); got != "my-show" {
		t.Fatalf("expected my-show, got %q", got)
	}
}
