package videodl

import "testing"

func TestParseProgressLineFull(t *testing.T) {
	line := "[download]  45.2% of 100.00MiB at 5.00MiB/s ETA 00:10"
	p, ok := parseProgressLine(line)
	if !ok {
		t.Fatal("expected a parsed progress value")
	}
	if p.Percentage != 45.2 {
		t.Fatalf("expected percentage 45.2, got %v", p.Percentage)
	}
	wantTotal := uint64(100.00 * 1024 * 1024)
	if p.TotalSize != wantTotal {
		t.Fatalf("expected total size %d, got %d", wantTotal, p.TotalSize)
	}
	wantRate := uint64(5.00 * 1024 * 1024)
	if p.DownloadRate != wantRate {
		t.Fatalf("expected download rate %d, got %d", wantRate, p.DownloadRate)
	}
	if p.ETASeconds == nil || *p.ETASeconds != 10 {
		t.Fatalf("expected ETA 10s, got %v", p.ETASeconds)
	}
}

func TestParseProgressLineWithHourEta(t *testing.T) {
	line := "[download]  10.0% of 2.00GiB at 512.00KiB/s ETA 01:02:03"
	p, ok := parseProgressLine(line)
	if !ok {
		t.Fatal("expected a parsed progress value")
	}
	wantEta := uint64(1*3600 + 2*60 + 3)
	if p.ETASeconds == nil || *p.ETASeconds != wantEta {
		t.Fatalf("expected ETA %d, got %v", wantEta, p.ETASeconds)
	}
}

func TestParseProgressLineNoPercentReturnsFalse(t *testing.T) {
	if _, ok := parseProgressLine("[download] Destination: video.mp4"); ok {
		t.Fatal("expected no progress parsed from a non-percentage line")
	}
}

func TestParseSizeUnits(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
	}{
		{"1.00KiB", 1024},
		{"1.00MiB", 1024 * 1024},
		{"1.00GiB", 1024 * 1024 * 1024},
		{"5.00MiB/s", 5 * 1024 * 1024},
		{"garbage", 0},
	}
	for _, c := range cases {
		if got := parseSize(c.in); got != c.want {
			t.Fatalf("parseSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestParseETAFormats(t *testing.T) {
	if secs, ok := parseETA("00:10"); !ok || secs != 10 {
		t.Fatalf("expected 10s, got (%d, %v)", secs, ok)
	}
	if secs, ok := parseETA("01:00:00"); !ok || secs != 3600 {
		t.Fatalf("expected 3600s, got (%d, %v)", secs, ok)
	}
	if _, ok := parseETA("not-a-time"); ok {
		t.Fatal("expected malformed ETA to fail")
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("first\nsecond\nthird"); got != "first" {
		t.Fatalf("expected %q, got %q", "first", got)
	}
	if got := firstLine("only"); got != "only" {
		t.Fatalf("expected %q, got %q", "only", got)
	}
}

func TestBestFormatSizePinnedFormat(t *testing.T) {
	formats := []Format{
		{FormatID: "137", Filesize: 500},
		{FormatID: "248", Filesize: 900},
	}
	pinned := "137"
	if got := bestFormatSize(formats, &pinned); got != 500 {
		t.Fatalf("expected pinned format size 500, got %d", got)
	}
}

func TestBestFormatSizeUnpinnedPicksLargest(t *testing.T) {
	formats := []Format{
		{FormatID: "137", Filesize: 500},
		{FormatID: "248", Filesize: 900},
	}
	if got := bestFormatSize(formats, nil); got != 900 {
		t.Fatalf("expected largest format size 900, got %d", got)
	}
}

func TestBestFormatSizeUnknownPinReturnsZero(t *testing.T) {
	formats := []Format{{FormatID: "137", Filesize: 500}}
	pinned := "999"
	if got := bestFormatSize(formats, &pinned); got != 0 {
		t.Fatalf("expected 0 for an unknown pinned format, got %d", got)
	}
}

func TestGetVideoInfoUnknownTaskReportsMissing(t *testing.T) {
	h := &Handler{tasks: make(map[string]*taskState)}
	if _, ok := h.GetVideoInfo("missing"); ok {
		t.Fatal("expected GetVideoInfo to report the task as absent")
	}
}
