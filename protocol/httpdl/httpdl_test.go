package httpdl

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"nebula/events"
	"nebula/protocol"
)

func testHandler(t *testing.T) (*Handler, *events.Bus) {
	t.Helper()
	bus := events.NewBus()
	log := logrus.New()
	log.SetOutput(os.Stderr)
	h, err := New(Config{ConnectTimeout: 5 * time.Second, ReadTimeout: 5 * time.Second}, bus, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return h, bus
}

// rangeServer serves body in full, or a suffix of it when asked via a
// "Range: bytes=N-" header, matching the resumption contract the handler
// relies on.
func rangeServer(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			return
		}

		rangeHeader := r.Header.Get("Range")
		if rangeHeader == "" {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.Write(body)
			return
		}

		start, ok := parseRangeStart(rangeHeader)
		if !ok || start > len(body) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write(body[start:])
	}))
}

// parseRangeStart extracts N from a "bytes=N-" header value.
func parseRangeStart(header string) (int, bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return 0, false
	}
	rest := strings.TrimPrefix(header, prefix)
	dash := strings.Index(rest, "-")
	if dash < 0 {
		return 0, false
	}
	n, err := strconv.Atoi(rest[:dash])
	if err != nil {
		return 0, false
	}
	return n, true
}

func TestDownloadFullFile(t *testing.T) {
	body := bytes.Repeat([]byte("x"), 10000)
	srv := rangeServer(t, body)
	defer srv.Close()

	h, bus := testHandler(t)
	ch, unsub := bus.Subscribe()
	defer unsub()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	task := protocol.Task{ID: "t1", SavePath: dest, Source: protocol.Source{Kind: 0, URL: srv.URL}}
	if err := h.Start(context.Background(), task); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("downloaded content mismatch: got %d bytes, want %d", len(got), len(body))
	}

	if kinds := drainKinds(ch); !containsKind(kinds, events.KindTaskCompleted) {
		t.Fatalf("expected a TaskCompleted event, got %v", kinds)
	}
}

func TestResumeAfterPartialFileMatchesFullDownload(t *testing.T) {
	body := bytes.Repeat([]byte("ab"), 5000) // 10000 bytes
	srv := rangeServer(t, body)
	defer srv.Close()

	h, _ := testHandler(t)
	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	// Simulate a prior partial transfer: half the bytes already on disk.
	if err := os.WriteFile(dest, body[:5000], 0o644); err != nil {
		t.Fatal(err)
	}

	task := protocol.Task{ID: "t2", SavePath: dest, Source: protocol.Source{Kind: 0, URL: srv.URL}}
	if err := h.Start(context.Background(), task); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, body) {
		t.Fatalf("resumed file mismatch: got %d bytes, want %d", len(got), len(body))
	}
}

func TestRestartAlreadyCompleteShortCircuits(t *testing.T) {
	body := bytes.Repeat([]byte("y"), 500)
	srv := rangeServer(t, body)
	defer srv.Close()

	h, bus := testHandler(t)
	ch, unsub := bus.Subscribe()
	defer unsub()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		t.Fatal(err)
	}

	task := protocol.Task{ID: "t3", SavePath: dest, Source: protocol.Source{Kind: 0, URL: srv.URL}}
	if err := h.Start(context.Background(), task); err != nil {
		t.Fatalf("Start: %v", err)
	}

	kinds := drainKinds(ch)
	if len(kinds) != 1 || kinds[0] != events.KindTaskCompleted {
		t.Fatalf("expected exactly one TaskCompleted event, got %v", kinds)
	}
}

func TestCancelDeletesFileWhenRequested(t *testing.T) {
	body := bytes.Repeat([]byte("z"), 2_000_000)
	srv := rangeServer(t, body)
	defer srv.Close()

	h, bus := testHandler(t)
	_, unsub := bus.Subscribe()
	defer unsub()

	dir := t.TempDir()
	dest := filepath.Join(dir, "out.bin")

	task := protocol.Task{ID: "t4", SavePath: dest, Source: protocol.Source{Kind: 0, URL: srv.URL}}

	done := make(chan error, 1)
	go func() { done <- h.Start(context.Background(), task) }()

	time.Sleep(10 * time.Millisecond)
	if err := h.Cancel("t4", true); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("Start returned error on cancel: %v", err)
	}

	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("expected destination to be removed, stat err: %v", err)
	}
}

func drainKinds(ch <-chan events.DownloadEvent) []events.Kind {
	var kinds []events.Kind
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return kinds
			}
			kinds = append(kinds, ev.Kind)
		default:
			return kinds
		}
	}
}

func containsKind(kinds []events.Kind, want events.Kind) bool {
	for _, k := range kinds {
		if k == want {
			return true
		}
	}
	return false
}
