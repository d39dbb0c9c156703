package nebula

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"nebula/config"
	"nebula/events"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.Config{}
	cfg.Download.Dir = t.TempDir()
	cfg.HTTP.ConnectTimeoutSecs = 5
	cfg.HTTP.ReadTimeoutSecs = 5
	cfg.HTTP.UserAgent = "nebula-test"
	cfg.Torrent.EnableDHT = false
	cfg.Torrent.EnablePEX = false

	log := logrus.New()
	log.SetOutput(os.Stderr)

	m, err := New(cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func TestAddTaskHTTPReachesCompleted(t *testing.T) {
	body := bytes.Repeat([]byte("q"), 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Length", "4096")
		if r.Method != http.MethodHead {
			w.Write(body)
		}
	}))
	defer srv.Close()

	m := testManager(t)
	ch, unsub := m.Subscribe()
	defer unsub()

	dest := filepath.Join(m.DownloadDir(), "out.bin")
	id, err := m.AddTask(srv.URL, dest)
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.ID == id.String() && ev.Kind == events.KindTaskCompleted {
				task, err := m.GetTask(id)
				if err != nil {
					t.Fatalf("GetTask: %v", err)
				}
				if task.Status != StatusCompleted {
					t.Fatalf("expected StatusCompleted, got %s", task.Status)
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for TaskCompleted")
		}
	}
}

func TestAddTaskMagnetWithoutTorrentHandlerFails(t *testing.T) {
	m := testManager(t)
	m.torrent = nil // simulate BitTorrent init failure

	_, err := m.AddTask("magnet:?xt=urn:btih:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa&dn=test", "")
	if err == nil {
		t.Fatal("expected an error when the torrent handler is unavailable")
	}
}

func TestAddTaskFTPIsUnsupported(t *testing.T) {
	m := testManager(t)
	_, err := m.AddTask("ftp://example.invalid/file.bin", "")
	if err == nil {
		t.Fatal("expected FTP sources to be rejected")
	}
}

func TestCancelUnknownTaskReportsNotFound(t *testing.T) {
	m := testManager(t)
	if err := m.Cancel(NewTaskID(), false); err == nil {
		t.Fatal("expected an error for an unknown task id")
	}
}

func TestPauseRejectsInvalidTransition(t *testing.T) {
	m := testManager(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1")
		if r.Method != http.MethodHead {
			w.Write([]byte("x"))
		}
	}))
	defer srv.Close()

	id, err := m.AddTask(srv.URL, filepath.Join(m.DownloadDir(), "f.bin"))
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	// Give the dispatch goroutine a moment to reach a terminal state on
	// this tiny file, then pausing a completed task must be rejected.
	time.Sleep(50 * time.Millisecond)
	if err := m.Pause(id); err == nil {
		t.Fatal("expected pausing a completed task to be rejected")
	}
}

func TestListTasksExcludesRejectedTask(t *testing.T) {
	m := testManager(t)
	id, err := m.AddTask("ftp://example.invalid/file.bin", "")
	if err == nil {
		t.Fatal("expected FTP AddTask to fail before registering")
	}
	_ = id

	tasks := m.ListTasks()
	if len(tasks) != 0 {
		t.Fatalf("expected a rejected AddTask to not register a task, got %d", len(tasks))
	}
}

func TestSubscribeUnsubscribeStopsDelivery(t *testing.T) {
	m := testManager(t)
	ch, unsub := m.Subscribe()
	unsub()

	if _, ok := <-ch; ok {
		t.Fatal("expected the channel to be closed after unsubscribe")
	}
}
