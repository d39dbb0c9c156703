// Package httpdl implements the resumable single-stream HTTP/HTTPS
// download handler: HEAD preflight, byte-range resumption, cooperative
// pause/cancel at sub-chunk granularity, and throttled progress events.
package httpdl

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"nebula/events"
	"nebula/nerrors"
	"nebula/progress"
	"nebula/protocol"
)

// subReadSize bounds each read from the response body so that the
// cancel/pause check happens frequently. It is independent of the
// http.chunk_size configuration value, which is not passed to this
// single-stream handler.
const subReadSize = 32 * 1024

// progressThrottle is the minimum wall-clock interval between
// ProgressUpdated publications for a single task.
const progressThrottle = 200 * time.Millisecond

// pausePoll is how long the streaming loop sleeps between checks while a
// task is paused.
const pausePoll = 100 * time.Millisecond

// Config configures the handler's HTTP client and defaults.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	UserAgent      string
	Proxy          string
}

type taskState struct {
	mu        sync.Mutex
	paused    bool
	cancelled bool
	progress  progress.Progress
	dest      string
}

// Handler is the HTTP/HTTPS protocol handler.
type Handler struct {
	cfg    Config
	client *http.Client
	bus    *events.Bus
	log    *logrus.Logger

	mu    sync.Mutex
	tasks map[string]*taskState
}

// New builds an HTTP handler around a plain net/http.Client, optionally
// proxied. Construction fails only when cfg.Proxy is not a parseable URL.
func New(cfg Config, bus *events.Bus, log *logrus.Logger) (*Handler, error) {
	transport := &http.Transport{}
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, &nerrors.InvalidConfigError{Reason: fmt.Sprintf("bad http.proxy: %v", err)}
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	return &Handler{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
		},
		bus:   bus,
		log:   log,
		tasks: make(map[string]*taskState),
	}, nil
}

type fileInfo struct {
	name          string
	size          uint64
	sizeKnown     bool
	supportsRange bool
}

func (h *Handler) headInfo(ctx context.Context, rawURL string) (fileInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return fileInfo{}, &nerrors.InvalidURLError{URL: rawURL}
	}
	if h.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", h.cfg.UserAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fileInfo{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	info := fileInfo{name: nameFromURL(rawURL)}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseUint(cl, 10, 64); err == nil {
			info.size = n
			info.sizeKnown = true
		}
	}
	info.supportsRange = resp.Header.Get("Accept-Ranges") == "bytes"
	return info, nil
}

func nameFromURL(rawURL string) string {
	last := rawURL
	if idx := strings.LastIndex(rawURL, "/"); idx >= 0 {
		last = rawURL[idx+1:]
	}
	if idx := strings.Index(last, "?"); idx >= 0 {
		last = last[:idx]
	}
	if last == "" {
		return "download"
	}
	return last
}

func classifyTransportError(err error) error {
	if urlErr, ok := err.(*url.Error); ok && urlErr.Timeout() {
		return &nerrors.TimeoutError{Cause: err}
	}
	return &nerrors.NetworkError{Cause: err}
}

// Start performs the full download lifecycle for task, blocking until it
// completes, fails, or is cancelled.
func (h *Handler) Start(ctx context.Context, task protocol.Task) error {
	if task.Source.Kind != 0 {
		return &nerrors.UnsupportedProtocolError{Protocol: "non-HTTP source given to httpdl"}
	}
	rawURL := task.Source.URL

	info, err := h.headInfo(ctx, rawURL)
	if err != nil {
		return err
	}

	dest := task.SavePath
	if isDir(dest) {
		dest = filepath.Join(dest, info.name)
	}
	if dir := filepath.Dir(dest); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &nerrors.IOError{Path: dir, Message: err.Error()}
		}
	}

	state := &taskState{dest: dest}
	h.mu.Lock()
	h.tasks[task.ID] = state
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.tasks, task.ID)
		h.mu.Unlock()
	}()

	existingSize, existingErr := fileSize(dest)
	hasExisting := existingErr == nil

	if hasExisting && info.sizeKnown && existingSize >= info.size {
		h.bus.Publish(events.TaskCompleted(task.ID, time.Now()))
		return nil
	}

	var startOffset uint64
	var file *os.File
	resuming := hasExisting && existingSize > 0 && info.supportsRange

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &nerrors.InvalidURLError{URL: rawURL}
	}
	if h.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", h.cfg.UserAgent)
	}
	if resuming {
		startOffset = existingSize
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startOffset))
		file, err = os.OpenFile(dest, os.O_WRONLY|os.O_APPEND, 0o644)
	} else {
		file, err = os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	}
	if err != nil {
		return &nerrors.IOError{Path: dest, Message: err.Error()}
	}
	defer file.Close()

	resp, err := h.client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &nerrors.HTTPError{Status: resp.StatusCode, Message: resp.Status}
	}

	h.bus.Publish(events.TaskStarted(task.ID))

	transferred := startOffset
	state.mu.Lock()
	state.progress = progress.New(info.size, transferred)
	state.mu.Unlock()

	lastUpdate := time.Now()
	lastTransferred := transferred
	buf := make([]byte, subReadSize)

	for {
		state.mu.Lock()
		cancelled := state.cancelled
		paused := state.paused
		state.mu.Unlock()

		if cancelled {
			return nil
		}
		if paused {
			time.Sleep(pausePoll)
			continue
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := file.Write(buf[:n]); werr != nil {
				return &nerrors.IOError{Path: dest, Message: werr.Error()}
			}
			transferred += uint64(n)

			if elapsed := time.Since(lastUpdate); elapsed >= progressThrottle {
				rate := uint64(float64(transferred-lastTransferred) / elapsed.Seconds())
				state.mu.Lock()
				state.progress.SetTransferred(transferred)
				state.progress.UpdateSpeed(rate, 0)
				snapshot := state.progress
				state.mu.Unlock()

				h.bus.Publish(events.ProgressUpdated(task.ID, snapshot))
				lastUpdate = time.Now()
				lastTransferred = transferred
			} else {
				state.mu.Lock()
				state.progress.SetTransferred(transferred)
				state.mu.Unlock()
			}
		}

		if readErr != nil {
			if readErr == io.EOF {
				break
			}
			return classifyTransportError(readErr)
		}
	}

	if err := file.Sync(); err != nil {
		return &nerrors.IOError{Path: dest, Message: err.Error()}
	}
	h.bus.Publish(events.TaskCompleted(task.ID, time.Now()))
	return nil
}

func (h *Handler) Pause(id string) error {
	return h.setFlag(id, func(s *taskState) { s.paused = true })
}

func (h *Handler) Resume(id string) error {
	return h.setFlag(id, func(s *taskState) { s.paused = false })
}

func (h *Handler) setFlag(id string, fn func(*taskState)) error {
	h.mu.Lock()
	state, ok := h.tasks[id]
	h.mu.Unlock()
	if !ok {
		return nerrors.ErrTaskNotFound
	}
	state.mu.Lock()
	fn(state)
	state.mu.Unlock()
	return nil
}

// Cancel marks the task cancelled so the active streaming loop exits on
// its next iteration, and optionally deletes the destination file. The
// active Start call itself never deletes on cancel; deletion, when
// requested, happens here so it occurs regardless of exactly when the
// streaming loop observes the flag.
func (h *Handler) Cancel(id string, deleteFiles bool) error {
	h.mu.Lock()
	state, ok := h.tasks[id]
	h.mu.Unlock()
	if !ok {
		return nerrors.ErrTaskNotFound
	}
	state.mu.Lock()
	state.cancelled = true
	dest := state.dest
	state.mu.Unlock()

	if deleteFiles && dest != "" {
		_ = os.Remove(dest)
	}
	return nil
}

func (h *Handler) GetProgress(id string) (progress.Progress, error) {
	h.mu.Lock()
	state, ok := h.tasks[id]
	h.mu.Unlock()
	if !ok {
		return progress.Progress{}, nerrors.ErrTaskNotFound
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.progress, nil
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func fileSize(path string) (uint64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return uint64(fi.Size()), nil
}
