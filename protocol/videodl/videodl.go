// Package videodl implements the video-site download handler: a thin
// orchestrator over an external yt-dlp process, with an auxiliary
// info-mode JSON probe. There is no in-process media parsing; all
// extraction happens inside yt-dlp, and this package only builds its
// arguments and reads its stdout/stderr.
package videodl

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
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

// Format describes one extractable rendition of a video, as reported by
// yt-dlp's info-mode probe.
type Format struct {
	FormatID   string
	Ext        string
	Resolution string
	Filesize   uint64
	VCodec     string
	ACodec     string
	FormatNote string
}

// Info is the probed metadata for a video URL, independent of any
// download.
type Info struct {
	ID          string
	Title       string
	Description string
	Thumbnail   string
	Duration    time.Duration
	Uploader    string
	Formats     []Format
	WebpageURL  string
}

type ytdlpFormat struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Resolution     string  `json:"resolution"`
	Filesize       uint64  `json:"filesize"`
	FilesizeApprox uint64  `json:"filesize_approx"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	FormatNote     string  `json:"format_note"`
}

type ytdlpInfo struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Thumbnail   string        `json:"thumbnail"`
	Duration    float64       `json:"duration"`
	Uploader    string        `json:"uploader"`
	Formats     []ytdlpFormat `json:"formats"`
	WebpageURL  string        `json:"webpage_url"`
}

type taskState struct {
	mu       sync.Mutex
	progress progress.Progress
	cmd      *exec.Cmd
	info     Info
}

// Handler is the video-site protocol handler, backed by a yt-dlp binary.
type Handler struct {
	ytdlpPath string
	outputDir string
	bus       *events.Bus
	log       *logrus.Logger

	mu    sync.Mutex
	tasks map[string]*taskState
}

// New locates a yt-dlp binary and builds a handler. It returns an error
// when no binary is found: without it there is no way to serve any video
// task, so the manager disables the whole protocol rather than retry per
// task.
func New(outputDir string, bus *events.Bus, log *logrus.Logger) (*Handler, error) {
	path, err := findYtDlp()
	if err != nil {
		return nil, err
	}
	log.Infof("videodl: using yt-dlp at %s", path)
	return &Handler{
		ytdlpPath: path,
		outputDir: outputDir,
		bus:       bus,
		log:       log,
		tasks:     make(map[string]*taskState),
	}, nil
}

func findYtDlp() (string, error) {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "yt-dlp")
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	for _, candidate := range []string{
		"/opt/homebrew/bin/yt-dlp",
		"/usr/local/bin/yt-dlp",
		"/usr/bin/yt-dlp",
	} {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	if path, err := exec.LookPath("yt-dlp"); err == nil {
		return path, nil
	}
	return "", &nerrors.InternalError{Reason: "yt-dlp not found"}
}

func findFfmpeg() string {
	for _, candidate := range []string{
		"/opt/homebrew/bin/ffmpeg",
		"/usr/local/bin/ffmpeg",
		"/usr/bin/ffmpeg",
	} {
		if fileExists(candidate) {
			return candidate
		}
	}
	if path, err := exec.LookPath("ffmpeg"); err == nil {
		return path
	}
	return ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// VideoHosts lists the domains this handler claims before falling back
// to the generic HTTP handler. It holds the same hosts as the root
// package's own list, which is the one Classify checks; Classify does not
// read this variable.
var VideoHosts = []string{
	"youtube.com", "youtu.be", "bilibili.com", "b23.tv",
	"twitter.com", "x.com", "tiktok.com", "douyin.com",
	"vimeo.com", "dailymotion.com", "twitch.tv", "instagram.com",
	"facebook.com", "nicovideo.jp",
}

// ProbeInfo runs yt-dlp in info-mode (-j) and parses its JSON output
// without downloading anything.
func (h *Handler) ProbeInfo(ctx context.Context, url string) (Info, error) {
	cmd := exec.CommandContext(ctx, h.ytdlpPath, "-j", "--no-warnings", "--no-playlist", url)
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return Info{}, &nerrors.InternalError{Reason: fmt.Sprintf("probe video info: %s", firstLine(string(exitErr.Stderr)))}
		}
		return Info{}, &nerrors.InternalError{Reason: fmt.Sprintf("run yt-dlp: %v", err)}
	}

	var raw ytdlpInfo
	if err := json.Unmarshal(out, &raw); err != nil {
		return Info{}, &nerrors.InternalError{Reason: fmt.Sprintf("parse yt-dlp info: %v", err)}
	}

	formats := make([]Format, 0, len(raw.Formats))
	for _, f := range raw.Formats {
		if f.VCodec == "none" && f.ACodec == "none" {
			continue
		}
		ext := f.Ext
		if ext == "" {
			ext = "mp4"
		}
		size := f.Filesize
		if size == 0 {
			size = f.FilesizeApprox
		}
		formats = append(formats, Format{
			FormatID:   f.FormatID,
			Ext:        ext,
			Resolution: f.Resolution,
			Filesize:   size,
			VCodec:     f.VCodec,
			ACodec:     f.ACodec,
			FormatNote: f.FormatNote,
		})
	}

	webpageURL := raw.WebpageURL
	if webpageURL == "" {
		webpageURL = url
	}

	return Info{
		ID:          raw.ID,
		Title:       raw.Title,
		Description: raw.Description,
		Thumbnail:   raw.Thumbnail,
		Duration:    time.Duration(raw.Duration * float64(time.Second)),
		Uploader:    raw.Uploader,
		Formats:     formats,
		WebpageURL:  webpageURL,
	}, nil
}

// bestFormatSize estimates a total byte size for a MetadataReceived event:
// the requested format's size when FormatID pins one, otherwise the
// largest known format size as a best-effort stand-in for what yt-dlp
// will actually pick.
func bestFormatSize(formats []Format, formatID *string) uint64 {
	if formatID != nil && *formatID != "" {
		for _, f := range formats {
			if f.FormatID == *formatID {
				return f.Filesize
			}
		}
		return 0
	}
	var max uint64
	for _, f := range formats {
		if f.Filesize > max {
			max = f.Filesize
		}
	}
	return max
}

// GetVideoInfo returns the metadata probed for a task at Start time,
// including its full format list, so a caller can choose FormatID before
// queuing a second, format-pinned AddTask for the same URL.
func (h *Handler) GetVideoInfo(id string) (Info, bool) {
	state, err := h.lookup(id)
	if err != nil {
		return Info{}, false
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.info, true
}

// Start runs yt-dlp to completion, streaming progress events parsed from
// its stdout. FormatID, when set, selects a specific rendition merged
// with the best available audio; otherwise yt-dlp picks automatically,
// preferring H.264 for compatibility.
func (h *Handler) Start(ctx context.Context, task protocol.Task) error {
	if task.Source.Kind != 4 {
		return &nerrors.UnsupportedProtocolError{Protocol: "non-video source given to videodl"}
	}

	info, err := h.ProbeInfo(ctx, task.Source.URL)
	if err != nil {
		return err
	}

	state := &taskState{info: info}
	h.mu.Lock()
	h.tasks[task.ID] = state
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.tasks, task.ID)
		h.mu.Unlock()
	}()

	h.bus.Publish(events.MetadataReceived(task.ID, info.Title, bestFormatSize(info.Formats, task.Source.FormatID), 1))

	outputTemplate := filepath.Join(h.outputDir, "%(id)s.%(ext)s")
	args := []string{"--newline", "--no-warnings", "--no-playlist", "-o", outputTemplate}

	if ffmpeg := findFfmpeg(); ffmpeg != "" {
		args = append(args, "--ffmpeg-location", ffmpeg)
	}
	args = append(args, "--merge-output-format", "mp4")

	if task.Source.FormatID != nil && *task.Source.FormatID != "" {
		args = append(args, "-f", fmt.Sprintf("%s+bestaudio/best", *task.Source.FormatID))
	} else {
		args = append(args, "-S", "vcodec:h264,res,acodec:m4a")
	}
	args = append(args, task.Source.URL)

	cmd := exec.CommandContext(ctx, h.ytdlpPath, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &nerrors.InternalError{Reason: fmt.Sprintf("open yt-dlp stdout: %v", err)}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &nerrors.InternalError{Reason: fmt.Sprintf("open yt-dlp stderr: %v", err)}
	}

	state.mu.Lock()
	state.cmd = cmd
	state.mu.Unlock()

	if err := cmd.Start(); err != nil {
		return &nerrors.InternalError{Reason: fmt.Sprintf("start yt-dlp: %v", err)}
	}
	h.bus.Publish(events.TaskStarted(task.ID))

	var stderrLines []string
	var stderrWg sync.WaitGroup
	stderrWg.Add(1)
	go func() {
		defer stderrWg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			stderrLines = append(stderrLines, scanner.Text())
		}
	}()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "[download]") && strings.Contains(line, "%") {
			if p, ok := parseProgressLine(line); ok {
				state.mu.Lock()
				state.progress = p
				state.mu.Unlock()
				h.bus.Publish(events.ProgressUpdated(task.ID, p))
			}
		}
	}

	stderrWg.Wait()

	waitErr := cmd.Wait()
	if waitErr != nil {
		msg := "video download failed"
		if len(stderrLines) > 0 {
			msg = fmt.Sprintf("video download failed: %s", stderrLines[0])
		}
		h.bus.Publish(events.TaskFailed(task.ID, msg))
		return &nerrors.InternalError{Reason: msg}
	}

	h.bus.Publish(events.TaskCompleted(task.ID, time.Now()))
	return nil
}

// parseProgressLine parses a yt-dlp "[download]" progress line, e.g.
// "[download]  45.2% of 100.00MiB at 5.00MiB/s ETA 00:10".
func parseProgressLine(line string) (progress.Progress, bool) {
	parts := strings.Fields(line)

	var percentage float64
	var totalSize, downloadSpeed uint64
	var etaSecs *uint64
	found := false

	for i, part := range parts {
		switch {
		case strings.HasSuffix(part, "%"):
			if p, err := strconv.ParseFloat(strings.TrimSuffix(part, "%"), 64); err == nil {
				percentage = p
				found = true
			}
		case strings.Contains(part, "MiB") || strings.Contains(part, "GiB") || strings.Contains(part, "KiB"):
			if i > 0 && parts[i-1] == "of" {
				totalSize = parseSize(part)
			} else if i > 0 && parts[i-1] == "at" {
				downloadSpeed = parseSize(part)
			}
		default:
			if i > 0 && parts[i-1] == "ETA" {
				if secs, ok := parseETA(part); ok {
					etaSecs = &secs
				}
			}
		}
	}

	if !found {
		return progress.Progress{}, false
	}

	downloaded := uint64(float64(totalSize) * percentage / 100.0)
	p := progress.New(totalSize, downloaded)
	// Keep the percentage exactly as yt-dlp printed it rather than the
	// value recomputed from the truncated byte count.
	p.Percentage = percentage
	p.UpdateSpeed(downloadSpeed, 0)
	if etaSecs != nil {
		p.ETASeconds = etaSecs
	}
	return p, true
}

func parseSize(s string) uint64 {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "/s")
	switch {
	case strings.HasSuffix(s, "GiB"):
		return parseFloatUnit(strings.TrimSuffix(s, "GiB"), 1024*1024*1024)
	case strings.HasSuffix(s, "MiB"):
		return parseFloatUnit(strings.TrimSuffix(s, "MiB"), 1024*1024)
	case strings.HasSuffix(s, "KiB"):
		return parseFloatUnit(strings.TrimSuffix(s, "KiB"), 1024)
	default:
		return 0
	}
}

func parseFloatUnit(numPart string, unit uint64) uint64 {
	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return 0
	}
	return uint64(n * float64(unit))
}

// parseETA parses an "MM:SS" or "HH:MM:SS" ETA token into total seconds.
func parseETA(s string) (uint64, bool) {
	parts := strings.Split(s, ":")
	nums := make([]uint64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return 0, false
		}
		nums[i] = n
	}
	switch len(nums) {
	case 2:
		return nums[0]*60 + nums[1], true
	case 3:
		return nums[0]*3600 + nums[1]*60 + nums[2], true
	default:
		return 0, false
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// Pause is unsupported: a yt-dlp child process cannot be suspended and
// resumed mid-transfer without killing it, so this is a documented no-op
// rather than a faked pause.
func (h *Handler) Pause(id string) error {
	if _, err := h.lookup(id); err != nil {
		return err
	}
	return nil
}

func (h *Handler) Resume(id string) error {
	if _, err := h.lookup(id); err != nil {
		return err
	}
	return nil
}

func (h *Handler) Cancel(id string, deleteFiles bool) error {
	state, err := h.lookup(id)
	if err != nil {
		return err
	}

	state.mu.Lock()
	cmd := state.cmd
	state.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
	}
	return nil
}

func (h *Handler) GetProgress(id string) (progress.Progress, error) {
	state, err := h.lookup(id)
	if err != nil {
		return progress.Progress{}, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return state.progress, nil
}

func (h *Handler) lookup(id string) (*taskState, error) {
	h.mu.Lock()
	state, ok := h.tasks[id]
	h.mu.Unlock()
	if !ok {
		return nil, nerrors.ErrTaskNotFound
	}
	return state, nil
}
