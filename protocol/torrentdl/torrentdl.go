// Package torrentdl implements the BitTorrent protocol handler on top of
// github.com/anacrolix/torrent: magnet/torrent-file ingestion, metadata
// wait, polling-based progress, and peer accounting.
package torrentdl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"nebula/events"
	"nebula/nerrors"
	"nebula/progress"
	"nebula/protocol"
	"nebula/trackers"
)

// Config configures the underlying torrent client.
type Config struct {
	DataDir            string
	ListenPort         int
	EnableDHT          bool
	EnableUPnP         bool
	EnablePEX          bool
	MaxPeers           int
	MaxUploadSpeed     uint64
	MaxDownloadSpeed   uint64
	ExtraTrackers      []string
	SequentialDownload bool
	PollInterval       time.Duration
}

type taskState struct {
	mu       sync.Mutex
	paused   bool
	progress progress.Progress
	t        *torrent.Torrent
	dir      string
}

// Handler is the BitTorrent protocol handler.
type Handler struct {
	cfg      Config
	client   *torrent.Client
	bus      *events.Bus
	log      *logrus.Logger
	trackers *trackers.Manager

	mu    sync.Mutex
	tasks map[string]*taskState
}

// New constructs a torrent client and handler. Construction can fail (bad
// listen port, DHT bootstrap misconfiguration); callers degrade by
// disabling the torrent protocol rather than failing the whole manager.
func New(cfg Config, bus *events.Bus, log *logrus.Logger) (*Handler, error) {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Second
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, &nerrors.IOError{Path: cfg.DataDir, Message: err.Error()}
	}

	clientConfig := torrent.NewDefaultClientConfig()
	clientConfig.DataDir = cfg.DataDir
	clientConfig.NoDHT = !cfg.EnableDHT
	clientConfig.DisablePEX = !cfg.EnablePEX
	clientConfig.NoUpload = false
	clientConfig.Seed = false
	if cfg.ListenPort != 0 {
		clientConfig.ListenPort = cfg.ListenPort
	}
	if cfg.MaxPeers > 0 {
		clientConfig.EstablishedConnsPerTorrent = cfg.MaxPeers
	}
	if !cfg.EnableUPnP {
		clientConfig.NoDefaultPortForwarding = true
	}
	if cfg.MaxUploadSpeed > 0 {
		clientConfig.UploadRateLimiter = rate.NewLimiter(rate.Limit(cfg.MaxUploadSpeed), int(cfg.MaxUploadSpeed))
	}
	if cfg.MaxDownloadSpeed > 0 {
		clientConfig.DownloadRateLimiter = rate.NewLimiter(rate.Limit(cfg.MaxDownloadSpeed), int(cfg.MaxDownloadSpeed))
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, &nerrors.InternalError{Reason: fmt.Sprintf("create torrent client: %v", err)}
	}

	return &Handler{
		cfg:      cfg,
		client:   client,
		bus:      bus,
		log:      log,
		trackers: trackers.New(filepath.Join(cfg.DataDir, "trackers")),
		tasks:    make(map[string]*taskState),
	}, nil
}

// Close releases the underlying client. Called by the manager on shutdown.
func (h *Handler) Close() {
	h.client.Close()
}

func (h *Handler) Start(ctx context.Context, task protocol.Task) error {
	var t *torrent.Torrent
	var err error

	switch task.Source.Kind {
	case 1: // magnet
		t, err = h.client.AddMagnet(task.Source.URI)
	case 2: // torrent file
		t, err = h.client.AddTorrentFromFile(task.Source.Path)
	default:
		return &nerrors.UnsupportedProtocolError{Protocol: "non-torrent source given to torrentdl"}
	}
	if err != nil {
		return &nerrors.TorrentParseError{Reason: err.Error()}
	}

	if trackerList := mergeTrackers(h.cfg.ExtraTrackers, h.trackers.Get(ctx)); len(trackerList) > 0 {
		tiers := make([][]string, len(trackerList))
		for i, tr := range trackerList {
			tiers[i] = []string{tr}
		}
		t.AddTrackers(tiers)
	}

	state := &taskState{t: t, dir: h.cfg.DataDir}
	h.mu.Lock()
	h.tasks[task.ID] = state
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.tasks, task.ID)
		h.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		t.Drop()
		return ctx.Err()
	case <-t.GotInfo():
	}

	info := t.Info()
	if info == nil {
		t.Drop()
		return &nerrors.TorrentParseError{Reason: "missing torrent info after metadata wait"}
	}

	totalSize := uint64(info.TotalLength())
	name := displayName(task.Source, info.BestName())

	h.bus.Publish(events.MetadataReceived(task.ID, name, totalSize, 1))

	if h.cfg.SequentialDownload {
		for _, f := range t.Files() {
			f.SetPriority(torrent.PiecePriorityNow)
		}
	} else {
		t.DownloadAll()
	}

	h.bus.Publish(events.TaskStarted(task.ID))

	state.mu.Lock()
	state.progress = progress.New(totalSize, uint64(t.BytesCompleted()))
	state.mu.Unlock()

	return h.poll(ctx, task.ID, state, t, totalSize)
}

// poll samples BytesCompleted() on each tick to derive a download rate,
// matching the ticker-loop pattern anacrolix/torrent client code expects
// (Stats() carries no Mbps field, unlike swarm engines that report one
// directly).
func (h *Handler) poll(ctx context.Context, id string, state *taskState, t *torrent.Torrent, totalSize uint64) error {
	ticker := time.NewTicker(h.cfg.PollInterval)
	defer ticker.Stop()

	lastBytes := t.BytesCompleted()
	lastTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			t.Drop()
			return nil
		case <-ticker.C:
			state.mu.Lock()
			paused := state.paused
			state.mu.Unlock()
			if paused {
				continue
			}

			completed := t.BytesCompleted()
			now := time.Now()
			elapsed := now.Sub(lastTime).Seconds()
			var rate uint64
			if elapsed > 0 && completed > lastBytes {
				rate = uint64(float64(completed-lastBytes) / elapsed)
			}
			lastBytes = completed
			lastTime = now

			stats := t.Stats()

			state.mu.Lock()
			state.progress.SetTransferred(uint64(completed))
			state.progress.UpdateSpeed(rate, 0)
			snapshot := state.progress
			state.mu.Unlock()

			h.bus.Publish(events.ProgressUpdated(id, snapshot))
			h.bus.Publish(events.PeerUpdate(id, stats.ActivePeers, stats.TotalPeers))

			if t.BytesMissing() == 0 {
				h.bus.Publish(events.TaskCompleted(id, time.Now()))
				return nil
			}
		}
	}
}

// Pause sets the task's paused flag, which makes the polling monitor skip
// its ticks (no progress, peer, or completion events) until Resume. The
// swarm transfer itself is not paused.
func (h *Handler) Pause(id string) error {
	return h.setPaused(id, true)
}

func (h *Handler) Resume(id string) error {
	return h.setPaused(id, false)
}

func (h *Handler) setPaused(id string, paused bool) error {
	h.mu.Lock()
	state, ok := h.tasks[id]
	h.mu.Unlock()
	if !ok {
		return nerrors.ErrTaskNotFound
	}
	state.mu.Lock()
	state.paused = paused
	state.mu.Unlock()
	return nil
}

func (h *Handler) Cancel(id string, deleteFiles bool) error {
	h.mu.Lock()
	state, ok := h.tasks[id]
	h.mu.Unlock()
	if !ok {
		return nerrors.ErrTaskNotFound
	}

	state.mu.Lock()
	t := state.t
	state.mu.Unlock()

	var files []string
	if deleteFiles && t != nil {
		for _, f := range t.Files() {
			files = append(files, filepath.Join(state.dir, f.Path()))
		}
	}
	if t != nil {
		t.Drop()
	}
	for _, f := range files {
		_ = os.Remove(f)
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

func displayName(source protocol.Source, infoName string) string {
	if source.MagnetName != nil && *source.MagnetName != "" {
		return *source.MagnetName
	}
	if infoName != "" {
		return infoName
	}
	return "torrent"
}

// mergeTrackers combines the configured extra trackers with the
// cached/bundled list from the trackers package, in order and without
// duplicates.
func mergeTrackers(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, tr := range list {
			if tr == "" || seen[tr] {
				continue
			}
			seen[tr] = true
			out = append(out, tr)
		}
	}
	return out
}
