// Package nebula is the multi-protocol download engine core: a single
// Manager façade dispatches HTTP, BitTorrent, and video-site downloads
// to their respective protocol handlers, tracks task state in a shared
// registry, and broadcasts lifecycle events to subscribers.
package nebula

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"nebula/config"
	"nebula/events"
	"nebula/nerrors"
	"nebula/progress"
	"nebula/protocol"
	"nebula/protocol/httpdl"
	"nebula/protocol/torrentdl"
	"nebula/protocol/videodl"
	"nebula/registry"
)

// Manager is the engine's single entry point: add a task, and its
// source determines which handler carries it to completion.
type Manager struct {
	cfg config.Config
	log *logrus.Logger

	registry *registry.Registry[TaskID, DownloadTask]
	bus      *events.Bus

	http    *httpdl.Handler
	torrent *torrentdl.Handler // nil if BitTorrent failed to initialize
	video   *videodl.Handler   // nil if yt-dlp was not found

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Manager. The HTTP handler is required; construction
// fails if it cannot be built. The torrent and video handlers degrade
// gracefully: a failure to initialize either one is logged and leaves
// the corresponding field nil, so the manager stays usable for the
// remaining protocols.
func New(cfg config.Config, log *logrus.Logger) (*Manager, error) {
	if log == nil {
		log = logrus.New()
	}
	if err := os.MkdirAll(cfg.Download.Dir, 0o755); err != nil {
		return nil, &nerrors.IOError{Path: cfg.Download.Dir, Message: err.Error()}
	}

	bus := events.NewBus()

	httpHandler, err := httpdl.New(httpdl.Config{
		ConnectTimeout: cfg.ConnectTimeout(),
		ReadTimeout:    cfg.ReadTimeout(),
		UserAgent:      cfg.HTTP.UserAgent,
		Proxy:          cfg.HTTP.Proxy,
	}, bus, log)
	if err != nil {
		return nil, fmt.Errorf("init http handler: %w", err)
	}

	dataDir := filepath.Join(cfg.Download.Dir, ".nebula")
	torrentHandler, err := torrentdl.New(torrentdl.Config{
		DataDir:            dataDir,
		ListenPort:         cfg.Torrent.ListenPort,
		EnableDHT:          cfg.Torrent.EnableDHT,
		EnableUPnP:         cfg.Torrent.EnableUPnP,
		EnablePEX:          cfg.Torrent.EnablePEX,
		MaxPeers:           cfg.Torrent.MaxPeers,
		MaxUploadSpeed:     uint64max(cfg.Torrent.MaxUploadSpeed),
		MaxDownloadSpeed:   uint64max(cfg.Torrent.MaxDownloadSpeed),
		ExtraTrackers:      cfg.Torrent.ExtraTrackers,
		SequentialDownload: cfg.Torrent.SequentialDownload,
	}, bus, log)
	if err != nil {
		log.Warnf("torrent handler init failed, magnet/torrent downloads unavailable: %v", err)
		torrentHandler = nil
	} else {
		log.Info("torrent handler initialized")
	}

	videoHandler, err := videodl.New(cfg.Download.Dir, bus, log)
	if err != nil {
		log.Warnf("video handler init failed, video-site downloads unavailable: %v", err)
		videoHandler = nil
	} else {
		log.Info("video handler initialized")
	}

	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		cfg:      cfg,
		log:      log,
		registry: registry.New[TaskID, DownloadTask](),
		bus:      bus,
		http:     httpHandler,
		torrent:  torrentHandler,
		video:    videoHandler,
		ctx:      ctx,
		cancel:   cancel,
	}

	m.wg.Add(1)
	go m.watchMetadata()

	return m, nil
}

func uint64max(n int64) uint64 {
	if n <= 0 {
		return 0
	}
	return uint64(n)
}

// AddTask classifies sourceURI, registers a new task, and dispatches it
// to the matching protocol handler in its own goroutine. savePath, when
// empty, defaults to the manager's configured download directory.
func (m *Manager) AddTask(sourceURI, savePath string) (TaskID, error) {
	source := Classify(sourceURI)

	if source.Kind == SourceMagnet || source.Kind == SourceTorrentFile {
		if m.torrent == nil {
			return TaskID{}, &nerrors.UnsupportedProtocolError{Protocol: "BitTorrent (handler unavailable)"}
		}
	}
	if source.Kind == SourceFTP {
		return TaskID{}, &nerrors.UnsupportedProtocolError{Protocol: "FTP"}
	}
	if source.Kind == SourceVideo && m.video == nil {
		return TaskID{}, &nerrors.UnsupportedProtocolError{Protocol: "video (yt-dlp unavailable)"}
	}

	if savePath == "" {
		savePath = m.cfg.Download.Dir
	}

	task := newTask(source, savePath)
	m.registry.Insert(task.ID, *task)
	m.bus.Publish(events.TaskAdded(task.ID.String(), task.Name))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.dispatch(task.ID, source, savePath)
	}()

	return task.ID, nil
}

func (m *Manager) dispatch(id TaskID, source DownloadSource, savePath string) {
	protoTask := protocol.Task{
		ID:       id.String(),
		SavePath: savePath,
		Source: protocol.Source{
			Kind:       int(source.Kind),
			URL:        source.URL,
			URI:        source.URI,
			MagnetName: source.MagnetName,
			Path:       source.Path,
			FormatID:   source.FormatID,
		},
	}

	var handler protocol.Handler
	switch source.Kind {
	case SourceHTTP:
		handler = m.http
	case SourceMagnet, SourceTorrentFile:
		handler = m.torrent
	case SourceVideo:
		handler = m.video
	default:
		m.failTask(id, "unsupported protocol")
		return
	}

	// HTTP starts transferring immediately. Magnet/torrent-file and
	// video sources must first resolve metadata (torrent info dict,
	// yt-dlp probe) before a byte moves; watchMetadata flips the status
	// to StatusDownloading once the handler publishes MetadataReceived.
	switch source.Kind {
	case SourceHTTP:
		m.registry.Mutate(id, func(t DownloadTask) DownloadTask {
			t.markStarted()
			return t
		})
	case SourceMagnet, SourceTorrentFile, SourceVideo:
		m.registry.Mutate(id, func(t DownloadTask) DownloadTask {
			t.Status = StatusFetchingMetadata
			return t
		})
	}

	err := handler.Start(m.ctx, protoTask)
	if err != nil {
		m.failTask(id, err.Error())
		return
	}

	m.registry.Mutate(id, func(t DownloadTask) DownloadTask {
		t.markCompleted()
		return t
	})
}

// watchMetadata is the manager's own internal bus subscriber: protocol
// handlers only know their TaskID string and publish MetadataReceived on
// the shared bus, so renaming a task to its extracted title and flipping
// it out of StatusFetchingMetadata happens here rather than inside each
// handler, which has no registry access.
func (m *Manager) watchMetadata() {
	defer m.wg.Done()

	ch, unsub := m.bus.Subscribe()
	defer unsub()

	for {
		select {
		case <-m.ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Kind != events.KindMetadataReceived {
				continue
			}
			id, err := ParseTaskID(ev.ID)
			if err != nil {
				continue
			}
			m.registry.Mutate(id, func(t DownloadTask) DownloadTask {
				if ev.Name != "" {
					t.Name = ev.Name
				}
				if t.Status == StatusFetchingMetadata {
					t.markStarted()
				}
				return t
			})
		}
	}
}

func (m *Manager) failTask(id TaskID, msg string) {
	m.registry.Mutate(id, func(t DownloadTask) DownloadTask {
		t.markFailed(msg, t.RetryCount)
		return t
	})
	m.bus.Publish(events.TaskFailed(id.String(), msg))
	m.log.WithField("task_id", id.Short()).Error(msg)
}

// Pause requests the owning handler suspend an active transfer.
func (m *Manager) Pause(id TaskID) error {
	task, ok := m.registry.Get(id)
	if !ok {
		return nerrors.ErrTaskNotFound
	}
	if !task.Status.CanPause() {
		return &nerrors.InvalidTaskStateError{Current: string(task.Status), Action: "pause"}
	}

	if err := m.handlerFor(task.Source).Pause(id.String()); err != nil {
		return err
	}
	m.registry.Mutate(id, func(t DownloadTask) DownloadTask {
		t.Status = StatusPaused
		return t
	})
	m.bus.Publish(events.TaskPaused(id.String()))
	return nil
}

// Resume requests the owning handler continue a paused transfer.
func (m *Manager) Resume(id TaskID) error {
	task, ok := m.registry.Get(id)
	if !ok {
		return nerrors.ErrTaskNotFound
	}
	if !task.Status.CanResume() {
		return &nerrors.InvalidTaskStateError{Current: string(task.Status), Action: "resume"}
	}

	if err := m.handlerFor(task.Source).Resume(id.String()); err != nil {
		return err
	}
	m.registry.Mutate(id, func(t DownloadTask) DownloadTask {
		t.Status = StatusDownloading
		return t
	})
	m.bus.Publish(events.TaskResumed(id.String()))
	return nil
}

// Cancel stops an in-flight or pending task and removes it from the
// registry, optionally deleting any partial data on disk.
func (m *Manager) Cancel(id TaskID, deleteFiles bool) error {
	task, ok := m.registry.Delete(id)
	if !ok {
		return nerrors.ErrTaskNotFound
	}

	if handler := m.handlerForOrNil(task.Source); handler != nil {
		_ = handler.Cancel(id.String(), deleteFiles)
	}

	m.bus.Publish(events.TaskRemoved(id.String()))
	return nil
}

// GetTask returns a snapshot of the task's current record.
func (m *Manager) GetTask(id TaskID) (DownloadTask, error) {
	task, ok := m.registry.Get(id)
	if !ok {
		return DownloadTask{}, nerrors.ErrTaskNotFound
	}
	return task, nil
}

// ListTasks returns a snapshot of every tracked task.
func (m *Manager) ListTasks() []DownloadTask {
	return m.registry.List()
}

// GetProgress returns the owning handler's live progress for id.
func (m *Manager) GetProgress(id TaskID) (progress.Progress, error) {
	task, ok := m.registry.Get(id)
	if !ok {
		return progress.Progress{}, nerrors.ErrTaskNotFound
	}
	handler := m.handlerForOrNil(task.Source)
	if handler == nil {
		return progress.Progress{}, &nerrors.UnsupportedProtocolError{Protocol: task.Source.ProtocolName()}
	}
	return handler.GetProgress(id.String())
}

// Subscribe returns a channel of every future event plus an unsubscribe
// function. See events.Bus for delivery semantics (bounded, lossy,
// drop-oldest under backpressure).
func (m *Manager) Subscribe() (<-chan events.DownloadEvent, func()) {
	return m.bus.Subscribe()
}

// DownloadDir returns the manager's configured download directory.
func (m *Manager) DownloadDir() string {
	return m.cfg.Download.Dir
}

// ActiveTaskCount reports how many tasks are currently in an active
// state (downloading, fetching metadata, or seeding).
func (m *Manager) ActiveTaskCount() int {
	return m.registry.Count(func(t DownloadTask) bool { return t.Status.IsActive() })
}

// Shutdown cancels every in-flight dispatch and waits for them to exit,
// or for ctx to expire first. The torrent client is closed last, after
// its dispatch goroutines have observed cancellation.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		if m.torrent != nil {
			m.torrent.Close()
		}
		return ctx.Err()
	}

	if m.torrent != nil {
		m.torrent.Close()
	}
	return nil
}

func (m *Manager) handlerFor(source DownloadSource) protocol.Handler {
	h := m.handlerForOrNil(source)
	if h == nil {
		return noopHandler{}
	}
	return h
}

func (m *Manager) handlerForOrNil(source DownloadSource) protocol.Handler {
	switch source.Kind {
	case SourceHTTP:
		return m.http
	case SourceMagnet, SourceTorrentFile:
		if m.torrent == nil {
			return nil
		}
		return m.torrent
	case SourceVideo:
		if m.video == nil {
			return nil
		}
		return m.video
	default:
		return nil
	}
}

// noopHandler reports ErrTaskNotFound for every capability, used only
// when a task's registry status and its missing handler disagree (the
// handler was torn down mid-flight); it keeps Pause/Resume total
// functions without a nil-pointer panic.
type noopHandler struct{}

func (noopHandler) Start(context.Context, protocol.Task) error { return nerrors.ErrTaskNotFound }
func (noopHandler) Pause(string) error                         { return nerrors.ErrTaskNotFound }
func (noopHandler) Resume(string) error                        { return nerrors.ErrTaskNotFound }
func (noopHandler) Cancel(string, bool) error                  { return nerrors.ErrTaskNotFound }
func (noopHandler) GetProgress(string) (progress.Progress, error) {
	return progress.Progress{}, nerrors.ErrTaskNotFound
}
