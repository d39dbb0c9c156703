// Command nebulad is a thin composition root around the nebula engine:
// it loads configuration, starts the manager, queues any download
// sources passed as arguments, logs the event stream, and shuts down
// cleanly on interrupt.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"nebula"
	"nebula/config"
	"nebula/events"
	"nebula/progress"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	manager, err := nebula.New(cfg, logger)
	if err != nil {
		logger.Fatalf("start manager: %v", err)
	}

	eventCh, unsubscribe := manager.Subscribe()
	go logEvents(logger, eventCh)
	defer unsubscribe()

	for _, source := range os.Args[1:] {
		id, err := manager.AddTask(source, "")
		if err != nil {
			logger.Errorf("add task %q: %v", source, err)
			continue
		}
		logger.Infof("queued %s as task %s", source, id.Short())
	}

	logger.Infof("nebulad running (download dir: %s); press ctrl-c to stop", manager.DownloadDir())
	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("shutdown: %v", err)
	}

	logger.Info("bye")
}

func logEvents(logger *logrus.Logger, ch <-chan events.DownloadEvent) {
	for ev := range ch {
		switch ev.Kind {
		case events.KindTaskAdded:
			logger.Infof("[%s] added: %s", shortID(ev.ID), ev.Name)
		case events.KindMetadataReceived:
			logger.Infof("[%s] metadata: %s (%s)", shortID(ev.ID), ev.Name, progress.FormatSize(ev.TotalSize))
		case events.KindProgressUpdated:
			logger.Debugf("[%s] progress: %.1f%% at %s", shortID(ev.ID), ev.Progress.Percentage, progress.FormatRate(ev.Progress.DownloadRate))
		case events.KindTaskPaused:
			logger.Infof("[%s] paused", shortID(ev.ID))
		case events.KindTaskResumed:
			logger.Infof("[%s] resumed", shortID(ev.ID))
		case events.KindTaskCompleted:
			logger.Infof("[%s] completed", shortID(ev.ID))
		case events.KindTaskFailed:
			logger.Errorf("[%s] failed: %s", shortID(ev.ID), ev.Error)
		case events.KindTaskRemoved:
			logger.Infof("[%s] removed", shortID(ev.ID))
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
