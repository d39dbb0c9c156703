// Package protocol defines the uniform capability set every download
// protocol handler implements: start, pause, resume, cancel, and
// query-progress. Each concrete handler (httpdl, torrentdl, videodl) is an
// independent type satisfying Handler; there is no shared base type.
package protocol

import (
	"context"

	"nebula/progress"
)

// Source is the minimal view of a classified download source a handler
// needs, decoupled from the root package's DownloadSource to avoid an
// import cycle (the root package imports protocol handlers, so handlers
// cannot import the root package back).
type Source struct {
	Kind        int
	URL         string
	URI         string
	MagnetName  *string
	Path        string
	FormatID    *string
}

// Task is the minimal view of a task a handler needs to start a transfer.
type Task struct {
	ID       string // TaskID.String()
	SavePath string
	Source   Source
}

// Handler is the capability set implemented independently by each
// protocol. Start blocks for the duration of the transfer (callers run it
// in its own goroutine); Pause/Resume/Cancel/GetProgress may be called
// concurrently with an in-flight Start for the same task id.
type Handler interface {
	Start(ctx context.Context, task Task) error
	Pause(id string) error
	Resume(id string) error
	Cancel(id string, deleteFiles bool) error
	GetProgress(id string) (progress.Progress, error)
}
