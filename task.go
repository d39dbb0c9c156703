// Package nebula is a multi-protocol download engine core: uniform task
// lifecycle, cooperative pause/cancel, and a lossy event bus shared across
// HTTP, BitTorrent, and video-site handlers.
package nebula

import (
	"time"

	"github.com/google/uuid"

	"nebula/progress"
)

// TaskID is an opaque, globally unique task identifier (UUID v4
// semantics). Defining it as a named array type keeps it directly
// comparable and usable as a map key without boxing.
type TaskID uuid.UUID

// NewTaskID generates a fresh random TaskID.
func NewTaskID() TaskID {
	return TaskID(uuid.New())
}

// ParseTaskID parses the standard hex-dash form produced by String.
func ParseTaskID(s string) (TaskID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return TaskID{}, err
	}
	return TaskID(u), nil
}

// String renders the full hex-dash UUID form.
func (id TaskID) String() string {
	return uuid.UUID(id).String()
}

// Short returns the first 8 characters of the hex-dash form.
func (id TaskID) Short() string {
	s := id.String()
	return s[:8]
}

// TaskStatus is the lifecycle state of a DownloadTask.
type TaskStatus string

const (
	StatusPending          TaskStatus = "pending"
	StatusFetchingMetadata TaskStatus = "fetching_metadata"
	StatusDownloading      TaskStatus = "downloading"
	StatusPaused           TaskStatus = "paused"
	StatusCompleted        TaskStatus = "completed"
	StatusSeeding          TaskStatus = "seeding"
	StatusFailed           TaskStatus = "failed"
	StatusCancelled        TaskStatus = "cancelled"
)

// IsActive reports whether the task is currently doing work.
func (s TaskStatus) IsActive() bool {
	switch s {
	case StatusDownloading, StatusFetchingMetadata, StatusSeeding:
		return true
	default:
		return false
	}
}

// CanPause reports whether Pause is a legal transition from s.
func (s TaskStatus) CanPause() bool {
	switch s {
	case StatusDownloading, StatusFetchingMetadata, StatusPending:
		return true
	default:
		return false
	}
}

// CanResume reports whether Resume is a legal transition from s.
func (s TaskStatus) CanResume() bool {
	return s == StatusPaused
}

// IsTerminal reports whether the task has reached a final status.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// DownloadTask is the registry's record of a single download. The
// registry owns every DownloadTask value; protocol handlers hold only a
// TaskID plus their own handler-local state.
type DownloadTask struct {
	ID          TaskID
	Name        string
	Source      DownloadSource
	SavePath    string
	Status      TaskStatus
	Progress    progress.Progress
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Priority    uint8
	LastError   string
	RetryCount  int
}

// newTask constructs a Pending task from a classified source and save
// path, using the source's display name and the default priority.
func newTask(source DownloadSource, savePath string) *DownloadTask {
	return &DownloadTask{
		ID:        NewTaskID(),
		Name:      source.DisplayName(),
		Source:    source,
		SavePath:  savePath,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		Priority:  5,
	}
}

// WithPriority clamps and sets the task's priority, returning the task for
// chaining at construction time.
func (t *DownloadTask) WithPriority(priority uint8) *DownloadTask {
	if priority < 1 {
		priority = 1
	}
	if priority > 10 {
		priority = 10
	}
	t.Priority = priority
	return t
}

func (t *DownloadTask) markStarted() {
	now := time.Now()
	t.Status = StatusDownloading
	t.StartedAt = &now
}

func (t *DownloadTask) markCompleted() {
	now := time.Now()
	t.Status = StatusCompleted
	t.CompletedAt = &now
}

func (t *DownloadTask) markFailed(errMsg string, retryCount int) {
	t.Status = StatusFailed
	t.LastError = errMsg
	t.RetryCount = retryCount
}

// ElapsedSecs reports the whole-second duration since the task started,
// measured up to CompletedAt or now. It returns false if the task has not
// started.
func (t *DownloadTask) ElapsedSecs() (int64, bool) {
	if t.StartedAt == nil {
		return 0, false
	}
	end := time.Now()
	if t.CompletedAt != nil {
		end = *t.CompletedAt
	}
	return int64(end.Sub(*t.StartedAt).Seconds()), true
}
