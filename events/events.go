// Package events defines the lifecycle event stream published by the
// download manager and consumed by any number of subscribers.
package events

import (
	"time"

	"nebula/progress"
)

// Kind identifies the variant of a DownloadEvent.
type Kind int

const (
	KindTaskAdded Kind = iota
	KindTaskStarted
	KindMetadataReceived
	KindProgressUpdated
	KindPeerUpdate
	KindTaskPaused
	KindTaskResumed
	KindTaskCompleted
	KindTaskFailed
	KindTaskRemoved
)

// DownloadEvent is an immutable value describing one lifecycle transition
// or progress sample for a task. Only the fields relevant to Kind are
// populated; this mirrors a tagged union using a flat struct, which is
// the idiom this codebase uses for its other small closed variant sets
// (see the DownloadSource type).
type DownloadEvent struct {
	Kind Kind
	ID   string // TaskID.String(); kept as string to avoid an import cycle

	Name        string
	TotalSize   uint64
	FileCount   int
	Progress    progress.Progress
	Connected   int
	Seen        int
	CompletedAt time.Time
	Error       string
}

func TaskAdded(id, name string) DownloadEvent {
	return DownloadEvent{Kind: KindTaskAdded, ID: id, Name: name}
}

func TaskStarted(id string) DownloadEvent {
	return DownloadEvent{Kind: KindTaskStarted, ID: id}
}

func MetadataReceived(id, name string, totalSize uint64, fileCount int) DownloadEvent {
	return DownloadEvent{Kind: KindMetadataReceived, ID: id, Name: name, TotalSize: totalSize, FileCount: fileCount}
}

func ProgressUpdated(id string, p progress.Progress) DownloadEvent {
	return DownloadEvent{Kind: KindProgressUpdated, ID: id, Progress: p}
}

func PeerUpdate(id string, connected, seen int) DownloadEvent {
	return DownloadEvent{Kind: KindPeerUpdate, ID: id, Connected: connected, Seen: seen}
}

func TaskPaused(id string) DownloadEvent {
	return DownloadEvent{Kind: KindTaskPaused, ID: id}
}

func TaskResumed(id string) DownloadEvent {
	return DownloadEvent{Kind: KindTaskResumed, ID: id}
}

func TaskCompleted(id string, completedAt time.Time) DownloadEvent {
	return DownloadEvent{Kind: KindTaskCompleted, ID: id, CompletedAt: completedAt}
}

func TaskFailed(id, errMsg string) DownloadEvent {
	return DownloadEvent{Kind: KindTaskFailed, ID: id, Error: errMsg}
}

func TaskRemoved(id string) DownloadEvent {
	return DownloadEvent{Kind: KindTaskRemoved, ID: id}
}

func (k Kind) String() string {
	switch k {
	case KindTaskAdded:
		return "TaskAdded"
	case KindTaskStarted:
		return "TaskStarted"
	case KindMetadataReceived:
		return "MetadataReceived"
	case KindProgressUpdated:
		return "ProgressUpdated"
	case KindPeerUpdate:
		return "PeerUpdate"
	case KindTaskPaused:
		return "TaskPaused"
	case KindTaskResumed:
		return "TaskResumed"
	case KindTaskCompleted:
		return "TaskCompleted"
	case KindTaskFailed:
		return "TaskFailed"
	case KindTaskRemoved:
		return "TaskRemoved"
	default:
		return "Unknown"
	}
}
