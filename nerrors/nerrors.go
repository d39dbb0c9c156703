// Package nerrors defines the domain error taxonomy shared by the manager
// and every protocol handler.
package nerrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for taxonomy members with no structured payload.
var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrTaskAlreadyExists  = errors.New("task already exists")
	ErrResumeNotSupported = errors.New("resume not supported")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrNoPeersAvailable   = errors.New("no peers available")
)

// InvalidTaskStateError reports an operation attempted against a task
// whose status does not permit it.
type InvalidTaskStateError struct {
	Current string
	Action  string
}

func (e *InvalidTaskStateError) Error() string {
	return fmt.Sprintf("invalid task state %q for action %q", e.Current, e.Action)
}

// UnsupportedProtocolError reports a source that no handler can service.
type UnsupportedProtocolError struct {
	Protocol string
}

func (e *UnsupportedProtocolError) Error() string {
	return fmt.Sprintf("unsupported protocol: %s", e.Protocol)
}

// InvalidURLError reports a malformed or unusable URL.
type InvalidURLError struct {
	URL string
}

func (e *InvalidURLError) Error() string {
	return fmt.Sprintf("invalid url: %s", e.URL)
}

// InvalidMagnetError reports a malformed magnet URI.
type InvalidMagnetError struct {
	Reason string
}

func (e *InvalidMagnetError) Error() string {
	return fmt.Sprintf("invalid magnet uri: %s", e.Reason)
}

// TorrentParseError reports a metainfo file that could not be parsed.
type TorrentParseError struct {
	Reason string
}

func (e *TorrentParseError) Error() string {
	return fmt.Sprintf("torrent parse error: %s", e.Reason)
}

// NetworkError wraps a lower-level connection failure.
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Cause)
}

func (e *NetworkError) Unwrap() error { return e.Cause }

// HTTPError reports a non-success HTTP response.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http error %d: %s", e.Status, e.Message)
}

// TimeoutError wraps a connect/read timeout.
type TimeoutError struct {
	Cause error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout: %v", e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// IOError reports a filesystem failure against a specific path.
type IOError struct {
	Path    string
	Message string
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io error on %s: %s", e.Path, e.Message)
}

// InsufficientDiskSpaceError reports that a destination volume lacks room
// for the transfer.
type InsufficientDiskSpaceError struct {
	Required  uint64
	Available uint64
}

func (e *InsufficientDiskSpaceError) Error() string {
	return fmt.Sprintf("insufficient disk space: need %d, have %d", e.Required, e.Available)
}

// DHTError reports a DHT-layer failure in the torrent handler.
type DHTError struct {
	Reason string
}

func (e *DHTError) Error() string {
	return fmt.Sprintf("dht error: %s", e.Reason)
}

// TrackerError reports a tracker-announce failure.
type TrackerError struct {
	Reason string
}

func (e *TrackerError) Error() string {
	return fmt.Sprintf("tracker error: %s", e.Reason)
}

// InvalidConfigError reports a configuration value that failed
// validation.
type InvalidConfigError struct {
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %s", e.Reason)
}

// InternalError covers unexpected conditions that don't fit any other
// taxonomy member.
type InternalError struct {
	Reason string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error: %s", e.Reason)
}
