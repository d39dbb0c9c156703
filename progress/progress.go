// Package progress defines the transfer-progress value object shared by
// every protocol handler.
package progress

import (
	"fmt"
	"time"
)

// Progress describes the live state of a single transfer.
type Progress struct {
	TotalSize       uint64
	TransferredSize uint64
	DownloadRate    uint64 // bytes/sec
	UploadRate      uint64 // bytes/sec
	ETASeconds      *uint64
	Percentage      float64
}

// New builds a Progress from a known total and transferred size, deriving
// Percentage and leaving rate fields at zero.
func New(totalSize, transferredSize uint64) Progress {
	p := Progress{TotalSize: totalSize, TransferredSize: transferredSize}
	p.recomputePercentage()
	return p
}

func (p *Progress) recomputePercentage() {
	if p.TotalSize > 0 {
		p.Percentage = 100 * float64(p.TransferredSize) / float64(p.TotalSize)
	} else {
		p.Percentage = 0
	}
}

// SetTransferred updates the transferred byte count and recomputes
// Percentage.
func (p *Progress) SetTransferred(transferred uint64) {
	p.TransferredSize = transferred
	p.recomputePercentage()
}

// UpdateSpeed records instantaneous download/upload rates and recomputes
// ETASeconds. ETA is defined only while downloading with remaining bytes;
// it is cleared (nil) otherwise.
func (p *Progress) UpdateSpeed(downloadRate, uploadRate uint64) {
	p.DownloadRate = downloadRate
	p.UploadRate = uploadRate

	if downloadRate > 0 && p.TotalSize > 0 && p.TransferredSize < p.TotalSize {
		remaining := p.TotalSize - p.TransferredSize
		eta := remaining / downloadRate
		p.ETASeconds = &eta
	} else {
		p.ETASeconds = nil
	}
}

// IsCompleted reports whether the transfer has reached its known total.
func (p Progress) IsCompleted() bool {
	return p.TotalSize > 0 && p.TransferredSize >= p.TotalSize
}

// ETA returns the ETA as a time.Duration and whether one is defined.
func (p Progress) ETA() (time.Duration, bool) {
	if p.ETASeconds == nil {
		return 0, false
	}
	return time.Duration(*p.ETASeconds) * time.Second, true
}

// FormatSize renders a byte count with a binary (KiB/MiB/GiB) unit suffix.
func FormatSize(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KiB", "MiB", "GiB", "TiB", "PiB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), units[exp])
}

// FormatRate renders a bytes/sec rate using FormatSize plus a "/s" suffix.
func FormatRate(bytesPerSec uint64) string {
	return FormatSize(bytesPerSec) + "/s"
}
