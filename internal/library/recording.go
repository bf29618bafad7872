package library

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/audiolibrelab/wavedeck/internal/blob"
	"github.com/google/uuid"
)

// Recording is one finished capture. It is never modified after creation.
type Recording struct {
	ID        string      `json:"id"`
	Handle    blob.Handle `json:"handle"`
	Name      string      `json:"name"`
	MimeType  string      `json:"mime_type"`
	Extension string      `json:"extension"`
	Duration  float64     `json:"duration"` // seconds, 0 when unknown
	CreatedAt time.Time   `json:"created_at"`
	Size      int         `json:"size"`
}

// NewID builds a recording id from the creation time and a random suffix.
func NewID(t time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%d-%s", t.UnixMilli(), suffix)
}

// DefaultName is the display name given to a recording created at t.
func DefaultName(t time.Time) string {
	return t.Format("15:04:05")
}

// FormatDuration renders whole seconds as m:ss. Values that are not finite
// or are negative render as 0:00.
func FormatDuration(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return "0:00"
	}
	s := int64(seconds)
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

// FormatSize renders a byte count for display.
func FormatSize(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := int64(n) / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
