package capture

import (
	"context"
	"log/slog"
	"time"

	"github.com/audiolibrelab/wavedeck/internal/audio"
)

const abandonTimeout = 2 * time.Second

// resourceSet is everything one recording holds. release runs on every exit
// path and swallows cleanup errors.
type resourceSet struct {
	stream     audio.Stream
	encoder    audio.Encoder
	visualizer Visualizer
	released   bool
}

func (rs *resourceSet) release() {
	if rs.released {
		return
	}
	rs.released = true

	if rs.visualizer != nil {
		rs.visualizer.Detach()
	}
	if rs.encoder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), abandonTimeout)
		if _, err := rs.encoder.Stop(ctx); err != nil {
			slog.Debug("Encoder cleanup failed", "error", err)
		}
		cancel()
	}
	if rs.stream != nil {
		if err := rs.stream.Close(); err != nil {
			slog.Debug("Stream cleanup failed", "error", err)
		}
	}
}

// discardPending drops buffers a held stream queued before recording began.
func discardPending(s audio.Stream) int {
	n := 0
	for {
		select {
		case _, ok := <-s.Chunks():
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}
