package audio

import (
	"sync"

	"github.com/gopxl/beep/v2"
)

// Analyser exposes the most recent time-domain samples of a signal.
type Analyser interface {
	// TimeDomain fills dst with the latest samples in chronological order
	// and returns how many were written.
	TimeDomain(dst []float64) int
	Disconnect()
}

// Tap is a ring buffer of mono samples fed either by captured PCM or by a
// playback streamer. Once disconnected it ignores writes.
type Tap struct {
	mu        sync.Mutex
	buf       []float64
	pos       int
	size      int
	connected bool
}

// NewTap creates a connected tap holding size samples.
func NewTap(size int) *Tap {
	if size < 1 {
		size = 1
	}
	return &Tap{
		buf:       make([]float64, size),
		size:      size,
		connected: true,
	}
}

// WritePCM16 pushes interleaved 16-bit PCM into the ring as mono samples.
func (t *Tap) WritePCM16(data []byte, channels int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return
	}
	pcm16ToMono(data, channels, t.push)
}

func (t *Tap) push(v float64) {
	t.buf[t.pos] = v
	t.pos = (t.pos + 1) % t.size
}

// Stream wraps s so that every sample passing through is copied into the tap.
func (t *Tap) Stream(s beep.Streamer) beep.Streamer {
	return &tapStreamer{s: s, tap: t}
}

type tapStreamer struct {
	s   beep.Streamer
	tap *Tap
}

func (ts *tapStreamer) Stream(samples [][2]float64) (int, bool) {
	n, ok := ts.s.Stream(samples)
	ts.tap.mu.Lock()
	if ts.tap.connected {
		for i := range n {
			ts.tap.push((samples[i][0] + samples[i][1]) / 2)
		}
	}
	ts.tap.mu.Unlock()
	return n, ok
}

func (ts *tapStreamer) Err() error {
	return ts.s.Err()
}

// TimeDomain implements Analyser.
func (t *Tap) TimeDomain(dst []float64) int {
	n := len(dst)
	if n > t.size {
		n = t.size
	}
	t.mu.Lock()
	start := (t.pos - n + t.size) % t.size
	for i := range n {
		dst[i] = t.buf[(start+i)%t.size]
	}
	t.mu.Unlock()
	return n
}

// Disconnect stops the tap from receiving samples and zeroes its buffer.
func (t *Tap) Disconnect() {
	t.mu.Lock()
	t.connected = false
	clear(t.buf)
	t.mu.Unlock()
}

// Connected reports whether the tap still receives samples.
func (t *Tap) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}
