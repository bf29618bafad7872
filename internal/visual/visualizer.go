package visual

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/wavedeck/internal/audio"
	"github.com/charmbracelet/lipgloss"
)

// Binding says what a visualizer is drawing.
type Binding int

const (
	BindingCapture Binding = iota
	BindingPlayback
)

func (b Binding) String() string {
	if b == BindingPlayback {
		return "playback"
	}
	return "capture"
}

type Options struct {
	FPS          int
	SampleSize   int
	Width        int // text cells
	Height       int // text cells
	PrimaryColor string
	AccentColor  string
}

// Visualizer repaints a waveform from an analysis tap on a fixed frame
// cadence until detached. One instance exists per binding.
type Visualizer struct {
	binding Binding
	opts    Options
	style   lipgloss.Style

	mu      sync.Mutex
	source  audio.Analyser
	cancel  context.CancelFunc
	done    chan struct{}
	canvas  *Canvas
	frame   string
	samples []float64

	frames atomic.Uint64
}

// New creates a detached visualizer.
func New(binding Binding, opts Options) *Visualizer {
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = 2048
	}
	color := opts.PrimaryColor
	if binding == BindingPlayback {
		color = opts.AccentColor
	}
	v := &Visualizer{
		binding: binding,
		opts:    opts,
		style:   lipgloss.NewStyle().Foreground(lipgloss.Color(color)),
		canvas:  NewCanvas(opts.Width, opts.Height),
	}
	v.frame = v.canvas.String()
	return v
}

// Attach starts drawing from src. An existing attachment is fully torn
// down before the new loop starts.
func (v *Visualizer) Attach(src audio.Analyser) {
	v.Detach()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	v.mu.Lock()
	v.source = src
	v.cancel = cancel
	v.done = done
	v.mu.Unlock()

	slog.Debug("Visualizer attached", "binding", v.binding.String())
	go v.loop(ctx, src, done)
}

// Detach cancels the frame loop, waits for it to exit and disconnects the
// analysis tap. It is safe to call when already detached.
func (v *Visualizer) Detach() {
	v.mu.Lock()
	cancel, done, src := v.cancel, v.done, v.source
	v.cancel, v.done, v.source = nil, nil, nil
	v.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	src.Disconnect()

	v.mu.Lock()
	v.canvas.Clear()
	v.frame = v.canvas.String()
	v.samples = nil
	v.mu.Unlock()

	slog.Debug("Visualizer detached", "binding", v.binding.String())
}

// Attached reports whether a frame loop is running.
func (v *Visualizer) Attached() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cancel != nil
}

// View returns the latest frame, coloured for the binding.
func (v *Visualizer) View() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.style.Render(v.frame)
}

func (v *Visualizer) loop(ctx context.Context, src audio.Analyser, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(v.opts.FPS))
	defer ticker.Stop()

	buf := make([]float64, v.opts.SampleSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}
		n := src.TimeDomain(buf)
		v.paint(buf[:n])
	}
}

func (v *Visualizer) paint(buf []float64) {
	v.mu.Lock()
	w, h := v.canvas.Size()
	pts, plotted := plot(buf, w, h)
	v.canvas.Clear()
	v.canvas.Polyline(pts)
	v.frame = v.canvas.String()
	v.samples = plotted
	v.mu.Unlock()

	v.frames.Add(1)
}

// plot maps samples in [-1, 1] onto a w x h dot grid, one point per column.
func plot(buf []float64, w, h int) ([]Point, []float64) {
	if w < 1 || h < 1 {
		return nil, nil
	}
	pts := make([]Point, w)
	plotted := make([]float64, w)
	for x := 0; x < w; x++ {
		var s float64
		if len(buf) > 0 {
			s = buf[x*len(buf)/w]
		}
		if math.IsNaN(s) {
			s = 0
		}
		s = math.Max(-1, math.Min(1, s))
		plotted[x] = s
		y := int(math.Round((1 - s) / 2 * float64(h-1)))
		pts[x] = Point{X: x, Y: y}
	}
	return pts, plotted
}
