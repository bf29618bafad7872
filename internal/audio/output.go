package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/speaker"
)

// Mixer is the device sink playback streamers are handed to.
type Mixer interface {
	Init(rate beep.SampleRate, bufferSize int) error
	Play(s beep.Streamer)
	Lock()
	Unlock()
}

type speakerMixer struct{}

func (speakerMixer) Init(rate beep.SampleRate, bufferSize int) error {
	return speaker.Init(rate, bufferSize)
}
func (speakerMixer) Play(s beep.Streamer) { speaker.Play(s) }
func (speakerMixer) Lock()                { speaker.Lock() }
func (speakerMixer) Unlock()              { speaker.Unlock() }

const timeUpdateInterval = 250 * time.Millisecond

// Output is the process-wide audio-processing context. The device is opened
// on first playback and stays open until the process exits.
type Output struct {
	mixer   Mixer
	rate    beep.SampleRate
	decoder *Decoder
	tapSize int
	tick    time.Duration

	initOnce sync.Once
	initErr  error
}

// NewOutput creates an output that plays through the system speaker.
func NewOutput(sampleRate int, decoder *Decoder, tapSize int) *Output {
	return NewOutputWithMixer(speakerMixer{}, sampleRate, decoder, tapSize)
}

// NewOutputWithMixer creates an output over an arbitrary mixer.
func NewOutputWithMixer(m Mixer, sampleRate int, decoder *Decoder, tapSize int) *Output {
	if decoder == nil {
		decoder = &Decoder{}
	}
	return &Output{
		mixer:   m,
		rate:    beep.SampleRate(sampleRate),
		decoder: decoder,
		tapSize: tapSize,
		tick:    timeUpdateInterval,
	}
}

func (o *Output) ensureInit() error {
	o.initOnce.Do(func() {
		o.initErr = o.mixer.Init(o.rate, o.rate.N(time.Second/10))
		if o.initErr != nil {
			slog.Debug("Audio output init failed", "error", o.initErr)
		} else {
			slog.Debug("Audio output initialized", "sample_rate", int(o.rate))
		}
	})
	return o.initErr
}

// NewElement decodes data and returns a paused playback element.
func (o *Output) NewElement(data []byte, mime string) (*Element, error) {
	stream, format, err := o.decoder.Decode(data, mime)
	if err != nil {
		return nil, fmt.Errorf("failed to decode recording: %w", err)
	}
	return &Element{
		out:    o,
		stream: stream,
		format: format,
		tap:    NewTap(o.tapSize),
		events: make(chan ElementEvent, 64),
		done:   make(chan struct{}),
	}, nil
}

// EventType is a playback lifecycle signal.
type EventType int

const (
	EventPlay EventType = iota
	EventPause
	EventEnded
	EventTimeUpdate
)

func (t EventType) String() string {
	switch t {
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventEnded:
		return "ended"
	case EventTimeUpdate:
		return "timeupdate"
	}
	return "unknown"
}

// ElementEvent carries the element position at the time it fired.
type ElementEvent struct {
	Type     EventType
	Position time.Duration
	Duration time.Duration
}

var errElementClosed = errors.New("playback element closed")

// Element plays one decoded recording. Events are delivered on a separate
// goroutine, never from inside the mixer callback.
type Element struct {
	out    *Output
	stream beep.StreamSeekCloser
	format beep.Format
	ctrl   *beep.Ctrl
	tap    *Tap

	mu       sync.Mutex
	started  bool
	ended    bool
	closed   bool
	listener func(ElementEvent)

	events    chan ElementEvent
	done      chan struct{}
	closeOnce sync.Once
}

// OnEvent installs the event listener. It must be called before Play.
func (e *Element) OnEvent(fn func(ElementEvent)) {
	e.mu.Lock()
	e.listener = fn
	e.mu.Unlock()
}

// Tap returns the analysis tap fed by this element.
func (e *Element) Tap() *Tap {
	return e.tap
}

// Play starts or resumes playback. Playing an ended element restarts it.
func (e *Element) Play() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return errElementClosed
	}
	started, ended := e.started, e.ended
	e.mu.Unlock()

	if err := e.out.ensureInit(); err != nil {
		return fmt.Errorf("audio output unavailable: %w", err)
	}

	switch {
	case !started || ended:
		e.out.mixer.Lock()
		if ended {
			if err := e.stream.Seek(0); err != nil {
				e.out.mixer.Unlock()
				return fmt.Errorf("failed to rewind: %w", err)
			}
		}
		var s beep.Streamer = e.stream
		if e.format.SampleRate != e.out.rate {
			s = beep.Resample(4, e.format.SampleRate, e.out.rate, s)
		}
		e.ctrl = &beep.Ctrl{Streamer: e.tap.Stream(s)}
		e.out.mixer.Unlock()

		e.mu.Lock()
		first := !e.started
		e.started = true
		e.ended = false
		e.mu.Unlock()

		if first {
			go e.dispatch()
			go e.tick()
		}
		e.out.mixer.Play(beep.Seq(e.ctrl, beep.Callback(e.finished)))
	default:
		e.out.mixer.Lock()
		e.ctrl.Paused = false
		e.out.mixer.Unlock()
	}

	e.emit(EventPlay)
	return nil
}

// Pause halts playback in place.
func (e *Element) Pause() {
	e.mu.Lock()
	active := e.started && !e.ended && !e.closed
	e.mu.Unlock()
	if !active {
		return
	}

	e.out.mixer.Lock()
	e.ctrl.Paused = true
	e.out.mixer.Unlock()
	e.emit(EventPause)
}

// Paused reports whether the element is not currently producing audio.
func (e *Element) Paused() bool {
	e.mu.Lock()
	started, ended := e.started, e.ended
	e.mu.Unlock()
	if !started || ended {
		return true
	}
	e.out.mixer.Lock()
	defer e.out.mixer.Unlock()
	return e.ctrl.Paused
}

// Ended reports natural completion.
func (e *Element) Ended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ended
}

// Position returns the current playback position.
func (e *Element) Position() time.Duration {
	e.out.mixer.Lock()
	defer e.out.mixer.Unlock()
	return e.format.SampleRate.D(e.stream.Position())
}

// Duration returns the total length of the recording.
func (e *Element) Duration() time.Duration {
	e.out.mixer.Lock()
	defer e.out.mixer.Unlock()
	return e.format.SampleRate.D(e.stream.Len())
}

// Seek moves the playback position.
func (e *Element) Seek(d time.Duration) error {
	e.out.mixer.Lock()
	defer e.out.mixer.Unlock()
	n := e.format.SampleRate.N(d)
	if n < 0 {
		n = 0
	}
	if n > e.stream.Len() {
		n = e.stream.Len()
	}
	return e.stream.Seek(n)
}

// finished runs inside the mixer with its lock held.
func (e *Element) finished() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.ended = true
	e.mu.Unlock()

	total := e.format.SampleRate.D(e.stream.Len())
	e.send(ElementEvent{Type: EventEnded, Position: total, Duration: total})
}

func (e *Element) emit(t EventType) {
	e.send(ElementEvent{Type: t, Position: e.Position(), Duration: e.Duration()})
}

func (e *Element) send(ev ElementEvent) {
	select {
	case e.events <- ev:
	default:
		if ev.Type != EventTimeUpdate {
			slog.Warn("Playback event dropped", "event", ev.Type.String())
		}
	}
}

func (e *Element) dispatch() {
	for {
		select {
		case ev := <-e.events:
			e.mu.Lock()
			fn := e.listener
			closed := e.closed
			e.mu.Unlock()
			if fn != nil && !closed {
				fn(ev)
			}
		case <-e.done:
			return
		}
	}
}

func (e *Element) tick() {
	ticker := time.NewTicker(e.out.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if !e.Paused() {
				e.emit(EventTimeUpdate)
			}
		case <-e.done:
			return
		}
	}
}

// Close stops playback and releases the decoded stream. Events still queued
// are discarded.
func (e *Element) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		started := e.started
		e.mu.Unlock()

		close(e.done)
		e.tap.Disconnect()

		e.out.mixer.Lock()
		if started && e.ctrl != nil {
			// a nil streamer drains the Ctrl so the mixer drops it
			e.ctrl.Streamer = nil
		}
		err = e.stream.Close()
		e.out.mixer.Unlock()
	})
	return err
}
