package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/audiolibrelab/wavedeck/internal/apperrors"
	"github.com/audiolibrelab/wavedeck/internal/audio"
	"github.com/audiolibrelab/wavedeck/internal/blob"
	"github.com/audiolibrelab/wavedeck/internal/library"
)

// State is the session state.
type State string

const (
	StateIdle      State = "idle"
	StateRecording State = "recording"
)

// Access is the outcome of the last microphone access request.
type Access string

const (
	AccessUnknown Access = "unknown"
	AccessGranted Access = "granted"
	AccessDenied  Access = "denied"
)

// DurationProber measures encoded audio. *audio.DurationProber implements it.
type DurationProber interface {
	Probe(ctx context.Context, data []byte, mime string) (float64, error)
}

// Visualizer is the live input waveform.
type Visualizer interface {
	Attach(src audio.Analyser)
	Detach()
}

var errNoCodec = errors.New("no supported recording format")

// Deps are the collaborators a Controller drives.
type Deps struct {
	Microphone audio.Microphone
	Encoders   audio.EncoderFactory
	Codecs     audio.Prober
	Durations  DurationProber
	Blobs      *blob.Registry
	// Visualizer is optional.
	Visualizer Visualizer
	// Now defaults to time.Now.
	Now func() time.Time
}

// Options configure capture.
type Options struct {
	Format      audio.Format
	Preferences []string
}

// Controller owns the microphone and encoder for one recording at a time.
type Controller struct {
	deps       Deps
	format     audio.Format
	capability audio.Capability

	// ops serializes RequestAccess, Start, Stop and Close.
	ops sync.Mutex

	mu        sync.Mutex
	state     State
	access    Access
	accessErr error
	stream    audio.Stream // granted but not yet recording
	active    *resourceSet
	startedAt time.Time
}

// New negotiates the recording codec once and returns an idle controller.
func New(deps Deps, opts Options) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	capability := audio.Capability{Kind: audio.CapabilityUnsupported}
	if deps.Codecs != nil {
		capability = audio.Negotiate(opts.Preferences, deps.Codecs)
	}
	slog.Debug("Capture controller created", "capability", capability.String(), "format", opts.Format)

	return &Controller{
		deps:       deps,
		format:     opts.Format,
		capability: capability,
		state:      StateIdle,
		access:     AccessUnknown,
	}
}

// Capability returns the codec locked in at construction.
func (c *Controller) Capability() audio.Capability {
	return c.capability
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Access returns the last access outcome and, when denied, its reason.
func (c *Controller) Access() (Access, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.access, c.accessErr
}

// Elapsed returns how long the current recording has been running.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRecording {
		return 0
	}
	return c.deps.Now().Sub(c.startedAt)
}

// RequestAccess opens the microphone and holds the stream for the next
// Start. It is never retried automatically.
func (c *Controller) RequestAccess(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	c.mu.Lock()
	held := c.stream != nil || c.active != nil
	c.mu.Unlock()
	if held {
		return nil
	}

	stream, err := c.open(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()
	return nil
}

// open requests the microphone and records the outcome.
func (c *Controller) open(ctx context.Context) (audio.Stream, error) {
	if c.deps.Microphone == nil {
		return nil, c.deny(apperrors.New(apperrors.UnsupportedPlatform, "request access", audio.ErrNoBackend))
	}

	stream, err := c.deps.Microphone.Open(ctx, c.format)
	if err != nil {
		kind := apperrors.AccessDenied
		if errors.Is(err, audio.ErrNoBackend) || errors.Is(err, audio.ErrNoDevice) {
			kind = apperrors.UnsupportedPlatform
		}
		return nil, c.deny(apperrors.New(kind, "request access", err))
	}

	c.mu.Lock()
	c.access = AccessGranted
	c.accessErr = nil
	c.mu.Unlock()
	slog.Debug("Microphone access granted", "format", stream.Format())
	return stream, nil
}

func (c *Controller) deny(err error) error {
	c.mu.Lock()
	c.access = AccessDenied
	c.accessErr = err
	c.mu.Unlock()
	slog.Debug("Microphone access denied", "error", err)
	return err
}

// Start begins encoding the live input and attaches the capture
// visualizer. Starting while recording returns ErrBusy and changes nothing.
func (c *Controller) Start(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	if !c.capability.Supported() {
		return apperrors.New(apperrors.UnsupportedPlatform, "start", errNoCodec)
	}

	c.mu.Lock()
	if c.state == StateRecording {
		c.mu.Unlock()
		return apperrors.New(apperrors.Busy, "start", apperrors.ErrBusy)
	}
	stream := c.stream
	c.stream = nil
	c.mu.Unlock()

	if stream == nil {
		var err error
		if stream, err = c.open(ctx); err != nil {
			return err
		}
	} else if n := discardPending(stream); n > 0 {
		slog.Debug("Discarded audio captured before start", "buffers", n)
	}

	rs := &resourceSet{stream: stream}
	enc, err := c.deps.Encoders.NewEncoder(c.capability.Codec, stream.Format())
	if err != nil {
		rs.release()
		return apperrors.New(apperrors.EncodeStartFailure, "start", err)
	}
	if err := enc.Start(stream); err != nil {
		rs.release()
		return apperrors.New(apperrors.EncodeStartFailure, "start", err)
	}
	rs.encoder = enc

	if c.deps.Visualizer != nil {
		c.deps.Visualizer.Attach(stream.Tap())
		rs.visualizer = c.deps.Visualizer
	}

	c.mu.Lock()
	c.active = rs
	c.state = StateRecording
	c.startedAt = c.deps.Now()
	c.mu.Unlock()

	slog.Info("Recording started", "mime", c.capability.Codec.MimeType)
	return nil
}

// Stop finalizes the recording and returns it, named after its creation
// time. Stopping while idle returns nil, nil.
func (c *Controller) Stop(ctx context.Context) (*library.Recording, error) {
	return c.StopNamed(ctx, "")
}

// StopNamed is Stop with an explicit display name. An empty name uses the
// default.
func (c *Controller) StopNamed(ctx context.Context, name string) (*library.Recording, error) {
	c.ops.Lock()
	defer c.ops.Unlock()

	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return nil, nil
	}
	rs := c.active
	c.mu.Unlock()

	defer func() {
		rs.release()
		c.mu.Lock()
		c.active = nil
		c.state = StateIdle
		c.mu.Unlock()
	}()

	chunks, err := rs.encoder.Stop(ctx)
	rs.encoder = nil
	if err != nil {
		return nil, apperrors.New(apperrors.ProcessingFailure, "stop", err)
	}
	data := bytes.Join(chunks, nil)
	if len(data) == 0 {
		return nil, apperrors.New(apperrors.ProcessingFailure, "stop", errors.New("no audio was captured"))
	}

	codec := c.capability.Codec
	duration := c.probe(ctx, data, codec.MimeType)
	created := c.deps.Now()
	if name == "" {
		name = library.DefaultName(created)
	}

	rec := &library.Recording{
		ID:        library.NewID(created),
		Handle:    c.deps.Blobs.Create(data, codec.MimeType),
		Name:      name,
		MimeType:  codec.MimeType,
		Extension: codec.Extension,
		Duration:  duration,
		CreatedAt: created,
		Size:      len(data),
	}
	slog.Info("Recording finished", "id", rec.ID, "bytes", rec.Size, "duration", fmt.Sprintf("%.2fs", duration))
	return rec, nil
}

// probe returns the duration in seconds, or 0 when it cannot be measured.
func (c *Controller) probe(ctx context.Context, data []byte, mime string) float64 {
	if c.deps.Durations == nil {
		return 0
	}
	d, err := c.deps.Durations.Probe(ctx, data, mime)
	if err != nil {
		slog.Debug("Duration probe failed", "error", err)
		return 0
	}
	if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
		return 0
	}
	return d
}

// Close abandons any recording in progress and releases the microphone.
func (c *Controller) Close() {
	c.ops.Lock()
	defer c.ops.Unlock()

	c.mu.Lock()
	rs, stream := c.active, c.stream
	c.active, c.stream = nil, nil
	c.state = StateIdle
	c.mu.Unlock()

	if rs != nil {
		rs.release()
	}
	if stream != nil {
		if err := stream.Close(); err != nil {
			slog.Debug("Stream cleanup failed", "error", err)
		}
	}
}
