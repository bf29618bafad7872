package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/audiolibrelab/wavedeck/internal/apperrors"
	"github.com/audiolibrelab/wavedeck/internal/audio"
	"github.com/audiolibrelab/wavedeck/internal/blob"
)

type fakeStream struct {
	mu     sync.Mutex
	format audio.Format
	chunks chan []byte
	tap    *audio.Tap
	closed bool
}

func newFakeStream(f audio.Format) *fakeStream {
	return &fakeStream{format: f, chunks: make(chan []byte, 8), tap: audio.NewTap(32)}
}

func (s *fakeStream) Format() audio.Format  { return s.format }
func (s *fakeStream) Chunks() <-chan []byte { return s.chunks }
func (s *fakeStream) Tap() *audio.Tap       { return s.tap }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.chunks)
	}
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeMic struct {
	mu      sync.Mutex
	err     error
	streams []*fakeStream
}

func (m *fakeMic) Open(ctx context.Context, f audio.Format) (audio.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	s := newFakeStream(f)
	m.streams = append(m.streams, s)
	return s, nil
}

func (m *fakeMic) opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

type fakeEncoder struct {
	startErr error
	stopErr  error
	chunks   [][]byte
	started  bool
	stopped  int
}

func (e *fakeEncoder) Start(audio.Stream) error {
	if e.startErr != nil {
		return e.startErr
	}
	e.started = true
	return nil
}

func (e *fakeEncoder) Stop(context.Context) ([][]byte, error) {
	e.stopped++
	if e.stopErr != nil {
		return nil, e.stopErr
	}
	return e.chunks, nil
}

type fakeEncoders struct {
	next     func() *fakeEncoder
	created  []*fakeEncoder
	codecs   []audio.Codec
	buildErr error
}

func (f *fakeEncoders) NewEncoder(c audio.Codec, _ audio.Format) (audio.Encoder, error) {
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	e := &fakeEncoder{chunks: [][]byte{[]byte("RIFF"), []byte("data")}}
	if f.next != nil {
		e = f.next()
	}
	f.created = append(f.created, e)
	f.codecs = append(f.codecs, c)
	return e, nil
}

type fakeDurations struct {
	seconds float64
	err     error
}

func (d fakeDurations) Probe(context.Context, []byte, string) (float64, error) {
	return d.seconds, d.err
}

type fakeVisualizer struct {
	mu       sync.Mutex
	source   audio.Analyser
	attaches int
}

func (v *fakeVisualizer) Attach(src audio.Analyser) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.source = src
	v.attaches++
}

func (v *fakeVisualizer) Detach() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.source != nil {
		v.source.Disconnect()
	}
	v.source = nil
}

func (v *fakeVisualizer) attached() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.source != nil
}

type harness struct {
	ctrl     *Controller
	mic      *fakeMic
	encoders *fakeEncoders
	vis      *fakeVisualizer
	blobs    *blob.Registry
	now      time.Time
}

func newHarness(prefs ...string) *harness {
	if len(prefs) == 0 {
		prefs = []string{"audio/ogg;codecs=opus", "audio/wav"}
	}
	h := &harness{
		mic:      &fakeMic{},
		encoders: &fakeEncoders{},
		vis:      &fakeVisualizer{},
		blobs:    blob.NewRegistry(),
		now:      time.Date(2024, 5, 1, 14, 3, 9, 0, time.UTC),
	}
	h.ctrl = New(Deps{
		Microphone: h.mic,
		Encoders:   h.encoders,
		Codecs:     audio.NewStaticProber("audio/wav"),
		Durations:  fakeDurations{seconds: 2.5},
		Blobs:      h.blobs,
		Visualizer: h.vis,
		Now:        func() time.Time { return h.now },
	}, Options{
		Format:      audio.Format{SampleRate: 48000, Channels: 1},
		Preferences: prefs,
	})
	return h
}

func TestController_NegotiatesOnce(t *testing.T) {
	h := newHarness()
	c := h.ctrl.Capability()
	if !c.Supported() || c.Codec.MimeType != "audio/wav" {
		t.Errorf("Expected audio/wav to be negotiated, got %s", c)
	}
}

func TestController_StartStopProducesRecording(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if err := h.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if h.ctrl.State() != StateRecording {
		t.Errorf("Expected recording state, got %s", h.ctrl.State())
	}
	if !h.vis.attached() {
		t.Error("Expected capture visualizer attached while recording")
	}

	h.now = h.now.Add(3 * time.Second)
	if h.ctrl.Elapsed() != 3*time.Second {
		t.Errorf("Expected 3s elapsed, got %v", h.ctrl.Elapsed())
	}

	rec, err := h.ctrl.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if rec == nil {
		t.Fatal("Expected a recording")
	}
	if h.ctrl.State() != StateIdle {
		t.Errorf("Expected idle after stop, got %s", h.ctrl.State())
	}
	if h.vis.attached() {
		t.Error("Expected capture visualizer detached after stop")
	}
	if !h.mic.streams[0].isClosed() {
		t.Error("Expected microphone stream released after stop")
	}
	if h.mic.streams[0].tap.Connected() {
		t.Error("Expected input tap disconnected after stop")
	}

	if rec.Name != "14:03:12" {
		t.Errorf("Expected default name from creation time, got %s", rec.Name)
	}
	if rec.Duration != 2.5 || rec.MimeType != "audio/wav" || rec.Extension != "wav" || rec.Size != 8 {
		t.Errorf("Unexpected recording %+v", rec)
	}
	b, err := h.blobs.Open(rec.Handle)
	if err != nil {
		t.Fatalf("Expected blob to be readable: %v", err)
	}
	if string(b.Data) != "RIFFdata" {
		t.Errorf("Expected concatenated chunks, got %q", b.Data)
	}
}

func TestController_NeverTwoRecordings(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if err := h.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	err := h.ctrl.Start(ctx)
	if !apperrors.Is(err, apperrors.Busy) {
		t.Errorf("Expected Busy on second start, got %v", err)
	}
	if h.mic.opens() != 1 || len(h.encoders.created) != 1 {
		t.Errorf("Second start acquired resources: opens=%d encoders=%d", h.mic.opens(), len(h.encoders.created))
	}
	if h.ctrl.State() != StateRecording {
		t.Errorf("Expected still recording, got %s", h.ctrl.State())
	}
}

func TestController_StopWhileIdleIsNoop(t *testing.T) {
	h := newHarness()
	rec, err := h.ctrl.Stop(context.Background())
	if rec != nil || err != nil {
		t.Errorf("Expected nil, nil; got %v, %v", rec, err)
	}
	if h.ctrl.State() != StateIdle {
		t.Errorf("Expected idle, got %s", h.ctrl.State())
	}
}

func TestController_SequentialRecordingsDistinct(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	var ids []string
	for i := 0; i < 2; i++ {
		if err := h.ctrl.Start(ctx); err != nil {
			t.Fatalf("Start %d failed: %v", i, err)
		}
		rec, err := h.ctrl.Stop(ctx)
		if err != nil {
			t.Fatalf("Stop %d failed: %v", i, err)
		}
		ids = append(ids, rec.ID)
	}
	if ids[0] == ids[1] {
		t.Errorf("Expected distinct ids, got %s twice", ids[0])
	}
	if h.blobs.Len() != 2 {
		t.Errorf("Expected 2 blobs, got %d", h.blobs.Len())
	}
}

func TestController_AccessDenied(t *testing.T) {
	h := newHarness()
	h.mic.err = fmt.Errorf("open: %w", audio.ErrDeviceRefused)

	err := h.ctrl.RequestAccess(context.Background())
	if !apperrors.Is(err, apperrors.AccessDenied) {
		t.Errorf("Expected AccessDenied, got %v", err)
	}
	access, reason := h.ctrl.Access()
	if access != AccessDenied || reason == nil {
		t.Errorf("Expected denied access with a reason, got %s %v", access, reason)
	}

	err = h.ctrl.Start(context.Background())
	if !apperrors.Is(err, apperrors.AccessDenied) {
		t.Errorf("Expected Start to report AccessDenied, got %v", err)
	}
	if h.ctrl.State() != StateIdle {
		t.Errorf("Expected idle, got %s", h.ctrl.State())
	}

	// the user re-triggers after fixing permissions
	h.mic.err = nil
	if err := h.ctrl.RequestAccess(context.Background()); err != nil {
		t.Fatalf("Expected access on retry, got %v", err)
	}
	if access, _ := h.ctrl.Access(); access != AccessGranted {
		t.Errorf("Expected granted, got %s", access)
	}
}

func TestController_NoDeviceIsUnsupported(t *testing.T) {
	h := newHarness()
	h.mic.err = audio.ErrNoDevice

	err := h.ctrl.RequestAccess(context.Background())
	if !apperrors.Is(err, apperrors.UnsupportedPlatform) {
		t.Errorf("Expected UnsupportedPlatform, got %v", err)
	}
}

func TestController_NoCodecDisablesRecording(t *testing.T) {
	h := newHarness("audio/ogg;codecs=opus")
	if h.ctrl.Capability().Supported() {
		t.Fatal("Expected no supported codec")
	}
	err := h.ctrl.Start(context.Background())
	if !apperrors.Is(err, apperrors.UnsupportedPlatform) {
		t.Errorf("Expected UnsupportedPlatform, got %v", err)
	}
	if h.mic.opens() != 0 {
		t.Error("Expected microphone untouched")
	}
}

func TestController_RequestAccessHoldsStream(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	if err := h.ctrl.RequestAccess(ctx); err != nil {
		t.Fatalf("RequestAccess failed: %v", err)
	}
	if err := h.ctrl.RequestAccess(ctx); err != nil {
		t.Fatalf("Second RequestAccess failed: %v", err)
	}
	if err := h.ctrl.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if h.mic.opens() != 1 {
		t.Errorf("Expected the granted stream to be reused, opened %d", h.mic.opens())
	}
}

// newWAVController records through the real WAV encoder.
func newWAVController(mic *fakeMic, blobs *blob.Registry) *Controller {
	return New(Deps{
		Microphone: mic,
		Encoders:   audio.EncoderOptions{},
		Codecs:     audio.NewStaticProber("audio/wav"),
		Durations:  fakeDurations{seconds: 1},
		Blobs:      blobs,
		Now:        time.Now,
	}, Options{
		Format:      audio.Format{SampleRate: 8000, Channels: 1},
		Preferences: []string{"audio/wav"},
	})
}

func TestController_HeldStreamDropsAudioBeforeStart(t *testing.T) {
	mic := &fakeMic{}
	blobs := blob.NewRegistry()
	ctrl := newWAVController(mic, blobs)
	ctx := context.Background()

	if err := ctrl.RequestAccess(ctx); err != nil {
		t.Fatalf("RequestAccess failed: %v", err)
	}
	stream := mic.streams[0]
	stream.chunks <- []byte("BEFORESTART!")

	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	stream.chunks <- []byte("AFTERSTART!!")

	rec, err := ctrl.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	b, err := blobs.Open(rec.Handle)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	data := string(b.Data)
	if strings.Contains(data, "BEFORESTART") {
		t.Error("Expected audio captured before start to be dropped")
	}
	if !strings.Contains(data, "AFTERSTART!!") {
		t.Error("Expected audio captured after start in the recording")
	}
	if rec.Size != 44+len("AFTERSTART!!") {
		t.Errorf("Expected header plus 12 data bytes, got %d", rec.Size)
	}
}

func TestController_SilentStopWithWAVEncoder(t *testing.T) {
	mic := &fakeMic{}
	blobs := blob.NewRegistry()
	ctrl := newWAVController(mic, blobs)
	ctx := context.Background()

	if err := ctrl.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec, err := ctrl.Stop(ctx)
	if !apperrors.Is(err, apperrors.ProcessingFailure) {
		t.Errorf("Expected ProcessingFailure, got %v", err)
	}
	if rec != nil {
		t.Errorf("Expected no recording, got %d bytes", rec.Size)
	}
	if blobs.Len() != 0 {
		t.Errorf("Expected no blob created, got %d", blobs.Len())
	}
	if ctrl.State() != StateIdle {
		t.Errorf("Expected idle, got %s", ctrl.State())
	}
}

func TestController_EncodeStartFailureReleases(t *testing.T) {
	h := newHarness()
	h.encoders.next = func() *fakeEncoder {
		return &fakeEncoder{startErr: errors.New("encoder refused")}
	}

	err := h.ctrl.Start(context.Background())
	if !apperrors.Is(err, apperrors.EncodeStartFailure) {
		t.Errorf("Expected EncodeStartFailure, got %v", err)
	}
	if h.ctrl.State() != StateIdle {
		t.Errorf("Expected idle, got %s", h.ctrl.State())
	}
	if !h.mic.streams[0].isClosed() {
		t.Error("Expected stream released")
	}
	if h.vis.attached() {
		t.Error("Visualizer should not be attached")
	}
}

func TestController_ProcessingFailureDropsRecording(t *testing.T) {
	tests := []struct {
		name string
		enc  *fakeEncoder
	}{
		{"finalize error", &fakeEncoder{stopErr: errors.New("encoder crashed")}},
		{"no chunks", &fakeEncoder{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()
			h.encoders.next = func() *fakeEncoder { return tt.enc }
			ctx := context.Background()

			if err := h.ctrl.Start(ctx); err != nil {
				t.Fatalf("Start failed: %v", err)
			}
			rec, err := h.ctrl.Stop(ctx)
			if !apperrors.Is(err, apperrors.ProcessingFailure) {
				t.Errorf("Expected ProcessingFailure, got %v", err)
			}
			if rec != nil {
				t.Error("Expected no recording")
			}
			if h.ctrl.State() != StateIdle {
				t.Errorf("Expected idle, got %s", h.ctrl.State())
			}
			if !h.mic.streams[0].isClosed() || h.vis.attached() {
				t.Error("Expected resources released")
			}
			if h.blobs.Len() != 0 {
				t.Errorf("Expected no blob, got %d", h.blobs.Len())
			}
			if tt.enc.stopped != 1 {
				t.Errorf("Expected encoder stopped once, got %d", tt.enc.stopped)
			}
		})
	}
}

func TestController_ProbeFailsSoft(t *testing.T) {
	h := newHarness()
	h.ctrl.deps.Durations = fakeDurations{err: errors.New("unreadable")}
	ctx := context.Background()

	h.ctrl.Start(ctx)
	rec, err := h.ctrl.Stop(ctx)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if rec.Duration != 0 {
		t.Errorf("Expected duration 0, got %v", rec.Duration)
	}
}

func TestController_StopNamed(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	h.ctrl.Start(ctx)
	rec, err := h.ctrl.StopNamed(ctx, "riff idea")
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if rec.Name != "riff idea" {
		t.Errorf("Expected name 'riff idea', got %s", rec.Name)
	}
}

func TestController_CloseAbandonsRecording(t *testing.T) {
	h := newHarness()
	h.ctrl.Start(context.Background())
	h.ctrl.Close()

	if h.ctrl.State() != StateIdle {
		t.Errorf("Expected idle, got %s", h.ctrl.State())
	}
	if !h.mic.streams[0].isClosed() || h.vis.attached() {
		t.Error("Expected resources released on close")
	}
	if h.encoders.created[0].stopped != 1 {
		t.Error("Expected encoder stopped on close")
	}
}
