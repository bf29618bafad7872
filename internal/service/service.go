package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/audiolibrelab/wavedeck/internal/apperrors"
	"github.com/audiolibrelab/wavedeck/internal/audio"
	"github.com/audiolibrelab/wavedeck/internal/blob"
	"github.com/audiolibrelab/wavedeck/internal/capture"
	"github.com/audiolibrelab/wavedeck/internal/config"
	"github.com/audiolibrelab/wavedeck/internal/library"
	"github.com/audiolibrelab/wavedeck/internal/visual"
)

// Status is a snapshot of the session and playback slot.
type Status struct {
	State        capture.State  `json:"state"`
	Access       capture.Access `json:"access"`
	Codec        string         `json:"codec"`
	Supported    bool           `json:"supported"`
	Elapsed      float64        `json:"elapsed"`
	ElapsedHuman string         `json:"elapsed_human"`
	Slot         library.Slot   `json:"slot"`
	Count        int            `json:"count"`
	Banner       *Banner        `json:"banner,omitempty"`
}

// RecordingInfo is a recording decorated for display.
type RecordingInfo struct {
	library.Recording
	DurationHuman string  `json:"duration_human"`
	SizeHuman     string  `json:"size_human"`
	CreatedHuman  string  `json:"created_human"`
	Active        bool    `json:"active"`
	Playing       bool    `json:"playing"`
	Progress      float64 `json:"progress"`
	StreamURL     string  `json:"stream_url"`
	DownloadURL   string  `json:"download_url"`
}

// Deps overrides the platform collaborators. Nil fields use the real
// implementations built from the config.
type Deps struct {
	Microphone audio.Microphone
	Encoders   audio.EncoderFactory
	Codecs     audio.Prober
	Durations  capture.DurationProber
	Players    library.PlayerFactory
}

// Service wires capture, the recording store and playback together and
// turns their failures into banners.
type Service struct {
	cfg      *config.Config
	blobs    *blob.Registry
	capture  *capture.Controller
	store    *library.Store
	liveVis  *visual.Visualizer
	playVis  *visual.Visualizer
	closers  []func() error
	notifier *library.Notifier

	stopForward func()

	bannerMu sync.RWMutex
	banner   Banner

	closeOnce sync.Once
}

// New creates a service on the host audio stack.
func New(cfg *config.Config) *Service {
	return NewWithDeps(cfg, Deps{})
}

// NewWithDeps creates a service, filling unset deps from cfg.
func NewWithDeps(cfg *config.Config, deps Deps) *Service {
	visOpts := visual.Options{
		FPS:          cfg.Visualizer.FPS,
		SampleSize:   cfg.Visualizer.SampleSize,
		Width:        cfg.Visualizer.Width,
		Height:       cfg.Visualizer.Height,
		PrimaryColor: cfg.Visualizer.PrimaryColor,
		AccentColor:  cfg.Visualizer.AccentColor,
	}
	s := &Service{
		cfg:      cfg,
		blobs:    blob.NewRegistry(),
		liveVis:  visual.New(visual.BindingCapture, visOpts),
		playVis:  visual.New(visual.BindingPlayback, visOpts),
		notifier: library.NewNotifier(),
	}

	decoder := &audio.Decoder{FFmpegPath: cfg.Encoder.FFmpegPath}
	if deps.Microphone == nil {
		mic := audio.NewMalgoMicrophone(cfg.Audio.Device, cfg.Visualizer.SampleSize)
		deps.Microphone = mic
		s.closers = append(s.closers, mic.Close)
	}
	if deps.Encoders == nil {
		deps.Encoders = audio.EncoderOptions{
			Timeslice:  time.Duration(cfg.Audio.TimesliceMs) * time.Millisecond,
			FFmpegPath: cfg.Encoder.FFmpegPath,
			Bitrate:    cfg.Encoder.Bitrate,
		}
	}
	if deps.Codecs == nil {
		deps.Codecs = &audio.FFmpegProber{Path: cfg.Encoder.FFmpegPath}
	}
	if deps.Durations == nil {
		deps.Durations = &audio.DurationProber{FFprobePath: cfg.Encoder.FFprobePath, Decoder: decoder}
	}
	if deps.Players == nil {
		deps.Players = library.OutputPlayers(audio.NewOutput(cfg.Audio.SampleRate, decoder, cfg.Visualizer.SampleSize))
	}

	s.capture = capture.New(capture.Deps{
		Microphone: deps.Microphone,
		Encoders:   deps.Encoders,
		Codecs:     deps.Codecs,
		Durations:  deps.Durations,
		Blobs:      s.blobs,
		Visualizer: s.liveVis,
	}, capture.Options{
		Format:      audio.Format{SampleRate: cfg.Audio.SampleRate, Channels: cfg.Audio.Channels},
		Preferences: cfg.Encoder.Preferences,
	})
	s.store = library.NewStore(s.blobs, deps.Players, s.playVis)
	s.forwardStoreChanges()

	if c := s.capture.Capability(); !c.Supported() {
		s.setBanner(Banner{
			Kind:    BannerUnsupported,
			Message: fmt.Sprintf("No supported recording format (tried %s). Recording is disabled.", strings.Join(c.Tried, ", ")),
		})
	}
	slog.Debug("Service created", "capability", s.capture.Capability().String(), "output_dir", cfg.Output.Directory)
	return s
}

func (s *Service) forwardStoreChanges() {
	changes, cancel := s.store.Subscribe()
	s.stopForward = cancel
	go func() {
		for range changes {
			s.notifier.Notify()
		}
	}()
}

// RequestAccess asks for the microphone again, typically after a denial.
func (s *Service) RequestAccess(ctx context.Context) error {
	slog.Debug("Service.RequestAccess called")
	err := s.capture.RequestAccess(ctx)
	if err == nil {
		s.clearBanner(BannerPermission)
	}
	return s.fail("request access", err)
}

// StartRecording begins a recording. Starting while already recording
// returns a Busy error, leaves the session untouched and raises no banner.
func (s *Service) StartRecording(ctx context.Context) error {
	slog.Debug("Service.StartRecording called")
	err := s.capture.Start(ctx)
	if err == nil {
		s.clearBanner(BannerPermission)
		s.clearBanner(BannerError)
	}
	return s.fail("start recording", err)
}

// StopRecording finalizes the recording and adds it to the front of the
// list. Stopping while idle returns nil, nil.
func (s *Service) StopRecording(ctx context.Context) (*library.Recording, error) {
	return s.StopRecordingAs(ctx, "")
}

// StopRecordingAs is StopRecording with an explicit name.
func (s *Service) StopRecordingAs(ctx context.Context, name string) (*library.Recording, error) {
	slog.Debug("Service.StopRecording called", "name", name)
	rec, err := s.capture.StopNamed(ctx, name)
	if err != nil {
		return nil, s.fail("stop recording", err)
	}
	if rec != nil {
		s.store.Append(*rec)
	}
	s.notifier.Notify()
	return rec, nil
}

// TogglePlay plays, pauses or resumes the recording with id.
func (s *Service) TogglePlay(ctx context.Context, id string) error {
	slog.Debug("Service.TogglePlay called", "id", id)
	return s.fail("toggle play", s.store.TogglePlay(ctx, id))
}

// Delete removes a recording and releases its bytes.
func (s *Service) Delete(id string) error {
	slog.Debug("Service.Delete called", "id", id)
	return s.fail("delete", s.store.Remove(id))
}

// Open returns the encoded bytes of a recording.
func (s *Service) Open(id string) (library.Recording, blob.Blob, error) {
	rec, ok := s.store.Get(id)
	if !ok {
		return library.Recording{}, blob.Blob{}, apperrors.New(apperrors.NotFound, "open", apperrors.ErrNotFound)
	}
	b, err := s.blobs.Open(rec.Handle)
	if err != nil {
		return library.Recording{}, blob.Blob{}, fmt.Errorf("failed to open recording %s: %w", id, err)
	}
	return rec, b, nil
}

// Recordings lists recordings most recent first.
func (s *Service) Recordings() []RecordingInfo {
	slot := s.store.Slot()
	recs := s.store.List()
	infos := make([]RecordingInfo, 0, len(recs))
	for _, rec := range recs {
		info := RecordingInfo{
			Recording:     rec,
			DurationHuman: library.FormatDuration(rec.Duration),
			SizeHuman:     library.FormatSize(rec.Size),
			CreatedHuman:  rec.CreatedAt.Format("2006-01-02 15:04:05"),
			StreamURL:     "/api/recordings/stream/" + rec.ID,
			DownloadURL:   "/api/recordings/download/" + rec.ID,
		}
		if slot.ActiveID == rec.ID {
			info.Active = true
			info.Playing = slot.Playing
			info.Progress = slot.Progress
		}
		infos = append(infos, info)
	}
	return infos
}

// Slot returns the playback slot.
func (s *Service) Slot() library.Slot {
	return s.store.Slot()
}

// Status returns the session snapshot.
func (s *Service) Status() Status {
	access, _ := s.capture.Access()
	capability := s.capture.Capability()
	elapsed := s.capture.Elapsed()
	st := Status{
		State:        s.capture.State(),
		Access:       access,
		Codec:        capability.String(),
		Supported:    capability.Supported(),
		Elapsed:      elapsed.Seconds(),
		ElapsedHuman: library.FormatDuration(elapsed.Seconds()),
		Slot:         s.store.Slot(),
		Count:        s.store.Len(),
	}
	if b := s.Banner(); b.Kind != BannerNone {
		st.Banner = &b
	}
	return st
}

// Capability returns the codec negotiated at startup.
func (s *Service) Capability() audio.Capability {
	return s.capture.Capability()
}

// Waveform returns the rendered waveform for a binding.
func (s *Service) Waveform(b visual.Binding) string {
	if b == visual.BindingPlayback {
		return s.playVis.View()
	}
	return s.liveVis.View()
}

// Subscribe returns a channel signalled whenever the status or list may
// have changed.
func (s *Service) Subscribe() (<-chan struct{}, func()) {
	return s.notifier.Subscribe()
}

// Banner returns the current alert.
func (s *Service) Banner() Banner {
	s.bannerMu.RLock()
	defer s.bannerMu.RUnlock()
	return s.banner
}

// DismissBanner clears the current alert.
func (s *Service) DismissBanner() {
	s.bannerMu.Lock()
	s.banner = Banner{}
	s.bannerMu.Unlock()
	s.notifier.Notify()
}

func (s *Service) setBanner(b Banner) {
	s.bannerMu.Lock()
	s.banner = b
	s.bannerMu.Unlock()

	slog.Error("Service error occurred", "kind", string(b.Kind), "error_message", b.Message)
	s.notifier.Notify()
}

// clearBanner clears the banner only if it is of the given kind.
func (s *Service) clearBanner(kind BannerKind) {
	s.bannerMu.Lock()
	changed := s.banner.Kind == kind
	if changed {
		s.banner = Banner{}
	}
	s.bannerMu.Unlock()
	if changed {
		s.notifier.Notify()
	}
}

// fail raises the banner for err, if any, and returns err unchanged.
func (s *Service) fail(op string, err error) error {
	if err == nil {
		s.notifier.Notify()
		return nil
	}
	if b, ok := bannerFor(err); ok {
		s.setBanner(b)
	} else {
		slog.Debug("Service operation rejected", "op", op, "error", err)
	}
	return err
}

// Export writes the raw encoded bytes of a recording into the output
// directory and returns the file path. Existing files are never overwritten.
func (s *Service) Export(id string) (string, error) {
	slog.Debug("Service.Export called", "id", id)
	rec, b, err := s.Open(id)
	if err != nil {
		return "", s.fail("export", err)
	}

	dir := s.cfg.Output.Directory
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", s.fail("export", fmt.Errorf("failed to create output directory: %w", err))
	}

	base, ext := exportName(rec)
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s.%s", base, ext)
		if i > 1 {
			name = fmt.Sprintf("%s_%d.%s", base, i, ext)
		}
		path := filepath.Join(dir, name)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", s.fail("export", fmt.Errorf("failed to create %s: %w", path, err))
		}
		if _, err := f.Write(b.Data); err != nil {
			f.Close()
			os.Remove(path)
			return "", s.fail("export", fmt.Errorf("failed to write %s: %w", path, err))
		}
		if err := f.Close(); err != nil {
			return "", s.fail("export", fmt.Errorf("failed to close %s: %w", path, err))
		}
		slog.Info("Recording exported", "id", id, "path", path, "bytes", len(b.Data))
		return path, nil
	}
}

// Close abandons any recording, stops playback and releases every handle
// and the audio devices.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		slog.Debug("Service.Close called")
		s.capture.Close()
		s.store.Close()
		s.stopForward()
		s.liveVis.Detach()
		s.playVis.Detach()
		for _, closeFn := range s.closers {
			if err := closeFn(); err != nil {
				slog.Debug("Audio cleanup failed", "error", err)
			}
		}
		s.notifier.Close()
	})
}

// FileName is the name a recording is downloaded or exported under.
func FileName(rec library.Recording) string {
	base, ext := exportName(rec)
	return base + "." + ext
}

func exportName(rec library.Recording) (base, ext string) {
	base = cleanFileName(strings.ReplaceAll(rec.Name, ":", "-"))
	if base == "" {
		base = "recording"
	}
	ext = rec.Extension
	if ext == "" {
		ext = "bin"
	}
	return base, ext
}

// cleanFileName keeps letters, digits, dashes and spaces, and turns spaces
// into underscores.
func cleanFileName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}
