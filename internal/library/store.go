package library

import (
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
)

// Player is a playable element bound to one recording. *audio.Element
// implements it.
type Player interface {
	OnEvent(fn func(audio.ElementEvent))
	Tap() *audio.Tap
	Play() error
	Pause()
	Paused() bool
	Ended() bool
	Close() error
}

// PlayerFactory creates players for encoded audio.
type PlayerFactory interface {
	NewPlayer(data []byte, mime string) (Player, error)
}

// PlayerFunc adapts a function to PlayerFactory.
type PlayerFunc func(data []byte, mime string) (Player, error)

func (f PlayerFunc) NewPlayer(data []byte, mime string) (Player, error) {
	return f(data, mime)
}

// OutputPlayers creates players on a shared audio output.
func OutputPlayers(out *audio.Output) PlayerFactory {
	return PlayerFunc(func(data []byte, mime string) (Player, error) {
		el, err := out.NewElement(data, mime)
		if err != nil {
			return nil, err
		}
		return el, nil
	})
}

// Visualizer is the playback waveform the store attaches to the active
// player.
type Visualizer interface {
	Attach(src audio.Analyser)
	Detach()
}

// Slot is the single active playback target.
type Slot struct {
	ActiveID string  `json:"active_id"`
	Playing  bool    `json:"playing"`
	Progress float64 `json:"progress"` // percent, 0..100
}

var errStoreClosed = errors.New("store closed")

// Store holds recordings most-recent-first and owns the playback slot.
type Store struct {
	blobs      *blob.Registry
	players    PlayerFactory
	visualizer Visualizer

	// ops serializes user operations; mu guards the fields below and is
	// never held while calling into a player or the visualizer.
	ops sync.Mutex

	mu         sync.Mutex
	recordings []Recording
	active     Player
	slot       Slot
	closed     bool

	changes *Notifier
}

// NewStore creates an empty store. visualizer may be nil.
func NewStore(blobs *blob.Registry, players PlayerFactory, visualizer Visualizer) *Store {
	return &Store{
		blobs:      blobs,
		players:    players,
		visualizer: visualizer,
		changes:    NewNotifier(),
	}
}

// Append inserts rec at the front of the list.
func (s *Store) Append(rec Recording) {
	s.mu.Lock()
	s.recordings = append([]Recording{rec}, s.recordings...)
	s.mu.Unlock()

	slog.Debug("Recording added", "id", rec.ID, "name", rec.Name, "duration", rec.Duration)
	s.notify()
}

// Remove deletes the recording with id and releases its bytes. If it is the
// active playback target, playback is torn down first.
func (s *Store) Remove(id string) error {
	s.ops.Lock()
	defer s.ops.Unlock()

	s.mu.Lock()
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return apperrors.New(apperrors.NotFound, "remove", fmt.Errorf("recording %s: %w", id, apperrors.ErrNotFound))
	}
	rec := s.recordings[idx]
	s.recordings = append(s.recordings[:idx:idx], s.recordings[idx+1:]...)
	isActive := s.slot.ActiveID == id
	s.mu.Unlock()

	if isActive {
		s.teardown()
	}
	s.blobs.Revoke(rec.Handle)

	slog.Debug("Recording removed", "id", id, "was_active", isActive)
	s.notify()
	return nil
}

// TogglePlay pauses the active recording if it is playing, resumes it if it
// is paused, and otherwise switches playback to id from the start.
func (s *Store) TogglePlay(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.ops.Lock()
	defer s.ops.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return apperrors.New(apperrors.PlaybackFailure, "toggle play", errStoreClosed)
	}
	idx := s.indexOf(id)
	if idx < 0 {
		s.mu.Unlock()
		return apperrors.New(apperrors.NotFound, "toggle play", fmt.Errorf("recording %s: %w", id, apperrors.ErrNotFound))
	}
	rec := s.recordings[idx]
	current := s.active
	sameTarget := current != nil && s.slot.ActiveID == id
	s.mu.Unlock()

	if sameTarget {
		switch {
		case !current.Paused():
			current.Pause()
			s.sync(current)
			slog.Debug("Playback paused", "id", id)
			return nil
		case !current.Ended():
			if err := current.Play(); err != nil {
				s.teardown()
				return apperrors.New(apperrors.PlaybackFailure, "resume", err)
			}
			s.sync(current)
			slog.Debug("Playback resumed", "id", id)
			return nil
		}
	}

	s.teardown()
	return s.start(rec)
}

// start creates a player for rec and begins playback at 0. The caller holds
// ops and has torn down any previous target.
func (s *Store) start(rec Recording) error {
	b, err := s.blobs.Open(rec.Handle)
	if err != nil {
		return apperrors.New(apperrors.PlaybackFailure, "play", err)
	}
	p, err := s.players.NewPlayer(b.Data, b.MimeType)
	if err != nil {
		return apperrors.New(apperrors.PlaybackFailure, "play", err)
	}
	p.OnEvent(func(ev audio.ElementEvent) { s.handleEvent(p, ev) })

	s.mu.Lock()
	s.active = p
	s.slot = Slot{ActiveID: rec.ID}
	s.mu.Unlock()

	if s.visualizer != nil {
		s.visualizer.Attach(p.Tap())
	}
	if err := p.Play(); err != nil {
		s.teardown()
		return apperrors.New(apperrors.PlaybackFailure, "play", err)
	}
	s.sync(p)

	slog.Debug("Playback started", "id", rec.ID, "mime", b.MimeType)
	return nil
}

// teardown detaches the visualizer, stops the active player and clears the
// slot. Cleanup errors are logged and swallowed.
func (s *Store) teardown() {
	s.mu.Lock()
	p := s.active
	s.active = nil
	hadTarget := s.slot.ActiveID != ""
	s.slot = Slot{}
	s.mu.Unlock()

	if p == nil && !hadTarget {
		return
	}
	if s.visualizer != nil {
		s.visualizer.Detach()
	}
	if p != nil {
		p.Pause()
		if err := p.Close(); err != nil {
			slog.Debug("Player cleanup failed", "error", err)
		}
	}
	s.notify()
}

// sync refreshes the playing flag from the player's own state.
func (s *Store) sync(p Player) {
	playing := !p.Paused() && !p.Ended()

	s.mu.Lock()
	if s.active != p {
		s.mu.Unlock()
		return
	}
	s.slot.Playing = playing
	s.mu.Unlock()
	s.notify()
}

func (s *Store) handleEvent(p Player, ev audio.ElementEvent) {
	switch ev.Type {
	case audio.EventEnded:
		s.ops.Lock()
		defer s.ops.Unlock()

		s.mu.Lock()
		if s.active != p {
			s.mu.Unlock()
			return
		}
		s.slot.Playing = false
		s.slot.Progress = 100
		s.mu.Unlock()

		if s.visualizer != nil {
			s.visualizer.Detach()
		}
		slog.Debug("Playback ended", "id", s.Slot().ActiveID)
		s.notify()

	case audio.EventTimeUpdate:
		// a tick queued just before the end can arrive after it
		if p.Ended() {
			return
		}
		s.mu.Lock()
		if s.active != p {
			s.mu.Unlock()
			return
		}
		s.slot.Progress = progress(ev.Position, ev.Duration)
		s.mu.Unlock()
		s.notify()

	case audio.EventPlay, audio.EventPause:
		s.sync(p)
	}
}

func progress(pos, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(pos) / float64(total) * 100
	if math.IsNaN(p) {
		return 0
	}
	return math.Max(0, math.Min(100, p))
}

// List returns a snapshot of the recordings, most recent first.
func (s *Store) List() []Recording {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Recording(nil), s.recordings...)
}

// Get returns the recording with id.
func (s *Store) Get(id string) (Recording, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return Recording{}, false
	}
	return s.recordings[idx], true
}

// Slot returns a snapshot of the playback slot.
func (s *Store) Slot() Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slot
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recordings)
}

// Subscribe returns a channel signalled after every change, and a function
// to stop the subscription. Signals coalesce.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	return s.changes.Subscribe()
}

func (s *Store) notify() {
	s.changes.Notify()
}

// Close tears down playback, revokes every handle and ends all
// subscriptions.
func (s *Store) Close() {
	s.ops.Lock()
	defer s.ops.Unlock()

	s.teardown()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	recs := s.recordings
	s.recordings = nil
	s.mu.Unlock()
	s.changes.Close()

	for _, rec := range recs {
		s.blobs.Revoke(rec.Handle)
	}
	slog.Debug("Store closed", "released", len(recs))
}

func (s *Store) indexOf(id string) int {
	for i, rec := range s.recordings {
		if rec.ID == id {
			return i
		}
	}
	return -1
}
