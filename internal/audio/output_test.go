package audio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
)

// fakeMixer stands in for the speaker. Tests pull audio through it with
// drain, which runs streamers with the lock held the way the speaker does.
type fakeMixer struct {
	mu        sync.Mutex
	inits     int
	initErr   error
	streamers []beep.Streamer
}

func (m *fakeMixer) Init(beep.SampleRate, int) error {
	m.inits++
	return m.initErr
}

func (m *fakeMixer) Play(s beep.Streamer) {
	m.mu.Lock()
	m.streamers = append(m.streamers, s)
	m.mu.Unlock()
}

func (m *fakeMixer) Lock()   { m.mu.Lock() }
func (m *fakeMixer) Unlock() { m.mu.Unlock() }

// pull streams n samples from every active streamer.
func (m *fakeMixer) pull(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([][2]float64, n)
	kept := m.streamers[:0]
	for _, s := range m.streamers {
		if _, ok := s.Stream(buf); ok {
			kept = append(kept, s)
		}
	}
	m.streamers = kept
}

func (m *fakeMixer) drain() {
	for i := 0; i < 10000; i++ {
		m.mu.Lock()
		active := len(m.streamers)
		m.mu.Unlock()
		if active == 0 {
			return
		}
		m.pull(512)
	}
}

func newTestElement(t *testing.T, m *fakeMixer, seconds float64) *Element {
	t.Helper()
	f := Format{SampleRate: 8000, Channels: 1}
	out := NewOutputWithMixer(m, 8000, nil, 256)
	el, err := out.NewElement(EncodeWAV(sinePCM(f, int(seconds*8000)), f), "audio/wav")
	if err != nil {
		t.Fatalf("NewElement failed: %v", err)
	}
	return el
}

func collectEvents(el *Element) <-chan ElementEvent {
	ch := make(chan ElementEvent, 128)
	el.OnEvent(func(ev ElementEvent) { ch <- ev })
	return ch
}

func waitFor(t *testing.T, ch <-chan ElementEvent, want EventType) ElementEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for %s event", want)
			return ElementEvent{}
		}
	}
}

func TestElement_PlaysToEnd(t *testing.T) {
	m := &fakeMixer{}
	el := newTestElement(t, m, 0.5)
	defer el.Close()
	events := collectEvents(el)

	if el.Duration() != 500*time.Millisecond {
		t.Errorf("Expected 500ms duration, got %v", el.Duration())
	}

	if err := el.Play(); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	waitFor(t, events, EventPlay)

	m.drain()
	ev := waitFor(t, events, EventEnded)

	if ev.Position != ev.Duration {
		t.Errorf("Expected ended at full duration, got %v of %v", ev.Position, ev.Duration)
	}
	if !el.Ended() || !el.Paused() {
		t.Error("Expected element to report ended and paused")
	}
}

func TestElement_PauseKeepsPosition(t *testing.T) {
	m := &fakeMixer{}
	el := newTestElement(t, m, 1)
	defer el.Close()
	events := collectEvents(el)

	el.Play()
	m.pull(2000)
	el.Pause()
	waitFor(t, events, EventPause)

	pos := el.Position()
	if pos != 250*time.Millisecond {
		t.Errorf("Expected position 250ms, got %v", pos)
	}

	m.pull(2000)
	if el.Position() != pos {
		t.Errorf("Expected paused element not to advance, got %v", el.Position())
	}
	if !el.Paused() {
		t.Error("Expected Paused to be true")
	}

	el.Play()
	m.pull(2000)
	if el.Position() != 500*time.Millisecond {
		t.Errorf("Expected resume from 250ms to reach 500ms, got %v", el.Position())
	}
}

func TestElement_FeedsTap(t *testing.T) {
	m := &fakeMixer{}
	el := newTestElement(t, m, 0.25)
	defer el.Close()

	el.Play()
	m.pull(256)

	dst := make([]float64, 256)
	el.Tap().TimeDomain(dst)
	nonZero := false
	for _, v := range dst {
		if v != 0 {
			nonZero = true
			break
		}
	}
	if !nonZero {
		t.Error("Expected the tap to receive played samples")
	}
}

func TestElement_CloseDropsStreamer(t *testing.T) {
	m := &fakeMixer{}
	el := newTestElement(t, m, 1)
	events := collectEvents(el)

	el.Play()
	waitFor(t, events, EventPlay)
	if err := el.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	m.drain()
	if el.Ended() {
		t.Error("Closed element should not report natural completion")
	}
	if el.Tap().Connected() {
		t.Error("Expected tap to be disconnected on close")
	}
	if err := el.Play(); err == nil {
		t.Error("Expected Play after Close to fail")
	}
}

func TestElement_SeekClamps(t *testing.T) {
	m := &fakeMixer{}
	el := newTestElement(t, m, 1)
	defer el.Close()

	if err := el.Seek(10 * time.Second); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if el.Position() != time.Second {
		t.Errorf("Expected clamp to 1s, got %v", el.Position())
	}
}

func TestOutput_InitOnce(t *testing.T) {
	m := &fakeMixer{}
	f := Format{SampleRate: 8000, Channels: 1}
	out := NewOutputWithMixer(m, 8000, nil, 64)

	for i := 0; i < 3; i++ {
		el, err := out.NewElement(EncodeWAV(sinePCM(f, 800), f), "audio/wav")
		if err != nil {
			t.Fatalf("NewElement failed: %v", err)
		}
		el.Play()
		el.Close()
	}
	if m.inits != 1 {
		t.Errorf("Expected output to initialize once, got %d", m.inits)
	}
}

func TestOutput_InitFailureRefusesPlay(t *testing.T) {
	m := &fakeMixer{initErr: errors.New("no device")}
	el := newTestElement(t, m, 0.1)
	defer el.Close()

	if err := el.Play(); err == nil {
		t.Error("Expected Play to fail when the output cannot initialize")
	}
}
