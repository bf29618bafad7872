package audio

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
)

const chunkQueueDepth = 256

// MalgoMicrophone captures from a miniaudio device. The miniaudio context
// is created on first use and shared by every stream it opens.
type MalgoMicrophone struct {
	deviceName string
	tapSize    int

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewMalgoMicrophone returns a microphone bound to deviceName, or to the
// system default when deviceName is empty.
func NewMalgoMicrophone(deviceName string, tapSize int) *MalgoMicrophone {
	return &MalgoMicrophone{deviceName: deviceName, tapSize: tapSize}
}

func (m *MalgoMicrophone) context() (*malgo.AllocatedContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx != nil {
		return m.ctx, nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		slog.Debug("miniaudio", "message", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoBackend, err)
	}
	m.ctx = ctx
	return ctx, nil
}

// Devices lists capture devices.
func (m *MalgoMicrophone) Devices() ([]DeviceInfo, error) {
	ctx, err := m.context()
	if err != nil {
		return nil, err
	}

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}

	devices := make([]DeviceInfo, 0, len(infos))
	for i := range infos {
		devices = append(devices, DeviceInfo{
			Name:    infos[i].Name(),
			Default: infos[i].IsDefault != 0,
		})
	}
	return devices, nil
}

// Open starts a capture device and returns its stream.
func (m *MalgoMicrophone) Open(ctx context.Context, f Format) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mctx, err := m.context()
	if err != nil {
		return nil, err
	}

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoBackend, err)
	}
	if len(infos) == 0 {
		return nil, ErrNoDevice
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(f.Channels)
	deviceConfig.SampleRate = uint32(f.SampleRate)

	if m.deviceName != "" {
		found := false
		for i := range infos {
			if strings.Contains(strings.ToLower(infos[i].Name()), strings.ToLower(m.deviceName)) {
				deviceConfig.Capture.DeviceID = infos[i].ID.Pointer()
				found = true
				slog.Debug("Using capture device", "name", infos[i].Name())
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrNoDevice, m.deviceName)
		}
	}

	stream := &malgoStream{
		format: f,
		chunks: make(chan []byte, chunkQueueDepth),
		tap:    NewTap(m.tapSize),
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			stream.deliver(input)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceRefused, err)
	}
	stream.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("%w: %v", ErrDeviceRefused, err)
	}

	slog.Debug("Capture device started", "sample_rate", f.SampleRate, "channels", f.Channels)
	return stream, nil
}

// Close releases the miniaudio context.
func (m *MalgoMicrophone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil {
		return nil
	}
	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	return err
}

type malgoStream struct {
	format Format
	device *malgo.Device
	tap    *Tap

	closeOnce sync.Once
	mu        sync.Mutex
	chunks    chan []byte
	closed    bool
	dropped   int
}

func (s *malgoStream) deliver(input []byte) {
	if len(input) == 0 {
		return
	}
	buf := make([]byte, len(input))
	copy(buf, input)
	s.tap.WritePCM16(buf, s.format.Channels)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.chunks <- buf:
	default:
		s.dropped++
	}
}

func (s *malgoStream) Format() Format        { return s.format }
func (s *malgoStream) Chunks() <-chan []byte { return s.chunks }
func (s *malgoStream) Tap() *Tap             { return s.tap }

func (s *malgoStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.device != nil {
			err = s.device.Stop()
			s.device.Uninit()
		}

		s.mu.Lock()
		s.closed = true
		close(s.chunks)
		dropped := s.dropped
		s.mu.Unlock()

		if dropped > 0 {
			slog.Warn("Capture queue overflowed", "dropped_buffers", dropped)
		}
	})
	return err
}
