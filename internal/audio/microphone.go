package audio

import (
	"context"
	"errors"
)

var (
	// ErrNoBackend means no capture backend could be initialized on this host.
	ErrNoBackend = errors.New("no audio capture backend available")
	// ErrNoDevice means the backend is up but exposes no usable capture device.
	ErrNoDevice = errors.New("no capture device found")
	// ErrDeviceRefused means the OS refused to open the capture device.
	ErrDeviceRefused = errors.New("capture device refused access")
)

// Stream is a live microphone stream.
type Stream interface {
	Format() Format
	// Chunks delivers raw PCM buffers in capture order. It is closed by Close.
	Chunks() <-chan []byte
	// Tap is the analysis tap fed by this stream.
	Tap() *Tap
	Close() error
}

// Microphone opens live capture streams.
type Microphone interface {
	Open(ctx context.Context, f Format) (Stream, error)
}

// DeviceInfo describes a capture device.
type DeviceInfo struct {
	Name    string `json:"name"`
	Default bool   `json:"default"`
}
