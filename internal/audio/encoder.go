package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zaf/g711"
)

// Encoder turns a live stream into encoded chunks. Chunks are produced
// periodically while recording; Stop finalizes and returns all of them in
// order, ready to be concatenated into one blob.
type Encoder interface {
	Start(s Stream) error
	Stop(ctx context.Context) ([][]byte, error)
}

// EncoderFactory builds an encoder for the negotiated codec.
type EncoderFactory interface {
	NewEncoder(c Codec, f Format) (Encoder, error)
}

// EncoderOptions is the default EncoderFactory.
type EncoderOptions struct {
	Timeslice  time.Duration
	FFmpegPath string
	Bitrate    string
}

var errEncoderStarted = errors.New("encoder already started")
var errEncoderIdle = errors.New("encoder not started")
var errNoAudio = errors.New("encoder received no audio")

func (o EncoderOptions) NewEncoder(c Codec, f Format) (Encoder, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("invalid capture format %+v", f)
	}
	timeslice := o.Timeslice
	if timeslice <= 0 {
		timeslice = 250 * time.Millisecond
	}

	switch normalizeMime(c.MimeType) {
	case "audio/wav":
		return newPCMEncoder(f, wavFormatPCM, 16, f.BytesFor(timeslice), nil), nil
	case "audio/wav;codecs=mulaw":
		return newPCMEncoder(f, wavFormatMulaw, 8, f.BytesFor(timeslice), g711.EncodeUlaw), nil
	}

	if c.Native() {
		return nil, fmt.Errorf("no native encoder for %s", c.MimeType)
	}
	return newFFmpegEncoder(c, f, o), nil
}

// pcmEncoder produces WAV containers in-process. The RIFF header is only
// known once the total data length is, so it is emitted as the first chunk
// at Stop.
type pcmEncoder struct {
	format    Format
	formatTag uint16
	bits      int
	slice     int
	transform func([]byte) []byte

	mu      sync.Mutex
	chunks  [][]byte
	pending []byte
	dataLen int

	started bool
	stop    chan struct{}
	done    chan struct{}
}

func newPCMEncoder(f Format, tag uint16, bits, slice int, transform func([]byte) []byte) *pcmEncoder {
	if slice <= 0 {
		slice = f.BytesPerFrame()
	}
	return &pcmEncoder{
		format:    f,
		formatTag: tag,
		bits:      bits,
		slice:     slice,
		transform: transform,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (e *pcmEncoder) Start(s Stream) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return errEncoderStarted
	}
	if s.Format() != e.format {
		return fmt.Errorf("stream format %+v does not match encoder format %+v", s.Format(), e.format)
	}
	e.started = true
	go pump(s.Chunks(), e.stop, e.done, e.write)
	return nil
}

func (e *pcmEncoder) write(b []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending = append(e.pending, b...)
	if len(e.pending) >= e.slice {
		e.emit()
	}
}

// emit must be called with mu held.
func (e *pcmEncoder) emit() {
	if len(e.pending) == 0 {
		return
	}
	out := e.pending
	if e.transform != nil {
		out = e.transform(out)
	}
	e.chunks = append(e.chunks, out)
	e.dataLen += len(out)
	e.pending = nil
}

func (e *pcmEncoder) Stop(ctx context.Context) ([][]byte, error) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil, errEncoderIdle
	}
	e.mu.Unlock()

	close(e.stop)
	select {
	case <-e.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.emit()
	if e.dataLen == 0 {
		return nil, errNoAudio
	}

	out := make([][]byte, 0, len(e.chunks)+1)
	out = append(out, wavHeader(e.formatTag, e.format, e.bits, e.dataLen))
	out = append(out, e.chunks...)
	return out, nil
}

// pump feeds chunks to sink until the channel closes or stop fires, then
// drains whatever is already queued.
func pump(chunks <-chan []byte, stop <-chan struct{}, done chan<- struct{}, sink func([]byte)) {
	defer close(done)
	for {
		select {
		case b, ok := <-chunks:
			if !ok {
				return
			}
			sink(b)
		case <-stop:
			for {
				select {
				case b, ok := <-chunks:
					if !ok {
						return
					}
					sink(b)
				default:
					return
				}
			}
		}
	}
}
