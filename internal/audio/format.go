package audio

import (
	"encoding/binary"
	"time"
)

// Format describes interleaved signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

const bytesPerSample = 2

// BytesPerFrame returns the size of one frame across all channels.
func (f Format) BytesPerFrame() int {
	return f.Channels * bytesPerSample
}

// BytesFor returns the PCM byte count covering d, rounded down to whole frames.
func (f Format) BytesFor(d time.Duration) int {
	frames := int(d.Seconds() * float64(f.SampleRate))
	return frames * f.BytesPerFrame()
}

// pcm16ToMono averages each interleaved frame into one sample in [-1, 1].
func pcm16ToMono(data []byte, channels int, fn func(float64)) {
	if channels < 1 {
		channels = 1
	}
	frame := channels * bytesPerSample
	for off := 0; off+frame <= len(data); off += frame {
		var sum float64
		for ch := 0; ch < channels; ch++ {
			v := int16(binary.LittleEndian.Uint16(data[off+ch*bytesPerSample:]))
			sum += float64(v) / 32768
		}
		fn(sum / float64(channels))
	}
}
