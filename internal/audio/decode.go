package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/flac"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/vorbis"
	"github.com/gopxl/beep/v2/wav"
	"github.com/zaf/g711"
)

// ErrUnsupportedMime is returned when no decoder handles a mime type.
var ErrUnsupportedMime = errors.New("unsupported audio mime type")

const transcodeRate = 48000

// Decoder turns encoded recording bytes back into a seekable stream.
type Decoder struct {
	// FFmpegPath is used for codecs beep cannot read directly (opus).
	FFmpegPath string
}

type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error { return nil }

func newReadSeekCloser(data []byte) readSeekNopCloser {
	return readSeekNopCloser{bytes.NewReader(data)}
}

// Decode opens data according to its mime type.
func (d *Decoder) Decode(data []byte, mime string) (beep.StreamSeekCloser, beep.Format, error) {
	if len(data) == 0 {
		return nil, beep.Format{}, errors.New("empty audio data")
	}

	switch normalizeMime(mime) {
	case "audio/wav":
		return wav.Decode(newReadSeekCloser(data))
	case "audio/wav;codecs=mulaw":
		return d.decodeMulaw(data)
	case "audio/flac":
		return flac.Decode(newReadSeekCloser(data))
	case "audio/mpeg":
		return mp3.Decode(newReadSeekCloser(data))
	case "audio/ogg;codecs=vorbis":
		return vorbis.Decode(newReadSeekCloser(data))
	case "audio/ogg;codecs=opus":
		return d.decodeViaFFmpeg(data)
	}
	return nil, beep.Format{}, fmt.Errorf("%w: %s", ErrUnsupportedMime, mime)
}

func (d *Decoder) decodeMulaw(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	info, err := parseWAV(data)
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("failed to read mu-law container: %w", err)
	}
	if info.FormatTag != wavFormatMulaw {
		return nil, beep.Format{}, fmt.Errorf("expected mu-law format tag %d, got %d", wavFormatMulaw, info.FormatTag)
	}
	pcm := g711.DecodeUlaw(info.Data)
	f := Format{SampleRate: info.SampleRate, Channels: info.Channels}
	return wav.Decode(newReadSeekCloser(EncodeWAV(pcm, f)))
}

func (d *Decoder) decodeViaFFmpeg(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	path := d.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}
	if _, err := exec.LookPath(path); err != nil {
		return nil, beep.Format{}, fmt.Errorf("ffmpeg is required to decode this recording: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	f := Format{SampleRate: transcodeRate, Channels: 2}
	cmd := exec.CommandContext(ctx, path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le", "-acodec", "pcm_s16le",
		"-ar", fmt.Sprint(f.SampleRate), "-ac", fmt.Sprint(f.Channels),
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)
	var stderr strings.Builder
	cmd.Stderr = &stderr

	pcm, err := cmd.Output()
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("ffmpeg decode failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return wav.Decode(newReadSeekCloser(EncodeWAV(pcm, f)))
}
