package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const ffmpegStopTimeout = 5 * time.Second

// ffmpegEncoder pipes raw PCM into an ffmpeg child process and collects the
// encoded container bytes from its stdout.
type ffmpegEncoder struct {
	codec  Codec
	format Format
	opts   EncoderOptions

	mu       sync.Mutex
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	chunks   [][]byte
	stderr   strings.Builder
	writeErr error

	started  bool
	stop     chan struct{}
	pumpDone chan struct{}
	readDone chan struct{}
}

func newFFmpegEncoder(c Codec, f Format, opts EncoderOptions) *ffmpegEncoder {
	return &ffmpegEncoder{
		codec:    c,
		format:   f,
		opts:     opts,
		stop:     make(chan struct{}),
		pumpDone: make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

func (e *ffmpegEncoder) args() []string {
	args := []string{
		"-hide_banner", "-loglevel", "error",
		"-f", "s16le",
		"-ar", strconv.Itoa(e.format.SampleRate),
		"-ac", strconv.Itoa(e.format.Channels),
		"-i", "pipe:0",
		"-c:a", e.codec.FFmpegEncoder,
	}
	if e.codec.Lossy && e.opts.Bitrate != "" {
		args = append(args, "-b:a", e.opts.Bitrate)
	}
	// libopus only accepts a handful of rates; let ffmpeg resample.
	if e.codec.FFmpegEncoder == "libopus" && e.format.SampleRate != 48000 {
		args = append(args, "-ar", "48000")
	}
	if e.opts.Timeslice > 0 {
		args = append(args, "-flush_packets", "1")
	}
	return append(args, "-f", e.codec.Muxer, "pipe:1")
}

func (e *ffmpegEncoder) Start(s Stream) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return errEncoderStarted
	}
	if s.Format() != e.format {
		return fmt.Errorf("stream format %+v does not match encoder format %+v", s.Format(), e.format)
	}

	path := e.opts.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}

	cmd := exec.Command(path, e.args()...)
	cmd.Stderr = &lockedWriter{mu: &e.mu, b: &e.stderr}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open ffmpeg stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}

	slog.Debug("Starting ffmpeg encoder", "args", strings.Join(cmd.Args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	e.cmd = cmd
	e.stdin = stdin
	e.started = true

	go e.readOutput(stdout)
	go pump(s.Chunks(), e.stop, e.pumpDone, e.write)
	return nil
}

func (e *ffmpegEncoder) write(b []byte) {
	if _, err := e.stdin.Write(b); err != nil {
		e.mu.Lock()
		if e.writeErr == nil {
			e.writeErr = err
		}
		e.mu.Unlock()
	}
}

func (e *ffmpegEncoder) readOutput(r io.Reader) {
	defer close(e.readDone)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			e.mu.Lock()
			e.chunks = append(e.chunks, chunk)
			e.mu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				slog.Debug("ffmpeg stdout read failed", "error", err)
			}
			return
		}
	}
}

func (e *ffmpegEncoder) Stop(ctx context.Context) ([][]byte, error) {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return nil, errEncoderIdle
	}
	e.mu.Unlock()

	close(e.stop)
	<-e.pumpDone

	// Closing stdin lets ffmpeg flush and write the container trailer.
	e.stdin.Close()

	waitErr := make(chan error, 1)
	go func() {
		<-e.readDone
		waitErr <- e.cmd.Wait()
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			e.mu.Lock()
			stderr := e.stderr.String()
			e.mu.Unlock()
			slog.Debug("ffmpeg stderr", "output", stderr)
			return nil, fmt.Errorf("ffmpeg encoder failed: %w", err)
		}
	case <-ctx.Done():
		e.kill(waitErr)
		return nil, ctx.Err()
	case <-time.After(ffmpegStopTimeout):
		slog.Warn("ffmpeg did not exit within timeout, force killing")
		e.kill(waitErr)
		return nil, fmt.Errorf("ffmpeg encoder did not finish within %s", ffmpegStopTimeout)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.writeErr != nil {
		slog.Debug("ffmpeg stdin write failed during recording", "error", e.writeErr)
	}
	if len(e.chunks) == 0 {
		return nil, errors.New("ffmpeg produced no output")
	}
	return e.chunks, nil
}

func (e *ffmpegEncoder) kill(waitErr <-chan error) {
	if e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	<-waitErr
}

type lockedWriter struct {
	mu *sync.Mutex
	b  *strings.Builder
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.Write(p)
}
