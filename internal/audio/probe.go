package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
)

// DurationProber measures how long an encoded blob plays for.
type DurationProber struct {
	// FFprobePath enables ffprobe when set and found on PATH.
	FFprobePath string
	Decoder     *Decoder
}

type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe returns the duration of data in seconds. Callers treat any error as
// an unknown duration.
func (p *DurationProber) Probe(ctx context.Context, data []byte, mime string) (float64, error) {
	if len(data) == 0 {
		return 0, errors.New("empty audio data")
	}

	if p.FFprobePath != "" {
		if _, err := exec.LookPath(p.FFprobePath); err == nil {
			d, err := p.ffprobe(ctx, data)
			if err == nil {
				return d, nil
			}
			slog.Debug("ffprobe duration failed, decoding instead", "error", err)
		}
	}

	dec := p.Decoder
	if dec == nil {
		dec = &Decoder{}
	}
	stream, format, err := dec.Decode(data, mime)
	if err != nil {
		return 0, fmt.Errorf("failed to decode for duration: %w", err)
	}
	defer stream.Close()

	n := stream.Len()
	if n <= 0 || format.SampleRate <= 0 {
		return 0, fmt.Errorf("stream length unknown")
	}
	return float64(n) / float64(format.SampleRate), nil
}

func (p *DurationProber) ffprobe(ctx context.Context, data []byte) (float64, error) {
	cmd := exec.CommandContext(ctx, p.FFprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-i", "pipe:0",
	)
	cmd.Stdin = bytes.NewReader(data)

	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseFFprobeDuration(out)
}

func parseFFprobeDuration(out []byte) (float64, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if probe.Format.Duration == "" || probe.Format.Duration == "N/A" {
		return 0, errors.New("ffprobe reported no duration")
	}
	d, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ffprobe duration %q: %w", probe.Format.Duration, err)
	}
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return 0, fmt.Errorf("invalid ffprobe duration %v", d)
	}
	return d, nil
}
