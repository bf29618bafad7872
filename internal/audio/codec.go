package audio

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Codec describes one container/codec pair the recorder can produce.
type Codec struct {
	MimeType  string `json:"mime_type"`
	Extension string `json:"extension"`
	// Muxer is the ffmpeg output format, empty for native encoders.
	Muxer string `json:"-"`
	// FFmpegEncoder is the ffmpeg audio encoder name, empty for native encoders.
	FFmpegEncoder string `json:"-"`
	Lossy         bool   `json:"-"`
}

// Native reports whether the codec is produced in-process without ffmpeg.
func (c Codec) Native() bool {
	return c.FFmpegEncoder == ""
}

var knownCodecs = []Codec{
	{MimeType: "audio/ogg;codecs=opus", Extension: "ogg", Muxer: "ogg", FFmpegEncoder: "libopus", Lossy: true},
	{MimeType: "audio/ogg;codecs=vorbis", Extension: "ogg", Muxer: "ogg", FFmpegEncoder: "libvorbis", Lossy: true},
	{MimeType: "audio/flac", Extension: "flac", Muxer: "flac", FFmpegEncoder: "flac"},
	{MimeType: "audio/mpeg", Extension: "mp3", Muxer: "mp3", FFmpegEncoder: "libmp3lame", Lossy: true},
	{MimeType: "audio/wav", Extension: "wav"},
	{MimeType: "audio/wav;codecs=mulaw", Extension: "wav"},
}

// LookupCodec finds a known codec by mime type, ignoring case and spaces.
func LookupCodec(mime string) (Codec, bool) {
	want := normalizeMime(mime)
	for _, c := range knownCodecs {
		if normalizeMime(c.MimeType) == want {
			return c, true
		}
	}
	return Codec{}, false
}

func normalizeMime(mime string) string {
	return strings.ToLower(strings.ReplaceAll(mime, " ", ""))
}

// CapabilityKind is the outcome of codec negotiation.
type CapabilityKind int

const (
	CapabilityUnsupported CapabilityKind = iota
	CapabilityAvailable
)

// Capability is the codec locked in at startup, or the absence of one.
type Capability struct {
	Kind  CapabilityKind
	Codec Codec
	// Tried lists the preferences probed, in order.
	Tried []string
}

// Supported reports whether recording is possible.
func (c Capability) Supported() bool {
	return c.Kind == CapabilityAvailable
}

func (c Capability) String() string {
	if !c.Supported() {
		return "unsupported"
	}
	return c.Codec.MimeType
}

// Prober answers whether a codec can be encoded on this host.
type Prober interface {
	Supports(c Codec) bool
}

// Negotiate probes prefs in order and returns the first supported codec.
// Unknown mime types are skipped.
func Negotiate(prefs []string, p Prober) Capability {
	capability := Capability{Kind: CapabilityUnsupported}
	for _, mime := range prefs {
		capability.Tried = append(capability.Tried, mime)
		codec, ok := LookupCodec(mime)
		if !ok {
			slog.Debug("Skipping unknown codec preference", "mime", mime)
			continue
		}
		if p.Supports(codec) {
			capability.Kind = CapabilityAvailable
			capability.Codec = codec
			slog.Debug("Negotiated codec", "mime", codec.MimeType)
			return capability
		}
		slog.Debug("Codec not supported", "mime", mime)
	}
	return capability
}

// FFmpegProber reports native codecs as supported and checks ffmpeg codecs
// against the encoder list of the configured ffmpeg binary.
type FFmpegProber struct {
	Path string

	once     sync.Once
	encoders map[string]bool
}

func (p *FFmpegProber) Supports(c Codec) bool {
	if c.Native() {
		return true
	}
	p.once.Do(p.load)
	return p.encoders[c.FFmpegEncoder]
}

func (p *FFmpegProber) load() {
	p.encoders = map[string]bool{}

	path := p.Path
	if path == "" {
		path = "ffmpeg"
	}
	if _, err := exec.LookPath(path); err != nil {
		slog.Debug("ffmpeg not found, only native codecs available", "path", path)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "-hide_banner", "-encoders").Output()
	if err != nil {
		slog.Debug("ffmpeg encoder listing failed", "error", err)
		return
	}
	p.encoders = parseEncoderList(out)
}

// parseEncoderList extracts audio encoder names from `ffmpeg -encoders`.
func parseEncoderList(out []byte) map[string]bool {
	encoders := map[string]bool{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	inList := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "------") {
			inList = true
			continue
		}
		if !inList {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 || len(fields[0]) != 6 {
			continue
		}
		if fields[0][0] == 'A' {
			encoders[fields[1]] = true
		}
	}
	return encoders
}

// StaticProber supports exactly the listed mime types. Used for tests and
// for forcing a codec from the command line.
type StaticProber map[string]bool

func (s StaticProber) Supports(c Codec) bool {
	return s[normalizeMime(c.MimeType)]
}

// NewStaticProber builds a StaticProber from mime types.
func NewStaticProber(mimes ...string) StaticProber {
	s := StaticProber{}
	for _, m := range mimes {
		s[normalizeMime(m)] = true
	}
	return s
}

// Describe renders a capability report line per preference.
func Describe(prefs []string, p Prober) []string {
	lines := make([]string, 0, len(prefs))
	for _, mime := range prefs {
		codec, ok := LookupCodec(mime)
		switch {
		case !ok:
			lines = append(lines, fmt.Sprintf("%-26s unknown", mime))
		case p.Supports(codec):
			backend := "native"
			if !codec.Native() {
				backend = "ffmpeg " + codec.FFmpegEncoder
			}
			lines = append(lines, fmt.Sprintf("%-26s supported (%s)", mime, backend))
		default:
			lines = append(lines, fmt.Sprintf("%-26s unavailable", mime))
		}
	}
	return lines
}
