package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

// fakeStream is an in-memory Stream fed by the test.
type fakeStream struct {
	format Format
	chunks chan []byte
	tap    *Tap
}

func newFakeStream(f Format) *fakeStream {
	return &fakeStream{format: f, chunks: make(chan []byte, 64), tap: NewTap(64)}
}

func (s *fakeStream) Format() Format        { return s.format }
func (s *fakeStream) Chunks() <-chan []byte { return s.chunks }
func (s *fakeStream) Tap() *Tap             { return s.tap }
func (s *fakeStream) Close() error          { close(s.chunks); return nil }

// sinePCM returns frames of a 440Hz tone as interleaved PCM16.
func sinePCM(f Format, frames int) []byte {
	buf := make([]byte, frames*f.BytesPerFrame())
	for i := 0; i < frames; i++ {
		v := int16(math.Sin(2*math.Pi*440*float64(i)/float64(f.SampleRate)) * 12000)
		for ch := 0; ch < f.Channels; ch++ {
			binary.LittleEndian.PutUint16(buf[(i*f.Channels+ch)*2:], uint16(v))
		}
	}
	return buf
}

func TestTap_TimeDomainOrder(t *testing.T) {
	tap := NewTap(4)

	pcm := make([]byte, 6*2)
	for i, v := range []int16{0, 8192, 16384, -8192, -16384, 32767} {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	tap.WritePCM16(pcm, 1)

	dst := make([]float64, 4)
	n := tap.TimeDomain(dst)
	if n != 4 {
		t.Fatalf("Expected 4 samples, got %d", n)
	}
	expected := []float64{0.5, -0.25, -0.5, 32767.0 / 32768}
	for i, want := range expected {
		if math.Abs(dst[i]-want) > 1e-9 {
			t.Errorf("Sample %d: expected %v, got %v", i, want, dst[i])
		}
	}
}

func TestTap_StereoAveraged(t *testing.T) {
	tap := NewTap(2)
	pcm := make([]byte, 4)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(16384))
	binary.LittleEndian.PutUint16(pcm[2:], 0)
	tap.WritePCM16(pcm, 2)

	dst := make([]float64, 1)
	tap.TimeDomain(dst)
	if dst[0] != 0.25 {
		t.Errorf("Expected averaged sample 0.25, got %v", dst[0])
	}
}

func TestTap_DisconnectIgnoresWrites(t *testing.T) {
	tap := NewTap(2)
	tap.Disconnect()

	if tap.Connected() {
		t.Fatal("Expected tap to be disconnected")
	}

	pcm := make([]byte, 4)
	binary.LittleEndian.PutUint16(pcm[0:], uint16(16384))
	binary.LittleEndian.PutUint16(pcm[2:], uint16(16384))
	tap.WritePCM16(pcm, 1)

	dst := make([]float64, 2)
	tap.TimeDomain(dst)
	if dst[0] != 0 || dst[1] != 0 {
		t.Errorf("Expected silence after disconnect, got %v", dst)
	}
}

func TestNegotiate_FirstSupportedWins(t *testing.T) {
	prefs := []string{"audio/ogg;codecs=opus", "audio/flac", "audio/wav"}
	capability := Negotiate(prefs, NewStaticProber("audio/wav", "audio/flac"))

	if !capability.Supported() {
		t.Fatal("Expected a supported codec")
	}
	if capability.Codec.MimeType != "audio/flac" {
		t.Errorf("Expected audio/flac, got %s", capability.Codec.MimeType)
	}
	if len(capability.Tried) != 2 {
		t.Errorf("Expected probing to stop at the second preference, tried %v", capability.Tried)
	}
}

func TestNegotiate_NoneSupported(t *testing.T) {
	capability := Negotiate([]string{"audio/ogg;codecs=opus"}, NewStaticProber())

	if capability.Supported() {
		t.Fatal("Expected unsupported capability")
	}
	if capability.String() != "unsupported" {
		t.Errorf("Expected 'unsupported', got %s", capability.String())
	}
}

func TestNegotiate_SkipsUnknownMime(t *testing.T) {
	capability := Negotiate([]string{"audio/x-unknown", "audio/wav"}, NewStaticProber("audio/x-unknown", "audio/wav"))

	if capability.Codec.MimeType != "audio/wav" {
		t.Errorf("Expected unknown mime to be skipped, got %s", capability.Codec.MimeType)
	}
}

func TestLookupCodec_NormalizesMime(t *testing.T) {
	c, ok := LookupCodec("Audio/WAV; codecs=MULAW")
	if !ok {
		t.Fatal("Expected lookup to succeed")
	}
	if !c.Native() || c.Extension != "wav" {
		t.Errorf("Unexpected codec: %+v", c)
	}
}

func TestFFmpegProber_NativeWithoutFFmpeg(t *testing.T) {
	p := &FFmpegProber{Path: "/nonexistent/ffmpeg"}

	wavCodec, _ := LookupCodec("audio/wav")
	if !p.Supports(wavCodec) {
		t.Error("Expected native WAV to be supported without ffmpeg")
	}
	opus, _ := LookupCodec("audio/ogg;codecs=opus")
	if p.Supports(opus) {
		t.Error("Expected opus to be unsupported without ffmpeg")
	}
}

func TestParseEncoderList(t *testing.T) {
	out := []byte(`Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC
 A....D libopus              libopus Opus
 A....D flac                 FLAC (Free Lossless Audio Codec)
`)
	encoders := parseEncoderList(out)

	if !encoders["libopus"] || !encoders["flac"] {
		t.Errorf("Expected libopus and flac, got %v", encoders)
	}
	if encoders["libx264"] {
		t.Error("Video encoder should not be listed")
	}
	if encoders["="] {
		t.Error("Legend lines should be ignored")
	}
}

func TestDescribe(t *testing.T) {
	lines := Describe([]string{"audio/wav", "audio/flac", "audio/x-nope"}, NewStaticProber("audio/wav"))

	if len(lines) != 3 {
		t.Fatalf("Expected 3 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[0], "supported (native)") {
		t.Errorf("Unexpected line: %s", lines[0])
	}
	if !strings.Contains(lines[1], "unavailable") {
		t.Errorf("Unexpected line: %s", lines[1])
	}
	if !strings.Contains(lines[2], "unknown") {
		t.Errorf("Unexpected line: %s", lines[2])
	}
}

func TestWAVEncoder_ChunksAssembleToValidFile(t *testing.T) {
	f := Format{SampleRate: 8000, Channels: 1}
	codec, _ := LookupCodec("audio/wav")
	enc, err := EncoderOptions{Timeslice: 100 * time.Millisecond}.NewEncoder(codec, f)
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}

	stream := newFakeStream(f)
	if err := enc.Start(stream); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	pcm := sinePCM(f, 4000)
	for off := 0; off < len(pcm); off += 500 {
		stream.chunks <- pcm[off : off+500]
	}

	chunks, err := enc.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(chunks) < 3 {
		t.Errorf("Expected header plus several periodic chunks, got %d", len(chunks))
	}

	blob := bytes.Join(chunks, nil)
	info, err := parseWAV(blob)
	if err != nil {
		t.Fatalf("Assembled blob is not a WAV file: %v", err)
	}
	if info.FormatTag != wavFormatPCM || info.SampleRate != 8000 || info.Channels != 1 {
		t.Errorf("Unexpected header: %+v", info)
	}
	if !bytes.Equal(info.Data, pcm) {
		t.Errorf("Expected %d data bytes, got %d", len(pcm), len(info.Data))
	}
}

func TestMulawEncoder_HalvesPayload(t *testing.T) {
	f := Format{SampleRate: 8000, Channels: 1}
	codec, _ := LookupCodec("audio/wav;codecs=mulaw")
	enc, err := EncoderOptions{}.NewEncoder(codec, f)
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}

	stream := newFakeStream(f)
	if err := enc.Start(stream); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	pcm := sinePCM(f, 800)
	stream.chunks <- pcm

	chunks, err := enc.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	info, err := parseWAV(bytes.Join(chunks, nil))
	if err != nil {
		t.Fatalf("Not a WAV file: %v", err)
	}
	if info.FormatTag != wavFormatMulaw || info.BitsPerSample != 8 {
		t.Errorf("Unexpected header: %+v", info)
	}
	if len(info.Data) != len(pcm)/2 {
		t.Errorf("Expected %d mu-law bytes, got %d", len(pcm)/2, len(info.Data))
	}
}

func TestEncoder_StopWithoutStart(t *testing.T) {
	codec, _ := LookupCodec("audio/wav")
	enc, _ := EncoderOptions{}.NewEncoder(codec, Format{SampleRate: 8000, Channels: 1})

	if _, err := enc.Stop(context.Background()); err == nil {
		t.Error("Expected error stopping an encoder that never started")
	}
}

func TestEncoder_StopWithoutAudioFails(t *testing.T) {
	f := Format{SampleRate: 8000, Channels: 1}
	for _, mime := range []string{"audio/wav", "audio/wav;codecs=mulaw"} {
		codec, _ := LookupCodec(mime)
		enc, _ := EncoderOptions{}.NewEncoder(codec, f)
		if err := enc.Start(newFakeStream(f)); err != nil {
			t.Fatalf("%s: Start failed: %v", mime, err)
		}

		chunks, err := enc.Stop(context.Background())
		if !errors.Is(err, errNoAudio) {
			t.Errorf("%s: Expected errNoAudio, got %v", mime, err)
		}
		if chunks != nil {
			t.Errorf("%s: Expected no chunks, got %d", mime, len(chunks))
		}
	}
}

func TestEncoder_FormatMismatchRefusesStart(t *testing.T) {
	codec, _ := LookupCodec("audio/wav")
	enc, _ := EncoderOptions{}.NewEncoder(codec, Format{SampleRate: 8000, Channels: 1})

	if err := enc.Start(newFakeStream(Format{SampleRate: 44100, Channels: 2})); err == nil {
		t.Error("Expected format mismatch error")
	}
}

func TestEncoder_DoubleStart(t *testing.T) {
	f := Format{SampleRate: 8000, Channels: 1}
	codec, _ := LookupCodec("audio/wav")
	enc, _ := EncoderOptions{}.NewEncoder(codec, f)

	if err := enc.Start(newFakeStream(f)); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := enc.Start(newFakeStream(f)); err == nil {
		t.Error("Expected second Start to fail")
	}
	enc.Stop(context.Background())
}

func TestFFmpegEncoder_MissingBinaryFailsStart(t *testing.T) {
	f := Format{SampleRate: 48000, Channels: 1}
	codec, _ := LookupCodec("audio/ogg;codecs=opus")
	enc, err := EncoderOptions{FFmpegPath: "/nonexistent/ffmpeg"}.NewEncoder(codec, f)
	if err != nil {
		t.Fatalf("NewEncoder failed: %v", err)
	}
	if err := enc.Start(newFakeStream(f)); err == nil {
		t.Error("Expected Start to fail without ffmpeg")
	}
}

func TestFFmpegEncoder_Args(t *testing.T) {
	codec, _ := LookupCodec("audio/ogg;codecs=opus")
	enc := newFFmpegEncoder(codec, Format{SampleRate: 44100, Channels: 2}, EncoderOptions{Bitrate: "64k"})

	args := strings.Join(enc.args(), " ")
	for _, want := range []string{"-f s16le", "-ar 44100", "-ac 2", "-c:a libopus", "-b:a 64k", "-ar 48000", "-f ogg pipe:1"} {
		if !strings.Contains(args, want) {
			t.Errorf("Expected args to contain %q, got %s", want, args)
		}
	}

	flacCodec, _ := LookupCodec("audio/flac")
	flacArgs := strings.Join(newFFmpegEncoder(flacCodec, Format{SampleRate: 48000, Channels: 1}, EncoderOptions{Bitrate: "64k"}).args(), " ")
	if strings.Contains(flacArgs, "-b:a") {
		t.Errorf("Lossless codec should not get a bitrate: %s", flacArgs)
	}
}

func TestParseWAV_Errors(t *testing.T) {
	if _, err := parseWAV([]byte("garbage")); err == nil {
		t.Error("Expected error for non-RIFF data")
	}

	header := wavHeader(wavFormatPCM, Format{SampleRate: 8000, Channels: 1}, 16, 0)
	truncated := header[:36]
	if _, err := parseWAV(truncated); err == nil {
		t.Error("Expected error for missing data chunk")
	}
}

func TestDurationProber_DecodesWAV(t *testing.T) {
	f := Format{SampleRate: 8000, Channels: 1}
	blob := EncodeWAV(sinePCM(f, 16000), f)

	p := &DurationProber{}
	d, err := p.Probe(context.Background(), blob, "audio/wav")
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if math.Abs(d-2.0) > 1e-6 {
		t.Errorf("Expected 2s, got %v", d)
	}
}

func TestDurationProber_DecodesMulaw(t *testing.T) {
	f := Format{SampleRate: 8000, Channels: 1}
	codec, _ := LookupCodec("audio/wav;codecs=mulaw")
	enc, _ := EncoderOptions{}.NewEncoder(codec, f)
	stream := newFakeStream(f)
	enc.Start(stream)
	stream.chunks <- sinePCM(f, 4000)
	chunks, err := enc.Stop(context.Background())
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	p := &DurationProber{}
	d, err := p.Probe(context.Background(), bytes.Join(chunks, nil), codec.MimeType)
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if math.Abs(d-0.5) > 1e-6 {
		t.Errorf("Expected 0.5s, got %v", d)
	}
}

func TestDurationProber_Garbage(t *testing.T) {
	p := &DurationProber{}
	if _, err := p.Probe(context.Background(), []byte("not audio at all"), "audio/wav"); err == nil {
		t.Error("Expected error for garbage data")
	}
	if _, err := p.Probe(context.Background(), nil, "audio/wav"); err == nil {
		t.Error("Expected error for empty data")
	}
}

func TestParseFFprobeDuration(t *testing.T) {
	d, err := parseFFprobeDuration([]byte(`{"format": {"duration": "3.250000"}}`))
	if err != nil || d != 3.25 {
		t.Errorf("Expected 3.25, got %v (%v)", d, err)
	}

	for _, bad := range []string{`{"format": {"duration": "N/A"}}`, `{"format": {}}`, `{"format": {"duration": "inf"}}`, `nope`} {
		if _, err := parseFFprobeDuration([]byte(bad)); err == nil {
			t.Errorf("Expected error for %s", bad)
		}
	}
}

func TestDecoder_UnsupportedMime(t *testing.T) {
	d := &Decoder{}
	if _, _, err := d.Decode([]byte{1, 2, 3}, "audio/x-tracker"); err == nil {
		t.Error("Expected unsupported mime error")
	}
}
