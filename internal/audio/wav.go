package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	wavFormatPCM   = 1
	wavFormatMulaw = 7
)

// wavHeader builds a canonical 44-byte RIFF/WAVE header.
func wavHeader(formatTag uint16, f Format, bitsPerSample int, dataLen int) []byte {
	var buf bytes.Buffer
	blockAlign := f.Channels * bitsPerSample / 8
	byteRate := f.SampleRate * blockAlign

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, formatTag)
	binary.Write(&buf, binary.LittleEndian, uint16(f.Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))

	return buf.Bytes()
}

// EncodeWAV wraps PCM16 samples in a WAV container.
func EncodeWAV(pcm []byte, f Format) []byte {
	out := wavHeader(wavFormatPCM, f, 16, len(pcm))
	return append(out, pcm...)
}

type wavInfo struct {
	FormatTag     uint16
	Channels      int
	SampleRate    int
	BitsPerSample int
	Data          []byte
}

var errNotWAV = errors.New("not a RIFF/WAVE stream")

// parseWAV walks the RIFF chunks and returns the fmt fields and data payload.
func parseWAV(data []byte) (wavInfo, error) {
	var info wavInfo
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return info, errNotWAV
	}

	haveFmt := false
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		end := body + size
		if end > len(data) {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return info, fmt.Errorf("fmt chunk too short: %d bytes", end-body)
			}
			chunk := data[body:end]
			info.FormatTag = binary.LittleEndian.Uint16(chunk[0:2])
			info.Channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(chunk[14:16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return info, errors.New("data chunk before fmt chunk")
			}
			info.Data = data[body:end]
			return info, nil
		}

		// chunks are word aligned
		off = body + size + size%2
	}

	return info, errors.New("missing data chunk")
}
