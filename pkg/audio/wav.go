package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// WAVHeaderSize is the size of the canonical RIFF/WAVE header written by
// [EncodeWAV].
const WAVHeaderSize = 44

// wavFormatPCM is the fmt chunk audio-format tag for uncompressed PCM.
const wavFormatPCM = 1

// WAVHeader describes the format of a parsed WAV file.
type WAVHeader struct {
	AudioFormat   int
	Channels      int
	SampleRate    int
	BitsPerSample int

	// DataOffset is the byte offset of the first sample.
	DataOffset int

	// DataLength is the size of the data chunk in bytes as declared in the
	// header.
	DataLength int
}

// EncodeWAV wraps 16-bit little-endian PCM in a canonical 44-byte RIFF/WAVE
// header with audio format 1 (PCM). Transcription vendors that accept file
// uploads rely on this exact layout.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	const bps = 16
	byteRate := sampleRate * channels * bps / 8
	blockAlign := channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, WAVHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], wavFormatPCM)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bps)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// ParseWAVHeader walks the RIFF chunks of wav and returns the format of the
// first fmt chunk and the location of the data chunk. Chunks other than
// "fmt " and "data" (LIST, fact, ...) are skipped.
func ParseWAVHeader(wav []byte) (WAVHeader, error) {
	if len(wav) < 12 {
		return WAVHeader{}, errors.New("audio: WAV data too short to be a RIFF file")
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return WAVHeader{}, errors.New("audio: missing RIFF/WAVE identifiers")
	}

	var h WAVHeader
	foundFmt := false
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch id {
		case "fmt ":
			if size < 16 || offset+8+16 > len(wav) {
				return WAVHeader{}, fmt.Errorf("audio: fmt chunk truncated (%d bytes)", size)
			}
			f := wav[offset+8:]
			h.AudioFormat = int(binary.LittleEndian.Uint16(f[0:2]))
			h.Channels = int(binary.LittleEndian.Uint16(f[2:4]))
			h.SampleRate = int(binary.LittleEndian.Uint32(f[4:8]))
			h.BitsPerSample = int(binary.LittleEndian.Uint16(f[14:16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return WAVHeader{}, errors.New("audio: data chunk precedes fmt chunk")
			}
			h.DataOffset = offset + 8
			h.DataLength = size
			return h, nil
		}

		offset += 8 + size
		if size%2 != 0 {
			offset++
		}
	}
	return WAVHeader{}, errors.New("audio: missing data chunk")
}

// DecodeWAV parses wav and returns its PCM payload together with the header.
// Streaming responses often declare a placeholder data size; the payload is
// therefore everything after the data chunk header, capped at the declared
// length when that length fits.
func DecodeWAV(wav []byte) ([]byte, WAVHeader, error) {
	h, err := ParseWAVHeader(wav)
	if err != nil {
		return nil, WAVHeader{}, err
	}
	if h.AudioFormat != wavFormatPCM || h.BitsPerSample != 16 {
		return nil, h, fmt.Errorf("audio: unsupported WAV encoding (format %d, %d bits)", h.AudioFormat, h.BitsPerSample)
	}
	pcm := wav[h.DataOffset:]
	if h.DataLength > 0 && h.DataLength <= len(pcm) {
		pcm = pcm[:h.DataLength]
	}
	return pcm, h, nil
}
