package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// MIME types produced and consumed by the pipeline.
const (
	MIMEWAV  = "audio/wav"
	MIMEMPEG = "audio/mpeg"
)

// ErrUnsupportedFormat is returned by Decode for audio it cannot read.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// Decode reads an encoded clip into mono samples. The MIME type is a hint;
// the container is also sniffed from the first bytes.
func Decode(data []byte, mime string) (Buffer, error) {
	if len(data) == 0 {
		return Buffer{}, fmt.Errorf("decode: empty clip: %w", ErrUnsupportedFormat)
	}

	var (
		stream beep.StreamSeekCloser
		format beep.Format
		err    error
	)
	switch detectFormat(data, mime) {
	case MIMEWAV:
		stream, format, err = wav.Decode(bytes.NewReader(data))
	case MIMEMPEG:
		stream, format, err = mp3.Decode(io.NopCloser(bytes.NewReader(data)))
	default:
		return Buffer{}, fmt.Errorf("decode %q: %w", mime, ErrUnsupportedFormat)
	}
	if err != nil {
		return Buffer{}, fmt.Errorf("decode %q: %w", mime, err)
	}
	defer stream.Close()

	samples := make([]float32, 0, max(stream.Len(), 0))
	chunk := make([][2]float64, 4096)
	for {
		n, ok := stream.Stream(chunk)
		for _, frame := range chunk[:n] {
			if format.NumChannels > 1 {
				samples = append(samples, float32((frame[0]+frame[1])/2))
			} else {
				samples = append(samples, float32(frame[0]))
			}
		}
		if !ok {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return Buffer{}, fmt.Errorf("decode %q: %w", mime, err)
	}

	return Buffer{Samples: samples, SampleRate: int(format.SampleRate)}, nil
}

func detectFormat(data []byte, mime string) string {
	switch {
	case bytes.HasPrefix(data, []byte("RIFF")):
		return MIMEWAV
	case bytes.HasPrefix(data, []byte("ID3")), len(data) > 1 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return MIMEMPEG
	}
	mime = strings.ToLower(mime)
	switch {
	case strings.Contains(mime, "wav"):
		return MIMEWAV
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		return MIMEMPEG
	}
	return ""
}

// EncodeWAV renders b as a 16-bit PCM mono WAV file.
func EncodeWAV(b Buffer) []byte {
	const headerSize = 44
	dataSize := len(b.Samples) * 2

	out := make([]byte, headerSize+dataSize)
	copy(out[0:], "RIFF")
	binary.LittleEndian.PutUint32(out[4:], uint32(36+dataSize))
	copy(out[8:], "WAVE")
	copy(out[12:], "fmt ")
	binary.LittleEndian.PutUint32(out[16:], 16)                     // fmt chunk size
	binary.LittleEndian.PutUint16(out[20:], 1)                      // PCM
	binary.LittleEndian.PutUint16(out[22:], 1)                      // mono
	binary.LittleEndian.PutUint32(out[24:], uint32(b.SampleRate))   // sample rate
	binary.LittleEndian.PutUint32(out[28:], uint32(b.SampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(out[32:], 2)                      // block align
	binary.LittleEndian.PutUint16(out[34:], 16)                     // bits per sample
	copy(out[36:], "data")
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))

	for i, s := range b.Samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(out[headerSize+i*2:], uint16(int16(math.Round(v*math.MaxInt16))))
	}
	return out
}
