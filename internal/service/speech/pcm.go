package speech

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	model "github.com/zhouzirui/nur-al-ilm/backend/internal/model/speech"
)

const wavHeaderSize = 44

// ErrOddPCM marks PCM data that is not a whole number of int16 samples.
var ErrOddPCM = errors.New("pcm data has an odd number of bytes")

// DecodeBase64 returns the raw PCM bytes of a clip.
func DecodeBase64(data string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("decode audio: %w", err)
	}
	if len(raw)%2 != 0 {
		return nil, ErrOddPCM
	}
	return raw, nil
}

// DecodePCM 将 base64 PCM 解码为 [-1, 1) 区间的浮点采样。
func DecodePCM(data string) ([]float32, error) {
	raw, err := DecodeBase64(data)
	if err != nil {
		return nil, err
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		v := int16(binary.LittleEndian.Uint16(raw[2*i:]))
		samples[i] = float32(v) / 32768.0
	}
	return samples, nil
}

// EncodeWAV wraps raw PCM in a RIFF/WAVE container.
func EncodeWAV(pcm []byte) []byte {
	const (
		channels      = model.Channels
		sampleRate    = model.SampleRate
		bitsPerSample = model.BitsPerSample
		blockAlign    = channels * bitsPerSample / 8
		byteRate      = sampleRate * blockAlign
	)

	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(pcm))

	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// StripWAVHeader returns the samples of a canonical WAV file, or data unchanged
// when it has no RIFF header.
func StripWAVHeader(data []byte) []byte {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return data
	}
	if idx := bytes.Index(data[12:], []byte("data")); idx >= 0 {
		start := 12 + idx + 8
		if start <= len(data) {
			return data[start:]
		}
	}
	return data[wavHeaderSize:]
}
