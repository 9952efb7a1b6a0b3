package speech

// PCM format of every clip: little-endian int16, mono.
const (
	SampleRate    = 24000
	Channels      = 1
	BitsPerSample = 16
	FormatPCM     = "pcm_s16le"
)

// AudioResponse 语音合成响应
type AudioResponse struct {
	MessageID  string `json:"messageId"`
	AudioData  string `json:"audioData"` // base64
	Language   string `json:"language"`
	Format     string `json:"format"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	Duration   int64  `json:"duration"` // milliseconds
}

// DurationMillis returns the playback length of n PCM bytes.
func DurationMillis(n int) int64 {
	frameBytes := Channels * BitsPerSample / 8
	return int64(n/frameBytes) * 1000 / SampleRate
}
