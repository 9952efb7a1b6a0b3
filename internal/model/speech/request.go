package speech

// AudioRequest 请求为某条消息合成语音。
type AudioRequest struct {
	// Text overrides the displayed text of the message when set.
	Text string `json:"text,omitempty"`
}

// AttachAudioRequest 上传客户端已有的音频。
type AttachAudioRequest struct {
	AudioData string `json:"audioData"`
}
