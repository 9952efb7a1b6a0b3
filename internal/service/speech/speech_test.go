package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"iter"
	"testing"

	"google.golang.org/genai"
)

type fakeGenerator struct {
	resp   *genai.GenerateContentResponse
	err    error
	config *genai.GenerateContentConfig
	model  string
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.config = model, config
	return f.resp, f.err
}

func (f *fakeGenerator) GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {}
}

func audioResponse(mime string, data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{InlineData: &genai.Blob{MIMEType: mime, Data: data}}}},
	}}}
}

func newTestService(t *testing.T, gen *fakeGenerator) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), "", Config{Model: "tts-model", Generator: gen})
	if err != nil {
		t.Fatalf("NewService err: %v", err)
	}
	return svc
}

func TestSynthesizeReturnsBase64PCM(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0xff, 0x7f}
	gen := &fakeGenerator{resp: audioResponse("audio/L16;codec=pcm;rate=24000", pcm)}
	svc := newTestService(t, gen)

	out, err := svc.Synthesize(context.Background(), "Bismillah")
	if err != nil {
		t.Fatalf("Synthesize err: %v", err)
	}
	if out != base64.StdEncoding.EncodeToString(pcm) {
		t.Fatalf("unexpected audio %q", out)
	}
	if gen.model != "tts-model" || gen.config.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Kore" {
		t.Fatalf("unexpected request model=%s config=%+v", gen.model, gen.config)
	}
	if len(gen.config.ResponseModalities) != 1 || gen.config.ResponseModalities[0] != "AUDIO" {
		t.Fatalf("audio modality not requested: %v", gen.config.ResponseModalities)
	}
}

func TestSynthesizeStripsWAVContainer(t *testing.T) {
	pcm := []byte{0x10, 0x20, 0x30, 0x40}
	gen := &fakeGenerator{resp: audioResponse("audio/wav", EncodeWAV(pcm))}

	out, err := newTestService(t, gen).Synthesize(context.Background(), "text")
	if err != nil {
		t.Fatalf("Synthesize err: %v", err)
	}
	if out != base64.StdEncoding.EncodeToString(pcm) {
		t.Fatalf("WAV header not stripped: %q", out)
	}
}

func TestSynthesizeWithoutAudioIsEmpty(t *testing.T) {
	gen := &fakeGenerator{resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: genai.NewContentFromText("I cannot speak", genai.RoleModel),
	}}}}

	out, err := newTestService(t, gen).Synthesize(context.Background(), "text")
	if err != nil || out != "" {
		t.Fatalf("expected empty audio without error, got %q, %v", out, err)
	}
}

func TestSynthesizeEmptyTextSkipsModel(t *testing.T) {
	gen := &fakeGenerator{}
	out, err := newTestService(t, gen).Synthesize(context.Background(), "   ")
	if err != nil || out != "" || gen.config != nil {
		t.Fatalf("empty text must not call the model")
	}
}

func TestSynthesizeError(t *testing.T) {
	boom := errors.New("boom")
	gen := &fakeGenerator{err: boom}
	if _, err := newTestService(t, gen).Synthesize(context.Background(), "text"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestDecodePCM(t *testing.T) {
	raw := make([]byte, 6)
	binary.LittleEndian.PutUint16(raw[0:], uint16(0x4000))
	v := int16(-32768)
	binary.LittleEndian.PutUint16(raw[2:], uint16(v))
	binary.LittleEndian.PutUint16(raw[4:], 0)

	samples, err := DecodePCM(base64.StdEncoding.EncodeToString(raw))
	if err != nil {
		t.Fatalf("DecodePCM err: %v", err)
	}
	want := []float32{0.5, -1, 0}
	for i := range want {
		if samples[i] != want[i] {
			t.Fatalf("sample %d = %v, want %v", i, samples[i], want[i])
		}
	}

	if _, err := DecodePCM(base64.StdEncoding.EncodeToString([]byte{1, 2, 3})); !errors.Is(err, ErrOddPCM) {
		t.Fatalf("expected ErrOddPCM, got %v", err)
	}
	if _, err := DecodePCM("%%%"); err == nil {
		t.Fatalf("expected base64 error")
	}
}

func TestEncodeWAVHeader(t *testing.T) {
	pcm := bytes.Repeat([]byte{0x01, 0x02}, 10)
	wav := EncodeWAV(pcm)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("unexpected length %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("malformed header %q", wav[:44])
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 24000 {
		t.Fatalf("unexpected sample rate %d", rate)
	}
	if channels := binary.LittleEndian.Uint16(wav[22:24]); channels != 1 {
		t.Fatalf("unexpected channels %d", channels)
	}
	if !bytes.Equal(StripWAVHeader(wav), pcm) {
		t.Fatalf("round trip through StripWAVHeader failed")
	}
}
