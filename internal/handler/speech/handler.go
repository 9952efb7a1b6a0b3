package speech

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/handler/common"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/speech"
	chatservice "github.com/zhouzirui/nur-al-ilm/backend/internal/service/chat"
	speechsvc "github.com/zhouzirui/nur-al-ilm/backend/internal/service/speech"
	"github.com/zhouzirui/nur-al-ilm/backend/pkg/utils"
)

// Handler 语音服务的HTTP处理器
type Handler struct {
	chatSvc *chatservice.Service
}

// New 创建语音处理器
func New(chatSvc *chatservice.Service) *Handler {
	return &Handler{chatSvc: chatSvc}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	const prefix = "/sessions/{deviceID}/messages/{messageID}"
	r.Post(prefix+"/audio", h.handleRequestAudio)
	r.Put(prefix+"/audio", h.handleAttachAudio)
	r.Get(prefix+"/audio.wav", h.handleDownloadWAV)
}

// handleRequestAudio 返回缓存的语音，缺失时合成
func (h *Handler) handleRequestAudio(w http.ResponseWriter, r *http.Request) {
	var req speech.AudioRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, ok := common.Session(w, r, h.chatSvc)
	if !ok {
		return
	}
	messageID := chi.URLParam(r, "messageID")

	audio, err := sess.Messages().RequestAudio(r.Context(), messageID, req.Text)
	if err != nil {
		common.RespondServiceError(w, err)
		return
	}

	pcm, err := speechsvc.DecodeBase64(audio)
	if err != nil {
		utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	language := ""
	if msg, err := sess.Messages().Get(messageID); err == nil {
		language = msg.SelectedLanguage()
	}

	utils.RespondJSON(w, http.StatusOK, speech.AudioResponse{
		MessageID:  messageID,
		AudioData:  audio,
		Language:   language,
		Format:     speech.FormatPCM,
		SampleRate: speech.SampleRate,
		Channels:   speech.Channels,
		Duration:   speech.DurationMillis(len(pcm)),
	})
}

// handleAttachAudio 保存客户端上传的音频
func (h *Handler) handleAttachAudio(w http.ResponseWriter, r *http.Request) {
	var req speech.AttachAudioRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, ok := common.Session(w, r, h.chatSvc)
	if !ok {
		return
	}

	if err := sess.Messages().AttachAudio(r.Context(), chi.URLParam(r, "messageID"), req.AudioData); err != nil {
		common.RespondServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDownloadWAV 以 WAV 文件形式返回语音
func (h *Handler) handleDownloadWAV(w http.ResponseWriter, r *http.Request) {
	sess, ok := common.Session(w, r, h.chatSvc)
	if !ok {
		return
	}
	messageID := chi.URLParam(r, "messageID")

	audio, err := sess.Messages().RequestAudio(r.Context(), messageID, "")
	if err != nil {
		common.RespondServiceError(w, err)
		return
	}
	pcm, err := speechsvc.DecodeBase64(audio)
	if err != nil {
		utils.RespondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	wav := speechsvc.EncodeWAV(pcm)
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", strconv.Itoa(len(wav)))
	w.Header().Set("Content-Disposition", `attachment; filename="`+messageID+`.wav"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}
