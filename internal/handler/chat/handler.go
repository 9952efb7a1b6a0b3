package chat

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/handler/common"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/middleware"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/chat"
	chatService "github.com/zhouzirui/nur-al-ilm/backend/internal/service/chat"
	"github.com/zhouzirui/nur-al-ilm/backend/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	limiter *middleware.RateLimiter
}

// New 创建聊天处理器；limiter 为 nil 时不限流。
func New(chatSvc *chatService.Service, limiter *middleware.RateLimiter) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		limiter: limiter,
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/devices", h.handleCreateDevice)

	r.Get("/sessions/{deviceID}", h.handleSnapshot)
	if h.limiter != nil {
		r.With(h.limiter.Limit(common.DeviceID)).Post("/sessions/{deviceID}/messages", h.handleSubmit)
	} else {
		r.Post("/sessions/{deviceID}/messages", h.handleSubmit)
	}
	r.Post("/sessions/{deviceID}/resume", h.handleResume)
	r.Delete("/sessions/{deviceID}/history", h.handleClearHistory)
	r.Put("/sessions/{deviceID}/messages/{messageID}/language", h.handleSetLanguage)
}

// handleCreateDevice 分配新的设备标识
func (h *Handler) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := uuid.NewString()
	if _, err := h.chatSvc.Session(r.Context(), deviceID); err != nil {
		common.RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, map[string]string{"deviceId": deviceID})
}

// handleSnapshot 返回会话快照
func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	sess, ok := common.Session(w, r, h.chatSvc)
	if !ok {
		return
	}
	utils.RespondJSON(w, http.StatusOK, sess.Snapshot(r.Context()))
}

// handleSubmit 提交一条用户消息
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, ok := common.Session(w, r, h.chatSvc)
	if !ok {
		return
	}

	result, err := sess.Submit(r.Context(), payload.Text)
	if err != nil {
		common.RespondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if !result.Accepted {
		status = http.StatusConflict
	}
	if result.Appended == nil {
		result.Appended = []chat.Message{}
	}
	utils.RespondJSON(w, status, result)
}

// handleResume 警告后重新开始对话
func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	sess, ok := common.Session(w, r, h.chatSvc)
	if !ok {
		return
	}

	if !sess.Resume(r.Context()) {
		utils.RespondJSON(w, http.StatusConflict, map[string]any{
			"resumed": false,
			"status":  sess.Status(r.Context()),
		})
		return
	}
	utils.RespondJSON(w, http.StatusOK, sess.Snapshot(r.Context()))
}

// handleClearHistory 清空历史记录
func (h *Handler) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	sess, ok := common.Session(w, r, h.chatSvc)
	if !ok {
		return
	}
	sess.ClearHistory(r.Context())
	utils.RespondJSON(w, http.StatusOK, sess.Snapshot(r.Context()))
}

// handleSetLanguage 切换消息的展示语言，必要时触发翻译
func (h *Handler) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Language string `json:"language"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.Language == "" {
		utils.RespondError(w, http.StatusBadRequest, "language is required")
		return
	}

	sess, ok := common.Session(w, r, h.chatSvc)
	if !ok {
		return
	}

	msg, err := sess.Messages().SetDisplayLanguage(r.Context(), chi.URLParam(r, "messageID"), payload.Language)
	if err != nil {
		common.RespondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, msg)
}
