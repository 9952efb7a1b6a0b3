package persona

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/chat"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/persona"
	"github.com/zhouzirui/nur-al-ilm/backend/pkg/utils"
)

// Handler 助手信息的HTTP处理器
type Handler struct {
	personas persona.Store
}

// New 创建persona处理器
func New(personas persona.Store) *Handler {
	return &Handler{
		personas: personas,
	}
}

// AssistantResponse 描述助手及其可选翻译语言。
type AssistantResponse struct {
	Assistant          persona.Persona `json:"assistant"`
	SupportedLanguages []string        `json:"supportedLanguages"`
}

// RegisterRoutes 注册persona相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/assistant", h.handleAssistant)
}

// handleAssistant 返回默认助手
func (h *Handler) handleAssistant(w http.ResponseWriter, r *http.Request) {
	languages := append([]string{chat.LanguageOriginal}, chat.SupportedLanguages...)
	utils.RespondJSON(w, http.StatusOK, AssistantResponse{
		Assistant:          persona.Default(h.personas),
		SupportedLanguages: languages,
	})
}
