package stream

import (
	"log"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/handler/common"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/middleware"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/chat"
	chatService "github.com/zhouzirui/nur-al-ilm/backend/internal/service/chat"
	"github.com/zhouzirui/nur-al-ilm/backend/pkg/utils"
)

// Handler 通过 Server-Sent Events 提交消息并流式返回回答
type Handler struct {
	chatSvc *chatService.Service
	limiter *middleware.RateLimiter
}

// New creates a new stream handler
func New(chatSvc *chatService.Service, limiter *middleware.RateLimiter) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		limiter: limiter,
	}
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	DeviceID string          `json:"deviceId,omitempty"`
	Content  string          `json:"content,omitempty"`
	Message  *chat.Message   `json:"message,omitempty"`
	Status   chat.UserStatus `json:"status,omitempty"`
	Verdict  string          `json:"verdict,omitempty"`
	Accepted *bool           `json:"accepted,omitempty"`
	Deadline int64           `json:"suspensionEndTime,omitempty"`
	Finished bool            `json:"finished,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// RegisterRoutes 注册流式提交路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	if h.limiter != nil {
		r.With(h.limiter.Limit(common.DeviceID)).Get("/sessions/{deviceID}/stream", h.handleStream)
		return
	}
	r.Get("/sessions/{deviceID}/stream", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	message := r.URL.Query().Get("message")
	if strings.TrimSpace(message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message query parameter is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	sess, ok := common.Session(w, r, h.chatSvc)
	if !ok {
		return
	}
	deviceID := common.DeviceID(r)

	utils.SetupSSEHeaders(w)
	utils.SendSSEEvent(w, flusher, "start", StreamResponse{DeviceID: deviceID})

	// delta 可能来自生成器的 goroutine
	var writeMu sync.Mutex
	onDelta := func(chunk string) {
		if chunk == "" {
			return
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		utils.SendSSEEvent(w, flusher, "delta", StreamResponse{DeviceID: deviceID, Content: chunk})
	}

	result, err := sess.Submit(r.Context(), message, chatService.WithDeltas(onDelta))

	writeMu.Lock()
	defer writeMu.Unlock()

	if err != nil {
		log.Printf("[stream] submit failed for device=%s: %v", deviceID, err)
		utils.SendSSEEvent(w, flusher, "error", StreamResponse{DeviceID: deviceID, Error: err.Error()})
		return
	}

	for i := range result.Appended {
		utils.SendSSEEvent(w, flusher, "message", StreamResponse{DeviceID: deviceID, Message: &result.Appended[i]})
	}

	accepted := result.Accepted
	status := StreamResponse{
		DeviceID: deviceID,
		Status:   result.Status,
		Verdict:  string(result.Verdict),
		Accepted: &accepted,
	}
	if !result.SuspendedUntil.IsZero() {
		status.Deadline = result.SuspendedUntil.UnixMilli()
	}
	utils.SendSSEEvent(w, flusher, "status", status)
	utils.SendSSEEvent(w, flusher, "end", StreamResponse{DeviceID: deviceID, Finished: true})

	log.Printf("[stream] completed submit for device=%s accepted=%t status=%s", deviceID, result.Accepted, result.Status)
}
