// Package common 收拢各 handler 共用的会话查找与错误映射。
package common

import (
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatservice "github.com/zhouzirui/nur-al-ilm/backend/internal/service/chat"
	"github.com/zhouzirui/nur-al-ilm/backend/pkg/utils"
)

// StatusFor maps service errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, chatservice.ErrDeviceRequired),
		errors.Is(err, chatservice.ErrInvalidDevice),
		errors.Is(err, chatservice.ErrEmptyMessage),
		errors.Is(err, chatservice.ErrUnsupportedLanguage),
		errors.Is(err, chatservice.ErrNotTranslatable),
		errors.Is(err, chatservice.ErrInvalidAudio):
		return http.StatusBadRequest
	case errors.Is(err, chatservice.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, chatservice.ErrTranslationFailed),
		errors.Is(err, chatservice.ErrAudioUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, chatservice.ErrTranslatorDisabled),
		errors.Is(err, chatservice.ErrSynthesizerDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondServiceError 写出错误响应；5xx 只返回概要信息。
func RespondServiceError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[http] internal error: %v", err)
		utils.RespondError(w, status, "internal error")
		return
	}
	utils.RespondError(w, status, err.Error())
}

// DeviceID 返回路由中的 deviceID 参数。
func DeviceID(r *http.Request) string {
	return chi.URLParam(r, "deviceID")
}

// Session resolves the session of the request's device, writing the error
// response itself when lookup fails.
func Session(w http.ResponseWriter, r *http.Request, svc *chatservice.Service) (*chatservice.Session, bool) {
	sess, err := svc.Session(r.Context(), DeviceID(r))
	if err != nil {
		RespondServiceError(w, err)
		return nil, false
	}
	return sess, true
}
