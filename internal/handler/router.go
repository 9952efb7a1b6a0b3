package handler

import (
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/handler/chat"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/handler/persona"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/handler/speech"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/handler/status"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/nur-al-ilm/backend/internal/middleware"
	personaModel "github.com/zhouzirui/nur-al-ilm/backend/internal/model/persona"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/observability"
	chatService "github.com/zhouzirui/nur-al-ilm/backend/internal/service/chat"
	"github.com/zhouzirui/nur-al-ilm/backend/pkg/utils"
)

// RouterConfig 路由层的可选配置。
type RouterConfig struct {
	AllowedOrigins []string
	// SubmitPerSecond <= 0 disables the per-device submit limiter.
	SubmitPerSecond float64
	SubmitBurst     int
	MetricsEnabled  bool
	StatusInterval  time.Duration
}

// NewRouter wires HTTP routes to core services.
func NewRouter(cfg RouterConfig, personas personaModel.Store, chatSvc *chatService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(log.New(os.Stdout, "", log.LstdFlags)))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(cfg.AllowedOrigins))
	if cfg.MetricsEnabled {
		r.Use(middlewarePkg.Metrics)
		r.Method(http.MethodGet, "/metrics", observability.MetricsHandler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"sessions": chatSvc.Len(),
		})
	})

	var limiter *middlewarePkg.RateLimiter
	if cfg.SubmitPerSecond > 0 {
		limiter = middlewarePkg.NewRateLimiter(cfg.SubmitPerSecond, cfg.SubmitBurst)
	}

	personaHandler := persona.New(personas)
	chatHandler := chat.New(chatSvc, limiter)
	streamHandler := stream.New(chatSvc, limiter)
	speechHandler := speech.New(chatSvc)
	statusHandler := status.NewWebSocketHandler(chatSvc, cfg.StatusInterval, originChecker(cfg.AllowedOrigins))

	r.Route("/api", func(api chi.Router) {
		personaHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
		speechHandler.RegisterRoutes(api)
		statusHandler.RegisterRoutes(api)
	})

	return r
}

// originChecker 复用 CORS 白名单校验 WebSocket 握手来源。
func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		if origin == "*" {
			return nil
		}
		allowed[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		if _, ok := allowed[origin]; ok {
			return true
		}
		// 同源请求始终放行
		u, err := url.Parse(origin)
		return err == nil && u.Host == r.Host
	}
}
