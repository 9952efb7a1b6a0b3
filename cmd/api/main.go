package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/nur-al-ilm/backend/internal/app"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/config"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/handler"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/model/persona"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/observability"
	"github.com/zhouzirui/nur-al-ilm/backend/internal/service/chat"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	if cfg.Observability.MetricsEnabled {
		observability.InitMetrics()
	}
	if err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:  cfg.Observability.ServiceName,
		Exporter:     cfg.Observability.TracesExporter,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
	}); err != nil {
		log.Printf("warning: tracing disabled: %v", err)
	}

	store, err := app.OpenStore(cfg.Session)
	if err != nil {
		log.Fatalf("failed to open session store: %v", err)
	}
	defer store.Close()
	log.Printf("session store ready (driver=%s)", cfg.Session.StoreDriver)

	personaStore := persona.NewMemoryStore(persona.Seed())
	deps, err := app.BuildDependencies(ctx, cfg, persona.Default(personaStore))
	if err != nil {
		log.Fatalf("failed to initialize services: %v", err)
	}
	chatService := chat.NewService(store, deps)

	sweeper, err := chat.NewSweeper(chatService, chat.DefaultSweepSpec)
	if err != nil {
		log.Fatalf("failed to schedule sweeper: %v", err)
	}

	router := handler.NewRouter(handler.RouterConfig{
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		SubmitPerSecond: cfg.RateLimit.PerSecond,
		SubmitBurst:     cfg.RateLimit.Burst,
		MetricsEnabled:  cfg.Observability.MetricsEnabled,
	}, personaStore, chatService)

	if err := run(ctx, cfg.Server, router, sweeper); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, sweeper *chat.Sweeper) error {
	srv := &http.Server{
		Addr:              serverCfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Printf("Nur Al-Ilm backend listening on %s", serverCfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		sweeper.Start()
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		sweeper.Stop(shutdownCtx)
		err := srv.Shutdown(shutdownCtx)
		if tErr := observability.ShutdownTracing(shutdownCtx); tErr != nil {
			log.Printf("warning: failed to flush traces: %v", tErr)
		}
		return err
	})

	return g.Wait()
}
