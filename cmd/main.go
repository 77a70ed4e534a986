package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/MimeLyc/live-chat-relay/internal/avatar"
	"github.com/MimeLyc/live-chat-relay/internal/config"
	"github.com/MimeLyc/live-chat-relay/internal/event"
	"github.com/MimeLyc/live-chat-relay/internal/httpapi"
	"github.com/MimeLyc/live-chat-relay/internal/relay"
	"github.com/MimeLyc/live-chat-relay/internal/translate"
	"github.com/MimeLyc/live-chat-relay/internal/upstream"
	"github.com/MimeLyc/live-chat-relay/pkg/log"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.NewFromEnv()
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}
	log.InitLogger(log.ParseLevel(cfg.Log.Level))

	providers, err := buildProviders(cfg.Translate.ProvidersFile)
	if err != nil {
		log.Fatal("Failed to load translation providers: %v", err)
	}
	if len(providers) == 0 {
		log.Warn("No translation providers configured; translations will be skipped")
	}

	scheduler, err := translate.NewScheduler(translate.NewPool(providers...), translate.SchedulerConfig{
		HighQueueSize:   cfg.Translate.HighQueueSize,
		NormalQueueSize: cfg.Translate.NormalQueueSize,
		HighRetries:     cfg.Translate.HighRetries,
		NormalRetries:   cfg.Translate.NormalRetries,
		CacheSize:       cfg.Translate.CacheSize,
		RequestTimeout:  cfg.Translate.RequestTimeout,
	})
	if err != nil {
		log.Fatal("Failed to create translation scheduler: %v", err)
	}
	scheduler.Start()

	var store *avatar.Store
	if cfg.Avatar.DBPath != "" {
		store, err = avatar.NewStore(cfg.Avatar.DBPath)
		if err != nil {
			log.Fatal("Failed to open avatar store: %v", err)
		}
	}
	avatars, err := avatar.NewService(avatar.Config{
		CacheSize: cfg.Avatar.CacheSize,
		BanWindow: cfg.Avatar.BanWindow,
	}, store, avatar.NewHTTPFetcher())
	if err != nil {
		log.Fatal("Failed to create avatar service: %v", err)
	}

	// The orchestrator and the upstream registry reference each other, so
	// the handler closure is bound before events can flow.
	var orchestrator *relay.Orchestrator
	registry := upstream.NewRegistry(upstream.NewHTTPMetaClient(), func(key upstream.RoomKey, ev event.Event) {
		orchestrator.HandleEvent(key, ev)
	})
	rooms := relay.NewRooms(registry, cfg.Relay.TeardownGrace)
	orchestrator = relay.NewOrchestrator(rooms, scheduler, avatars, relay.Config{
		TranslateEnabled: cfg.Translate.Enabled,
		AllowRooms:       cfg.Translate.AllowRooms,
	})

	server := httpapi.NewServer(rooms, httpapi.WithHeartbeatInterval(cfg.Server.HeartbeatInterval))

	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening on %s", cfg.Server.Addr)
		errCh <- server.ListenAndServe(cfg.Server.Addr)
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		log.Info("Shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown: %v", err)
	}
	scheduler.Stop()
	avatars.Close()
	if store != nil {
		_ = store.Close()
	}
}

func buildProviders(path string) ([]translate.Provider, error) {
	entries, err := config.LoadProviders(path)
	if err != nil {
		return nil, err
	}
	ret := make([]translate.Provider, 0, len(entries))
	for _, p := range entries {
		switch p.Type {
		case config.ProviderGoogleFree:
			ret = append(ret, translate.NewGoogleFreeProvider(p.TargetLang, p.Interval()))
		case config.ProviderTencent:
			ret = append(ret, translate.NewTencentProvider(p.SecretID, p.SecretKey, p.Region, p.TargetLang, p.Interval()))
		case config.ProviderLLM:
			provider, err := translate.NewLLMProvider(translate.LLMConfig{
				APIKey:      p.APIKey,
				APIURL:      p.APIURL,
				Model:       p.Model,
				MaxTokens:   p.MaxTokens,
				Temperature: p.Temperature,
				TargetLang:  p.TargetLang,
				Interval:    p.Interval(),
			})
			if err != nil {
				return nil, err
			}
			ret = append(ret, provider)
		}
	}
	return ret, nil
}
