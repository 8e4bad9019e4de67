// Package main runs the household sync layer against a live server:
// it authenticates, binds the stores, and reports channel status and
// incoming changes until interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hearthhub/hearthhub/internal/apiclient"
	"github.com/hearthhub/hearthhub/internal/auth"
	"github.com/hearthhub/hearthhub/internal/config"
	"github.com/hearthhub/hearthhub/internal/localstore"
	"github.com/hearthhub/hearthhub/internal/logging"
	"github.com/hearthhub/hearthhub/internal/metrics"
	"github.com/hearthhub/hearthhub/internal/realtime"
	"github.com/hearthhub/hearthhub/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	userID := flag.String("user", "", "Authenticated user id")
	accessToken := flag.String("access-token", "", "Initial access token")
	refreshToken := flag.String("refresh-token", "", "Initial refresh token")
	flag.Parse()

	// A local .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	if v := os.Getenv("HEARTHHUB_USER_ID"); *userID == "" {
		*userID = v
	}
	if v := os.Getenv("HEARTHHUB_ACCESS_TOKEN"); *accessToken == "" {
		*accessToken = v
	}
	if v := os.Getenv("HEARTHHUB_REFRESH_TOKEN"); *refreshToken == "" {
		*refreshToken = v
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fallback := logging.New("error", true)
		fallback.Fatal().Err(err).Msg("load config")
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Pretty)
	if *userID == "" || *accessToken == "" {
		log.Fatal().Msg("user id and access token are required")
	}

	session := auth.NewSession(auth.RestRefresh(cfg.Server.BaseURL, nil), 30*time.Second, log)
	session.SetTokens(auth.TokenPair{
		AccessToken:  *accessToken,
		RefreshToken: *refreshToken,
	})

	meters := metrics.New(prometheus.DefaultRegisterer)

	api, err := apiclient.New(apiclient.Config{
		BaseURL:   cfg.Server.BaseURL,
		Tokens:    session,
		Timeout:   cfg.Server.Timeout,
		Retry:     apiclient.RetryConfig{MaxRetries: cfg.Server.MaxRetries},
		CacheTTL:  cfg.Server.CacheTTL,
		CacheSize: cfg.Server.CacheSize,
		RateLimit: rate.Limit(cfg.Server.RequestsPerSec),
		Logger:    log,
		Metrics:   meters,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("create api client")
	}
	defer api.Close()

	channel := realtime.NewManager(realtime.Config{
		Transport: &realtime.WebsocketTransport{
			URL:    cfg.Server.BaseURL,
			APIKey: cfg.Channel.APIKey,
		},
		ReconnectDelay:       cfg.Channel.ReconnectDelay,
		MaxReconnectDelay:    cfg.Channel.MaxReconnectDelay,
		MaxReconnectAttempts: cfg.Channel.MaxReconnectAttempts,
		HeartbeatInterval:    cfg.Channel.HeartbeatInterval,
		HeartbeatTimeout:     cfg.Channel.HeartbeatTimeout,
		Logger:               log,
		Metrics:              meters,
	})
	channel.SetStatusHandler(func(status realtime.Status, err error) {
		if err != nil {
			log.Warn().Err(err).Str("status", string(status)).Msg("channel status")
			return
		}
		log.Info().Str("status", string(status)).Msg("channel status")
	})
	defer channel.Close()

	local, err := localstore.Open(cfg.Local.StorePath)
	if err != nil {
		log.Fatal().Err(err).Msg("open local store")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := channel.Connect(ctx); err != nil {
		log.Warn().Err(err).Msg("channel connect failed, continuing without push")
	}

	hub := store.NewHub(store.Deps{
		API:     api,
		Channel: channel,
		Local:   local,
		Logger:  log,
		UserID:  *userID,
	})
	if err := hub.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("start hub")
	}
	defer hub.Close()

	log.Info().
		Str("user", *userID).
		Str("household", hub.CurrentHousehold()).
		Int("households", len(hub.Households.Households())).
		Int("unread", hub.Notifications.UnreadCount()).
		Msg("sync layer running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")
}
