package main

import (
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/eternisai/enchanted-chat/internal/attachments"
	"github.com/eternisai/enchanted-chat/internal/chat"
	"github.com/eternisai/enchanted-chat/internal/config"
	"github.com/eternisai/enchanted-chat/internal/genai"
	"github.com/eternisai/enchanted-chat/internal/history"
	"github.com/eternisai/enchanted-chat/internal/logger"
	"github.com/eternisai/enchanted-chat/internal/ratelimit"
	"github.com/eternisai/enchanted-chat/internal/server"
	"github.com/eternisai/enchanted-chat/internal/shutdown"
	"github.com/eternisai/enchanted-chat/internal/storage/pg"
	"github.com/eternisai/enchanted-chat/internal/tools"
	"github.com/eternisai/enchanted-chat/internal/vectorstore"
)

// preamble is the fixed system framing prepended to every conversation.
var preamble = []genai.Content{
	{Role: genai.RoleModel, Parts: []genai.Part{genai.TextPart(
		"You are a helpful assistant. Answer concisely and use the available tools when a question needs current information.",
	)}},
}

func main() {
	config.LoadConfig()

	log := logger.New(logger.FromConfig(config.AppConfig.LogLevel, config.AppConfig.LogFormat))

	log.Info("setting gin mode", slog.String("mode", config.AppConfig.GinMode))
	gin.SetMode(config.AppConfig.GinMode)

	// Initialize database. Indexing is optional: without a database the chat
	// path still works, completed turns just aren't written through.
	var stores []shutdown.Store
	var indexer chat.Indexer
	db, err := pg.InitDatabase(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Warn("database unavailable, running without message indexing",
			slog.String("error", err.Error()))
	} else {
		var embeddings *vectorstore.EmbeddingClient
		if config.AppConfig.EmbeddingAPIKey != "" {
			embeddings = vectorstore.NewEmbeddingClient(config.AppConfig.EmbeddingAPIKey, config.AppConfig.EmbeddingURL)
		}
		store := vectorstore.NewPGStore(db.DB, embeddings)
		indexer = vectorstore.NewIndexer(store, log)
		stores = append(stores,
			shutdown.Store{Name: "vector-store", Close: store.Close},
			shutdown.Store{Name: "postgres", Close: db.Close},
		)
	}

	// Rate limiter.
	limiter := ratelimit.New(ratelimit.Config{
		PerMinute: config.AppConfig.RateLimitPerMinute,
		PerHour:   config.AppConfig.RateLimitPerHour,
	}, log)
	log.Info("rate limiting enabled",
		slog.Int("per_minute", config.AppConfig.RateLimitPerMinute),
		slog.Int("per_hour", config.AppConfig.RateLimitPerHour))

	// Upstream provider clients. Client-supplied credentials get their own
	// cached clients; everything else rides on the server credential.
	if config.AppConfig.GeminiAPIKey == "" {
		log.Warn("GEMINI_API_KEY is not set, upstream calls will fail")
	}
	serverClient := genai.NewHTTPClient(config.AppConfig.GeminiAPIKey)
	creds := genai.NewCredentialCache(serverClient, func(credential string) genai.Client {
		return genai.NewHTTPClient(credential)
	}, config.AppConfig.CredCacheMax, log)
	connector := genai.NewConnector(creds, log)

	// Tools.
	registry := tools.NewRegistry()
	if config.AppConfig.ExaAPIKey != "" {
		if err := registry.Register(tools.NewWebSearchTool(config.AppConfig.ExaAPIKey, log)); err != nil {
			log.Error("failed to register web_search tool", slog.String("error", err.Error()))
		}
	} else {
		log.Warn("EXA_API_KEY is not set, web_search tool disabled")
	}
	log.Info("tools registered", slog.Any("tools", registry.List()))

	// Message processing chain.
	processor := attachments.NewProcessor(attachments.DefaultPolicy(), nil, log)
	normalizer := history.NewNormalizer(processor, preamble, log)
	pipeline := chat.NewPipeline(limiter, normalizer, processor, connector, indexer, registry, log)

	// Event layer + HTTP surface.
	sock := server.NewSocket(pipeline, log)
	go func() {
		if err := sock.Serve(); err != nil {
			log.Error("socket server stopped", slog.String("error", err.Error()))
		}
	}()

	router := server.NewRouter(sock, limiter)

	port := ":" + config.AppConfig.Port
	srv := &http.Server{
		Addr:    port,
		Handler: router,
	}

	go func() {
		log.Info("chat server listening", slog.String("addr", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	controller := shutdown.NewController(srv, sock, limiter, stores, log)

	quit := make(chan os.Signal, 4)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	controller.Listen(quit)
}
