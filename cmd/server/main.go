package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/livecap/livecap/internal/api"
	"github.com/livecap/livecap/internal/capture"
	"github.com/livecap/livecap/internal/capture/vosk"
	"github.com/livecap/livecap/internal/config"
	"github.com/livecap/livecap/internal/controller"
	"github.com/livecap/livecap/internal/overlay"
	"github.com/livecap/livecap/internal/session"
	"github.com/livecap/livecap/internal/storage/sqlite"
	"github.com/livecap/livecap/internal/translation"
	"github.com/livecap/livecap/internal/websocket"
	"github.com/livecap/livecap/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting LiveCap server",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Ensure the storage directory exists
	if err := os.MkdirAll(cfg.Storage.SQLiteBasePath, 0755); err != nil {
		log.Error("Failed to create storage directory", logger.Error(err), logger.String("path", cfg.Storage.SQLiteBasePath))
		os.Exit(1)
	}

	// Create settings storage
	dbPath := filepath.Join(cfg.Storage.SQLiteBasePath, "livecap.db")
	settingsStorage, err := sqlite.NewSettingsStorage(dbPath, log)
	if err != nil {
		log.Error("Failed to create settings storage", logger.Error(err))
		os.Exit(1)
	}
	defer settingsStorage.Close()
	log.Info("Using SQLite settings storage", logger.String("path", dbPath))

	// Create WebSocket server
	wsServer := websocket.NewServer(log)

	// Start WebSocket server
	go wsServer.Run()

	// Create speech capture engine factory
	var factory capture.Factory
	switch cfg.Recognition.Engine {
	case "stub":
		log.Warn("Using stub recognition engine; no audio will be captured")
		factory = capture.StubFactory()
	default:
		factory = vosk.Factory(vosk.Config{
			ModelPath:    cfg.Recognition.VoskModelPath,
			SampleRate:   uint32(cfg.Recognition.SampleRate),
			Channels:     uint32(cfg.Recognition.Channels),
			BufferFrames: uint32(cfg.Recognition.BufferFrames),
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create translation client
	var translator translation.Translator
	switch cfg.Translation.Provider {
	case "gemini":
		translator, err = translation.NewGeminiClient(ctx, cfg.Translation.GeminiAPIKey, cfg.Translation.GeminiModel, log)
		if err != nil {
			log.Error("Failed to create Gemini translation client", logger.Error(err))
			os.Exit(1)
		}
	default:
		translator = translation.NewGoogleClient(cfg.Translation.Endpoint, cfg.Translation.TimeoutSeconds, log)
	}

	// Create recognition session manager
	sessions := session.NewManager(factory, time.Duration(cfg.Recognition.RestartDelayMs)*time.Millisecond, log)

	// Create and start the controller
	ctrl := controller.New(sessions, translator, wsServer, settingsStorage, controller.Config{
		Overlay: overlay.Config{
			ViewportWidth:  cfg.Overlay.ViewportWidth,
			ViewportHeight: cfg.Overlay.ViewportHeight,
			CompactWidth:   cfg.Overlay.CompactWidth,
			ExpandedWidth:  cfg.Overlay.ExpandedWidth,
			Height:         cfg.Overlay.Height,
			InitialX:       cfg.Overlay.InitialX,
			InitialY:       cfg.Overlay.InitialY,
		},
	}, log)
	ctrl.Start(ctx)

	// Route inbound UI messages to the controller
	wsHandler := controller.NewWebSocketHandler(ctrl, log)
	wsServer.SetMessageHandler(wsHandler)

	// Resume a session that was active when the process last stopped
	ctrl.ResumeFromSettings()

	// Create API router
	router := api.NewRouter(ctrl, settingsStorage, wsServer, cfg, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error on startup", logger.String("addr", server.Addr), logger.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down server...")

	// Stop the controller (also stops any active recognition session)
	cancel()
	select {
	case <-ctrl.Done():
	case <-time.After(5 * time.Second):
		log.Warn("Controller did not stop within timeout")
	}

	// Shutdown the HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	log.Info("Server fully stopped")
}
