package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"

	"lookout/camera"
	"lookout/events"
	"lookout/objectstore"
	"lookout/recorder"
	"lookout/transcode"
	"lookout/trigger"
)

func main() {
	// Load .env file if it exists
	godotenv.Load()

	// Parse command-line flags
	var (
		configPath = flag.String("config", "", "Path to config file, .json or .yaml (default: XDG config directory)")
		verbose    = flag.Bool("verbose", os.Getenv("LOOKOUT_VERBOSE") == "1", "Enable debug logging")
	)
	flag.Parse()

	// Initialize logger
	logger := NewLogger(*verbose)

	// Use XDG config directory if not specified
	if *configPath == "" {
		var err error
		*configPath, err = xdg.ConfigFile("lookout/config.json")
		if err != nil {
			*configPath = filepath.Join(os.ExpandEnv("$HOME"), ".config/lookout/config.json")
		}
	}

	// Create directories if they don't exist
	if err := os.MkdirAll(filepath.Dir(*configPath), 0755); err != nil {
		log.Fatalf("Failed to create config directory: %v", err)
	}

	// Load or create config
	config, err := LoadOrCreateConfig(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	logger.Printf("Starting lookout...")
	logger.Printf("Listening on port %d", config.Port)
	logger.Printf("Data directory: %s", config.DataDir)
	logger.Printf("Storage cap: %dGB", config.StorageCapGB)
	logger.Printf("Window: %ds in %ds segments, mode %s", config.WindowS, config.SegmentLengthS, config.Mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := NewMetrics()

	rec, err := recorder.New(recorder.Options{
		Dir:        config.DataDir,
		Storage:    recorder.LocalStorage{},
		Transcoder: transcode.New(config.FFmpegPath, logger),
		Logger:     logger,
		Observer:   metrics,
	})
	if err != nil {
		logger.Fatalf("Failed to initialize recorder: %v", err)
	}

	detect := func(cfg camera.Config) (recorder.Device, error) {
		dev, err := camera.Detect(cfg, logger)
		if err != nil {
			return nil, err
		}
		logger.Printf("Using %s camera backend", dev.Name())
		return dev, nil
	}
	if dev, err := detect(config.CameraConfig()); err != nil {
		// Recording waits for a device; POST /api/recorder/device/rebind retries
		logger.Printf("No camera available: %v", err)
	} else {
		rec.SetDevice(dev)
	}

	store, err := events.Open(ctx, config.Database.Driver, config.DatabaseDSN())
	if err != nil {
		logger.Fatalf("Failed to open event database: %v", err)
	}
	defer store.Close()

	uploader := objectstore.New(config.ObjectStore.URL, config.ObjectStore.Bucket, config.ObjectStore.APIKey)
	if !uploader.Configured() {
		logger.Printf("Object store not configured, events stay local")
	}

	service := NewEventService(rec, store, uploader, logger, metrics)
	service.SetOptions(events.Mode(config.Mode), config.AutoPublish)

	sm, err := NewStorageManager(rec.ClipDir(), rec.TempDir(), config.StorageCapGB, store, logger, metrics)
	if err != nil {
		logger.Fatalf("Failed to initialize storage manager: %v", err)
	}
	if cleaned := sm.CleanupTempDir(); cleaned > 0 {
		logger.Printf("Cleaned up %d temporary file(s)", cleaned)
	}
	go sm.Run(ctx)

	streamMgr := camera.NewStreamManager(logger)
	go streamMgr.Run(ctx, rec.SegmentDir(), camera.DefaultFrameInterval)

	var sources []trigger.Source
	if config.Trigger.File != "" {
		sources = append(sources, trigger.NewFileSource(config.Trigger.File, logger))
	}
	if config.Trigger.NATSURL != "" {
		sources = append(sources, trigger.NewNATSSource(config.Trigger.NATSURL, config.Trigger.NATSSubject, logger))
	}
	if len(sources) > 0 {
		go trigger.RunAll(ctx, sources, func() {
			go func() {
				saveCtx, cancel := context.WithTimeout(ctx, SaveTimeout)
				defer cancel()
				if _, err := service.HandleTrigger(saveCtx, "trigger"); err != nil {
					logger.Debugf("Trigger not saved: %v", err)
				}
			}()
		}, logger)
	}

	// Create API server
	server := NewAPIServer(config, *configPath, ServerDeps{
		Recorder:  rec,
		Detect:    detect,
		Service:   service,
		Store:     store,
		Storage:   sm,
		StreamMgr: streamMgr,
		Metrics:   metrics,
	}, logger)

	if config.AutoStart {
		if err := rec.Start(config.RecorderConfig()); err != nil {
			logger.Printf("Failed to start recording: %v", err)
		}
	}

	// Start HTTP server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Start()
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverDone:
		logger.Printf("Server stopped: %v", err)
	case sig := <-sigChan:
		fmt.Printf("\nReceived signal: %v\n", sig)
	}

	// Cleanup
	logger.Printf("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ServerShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("HTTP shutdown: %v", err)
	}
	cancel()
	rec.Stop()
}
