package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/safesite-data/ppewatch/internal/alert"
	"github.com/safesite-data/ppewatch/internal/api"
	"github.com/safesite-data/ppewatch/internal/compliance"
	"github.com/safesite-data/ppewatch/internal/config"
	"github.com/safesite-data/ppewatch/internal/db"
	"github.com/safesite-data/ppewatch/internal/pipeline"
	"github.com/safesite-data/ppewatch/internal/track"
	"github.com/safesite-data/ppewatch/internal/version"
)

var (
	devMode    = flag.Bool("dev", false, "Replay frames from the fixtures file instead of waiting for a detector")
	listen     = flag.String("listen", ":8080", "Listen address")
	configPath = flag.String("config", "", "Path to JSON config file (defaults apply when omitted)")
	dbPath     = flag.String("db", "", "Database path (overrides config)")
	fixtures   = flag.String("fixtures", "fixtures.jsonl", "Frame fixtures for dev mode, one JSON frame per line")
)

func main() {
	flag.Parse()

	log.Printf("ppewatch %s (%s, built %s)", version.Version, version.GitSHA, version.BuildTime)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.EmptyConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	databasePath := cfg.GetDatabasePath()
	if *dbPath != "" {
		databasePath = *dbPath
	}
	if dir := filepath.Dir(databasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create database directory: %v", err)
		}
	}

	database, err := db.NewDB(databasePath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	zone := cfg.GetZoneName()

	orchestrator := alert.NewOrchestrator(cfg.GetAlertWorkers(), cfg.GetAlertQueueSize(), nil)
	if n := alert.NewAudioNotifier(cfg.GetAudioPlayer(), cfg.GetSoundPath()); n != nil {
		orchestrator.Register(alert.ChannelAudio, n, cfg.GetAudioCooldown())
	}
	if n := alert.NewEmailNotifier(cfg.GetEmailSender(), cfg.GetEmailPassword(), cfg.GetEmailRecipient(),
		cfg.GetSMTPHost(), cfg.GetSMTPPort(), zone); n != nil {
		orchestrator.Register(alert.ChannelEmail, n, cfg.GetEmailCooldown())
	}
	if n := alert.NewTelegramNotifier(cfg.GetTelegramToken(), cfg.GetTelegramChatID()); n != nil {
		orchestrator.Register(alert.ChannelTelegram, n, cfg.GetTelegramCooldown())
	}
	defer orchestrator.Stop()

	mode := compliance.ModeAnyMissing
	if cfg.GetViolationMode() == 2 {
		mode = compliance.ModeRequired
	}
	images := pipeline.NewImageStore(cfg.GetImagesDir())
	runtime, err := pipeline.NewRuntime(pipeline.Options{
		Zone:                zone,
		ConfidenceThreshold: cfg.GetConfidenceThreshold(),
		Policy: compliance.Policy{
			Mode:             mode,
			RequiredPPE:      cfg.GetRequiredPPE(),
			OverlapThreshold: cfg.GetOverlapThreshold(),
		},
		Tracker: track.Config{
			MaxDistance:  cfg.GetTrackerMaxDistance(),
			MemoryFrames: cfg.GetTrackerMemoryFrames(),
		},
		Store:  database,
		Alerts: orchestrator,
		Images: images,
	})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *devMode {
		wg.Add(1)
		go func() {
			defer wg.Done()
			replayFixtures(ctx, runtime, *fixtures)
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(runtime, database, zone, images).ServeMux()
		database.AttachAdminRoutes(mux)

		h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("got request %q", r.URL.Path)
			mux.ServeHTTP(w, r)
		})

		server := &http.Server{
			Addr:    *listen,
			Handler: h,
		}

		go func() {
			log.Printf("ppewatch listening on %s (zone %s)", *listen, zone)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	// Flush any session still open so its counters reach the rollup.
	if _, err := runtime.StopSession(); err == nil {
		log.Printf("flushed open session on shutdown")
	}

	log.Printf("Graceful shutdown complete")
}

// replayFixtures runs a session replaying recorded frames at roughly
// detector rate. Used for local development without a camera.
func replayFixtures(ctx context.Context, runtime *pipeline.Runtime, path string) {
	f, err := os.Open(path)
	if err != nil {
		log.Printf("dev: failed to open fixtures file: %v", err)
		return
	}
	defer f.Close()

	if _, err := runtime.StartSession(); err != nil {
		log.Printf("dev: failed to start session: %v", err)
		return
	}
	defer func() {
		if _, err := runtime.StopSession(); err != nil {
			log.Printf("dev: failed to stop session: %v", err)
		}
	}()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 16<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var frame pipeline.Frame
		if err := json.Unmarshal(line, &frame); err != nil {
			log.Printf("dev: skipping malformed fixture line: %v", err)
			continue
		}
		if _, err := runtime.ProcessFrame(frame); err != nil {
			log.Printf("dev: frame rejected: %v", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			log.Printf("dev: replay stopped")
			return
		}
	}
	if err := scanner.Err(); err != nil {
		log.Printf("dev: fixtures read error: %v", err)
	}
	log.Printf("dev: replay finished")
}
