package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/linkwatcher/beacon/internal/api"
	"github.com/linkwatcher/beacon/internal/config"
	"github.com/linkwatcher/beacon/internal/database"
	"github.com/linkwatcher/beacon/internal/enrichment"
	"github.com/linkwatcher/beacon/internal/settings"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Beacon server",
	Long:  `Starts the Beacon analytics server and begins accepting tracking data.`,
	Run:   runServe,
}

func runServe(cmd *cobra.Command, args []string) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// Initialize database
	db, err := database.New(dataDir + "/beacon.db")
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize settings service
	settingsSvc := settings.New(db.Conn())

	// Get or generate secret key
	secretKey, _ := settingsSvc.Get("secret_key")
	if secretKey == "" {
		secretKey = settings.GenerateSecretKey()
		settingsSvc.Set("secret_key", secretKey)
		log.Println("Generated new secret key")
	}

	// Build config from settings and flags
	allowedOrigins := settingsSvc.GetWithDefault("allowed_origins", "*")
	cfg := &config.Config{
		ListenAddr:            listenAddr,
		DataDir:               dataDir,
		ActivityWindowMinutes: settingsSvc.GetInt("activity_window_minutes", 5),
		HeartbeatSeconds:      settingsSvc.GetInt("heartbeat_seconds", 10),
		RetentionDays:         settingsSvc.GetInt("retention_days", 90),
		AllowedOrigins:        strings.Split(allowedOrigins, ","),
		SecretKey:             secretKey,
	}

	// Initialize enrichment service
	enricher := enrichment.New()

	// Create router
	router := api.NewRouter(db, enricher, cfg)

	// Start data retention cleanup goroutine
	go func() {
		runDataRetention(db, cfg.RetentionDays)
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			runDataRetention(db, cfg.RetentionDays)
		}
	}()

	// Start server
	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		server.Close()
	}()

	log.Printf("Beacon %s starting on %s", Version, cfg.ListenAddr)
	log.Printf("Data directory: %s", cfg.DataDir)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}

func runDataRetention(db *database.DB, retentionDays int) {
	if err := db.CleanupOldData(retentionDays); err != nil {
		log.Printf("Data retention cleanup failed: %v", err)
	} else {
		log.Printf("Data retention: cleaned up data older than %d days", retentionDays)
	}
}
