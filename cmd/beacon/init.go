package main

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/linkwatcher/beacon/internal/database"
	"github.com/linkwatcher/beacon/internal/settings"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the Beacon data directory and database",
	Long: `Prepares Beacon for first use.

This will:
  1. Create the data directory
  2. Initialize the database and run migrations
  3. Generate a secure secret key`,
	Run: runInit,
}

func runInit(cmd *cobra.Command, args []string) {
	fmt.Println("===========================================")
	fmt.Println("  Beacon Setup")
	fmt.Println("===========================================")
	fmt.Println()

	if _, err := os.Stat(dataDir); os.IsNotExist(err) {
		fmt.Printf("Creating data directory: %s\n", dataDir)
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Fatalf("Failed to create data directory: %v", err)
		}
	}

	dbPath := dataDir + "/beacon.db"
	if _, err := os.Stat(dbPath); err == nil {
		fmt.Println("Database already exists; existing data is kept.")
	}

	fmt.Println("\nInitializing database...")
	db, err := database.New(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	fmt.Println("Database migrations complete.")

	settingsSvc := settings.New(db.Conn())
	secretKey, _ := settingsSvc.Get("secret_key")
	if secretKey == "" {
		if err := settingsSvc.Set("secret_key", settings.GenerateSecretKey()); err != nil {
			log.Fatalf("Failed to store secret key: %v", err)
		}
		fmt.Println("Generated secret key.")
	} else {
		fmt.Println("Secret key already configured.")
	}

	fmt.Println()
	fmt.Println("Setup complete. Start the server with:")
	fmt.Printf("  beacon serve --data %s --listen %s\n", dataDir, listenAddr)
	fmt.Println()
	fmt.Println("Then embed the collector on your pages:")
	fmt.Println(`  <script src="https://your-host/analytics.js" async></script>`)
}
