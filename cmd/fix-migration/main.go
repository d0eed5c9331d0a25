// Package main repairs a dirty golang-migrate state. A migration interrupted mid-run leaves
// schema_migrations marked dirty and blocks server startup; after fixing the schema by
// hand, run this tool with the version that is actually applied to clear the flag.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/cadogy/cadogy-backend/internal/config"
	"github.com/cadogy/cadogy-backend/internal/db"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <version>\n", os.Args[0])
		os.Exit(2)
	}
	target, err := strconv.Atoi(os.Args[1])
	if err != nil {
		log.Fatalf("invalid version %q: %v", os.Args[1], err)
	}

	cfg, _, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	database, err := db.Connect(cfg.Database.GetDSN(), 2, 1)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	version, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to check migration state: %v", err)
	}
	log.Printf("Current migration state: version=%d, dirty=%v", version, dirty)
	if !dirty && int(version) == target {
		log.Println("Migration state is already clean")
		return
	}

	if err := db.ForceMigrationVersion(database, target); err != nil {
		log.Fatalf("Failed to force version: %v", err)
	}

	version, dirty, err = db.GetMigrationVersion(database)
	if err != nil {
		log.Fatalf("Failed to check final migration state: %v", err)
	}
	log.Printf("Final migration state: version=%d, dirty=%v", version, dirty)
}
