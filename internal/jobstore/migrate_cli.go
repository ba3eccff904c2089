package jobstore

import (
	"fmt"
	"log"
	"os"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand dispatching.
func RunMigrateCommand(args []string, dbPath string) {
	if len(args) < 1 {
		PrintMigrateHelp()
		os.Exit(1)
	}

	action := args[0]

	store, err := OpenWithoutMigrations(dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to run database: %v", err)
	}
	defer store.Close()

	switch action {
	case "up":
		log.Printf("Running migrations...")
		if err := store.MigrateUp(); err != nil {
			log.Fatalf("Migration up failed: %v", err)
		}
		log.Println("All migrations applied successfully")
		printVersion(store)

	case "down":
		log.Printf("Rolling back one migration...")
		if err := store.MigrateDown(); err != nil {
			log.Fatalf("Migration down failed: %v", err)
		}
		log.Println("Migration rolled back successfully")
		printVersion(store)

	case "status":
		version, dirty, err := store.MigrateVersion()
		if err != nil {
			log.Fatalf("Failed to get migration status: %v", err)
		}
		log.Printf("Current version: %d (dirty: %v)", version, dirty)

	case "force":
		if len(args) < 2 {
			log.Fatal("Usage: qtp-biom migrate force <version_number>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			log.Fatalf("Invalid version number %q: %v", args[1], err)
		}
		if err := store.MigrateForce(version); err != nil {
			log.Fatalf("Force migration failed: %v", err)
		}
		log.Printf("Migration version forced to %d", version)

	case "baseline":
		if len(args) < 2 {
			log.Fatal("Usage: qtp-biom migrate baseline <version_number>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil || version < 0 {
			log.Fatalf("Invalid version number %q", args[1])
		}
		if err := store.MigrateBaseline(uint(version)); err != nil {
			log.Fatalf("Baseline failed: %v", err)
		}
		log.Printf("Database baselined at version %d", version)

	case "help":
		PrintMigrateHelp()

	default:
		fmt.Printf("Unknown migrate action: %s\n\n", action)
		PrintMigrateHelp()
		os.Exit(1)
	}
}

func printVersion(store *Store) {
	version, dirty, err := store.MigrateVersion()
	if err != nil {
		log.Fatalf("Failed to get migration status: %v", err)
	}
	log.Printf("Current version: %d (dirty: %v)", version, dirty)
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp() {
	fmt.Println(`Usage: qtp-biom migrate <action> [arguments]

Actions:
  up                  Apply all pending migrations
  down                Roll back the most recent migration
  status              Show the current migration version
  force <version>     Force the version (recover from dirty state)
  baseline <version>  Record the version on a pre-existing database
  help                Show this help`)
}
