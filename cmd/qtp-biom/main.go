package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/qiita-spots/qtp-biom/internal/config"
	"github.com/qiita-spots/qtp-biom/internal/jobstore"
	"github.com/qiita-spots/qtp-biom/internal/plugin"
)

const DB_FILE = "runs.db"

func main() {
	flag.Usage = printHelp
	flag.Parse()

	if flag.NArg() < 1 {
		printHelp()
		os.Exit(1)
	}

	switch flag.Arg(0) {
	case "configure":
		runConfigure(flag.Args()[1:])
	case "register":
		runRegister()
	case "run":
		runJob(flag.Args()[1:])
	case "serve":
		runServe(flag.Args()[1:])
	case "migrate":
		runMigrate(flag.Args()[1:])
	case "help":
		printHelp()
	default:
		fmt.Printf("Unknown command: %s\n\n", flag.Arg(0))
		printHelp()
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println(`Usage: qtp-biom <command> [arguments]

Commands:
  configure           Write the platform connection config file
  register            Register the plugin with the platform
  run <url> <job-id> <out-dir>
                      Execute one processing job
  serve               Run the local ops HTTP server
  migrate <action> [-db path]
                      Manage the run database schema
  help                Show this help`)
}

func loadConfig() *config.Config {
	path, err := config.DefaultPath()
	if err != nil {
		log.Fatalf("Failed to locate config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", path, err)
	}
	return cfg
}

func runConfigure(args []string) {
	fs := flag.NewFlagSet("configure", flag.ExitOnError)
	serverURL := fs.String("server-url", "https://localhost:21174", "Base URL of the platform")
	clientID := fs.String("client-id", "", "OAuth client id issued for this plugin")
	clientSecret := fs.String("client-secret", "", "OAuth client secret issued for this plugin")
	serverCert := fs.String("server-cert", "", "Path to the platform certificate (self-signed deployments)")
	outPath := fs.String("config", "", "Config file to write (default: "+config.EnvConfigPath+" or ~/"+config.DefaultFileName+")")
	fs.Parse(args)

	if *clientID == "" || *clientSecret == "" {
		log.Fatal("Both -client-id and -client-secret are required")
	}

	path := *outPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			log.Fatalf("Failed to locate config: %v", err)
		}
	}

	cfg := &config.Config{
		ServerURL:    *serverURL,
		ClientID:     *clientID,
		ClientSecret: *clientSecret,
		ServerCert:   *serverCert,
	}
	if err := cfg.Write(path); err != nil {
		log.Fatalf("Failed to write config: %v", err)
	}
	log.Printf("Wrote plugin configuration to %s", path)
}

func runRegister() {
	cfg := loadConfig()
	p := plugin.New(nil)
	if err := p.Register(context.Background(), cfg); err != nil {
		log.Fatalf("Failed to register plugin: %v", err)
	}
	log.Printf("Registered %s %s with %s", p.Name, p.Version, cfg.ServerURL)
}

func runJob(args []string) {
	if len(args) != 3 {
		log.Fatal("Usage: qtp-biom run <server-url> <job-id> <output-dir>")
	}
	serverURL, jobID, outDir := args[0], args[1], args[2]

	cfg := loadConfig()
	// The platform passes the server URL on every invocation; it wins over
	// the configured one so one config file can serve several deployments.
	cfg.ServerURL = serverURL

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	store, err := jobstore.Open(DB_FILE)
	if err != nil {
		log.Printf("Run database unavailable, continuing without history: %v", err)
	} else {
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := plugin.New(store)
	if err := p.Execute(ctx, cfg, jobID, outDir); err != nil {
		log.Fatalf("Job %s failed: %v", jobID, err)
	}
	log.Printf("Job %s finished", jobID)
}

// splitMigrateArgs separates the migrate action words from trailing flags, so
// `migrate force 2 -db runs.db` parses the way the usage text reads.
func splitMigrateArgs(args []string) (actions, flags []string) {
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		actions = append(actions, args[0])
		args = args[1:]
	}
	return actions, args
}

func runMigrate(args []string) {
	actions, rest := splitMigrateArgs(args)

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dbFile := fs.String("db", DB_FILE, "Path to the run database")
	fs.Parse(rest)

	jobstore.RunMigrateCommand(actions, *dbFile)
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listen := fs.String("listen", ":8080", "Listen address")
	dbFile := fs.String("db", DB_FILE, "Path to the run database")
	fs.Parse(args)

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	store, err := jobstore.Open(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to run database: %v", err)
	}
	defer store.Close()

	p := plugin.New(store)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes
		store.AttachAdminRoutes(mux)

		opsMux := plugin.NewServer(p, store).ServeMux()
		mux.Handle("/api/", opsMux)
		mux.Handle("/debug/runs/", opsMux)

		server := &http.Server{
			Addr:    *listen,
			Handler: plugin.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	log.Printf("Serving ops endpoints on %s", *listen)
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
