// Command crossing runs the multi-source line crossing counter: one worker
// per configured video source, shared totals over HTTP and gRPC, and event
// persistence in SQLite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/crossing.report/internal/api"
	"github.com/banshee-data/crossing.report/internal/config"
	"github.com/banshee-data/crossing.report/internal/db"
	"github.com/banshee-data/crossing.report/internal/engine"
	"github.com/banshee-data/crossing.report/internal/rpc"
	"github.com/banshee-data/crossing.report/internal/source"
	"github.com/banshee-data/crossing.report/internal/version"
)

var (
	configPath    = flag.String("config", "", "Path to the JSON engine config (default "+config.DefaultConfigPath+" when present)")
	dbPath        = flag.String("db-path", "crossing.db", "Path to the SQLite database; empty disables persistence")
	listen        = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen    = flag.String("grpc-listen", "localhost:50051", "gRPC listen address; empty disables gRPC")
	devMode       = flag.Bool("dev", false, "Run synthetic sources when no config is given")
	sourcesFromDB = flag.Bool("sources-from-db", false, "Load sources from the database catalogue instead of the config file")
	sourceDir     = flag.String("source-dir", "", "Directory file:// and pcap:// sources must live under (empty allows any path)")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage:
  crossing [flags]                  run the counter
  crossing [flags] migrate <action> manage the database schema
  crossing totals [-addr URL] [-scope live|lifetime]
  crossing restart [-addr URL] <source_id>

Flags:
`)
	flag.PrintDefaults()
}

// Main
func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	switch flag.Arg(0) {
	case "migrate":
		if err := db.RunMigrateCommand(flag.Args()[1:], *dbPath, os.Stdin, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	case "totals":
		if err := runTotals(flag.Args()[1:], os.Stdout); err != nil {
			log.Fatalf("totals: %v", err)
		}
		return
	case "restart":
		if err := runRestart(flag.Args()[1:], os.Stdout); err != nil {
			log.Fatalf("restart: %v", err)
		}
		return
	case "":
	default:
		usage()
		os.Exit(2)
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Print(version.String())

	if err := run(); err != nil {
		log.Fatal(err)
	}
	log.Printf("Graceful shutdown complete")
}

func run() error {
	var database *db.DB
	if *dbPath != "" {
		var err error
		database, err = db.NewDB(*dbPath)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer database.Close()
	} else if *sourcesFromDB {
		return errors.New("-sources-from-db requires -db-path")
	}

	cfg, err := resolveConfig(*configPath, *devMode)
	if err != nil && !(*sourcesFromDB && errors.Is(err, errNoSourcesConfigured)) {
		return err
	}
	if cfg == nil {
		cfg = config.EmptyEngineConfig()
	}

	if *sourcesFromDB {
		if err := loadCatalogue(context.Background(), database, cfg); err != nil {
			return err
		}
		log.Printf("loaded %d sources from the database catalogue", len(cfg.Sources))
	} else if database != nil {
		for _, s := range cfg.Sources {
			if err := database.UpsertSource(context.Background(), s); err != nil {
				log.Printf("failed to record source %q in the catalogue: %v", s.ID, err)
			}
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		persister engine.EventPersister
		writer    *db.EventWriter
		wg        sync.WaitGroup
	)
	if database != nil {
		writer = db.NewEventWriter(db.EventWriterConfig{
			Store:     database,
			BatchSize: cfg.GetPersistBatchSize(),
			Interval:  cfg.GetPersistFlushInterval(),
		})
		persister = writer
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := writer.Run(context.Background()); err != nil {
				log.Printf("event writer error: %v", err)
			}
		}()
	}

	eng, err := engine.New(engine.ConfigFrom(cfg), engine.SpecsFromConfig(cfg), engine.Deps{
		Persister:     persister,
		SourceOptions: source.Options{BaseDir: *sourceDir},
	})
	if err != nil {
		if writer != nil {
			writer.Stop()
			wg.Wait()
		}
		return fmt.Errorf("invalid source configuration: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return err
	}

	if *grpcListen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := rpc.NewServer(eng.Store(), nil).ListenAndServe(ctx, *grpcListen); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
			log.Printf("gRPC server routine stopped")
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		var lifetime api.LifetimeReader
		if database != nil {
			lifetime = database
		}
		mux := api.NewServer(eng, lifetime).ServeMux()
		if database != nil {
			if err := database.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("failed to start server: %v", err)
				stop()
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	<-ctx.Done()
	eng.Stop()
	log.Printf("all source workers stopped")
	if writer != nil {
		writer.Stop()
		log.Printf("event writer flushed: %+v", writer.Stats())
	}
	wg.Wait()
	return nil
}
