// Command frames runs the frame transformation service: it keeps the frame
// graph fed from the bus, serial pose feeds and calibration files, and
// answers transform queries over HTTP, websocket and gRPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/frametransform/internal/config"
	"github.com/banshee-data/frametransform/internal/db"
	"github.com/banshee-data/frametransform/internal/monitoring"
	"github.com/banshee-data/frametransform/internal/posefeed"
	"github.com/banshee-data/frametransform/internal/version"
)

var (
	configPath   = flag.String("config", "", "Path to a .json or .yaml service config")
	listen       = flag.String("listen", "", "HTTP listen address (overrides config)")
	grpcListen   = flag.String("grpc-listen", "", "gRPC listen address (overrides config)")
	calibrations = flag.String("calibrations", "", "Calibration directory (overrides config)")
	dbPath       = flag.String("db", "", "Pose history database path (overrides config)")
	debug        = flag.Bool("debug", false, "Log every edge update and route change")
	showVersion  = flag.Bool("version", false, "Print the version and exit")
)

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig() (*config.ServiceConfig, error) {
	cfg := config.Empty()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	}
	if *listen != "" {
		cfg.Listen = listen
	}
	if *grpcListen != "" {
		cfg.GRPCListen = grpcListen
	}
	if *calibrations != "" {
		cfg.CalibrationsPath = calibrations
	}
	if *dbPath != "" {
		cfg.DatabasePath = dbPath
	}
	if *debug {
		cfg.Debug = debug
	}
	return cfg, nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if flag.Arg(0) == "migrate" {
		if cfg.GetDatabasePath() == "" {
			log.Fatal("migrate needs a database: pass -db or set database_path")
		}
		if err := db.RunMigrateCommand(os.Stdout, os.Stdin, cfg.GetDatabasePath(), flag.Args()[1:]); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}
	monitoring.SetDebug(cfg.GetDebug())
	log.Printf("frames %s", version.String())

	svc, err := newService(cfg, posefeed.SerialOpener)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}
	defer svc.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.run(ctx); err != nil {
		log.Printf("service stopped: %v", err)
		svc.close()
		os.Exit(1)
	}
	log.Printf("Graceful shutdown complete")
}
