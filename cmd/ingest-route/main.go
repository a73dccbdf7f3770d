// Command ingest-route imports a route document, or a trip of a GTFS import,
// into the walking-bus store and prints the resulting stop sequence.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"walkingbus/internal/catalog"
	"walkingbus/internal/config"
	"walkingbus/internal/domain"
	"walkingbus/internal/gtfsimport"
	"walkingbus/internal/metrics"
	"walkingbus/internal/route"
	"walkingbus/internal/store/sqlstore"
)

func main() {
	var (
		file        = flag.String("file", "", "route document (native JSON or GeoJSON); - reads stdin")
		trip        = flag.String("trip", "", "GTFS trip_id to import from GTFS_DATABASE_URL")
		routeID     = flag.String("id", "", "route id to create or replace (default: generated)")
		name        = flag.String("name", "", "route name")
		mode        = flag.String("mode", "", "walking or biking (overrides the document)")
		schoolAtEnd = flag.Bool("school-at-end", true, "mark the last GTFS stop as the school")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))

	if (*file == "") == (*trip == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -file or -trip is required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var doc route.Document
	if *file != "" {
		doc, err = readDocument(*file)
	} else {
		doc, err = tripDocument(ctx, cfg, *trip, gtfsimport.Options{Name: *name, Mode: domain.TravelMode(*mode), SchoolAtEnd: *schoolAtEnd}, logger)
	}
	if err != nil {
		logger.Error("failed to load route", "error", err)
		os.Exit(1)
	}
	if *name != "" {
		doc.Name = *name
	}
	if *mode != "" {
		doc.Mode = domain.TravelMode(*mode)
	}

	driver, dsn := cfg.StoreDriver, cfg.DatabaseURL
	if driver == sqlstore.DriverSQLite {
		dsn = cfg.SQLitePath
	}
	if driver != sqlstore.DriverPostgres && driver != sqlstore.DriverSQLite {
		logger.Error("ingest-route needs a persistent store", "driver", driver)
		os.Exit(1)
	}
	st, err := sqlstore.Open(ctx, driver, dsn)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	est := route.Estimator{WalkingMPS: cfg.WalkingMPS, BikingMPS: cfg.BikingMPS}
	cat := catalog.New(st, est, metrics.NewCollector(cfg.StartWindow), logger)
	view, err := cat.ImportRoute(ctx, *routeID, doc)
	if err != nil {
		logger.Error("ingest failed", "error", err)
		st.Close()
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(view); err != nil {
		logger.Error("write output", "error", err)
	}
}

func readDocument(path string) (route.Document, error) {
	if path == "-" {
		return route.Decode(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return route.Document{}, err
	}
	defer f.Close()
	return route.Decode(f)
}

func tripDocument(ctx context.Context, cfg *config.Config, tripID string, opts gtfsimport.Options, logger *slog.Logger) (route.Document, error) {
	if cfg.GTFSDatabaseURL == "" {
		return route.Document{}, fmt.Errorf("GTFS_DATABASE_URL is required with -trip")
	}
	db, dbName, err := gtfsimport.Connect(ctx, cfg.GTFSDatabaseURL, cfg.City)
	if err != nil {
		return route.Document{}, err
	}
	defer db.Close()
	logger.Info("reading GTFS trip", "trip", tripID, "database", dbName, "city", cfg.City)
	return gtfsimport.NewSource(db).TripDocument(ctx, tripID, opts)
}
