package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/common/version"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/config"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/fetchers"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/history"
	"github.com/elevated-systems/grid-intensity/pkg/gridintensity/location"
)

const programName = "intensity-exporter"

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to a YAML config file overlaying the environment")
	flag.BoolVar(&showVersion, "version", false, "Print version information and exit")
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if showVersion {
		fmt.Println(version.Print(programName))
		return
	}

	if err := run(configPath); err != nil {
		klog.ErrorS(err, "Exporter failed")
		klog.Flush()
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Location.Country == "" {
		return errors.New("no country configured, set GRID_INTENSITY_COUNTRY or location.country")
	}

	klog.InfoS("Starting carbon intensity exporter",
		"version", version.Info(),
		"country", cfg.Location.Country,
		"listenAddress", cfg.Exporter.ListenAddress,
		"interval", cfg.Exporter.Interval)

	var recorder history.Recorder
	if cfg.History.DatabasePath != "" {
		store, err := history.NewSQLiteStore(cfg.History.DatabasePath)
		if err != nil {
			return err
		}
		defer store.Close()
		recorder = store
	}

	exp := newExporter(
		location.NewStatic(cfg.Location.Country, cfg.Location.Postal),
		fetchers.NewDefaultRegistry(&cfg.API),
		recorder,
		cfg.History.Retention,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go wait.UntilWithContext(ctx, exp.refresh, cfg.Exporter.Interval)

	server := &http.Server{
		Addr:              cfg.Exporter.ListenAddress,
		Handler:           handlers.LoggingHandler(os.Stdout, exp.router()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		klog.V(1).InfoS("Starting HTTP server", "addr", cfg.Exporter.ListenAddress)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	klog.InfoS("Shutting down carbon intensity exporter")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
