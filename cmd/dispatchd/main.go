package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/dispatchd/pkg/api"
	"github.com/cuemby/dispatchd/pkg/config"
	"github.com/cuemby/dispatchd/pkg/events"
	"github.com/cuemby/dispatchd/pkg/folders"
	"github.com/cuemby/dispatchd/pkg/lock"
	"github.com/cuemby/dispatchd/pkg/log"
	"github.com/cuemby/dispatchd/pkg/metrics"
	"github.com/cuemby/dispatchd/pkg/registry"
	"github.com/cuemby/dispatchd/pkg/store/bolt"
	"github.com/cuemby/dispatchd/pkg/sweeper"
	"github.com/cuemby/dispatchd/pkg/tasks"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "dispatchd",
	Short:   "dispatchd coordinates a fleet of worker nodes processing batch file tasks",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"dispatchd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(taskCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatchd coordination server",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		st, err := bolt.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening store at %s: %w", cfg.DBPath, err)
		}
		fmt.Printf("✓ Store opened: %s\n", cfg.DBPath)

		bus := events.NewBroker(func() { metrics.EventBusDroppedTotal.Inc() })
		bus.Start()
		defer bus.Stop()

		reg := registry.NewRegistry(st, bus, cfg.HeartbeatTimeout)
		lockMgr := lock.NewManager(st, bus, cfg.LockTTL)
		taskCoord := tasks.NewCoordinator(st, bus)
		folderTracker := folders.NewTracker(st, bus, taskCoord)
		taskCoord.SetFolderLister(folderTracker)
		reg.SetLockReclaimer(lockMgr)
		reg.SetTaskReclaimer(taskCoord)

		metricsCollector := metrics.NewCollector(reg, taskCoord, folderTracker, lockMgr)
		metricsCollector.Start()
		defer metricsCollector.Stop()
		fmt.Println("✓ Metrics collector started")

		sw := sweeper.New(lockMgr, reg, folderTracker, folderTracker, cfg.LockSweepInterval, cfg.NodeSweepInterval)
		sw.Start()
		defer sw.Stop()
		fmt.Printf("✓ Sweeper started (locks every %s, nodes every %s)\n", cfg.LockSweepInterval, cfg.NodeSweepInterval)

		router := api.NewRouter(api.Deps{
			Store:          st,
			Registry:       reg,
			Tasks:          taskCoord,
			Folders:        folderTracker,
			Locks:          lockMgr,
			Bus:            bus,
			AllowedOrigins: cfg.AllowedOrigins,
			AuthMode:       cfg.AuthMode,
			TokenSecret:    cfg.TokenSecret,
		})

		server := &http.Server{
			Addr:         cfg.BindAddress,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			var err error
			if cfg.TLSCert != "" && cfg.TLSKey != "" {
				err = server.ListenAndServeTLS(cfg.TLSCert, cfg.TLSKey)
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && err != http.ErrServerClosed {
				errCh <- fmt.Errorf("API server error: %w", err)
			}
		}()
		fmt.Printf("✓ API listening on %s\n", cfg.BindAddress)
		fmt.Println("dispatchd is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "graceful shutdown failed: %v\n", err)
		}
		if err := st.Close(); err != nil {
			return fmt.Errorf("closing store: %w", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "Path to dispatchd.yaml config file")
}
